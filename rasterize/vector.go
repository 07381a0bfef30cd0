package rasterize

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"golang.org/x/image/vector"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/raster"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/window"
)

// coverage at or above this alpha burns a polygon pixel
const coverageThreshold = 128

// Vector burns shard geometries with golang.org/x/image/vector and writes the
// result through Driver. Each geometry is drawn inside its own pixel bounding
// box, so it suits small extents; global layers go through GDAL.
type Vector struct {
	Driver raster.Driver
	Logger *slog.Logger
}

// Rasterize implements Engine.
func (v Vector) Rasterize(ctx context.Context, job Job) (err error) {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	grid := AlignedGrid(job.Bounds, job.Resolution)
	p := raster.Profile{
		Width:        grid.Width,
		Height:       grid.Height,
		Count:        1,
		DataType:     raster.Byte,
		GeoTransform: grid.GeoTransform,
		SRS:          job.SRS,
		NoData:       job.NoData,
		HasNoData:    true,
		Tiled:        job.BlockSize > 0,
		BlockXSize:   job.BlockSize,
		BlockYSize:   job.BlockSize,
		Compress:     job.Compress,
	}

	f, err := os.Open(job.Src)
	if err != nil {
		return err
	}
	defer f.Close()

	ds, err := v.Driver.Create(job.Dst, p)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, ds.Close())
	}()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read header: %w", err)
	}

	b := burner{ds: ds, grid: grid, value: byte(job.Burn)}
	var skipped int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", job.Src, err)
		}
		if len(rec) == 0 {
			continue
		}
		g, err := wkt.Unmarshal(rec[0])
		if err != nil {
			skipped++
			continue
		}
		if err := b.burn(g); err != nil {
			return err
		}
	}
	if skipped > 0 {
		logger.Debug("skipped unparsable geometries", "src", job.Src, "count", skipped)
	}
	return nil
}

type burner struct {
	ds    raster.Dataset
	grid  Grid
	value byte
}

func (b burner) burn(g orb.Geometry) error {
	switch g := g.(type) {
	case orb.Collection:
		for _, c := range g {
			if err := b.burn(c); err != nil {
				return err
			}
		}
		return nil
	case orb.Ring:
		return b.burn(orb.Polygon{g})
	}

	w, ok := b.window(g.Bound())
	if !ok {
		return nil
	}
	mask := make([]byte, w.Area())
	switch g := g.(type) {
	case orb.Polygon:
		b.fill(mask, w, orb.MultiPolygon{g})
	case orb.MultiPolygon:
		b.fill(mask, w, g)
	case orb.Point:
		b.point(mask, w, g)
	case orb.MultiPoint:
		for _, p := range g {
			b.point(mask, w, p)
		}
	case orb.LineString:
		b.line(mask, w, g)
	case orb.MultiLineString:
		for _, ls := range g {
			b.line(mask, w, ls)
		}
	case orb.Bound:
		b.fill(mask, w, orb.MultiPolygon{g.ToPolygon()})
	}

	var hit bool
	for _, m := range mask {
		if m != 0 {
			hit = true
			break
		}
	}
	if !hit {
		return nil
	}

	buf := make([]byte, w.Area())
	if err := b.ds.ReadBand(1, w, buf); err != nil {
		return err
	}
	for i, m := range mask {
		if m != 0 {
			buf[i] = b.value
		}
	}
	return b.ds.WriteBand(1, w, buf)
}

// window returns the grid window covering bound, at least one pixel wide
// and tall, clipped to the grid.
func (b burner) window(bound orb.Bound) (window.Window, bool) {
	c0, r0 := b.grid.Pixel(orb.Point{bound.Min[0], bound.Max[1]})
	c1, r1 := b.grid.Pixel(orb.Point{bound.Max[0], bound.Min[1]})

	colMin, rowMin := int(math.Floor(c0)), int(math.Floor(r0))
	colMax, rowMax := int(math.Ceil(c1)), int(math.Ceil(r1))
	if colMax == colMin {
		colMax++
	}
	if rowMax == rowMin {
		rowMax++
	}

	colMin, rowMin = max(colMin, 0), max(rowMin, 0)
	colMax, rowMax = min(colMax, b.grid.Width), min(rowMax, b.grid.Height)
	if colMax <= colMin || rowMax <= rowMin {
		return window.Window{}, false
	}
	return window.Window{ColOff: colMin, RowOff: rowMin, Width: colMax - colMin, Height: rowMax - rowMin}, true
}

func (b burner) local(w window.Window, p orb.Point) (x, y float64) {
	c, r := b.grid.Pixel(p)
	return c - float64(w.ColOff), r - float64(w.RowOff)
}

func (b burner) fill(mask []byte, w window.Window, mp orb.MultiPolygon) {
	z := vector.NewRasterizer(w.Width, w.Height)
	for _, poly := range mp {
		if len(poly) == 0 {
			continue
		}
		outer := poly[0].Orientation()
		for i, ring := range poly {
			if len(ring) < 3 {
				continue
			}
			// holes must wind against the shell to be subtracted
			if i > 0 && ring.Orientation() == outer {
				ring = ring.Clone()
				ring.Reverse()
			}
			for j, p := range ring {
				x, y := b.local(w, p)
				if j == 0 {
					z.MoveTo(float32(x), float32(y))
				} else {
					z.LineTo(float32(x), float32(y))
				}
			}
			z.ClosePath()
		}
	}

	dst := image.NewAlpha(image.Rect(0, 0, w.Width, w.Height))
	z.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})
	for row := 0; row < w.Height; row++ {
		for col := 0; col < w.Width; col++ {
			if dst.Pix[row*dst.Stride+col] >= coverageThreshold {
				mask[row*w.Width+col] = 1
			}
		}
	}
}

func (b burner) point(mask []byte, w window.Window, p orb.Point) {
	x, y := b.local(w, p)
	col, row := int(math.Floor(x)), int(math.Floor(y))
	if col < 0 || row < 0 || col >= w.Width || row >= w.Height {
		return
	}
	mask[row*w.Width+col] = 1
}

// line marks every pixel a segment passes through, sampling at half-pixel
// steps.
func (b burner) line(mask []byte, w window.Window, ls orb.LineString) {
	for i := range ls {
		if i == 0 {
			b.point(mask, w, ls[0])
			continue
		}
		x0, y0 := b.local(w, ls[i-1])
		x1, y1 := b.local(w, ls[i])
		steps := int(math.Ceil(2 * math.Max(math.Abs(x1-x0), math.Abs(y1-y0))))
		for s := 1; s <= steps; s++ {
			t := float64(s) / float64(steps)
			col := int(math.Floor(x0 + t*(x1-x0)))
			row := int(math.Floor(y0 + t*(y1-y0)))
			if col >= 0 && row >= 0 && col < w.Width && row < w.Height {
				mask[row*w.Width+col] = 1
			}
		}
	}
}
