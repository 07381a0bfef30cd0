// Package stack composites aligned single-band rasters into multiband
// rasters, one band per input, strip by strip.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/raster"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/split"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/window"
)

// Output storage parameters.
const (
	BlockSize  = window.StackSize
	Compress   = "DEFLATE"
	Predictor  = 2
	ZLevel     = 9
	NumThreads = 1
)

// DefaultWorkers returns ceil((NumCPU-1)/2), at least 1. Each worker holds
// one open dataset per input.
func DefaultWorkers() int {
	return max(runtime.NumCPU()/2, 1)
}

// OutputProfile returns the profile of a stacked output with count bands on
// the grid of p.
func OutputProfile(p raster.Profile, count int) raster.Profile {
	out := p.Clone()
	out.Count = count
	out.DataType = raster.Byte
	out.NoData = 0
	out.HasNoData = true
	out.Tiled = true
	out.BlockXSize = BlockSize
	out.BlockYSize = BlockSize
	out.Compress = Compress
	out.Predictor = Predictor
	out.ZLevel = ZLevel
	out.NumThreads = NumThreads
	return out
}

// Compositor writes strips of a raster stack through Driver.
type Compositor struct {
	Driver raster.Driver
	Logger *slog.Logger
}

func (c *Compositor) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Composite writes strip s to out, band i+1 holding s.Sources[i]. Windows in
// which a source is entirely zero are not written for that band.
//
// With no sources Composite returns "". With one source it returns that
// source's path and writes nothing. A zero-width strip also yields "".
func (c *Compositor) Composite(s split.Strip, out string) (path string, err error) {
	switch {
	case len(s.Sources) == 0:
		return "", nil
	case len(s.Sources) == 1:
		return s.Sources[0], nil
	case s.Profile.Width <= 0 || len(s.Read) == 0:
		return "", nil
	}
	if len(s.Read) != len(s.Write) {
		return "", fmt.Errorf("stack: %d read windows, %d write windows", len(s.Read), len(s.Write))
	}

	srcs := make([]raster.Dataset, 0, len(s.Sources))
	defer func() {
		for _, ds := range srcs {
			err = errors.Join(err, ds.Close())
		}
		if err != nil {
			path = ""
		}
	}()
	for _, p := range s.Sources {
		ds, err := c.Driver.Open(p)
		if err != nil {
			return "", err
		}
		srcs = append(srcs, ds)
	}

	dst, err := c.Driver.Create(out, OutputProfile(s.Profile, len(srcs)))
	if err != nil {
		return "", err
	}
	defer func() {
		err = errors.Join(err, dst.Close())
	}()

	var buf []byte
	var written, skipped int
	for i, r := range s.Read {
		w := s.Write[i]
		if cap(buf) < r.Area() {
			buf = make([]byte, r.Area())
		}
		buf = buf[:r.Area()]

		for b, src := range srcs {
			if err := src.ReadBand(1, r, buf); err != nil {
				return "", fmt.Errorf("read %s %v: %w", s.Sources[b], r, err)
			}
			if !hasData(buf) {
				skipped++
				continue
			}
			if err := dst.WriteBand(b+1, w, buf); err != nil {
				return "", fmt.Errorf("write %s band %d %v: %w", out, b+1, w, err)
			}
			written++
		}
	}

	c.logger().Debug("composited strip", "out", out, "offset", s.XOffset, "written", written, "skipped", skipped)
	return out, nil
}

func hasData(buf []byte) bool {
	for _, v := range buf {
		if v != 0 {
			return true
		}
	}
	return false
}

// OutputName returns the path of the n-th (1-based) stacked output in dir.
func OutputName(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("stacked-%d.tif", n))
}

// Stack composites every strip in parallel, at most workers at a time, and
// returns the written paths in strip order. Strips that produce no output
// are left out and a single-source stack is reported once. All strips
// finish before Stack returns. dir must exist.
func (c *Compositor) Stack(ctx context.Context, strips []split.Strip, dir string, workers int) ([]string, error) {
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	results := make([]string, len(strips))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range strips {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			out, err := c.Composite(s, OutputName(dir, i+1))
			if err != nil {
				return err
			}
			results[i] = out
			c.logger().Debug("stacked strip", "n", i+1, "dur", time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outputs := results[:0]
	for _, r := range results {
		if r != "" && !slices.Contains(outputs, r) {
			outputs = append(outputs, r)
		}
	}
	return outputs, nil
}

// Images splits images into workers strips of tileSize windows and stacks
// them into dir. A single image is returned as is.
func (c *Compositor) Images(ctx context.Context, images []string, dir string, workers, tileSize int) ([]string, error) {
	if len(images) == 1 {
		return []string{images[0]}, nil
	}
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	strips, err := split.Plan(c.Driver, images, workers, tileSize)
	if err != nil {
		return nil, err
	}
	return c.Stack(ctx, strips, dir, workers)
}
