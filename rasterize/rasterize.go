// Package rasterize fans shard files out to a rasterization engine in
// parallel, producing one single-band raster per shard.
package rasterize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/raster"
)

// Burn and nodata values written by every engine.
const (
	BurnValue   = 1
	NoDataValue = 0
)

// Job describes one shard to rasterize.
type Job struct {
	Src        string    // shard CSV with a WKT column
	Dst        string    // output GeoTIFF
	Bounds     orb.Bound // output extent, aligned to Resolution by the engine
	Resolution float64   // pixel size in SRS units
	SRS        string
	BlockSize  int
	Compress   string
	Burn       float64
	NoData     float64
}

// Engine rasterizes a single job. Implementations must be safe to call from
// several goroutines at once.
type Engine interface {
	Rasterize(ctx context.Context, job Job) error
}

// Options configures the fan-out.
type Options struct {
	Resolution float64 // default 0.003
	SRS        string  // default EPSG:4326
	BlockSize  int     // default 1024
	Compress   string  // default DEFLATE
	Workers    int     // default max(NumCPU-1, 1)
}

// DefaultOptions returns the options used for the global OSM layers.
func DefaultOptions() Options {
	return Options{
		Resolution: 0.003,
		SRS:        "EPSG:4326",
		BlockSize:  1024,
		Compress:   "DEFLATE",
		Workers:    DefaultWorkers(),
	}
}

// DefaultWorkers leaves one CPU for the rest of the process.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// Coordinator dispatches shards to an Engine.
type Coordinator struct {
	Engine  Engine
	Options Options
	Logger  *slog.Logger
}

// OutputPath returns the raster path for a shard: the shard's file name
// with a .tif extension, inside dir.
func OutputPath(dir, shard string) string {
	base := filepath.Base(shard)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".tif")
}

// FanOut rasterizes every shard into dir and returns the output paths in
// shard order. Every unit is waited for before returning; the first failure
// is returned and the remaining units are cancelled.
func (c *Coordinator) FanOut(ctx context.Context, shards []string, dir string, bounds orb.Bound) ([]string, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := c.Options
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	outputs := make([]string, len(shards))
	for i, s := range shards {
		outputs[i] = OutputPath(dir, s)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, shard := range shards {
		job := Job{
			Src:        shard,
			Dst:        outputs[i],
			Bounds:     bounds,
			Resolution: opts.Resolution,
			SRS:        opts.SRS,
			BlockSize:  opts.BlockSize,
			Compress:   opts.Compress,
			Burn:       BurnValue,
			NoData:     NoDataValue,
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			if err := c.Engine.Rasterize(ctx, job); err != nil {
				return fmt.Errorf("rasterize %s: %w", job.Src, err)
			}
			logger.Debug("rasterized shard", "src", job.Src, "dst", job.Dst, "dur", time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// FanOut rasterizes shards with engine and the default options.
func FanOut(ctx context.Context, engine Engine, shards []string, dir string, bounds orb.Bound) ([]string, error) {
	c := Coordinator{Engine: engine, Options: DefaultOptions()}
	return c.FanOut(ctx, shards, dir, bounds)
}

// Grid is a pixel grid aligned to its resolution.
type Grid struct {
	GeoTransform raster.GeoTransform
	Width        int
	Height       int
}

// AlignedGrid snaps bounds outward to multiples of res, the way GDAL's
// target-aligned-pixels option does, and returns the resulting north-up grid.
func AlignedGrid(b orb.Bound, res float64) Grid {
	minX := math.Floor(b.Min[0]/res) * res
	maxX := math.Ceil(b.Max[0]/res) * res
	minY := math.Floor(b.Min[1]/res) * res
	maxY := math.Ceil(b.Max[1]/res) * res

	return Grid{
		GeoTransform: raster.GeoTransform{minX, res, 0, maxY, 0, -res},
		Width:        int(math.Round((maxX - minX) / res)),
		Height:       int(math.Round((maxY - minY) / res)),
	}
}

// Pixel returns the fractional pixel coordinate of a georeferenced point.
func (g Grid) Pixel(p orb.Point) (col, row float64) {
	gt := g.GeoTransform
	return (p[0] - gt[0]) / gt[1], (p[1] - gt[3]) / gt[5]
}
