// Package osmraster turns an OSM export into multiband per-tag rasters.
//
// A run exports the PBF extract to tagged text with osmium, shards the
// features by tag, rasterizes every shard, stacks the rasters into
// multiband strips and records the band order in metadata.json. Roads
// matching the road mapping are cleaned into roads.csv and, optionally,
// roads.fgb.
package osmraster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/backup"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/clean"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/config"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/export"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/raster"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/rasterize"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/roads"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/shard"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/stack"
)

// Common errors returned by Run.
var (
	ErrNoInput  = errors.New("osmraster: neither an OSM file nor a text export is configured")
	ErrNoDriver = errors.New("osmraster: no raster driver")
	ErrNoEngine = errors.New("osmraster: no rasterize engine")
)

// File and directory names inside the working directory.
const (
	ShardDir     = "split_files"
	ImageDir     = "images"
	RoadsCSV     = "roads.csv"
	RoadsFGB     = "roads.fgb"
	MetadataFile = "metadata.json"
)

// Exporter converts a PBF extract into an osmium text export.
type Exporter interface {
	Export(ctx context.Context, pbf, txt string) (string, error)
}

// Pipeline runs every step of a conversion. Config, Driver and Engine are
// required; the rest fall back to defaults built from Config.
type Pipeline struct {
	Config   *config.Config
	Driver   raster.Driver
	Engine   rasterize.Engine
	Cleaner  shard.Cleaner // GEOS-backed clean.Cleaner when nil
	Exporter Exporter      // osmium when nil
	Archiver *backup.Archiver
	Logger   *slog.Logger
}

// Result lists the files produced by Run.
type Result struct {
	TextFile string
	Shards   []string
	Roads    string
	Images   []string
	Stacked  []string
	Metadata string
	RoadsFGB string // empty when not written
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// step runs fn and logs its duration.
func (p *Pipeline) step(name string, fn func() error) error {
	logger := p.logger().With("step", name)
	logger.Info("step started")
	start := time.Now()
	if err := fn(); err != nil {
		logger.Error("step failed", "elapsed", time.Since(start), "err", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Info("step finished", "elapsed", time.Since(start))
	return nil
}

// Run executes the pipeline. Backups run in the background and are not
// waited for; call Wait before exiting.
func (p *Pipeline) Run(ctx context.Context) (res Result, err error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if p.Driver == nil {
		return Result{}, ErrNoDriver
	}
	if p.Engine == nil {
		return Result{}, ErrNoEngine
	}
	dir := cfg.WorkingDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, err
	}

	res.TextFile = cfg.TextFile
	if res.TextFile == "" {
		if cfg.OSMFile == "" {
			return Result{}, ErrNoInput
		}
		err = p.step("Convert OSM to text file", func() error {
			txt, err := p.exporter(cfg).Export(ctx, cfg.OSMFile, filepath.Join(dir, uuid.NewString()+".txt"))
			res.TextFile = txt
			return err
		})
		if err != nil {
			return Result{}, err
		}
		if cfg.Backup {
			p.archiver(dir).Backup(backupName(cfg), res.TextFile)
		}
	}

	err = p.step("Split text file to CSV files", func() error {
		opts := shard.DefaultOptions(filepath.Join(dir, ShardDir))
		opts.MaxRows = cfg.MaxRows
		if cfg.WriteRoads() {
			mapping, err := shard.LoadRoadMapping(cfg.OsmiumConfig)
			if err != nil {
				return err
			}
			opts.RoadsPath = filepath.Join(dir, RoadsCSV)
			opts.Roads = mapping
		}

		out, err := shard.New(opts, p.cleaner(cfg), p.logger()).ShardFile(res.TextFile)
		if err != nil {
			return err
		}
		res.Shards, res.Roads = out.Shards, out.Roads
		p.logger().Info("sharded features", "shards", len(res.Shards), "road_tags", len(opts.Roads))
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	err = p.step("Rasterize CSV files", func() error {
		opts := rasterize.DefaultOptions()
		opts.Resolution = cfg.Resolution
		opts.BlockSize = cfg.BlockSize
		if cfg.Workers > 0 {
			opts.Workers = cfg.Workers
		}
		c := rasterize.Coordinator{Engine: p.Engine, Options: opts, Logger: p.logger()}
		images, err := c.FanOut(ctx, res.Shards, filepath.Join(dir, ImageDir), cfg.Bound())
		res.Images = images
		return err
	})
	if err != nil {
		return Result{}, err
	}

	err = p.step("Many images to multi-bands image", func() error {
		if len(res.Images) == 0 {
			p.logger().Warn("no images to stack")
			return nil
		}
		c := stack.Compositor{Driver: p.Driver, Logger: p.logger()}
		stacked, err := c.Images(ctx, res.Images, dir, cfg.StackWorkers, cfg.StackTileSize)
		res.Stacked = stacked
		return err
	})
	if err != nil {
		return Result{}, err
	}

	err = p.step("Write metadata", func() error {
		res.Metadata = filepath.Join(dir, MetadataFile)
		return stack.WriteMetadata(res.Metadata, res.Images, res.Stacked, res.Roads)
	})
	if err != nil {
		return Result{}, err
	}

	if cfg.WriteFlatGeobuf() && res.Roads != "" {
		err = p.step("Export roads to FlatGeobuf", func() error {
			fgb := filepath.Join(dir, RoadsFGB)
			n, err := roads.Export(res.Roads, fgb, roads.DefaultOptions())
			if errors.Is(err, roads.ErrNoFeatures) {
				p.logger().Info("road table is empty, skipping FlatGeobuf")
				return nil
			}
			if err != nil {
				return err
			}
			res.RoadsFGB = fgb
			p.logger().Info("wrote roads", "path", fgb, "features", n)
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// Wait blocks until background backups have finished.
func (p *Pipeline) Wait() {
	if p.Archiver != nil {
		p.Archiver.Wait()
	}
}

func (p *Pipeline) exporter(cfg *config.Config) Exporter {
	if p.Exporter != nil {
		return p.Exporter
	}
	return &export.Exporter{Binary: cfg.Osmium, Config: cfg.OsmiumConfig, Logger: p.logger()}
}

func (p *Pipeline) cleaner(cfg *config.Config) shard.Cleaner {
	if p.Cleaner != nil {
		return p.Cleaner
	}
	opts := clean.Options{Precision: cfg.Precision, MinArea: cfg.MinArea}
	return clean.New(opts, nil, p.logger())
}

func (p *Pipeline) archiver(dir string) *backup.Archiver {
	if p.Archiver == nil {
		p.Archiver = backup.New(dir, p.logger())
	}
	return p.Archiver
}

func backupName(cfg *config.Config) string {
	date := cfg.TaskDate
	if date == "" {
		date = time.Now().UTC().Format(time.DateOnly)
	}
	return fmt.Sprintf("pbf_text-%s-%s", date, uuid.NewString())
}
