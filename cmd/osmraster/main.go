// Command osmraster converts an OSM extract into multiband per-tag rasters.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	osmraster "github.com/SpeciesConservationLandscapes/task-hii-osm-csv"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/config"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/gdalraster"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/rasterize"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// load reads the config file and applies the logging flags.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	h, err := cfg.Log.Handler(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "osmraster",
		Short:         "Rasterize OSM features into multiband per-tag layers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&o.logFormat, "log-format", "text", "log format (text, json)")

	cmd.AddCommand(newRunCmd(o), newRoadsCmd(o))
	return cmd
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var o struct {
		workingDir, osmFile, textFile string
		extent, engine, taskDate      string
		workers, stackWorkers         int
		backup, roads, flatgeobuf     bool
	}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("working-dir") {
				cfg.WorkingDir = o.workingDir
			}
			if flags.Changed("osm-file") {
				cfg.OSMFile = o.osmFile
			}
			if flags.Changed("osmium-text-file") {
				cfg.TextFile = o.textFile
			}
			if flags.Changed("extent") {
				cfg.Extent = o.extent
			}
			if flags.Changed("engine") {
				cfg.Engine = o.engine
			}
			if flags.Changed("task-date") {
				cfg.TaskDate = o.taskDate
			}
			if flags.Changed("workers") {
				cfg.Workers = o.workers
			}
			if flags.Changed("stack-workers") {
				cfg.StackWorkers = o.stackWorkers
			}
			if flags.Changed("backup-step-data") {
				cfg.Backup = o.backup
			}
			if flags.Changed("roads") {
				cfg.Roads = &o.roads
			}
			if flags.Changed("flatgeobuf") {
				cfg.FlatGeobuf = &o.flatgeobuf
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			p := newPipeline(cfg, logger)
			res, err := p.Run(cmd.Context())
			p.Wait()
			if err != nil {
				return err
			}
			logger.Info("metadata", "path", res.Metadata)
			for _, img := range res.Stacked {
				logger.Info("image", "path", img)
			}
			logger.Info("road", "path", res.Roads, "flatgeobuf", res.RoadsFGB)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.workingDir, "working-dir", "w", "", "working directory for intermediate and output files")
	f.StringVarP(&o.osmFile, "osm-file", "f", "", "OSM PBF extract to export")
	f.StringVar(&o.textFile, "osmium-text-file", "", "existing osmium text export; skips the export step")
	f.StringVar(&o.extent, "extent", "", "output bounds as minx,miny,maxx,maxy")
	f.StringVar(&o.engine, "engine", "", "rasterize engine (gdal, vector)")
	f.StringVarP(&o.taskDate, "task-date", "d", "", "task date used in backup names")
	f.IntVar(&o.workers, "workers", 0, "rasterize workers (0 derives from CPUs)")
	f.IntVar(&o.stackWorkers, "stack-workers", 0, "stacking workers and strips (0 derives from CPUs)")
	f.BoolVar(&o.backup, "backup-step-data", false, "archive the osmium text export")
	f.BoolVar(&o.roads, "roads", true, "write the cleaned road table")
	f.BoolVar(&o.flatgeobuf, "flatgeobuf", true, "also write the road table as FlatGeobuf")
	return cmd
}

// newPipeline wires the GDAL driver and the configured engine.
func newPipeline(cfg *config.Config, logger *slog.Logger) *osmraster.Pipeline {
	drv := gdalraster.Driver{}
	var engine rasterize.Engine = gdalraster.Rasterizer{}
	if cfg.Engine == config.EngineVector {
		engine = rasterize.Vector{Driver: drv, Logger: logger}
	}
	return &osmraster.Pipeline{
		Config: cfg,
		Driver: drv,
		Engine: engine,
		Logger: logger,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "osmraster:", err)
		stop()
		os.Exit(1)
	}
}
