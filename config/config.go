// Package config loads the YAML run configuration.
//
// Unset fields take the values of their `default` struct tags. A zero
// Workers or StackWorkers is derived from the CPU count at run time.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// Common errors returned by Validate.
var (
	ErrExtent     = errors.New("config: extent must be minx,miny,maxx,maxy with min < max")
	ErrResolution = errors.New("config: resolution must be positive")
	ErrTileSize   = errors.New("config: tile size must be positive")
	ErrMaxRows    = errors.New("config: max rows must be positive")
	ErrPrecision  = errors.New("config: precision must not be negative")
	ErrEngine     = errors.New("config: unknown rasterize engine")
	ErrLog        = errors.New("config: unknown log format")
)

// Rasterize engines.
const (
	EngineGDAL   = "gdal"
	EngineVector = "vector"
)

// Config is the run configuration.
type Config struct {
	// WorkingDir holds every intermediate and output file.
	WorkingDir string `default:"/tmp" yaml:"working_dir"`
	// OSMFile is the PBF extract to export. Ignored when TextFile is set.
	OSMFile string `yaml:"osm_file"`
	// TextFile is an existing osmium text export; setting it skips the export.
	TextFile string `yaml:"osmium_text_file"`
	// Osmium is the osmium binary.
	Osmium string `default:"osmium" yaml:"osmium"`
	// OsmiumConfig is the osmium export JSON config. Its road_tags object is
	// the road mapping.
	OsmiumConfig string `default:"osmium_config.json" yaml:"osmium_config"`
	// TaskDate prefixes backup names. Defaults to today (UTC).
	TaskDate string `yaml:"task_date"`

	Extent     string  `default:"-180,-58,180,84" yaml:"extent"`
	Resolution float64 `default:"0.003" yaml:"resolution"`
	Engine     string  `default:"gdal" yaml:"engine"`

	BlockSize     int `default:"1024" yaml:"block_size"`      // rasterized GeoTIFF blocks
	StackTileSize int `default:"1024" yaml:"stack_tile_size"` // compositing windows
	Workers       int `yaml:"workers"`
	StackWorkers  int `yaml:"stack_workers"`

	MaxRows   int     `default:"1000000" yaml:"max_rows"`
	Precision int     `default:"5" yaml:"precision"`
	MinArea   float64 `default:"5" yaml:"min_area"`

	// Roads writes the cleaned road table roads.csv.
	Roads *bool `default:"true" yaml:"roads"`
	// FlatGeobuf additionally writes the road table as roads.fgb. Ignored
	// when Roads is off.
	FlatGeobuf *bool `default:"true" yaml:"flatgeobuf"`
	// Backup archives the osmium text export.
	Backup bool `yaml:"backup_step_data"`

	Log Log `yaml:"log"`
}

// Log configures the process logger.
type Log struct {
	Level  string `default:"info" yaml:"level"`
	Format string `default:"text" yaml:"format"` // text or json
}

// Default returns a Config with every default applied.
func Default() *Config {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		panic(err)
	}
	return c
}

// Load reads the file at path. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes YAML, rejecting unknown fields, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := defaults.Set(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if _, err := ParseExtent(c.Extent); err != nil {
		return err
	}
	if c.Resolution <= 0 {
		return ErrResolution
	}
	if c.BlockSize <= 0 || c.StackTileSize <= 0 {
		return ErrTileSize
	}
	if c.MaxRows <= 0 {
		return ErrMaxRows
	}
	if c.Precision < 0 {
		return ErrPrecision
	}
	switch c.Engine {
	case EngineGDAL, EngineVector:
	default:
		return fmt.Errorf("%w: %q", ErrEngine, c.Engine)
	}
	if _, err := c.Log.Handler(io.Discard); err != nil {
		return err
	}
	return nil
}

// Bound returns the parsed extent.
func (c *Config) Bound() orb.Bound {
	b, _ := ParseExtent(c.Extent)
	return b
}

// WriteRoads reports whether roads.csv is written.
func (c *Config) WriteRoads() bool {
	return c.Roads == nil || *c.Roads
}

// WriteFlatGeobuf reports whether roads.fgb is written.
func (c *Config) WriteFlatGeobuf() bool {
	return c.WriteRoads() && (c.FlatGeobuf == nil || *c.FlatGeobuf)
}

// ParseExtent parses "minx,miny,maxx,maxy".
func ParseExtent(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("%w: %q", ErrExtent, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%w: %q", ErrExtent, s)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return orb.Bound{}, fmt.Errorf("%w: %q", ErrExtent, s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// Handler returns a slog handler writing to w.
func (l Log) Handler(w io.Writer) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "text", "":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrLog, l.Format)
}
