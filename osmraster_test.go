package osmraster

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/config"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/export"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/raster"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/rasterize"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/roads"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/stack"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/window"
)

const input = `POLYGON((0.2 0.2,0.2 0.5,0.5 0.5,0.5 0.2,0.2 0.2)) landuse=forest
LINESTRING(0.05 0.55,0.95 0.55) highway=primary
`

type passthrough struct{}

func (passthrough) Clean(s string) (string, error) { return s, nil }

type fakeExporter struct {
	data string
	err  error
}

func (f fakeExporter) Export(_ context.Context, _, txt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return txt, os.WriteFile(txt, []byte(f.data), 0o644)
}

// newPipeline returns a pipeline over a 10x10 grid covering [0,1]².
func newPipeline(t *testing.T, text string) (*Pipeline, *raster.Mem) {
	t.Helper()
	dir := t.TempDir()

	osmium := filepath.Join(dir, "osmium_config.json")
	mapping := `{"road_tags": {"highway=primary": ["highway", "primary"]}}`
	if err := os.WriteFile(osmium, []byte(mapping), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg := config.Default()
	cfg.WorkingDir = filepath.Join(dir, "work")
	cfg.OsmiumConfig = osmium
	cfg.Extent = "0,0,1,1"
	cfg.Resolution = 0.1
	cfg.Engine = config.EngineVector
	cfg.Workers = 2
	cfg.StackWorkers = 1

	if text != "" {
		cfg.TextFile = filepath.Join(dir, "planet.txt")
		if err := os.WriteFile(cfg.TextFile, []byte(text), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	m := raster.NewMem()
	return &Pipeline{
		Config:  cfg,
		Driver:  m,
		Engine:  rasterize.Vector{Driver: m},
		Cleaner: passthrough{},
	}, m
}

func burned(t *testing.T, m *raster.Mem, path string, band int) int {
	t.Helper()
	ds, err := m.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ds.Close()

	p := ds.Profile()
	buf := make([]byte, p.Width*p.Height)
	if err := ds.ReadBand(band, window.Window{Width: p.Width, Height: p.Height}, buf); err != nil {
		t.Fatalf("ReadBand failed: %v", err)
	}
	var n int
	for _, v := range buf {
		if v != 0 {
			n++
		}
	}
	return n
}

func TestPipeline_Run(t *testing.T) {
	p, m := newPipeline(t, input)
	dir := p.Config.WorkingDir

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Shards) != 2 || len(res.Images) != 2 {
		t.Fatalf("expected 2 shards and 2 images, got %v and %v", res.Shards, res.Images)
	}
	if want := []string{filepath.Join(dir, "stacked-1.tif")}; !slices.Equal(res.Stacked, want) {
		t.Fatalf("expected %v, got %v", want, res.Stacked)
	}
	if n := burned(t, m, res.Stacked[0], 1); n != 9 {
		t.Errorf("band 1: expected 9 forest pixels, got %d", n)
	}
	if n := burned(t, m, res.Stacked[0], 2); n != 10 {
		t.Errorf("band 2: expected 10 road pixels, got %d", n)
	}

	data, err := os.ReadFile(res.Metadata)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var md stack.Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if b := md.Bands["landuse=forest"]; b == nil || !slices.Equal(b.Bands, []int{1}) {
		t.Errorf("unexpected forest band %+v", b)
	}
	if b := md.Bands["highway=primary"]; b == nil || !slices.Equal(b.Bands, []int{2}) {
		t.Errorf("unexpected road band %+v", b)
	}
	if md.Road != filepath.Join(dir, RoadsCSV) || !slices.Equal(md.Images, res.Stacked) {
		t.Errorf("unexpected metadata %+v", md)
	}

	if res.RoadsFGB == "" {
		t.Fatal("expected roads.fgb")
	}
	r, err := roads.Open(res.RoadsFGB)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = r.Close() }()
	rows, err := r.Rows()
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Attribute != "highway" || rows[0].Tag != "primary" {
		t.Errorf("unexpected roads %+v", rows)
	}
}

func TestPipeline_Export(t *testing.T) {
	p, _ := newPipeline(t, "")
	p.Config.OSMFile = "planet.pbf"
	p.Config.Backup = true
	p.Config.TaskDate = "2024-01-02"
	p.Exporter = fakeExporter{data: input}

	res, err := p.Run(context.Background())
	p.Wait()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if filepath.Dir(res.TextFile) != p.Config.WorkingDir || filepath.Ext(res.TextFile) != ".txt" {
		t.Errorf("unexpected text file %s", res.TextFile)
	}
	if len(res.Images) != 2 {
		t.Errorf("expected 2 images, got %v", res.Images)
	}

	archives, err := filepath.Glob(filepath.Join(p.Config.WorkingDir, "pbf_text-2024-01-02-*.tar.zst"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(archives) != 1 {
		t.Errorf("expected one backup, got %v", archives)
	}
}

func TestPipeline_Empty(t *testing.T) {
	p, _ := newPipeline(t, "\n")

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Shards) != 0 || len(res.Images) != 0 || len(res.Stacked) != 0 {
		t.Errorf("expected no outputs, got %+v", res)
	}
	if res.RoadsFGB != "" {
		t.Errorf("an empty road table should not produce %s", res.RoadsFGB)
	}
	if _, err := os.Stat(res.Metadata); err != nil {
		t.Errorf("metadata should still be written: %v", err)
	}
}

func TestPipeline_NoFlatGeobuf(t *testing.T) {
	p, _ := newPipeline(t, input)
	off := false
	p.Config.FlatGeobuf = &off

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.RoadsFGB != "" || res.Roads == "" {
		t.Errorf("expected only roads.csv, got %+v", res)
	}
}

func TestPipeline_NoRoads(t *testing.T) {
	p, _ := newPipeline(t, input)
	off := false
	p.Config.Roads = &off
	p.Config.OsmiumConfig = filepath.Join(p.Config.WorkingDir, "missing.json")

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Roads != "" || res.RoadsFGB != "" {
		t.Errorf("expected no road outputs, got %+v", res)
	}
	if len(res.Images) != 2 {
		t.Errorf("roads should still be rasterized, got %v", res.Images)
	}
	if _, err := os.Stat(filepath.Join(p.Config.WorkingDir, RoadsCSV)); !os.IsNotExist(err) {
		t.Errorf("roads.csv should not be written: %v", err)
	}
}

func TestPipeline_SingleTag(t *testing.T) {
	p, _ := newPipeline(t, "POLYGON((0.2 0.2,0.2 0.5,0.5 0.5,0.5 0.2,0.2 0.2)) landuse=forest\n")
	p.Config.StackWorkers = 3

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Images) != 1 || !slices.Equal(res.Stacked, res.Images) {
		t.Fatalf("expected the single image once, got %v", res.Stacked)
	}

	data, err := os.ReadFile(res.Metadata)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var md stack.Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !slices.Equal(md.Images, res.Images) {
		t.Errorf("expected images %v, got %v", res.Images, md.Images)
	}
}

func TestPipeline_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Pipeline)
		check  func(err error) bool
	}{
		{"no input", func(p *Pipeline) {}, func(err error) bool { return errors.Is(err, ErrNoInput) }},
		{"no driver", func(p *Pipeline) { p.Driver = nil }, func(err error) bool { return errors.Is(err, ErrNoDriver) }},
		{"no engine", func(p *Pipeline) { p.Engine = nil }, func(err error) bool { return errors.Is(err, ErrNoEngine) }},
		{"invalid config", func(p *Pipeline) { p.Config.Extent = "1,1,0,0" }, func(err error) bool { return errors.Is(err, config.ErrExtent) }},
		{"conversion", func(p *Pipeline) {
			p.Config.OSMFile = "planet.pbf"
			p.Exporter = fakeExporter{err: &export.ConversionError{Output: "bad pbf"}}
		}, func(err error) bool {
			var convErr *export.ConversionError
			return errors.As(err, &convErr) && convErr.Output == "bad pbf"
		}},
		{"missing road mapping", func(p *Pipeline) {
			p.Config.TextFile = filepath.Join(p.Config.WorkingDir, "..", "planet.txt")
			_ = os.WriteFile(p.Config.TextFile, []byte(input), 0o644)
			p.Config.OsmiumConfig = filepath.Join(p.Config.WorkingDir, "missing.json")
		}, func(err error) bool { return errors.Is(err, os.ErrNotExist) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPipeline(t, "")
			tt.modify(p)
			if _, err := p.Run(context.Background()); !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}
