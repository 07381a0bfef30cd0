package raster

import (
	"errors"
	"slices"
	"testing"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/window"
)

func byteProfile(w, h, count int) Profile {
	return Profile{Width: w, Height: h, Count: count, DataType: Byte}
}

func TestGeoTransform_XY(t *testing.T) {
	gt := GeoTransform{-180, 0.003, 0, 84, 0, -0.003}

	tests := []struct {
		name     string
		col, row int
		x, y     float64
	}{
		{"origin", 0, 0, -180, 84},
		{"column", 1000, 0, -177, 84},
		{"row", 0, 1000, -180, 81},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := gt.XY(tt.col, tt.row)
			if diff(x, tt.x) > 1e-9 || diff(y, tt.y) > 1e-9 {
				t.Errorf("expected (%v, %v), got (%v, %v)", tt.x, tt.y, x, y)
			}
		})
	}
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestProfile_CloneDoesNotAlias(t *testing.T) {
	p := byteProfile(10, 10, 1)
	p.GeoTransform = GeoTransform{1, 2, 3, 4, 5, 6}

	c := p.Clone()
	c.GeoTransform[0] = 99
	c.Width = 5

	if p.GeoTransform[0] != 1 || p.Width != 10 {
		t.Errorf("mutating the clone changed the original: %+v", p)
	}
}

func TestProfile_CreationOptions(t *testing.T) {
	p := Profile{
		Tiled:      true,
		BlockXSize: 1024,
		BlockYSize: 1024,
		Compress:   "DEFLATE",
		Predictor:  2,
		ZLevel:     9,
		NumThreads: 1,
	}

	expected := []string{
		"TILED=YES", "BLOCKXSIZE=1024", "BLOCKYSIZE=1024",
		"COMPRESS=DEFLATE", "PREDICTOR=2", "ZLEVEL=9", "NUM_THREADS=1",
	}
	if got := p.CreationOptions(); !slices.Equal(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}

	if got := (Profile{}).CreationOptions(); len(got) != 0 {
		t.Errorf("expected no options for zero profile, got %v", got)
	}
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr error
	}{
		{"valid", byteProfile(1, 1, 1), nil},
		{"zero width", byteProfile(0, 1, 1), ErrProfile},
		{"zero bands", byteProfile(1, 1, 0), ErrProfile},
		{"no type", Profile{Width: 1, Height: 1, Count: 1}, ErrDataType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMem_WriteRead(t *testing.T) {
	m := NewMem()
	ds, err := m.Create("a.tif", byteProfile(4, 3, 2))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := window.Window{ColOff: 1, RowOff: 1, Width: 2, Height: 2}
	if err := ds.WriteBand(2, w, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBand failed: %v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ds, err = m.Open("a.tif")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = ds.Close() }()

	full := make([]byte, 12)
	if err := ds.ReadBand(2, window.Window{Width: 4, Height: 3}, full); err != nil {
		t.Fatalf("ReadBand failed: %v", err)
	}
	expected := []byte{
		0, 0, 0, 0,
		0, 1, 2, 0,
		0, 3, 4, 0,
	}
	if !slices.Equal(full, expected) {
		t.Errorf("expected %v, got %v", expected, full)
	}

	if err := ds.ReadBand(1, window.Window{Width: 4, Height: 3}, full); err != nil {
		t.Fatalf("ReadBand failed: %v", err)
	}
	if slices.ContainsFunc(full, func(b byte) bool { return b != 0 }) {
		t.Errorf("band 1 should be untouched, got %v", full)
	}
}

func TestMem_NoDataFill(t *testing.T) {
	p := byteProfile(2, 2, 1)
	p.NoData = 255
	p.HasNoData = true

	ds, err := NewMem().Create("n.tif", p)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	buf := make([]byte, 4)
	if err := ds.ReadBand(1, window.Window{Width: 2, Height: 2}, buf); err != nil {
		t.Fatalf("ReadBand failed: %v", err)
	}
	if !slices.Equal(buf, []byte{255, 255, 255, 255}) {
		t.Errorf("expected nodata fill, got %v", buf)
	}
}

func TestMem_Errors(t *testing.T) {
	m := NewMem()
	if _, err := m.Open("missing.tif"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	ds, err := m.Create("e.tif", byteProfile(4, 4, 1))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tests := []struct {
		name    string
		band    int
		w       window.Window
		buf     []byte
		wantErr error
	}{
		{"band zero", 0, window.Window{Width: 1, Height: 1}, make([]byte, 1), ErrBand},
		{"band too high", 2, window.Window{Width: 1, Height: 1}, make([]byte, 1), ErrBand},
		{"outside", 1, window.Window{ColOff: 3, Width: 2, Height: 1}, make([]byte, 2), ErrWindow},
		{"short buffer", 1, window.Window{Width: 2, Height: 2}, make([]byte, 3), ErrBuffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ds.ReadBand(tt.band, tt.w, tt.buf); !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadBand: expected %v, got %v", tt.wantErr, err)
			}
			if err := ds.WriteBand(tt.band, tt.w, tt.buf); !errors.Is(err, tt.wantErr) {
				t.Errorf("WriteBand: expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	_ = ds.Close()
	if err := ds.ReadBand(1, window.Window{Width: 1, Height: 1}, make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestMem_Paths(t *testing.T) {
	m := NewMem()
	for _, p := range []string{"b.tif", "a.tif"} {
		if _, err := m.Create(p, byteProfile(1, 1, 1)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if got := m.Paths(); !slices.Equal(got, []string{"a.tif", "b.tif"}) {
		t.Errorf("unexpected paths %v", got)
	}
}
