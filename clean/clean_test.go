package clean

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// stubValidator fails the first `invalid` checks and counts repairs.
type stubValidator struct {
	invalid int
	checks  int
	repairs int
}

func (v *stubValidator) Check(g orb.Geometry) (bool, string, error) {
	v.checks++
	if v.checks <= v.invalid {
		return false, "stub", nil
	}
	return true, "", nil
}

func (v *stubValidator) Repair(g orb.Geometry) (orb.Geometry, error) {
	v.repairs++
	return g, nil
}

func TestClean_Passthrough(t *testing.T) {
	c := New(DefaultOptions(), &stubValidator{invalid: 100}, nil)
	for _, s := range []string{"", "POINT(1 2)", "LINESTRING(0 0,1 1)", "garbage"} {
		got, err := c.Clean(s)
		if err != nil {
			t.Fatalf("Clean(%q) failed: %v", s, err)
		}
		if got != s {
			t.Errorf("expected %q unchanged, got %q", s, got)
		}
	}
}

func TestClean_Idempotent(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)

	const unit = "POLYGON((0 0,0 1,1 1,1 0,0 0))"
	got, err := c.Clean(unit)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if got != unit {
		t.Errorf("expected %q, got %q", unit, got)
	}

	again, err := c.Clean(got)
	if err != nil {
		t.Fatalf("second Clean failed: %v", err)
	}
	if again != got {
		t.Errorf("Clean is not idempotent: %q then %q", got, again)
	}
}

func TestClean_Rounds(t *testing.T) {
	c := New(DefaultOptions(), &stubValidator{}, nil)

	got, err := c.Clean("POLYGON((0.000001 0,0 1.0000049,1 1,1 0,0.000001 0))")
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if got != "POLYGON((0 0,0 1,1 1,1 0,0 0))" {
		t.Errorf("unexpected rounding result %q", got)
	}
}

func TestClean_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		wkt     string
		wantErr error
	}{
		{"too small", "POLYGON((0 0,0 0.00001,0.00001 0.00001,0.00001 0,0 0))", ErrTooSmall},
		{"3.7 m² triangle", "POLYGON((0 0,0.00002 0,0 0.00003,0 0))", ErrTooSmall},
		{"empty", "POLYGON EMPTY", ErrEmpty},
		{"unparsable", "POLYGON((0 0,", ErrParse},
	}

	c := New(DefaultOptions(), &stubValidator{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Clean(tt.wkt)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v (%q)", tt.wantErr, err, got)
			}
		})
	}
}

func TestClean_RepairBound(t *testing.T) {
	const square = "POLYGON((0 0,0 1,1 1,1 0,0 0))"

	tests := []struct {
		name     string
		invalid  int
		repairs  int
		checks   int
		wantErr  error
		accepted bool
	}{
		{"valid", 0, 0, 1, nil, true},
		{"repaired once", 1, 1, 2, nil, true},
		{"rejected after repair", 100, 1, 2, ErrInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubValidator{invalid: tt.invalid}
			got, err := New(DefaultOptions(), v, nil).Clean(square)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if v.repairs != tt.repairs || v.checks != tt.checks {
				t.Errorf("expected %d repairs and %d checks, got %d and %d", tt.repairs, tt.checks, v.repairs, v.checks)
			}
			if tt.accepted != (got != "") {
				t.Errorf("unexpected result %q", got)
			}
		})
	}
}

func TestClean_GEOSRepairsBowtie(t *testing.T) {
	c := New(DefaultOptions(), nil, nil)

	got, err := c.Clean("POLYGON((0 0,1 1,1 0,0 1,0 0))")
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	g, err := wkt.Unmarshal(got)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if empty(g) {
		t.Errorf("expected a non-empty repaired geometry, got %q", got)
	}

	valid, reason, err := NewGEOS().Check(g)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !valid {
		t.Errorf("repaired geometry is invalid: %s", reason)
	}
}

func TestArea(t *testing.T) {
	tests := []struct {
		name     string
		g        orb.Geometry
		expected float64
		tol      float64
	}{
		// one degree cell at the equator on WGS84
		{"equator cell", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}, 12308778361, 1e7},
		{"tiny square", orb.Polygon{{{0, 0}, {0.00001, 0}, {0.00001, 0.00001}, {0, 0.00001}, {0, 0}}}, 1.23, 0.02},
		{"winding ignored", orb.Polygon{{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}}, 12308778361, 1e7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Area(tt.g); math.Abs(got-tt.expected) > tt.tol {
				t.Errorf("expected %.2f ± %v, got %.2f", tt.expected, tt.tol, got)
			}
		})
	}
}

func TestArea_DoesNotMutate(t *testing.T) {
	p := orb.Polygon{{{0, 60}, {1, 60}, {1, 61}, {0, 61}, {0, 60}}}
	_ = Area(p)
	if p[0][0][1] != 60 {
		t.Errorf("Area modified its input: %v", p)
	}
}
