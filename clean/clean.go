// Package clean normalizes and validates polygonal WKT geometries before they
// are written to the road table.
package clean

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/simplify"
)

// Errors returned by Clean. Each rejection wraps exactly one of them.
var (
	ErrParse    = errors.New("clean: unparsable geometry")
	ErrInvalid  = errors.New("clean: invalid geometry after repair")
	ErrEmpty    = errors.New("clean: empty geometry")
	ErrTooSmall = errors.New("clean: geometry area below minimum")
)

// Options configures a Cleaner.
type Options struct {
	// Precision is the number of decimal places coordinates are rounded to.
	Precision int
	// MinArea is the smallest accepted ellipsoidal area in square metres.
	MinArea float64
}

// DefaultOptions returns 5 decimal places and a 5 m² minimum area.
func DefaultOptions() Options {
	return Options{
		Precision: 5,
		MinArea:   5,
	}
}

// Validator checks geometries and repairs invalid ones.
type Validator interface {
	// Check reports whether g is valid and, when it is not, why.
	Check(g orb.Geometry) (valid bool, reason string, err error)
	// Repair returns the zero-width buffer of g.
	Repair(g orb.Geometry) (orb.Geometry, error)
}

// Cleaner rounds, simplifies, validates and area-filters polygonal WKT.
// A Cleaner is safe for concurrent use if its Validator is.
type Cleaner struct {
	opts      Options
	validator Validator
	logger    *slog.Logger
}

// New returns a Cleaner. A nil validator selects GEOS; a nil logger selects
// slog.Default().
func New(opts Options, v Validator, logger *slog.Logger) *Cleaner {
	if v == nil {
		v = NewGEOS()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{opts: opts, validator: v, logger: logger}
}

// Clean returns the normalized form of s. Text without a POLYGON token is
// returned unchanged. An invalid geometry is repaired at most once.
func (c *Cleaner) Clean(s string) (string, error) {
	if !strings.Contains(s, "POLYGON") {
		return s, nil
	}

	g, err := wkt.Unmarshal(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	for retried := false; ; retried = true {
		g = c.normalize(g)
		valid, reason, err := c.validator.Check(g)
		if err != nil {
			return "", err
		}
		if valid {
			break
		}
		if retried {
			c.logger.Debug("invalid geometry", "reason", reason, "wkt", wkt.MarshalString(g))
			return "", fmt.Errorf("%w: %s", ErrInvalid, reason)
		}
		if g, err = c.validator.Repair(g); err != nil {
			return "", err
		}
	}

	if empty(g) {
		c.logger.Debug("empty geometry", "wkt", s)
		return "", ErrEmpty
	}

	if area := Area(g); area < c.opts.MinArea {
		c.logger.Debug("geometry too small", "area", area, "wkt", wkt.MarshalString(g))
		return "", fmt.Errorf("%w: %.3f m²", ErrTooSmall, area)
	}

	return wkt.MarshalString(g), nil
}

func (c *Cleaner) normalize(g orb.Geometry) orb.Geometry {
	g = orb.Round(g, math.Pow10(c.opts.Precision))
	return simplify.DouglasPeucker(0).Simplify(g)
}

func empty(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return true
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		for _, p := range g {
			if !empty(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, c := range g {
			if !empty(c) {
				return false
			}
		}
		return true
	}
	return false
}
