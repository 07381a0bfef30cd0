package clean

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/twpayne/go-geos"
)

// bufferQuadSegs is the number of segments per quarter circle used by the
// zero-width repair buffer.
const bufferQuadSegs = 8

// GEOS validates and repairs geometries with libgeos.
type GEOS struct {
	ctx *geos.Context
}

// NewGEOS returns a validator with its own GEOS context.
func NewGEOS() *GEOS {
	return &GEOS{ctx: geos.NewContext()}
}

func (v *GEOS) geom(g orb.Geometry) (*geos.Geom, error) {
	gg, err := v.ctx.NewGeomFromWKT(wkt.MarshalString(g))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return gg, nil
}

// Check implements Validator.
func (v *GEOS) Check(g orb.Geometry) (bool, string, error) {
	gg, err := v.geom(g)
	if err != nil {
		return false, "", err
	}
	defer gg.Destroy()

	if gg.IsValid() {
		return true, "", nil
	}
	return false, gg.IsValidReason(), nil
}

// Repair implements Validator.
func (v *GEOS) Repair(g orb.Geometry) (orb.Geometry, error) {
	gg, err := v.geom(g)
	if err != nil {
		return nil, err
	}
	defer gg.Destroy()

	buffered := gg.Buffer(0, bufferQuadSegs)
	defer buffered.Destroy()

	repaired, err := wkt.Unmarshal(buffered.ToWKT())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return repaired, nil
}
