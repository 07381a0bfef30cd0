package clean

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/project"
)

// WGS84 ellipsoid.
const (
	semiMajor  = 6378137.0
	flattening = 1 / 298.257223563
)

var (
	e2 = flattening * (2 - flattening)
	e  = math.Sqrt(e2)
	qp = authalicQ(1)

	// radius of the sphere with the ellipsoid's surface area
	authalicRadius = semiMajor * math.Sqrt(qp/2)
	areaScale      = (authalicRadius / orb.EarthRadius) * (authalicRadius / orb.EarthRadius)
)

func authalicQ(sinPhi float64) float64 {
	es := e * sinPhi
	return (1 - e2) * (sinPhi/(1-es*es) - math.Log((1-es)/(1+es))/(2*e))
}

// authalic maps a geodetic latitude to the authalic latitude, so spherical
// areas computed on the authalic sphere equal ellipsoidal areas.
func authalic(p orb.Point) orb.Point {
	sinPhi := math.Sin(p[1] * math.Pi / 180)
	ratio := math.Max(-1, math.Min(1, authalicQ(sinPhi)/qp))
	return orb.Point{p[0], math.Asin(ratio) * 180 / math.Pi}
}

// Area returns the absolute area of g on the WGS84 ellipsoid in square
// metres. Coordinates are longitude/latitude degrees.
func Area(g orb.Geometry) float64 {
	g = project.Geometry(orb.Clone(g), authalic)
	return math.Abs(geo.Area(g)) * areaScale
}
