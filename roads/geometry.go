package roads

import (
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

// geometryType maps an orb geometry to its FlatGeobuf type.
func geometryType(g orb.Geometry) flattypes.GeometryType {
	switch g.(type) {
	case orb.Point:
		return flattypes.GeometryTypePoint
	case orb.MultiPoint:
		return flattypes.GeometryTypeMultiPoint
	case orb.LineString:
		return flattypes.GeometryTypeLineString
	case orb.MultiLineString:
		return flattypes.GeometryTypeMultiLineString
	case orb.Ring, orb.Polygon, orb.Bound:
		return flattypes.GeometryTypePolygon
	case orb.MultiPolygon:
		return flattypes.GeometryTypeMultiPolygon
	case orb.Collection:
		return flattypes.GeometryTypeGeometryCollection
	}
	return flattypes.GeometryTypeUnknown
}

// layerType accumulates the common geometry type of a layer. The zero value
// is an empty layer.
type layerType struct {
	typ  flattypes.GeometryType
	seen bool
}

// add records g. Mixed types make the layer Unknown.
func (l *layerType) add(g orb.Geometry) {
	t := geometryType(g)
	switch {
	case !l.seen:
		l.typ, l.seen = t, true
	case t != l.typ:
		l.typ = flattypes.GeometryTypeUnknown
	}
}

// flatten concatenates point lists into an xy array and the cumulative end
// index of each list.
func flatten(lists ...[]orb.Point) ([]float64, []uint32) {
	var n int
	for _, l := range lists {
		n += len(l)
	}
	xy := make([]float64, 0, 2*n)
	ends := make([]uint32, 0, len(lists))
	for _, l := range lists {
		for _, p := range l {
			xy = append(xy, p[0], p[1])
		}
		ends = append(ends, uint32(len(xy)/2))
	}
	return xy, ends
}

func polygonLists(p orb.Polygon) [][]orb.Point {
	lists := make([][]orb.Point, len(p))
	for i, r := range p {
		lists[i] = r
	}
	return lists
}

// encodeGeometry builds the FlatGeobuf geometry for g, or returns nil for
// an unsupported type.
func encodeGeometry(g orb.Geometry, b *flatbuffers.Builder) *writer.Geometry {
	if g == nil {
		return nil
	}
	out := writer.NewGeometry(b)
	out.SetType(geometryType(g))

	switch g := g.(type) {
	case orb.Point:
		out.SetXY([]float64{g[0], g[1]})
	case orb.MultiPoint:
		xy, _ := flatten(g)
		out.SetXY(xy)
	case orb.LineString:
		xy, _ := flatten(g)
		out.SetXY(xy)
	case orb.MultiLineString:
		lists := make([][]orb.Point, len(g))
		for i, ls := range g {
			lists[i] = ls
		}
		xy, ends := flatten(lists...)
		out.SetXY(xy)
		out.SetEnds(ends)
	case orb.Ring:
		return encodeGeometry(orb.Polygon{g}, b)
	case orb.Bound:
		return encodeGeometry(g.ToPolygon(), b)
	case orb.Polygon:
		xy, ends := flatten(polygonLists(g)...)
		out.SetXY(xy)
		out.SetEnds(ends)
	case orb.MultiPolygon:
		parts := make([]writer.Geometry, 0, len(g))
		for _, p := range g {
			parts = append(parts, *encodeGeometry(p, b))
		}
		out.SetParts(parts)
	case orb.Collection:
		parts := make([]writer.Geometry, 0, len(g))
		for _, c := range g {
			if part := encodeGeometry(c, b); part != nil {
				parts = append(parts, *part)
			}
		}
		out.SetParts(parts)
	default:
		return nil
	}
	return out
}

// points reads points [from, to) of g's xy array.
func points(g *flattypes.Geometry, from, to int) []orb.Point {
	to = min(to, g.XyLength()/2)
	if to <= from {
		return nil
	}
	pts := make([]orb.Point, 0, to-from)
	for i := from; i < to; i++ {
		pts = append(pts, orb.Point{g.Xy(2 * i), g.Xy(2*i + 1)})
	}
	return pts
}

// lists splits g's points at its ends; without ends all points form one
// list.
func lists(g *flattypes.Geometry) [][]orb.Point {
	n := g.EndsLength()
	if n == 0 {
		if pts := points(g, 0, g.XyLength()/2); len(pts) > 0 {
			return [][]orb.Point{pts}
		}
		return nil
	}
	out := make([][]orb.Point, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		end := int(g.Ends(i))
		out = append(out, points(g, start, end))
		start = end
	}
	return out
}

func decodePolygon(g *flattypes.Geometry) orb.Polygon {
	ls := lists(g)
	p := make(orb.Polygon, len(ls))
	for i, l := range ls {
		p[i] = l
	}
	return p
}

func decodeParts(g *flattypes.Geometry) []orb.Geometry {
	out := make([]orb.Geometry, 0, g.PartsLength())
	for i := 0; i < g.PartsLength(); i++ {
		var part flattypes.Geometry
		if !g.Parts(&part, i) {
			continue
		}
		if d := decodeGeometry(&part); d != nil {
			out = append(out, d)
		}
	}
	return out
}

// decodeGeometry converts a FlatGeobuf geometry to orb, or returns nil for
// an unsupported type.
func decodeGeometry(g *flattypes.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	switch g.Type() {
	case flattypes.GeometryTypePoint:
		if pts := points(g, 0, 1); len(pts) == 1 {
			return pts[0]
		}
		return orb.Point{}
	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(points(g, 0, g.XyLength()/2))
	case flattypes.GeometryTypeLineString:
		return orb.LineString(points(g, 0, g.XyLength()/2))
	case flattypes.GeometryTypeMultiLineString:
		ls := lists(g)
		mls := make(orb.MultiLineString, len(ls))
		for i, l := range ls {
			mls[i] = l
		}
		return mls
	case flattypes.GeometryTypePolygon:
		return decodePolygon(g)
	case flattypes.GeometryTypeMultiPolygon:
		if g.PartsLength() == 0 {
			return orb.MultiPolygon{decodePolygon(g)}
		}
		var mp orb.MultiPolygon
		for _, part := range decodeParts(g) {
			if p, ok := part.(orb.Polygon); ok {
				mp = append(mp, p)
			}
		}
		return mp
	case flattypes.GeometryTypeGeometryCollection:
		return orb.Collection(decodeParts(g))
	}
	return nil
}
