// Package roads converts the road table produced by sharding into a
// FlatGeobuf file and reads it back.
//
// Every feature carries two string columns, "attribute" and "tag", taken
// from the road mapping entry that selected it.
package roads

import (
	"errors"

	"github.com/paulmach/orb"
)

// Common errors returned by this package.
var (
	ErrNoFeatures      = errors.New("roads: no features")
	ErrUnsupportedType = errors.New("roads: unsupported geometry type")
	ErrHeader          = errors.New("roads: unexpected road table header")
	ErrNoIndex         = errors.New("roads: file has no spatial index")
	ErrInvalidColumn   = errors.New("roads: invalid column")
	ErrInvalidData     = errors.New("roads: invalid property data")
)

// Column names, in file order.
const (
	ColumnAttribute = "attribute"
	ColumnTag       = "tag"
)

// Row is one road feature.
type Row struct {
	Geometry  orb.Geometry
	Attribute string
	Tag       string
}

// Options configures FlatGeobuf writing.
type Options struct {
	Name        string // layer name
	Description string
	EPSG        int  // 0 writes no CRS
	Index       bool // packed Hilbert R-tree; required for reading back
}

// DefaultOptions returns an indexed WGS84 layer named "roads".
func DefaultOptions() Options {
	return Options{
		Name:  "roads",
		EPSG:  4326,
		Index: true,
	}
}

// Header summarizes a road file.
type Header struct {
	Name          string
	Description   string
	GeometryType  string // "LineString", "Unknown", ...
	FeaturesCount uint64
	Envelope      orb.Bound
	EPSG          int
	HasIndex      bool
	Columns       []string
}
