// Package raster defines the raster profile and the driver interfaces used to
// read and write single- and multi-band rasters window by window.
//
// Concrete drivers live elsewhere (see package gdalraster); an in-memory
// driver is provided here for small rasters and tests.
package raster

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/window"
)

// Common errors returned by raster drivers.
var (
	ErrNotFound = errors.New("raster: dataset not found")
	ErrClosed   = errors.New("raster: dataset closed")
	ErrWindow   = errors.New("raster: window outside raster")
	ErrBand     = errors.New("raster: band index out of range")
	ErrBuffer   = errors.New("raster: buffer size does not match window")
	ErrDataType = errors.New("raster: unsupported data type")
	ErrProfile  = errors.New("raster: invalid profile")
)

// DataType is a pixel type.
type DataType int

const (
	Unknown DataType = iota
	Byte
)

func (d DataType) String() string {
	switch d {
	case Byte:
		return "Byte"
	default:
		return "Unknown"
	}
}

// GeoTransform maps pixel/line coordinates to georeferenced coordinates,
// in GDAL order: origin x, pixel width, row rotation, origin y, column
// rotation, pixel height.
type GeoTransform [6]float64

// XY returns the georeferenced coordinate of the upper-left corner of the
// pixel at (col, row).
func (gt GeoTransform) XY(col, row int) (x, y float64) {
	c, r := float64(col), float64(row)
	return gt[0] + c*gt[1] + r*gt[2], gt[3] + c*gt[4] + r*gt[5]
}

// Profile describes a raster: its grid, georeferencing, pixel type and
// storage parameters. Profile is a value type; copies never share state.
type Profile struct {
	Width        int
	Height       int
	Count        int // number of bands
	DataType     DataType
	GeoTransform GeoTransform
	SRS          string // WKT or "EPSG:<code>"
	NoData       float64
	HasNoData    bool

	Tiled      bool
	BlockXSize int
	BlockYSize int
	Compress   string // e.g. "DEFLATE"
	Predictor  int
	ZLevel     int
	NumThreads int
}

// Clone returns an independent copy of the profile.
func (p Profile) Clone() Profile {
	return p
}

// Validate checks that the profile describes a creatable raster.
func (p Profile) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrProfile, p.Width, p.Height)
	}
	if p.Count <= 0 {
		return fmt.Errorf("%w: band count %d", ErrProfile, p.Count)
	}
	if p.DataType != Byte {
		return fmt.Errorf("%w: %s", ErrDataType, p.DataType)
	}
	return nil
}

// CreationOptions returns the GeoTIFF creation options for the profile's
// storage parameters.
func (p Profile) CreationOptions() []string {
	var opts []string
	if p.Tiled {
		opts = append(opts, "TILED=YES")
		if p.BlockXSize > 0 {
			opts = append(opts, "BLOCKXSIZE="+strconv.Itoa(p.BlockXSize))
		}
		if p.BlockYSize > 0 {
			opts = append(opts, "BLOCKYSIZE="+strconv.Itoa(p.BlockYSize))
		}
	}
	if p.Compress != "" {
		opts = append(opts, "COMPRESS="+p.Compress)
	}
	if p.Predictor > 0 {
		opts = append(opts, "PREDICTOR="+strconv.Itoa(p.Predictor))
	}
	if p.ZLevel > 0 {
		opts = append(opts, "ZLEVEL="+strconv.Itoa(p.ZLevel))
	}
	if p.NumThreads > 0 {
		opts = append(opts, "NUM_THREADS="+strconv.Itoa(p.NumThreads))
	}
	return opts
}

// CheckWindow reports whether w lies inside the raster described by p.
func (p Profile) CheckWindow(w window.Window) error {
	if w.ColOff < 0 || w.RowOff < 0 || w.Width <= 0 || w.Height <= 0 ||
		w.ColOff+w.Width > p.Width || w.RowOff+w.Height > p.Height {
		return fmt.Errorf("%w: %v in %dx%d", ErrWindow, w, p.Width, p.Height)
	}
	return nil
}

// Driver opens and creates datasets.
type Driver interface {
	Open(path string) (Dataset, error)
	Create(path string, p Profile) (Dataset, error)
}

// Dataset is an open raster. Band indexes are 1-based. Buffers hold one
// byte per pixel in row-major order and must be exactly Width×Height of the
// window.
//
// A Dataset is owned by the goroutine that opened it.
type Dataset interface {
	Profile() Profile
	ReadBand(band int, w window.Window, buf []byte) error
	WriteBand(band int, w window.Window, buf []byte) error
	Close() error
}
