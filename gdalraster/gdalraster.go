// Package gdalraster implements raster.Driver and the rasterization engine on
// top of GDAL through github.com/airbusgeo/godal.
//
// GDAL drivers are registered on first use. Datasets returned by Driver are
// not safe for concurrent use; distinct datasets may be used from distinct
// goroutines.
package gdalraster

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/raster"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/window"
)

var registerOnce sync.Once

func register() {
	registerOnce.Do(godal.RegisterAll)
}

// Driver reads and writes GeoTIFF rasters.
type Driver struct{}

// Open opens an existing raster read-only.
func (Driver) Open(path string) (raster.Dataset, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	p, err := profileOf(ds)
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &dataset{ds: ds, profile: p}, nil
}

// Create creates a GeoTIFF described by p.
func (Driver) Create(path string, p raster.Profile) (raster.Dataset, error) {
	register()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ds, err := godal.Create(godal.GTiff, path, p.Count, godal.Byte, p.Width, p.Height,
		godal.CreationOption(p.CreationOptions()...))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	if err := configure(ds, p); err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &dataset{ds: ds, profile: p, writable: true}, nil
}

func configure(ds *godal.Dataset, p raster.Profile) error {
	if err := ds.SetGeoTransform(p.GeoTransform); err != nil {
		return err
	}
	if p.SRS != "" {
		sr, err := spatialRef(p.SRS)
		if err != nil {
			return err
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return err
		}
	}
	if p.HasNoData {
		for _, b := range ds.Bands() {
			if err := b.SetNoData(p.NoData); err != nil {
				return err
			}
		}
	}
	return nil
}

// spatialRef accepts either "EPSG:<code>" or a WKT definition.
func spatialRef(srs string) (*godal.SpatialRef, error) {
	if code, ok := strings.CutPrefix(strings.ToUpper(srs), "EPSG:"); ok {
		n, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("invalid srs %q: %w", srs, err)
		}
		return godal.NewSpatialRefFromEPSG(n)
	}
	return godal.NewSpatialRefFromWKT(srs)
}

func profileOf(ds *godal.Dataset) (raster.Profile, error) {
	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return raster.Profile{}, err
	}

	p := raster.Profile{
		Width:        st.SizeX,
		Height:       st.SizeY,
		Count:        st.NBands,
		GeoTransform: raster.GeoTransform(gt),
		SRS:          ds.Projection(),
		BlockXSize:   st.BlockSizeX,
		BlockYSize:   st.BlockSizeY,
		Tiled:        st.BlockSizeX < st.SizeX && st.BlockSizeY > 1,
	}
	if st.DataType == godal.Byte {
		p.DataType = raster.Byte
	}
	if bands := ds.Bands(); len(bands) > 0 {
		p.NoData, p.HasNoData = bands[0].NoData()
	}
	return p, nil
}

type dataset struct {
	ds       *godal.Dataset
	profile  raster.Profile
	writable bool
	closed   bool
}

func (d *dataset) Profile() raster.Profile {
	return d.profile
}

func (d *dataset) band(band int, w window.Window, buf []byte) (godal.Band, error) {
	if d.closed {
		return godal.Band{}, raster.ErrClosed
	}
	bands := d.ds.Bands()
	if band < 1 || band > len(bands) {
		return godal.Band{}, fmt.Errorf("%w: %d of %d", raster.ErrBand, band, len(bands))
	}
	if err := d.profile.CheckWindow(w); err != nil {
		return godal.Band{}, err
	}
	if len(buf) != w.Area() {
		return godal.Band{}, fmt.Errorf("%w: %d bytes for %v", raster.ErrBuffer, len(buf), w)
	}
	return bands[band-1], nil
}

func (d *dataset) ReadBand(band int, w window.Window, buf []byte) error {
	b, err := d.band(band, w, buf)
	if err != nil {
		return err
	}
	return b.Read(w.ColOff, w.RowOff, buf, w.Width, w.Height)
}

func (d *dataset) WriteBand(band int, w window.Window, buf []byte) error {
	b, err := d.band(band, w, buf)
	if err != nil {
		return err
	}
	return b.Write(w.ColOff, w.RowOff, buf, w.Width, w.Height)
}

func (d *dataset) Close() error {
	if d.closed {
		return raster.ErrClosed
	}
	d.closed = true
	return d.ds.Close()
}
