// Package split divides a stack of aligned rasters into vertical strips that
// can be composited independently.
package split

import (
	"errors"
	"fmt"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/raster"
	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/window"
)

var (
	ErrSplitCount = errors.New("split: split count must be at least 1")
	ErrNoSources  = errors.New("split: no source rasters")
	ErrTileSize   = errors.New("split: tile size must be positive")
)

// Strip describes one strip of the source stack.
//
// Read windows address the source rasters and are offset by XOffset; Write
// windows address the strip's own output and start at column 0. The i-th
// read window shifted left by XOffset equals the i-th write window.
type Strip struct {
	Sources []string
	Profile raster.Profile // strip grid: origin and width adjusted
	XOffset int
	Read    []window.Window
	Write   []window.Window
}

// Plan opens the first source through drv to obtain the stack's profile and
// returns n strips. All sources are assumed to share that grid.
func Plan(drv raster.Driver, sources []string, n, tileSize int) ([]Strip, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	ds, err := drv.Open(sources[0])
	if err != nil {
		return nil, err
	}
	p := ds.Profile()
	if err := ds.Close(); err != nil {
		return nil, err
	}
	return PlanProfile(p, sources, n, tileSize)
}

// PlanProfile splits a raster described by p into n strips of at most
// ceil(width/n) columns. The last strip takes the remaining columns; when
// there are more strips than columns the trailing strips are zero wide and
// carry no windows. A zero tileSize uses window.DefaultSize.
func PlanProfile(p raster.Profile, sources []string, n, tileSize int) ([]Strip, error) {
	switch {
	case n < 1:
		return nil, fmt.Errorf("%w: %d", ErrSplitCount, n)
	case len(sources) == 0:
		return nil, ErrNoSources
	case tileSize < 0:
		return nil, fmt.Errorf("%w: %d", ErrTileSize, tileSize)
	case tileSize == 0:
		tileSize = window.DefaultSize
	}

	if n == 1 {
		tiles := window.Collect(window.Tiles(p.Width, p.Height, tileSize, window.Offset{}))
		return []Strip{{
			Sources: sources,
			Profile: p.Clone(),
			Read:    tiles,
			Write:   tiles,
		}}, nil
	}

	stripWidth := (p.Width + n - 1) / n
	plans := make([]Strip, n)
	for i := range plans {
		start := min(i*stripWidth, p.Width)
		width := min(stripWidth, p.Width-start)

		sp := p.Clone()
		sp.Width = width
		sp.GeoTransform[0], sp.GeoTransform[3] = p.GeoTransform.XY(start, 0)

		plans[i] = Strip{
			Sources: sources,
			Profile: sp,
			XOffset: start,
			Read:    window.Collect(window.Tiles(width, p.Height, tileSize, window.Offset{X: start})),
			Write:   window.Collect(window.Tiles(width, p.Height, tileSize, window.Offset{})),
		}
	}
	return plans, nil
}
