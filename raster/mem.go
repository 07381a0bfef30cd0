package raster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/SpeciesConservationLandscapes/task-hii-osm-csv/window"
)

// Mem is an in-memory Driver keyed by path. It holds every band fully in
// memory, so it only suits small rasters.
//
// Mem is safe for concurrent use; each Dataset it returns is not.
type Mem struct {
	mu    sync.Mutex
	files map[string]*memFile
}

type memFile struct {
	mu      sync.RWMutex
	profile Profile
	bands   [][]byte
}

// NewMem returns an empty in-memory driver.
func NewMem() *Mem {
	return &Mem{files: make(map[string]*memFile)}
}

// Open returns a handle to a previously created dataset.
func (m *Mem) Open(path string) (Dataset, error) {
	m.mu.Lock()
	f, ok := m.files[path]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return &memDataset{file: f}, nil
}

// Create allocates a dataset, replacing any existing one at path. Bands are
// initialized to the nodata value when the profile has one.
func (m *Mem) Create(path string, p Profile) (Dataset, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var fill byte
	if p.HasNoData {
		fill = byte(p.NoData)
	}
	bands := make([][]byte, p.Count)
	for i := range bands {
		bands[i] = make([]byte, p.Width*p.Height)
		if fill != 0 {
			for j := range bands[i] {
				bands[i][j] = fill
			}
		}
	}

	f := &memFile{profile: p, bands: bands}
	m.mu.Lock()
	m.files[path] = f
	m.mu.Unlock()
	return &memDataset{file: f}, nil
}

// Paths lists the stored datasets in sorted order.
func (m *Mem) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

type memDataset struct {
	file   *memFile
	closed bool
}

func (d *memDataset) Profile() Profile {
	d.file.mu.RLock()
	defer d.file.mu.RUnlock()
	return d.file.profile
}

func (d *memDataset) check(band int, w window.Window, buf []byte) error {
	if d.closed {
		return ErrClosed
	}
	p := d.file.profile
	if band < 1 || band > p.Count {
		return fmt.Errorf("%w: %d of %d", ErrBand, band, p.Count)
	}
	if err := p.CheckWindow(w); err != nil {
		return err
	}
	if len(buf) != w.Area() {
		return fmt.Errorf("%w: %d bytes for %v", ErrBuffer, len(buf), w)
	}
	return nil
}

func (d *memDataset) ReadBand(band int, w window.Window, buf []byte) error {
	d.file.mu.RLock()
	defer d.file.mu.RUnlock()
	if err := d.check(band, w, buf); err != nil {
		return err
	}
	src := d.file.bands[band-1]
	stride := d.file.profile.Width
	for row := 0; row < w.Height; row++ {
		start := (w.RowOff+row)*stride + w.ColOff
		copy(buf[row*w.Width:(row+1)*w.Width], src[start:start+w.Width])
	}
	return nil
}

func (d *memDataset) WriteBand(band int, w window.Window, buf []byte) error {
	d.file.mu.Lock()
	defer d.file.mu.Unlock()
	if err := d.check(band, w, buf); err != nil {
		return err
	}
	dst := d.file.bands[band-1]
	stride := d.file.profile.Width
	for row := 0; row < w.Height; row++ {
		start := (w.RowOff+row)*stride + w.ColOff
		copy(dst[start:start+w.Width], buf[row*w.Width:(row+1)*w.Width])
	}
	return nil
}

func (d *memDataset) Close() error {
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	return nil
}
