package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrBandName is returned for an image whose name does not carry an
// attribute=tag prefix.
var ErrBandName = errors.New("stack: image name is not <attribute>=<tag>_<id>")

// Band lists the bands holding one attribute=tag.
type Band struct {
	Attribute string `json:"attribute"`
	Tag       string `json:"tag"`
	Bands     []int  `json:"bands"`
}

// Metadata describes the bands of the stacked outputs. Every output carries
// the same bands; band n is the n-th rasterized image.
type Metadata struct {
	Bands  map[string]*Band `json:"bands"`
	Images []string         `json:"images"`
	Road   string           `json:"road"`
}

// NewMetadata derives band metadata from the rasterized image names, which
// have the form <attribute>=<tag>_<id>.tif.
func NewMetadata(images, outputs []string, road string) (Metadata, error) {
	m := Metadata{
		Bands:  make(map[string]*Band),
		Images: append([]string{}, outputs...),
		Road:   road,
	}
	for i, img := range images {
		base := filepath.Base(img)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if j := strings.LastIndexByte(stem, '_'); j >= 0 {
			stem = stem[:j]
		}
		attr, tag, ok := strings.Cut(stem, "=")
		if !ok {
			return Metadata{}, fmt.Errorf("%w: %s", ErrBandName, base)
		}
		b, ok := m.Bands[stem]
		if !ok {
			b = &Band{Attribute: attr, Tag: tag}
			m.Bands[stem] = b
		}
		b.Bands = append(b.Bands, i+1)
	}
	return m, nil
}

// WriteMetadata writes band metadata for images as indented JSON to path.
func WriteMetadata(path string, images, outputs []string, road string) error {
	m, err := NewMetadata(images, outputs, road)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
