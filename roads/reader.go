package roads

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Reader reads a road FlatGeobuf file.
type Reader struct {
	fgb  *flatgeobuf.FlatGeoBuf
	buf  []byte
	file *os.File
	data mmap.MMap
}

// Open memory-maps the file at path. The mapping is released by Close.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		_ = data.Unmap()
		_ = f.Close()
		return nil, err
	}
	return &Reader{fgb: fgb, buf: data, file: f, data: data}, nil
}

// NewReader reads a FlatGeobuf file held in memory.
func NewReader(data []byte) (*Reader, error) {
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, err
	}
	return &Reader{fgb: fgb, buf: data}, nil
}

// Bytes returns the encoded file. For a reader from Open the slice is the
// file mapping and must not be used after Close.
func (r *Reader) Bytes() []byte {
	return r.buf
}

// Header returns the layer metadata.
func (r *Reader) Header() Header {
	h := r.fgb.Header()
	out := Header{
		Name:          string(h.Name()),
		Description:   string(h.Description()),
		GeometryType:  flattypes.EnumNamesGeometryType[h.GeometryType()],
		FeaturesCount: h.FeaturesCount(),
		HasIndex:      h.IndexNodeSize() > 0,
	}
	if h.EnvelopeLength() >= 4 {
		out.Envelope = orb.Bound{
			Min: orb.Point{h.Envelope(0), h.Envelope(1)},
			Max: orb.Point{h.Envelope(2), h.Envelope(3)},
		}
	}
	var crs flattypes.Crs
	if h.Crs(&crs) != nil {
		out.EPSG = int(crs.Code())
	}
	for i := 0; i < h.ColumnsLength(); i++ {
		var c flattypes.Column
		if h.Columns(&c, i) {
			out.Columns = append(out.Columns, string(c.Name()))
		}
	}
	return out
}

// Rows returns every feature. The file must be indexed.
func (r *Reader) Rows() ([]Row, error) {
	b := r.Header().Envelope
	if b.IsZero() {
		b = orb.Bound{
			Min: orb.Point{-math.MaxFloat64, -math.MaxFloat64},
			Max: orb.Point{math.MaxFloat64, math.MaxFloat64},
		}
	}
	return r.Search(b)
}

// Search returns the features whose bounding boxes intersect b.
func (r *Reader) Search(b orb.Bound) ([]Row, error) {
	h := r.fgb.Header()
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoIndex
	}
	if h.FeaturesCount() == 0 {
		return nil, nil
	}

	features, err := r.fgb.Search(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(features))
	for _, f := range features {
		row, err := decodeFeature(f, h)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Features returns every feature as GeoJSON with "attribute" and "tag"
// properties.
func (r *Reader) Features() (*geojson.FeatureCollection, error) {
	rows, err := r.Rows()
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, row := range rows {
		f := geojson.NewFeature(row.Geometry)
		f.Properties = geojson.Properties{
			ColumnAttribute: row.Attribute,
			ColumnTag:       row.Tag,
		}
		fc.Append(f)
	}
	return fc, nil
}

// Close releases the reader and any file mapping. Rows and features
// already returned stay valid.
func (r *Reader) Close() error {
	r.fgb, r.buf = nil, nil
	var err error
	if r.data != nil {
		err = r.data.Unmap()
		r.data = nil
	}
	if r.file != nil {
		err = errors.Join(err, r.file.Close())
		r.file = nil
	}
	return err
}

func decodeFeature(f *flattypes.Feature, h *flattypes.Header) (Row, error) {
	var g flattypes.Geometry
	row := Row{Geometry: decodeGeometry(f.Geometry(&g))}
	if row.Geometry == nil {
		return Row{}, ErrUnsupportedType
	}

	data := make([]byte, f.PropertiesLength())
	for i := range data {
		data[i] = f.Properties(i)
	}

	for off := 0; off < len(data); {
		if off+6 > len(data) {
			return Row{}, ErrInvalidData
		}
		idx := int(binary.LittleEndian.Uint16(data[off:]))
		n := int(binary.LittleEndian.Uint32(data[off+2:]))
		off += 6
		if off+n > len(data) {
			return Row{}, ErrInvalidData
		}
		val := string(data[off : off+n])
		off += n

		var c flattypes.Column
		if idx >= h.ColumnsLength() || !h.Columns(&c, idx) || c.Type() != flattypes.ColumnTypeString {
			return Row{}, fmt.Errorf("%w: %d", ErrInvalidColumn, idx)
		}
		switch string(c.Name()) {
		case ColumnAttribute:
			row.Attribute = val
		case ColumnTag:
			row.Tag = val
		}
	}
	return row, nil
}
