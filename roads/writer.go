package roads

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb/encoding/wkt"
)

// csvRows iterates over a road table with the header "wkt","attribute","tag"
// one record at a time.
type csvRows struct {
	cr      *csv.Reader
	row     Row
	skipped int
	err     error
}

func newCSVRows(r io.Reader) (*csvRows, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrHeader)
		}
		return nil, err
	}
	if len(head) < 3 || !strings.EqualFold(head[0], "wkt") || head[1] != ColumnAttribute || head[2] != ColumnTag {
		return nil, fmt.Errorf("%w: %q", ErrHeader, head)
	}
	return &csvRows{cr: cr}, nil
}

// Next advances to the next usable row. Rows with a missing column, an
// unparsable geometry or an unsupported geometry type are skipped and
// counted.
func (c *csvRows) Next() bool {
	for c.err == nil {
		rec, err := c.cr.Read()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			c.err = err
			return false
		}
		if len(rec) < 3 {
			c.skipped++
			continue
		}
		g, err := wkt.Unmarshal(rec[0])
		if err != nil || geometryType(g) == flattypes.GeometryTypeUnknown {
			c.skipped++
			continue
		}
		c.row = Row{Geometry: g, Attribute: rec[1], Tag: rec[2]}
		return true
	}
	return false
}

func (c *csvRows) Row() Row { return c.row }
func (c *csvRows) Err() error { return c.err }

// ReadCSV parses a whole road table into memory. Rows with a missing column
// or an unparsable geometry are skipped and counted.
func ReadCSV(r io.Reader) (rows []Row, skipped int, err error) {
	cr, err := newCSVRows(r)
	if err != nil {
		return nil, 0, err
	}
	for cr.Next() {
		rows = append(rows, cr.Row())
	}
	if err := cr.Err(); err != nil {
		return nil, 0, err
	}
	return rows, cr.skipped, nil
}

// scanCSV reads the road table at path once and returns the number of usable
// rows and their layer type.
func scanCSV(path string) (int, flattypes.GeometryType, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cr, err := newCSVRows(f)
	if err != nil {
		return 0, 0, err
	}
	var (
		n   int
		typ layerType
	)
	for cr.Next() {
		n++
		typ.add(cr.Row().Geometry)
	}
	return n, typ.typ, cr.Err()
}

// Export converts the road table at csvPath into a FlatGeobuf file at
// fgbPath and returns the number of features written. The table is read
// twice and streamed; only the spatial index is held in memory. An empty
// table returns ErrNoFeatures and creates no file.
func Export(csvPath, fgbPath string, opts Options) (n int, err error) {
	count, typ, err := scanCSV(csvPath)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", csvPath, err)
	}
	if count == 0 {
		return 0, ErrNoFeatures
	}

	in, err := os.Open(csvPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	cr, err := newCSVRows(in)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", csvPath, err)
	}

	out, err := os.Create(fgbPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	gen := &rowGenerator{next: func() (Row, bool) {
		if !cr.Next() {
			return Row{}, false
		}
		return cr.Row(), true
	}}
	bw := bufio.NewWriter(out)
	if err := write(bw, typ, gen, opts); err != nil {
		return 0, err
	}
	if err := cr.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", csvPath, err)
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return gen.n, nil
}

// Write encodes rows as a FlatGeobuf layer.
func Write(w io.Writer, rows []Row, opts Options) error {
	if len(rows) == 0 {
		return ErrNoFeatures
	}
	var typ layerType
	for _, r := range rows {
		if geometryType(r.Geometry) == flattypes.GeometryTypeUnknown {
			return fmt.Errorf("%w: %T", ErrUnsupportedType, r.Geometry)
		}
		typ.add(r.Geometry)
	}

	i := 0
	gen := &rowGenerator{next: func() (Row, bool) {
		if i >= len(rows) {
			return Row{}, false
		}
		i++
		return rows[i-1], true
	}}
	return write(w, typ.typ, gen, opts)
}

func write(w io.Writer, typ flattypes.GeometryType, gen writer.FeatureGenerator, opts Options) error {
	b := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(b)
	header.SetGeometryType(typ)
	if opts.Name != "" {
		header.SetName(opts.Name)
	}
	if opts.Description != "" {
		header.SetDescription(opts.Description)
	}
	if opts.EPSG > 0 {
		crs := writer.NewCrs(b)
		crs.SetOrg("EPSG")
		crs.SetCode(int32(opts.EPSG))
		header.SetCrs(crs)
	}
	header.SetColumns(columns(b))

	_, err := writer.NewWriter(header, opts.Index, gen, nil).Write(w)
	return err
}

func columns(b *flatbuffers.Builder) []*writer.Column {
	names := []string{ColumnAttribute, ColumnTag}
	cols := make([]*writer.Column, len(names))
	for i, name := range names {
		c := writer.NewColumn(b)
		c.SetName(name)
		c.SetTitle(name)
		c.SetType(flattypes.ColumnTypeString)
		c.SetNullable(false)
		cols[i] = c
	}
	return cols
}

// encodeProperties writes the attribute and tag as FlatGeobuf string
// properties: column index (uint16), byte length (uint32), bytes.
func encodeProperties(r Row) []byte {
	buf := make([]byte, 0, 12+len(r.Attribute)+len(r.Tag))
	for i, s := range []string{r.Attribute, r.Tag} {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(i))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

// rowGenerator feeds rows to the FlatGeobuf writer one feature at a time.
type rowGenerator struct {
	next func() (Row, bool)
	n    int
}

func (g *rowGenerator) Generate() *writer.Feature {
	r, ok := g.next()
	if !ok {
		return nil
	}
	g.n++

	b := flatbuffers.NewBuilder(1024)
	f := writer.NewFeature(b)
	f.SetGeometry(encodeGeometry(r.Geometry, b))
	f.SetProperties(encodeProperties(r))
	return f
}
