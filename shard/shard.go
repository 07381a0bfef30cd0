// Package shard streams an osmium text export into per-tag CSV shards ready
// for rasterization, and collects road geometries into a separate table.
//
// Input lines hold a WKT geometry followed by a comma separated list of
// attribute=tag strings:
//
//	POLYGON((0 0,0 1,1 1,1 0,0 0)) landuse=forest,natural=wood
//
// Each tag gets its own shard file "<tag>_<uuid>.csv" with the header
// "WKT","BURN". A shard holds at most MaxRows data rows; the next row for
// that tag opens a fresh shard.
package shard

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	shardHeader = `"WKT","BURN"` + "\n"
	roadsHeader = `"wkt","attribute","tag"` + "\n"
)

// ErrMaxRows is returned for a non-positive MaxRows.
var ErrMaxRows = errors.New("shard: max rows must be positive")

// Options configures a Sharder.
type Options struct {
	// Dir receives the shard files. It is created if missing.
	Dir string
	// MaxRows caps the data rows per shard file. Default 1,000,000.
	MaxRows int
	// RoadsPath is the road table output. Empty disables the road table.
	RoadsPath string
	// Roads maps tags to road attributes.
	Roads RoadMapping
}

// DefaultOptions returns options writing shards to dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:     dir,
		MaxRows: 1_000_000,
	}
}

// Cleaner normalizes a road geometry, returning an error to drop it.
type Cleaner interface {
	Clean(wkt string) (string, error)
}

// Result lists the files written by Shard.
type Result struct {
	Shards []string // in creation order
	Roads  string   // empty when the road table is disabled
}

// Sharder splits feature records into shard files. It is not safe for
// concurrent use; each call to Shard owns its own file table.
type Sharder struct {
	opts    Options
	cleaner Cleaner
	logger  *slog.Logger
}

// New returns a Sharder. The cleaner may be nil when no road table is
// written.
func New(opts Options, cleaner Cleaner, logger *slog.Logger) *Sharder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sharder{opts: opts, cleaner: cleaner, logger: logger}
}

// ShardFile shards the export at path.
func (s *Sharder) ShardFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	return s.Shard(f)
}

// Shard reads records from r until EOF. Every shard and the road table are
// flushed and closed before Shard returns, whatever the outcome.
func (s *Sharder) Shard(r io.Reader) (res Result, err error) {
	if s.opts.MaxRows <= 0 {
		return Result{}, ErrMaxRows
	}
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return Result{}, err
	}

	t := &table{dir: s.opts.Dir, max: s.opts.MaxRows, files: make(map[string]*file)}
	defer func() {
		err = errors.Join(err, t.close())
		if err != nil {
			res = Result{}
		}
	}()

	roadsEnabled := s.opts.RoadsPath != ""
	if roadsEnabled {
		if s.cleaner == nil {
			return Result{}, errors.New("shard: road table requires a cleaner")
		}
		t.roads, err = create(s.opts.RoadsPath, roadsHeader)
		if err != nil {
			return Result{}, err
		}
		res.Roads = s.opts.RoadsPath
	}

	var rows, skipped, roads, rejected int
	br := bufio.NewReader(r)
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return Result{}, readErr
		}
		if line != "" {
			wkt, tags, ok := ParseRow(line)
			if !ok {
				skipped++
			} else {
				rows++
				rec := record{wkt: wkt}
				for _, tag := range tags {
					if err := t.write(tag, wkt); err != nil {
						return Result{}, err
					}
					if !roadsEnabled {
						continue
					}
					rt, ok := s.opts.Roads[tag]
					if !ok {
						continue
					}
					cleaned, err := rec.clean(s.cleaner)
					if err != nil {
						rejected++
						continue
					}
					if _, err := fmt.Fprintf(t.roads.w, "\"%s\",\"%s\",\"%s\"\n", cleaned, rt.Attribute, rt.Tag); err != nil {
						return Result{}, err
					}
					roads++
				}
			}
		}
		if readErr != nil {
			break
		}
	}

	s.logger.Debug("sharded export",
		"rows", rows, "skipped", skipped, "shards", len(t.shards), "roads", roads, "rejected", rejected)
	res.Shards = t.shards
	return res, nil
}

// record memoizes the cleaned geometry of one input row.
type record struct {
	wkt     string
	done    bool
	cleaned string
	err     error
}

func (r *record) clean(c Cleaner) (string, error) {
	if !r.done {
		r.cleaned, r.err = c.Clean(r.wkt)
		r.done = true
	}
	return r.cleaned, r.err
}

// ParseRow splits a line into its geometry and tags. The geometry ends at
// the last ')'; quotes, spaces and commas separating it from the tag list
// are dropped, as are empty tags. ok is false when there is no geometry or
// no tag.
func ParseRow(line string) (wkt string, tags []string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.LastIndexByte(line, ')')
	if idx < 0 {
		return "", nil, false
	}

	wkt = strings.TrimLeft(line[:idx+1], `" `)
	rest := strings.Trim(line[idx+1:], `" ,`)
	for _, tag := range strings.Split(rest, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	if wkt == "" || len(tags) == 0 {
		return "", nil, false
	}
	return wkt, tags, true
}

type file struct {
	path string
	f    *os.File
	w    *bufio.Writer
	rows int
}

func create(path, header string) (*file, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &file{path: path, f: f, w: w}, nil
}

func (f *file) close() error {
	return errors.Join(f.w.Flush(), f.f.Close())
}

// table is the open shard per tag, owned by a single Shard call.
type table struct {
	dir    string
	max    int
	files  map[string]*file
	shards []string
	roads  *file
}

var unsafeName = strings.NewReplacer("/", "-", `\`, "-", "\x00", "")

// Name returns a fresh shard file name for tag.
func Name(tag string) string {
	return unsafeName.Replace(tag) + "_" + uuid.NewString() + ".csv"
}

func (t *table) write(tag, wkt string) error {
	f, ok := t.files[tag]
	if ok && f.rows >= t.max {
		delete(t.files, tag)
		if err := f.close(); err != nil {
			return err
		}
		ok = false
	}
	if !ok {
		var err error
		f, err = create(filepath.Join(t.dir, Name(tag)), shardHeader)
		if err != nil {
			return err
		}
		t.files[tag] = f
		t.shards = append(t.shards, f.path)
	}

	if _, err := fmt.Fprintf(f.w, "\"%s\",\n", wkt); err != nil {
		return err
	}
	f.rows++
	return nil
}

func (t *table) close() error {
	var errs []error
	for _, f := range t.files {
		errs = append(errs, f.close())
	}
	t.files = nil
	if t.roads != nil {
		errs = append(errs, t.roads.close())
		t.roads = nil
	}
	return errors.Join(errs...)
}
