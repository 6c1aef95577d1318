// Package csvstore persists one metric's daily figures as a date-indexed CSV
// file with header "Date,<region codes...>".
package csvstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
)

// ErrCorruptStore is returned when an existing file cannot be trusted:
// a bad header, unparseable cells or a date listed twice. Rows out of date
// order are accepted and sorted on load.
var ErrCorruptStore = errors.New("corrupt time-series store")

// CorruptError locates the problem in a store file.
type CorruptError struct {
	Path   string
	Line   int
	Reason string
}

func (e *CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s line %d: %s", ErrCorruptStore, e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrCorruptStore, e.Path, e.Reason)
}

func (e *CorruptError) Unwrap() error { return ErrCorruptStore }

const dateColumn = "Date"

// Store is the time series of a single metric. Upserts on one Store are
// serialized; distinct Stores share nothing.
type Store struct {
	kind  domain.MetricKind
	path  string
	order []domain.RegionCode

	mu sync.Mutex
}

// New returns the store for kind inside dir. order is the column order used
// when the file is created or new region columns are appended.
func New(dir string, kind domain.MetricKind, order []domain.RegionCode) *Store {
	return &Store{
		kind:  kind,
		path:  filepath.Join(dir, kind.FileName()),
		order: slices.Clone(order),
	}
}

// Kind returns the metric the store holds.
func (s *Store) Kind() domain.MetricKind { return s.kind }

// Path returns the file the store reads and writes.
func (s *Store) Path() string { return s.path }

// Read loads the persisted series. A missing file is an empty series.
func (s *Store) Read(ctx context.Context) (*Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load()
}

// Upsert merges one day's values into the file. For an existing date the
// cells of the given codes are replaced and all other cells are kept; a new
// date is inserted in order. Codes without a column get one, left empty on
// earlier rows. The file is rewritten through a temp file and rename, so
// readers see either the old or the new content.
func (s *Store) Upsert(ctx context.Context, date time.Time, values domain.Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, err := s.load()
	if err != nil {
		return err
	}
	series.merge(date, values, s.order)

	// Last chance to abandon the run before the file changes.
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(series)
}

func (s *Store) load() (*Series, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Series{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", s.kind, err)
	}
	defer f.Close()

	series, err := decode(f, s.path)
	if err != nil {
		return nil, err
	}
	return series, nil
}

func (s *Store) write(series *Series) error {
	var buf bytes.Buffer
	if err := encode(&buf, series); err != nil {
		return fmt.Errorf("encode %s store: %w", s.kind, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", s.kind, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename %s store: %w", s.kind, err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func decode(r io.Reader, path string) (*Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Series{}, nil
	}
	if err != nil {
		return nil, &CorruptError{Path: path, Reason: err.Error()}
	}
	if len(header) == 0 || trimBOM(header[0]) != dateColumn {
		return nil, &CorruptError{Path: path, Line: 1, Reason: "first column must be " + dateColumn}
	}

	series := &Series{Columns: make([]domain.RegionCode, 0, len(header)-1)}
	seen := make(map[domain.RegionCode]bool, len(header))
	for _, h := range header[1:] {
		code := domain.RegionCode(h)
		if h == "" || seen[code] {
			return nil, &CorruptError{Path: path, Line: 1, Reason: fmt.Sprintf("bad column %q", h)}
		}
		seen[code] = true
		series.Columns = append(series.Columns, code)
	}

	firstLine := make(map[time.Time]int)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// csv.ParseError carries its own line number.
			return nil, &CorruptError{Path: path, Reason: err.Error()}
		}
		line, _ := cr.FieldPos(0)
		if len(rec) != len(header) {
			return nil, &CorruptError{Path: path, Line: line,
				Reason: fmt.Sprintf("%d fields, header has %d", len(rec), len(header))}
		}
		date, err := parseDate(rec[0])
		if err != nil {
			return nil, &CorruptError{Path: path, Line: line, Reason: err.Error()}
		}
		if prev, dup := firstLine[date]; dup {
			return nil, &CorruptError{Path: path, Line: line,
				Reason: fmt.Sprintf("duplicate date %s (first on line %d)", rec[0], prev)}
		}
		firstLine[date] = line

		values := make(domain.Values, len(series.Columns))
		for i, cell := range rec[1:] {
			if cell == "" {
				continue
			}
			n, err := parseCell(cell)
			if err != nil {
				return nil, &CorruptError{Path: path, Line: line,
					Reason: fmt.Sprintf("column %s: %v", series.Columns[i], err)}
			}
			values[series.Columns[i]] = n
		}
		series.Records = append(series.Records, Record{Date: date, Values: values})
	}
	slices.SortFunc(series.Records, func(a, b Record) int { return a.Date.Compare(b.Date) })
	return series, nil
}

func encode(w io.Writer, series *Series) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(series.Columns)+1)
	header = append(header, dateColumn)
	for _, c := range series.Columns {
		header = append(header, string(c))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, rec := range series.Records {
		row[0] = domain.FormatDate(rec.Date)
		for i, c := range series.Columns {
			row[i+1] = formatCell(rec.Values, c)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}
