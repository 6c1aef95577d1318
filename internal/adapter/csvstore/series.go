package csvstore

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
)

// Record is one dated row of a series.
type Record struct {
	Date   time.Time
	Values domain.Values
}

// Series is the in-memory form of a store file. Records are strictly
// ascending by date.
type Series struct {
	Columns []domain.RegionCode
	Records []Record
}

// All yields every record in ascending date order.
func (s *Series) All() iter.Seq2[time.Time, domain.Values] {
	return func(yield func(time.Time, domain.Values) bool) {
		for _, r := range s.Records {
			if !yield(r.Date, r.Values) {
				return
			}
		}
	}
}

// Len returns the number of dated rows.
func (s *Series) Len() int { return len(s.Records) }

// Last returns the most recent record.
func (s *Series) Last() (Record, bool) {
	if len(s.Records) == 0 {
		return Record{}, false
	}
	return s.Records[len(s.Records)-1], true
}

// Lookup returns the values stored for date.
func (s *Series) Lookup(date time.Time) (domain.Values, bool) {
	i, ok := s.search(date)
	if !ok {
		return nil, false
	}
	return s.Records[i].Values, true
}

func (s *Series) search(date time.Time) (int, bool) {
	return slices.BinarySearchFunc(s.Records, date, func(r Record, d time.Time) int {
		return r.Date.Compare(d)
	})
}

// merge applies an upsert in memory. Only codes present in values are
// touched; an existing row keeps every other cell.
func (s *Series) merge(date time.Time, values domain.Values, order []domain.RegionCode) {
	s.addColumns(values, order)

	i, ok := s.search(date)
	if ok {
		row := s.Records[i].Values
		for code, n := range values {
			row[code] = n
		}
		return
	}
	s.Records = slices.Insert(s.Records, i, Record{Date: date, Values: values.Clone()})
}

// addColumns appends columns for codes the file does not have yet: codes in
// order first, in that order, then any others sorted.
func (s *Series) addColumns(values domain.Values, order []domain.RegionCode) {
	var missing []domain.RegionCode
	for code := range values {
		if !slices.Contains(s.Columns, code) {
			missing = append(missing, code)
		}
	}
	if len(missing) == 0 {
		return
	}
	rank := func(c domain.RegionCode) int {
		if i := slices.Index(order, c); i >= 0 {
			return i
		}
		return len(order)
	}
	slices.SortFunc(missing, func(a, b domain.RegionCode) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(string(a), string(b))
	})
	s.Columns = append(s.Columns, missing...)
}

func parseDate(s string) (time.Time, error) {
	// pandas writes a datetime index without the time part when every
	// timestamp is midnight; older exports kept it.
	s = strings.TrimSuffix(s, " 00:00:00")
	return domain.ParseDate(s)
}

// parseCell reads an integer cell. Files written by pandas after a column
// once held a missing value store floats such as "12.0"; those are accepted
// when integral.
func parseCell(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int64(f), nil
}

func formatCell(v domain.Values, code domain.RegionCode) string {
	n, ok := v[code]
	if !ok {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
