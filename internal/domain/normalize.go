package domain

import (
	"fmt"
	"time"
)

// Pair is one (label, cell text) entry of a metric row, matched positionally.
type Pair struct {
	Label RawLabel
	Raw   string
}

// Normalize resolves labels and parses values into a MetricRow.
//
// Every catalog code starts out absent. A state or aggregate label sets its
// code once; reporting the same state twice is an error. District labels
// add into their parent state, unless the state column itself was reported,
// in which case the state figure wins. Absent markers leave the code absent.
// The first unknown label or malformed value aborts normalization.
func Normalize(kind MetricKind, date time.Time, pairs []Pair, cat *Catalog) (MetricRow, error) {
	row := MetricRow{Kind: kind, Date: date, Values: make(Values, len(cat.codes))}
	direct := make(map[RegionCode]bool, len(cat.codes))
	districts := make(Values)

	for _, p := range pairs {
		code, kindOfLabel, err := cat.lookup(p.Label)
		if err != nil {
			return MetricRow{}, err
		}
		if IsAbsentMarker(p.Raw) {
			continue
		}
		n, err := ParseValue(p.Raw)
		if err != nil {
			return MetricRow{}, fmt.Errorf("%s %s: %w", kind, code, err)
		}

		switch kindOfLabel {
		case LabelState:
			if direct[code] {
				return MetricRow{}, fmt.Errorf("%w: %s reported twice for %s", ErrDuplicateRegion, code, kind)
			}
			direct[code] = true
			row.Values[code] = n
		case LabelDistrict:
			districts[code] += n
		}
	}

	for code, n := range districts {
		if !direct[code] {
			row.Values[code] = n
		}
	}
	return row, nil
}
