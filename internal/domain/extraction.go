package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrCellCount means a metric row and its label list differ in length.
var ErrCellCount = errors.New("cell count mismatch")

// CellCountError is returned by MetricCells.Pairs.
type CellCountError struct {
	Kind   MetricKind
	Labels int
	Cells  int
}

func (e *CellCountError) Error() string {
	return fmt.Sprintf("%s: %s row has %d cells for %d labels", ErrCellCount, e.Kind, e.Cells, e.Labels)
}

func (e *CellCountError) Unwrap() error { return ErrCellCount }

// MetricCells is the raw content of one classified metric row together with
// the column labels its cells belong to.
type MetricCells struct {
	Kind   MetricKind
	Header string
	Labels []RawLabel
	Cells  []string
}

// Pairs matches the row's cells positionally against its labels. A row that
// is shorter or longer than the label list is rejected rather than truncated,
// because a dropped column shifts every following value onto the wrong region.
func (m MetricCells) Pairs() ([]Pair, error) {
	if len(m.Cells) != len(m.Labels) {
		return nil, &CellCountError{Kind: m.Kind, Labels: len(m.Labels), Cells: len(m.Cells)}
	}
	pairs := make([]Pair, len(m.Labels))
	for i, l := range m.Labels {
		pairs[i] = Pair{Label: l, Raw: m.Cells[i]}
	}
	return pairs, nil
}

// Extraction is everything read from one report. It is built fully in memory
// before any store is touched.
type Extraction struct {
	ReportDate time.Time
	// Labels are the table's column labels. Every metric row starts from a
	// copy of them; they come from the table header when one exists,
	// otherwise from the catalog.
	Labels           []RawLabel
	LabelsFromHeader bool
	Metrics          map[MetricKind]MetricCells
	// Ignored holds headers of rows that matched no metric.
	Ignored []string
}

// Row returns the cells for kind with Labels defaulted to the table labels
// when the row carries none of its own.
func (x *Extraction) Row(kind MetricKind) (MetricCells, bool) {
	cells, ok := x.Metrics[kind]
	if !ok {
		return MetricCells{}, false
	}
	if cells.Labels == nil {
		cells.Labels = slices.Clone(x.Labels)
	}
	return cells, true
}
