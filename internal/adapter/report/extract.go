package report

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrTableNotFound means the page no longer carries the marked table.
	ErrTableNotFound = errors.New("report table not found")

	// ErrReportDateMissing means no "(Stand dd.mm.yyyy ...)" fragment was found.
	ErrReportDateMissing = errors.New("report date not found")

	// ErrRowClassification marks rows that cannot be mapped to exactly one metric.
	ErrRowClassification = errors.New("row classification")
)

// RowClassificationError reports a row header that broke classification.
type RowClassificationError struct {
	Header string
	Reason string
}

func (e *RowClassificationError) Error() string {
	if e.Header == "" {
		return fmt.Sprintf("%s: %s", ErrRowClassification, e.Reason)
	}
	return fmt.Sprintf("%s: %q: %s", ErrRowClassification, e.Header, e.Reason)
}

func (e *RowClassificationError) Unwrap() error { return ErrRowClassification }

// Options configures an Extractor.
type Options struct {
	// TableClass is the class of the container wrapping the data table.
	TableClass string
	// Strict turns unrecognized rows into a RowClassificationError.
	Strict bool
}

// Extractor locates the report table and splits it into metric rows.
// It implements pipeline.Extractor.
type Extractor struct {
	opts    Options
	catalog *domain.Catalog
	logger  *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(opts Options, catalog *domain.Catalog, logger *slog.Logger) *Extractor {
	return &Extractor{opts: opts, catalog: catalog, logger: logger}
}

// Extract parses the document and returns the five metric rows and the
// report date. Structural problems are returned as errors; per-row label
// and value problems are left to the caller.
func (e *Extractor) Extract(doc domain.Document) (*domain.Extraction, error) {
	root, err := html.Parse(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("parse report html: %w", err)
	}

	table, err := e.locateTable(root)
	if err != nil {
		return nil, err
	}
	head, body := tableRows(table)

	out := &domain.Extraction{
		Labels:  e.catalog.ExpectedLabels(),
		Metrics: make(map[domain.MetricKind]domain.MetricCells, len(domain.AllMetrics())),
	}
	var dateSources []string
	if caption := findElement(table, atom.Caption); caption != nil {
		dateSources = append(dateSources, text(caption))
	}

	// The last thead row, or a leading all-th row that is not itself a
	// metric, provides the column labels.
	var headerRow []*html.Node
	if len(head) > 0 {
		headerRow = cells(head[len(head)-1])
	} else if len(body) > 0 {
		first := cells(body[0])
		if allHeaderCells(first) {
			if _, isMetric := domain.ClassifyMetric(text(first[0])); !isMetric {
				headerRow = first
				body = body[1:]
			}
		}
	}
	if len(headerRow) > 1 {
		out.Labels = out.Labels[:0]
		for _, c := range headerRow[1:] {
			out.Labels = append(out.Labels, domain.RawLabel(text(c)))
		}
		out.LabelsFromHeader = true
		dateSources = append(dateSources, text(headerRow[0]))
	}

	for _, tr := range body {
		cs := cells(tr)
		if len(cs) == 0 {
			continue
		}
		header := text(cs[0])
		if header == "" {
			continue
		}
		kind, ok := domain.ClassifyMetric(header)
		if !ok {
			if e.opts.Strict {
				return nil, &RowClassificationError{Header: header, Reason: "matches no known metric"}
			}
			e.logger.Warn("ignoring unrecognized report row", "header", header)
			out.Ignored = append(out.Ignored, header)
			continue
		}
		if prev, dup := out.Metrics[kind]; dup {
			return nil, &RowClassificationError{
				Header: header,
				Reason: fmt.Sprintf("second row for %s (first: %q)", kind, prev.Header),
			}
		}
		values := make([]string, 0, len(cs)-1)
		for _, c := range cs[1:] {
			values = append(values, text(c))
		}
		out.Metrics[kind] = domain.MetricCells{
			Kind:   kind,
			Header: header,
			Labels: slices.Clone(out.Labels),
			Cells:  values,
		}
		dateSources = append(dateSources, header)
	}

	if len(out.Metrics) == 0 {
		return nil, &RowClassificationError{Reason: "table contains no metric rows"}
	}

	date, err := e.reportDate(dateSources)
	if err != nil {
		return nil, err
	}
	out.ReportDate = date
	return out, nil
}

// locateTable finds the marker container and the table inside it.
func (e *Extractor) locateTable(root *html.Node) (*html.Node, error) {
	marker := findByClass(root, e.opts.TableClass)
	if marker == nil {
		return nil, fmt.Errorf("%w: no element with class %q", ErrTableNotFound, e.opts.TableClass)
	}
	table := findElement(marker, atom.Table)
	if table == nil {
		return nil, fmt.Errorf("%w: %q container has no table", ErrTableNotFound, e.opts.TableClass)
	}
	return table, nil
}

// reportDate takes the first date found and logs any source disagreeing with it.
func (e *Extractor) reportDate(sources []string) (time.Time, error) {
	var date time.Time
	found := false
	for _, s := range sources {
		d, ok := domain.FindReportDate(s)
		if !ok {
			continue
		}
		if !found {
			date, found = d, true
			continue
		}
		if !d.Equal(date) {
			e.logger.Warn("report rows carry different dates",
				"date", domain.FormatDate(date), "other", domain.FormatDate(d), "text", s)
		}
	}
	if !found {
		return time.Time{}, ErrReportDateMissing
	}
	return date, nil
}
