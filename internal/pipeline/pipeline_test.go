package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/report"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/source"
	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/couchcryptid/covid-at-etl/internal/observability"
	"github.com/couchcryptid/covid-at-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeFetcher struct {
	body  []byte
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context) (domain.Document, error) {
	f.calls++
	if f.err != nil {
		return domain.Document{}, f.err
	}
	return domain.Document{URL: "http://ministry.test/report", Body: f.body, ContentHash: "abc123"}, nil
}

type failingStore struct {
	kind domain.MetricKind
}

func (s failingStore) Kind() domain.MetricKind { return s.kind }

func (s failingStore) Upsert(context.Context, time.Time, domain.Values) error {
	return errors.New("disk full")
}

type recordingNotifier struct {
	name string
	err  error

	mu       sync.Mutex
	reports  []*pipeline.Report
	failures []error
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Notify(_ context.Context, rep *pipeline.Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, rep)
	return n.err
}

func (n *recordingNotifier) RecordFailure(_ context.Context, _ string, _ time.Time, cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, cause)
	return nil
}

// relabelExtractor renames one column label of a single metric row after
// the real extraction, leaving the other rows untouched.
type relabelExtractor struct {
	inner pipeline.Extractor
	kind  domain.MetricKind
	index int
	label domain.RawLabel
}

func (e relabelExtractor) Extract(doc domain.Document) (*domain.Extraction, error) {
	ex, err := e.inner.Extract(doc)
	if err != nil {
		return nil, err
	}
	cells := ex.Metrics[e.kind]
	cells.Labels = slices.Clone(cells.Labels)
	cells.Labels[e.index] = e.label
	ex.Metrics[e.kind] = cells
	return ex, nil
}

// --- helpers ---

var start = time.Date(2020, time.April, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	dir      string
	fetcher  *fakeFetcher
	metrics  *observability.Metrics
	notifier *recordingNotifier
	pipeline *pipeline.Pipeline
}

func newHarness(t *testing.T, body []byte, override ...pipeline.Store) *harness {
	t.Helper()
	return newHarnessWith(t, body, nil, override...)
}

// newHarnessWith lets wrap decorate the real extractor.
func newHarnessWith(t *testing.T, body []byte, wrap func(pipeline.Extractor) pipeline.Extractor, override ...pipeline.Store) *harness {
	t.Helper()
	h := &harness{
		dir:      t.TempDir(),
		fetcher:  &fakeFetcher{body: body},
		metrics:  observability.NewMetricsForTesting(),
		notifier: &recordingNotifier{name: "recorder"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stores := make([]pipeline.Store, 0, 5)
	for _, kind := range domain.AllMetrics() {
		var s pipeline.Store = csvstore.New(h.dir, kind, domain.DefaultCatalog.Codes())
		for _, o := range override {
			if o.Kind() == kind {
				s = o
			}
		}
		stores = append(stores, s)
	}

	var ext pipeline.Extractor = report.NewExtractor(report.Options{TableClass: "table-responsive"}, domain.DefaultCatalog, logger)
	if wrap != nil {
		ext = wrap(ext)
	}
	h.pipeline = pipeline.New(h.fetcher, ext, stores, domain.DefaultCatalog,
		[]pipeline.Notifier{h.notifier}, logger, h.metrics,
		pipeline.Options{Parallelism: 5, Clock: clockwork.NewFakeClockAt(start)})
	return h
}

func (h *harness) file(t *testing.T, kind domain.MetricKind) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(h.dir, kind.FileName()))
	require.NoError(t, err)
	return string(b)
}

func fixture(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "adapter", "report", "testdata", "report.html"))
	require.NoError(t, err)
	return b
}

type metricRow struct {
	header string
	cells  []string
}

func page(date string, rows ...metricRow) []byte {
	var b strings.Builder
	b.WriteString(`<html><body><div class="table-responsive"><table><tbody>`)
	for _, r := range rows {
		fmt.Fprintf(&b, "<tr><th>%s (Stand %s)</th>", r.header, date)
		for _, c := range r.cells {
			fmt.Fprintf(&b, "<td>%s</td>", c)
		}
		b.WriteString("</tr>")
	}
	b.WriteString(`</tbody></table></div></body></html>`)
	return []byte(b.String())
}

var consistent = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "45"}

func allRows(cells map[string][]string) []metricRow {
	var rows []metricRow
	for _, kind := range domain.AllMetrics() {
		c, ok := cells[kind.Prefix()]
		if !ok {
			c = consistent
		}
		rows = append(rows, metricRow{header: kind.Prefix(), cells: c})
	}
	return rows
}

// --- tests ---

func TestRunOnce_EndToEndFixture(t *testing.T) {
	h := newHarness(t, fixture(t))

	rep, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeSuccess, rep.Outcome())
	assert.Empty(t, rep.Failed())
	assert.Equal(t, domain.NewDate(2020, 4, 1), rep.ReportDate)
	assert.Equal(t, "abc123", rep.ContentHash)
	assert.NotEmpty(t, rep.RunID)
	assert.Len(t, rep.Ignored, 1)

	assert.Equal(t,
		"Date,B,K,NÖ,OÖ,S,ST,T,V,W,AT\n2020-04-01,156,270,1735,1560,1073,1134,2487,700,1634,10749\n",
		h.file(t, domain.Cases))
	assert.Equal(t,
		"Date,B,K,NÖ,OÖ,S,ST,T,V,W,AT\n2020-04-01,25,73,131,309,151,87,345,131,324,1576\n",
		h.file(t, domain.Recovered))

	for _, m := range rep.Metrics {
		assert.True(t, m.Consistency.OK, m.Kind)
		assert.NoError(t, m.Err, m.Kind)
	}

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Runs.WithLabelValues(pipeline.OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.RowsIgnored), 0)
	assert.InDelta(t, float64(start.Unix()), testutil.ToFloat64(h.metrics.LastSuccessfulRun), 0)
	require.Len(t, h.notifier.reports, 1)
	assert.Same(t, rep, h.notifier.reports[0])
}

func TestRunOnce_Idempotent(t *testing.T) {
	h := newHarness(t, fixture(t))
	ctx := context.Background()

	_, err := h.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	first := make(map[domain.MetricKind]string)
	for _, kind := range domain.AllMetrics() {
		first[kind] = h.file(t, kind)
	}

	_, err = h.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	for _, kind := range domain.AllMetrics() {
		assert.Equal(t, first[kind], h.file(t, kind), kind)
	}
}

func TestRunOnce_ReplacesSameDay(t *testing.T) {
	h := newHarness(t, page("01.04.2020", allRows(nil)...))
	_, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	h.fetcher.body = page("01.04.2020", allRows(map[string][]string{
		"Todesfälle": {"1", "2", "3", "4", "5", "6", "7", "8", "10", "46"},
	})...)
	_, err = h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Date,B,K,NÖ,OÖ,S,ST,T,V,W,AT\n2020-04-01,1,2,3,4,5,6,7,8,10,46\n",
		h.file(t, domain.Fatalities))
}

func TestRunOnce_ConsistencyMismatchStillStored(t *testing.T) {
	h := newHarness(t, page("01.04.2020", allRows(map[string][]string{
		"Bestätigte Fälle": {"10", "10", "10", "10", "10", "10", "10", "10", "20", "105"},
	})...))

	rep, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeSuccess, rep.Outcome())

	cases := rep.Metrics[0]
	require.Equal(t, domain.Cases, cases.Kind)
	assert.True(t, cases.Stored)
	want := domain.ConsistencyResult{OK: false, Expected: 105, Actual: 100, AggregateReported: true}
	if diff := cmp.Diff(want, cases.Consistency); diff != "" {
		t.Errorf("consistency mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, h.file(t, domain.Cases), ",20,105\n")

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ConsistencyMismatches.WithLabelValues("cases")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(h.metrics.ConsistencyDifference.WithLabelValues("cases")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.ConsistencyMismatches.WithLabelValues("icu")), 0)
}

func TestRunOnce_MetricIsolation(t *testing.T) {
	h := newHarness(t, page("01.04.2020", allRows(nil)...), failingStore{kind: domain.Hospitalized})

	rep, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomePartial, rep.Outcome())
	assert.Equal(t, []domain.MetricKind{domain.Hospitalized}, rep.Failed())
	assert.Len(t, rep.Stored(), 4)
	assert.ErrorContains(t, rep.Metrics[2].Err, "disk full")

	for _, kind := range []domain.MetricKind{domain.Cases, domain.Fatalities, domain.IntensiveCare, domain.Recovered} {
		assert.Contains(t, h.file(t, kind), "2020-04-01,1,2,3,4,5,6,7,8,9,45", kind)
	}
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Runs.WithLabelValues(pipeline.OutcomePartial)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.MetricUpserts.WithLabelValues("hospitalized", "failed")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.LastSuccessfulRun), 0)
}

func TestRunOnce_MetricScopedErrors(t *testing.T) {
	tests := []struct {
		name    string
		cells   map[string][]string
		relabel domain.RawLabel
		failing domain.MetricKind
		wantErr error
	}{
		{
			name:    "malformed value",
			cells:   map[string][]string{"Intensivstation": {"1", "2", "3", "4", "5", "6", "7", "8", "9", "4,5"}},
			failing: domain.IntensiveCare,
			wantErr: domain.ErrMalformedValue,
		},
		{
			name:    "cell count",
			cells:   map[string][]string{"Genesen": {"1", "2", "3"}},
			failing: domain.Recovered,
			wantErr: domain.ErrCellCount,
		},
		{
			name:    "unknown label",
			relabel: "Wien-Neu",
			failing: domain.IntensiveCare,
			wantErr: domain.ErrUnknownRegion,
		},
		{
			name:    "all absent",
			cells:   map[string][]string{"Todesfälle": {"-", "-", "-", "-", "-", "-", "-", "-", "-", "-"}},
			failing: domain.Fatalities,
			wantErr: pipeline.ErrNoValues,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var wrap func(pipeline.Extractor) pipeline.Extractor
			if tt.relabel != "" {
				wrap = func(inner pipeline.Extractor) pipeline.Extractor {
					return relabelExtractor{inner: inner, kind: tt.failing, index: 8, label: tt.relabel}
				}
			}
			h := newHarnessWith(t, page("01.04.2020", allRows(tt.cells)...), wrap)

			rep, err := h.pipeline.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, pipeline.OutcomePartial, rep.Outcome())
			assert.Equal(t, []domain.MetricKind{tt.failing}, rep.Failed())
			assert.ErrorIs(t, rep.Metrics[tt.failing].Err, tt.wantErr)

			_, statErr := os.Stat(filepath.Join(h.dir, tt.failing.FileName()))
			assert.True(t, errors.Is(statErr, os.ErrNotExist))

			for _, kind := range domain.AllMetrics() {
				if kind == tt.failing {
					continue
				}
				assert.Contains(t, h.file(t, kind), "2020-04-01,", kind)
			}
		})
	}
}

func TestRunOnce_MetricRowMissing(t *testing.T) {
	rows := allRows(nil)[:4] // no Genesen row
	h := newHarness(t, page("01.04.2020", rows...))

	rep, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.MetricKind{domain.Recovered}, rep.Failed())
	assert.ErrorIs(t, rep.Metrics[4].Err, pipeline.ErrMetricRowMissing)
}

func TestRunOnce_FetchFailureTouchesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.err = &source.FetchError{URL: "http://ministry.test/report", Status: 503}

	rep, err := h.pipeline.RunOnce(context.Background())
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, source.ErrFetch)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Empty(t, h.notifier.reports)
	require.Len(t, h.notifier.failures, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Runs.WithLabelValues(pipeline.OutcomeFatal)), 0)
}

func TestRunOnce_ExtractFailureIsFatal(t *testing.T) {
	tests := map[string]struct {
		body    []byte
		wantErr error
	}{
		"no table":   {body: []byte(`<html><body><p>Wartungsarbeiten</p></body></html>`), wantErr: report.ErrTableNotFound},
		"no date":    {body: []byte(`<html><body><div class="table-responsive"><table><tr><th>Genesen</th><td>1</td></tr></table></div></body></html>`), wantErr: report.ErrReportDateMissing},
		"no metrics": {body: page("01.04.2020", metricRow{header: "Testungen", cells: []string{"5"}}), wantErr: report.ErrRowClassification},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, tt.body)

			_, err := h.pipeline.RunOnce(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)

			entries, readErr := os.ReadDir(h.dir)
			require.NoError(t, readErr)
			assert.Empty(t, entries)
		})
	}
}

func TestRunOnce_NotifierErrorDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t, page("01.04.2020", allRows(nil)...))
	h.notifier.err = errors.New("broker unavailable")

	rep, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeSuccess, rep.Outcome())
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.NotifierErrors.WithLabelValues("recorder")), 0)
}

func TestRunOnce_SequentialParallelism(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var stores []pipeline.Store
	for _, kind := range domain.AllMetrics() {
		stores = append(stores, csvstore.New(dir, kind, domain.DefaultCatalog.Codes()))
	}
	p := pipeline.New(&fakeFetcher{body: page("02.04.2020", allRows(nil)...)},
		report.NewExtractor(report.Options{TableClass: "table-responsive"}, domain.DefaultCatalog, logger),
		stores, domain.DefaultCatalog, nil, logger, observability.NewMetricsForTesting(),
		pipeline.Options{Parallelism: 1})

	rep, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Stored(), 5)
	assert.Equal(t, domain.NewDate(2020, 4, 2), rep.ReportDate)
}
