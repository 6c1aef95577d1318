package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/couchcryptid/covid-at-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrMetricRowMissing means the table had no row for a metric.
	ErrMetricRowMissing = errors.New("metric row missing")

	// ErrNoValues means every cell of a metric row was an absent marker.
	ErrNoValues = errors.New("metric row has no values")

	// ErrNoStore means the pipeline was built without a store for a metric.
	ErrNoStore = errors.New("no store configured")
)

// Fetcher retrieves the report page.
type Fetcher interface {
	Fetch(ctx context.Context) (domain.Document, error)
}

// Extractor turns a fetched page into raw metric rows.
type Extractor interface {
	Extract(doc domain.Document) (*domain.Extraction, error)
}

// Store is the time series of one metric.
type Store interface {
	Kind() domain.MetricKind
	Upsert(ctx context.Context, date time.Time, values domain.Values) error
}

// Notifier is told about every run that reached the per-metric stage.
// Notifier errors never change the outcome of a run.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, rep *Report) error
}

// FailureRecorder is implemented by notifiers that also keep fatal runs.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, runID string, at time.Time, cause error) error
}

// Options tunes a Pipeline.
type Options struct {
	// Parallelism bounds the number of metric branches running at once.
	Parallelism int
	Clock       clockwork.Clock
}

// Pipeline runs one fetch-extract-upsert cycle per RunOnce call.
type Pipeline struct {
	fetcher     Fetcher
	extractor   Extractor
	stores      map[domain.MetricKind]Store
	catalog     *domain.Catalog
	notifiers   []Notifier
	logger      *slog.Logger
	metrics     *observability.Metrics
	parallelism int
	clock       clockwork.Clock
}

// New creates a Pipeline. Each metric kind needs exactly one store.
func New(f Fetcher, e Extractor, stores []Store, catalog *domain.Catalog, notifiers []Notifier,
	logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	byKind := make(map[domain.MetricKind]Store, len(stores))
	for _, s := range stores {
		byKind[s.Kind()] = s
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = len(domain.AllMetrics())
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		fetcher:     f,
		extractor:   e,
		stores:      byKind,
		catalog:     catalog,
		notifiers:   notifiers,
		logger:      logger,
		metrics:     metrics,
		parallelism: opts.Parallelism,
		clock:       opts.Clock,
	}
}

// RunOnce fetches the report and merges each metric into its store.
//
// A fetch or extraction failure is returned as an error and no store is
// touched. Otherwise the metrics are processed independently: a failure in
// one is recorded in its MetricResult and does not stop the others. The
// returned error is nil whenever a Report is returned.
func (p *Pipeline) RunOnce(ctx context.Context) (*Report, error) {
	start := p.clock.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	logger.Info("run started")

	rep, err := p.run(ctx, runID, start, logger)
	duration := p.clock.Since(start)
	p.metrics.RunDuration.Observe(duration.Seconds())

	if err != nil {
		p.metrics.Runs.WithLabelValues(OutcomeFatal).Inc()
		logger.Error("run failed", "error", err, "duration", duration)
		p.recordFailure(ctx, runID, start, err, logger)
		return nil, err
	}

	outcome := rep.Outcome()
	p.metrics.Runs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		p.metrics.LastSuccessfulRun.Set(float64(rep.FinishedAt.Unix()))
	}
	logger.Info("run finished",
		"outcome", outcome,
		"date", domain.FormatDate(rep.ReportDate),
		"stored", len(rep.Stored()),
		"failed", len(rep.Failed()),
		"duration", duration,
	)

	p.notify(ctx, rep, logger)
	return rep, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, start time.Time, logger *slog.Logger) (*Report, error) {
	fetchStart := p.clock.Now()
	doc, err := p.fetcher.Fetch(ctx)
	p.metrics.FetchDuration.Observe(p.clock.Since(fetchStart).Seconds())
	if err != nil {
		return nil, err
	}

	ex, err := p.extractor.Extract(doc)
	if err != nil {
		return nil, fmt.Errorf("extract report: %w", err)
	}
	if len(ex.Ignored) > 0 {
		p.metrics.RowsIgnored.Add(float64(len(ex.Ignored)))
	}
	logger.Info("report extracted",
		"date", domain.FormatDate(ex.ReportDate),
		"rows", len(ex.Metrics),
		"labels_from_header", ex.LabelsFromHeader,
		"hash", doc.ContentHash,
	)

	rep := &Report{
		RunID:       runID,
		StartedAt:   start,
		SourceURL:   doc.URL,
		FetchedAt:   doc.FetchedAt,
		ContentHash: doc.ContentHash,
		ReportDate:  ex.ReportDate,
		Metrics:     make([]MetricResult, len(domain.AllMetrics())),
		Ignored:     ex.Ignored,
	}

	// Each branch writes only its own slot and never returns an error, so
	// one failing metric cannot cancel the others.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, kind := range domain.AllMetrics() {
		g.Go(func() error {
			rep.Metrics[i] = p.processMetric(gctx, ex, kind, logger)
			return nil
		})
	}
	_ = g.Wait()

	rep.FinishedAt = p.clock.Now()
	return rep, nil
}

func (p *Pipeline) processMetric(ctx context.Context, ex *domain.Extraction, kind domain.MetricKind, logger *slog.Logger) MetricResult {
	res := MetricResult{Kind: kind}
	logger = logger.With("metric", kind.String())

	fail := func(err error) MetricResult {
		res.Err = err
		p.metrics.MetricUpserts.WithLabelValues(kind.String(), "failed").Inc()
		logger.Error("metric not stored", "error", err)
		return res
	}

	cells, ok := ex.Row(kind)
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrMetricRowMissing, kind))
	}
	pairs, err := cells.Pairs()
	if err != nil {
		return fail(err)
	}
	row, err := domain.Normalize(kind, ex.ReportDate, pairs, p.catalog)
	if err != nil {
		return fail(err)
	}
	if len(row.Values) == 0 {
		return fail(fmt.Errorf("%w: %s", ErrNoValues, kind))
	}
	res.Values = row.Values

	res.Consistency = domain.Check(row, p.catalog)
	p.metrics.ConsistencyDifference.WithLabelValues(kind.String()).Set(float64(res.Consistency.Difference()))
	if !res.Consistency.OK {
		p.metrics.ConsistencyMismatches.WithLabelValues(kind.String()).Inc()
		logger.Warn("regional sum differs from published total",
			"date", domain.FormatDate(row.Date),
			"expected", res.Consistency.Expected,
			"actual", res.Consistency.Actual,
			"aggregate_reported", res.Consistency.AggregateReported,
		)
	}

	store, ok := p.stores[kind]
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrNoStore, kind))
	}
	if err := store.Upsert(ctx, row.Date, row.Values); err != nil {
		return fail(fmt.Errorf("upsert %s: %w", kind, err))
	}

	res.Stored = true
	p.metrics.MetricUpserts.WithLabelValues(kind.String(), "stored").Inc()
	logger.Debug("metric stored", "date", domain.FormatDate(row.Date), "regions", len(row.Values))
	return res
}

func (p *Pipeline) notify(ctx context.Context, rep *Report, logger *slog.Logger) {
	for _, n := range p.notifiers {
		if err := n.Notify(ctx, rep); err != nil {
			p.metrics.NotifierErrors.WithLabelValues(n.Name()).Inc()
			logger.Warn("notifier failed", "notifier", n.Name(), "error", err)
		}
	}
}

func (p *Pipeline) recordFailure(ctx context.Context, runID string, at time.Time, cause error, logger *slog.Logger) {
	for _, n := range p.notifiers {
		fr, ok := n.(FailureRecorder)
		if !ok {
			continue
		}
		if err := fr.RecordFailure(ctx, runID, at, cause); err != nil {
			p.metrics.NotifierErrors.WithLabelValues(n.Name()).Inc()
			logger.Warn("recording failed run", "notifier", n.Name(), "error", err)
		}
	}
}
