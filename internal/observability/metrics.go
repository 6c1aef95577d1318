package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "covid_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion pipeline.
type Metrics struct {
	Runs              *prometheus.CounterVec // labels: outcome={success,partial,fatal}
	RunDuration       prometheus.Histogram
	FetchDuration     prometheus.Histogram
	LastSuccessfulRun prometheus.Gauge

	// Per-metric processing.
	MetricUpserts         *prometheus.CounterVec // labels: metric, outcome={stored,failed}
	ConsistencyMismatches *prometheus.CounterVec // labels: metric
	ConsistencyDifference *prometheus.GaugeVec   // labels: metric
	RowsIgnored           prometheus.Counter

	// Post-commit notifiers.
	NotifierErrors *prometheus.CounterVec // labels: notifier

	registry *prometheus.Registry
}

func newMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-extract-upsert run.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of the report page download.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LastSuccessfulRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_run_timestamp_seconds",
			Help:      "Unix time of the last run that stored all five metrics.",
		}),
		MetricUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_upserts_total",
			Help:      "Per-metric store updates by outcome.",
		}, []string{"metric", "outcome"}),
		ConsistencyMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_mismatches_total",
			Help:      "Runs where the regional sum differed from the published total.",
		}, []string{"metric"}),
		ConsistencyDifference: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consistency_difference",
			Help:      "Published total minus regional sum in the last run.",
		}, []string{"metric"}),
		RowsIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_ignored_total",
			Help:      "Table rows that matched no known metric.",
		}),
		NotifierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_errors_total",
			Help:      "Post-commit notifier failures.",
		}, []string{"notifier"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Runs,
		m.RunDuration,
		m.FetchDuration,
		m.LastSuccessfulRun,
		m.MetricUpserts,
		m.ConsistencyMismatches,
		m.ConsistencyDifference,
		m.RowsIgnored,
		m.NotifierErrors,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

// Gatherer returns the registry the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	return prometheus.DefaultGatherer
}
