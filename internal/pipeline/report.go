package pipeline

import (
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
)

// Run outcomes, also used as the "outcome" label of the runs metric.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFatal   = "fatal"
)

// MetricResult is the outcome of one metric branch.
type MetricResult struct {
	Kind        domain.MetricKind
	Values      domain.Values
	Consistency domain.ConsistencyResult
	Stored      bool
	Err         error
}

// Report summarizes a run that got past fetch and extraction.
type Report struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	SourceURL   string
	FetchedAt   time.Time
	ContentHash string
	ReportDate  time.Time

	// Metrics has one entry per metric kind, in report order.
	Metrics []MetricResult
	// Ignored lists table rows that matched no metric.
	Ignored []string
}

// Failed returns the metrics that were not stored.
func (r *Report) Failed() []domain.MetricKind {
	var out []domain.MetricKind
	for _, m := range r.Metrics {
		if !m.Stored {
			out = append(out, m.Kind)
		}
	}
	return out
}

// Stored returns the results of the metrics that reached their store.
func (r *Report) Stored() []MetricResult {
	var out []MetricResult
	for _, m := range r.Metrics {
		if m.Stored {
			out = append(out, m)
		}
	}
	return out
}

// Outcome is OutcomeSuccess when every metric was stored, else OutcomePartial.
func (r *Report) Outcome() string {
	if len(r.Failed()) == 0 {
		return OutcomeSuccess
	}
	return OutcomePartial
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
