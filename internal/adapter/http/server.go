package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/runlog"
	"github.com/couchcryptid/covid-at-etl/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SeriesSource is a readable time-series store.
type SeriesSource interface {
	Kind() domain.MetricKind
	Read(ctx context.Context) (*csvstore.Series, error)
}

// RunHistory lists past ingestion runs.
type RunHistory interface {
	Recent(ctx context.Context, limit int) ([]runlog.Run, error)
	Run(ctx context.Context, runID string) (runlog.Run, bool, error)
	LastSuccess(ctx context.Context) (runlog.Run, bool, error)
	Metrics(ctx context.Context, runID string) ([]runlog.MetricOutcome, error)
}

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// Server exposes health, readiness, metrics and read-only series endpoints.
type Server struct {
	httpServer *http.Server
	sources    map[domain.MetricKind]SeriesSource
	runs       RunHistory
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 series routes. runs may be nil, in which case the /api/v1/runs
// routes are not served.
func NewServer(addr string, ready sharedobs.ReadinessChecker, sources []SeriesSource, runs RunHistory, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		sources: make(map[domain.MetricKind]SeriesSource, len(sources)),
		runs:    runs,
		logger:  logger,
	}
	for _, src := range sources {
		s.sources[src.Kind()] = src
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/series", s.handleListSeries)
	mux.HandleFunc("GET /api/v1/series/{metric}", s.handleSeries)
	if runs != nil {
		mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
		mux.HandleFunc("GET /api/v1/runs/last-success", s.handleLastSuccess)
		mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRun)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type seriesSummary struct {
	Metric   string              `json:"metric"`
	File     string              `json:"file"`
	Columns  []domain.RegionCode `json:"columns"`
	Rows     int                 `json:"rows"`
	LastDate string              `json:"last_date,omitempty"`
}

type seriesRow struct {
	Date   string        `json:"date"`
	Values domain.Values `json:"values"`
}

type seriesResponse struct {
	Metric  string              `json:"metric"`
	Columns []domain.RegionCode `json:"columns"`
	Rows    []seriesRow         `json:"rows"`
}

type runResponse struct {
	RunID       string     `json:"run_id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Outcome     string     `json:"outcome"`
	ReportDate  string     `json:"report_date,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	IgnoredRows int        `json:"ignored_rows"`
	Error       string     `json:"error,omitempty"`
}

type metricOutcomeResponse struct {
	Metric     string `json:"metric"`
	Stored     bool   `json:"stored"`
	Consistent bool   `json:"consistent"`
	Expected   int64  `json:"expected"`
	Actual     int64  `json:"actual"`
	Error      string `json:"error,omitempty"`
}

type runDetailResponse struct {
	runResponse
	Metrics []metricOutcomeResponse `json:"metrics"`
}

func toRunResponse(run runlog.Run) runResponse {
	rr := runResponse{
		RunID:       run.RunID,
		StartedAt:   run.StartedAt,
		Outcome:     run.Outcome,
		ReportDate:  run.ReportDate,
		ContentHash: run.ContentHash,
		IgnoredRows: run.IgnoredRows,
		Error:       run.Error,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		rr.FinishedAt = &finished
	}
	return rr
}

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	out := make([]seriesSummary, 0, len(s.sources))
	for _, kind := range domain.AllMetrics() {
		src, ok := s.sources[kind]
		if !ok {
			continue
		}
		series, err := src.Read(r.Context())
		if err != nil {
			s.readFailed(w, kind, err)
			return
		}
		sum := seriesSummary{
			Metric:  kind.String(),
			File:    kind.FileName(),
			Columns: nonNil(series.Columns),
			Rows:    series.Len(),
		}
		if last, ok := series.Last(); ok {
			sum.LastDate = domain.FormatDate(last.Date)
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSeries serves one metric. Optional from/to query parameters bound
// the dates inclusively.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	kind, ok := domain.ParseMetric(r.PathValue("metric"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown metric %q", r.PathValue("metric")))
		return
	}
	src, ok := s.sources[kind]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("metric %q not served", kind))
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	series, err := src.Read(r.Context())
	if err != nil {
		s.readFailed(w, kind, err)
		return
	}

	resp := seriesResponse{
		Metric:  kind.String(),
		Columns: nonNil(series.Columns),
		Rows:    make([]seriesRow, 0, series.Len()),
	}
	for date, values := range series.All() {
		if (!from.IsZero() && date.Before(from)) || (!to.IsZero() && date.After(to)) {
			continue
		}
		resp.Rows = append(resp.Rows, seriesRow{Date: domain.FormatDate(date), Values: values})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunLimit))
			return
		}
		limit = n
	}

	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		s.historyFailed(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRun serves one run with its per-metric outcomes.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok, err := s.runs.Run(r.Context(), id)
	if err != nil {
		s.historyFailed(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown run %q", id))
		return
	}
	s.writeRunDetail(w, r, run)
}

// handleLastSuccess serves the newest run that stored every metric.
func (s *Server) handleLastSuccess(w http.ResponseWriter, r *http.Request) {
	run, ok, err := s.runs.LastSuccess(r.Context())
	if err != nil {
		s.historyFailed(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no successful run recorded")
		return
	}
	s.writeRunDetail(w, r, run)
}

func (s *Server) writeRunDetail(w http.ResponseWriter, r *http.Request, run runlog.Run) {
	metrics, err := s.runs.Metrics(r.Context(), run.RunID)
	if err != nil {
		s.historyFailed(w, err)
		return
	}
	resp := runDetailResponse{
		runResponse: toRunResponse(run),
		Metrics:     make([]metricOutcomeResponse, 0, len(metrics)),
	}
	for _, m := range metrics {
		resp.Metrics = append(resp.Metrics, metricOutcomeResponse{
			Metric:     m.Metric,
			Stored:     m.Stored,
			Consistent: m.Consistent,
			Expected:   m.Expected,
			Actual:     m.Actual,
			Error:      m.Error,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) historyFailed(w http.ResponseWriter, err error) {
	s.logger.Error("read run history", "error", err)
	writeError(w, http.StatusInternalServerError, "run history unavailable")
}

func (s *Server) readFailed(w http.ResponseWriter, kind domain.MetricKind, err error) {
	s.logger.Error("read store", "metric", kind.String(), "error", err)
	msg := "store unavailable"
	if errors.Is(err, csvstore.ErrCorruptStore) {
		msg = "store corrupt"
	}
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %s", kind, msg))
}

func parseRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = domain.ParseDate(v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = domain.ParseDate(v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to is before from")
	}
	return from, to, nil
}

// StoreReadiness is ready once every store file parses.
type StoreReadiness struct {
	sources []SeriesSource
}

// NewStoreReadiness creates a readiness check over the given stores.
func NewStoreReadiness(sources []SeriesSource) *StoreReadiness {
	return &StoreReadiness{sources: sources}
}

// CheckReadiness reads every store and reports the first failure.
func (c *StoreReadiness) CheckReadiness(ctx context.Context) error {
	for _, src := range c.sources {
		if _, err := src.Read(ctx); err != nil {
			return fmt.Errorf("%s store: %w", src.Kind(), err)
		}
	}
	return nil
}

// AllReady is ready when every checker is.
type AllReady []sharedobs.ReadinessChecker

// CheckReadiness runs the checkers in order and returns the first failure.
func (a AllReady) CheckReadiness(ctx context.Context) error {
	for _, c := range a {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(cols []domain.RegionCode) []domain.RegionCode {
	if cols == nil {
		return []domain.RegionCode{}
	}
	return cols
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
