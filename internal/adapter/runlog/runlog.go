// Package runlog keeps the history of ingestion runs in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/couchcryptid/covid-at-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id        TEXT PRIMARY KEY,
    started_at    TEXT NOT NULL,
    finished_at   TEXT,
    outcome       TEXT NOT NULL,
    report_date   TEXT,
    source_url    TEXT,
    content_hash  TEXT,
    ignored_rows  INTEGER NOT NULL DEFAULT 0,
    error         TEXT,
    recorded_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS run_metrics (
    run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    metric       TEXT NOT NULL,
    stored       INTEGER NOT NULL,
    consistent   INTEGER NOT NULL,
    expected     INTEGER,
    actual       INTEGER,
    error        TEXT,
    PRIMARY KEY (run_id, metric)
);
`

// timeLayout is fixed-width so that the TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one row of the runs table.
type Run struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     string
	ReportDate  string
	ContentHash string
	IgnoredRows int
	Error       string
}

// MetricOutcome is one row of the run_metrics table.
type MetricOutcome struct {
	Metric     string
	Stored     bool
	Consistent bool
	Expected   int64
	Actual     int64
	Error      string
}

// Log records runs. It implements pipeline.Notifier and
// pipeline.FailureRecorder.
type Log struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (or creates) the run log at path.
func Open(path string, clock clockwork.Clock) (*Log, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir run log: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run log: %w", err)
	}
	return &Log{db: db, clock: clock}, nil
}

// Close closes the database.
func (l *Log) Close() error { return l.db.Close() }

func (l *Log) Name() string { return "runlog" }

// CheckReadiness pings the database.
func (l *Log) CheckReadiness(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("run log: %w", err)
	}
	return nil
}

// Notify stores the run and the outcome of each metric in one transaction.
func (l *Log) Notify(ctx context.Context, rep *pipeline.Report) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run log tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, outcome, report_date, source_url,
		                  content_hash, ignored_rows, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, formatTime(rep.StartedAt), formatTime(rep.FinishedAt), rep.Outcome(),
		domain.FormatDate(rep.ReportDate), rep.SourceURL, rep.ContentHash, len(rep.Ignored),
		formatTime(l.clock.Now()))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rep.RunID, err)
	}

	for _, m := range rep.Metrics {
		var errText sql.NullString
		if m.Err != nil {
			errText = sql.NullString{String: m.Err.Error(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_metrics (run_id, metric, stored, consistent, expected, actual, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rep.RunID, m.Kind.String(), m.Stored, m.Consistency.OK,
			m.Consistency.Expected, m.Consistency.Actual, errText)
		if err != nil {
			return fmt.Errorf("insert %s outcome: %w", m.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", rep.RunID, err)
	}
	return nil
}

// RecordFailure stores a run that stopped before any metric was processed.
func (l *Log) RecordFailure(ctx context.Context, runID string, at time.Time, cause error) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, outcome, error, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, formatTime(at), pipeline.OutcomeFatal, cause.Error(), formatTime(l.clock.Now()))
	if err != nil {
		return fmt.Errorf("insert failed run %s: %w", runID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, outcome, report_date, content_hash, ignored_rows, error
		FROM runs ORDER BY started_at DESC, recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run looks up a single run. ok is false when the id is unknown.
func (l *Log) Run(ctx context.Context, runID string) (run Run, ok bool, err error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, outcome, report_date, content_hash, ignored_rows, error
		FROM runs WHERE run_id = ?`, runID)
	return scanOne(row)
}

// LastSuccess returns the most recent run that stored every metric.
// ok is false when there is none.
func (l *Log) LastSuccess(ctx context.Context) (run Run, ok bool, err error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, outcome, report_date, content_hash, ignored_rows, error
		FROM runs WHERE outcome = ? ORDER BY started_at DESC, recorded_at DESC LIMIT 1`, pipeline.OutcomeSuccess)
	return scanOne(row)
}

// Metrics returns the per-metric outcomes of a run in report order.
func (l *Log) Metrics(ctx context.Context, runID string) ([]MetricOutcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT metric, stored, consistent, expected, actual, error
		FROM run_metrics WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run metrics: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]MetricOutcome)
	for rows.Next() {
		var (
			m       MetricOutcome
			errText sql.NullString
		)
		if err := rows.Scan(&m.Metric, &m.Stored, &m.Consistent, &m.Expected, &m.Actual, &errText); err != nil {
			return nil, fmt.Errorf("scan run metric: %w", err)
		}
		m.Error = errText.String
		byName[m.Metric] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]MetricOutcome, 0, len(byName))
	for _, kind := range domain.AllMetrics() {
		if m, ok := byName[kind.String()]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(s scanner) (Run, bool, error) {
	run, err := scanRun(s)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func scanRun(s scanner) (Run, error) {
	var (
		r                    Run
		started              string
		finished, date, hash sql.NullString
		errText              sql.NullString
	)
	if err := s.Scan(&r.RunID, &started, &finished, &r.Outcome, &date, &hash, &r.IgnoredRows, &errText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		if r.FinishedAt, err = parseTime(finished.String); err != nil {
			return Run{}, err
		}
	}
	r.ReportDate = date.String
	r.ContentHash = hash.String
	r.Error = errText.String
	return r, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// parseTime also accepts the variable-width RFC 3339 form of older rows.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse run time %q: %w", s, err)
	}
	return t, nil
}
