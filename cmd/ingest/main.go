// Command ingest runs one fetch-extract-upsert cycle against the ministry
// report page and exits.
//
// Exit codes: 0 when all five metrics were stored, 1 on a fatal error, 2 when
// at least one metric failed.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/adapter/csvstore"
	kafkaadapter "github.com/couchcryptid/covid-at-etl/internal/adapter/kafka"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/report"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/runlog"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/s3mirror"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/source"
	"github.com/couchcryptid/covid-at-etl/internal/config"
	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/couchcryptid/covid-at-etl/internal/observability"
	"github.com/couchcryptid/covid-at-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2

	pushJob = "covid_at_ingest"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitFatal
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := source.NewFetcher(source.Options{
		URL:       cfg.SourceURL,
		Timeout:   cfg.FetchTimeout,
		MaxBytes:  cfg.FetchMaxBytes,
		UserAgent: cfg.UserAgent,
	}, clock, logger)
	extractor := report.NewExtractor(report.Options{
		TableClass: cfg.SourceTableClass,
		Strict:     cfg.StrictRows,
	}, domain.DefaultCatalog, logger)

	var stores []pipeline.Store
	for _, kind := range domain.AllMetrics() {
		stores = append(stores, csvstore.New(cfg.DataDir, kind, domain.DefaultCatalog.Codes()))
	}

	notifiers, closers, err := buildNotifiers(ctx, cfg, clock, logger)
	if err != nil {
		logger.Error("failed to set up notifiers", "error", err)
		return exitFatal
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Error("close error", "error", err)
			}
		}
	}()

	p := pipeline.New(fetcher, extractor, stores, domain.DefaultCatalog, notifiers, logger, metrics,
		pipeline.Options{Parallelism: cfg.MetricParallelism, Clock: clock})

	rep, runErr := p.RunOnce(ctx)

	if cfg.PushgatewayURL != "" {
		if err := push.New(cfg.PushgatewayURL, pushJob).Gatherer(metrics.Gatherer()).PushContext(ctx); err != nil {
			logger.Warn("pushgateway push failed", "url", cfg.PushgatewayURL, "error", err)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "ingest failed: %v\n", runErr)
		return exitFatal
	}
	writeSummary(os.Stdout, rep)
	return exitCode(rep)
}

// buildNotifiers wires the optional sinks. The returned closers must be
// closed after the run.
func buildNotifiers(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) ([]pipeline.Notifier, []io.Closer, error) {
	var (
		notifiers []pipeline.Notifier
		closers   []io.Closer
	)

	if cfg.RunLogPath != "" {
		l, err := runlog.Open(cfg.RunLogPath, clock)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, l)
		closers = append(closers, l)
		logger.Info("run log enabled", "path", cfg.RunLogPath)
	}

	if cfg.KafkaEnabled() {
		pub := kafkaadapter.NewPublisher(cfg, logger)
		notifiers = append(notifiers, pub)
		closers = append(closers, pub)
		logger.Info("kafka publisher enabled", "topic", cfg.KafkaTopic)
	}

	if cfg.S3Enabled() {
		m, err := s3mirror.New(ctx, s3mirror.Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		}, cfg.DataDir, logger)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, nil, fmt.Errorf("s3 mirror: %w", err)
		}
		notifiers = append(notifiers, m)
		logger.Info("s3 mirror enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	}

	return notifiers, closers, nil
}

func exitCode(rep *pipeline.Report) int {
	if rep.Outcome() == pipeline.OutcomeSuccess {
		return exitOK
	}
	return exitPartial
}

// writeSummary prints one line per metric.
func writeSummary(w io.Writer, rep *pipeline.Report) {
	fmt.Fprintf(w, "report %s  run %s  %s  (%s)\n",
		domain.FormatDate(rep.ReportDate), rep.RunID, rep.Outcome(), rep.Duration().Round(time.Millisecond))
	for _, m := range rep.Metrics {
		switch {
		case m.Err != nil:
			fmt.Fprintf(w, "  %-13s FAILED  %v\n", m.Kind, m.Err)
		case !m.Consistency.OK:
			fmt.Fprintf(w, "  %-13s stored  AT=%d sum=%d (mismatch)\n", m.Kind, m.Consistency.Expected, m.Consistency.Actual)
		default:
			fmt.Fprintf(w, "  %-13s stored  AT=%d\n", m.Kind, m.Consistency.Expected)
		}
	}
	if len(rep.Ignored) > 0 {
		fmt.Fprintf(w, "  ignored rows: %d\n", len(rep.Ignored))
	}
}
