// Command seriesd serves the time-series stores read-only over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/covid-at-etl/internal/adapter/csvstore"
	httpadapter "github.com/couchcryptid/covid-at-etl/internal/adapter/http"
	"github.com/couchcryptid/covid-at-etl/internal/adapter/runlog"
	"github.com/couchcryptid/covid-at-etl/internal/config"
	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/couchcryptid/covid-at-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)

	var sources []httpadapter.SeriesSource
	for _, kind := range domain.AllMetrics() {
		sources = append(sources, csvstore.NewCached(csvstore.New(cfg.DataDir, kind, domain.DefaultCatalog.Codes())))
	}

	// The run log is optional; without it /api/v1/runs is not served.
	var (
		runs  httpadapter.RunHistory
		runDB *runlog.Log
		ready = httpadapter.AllReady{httpadapter.NewStoreReadiness(sources)}
	)
	if cfg.RunLogPath != "" {
		runDB, err = runlog.Open(cfg.RunLogPath, clockwork.NewRealClock())
		if err != nil {
			logger.Error("failed to open run log", "path", cfg.RunLogPath, "error", err)
			os.Exit(1)
		}
		runs = runDB
		ready = append(ready, runDB)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, sources, runs, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	logger.Info("serving series", "data_dir", cfg.DataDir, "addr", cfg.HTTPAddr)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if runDB != nil {
		if err := runDB.Close(); err != nil {
			logger.Error("run log close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
