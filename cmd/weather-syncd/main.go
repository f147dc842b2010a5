package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/weather-file-sync/internal/adapter/http"
	"github.com/couchcryptid/weather-file-sync/internal/app"
	"github.com/couchcryptid/weather-file-sync/internal/config"
	"github.com/couchcryptid/weather-file-sync/internal/domain"
	"github.com/couchcryptid/weather-file-sync/internal/observability"
	"github.com/couchcryptid/weather-file-sync/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	a, err := app.New(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	var history httpadapter.HistoryReader
	if a.History != nil {
		history = a.History
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, a.Syncer, a.Syncer, history, logger)
	sched := scheduler.New(a.Syncer, domain.Categories(), cfg.SyncInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start periodic synchronization.
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		stop()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	a.Close()

	logger.Info("shutdown complete")
}
