// Package app wires the synchronizer and its adapters from configuration.
// Both commands build their runtime through it.
package app

import (
	"log/slog"

	"github.com/couchcryptid/weather-file-sync/internal/adapter/index"
	kafkaadapter "github.com/couchcryptid/weather-file-sync/internal/adapter/kafka"
	"github.com/couchcryptid/weather-file-sync/internal/adapter/remote"
	"github.com/couchcryptid/weather-file-sync/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-file-sync/internal/config"
	"github.com/couchcryptid/weather-file-sync/internal/observability"
	"github.com/couchcryptid/weather-file-sync/internal/syncer"
)

// App holds the wired runtime. History is nil when HISTORY_DB is unset.
type App struct {
	Syncer  *syncer.Syncer
	Store   *index.Store
	History *sqlite.History

	publisher *kafkaadapter.Publisher
	logger    *slog.Logger
}

// New builds the synchronizer with the remote lister and fetcher, the index
// store, and the optional change publisher and run history.
func New(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	client := remote.NewClient(cfg.HTTPTimeout, cfg.UserAgent, metrics, logger)
	lister := remote.NewLister(client, cfg.Sources(), cfg.ListMaxDepth, cfg.ListCacheSize, logger)
	fetcher := remote.NewFetcher(client, cfg.DataDir, logger)
	store := index.NewStore(cfg.DataDir, cfg.LockStaleAfter, logger)

	a := &App{Store: store, logger: logger}

	var reporters []syncer.Reporter
	if cfg.KafkaEnabled() {
		a.publisher = kafkaadapter.NewPublisher(cfg, logger)
		reporters = append(reporters, a.publisher)
		logger.Info("change notifications enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("change notifications disabled")
	}
	if cfg.HistoryDB != "" {
		h, err := sqlite.Open(cfg.HistoryDB, logger)
		if err != nil {
			return nil, err
		}
		a.History = h
		reporters = append(reporters, h)
		logger.Info("run history enabled", "path", cfg.HistoryDB)
	}

	settings := syncer.DefaultSettings()
	settings.ListAttempts = cfg.ListAttempts
	settings.FetchAttempts = cfg.FetchAttempts
	settings.Concurrency = cfg.FetchWorkers

	a.Syncer = syncer.New(lister, store, fetcher, settings, logger, metrics, syncer.WithReporters(reporters...))
	return a, nil
}

// Close releases the publisher and the history database.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("kafka publisher close error", "error", err)
		}
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.logger.Error("history db close error", "error", err)
		}
	}
}
