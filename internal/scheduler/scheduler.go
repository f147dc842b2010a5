// Package scheduler runs periodic synchronizations for the daemon.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
	"github.com/couchcryptid/weather-file-sync/internal/syncer"
)

// Runner synchronizes a set of categories.
type Runner interface {
	RunAll(ctx context.Context, categories []domain.Category, opts syncer.RunOptions) []domain.Summary
}

// Scheduler triggers a run of every category on a fixed interval. A tick
// that fires while the previous run is still going is skipped.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	runner     Runner
	categories []domain.Category
	interval   time.Duration
	logger     *slog.Logger
	cancel     context.CancelFunc

	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

// New creates a Scheduler. Nothing runs until Start.
func New(runner Runner, categories []domain.Category, interval time.Duration, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:  s,
		runner:     runner,
		categories: categories,
		interval:   interval,
		logger:     logger,
	}
}

// Start schedules the job and starts the scheduler. The first run starts
// immediately; runs are cancelled through ctx or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	if len(s.categories) == 0 {
		s.logger.Warn("scheduler: no categories configured; nothing to schedule")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	_, err := s.scheduler.Every(s.interval).Do(func() {
		if !s.enter() {
			return
		}
		defer s.running.Done()

		s.logger.Info("scheduled synchronization started", "categories", s.categories)
		sums := s.runner.RunAll(runCtx, s.categories, syncer.RunOptions{})
		code := domain.ExitOK
		for _, sum := range sums {
			code = max(code, sum.ExitCode())
		}
		s.logger.Info("scheduled synchronization finished", "runs", len(sums), "exit_code", code)
	})
	if err != nil {
		cancel()
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// enter registers a starting run unless the scheduler is stopping.
func (s *Scheduler) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.running.Add(1)
	return true
}

// Stop cancels any in-flight run, stops future ticks, and waits for the
// cancelled run to return so its reporters finish before shutdown continues.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.running.Wait()
}
