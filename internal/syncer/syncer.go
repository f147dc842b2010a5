// Package syncer reconciles the local weather-file mirror with the remote
// catalog, one category per run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
	"github.com/couchcryptid/weather-file-sync/internal/observability"
)

// Lister produces the remote catalog of a category.
type Lister interface {
	List(ctx context.Context, category domain.Category) (iter.Seq2[domain.CatalogEntry, error], error)
}

// IndexStore persists the local catalog of each category.
type IndexStore interface {
	Load(category domain.Category) (domain.Catalog, error)
	Save(category domain.Category, catalog domain.Catalog) error
	Lock(category domain.Category) (func(), error)
	Quarantine(category domain.Category) (string, error)
}

// Fetcher makes a single entry's file present on disk.
type Fetcher interface {
	Fetch(ctx context.Context, entry domain.CatalogEntry, force bool) (domain.FetchResult, error)
}

// Reporter receives the summary of every finished run.
type Reporter interface {
	Report(ctx context.Context, summary domain.Summary) error
}

// reportTimeout bounds each reporter call after the run has finished.
const reportTimeout = 30 * time.Second

// Settings tune retries and fetch parallelism.
type Settings struct {
	ListAttempts   int
	FetchAttempts  int
	Concurrency    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		ListAttempts:   3,
		FetchAttempts:  2,
		Concurrency:    4,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

func (s Settings) normalized() Settings {
	s.ListAttempts = max(s.ListAttempts, 1)
	s.FetchAttempts = max(s.FetchAttempts, 1)
	s.Concurrency = max(s.Concurrency, 1)
	if s.MaxBackoff < s.InitialBackoff {
		s.MaxBackoff = s.InitialBackoff
	}
	return s
}

// RunOptions modify a single run.
type RunOptions struct {
	// Force re-downloads entries even when their file is already present.
	Force bool
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithReporters adds reporters invoked after every run.
func WithReporters(r ...Reporter) Option {
	return func(s *Syncer) { s.reporters = append(s.reporters, r...) }
}

// WithClock replaces the clock used for run timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Syncer) { s.clock = c }
}

// Syncer drives a category through Listing, Diffing, Fetching, and Updating.
type Syncer struct {
	lister    Lister
	store     IndexStore
	fetcher   Fetcher
	reporters []Reporter
	settings  Settings
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	ready  atomic.Bool
	mu     sync.RWMutex
	latest map[domain.Category]domain.Summary
}

// New creates a Syncer.
func New(l Lister, store IndexStore, f Fetcher, settings Settings, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Syncer {
	s := &Syncer{
		lister:   l,
		store:    store,
		fetcher:  f,
		settings: settings.normalized(),
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		metrics:  metrics,
		latest:   make(map[domain.Category]domain.Summary),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckReadiness returns nil once a run has completed, or an error describing
// why the service is not yet ready.
func (s *Syncer) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no synchronization run has completed yet")
	}
	return nil
}

// Latest returns the summary of the most recent run of each category, in
// category order.
func (s *Syncer) Latest() []domain.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Summary, 0, len(s.latest))
	for _, c := range domain.Categories() {
		if sum, ok := s.latest[c]; ok {
			out = append(out, sum)
		}
	}
	return out
}

// RunAll runs each category in turn. A failed category does not stop the
// next one; the context does.
func (s *Syncer) RunAll(ctx context.Context, categories []domain.Category, opts RunOptions) []domain.Summary {
	out := make([]domain.Summary, 0, len(categories))
	for _, c := range categories {
		if ctx.Err() != nil {
			break
		}
		sum, _ := s.Run(ctx, c, opts)
		out = append(out, sum)
	}
	return out
}

// Run performs one synchronization of category and returns its summary.
// The returned error is non-nil exactly when the run ended in Failed; per-entry
// fetch failures only show up in Summary.Failed.
func (s *Syncer) Run(ctx context.Context, category domain.Category, opts RunOptions) (domain.Summary, error) {
	r := &run{
		Syncer: s,
		opts:   opts,
		sum: domain.Summary{
			RunID:       uuid.NewString(),
			Category:    category,
			State:       domain.StateIdle,
			Transitions: []domain.State{domain.StateIdle},
			Added:       []domain.CatalogEntry{},
			Removed:     []domain.CatalogEntry{},
			Skipped:     []domain.CatalogEntry{},
			Failed:      []domain.FailedEntry{},
			StartedAt:   s.clock.Now().UTC(),
		},
	}
	r.logger = s.logger.With("run_id", r.sum.RunID, "category", category)

	s.metrics.SyncRunning.Inc()
	defer s.metrics.SyncRunning.Dec()
	r.logger.Info("synchronization started", "force", opts.Force)

	err := r.execute(ctx)
	if err != nil {
		r.sum.Error = err.Error()
		r.transition(domain.StateFailed)
	}
	r.sum.FinishedAt = s.clock.Now().UTC()

	s.finish(ctx, r.sum, r.logger)
	return r.sum, err
}

// finish records the terminal summary and hands it to the reporters.
func (s *Syncer) finish(ctx context.Context, sum domain.Summary, logger *slog.Logger) {
	cat := string(sum.Category)
	outcome := "ok"
	switch sum.ExitCode() {
	case domain.ExitPartialFailure:
		outcome = "partial"
	case domain.ExitFailed:
		outcome = "failed"
	}
	s.metrics.Runs.WithLabelValues(cat, outcome).Inc()
	s.metrics.RunDuration.WithLabelValues(cat).Observe(sum.Duration().Seconds())

	if sum.Category.Valid() {
		s.mu.Lock()
		s.latest[sum.Category] = sum
		s.mu.Unlock()
	}
	if sum.State == domain.StateDone {
		s.ready.Store(true)
	}

	attrs := []any{
		"state", sum.State,
		"added", len(sum.Added),
		"removed", len(sum.Removed),
		"skipped", len(sum.Skipped),
		"failed", len(sum.Failed),
		"parse_errors", len(sum.ParseErrors),
		"bytes", sum.BytesDownloaded,
		"duration", sum.Duration(),
	}
	if sum.State == domain.StateFailed {
		logger.Error("synchronization failed", append(attrs, "error", sum.Error, "incomplete", len(sum.Incomplete))...)
	} else {
		logger.Info("synchronization finished", attrs...)
	}

	rctx := context.WithoutCancel(ctx)
	for _, rep := range s.reporters {
		func() {
			c, cancel := context.WithTimeout(rctx, reportTimeout)
			defer cancel()
			if err := rep.Report(c, sum); err != nil {
				logger.Warn("report run summary", "reporter", fmt.Sprintf("%T", rep), "error", err)
			}
		}()
	}
}

// run carries the mutable state of a single synchronization.
type run struct {
	*Syncer
	opts   RunOptions
	sum    domain.Summary
	logger *slog.Logger

	// replacing holds keys removed and re-added in the same run. Their files
	// on disk belong to the old locator and are always re-downloaded.
	replacing map[domain.Key]bool
}

func (r *run) transition(to domain.State) {
	from := r.sum.State
	r.sum.State = to
	r.sum.Transitions = append(r.sum.Transitions, to)
	r.metrics.RunState.WithLabelValues(string(r.sum.Category)).Set(float64(to))
	r.logger.Debug("state transition", "from", from, "to", to)
}

func (r *run) execute(ctx context.Context) error {
	category := r.sum.Category
	if !category.Valid() {
		return fmt.Errorf("unknown category %q", category)
	}

	unlock, err := r.store.Lock(category)
	if err != nil {
		return err
	}
	defer unlock()

	r.transition(domain.StateListing)
	remote, err := r.list(ctx)
	if err != nil {
		return err
	}

	r.transition(domain.StateDiffing)
	local, healthy, err := r.loadLocal()
	if err != nil {
		return err
	}
	changes := domain.Diff(remote, local)
	r.logger.Info("catalog diffed",
		"remote", len(remote),
		"local", local.Len(),
		"to_add", len(changes.ToAdd),
		"to_remove", len(changes.ToRemove),
	)

	r.replacing = make(map[domain.Key]bool, len(changes.ToRemove))
	for _, e := range changes.ToRemove {
		r.replacing[e.Key()] = true
	}

	var outcomes []outcome
	if len(changes.ToAdd) > 0 {
		r.transition(domain.StateFetching)
		outcomes = r.fetchAll(ctx, changes.ToAdd)
	}

	if err := ctx.Err(); err != nil {
		r.abandon(outcomes)
		return fmt.Errorf("run cancelled: %w", err)
	}
	succeeded := r.collect(outcomes)

	r.transition(domain.StateUpdating)
	next := local.Clone()
	for _, e := range changes.ToRemove {
		next.Delete(e.Key())
	}
	for _, e := range succeeded {
		next.Put(e)
	}
	r.sum.Removed = append(r.sum.Removed, changes.ToRemove...)
	r.metrics.Entries.WithLabelValues(string(category), "removed").Add(float64(len(changes.ToRemove)))

	if healthy && next.Equal(local) {
		r.logger.Debug("index unchanged, not rewriting")
	} else if err := r.store.Save(category, next); err != nil {
		return fmt.Errorf("update index: %w", err)
	}

	r.transition(domain.StateDone)
	return nil
}

// list fetches and drains the remote listing, retrying while the source is
// unavailable.
func (r *run) list(ctx context.Context) ([]domain.CatalogEntry, error) {
	backoff := r.settings.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= r.settings.ListAttempts; attempt++ {
		rows, err := r.lister.List(ctx, r.sum.Category)
		if err == nil {
			return r.drain(rows), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("list remote: %w", ctx.Err())
		}
		if !errors.Is(err, domain.ErrRemoteUnavailable) {
			return nil, fmt.Errorf("list remote: %w", err)
		}
		r.logger.Warn("remote listing unavailable", "attempt", attempt, "max_attempts", r.settings.ListAttempts, "error", err)
		if attempt == r.settings.ListAttempts {
			break
		}
		if !sleepWithContext(ctx, backoff) {
			return nil, fmt.Errorf("list remote: %w", ctx.Err())
		}
		backoff = nextBackoff(backoff, r.settings.MaxBackoff)
	}
	return nil, fmt.Errorf("list remote after %d attempts: %w", r.settings.ListAttempts, lastErr)
}

func (r *run) drain(rows iter.Seq2[domain.CatalogEntry, error]) []domain.CatalogEntry {
	var entries []domain.CatalogEntry
	for e, err := range rows {
		if err == nil {
			entries = append(entries, e)
			continue
		}
		var pe *domain.ParseError
		if errors.As(err, &pe) {
			r.sum.ParseErrors = append(r.sum.ParseErrors, *pe)
		} else {
			r.sum.ParseErrors = append(r.sum.ParseErrors, domain.ParseError{Reason: err.Error()})
		}
		r.logger.Warn("unparseable listing row", "error", err)
	}
	r.metrics.ParseErrors.WithLabelValues(string(r.sum.Category)).Add(float64(len(r.sum.ParseErrors)))
	return entries
}

// loadLocal reads the prior catalog. A corrupt index is quarantined and
// replaced by an empty catalog; healthy reports whether the prior index was
// usable as is.
func (r *run) loadLocal() (catalog domain.Catalog, healthy bool, err error) {
	category := r.sum.Category
	local, err := r.store.Load(category)
	if err == nil {
		return local, true, nil
	}
	if !errors.Is(err, domain.ErrCorruptIndex) {
		return domain.Catalog{}, false, fmt.Errorf("load index: %w", err)
	}

	r.sum.Warnings = append(r.sum.Warnings, err.Error())
	r.logger.Warn("local index corrupt, continuing with empty catalog", "error", err)

	dst, qerr := r.store.Quarantine(category)
	if qerr != nil {
		return domain.Catalog{}, false, fmt.Errorf("quarantine corrupt index: %w", qerr)
	}
	r.sum.Warnings = append(r.sum.Warnings, "corrupt index moved to "+dst)
	return domain.NewCatalog(category), false, nil
}

// outcome is one toAdd entry's fetch result. done is false when the fetch
// never ran or was cut short by cancellation.
type outcome struct {
	entry  domain.CatalogEntry
	result domain.FetchResult
	err    error
	done   bool
}

// fetchAll fetches entries on a bounded worker pool and returns once every
// dispatched fetch has resolved. Cancellation stops dispatching.
func (r *run) fetchAll(ctx context.Context, entries []domain.CatalogEntry) []outcome {
	outcomes := make([]outcome, len(entries))
	for i, e := range entries {
		outcomes[i].entry = e
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(r.settings.Concurrency, len(entries)) {
		wg.Go(func() {
			for i := range jobs {
				outcomes[i] = r.fetchOne(ctx, entries[i])
			}
		})
	}

dispatch:
	for i := range entries {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

func (r *run) fetchOne(ctx context.Context, entry domain.CatalogEntry) outcome {
	start := time.Now()
	defer func() { r.metrics.FetchDuration.Observe(time.Since(start).Seconds()) }()

	force := r.opts.Force || r.replacing[entry.Key()]
	backoff := r.settings.InitialBackoff
	var err error
	for attempt := 1; attempt <= r.settings.FetchAttempts; attempt++ {
		var res domain.FetchResult
		res, err = r.fetcher.Fetch(ctx, entry, force)
		if err == nil {
			return outcome{entry: entry, result: res, done: true}
		}
		if ctx.Err() != nil {
			return outcome{entry: entry, err: err}
		}
		if !errors.Is(err, domain.ErrDownloadFailed) || attempt == r.settings.FetchAttempts {
			break
		}
		r.logger.Debug("fetch failed, retrying", "station_id", entry.StationID, "filename", entry.Filename, "attempt", attempt, "error", err)
		if !sleepWithContext(ctx, backoff) {
			return outcome{entry: entry, err: err}
		}
		backoff = nextBackoff(backoff, r.settings.MaxBackoff)
	}
	return outcome{entry: entry, err: err, done: true}
}

// collect folds resolved outcomes into the summary and returns the entries
// to index, sorted by key.
func (r *run) collect(outcomes []outcome) []domain.CatalogEntry {
	cat := string(r.sum.Category)
	var ok []domain.CatalogEntry
	for _, o := range outcomes {
		if !o.done {
			continue
		}
		if o.err != nil {
			r.fail(o)
			continue
		}
		e := o.result.Entry
		switch o.result.Status {
		case domain.FetchStatusSkipped:
			r.sum.Skipped = append(r.sum.Skipped, e)
			r.metrics.Entries.WithLabelValues(cat, "skipped").Inc()
		default:
			r.sum.Added = append(r.sum.Added, e)
			r.sum.BytesDownloaded += o.result.BytesWritten
			r.metrics.Entries.WithLabelValues(cat, "added").Inc()
			r.metrics.BytesDownloaded.Add(float64(o.result.BytesWritten))
		}
		ok = append(ok, e)
	}
	slices.SortFunc(ok, func(a, b domain.CatalogEntry) int { return a.Key().Compare(b.Key()) })
	return ok
}

// abandon folds the outcomes of a cancelled run into the summary. Nothing is
// indexed, so every entry that did not fail outright is incomplete, including
// files that finished downloading before the cancellation.
func (r *run) abandon(outcomes []outcome) {
	for _, o := range outcomes {
		if o.done && o.err != nil {
			r.fail(o)
			continue
		}
		r.sum.Incomplete = append(r.sum.Incomplete, o.entry)
	}
}

func (r *run) fail(o outcome) {
	r.sum.Failed = append(r.sum.Failed, domain.FailedEntry{Entry: o.entry, Error: o.err.Error()})
	r.metrics.Entries.WithLabelValues(string(r.sum.Category), "failed").Inc()
	r.logger.Warn("fetch failed", "station_id", o.entry.StationID, "filename", o.entry.Filename, "error", o.err)
}
