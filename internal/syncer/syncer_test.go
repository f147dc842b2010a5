package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
	"github.com/couchcryptid/weather-file-sync/internal/observability"
	"github.com/couchcryptid/weather-file-sync/internal/syncer"
)

// --- fakes ---

type listResponse struct {
	rows []row
	err  error
}

type row struct {
	entry domain.CatalogEntry
	err   error
}

type fakeLister struct {
	mu        sync.Mutex
	responses []listResponse // the last response repeats
	calls     int
}

func (f *fakeLister) List(_ context.Context, _ domain.Category) (iter.Seq2[domain.CatalogEntry, error], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.calls, len(f.responses)-1)
	f.calls++
	resp := f.responses[i]
	if resp.err != nil {
		return nil, resp.err
	}
	return func(yield func(domain.CatalogEntry, error) bool) {
		for _, r := range resp.rows {
			if !yield(r.entry, r.err) {
				return
			}
		}
	}, nil
}

func listing(entries ...domain.CatalogEntry) *fakeLister {
	rows := make([]row, len(entries))
	for i, e := range entries {
		rows[i] = row{entry: e}
	}
	return &fakeLister{responses: []listResponse{{rows: rows}}}
}

type fakeStore struct {
	mu          sync.Mutex
	catalog     domain.Catalog
	loadErr     error
	saveErr     error
	lockErr     error
	quarantined bool
	saves       int
	locked      bool
}

func newFakeStore(entries ...domain.CatalogEntry) *fakeStore {
	return &fakeStore{catalog: domain.NewCatalog(domain.CategoryHistoric, entries...)}
}

func (s *fakeStore) Load(category domain.Category) (domain.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return domain.NewCatalog(category), s.loadErr
	}
	return s.catalog.Clone(), nil
}

func (s *fakeStore) Save(_ domain.Category, c domain.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.catalog = c.Clone()
	return nil
}

func (s *fakeStore) Lock(_ domain.Category) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	s.locked = true
	return func() {
		s.mu.Lock()
		s.locked = false
		s.mu.Unlock()
	}, nil
}

func (s *fakeStore) Quarantine(_ domain.Category) (string, error) {
	s.quarantined = true
	return "historic_weather_filenames.json.corrupt-1", nil
}

func (s *fakeStore) snapshot() domain.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.Clone()
}

type fakeFetcher struct {
	mu       sync.Mutex
	errs     map[string][]error // per filename, consumed in order
	present  map[string]bool
	calls    map[string]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	block    chan struct{} // when non-nil, fetches wait here or on ctx
	started  chan struct{}
	forced   map[string]bool
	fetched  func(domain.CatalogEntry) // called after a successful fetch
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{errs: map[string][]error{}, present: map[string]bool{}, calls: map[string]int{}, forced: map[string]bool{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, e domain.CatalogEntry, force bool) (domain.FetchResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.FetchResult{}, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
	}

	f.mu.Lock()
	f.calls[e.Filename]++
	f.forced[e.Filename] = force
	var err error
	if q := f.errs[e.Filename]; len(q) > 0 {
		err, f.errs[e.Filename] = q[0], q[1:]
	}
	present := f.present[e.Filename]
	f.mu.Unlock()

	if f.block != nil {
		if f.started != nil {
			f.started <- struct{}{}
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.FetchResult{}, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, ctx.Err())
		}
	}
	if err != nil {
		return domain.FetchResult{}, err
	}
	if present && !force {
		e.Size = 100
		return domain.FetchResult{Entry: e, Status: domain.FetchStatusSkipped}, nil
	}
	e.Size = 100
	if f.fetched != nil {
		f.fetched(e)
	}
	return domain.FetchResult{Entry: e, Status: domain.FetchStatusFetched, BytesWritten: 100}, nil
}

func (f *fakeFetcher) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

type recordingReporter struct {
	mu        sync.Mutex
	summaries []domain.Summary
	err       error
}

func (r *recordingReporter) Report(_ context.Context, s domain.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return r.err
}

// --- helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() syncer.Settings {
	return syncer.Settings{
		ListAttempts:   3,
		FetchAttempts:  2,
		Concurrency:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func newSyncer(l syncer.Lister, s syncer.IndexStore, f syncer.Fetcher, opts ...syncer.Option) *syncer.Syncer {
	return syncer.New(l, s, f, testSettings(), newTestLogger(), observability.NewMetricsForTesting(), opts...)
}

func entry(station string, kind domain.FileKind) domain.CatalogEntry {
	name := station + "." + string(kind)
	return domain.CatalogEntry{
		StationID:     station,
		Category:      domain.CategoryHistoric,
		FileKind:      kind,
		Filename:      name,
		RemoteLocator: "https://example.com/historic/" + name,
	}
}

func sized(e domain.CatalogEntry) domain.CatalogEntry {
	e.Size = 100
	return e
}

// --- tests ---

func TestRun_InitialSync(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	b := entry("B", domain.FileKindDDY)
	store := newFakeStore()
	s := newSyncer(listing(a, b), store, newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, sum.State)
	assert.Equal(t, []domain.State{
		domain.StateIdle, domain.StateListing, domain.StateDiffing,
		domain.StateFetching, domain.StateUpdating, domain.StateDone,
	}, sum.Transitions)
	assert.Equal(t, []domain.CatalogEntry{sized(a), sized(b)}, sum.Added)
	assert.Empty(t, sum.Removed)
	assert.Empty(t, sum.Failed)
	assert.Equal(t, int64(200), sum.BytesDownloaded)
	assert.Equal(t, domain.ExitOK, sum.ExitCode())
	assert.NotEmpty(t, sum.RunID)

	got := store.snapshot()
	assert.Equal(t, []domain.CatalogEntry{sized(a), sized(b)}, got.Entries())
	assert.False(t, store.locked, "lock released")
}

func TestRun_UnchangedSecondRunFetchesNothing(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	store := newFakeStore()
	fetcher := newFakeFetcher()
	s := newSyncer(listing(a), store, fetcher)

	_, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, store.saves)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.callCount(a.Filename), "second run must not fetch")
	assert.Empty(t, sum.Added)
	assert.Empty(t, sum.Removed)
	assert.Equal(t, []domain.State{
		domain.StateIdle, domain.StateListing, domain.StateDiffing, domain.StateUpdating, domain.StateDone,
	}, sum.Transitions, "empty toAdd skips Fetching")
	assert.Equal(t, 1, store.saves, "unchanged index is not rewritten")
}

func TestRun_ReplacementScenario(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	b := entry("B", domain.FileKindEPW)
	store := newFakeStore(sized(a))
	s := newSyncer(listing(b), store, newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.CatalogEntry{sized(b)}, sum.Added)
	assert.Equal(t, []domain.CatalogEntry{sized(a)}, sum.Removed)
	assert.Equal(t, []domain.CatalogEntry{sized(b)}, store.snapshot().Entries())
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	b := entry("B", domain.FileKindEPW)
	c := entry("C", domain.FileKindEPW)
	fetcher := newFakeFetcher()
	fetcher.errs[b.Filename] = []error{
		fmt.Errorf("%w: 404", domain.ErrDownloadFailed),
		fmt.Errorf("%w: 404", domain.ErrDownloadFailed),
	}
	store := newFakeStore()
	s := newSyncer(listing(a, b, c), store, fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, sum.State)
	assert.Equal(t, domain.ExitPartialFailure, sum.ExitCode())
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, b, sum.Failed[0].Entry)
	assert.Contains(t, sum.Failed[0].Error, "404")
	assert.Equal(t, 2, fetcher.callCount(b.Filename), "download failures are retried")

	assert.Equal(t, []domain.CatalogEntry{sized(a), sized(c)}, store.snapshot().Entries())
}

func TestRun_FailedReplacementDropsOldEntry(t *testing.T) {
	old := entry("A", domain.FileKindEPW)
	moved := old
	moved.RemoteLocator = "https://example.com/historic/v2/A.epw"
	fetcher := newFakeFetcher()
	fetcher.errs[moved.Filename] = []error{
		fmt.Errorf("%w: boom", domain.ErrDownloadFailed),
		fmt.Errorf("%w: boom", domain.ErrDownloadFailed),
	}
	store := newFakeStore(old)
	s := newSyncer(listing(moved), store, fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.CatalogEntry{old}, sum.Removed)
	assert.Len(t, sum.Failed, 1)
	assert.Zero(t, store.snapshot().Len())
}

func TestRun_ChangedLocatorForcesDownload(t *testing.T) {
	old := entry("A", domain.FileKindEPW)
	moved := old
	moved.RemoteLocator = "https://example.com/historic/v2/A.epw"
	other := entry("B", domain.FileKindEPW)
	fetcher := newFakeFetcher()
	fetcher.present[moved.Filename] = true
	fetcher.present[other.Filename] = true
	store := newFakeStore(sized(old))
	s := newSyncer(listing(moved, other), store, fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.True(t, fetcher.forced[moved.Filename], "file on disk belongs to the old locator")
	assert.False(t, fetcher.forced[other.Filename])
	assert.Equal(t, []domain.CatalogEntry{sized(moved)}, sum.Added)
	assert.Equal(t, []domain.CatalogEntry{sized(other)}, sum.Skipped)
	assert.Equal(t, []domain.CatalogEntry{sized(old)}, sum.Removed)
}

func TestRun_FetchRetrySucceeds(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	fetcher := newFakeFetcher()
	fetcher.errs[a.Filename] = []error{fmt.Errorf("%w: reset", domain.ErrDownloadFailed)}
	store := newFakeStore()
	s := newSyncer(listing(a), store, fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.Empty(t, sum.Failed)
	assert.Equal(t, 2, fetcher.callCount(a.Filename))
	assert.Equal(t, 1, store.snapshot().Len())
}

func TestRun_WriteFailuresAreNotRetried(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	fetcher := newFakeFetcher()
	fetcher.errs[a.Filename] = []error{fmt.Errorf("%w: disk full", domain.ErrWriteFailed)}
	s := newSyncer(listing(a), newFakeStore(), fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.Len(t, sum.Failed, 1)
	assert.Equal(t, 1, fetcher.callCount(a.Filename))
}

func TestRun_SkippedEntriesAreIndexed(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	b := entry("B", domain.FileKindEPW)
	fetcher := newFakeFetcher()
	fetcher.present[a.Filename] = true
	store := newFakeStore()
	s := newSyncer(listing(a, b), store, fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.CatalogEntry{sized(a)}, sum.Skipped)
	assert.Equal(t, []domain.CatalogEntry{sized(b)}, sum.Added)
	assert.Equal(t, int64(100), sum.BytesDownloaded)
	assert.Equal(t, 2, store.snapshot().Len())
}

func TestRun_ForcePassesThrough(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	fetcher := newFakeFetcher()
	fetcher.present[a.Filename] = true
	s := newSyncer(listing(a), newFakeStore(), fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{Force: true})
	require.NoError(t, err)
	assert.Len(t, sum.Added, 1)
	assert.Empty(t, sum.Skipped)
}

func TestRun_ListingUnreachableFailsAfterRetries(t *testing.T) {
	prior := entry("A", domain.FileKindEPW)
	lister := &fakeLister{responses: []listResponse{{err: fmt.Errorf("%w: connection refused", domain.ErrRemoteUnavailable)}}}
	store := newFakeStore(prior)
	fetcher := newFakeFetcher()
	s := newSyncer(lister, store, fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.ErrorIs(t, err, domain.ErrRemoteUnavailable)

	assert.Equal(t, 3, lister.calls)
	assert.Equal(t, domain.StateFailed, sum.State)
	assert.Equal(t, domain.ExitFailed, sum.ExitCode())
	assert.Contains(t, sum.Error, "3 attempts")
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, []domain.CatalogEntry{prior}, store.snapshot().Entries())
	assert.False(t, store.locked)
}

func TestRun_ListingRecoversWithinAttempts(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	lister := &fakeLister{responses: []listResponse{
		{err: fmt.Errorf("%w: 503", domain.ErrRemoteUnavailable)},
		{rows: []row{{entry: a}}},
	}}
	s := newSyncer(lister, newFakeStore(), newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
	assert.Len(t, sum.Added, 1)
}

func TestRun_FormatErrorIsNotRetried(t *testing.T) {
	lister := &fakeLister{responses: []listResponse{{err: fmt.Errorf("%w: no rows", domain.ErrRemoteFormat)}}}
	s := newSyncer(lister, newFakeStore(), newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.ErrorIs(t, err, domain.ErrRemoteFormat)
	assert.Equal(t, 1, lister.calls)
	assert.Equal(t, []domain.State{domain.StateIdle, domain.StateListing, domain.StateFailed}, sum.Transitions)
}

func TestRun_ParseErrorsAreReportedNotFatal(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	pe := &domain.ParseError{Page: "https://example.com/historic/", Href: "bad.epw?x", Reason: "no stem"}
	lister := &fakeLister{responses: []listResponse{{rows: []row{{entry: a}, {err: pe}}}}}
	s := newSyncer(lister, newFakeStore(), newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []domain.ParseError{*pe}, sum.ParseErrors)
	assert.Len(t, sum.Added, 1)
	assert.Equal(t, domain.ExitOK, sum.ExitCode())
}

func TestRun_CorruptIndexIsQuarantined(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	store := newFakeStore()
	store.loadErr = fmt.Errorf("%w: unexpected end of JSON input", domain.ErrCorruptIndex)
	fetcher := newFakeFetcher()
	fetcher.present[a.Filename] = true
	s := newSyncer(listing(a), store, fetcher)

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)

	assert.True(t, store.quarantined)
	require.Len(t, sum.Warnings, 2)
	assert.Contains(t, sum.Warnings[0], "corrupt index")
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, []domain.CatalogEntry{sized(a)}, sum.Skipped)
}

func TestRun_IndexReadErrorFails(t *testing.T) {
	store := newFakeStore()
	store.loadErr = errors.New("permission denied")
	s := newSyncer(listing(entry("A", domain.FileKindEPW)), store, newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, sum.State)
	assert.False(t, store.quarantined)
}

func TestRun_SaveFailureFails(t *testing.T) {
	store := newFakeStore()
	store.saveErr = fmt.Errorf("%w: disk full", domain.ErrWriteFailed)
	s := newSyncer(listing(entry("A", domain.FileKindEPW)), store, newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.ErrorIs(t, err, domain.ErrWriteFailed)
	assert.Equal(t, domain.StateFailed, sum.State)
	assert.Equal(t, domain.StateUpdating, sum.Transitions[len(sum.Transitions)-2])
}

func TestRun_LockContention(t *testing.T) {
	store := newFakeStore()
	store.lockErr = fmt.Errorf("%w: historic", domain.ErrIndexLocked)
	lister := listing(entry("A", domain.FileKindEPW))
	s := newSyncer(lister, store, newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.ErrorIs(t, err, domain.ErrIndexLocked)
	assert.Equal(t, domain.StateFailed, sum.State)
	assert.Zero(t, lister.calls)
}

func TestRun_UnknownCategory(t *testing.T) {
	s := newSyncer(listing(entry("A", domain.FileKindEPW)), newFakeStore(), newFakeFetcher())

	sum, err := s.Run(context.Background(), domain.Category("nowcast"), syncer.RunOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, sum.State)
}

func TestRun_ConcurrencyIsBounded(t *testing.T) {
	var entries []domain.CatalogEntry
	for i := range 20 {
		entries = append(entries, entry(fmt.Sprintf("S%02d", i), domain.FileKindEPW))
	}
	fetcher := newFakeFetcher()
	settings := testSettings()
	settings.Concurrency = 3
	s := syncer.New(listing(entries...), newFakeStore(), fetcher, settings, newTestLogger(), observability.NewMetricsForTesting())

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)
	assert.Len(t, sum.Added, 20)
	assert.LessOrEqual(t, fetcher.maxSeen.Load(), int32(3))
}

func TestRun_CancellationLeavesIndexUntouched(t *testing.T) {
	prior := entry("Z", domain.FileKindEPW)
	a := entry("A", domain.FileKindEPW)
	b := entry("B", domain.FileKindEPW)
	c := entry("C", domain.FileKindEPW)

	fetcher := newFakeFetcher()
	fetcher.block = make(chan struct{})
	fetcher.started = make(chan struct{}, 3)
	store := newFakeStore(prior)

	settings := testSettings()
	settings.Concurrency = 1
	s := syncer.New(listing(a, b, c), store, fetcher, settings, newTestLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fetcher.started
		cancel()
	}()

	sum, err := s.Run(ctx, domain.CategoryHistoric, syncer.RunOptions{})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, domain.StateFailed, sum.State)
	assert.Equal(t, domain.StateFetching, sum.Transitions[len(sum.Transitions)-2])
	assert.Equal(t, []domain.CatalogEntry{a, b, c}, sum.Incomplete)
	assert.Empty(t, sum.Removed)
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, []domain.CatalogEntry{prior}, store.snapshot().Entries())
}

func TestRun_CancelledRunReportsFetchedEntriesAsIncomplete(t *testing.T) {
	a := entry("A", domain.FileKindEPW)
	b := entry("B", domain.FileKindEPW)
	fetcher := newFakeFetcher()
	store := newFakeStore()

	settings := testSettings()
	settings.Concurrency = 1
	s := syncer.New(listing(a, b), store, fetcher, settings, newTestLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher.fetched = func(domain.CatalogEntry) { cancel() }

	sum, err := s.Run(ctx, domain.CategoryHistoric, syncer.RunOptions{})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, domain.StateFailed, sum.State)
	assert.Empty(t, sum.Added, "nothing was indexed")
	assert.Empty(t, sum.Skipped)
	assert.Zero(t, sum.BytesDownloaded)
	assert.Equal(t, []domain.CatalogEntry{a, b}, sum.Incomplete)
	assert.Equal(t, 0, store.saves)
}

func TestRun_ReportersReceiveSummary(t *testing.T) {
	ok := &recordingReporter{}
	failing := &recordingReporter{err: errors.New("broker down")}
	s := newSyncer(listing(entry("A", domain.FileKindEPW)), newFakeStore(), newFakeFetcher(),
		syncer.WithReporters(failing, ok))

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err, "reporter failures never change the outcome")

	require.Len(t, ok.summaries, 1)
	assert.Equal(t, sum.RunID, ok.summaries[0].RunID)
	assert.Len(t, failing.summaries, 1)
}

func TestRun_Timestamps(t *testing.T) {
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	s := newSyncer(listing(entry("A", domain.FileKindEPW)), newFakeStore(), newFakeFetcher(), syncer.WithClock(clock))

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, start, sum.StartedAt)
	assert.Equal(t, start, sum.FinishedAt)
	assert.Zero(t, sum.Duration())
}

func TestSyncer_ReadinessAndLatest(t *testing.T) {
	lister := &fakeLister{responses: []listResponse{
		{err: fmt.Errorf("%w: empty", domain.ErrRemoteFormat)},
		{rows: []row{{entry: entry("A", domain.FileKindEPW)}}},
	}}
	s := newSyncer(lister, newFakeStore(), newFakeFetcher())

	require.Error(t, s.CheckReadiness(context.Background()))
	assert.Empty(t, s.Latest())

	_, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.Error(t, err)
	require.Error(t, s.CheckReadiness(context.Background()), "failed runs do not make the service ready")

	sum, err := s.Run(context.Background(), domain.CategoryHistoric, syncer.RunOptions{})
	require.NoError(t, err)
	require.NoError(t, s.CheckReadiness(context.Background()))

	latest := s.Latest()
	require.Len(t, latest, 1)
	if diff := cmp.Diff(sum, latest[0]); diff != "" {
		t.Errorf("latest summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncer_RunAll(t *testing.T) {
	s := newSyncer(listing(entry("A", domain.FileKindEPW)), newFakeStore(), newFakeFetcher())

	sums := s.RunAll(context.Background(), domain.Categories(), syncer.RunOptions{})
	require.Len(t, sums, 2)
	assert.Equal(t, domain.CategoryHistoric, sums[0].Category)
	assert.Equal(t, domain.CategoryFuture, sums[1].Category)
}

func TestSyncer_RunAllStopsWhenCancelled(t *testing.T) {
	s := newSyncer(listing(entry("A", domain.FileKindEPW)), newFakeStore(), newFakeFetcher())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, s.RunAll(ctx, domain.Categories(), syncer.RunOptions{}))
}
