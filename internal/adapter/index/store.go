// Package index persists each category's catalog as a JSON file in the data
// directory and guards it with a run-scoped lock.
package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

// Store reads and writes the per-category index files.
// It implements syncer.IndexStore.
type Store struct {
	dir        string
	staleAfter time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[domain.Category]*sync.Mutex

	// rename is swapped in tests to simulate a failed replace.
	rename func(oldpath, newpath string) error
}

// NewStore creates a Store rooted at dir. A lock file older than staleAfter
// is treated as abandoned; zero disables stale lock recovery.
func NewStore(dir string, staleAfter time.Duration, logger *slog.Logger) *Store {
	return &Store{
		dir:        dir,
		staleAfter: staleAfter,
		logger:     logger,
		locks:      make(map[domain.Category]*sync.Mutex),
		rename:     os.Rename,
	}
}

// Path returns the index file location for category.
func (s *Store) Path(category domain.Category) string {
	return filepath.Join(s.dir, category.IndexFilename())
}

// Load reads the category's index. A missing file is an empty catalog.
// Unparseable JSON, an invalid entry, or two entries sharing a key returns an
// empty catalog and an error wrapping domain.ErrCorruptIndex.
func (s *Store) Load(category domain.Category) (domain.Catalog, error) {
	empty := domain.NewCatalog(category)
	path := s.Path(category)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return empty, fmt.Errorf("read index %s: %w", path, err)
	}

	var entries []domain.CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return empty, fmt.Errorf("%w: %s: %v", domain.ErrCorruptIndex, path, err)
	}
	seen := make(map[domain.Key]int, len(entries))
	for i := range entries {
		entries[i].Category = category
		if err := entries[i].Validate(); err != nil {
			return empty, fmt.Errorf("%w: %s: entry %d: %v", domain.ErrCorruptIndex, path, i, err)
		}
		k := entries[i].Key()
		if j, dup := seen[k]; dup {
			return empty, fmt.Errorf("%w: %s: entries %d and %d share key %s", domain.ErrCorruptIndex, path, j, i, k)
		}
		seen[k] = i
	}
	return domain.NewCatalog(category, entries...), nil
}

// Save replaces the category's index with catalog. The entries are written
// sorted by key to a temporary file in the same directory, synced, and
// renamed over the index, so a failed save leaves the previous file intact.
func (s *Store) Save(category domain.Category, catalog domain.Catalog) (err error) {
	if catalog.Category() != category {
		return fmt.Errorf("save %s index: catalog belongs to %q", category, catalog.Category())
	}
	entries := catalog.Entries()
	if entries == nil {
		entries = []domain.CatalogEntry{}
	}
	for _, e := range entries {
		if verr := e.Validate(); verr != nil {
			return fmt.Errorf("save %s index: %w", category, verr)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode %s index: %w", category, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	path := s.Path(category)
	tmp, err := os.CreateTemp(s.dir, "."+category.IndexFilename()+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrWriteFailed, tmpPath, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", domain.ErrWriteFailed, tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrWriteFailed, tmpPath, err)
	}
	if err = s.rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", domain.ErrWriteFailed, path, err)
	}

	s.logger.Debug("index saved", "category", category, "path", path, "entries", len(entries))
	return nil
}

// Quarantine moves a corrupt index aside to <index>.corrupt-<unix> and
// returns the new path.
func (s *Store) Quarantine(category domain.Category) (string, error) {
	path := s.Path(category)
	dst := path + ".corrupt-" + strconv.FormatInt(domain.Now().Unix(), 10)
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("%w: quarantine %s: %v", domain.ErrWriteFailed, path, err)
	}
	s.logger.Warn("corrupt index quarantined", "category", category, "path", dst)
	return dst, nil
}

// Lock takes the category's run-scoped lock: an in-process mutex plus a lock
// file beside the index, so concurrent processes sharing the data directory
// are excluded too. While held, the lock file's mtime is refreshed so a long
// run is never mistaken for an abandoned one. The returned function releases
// both and removes the lock file only if it still carries this holder's
// token. Contention returns an error wrapping domain.ErrIndexLocked.
func (s *Store) Lock(category domain.Category) (func(), error) {
	mu := s.categoryMutex(category)
	if !mu.TryLock() {
		return nil, fmt.Errorf("%w: %s (in process)", domain.ErrIndexLocked, category)
	}

	lockPath := s.Path(category) + ".lock"
	token := uuid.NewString()
	if err := s.createLockFile(lockPath, token); err != nil {
		mu.Unlock()
		return nil, err
	}

	stop := make(chan struct{})
	var heartbeat sync.WaitGroup
	if interval := s.heartbeatInterval(); interval > 0 {
		heartbeat.Go(func() { s.refreshLock(lockPath, token, interval, stop) })
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			heartbeat.Wait()
			if ownsLock(lockPath, token) {
				if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
					s.logger.Warn("remove index lock", "path", lockPath, "error", err)
				}
			} else {
				s.logger.Warn("index lock no longer ours, leaving it", "path", lockPath)
			}
			mu.Unlock()
		})
	}, nil
}

// heartbeatInterval refreshes well within staleAfter. Zero disables stale
// recovery, so no refresh is needed.
func (s *Store) heartbeatInterval() time.Duration {
	if s.staleAfter <= 0 {
		return 0
	}
	return max(s.staleAfter/4, time.Millisecond)
}

func (s *Store) refreshLock(path, token string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !ownsLock(path, token) {
				s.logger.Warn("index lock taken over by another holder", "path", path)
				return
			}
			now := domain.Now()
			if err := os.Chtimes(path, now, now); err != nil {
				s.logger.Warn("refresh index lock", "path", path, "error", err)
			}
		}
	}
}

func ownsLock(path, token string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte("token="+token))
}

func (s *Store) categoryMutex(category domain.Category) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[category]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[category] = mu
	}
	return mu
}

func (s *Store) createLockFile(path, token string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			host, _ := os.Hostname()
			_, _ = fmt.Fprintf(f, "pid=%d host=%s acquired=%s token=%s\n", os.Getpid(), host, domain.Now().Format(time.RFC3339), token)
			return f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: create lock %s: %v", domain.ErrWriteFailed, path, err)
		}
		if attempt > 0 || !s.stale(path) {
			break
		}
		s.logger.Warn("taking over stale index lock", "path", path, "stale_after", s.staleAfter)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: remove stale lock %s: %v", domain.ErrWriteFailed, path, err)
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrIndexLocked, path)
}

func (s *Store) stale(path string) bool {
	if s.staleAfter <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return domain.Now().Sub(info.ModTime()) > s.staleAfter
}
