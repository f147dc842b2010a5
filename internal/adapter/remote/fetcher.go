package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

const copyBufferSize = 32 << 10

// Fetcher downloads catalog entries into the mirror's category directories.
// It implements syncer.Fetcher.
type Fetcher struct {
	client  *Client
	dataDir string
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher writing below dataDir.
func NewFetcher(client *Client, dataDir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{client: client, dataDir: dataDir, logger: logger}
}

// Path returns the final on-disk location of the entry.
func (f *Fetcher) Path(entry domain.CatalogEntry) string {
	return filepath.Join(f.dataDir, entry.RelPath())
}

// Fetch makes entry's file present under <category>/<stationId>/.
//
// An existing non-empty file whose size matches entry.Size (when known) is
// left alone unless force is set. Otherwise the body is streamed into a
// temporary file in the target directory, checked for a non-zero length that
// agrees with Content-Length, synced, and renamed into place, so readers
// never observe a partial file.
//
// Errors wrap domain.ErrDownloadFailed for network, status, length, and
// cancellation problems and domain.ErrWriteFailed for local disk problems.
func (f *Fetcher) Fetch(ctx context.Context, entry domain.CatalogEntry, force bool) (domain.FetchResult, error) {
	if err := entry.Validate(); err != nil {
		return domain.FetchResult{}, fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	target := f.Path(entry)

	if !force {
		if size, ok := presentSize(target, entry.Size); ok {
			entry.Size = size
			f.logger.Debug("file already present, skipping", "path", target, "size", size)
			return domain.FetchResult{Entry: entry, Status: domain.FetchStatusSkipped}, nil
		}
	}

	n, err := f.download(ctx, entry, target)
	if err != nil {
		return domain.FetchResult{}, err
	}

	entry.Size = n
	f.logger.Debug("file fetched", "path", target, "bytes", n)
	return domain.FetchResult{Entry: entry, Status: domain.FetchStatusFetched, BytesWritten: n}, nil
}

func (f *Fetcher) download(ctx context.Context, entry domain.CatalogEntry, target string) (written int64, err error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrWriteFailed, entry.Filename, err)
	}

	resp, err := f.client.get(ctx, kindFile, entry.RemoteLocator, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrDownloadFailed, entry.Filename, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, "."+entry.Filename+".*.part")
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrWriteFailed, entry.Filename, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	written, err = copyWithContext(ctx, tmp, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", entry.Filename, err)
	}
	if written == 0 {
		return 0, fmt.Errorf("%w: %s: empty body", domain.ErrDownloadFailed, entry.Filename)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return 0, fmt.Errorf("%w: %s: truncated body: got %d of %d bytes", domain.ErrDownloadFailed, entry.Filename, written, resp.ContentLength)
	}

	if err = tmp.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync %s: %v", domain.ErrWriteFailed, entry.Filename, err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("%w: close %s: %v", domain.ErrWriteFailed, entry.Filename, err)
	}
	if err = os.Rename(tmpPath, target); err != nil {
		return 0, fmt.Errorf("%w: rename %s: %v", domain.ErrWriteFailed, entry.Filename, err)
	}
	return written, nil
}

// presentSize reports the size of an existing regular file that satisfies
// the idempotent-skip rule.
func presentSize(path string, want int64) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, false
	}
	if want > 0 && info.Size() != want {
		return 0, false
	}
	return info.Size(), true
}

// copyWithContext copies src to dst, checking ctx between chunks. Read and
// cancellation errors wrap domain.ErrDownloadFailed; write errors wrap
// domain.ErrWriteFailed.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("%w: %v", domain.ErrWriteFailed, werr)
			}
			if nw != nr {
				return written, fmt.Errorf("%w: %v", domain.ErrWriteFailed, io.ErrShortWrite)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("%w: %v", domain.ErrDownloadFailed, rerr)
		}
	}
}
