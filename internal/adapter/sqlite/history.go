// Package sqlite records synchronization run summaries in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS sync_runs (
	run_id           TEXT PRIMARY KEY,
	category         TEXT NOT NULL,
	state            TEXT NOT NULL,
	started_at       TEXT NOT NULL,
	finished_at      TEXT NOT NULL,
	added            INTEGER NOT NULL,
	removed          INTEGER NOT NULL,
	skipped          INTEGER NOT NULL,
	failed           INTEGER NOT NULL,
	parse_errors     INTEGER NOT NULL,
	bytes_downloaded INTEGER NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sync_runs_finished ON sync_runs (finished_at DESC);`

// History stores run summaries. It implements syncer.Reporter.
type History struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn("could not enable WAL mode for history db", "path", path, "error", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &History{db: db, logger: logger}, nil
}

// Report records the summary. Re-reporting a run replaces its row.
func (h *History) Report(ctx context.Context, s domain.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("serialize run summary: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_runs
		 (run_id, category, state, started_at, finished_at, added, removed, skipped, failed, parse_errors, bytes_downloaded, error, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, string(s.Category), s.State.String(),
		s.StartedAt.UTC().Format(time.RFC3339Nano), s.FinishedAt.UTC().Format(time.RFC3339Nano),
		len(s.Added), len(s.Removed), len(s.Skipped), len(s.Failed), len(s.ParseErrors),
		s.BytesDownloaded, s.Error, string(data))
	if err != nil {
		return fmt.Errorf("record run %s: %w", s.RunID, err)
	}
	h.logger.Debug("run recorded", "run_id", s.RunID, "category", s.Category)
	return nil
}

// Recent returns up to limit summaries, most recently finished first.
func (h *History) Recent(ctx context.Context, limit int) ([]domain.Summary, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT summary FROM sync_runs ORDER BY finished_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Summary, 0, limit)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan run history: %w", err)
		}
		var s domain.Summary
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run history: %w", err)
	}
	return out, nil
}

func (h *History) Close() error {
	return h.db.Close()
}
