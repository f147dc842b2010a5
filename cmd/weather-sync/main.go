// Command weather-sync runs one synchronization of the weather-file mirror
// and exits with 0 when every category completed cleanly, 1 when some
// entries failed, and 2 when a run failed or the invocation was invalid.
//
// Usage:
//
//	weather-sync [-category historic|future|all] [-force] [-data-dir DIR] [-json]
//	weather-sync -history 10
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/weather-file-sync/internal/app"
	"github.com/couchcryptid/weather-file-sync/internal/config"
	"github.com/couchcryptid/weather-file-sync/internal/domain"
	"github.com/couchcryptid/weather-file-sync/internal/observability"
	"github.com/couchcryptid/weather-file-sync/internal/syncer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	categories []domain.Category
	force      bool
	dataDir    string
	history    int
	json       bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("weather-sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	category := fs.String("category", "all", "category to synchronize: historic, future, or all")
	force := fs.Bool("force", false, "re-download files that are already present")
	dataDir := fs.String("data-dir", "", "mirror root (overrides DATA_DIR)")
	history := fs.Int("history", 0, "print the last N recorded runs and exit (requires HISTORY_DB)")
	asJSON := fs.Bool("json", false, "print run summaries as JSON")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if *history < 0 {
		return options{}, errors.New("-history must not be negative")
	}

	cats, err := parseCategories(*category)
	if err != nil {
		return options{}, err
	}
	return options{categories: cats, force: *force, dataDir: *dataDir, history: *history, json: *asJSON}, nil
}

func parseCategories(s string) ([]domain.Category, error) {
	if s == "all" {
		return domain.Categories(), nil
	}
	c, err := domain.ParseCategory(s)
	if err != nil {
		return nil, err
	}
	return []domain.Category{c}, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return domain.ExitOK
		}
		fmt.Fprintln(stderr, "weather-sync:", err)
		return domain.ExitFailed
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return domain.ExitFailed
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid config", "error", err)
			return domain.ExitFailed
		}
	}

	logger := observability.NewLogger(cfg)
	a, err := app.New(cfg, logger, observability.NewMetrics())
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return domain.ExitFailed
	}
	defer a.Close()

	if opts.history > 0 {
		return printHistory(ctx, a, opts.history, stdout, logger)
	}

	sums := a.Syncer.RunAll(ctx, opts.categories, syncer.RunOptions{Force: opts.force})
	code := domain.ExitOK
	for _, s := range sums {
		code = max(code, s.ExitCode())
	}
	if len(sums) < len(opts.categories) {
		code = domain.ExitFailed // interrupted before every category ran
	}

	if opts.json {
		writeJSON(stdout, sums)
	} else {
		for _, s := range sums {
			printSummary(stdout, s)
		}
	}
	return code
}

func printHistory(ctx context.Context, a *app.App, n int, stdout io.Writer, logger *slog.Logger) int {
	if a.History == nil {
		logger.Error("run history is not enabled; set HISTORY_DB")
		return domain.ExitFailed
	}
	runs, err := a.History.Recent(ctx, n)
	if err != nil {
		logger.Error("read run history", "error", err)
		return domain.ExitFailed
	}
	writeJSON(stdout, runs)
	return domain.ExitOK
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printSummary(w io.Writer, s domain.Summary) {
	fmt.Fprintf(w, "%s: %s in %s (run %s)\n", s.Category, s.State, s.Duration().Round(time.Millisecond), s.RunID)
	fmt.Fprintf(w, "  added %d, skipped %d, removed %d, failed %d, %d bytes downloaded\n",
		len(s.Added), len(s.Skipped), len(s.Removed), len(s.Failed), s.BytesDownloaded)
	for _, f := range s.Failed {
		fmt.Fprintf(w, "  failed: %s: %s\n", f.Entry.Filename, f.Error)
	}
	for _, pe := range s.ParseErrors {
		fmt.Fprintf(w, "  unparsed: %s\n", pe.Error())
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	if len(s.Incomplete) > 0 {
		fmt.Fprintf(w, "  incomplete: %d entries\n", len(s.Incomplete))
	}
	if s.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", s.Error)
	}
}
