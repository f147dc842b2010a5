// Command migrate-index converts a legacy index (a JSON array of file names
// or download URLs) into the structured per-category index, and optionally
// moves files downloaded flat into <category>/ into their station
// directories.
//
// Usage:
//
//	go run ./cmd/migrate-index \
//	  -category future \
//	  -legacy old/future_weather_filenames.json \
//	  -data-dir /srv/weather \
//	  [-base https://climate.onebuilding.org/.../CAN_Canada_Future/] \
//	  [-relocate]
//
// Relative names are resolved against -base, which defaults to the
// category's configured source URL.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/weather-file-sync/internal/adapter/index"
	"github.com/couchcryptid/weather-file-sync/internal/config"
	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

type options struct {
	category domain.Category
	legacy   string
	dataDir  string
	base     string
	relocate bool
}

// report summarizes one migration for the operator.
type report struct {
	converted  int
	duplicates int
	relocated  int
	rejected   []string
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	category := flag.String("category", "", "category being migrated: historic or future")
	legacy := flag.String("legacy", "", "path to the legacy JSON array of names")
	dataDir := flag.String("data-dir", "", "mirror root; defaults to DATA_DIR")
	base := flag.String("base", "", "base URL for relative names; defaults to the category's source URL")
	relocate := flag.Bool("relocate", false, "move flat <category>/<file> downloads into <category>/<station>/")
	flag.Parse()

	if *category == "" || *legacy == "" {
		flag.Usage()
		return errors.New("missing required flags: -category, -legacy")
	}
	cat, err := domain.ParseCategory(*category)
	if err != nil {
		return err
	}

	opts := options{category: cat, legacy: *legacy, dataDir: *dataDir, base: *base, relocate: *relocate}
	if opts.dataDir == "" || opts.base == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if opts.dataDir == "" {
			opts.dataDir = cfg.DataDir
		}
		if opts.base == "" {
			opts.base = cfg.Sources()[cat]
		}
	}

	rep, err := migrate(opts, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		return err
	}
	printReport(os.Stdout, opts, rep)
	return nil
}

// migrate writes the structured index for opts.category. An existing index
// for the category is replaced.
func migrate(opts options, logger *slog.Logger) (report, error) {
	var rep report

	names, err := readLegacy(opts.legacy)
	if err != nil {
		return rep, err
	}
	base, err := url.Parse(opts.base)
	if err != nil || base.Scheme == "" {
		return rep, fmt.Errorf("invalid base URL %q", opts.base)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	store := index.NewStore(opts.dataDir, time.Hour, logger)
	unlock, err := store.Lock(opts.category)
	if err != nil {
		return rep, err
	}
	defer unlock()

	catalog := domain.NewCatalog(opts.category)
	for _, name := range names {
		e, err := convert(opts.category, base, name)
		if err != nil {
			rep.rejected = append(rep.rejected, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if _, dup := catalog.Get(e.Key()); dup {
			rep.duplicates++
			continue
		}

		target := filepath.Join(opts.dataDir, e.RelPath())
		if opts.relocate {
			moved, err := relocateFlat(opts.dataDir, e)
			if err != nil {
				return rep, err
			}
			if moved {
				rep.relocated++
			}
		}
		if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
			e.Size = info.Size()
		}

		catalog.Put(e)
		rep.converted++
	}

	if err := store.Save(opts.category, catalog); err != nil {
		return rep, err
	}
	return rep, nil
}

func readLegacy(p string) ([]string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read legacy index: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("legacy index %s is not a JSON array of strings: %w", p, err)
	}
	return names, nil
}

// convert turns one legacy name into an entry. Absolute URLs are kept as the
// locator; relative names such as "AB_Alberta/CAN_AB_...zip" are resolved
// against base.
func convert(category domain.Category, base *url.URL, name string) (domain.CatalogEntry, error) {
	ref, err := url.Parse(strings.TrimSpace(name))
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return domain.CatalogEntry{}, fmt.Errorf("unsupported scheme %q", abs.Scheme)
	}

	filename := path.Base(abs.Path)
	station, kind, err := domain.ClassifyFilename(filename)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	e := domain.CatalogEntry{
		StationID:     station,
		Category:      category,
		FileKind:      kind,
		Filename:      filename,
		RemoteLocator: abs.String(),
	}
	return e, e.Validate()
}

// relocateFlat moves <dataDir>/<category>/<filename> to the entry's station
// directory when the flat file exists and the target does not.
func relocateFlat(dataDir string, e domain.CatalogEntry) (bool, error) {
	flat := filepath.Join(dataDir, string(e.Category), e.Filename)
	target := filepath.Join(dataDir, e.RelPath())

	if _, err := os.Stat(flat); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if _, err := os.Stat(target); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, fmt.Errorf("relocate %s: %w", e.Filename, err)
	}
	if err := os.Rename(flat, target); err != nil {
		return false, fmt.Errorf("relocate %s: %w", e.Filename, err)
	}
	return true, nil
}

func printReport(w io.Writer, opts options, rep report) {
	fmt.Fprintf(w, "=== %s index migrated ===\n", opts.category)
	fmt.Fprintf(w, "  entries written:  %d\n", rep.converted)
	fmt.Fprintf(w, "  duplicates:       %d\n", rep.duplicates)
	if opts.relocate {
		fmt.Fprintf(w, "  files relocated:  %d\n", rep.relocated)
	}
	fmt.Fprintf(w, "  rejected:         %d\n", len(rep.rejected))
	for _, r := range rep.rejected {
		fmt.Fprintf(w, "    %s\n", r)
	}
}
