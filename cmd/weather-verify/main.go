// Command weather-verify checks that a weather-file mirror agrees with its
// index files: every index parses, every indexed file is on disk with the
// recorded size, and no interrupted downloads are left behind. Files on disk
// that no index references are listed but do not fail the check, since
// removed entries are unindexed without being deleted.
//
// Usage:
//
//	go run ./cmd/weather-verify -data-dir /srv/weather [-category all]
package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/weather-file-sync/internal/adapter/index"
	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

// phase tracks pass/fail for a verification phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "", "mirror root containing the index files")
	category := flag.String("category", "all", "category to verify: historic, future, or all")
	flag.Parse()

	if *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	cats := domain.Categories()
	if *category != "all" {
		c, err := domain.ParseCategory(*category)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cats = []domain.Category{c}
	}

	if code := run(*dataDir, cats, os.Stdout); code != 0 {
		os.Exit(code)
	}
}

func run(dataDir string, cats []domain.Category, out io.Writer) int {
	store := index.NewStore(dataDir, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	fmt.Fprintln(out, "=== Weather Mirror Verification ===")
	fmt.Fprintln(out)

	var phases []*phase
	total := 0
	for _, c := range cats {
		load := &phase{name: fmt.Sprintf("%s: index parses", c)}
		catalog, err := store.Load(c)
		if err != nil {
			load.errorf("%v", err)
		}
		total += catalog.Len()
		phases = append(phases,
			load,
			verifyPresence(dataDir, catalog),
			verifyLayout(dataDir, catalog),
		)
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Entries: %d indexed across %d categories\n", total, len(cats))

	for _, p := range phases {
		if p.passed() && len(p.notes) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
		for _, n := range p.notes {
			fmt.Fprintf(out, "  note: %s\n", n)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll verifications passed.")
		return 0
	}
	fmt.Fprintln(out, "\nVerification FAILED.")
	return 1
}

// verifyPresence checks that each indexed entry's file exists, is non-empty,
// and matches the recorded size.
func verifyPresence(dataDir string, catalog domain.Catalog) *phase {
	p := &phase{name: fmt.Sprintf("%s: indexed files present", catalog.Category())}
	for _, e := range catalog.Entries() {
		path := filepath.Join(dataDir, e.RelPath())
		info, err := os.Stat(path)
		switch {
		case err != nil:
			p.errorf("%s: %v", e.Key(), err)
		case !info.Mode().IsRegular():
			p.errorf("%s: %s is not a regular file", e.Key(), path)
		case info.Size() == 0:
			p.errorf("%s: %s is empty", e.Key(), path)
		case e.Size > 0 && info.Size() != e.Size:
			p.errorf("%s: size %d on disk, %d indexed", e.Key(), info.Size(), e.Size)
		}
	}
	return p
}

// verifyLayout walks the category directory for leftover partial downloads
// and notes files that no index entry references.
func verifyLayout(dataDir string, catalog domain.Catalog) *phase {
	p := &phase{name: fmt.Sprintf("%s: no partial downloads", catalog.Category())}
	root := filepath.Join(dataDir, string(catalog.Category()))

	indexed := make(map[string]bool, catalog.Len())
	for _, e := range catalog.Entries() {
		indexed[filepath.Join(dataDir, e.RelPath())] = true
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		switch {
		case strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".part"):
			p.errorf("partial download left behind: %s", path)
		case !indexed[path]:
			p.notef("unindexed file: %s", path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		p.errorf("walk %s: %v", root, err)
	}
	return p
}
