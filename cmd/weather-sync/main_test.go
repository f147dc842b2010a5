package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

func TestParseFlags_Defaults(t *testing.T) {
	opts, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, domain.Categories(), opts.categories)
	assert.False(t, opts.force)
	assert.Zero(t, opts.history)
}

func TestParseFlags_SingleCategory(t *testing.T) {
	opts, err := parseFlags([]string{"-category", "Future", "-force", "-data-dir", "/srv/weather"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []domain.Category{domain.CategoryFuture}, opts.categories)
	assert.True(t, opts.force)
	assert.Equal(t, "/srv/weather", opts.dataDir)
}

func TestParseFlags_Invalid(t *testing.T) {
	tests := [][]string{
		{"-category", "nowcast"},
		{"-history", "-1"},
		{"extra"},
		{"-unknown"},
	}
	for _, args := range tests {
		_, err := parseFlags(args, &bytes.Buffer{})
		assert.Error(t, err, "args %v", args)
	}
}

func TestRun_BadUsageExitsFailed(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-category", "nowcast"}, &bytes.Buffer{}, &stderr)
	assert.Equal(t, domain.ExitFailed, code)
	assert.Contains(t, stderr.String(), "unknown category")
}

func TestRun_BadConfigExitsFailed(t *testing.T) {
	t.Setenv("HISTORIC_SOURCE_URL", "ftp://example.com/")
	code := run(context.Background(), nil, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Equal(t, domain.ExitFailed, code)
}

func TestPrintSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := domain.Summary{
		RunID:      "run-1",
		Category:   domain.CategoryHistoric,
		State:      domain.StateDone,
		Added:      []domain.CatalogEntry{{Filename: "A.epw"}},
		Failed:     []domain.FailedEntry{{Entry: domain.CatalogEntry{Filename: "B.epw"}, Error: "download failed: 404"}},
		Warnings:   []string{"corrupt index moved to x"},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}

	var buf bytes.Buffer
	printSummary(&buf, s)
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "historic: done in 1.5s (run run-1)\n"))
	assert.Contains(t, out, "added 1, skipped 0, removed 0, failed 1")
	assert.Contains(t, out, "failed: B.epw: download failed: 404")
	assert.Contains(t, out, "warning: corrupt index moved to x")
}
