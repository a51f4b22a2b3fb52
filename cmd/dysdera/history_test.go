package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/dysdera/internal/database"
	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/store"
)

// seedDatabase stores one finished run, one unfinished run and two records.
func seedDatabase(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx := t.Context()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := db.StartRun(ctx, "run-0001", []string{"https://example.com/"}, started); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveRun(ctx, &model.CrawlSummary{
		RunID:      "run-0001",
		Seeds:      []string{"https://example.com/"},
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Fetched:    2,
		Persisted:  2,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.StartRun(ctx, "run-0002", []string{"https://example.org/"}, started.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	for i, u := range []string{"https://example.com/", "https://example.com/about"} {
		rec := &model.ContentRecord{
			ID:         "id-" + u,
			RunID:      "run-0001",
			URL:        u,
			Host:       "example.com",
			StatusCode: 200,
			Title:      "Page " + u,
			FetchedAt:  started.Add(time.Duration(i) * time.Second),
		}
		if err := db.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// TestHistoryCommand tests listing runs and showing one.
func TestHistoryCommand(t *testing.T) {
	t.Parallel()

	dir := seedDatabase(t)

	t.Run("lists runs", func(t *testing.T) {
		t.Parallel()

		output, err := execute(t, "history", "--database", dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output, "run-0001") || !strings.Contains(output, "run-0002") {
			t.Errorf("expected both runs, got %q", output)
		}
		if strings.Index(output, "run-0002") > strings.Index(output, "run-0001") {
			t.Errorf("expected the most recent run first, got %q", output)
		}
	})

	t.Run("limits runs", func(t *testing.T) {
		t.Parallel()

		output, err := execute(t, "history", "--database", dir, "-n", "1", "--format", "json")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output, "run-0002") || strings.Contains(output, "run-0001") {
			t.Errorf("expected only the latest run, got %q", output)
		}
	})

	t.Run("shows a finished run", func(t *testing.T) {
		t.Parallel()

		output, err := execute(t, "history", "--database", dir, "--format", "json", "run-0001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var summary model.CrawlSummary
		if err := json.Unmarshal([]byte(output), &summary); err != nil {
			t.Fatalf("expected JSON summary, got %q: %v", output, err)
		}
		if summary.RunID != "run-0001" || summary.Persisted != 2 {
			t.Errorf("unexpected summary %+v", summary)
		}
	})

	t.Run("rejects unfinished run", func(t *testing.T) {
		t.Parallel()

		if _, err := execute(t, "history", "--database", dir, "run-0002"); err == nil || !strings.Contains(err.Error(), "not finished") {
			t.Errorf("expected not finished error, got %v", err)
		}
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		t.Parallel()

		if _, err := execute(t, "history", "--database", dir, "--format", "xml"); err == nil {
			t.Error("expected format error")
		}
	})

	t.Run("missing database", func(t *testing.T) {
		t.Parallel()

		if _, err := execute(t, "history", "--database", filepath.Join(t.TempDir(), "none")); err == nil {
			t.Error("expected error for a missing database")
		}
	})
}

// TestShowCommand tests printing stored records.
func TestShowCommand(t *testing.T) {
	t.Parallel()

	dir := seedDatabase(t)

	t.Run("shows one record", func(t *testing.T) {
		t.Parallel()

		output, err := execute(t, "show", "--database", dir, "https://example.com/about")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var rec model.ContentRecord
		if err := json.Unmarshal([]byte(output), &rec); err != nil {
			t.Fatalf("expected JSON record, got %q: %v", output, err)
		}
		if rec.URL != "https://example.com/about" || rec.Title != "Page https://example.com/about" {
			t.Errorf("unexpected record %+v", rec)
		}
		if !strings.Contains(output, "\n  \"url\"") {
			t.Errorf("expected indented output, got %q", output)
		}
	})

	t.Run("lists host records", func(t *testing.T) {
		t.Parallel()

		output, err := execute(t, "show", "--database", dir, "--host", "example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		records, err := store.ReadJSONL(strings.NewReader(output))
		if err != nil {
			t.Fatalf("expected JSON Lines, got %q: %v", output, err)
		}
		if len(records) != 2 {
			t.Errorf("expected 2 records, got %d", len(records))
		}
	})

	t.Run("unknown URL", func(t *testing.T) {
		t.Parallel()

		if _, err := execute(t, "show", "--database", dir, "https://example.com/missing"); err == nil || !strings.Contains(err.Error(), "no record stored") {
			t.Errorf("expected no record error, got %v", err)
		}
	})

	t.Run("requires a target", func(t *testing.T) {
		t.Parallel()

		if _, err := execute(t, "show", "--database", dir); !errors.Is(err, errShowTarget) {
			t.Errorf("expected errShowTarget, got %v", err)
		}
	})
}

// TestCrawlThenHistory tests that a crawl stores its run and records.
func TestCrawlThenHistory(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	dir := filepath.Join(t.TempDir(), "data")
	jsonlPath := filepath.Join(t.TempDir(), "records.jsonl")

	args := append(fastCrawl(emptyConfig(t)),
		"--database", dir,
		"--jsonl", jsonlPath,
		"--format", "json",
		srv.URL+"/",
	)
	output, err := execute(t, args...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var summary model.CrawlSummary
	if err := json.Unmarshal([]byte(output), &summary); err != nil {
		t.Fatalf("expected JSON summary, got %q: %v", output, err)
	}

	output, err = execute(t, "history", "--database", dir, "--format", "json", summary.RunID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stored model.CrawlSummary
	if err := json.Unmarshal([]byte(output), &stored); err != nil {
		t.Fatalf("expected JSON summary, got %q: %v", output, err)
	}
	if stored.RunID != summary.RunID || stored.Persisted != 3 {
		t.Errorf("expected stored summary of %s, got %+v", summary.RunID, stored)
	}

	output, err = execute(t, "show", "--database", dir, srv.URL+"/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, `"title": "Home"`) {
		t.Errorf("expected the home page record, got %q", output)
	}

	output, err = execute(t, "show", "--jsonl", jsonlPath, srv.URL+"/b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, `"title": "B"`) {
		t.Errorf("expected page B from the JSON Lines file, got %q", output)
	}
}
