package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/dysdera/internal/model"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) (*CrawlDB, func()) {
	t.Helper()

	db, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return db, cleanup
}

func testRecord(url string) *model.ContentRecord {
	rec := model.NewContentRecord(&model.URLRecord{URL: url, Host: "example.com", Kind: model.KindPage})
	rec.StatusCode = 200
	rec.ContentType = "text/html"
	rec.FetchedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return rec
}

// TestOpen tests database opening and creation.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		db, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dbDir, FileName)); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != filepath.Join(dbDir, FileName) {
			t.Errorf("unexpected path %q", db.Path())
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "nonexistent-db")
		_, err := Open(dbDir, Options{CreateIfNotExists: false, EnableWAL: true})
		if err == nil {
			t.Fatal("expected error when CreateIfNotExists=false and database does not exist")
		}
		if !strings.Contains(err.Error(), "database not found") {
			t.Errorf("expected error to contain %q, got %q", "database not found", err.Error())
		}
		if _, statErr := os.Stat(dbDir); !os.IsNotExist(statErr) {
			t.Error("database directory should not have been created when CreateIfNotExists=false")
		}
	})

	t.Run("CreateIfNotExists=false opens existing database", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "existing-db")
		db1, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		ctx := context.Background()
		if err := db1.Save(ctx, testRecord("http://example.com/page")); err != nil {
			t.Fatalf("failed to save record: %v", err)
		}
		db1.Close()

		db2, err := Open(dbDir, Options{CreateIfNotExists: false, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to open existing database with CreateIfNotExists=false: %v", err)
		}
		defer db2.Close()

		got, err := db2.Get(ctx, "http://example.com/page")
		if err != nil {
			t.Fatalf("failed to get record: %v", err)
		}
		if got == nil {
			t.Error("expected record to exist in database")
		}
	})
}

// TestDefaultOptions tests the default options values.
func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	if !opts.CreateIfNotExists {
		t.Error("expected CreateIfNotExists to be true by default")
	}
	if !opts.EnableWAL {
		t.Error("expected EnableWAL to be true by default")
	}
}

// TestSaveAndGet tests record persistence.
func TestSaveAndGet(t *testing.T) {
	t.Parallel()

	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("save and retrieve record", func(t *testing.T) {
		rec := testRecord("http://example.com/a")
		rec.Title = "Example"
		rec.Links = []string{"http://example.com/b"}
		rec.Meta = map[string]string{"description": "d"}

		if err := db.Save(ctx, rec); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
		got, err := db.Get(ctx, rec.URL)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if got == nil {
			t.Fatal("expected record, got nil")
		}
		if got.Title != "Example" || got.ID != rec.ID || len(got.Links) != 1 || got.Meta["description"] != "d" {
			t.Errorf("unexpected record %+v", got)
		}
		if !got.FetchedAt.Equal(rec.FetchedAt) {
			t.Errorf("expected fetched_at %v, got %v", rec.FetchedAt, got.FetchedAt)
		}
	})

	t.Run("upsert replaces existing record", func(t *testing.T) {
		rec := testRecord("http://example.com/upsert")
		rec.Title = "first"
		_ = db.Save(ctx, rec)
		rec.Title = "second"
		if err := db.Save(ctx, rec); err != nil {
			t.Fatalf("failed to save: %v", err)
		}

		got, _ := db.Get(ctx, rec.URL)
		if got.Title != "second" {
			t.Errorf("expected title 'second', got %q", got.Title)
		}
	})

	t.Run("returns nil for non-existent record", func(t *testing.T) {
		got, err := db.Get(ctx, "http://example.com/missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})
}

// TestConcurrentSave tests saves from several goroutines.
func TestConcurrentSave(t *testing.T) {
	t.Parallel()

	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testRecord("http://example.com/" + string(rune('a'+i)))
			rec.RunID = "run-1"
			if err := db.Save(ctx, rec); err != nil {
				t.Errorf("save failed: %v", err)
			}
			// Saving twice must stay a single record.
			if err := db.Save(ctx, rec); err != nil {
				t.Errorf("save failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, err := db.CountRecords(ctx, "run-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 16 {
		t.Errorf("expected 16 records, got %d", n)
	}
}

// TestLastModified tests the conditional fetch lookup.
func TestLastModified(t *testing.T) {
	t.Parallel()

	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	lm := time.Date(2023, 12, 24, 8, 30, 0, 0, time.UTC)
	rec := testRecord("http://example.com/lm")
	rec.LastModified = &lm
	_ = db.Save(ctx, rec)
	_ = db.Save(ctx, testRecord("http://example.com/nolm"))

	got, ok := db.LastModified(ctx, "http://example.com/lm")
	if !ok || !got.Equal(lm) {
		t.Errorf("expected %v, got %v (ok=%v)", lm, got, ok)
	}
	if _, ok := db.LastModified(ctx, "http://example.com/nolm"); ok {
		t.Error("expected no last-modified for record without one")
	}
	if _, ok := db.LastModified(ctx, "http://example.com/unknown"); ok {
		t.Error("expected no last-modified for unknown url")
	}

	failed := testRecord("http://example.com/lm")
	failed.Failed = true
	failed.LastModified = &lm
	_ = db.Save(ctx, failed)
	if _, ok := db.LastModified(ctx, "http://example.com/lm"); ok {
		t.Error("expected failed record to be ignored")
	}
}

// TestListRecords tests host filtering and limits.
func TestListRecords(t *testing.T) {
	t.Parallel()

	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i, u := range []string{"http://example.com/1", "http://example.com/2", "http://other.com/3"} {
		rec := testRecord(u)
		if strings.Contains(u, "other.com") {
			rec.Host = "other.com"
		}
		rec.FetchedAt = rec.FetchedAt.Add(time.Duration(i) * time.Minute)
		_ = db.Save(ctx, rec)
	}

	recs, err := db.ListRecords(ctx, "example.com", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(recs) != 2 || recs[0].URL != "http://example.com/2" {
		t.Errorf("expected newest example.com record first, got %d records", len(recs))
	}

	recs, _ = db.ListRecords(ctx, "", 1)
	if len(recs) != 1 || recs[0].URL != "http://other.com/3" {
		t.Errorf("expected only the newest record, got %d records", len(recs))
	}
}

// TestRuns tests run history.
func TestRuns(t *testing.T) {
	t.Parallel()

	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.StartRun(ctx, "run-a", []string{"http://example.com/"}, start); err != nil {
		t.Fatalf("start run failed: %v", err)
	}

	if s, err := db.GetRun(ctx, "run-a"); err != nil || s != nil {
		t.Errorf("expected unfinished run to have no summary, got %+v, %v", s, err)
	}

	summary := &model.CrawlSummary{
		RunID:      "run-a",
		Seeds:      []string{"http://example.com/"},
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Fetched:    3,
		Persisted:  3,
		Denied:     map[string]int64{"scope:host-not-allowed": 1},
	}
	if err := db.SaveRun(ctx, summary); err != nil {
		t.Fatalf("save run failed: %v", err)
	}
	if err := db.SaveRun(ctx, &model.CrawlSummary{
		RunID:      "run-b",
		Seeds:      []string{"http://other.com/"},
		StartedAt:  start.Add(time.Hour),
		FinishedAt: start.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("save run failed: %v", err)
	}

	got, err := db.GetRun(ctx, "run-a")
	if err != nil || got == nil {
		t.Fatalf("expected summary, got %v", err)
	}
	if got.Persisted != 3 || got.Denied["scope:host-not-allowed"] != 1 || got.Duration() != time.Minute {
		t.Errorf("unexpected summary %+v", got)
	}

	runs, err := db.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Errorf("expected most recent first, got %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[1].Persisted != 3 || len(runs[1].Seeds) != 1 || !runs[1].FinishedAt.Equal(start.Add(time.Minute)) {
		t.Errorf("unexpected metadata %+v", runs[1])
	}

	if s, err := db.GetRun(ctx, "missing"); err != nil || s != nil {
		t.Errorf("expected nil for missing run, got %+v, %v", s, err)
	}
}

// TestParseTimestamp tests timestamp parsing.
func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		zero  bool
	}{
		{"2024-01-02 03:04:05", false},
		{"2024-01-02T03:04:05Z", false},
		{"2024-01-02T03:04:05.123456789Z", false},
		{"not a time", true},
	}
	for _, tt := range tests {
		if got := parseTimestamp(tt.input); got.IsZero() != tt.zero {
			t.Errorf("parseTimestamp(%q): expected zero=%v, got %v", tt.input, tt.zero, got)
		}
	}
}
