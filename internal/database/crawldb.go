package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/dysdera/internal/model"
)

// FileName is the database file created inside the database directory.
const FileName = "dysdera.db"

// CrawlDB is a SQLite document store for content records and run history.
//
// Records are stored as JSON documents keyed by URL, so saving the same
// record twice is an upsert. A few fields are copied into columns for
// lookups (host, run, last-modified).
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite: mode=rw refuses to create a new file, mode=rwc allows it.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers from concurrent workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- Content records, one document per canonical URL
	CREATE TABLE IF NOT EXISTS records (
		url TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		run_id TEXT,
		host TEXT NOT NULL,
		status_code INTEGER,
		failed INTEGER DEFAULT 0,
		last_modified TEXT,
		fetched_at TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		doc TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_host ON records(host);
	CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id);

	-- Crawl runs with their summary
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		seeds TEXT NOT NULL,
		summary_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// Save stores rec, replacing any record with the same URL.
// It implements store.Sink.
func (cdb *CrawlDB) Save(ctx context.Context, rec *model.ContentRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	var lastModified sql.NullString
	if rec.LastModified != nil {
		lastModified = sql.NullString{String: rec.LastModified.UTC().Format(time.RFC3339), Valid: true}
	}

	query := `
	INSERT INTO records (url, id, run_id, host, status_code, failed, last_modified, fetched_at, doc)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		run_id = excluded.run_id,
		host = excluded.host,
		status_code = excluded.status_code,
		failed = excluded.failed,
		last_modified = COALESCE(excluded.last_modified, records.last_modified),
		fetched_at = excluded.fetched_at,
		doc = excluded.doc,
		updated_at = CURRENT_TIMESTAMP
	`

	_, err = cdb.db.ExecContext(ctx, query,
		rec.URL,
		rec.ID,
		rec.RunID,
		rec.Host,
		rec.StatusCode,
		boolInt(rec.Failed),
		lastModified,
		rec.FetchedAt.UTC().Format(time.RFC3339Nano),
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Get retrieves the record stored for url. It returns nil when there is none.
func (cdb *CrawlDB) Get(ctx context.Context, url string) (*model.ContentRecord, error) {
	var doc string
	err := cdb.db.QueryRowContext(ctx, `SELECT doc FROM records WHERE url = ?`, url).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec model.ContentRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return &rec, nil
}

// LastModified returns the stored Last-Modified time for url.
// It implements fetcher.LastModifiedLookup; lookup errors count as a miss.
func (cdb *CrawlDB) LastModified(ctx context.Context, url string) (time.Time, bool) {
	var value sql.NullString
	err := cdb.db.QueryRowContext(ctx,
		`SELECT last_modified FROM records WHERE url = ? AND failed = 0`, url).Scan(&value)
	if err != nil || !value.Valid {
		return time.Time{}, false
	}
	t := parseTimestamp(value.String)
	return t, !t.IsZero()
}

// CountRecords returns the number of records, optionally for one run.
func (cdb *CrawlDB) CountRecords(ctx context.Context, runID string) (int, error) {
	query := `SELECT COUNT(*) FROM records`
	args := make([]interface{}, 0, 1)
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}

	var count int
	if err := cdb.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// ListRecords returns the records of a host, most recently fetched first.
// An empty host lists every record.
func (cdb *CrawlDB) ListRecords(ctx context.Context, host string, limit int) ([]*model.ContentRecord, error) {
	query := `SELECT doc FROM records WHERE 1=1`
	args := make([]interface{}, 0, 2)
	if host != "" {
		query += " AND host = ?"
		args = append(args, host)
	}
	query += " ORDER BY fetched_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var results []*model.ContentRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var rec model.ContentRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			continue // Skip malformed documents
		}
		results = append(results, &rec)
	}
	return results, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05", // SQLite default datetime format
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp parses a stored timestamp, returning the zero time when
// no format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
