package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/dysdera/internal/model"
)

// StartRun records the start of a crawl run.
func (cdb *CrawlDB) StartRun(ctx context.Context, id string, seeds []string, started time.Time) error {
	seedsJSON, err := json.Marshal(seeds)
	if err != nil {
		return fmt.Errorf("failed to serialize seeds: %w", err)
	}

	_, err = cdb.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, seeds) VALUES (?, ?, ?)`,
		id, started.UTC().Format(time.RFC3339Nano), string(seedsJSON))
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// SaveRun stores the final summary of a run, creating the run row if
// StartRun was never called.
func (cdb *CrawlDB) SaveRun(ctx context.Context, s *model.CrawlSummary) error {
	summaryJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize summary: %w", err)
	}
	seedsJSON, err := json.Marshal(s.Seeds)
	if err != nil {
		return fmt.Errorf("failed to serialize seeds: %w", err)
	}

	query := `
	INSERT INTO runs (id, started_at, finished_at, seeds, summary_json)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		finished_at = excluded.finished_at,
		summary_json = excluded.summary_json
	`

	_, err = cdb.db.ExecContext(ctx, query,
		s.RunID,
		s.StartedAt.UTC().Format(time.RFC3339Nano),
		s.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(seedsJSON),
		string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves the summary of a finished run. It returns nil when the
// run does not exist or has not finished.
func (cdb *CrawlDB) GetRun(ctx context.Context, id string) (*model.CrawlSummary, error) {
	var summaryJSON sql.NullString
	err := cdb.db.QueryRowContext(ctx, `SELECT summary_json FROM runs WHERE id = ?`, id).Scan(&summaryJSON)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !summaryJSON.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var s model.CrawlSummary
	if err := json.Unmarshal([]byte(summaryJSON.String), &s); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	return &s, nil
}

// ListRuns returns the run history, most recent first.
func (cdb *CrawlDB) ListRuns(ctx context.Context, limit int) ([]model.RunInfo, error) {
	query := `
	SELECT id, started_at, finished_at, seeds, summary_json
	FROM runs
	ORDER BY started_at DESC
	`
	args := make([]interface{}, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var results []model.RunInfo
	for rows.Next() {
		var meta model.RunInfo
		var started, seeds string
		var finished, summaryJSON sql.NullString

		if err := rows.Scan(&meta.ID, &started, &finished, &seeds, &summaryJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		meta.StartedAt = parseTimestamp(started)
		if finished.Valid {
			meta.FinishedAt = parseTimestamp(finished.String)
		}
		if err := json.Unmarshal([]byte(seeds), &meta.Seeds); err != nil {
			meta.Seeds = nil
		}
		if summaryJSON.Valid {
			var s model.CrawlSummary
			if err := json.Unmarshal([]byte(summaryJSON.String), &s); err == nil {
				meta.Interrupted = s.Interrupted
				meta.Fetched = s.Fetched
				meta.Persisted = s.Persisted
				meta.Failed = s.Failed
			}
		}
		results = append(results, meta)
	}
	return results, rows.Err()
}
