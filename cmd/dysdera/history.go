package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nao1215/dysdera/internal/config"
	"github.com/nao1215/dysdera/internal/database"
	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/report"
	"github.com/nao1215/dysdera/internal/store"
	"github.com/spf13/cobra"
)

// defaultHistoryLimit is the number of runs listed by default.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past crawl runs or show the summary of one",
		Long: `History reads the run history from the database.

Without arguments it lists the most recent runs. With a run ID it prints the
summary that run stored when it stopped.

Examples:
  # List the last 20 runs
  dysdera history

  # Show one run as JSON
  dysdera history --format json 0b6f3c1e-8d8e-4a53-9d43-2f0a4f1c2b7e`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Maximum number of runs to list (0 for all)")
	cmd.Flags().StringP("format", "f", config.DefaultReportFormat, "Output format (text, json or markdown)")
	cmd.Flags().String("database", "", "Database directory (default: XDG data directory)")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	// Validate the format before opening the database.
	w, err := report.New(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	db, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		summary, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		if summary == nil {
			return fmt.Errorf("run %s not found or not finished", args[0])
		}
		_, err = w.WriteSummary(summary)
		return err
	}

	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	_, err = w.WriteRuns(runs)
	return err
}

// NewShowCmd creates the show command.
func NewShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [url]",
		Short: "Print stored content records as JSON",
		Long: `Show prints content records from the database or a JSON Lines file.

With a URL it prints the record stored for that canonical URL. With --host it
lists the records of one host, most recently fetched first, one JSON object
per line.

Examples:
  # Print one record
  dysdera show https://example.com/

  # List the records of a host
  dysdera show --host example.com --limit 50

  # Read records written with --jsonl instead of the database
  dysdera show --jsonl out.jsonl https://example.com/`,
		Args: cobra.MaximumNArgs(1),
		RunE: runShowCmd,
	}

	cmd.Flags().String("host", "", "List the records of this host key")
	cmd.Flags().IntP("limit", "n", 0, "Maximum number of records to list (0 for all)")
	cmd.Flags().String("jsonl", "", "Read records from a JSON Lines file")
	cmd.Flags().String("database", "", "Database directory (default: XDG data directory)")

	return cmd
}

// errShowTarget is returned when show has neither a URL nor --host.
var errShowTarget = errors.New("a URL or --host is required")

// runShowCmd executes the show command.
func runShowCmd(cmd *cobra.Command, args []string) error {
	host, err := cmd.Flags().GetString("host")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	jsonlPath, err := cmd.Flags().GetString("jsonl")
	if err != nil {
		return err
	}
	if len(args) == 0 && host == "" {
		return errShowTarget
	}

	var records []*model.ContentRecord
	if jsonlPath != "" {
		records, err = readJSONLFile(jsonlPath)
	} else {
		records, err = readDatabase(cmd, args, host, limit)
	}
	if err != nil {
		return err
	}

	records = filterRecords(records, args, host, limit)
	if len(args) == 1 && len(records) == 0 {
		return fmt.Errorf("no record stored for %s", args[0])
	}
	return writeRecords(cmd.OutOrStdout(), records, len(args) == 1)
}

func readJSONLFile(path string) ([]*model.ContentRecord, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return store.ReadJSONL(f)
}

func readDatabase(cmd *cobra.Command, args []string, host string, limit int) ([]*model.ContentRecord, error) {
	db, err := openDatabase(cmd)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if len(args) == 1 {
		rec, err := db.Get(cmd.Context(), args[0])
		if err != nil || rec == nil {
			return nil, err
		}
		return []*model.ContentRecord{rec}, nil
	}
	return db.ListRecords(cmd.Context(), host, limit)
}

// filterRecords narrows records to the URL or host asked for.
func filterRecords(records []*model.ContentRecord, args []string, host string, limit int) []*model.ContentRecord {
	out := make([]*model.ContentRecord, 0, len(records))
	for _, rec := range records {
		if len(args) == 1 && rec.URL != args[0] {
			continue
		}
		if host != "" && rec.Host != host {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// writeRecords prints one indented record, or one record per line.
func writeRecords(w io.Writer, records []*model.ContentRecord, single bool) error {
	enc := json.NewEncoder(w)
	if single {
		enc.SetIndent("", "  ")
	}
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// openDatabase opens the database named by --database, DYSDERA_DATABASE or
// the XDG data directory, in that order.
func openDatabase(cmd *cobra.Command) (*database.CrawlDB, error) {
	dir, err := cmd.Flags().GetString("database")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dotenv, err := config.ReadEnvFile(config.DefaultEnvFile)
		if err != nil {
			return nil, err
		}
		dir = config.EnvLookup(dotenv)(config.EnvDatabase)
	}
	if dir == "" {
		dir = config.XDGDataDir()
	}

	opts := database.DefaultOptions()
	// Reading never creates an empty database.
	opts.CreateIfNotExists = false
	db, err := database.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
