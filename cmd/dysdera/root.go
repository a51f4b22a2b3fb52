package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nao1215/dysdera/internal/config"
	"github.com/nao1215/dysdera/internal/log"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for dysdera.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dysdera",
		Short: "Polite, policy-driven web crawler",
		Long: `dysdera crawls web sites from a set of seed URLs.

It honors robots.txt and per-host politeness delays, keeps the crawl inside
the configured scope and stores every fetched page with its extracted text,
links and metadata in a SQLite database and optional JSON Lines files.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-format", config.DefaultLogFormat, "Log format (text or json)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewShowCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getLogFormatFlag retrieves the log format from the command or its parent.
func getLogFormatFlag(cmd *cobra.Command) string {
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		format, err = cmd.Root().PersistentFlags().GetString("log-format")
		if err != nil {
			return config.DefaultLogFormat
		}
	}
	return format
}

// setupLogger creates the secure structured logger writing to w.
func setupLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	logger := log.New(w, format, verbose)
	slog.SetDefault(logger)
	return logger
}
