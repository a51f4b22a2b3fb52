package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nao1215/dysdera/internal/config"
	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/report"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Crawl web sites starting from seed URLs",
		Long: `Crawl fetches the seed URLs and follows their links until the frontier
is empty, the run timeout expires or the crawl is interrupted.

Every fetched page is stored in the SQLite database under the XDG data
directory. A summary is printed when the crawl stops.

Settings are read from the built-in defaults, the configuration file, the
environment (DYSDERA_USER_AGENT, DYSDERA_PROXY, DYSDERA_DATABASE, also read
from .env) and the flags below, each overriding the previous one.

Examples:
  # Crawl one site, three links deep
  dysdera crawl https://example.com/

  # Stay on docs pages and skip PDFs
  dysdera crawl --allow "example.com/docs/*" --deny "*.pdf" https://example.com/docs/

  # Faster crawl of a server you own
  dysdera crawl --delay 100ms --host-concurrency 4 https://intranet.example/

  # Write records as JSON Lines and print a Markdown summary
  dysdera crawl --jsonl out.jsonl --format markdown https://example.com/

  # Crawl through Tor
  dysdera crawl --tor http://exampleonionaddress.onion/

Configuration file (.dysdera) example:
  crawl:
    maxDepth: 5
    perHostDelay: 2s
  sites:
    example.com:
      cookie: "session=abc123"
      ignorePatterns: ["/private/*"]`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	f := cmd.Flags()

	// Scope flags
	f.StringSlice("allow", nil, "Allowed host patterns (example.com, *.example.org, example.net/docs/*, * for any; default: the seed hosts)")
	f.StringSlice("deny", nil, "URL glob patterns that are never crawled")
	f.IntP("depth", "d", config.DefaultMaxDepth, "Maximum link depth from a seed (negative for no limit)")
	f.Bool("extended-scope", false, "Also fetch off-scope pages linked from in-scope pages")
	f.Bool("respect-robots", true, "Honor robots.txt, meta robots and rel=nofollow")

	// Content flags
	f.StringSlice("content-type", nil, "Accepted response media types (default html, xml and jpeg)")
	f.Int64("max-content-length", config.DefaultMaxContentLength, "Maximum response body size in bytes")
	f.Bool("follow-canonical", false, "Enqueue <link rel=canonical> targets")
	f.Bool("sitemaps", false, "Enqueue the sitemaps of every new host")
	f.Int("duplicates", 0, "Duplicate content sensitivity (0 off, 1 exact, larger for near duplicates)")
	f.Bool("readability", false, "Extract the main article text of HTML pages")
	f.Bool("detect-language", false, "Detect the language of pages without <html lang>")

	// Politeness flags
	f.DurationP("delay", "D", config.DefaultPerHostDelay, "Minimum delay between requests to one host")
	f.Int("host-concurrency", config.DefaultPerHostConcurrency, "Maximum concurrent requests per host")
	f.Float64("rate", 0, "Per-host token bucket rate in requests per second (0 to disable)")
	f.Int("burst", 1, "Per-host token bucket size")
	f.String("host-key", "authority", "Politeness grouping: authority or registrable")
	f.Duration("robots-ttl", config.DefaultRobotsTTL, "robots.txt cache lifetime")

	// Fetch flags
	f.IntP("workers", "w", config.DefaultGlobalConcurrency, "Number of crawl workers")
	f.DurationP("timeout", "t", config.DefaultFetchTimeout, "Timeout for each fetch")
	f.Int("retries", config.DefaultMaxRetries, "Retries after a retryable fetch failure")
	f.Duration("retry-delay", config.DefaultRetryBaseDelay, "Backoff before the first retry")
	f.Duration("retry-max-delay", config.DefaultRetryMaxDelay, "Maximum retry backoff")
	f.Int("max-redirects", config.DefaultMaxRedirects, "Maximum redirect hops per fetch")
	f.StringP("user-agent", "A", config.DefaultUserAgent, "User-Agent header")
	f.StringArrayP("header", "H", nil, `Extra request header ("Name: value"), repeatable`)
	f.Bool("keep-fragments", false, "Keep #fragments in canonical URLs")
	f.Bool("sort-query", false, "Sort query parameters in canonical URLs")
	f.Bool("conditional", false, "Send If-Modified-Since for URLs already stored")

	// Selection flags
	f.StringP("selection", "s", config.DefaultSelection, "Frontier selection policy (bfs, dfs, fifo, lifo, keyword, interleaved)")
	f.StringArrayP("keyword", "k", nil, `Keyword weight for the keyword policy ("term=weight"), repeatable`)

	// Network flags
	f.StringP("proxy", "x", "", "SOCKS5 proxy address (e.g., 127.0.0.1:9050)")
	f.Bool("tor", false, "Start an embedded Tor daemon and crawl through it")
	f.Duration("tor-timeout", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")

	// Output flags
	f.String("jsonl", "", `Append records to a JSON Lines file ("auto" for the data directory)`)
	f.String("database", "", "Database directory (default: XDG data directory)")
	f.Bool("no-database", false, "Do not store records in the database")
	f.Int("persist-retries", config.DefaultPersistRetries, "Save attempts per record")
	f.Duration("stall-threshold", 0, "Log the blocking host when no fetch completes for this long")
	f.Duration("run-timeout", 0, "Stop the crawl after this long")
	f.StringP("format", "f", config.DefaultReportFormat, "Summary format (text, json or markdown)")
	f.StringP("output", "o", "", "Write the summary to the specified file path (creates directories if needed)")

	// Configuration file
	f.StringP("config", "c", "", "Configuration file path (default: .dysdera in current or home directory)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.Verbose)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, stopping crawl...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCrawl(ctx, cfg, cmd.OutOrStdout(), logger)
}

// buildConfig layers the config file, the environment and the changed
// flags over the defaults.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use the defaults if no file found.
	path := config.FindConfigFile(configPath)
	switch {
	case path != "":
		cf, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg.ApplyFile(cf)
		cfg.ConfigFilePath = path
	case configPath != "":
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	dotenv, err := config.ReadEnvFile(config.DefaultEnvFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(config.EnvLookup(dotenv))

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.LogFormat = getLogFormatFlag(cmd)
	cfg.Seeds = args
	return cfg, nil
}

// applyFlags copies the flags the user set onto cfg. Flags left at their
// default do not override the file or the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	str := func(name string, dst *string) {
		if f.Changed(name) {
			v, err := f.GetString(name)
			keep(err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if f.Changed(name) {
			v, err := f.GetBool(name)
			keep(err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if f.Changed(name) {
			v, err := f.GetInt(name)
			keep(err)
			*dst = v
		}
	}
	duration := func(name string, dst *time.Duration) {
		if f.Changed(name) {
			v, err := f.GetDuration(name)
			keep(err)
			*dst = v
		}
	}
	slice := func(name string, dst *[]string) {
		if f.Changed(name) {
			v, err := f.GetStringSlice(name)
			keep(err)
			*dst = v
		}
	}

	slice("allow", &cfg.AllowedHosts)
	slice("deny", &cfg.DeniedPatterns)
	integer("depth", &cfg.MaxDepth)
	boolean("extended-scope", &cfg.ExtendedScope)
	boolean("respect-robots", &cfg.RespectRobots)

	slice("content-type", &cfg.AllowedContentTypes)
	if f.Changed("max-content-length") {
		v, err := f.GetInt64("max-content-length")
		keep(err)
		cfg.MaxContentLength = v
	}
	boolean("follow-canonical", &cfg.FollowCanonical)
	boolean("sitemaps", &cfg.VisitSitemaps)
	integer("duplicates", &cfg.DuplicateSensitivity)
	boolean("readability", &cfg.Readability)
	boolean("detect-language", &cfg.DetectLanguage)

	duration("delay", &cfg.PerHostDelay)
	integer("host-concurrency", &cfg.PerHostConcurrency)
	if f.Changed("rate") {
		v, err := f.GetFloat64("rate")
		keep(err)
		cfg.PerHostRate = v
	}
	integer("burst", &cfg.PerHostBurst)
	str("host-key", &cfg.HostKeyMode)
	duration("robots-ttl", &cfg.RobotsTTL)

	integer("workers", &cfg.GlobalConcurrency)
	duration("timeout", &cfg.FetchTimeout)
	integer("retries", &cfg.MaxRetries)
	duration("retry-delay", &cfg.RetryBaseDelay)
	duration("retry-max-delay", &cfg.RetryMaxDelay)
	integer("max-redirects", &cfg.MaxRedirects)
	str("user-agent", &cfg.UserAgent)
	boolean("keep-fragments", &cfg.KeepFragments)
	boolean("sort-query", &cfg.SortQuery)
	boolean("conditional", &cfg.ConditionalFetch)

	str("selection", &cfg.Selection)

	str("proxy", &cfg.ProxyAddr)
	boolean("tor", &cfg.UseTor)
	duration("tor-timeout", &cfg.TorStartupTimeout)

	str("jsonl", &cfg.OutputJSONL)
	str("database", &cfg.DatabasePath)
	boolean("no-database", &cfg.NoDatabase)
	integer("persist-retries", &cfg.PersistRetries)
	duration("stall-threshold", &cfg.StallThreshold)
	duration("run-timeout", &cfg.RunTimeout)
	str("format", &cfg.ReportFormat)
	str("output", &cfg.ReportFile)

	if f.Changed("header") {
		raw, err := f.GetStringArray("header")
		keep(err)
		headers, err := parseHeaders(raw)
		keep(err)
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.Headers[k] = v
		}
	}
	if f.Changed("keyword") {
		raw, err := f.GetStringArray("keyword")
		keep(err)
		keywords, err := parseKeywords(raw)
		keep(err)
		cfg.Keywords = keywords
	}

	return errors.Join(errs...)
}

// parseHeaders parses "Name: value" pairs.
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (expected \"Name: value\")", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// parseKeywords parses "term=weight" pairs. A missing weight counts as 1.
func parseKeywords(raw []string) (map[string]float64, error) {
	keywords := make(map[string]float64, len(raw))
	for _, kw := range raw {
		term, weight, hasWeight := strings.Cut(kw, "=")
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			return nil, fmt.Errorf("invalid keyword %q (expected \"term=weight\")", kw)
		}
		w := 1.0
		if hasWeight {
			var err error
			w, err = strconv.ParseFloat(strings.TrimSpace(weight), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid keyword weight %q: %w", kw, err)
			}
		}
		keywords[term] = w
	}
	return keywords, nil
}

// runCrawl executes the crawl and writes the summary.
func runCrawl(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) error {
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	logger.Info("starting crawl",
		"seeds", len(cfg.Seeds),
		"workers", cfg.GlobalConcurrency,
		"max_depth", cfg.MaxDepth,
		"selection", cfg.Selection,
		"database", !cfg.NoDatabase,
	)

	c, err := newCrawl(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	summary, err := c.run(ctx, cfg.Seeds)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	return outputSummary(cfg, out, summary)
}

// outputSummary writes the summary in the requested format to stdout or the
// report file.
func outputSummary(cfg *config.Config, out io.Writer, summary *model.CrawlSummary) error {
	if cfg.ReportFile != "" {
		f, err := createReportFile(cfg.ReportFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w, err := report.New(cfg.ReportFormat, out)
	if err != nil {
		return err
	}
	_, err = w.WriteSummary(summary)
	return err
}

// createReportFile creates or truncates path with owner-only permissions,
// creating its directories if needed.
func createReportFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}
