package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "dysdera"

	// DefaultUserAgent identifies dysdera in HTTP requests and robots.txt
	// group matching.
	DefaultUserAgent = "dysdera/1.0 (+https://github.com/nao1215/dysdera)"

	// DefaultMaxDepth limits how many link hops from a seed are followed.
	DefaultMaxDepth = 3

	// DefaultMaxContentLength limits the response body size (10MB).
	DefaultMaxContentLength = 10 * 1024 * 1024

	// DefaultPerHostDelay is the minimum time between two requests to the
	// same host.
	DefaultPerHostDelay = 1 * time.Second

	// DefaultMaxRedirects is the number of redirect hops followed per fetch.
	DefaultMaxRedirects = 10

	// DefaultGlobalConcurrency is the number of crawl workers.
	DefaultGlobalConcurrency = 8

	// DefaultPerHostConcurrency is the number of concurrent requests per host.
	DefaultPerHostConcurrency = 1

	// DefaultFetchTimeout bounds a single fetch including redirects.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after a retryable failure.
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay is the backoff before the first retry. It doubles
	// on every further attempt.
	DefaultRetryBaseDelay = 1 * time.Second

	// DefaultRetryMaxDelay caps the retry backoff.
	DefaultRetryMaxDelay = 1 * time.Minute

	// DefaultRobotsTTL is how long a host's robots.txt is cached.
	DefaultRobotsTTL = 1 * time.Hour

	// DefaultRobotsErrorTTL is how long a robots.txt server error or network
	// failure is cached before the file is fetched again.
	DefaultRobotsErrorTTL = 1 * time.Minute

	// DefaultPersistRetries is the number of save attempts per record.
	DefaultPersistRetries = 3

	// DefaultSelection is the frontier selection policy.
	DefaultSelection = "bfs"

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultReportFormat is the format of the crawl summary.
	DefaultReportFormat = "text"

	// DefaultLogFormat is the log output format.
	DefaultLogFormat = "text"

	// DatabaseFile is the SQLite file name inside the data directory.
	DatabaseFile = "dysdera.db"
)

// ReportFormats lists the accepted values of ReportFormat.
var ReportFormats = []string{"text", "json", "markdown"}

// LogFormats lists the accepted values of LogFormat.
var LogFormats = []string{"text", "json"}

// Config holds all options of a crawl run.
// It is built by NewConfig, overridden by the config file, the environment
// and CLI flags in that order, and passed down explicitly.
type Config struct {
	// Seeds are the start URLs.
	Seeds []string

	// AllowedHosts restricts the crawl to these host patterns
	// ("example.com", "*.example.org", "example.net/docs/*").
	// Empty allows every host.
	AllowedHosts []string

	// DeniedPatterns are URL glob patterns that are never crawled.
	DeniedPatterns []string

	// MaxDepth is the maximum link distance from a seed. Negative disables
	// the limit.
	MaxDepth int

	// RespectRobots enables robots.txt, meta robots and rel=nofollow.
	RespectRobots bool

	// AllowedContentTypes is the media type allowlist for responses.
	// Empty allows every type.
	AllowedContentTypes []string

	// MaxContentLength is the largest accepted body in bytes.
	MaxContentLength int64

	// PerHostDelay is the minimum time between dispatches to one host.
	// With RespectRobots a longer robots.txt Crawl-delay wins.
	PerHostDelay time.Duration

	// MaxRedirects is the number of redirect hops followed per fetch.
	MaxRedirects int

	// GlobalConcurrency is the number of workers.
	GlobalConcurrency int

	// PerHostConcurrency caps simultaneous requests per host.
	PerHostConcurrency int

	// PerHostRate is a token bucket rate per host in requests per second,
	// applied on top of PerHostDelay. Zero disables it.
	PerHostRate float64

	// PerHostBurst is the token bucket size of PerHostRate.
	PerHostBurst int

	// FetchTimeout bounds one fetch.
	FetchTimeout time.Duration

	// MaxRetries is the number of retries after a retryable failure.
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff shared
	// by fetch and persistence retries.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// Headers are extra request headers sent to every host.
	Headers map[string]string

	// KeepFragments keeps "#fragment" in canonical URLs.
	KeepFragments bool

	// SortQuery sorts query parameters in canonical URLs.
	SortQuery bool

	// ExtendedScope also fetches off-scope pages linked from in-scope pages,
	// without expanding their links.
	ExtendedScope bool

	// HostKeyMode groups URLs for politeness: "authority" (host:port) or
	// "registrable" (registrable domain).
	HostKeyMode string

	// RobotsTTL is the robots.txt cache lifetime.
	RobotsTTL time.Duration

	// RobotsErrorTTL is the cache lifetime of a failed robots.txt fetch.
	RobotsErrorTTL time.Duration

	// FollowCanonical enqueues <link rel=canonical> targets.
	FollowCanonical bool

	// VisitSitemaps enqueues each new host's sitemaps.
	VisitSitemaps bool

	// DuplicateSensitivity turns on duplicate content detection.
	// 0 is off, 1 compares exact hashes, larger values compare simhash
	// distance.
	DuplicateSensitivity int

	// ConditionalFetch sends If-Modified-Since for URLs already in the
	// database.
	ConditionalFetch bool

	// Selection is the frontier policy: bfs, dfs, fifo, lifo, keyword or
	// interleaved.
	Selection string

	// Keywords weigh URL terms for the keyword selection policy.
	Keywords map[string]float64

	// PersistRetries is the number of save attempts per record.
	PersistRetries int

	// PersistDropOnFailure drops a record after PersistRetries failed saves.
	// When false saving is retried until the crawl stops.
	PersistDropOnFailure bool

	// StallThreshold enables the watchdog. Zero disables it.
	StallThreshold time.Duration

	// ProxyAddr is a SOCKS5 proxy ("host:port") for every fetch.
	ProxyAddr string

	// UseTor starts an embedded Tor daemon and fetches through it.
	UseTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// DetectLanguage guesses the language of pages without <html lang>.
	DetectLanguage bool

	// Readability extracts the main article text of HTML pages.
	Readability bool

	// OutputJSONL is a JSON Lines file receiving every record. Empty
	// disables it.
	OutputJSONL string

	// DatabasePath is the directory of the SQLite document store.
	DatabasePath string

	// NoDatabase disables the SQLite document store.
	NoDatabase bool

	// RunTimeout stops the crawl after this long. Zero means no limit.
	RunTimeout time.Duration

	// ReportFormat is the format of the crawl summary: text, json or
	// markdown.
	ReportFormat string

	// ReportFile receives the crawl summary instead of stdout.
	ReportFile string

	// Verbose enables debug logging.
	Verbose bool

	// LogFormat is text or json.
	LogFormat string

	// ConfigFilePath is the explicit config file path, if any.
	ConfigFilePath string

	// SiteConfigs holds the per-host settings of the config file.
	SiteConfigs *File
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxDepth:             DefaultMaxDepth,
		RespectRobots:        true,
		AllowedContentTypes:  []string{"text/html", "application/xhtml+xml", "application/xml", "text/xml", "image/jpeg"},
		MaxContentLength:     DefaultMaxContentLength,
		PerHostDelay:         DefaultPerHostDelay,
		MaxRedirects:         DefaultMaxRedirects,
		GlobalConcurrency:    DefaultGlobalConcurrency,
		PerHostConcurrency:   DefaultPerHostConcurrency,
		PerHostBurst:         1,
		FetchTimeout:         DefaultFetchTimeout,
		MaxRetries:           DefaultMaxRetries,
		RetryBaseDelay:       DefaultRetryBaseDelay,
		RetryMaxDelay:        DefaultRetryMaxDelay,
		UserAgent:            DefaultUserAgent,
		HostKeyMode:          "authority",
		RobotsTTL:            DefaultRobotsTTL,
		RobotsErrorTTL:       DefaultRobotsErrorTTL,
		Selection:            DefaultSelection,
		PersistRetries:       DefaultPersistRetries,
		PersistDropOnFailure: true,
		TorStartupTimeout:    DefaultTorStartupTimeout,
		DatabasePath:         XDGDataDir(),
		ReportFormat:         DefaultReportFormat,
		LogFormat:            DefaultLogFormat,
	}
}

// XDGDataDir returns the XDG data directory for dysdera.
// On Linux: ~/.local/share/dysdera
// On macOS: ~/Library/Application Support/dysdera
// On Windows: %LOCALAPPDATA%\dysdera
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for dysdera.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultJSONLPath is a JSON Lines output path under the data directory,
// named by run ID.
func DefaultJSONLPath(runID string) string {
	return filepath.Join(XDGDataDir(), "runs", runID+".jsonl")
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return ErrNoSeed
	}
	if c.FetchTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.GlobalConcurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.PerHostConcurrency <= 0 {
		return ErrInvalidHostConcurrency
	}
	if c.PerHostDelay < 0 {
		return ErrInvalidDelay
	}
	if c.PerHostRate < 0 || (c.PerHostRate > 0 && c.PerHostBurst <= 0) {
		return ErrInvalidRate
	}
	if c.MaxContentLength < 0 {
		return ErrInvalidMaxContentLength
	}
	if c.MaxRedirects < 0 {
		return ErrInvalidMaxRedirects
	}
	if c.MaxRetries < 0 || c.PersistRetries < 0 {
		return ErrInvalidRetries
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return ErrInvalidRetryDelay
	}
	if c.DuplicateSensitivity < 0 || c.DuplicateSensitivity > 64 {
		return ErrInvalidDuplicateSensitivity
	}
	if c.StallThreshold < 0 || c.RunTimeout < 0 {
		return ErrInvalidDuration
	}
	if !isOneOf(c.Selection, selections) {
		return ErrUnknownSelection
	}
	if !isOneOf(c.ReportFormat, ReportFormats) {
		return ErrUnknownReportFormat
	}
	if !isOneOf(c.LogFormat, LogFormats) {
		return ErrUnknownLogFormat
	}
	if c.ProxyAddr != "" && c.UseTor {
		return ErrConflictingProxy
	}
	return nil
}

// selections mirrors the names accepted by selection.ByName.
var selections = []string{"bfs", "breadth-first", "dfs", "depth-first", "fifo", "lifo", "keyword", "interleaved", "round-robin"}

func isOneOf(v string, values []string) bool {
	for _, s := range values {
		if v == s {
			return true
		}
	}
	return false
}
