package robots

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/policy"
)

const (
	// DefaultTTL is how long fetched rules are cached.
	DefaultTTL = time.Hour
	// DefaultErrorTTL is how long a failed robots fetch is cached.
	DefaultErrorTTL = time.Minute
	// maxRobotsSize caps the robots.txt body (Google honours 500 KiB).
	maxRobotsSize = 512 * 1024
	// ReasonDisallowed is the deny reason for robots-excluded URLs.
	ReasonDisallowed = "disallowed"
)

// Agent fetches, caches and evaluates robots.txt per host.
// Concurrent lookups for the same host share one fetch.
type Agent struct {
	client    *http.Client
	userAgent string
	token     string
	ttl       time.Duration
	errorTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	cache     map[string]cacheEntry
	overrides map[string]struct{}
	flight    singleflight.Group
}

type cacheEntry struct {
	expires time.Time
	// data is nil when the host had no usable robots.txt and everything is allowed.
	data *robotstxt.RobotsData
}

// Option configures an Agent.
type Option func(*Agent)

// WithUserAgent sets the User-Agent sent with robots requests. The product
// token (text before the first "/" or space) is used for group matching.
func WithUserAgent(ua string) Option {
	return func(a *Agent) {
		a.userAgent = ua
		a.token = productToken(ua)
	}
}

// WithTTL sets the cache lifetime of successfully fetched rules.
func WithTTL(ttl time.Duration) Option {
	return func(a *Agent) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithErrorTTL sets the cache lifetime of failed fetches.
func WithErrorTTL(ttl time.Duration) Option {
	return func(a *Agent) {
		if ttl > 0 {
			a.errorTTL = ttl
		}
	}
}

// WithOverrides lists hosts whose robots.txt is ignored.
func WithOverrides(hosts ...string) Option {
	return func(a *Agent) {
		for _, h := range hosts {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" {
				a.overrides[h] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// NewAgent creates an Agent using client for robots requests.
func NewAgent(client *http.Client, opts ...Option) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	a := &Agent{
		client:    client,
		token:     "*",
		ttl:       DefaultTTL,
		errorTTL:  DefaultErrorTTL,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
		overrides: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allowed reports whether target may be fetched.
func (a *Agent) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}
	if target.Path == "/robots.txt" || a.overridden(target) {
		return true
	}
	data := a.Rules(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), a.token)
}

// CrawlDelay returns the Crawl-delay declared for the agent on target's host.
// Zero means none was declared.
func (a *Agent) CrawlDelay(ctx context.Context, target *url.URL) time.Duration {
	if a.overridden(target) {
		return 0
	}
	data := a.Rules(ctx, target)
	if data == nil {
		return 0
	}
	group := data.FindGroup(a.token)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// Sitemaps returns the Sitemap URLs declared in target's robots.txt.
func (a *Agent) Sitemaps(ctx context.Context, target *url.URL) []string {
	data := a.Rules(ctx, target)
	if data == nil {
		return nil
	}
	return append([]string(nil), data.Sitemaps...)
}

// Rules returns the parsed robots.txt of target's host, fetching it when the
// cache entry is missing or expired. Nil means allow everything.
func (a *Agent) Rules(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	key := strings.ToLower(target.Scheme + "://" + target.Host)

	a.mu.RLock()
	entry, ok := a.cache[key]
	a.mu.RUnlock()
	if ok && a.now().Before(entry.expires) {
		return entry.data
	}

	v, _, _ := a.flight.Do(key, func() (any, error) {
		a.mu.RLock()
		entry, ok := a.cache[key]
		a.mu.RUnlock()
		if ok && a.now().Before(entry.expires) {
			return entry.data, nil
		}

		data, ttl := a.fetch(ctx, key)
		if ctx.Err() != nil {
			return data, nil
		}
		a.mu.Lock()
		a.cache[key] = cacheEntry{expires: a.now().Add(ttl), data: data}
		a.mu.Unlock()
		return data, nil
	})
	data, _ := v.(*robotstxt.RobotsData)
	return data
}

// fetch downloads and parses robots.txt for origin.
// Missing files and 4xx allow everything. 5xx and network errors also
// allow everything, cached for the error TTL only.
func (a *Agent) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, time.Duration) {
	robotsURL := origin + "/robots.txt"
	logger := a.logger.With("url", robotsURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		logger.Debug("build robots request failed", "error", err)
		return nil, a.errorTTL
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		logger.Debug("fetch robots.txt failed, allowing host", "error", err)
		return nil, a.errorTTL
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		logger.Debug("read robots.txt failed, allowing host", "error", err)
		return nil, a.errorTTL
	}

	// robotstxt treats 5xx as disallow-all.
	if resp.StatusCode >= http.StatusInternalServerError {
		logger.Debug("robots.txt server error, allowing host", "status", resp.StatusCode)
		return nil, a.errorTTL
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		logger.Debug("parse robots.txt failed, allowing host", "error", err)
		return nil, a.errorTTL
	}
	logger.Debug("robots.txt loaded", "status", resp.StatusCode, "sitemaps", len(data.Sitemaps))
	return data, a.ttl
}

// Purge evicts cached rules for a scheme://host origin or bare host.
func (a *Agent) Purge(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.cache {
		if key == host || strings.HasSuffix(key, "://"+host) {
			delete(a.cache, key)
		}
	}
}

func (a *Agent) overridden(target *url.URL) bool {
	if target == nil {
		return true
	}
	_, ok := a.overrides[strings.ToLower(target.Hostname())]
	return ok
}

// Name implements policy.Check.
func (a *Agent) Name() string { return "robots" }

// AdmitCandidate implements policy.Check.
func (a *Agent) AdmitCandidate(ctx context.Context, c policy.Candidate) model.Decision {
	if a.Allowed(ctx, c.URL) {
		return model.Allow()
	}
	return model.Deny(a.Name(), ReasonDisallowed)
}

// AdmitResponse implements policy.Check.
func (a *Agent) AdmitResponse(context.Context, policy.Response) model.Decision {
	return model.Allow()
}

// productToken extracts the robots product token from a User-Agent.
func productToken(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "*"
	}
	if i := strings.IndexAny(ua, "/ "); i > 0 {
		ua = ua[:i]
	}
	return ua
}
