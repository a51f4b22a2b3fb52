package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/dysdera/internal/config"
	"github.com/nao1215/dysdera/internal/crawler"
	"github.com/nao1215/dysdera/internal/database"
	"github.com/nao1215/dysdera/internal/extract"
	"github.com/nao1215/dysdera/internal/fetcher"
	"github.com/nao1215/dysdera/internal/frontier"
	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/policy"
	"github.com/nao1215/dysdera/internal/robots"
	"github.com/nao1215/dysdera/internal/selection"
	"github.com/nao1215/dysdera/internal/socks"
	"github.com/nao1215/dysdera/internal/store"
	"github.com/nao1215/dysdera/internal/urlnorm"
	"golang.org/x/time/rate"
)

// autoJSONL selects a JSON Lines file named by run ID under the data
// directory.
const autoJSONL = "auto"

// dialFunc is the signature of net.Dialer.DialContext.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// crawl owns the components of one run and the resources they hold.
type crawl struct {
	scheduler *crawler.Scheduler
	db        *database.CrawlDB
	sink      store.Sink
	tor       *socks.Embedded
	logger    *slog.Logger
}

// newCrawl builds every component from cfg. On error the resources opened
// so far are released.
func newCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *crawl, err error) {
	c := &crawl{logger: logger}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	runID := uuid.NewString()

	dial, err := c.openProxy(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if !cfg.NoDatabase {
		c.db, err = database.Open(cfg.DatabasePath, database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("database opened", "path", c.db.Path())
	}

	norm := urlnorm.New(
		urlnorm.WithKeepFragments(cfg.KeepFragments),
		urlnorm.WithSortQuery(cfg.SortQuery),
	)

	baseOpts := []fetcher.Option{
		fetcher.WithUserAgent(cfg.UserAgent),
		fetcher.WithHeaders(cfg.Headers),
		fetcher.WithHeaderSource(siteHeaders(cfg.SiteConfigs)),
		fetcher.WithNormalizer(norm),
		fetcher.WithLogger(logger),
	}
	if dial != nil {
		baseOpts = append(baseOpts, fetcher.WithDialContext(dial))
	}

	// robots.txt goes through the same transport as page fetches but is
	// not itself subject to admission.
	var agent *robots.Agent
	if cfg.RespectRobots {
		agent = robots.NewAgent(fetcher.New(baseOpts...).Client(),
			robots.WithUserAgent(cfg.UserAgent),
			robots.WithTTL(cfg.RobotsTTL),
			robots.WithErrorTTL(cfg.RobotsErrorTTL),
			robots.WithLogger(logger),
		)
	}

	checks, err := candidateChecks(cfg, agent)
	if err != nil {
		return nil, err
	}
	admit := policy.NewEngine(checks, policy.WithLogger(logger))

	fetchOpts := slices.Concat(baseOpts, []fetcher.Option{
		fetcher.WithAdmitter(admit),
		fetcher.WithMaxRedirects(cfg.MaxRedirects),
		fetcher.WithMaxBodyBytes(cfg.MaxContentLength),
	})
	if cfg.ConditionalFetch && c.db != nil {
		fetchOpts = append(fetchOpts, fetcher.WithLastModifiedLookup(c.db))
	}
	fetch := fetcher.New(fetchOpts...)

	sel, err := selection.ByName(cfg.Selection, cfg.Keywords)
	if err != nil {
		return nil, err
	}
	frontierOpts := []frontier.Option{
		frontier.WithAdmitter(admit),
		frontier.WithSelection(sel),
		frontier.WithNormalizer(norm),
		frontier.WithHostKeyMode(urlnorm.ParseHostKeyMode(cfg.HostKeyMode)),
		frontier.WithHostSettings(hostSettings(cfg)),
		frontier.WithRate(rate.Limit(cfg.PerHostRate), cfg.PerHostBurst),
		frontier.WithLogger(logger),
	}
	if agent != nil {
		frontierOpts = append(frontierOpts, frontier.WithDelaySource(agent))
	}
	front := frontier.New(frontierOpts...)

	c.sink, err = c.openSinks(cfg, runID)
	if err != nil {
		return nil, err
	}

	backoff := store.ExponentialBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	respond := policy.NewEngine([]policy.Check{
		policy.StatusCheck{},
		policy.NewContentTypeCheck(cfg.AllowedContentTypes),
		policy.ContentLengthCheck{Max: cfg.MaxContentLength},
	}, policy.WithLogger(logger))

	schedOpts := []crawler.Option{
		crawler.WithRunID(runID),
		crawler.WithWorkers(cfg.GlobalConcurrency),
		crawler.WithMaxRetries(cfg.MaxRetries),
		crawler.WithBackoff(backoff),
		crawler.WithMaxRetryWait(cfg.RetryMaxDelay),
		crawler.WithFetchTimeout(cfg.FetchTimeout),
		crawler.WithResponseAdmitter(respond),
		crawler.WithDuplicateSensitivity(cfg.DuplicateSensitivity),
		crawler.WithLogger(logger),
	}
	if cfg.VisitSitemaps {
		if agent != nil {
			schedOpts = append(schedOpts, crawler.WithSitemaps(agent))
		} else {
			schedOpts = append(schedOpts, crawler.WithSitemaps(nil))
		}
	}
	if cfg.StallThreshold > 0 {
		schedOpts = append(schedOpts, crawler.WithStallThreshold(cfg.StallThreshold, logStall(logger)))
	}

	c.scheduler = crawler.New(front, fetch, newPipeline(cfg, norm, logger), c.sink, schedOpts...)
	return c, nil
}

// openProxy returns the dialer of the SOCKS5 proxy or embedded Tor daemon,
// or nil for direct connections.
func (c *crawl) openProxy(ctx context.Context, cfg *config.Config) (dialFunc, error) {
	switch {
	case cfg.UseTor:
		c.tor = socks.NewEmbedded(
			socks.WithStartupTimeout(cfg.TorStartupTimeout),
			socks.WithLogger(c.logger),
		)
		if err := c.tor.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
		}
		d, err := c.tor.Dialer()
		if err != nil {
			return nil, err
		}
		if err := d.Check(ctx); err != nil {
			return nil, fmt.Errorf("embedded Tor proxy check failed: %w", err)
		}
		return d.DialContext, nil

	case cfg.ProxyAddr != "":
		d, err := socks.NewDialer(cfg.ProxyAddr)
		if err != nil {
			return nil, err
		}
		if err := d.Check(ctx); err != nil {
			return nil, fmt.Errorf("proxy check failed: %w (make sure a SOCKS5 proxy is running at %s)", err, cfg.ProxyAddr)
		}
		c.logger.Info("proxy connection verified", "proxy", cfg.ProxyAddr)
		return d.DialContext, nil
	}
	return nil, nil
}

// openSinks combines the database and the JSON Lines file behind a
// retrying sink.
func (c *crawl) openSinks(cfg *config.Config, runID string) (store.Sink, error) {
	var sinks store.Multi
	if c.db != nil {
		sinks = append(sinks, c.db)
	}

	if path := cfg.OutputJSONL; path != "" {
		if path == autoJSONL {
			path = config.DefaultJSONLPath(runID)
		}
		j, err := store.OpenJSONL(path)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, j)
		c.logger.Info("writing records", "path", path)
	}

	if len(sinks) == 0 {
		c.logger.Warn("no database or JSON Lines output configured, records are discarded")
	}

	return store.NewRetrying(sinks,
		store.WithRetries(cfg.PersistRetries),
		store.WithDrop(cfg.PersistDropOnFailure),
		store.WithBackoff(store.ExponentialBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay)),
		store.WithLogger(c.logger),
	), nil
}

// run records the run, crawls and stores the summary.
func (c *crawl) run(ctx context.Context, seeds []string) (*model.CrawlSummary, error) {
	runID := c.scheduler.RunID()
	if c.db != nil {
		if err := c.db.StartRun(ctx, runID, seeds, time.Now()); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	summary, err := c.scheduler.Run(ctx, seeds)
	if err != nil {
		return nil, err
	}

	if c.db != nil {
		// The run context is usually cancelled by now.
		if err := c.db.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
			c.logger.Error("failed to save run summary", "run_id", runID, "error", err)
		}
	}
	return summary, nil
}

// close releases the sinks, the database and the Tor daemon.
func (c *crawl) close() {
	switch {
	case c.sink != nil:
		// The sink owns the database.
		if err := c.sink.Close(); err != nil {
			c.logger.Error("failed to close output", "error", err)
		}
	case c.db != nil:
		if err := c.db.Close(); err != nil {
			c.logger.Error("failed to close database", "error", err)
		}
	}
	if c.tor != nil {
		c.logger.Info("stopping embedded Tor daemon...")
		if err := c.tor.Stop(); err != nil {
			c.logger.Error("failed to stop embedded Tor", "error", err)
		}
	}
}

// candidateChecks builds the URL admission checks in evaluation order.
// Cheap local checks run before robots.txt, which may need a fetch.
func candidateChecks(cfg *config.Config, agent *robots.Agent) ([]policy.Check, error) {
	allowed := cfg.AllowedHosts
	if len(allowed) == 0 {
		allowed = seedHosts(cfg.Seeds)
	}
	checks := []policy.Check{
		policy.NewScopeCheck(allowed, cfg.ExtendedScope),
	}

	if len(cfg.DeniedPatterns) > 0 {
		exclusion, err := policy.NewExclusionCheck(cfg.DeniedPatterns)
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern: %w", err)
		}
		checks = append(checks, exclusion)
	}

	if sites := sitePatterns(cfg.SiteConfigs); len(sites) > 0 {
		checks = append(checks, policy.NewSiteCheck(sites))
	}

	checks = append(checks, policy.DepthCheck{Max: cfg.MaxDepth})

	if agent != nil {
		checks = append(checks, agent)
	}
	return checks, nil
}

// seedHosts returns the host names of the seeds, the default scope.
func seedHosts(seeds []string) []string {
	seen := make(map[string]bool, len(seeds))
	hosts := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if !seen[host] {
			seen[host] = true
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// sitePatterns collects the ignore and follow patterns of every site.
func sitePatterns(cf *config.File) map[string]policy.SitePatterns {
	if cf == nil {
		return nil
	}
	sites := make(map[string]policy.SitePatterns, len(cf.Sites))
	for host := range cf.Sites {
		sc := cf.GetSiteConfig(host)
		if len(sc.IgnorePatterns) == 0 && len(sc.FollowPatterns) == 0 {
			continue
		}
		sites[host] = policy.SitePatterns{Ignore: sc.IgnorePatterns, Follow: sc.FollowPatterns}
	}
	return sites
}

// siteHeaders returns the per-host cookie and headers of the config file.
func siteHeaders(cf *config.File) fetcher.HeaderSource {
	if cf == nil {
		return nil
	}
	return func(host string) http.Header {
		sc := cf.GetSiteConfig(host)
		if sc.Cookie == "" && len(sc.Headers) == 0 {
			return nil
		}
		h := make(http.Header, len(sc.Headers)+1)
		for k, v := range sc.Headers {
			h.Set(k, v)
		}
		if sc.Cookie != "" {
			h.Set("Cookie", sc.Cookie)
		}
		return h
	}
}

// hostSettings resolves a host key to its delay and concurrency, applying
// site overrides from the config file.
func hostSettings(cfg *config.Config) func(string) frontier.HostSettings {
	defaults := frontier.HostSettings{Delay: cfg.PerHostDelay, Concurrency: cfg.PerHostConcurrency}
	cf := cfg.SiteConfigs
	return func(key string) frontier.HostSettings {
		if cf == nil {
			return defaults
		}
		host := key
		if h, _, err := net.SplitHostPort(key); err == nil {
			host = h
		}
		sc := cf.GetSiteConfig(strings.ToLower(host))
		s := defaults
		if sc.Delay > 0 {
			s.Delay = sc.Delay
		}
		if sc.Concurrency > 0 {
			s.Concurrency = sc.Concurrency
		}
		return s
	}
}

// newPipeline builds the extractors for HTML, sitemaps and JPEG images.
func newPipeline(cfg *config.Config, norm *urlnorm.Normalizer, logger *slog.Logger) *extract.Pipeline {
	htmlOpts := []extract.HTMLOption{
		extract.WithNormalizer(norm),
		extract.WithRespectRobots(cfg.RespectRobots),
		extract.WithFollowCanonical(cfg.FollowCanonical),
		extract.WithReadability(cfg.Readability),
	}
	if cfg.DetectLanguage {
		htmlOpts = append(htmlOpts, extract.WithLanguageDetector(extract.NewLinguaDetector()))
	}

	return extract.NewPipeline([]extract.Extractor{
		extract.NewHTMLExtractor(htmlOpts...),
		extract.NewSitemapExtractor(norm),
		extract.ImageExtractor{},
	}, extract.WithLogger(logger))
}

// logStall reports the host that has waited longest since its last fetch.
func logStall(logger *slog.Logger) crawler.StallHandler {
	return func(_ context.Context, hosts []model.HostView) {
		var oldest *model.HostView
		for i := range hosts {
			h := &hosts[i]
			if h.Pending == 0 && h.InFlight == 0 {
				continue
			}
			if oldest == nil || h.LastFetch.Before(oldest.LastFetch) {
				oldest = h
			}
		}
		if oldest == nil {
			logger.Warn("crawl stalled", "hosts", len(hosts))
			return
		}
		var idle time.Duration
		if !oldest.LastFetch.IsZero() {
			idle = oldest.Now.Sub(oldest.LastFetch)
		}
		logger.Warn("crawl stalled",
			"host", oldest.Key,
			"pending", oldest.Pending,
			"in_flight", oldest.InFlight,
			"idle", idle,
			"delay", oldest.Delay,
		)
	}
}
