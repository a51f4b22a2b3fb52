package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/dysdera/internal/extract"
	"github.com/nao1215/dysdera/internal/frontier"
	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/policy"
	"github.com/nao1215/dysdera/internal/store"
)

// State is the lifecycle state of a Scheduler.
type State int32

const (
	// Idle means Run has not been called.
	Idle State = iota
	// Running means workers are processing the frontier.
	Running
	// Draining means no new work is handed out and workers are finishing.
	Draining
	// Stopped means Run has returned.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Defaults used when the corresponding option is not set.
const (
	DefaultWorkers        = 8
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = time.Minute
	DefaultFetchTimeout   = 30 * time.Second
)

// Fetcher fetches one frontier record.
type Fetcher interface {
	FetchRecord(ctx context.Context, rec *model.URLRecord, timeout time.Duration) model.FetchResult
}

// ResponseAdmitter is the response side of the policy engine.
type ResponseAdmitter interface {
	AdmitResponse(ctx context.Context, r policy.Response) model.Decision
}

// SitemapSource lists the sitemaps a host declares, typically in robots.txt.
type SitemapSource interface {
	Sitemaps(ctx context.Context, target *url.URL) []string
}

// StallHandler is called by the watchdog when no work completed within the
// stall threshold while URLs were still pending.
type StallHandler func(ctx context.Context, hosts []model.HostView)

// Scheduler drives a crawl: a fixed pool of workers takes leases from the
// frontier, fetches, extracts, enqueues discovered links and persists
// records until the frontier drains or the crawl is stopped.
type Scheduler struct {
	frontier *frontier.Frontier
	fetcher  Fetcher
	admit    ResponseAdmitter
	pipeline *extract.Pipeline
	sink     store.Sink

	workers        int
	maxRetries     int
	backoff        store.Backoff
	maxRetryWait   time.Duration
	fetchTimeout   time.Duration
	duplicates     *duplicateIndex
	visitSitemaps  bool
	sitemaps       SitemapSource
	stallThreshold time.Duration
	onStall        StallHandler
	runID          string
	logger         *slog.Logger
	now            func() time.Time

	state    atomic.Int32
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}

	stats        stats
	hostsSeen    sync.Map
	lastProgress atomic.Int64

	// aborted counts units whose result was discarded by a stop.
	aborted atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the global concurrency.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff sets the retry backoff. The effective wait is never shorter
// than the host's politeness delay or a server-sent Retry-After.
func WithBackoff(b store.Backoff) Option {
	return func(s *Scheduler) {
		if b != nil {
			s.backoff = b
		}
	}
}

// WithMaxRetryWait caps how long a server-sent Retry-After may hold a
// worker. A failure asking for a longer wait is not retried.
func WithMaxRetryWait(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxRetryWait = d
		}
	}
}

// WithFetchTimeout sets the per-request timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithResponseAdmitter sets the response policy. Without one every
// response is extracted.
func WithResponseAdmitter(a ResponseAdmitter) Option {
	return func(s *Scheduler) { s.admit = a }
}

// WithDuplicateSensitivity enables duplicate content detection.
// 1 compares exact body hashes; a larger value also treats records whose
// simhash distance is below it as duplicates. 0 disables detection.
func WithDuplicateSensitivity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.duplicates = newDuplicateIndex(n)
		} else {
			s.duplicates = nil
		}
	}
}

// WithSitemaps enqueues the sitemaps of every new host. src may be nil, in
// which case /sitemap.xml is tried.
func WithSitemaps(src SitemapSource) Option {
	return func(s *Scheduler) {
		s.visitSitemaps = true
		s.sitemaps = src
	}
}

// WithStallThreshold enables the watchdog.
func WithStallThreshold(d time.Duration, h StallHandler) Option {
	return func(s *Scheduler) {
		s.stallThreshold = d
		s.onStall = h
	}
}

// WithRunID sets the run identifier stored in every record.
func WithRunID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.runID = id
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler. The frontier must be configured with the
// candidate policy; the fetcher, extraction pipeline and sink are required.
func New(f *frontier.Frontier, fetcher Fetcher, pipeline *extract.Pipeline, sink store.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		frontier:     f,
		fetcher:      fetcher,
		pipeline:     pipeline,
		sink:         sink,
		workers:      DefaultWorkers,
		maxRetries:   DefaultMaxRetries,
		backoff:      store.ExponentialBackoff(DefaultRetryBaseDelay, DefaultRetryMaxDelay),
		maxRetryWait: DefaultRetryMaxDelay,
		fetchTimeout: DefaultFetchTimeout,
		runID:        uuid.NewString(),
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stats.denied = make(map[string]int64)
	return s
}

// RunID returns the run identifier.
func (s *Scheduler) RunID() string {
	return s.runID
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stop asks a running crawl to stop. In-flight fetches are aborted and
// their results discarded. Stop may be called more than once, and before Run.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run seeds the frontier and crawls until it drains, Stop is called or ctx
// is done. Seeds are enqueued at depth 0; invalid and denied seeds are
// counted and skipped.
//
// An interrupted crawl is not an error: the summary has Interrupted set.
// Run can only be called once.
func (s *Scheduler) Run(ctx context.Context, seeds []string) (*model.CrawlSummary, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	if len(seeds) == 0 {
		s.state.Store(int32(Stopped))
		return nil, ErrNoSeeds
	}

	summary := &model.CrawlSummary{
		RunID:     s.runID,
		Seeds:     append([]string(nil), seeds...),
		StartedAt: s.now(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, seed := range seeds {
		s.enqueue(ctx, frontier.Candidate{URL: seed, Depth: 0, Kind: model.KindPage})
	}

	if s.frontier.Drained() {
		s.logger.Info("nothing to crawl", "seeds", len(seeds))
		s.state.Store(int32(Stopped))
		s.frontier.Close()
		return s.finish(summary, false), nil
	}

	s.state.Store(int32(Running))
	s.touch()
	s.logger.Info("crawl started", "run_id", s.runID, "seeds", len(seeds), "workers", s.workers)

	go func() {
		select {
		case <-s.stop:
		case <-ctx.Done():
		}
		s.frontier.Close()
		cancel()
	}()

	watchdogDone := make(chan struct{})
	if s.stallThreshold > 0 {
		go s.watchdog(ctx, watchdogDone)
	} else {
		close(watchdogDone)
	}

	var g errgroup.Group
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			s.work(ctx)
			return nil
		})
	}
	_ = g.Wait()

	// Only a drain reached before any unit was aborted is a natural finish.
	interrupted := s.State() != Draining || s.aborted.Load() > 0
	cancel()
	<-watchdogDone
	s.state.Store(int32(Stopped))

	out := s.finish(summary, interrupted)
	s.logger.Info("crawl stopped",
		"run_id", s.runID,
		"fetched", out.Fetched,
		"persisted", out.Persisted,
		"failed", out.Failed,
		"interrupted", interrupted,
		"duration", out.Duration(),
	)
	return out, nil
}

// work is the loop of one worker.
func (s *Scheduler) work(ctx context.Context) {
	for {
		wake := s.frontier.Wake()
		lease, status, wait := s.frontier.Next()

		switch status {
		case frontier.Ready:
			s.process(ctx, lease)
			s.touch()
			continue
		case frontier.Stopped:
			return
		case frontier.Empty:
			if s.frontier.Drained() {
				s.drain()
				return
			}
		case frontier.Blocked:
		}

		if !s.wait(ctx, wake, wait) {
			return
		}
	}
}

// wait blocks until wake fires, d elapses (when positive) or ctx is done.
// It reports false when ctx is done.
func (s *Scheduler) wait(ctx context.Context, wake <-chan struct{}, d time.Duration) bool {
	var timer <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-wake:
	case <-timer:
	}
	return true
}

// drain moves the crawl to Draining once the frontier has no pending or
// in-flight work. Closing the frontier releases every waiting worker.
func (s *Scheduler) drain() {
	if s.state.CompareAndSwap(int32(Running), int32(Draining)) {
		s.logger.Debug("frontier drained")
	}
	s.frontier.Close()
}

// enqueue proposes a candidate and accounts for the outcome. The first
// page seen on a host also enqueues that host's sitemaps when enabled.
func (s *Scheduler) enqueue(ctx context.Context, c frontier.Candidate) {
	res := s.frontier.Enqueue(ctx, c)
	switch res.Outcome {
	case frontier.Enqueued:
		s.stats.enqueued.Add(1)
		if s.visitSitemaps {
			s.enqueueSitemaps(ctx, res.Record)
		}
	case frontier.Invalid:
		s.stats.invalid.Add(1)
	case frontier.Duplicate:
		s.stats.dedupHits.Add(1)
		s.logger.Debug("duplicate url", "url", c.URL)
	case frontier.Denied:
		s.stats.deny(res.Decision)
	case frontier.Closed:
	}
}

func (s *Scheduler) enqueueSitemaps(ctx context.Context, rec *model.URLRecord) {
	if _, loaded := s.hostsSeen.LoadOrStore(rec.Host, true); loaded {
		return
	}
	u, err := url.Parse(rec.URL)
	if err != nil {
		return
	}

	var sitemaps []string
	if s.sitemaps != nil {
		sitemaps = s.sitemaps.Sitemaps(ctx, u)
	}
	if len(sitemaps) == 0 {
		sitemaps = []string{u.Scheme + "://" + u.Host + "/sitemap.xml"}
	}
	for _, sm := range sitemaps {
		s.enqueue(ctx, frontier.Candidate{
			URL:    sm,
			Depth:  rec.Depth,
			Parent: rec.URL,
			Kind:   model.KindSitemap,
		})
	}
}

func (s *Scheduler) touch() {
	s.lastProgress.Store(s.now().UnixNano())
}

func (s *Scheduler) finish(summary *model.CrawlSummary, interrupted bool) *model.CrawlSummary {
	s.stats.fill(summary)
	summary.Interrupted = interrupted
	summary.Hosts = len(s.frontier.Hosts())
	summary.FinishedAt = s.now()
	return summary
}
