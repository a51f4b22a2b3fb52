package frontier

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/policy"
	"github.com/nao1215/dysdera/internal/selection"
	"github.com/nao1215/dysdera/internal/urlnorm"
)

// Status is the outcome of Next.
type Status int

const (
	// Ready means a lease was returned.
	Ready Status = iota
	// Empty means no URL is pending. More may arrive while fetches are in flight.
	Empty
	// Blocked means URLs are pending but every such host is rate limited or
	// at its concurrency cap.
	Blocked
	// Stopped means the frontier was closed.
	Stopped
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Empty:
		return "empty"
	case Blocked:
		return "blocked"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is the result of Enqueue.
type Outcome int

const (
	// Enqueued means the candidate was added.
	Enqueued Outcome = iota
	// Invalid means the URL could not be normalized.
	Invalid
	// Duplicate means the canonical URL was already seen.
	Duplicate
	// Denied means a policy check denied the candidate.
	Denied
	// Closed means the frontier no longer accepts work.
	Closed
)

func (o Outcome) String() string {
	switch o {
	case Enqueued:
		return "enqueued"
	case Invalid:
		return "invalid"
	case Duplicate:
		return "duplicate"
	case Denied:
		return "denied"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is attached to Closed outcomes.
var ErrClosed = errors.New("frontier closed")

// Candidate is a raw URL proposed for crawling.
type Candidate struct {
	URL    string
	Depth  int
	Parent string
	Kind   model.Kind
	Hint   float64
}

// EnqueueResult describes what Enqueue did with a candidate.
type EnqueueResult struct {
	Outcome Outcome
	// Record is set when Outcome is Enqueued.
	Record *model.URLRecord
	// Decision is set when Outcome is Denied.
	Decision model.Decision
	// Err is set when Outcome is Invalid or Closed.
	Err error
}

// Admitter is the candidate side of the policy engine.
type Admitter interface {
	AdmitCandidate(ctx context.Context, c policy.Candidate) model.Decision
}

// DelaySource reports an extra per-host delay, such as robots.txt Crawl-delay.
type DelaySource interface {
	CrawlDelay(ctx context.Context, target *url.URL) time.Duration
}

// Frontier is the queue of pending URLs, partitioned per host.
//
// Enqueue normalizes, deduplicates and admits candidates. Next hands out the
// globally best entry among hosts that are neither rate limited nor at their
// concurrency cap, wrapped in a Lease that must be released exactly once.
// Operations on different hosts proceed in parallel; each host bucket has its
// own lock.
type Frontier struct {
	norm      *urlnorm.Normalizer
	dedup     *urlnorm.DedupSet
	admit     Admitter
	sel       selection.Policy
	keyMode   urlnorm.HostKeyMode
	settings  func(host string) HostSettings
	delays    DelaySource
	rateLimit rate.Limit
	rateBurst int
	now       func() time.Time
	logger    *slog.Logger

	mu    sync.RWMutex
	hosts map[string]*hostBucket
	order []*hostBucket

	seq atomic.Uint64
	// outstanding counts pending plus in-flight records. It only reaches
	// zero when no record is queued and no lease is held.
	outstanding atomic.Int64
	pending     atomic.Int64
	inFlight    atomic.Int64
	closed      atomic.Bool

	wakeMu sync.Mutex
	wake   chan struct{}
}

// Option configures a Frontier.
type Option func(*Frontier)

// WithNormalizer sets the URL normalizer.
func WithNormalizer(n *urlnorm.Normalizer) Option {
	return func(f *Frontier) { f.norm = n }
}

// WithDedupSet shares a dedup set with the frontier.
func WithDedupSet(s *urlnorm.DedupSet) Option {
	return func(f *Frontier) { f.dedup = s }
}

// WithAdmitter sets the candidate policy. The default admits everything.
func WithAdmitter(a Admitter) Option {
	return func(f *Frontier) { f.admit = a }
}

// WithSelection sets the ordering policy. The default is breadth-first.
func WithSelection(p selection.Policy) Option {
	return func(f *Frontier) { f.sel = p }
}

// WithHostKeyMode selects how URLs are grouped into hosts.
func WithHostKeyMode(m urlnorm.HostKeyMode) Option {
	return func(f *Frontier) { f.keyMode = m }
}

// WithHostSettings sets the function that returns politeness limits for a
// newly seen host.
func WithHostSettings(fn func(host string) HostSettings) Option {
	return func(f *Frontier) { f.settings = fn }
}

// WithDefaultHostSettings applies the same limits to every host.
func WithDefaultHostSettings(s HostSettings) Option {
	return func(f *Frontier) {
		f.settings = func(string) HostSettings { return s }
	}
}

// WithDelaySource raises a host's delay to the value the source reports
// when that is larger than the configured delay.
func WithDelaySource(d DelaySource) Option {
	return func(f *Frontier) { f.delays = d }
}

// WithRate adds a token bucket per host on top of the fixed delay.
// A zero limit disables it.
func WithRate(limit rate.Limit, burst int) Option {
	return func(f *Frontier) {
		f.rateLimit = limit
		f.rateBurst = burst
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Frontier) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Frontier) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates an empty frontier.
func New(opts ...Option) *Frontier {
	f := &Frontier{
		norm:     urlnorm.New(),
		dedup:    urlnorm.NewDedupSet(),
		admit:    policy.NewEngine(nil),
		sel:      selection.BreadthFirst{},
		settings: func(string) HostSettings { return HostSettings{Concurrency: 1} },
		now:      time.Now,
		logger:   slog.New(slog.DiscardHandler),
		hosts:    make(map[string]*hostBucket),
		wake:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enqueue proposes a candidate. It normalizes the URL, skips it when already
// seen, asks the policy for admission, and finally claims the URL in the
// dedup set so that concurrent Enqueue calls for the same URL add it once.
// Denied candidates are not marked as seen.
func (f *Frontier) Enqueue(ctx context.Context, c Candidate) EnqueueResult {
	if f.closed.Load() {
		return EnqueueResult{Outcome: Closed, Err: ErrClosed}
	}

	u, err := f.norm.Parse(c.URL)
	if err != nil {
		f.logger.Debug("invalid url dropped", "url", c.URL, "error", err)
		return EnqueueResult{Outcome: Invalid, Err: err}
	}
	canonical := u.String()

	if f.dedup.Seen(canonical) {
		return EnqueueResult{Outcome: Duplicate}
	}

	var parent *url.URL
	if c.Parent != "" {
		parent, _ = url.Parse(c.Parent)
	}
	kind := c.Kind
	if kind == "" {
		kind = model.KindPage
	}
	d := f.admit.AdmitCandidate(ctx, policy.Candidate{URL: u, Depth: c.Depth, Parent: parent, Kind: kind})
	if !d.Allowed {
		return EnqueueResult{Outcome: Denied, Decision: d}
	}

	if !f.dedup.MarkSeen(canonical) {
		return EnqueueResult{Outcome: Duplicate}
	}

	key := urlnorm.HostKey(u, f.keyMode)
	b := f.bucket(ctx, key, u)
	now := f.now()
	rec := &model.URLRecord{
		URL:          canonical,
		Host:         key,
		Depth:        c.Depth,
		Parent:       c.Parent,
		Kind:         kind,
		Hint:         c.Hint,
		DiscoveredAt: now,
		Seq:          f.seq.Add(1),
	}

	f.outstanding.Add(1)
	f.pending.Add(1)

	b.mu.Lock()
	rec.Priority = f.sel.Score(rec, b.viewLocked(now))
	heap.Push(&b.queue, rec)
	first := len(b.queue.items) == 1
	b.mu.Unlock()

	if first {
		f.signal()
	}
	return EnqueueResult{Outcome: Enqueued, Record: rec}
}

// bucket returns the host bucket for key, creating it on first sight. The
// delay source is consulted on every call so a changed Crawl-delay applies.
func (f *Frontier) bucket(ctx context.Context, key string, u *url.URL) *hostBucket {
	f.mu.RLock()
	b, ok := f.hosts[key]
	f.mu.RUnlock()

	var crawlDelay time.Duration
	if f.delays != nil {
		crawlDelay = f.delays.CrawlDelay(ctx, u)
	}
	if ok {
		// The source may have refetched its rules since the host was first seen.
		if f.delays != nil {
			b.raiseDelay(crawlDelay)
		}
		return b
	}

	s := f.settings(key)
	s.Delay = max(s.Delay, crawlDelay)
	var limiter *rate.Limiter
	if f.rateLimit > 0 {
		burst := f.rateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(f.rateLimit, burst)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.hosts[key]; ok {
		return b
	}
	b = newHostBucket(key, s, f.sel, limiter)
	f.hosts[key] = b
	f.order = append(f.order, b)
	f.logger.Debug("new host", "host", key, "delay", s.Delay, "concurrency", b.maxInFlight)
	return b
}

// Next returns the highest-priority eligible record.
//
// When it returns Blocked, wait is the time until the nearest host becomes
// eligible by delay; it is zero when the only blocked hosts are at their
// concurrency cap, in which case the caller should wait on Wake.
func (f *Frontier) Next() (*Lease, Status, time.Duration) {
	for {
		if f.closed.Load() {
			return nil, Stopped, 0
		}

		now := f.now()
		best, status, wait := f.pick(now)
		if best == nil {
			return nil, status, wait
		}

		if lease := f.take(best, now); lease != nil {
			return lease, Ready, 0
		}
		// Another worker took the entry between pick and take; rescan.
	}
}

// pick scans hosts and returns the bucket holding the best eligible entry.
func (f *Frontier) pick(now time.Time) (*hostBucket, Status, time.Duration) {
	f.mu.RLock()
	buckets := f.order
	f.mu.RUnlock()

	var (
		best      *hostBucket
		bestRec   *model.URLRecord
		bestScore float64
		pending   bool
		wait      time.Duration
	)

	for _, b := range buckets {
		b.mu.Lock()
		top := b.queue.peek()
		if top == nil {
			b.mu.Unlock()
			continue
		}
		pending = true
		if b.inFlight >= b.maxInFlight {
			b.mu.Unlock()
			continue
		}
		if ready := b.readyAtLocked(now); ready.After(now) {
			if d := ready.Sub(now); wait == 0 || d < wait {
				wait = d
			}
			b.mu.Unlock()
			continue
		}
		score := f.sel.Score(top, b.viewLocked(now))
		b.mu.Unlock()

		if best == nil || selection.Before(f.sel, top, score, bestRec, bestScore) {
			best, bestRec, bestScore = b, top, score
		}
	}

	switch {
	case best != nil:
		return best, Ready, 0
	case pending:
		return nil, Blocked, wait
	default:
		return nil, Empty, 0
	}
}

// take pops the top entry of b if the host is still eligible.
func (f *Frontier) take(b *hostBucket, now time.Time) *Lease {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue.items) == 0 || b.inFlight >= b.maxInFlight || b.readyAtLocked(now).After(now) {
		return nil
	}
	if b.limiter != nil && !b.limiter.AllowN(now, 1) {
		return nil
	}

	rec := heap.Pop(&b.queue).(*model.URLRecord)
	b.inFlight++
	b.served++
	b.lastDispatch = now
	f.inFlight.Add(1)
	f.pending.Add(-1)

	return &Lease{Record: rec, frontier: f, bucket: b}
}

// release returns the in-flight slot held by a lease.
func (f *Frontier) release(b *hostBucket) {
	b.mu.Lock()
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.lastFetch = f.now()
	b.mu.Unlock()

	f.inFlight.Add(-1)
	f.outstanding.Add(-1)
	f.signal()
}

// Wake returns a channel that is closed on the next Release, on the next
// enqueue into an empty host, or on Close. Obtain it before calling Next so
// that a release between Next and the wait is not missed.
func (f *Frontier) Wake() <-chan struct{} {
	f.wakeMu.Lock()
	defer f.wakeMu.Unlock()
	return f.wake
}

func (f *Frontier) signal() {
	f.wakeMu.Lock()
	defer f.wakeMu.Unlock()
	close(f.wake)
	f.wake = make(chan struct{})
}

// Close stops the frontier. Subsequent Next calls return Stopped and
// Enqueue calls return Closed. Outstanding leases may still be released.
func (f *Frontier) Close() {
	if f.closed.CompareAndSwap(false, true) {
		f.signal()
	}
}

// Closed reports whether Close was called.
func (f *Frontier) Closed() bool {
	return f.closed.Load()
}

// Drained reports whether no record is pending and no lease is held.
// Once true it stays true until the next external Enqueue.
func (f *Frontier) Drained() bool {
	return f.outstanding.Load() == 0
}

// Len returns the number of pending records.
func (f *Frontier) Len() int {
	return int(f.pending.Load())
}

// InFlight returns the number of leases currently held.
func (f *Frontier) InFlight() int {
	return int(f.inFlight.Load())
}

// Seen returns the number of distinct URLs admitted so far.
func (f *Frontier) Seen() int {
	return f.dedup.Len()
}

// Hosts returns a snapshot of every known host, sorted by key.
func (f *Frontier) Hosts() []model.HostView {
	f.mu.RLock()
	buckets := append([]*hostBucket(nil), f.order...)
	f.mu.RUnlock()

	now := f.now()
	views := make([]model.HostView, 0, len(buckets))
	for _, b := range buckets {
		b.mu.Lock()
		views = append(views, b.viewLocked(now))
		b.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return views
}

// Host returns a snapshot of one host.
func (f *Frontier) Host(key string) (model.HostView, bool) {
	f.mu.RLock()
	b, ok := f.hosts[key]
	f.mu.RUnlock()
	if !ok {
		return model.HostView{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked(f.now()), true
}
