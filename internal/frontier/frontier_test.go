package frontier

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/policy"
	"github.com/nao1215/dysdera/internal/urlnorm"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustEnqueue(t *testing.T, f *Frontier, raw string, depth int) *model.URLRecord {
	t.Helper()
	res := f.Enqueue(context.Background(), Candidate{URL: raw, Depth: depth})
	if res.Outcome != Enqueued {
		t.Fatalf("enqueue %q: expected enqueued, got %v (%v)", raw, res.Outcome, res.Err)
	}
	return res.Record
}

func mustNext(t *testing.T, f *Frontier) *Lease {
	t.Helper()
	lease, status, _ := f.Next()
	if status != Ready {
		t.Fatalf("expected ready, got %v", status)
	}
	return lease
}

// TestEnqueueOutcomes tests normalization, dedup and denial.
func TestEnqueueOutcomes(t *testing.T) {
	t.Parallel()

	engine := policy.NewEngine([]policy.Check{
		policy.NewScopeCheck([]string{"example.com"}, false),
		policy.DepthCheck{Max: 1},
	})
	f := New(WithAdmitter(engine))
	ctx := context.Background()

	t.Run("invalid", func(t *testing.T) {
		res := f.Enqueue(ctx, Candidate{URL: "javascript:void(0)"})
		if res.Outcome != Invalid || !errors.Is(res.Err, urlnorm.ErrUnsupportedScheme) {
			t.Errorf("expected invalid, got %v (%v)", res.Outcome, res.Err)
		}
	})

	t.Run("enqueued is canonical", func(t *testing.T) {
		rec := mustEnqueue(t, f, "HTTP://Example.com:80/a#frag", 0)
		if rec.URL != "http://example.com/a" {
			t.Errorf("expected canonical URL, got %q", rec.URL)
		}
		if rec.Host != "example.com" || rec.Kind != model.KindPage {
			t.Errorf("unexpected record %+v", rec)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		res := f.Enqueue(ctx, Candidate{URL: "http://example.com/a", Depth: 0})
		if res.Outcome != Duplicate {
			t.Errorf("expected duplicate, got %v", res.Outcome)
		}
	})

	t.Run("denied by scope", func(t *testing.T) {
		res := f.Enqueue(ctx, Candidate{URL: "http://other.com/c", Depth: 1})
		if res.Outcome != Denied || res.Decision.Check != "scope" {
			t.Errorf("expected scope deny, got %v %v", res.Outcome, res.Decision)
		}
	})

	t.Run("denied is not marked seen", func(t *testing.T) {
		res := f.Enqueue(ctx, Candidate{URL: "http://example.com/deep", Depth: 2})
		if res.Outcome != Denied || res.Decision.Reason != policy.ReasonMaxDepth {
			t.Fatalf("expected depth deny, got %v %v", res.Outcome, res.Decision)
		}
		mustEnqueue(t, f, "http://example.com/deep", 1)
	})

	if f.Len() != 2 {
		t.Errorf("expected 2 pending, got %d", f.Len())
	}
}

// TestDedupInvariant checks that concurrent enqueues of one URL yield one entry.
func TestDedupInvariant(t *testing.T) {
	t.Parallel()

	f := New()
	var enqueued atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Different spellings of the same resource.
			raw := "http://example.com/page"
			if i%2 == 0 {
				raw = "HTTP://EXAMPLE.COM:80/page#" + strconv.Itoa(i)
			}
			if f.Enqueue(context.Background(), Candidate{URL: raw}).Outcome == Enqueued {
				enqueued.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if enqueued.Load() != 1 {
		t.Fatalf("expected exactly one enqueue, got %d", enqueued.Load())
	}

	lease := mustNext(t, f)
	lease.Release()
	if _, status, _ := f.Next(); status != Empty {
		t.Errorf("expected empty, got %v", status)
	}
}

// TestPoliteness checks per-host delay and concurrency with a fake clock.
func TestPoliteness(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	f := New(
		WithClock(clock.Now),
		WithDefaultHostSettings(HostSettings{Delay: time.Second, Concurrency: 1}),
	)
	mustEnqueue(t, f, "http://example.com/1", 0)
	mustEnqueue(t, f, "http://example.com/2", 0)

	first := mustNext(t, f)
	if first.Host() != "example.com" {
		t.Errorf("unexpected host %q", first.Host())
	}

	_, status, wait := f.Next()
	if status != Blocked || wait != 0 {
		t.Fatalf("expected blocked on concurrency with no wait, got %v %v", status, wait)
	}

	clock.Advance(300 * time.Millisecond)
	first.Release()

	_, status, wait = f.Next()
	if status != Blocked {
		t.Fatalf("expected blocked on delay, got %v", status)
	}
	if wait != time.Second {
		t.Errorf("expected 1s wait measured from release, got %v", wait)
	}

	clock.Advance(999 * time.Millisecond)
	if _, status, _ := f.Next(); status != Blocked {
		t.Fatalf("expected still blocked, got %v", status)
	}

	clock.Advance(time.Millisecond)
	second := mustNext(t, f)
	second.Release()

	view, ok := f.Host("example.com")
	if !ok {
		t.Fatal("expected host view")
	}
	if view.InFlight != 0 || view.Served != 2 || view.Pending != 0 {
		t.Errorf("unexpected view %+v", view)
	}
}

// TestConcurrencyCap checks that a host never exceeds its cap.
func TestConcurrencyCap(t *testing.T) {
	t.Parallel()

	f := New(WithDefaultHostSettings(HostSettings{Concurrency: 2}))
	for i := 0; i < 3; i++ {
		mustEnqueue(t, f, "http://example.com/"+strconv.Itoa(i), 0)
	}

	a := mustNext(t, f)
	b := mustNext(t, f)
	if _, status, _ := f.Next(); status != Blocked {
		t.Fatalf("expected blocked at cap, got %v", status)
	}
	if f.InFlight() != 2 {
		t.Errorf("expected 2 in flight, got %d", f.InFlight())
	}
	a.Release()
	c := mustNext(t, f)
	b.Release()
	c.Release()

	if !f.Drained() {
		t.Error("expected drained")
	}
}

// TestConcurrentWorkersRespectCap runs many workers against one host.
func TestConcurrentWorkersRespectCap(t *testing.T) {
	t.Parallel()

	f := New(WithDefaultHostSettings(HostSettings{Concurrency: 1}))
	for i := 0; i < 50; i++ {
		mustEnqueue(t, f, "http://example.com/"+strconv.Itoa(i), 0)
	}

	var holders, maxHolders, served atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				wake := f.Wake()
				lease, status, _ := f.Next()
				switch status {
				case Ready:
					n := holders.Add(1)
					for {
						m := maxHolders.Load()
						if n <= m || maxHolders.CompareAndSwap(m, n) {
							break
						}
					}
					served.Add(1)
					holders.Add(-1)
					lease.Release()
				case Blocked:
					<-wake
				default:
					if f.Drained() {
						return
					}
					<-wake
				}
			}
		}()
	}
	wg.Wait()

	if served.Load() != 50 {
		t.Errorf("expected 50 served, got %d", served.Load())
	}
	if maxHolders.Load() > 1 {
		t.Errorf("expected at most 1 concurrent holder, got %d", maxHolders.Load())
	}
}

// TestCrossHostSelection checks that throttled hosts do not block others
// and that priority is compared across hosts.
func TestCrossHostSelection(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	f := New(
		WithClock(clock.Now),
		WithDefaultHostSettings(HostSettings{Delay: time.Minute, Concurrency: 1}),
	)
	mustEnqueue(t, f, "http://a.example/deep", 2)
	mustEnqueue(t, f, "http://b.example/shallow", 0)
	mustEnqueue(t, f, "http://a.example/deeper", 3)

	first := mustNext(t, f)
	if first.Record.URL != "http://b.example/shallow" {
		t.Errorf("expected shallowest URL first, got %q", first.Record.URL)
	}
	second := mustNext(t, f)
	if second.Record.URL != "http://a.example/deep" {
		t.Errorf("expected other host to proceed, got %q", second.Record.URL)
	}

	if _, status, wait := f.Next(); status != Blocked || wait != 0 {
		t.Errorf("expected blocked on cap, got %v %v", status, wait)
	}
	first.Release()
	second.Release()
}

// TestLeaseReleaseIdempotent checks that double release is harmless.
func TestLeaseReleaseIdempotent(t *testing.T) {
	t.Parallel()

	f := New()
	mustEnqueue(t, f, "http://example.com/", 0)
	lease := mustNext(t, f)

	wake := f.Wake()
	lease.Release()
	lease.Release()

	select {
	case <-wake:
	default:
		t.Error("expected wake signal on release")
	}
	if f.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", f.InFlight())
	}
	if !f.Drained() {
		t.Error("expected drained")
	}
	if _, status, _ := f.Next(); status != Empty {
		t.Errorf("expected empty, got %v", status)
	}
}

// TestClose checks the stopped state.
func TestClose(t *testing.T) {
	t.Parallel()

	f := New()
	mustEnqueue(t, f, "http://example.com/", 0)
	wake := f.Wake()
	f.Close()

	select {
	case <-wake:
	default:
		t.Error("expected wake on close")
	}
	if _, status, _ := f.Next(); status != Stopped {
		t.Errorf("expected stopped, got %v", status)
	}
	res := f.Enqueue(context.Background(), Candidate{URL: "http://example.com/b"})
	if res.Outcome != Closed || !errors.Is(res.Err, ErrClosed) {
		t.Errorf("expected closed, got %v", res.Outcome)
	}
	if !f.Closed() {
		t.Error("expected Closed to report true")
	}
}

type fixedDelay time.Duration

func (d fixedDelay) CrawlDelay(context.Context, *url.URL) time.Duration {
	return time.Duration(d)
}

// TestDelaySource checks that robots delays raise the configured delay.
func TestDelaySource(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	f := New(
		WithClock(clock.Now),
		WithDefaultHostSettings(HostSettings{Delay: time.Second, Concurrency: 1}),
		WithDelaySource(fixedDelay(5*time.Second)),
	)
	mustEnqueue(t, f, "http://example.com/1", 0)
	mustEnqueue(t, f, "http://example.com/2", 0)

	mustNext(t, f).Release()
	_, status, wait := f.Next()
	if status != Blocked || wait != 5*time.Second {
		t.Errorf("expected 5s wait, got %v %v", status, wait)
	}
}

// changingDelay reports whatever delay the test last stored.
type changingDelay struct{ d atomic.Int64 }

func (c *changingDelay) CrawlDelay(context.Context, *url.URL) time.Duration {
	return time.Duration(c.d.Load())
}

// TestDelaySourceRefresh checks that a changed robots delay applies to a
// host that is already known.
func TestDelaySourceRefresh(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	src := &changingDelay{}
	src.d.Store(int64(5 * time.Second))
	f := New(
		WithClock(clock.Now),
		WithDefaultHostSettings(HostSettings{Delay: time.Second, Concurrency: 1}),
		WithDelaySource(src),
	)
	mustEnqueue(t, f, "http://example.com/1", 0)
	mustNext(t, f).Release()

	src.d.Store(0)
	mustEnqueue(t, f, "http://example.com/2", 0)
	_, status, wait := f.Next()
	if status != Blocked || wait != time.Second {
		t.Errorf("expected the configured 1s delay, got %v %v", status, wait)
	}

	src.d.Store(int64(8 * time.Second))
	mustEnqueue(t, f, "http://example.com/3", 0)
	_, status, wait = f.Next()
	if status != Blocked || wait != 8*time.Second {
		t.Errorf("expected 8s wait, got %v %v", status, wait)
	}
}

// TestRateLimiter checks the optional token bucket.
func TestRateLimiter(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	f := New(
		WithClock(clock.Now),
		WithDefaultHostSettings(HostSettings{Concurrency: 4}),
		WithRate(rate.Every(2*time.Second), 1),
	)
	for i := 0; i < 2; i++ {
		mustEnqueue(t, f, "http://example.com/"+strconv.Itoa(i), 0)
	}

	mustNext(t, f).Release()
	_, status, wait := f.Next()
	if status != Blocked {
		t.Fatalf("expected blocked by rate, got %v", status)
	}
	if wait <= 0 || wait > 2*time.Second {
		t.Errorf("expected wait in (0, 2s], got %v", wait)
	}

	clock.Advance(2 * time.Second)
	mustNext(t, f).Release()
}

// TestHostsSnapshot checks host listing.
func TestHostsSnapshot(t *testing.T) {
	t.Parallel()

	f := New(WithHostKeyMode(urlnorm.HostKeyRegistrable))
	mustEnqueue(t, f, "http://www.example.com/", 0)
	mustEnqueue(t, f, "http://blog.example.com/", 0)
	mustEnqueue(t, f, "http://other.org/", 0)

	hosts := f.Hosts()
	if len(hosts) != 2 {
		t.Fatalf("expected 2 registrable hosts, got %d", len(hosts))
	}
	if hosts[0].Key != "example.com" || hosts[0].Pending != 2 {
		t.Errorf("unexpected first host %+v", hosts[0])
	}
	if f.Seen() != 3 {
		t.Errorf("expected 3 seen, got %d", f.Seen())
	}
}
