package frontier

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/dysdera/internal/model"
	"github.com/nao1215/dysdera/internal/selection"
)

// HostSettings are the politeness limits of one host.
type HostSettings struct {
	// Delay is the minimum time between two dispatches to the host.
	Delay time.Duration
	// Concurrency caps the number of leases held at once. Values below 1
	// are treated as 1.
	Concurrency int
}

// hostBucket is the per-host partition of the frontier.
// Every field below mu is guarded by it.
type hostBucket struct {
	key string

	mu           sync.Mutex
	queue        entryHeap
	inFlight     int
	maxInFlight  int
	delay        time.Duration
	baseDelay    time.Duration
	lastDispatch time.Time
	lastFetch    time.Time
	served       int
	limiter      *rate.Limiter
}

// raiseDelay sets the delay to the configured one or d, whichever is longer.
func (b *hostBucket) raiseDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = max(b.baseDelay, d)
}

func newHostBucket(key string, s HostSettings, sel selection.Policy, limiter *rate.Limiter) *hostBucket {
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	return &hostBucket{
		key:         key,
		queue:       entryHeap{sel: sel},
		maxInFlight: s.Concurrency,
		delay:       s.Delay,
		baseDelay:   s.Delay,
		limiter:     limiter,
	}
}

// viewLocked snapshots the bucket. The caller holds mu.
func (b *hostBucket) viewLocked(now time.Time) model.HostView {
	last := b.lastFetch
	if b.lastDispatch.After(last) {
		last = b.lastDispatch
	}
	return model.HostView{
		Key:       b.key,
		LastFetch: last,
		InFlight:  b.inFlight,
		Pending:   len(b.queue.items),
		Served:    b.served,
		Delay:     b.delay,
		Now:       now,
	}
}

// readyAtLocked returns the earliest time the host may be dispatched to,
// ignoring the concurrency cap. The caller holds mu.
func (b *hostBucket) readyAtLocked(now time.Time) time.Time {
	ready := now
	if b.delay > 0 {
		for _, t := range []time.Time{b.lastDispatch, b.lastFetch} {
			if t.IsZero() {
				continue
			}
			if next := t.Add(b.delay); next.After(ready) {
				ready = next
			}
		}
	}
	if b.limiter != nil {
		if tokens := b.limiter.TokensAt(now); tokens < 1 && b.limiter.Limit() > 0 {
			need := time.Duration((1 - tokens) / float64(b.limiter.Limit()) * float64(time.Second))
			if next := now.Add(need); next.After(ready) {
				ready = next
			}
		}
	}
	return ready
}

// entryHeap orders records by their enqueue-time priority.
type entryHeap struct {
	sel   selection.Policy
	items []*model.URLRecord
}

var _ heap.Interface = (*entryHeap)(nil)

func (h *entryHeap) Len() int { return len(h.items) }

func (h *entryHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	return selection.Before(h.sel, a, a.Priority, b, b.Priority)
}

func (h *entryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *entryHeap) Push(x any) { h.items = append(h.items, x.(*model.URLRecord)) }

func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

func (h *entryHeap) peek() *model.URLRecord {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}
