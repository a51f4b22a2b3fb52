package crawler

import (
	"sync"
	"sync/atomic"

	"github.com/nao1215/dysdera/internal/model"
)

// stats are the live counters of a run.
type stats struct {
	enqueued    atomic.Int64
	fetched     atomic.Int64
	persisted   atomic.Int64
	failed      atomic.Int64
	retries     atomic.Int64
	duplicates  atomic.Int64
	parseErrors atomic.Int64
	invalid     atomic.Int64
	dedupHits   atomic.Int64
	lost        atomic.Int64
	stalls      atomic.Int64

	mu     sync.Mutex
	denied map[string]int64
}

func (st *stats) deny(d model.Decision) {
	key := d.Check + ":" + d.Reason
	st.mu.Lock()
	st.denied[key]++
	st.mu.Unlock()
}

func (st *stats) fill(s *model.CrawlSummary) {
	s.Enqueued = st.enqueued.Load()
	s.Fetched = st.fetched.Load()
	s.Persisted = st.persisted.Load()
	s.Failed = st.failed.Load()
	s.Retries = st.retries.Load()
	s.Duplicates = st.duplicates.Load()
	s.ParseErrors = st.parseErrors.Load()
	s.InvalidURLs = st.invalid.Load()
	s.DedupHits = st.dedupHits.Load()
	s.Lost = st.lost.Load()
	s.Stalls = st.stalls.Load()

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.denied) > 0 {
		s.Denied = make(map[string]int64, len(st.denied))
		for k, v := range st.denied {
			s.Denied[k] = v
		}
	}
}
