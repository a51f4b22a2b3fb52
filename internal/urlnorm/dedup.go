package urlnorm

import (
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/sha3"
)

const dedupShards = 64

// Fingerprint returns the SHA3-256 hash of a canonical URL.
func Fingerprint(canonical string) [32]byte {
	return sha3.Sum256([]byte(canonical))
}

// DedupSet records the fingerprints of every canonical URL seen during a
// crawl run. It only grows. MarkSeen is an atomic test-and-set, so among any
// number of concurrent callers for the same URL exactly one wins.
type DedupSet struct {
	shards [dedupShards]dedupShard
	size   atomic.Int64
}

type dedupShard struct {
	mu   sync.Mutex
	seen map[[32]byte]struct{}
}

// NewDedupSet creates an empty set.
func NewDedupSet() *DedupSet {
	s := &DedupSet{}
	for i := range s.shards {
		s.shards[i].seen = make(map[[32]byte]struct{})
	}
	return s
}

// MarkSeen adds canonical to the set and reports whether it was absent.
func (s *DedupSet) MarkSeen(canonical string) bool {
	fp := Fingerprint(canonical)
	shard := &s.shards[fp[0]%dedupShards]

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, ok := shard.seen[fp]; ok {
		return false
	}
	shard.seen[fp] = struct{}{}
	s.size.Add(1)
	return true
}

// Seen reports whether canonical was marked.
func (s *DedupSet) Seen(canonical string) bool {
	fp := Fingerprint(canonical)
	shard := &s.shards[fp[0]%dedupShards]

	shard.mu.Lock()
	defer shard.mu.Unlock()
	_, ok := shard.seen[fp]
	return ok
}

// Len returns the number of distinct URLs marked.
func (s *DedupSet) Len() int {
	return int(s.size.Load())
}
