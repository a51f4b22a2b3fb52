package frontier

import (
	"sync"

	"github.com/nao1215/dysdera/internal/model"
)

// Lease is the in-flight slot of one dequeued record.
// Release must be called on every exit path; calls after the first are
// no-ops, so `defer lease.Release()` is always safe.
type Lease struct {
	Record *model.URLRecord

	frontier *Frontier
	bucket   *hostBucket
	once     sync.Once
}

// Host returns the host key of the leased record.
func (l *Lease) Host() string {
	return l.bucket.key
}

// Release frees the host slot and records the fetch time.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.frontier.release(l.bucket)
	})
}
