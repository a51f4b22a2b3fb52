// Package frontier holds the pending URLs of a crawl.
//
// The frontier is partitioned into host buckets. Each bucket keeps a
// priority heap ordered by a selection.Policy plus its politeness state:
// in-flight count, concurrency cap, minimum delay and the last dispatch and
// fetch times. Enqueue runs the dedup check and the candidate policy before
// inserting. Next scans buckets, picks the globally best eligible entry and
// returns it as a Lease; it reports Blocked rather than Empty when work is
// pending but no host is currently eligible. Lease.Release wakes waiting
// workers through the channel returned by Wake.
package frontier
