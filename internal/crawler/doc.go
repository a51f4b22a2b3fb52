// Package crawler orchestrates a crawl.
//
// # Lifecycle
//
// A Scheduler moves through Idle, Running, Draining and Stopped. Run seeds
// the frontier and starts a fixed pool of workers (errgroup). When the
// frontier reports Empty with nothing in flight the scheduler drains and
// stops; that is the normal end of a crawl. Stop or a cancelled context ends
// it early, discarding the results of fetches that were still in progress.
//
// # Unit of work
//
// Each worker repeatedly:
//  1. takes a Lease from the frontier, or waits for the nearest politeness
//     window or a wake signal when every host is blocked
//  2. fetches, retrying retryable failures with exponential backoff that is
//     never shorter than the host delay or a Retry-After; a Retry-After
//     longer than the retry wait limit ends the unit as a failure
//  3. submits the response to the response policy
//  4. runs the extraction pipeline and duplicate detection
//  5. enqueues discovered links
//  6. persists the content record, or a failure record
//  7. releases the lease
//
// No error from this sequence stops the crawl. Failures are counted in the
// CrawlSummary and logged.
//
// # Watchdog
//
// With a stall threshold the scheduler warns when no unit of work finishes
// within it while URLs are still pending, and calls an optional StallHandler.
package crawler
