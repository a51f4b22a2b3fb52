// Package database provides the SQLite document store for dysdera.
//
// CrawlDB stores:
//   - content records as JSON documents, upserted by URL
//   - crawl run history with the final summary of each run
//
// It implements store.Sink for persistence and fetcher.LastModifiedLookup
// for conditional fetches. modernc.org/sqlite is CGO-free, so the binary
// cross-compiles, and WAL mode keeps readers working while a crawl writes.
package database
