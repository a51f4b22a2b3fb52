// Package store defines the persistence contract for content records and
// its flat-file implementation.
//
// Sink is implemented by:
//   - JSONL: an append-only line-delimited JSON file
//   - Memory: an in-process map, used by tests and dry runs
//   - database.CrawlDB: the SQLite document store
//
// Retrying adds bounded retries with backoff on top of any Sink, and Multi
// fans a record out to several sinks.
package store
