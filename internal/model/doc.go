// Package model defines the data structures shared by the crawl engine.
//
// This package contains the following main types:
//   - URLRecord: a normalized URL waiting in the frontier
//   - HostView: a read-only snapshot of per-host frontier state
//   - Decision: the allow/deny outcome of a policy check
//   - FetchResult: the tagged outcome of a fetch (Success, PolicyRejected,
//     NetworkFailure, Timeout)
//   - ContentRecord: the structured record persisted for each URL
//   - CrawlSummary: run-level counters
//   - RunInfo: one entry of the run history
//
// Models live in their own package so that the frontier, fetcher, extractor,
// scheduler and storage packages can share them without import cycles.
// All persisted types are JSON serializable.
package model
