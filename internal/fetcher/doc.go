// Package fetcher performs the network side of a crawl.
//
// HTTPFetcher issues one GET per scheduled URL and returns a tagged
// model.FetchResult instead of an error:
//
//   - *model.Success for any completed exchange, with the body decoded
//     (gzip, deflate, br) and text converted to UTF-8
//   - *model.PolicyRejected when a redirect hop is denied, loops, exceeds the
//     hop limit, or the body is over the size limit
//   - *model.NetworkFailure for transport errors and 5xx/429 responses, with
//     a retryable flag
//   - *model.Timeout when the caller-supplied timeout elapses
//
// Redirects are followed manually so that each hop can be admitted by the
// policy engine. Retrying is left to the caller.
package fetcher
