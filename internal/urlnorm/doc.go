// Package urlnorm canonicalizes URLs and tracks which ones a crawl has seen.
//
// Normalizer.Normalize maps every spelling of a resource to one canonical
// string. DedupSet stores SHA3 fingerprints of canonical strings and offers
// an atomic test-and-set so that concurrent extractors never enqueue the same
// URL twice. HostKey groups URLs into frontier buckets either by authority or
// by registrable domain (public suffix list).
package urlnorm
