// Package policy decides whether the crawler may act on a URL or a response.
//
// An Engine holds an ordered list of Check values and short-circuits on the
// first deny. Every check exposes two capability points: AdmitCandidate,
// evaluated before a URL enters the frontier (and for every redirect hop),
// and AdmitResponse, evaluated after a fetch and before extraction.
//
// The built-in checks cover crawl scope, exclusion patterns, per-site
// ignore/follow patterns, depth, response status, content type and content
// length. The robots package provides a robots.txt check with the same
// interface. Custom rules can be added with Funcs or any other Check
// implementation, without changing the engine.
//
// A deny is a value (model.Decision), never an error.
package policy
