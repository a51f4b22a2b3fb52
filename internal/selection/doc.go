// Package selection provides frontier ordering policies.
//
// A Policy maps a URL record and a read-only snapshot of its host's state to
// a score; the frontier fetches higher scores first and uses Compare to break
// ties (earlier discovery first by default). Policies are pure functions so
// the frontier may rescore entries at any time.
package selection
