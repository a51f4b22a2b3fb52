package model

import (
	"time"
)

// Kind classifies what a URL is expected to point at.
// The extractor pipeline uses it to choose a parser before the content type
// is known, and sitemap discovery uses it to keep depth neutral.
type Kind string

const (
	// KindPage is an ordinary document discovered through a link or a seed.
	KindPage Kind = "page"
	// KindSitemap is an XML sitemap or sitemap index.
	KindSitemap Kind = "sitemap"
	// KindCanonical is a URL announced by <link rel="canonical">.
	KindCanonical Kind = "canonical"
)

// URLRecord is a normalized URL waiting in the frontier.
// A record is immutable once it has been created. A new discovery of an
// already seen canonical URL is dropped, never merged into the existing record.
type URLRecord struct {
	// URL is the canonical absolute URL (output of urlnorm.Normalizer).
	URL string `json:"url"`

	// Host is the host key the record is bucketed under.
	// It is either the registrable domain or the authority, depending on
	// configuration.
	Host string `json:"host"`

	// Depth is the discovery depth. Seeds have depth 0.
	Depth int `json:"depth"`

	// Parent is the URL of the page this record was discovered on.
	// It is a provenance back-reference for logging only.
	Parent string `json:"parent,omitempty"`

	// Kind tells the pipeline what the URL is expected to be.
	Kind Kind `json:"kind"`

	// Hint is an optional priority hint supplied by the discoverer
	// (for example the <priority> element of a sitemap entry).
	Hint float64 `json:"hint,omitempty"`

	// DiscoveredAt is when the URL was first seen.
	DiscoveredAt time.Time `json:"discovered_at"`

	// Seq is a process-wide monotonic discovery counter. It breaks ties
	// between records discovered within the same clock tick.
	Seq uint64 `json:"seq"`

	// Priority is the selection score assigned at enqueue time.
	Priority float64 `json:"priority"`
}

// HostView is a read-only snapshot of the frontier's state for one host.
// Selection policies receive it by value and can never mutate the frontier.
type HostView struct {
	// Key is the host key.
	Key string
	// LastFetch is when the host last handed out work. Zero if never.
	LastFetch time.Time
	// InFlight is the number of leases currently held for the host.
	InFlight int
	// Pending is the number of records queued for the host.
	Pending int
	// Served is the number of records handed out for the host so far.
	Served int
	// Delay is the effective minimum delay between two fetches.
	Delay time.Duration
	// Now is the time the snapshot was taken.
	Now time.Time
}

// Decision is the outcome of a policy admission check.
// A deny is a normal outcome and is never reported as an error.
type Decision struct {
	// Allowed reports whether the action is permitted.
	Allowed bool `json:"allowed"`
	// Check is the name of the check that produced a deny.
	Check string `json:"check,omitempty"`
	// Reason is a short machine-friendly deny reason.
	Reason string `json:"reason,omitempty"`
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision attributed to check.
func Deny(check, reason string) Decision {
	return Decision{Allowed: false, Check: check, Reason: reason}
}

// String renders the decision for logs.
func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	if d.Check == "" {
		return "deny: " + d.Reason
	}
	return "deny(" + d.Check + "): " + d.Reason
}
