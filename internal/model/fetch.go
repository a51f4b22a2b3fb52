package model

import (
	"net/http"
	"time"
)

// FetchResult is the tagged outcome of a single fetch.
// The concrete type is one of *Success, *PolicyRejected, *NetworkFailure
// or *Timeout. Results are transient: only records and links derived from
// them are kept.
type FetchResult interface {
	fetchResult()
}

// Success is a completed HTTP exchange.
// Any status code can be a Success; the policy engine decides at
// AdmitResponse whether the response is worth extracting.
type Success struct {
	// RequestURL is the URL that was scheduled.
	RequestURL string
	// FinalURL is the URL after following redirects.
	FinalURL string
	// Redirects lists every intermediate hop in order.
	Redirects []string
	// StatusCode is the HTTP status of the final response.
	StatusCode int
	// Header holds the final response headers.
	Header http.Header
	// ContentType is the media type without parameters, lower-cased.
	// When the server declares nothing it is sniffed from the body.
	ContentType string
	// ContentLength is the body length after content decoding and before
	// charset conversion.
	ContentLength int64
	// Body is the decoded body. Text bodies are converted to UTF-8.
	Body []byte
	// LastModified is the parsed Last-Modified header, if any.
	LastModified *time.Time
	// FetchedAt is when the final response was received.
	FetchedAt time.Time
	// Elapsed is the wall time spent on the whole redirect chain.
	Elapsed time.Duration
}

// PolicyRejected means the fetch was stopped by policy while in progress,
// typically because a redirect hop left the crawl scope.
type PolicyRejected struct {
	URL      string
	Decision Decision
}

// FailureKind classifies network failures.
type FailureKind string

const (
	// FailureStatus is a server error status (5xx, 429).
	FailureStatus FailureKind = "status"
	// FailureConnection is a refused or reset connection.
	FailureConnection FailureKind = "connection"
	// FailureDNS is a name resolution failure.
	FailureDNS FailureKind = "dns"
	// FailureTLS is a handshake or certificate failure.
	FailureTLS FailureKind = "tls"
	// FailureProtocol is a malformed response or body read failure.
	FailureProtocol FailureKind = "protocol"
	// FailureRequest is a request that could not be built.
	FailureRequest FailureKind = "request"
)

// NetworkFailure is a transport-level or server-side failure.
type NetworkFailure struct {
	URL        string
	Kind       FailureKind
	StatusCode int
	Retryable  bool
	// RetryAfter is the server-requested wait, parsed from Retry-After.
	RetryAfter time.Duration
	Err        error
}

// Timeout means the caller-supplied deadline elapsed before a response.
type Timeout struct {
	URL   string
	After time.Duration
}

func (*Success) fetchResult()        {}
func (*PolicyRejected) fetchResult() {}
func (*NetworkFailure) fetchResult() {}
func (*Timeout) fetchResult()        {}

// Error implements error so failures can be logged and wrapped.
func (f *NetworkFailure) Error() string {
	msg := "network failure (" + string(f.Kind) + ")"
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying transport error.
func (f *NetworkFailure) Unwrap() error {
	return f.Err
}

// Retryable reports whether a fetch result may be retried.
// A timeout is always retryable.
func Retryable(r FetchResult) bool {
	switch v := r.(type) {
	case *NetworkFailure:
		return v.Retryable
	case *Timeout:
		return true
	default:
		return false
	}
}

// Describe returns a short description of a non-success result for
// failure records and logs.
func Describe(r FetchResult) string {
	switch v := r.(type) {
	case *Success:
		return http.StatusText(v.StatusCode)
	case *PolicyRejected:
		return v.Decision.String()
	case *NetworkFailure:
		return v.Error()
	case *Timeout:
		return "timeout after " + v.After.String()
	default:
		return "unknown result"
	}
}
