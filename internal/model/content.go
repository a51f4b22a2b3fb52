package model

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// ContentRecord is the structured output persisted for every fetched URL.
// The URL is its stable identity: saving the same record twice is an upsert.
type ContentRecord struct {
	// ID is the hex SHA3-256 fingerprint of URL.
	ID string `json:"id"`

	// RunID identifies the crawl run that produced the record.
	RunID string `json:"run_id,omitempty"`

	// URL is the canonical URL that was scheduled.
	URL string `json:"url"`

	// FinalURL is the URL after redirects. Empty when equal to URL.
	FinalURL string `json:"final_url,omitempty"`

	// Host is the frontier host key.
	Host string `json:"host"`

	// Depth is the discovery depth of URL.
	Depth int `json:"depth"`

	// Parent is the page URL was discovered on.
	Parent string `json:"parent,omitempty"`

	// Kind is the discovery kind of URL.
	Kind Kind `json:"kind"`

	// StatusCode is the final HTTP status. Zero for failures without a response.
	StatusCode int `json:"status_code,omitempty"`

	// ContentType is the media type of the response body.
	ContentType string `json:"content_type,omitempty"`

	// ContentLength is the decoded body length in bytes.
	ContentLength int64 `json:"content_length,omitempty"`

	// Extractor names the extractor that produced the record.
	Extractor string `json:"extractor,omitempty"`

	// Title is the document title.
	Title string `json:"title,omitempty"`

	// Headings holds h1 to h3 texts in document order.
	Headings []string `json:"headings,omitempty"`

	// Paragraphs holds paragraph texts in document order.
	Paragraphs []string `json:"paragraphs,omitempty"`

	// Figcaptions holds figure caption texts.
	Figcaptions []string `json:"figcaptions,omitempty"`

	// Excerpt, Byline and SiteName come from main-text extraction.
	Excerpt  string `json:"excerpt,omitempty"`
	Byline   string `json:"byline,omitempty"`
	SiteName string `json:"site_name,omitempty"`

	// Language is the declared or detected ISO 639-1 code.
	Language string `json:"language,omitempty"`

	// Canonical is the announced canonical URL, if any.
	Canonical string `json:"canonical,omitempty"`

	// Meta holds document metadata (description, keywords, author, exif.*).
	Meta map[string]string `json:"meta,omitempty"`

	// Links holds the resolved outbound links found in the document.
	Links []string `json:"links,omitempty"`

	// Hash is the hex SHA3-256 of the body.
	Hash string `json:"hash,omitempty"`

	// Simhash is a 64-bit locality sensitive hash of the document text.
	Simhash uint64 `json:"simhash,omitempty"`

	// LastModified is the server-declared modification time.
	LastModified *time.Time `json:"last_modified,omitempty"`

	// FetchedAt is when the response was received.
	FetchedAt time.Time `json:"fetched_at"`

	// Attempts is the number of fetch attempts that were made.
	Attempts int `json:"attempts,omitempty"`

	// ParseError is set when extraction failed; links are then empty.
	ParseError   bool   `json:"parse_error,omitempty"`
	ParseMessage string `json:"parse_message,omitempty"`

	// NoIndex is set when the document asked not to be indexed.
	NoIndex bool `json:"noindex,omitempty"`

	// Duplicate is set when the body duplicates an earlier record.
	Duplicate   bool   `json:"duplicate,omitempty"`
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// Failed marks a permanent fetch failure; Error describes it.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewContentRecord creates a record for rec with its identity filled in.
func NewContentRecord(rec *URLRecord) *ContentRecord {
	return &ContentRecord{
		ID:     RecordID(rec.URL),
		URL:    rec.URL,
		Host:   rec.Host,
		Depth:  rec.Depth,
		Parent: rec.Parent,
		Kind:   rec.Kind,
	}
}

// RecordID returns the stable record identifier for a canonical URL.
func RecordID(canonical string) string {
	sum := sha3.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// ComputeHash fills Hash from body. An empty body leaves Hash empty.
func (r *ContentRecord) ComputeHash(body []byte) {
	if len(body) == 0 {
		r.Hash = ""
		return
	}
	sum := sha3.Sum256(body)
	r.Hash = hex.EncodeToString(sum[:])
}

// Text joins headings, paragraphs and captions into a single string.
// It is the input for duplicate detection.
func (r *ContentRecord) Text() string {
	parts := make([]string, 0, len(r.Headings)+len(r.Paragraphs)+len(r.Figcaptions)+1)
	if r.Title != "" {
		parts = append(parts, r.Title)
	}
	parts = append(parts, r.Headings...)
	parts = append(parts, r.Paragraphs...)
	parts = append(parts, r.Figcaptions...)
	return strings.Join(parts, "\n")
}

// Link is an outbound URL candidate produced by an extractor.
type Link struct {
	// URL is the absolute, resolved URL. It is not yet normalized.
	URL string
	// Depth is the inferred discovery depth.
	Depth int
	// Kind is the expected kind of the target.
	Kind Kind
	// Hint is an optional priority hint.
	Hint float64
}

// Extraction is the result of running the extractor pipeline on a response.
type Extraction struct {
	// Links are the outbound candidates in document order.
	Links []Link
	// Record is the content record to persist. Never nil.
	Record *ContentRecord
}
