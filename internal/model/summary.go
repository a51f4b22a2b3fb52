package model

import (
	"sort"
	"time"
)

// CrawlSummary aggregates counters for one crawl run.
// It is produced by the scheduler when the run stops and stored with the
// run history.
type CrawlSummary struct {
	RunID      string    `json:"run_id"`
	Seeds      []string  `json:"seeds"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Interrupted is true when the run ended on an external stop signal
	// instead of an empty frontier.
	Interrupted bool `json:"interrupted"`

	Enqueued    int64 `json:"enqueued"`
	Fetched     int64 `json:"fetched"`
	Persisted   int64 `json:"persisted"`
	Failed      int64 `json:"failed"`
	Retries     int64 `json:"retries"`
	Duplicates  int64 `json:"duplicates"`
	ParseErrors int64 `json:"parse_errors"`
	InvalidURLs int64 `json:"invalid_urls"`
	DedupHits   int64 `json:"dedup_hits"`
	Lost        int64 `json:"lost"`
	Stalls      int64 `json:"stalls"`
	Hosts       int   `json:"hosts"`

	// Denied counts policy denies keyed by "check:reason".
	Denied map[string]int64 `json:"denied,omitempty"`
}

// Duration returns how long the run took.
func (s *CrawlSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// TotalDenied returns the number of policy denies across all reasons.
func (s *CrawlSummary) TotalDenied() int64 {
	var total int64
	for _, n := range s.Denied {
		total += n
	}
	return total
}

// DeniedReasons returns deny keys sorted by count, highest first.
func (s *CrawlSummary) DeniedReasons() []string {
	keys := make([]string, 0, len(s.Denied))
	for k := range s.Denied {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if s.Denied[keys[i]] != s.Denied[keys[j]] {
			return s.Denied[keys[i]] > s.Denied[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
