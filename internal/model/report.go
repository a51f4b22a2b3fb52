package model

import "time"

// RunInfo is one entry of the run history: the run's identity and its
// headline counters, without the full summary.
type RunInfo struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Seeds      []string  `json:"seeds"`

	// The counters below are zero while the run has no summary.
	Interrupted bool  `json:"interrupted"`
	Fetched     int64 `json:"fetched"`
	Persisted   int64 `json:"persisted"`
	Failed      int64 `json:"failed"`
}

// Finished reports whether the run stored a summary.
func (r RunInfo) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Status is a one-word state for listings.
func (r RunInfo) Status() string {
	switch {
	case !r.Finished():
		return "running"
	case r.Interrupted:
		return "interrupted"
	default:
		return "finished"
	}
}
