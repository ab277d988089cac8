package pipeline

import "time"

// Status is the terminal state of a run.
type Status string

// Run statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCanceled  Status = "canceled"
)

// Skip reasons counted in Report.Skipped.
const (
	SkipNoContent   = "no_content"
	SkipRejected    = "rejected"
	SkipIndexFailed = "index_failed"
	SkipPanic       = "panic"
	SkipCanceled    = "canceled"
)

// Report summarizes one run.
type Report struct {
	RunID      string         `json:"run_id"`
	Status     Status         `json:"status"`
	Fetched    int            `json:"fetched"`
	Indexed    int            `json:"indexed"`
	Skipped    map[string]int `json:"skipped"`
	Sessions   int            `json:"sessions"`
	Swept      int64          `json:"swept"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   time.Duration  `json:"duration_ns"`
	Error      string         `json:"error,omitempty"`
}

// SkippedTotal sums every skip reason.
func (r Report) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

func (r *Report) skip(reason string) {
	if r.Skipped == nil {
		r.Skipped = map[string]int{}
	}
	r.Skipped[reason]++
}
