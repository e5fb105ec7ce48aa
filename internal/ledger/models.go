package ledger

import (
	"time"

	"kloak/internal/media"
)

// Outcome is the terminal result of one strip attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// OutcomeOf maps a strip error to its ledger outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case media.IsCancelled(err):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// Entry is one row of strip history.
type Entry struct {
	ID           int64
	RunID        string
	SourceName   string
	SourceHash   string
	SourceBytes  int64
	SourceKind   string
	Strategy     string
	Outcome      Outcome
	ErrorKind    media.ErrorKind
	OutputPath   string
	OutputHash   string
	OutputBytes  int64
	RemovedItems int
	Duration     time.Duration
	CreatedAt    time.Time
}

// RunSummary aggregates the entries of one run.
type RunSummary struct {
	RunID     string
	Started   time.Time
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Skipped   int
}
