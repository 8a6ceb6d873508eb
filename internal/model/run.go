package model

import "time"

// Outcome classifies the dispatch result of a single due notification.
type Outcome string

const (
	OutcomeSent Outcome = "sent"
	// OutcomeAlreadySent means the conditional append lost to a concurrent
	// run. Not an error; the reminder went out exactly once.
	OutcomeAlreadySent Outcome = "already_sent"
	OutcomeFailed      Outcome = "failed"
)

// Run statuses recorded in scheduler_runs.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RunSummary is the aggregate a scheduler run reports back to its caller.
type RunSummary struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	SentCount        int       `json:"sent_count"`
	AlreadySentCount int       `json:"already_sent_count"`
	FailedCount      int       `json:"failed_count"`
	Skipped          bool      `json:"skipped"`
	SkipReason       string    `json:"skip_reason,omitempty"`
}

// RunRecord is one row of the persisted run history.
type RunRecord struct {
	ID               int64      `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Status           string     `json:"status"`
	SentCount        int        `json:"sent_count"`
	AlreadySentCount int        `json:"already_sent_count"`
	FailedCount      int        `json:"failed_count"`
	Error            string     `json:"error,omitempty"`
}
