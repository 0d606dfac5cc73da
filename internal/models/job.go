package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Batch job lifecycle states. Transitions only move forward; a transient
// poll error leaves the state untouched.
const (
	StatePendingSubmit = "PENDING_SUBMIT"
	StateSubmitted     = "SUBMITTED"
	StateInProgress    = "IN_PROGRESS"
	StateCompleted     = "COMPLETED"
	StateFailed        = "FAILED"
	StateExpired       = "EXPIRED"
)

// stateRank orders states for the forward-only invariant. Terminal states
// share the highest rank; re-entering IN_PROGRESS is a refresh, not a
// regression.
var stateRank = map[string]int{
	StatePendingSubmit: 0,
	StateSubmitted:     1,
	StateInProgress:    2,
	StateCompleted:     3,
	StateFailed:        3,
	StateExpired:       3,
}

// IsTerminal reports whether a job state is final.
func IsTerminal(state string) bool {
	return state == StateCompleted || state == StateFailed || state == StateExpired
}

// CanAdvance reports whether a transition from one state to another is a
// legal forward move.
func CanAdvance(from, to string) bool {
	fr, ok := stateRank[from]
	if !ok {
		return false
	}
	tr, ok := stateRank[to]
	if !ok {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	if to == StateInProgress && from == StateInProgress {
		return true
	}
	return tr > fr
}

// BatchJob is one manifest row: a durable record of a single request batch
// and its submission lifecycle. Rows are never deleted; the manifest is an
// audit trail.
type BatchJob struct {
	ID            surrealmodels.RecordID `json:"id"`
	BatchID       int                    `json:"batch_id"`
	State         string                 `json:"state"`
	ItemKeys      []string               `json:"item_keys"`
	ItemCount     int                    `json:"item_count"`
	SizeBytes     int                    `json:"size_bytes"`
	RequestKey    string                 `json:"request_key"`
	ExternalJobID *string                `json:"external_job_id,omitempty"`
	InputFileID   *string                `json:"input_file_id,omitempty"`
	OutputKey     *string                `json:"output_key,omitempty"`
	Error         *string                `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	SubmittedAt   *time.Time             `json:"submitted_at,omitempty"`
	LastPolledAt  *time.Time             `json:"last_polled_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}
