// Package dlq provides the dead letter queue: a durable store of
// terminally-failed executions awaiting manual operator resolution.
// Exactly one entry exists per execution that reaches terminal failed.
package dlq

import (
	"encoding/json"
	"time"

	"github.com/karstlabs/gantry/id"
)

// Entry records one terminally-failed execution with enough diagnostic
// context for an operator to triage and, if appropriate, replay it.
type Entry struct {
	ID          id.DLQID       `json:"id"`
	JobID       id.JobID       `json:"job_id"`
	ExecutionID id.ExecutionID `json:"execution_id"`
	TenantID    string         `json:"tenant_id"`
	JobType     string         `json:"job_type"`
	JobName     string         `json:"job_name"`

	FailureReason string `json:"failure_reason"`

	// Input is the original input params, carried in full so the job can
	// be replayed without reconstructing state.
	Input json.RawMessage `json:"input,omitempty"`

	// RetryAttempts is the execution's final retry count: the total
	// number of failed attempts, initial attempt included.
	RetryAttempts int `json:"retry_attempts"`

	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`

	Resolved        bool       `json:"resolved"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`

	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
