// Package execution defines the execution entity and its persistence
// contract. One execution is one attempt-series of a job: it carries its
// own status and retry count, and its history is permanent: executions
// are created by the tracker and mutated only through complete/fail state
// transitions, never deleted.
package execution

import (
	"encoding/json"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
)

// State represents the lifecycle state of an execution.
type State string

const (
	// StatePending means the execution is created but not yet running.
	StatePending State = "pending"
	// StateRunning means a runner is currently executing the job body.
	StateRunning State = "running"
	// StateCompleted means the job body finished successfully. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the retry budget is exhausted or the failure was
	// permanent; exactly one DLQ entry exists for the execution. Terminal.
	StateFailed State = "failed"
	// StateRetrying means the body failed transiently and the execution
	// becomes eligible again once BackoffUntil has passed.
	StateRetrying State = "retrying"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Execution is one attempt-series of a job.
type Execution struct {
	gantry.Entity

	ID       id.ExecutionID `json:"id"`
	JobID    id.JobID       `json:"job_id"`
	TenantID string         `json:"tenant_id"`
	JobType  string         `json:"job_type"`
	JobName  string         `json:"job_name"`
	State    State          `json:"state"`

	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// RetryCount counts Fail transitions: the total number of failed
	// attempts, the initial attempt included. Monotonically
	// non-decreasing.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// FirstFailedAt is stamped by the first Fail transition and carried
	// into the DLQ entry when the execution turns terminal.
	FirstFailedAt *time.Time `json:"first_failed_at,omitempty"`

	// BackoffUntil gates retry pickup: a retrying execution is ignored
	// by due listing until this instant has passed.
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Runner identifies the runner process that claimed the execution.
	Runner id.RunnerID `json:"runner,omitempty"`

	// Actor is the explicit identity on whose behalf the execution was
	// started: a runner's identity for scheduled fires, an operator's for
	// manual triggers and replays. Never looked up ambiently.
	Actor string `json:"actor,omitempty"`
}
