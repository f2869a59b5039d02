package execution

import (
	"context"
	"time"

	"github.com/karstlabs/gantry/id"
)

// HistoryOpts controls filtering for execution history queries.
type HistoryOpts struct {
	// JobID narrows the history to one job. Nil means all the tenant's jobs.
	JobID id.JobID
	// Limit is the maximum number of executions to return. Zero means no
	// limit.
	Limit int
}

// Store defines the persistence contract for executions. There is no
// delete: history is permanent.
type Store interface {
	// CreateExecution persists a new execution.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, executionID id.ExecutionID) (*Execution, error)

	// UpdateExecution persists changes to an existing execution.
	UpdateExecution(ctx context.Context, e *Execution) error

	// ListExecutions returns a tenant's executions, most recent first.
	ListExecutions(ctx context.Context, tenantID string, opts HistoryOpts) ([]*Execution, error)

	// ListDueRetries returns up to limit retrying executions whose
	// BackoffUntil has passed, oldest backoff first.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*Execution, error)

	// CountActiveExecutions returns how many executions for the job are
	// pending or running.
	CountActiveExecutions(ctx context.Context, jobID id.JobID) (int, error)
}
