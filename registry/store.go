package registry

import (
	"context"
	"time"

	"github.com/karstlabs/gantry/id"
)

// Store defines the persistence contract for job definitions.
//
// Every method that depends on the current time takes it explicitly; the
// service layer supplies the injected clock so stores stay deterministic.
type Store interface {
	// UpsertJob inserts the definition or, when a definition with the
	// same (tenant, name) exists, updates job_type, schedule, config,
	// enabled, and max_retries in place, preserving the existing ID and
	// run bookkeeping.
	UpsertJob(ctx context.Context, def *JobDefinition) (*JobDefinition, error)

	// GetJob retrieves a definition by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*JobDefinition, error)

	// GetJobByName retrieves a definition by its tenant-scoped name.
	GetJobByName(ctx context.Context, tenantID, name string) (*JobDefinition, error)

	// ListJobs returns all definitions for a tenant, name ascending.
	ListJobs(ctx context.Context, tenantID string) ([]*JobDefinition, error)

	// ListDueJobs returns up to limit enabled definitions with a
	// non-empty schedule whose NextRunAt is nil or <= now and which have
	// no in-flight (non-terminal) execution, ordered by NextRunAt
	// ascending with nil first (never-run jobs are prioritized).
	// Schedule-less jobs run only on explicit trigger.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]*JobDefinition, error)

	// UpdateJobSchedule persists the externally computed next fire time.
	UpdateJobSchedule(ctx context.Context, jobID id.JobID, nextRunAt *time.Time) error

	// UpdateJobLastRun records when an execution of the job last started.
	UpdateJobLastRun(ctx context.Context, jobID id.JobID, at time.Time) error
}
