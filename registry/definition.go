// Package registry stores job definitions and answers which jobs are due.
// Definitions are tenant-scoped, upserted by (tenant, name), and carry a
// typed configuration validated at registration time through a
// type-keyed decoder registry.
package registry

import (
	"encoding/json"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
)

// JobDefinition is a named, schedulable unit of recurring or on-demand
// work, scoped to a tenant. Name is unique per tenant.
type JobDefinition struct {
	gantry.Entity

	ID       id.JobID `json:"id"`
	TenantID string   `json:"tenant_id"`
	Name     string   `json:"name"`
	JobType  string   `json:"job_type"`

	// Schedule is a cron expression (e.g., "0 2 * * *" or "@every 1h").
	// The registry stores it verbatim; parsing and next-fire computation
	// are the runner's concern.
	Schedule string `json:"schedule"`

	// Config is the job-type-specific configuration, validated against
	// the decoder registered for JobType at registration time.
	Config json.RawMessage `json:"config,omitempty"`

	Enabled    bool       `json:"enabled"`
	MaxRetries int        `json:"max_retries"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
}
