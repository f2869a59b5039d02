package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/registry"
)

const jobColumns = `
	id, tenant_id, name, job_type, schedule, config, enabled,
	max_retries, last_run_at, next_run_at, created_at, updated_at`

// UpsertJob inserts the definition or updates the existing (tenant, name)
// row in place, preserving its ID and run bookkeeping.
func (s *Store) UpsertJob(ctx context.Context, def *registry.JobDefinition) (*registry.JobDefinition, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO gantry_jobs (
			id, tenant_id, name, job_type, schedule, config, enabled,
			max_retries, last_run_at, next_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			job_type = EXCLUDED.job_type,
			schedule = EXCLUDED.schedule,
			config = EXCLUDED.config,
			enabled = EXCLUDED.enabled,
			max_retries = EXCLUDED.max_retries,
			updated_at = EXCLUDED.updated_at
		RETURNING `+jobColumns,
		def.ID.String(), def.TenantID, def.Name, def.JobType,
		def.Schedule, def.Config, def.Enabled, def.MaxRetries,
		def.LastRunAt, def.NextRunAt, def.CreatedAt, def.UpdatedAt,
	)

	stored, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("gantry/postgres: upsert job: %w", err)
	}
	return stored, nil
}

// GetJob retrieves a definition by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*registry.JobDefinition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM gantry_jobs WHERE id = $1`,
		jobID.String(),
	)

	def, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gantry.ErrJobNotFound
		}
		return nil, fmt.Errorf("gantry/postgres: get job: %w", err)
	}
	return def, nil
}

// GetJobByName retrieves a definition by its tenant-scoped name.
func (s *Store) GetJobByName(ctx context.Context, tenantID, name string) (*registry.JobDefinition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM gantry_jobs WHERE tenant_id = $1 AND name = $2`,
		tenantID, name,
	)

	def, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gantry.ErrJobNotFound
		}
		return nil, fmt.Errorf("gantry/postgres: get job by name: %w", err)
	}
	return def, nil
}

// ListJobs returns all definitions for a tenant, name ascending.
func (s *Store) ListJobs(ctx context.Context, tenantID string) ([]*registry.JobDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM gantry_jobs WHERE tenant_id = $1 ORDER BY name ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("gantry/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListDueJobs returns enabled, scheduled definitions due at now with no
// in-flight execution, never-run jobs first.
func (s *Store) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]*registry.JobDefinition, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM gantry_jobs j
		WHERE j.enabled
		  AND j.schedule <> ''
		  AND (j.next_run_at IS NULL OR j.next_run_at <= $1)
		  AND NOT EXISTS (
			SELECT 1 FROM gantry_executions e
			WHERE e.job_id = j.id
			  AND e.state NOT IN ('completed', 'failed')
		  )
		ORDER BY j.next_run_at ASC NULLS FIRST, j.name ASC`
	args := []interface{}{now}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gantry/postgres: list due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// UpdateJobSchedule persists the externally computed next fire time.
func (s *Store) UpdateJobSchedule(ctx context.Context, jobID id.JobID, nextRunAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gantry_jobs SET next_run_at = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), nextRunAt,
	)
	if err != nil {
		return fmt.Errorf("gantry/postgres: update job schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gantry.ErrJobNotFound
	}
	return nil
}

// UpdateJobLastRun records when an execution of the job last started.
func (s *Store) UpdateJobLastRun(ctx context.Context, jobID id.JobID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gantry_jobs SET last_run_at = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("gantry/postgres: update job last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gantry.ErrJobNotFound
	}
	return nil
}

// scanJob scans a single job definition row.
func scanJob(row pgx.Row) (*registry.JobDefinition, error) {
	var (
		def   registry.JobDefinition
		idStr string
	)
	err := row.Scan(
		&idStr, &def.TenantID, &def.Name, &def.JobType,
		&def.Schedule, &def.Config, &def.Enabled, &def.MaxRetries,
		&def.LastRunAt, &def.NextRunAt, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse job id %q: %w", idStr, parseErr)
	}
	def.ID = parsedID

	return &def, nil
}

// collectJobs collects all job definitions from query rows.
func collectJobs(rows pgx.Rows) ([]*registry.JobDefinition, error) {
	var defs []*registry.JobDefinition
	for rows.Next() {
		def, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("gantry/postgres: scan job row: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gantry/postgres: iterate job rows: %w", err)
	}
	return defs, nil
}
