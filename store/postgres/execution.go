package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/id"
)

const executionColumns = `
	id, job_id, tenant_id, job_type, job_name, state, input, output,
	started_at, completed_at, duration_ns, error_message,
	retry_count, max_retries, first_failed_at, backoff_until,
	idempotency_key, runner_id, actor, created_at, updated_at`

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gantry_executions (
			id, job_id, tenant_id, job_type, job_name, state, input, output,
			started_at, completed_at, duration_ns, error_message,
			retry_count, max_retries, first_failed_at, backoff_until,
			idempotency_key, runner_id, actor, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21
		)`,
		e.ID.String(), e.JobID.String(), e.TenantID, e.JobType, e.JobName,
		string(e.State), e.Input, e.Output,
		e.StartedAt, e.CompletedAt, e.Duration.Nanoseconds(), e.ErrorMessage,
		e.RetryCount, e.MaxRetries, e.FirstFailedAt, e.BackoffUntil,
		e.IdempotencyKey, e.Runner.String(), e.Actor, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("gantry/postgres: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, executionID id.ExecutionID) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM gantry_executions WHERE id = $1`,
		executionID.String(),
	)

	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gantry.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("gantry/postgres: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution persists changes to an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gantry_executions SET
			state = $2, output = $3, completed_at = $4, duration_ns = $5,
			error_message = $6, retry_count = $7, first_failed_at = $8,
			backoff_until = $9, updated_at = $10
		WHERE id = $1`,
		e.ID.String(), string(e.State), e.Output, e.CompletedAt,
		e.Duration.Nanoseconds(), e.ErrorMessage, e.RetryCount,
		e.FirstFailedAt, e.BackoffUntil, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("gantry/postgres: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gantry.ErrExecutionNotFound
	}
	return nil
}

// ListExecutions returns a tenant's executions, most recent first.
func (s *Store) ListExecutions(ctx context.Context, tenantID string, opts execution.HistoryOpts) ([]*execution.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM gantry_executions WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIdx := 2

	if !opts.JobID.IsNil() {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, opts.JobID.String())
		argIdx++
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gantry/postgres: list executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListDueRetries returns retrying executions whose backoff has elapsed,
// oldest backoff first.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*execution.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM gantry_executions
		WHERE state = 'retrying' AND backoff_until <= $1
		ORDER BY backoff_until ASC`
	args := []interface{}{now}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gantry/postgres: list due retries: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// CountActiveExecutions returns how many executions for the job are
// pending or running.
func (s *Store) CountActiveExecutions(ctx context.Context, jobID id.JobID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM gantry_executions
		WHERE job_id = $1 AND state IN ('pending', 'running')`,
		jobID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("gantry/postgres: count active executions: %w", err)
	}
	return count, nil
}

// scanExecution scans a single execution row.
func scanExecution(row pgx.Row) (*execution.Execution, error) {
	var (
		e          execution.Execution
		idStr      string
		jobStr     string
		stateStr   string
		runnerStr  *string
		durationNs int64
	)
	err := row.Scan(
		&idStr, &jobStr, &e.TenantID, &e.JobType, &e.JobName,
		&stateStr, &e.Input, &e.Output,
		&e.StartedAt, &e.CompletedAt, &durationNs, &e.ErrorMessage,
		&e.RetryCount, &e.MaxRetries, &e.FirstFailedAt, &e.BackoffUntil,
		&e.IdempotencyKey, &runnerStr, &e.Actor, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.State = execution.State(stateStr)
	e.Duration = time.Duration(durationNs)

	parsedID, parseErr := id.ParseExecutionID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse execution id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJob, parseErr := id.ParseJobID(jobStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse execution job id %q: %w", jobStr, parseErr)
	}
	e.JobID = parsedJob

	if runnerStr != nil && *runnerStr != "" {
		parsedRunner, runnerErr := id.ParseRunnerID(*runnerStr)
		if runnerErr == nil {
			e.Runner = parsedRunner
		}
	}

	return &e, nil
}

// collectExecutions collects all executions from query rows.
func collectExecutions(rows pgx.Rows) ([]*execution.Execution, error) {
	var execs []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("gantry/postgres: scan execution row: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gantry/postgres: iterate execution rows: %w", err)
	}
	return execs, nil
}
