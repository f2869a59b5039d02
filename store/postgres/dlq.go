package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/id"
)

const dlqColumns = `
	id, job_id, execution_id, tenant_id, job_type, job_name,
	failure_reason, input, retry_attempts, first_failed_at, last_failed_at,
	resolved, resolved_at, resolved_by, resolution_notes, replayed_at, created_at`

// PushDLQ adds an entry. The unique constraint on execution_id enforces
// at most one entry per execution.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gantry_dlq (
			id, job_id, execution_id, tenant_id, job_type, job_name,
			failure_reason, input, retry_attempts, first_failed_at, last_failed_at,
			resolved, resolved_at, resolved_by, resolution_notes, replayed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`,
		entry.ID.String(), entry.JobID.String(), entry.ExecutionID.String(),
		entry.TenantID, entry.JobType, entry.JobName,
		entry.FailureReason, entry.Input, entry.RetryAttempts,
		entry.FirstFailedAt, entry.LastFailedAt,
		entry.Resolved, entry.ResolvedAt, entry.ResolvedBy,
		entry.ResolutionNotes, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return gantry.ErrDLQDuplicate
		}
		return fmt.Errorf("gantry/postgres: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM gantry_dlq WHERE id = $1`,
		entryID.String(),
	)

	entry, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gantry.ErrDLQNotFound
		}
		return nil, fmt.Errorf("gantry/postgres: get dlq: %w", err)
	}
	return entry, nil
}

// ListDLQ returns a tenant's entries matching opts, most recent failure
// first.
func (s *Store) ListDLQ(ctx context.Context, tenantID string, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM gantry_dlq WHERE tenant_id = $1 AND resolved = $2`
	args := []interface{}{tenantID, opts.Resolved}

	query += " ORDER BY last_failed_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gantry/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		entry, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("gantry/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gantry/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// UpdateDLQ persists resolution and replay bookkeeping.
func (s *Store) UpdateDLQ(ctx context.Context, entry *dlq.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE gantry_dlq SET
			resolved = $2, resolved_at = $3, resolved_by = $4,
			resolution_notes = $5, replayed_at = $6
		WHERE id = $1`,
		entry.ID.String(), entry.Resolved, entry.ResolvedAt,
		entry.ResolvedBy, entry.ResolutionNotes, entry.ReplayedAt,
	)
	if err != nil {
		return fmt.Errorf("gantry/postgres: update dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gantry.ErrDLQNotFound
	}
	return nil
}

// CountDLQ returns the number of open entries for the tenant. An empty
// tenant counts across all tenants.
func (s *Store) CountDLQ(ctx context.Context, tenantID string) (int64, error) {
	query := `SELECT COUNT(*) FROM gantry_dlq WHERE NOT resolved`
	args := []interface{}{}

	if tenantID != "" {
		query += " AND tenant_id = $1"
		args = append(args, tenantID)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("gantry/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		entry   dlq.Entry
		idStr   string
		jobStr  string
		execStr string
	)
	err := row.Scan(
		&idStr, &jobStr, &execStr, &entry.TenantID, &entry.JobType, &entry.JobName,
		&entry.FailureReason, &entry.Input, &entry.RetryAttempts,
		&entry.FirstFailedAt, &entry.LastFailedAt,
		&entry.Resolved, &entry.ResolvedAt, &entry.ResolvedBy,
		&entry.ResolutionNotes, &entry.ReplayedAt, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	entry.ID = parsedID

	parsedJob, parseErr := id.ParseJobID(jobStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse dlq job id %q: %w", jobStr, parseErr)
	}
	entry.JobID = parsedJob

	parsedExec, parseErr := id.ParseExecutionID(execStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse dlq execution id %q: %w", execStr, parseErr)
	}
	entry.ExecutionID = parsedExec

	return &entry, nil
}
