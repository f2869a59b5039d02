package postgres

import (
	"context"
	"fmt"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/idempotency"
)

// PutIdempotencyRecord inserts the record if its key is unseen. First
// write wins.
func (s *Store) PutIdempotencyRecord(ctx context.Context, rec *idempotency.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gantry_idempotency (key, job_id, execution_id, result, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Key, rec.JobID.String(), rec.ExecutionID.String(), rec.Result, rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return gantry.ErrIdempotencyConflict
		}
		return fmt.Errorf("gantry/postgres: put idempotency record: %w", err)
	}
	return nil
}

// GetIdempotencyRecord returns the record for the key.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (*idempotency.Record, error) {
	var (
		rec     idempotency.Record
		jobStr  *string
		execStr *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT key, job_id, execution_id, result, created_at
		FROM gantry_idempotency
		WHERE key = $1`,
		key,
	).Scan(&rec.Key, &jobStr, &execStr, &rec.Result, &rec.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, gantry.ErrIdempotencyNotFound
		}
		return nil, fmt.Errorf("gantry/postgres: get idempotency record: %w", err)
	}

	if jobStr != nil && *jobStr != "" {
		parsedJob, parseErr := id.ParseJobID(*jobStr)
		if parseErr == nil {
			rec.JobID = parsedJob
		}
	}
	if execStr != nil && *execStr != "" {
		parsedExec, parseErr := id.ParseExecutionID(*execStr)
		if parseErr == nil {
			rec.ExecutionID = parsedExec
		}
	}

	return &rec, nil
}
