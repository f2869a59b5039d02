package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/lock"
)

// SweepExpiredLocks deletes all lock rows whose expiry has passed.
func (s *Store) SweepExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM gantry_locks WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("gantry/postgres: sweep expired locks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertLock atomically inserts the claim. The primary key on job_id
// turns every concurrent claim but one into a unique violation.
func (s *Store) InsertLock(ctx context.Context, l *lock.Lock) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gantry_locks (job_id, execution_id, locked_at, expires_at)
		VALUES ($1, $2, $3, $4)`,
		l.JobID.String(), l.ExecutionID.String(), l.LockedAt, l.ExpiresAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return gantry.ErrLockHeld
		}
		return fmt.Errorf("gantry/postgres: insert lock: %w", err)
	}
	return nil
}

// DeleteLock removes the lock row for the job.
func (s *Store) DeleteLock(ctx context.Context, jobID id.JobID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM gantry_locks WHERE job_id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("gantry/postgres: delete lock: %w", err)
	}
	return nil
}

// GetLock returns the lock row for the job, expired rows included.
func (s *Store) GetLock(ctx context.Context, jobID id.JobID) (*lock.Lock, error) {
	var (
		l       lock.Lock
		jobStr  string
		execStr string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, execution_id, locked_at, expires_at
		FROM gantry_locks
		WHERE job_id = $1`,
		jobID.String(),
	).Scan(&jobStr, &execStr, &l.LockedAt, &l.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, gantry.ErrLockNotHeld
		}
		return nil, fmt.Errorf("gantry/postgres: get lock: %w", err)
	}

	parsedJob, parseErr := id.ParseJobID(jobStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse lock job id %q: %w", jobStr, parseErr)
	}
	l.JobID = parsedJob

	parsedExec, parseErr := id.ParseExecutionID(execStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse lock execution id %q: %w", execStr, parseErr)
	}
	l.ExecutionID = parsedExec

	return &l, nil
}
