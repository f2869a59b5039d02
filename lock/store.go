package lock

import (
	"context"
	"time"

	"github.com/karstlabs/gantry/id"
)

// Store defines the persistence contract for locks.
//
// InsertLock is the correctness boundary: it must be atomic with respect
// to concurrent inserts for the same job across processes, returning
// gantry.ErrLockHeld to every claimant but one.
type Store interface {
	// SweepExpiredLocks deletes all lock rows whose expiry has passed,
	// returning how many were removed. Backends with native TTL expiry
	// (Redis) may implement this as a no-op.
	SweepExpiredLocks(ctx context.Context, now time.Time) (int, error)

	// InsertLock atomically inserts the claim if no row for the job
	// exists. Returns gantry.ErrLockHeld when another claim is present.
	InsertLock(ctx context.Context, l *Lock) error

	// DeleteLock removes the lock row for the job. Deleting an absent
	// row is a no-op.
	DeleteLock(ctx context.Context, jobID id.JobID) error

	// GetLock returns the lock row for the job, or gantry.ErrLockNotHeld
	// if absent. Expired rows are still returned; callers check Expired.
	GetLock(ctx context.Context, jobID id.JobID) (*Lock, error)
}
