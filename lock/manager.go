package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
)

// Manager coordinates lock claims over a Store.
type Manager struct {
	store  Store
	clock  gantry.Clock
	logger *slog.Logger
}

// NewManager creates a lock manager.
func NewManager(store Store, clock gantry.Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = gantry.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, clock: clock, logger: logger}
}

// Acquire sweeps expired claims, then attempts an atomic claim of the job
// for the given execution. Returns true iff the claim succeeded. A false
// return means another runner owns the job; that is contention, not an
// error, and callers skip silently until the next tick. A non-positive
// ttl uses DefaultTTL.
func (m *Manager) Acquire(ctx context.Context, jobID id.JobID, executionID id.ExecutionID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := m.clock.Now()
	swept, err := m.store.SweepExpiredLocks(ctx, now)
	if err != nil {
		return false, fmt.Errorf("lock: sweep: %w", err)
	}
	if swept > 0 {
		m.logger.Debug("swept expired locks", slog.Int("count", swept))
	}

	l := &Lock{
		JobID:       jobID,
		ExecutionID: executionID,
		LockedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	err = m.store.InsertLock(ctx, l)
	if errors.Is(err, gantry.ErrLockHeld) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock: claim job %s: %w", jobID, err)
	}

	m.logger.Debug("lock acquired",
		slog.String("job_id", jobID.String()),
		slog.String("execution_id", executionID.String()),
		slog.Time("expires_at", l.ExpiresAt),
	)
	return true, nil
}

// Release deletes the lock row for the job. Releasing an unheld lock is
// an idempotent no-op.
func (m *Manager) Release(ctx context.Context, jobID id.JobID) error {
	if err := m.store.DeleteLock(ctx, jobID); err != nil {
		return fmt.Errorf("lock: release job %s: %w", jobID, err)
	}
	return nil
}

// IsLocked sweeps expired claims as a side effect, then reports whether
// a live claim exists for the job.
func (m *Manager) IsLocked(ctx context.Context, jobID id.JobID) (bool, error) {
	if _, err := m.store.SweepExpiredLocks(ctx, m.clock.Now()); err != nil {
		return false, fmt.Errorf("lock: sweep: %w", err)
	}

	_, err := m.store.GetLock(ctx, jobID)
	if errors.Is(err, gantry.ErrLockNotHeld) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Holder returns the live claim for the job, or gantry.ErrLockNotHeld if
// the job is unclaimed or the claim has expired.
func (m *Manager) Holder(ctx context.Context, jobID id.JobID) (*Lock, error) {
	l, err := m.store.GetLock(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if l.Expired(m.clock.Now()) {
		return nil, gantry.ErrLockNotHeld
	}
	return l, nil
}
