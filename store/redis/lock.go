package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/lock"
)

// lockModel is the msgpack wire form of a lock claim.
type lockModel struct {
	ExecutionID string    `msgpack:"execution_id"`
	LockedAt    time.Time `msgpack:"locked_at"`
	ExpiresAt   time.Time `msgpack:"expires_at"`
}

// SweepExpiredLocks is a no-op: Redis expires lock keys natively through
// the TTL set at claim time.
func (s *Store) SweepExpiredLocks(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// InsertLock atomically claims the job through SET NX with the claim's
// TTL. A live key means another claim holds the job.
func (s *Store) InsertLock(ctx context.Context, l *lock.Lock) error {
	data, err := msgpack.Marshal(&lockModel{
		ExecutionID: l.ExecutionID.String(),
		LockedAt:    l.LockedAt,
		ExpiresAt:   l.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("gantry/redis: encode lock: %w", err)
	}

	ttl := l.ExpiresAt.Sub(l.LockedAt)
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}

	ok, err := s.client.SetNX(ctx, lockKey(l.JobID.String()), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("gantry/redis: insert lock: %w", err)
	}
	if !ok {
		return gantry.ErrLockHeld
	}
	return nil
}

// DeleteLock removes the lock key for the job.
func (s *Store) DeleteLock(ctx context.Context, jobID id.JobID) error {
	if err := s.client.Del(ctx, lockKey(jobID.String())).Err(); err != nil {
		return fmt.Errorf("gantry/redis: delete lock: %w", err)
	}
	return nil
}

// GetLock returns the live claim for the job. Expired claims vanish with
// their key, so a miss always means the lock is not held.
func (s *Store) GetLock(ctx context.Context, jobID id.JobID) (*lock.Lock, error) {
	data, err := s.client.Get(ctx, lockKey(jobID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, gantry.ErrLockNotHeld
		}
		return nil, fmt.Errorf("gantry/redis: get lock: %w", err)
	}

	var m lockModel
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("gantry/redis: decode lock: %w", err)
	}

	execID, err := id.ParseExecutionID(m.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("gantry/redis: parse lock execution id %q: %w", m.ExecutionID, err)
	}

	return &lock.Lock{
		JobID:       jobID,
		ExecutionID: execID,
		LockedAt:    m.LockedAt,
		ExpiresAt:   m.ExpiresAt,
	}, nil
}
