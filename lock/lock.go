// Package lock provides per-job mutual exclusion: at most one in-flight
// execution per job, claimed through an atomic insert with a TTL.
//
// Claim correctness must not depend on process-local synchronization,
// because multiple independent runner processes may race to pick up the
// same due job. The shared store's atomic insert-if-absent is the only
// correctness boundary; everything in this package is a thin layer over
// it.
package lock

import (
	"time"

	"github.com/karstlabs/gantry/id"
)

// DefaultTTL is the lock time-to-live applied when the caller passes a
// non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Lock is a mutual-exclusion claim on one job. One row per job; the
// existence of a non-expired row implies exactly one running execution,
// subject to the TTL staleness window.
type Lock struct {
	JobID       id.JobID       `json:"job_id"`
	ExecutionID id.ExecutionID `json:"execution_id"`
	LockedAt    time.Time      `json:"locked_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Expired reports whether the claim has outlived its TTL at the given
// instant.
func (l *Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
