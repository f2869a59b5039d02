package gantry

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("gantry: no store configured")
	ErrStoreClosed     = errors.New("gantry: store closed")
	ErrMigrationFailed = errors.New("gantry: migration failed")

	// Not found errors.
	ErrJobNotFound         = errors.New("gantry: job definition not found")
	ErrExecutionNotFound   = errors.New("gantry: execution not found")
	ErrDLQNotFound         = errors.New("gantry: dlq entry not found")
	ErrIdempotencyNotFound = errors.New("gantry: idempotency record not found")
	ErrEventNotFound       = errors.New("gantry: event not found")

	// Lock errors. ErrLockHeld is the store-level conflict signal for an
	// atomic claim that lost the race; the lock manager translates it
	// into a false return because contention is not an error for callers.
	ErrLockHeld    = errors.New("gantry: lock already held")
	ErrLockNotHeld = errors.New("gantry: lock not held")

	// Conflict errors.
	ErrJobTypeUnknown      = errors.New("gantry: unknown job type")
	ErrIdempotencyConflict = errors.New("gantry: idempotency key already recorded")
	ErrDLQDuplicate        = errors.New("gantry: dlq entry already exists for execution")
	ErrDLQResolved         = errors.New("gantry: dlq entry already resolved")

	// State errors.
	ErrInvalidState = errors.New("gantry: invalid state transition")

	// Throttle errors.
	ErrThrottled = errors.New("gantry: tenant over throttle limits")
)
