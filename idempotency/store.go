package idempotency

import "context"

// Store defines the persistence contract for idempotency records.
type Store interface {
	// PutIdempotencyRecord inserts the record if its key is unseen.
	// First write wins: a duplicate key returns
	// gantry.ErrIdempotencyConflict and leaves the stored record intact.
	PutIdempotencyRecord(ctx context.Context, rec *Record) error

	// GetIdempotencyRecord returns the record for the key, or
	// gantry.ErrIdempotencyNotFound on a miss.
	GetIdempotencyRecord(ctx context.Context, key string) (*Record, error)
}
