package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
)

// Guard is the helper job bodies call before any side-effecting write.
type Guard struct {
	store Store
	clock gantry.Clock
}

// NewGuard creates a Guard over the given store.
func NewGuard(store Store, clock gantry.Clock) *Guard {
	if clock == nil {
		clock = gantry.SystemClock()
	}
	return &Guard{store: store, clock: clock}
}

// Lookup returns the stored result for the key, or
// gantry.ErrIdempotencyNotFound on a miss.
func (g *Guard) Lookup(ctx context.Context, key string) (json.RawMessage, error) {
	rec, err := g.store.GetIdempotencyRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	return rec.Result, nil
}

// Do runs fn at most once per key. On a hit it short-circuits and returns
// the stored result without invoking fn; on a miss it runs fn, records the
// result under the key, and returns it. If a concurrent caller recorded
// the key first, the stored result wins and fn's result is discarded.
func (g *Guard) Do(ctx context.Context, key string, jobID id.JobID, executionID id.ExecutionID, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if key == "" {
		return fn(ctx)
	}

	result, err := g.Lookup(ctx, key)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, gantry.ErrIdempotencyNotFound) {
		return nil, fmt.Errorf("idempotency: lookup %q: %w", key, err)
	}

	result, err = fn(ctx)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Key:         key,
		JobID:       jobID,
		ExecutionID: executionID,
		Result:      result,
		CreatedAt:   g.clock.Now(),
	}
	putErr := g.store.PutIdempotencyRecord(ctx, rec)
	if errors.Is(putErr, gantry.ErrIdempotencyConflict) {
		// Lost the write race; the first record is authoritative.
		return g.Lookup(ctx, key)
	}
	if putErr != nil {
		return nil, fmt.Errorf("idempotency: record %q: %w", key, putErr)
	}
	return result, nil
}

// Record writes a key → result mapping directly. Conflicts are absorbed:
// the stored record stays authoritative. Used by the tracker to persist
// the record alongside a successful completion.
func (g *Guard) Record(ctx context.Context, key string, jobID id.JobID, executionID id.ExecutionID, result json.RawMessage) error {
	if key == "" {
		return nil
	}
	rec := &Record{
		Key:         key,
		JobID:       jobID,
		ExecutionID: executionID,
		Result:      result,
		CreatedAt:   g.clock.Now(),
	}
	err := g.store.PutIdempotencyRecord(ctx, rec)
	if errors.Is(err, gantry.ErrIdempotencyConflict) {
		return nil
	}
	return err
}
