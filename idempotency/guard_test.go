package idempotency_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/idempotency"
	"github.com/karstlabs/gantry/store/memory"
)

func newGuard(t *testing.T) *idempotency.Guard {
	t.Helper()
	clock := gantry.NewManualClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	return idempotency.NewGuard(memory.New(), clock)
}

func TestComputeKeyStable(t *testing.T) {
	t.Parallel()

	a := idempotency.ComputeKey("report", "acme", "2026-02-01")
	b := idempotency.ComputeKey("report", "acme", "2026-02-01")
	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
	if a == idempotency.ComputeKey("report", "acme", "2026-02-02") {
		t.Fatal("different natural keys produced the same key")
	}
	if a == idempotency.ComputeKey("report", "globex", "2026-02-01") {
		t.Fatal("different tenants produced the same key")
	}
}

func TestDoRunsOncePerKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := newGuard(t)

	var calls int
	fn := func(_ context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"sent":1}`), nil
	}

	jobID, execID := id.NewJobID(), id.NewExecutionID()

	result, err := g.Do(ctx, "k1", jobID, execID, fn)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(result) != `{"sent":1}` {
		t.Fatalf("result = %s", result)
	}

	// Second call short-circuits on the stored record.
	result, err = g.Do(ctx, "k1", jobID, id.NewExecutionID(), fn)
	if err != nil {
		t.Fatalf("Do hit: %v", err)
	}
	if string(result) != `{"sent":1}` {
		t.Fatalf("hit result = %s", result)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoEmptyKeyBypasses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := newGuard(t)

	var calls int
	fn := func(_ context.Context) (json.RawMessage, error) {
		calls++
		return nil, nil
	}

	for range 3 {
		if _, err := g.Do(ctx, "", id.Nil, id.Nil, fn); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoErrorIsNotRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := newGuard(t)

	boom := errors.New("boom")
	if _, err := g.Do(ctx, "k2", id.Nil, id.Nil, func(_ context.Context) (json.RawMessage, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	// A failed fn leaves the key unseen, so the next call runs.
	result, err := g.Do(ctx, "k2", id.Nil, id.Nil, func(_ context.Context) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	})
	if err != nil {
		t.Fatalf("Do after failure: %v", err)
	}
	if string(result) != `"ok"` {
		t.Fatalf("result = %s", result)
	}
}

func TestRecordAbsorbsConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := newGuard(t)

	jobID, execID := id.NewJobID(), id.NewExecutionID()
	if err := g.Record(ctx, "k3", jobID, execID, json.RawMessage(`1`)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := g.Record(ctx, "k3", jobID, execID, json.RawMessage(`2`)); err != nil {
		t.Fatalf("Record conflict: %v", err)
	}

	result, err := g.Lookup(ctx, "k3")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(result) != `1` {
		t.Fatalf("result = %s, want first write", result)
	}
}

func TestLookupMiss(t *testing.T) {
	t.Parallel()
	g := newGuard(t)

	if _, err := g.Lookup(context.Background(), "unseen"); !errors.Is(err, gantry.ErrIdempotencyNotFound) {
		t.Fatalf("err = %v, want ErrIdempotencyNotFound", err)
	}
}
