package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/event"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/registry"
	"github.com/karstlabs/gantry/retry"
	"github.com/karstlabs/gantry/store/memory"
	"github.com/karstlabs/gantry/throttle"
)

// fixedInterval is a stub Scheduler that fires hourly.
type fixedInterval struct{}

func (fixedInterval) Next(_ string, after time.Time) (time.Time, error) {
	return after.Add(time.Hour), nil
}

type reportConfig struct {
	Month string `json:"month"`
}

func newEngine(t *testing.T, opts ...Option) (*Engine, *gantry.ManualClock) {
	t.Helper()
	clock := gantry.NewManualClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	base := []Option{
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBackoff(retry.NewExponential(30*time.Second, time.Hour)),
		WithScheduler(fixedInterval{}),
	}
	e, err := New(memory.New(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, clock
}

func registerReportJob(t *testing.T, e *Engine, maxRetries int) *registry.JobDefinition {
	t.Helper()
	def, err := e.RegisterJob(context.Background(), "admin@acme", registry.RegisterParams{
		TenantID:   "acme",
		Name:       "nightly-report",
		JobType:    "report",
		Schedule:   "0 0 * * *",
		Config:     json.RawMessage(`{"month":"2026-02"}`),
		Enabled:    true,
		MaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	return def
}

// registerManualJob registers a schedule-less job that only runs on
// explicit trigger, keeping RunDue calls in retry tests from firing a
// fresh scheduled execution alongside the resumed one.
func registerManualJob(t *testing.T, e *Engine, maxRetries int) *registry.JobDefinition {
	t.Helper()
	def, err := e.RegisterJob(context.Background(), "admin@acme", registry.RegisterParams{
		TenantID:   "acme",
		Name:       "on-demand-report",
		JobType:    "report",
		Config:     json.RawMessage(`{"month":"2026-02"}`),
		Enabled:    true,
		MaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	return def
}

func TestRegisterJobUnknownType(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t)

	_, err := e.RegisterJob(context.Background(), "admin@acme", registry.RegisterParams{
		TenantID: "acme",
		Name:     "mystery",
		JobType:  "unregistered",
		Enabled:  true,
	})
	if !errors.Is(err, gantry.ErrJobTypeUnknown) {
		t.Fatalf("expected ErrJobTypeUnknown, got %v", err)
	}
}

func TestRegisterJobSeedsSchedule(t *testing.T) {
	t.Parallel()
	e, clock := newEngine(t)
	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		return nil, nil
	})

	def := registerReportJob(t, e, 3)
	if def.NextRunAt == nil {
		t.Fatal("NextRunAt not seeded at registration")
	}
	want := clock.Now().Add(time.Hour)
	if !def.NextRunAt.Equal(want) {
		t.Fatalf("got NextRunAt %v, want %v", def.NextRunAt, want)
	}
}

// TestRunJobCompletes is the happy path: a manual trigger runs the
// handler once and leaves a completed execution, an idempotency record,
// and a completion event.
func TestRunJobCompletes(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t)
	ctx := context.Background()

	var calls atomic.Int32
	Register(e, "report", func(_ context.Context, run *Run, cfg reportConfig) (json.RawMessage, error) {
		calls.Add(1)
		if cfg.Month != "2026-02" {
			return nil, fmt.Errorf("wrong config: %+v", cfg)
		}
		return json.RawMessage(`{"rows":42}`), nil
	})

	def := registerReportJob(t, e, 3)
	ex, err := e.RunJob(ctx, "admin@acme", def.ID, nil)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if ex.State != execution.StateCompleted {
		t.Fatalf("got state %q, want completed", ex.State)
	}
	if string(ex.Output) != `{"rows":42}` {
		t.Fatalf("got output %s", ex.Output)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}

	// The lock is released once the run settles.
	held, err := e.Locks().IsLocked(ctx, def.ID)
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if held {
		t.Fatal("lock still held after completion")
	}

	events, err := e.Bus().List(ctx, "acme", event.ExecutionCompleted, 10)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d completion events, want 1", len(events))
	}

	result, err := e.Guard().Lookup(ctx, ex.IdempotencyKey)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(result) != `{"rows":42}` {
		t.Fatalf("stored result %s", result)
	}
}

func TestRunJobDisabled(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t)
	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		return nil, nil
	})

	ctx := context.Background()
	def, err := e.RegisterJob(ctx, "admin@acme", registry.RegisterParams{
		TenantID: "acme",
		Name:     "dormant",
		JobType:  "report",
		Enabled:  false,
	})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	if _, err := e.RunJob(ctx, "admin@acme", def.ID, nil); err == nil {
		t.Fatal("expected error running disabled job")
	}
}

// TestRetriesExhaustDeadLetter drives a job that never succeeds with
// max_retries=2 through RunDue: three attempts run in total, the
// execution ends failed, and exactly one DLQ entry records 3 attempts.
func TestRetriesExhaustDeadLetter(t *testing.T) {
	t.Parallel()
	e, clock := newEngine(t)
	ctx := context.Background()

	var calls atomic.Int32
	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		calls.Add(1)
		return nil, errors.New("upstream timeout")
	})

	def := registerManualJob(t, e, 2)
	ex, err := e.RunJob(ctx, "admin@acme", def.ID, nil)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if ex.State != execution.StateRetrying {
		t.Fatalf("got state %q after first failure, want retrying", ex.State)
	}

	// Two more attempts via the due-retry sweep.
	for i := 0; i < 2; i++ {
		clock.Advance(2 * time.Hour)
		if _, err := e.RunDue(ctx, "runner"); err != nil {
			t.Fatalf("RunDue: %v", err)
		}
	}

	got, err := e.Tracker().Get(ctx, ex.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != execution.StateFailed {
		t.Fatalf("got state %q, want failed", got.State)
	}
	if calls.Load() != 3 {
		t.Fatalf("handler ran %d times, want 3", calls.Load())
	}

	entries, err := e.DLQ().List(ctx, "acme", false)
	if err != nil {
		t.Fatalf("DLQ List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d DLQ entries, want exactly 1", len(entries))
	}
	if entries[0].RetryAttempts != 3 {
		t.Fatalf("got %d recorded attempts, want 3", entries[0].RetryAttempts)
	}
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t)
	ctx := context.Background()

	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		return nil, retry.Permanent(errors.New("malformed input"))
	})

	def := registerReportJob(t, e, 3)
	ex, err := e.RunJob(ctx, "admin@acme", def.ID, nil)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if ex.State != execution.StateFailed {
		t.Fatalf("got state %q, want failed", ex.State)
	}
	if ex.RetryCount != 1 {
		t.Fatalf("got retry count %d, want 1", ex.RetryCount)
	}
}

// TestConcurrentTriggerRunsOnce fires two triggers for the same job
// while the first is still running: the lock admits exactly one.
func TestConcurrentTriggerRunsOnce(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		calls.Add(1)
		close(started)
		<-release
		return nil, nil
	})

	def := registerReportJob(t, e, 3)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = e.RunJob(ctx, "admin@acme", def.ID, nil)
	}()

	<-started
	_, secondErr := e.RunJob(ctx, "admin@acme", def.ID, nil)
	if !errors.Is(secondErr, gantry.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld for concurrent trigger, got %v", secondErr)
	}

	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first RunJob: %v", firstErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
}

func TestTenantThrottle(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t, WithThrottle(throttle.Config{
		TenantID:       "acme",
		MaxConcurrency: 1,
	}))
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		close(started)
		<-release
		return nil, nil
	})

	first := registerReportJob(t, e, 3)
	second, err := e.RegisterJob(ctx, "admin@acme", registry.RegisterParams{
		TenantID: "acme",
		Name:     "weekly-report",
		JobType:  "report",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := e.RunJob(ctx, "admin@acme", first.ID, nil); err != nil {
			t.Errorf("first RunJob: %v", err)
		}
	}()

	<-started
	if _, err := e.RunJob(ctx, "admin@acme", second.ID, nil); !errors.Is(err, gantry.ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	close(release)
	wg.Wait()
}

// TestScheduledRunAdvancesNextFire runs a due job through RunDue and
// checks the schedule moves forward so the job is not immediately due
// again.
func TestScheduledRunAdvancesNextFire(t *testing.T) {
	t.Parallel()
	e, clock := newEngine(t)
	ctx := context.Background()

	var calls atomic.Int32
	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		calls.Add(1)
		return nil, nil
	})

	def := registerReportJob(t, e, 3)

	// Not due yet.
	n, err := e.RunDue(ctx, "runner")
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if n != 0 {
		t.Fatalf("dispatched %d runs before due time, want 0", n)
	}

	clock.Advance(2 * time.Hour)
	if _, err := e.RunDue(ctx, "runner"); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}

	got, err := e.Registry().Get(ctx, def.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(clock.Now()) {
		t.Fatalf("NextRunAt not advanced past now: %v", got.NextRunAt)
	}

	// Running again without advancing the clock dispatches nothing.
	n, err = e.RunDue(ctx, "runner")
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if n != 0 {
		t.Fatalf("dispatched %d runs, want 0", n)
	}
}

// TestReplayFromDLQ dead-letters a job, fixes the handler, and replays
// the entry: a fresh execution completes while the entry stays open with
// ReplayedAt stamped.
func TestReplayFromDLQ(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t)
	ctx := context.Background()

	var broken atomic.Bool
	broken.Store(true)
	Register(e, "report", func(_ context.Context, run *Run, _ reportConfig) (json.RawMessage, error) {
		if broken.Load() {
			return nil, retry.Permanent(errors.New("schema mismatch"))
		}
		return run.Input, nil
	})

	def := registerReportJob(t, e, 3)
	input := json.RawMessage(`{"month":"2026-01"}`)
	ex, err := e.RunJob(ctx, "admin@acme", def.ID, input)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if ex.State != execution.StateFailed {
		t.Fatalf("got state %q, want failed", ex.State)
	}

	entries, err := e.DLQ().List(ctx, "acme", false)
	if err != nil {
		t.Fatalf("DLQ List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d DLQ entries, want 1", len(entries))
	}

	broken.Store(false)
	replayed, err := e.DLQ().Replay(ctx, entries[0].ID, "ops@acme", e.StartReplay())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.State != execution.StateCompleted {
		t.Fatalf("replayed execution state %q, want completed", replayed.State)
	}
	if string(replayed.Input) != string(input) {
		t.Fatalf("replay lost original input: %s", replayed.Input)
	}

	// Replay does not resolve the entry.
	entry, err := e.DLQ().Get(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("DLQ Get: %v", err)
	}
	if entry.Resolved {
		t.Fatal("replay must not resolve the entry")
	}
	if entry.ReplayedAt == nil {
		t.Fatal("ReplayedAt not stamped")
	}
}

func TestMissingHandlerFailsExecution(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t)
	ctx := context.Background()

	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		return nil, nil
	})
	def := registerReportJob(t, e, 3)

	// Simulate a deploy that dropped the handler after jobs were
	// registered.
	e.handlers = newHandlers()

	if _, err := e.RunJob(ctx, "admin@acme", def.ID, nil); !errors.Is(err, gantry.ErrJobTypeUnknown) {
		t.Fatalf("expected ErrJobTypeUnknown, got %v", err)
	}

	execs, err := e.Tracker().History(ctx, "acme", id.Nil, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(execs) != 0 {
		t.Fatalf("no execution should start without a handler, got %d", len(execs))
	}
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()
	e, _ := newEngine(t)
	ctx := context.Background()

	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		panic("boom")
	})

	def := registerReportJob(t, e, 3)
	ex, err := e.RunJob(ctx, "admin@acme", def.ID, nil)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if ex.State != execution.StateRetrying {
		t.Fatalf("got state %q, want retrying after panic", ex.State)
	}
	if ex.ErrorMessage == "" {
		t.Fatal("panic not captured in error message")
	}
}

func TestDedupeAcrossAttempts(t *testing.T) {
	t.Parallel()
	e, clock := newEngine(t)
	ctx := context.Background()

	var sideEffects atomic.Int32
	var attempts atomic.Int32
	Register(e, "report", func(ctx context.Context, run *Run, _ reportConfig) (json.RawMessage, error) {
		if _, err := run.Dedupe(ctx, "send-invoice-2026-02", func(ctx context.Context) (json.RawMessage, error) {
			sideEffects.Add(1)
			return json.RawMessage(`"sent"`), nil
		}); err != nil {
			return nil, err
		}
		if attempts.Add(1) == 1 {
			return nil, errors.New("crashed after sending")
		}
		return json.RawMessage(`"done"`), nil
	})

	def := registerManualJob(t, e, 3)
	ex, err := e.RunJob(ctx, "admin@acme", def.ID, nil)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if ex.State != execution.StateRetrying {
		t.Fatalf("got state %q, want retrying", ex.State)
	}

	clock.Advance(2 * time.Hour)
	if _, err := e.RunDue(ctx, "runner"); err != nil {
		t.Fatalf("RunDue: %v", err)
	}

	got, err := e.Tracker().Get(ctx, ex.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != execution.StateCompleted {
		t.Fatalf("got state %q, want completed", got.State)
	}
	// The invoice went out exactly once even though the body ran twice.
	if sideEffects.Load() != 1 {
		t.Fatalf("side effect ran %d times, want 1", sideEffects.Load())
	}
	if attempts.Load() != 2 {
		t.Fatalf("body ran %d times, want 2", attempts.Load())
	}
}

// TestTransientFailuresRecover drives a body that fails twice and
// succeeds on the third pickup: the execution completes, its retry count
// records the two failed attempts, and nothing reaches the DLQ.
func TestTransientFailuresRecover(t *testing.T) {
	t.Parallel()
	e, clock := newEngine(t)
	ctx := context.Background()

	var attempts atomic.Int32
	Register(e, "report", func(_ context.Context, _ *Run, _ reportConfig) (json.RawMessage, error) {
		if attempts.Add(1) <= 2 {
			return nil, errors.New("upstream flaked")
		}
		return json.RawMessage(`"done"`), nil
	})

	def := registerManualJob(t, e, 3)
	ex, err := e.RunJob(ctx, "admin@acme", def.ID, nil)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if ex.State != execution.StateRetrying {
		t.Fatalf("got state %q, want retrying", ex.State)
	}

	for pickup := 2; pickup <= 3; pickup++ {
		clock.Advance(2 * time.Hour)
		if _, err := e.RunDue(ctx, "runner"); err != nil {
			t.Fatalf("RunDue #%d: %v", pickup, err)
		}
	}

	got, err := e.Tracker().Get(ctx, ex.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != execution.StateCompleted {
		t.Fatalf("got state %q, want completed", got.State)
	}
	if got.RetryCount != 2 {
		t.Fatalf("got retry count %d, want 2", got.RetryCount)
	}
	if attempts.Load() != 3 {
		t.Fatalf("body ran %d times, want 3", attempts.Load())
	}

	// A recovered execution never dead-letters.
	entries, err := e.DLQ().List(ctx, "acme", false)
	if err != nil {
		t.Fatalf("DLQ List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d open DLQ entries, want 0", len(entries))
	}
	if n, err := e.DLQ().Count(ctx, "acme"); err != nil || n != 0 {
		t.Fatalf("DLQ Count: n=%d err=%v, want 0", n, err)
	}
}
