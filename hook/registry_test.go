package hook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/execution"
)

// recordingHook implements every transition interface and records the
// order in which it was notified.
type recordingHook struct {
	name  string
	calls []string
	err   error
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) OnExecutionStarted(_ context.Context, _ *execution.Execution) error {
	h.calls = append(h.calls, "started")
	return h.err
}

func (h *recordingHook) OnExecutionCompleted(_ context.Context, _ *execution.Execution, _ time.Duration) error {
	h.calls = append(h.calls, "completed")
	return h.err
}

func (h *recordingHook) OnExecutionRetrying(_ context.Context, _ *execution.Execution, _ int, _ time.Time) error {
	h.calls = append(h.calls, "retrying")
	return h.err
}

func (h *recordingHook) OnExecutionFailed(_ context.Context, _ *execution.Execution, _ string) error {
	h.calls = append(h.calls, "failed")
	return h.err
}

func (h *recordingHook) OnExecutionDeadLettered(_ context.Context, _ *execution.Execution, _ *dlq.Entry) error {
	h.calls = append(h.calls, "deadLettered")
	return h.err
}

func (h *recordingHook) OnShutdown(_ context.Context) error {
	h.calls = append(h.calls, "shutdown")
	return h.err
}

// startedOnlyHook opts in to a single transition.
type startedOnlyHook struct {
	started int
}

func (h *startedOnlyHook) Name() string { return "started-only" }

func (h *startedOnlyHook) OnExecutionStarted(_ context.Context, _ *execution.Execution) error {
	h.started++
	return nil
}

func newRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEmitAllTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry()

	h := &recordingHook{name: "recorder"}
	r.Register(h)

	ex := &execution.Execution{}
	r.EmitExecutionStarted(ctx, ex)
	r.EmitExecutionCompleted(ctx, ex, time.Second)
	r.EmitExecutionRetrying(ctx, ex, 1, time.Now())
	r.EmitExecutionFailed(ctx, ex, "boom")
	r.EmitExecutionDeadLettered(ctx, ex, &dlq.Entry{})
	r.EmitShutdown(ctx)

	want := []string{"started", "completed", "retrying", "failed", "deadLettered", "shutdown"}
	if len(h.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", h.calls, want)
	}
	for i, call := range want {
		if h.calls[i] != call {
			t.Fatalf("call %d = %q, want %q", i, h.calls[i], call)
		}
	}
}

func TestPartialHookOnlySeesItsTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry()

	h := &startedOnlyHook{}
	r.Register(h)

	ex := &execution.Execution{}
	r.EmitExecutionStarted(ctx, ex)
	r.EmitExecutionCompleted(ctx, ex, time.Second)
	r.EmitExecutionFailed(ctx, ex, "boom")

	if h.started != 1 {
		t.Fatalf("started = %d, want 1", h.started)
	}
}

func TestHookErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRegistry()

	failing := &recordingHook{name: "failing", err: errors.New("hook exploded")}
	healthy := &recordingHook{name: "healthy"}
	r.Register(failing)
	r.Register(healthy)

	r.EmitExecutionStarted(ctx, &execution.Execution{})

	if len(failing.calls) != 1 || len(healthy.calls) != 1 {
		t.Fatalf("calls = %d/%d, want both notified", len(failing.calls), len(healthy.calls))
	}
}

func TestRegistrationOrder(t *testing.T) {
	t.Parallel()
	r := newRegistry()

	a := &recordingHook{name: "a"}
	b := &recordingHook{name: "b"}
	r.Register(a)
	r.Register(b)

	hooks := r.Hooks()
	if len(hooks) != 2 || hooks[0].Name() != "a" || hooks[1].Name() != "b" {
		t.Fatalf("hooks = %v", hooks)
	}
}
