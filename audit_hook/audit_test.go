package audithook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	audithook "github.com/karstlabs/gantry/audit_hook"
	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/id"
)

type captureRecorder struct {
	events []*audithook.Event
	err    error
}

func (r *captureRecorder) Record(_ context.Context, event *audithook.Event) error {
	r.events = append(r.events, event)
	return r.err
}

func testExecution() *execution.Execution {
	return &execution.Execution{
		ID:           id.NewExecutionID(),
		JobID:        id.NewJobID(),
		TenantID:     "acme",
		JobType:      "report",
		JobName:      "monthly-report",
		Actor:        "runner",
		ErrorMessage: "smtp unreachable",
		RetryCount:   2,
	}
}

func TestLifecycleEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &captureRecorder{}
	h := audithook.New(rec)

	ex := testExecution()
	if err := h.OnExecutionStarted(ctx, ex); err != nil {
		t.Fatalf("OnExecutionStarted: %v", err)
	}
	if err := h.OnExecutionCompleted(ctx, ex, 90*time.Second); err != nil {
		t.Fatalf("OnExecutionCompleted: %v", err)
	}
	if err := h.OnExecutionRetrying(ctx, ex, 1, time.Now()); err != nil {
		t.Fatalf("OnExecutionRetrying: %v", err)
	}
	if err := h.OnExecutionFailed(ctx, ex, "smtp unreachable"); err != nil {
		t.Fatalf("OnExecutionFailed: %v", err)
	}
	entry := &dlq.Entry{ID: id.NewDLQID(), FailureReason: "smtp unreachable", RetryAttempts: 3}
	if err := h.OnExecutionDeadLettered(ctx, ex, entry); err != nil {
		t.Fatalf("OnExecutionDeadLettered: %v", err)
	}

	wantActions := []string{
		audithook.ActionExecutionStarted,
		audithook.ActionExecutionCompleted,
		audithook.ActionExecutionRetrying,
		audithook.ActionExecutionFailed,
		audithook.ActionExecutionDeadLettered,
	}
	if len(rec.events) != len(wantActions) {
		t.Fatalf("events = %d, want %d", len(rec.events), len(wantActions))
	}
	for i, action := range wantActions {
		if rec.events[i].Action != action {
			t.Fatalf("event %d action = %q, want %q", i, rec.events[i].Action, action)
		}
		if rec.events[i].TenantID != "acme" {
			t.Fatalf("event %d tenant = %q", i, rec.events[i].TenantID)
		}
	}

	completed := rec.events[1]
	if completed.Metadata["duration_ms"] != int64(90000) {
		t.Fatalf("duration_ms = %v", completed.Metadata["duration_ms"])
	}
	deadLettered := rec.events[4]
	if deadLettered.Severity != audithook.SeverityCritical || deadLettered.Reason != "smtp unreachable" {
		t.Fatalf("dead-letter event = %+v", deadLettered)
	}
}

func TestRecorderFailureIsWrapped(t *testing.T) {
	t.Parallel()
	boom := errors.New("audit backend down")
	h := audithook.New(&captureRecorder{err: boom})

	err := h.OnExecutionStarted(context.Background(), testExecution())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped backend failure", err)
	}
}

func TestRecorderFunc(t *testing.T) {
	t.Parallel()

	var got *audithook.Event
	h := audithook.New(audithook.RecorderFunc(func(_ context.Context, event *audithook.Event) error {
		got = event
		return nil
	}))

	if err := h.OnExecutionStarted(context.Background(), testExecution()); err != nil {
		t.Fatalf("OnExecutionStarted: %v", err)
	}
	if got == nil || got.Action != audithook.ActionExecutionStarted {
		t.Fatalf("event = %+v", got)
	}
}
