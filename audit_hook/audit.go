// Package audithook bridges execution lifecycle transitions to an audit
// trail backend. Every hook emits one structured audit event through the
// [Recorder] interface; the concrete backend (a database table, an
// append-only log service) is injected at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/hook"
)

// Compile-time interface checks.
var (
	_ hook.Hook                  = (*Hook)(nil)
	_ hook.ExecutionStarted      = (*Hook)(nil)
	_ hook.ExecutionCompleted    = (*Hook)(nil)
	_ hook.ExecutionRetrying     = (*Hook)(nil)
	_ hook.ExecutionFailed       = (*Hook)(nil)
	_ hook.ExecutionDeadLettered = (*Hook)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Event is one audit trail record for an execution transition.
type Event struct {
	Action      string         `json:"action"`
	TenantID    string         `json:"tenant_id"`
	JobID       string         `json:"job_id"`
	ExecutionID string         `json:"execution_id"`
	Actor       string         `json:"actor,omitempty"`
	Outcome     string         `json:"outcome"`
	Severity    string         `json:"severity"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Audit actions, one per lifecycle transition.
const (
	ActionExecutionStarted      = "execution.started"
	ActionExecutionCompleted    = "execution.completed"
	ActionExecutionRetrying     = "execution.retrying"
	ActionExecutionFailed       = "execution.failed"
	ActionExecutionDeadLettered = "execution.dead_lettered"
)

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Hook emits audit events for execution lifecycle transitions.
type Hook struct {
	recorder Recorder
	logger   *slog.Logger
}

// Option configures the Hook.
type Option func(*Hook)

// WithLogger sets the logger used for recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) { h.logger = logger }
}

// New creates a Hook that emits audit events through the given Recorder.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{recorder: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit" }

// OnExecutionStarted implements hook.ExecutionStarted.
func (h *Hook) OnExecutionStarted(ctx context.Context, e *execution.Execution) error {
	return h.record(ctx, &Event{
		Action:      ActionExecutionStarted,
		TenantID:    e.TenantID,
		JobID:       e.JobID.String(),
		ExecutionID: e.ID.String(),
		Actor:       e.Actor,
		Outcome:     OutcomeSuccess,
		Severity:    SeverityInfo,
		Metadata: map[string]any{
			"job_type": e.JobType,
			"job_name": e.JobName,
		},
	})
}

// OnExecutionCompleted implements hook.ExecutionCompleted.
func (h *Hook) OnExecutionCompleted(ctx context.Context, e *execution.Execution, elapsed time.Duration) error {
	return h.record(ctx, &Event{
		Action:      ActionExecutionCompleted,
		TenantID:    e.TenantID,
		JobID:       e.JobID.String(),
		ExecutionID: e.ID.String(),
		Actor:       e.Actor,
		Outcome:     OutcomeSuccess,
		Severity:    SeverityInfo,
		Metadata: map[string]any{
			"job_name":    e.JobName,
			"duration_ms": elapsed.Milliseconds(),
		},
	})
}

// OnExecutionRetrying implements hook.ExecutionRetrying.
func (h *Hook) OnExecutionRetrying(ctx context.Context, e *execution.Execution, attempt int, backoffUntil time.Time) error {
	return h.record(ctx, &Event{
		Action:      ActionExecutionRetrying,
		TenantID:    e.TenantID,
		JobID:       e.JobID.String(),
		ExecutionID: e.ID.String(),
		Actor:       e.Actor,
		Outcome:     OutcomeFailure,
		Severity:    SeverityWarning,
		Reason:      e.ErrorMessage,
		Metadata: map[string]any{
			"job_name":      e.JobName,
			"attempt":       attempt,
			"backoff_until": backoffUntil,
		},
	})
}

// OnExecutionFailed implements hook.ExecutionFailed.
func (h *Hook) OnExecutionFailed(ctx context.Context, e *execution.Execution, errMsg string) error {
	return h.record(ctx, &Event{
		Action:      ActionExecutionFailed,
		TenantID:    e.TenantID,
		JobID:       e.JobID.String(),
		ExecutionID: e.ID.String(),
		Actor:       e.Actor,
		Outcome:     OutcomeFailure,
		Severity:    SeverityCritical,
		Reason:      errMsg,
		Metadata: map[string]any{
			"job_name":    e.JobName,
			"retry_count": e.RetryCount,
		},
	})
}

// OnExecutionDeadLettered implements hook.ExecutionDeadLettered.
func (h *Hook) OnExecutionDeadLettered(ctx context.Context, e *execution.Execution, entry *dlq.Entry) error {
	return h.record(ctx, &Event{
		Action:      ActionExecutionDeadLettered,
		TenantID:    e.TenantID,
		JobID:       e.JobID.String(),
		ExecutionID: e.ID.String(),
		Actor:       e.Actor,
		Outcome:     OutcomeFailure,
		Severity:    SeverityCritical,
		Reason:      entry.FailureReason,
		Metadata: map[string]any{
			"job_name":       e.JobName,
			"dlq_entry_id":   entry.ID.String(),
			"retry_attempts": entry.RetryAttempts,
		},
	})
}

// record delegates to the Recorder. Recorder failures are returned so the
// hook registry logs them; they never affect the execution itself.
func (h *Hook) record(ctx context.Context, event *Event) error {
	if err := h.recorder.Record(ctx, event); err != nil {
		return fmt.Errorf("audithook: record %s: %w", event.Action, err)
	}
	return nil
}
