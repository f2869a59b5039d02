// Package tracker owns the execution state machine. It creates executions
// under a held lock, drives the running → completed/retrying/failed
// transitions, appends execution logs, writes idempotency records
// alongside completion, pushes terminal failures to the dead letter
// queue, and emits lifecycle hooks and completion events.
//
// State machine:
//
//	pending → running → {completed | retrying | failed}
//	retrying → running (next pickup, once backoff_until has passed)
//
// completed and failed are terminal. All mutation goes through Start,
// Resume, Complete, and Fail; writes that bypass them would violate the
// lock and idempotency invariants and are disallowed by contract.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/event"
	"github.com/karstlabs/gantry/execlog"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/hook"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/idempotency"
	"github.com/karstlabs/gantry/lock"
	"github.com/karstlabs/gantry/registry"
	"github.com/karstlabs/gantry/retry"
)

// Tracker coordinates execution state transitions over the stores.
type Tracker struct {
	execs    execution.Store
	jobs     registry.Store
	locks    *lock.Manager
	recorder *execlog.Recorder
	dlqSvc   *dlq.Service
	guard    *idempotency.Guard
	bus      *event.Bus
	hooks    *hook.Registry
	backoff  retry.Strategy
	clock    gantry.Clock
	logger   *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBackoff sets the retry backoff strategy.
// If not set, retry.DefaultStrategy() is used.
func WithBackoff(s retry.Strategy) Option {
	return func(t *Tracker) { t.backoff = s }
}

// WithClock sets the time source.
func WithClock(c gantry.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a Tracker with the given collaborators.
func New(
	execs execution.Store,
	jobs registry.Store,
	locks *lock.Manager,
	recorder *execlog.Recorder,
	dlqSvc *dlq.Service,
	guard *idempotency.Guard,
	bus *event.Bus,
	hooks *hook.Registry,
	opts ...Option,
) *Tracker {
	t := &Tracker{
		execs:    execs,
		jobs:     jobs,
		locks:    locks,
		recorder: recorder,
		dlqSvc:   dlqSvc,
		guard:    guard,
		bus:      bus,
		hooks:    hooks,
		backoff:  retry.DefaultStrategy(),
		clock:    gantry.SystemClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartParams are the inputs for starting a fresh execution.
type StartParams struct {
	JobID id.JobID

	// ExecutionID is the pre-generated ID the caller used to acquire the
	// job's lock. Start validates that the live lock names exactly this
	// execution.
	ExecutionID id.ExecutionID

	TenantID string
	JobType  string
	JobName  string

	Input          json.RawMessage
	IdempotencyKey string
	MaxRetries     int

	// Runner identifies the claiming runner process.
	Runner id.RunnerID
	// Actor is the explicit identity starting the execution.
	Actor string
}

// Start creates a running execution for a job whose lock the caller
// holds. Calling Start without a prior successful lock acquire for the
// same execution ID is a caller error and returns gantry.ErrLockNotHeld;
// it is never retried on the caller's behalf.
func (t *Tracker) Start(ctx context.Context, p StartParams) (*execution.Execution, error) {
	holder, err := t.locks.Holder(ctx, p.JobID)
	if errors.Is(err, gantry.ErrLockNotHeld) {
		return nil, fmt.Errorf("%w: start of job %s requires a held lock", gantry.ErrLockNotHeld, p.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: check lock for job %s: %w", p.JobID, err)
	}
	if holder.ExecutionID.String() != p.ExecutionID.String() {
		return nil, fmt.Errorf("%w: job %s is locked by execution %s", gantry.ErrLockNotHeld, p.JobID, holder.ExecutionID)
	}

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = gantry.DefaultConfig().DefaultMaxRetries
	}

	now := t.clock.Now()
	e := &execution.Execution{
		Entity:         gantry.NewEntity(now),
		ID:             p.ExecutionID,
		JobID:          p.JobID,
		TenantID:       p.TenantID,
		JobType:        p.JobType,
		JobName:        p.JobName,
		State:          execution.StateRunning,
		Input:          p.Input,
		StartedAt:      now,
		MaxRetries:     maxRetries,
		IdempotencyKey: p.IdempotencyKey,
		Runner:         p.Runner,
		Actor:          p.Actor,
	}
	if err := t.execs.CreateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("tracker: create execution: %w", err)
	}

	if err := t.jobs.UpdateJobLastRun(ctx, p.JobID, now); err != nil {
		t.logger.Error("failed to stamp job last run",
			slog.String("job_id", p.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	t.appendLog(ctx, e.ID, execlog.LevelInfo, "execution started", map[string]any{
		"job_name": e.JobName,
		"actor":    p.Actor,
	})
	t.hooks.EmitExecutionStarted(ctx, e)
	return e, nil
}

// Resume transitions a retrying execution back to running for its next
// attempt. The caller must have re-acquired the job's lock under the
// execution's ID, and the execution's backoff must have elapsed.
func (t *Tracker) Resume(ctx context.Context, executionID id.ExecutionID, actor string) (*execution.Execution, error) {
	e, err := t.execs.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if e.State != execution.StateRetrying {
		return nil, fmt.Errorf("%w: cannot resume execution %s in state %q", gantry.ErrInvalidState, executionID, e.State)
	}

	now := t.clock.Now()
	if e.BackoffUntil != nil && e.BackoffUntil.After(now) {
		return nil, fmt.Errorf("%w: execution %s backs off until %s", gantry.ErrInvalidState, executionID, e.BackoffUntil.Format(time.RFC3339))
	}

	holder, err := t.locks.Holder(ctx, e.JobID)
	if errors.Is(err, gantry.ErrLockNotHeld) {
		return nil, fmt.Errorf("%w: resume of job %s requires a held lock", gantry.ErrLockNotHeld, e.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: check lock for job %s: %w", e.JobID, err)
	}
	if holder.ExecutionID.String() != e.ID.String() {
		return nil, fmt.Errorf("%w: job %s is locked by execution %s", gantry.ErrLockNotHeld, e.JobID, holder.ExecutionID)
	}

	e.State = execution.StateRunning
	e.BackoffUntil = nil
	e.Actor = actor
	e.Touch(now)
	if err := t.execs.UpdateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("tracker: resume execution %s: %w", executionID, err)
	}

	if err := t.jobs.UpdateJobLastRun(ctx, e.JobID, now); err != nil {
		t.logger.Error("failed to stamp job last run",
			slog.String("job_id", e.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	t.appendLog(ctx, e.ID, execlog.LevelInfo, "execution resumed after backoff", map[string]any{
		"retry_count": e.RetryCount,
	})
	t.hooks.EmitExecutionStarted(ctx, e)
	return e, nil
}

// Complete marks a running execution completed: it computes the duration,
// appends an info log line, records the idempotency result alongside the
// completion, publishes the completion event, and releases the job's
// lock. Completing an unknown execution surfaces
// gantry.ErrExecutionNotFound to the caller.
func (t *Tracker) Complete(ctx context.Context, executionID id.ExecutionID, output json.RawMessage, actor string) error {
	e, err := t.execs.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if e.State != execution.StateRunning {
		return fmt.Errorf("%w: cannot complete execution %s in state %q", gantry.ErrInvalidState, executionID, e.State)
	}

	now := t.clock.Now()
	e.State = execution.StateCompleted
	e.CompletedAt = &now
	e.Duration = now.Sub(e.StartedAt)
	e.Output = output
	e.Actor = actor
	e.Touch(now)

	if err := t.execs.UpdateExecution(ctx, e); err != nil {
		return fmt.Errorf("tracker: complete execution %s: %w", executionID, err)
	}

	if err := t.guard.Record(ctx, e.IdempotencyKey, e.JobID, e.ID, output); err != nil {
		t.logger.Error("failed to record idempotency result",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	t.appendLog(ctx, e.ID, execlog.LevelInfo, "execution completed", map[string]any{
		"duration": e.Duration.String(),
	})

	if err := t.locks.Release(ctx, e.JobID); err != nil {
		t.logger.Error("failed to release lock after completion",
			slog.String("job_id", e.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	if _, err := t.bus.Publish(ctx, event.ExecutionCompleted, e.TenantID, e.JobID, e.ID, output); err != nil {
		t.logger.Error("failed to publish completion event",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	t.hooks.EmitExecutionCompleted(ctx, e, e.Duration)
	return nil
}

// Fail records a failed attempt for a running execution. The retry count
// always increments by exactly one. When shouldRetry is true and the
// budget allows, the execution turns retrying with an exponential backoff
// gate; otherwise it turns terminally failed and exactly one DLQ entry is
// created. Either way the job's lock is released.
//
// Counting convention: RetryCount is the total number of failed attempts,
// the initial attempt included, and the execution stays retryable while
// RetryCount <= MaxRetries after the increment. With MaxRetries = 2, a
// body that never succeeds runs 3 times and dead-letters with
// RetryAttempts = 3.
func (t *Tracker) Fail(ctx context.Context, executionID id.ExecutionID, errMsg string, shouldRetry bool, actor string) error {
	e, err := t.execs.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if e.State != execution.StateRunning {
		return fmt.Errorf("%w: cannot fail execution %s in state %q", gantry.ErrInvalidState, executionID, e.State)
	}

	now := t.clock.Now()
	e.RetryCount++
	e.ErrorMessage = errMsg
	e.Actor = actor
	if e.FirstFailedAt == nil {
		e.FirstFailedAt = &now
	}
	e.Touch(now)

	if shouldRetry && e.RetryCount <= e.MaxRetries {
		return t.scheduleRetry(ctx, e, now)
	}
	return t.failTerminally(ctx, e, now)
}

// scheduleRetry sets the execution to retrying with a backoff gate.
func (t *Tracker) scheduleRetry(ctx context.Context, e *execution.Execution, now time.Time) error {
	delay := t.backoff.Delay(e.RetryCount)
	until := now.Add(delay)
	e.State = execution.StateRetrying
	e.BackoffUntil = &until

	if err := t.execs.UpdateExecution(ctx, e); err != nil {
		return fmt.Errorf("tracker: schedule retry for execution %s: %w", e.ID, err)
	}

	t.appendLog(ctx, e.ID, execlog.LevelWarn, "execution failed, retry scheduled", map[string]any{
		"error":         e.ErrorMessage,
		"retry_count":   e.RetryCount,
		"max_retries":   e.MaxRetries,
		"backoff_until": until.Format(time.RFC3339),
	})

	if err := t.locks.Release(ctx, e.JobID); err != nil {
		t.logger.Error("failed to release lock before retry",
			slog.String("job_id", e.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	t.hooks.EmitExecutionRetrying(ctx, e, e.RetryCount, until)

	t.logger.Info("execution scheduled for retry",
		slog.String("execution_id", e.ID.String()),
		slog.String("job_name", e.JobName),
		slog.Int("attempt", e.RetryCount),
		slog.Int("max_retries", e.MaxRetries),
		slog.Duration("delay", delay),
	)
	return nil
}

// failTerminally marks the execution failed and creates its DLQ entry.
func (t *Tracker) failTerminally(ctx context.Context, e *execution.Execution, now time.Time) error {
	e.State = execution.StateFailed
	e.CompletedAt = &now
	e.Duration = now.Sub(e.StartedAt)

	if err := t.execs.UpdateExecution(ctx, e); err != nil {
		return fmt.Errorf("tracker: fail execution %s: %w", e.ID, err)
	}

	entry, pushErr := t.dlqSvc.Push(ctx, e)
	if pushErr != nil {
		t.logger.Error("failed to push execution to DLQ",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", pushErr.Error()),
		)
	}

	t.appendLog(ctx, e.ID, execlog.LevelError, "execution failed terminally", map[string]any{
		"error":       e.ErrorMessage,
		"retry_count": e.RetryCount,
	})

	if err := t.locks.Release(ctx, e.JobID); err != nil {
		t.logger.Error("failed to release lock after terminal failure",
			slog.String("job_id", e.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	if _, pubErr := t.bus.Publish(ctx, event.ExecutionDeadLettered, e.TenantID, e.JobID, e.ID, nil); pubErr != nil {
		t.logger.Error("failed to publish dead-letter event",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", pubErr.Error()),
		)
	}

	t.hooks.EmitExecutionFailed(ctx, e, e.ErrorMessage)
	if entry != nil {
		t.hooks.EmitExecutionDeadLettered(ctx, e, entry)
	}

	// The execution is already persisted as failed; surfacing the push
	// error lets the caller retry the DLQ entry rather than lose it.
	if pushErr != nil {
		return fmt.Errorf("tracker: dead-letter execution %s: %w", e.ID, pushErr)
	}
	return nil
}

// History returns a tenant's executions, most recent first. Pass id.Nil
// as jobID to span all the tenant's jobs.
func (t *Tracker) History(ctx context.Context, tenantID string, jobID id.JobID, limit int) ([]*execution.Execution, error) {
	return t.execs.ListExecutions(ctx, tenantID, execution.HistoryOpts{JobID: jobID, Limit: limit})
}

// Get retrieves one execution by ID.
func (t *Tracker) Get(ctx context.Context, executionID id.ExecutionID) (*execution.Execution, error) {
	return t.execs.GetExecution(ctx, executionID)
}

// Logs returns an execution's log entries at or above minLevel.
func (t *Tracker) Logs(ctx context.Context, executionID id.ExecutionID, minLevel execlog.Level) ([]*execlog.Entry, error) {
	return t.recorder.List(ctx, executionID, minLevel)
}

// ActiveCount returns how many of the job's executions are pending or
// running.
func (t *Tracker) ActiveCount(ctx context.Context, jobID id.JobID) (int, error) {
	return t.execs.CountActiveExecutions(ctx, jobID)
}

// DueRetries returns retrying executions whose backoff has elapsed.
func (t *Tracker) DueRetries(ctx context.Context, limit int) ([]*execution.Execution, error) {
	return t.execs.ListDueRetries(ctx, t.clock.Now(), limit)
}

// appendLog records an execution log line; failures are logged and
// swallowed so bookkeeping never blocks a state transition.
func (t *Tracker) appendLog(ctx context.Context, executionID id.ExecutionID, level execlog.Level, msg string, metadata map[string]any) {
	if err := t.recorder.Append(ctx, executionID, level, msg, metadata); err != nil {
		t.logger.Error("failed to append execution log",
			slog.String("execution_id", executionID.String()),
			slog.String("error", err.Error()),
		)
	}
}
