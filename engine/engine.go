// Package engine wires all gantry subsystems together: the handler and
// config registries, lock manager, execution tracker, idempotency guard,
// DLQ service, event bus, middleware chain, and per-tenant throttles.
//
// This package exists to break the import cycle: the root gantry package
// defines Entity and Clock (imported by registry, execution, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
//
// The engine is passive. Nothing runs until a caller invokes RunJob or
// RunDue; the runner package provides the tick loop that drives RunDue
// on an interval.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/event"
	"github.com/karstlabs/gantry/execlog"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/hook"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/idempotency"
	"github.com/karstlabs/gantry/lock"
	mw "github.com/karstlabs/gantry/middleware"
	"github.com/karstlabs/gantry/registry"
	"github.com/karstlabs/gantry/retry"
	"github.com/karstlabs/gantry/store"
	"github.com/karstlabs/gantry/throttle"
	"github.com/karstlabs/gantry/tracker"
)

// Scheduler computes the next fire time for a cron schedule expression.
// The runner package provides the implementation; this indirection keeps
// the engine free of the cron parser.
type Scheduler interface {
	Next(schedule string, after time.Time) (time.Time, error)
}

// Engine coordinates job runs over a store.Store.
type Engine struct {
	store  store.Store
	cfg    gantry.Config
	clock  gantry.Clock
	logger *slog.Logger

	handlers  *handlers
	configs   *registry.ConfigRegistry
	registry  *registry.Service
	locks     *lock.Manager
	recorder  *execlog.Recorder
	dlqSvc    *dlq.Service
	guard     *idempotency.Guard
	bus       *event.Bus
	hooks     *hook.Registry
	tracker   *tracker.Tracker
	throttles *throttle.Manager

	mw       mw.Middleware
	extraMws []mw.Middleware
	backoff  retry.Strategy

	scheduler    Scheduler
	concurrency  int
	runnerID     id.RunnerID
	pendingHooks []hook.Hook

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg gantry.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock sets the time source. Tests inject a manual clock.
func WithClock(c gantry.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) { e.pendingHooks = append(e.pendingHooks, h) }
}

// WithMiddleware appends middleware to the engine's chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.extraMws = append(e.extraMws, m) }
}

// WithBackoff sets the retry backoff strategy.
// If not set, retry.DefaultStrategy() is used.
func WithBackoff(s retry.Strategy) Option {
	return func(e *Engine) { e.backoff = s }
}

// WithThrottle registers per-tenant rate limiting and concurrency
// configurations. Tenants not listed have no limits.
func WithThrottle(configs ...throttle.Config) Option {
	return func(e *Engine) { e.throttles = throttle.NewManager(configs...) }
}

// WithScheduler sets the cron schedule calculator used to advance
// NextRunAt after a scheduled fire.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithConcurrency bounds how many runs RunDue dispatches in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithTracerProvider sets a custom OTel TracerProvider.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New creates an Engine over the given store.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, gantry.ErrNoStore
	}

	e := &Engine{
		store:       s,
		cfg:         gantry.DefaultConfig(),
		clock:       gantry.SystemClock(),
		logger:      slog.Default(),
		handlers:    newHandlers(),
		configs:     registry.NewConfigRegistry(),
		throttles:   throttle.NewManager(),
		concurrency: 4,
		runnerID:    id.NewRunnerID(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.backoff == nil {
		e.backoff = retry.DefaultStrategy()
	}

	e.hooks = hook.NewRegistry(e.logger)
	for _, h := range e.pendingHooks {
		e.hooks.Register(h)
	}

	e.locks = lock.NewManager(s, e.clock, e.logger)
	e.recorder = execlog.NewRecorder(s, e.clock, e.logger)
	e.dlqSvc = dlq.NewService(s, e.clock, e.logger)
	e.guard = idempotency.NewGuard(s, e.clock)
	e.bus = event.NewBus(s, e.clock, e.logger)
	e.registry = registry.NewService(s, e.configs, e.clock, e.logger)
	e.tracker = tracker.New(s, s, e.locks, e.recorder, e.dlqSvc, e.guard, e.bus, e.hooks,
		tracker.WithBackoff(e.backoff),
		tracker.WithClock(e.clock),
		tracker.WithLogger(e.logger),
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/karstlabs/gantry"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/karstlabs/gantry"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → timeout.
	// The body deadline stays below the lock TTL so a hung body cannot
	// outlive its claim.
	defaultMws := []mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
		mw.Timeout(e.cfg.BodyTimeout),
	}
	all := make([]mw.Middleware, 0, len(defaultMws)+len(e.extraMws))
	all = append(all, defaultMws...)
	all = append(all, e.extraMws...)
	e.mw = mw.Chain(all...)

	return e, nil
}

// Registry returns the job registry service.
func (e *Engine) Registry() *registry.Service { return e.registry }

// Tracker returns the execution tracker.
func (e *Engine) Tracker() *tracker.Tracker { return e.tracker }

// DLQ returns the dead letter queue service.
func (e *Engine) DLQ() *dlq.Service { return e.dlqSvc }

// Bus returns the event bus.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Locks returns the lock manager.
func (e *Engine) Locks() *lock.Manager { return e.locks }

// Guard returns the idempotency guard.
func (e *Engine) Guard() *idempotency.Guard { return e.guard }

// Recorder returns the execution log recorder.
func (e *Engine) Recorder() *execlog.Recorder { return e.recorder }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// RunnerID identifies this engine instance in execution records.
func (e *Engine) RunnerID() id.RunnerID { return e.runnerID }

// JobTypes returns all job types with a registered handler.
func (e *Engine) JobTypes() []string { return e.handlers.types() }

// RegisterJob registers (or re-registers) a job definition. The config
// is validated against the handler's registered config type.
func (e *Engine) RegisterJob(ctx context.Context, actor string, p registry.RegisterParams) (*registry.JobDefinition, error) {
	if _, ok := e.handlers.get(p.JobType); !ok {
		return nil, fmt.Errorf("%w: %q", gantry.ErrJobTypeUnknown, p.JobType)
	}
	def, err := e.registry.Register(ctx, actor, p)
	if err != nil {
		return nil, err
	}
	// Seed the first fire time so the runner does not pick the job up
	// before its schedule says so.
	if def.Schedule != "" && def.NextRunAt == nil && e.scheduler != nil {
		next, schedErr := e.scheduler.Next(def.Schedule, e.clock.Now())
		if schedErr != nil {
			return nil, fmt.Errorf("engine: schedule %q: %w", def.Schedule, schedErr)
		}
		if err := e.registry.UpdateSchedule(ctx, def.ID, &next); err != nil {
			return nil, err
		}
		def.NextRunAt = &next
	}
	return def, nil
}

// RunJob triggers one execution of a job right now, regardless of its
// schedule, and runs it to a state transition before returning. Returns
// gantry.ErrLockHeld when another execution already holds the job, and
// gantry.ErrThrottled when the tenant is over its limits.
func (e *Engine) RunJob(ctx context.Context, actor string, jobID id.JobID, input json.RawMessage) (*execution.Execution, error) {
	def, err := e.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, fmt.Errorf("engine: job %q is disabled", def.Name)
	}
	return e.run(ctx, actor, def, input, "")
}

// RunDue runs every job whose schedule has come due and resumes every
// retrying execution whose backoff has elapsed, fanning out up to the
// configured concurrency. It returns how many runs were dispatched.
// Contention (another runner holding a lock) and throttling are skips,
// not errors.
func (e *Engine) RunDue(ctx context.Context, actor string) (int, error) {
	var dispatched int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	retries, err := e.tracker.DueRetries(ctx, e.cfg.RunDueLimit)
	if err != nil {
		return 0, fmt.Errorf("engine: list due retries: %w", err)
	}
	for _, ex := range retries {
		ex := ex
		dispatched++
		g.Go(func() error {
			e.resumeDue(gctx, actor, ex)
			return nil
		})
	}

	due, err := e.registry.ListDue(ctx, e.cfg.RunDueLimit)
	if err != nil {
		return 0, fmt.Errorf("engine: list due jobs: %w", err)
	}
	for _, def := range due {
		def := def
		dispatched++
		g.Go(func() error {
			e.runScheduled(gctx, actor, def)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return dispatched, err
	}
	return dispatched, nil
}

// StartReplay returns the StartFunc the DLQ service uses to re-run a
// dead-lettered job with its original input.
func (e *Engine) StartReplay() dlq.StartFunc {
	return func(ctx context.Context, actor string, jobID id.JobID, input json.RawMessage) (*execution.Execution, error) {
		return e.RunJob(ctx, actor, jobID, input)
	}
}

// Close emits the shutdown hook. The store is owned by the caller and is
// not closed here.
func (e *Engine) Close(ctx context.Context) error {
	e.hooks.EmitShutdown(ctx)
	return nil
}

// runScheduled fires one due job and advances its next fire time.
func (e *Engine) runScheduled(ctx context.Context, actor string, def *registry.JobDefinition) {
	// The scheduled fire time keys idempotency so a duplicate fire of
	// the same slot dedupes.
	fireAt := e.clock.Now()
	if def.NextRunAt != nil {
		fireAt = *def.NextRunAt
	}
	naturalKey := fireAt.UTC().Format(time.RFC3339)

	if _, err := e.run(ctx, actor, def, nil, naturalKey); err != nil {
		if errors.Is(err, gantry.ErrLockHeld) || errors.Is(err, gantry.ErrThrottled) {
			return
		}
		e.logger.Error("scheduled run failed to start",
			slog.String("job_id", def.ID.String()),
			slog.String("job_name", def.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	if def.Schedule != "" && e.scheduler != nil {
		next, err := e.scheduler.Next(def.Schedule, e.clock.Now())
		if err != nil {
			e.logger.Error("failed to compute next fire time",
				slog.String("job_id", def.ID.String()),
				slog.String("schedule", def.Schedule),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := e.registry.UpdateSchedule(ctx, def.ID, &next); err != nil {
			e.logger.Error("failed to advance schedule",
				slog.String("job_id", def.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// resumeDue re-acquires the lock for a retrying execution and runs the
// next attempt.
func (e *Engine) resumeDue(ctx context.Context, actor string, ex *execution.Execution) {
	def, err := e.registry.Get(ctx, ex.JobID)
	if err != nil {
		e.logger.Error("retrying execution references unknown job",
			slog.String("execution_id", ex.ID.String()),
			slog.String("job_id", ex.JobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if !e.throttles.Acquire(def.TenantID) {
		return
	}
	defer e.throttles.Release(def.TenantID)

	ok, err := e.locks.Acquire(ctx, ex.JobID, ex.ID, e.cfg.LockTTL)
	if err != nil {
		e.logger.Error("failed to acquire lock for retry",
			slog.String("execution_id", ex.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		return
	}

	resumed, err := e.tracker.Resume(ctx, ex.ID, actor)
	if err != nil {
		e.logger.Error("failed to resume execution",
			slog.String("execution_id", ex.ID.String()),
			slog.String("error", err.Error()),
		)
		if relErr := e.locks.Release(ctx, ex.JobID); relErr != nil {
			e.logger.Error("failed to release lock after resume failure",
				slog.String("job_id", ex.JobID.String()),
				slog.String("error", relErr.Error()),
			)
		}
		return
	}

	e.runAttempt(ctx, actor, resumed, def.Config, resumed.Input)
}

// run acquires the lock, starts a fresh execution, and runs the first
// attempt synchronously.
func (e *Engine) run(ctx context.Context, actor string, def *registry.JobDefinition, input json.RawMessage, naturalKey string) (*execution.Execution, error) {
	if _, ok := e.handlers.get(def.JobType); !ok {
		return nil, fmt.Errorf("%w: %q", gantry.ErrJobTypeUnknown, def.JobType)
	}

	if !e.throttles.Acquire(def.TenantID) {
		return nil, fmt.Errorf("%w: tenant %q", gantry.ErrThrottled, def.TenantID)
	}
	defer e.throttles.Release(def.TenantID)

	execID := id.NewExecutionID()
	acquired, err := e.locks.Acquire(ctx, def.ID, execID, e.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("engine: acquire lock for job %s: %w", def.ID, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: job %q", gantry.ErrLockHeld, def.Name)
	}

	if naturalKey == "" {
		naturalKey = execID.String()
	}
	key := idempotency.ComputeKey(def.JobType, def.TenantID, naturalKey)

	ex, err := e.tracker.Start(ctx, tracker.StartParams{
		JobID:          def.ID,
		ExecutionID:    execID,
		TenantID:       def.TenantID,
		JobType:        def.JobType,
		JobName:        def.Name,
		Input:          input,
		IdempotencyKey: key,
		MaxRetries:     def.MaxRetries,
		Runner:         e.runnerID,
		Actor:          actor,
	})
	if err != nil {
		if relErr := e.locks.Release(ctx, def.ID); relErr != nil {
			e.logger.Error("failed to release lock after start failure",
				slog.String("job_id", def.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
		return nil, err
	}

	e.runAttempt(ctx, actor, ex, def.Config, input)
	return e.tracker.Get(ctx, ex.ID)
}

// runAttempt invokes the handler through the middleware chain and drives
// the resulting state transition. Errors marked retry.Permanent fail
// terminally regardless of remaining budget.
func (e *Engine) runAttempt(ctx context.Context, actor string, ex *execution.Execution, cfg, input json.RawMessage) {
	handler, ok := e.handlers.get(ex.JobType)
	if !ok {
		if err := e.tracker.Fail(ctx, ex.ID, fmt.Sprintf("no handler registered for job type %q", ex.JobType), false, actor); err != nil {
			e.logger.Error("failed to record missing handler failure",
				slog.String("execution_id", ex.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	run := &Run{
		Execution: ex,
		Config:    cfg,
		Input:     input,
		guard:     e.guard,
		recorder:  e.recorder,
	}

	var output json.RawMessage
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, run)
		if err != nil {
			return err
		}
		output = out
		return nil
	}

	err := e.mw(ctx, ex, terminal)
	if err == nil {
		if cErr := e.tracker.Complete(ctx, ex.ID, output, actor); cErr != nil {
			e.logger.Error("failed to complete execution",
				slog.String("execution_id", ex.ID.String()),
				slog.String("error", cErr.Error()),
			)
		}
		return
	}

	shouldRetry := !retry.IsPermanent(err)
	if fErr := e.tracker.Fail(ctx, ex.ID, err.Error(), shouldRetry, actor); fErr != nil {
		e.logger.Error("failed to record execution failure",
			slog.String("execution_id", ex.ID.String()),
			slog.String("error", fErr.Error()),
		)
	}
}
