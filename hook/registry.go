package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/execution"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type startedEntry struct {
	name string
	hook ExecutionStarted
}

type completedEntry struct {
	name string
	hook ExecutionCompleted
}

type retryingEntry struct {
	name string
	hook ExecutionRetrying
}

type failedEntry struct {
	name string
	hook ExecutionFailed
}

type deadLetteredEntry struct {
	name string
	hook ExecutionDeadLettered
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant transition.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	started      []startedEntry
	completed    []completedEntry
	retrying     []retryingEntry
	failed       []failedEntry
	deadLettered []deadLetteredEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable
// transition caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(ExecutionStarted); ok {
		r.started = append(r.started, startedEntry{name, hk})
	}
	if hk, ok := h.(ExecutionCompleted); ok {
		r.completed = append(r.completed, completedEntry{name, hk})
	}
	if hk, ok := h.(ExecutionRetrying); ok {
		r.retrying = append(r.retrying, retryingEntry{name, hk})
	}
	if hk, ok := h.(ExecutionFailed); ok {
		r.failed = append(r.failed, failedEntry{name, hk})
	}
	if hk, ok := h.(ExecutionDeadLettered); ok {
		r.deadLettered = append(r.deadLettered, deadLetteredEntry{name, hk})
	}
	if hk, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitExecutionStarted notifies all hooks that implement ExecutionStarted.
func (r *Registry) EmitExecutionStarted(ctx context.Context, e *execution.Execution) {
	for _, entry := range r.started {
		if err := entry.hook.OnExecutionStarted(ctx, e); err != nil {
			r.logHookError("OnExecutionStarted", entry.name, err)
		}
	}
}

// EmitExecutionCompleted notifies all hooks that implement ExecutionCompleted.
func (r *Registry) EmitExecutionCompleted(ctx context.Context, e *execution.Execution, elapsed time.Duration) {
	for _, entry := range r.completed {
		if err := entry.hook.OnExecutionCompleted(ctx, e, elapsed); err != nil {
			r.logHookError("OnExecutionCompleted", entry.name, err)
		}
	}
}

// EmitExecutionRetrying notifies all hooks that implement ExecutionRetrying.
func (r *Registry) EmitExecutionRetrying(ctx context.Context, e *execution.Execution, attempt int, backoffUntil time.Time) {
	for _, entry := range r.retrying {
		if err := entry.hook.OnExecutionRetrying(ctx, e, attempt, backoffUntil); err != nil {
			r.logHookError("OnExecutionRetrying", entry.name, err)
		}
	}
}

// EmitExecutionFailed notifies all hooks that implement ExecutionFailed.
func (r *Registry) EmitExecutionFailed(ctx context.Context, e *execution.Execution, errMsg string) {
	for _, entry := range r.failed {
		if err := entry.hook.OnExecutionFailed(ctx, e, errMsg); err != nil {
			r.logHookError("OnExecutionFailed", entry.name, err)
		}
	}
}

// EmitExecutionDeadLettered notifies all hooks that implement
// ExecutionDeadLettered.
func (r *Registry) EmitExecutionDeadLettered(ctx context.Context, e *execution.Execution, entry *dlq.Entry) {
	for _, h := range r.deadLettered {
		if err := h.hook.OnExecutionDeadLettered(ctx, e, entry); err != nil {
			r.logHookError("OnExecutionDeadLettered", h.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, entry := range r.shutdown {
		if err := entry.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", entry.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never propagate into the
// execution pipeline.
func (r *Registry) logHookError(method, name string, err error) {
	r.logger.Error("hook error",
		slog.String("method", method),
		slog.String("hook", name),
		slog.String("error", err.Error()),
	)
}
