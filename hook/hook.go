// Package hook defines the lifecycle hook system. Hooks are notified of
// execution lifecycle transitions (started, completed, retrying, failed,
// dead-lettered) and react to them, typically with metrics or an
// audit feed. Subscription is explicit; no side effect cascades
// implicitly from a state change.
//
// Each lifecycle transition is a separate interface so hooks opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/execution"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ExecutionStarted is called when the tracker starts (or resumes) an
// execution.
type ExecutionStarted interface {
	OnExecutionStarted(ctx context.Context, e *execution.Execution) error
}

// ExecutionCompleted is called after an execution finishes successfully.
type ExecutionCompleted interface {
	OnExecutionCompleted(ctx context.Context, e *execution.Execution, elapsed time.Duration) error
}

// ExecutionRetrying is called when an execution fails transiently and is
// scheduled for another attempt after backoff.
type ExecutionRetrying interface {
	OnExecutionRetrying(ctx context.Context, e *execution.Execution, attempt int, backoffUntil time.Time) error
}

// ExecutionFailed is called when an execution fails terminally.
type ExecutionFailed interface {
	OnExecutionFailed(ctx context.Context, e *execution.Execution, errMsg string) error
}

// ExecutionDeadLettered is called when the terminal failure's DLQ entry
// has been created.
type ExecutionDeadLettered interface {
	OnExecutionDeadLettered(ctx context.Context, e *execution.Execution, entry *dlq.Entry) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
