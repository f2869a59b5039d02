package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/karstlabs/gantry/execution"
)

// Recover returns middleware that recovers from panics in the job body.
// Panics are converted to errors and logged with a stack trace, so no
// body failure propagates past the engine's public operations.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *execution.Execution, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job body panicked",
					slog.String("job_type", e.JobType),
					slog.String("execution_id", e.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in job %s: %v", e.JobName, r)
			}
		}()
		return next(ctx)
	}
}
