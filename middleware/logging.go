package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/karstlabs/gantry/execution"
)

// Logging returns middleware that logs body start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *execution.Execution, next Handler) error {
		logger.Info("execution started",
			slog.String("job_name", e.JobName),
			slog.String("execution_id", e.ID.String()),
			slog.String("tenant_id", e.TenantID),
			slog.Int("retry_count", e.RetryCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("execution body failed",
				slog.String("job_name", e.JobName),
				slog.String("execution_id", e.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("execution body completed",
				slog.String("job_name", e.JobName),
				slog.String("execution_id", e.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
