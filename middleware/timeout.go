package middleware

import (
	"context"
	"time"

	"github.com/karstlabs/gantry/execution"
)

// Timeout returns middleware that enforces a per-execution deadline.
// When d is positive, a context.WithTimeout wraps the body call; the
// body should return context.DeadlineExceeded once the deadline passes.
// The deadline should sit below the lock TTL so a timed-out body fails
// and releases its lock before the claim turns stale.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *execution.Execution, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
