// Package middleware provides composable middleware around job body
// invocation. Middleware wraps body calls synchronously and can modify
// execution (recover from panics, log, enforce deadlines, add metrics and
// tracing).
package middleware

import (
	"context"

	"github.com/karstlabs/gantry/execution"
)

// Handler is the terminal function that invokes the job body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the execution being run, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, e *execution.Execution, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, logging, timeout) executes as:
//
//	recover → logging → timeout → body
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, e *execution.Execution, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, e, prev)
			}
		}
		return h(ctx)
	}
}
