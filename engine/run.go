package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/karstlabs/gantry/execlog"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/idempotency"
	"github.com/karstlabs/gantry/registry"
)

// Run is the context handed to a job handler for one execution attempt.
type Run struct {
	// Execution is the attempt being run. Handlers must not mutate it.
	Execution *execution.Execution

	// Config is the job definition's raw typed config. The generic
	// Register wrapper decodes it before the typed handler sees it.
	Config json.RawMessage

	// Input is the per-run input payload. Empty for scheduled runs
	// unless the trigger supplied one; carries the original input on
	// replay.
	Input json.RawMessage

	guard    *idempotency.Guard
	recorder *execlog.Recorder
}

// Log appends a structured line to the execution's log stream.
func (r *Run) Log(ctx context.Context, level execlog.Level, message string, metadata map[string]any) error {
	return r.recorder.Append(ctx, r.Execution.ID, level, message, metadata)
}

// Dedupe runs fn at most once per key across all executions: a
// previously recorded result is returned without running fn. Handlers
// use this around side effects that must not repeat when a retry or
// replay covers ground an earlier attempt already committed.
func (r *Run) Dedupe(ctx context.Context, key string, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	return r.guard.Do(ctx, key, r.Execution.JobID, r.Execution.ID, fn)
}

// HandlerFunc is a type-erased job handler. The typed handler registered
// through Register is converted to a HandlerFunc at registration time by
// closing over JSON unmarshal of the job config.
type HandlerFunc func(ctx context.Context, run *Run) (json.RawMessage, error)

// handlers maps job types to type-erased handler functions.
// Safe for concurrent use.
type handlers struct {
	mu sync.RWMutex
	m  map[string]HandlerFunc
}

func newHandlers() *handlers {
	return &handlers{m: make(map[string]HandlerFunc)}
}

func (h *handlers) set(jobType string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[jobType] = fn
}

func (h *handlers) get(jobType string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.m[jobType]
	return fn, ok
}

func (h *handlers) types() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	types := make([]string, 0, len(h.m))
	for t := range h.m {
		types = append(types, t)
	}
	return types
}

// Register registers a typed handler for a job type. The generic handler
// is wrapped in a closure that JSON-unmarshals the job's config into T
// before calling the typed handler, and the config type is registered so
// job registration can validate configs up front.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[T any](e *Engine, jobType string, handler func(ctx context.Context, run *Run, cfg T) (json.RawMessage, error)) {
	RegisterValidated(e, jobType, handler, nil)
}

// RegisterValidated is Register with a config validation function that
// runs when a job definition of this type is registered.
func RegisterValidated[T any](e *Engine, jobType string, handler func(ctx context.Context, run *Run, cfg T) (json.RawMessage, error), validate func(T) error) {
	fn := func(ctx context.Context, run *Run) (json.RawMessage, error) {
		var cfg T
		if len(run.Config) > 0 {
			if err := json.Unmarshal(run.Config, &cfg); err != nil {
				return nil, fmt.Errorf("unmarshal config for job type %q: %w", jobType, err)
			}
		}
		return handler(ctx, run, cfg)
	}
	e.handlers.set(jobType, fn)
	registry.RegisterConfigType(e.configs, jobType, validate)
}
