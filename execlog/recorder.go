package execlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
)

// Recorder appends entries for executions and mirrors them onto the
// process logger so operators see one stream in both places.
type Recorder struct {
	store  Store
	clock  gantry.Clock
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, clock gantry.Clock, logger *slog.Logger) *Recorder {
	if clock == nil {
		clock = gantry.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, clock: clock, logger: logger}
}

// Append writes one entry for the execution. Invalid levels are rejected.
func (r *Recorder) Append(ctx context.Context, executionID id.ExecutionID, level Level, message string, metadata map[string]any) error {
	if !level.Valid() {
		return fmt.Errorf("execlog: invalid level %q", level)
	}

	e := &Entry{
		ID:          id.NewLogEntryID(),
		ExecutionID: executionID,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
		LoggedAt:    r.clock.Now(),
	}
	if err := r.store.AppendLog(ctx, e); err != nil {
		return fmt.Errorf("execlog: append: %w", err)
	}

	r.logger.Log(ctx, slogLevel(level), message,
		slog.String("execution_id", executionID.String()),
	)
	return nil
}

// List returns the execution's entries at or above minLevel.
func (r *Recorder) List(ctx context.Context, executionID id.ExecutionID, minLevel Level) ([]*Entry, error) {
	return r.store.ListLogs(ctx, executionID, minLevel)
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
