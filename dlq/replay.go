package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/id"
)

// StartFunc re-runs a job with the given input through the engine's normal
// acquire→start pipeline. The engine provides the implementation; this
// indirection keeps dlq from importing the tracker.
type StartFunc func(ctx context.Context, actor string, jobID id.JobID, input json.RawMessage) (*execution.Execution, error)

// Replay re-runs a DLQ entry's job with its original input as a fresh
// execution and stamps ReplayedAt. The entry itself stays open until an
// operator resolves it. Replay is deliberately separate from Resolve.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID, actor string, start StartFunc) (*execution.Execution, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	exec, err := start(ctx, actor, entry.JobID, entry.Input)
	if err != nil {
		return nil, fmt.Errorf("dlq: replay %s: %w", entryID, err)
	}

	now := s.clock.Now()
	entry.ReplayedAt = &now
	if updateErr := s.store.UpdateDLQ(ctx, entry); updateErr != nil {
		// The replacement execution is already started. Log but don't fail.
		s.logger.Error("failed to stamp dlq replay",
			slog.String("entry_id", entryID.String()),
			slog.String("error", updateErr.Error()),
		)
		return exec, nil
	}

	s.logger.Info("dlq entry replayed",
		slog.String("entry_id", entryID.String()),
		slog.String("execution_id", exec.ID.String()),
		slog.String("actor", actor),
	)
	return exec, nil
}
