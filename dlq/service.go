package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/id"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store  Store
	clock  gantry.Clock
	logger *slog.Logger
}

// NewService creates a DLQ service.
func NewService(store Store, clock gantry.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = gantry.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, clock: clock, logger: logger}
}

// Push builds an Entry from a terminally-failed execution and persists
// it. Pushing the same execution twice is absorbed: the first entry is
// authoritative, so terminal failure and DLQ presence stay one-to-one.
func (s *Service) Push(ctx context.Context, e *execution.Execution) (*Entry, error) {
	now := s.clock.Now()

	firstFailed := now
	if e.FirstFailedAt != nil {
		firstFailed = *e.FirstFailedAt
	}

	entry := &Entry{
		ID:            id.NewDLQID(),
		JobID:         e.JobID,
		ExecutionID:   e.ID,
		TenantID:      e.TenantID,
		JobType:       e.JobType,
		JobName:       e.JobName,
		FailureReason: e.ErrorMessage,
		Input:         e.Input,
		RetryAttempts: e.RetryCount,
		FirstFailedAt: firstFailed,
		LastFailedAt:  now,
		CreatedAt:     now,
	}
	err := s.store.PushDLQ(ctx, entry)
	if errors.Is(err, gantry.ErrDLQDuplicate) {
		return entry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dlq: push execution %s: %w", e.ID, err)
	}

	s.logger.Warn("execution dead-lettered",
		slog.String("tenant_id", e.TenantID),
		slog.String("job_id", e.JobID.String()),
		slog.String("execution_id", e.ID.String()),
		slog.Int("retry_attempts", e.RetryCount),
		slog.String("failure_reason", e.ErrorMessage),
	)
	return entry, nil
}

// List returns a tenant's entries, open ones by default.
func (s *Service) List(ctx context.Context, tenantID string, resolved bool) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, tenantID, ListOpts{Resolved: resolved})
}

// Get retrieves an entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Resolve marks the entry resolved with the operator's notes. It does not
// re-trigger the job; replay is a separate operator action.
func (s *Service) Resolve(ctx context.Context, entryID id.DLQID, notes, resolver string) (*Entry, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Resolved {
		return nil, fmt.Errorf("%w: %s", gantry.ErrDLQResolved, entryID)
	}

	now := s.clock.Now()
	entry.Resolved = true
	entry.ResolvedAt = &now
	entry.ResolvedBy = resolver
	entry.ResolutionNotes = notes

	if err := s.store.UpdateDLQ(ctx, entry); err != nil {
		return nil, fmt.Errorf("dlq: resolve %s: %w", entryID, err)
	}

	s.logger.Info("dlq entry resolved",
		slog.String("entry_id", entryID.String()),
		slog.String("resolved_by", resolver),
	)
	return entry, nil
}

// Count returns the number of open entries for the tenant.
func (s *Service) Count(ctx context.Context, tenantID string) (int64, error) {
	return s.store.CountDLQ(ctx, tenantID)
}
