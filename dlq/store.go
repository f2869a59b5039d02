package dlq

import (
	"context"

	"github.com/karstlabs/gantry/id"
)

// ListOpts controls filtering for DLQ list queries.
type ListOpts struct {
	// Resolved selects resolved (true) or open (false) entries.
	Resolved bool
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds an entry. At most one entry may exist per execution;
	// a second push for the same execution returns gantry.ErrDLQDuplicate.
	PushDLQ(ctx context.Context, entry *Entry) error

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ListDLQ returns a tenant's entries matching opts, most recent
	// failure first.
	ListDLQ(ctx context.Context, tenantID string, opts ListOpts) ([]*Entry, error)

	// UpdateDLQ persists resolution and replay bookkeeping.
	UpdateDLQ(ctx context.Context, entry *Entry) error

	// CountDLQ returns the number of open (unresolved) entries for the
	// tenant. An empty tenant counts across all tenants.
	CountDLQ(ctx context.Context, tenantID string) (int64, error)
}
