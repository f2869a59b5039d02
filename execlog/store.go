package execlog

import (
	"context"

	"github.com/karstlabs/gantry/id"
)

// Store defines the persistence contract for execution logs.
type Store interface {
	// AppendLog persists a new entry. Entries are immutable once written.
	AppendLog(ctx context.Context, e *Entry) error

	// ListLogs returns the entries for an execution at or above minLevel,
	// ordered by LoggedAt ascending. An empty minLevel returns everything.
	ListLogs(ctx context.Context, executionID id.ExecutionID, minLevel Level) ([]*Entry, error)
}
