// Package store defines the aggregate persistence interface. Each
// subsystem (registry, lock, execution, execlog, idempotency, dlq,
// event) defines its own store interface; the composite Store composes
// them all, and a single backend implements the whole set. Backends:
// Postgres, Redis (locks and idempotency only), and Memory.
package store

import (
	"context"

	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/event"
	"github.com/karstlabs/gantry/execlog"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/idempotency"
	"github.com/karstlabs/gantry/lock"
	"github.com/karstlabs/gantry/registry"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; callers depend only on the slice they use.
type Store interface {
	registry.Store
	lock.Store
	execution.Store
	execlog.Store
	idempotency.Store
	dlq.Store
	event.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
