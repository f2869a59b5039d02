package event

import (
	"context"

	"github.com/karstlabs/gantry/id"
)

// Store defines the persistence contract for events.
type Store interface {
	// PublishEvent persists a new event.
	PublishEvent(ctx context.Context, evt *Event) error

	// ListEvents returns a tenant's events with the given name, newest
	// first, up to limit. An empty name matches all events.
	ListEvents(ctx context.Context, tenantID string, name Name, limit int) ([]*Event, error)

	// GetEvent retrieves an event by ID.
	GetEvent(ctx context.Context, eventID id.EventID) (*Event, error)
}
