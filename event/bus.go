package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 64

// Bus persists events through a Store and fans them out to in-process
// subscribers. Delivery to subscribers is best-effort: a subscriber whose
// buffer is full misses the event (the durable record remains in the
// store), so a slow consumer can never stall a completion.
type Bus struct {
	store  Store
	clock  gantry.Clock
	logger *slog.Logger

	mu         sync.RWMutex
	subs       map[Name]map[int]chan *Event
	nextSubID  int
	bufferSize int

	// dropped is atomic: Publish runs concurrently under the read lock.
	dropped atomic.Int64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) { b.bufferSize = n }
}

// NewBus creates a bus backed by the given store.
func NewBus(store Store, clock gantry.Clock, logger *slog.Logger, opts ...BusOption) *Bus {
	if clock == nil {
		clock = gantry.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		store:      store,
		clock:      clock,
		logger:     logger,
		subs:       make(map[Name]map[int]chan *Event),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish persists the event and notifies subscribers of its name.
func (b *Bus) Publish(ctx context.Context, name Name, tenantID string, jobID id.JobID, executionID id.ExecutionID, payload json.RawMessage) (*Event, error) {
	evt := &Event{
		ID:          id.NewEventID(),
		Name:        name,
		TenantID:    tenantID,
		JobID:       jobID,
		ExecutionID: executionID,
		Payload:     payload,
		CreatedAt:   b.clock.Now(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[name] {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event subscriber buffer full, dropping",
				slog.String("event", string(name)),
				slog.String("execution_id", executionID.String()),
			)
		}
	}
	return evt, nil
}

// Subscribe registers an explicit subscriber for events with the given
// name. The returned cancel func unsubscribes and closes the channel.
func (b *Bus) Subscribe(name Name) (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[name] == nil {
		b.subs[name] = make(map[int]chan *Event)
	}
	subID := b.nextSubID
	b.nextSubID++
	ch := make(chan *Event, b.bufferSize)
	b.subs[name][subID] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[name][subID]; ok {
			delete(b.subs[name], subID)
			close(existing)
		}
	}
	return ch, cancel
}

// List returns a tenant's stored events.
func (b *Bus) List(ctx context.Context, tenantID string, name Name, limit int) ([]*Event, error) {
	return b.store.ListEvents(ctx, tenantID, name, limit)
}

// Dropped reports how many events were not delivered to a subscriber
// because its buffer was full. The durable records still exist.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }
