package gantry

import (
	"sync"
	"time"
)

// Clock is the injected time source used by every scheduling decision:
// due-job listing, lock expiry, backoff eligibility. Components never call
// time.Now directly on those paths, so tests can advance time
// deterministically with a ManualClock.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall-clock backed Clock used in production.
func SystemClock() Clock { return systemClock{} }

// ManualClock is a Clock whose time only moves when told to. Safe for
// concurrent use. Intended for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock frozen at the given instant.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now.UTC()}
}

// Now returns the clock's current instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to the given instant.
func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}
