// Package throttle provides per-tenant rate limiting and concurrency
// caps applied before an execution starts. A throttled job is skipped
// silently for the tick, exactly like lock contention, and becomes
// eligible again on the next poll.
package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines limits for one tenant.
type Config struct {
	// TenantID the limits apply to.
	TenantID string

	// MaxConcurrency limits how many of the tenant's executions may run
	// simultaneously in this process. Zero means no tenant-specific
	// limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained execution starts per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// tenantState tracks runtime state for a single tenant.
type tenantState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-tenant rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given tenant configurations.
// Tenants not listed have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		tenants: make(map[string]*tenantState, len(configs)),
	}
	for _, cfg := range configs {
		m.tenants[cfg.TenantID] = newTenantState(cfg)
	}
	return m
}

func newTenantState(cfg Config) *tenantState {
	ts := &tenantState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the tenant. If the
// execution is allowed to proceed it increments the active counter and
// returns true. The caller MUST call Release when the execution
// completes.
func (m *Manager) Acquire(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenants[tenantID]
	if ts == nil {
		return true
	}
	// Concurrency first: a slot rejection must not burn a rate token.
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active count for the tenant.
func (m *Manager) Release(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tenants[tenantID]
	if ts == nil {
		return
	}
	if ts.active > 0 {
		ts.active--
	}
}

// Active returns the number of in-flight executions tracked for the
// tenant.
func (m *Manager) Active(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tenants[tenantID]; ts != nil {
		return ts.active
	}
	return 0
}
