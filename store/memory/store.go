// Package memory provides a fully in-memory store.Store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/dlq"
	"github.com/karstlabs/gantry/event"
	"github.com/karstlabs/gantry/execlog"
	"github.com/karstlabs/gantry/execution"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/idempotency"
	"github.com/karstlabs/gantry/lock"
	"github.com/karstlabs/gantry/registry"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ registry.Store    = (*Store)(nil)
	_ lock.Store        = (*Store)(nil)
	_ execution.Store   = (*Store)(nil)
	_ execlog.Store     = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
	_ dlq.Store         = (*Store)(nil)
	_ event.Store       = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*registry.JobDefinition
	locks   map[string]*lock.Lock // key: job ID
	execs   map[string]*execution.Execution
	logs    map[string][]*execlog.Entry // key: execution ID
	idems   map[string]*idempotency.Record
	dlqs    map[string]*dlq.Entry
	dlqExec map[string]string // execution ID -> DLQ entry ID
	events  map[string]*event.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*registry.JobDefinition),
		locks:   make(map[string]*lock.Lock),
		execs:   make(map[string]*execution.Execution),
		logs:    make(map[string][]*execlog.Entry),
		idems:   make(map[string]*idempotency.Record),
		dlqs:    make(map[string]*dlq.Entry),
		dlqExec: make(map[string]string),
		events:  make(map[string]*event.Event),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Registry Store
// ──────────────────────────────────────────────────

// UpsertJob inserts the definition or, when one with the same
// (tenant, name) exists, updates it in place preserving the existing ID
// and run bookkeeping.
func (m *Store) UpsertJob(_ context.Context, def *registry.JobDefinition) (*registry.JobDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.TenantID == def.TenantID && j.Name == def.Name {
			j.JobType = def.JobType
			j.Schedule = def.Schedule
			j.Config = def.Config
			j.Enabled = def.Enabled
			j.MaxRetries = def.MaxRetries
			j.UpdatedAt = def.UpdatedAt
			cp := *j
			return &cp, nil
		}
	}

	cp := *def
	m.jobs[def.ID.String()] = &cp
	out := cp
	return &out, nil
}

// GetJob retrieves a definition by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*registry.JobDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, gantry.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// GetJobByName retrieves a definition by its tenant-scoped name.
func (m *Store) GetJobByName(_ context.Context, tenantID, name string) (*registry.JobDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.TenantID == tenantID && j.Name == name {
			cp := *j
			return &cp, nil
		}
	}
	return nil, gantry.ErrJobNotFound
}

// ListJobs returns all definitions for a tenant, name ascending.
func (m *Store) ListJobs(_ context.Context, tenantID string) ([]*registry.JobDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*registry.JobDefinition, 0)
	for _, j := range m.jobs {
		if j.TenantID != tenantID {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].Name < result[k].Name
	})
	return result, nil
}

// ListDueJobs returns enabled scheduled definitions whose NextRunAt is
// nil or has passed and which have no in-flight execution.
func (m *Store) ListDueJobs(_ context.Context, now time.Time, limit int) ([]*registry.JobDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make(map[string]struct{})
	for _, e := range m.execs {
		if !e.State.Terminal() {
			active[e.JobID.String()] = struct{}{}
		}
	}

	result := make([]*registry.JobDefinition, 0)
	for _, j := range m.jobs {
		if !j.Enabled || j.Schedule == "" {
			continue
		}
		if j.NextRunAt != nil && j.NextRunAt.After(now) {
			continue
		}
		if _, busy := active[j.ID.String()]; busy {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// NextRunAt ascending, never-run jobs (nil) first.
	sort.Slice(result, func(i, k int) bool {
		a, b := result[i].NextRunAt, result[k].NextRunAt
		switch {
		case a == nil && b == nil:
			return result[i].Name < result[k].Name
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateJobSchedule persists the externally computed next fire time.
func (m *Store) UpdateJobSchedule(_ context.Context, jobID id.JobID, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return gantry.ErrJobNotFound
	}
	j.NextRunAt = nextRunAt
	return nil
}

// UpdateJobLastRun records when an execution of the job last started.
func (m *Store) UpdateJobLastRun(_ context.Context, jobID id.JobID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return gantry.ErrJobNotFound
	}
	j.LastRunAt = &at
	return nil
}

// ──────────────────────────────────────────────────
// Lock Store
// ──────────────────────────────────────────────────

// SweepExpiredLocks deletes lock rows whose expiry has passed.
func (m *Store) SweepExpiredLocks(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept int
	for key, l := range m.locks {
		if !l.ExpiresAt.After(now) {
			delete(m.locks, key)
			swept++
		}
	}
	return swept, nil
}

// InsertLock atomically inserts the claim if no row for the job exists.
func (m *Store) InsertLock(_ context.Context, l *lock.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := l.JobID.String()
	if _, held := m.locks[key]; held {
		return gantry.ErrLockHeld
	}
	cp := *l
	m.locks[key] = &cp
	return nil
}

// DeleteLock removes the lock row for the job.
func (m *Store) DeleteLock(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.locks, jobID.String())
	return nil
}

// GetLock returns the lock row for the job.
func (m *Store) GetLock(_ context.Context, jobID id.JobID) (*lock.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.locks[jobID.String()]
	if !ok {
		return nil, gantry.ErrLockNotHeld
	}
	cp := *l
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Execution Store
// ──────────────────────────────────────────────────

// CreateExecution persists a new execution.
func (m *Store) CreateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.execs[e.ID.String()] = &cp
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, executionID id.ExecutionID) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.execs[executionID.String()]
	if !ok {
		return nil, gantry.ErrExecutionNotFound
	}
	cp := *e
	return &cp, nil
}

// UpdateExecution persists changes to an existing execution.
func (m *Store) UpdateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, ok := m.execs[key]; !ok {
		return gantry.ErrExecutionNotFound
	}
	cp := *e
	m.execs[key] = &cp
	return nil
}

// ListExecutions returns a tenant's executions, most recent first.
func (m *Store) ListExecutions(_ context.Context, tenantID string, opts execution.HistoryOpts) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*execution.Execution, 0)
	for _, e := range m.execs {
		if e.TenantID != tenantID {
			continue
		}
		if !opts.JobID.IsNil() && e.JobID.String() != opts.JobID.String() {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.After(result[k].StartedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ListDueRetries returns retrying executions whose backoff has elapsed,
// oldest backoff first.
func (m *Store) ListDueRetries(_ context.Context, now time.Time, limit int) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*execution.Execution, 0)
	for _, e := range m.execs {
		if e.State != execution.StateRetrying {
			continue
		}
		if e.BackoffUntil != nil && e.BackoffUntil.After(now) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		a, b := result[i].BackoffUntil, result[k].BackoffUntil
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountActiveExecutions returns how many executions for the job are
// pending or running.
func (m *Store) CountActiveExecutions(_ context.Context, jobID id.JobID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int
	for _, e := range m.execs {
		if e.JobID.String() != jobID.String() {
			continue
		}
		if e.State == execution.StatePending || e.State == execution.StateRunning {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Execution Log Store
// ──────────────────────────────────────────────────

// AppendLog persists a new entry.
func (m *Store) AppendLog(_ context.Context, e *execlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	key := e.ExecutionID.String()
	m.logs[key] = append(m.logs[key], &cp)
	return nil
}

// ListLogs returns the execution's entries at or above minLevel,
// LoggedAt ascending.
func (m *Store) ListLogs(_ context.Context, executionID id.ExecutionID, minLevel execlog.Level) ([]*execlog.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.logs[executionID.String()]
	result := make([]*execlog.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Level.AtLeast(minLevel) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, k int) bool {
		return result[i].LoggedAt.Before(result[k].LoggedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

// PutIdempotencyRecord inserts the record if its key is unseen.
func (m *Store) PutIdempotencyRecord(_ context.Context, rec *idempotency.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.idems[rec.Key]; seen {
		return gantry.ErrIdempotencyConflict
	}
	cp := *rec
	m.idems[rec.Key] = &cp
	return nil
}

// GetIdempotencyRecord returns the record for the key.
func (m *Store) GetIdempotencyRecord(_ context.Context, key string) (*idempotency.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.idems[key]
	if !ok {
		return nil, gantry.ErrIdempotencyNotFound
	}
	cp := *rec
	return &cp, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an entry, enforcing at most one per execution.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	execKey := entry.ExecutionID.String()
	if _, dup := m.dlqExec[execKey]; dup {
		return gantry.ErrDLQDuplicate
	}
	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	m.dlqExec[execKey] = entry.ID.String()
	return nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, gantry.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ListDLQ returns a tenant's entries matching opts, most recent failure
// first.
func (m *Store) ListDLQ(_ context.Context, tenantID string, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0)
	for _, e := range m.dlqs {
		if e.TenantID != tenantID {
			continue
		}
		if e.Resolved != opts.Resolved {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].LastFailedAt.After(result[k].LastFailedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// UpdateDLQ persists resolution and replay bookkeeping.
func (m *Store) UpdateDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.dlqs[key]; !ok {
		return gantry.ErrDLQNotFound
	}
	cp := *entry
	m.dlqs[key] = &cp
	return nil
}

// CountDLQ returns the number of open entries for the tenant.
func (m *Store) CountDLQ(_ context.Context, tenantID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, e := range m.dlqs {
		if e.Resolved {
			continue
		}
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events[evt.ID.String()] = &cp
	return nil
}

// ListEvents returns a tenant's events with the given name, newest first.
func (m *Store) ListEvents(_ context.Context, tenantID string, name event.Name, limit int) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*event.Event, 0)
	for _, evt := range m.events {
		if evt.TenantID != tenantID {
			continue
		}
		if name != "" && evt.Name != name {
			continue
		}
		cp := *evt
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetEvent retrieves an event by ID.
func (m *Store) GetEvent(_ context.Context, eventID id.EventID) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return nil, gantry.ErrEventNotFound
	}
	cp := *evt
	return &cp, nil
}
