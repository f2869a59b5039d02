// Package gantry is a background job scheduling and execution engine for
// multi-tenant operational backends. It guarantees at most one concurrent
// execution per job, tracks permanent execution history, retries transient
// failures with bounded attempts and exponential backoff, deduplicates side
// effects through idempotency keys, and quarantines permanently-failing work
// into a dead letter queue for operator triage.
//
// Gantry is a library, not a service. The engine is passive: it exposes
// operations (list due jobs, acquire a lock, start/complete/fail an
// execution) that an external trigger invokes on each tick. Import the
// packages, plug in a store, register handlers, and either call
// engine.RunDue from your own scheduler or start the bundled runner.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New())
//	engine.Register(eng, "daily_report", handler)
//	def, err := eng.RegisterJob(ctx, actor, registry.RegisterParams{...})
//
// # Architecture
//
// Gantry follows a composable store pattern where each subsystem (registry,
// execution, lock, execlog, dlq, idempotency, event) defines its own store
// interface. A single backend implements all of them; Postgres, Redis
// (lock and idempotency hot paths), and an in-memory store ship in store/.
//
// Correctness of the single-execution guarantee depends solely on the
// store's atomic lock claim, never on process-local synchronization:
// multiple independent runner processes may race to pick up the same due
// job, and exactly one wins.
//
// All entity IDs are TypeIDs: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package gantry
