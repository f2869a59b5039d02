package gantry

import "time"

// Config holds tunables shared by the engine and the runner.
type Config struct {
	// LockTTL is the time-to-live stamped on each lock claim. A job body
	// running longer than this without completing or failing leaves its
	// lock reclaimable, and a second runner may start a duplicate
	// execution. That staleness window is an accepted part of the design;
	// there is no heartbeat renewal.
	LockTTL time.Duration

	// DefaultMaxRetries is the retry budget for executions whose job
	// definition does not override it.
	DefaultMaxRetries int

	// RunDueLimit caps how many due jobs one trigger tick picks up.
	RunDueLimit int

	// BodyTimeout is the per-execution deadline enforced by the timeout
	// middleware. Zero disables the deadline.
	BodyTimeout time.Duration

	// TickInterval is how often the bundled runner polls for due work.
	TickInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight
	// executions during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockTTL:           5 * time.Minute,
		DefaultMaxRetries: 3,
		RunDueLimit:       50,
		BodyTimeout:       4 * time.Minute,
		TickInterval:      1 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
	}
}
