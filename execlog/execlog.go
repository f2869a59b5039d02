// Package execlog provides the append-only structured log stream keyed by
// execution id. Entries are never mutated; within one execution they are
// ordered by LoggedAt, but the store does not guarantee a strict total
// order across executions.
package execlog

import (
	"time"

	"github.com/karstlabs/gantry/id"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// rank orders levels for minimum-level filtering. Unknown levels rank
// below debug and are filtered by any minimum.
func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 1
	case LevelInfo:
		return 2
	case LevelWarn:
		return 3
	case LevelError:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is at or above min severity. An empty min
// admits every level.
func (l Level) AtLeast(min Level) bool {
	if min == "" {
		return true
	}
	return l.rank() >= min.rank()
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool { return l.rank() > 0 }

// Entry is one append-only log line attached to an execution.
type Entry struct {
	ID          id.LogEntryID  `json:"id"`
	ExecutionID id.ExecutionID `json:"execution_id"`
	Level       Level          `json:"level"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LoggedAt    time.Time      `json:"logged_at"`
}
