// Package runner drives the passive engine: a Cron schedule calculator
// backed by the standard 5-field cron syntax, and a Runner that invokes
// the engine's due sweep on a fixed tick.
package runner

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// ValidSchedule reports whether expr is a parseable cron expression.
func ValidSchedule(expr string) bool {
	_, err := cronParser.Parse(expr)
	return err == nil
}

// Cron computes next fire times from cron expressions, caching parsed
// schedules. It satisfies the engine's Scheduler interface.
// Safe for concurrent use.
type Cron struct {
	mu     sync.RWMutex
	parsed map[string]cronlib.Schedule
}

// NewCron creates an empty schedule calculator.
func NewCron() *Cron {
	return &Cron{parsed: make(map[string]cronlib.Schedule)}
}

// Next returns the first fire time of the schedule strictly after the
// given instant.
func (c *Cron) Next(schedule string, after time.Time) (time.Time, error) {
	c.mu.RLock()
	sched, ok := c.parsed[schedule]
	c.mu.RUnlock()

	if !ok {
		var err error
		sched, err = cronParser.Parse(schedule)
		if err != nil {
			return time.Time{}, fmt.Errorf("runner: parse schedule %q: %w", schedule, err)
		}
		c.mu.Lock()
		c.parsed[schedule] = sched
		c.mu.Unlock()
	}

	return sched.Next(after), nil
}
