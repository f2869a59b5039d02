// Package idempotency maps caller-supplied keys to previously computed
// results so that re-firing the same logical unit of work, for example
// a duplicate trigger tick or a retry after a transient failure, stays
// side-effect-free.
//
// The engine supplies the scaffolding: it computes a key before an
// execution starts and records the result alongside completion. It cannot
// force a job body to honor it; bodies must call Guard.Do (or check the
// store directly) before any side-effecting write.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/karstlabs/gantry/id"
)

// Record is one key → result mapping. Created once per unique key; read
// on every subsequent attempt with the same key.
type Record struct {
	Key         string          `json:"key"`
	JobID       id.JobID        `json:"job_id"`
	ExecutionID id.ExecutionID  `json:"execution_id"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ComputeKey derives the idempotency key for one logical unit of work.
// The natural key is job-type-specific: a once-daily batch would pass the
// calendar date, so re-firing the same tenant+date dedupes. The derivation
// is hashed so keys are uniform, index-friendly, and leak nothing.
func ComputeKey(jobType, tenantID, naturalKey string) string {
	sum := sha256.Sum256([]byte(jobType + ":" + tenantID + ":" + naturalKey))
	return hex.EncodeToString(sum[:16])
}
