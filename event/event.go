// Package event provides explicit completion-event emission. When an
// execution reaches a terminal state the tracker publishes an event on
// the bus; interested parties such as notification generators or
// schedule updaters subscribe explicitly. Nothing cascades
// implicitly at the storage layer.
package event

import (
	"encoding/json"
	"time"

	"github.com/karstlabs/gantry/id"
)

// Name identifies the kind of an emitted event.
type Name string

const (
	// ExecutionCompleted fires when an execution completes successfully.
	ExecutionCompleted Name = "execution.completed"
	// ExecutionDeadLettered fires when an execution turns terminally
	// failed and its DLQ entry is created.
	ExecutionDeadLettered Name = "execution.dead_lettered"
)

// Event is one durable record of a terminal execution transition.
type Event struct {
	ID          id.EventID      `json:"id"`
	Name        Name            `json:"name"`
	TenantID    string          `json:"tenant_id"`
	JobID       id.JobID        `json:"job_id"`
	ExecutionID id.ExecutionID  `json:"execution_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
