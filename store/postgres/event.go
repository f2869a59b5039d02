package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/event"
	"github.com/karstlabs/gantry/id"
)

const eventColumns = `id, name, tenant_id, job_id, execution_id, payload, created_at`

// PublishEvent persists a new event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gantry_events (id, name, tenant_id, job_id, execution_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evt.ID.String(), string(evt.Name), evt.TenantID,
		evt.JobID.String(), evt.ExecutionID.String(), evt.Payload, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("gantry/postgres: publish event: %w", err)
	}
	return nil
}

// ListEvents returns a tenant's events, newest first. An empty name
// matches all events.
func (s *Store) ListEvents(ctx context.Context, tenantID string, name event.Name, limit int) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM gantry_events WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIdx := 2

	if name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, string(name))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gantry/postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("gantry/postgres: scan event row: %w", scanErr)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gantry/postgres: iterate event rows: %w", err)
	}
	return events, nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM gantry_events WHERE id = $1`,
		eventID.String(),
	)

	evt, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gantry.ErrEventNotFound
		}
		return nil, fmt.Errorf("gantry/postgres: get event: %w", err)
	}
	return evt, nil
}

// scanEvent scans a single event row.
func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt     event.Event
		idStr   string
		nameStr string
		jobStr  string
		execStr string
	)
	err := row.Scan(&idStr, &nameStr, &evt.TenantID, &jobStr, &execStr, &evt.Payload, &evt.CreatedAt)
	if err != nil {
		return nil, err
	}

	evt.Name = event.Name(nameStr)

	parsedID, parseErr := id.ParseEventID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse event id %q: %w", idStr, parseErr)
	}
	evt.ID = parsedID

	parsedJob, parseErr := id.ParseJobID(jobStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse event job id %q: %w", jobStr, parseErr)
	}
	evt.JobID = parsedJob

	parsedExec, parseErr := id.ParseExecutionID(execStr)
	if parseErr != nil {
		return nil, fmt.Errorf("gantry/postgres: parse event execution id %q: %w", execStr, parseErr)
	}
	evt.ExecutionID = parsedExec

	return &evt, nil
}
