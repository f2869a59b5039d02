package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/karstlabs/gantry/execlog"
	"github.com/karstlabs/gantry/id"
)

// AppendLog persists a new log entry.
func (s *Store) AppendLog(ctx context.Context, e *execlog.Entry) error {
	var metadata []byte
	if e.Metadata != nil {
		encoded, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("gantry/postgres: encode log metadata: %w", err)
		}
		metadata = encoded
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO gantry_execution_logs (
			id, execution_id, level, message, metadata, logged_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID.String(), e.ExecutionID.String(), string(e.Level),
		e.Message, metadata, e.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("gantry/postgres: append log: %w", err)
	}
	return nil
}

// ListLogs returns the entries for an execution at or above minLevel,
// ordered by LoggedAt ascending. Level ordering is a domain notion, so
// the filter applies in Go rather than in SQL.
func (s *Store) ListLogs(ctx context.Context, executionID id.ExecutionID, minLevel execlog.Level) ([]*execlog.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, level, message, metadata, logged_at
		FROM gantry_execution_logs
		WHERE execution_id = $1
		ORDER BY logged_at ASC`,
		executionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("gantry/postgres: list logs: %w", err)
	}
	defer rows.Close()

	var entries []*execlog.Entry
	for rows.Next() {
		var (
			e        execlog.Entry
			idStr    string
			execStr  string
			levelStr string
			metadata []byte
		)
		scanErr := rows.Scan(&idStr, &execStr, &levelStr, &e.Message, &metadata, &e.LoggedAt)
		if scanErr != nil {
			return nil, fmt.Errorf("gantry/postgres: scan log row: %w", scanErr)
		}

		e.Level = execlog.Level(levelStr)
		if !e.Level.AtLeast(minLevel) {
			continue
		}

		parsedID, parseErr := id.Parse(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("gantry/postgres: parse log id %q: %w", idStr, parseErr)
		}
		e.ID = parsedID

		parsedExec, parseErr := id.ParseExecutionID(execStr)
		if parseErr != nil {
			return nil, fmt.Errorf("gantry/postgres: parse log execution id %q: %w", execStr, parseErr)
		}
		e.ExecutionID = parsedExec

		if len(metadata) > 0 {
			if decodeErr := json.Unmarshal(metadata, &e.Metadata); decodeErr != nil {
				return nil, fmt.Errorf("gantry/postgres: decode log metadata: %w", decodeErr)
			}
		}

		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gantry/postgres: iterate log rows: %w", err)
	}
	return entries, nil
}
