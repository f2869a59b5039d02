package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
	"github.com/karstlabs/gantry/idempotency"
)

// idempotencyModel is the msgpack wire form of an idempotency record.
type idempotencyModel struct {
	Key         string    `msgpack:"key"`
	JobID       string    `msgpack:"job_id"`
	ExecutionID string    `msgpack:"execution_id"`
	Result      []byte    `msgpack:"result"`
	CreatedAt   time.Time `msgpack:"created_at"`
}

// PutIdempotencyRecord inserts the record through SET NX. First write
// wins; the stored record is never overwritten.
func (s *Store) PutIdempotencyRecord(ctx context.Context, rec *idempotency.Record) error {
	data, err := msgpack.Marshal(&idempotencyModel{
		Key:         rec.Key,
		JobID:       rec.JobID.String(),
		ExecutionID: rec.ExecutionID.String(),
		Result:      rec.Result,
		CreatedAt:   rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("gantry/redis: encode idempotency record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, idemKey(rec.Key), data, 0).Result()
	if err != nil {
		return fmt.Errorf("gantry/redis: put idempotency record: %w", err)
	}
	if !ok {
		return gantry.ErrIdempotencyConflict
	}
	return nil
}

// GetIdempotencyRecord returns the record for the key.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (*idempotency.Record, error) {
	data, err := s.client.Get(ctx, idemKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, gantry.ErrIdempotencyNotFound
		}
		return nil, fmt.Errorf("gantry/redis: get idempotency record: %w", err)
	}

	var m idempotencyModel
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("gantry/redis: decode idempotency record: %w", err)
	}

	rec := &idempotency.Record{
		Key:       m.Key,
		Result:    json.RawMessage(m.Result),
		CreatedAt: m.CreatedAt,
	}

	if m.JobID != "" {
		parsedJob, parseErr := id.ParseJobID(m.JobID)
		if parseErr == nil {
			rec.JobID = parsedJob
		}
	}
	if m.ExecutionID != "" {
		parsedExec, parseErr := id.ParseExecutionID(m.ExecutionID)
		if parseErr == nil {
			rec.ExecutionID = parsedExec
		}
	}

	return rec, nil
}
