package redis

// Redis key naming conventions for gantry data.
// All keys are prefixed with "gantry:" to avoid collisions.

const keyPrefix = "gantry:"

// lockKey returns the key for a job's lock claim: gantry:lock:{jobID}
func lockKey(jobID string) string { return keyPrefix + "lock:" + jobID }

// idemKey returns the key for an idempotency record: gantry:idem:{key}
func idemKey(key string) string { return keyPrefix + "idem:" + key }
