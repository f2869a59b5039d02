package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/karstlabs/gantry"
)

// ConfigDecoder validates and decodes the raw configuration for one job
// type. The typed RegisterConfigType is converted to a ConfigDecoder at
// registration time by closing over JSON unmarshal + the typed validator.
type ConfigDecoder func(raw json.RawMessage) (any, error)

// ConfigRegistry maps job types to configuration decoders.
// It is safe for concurrent use.
type ConfigRegistry struct {
	mu       sync.RWMutex
	decoders map[string]ConfigDecoder
}

// NewConfigRegistry creates an empty configuration registry.
func NewConfigRegistry() *ConfigRegistry {
	return &ConfigRegistry{
		decoders: make(map[string]ConfigDecoder),
	}
}

// RegisterConfigType registers the configuration type for a job type.
// The generic validator is wrapped in a closure that JSON-unmarshals the
// raw config into T before validating. A nil validate accepts any
// well-formed T.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterConfigType[T any](r *ConfigRegistry, jobType string, validate func(T) error) {
	decoder := func(raw json.RawMessage) (any, error) {
		var t T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &t); err != nil {
				return nil, fmt.Errorf("decode config for job type %q: %w", jobType, err)
			}
		}
		if validate != nil {
			if err := validate(t); err != nil {
				return nil, fmt.Errorf("validate config for job type %q: %w", jobType, err)
			}
		}
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[jobType] = decoder
}

// Decode validates raw against the decoder registered for jobType and
// returns the decoded value. Returns gantry.ErrJobTypeUnknown if no
// decoder is registered.
func (r *ConfigRegistry) Decode(jobType string, raw json.RawMessage) (any, error) {
	r.mu.RLock()
	decoder, ok := r.decoders[jobType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", gantry.ErrJobTypeUnknown, jobType)
	}
	return decoder(raw)
}

// Known reports whether a decoder is registered for jobType.
func (r *ConfigRegistry) Known(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[jobType]
	return ok
}

// Types returns all registered job types.
func (r *ConfigRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.decoders))
	for jobType := range r.decoders {
		types = append(types, jobType)
	}
	return types
}
