package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
)

// RegisterParams are the inputs for registering (or re-registering) a job.
type RegisterParams struct {
	TenantID   string
	Name       string
	JobType    string
	Schedule   string
	Config     json.RawMessage
	Enabled    bool
	MaxRetries int
}

// Service provides registration and due-listing over a Store, validating
// typed configuration through a ConfigRegistry.
type Service struct {
	store   Store
	configs *ConfigRegistry
	clock   gantry.Clock
	logger  *slog.Logger
}

// NewService creates a registry service. A nil configs registry rejects
// every job type; register config types before registering jobs.
func NewService(store Store, configs *ConfigRegistry, clock gantry.Clock, logger *slog.Logger) *Service {
	if configs == nil {
		configs = NewConfigRegistry()
	}
	if clock == nil {
		clock = gantry.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, configs: configs, clock: clock, logger: logger}
}

// Configs returns the config decoder registry.
func (s *Service) Configs() *ConfigRegistry { return s.configs }

// Register upserts a job definition keyed by (tenant, name). Registration
// is idempotent: re-registering the same name updates job_type, schedule,
// config, enabled, and max_retries in place. The config is validated
// against the decoder registered for the job type; unknown types and
// invalid configs are registration errors.
func (s *Service) Register(ctx context.Context, actor string, p RegisterParams) (*JobDefinition, error) {
	if p.TenantID == "" {
		return nil, fmt.Errorf("registry: tenant id is required")
	}
	if p.Name == "" {
		return nil, fmt.Errorf("registry: job name is required")
	}
	if _, err := s.configs.Decode(p.JobType, p.Config); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = gantry.DefaultConfig().DefaultMaxRetries
	}

	def := &JobDefinition{
		Entity:     gantry.NewEntity(now),
		ID:         id.NewJobID(),
		TenantID:   p.TenantID,
		Name:       p.Name,
		JobType:    p.JobType,
		Schedule:   p.Schedule,
		Config:     p.Config,
		Enabled:    p.Enabled,
		MaxRetries: maxRetries,
	}

	stored, err := s.store.UpsertJob(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("registry: upsert job %q: %w", p.Name, err)
	}

	s.logger.Info("job registered",
		slog.String("tenant_id", p.TenantID),
		slog.String("job_id", stored.ID.String()),
		slog.String("name", p.Name),
		slog.String("job_type", p.JobType),
		slog.Bool("enabled", stored.Enabled),
		slog.String("actor", actor),
	)

	return stored, nil
}

// ListDue returns enabled jobs that are due now and have no in-flight
// execution, never-run jobs first. This is the trigger's polling
// entrypoint.
func (s *Service) ListDue(ctx context.Context, limit int) ([]*JobDefinition, error) {
	return s.store.ListDueJobs(ctx, s.clock.Now(), limit)
}

// UpdateSchedule persists the scheduler's computed next fire time. It does
// not itself enforce cron correctness; computing the fire time is the
// external scheduler's concern.
func (s *Service) UpdateSchedule(ctx context.Context, jobID id.JobID, nextRunAt *time.Time) error {
	if err := s.store.UpdateJobSchedule(ctx, jobID, nextRunAt); err != nil {
		return fmt.Errorf("registry: update schedule for %s: %w", jobID, err)
	}
	return nil
}

// SetEnabled toggles a definition without touching its other fields.
func (s *Service) SetEnabled(ctx context.Context, actor string, jobID id.JobID, enabled bool) (*JobDefinition, error) {
	def, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	def.Enabled = enabled
	def.Touch(s.clock.Now())

	stored, err := s.store.UpsertJob(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("registry: toggle job %s: %w", jobID, err)
	}

	s.logger.Info("job toggled",
		slog.String("job_id", jobID.String()),
		slog.Bool("enabled", enabled),
		slog.String("actor", actor),
	)
	return stored, nil
}

// Get retrieves a definition by ID.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*JobDefinition, error) {
	return s.store.GetJob(ctx, jobID)
}

// GetByName retrieves a definition by its tenant-scoped name.
func (s *Service) GetByName(ctx context.Context, tenantID, name string) (*JobDefinition, error) {
	return s.store.GetJobByName(ctx, tenantID, name)
}

// List returns all definitions for a tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]*JobDefinition, error) {
	return s.store.ListJobs(ctx, tenantID)
}

// Exists reports whether a tenant has a definition with the given name.
func (s *Service) Exists(ctx context.Context, tenantID, name string) (bool, error) {
	_, err := s.store.GetJobByName(ctx, tenantID, name)
	if errors.Is(err, gantry.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
