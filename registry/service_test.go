package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/registry"
	"github.com/karstlabs/gantry/store/memory"
)

type reportConfig struct {
	Month string `json:"month"`
}

func newService(t *testing.T) (*registry.Service, *gantry.ManualClock) {
	t.Helper()
	clock := gantry.NewManualClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	configs := registry.NewConfigRegistry()
	registry.RegisterConfigType(configs, "report", func(c reportConfig) error {
		if c.Month == "" {
			return fmt.Errorf("month is required")
		}
		return nil
	})

	return registry.NewService(memory.New(), configs, clock, logger), clock
}

func register(t *testing.T, s *registry.Service, p registry.RegisterParams) *registry.JobDefinition {
	t.Helper()
	def, err := s.Register(context.Background(), "admin@acme", p)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return def
}

func validParams() registry.RegisterParams {
	return registry.RegisterParams{
		TenantID:   "acme",
		Name:       "monthly-report",
		JobType:    "report",
		Schedule:   "0 2 * * *",
		Config:     json.RawMessage(`{"month":"2026-02"}`),
		Enabled:    true,
		MaxRetries: 2,
	}
}

func TestRegisterValidatesConfig(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	ctx := context.Background()

	// Unknown job type.
	p := validParams()
	p.JobType = "unregistered"
	if _, err := s.Register(ctx, "admin@acme", p); !errors.Is(err, gantry.ErrJobTypeUnknown) {
		t.Fatalf("unknown type err = %v, want ErrJobTypeUnknown", err)
	}

	// Config failing the typed validator.
	p = validParams()
	p.Config = json.RawMessage(`{}`)
	if _, err := s.Register(ctx, "admin@acme", p); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}

	// Malformed JSON.
	p = validParams()
	p.Config = json.RawMessage(`{"month":`)
	if _, err := s.Register(ctx, "admin@acme", p); err == nil {
		t.Fatal("expected malformed config to be rejected")
	}

	// Missing identity fields.
	p = validParams()
	p.TenantID = ""
	if _, err := s.Register(ctx, "admin@acme", p); err == nil {
		t.Fatal("expected missing tenant to be rejected")
	}
	p = validParams()
	p.Name = ""
	if _, err := s.Register(ctx, "admin@acme", p); err == nil {
		t.Fatal("expected missing name to be rejected")
	}
}

func TestRegisterIsIdempotentByName(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)

	first := register(t, s, validParams())

	p := validParams()
	p.Schedule = "@every 1h"
	p.MaxRetries = 5
	second := register(t, s, p)

	if second.ID != first.ID {
		t.Fatalf("re-registration changed the id: %s vs %s", second.ID, first.ID)
	}
	if second.Schedule != "@every 1h" {
		t.Fatalf("schedule = %q, want updated", second.Schedule)
	}
	if second.MaxRetries != 5 {
		t.Fatalf("max retries = %d, want 5", second.MaxRetries)
	}
}

func TestRegisterDefaultsMaxRetries(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)

	p := validParams()
	p.MaxRetries = 0
	def := register(t, s, p)

	if want := gantry.DefaultConfig().DefaultMaxRetries; def.MaxRetries != want {
		t.Fatalf("max retries = %d, want default %d", def.MaxRetries, want)
	}
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	ctx := context.Background()

	def := register(t, s, validParams())

	disabled, err := s.SetEnabled(ctx, "admin@acme", def.ID, false)
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if disabled.Enabled {
		t.Fatal("expected job to be disabled")
	}
	if disabled.Schedule != def.Schedule {
		t.Fatalf("toggle changed the schedule: %q", disabled.Schedule)
	}

	// Disabled jobs are never due.
	due, err := s.ListDue(ctx, 0)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due = %d, want 0", len(due))
	}
}

func TestListDueNeverRunFirst(t *testing.T) {
	t.Parallel()
	s, clock := newService(t)
	ctx := context.Background()

	neverRun := register(t, s, validParams())

	p := validParams()
	p.Name = "weekly-report"
	ranBefore := register(t, s, p)
	past := clock.Now().Add(-time.Hour)
	if err := s.UpdateSchedule(ctx, ranBefore.ID, &past); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}

	p = validParams()
	p.Name = "future-report"
	notYet := register(t, s, p)
	future := clock.Now().Add(time.Hour)
	if err := s.UpdateSchedule(ctx, notYet.ID, &future); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}

	due, err := s.ListDue(ctx, 0)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2", len(due))
	}
	if due[0].ID != neverRun.ID {
		t.Fatalf("first due = %s, want the never-run job", due[0].Name)
	}
	if due[1].ID != ranBefore.ID {
		t.Fatalf("second due = %s, want the past-due job", due[1].Name)
	}
}

func TestExistsAndGetByName(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)
	ctx := context.Background()

	register(t, s, validParams())

	ok, err := s.Exists(ctx, "acme", "monthly-report")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("expected job to exist")
	}

	// Name is tenant-scoped.
	ok, err = s.Exists(ctx, "globex", "monthly-report")
	if err != nil {
		t.Fatalf("Exists other tenant: %v", err)
	}
	if ok {
		t.Fatal("expected no job under the other tenant")
	}

	if _, err := s.GetByName(ctx, "acme", "missing"); !errors.Is(err, gantry.ErrJobNotFound) {
		t.Fatalf("GetByName missing err = %v, want ErrJobNotFound", err)
	}
}

func TestConfigRegistryTypes(t *testing.T) {
	t.Parallel()

	configs := registry.NewConfigRegistry()
	registry.RegisterConfigType[reportConfig](configs, "report", nil)

	if !configs.Known("report") {
		t.Fatal("expected report type to be known")
	}
	if configs.Known("cleanup") {
		t.Fatal("expected cleanup type to be unknown")
	}
	if types := configs.Types(); len(types) != 1 || types[0] != "report" {
		t.Fatalf("types = %v", types)
	}

	// A nil validator accepts any well-formed config.
	if _, err := configs.Decode("report", json.RawMessage(`{"month":""}`)); err != nil {
		t.Fatalf("Decode with nil validator: %v", err)
	}
	if _, err := configs.Decode("report", json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected malformed config to fail decoding")
	}
}
