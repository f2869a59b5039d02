package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Trigger is the due sweep the runner invokes on each tick. The engine
// provides the implementation; this indirection keeps the runner free of
// engine internals.
type Trigger interface {
	RunDue(ctx context.Context, actor string) (int, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithTickInterval sets how often the runner sweeps for due work.
func WithTickInterval(d time.Duration) Option {
	return func(r *Runner) { r.tickInterval = d }
}

// WithActor sets the actor recorded on runner-triggered executions.
func WithActor(actor string) Option {
	return func(r *Runner) { r.actor = actor }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner periodically invokes the trigger's due sweep. The engine stays
// passive; all scheduled and retry work flows through these ticks.
type Runner struct {
	trigger      Trigger
	actor        string
	tickInterval time.Duration
	logger       *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Runner over the given trigger.
func New(trigger Trigger, opts ...Option) *Runner {
	r := &Runner{
		trigger:      trigger,
		actor:        "runner",
		tickInterval: time.Minute,
		logger:       slog.Default(),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the tick goroutine.
func (r *Runner) Start(_ context.Context) error {
	r.wg.Add(1)
	go r.tickLoop()
	r.logger.Info("runner started",
		slog.String("actor", r.actor),
		slog.Duration("tick_interval", r.tickInterval),
	)
	return nil
}

// Stop signals the runner to stop and waits for the tick goroutine to
// finish. In-flight runs complete before Stop returns.
func (r *Runner) Stop(_ context.Context) error {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("runner stopped")
	return nil
}

func (r *Runner) tickLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Tick(context.Background())
		}
	}
}

// Tick runs one due sweep. Exported so callers with their own scheduling
// (tests, cron-driven deployments) can drive the engine directly.
func (r *Runner) Tick(ctx context.Context) {
	n, err := r.trigger.RunDue(ctx, r.actor)
	if err != nil {
		r.logger.Error("due sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		r.logger.Debug("due sweep dispatched runs", slog.Int("count", n))
	}
}
