package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ContentPipeline/internal/ports"
)

// Runner binds the discovery and dispatch cycles to their periodic drivers.
// A cycle that fails pushes the next attempt out by an exponential backoff
// delay; ticks arriving inside the delay are skipped. A successful cycle
// resets the policy.
type Runner struct {
	discoveryDriver ports.Scheduler
	dispatchDriver  ports.Scheduler
	pipeline        *Pipeline
	logger          *slog.Logger

	mu               sync.Mutex
	discoveryPolicy  *backoff.ExponentialBackOff
	dispatchPolicy   *backoff.ExponentialBackOff
	discoveryAllowAt time.Time
	dispatchAllowAt  time.Time
}

// NewRunner wires both drivers to the pipeline.
func NewRunner(discoveryDriver, dispatchDriver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		discoveryDriver: discoveryDriver,
		dispatchDriver:  dispatchDriver,
		pipeline:        pipeline,
		logger:          logger,
		discoveryPolicy: newRetryPolicy(),
		dispatchPolicy:  newRetryPolicy(),
	}
}

func newRetryPolicy() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.Multiplier = 2
	return bo
}

// Start registers both cycles with their drivers.
func (r *Runner) Start(ctx context.Context) error {
	if r.pipeline == nil {
		return nil
	}

	if r.discoveryDriver != nil {
		if err := r.discoveryDriver.Start(ctx, r.discoveryJob(ctx)); err != nil {
			return err
		}
	}
	if r.dispatchDriver != nil {
		if err := r.dispatchDriver.Start(ctx, r.dispatchJob(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// Stop tears down both drivers.
func (r *Runner) Stop(ctx context.Context) error {
	if r.discoveryDriver != nil {
		if err := r.discoveryDriver.Stop(ctx); err != nil {
			return err
		}
	}
	if r.dispatchDriver != nil {
		return r.dispatchDriver.Stop(ctx)
	}
	return nil
}

func (r *Runner) discoveryJob(ctx context.Context) func(time.Time) {
	return func(trigger time.Time) {
		if !r.admit(trigger, &r.discoveryAllowAt) {
			return
		}

		stats, err := r.pipeline.RunDiscovery(ctx)
		if err != nil {
			delay := r.penalize(&r.discoveryAllowAt, r.discoveryPolicy, trigger)
			r.logger.Error("discovery cycle failed", "error", err, "retry_in", delay)
			return
		}

		r.reset(&r.discoveryAllowAt, r.discoveryPolicy)
		r.logger.Info("discovery cycle finished",
			"discovered", stats.Discovered,
			"queued", stats.Queued,
			"updated", stats.Updated,
			"duplicates", stats.Duplicates,
			"failed_sources", stats.Failed)
	}
}

func (r *Runner) dispatchJob(ctx context.Context) func(time.Time) {
	return func(trigger time.Time) {
		if !r.admit(trigger, &r.dispatchAllowAt) {
			return
		}

		stats, err := r.pipeline.RunDispatch(ctx)
		if err != nil {
			delay := r.penalize(&r.dispatchAllowAt, r.dispatchPolicy, trigger)
			r.logger.Error("dispatch cycle failed", "error", err, "retry_in", delay)
			return
		}

		r.reset(&r.dispatchAllowAt, r.dispatchPolicy)
		if stats.Completed+stats.Failed+stats.Retried > 0 {
			r.logger.Info("dispatch cycle finished",
				"completed", stats.Completed,
				"failed", stats.Failed,
				"retried", stats.Retried)
		}
	}
}

func (r *Runner) admit(trigger time.Time, allowAt *time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !trigger.Before(*allowAt)
}

func (r *Runner) penalize(allowAt *time.Time, policy *backoff.ExponentialBackOff, trigger time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	delay := policy.NextBackOff()
	*allowAt = trigger.Add(delay)
	return delay
}

func (r *Runner) reset(allowAt *time.Time, policy *backoff.ExponentialBackOff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	policy.Reset()
	*allowAt = time.Time{}
}
