// Package scheduler provides the periodic trigger driving pipeline cycles.
package scheduler

import (
	"context"
	"time"

	"ContentPipeline/internal/ports"
)

// Ticker fires the registered job at a fixed interval, with one immediate
// run at start so a fresh process does not idle until the first tick.
type Ticker struct {
	interval time.Duration
	location *time.Location
	stop     chan struct{}
}

var _ ports.Scheduler = (*Ticker)(nil)

// NewTicker builds a scheduler firing every interval, reporting trigger
// times in the given location.
func NewTicker(interval time.Duration, location *time.Location) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	if location == nil {
		location = time.UTC
	}
	return &Ticker{interval: interval, location: location}
}

// Start launches the tick loop. Calling Start twice without Stop is a no-op.
func (t *Ticker) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	if t.stop != nil {
		return nil
	}

	t.stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		job(time.Now().In(t.location))
		for {
			select {
			case trigger := <-ticker.C:
				job(trigger.In(t.location))
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the tick loop.
func (t *Ticker) Stop(ctx context.Context) error {
	if t.stop == nil {
		return nil
	}
	close(t.stop)
	t.stop = nil
	return nil
}
