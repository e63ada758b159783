// Package queue implements the durable, prioritized, deduplicated work queue
// with its retry-aware state machine. Two stores share the same semantics: a
// Postgres store using atomic conditional updates and an in-memory store used
// for tests and DSN-less runs.
package queue

import "time"

// Options bounds the retry machinery shared by both stores.
type Options struct {
	// MaxRetries is the number of retryable failures an item may absorb
	// before the next one turns terminal.
	MaxRetries int
	// BackoffBase is the first retry delay; it doubles per retry.
	BackoffBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	return o
}

// backoffDelay returns the deferral applied after the given retry count.
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
	}
	return delay
}
