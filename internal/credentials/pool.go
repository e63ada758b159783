// Package credentials implements the provider credential pool with its
// rotation strategies, quota windows, and health state machine.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"ContentPipeline/internal/domain"
	eventsink "ContentPipeline/internal/events"
	"ContentPipeline/internal/ports"
)

// DefaultSuspendThreshold is the consecutive-failure count that suspends a
// credential until it is externally reactivated.
const DefaultSuspendThreshold = 5

// Pool selects credentials per strategy and funnels every counter mutation
// through the store's atomic operations. Quota is reserved at acquisition so
// concurrent acquirers can never jointly exceed a limit.
type Pool struct {
	store            ports.CredentialStore
	events           ports.EventSink
	logger           *slog.Logger
	suspendThreshold int
	now              func() time.Time

	mu      sync.Mutex
	cursors map[string]int
}

// NewPool wires the pool; threshold <= 0 selects the default.
func NewPool(store ports.CredentialStore, events ports.EventSink, logger *slog.Logger, suspendThreshold int) *Pool {
	if suspendThreshold <= 0 {
		suspendThreshold = DefaultSuspendThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = eventsink.NopSink{}
	}
	return &Pool{
		store:            store,
		events:           events,
		logger:           logger,
		suspendThreshold: suspendThreshold,
		now:              time.Now,
		cursors:          map[string]int{},
	}
}

// Acquire returns a credential for the provider chosen by the strategy, with
// one call already reserved against its quota. It returns
// domain.ErrNoCredentialAvailable when every credential fails the
// availability predicate; callers then walk the provider fallback chain.
func (p *Pool) Acquire(ctx context.Context, provider string, strategy domain.RotationStrategy) (domain.Credential, error) {
	creds, err := p.store.ListByProvider(ctx, provider)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("list credentials for %s: %w", provider, err)
	}

	now := p.now()
	candidates := make([]domain.Credential, 0, len(creds))
	for _, cred := range creds {
		if effectiveView(cred, now).Available() {
			candidates = append(candidates, cred)
		}
	}
	if len(candidates) == 0 {
		return domain.Credential{}, domain.ErrNoCredentialAvailable
	}

	ordered := p.order(provider, candidates, strategy.Normalize(), now)

	// The ordering is advisory; the conditional update in TryAcquire is
	// what enforces the quota invariant under concurrency.
	for _, cred := range ordered {
		acquired, err := p.store.TryAcquire(ctx, cred.CredentialID, now)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("acquire credential %s: %w", cred.CredentialID, err)
		}
		if acquired {
			return cred, nil
		}
	}
	return domain.Credential{}, domain.ErrNoCredentialAvailable
}

// RecordSuccess finalizes a successful call on the credential.
func (p *Pool) RecordSuccess(ctx context.Context, credentialID string) error {
	if err := p.store.RecordSuccess(ctx, credentialID, p.now()); err != nil {
		return fmt.Errorf("record success on %s: %w", credentialID, err)
	}
	return nil
}

// RecordFailure records a failed call, emitting rate-limit and suspension
// transition events.
func (p *Pool) RecordFailure(ctx context.Context, credentialID string, isRateLimit bool) error {
	status, err := p.store.RecordFailure(ctx, credentialID, isRateLimit, p.suspendThreshold, p.now())
	if err != nil {
		return fmt.Errorf("record failure on %s: %w", credentialID, err)
	}

	switch status {
	case domain.CredentialRateLimited:
		p.emit(domain.EventCredentialRateLimit, credentialID)
	case domain.CredentialSuspended:
		p.emit(domain.EventCredentialSuspended, credentialID)
	}
	return nil
}

// Exhausted reports whether no credential for the provider can currently
// serve a call; it backs the "all credentials exhausted" signal.
func (p *Pool) Exhausted(ctx context.Context, provider string) (bool, error) {
	creds, err := p.store.ListByProvider(ctx, provider)
	if err != nil {
		return false, fmt.Errorf("list credentials for %s: %w", provider, err)
	}

	now := p.now()
	for _, cred := range creds {
		if effectiveView(cred, now).Available() {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pool) order(provider string, candidates []domain.Credential, strategy domain.RotationStrategy, now time.Time) []domain.Credential {
	switch strategy {
	case domain.StrategyLeastUsed:
		sortLeastUsed(candidates, now)
	case domain.StrategyRandom:
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	case domain.StrategyPriority:
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Priority != candidates[j].Priority {
				return candidates[i].Priority < candidates[j].Priority
			}
			return lessUsed(candidates[i], candidates[j], now)
		})
	default: // round_robin
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].CredentialID < candidates[j].CredentialID
		})
		p.mu.Lock()
		offset := p.cursors[provider] % len(candidates)
		p.cursors[provider]++
		p.mu.Unlock()
		candidates = append(candidates[offset:], candidates[:offset]...)
	}
	return candidates
}

func sortLeastUsed(candidates []domain.Credential, now time.Time) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return lessUsed(candidates[i], candidates[j], now)
	})
}

func lessUsed(a, b domain.Credential, now time.Time) bool {
	dayA := effectiveView(a, now).CurrentDayCount
	dayB := effectiveView(b, now).CurrentDayCount
	if dayA != dayB {
		return dayA < dayB
	}
	return a.LastUsedAt.Before(b.LastUsedAt)
}

// effectiveView applies the lazy window reset to a snapshot without mutating
// stored state: elapsed windows count as zero, and an elapsed minute window
// lifts a rate_limited status.
func effectiveView(cred domain.Credential, now time.Time) domain.Credential {
	if !cred.MinuteWindowResetAt.After(now) {
		cred.CurrentMinuteCount = 0
		if cred.Status == domain.CredentialRateLimited {
			cred.Status = domain.CredentialActive
		}
	}
	if !cred.DayWindowResetAt.After(now) {
		cred.CurrentDayCount = 0
	}
	return cred
}

func (p *Pool) emit(eventType domain.EventType, credentialID string) {
	p.events.Emit(domain.Event{
		Type:       eventType,
		Credential: credentialID,
		At:         p.now(),
	})
}
