package credentials

import (
	"context"
	"sort"
	"sync"
	"time"

	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/ports"
)

// MemoryStore is the mutex-guarded in-memory credential store. It mirrors
// the Postgres store's semantics for tests and DSN-less runs.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]*domain.Credential
	now   func() time.Time
}

var _ ports.CredentialStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: map[string]*domain.Credential{},
		now:   time.Now,
	}
}

// Seed loads credentials, initializing windows and health state.
func (s *MemoryStore) Seed(creds []domain.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, cred := range creds {
		seeded := cred
		if seeded.Status == "" {
			seeded.Status = domain.CredentialActive
		}
		if seeded.MinuteWindowResetAt.IsZero() {
			seeded.MinuteWindowResetAt = now.Add(time.Minute)
		}
		if seeded.DayWindowResetAt.IsZero() {
			seeded.DayWindowResetAt = now.Add(24 * time.Hour)
		}
		s.creds[seeded.CredentialID] = &seeded
	}
}

// ListByProvider returns snapshots of the provider's credentials in a stable
// order.
func (s *MemoryStore) ListByProvider(_ context.Context, provider string) ([]domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Credential
	for _, cred := range s.creds {
		if cred.Provider == provider {
			out = append(out, *cred)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out, nil
}

// TryAcquire lazily resets elapsed windows, then reserves one call if the
// availability predicate holds. The reservation is what keeps concurrent
// acquirers inside the limits.
func (s *MemoryStore) TryAcquire(_ context.Context, credentialID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[credentialID]
	if !ok {
		return false, domain.ErrCredentialNotFound
	}

	lazyReset(cred, now)

	if !cred.Available() {
		return false, nil
	}

	cred.CurrentMinuteCount++
	cred.CurrentDayCount++
	return true, nil
}

// RecordSuccess finalizes a successful call.
func (s *MemoryStore) RecordSuccess(_ context.Context, credentialID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[credentialID]
	if !ok {
		return domain.ErrCredentialNotFound
	}

	cred.ConsecutiveFailureCount = 0
	cred.LastUsedAt = now
	return nil
}

// RecordFailure applies the health state machine and returns the resulting
// status.
func (s *MemoryStore) RecordFailure(_ context.Context, credentialID string, isRateLimit bool, suspendThreshold int, now time.Time) (domain.CredentialStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[credentialID]
	if !ok {
		return "", domain.ErrCredentialNotFound
	}

	lazyReset(cred, now)
	cred.LastUsedAt = now

	if isRateLimit {
		if cred.Status == domain.CredentialActive {
			cred.Status = domain.CredentialRateLimited
		}
		return cred.Status, nil
	}

	cred.ConsecutiveFailureCount++
	if cred.ConsecutiveFailureCount >= suspendThreshold {
		cred.Status = domain.CredentialSuspended
	}
	return cred.Status, nil
}

// Reactivate restores a suspended credential; only an external action does
// this.
func (s *MemoryStore) Reactivate(_ context.Context, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[credentialID]
	if !ok {
		return domain.ErrCredentialNotFound
	}

	cred.Status = domain.CredentialActive
	cred.ConsecutiveFailureCount = 0
	return nil
}

// Get returns a snapshot of one credential; it exists for tests.
func (s *MemoryStore) Get(credentialID string) (domain.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[credentialID]
	if !ok {
		return domain.Credential{}, false
	}
	return *cred, true
}

// lazyReset zeroes counters whose window elapsed and advances the window.
// An elapsed minute window also lifts a rate_limited status.
func lazyReset(cred *domain.Credential, now time.Time) {
	if !cred.MinuteWindowResetAt.After(now) {
		cred.CurrentMinuteCount = 0
		cred.MinuteWindowResetAt = now.Add(time.Minute)
		if cred.Status == domain.CredentialRateLimited {
			cred.Status = domain.CredentialActive
		}
	}
	if !cred.DayWindowResetAt.After(now) {
		cred.CurrentDayCount = 0
		cred.DayWindowResetAt = now.Add(24 * time.Hour)
	}
}
