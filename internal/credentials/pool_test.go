package credentials

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentPipeline/internal/domain"
)

func seedStore(creds ...domain.Credential) *MemoryStore {
	store := NewMemoryStore()
	store.Seed(creds)
	return store
}

func cred(id string, perMinute, perDay, priority int) domain.Credential {
	return domain.Credential{
		CredentialID:   id,
		Provider:       "openai",
		KeyMaterial:    "key-" + id,
		PerMinuteLimit: perMinute,
		PerDayLimit:    perDay,
		Priority:       priority,
	}
}

func TestAcquireReservesQuota(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("a", 2, 100, 0))
	pool := NewPool(store, nil, nil, 0)

	for i := 0; i < 2; i++ {
		got, err := pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
		require.NoError(t, err)
		assert.Equal(t, "a", got.CredentialID)
	}

	// Minute quota spent.
	_, err := pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
	assert.ErrorIs(t, err, domain.ErrNoCredentialAvailable)

	state, _ := store.Get("a")
	assert.Equal(t, 2, state.CurrentMinuteCount)
	assert.Equal(t, 2, state.CurrentDayCount)
}

func TestAcquireConcurrentNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const limit = 20
	store := seedStore(cred("a", limit, 1000, 0))
	pool := NewPool(store, nil, nil, 0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for w := 0; w < 64; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Acquire(ctx, "openai", domain.StrategyLeastUsed)
			if err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, acquired)
	state, _ := store.Get("a")
	assert.Equal(t, limit, state.CurrentMinuteCount)
}

func TestRoundRobinRotates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("a", 100, 100, 0), cred("b", 100, 100, 0), cred("c", 100, 100, 0))
	pool := NewPool(store, nil, nil, 0)

	var order []string
	for i := 0; i < 6; i++ {
		got, err := pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
		require.NoError(t, err)
		order = append(order, got.CredentialID)
	}

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)
}

func TestLeastUsedPrefersColdCredential(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("hot", 100, 100, 0), cred("cold", 100, 100, 0))
	pool := NewPool(store, nil, nil, 0)

	// Warm up "hot" directly.
	for i := 0; i < 5; i++ {
		ok, err := store.TryAcquire(ctx, "hot", time.Now())
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, err := pool.Acquire(ctx, "openai", domain.StrategyLeastUsed)
	require.NoError(t, err)
	assert.Equal(t, "cold", got.CredentialID)
}

func TestPriorityStrategy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("backup", 100, 100, 10), cred("primary", 2, 100, 1))
	pool := NewPool(store, nil, nil, 0)

	for i := 0; i < 2; i++ {
		got, err := pool.Acquire(ctx, "openai", domain.StrategyPriority)
		require.NoError(t, err)
		assert.Equal(t, "primary", got.CredentialID)
	}

	// Primary's minute quota is spent; the pool falls to the backup.
	got, err := pool.Acquire(ctx, "openai", domain.StrategyPriority)
	require.NoError(t, err)
	assert.Equal(t, "backup", got.CredentialID)
}

func TestUnknownStrategyFallsBackToRoundRobin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("a", 100, 100, 0), cred("b", 100, 100, 0))
	pool := NewPool(store, nil, nil, 0)

	first, err := pool.Acquire(ctx, "openai", domain.RotationStrategy("fancy"))
	require.NoError(t, err)
	second, err := pool.Acquire(ctx, "openai", domain.RotationStrategy("fancy"))
	require.NoError(t, err)
	assert.NotEqual(t, first.CredentialID, second.CredentialID)
}

func TestRateLimitLiftsAfterWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("a", 100, 100, 0))
	pool := NewPool(store, nil, nil, 0)

	require.NoError(t, pool.RecordFailure(ctx, "a", true))
	state, _ := store.Get("a")
	require.Equal(t, domain.CredentialRateLimited, state.Status)

	_, err := pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
	assert.ErrorIs(t, err, domain.ErrNoCredentialAvailable)

	// After the minute window elapses the credential serves again.
	pool.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	got, err := pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "a", got.CredentialID)
}

func TestSuspensionSticksUntilReactivated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("a", 100, 100, 0))

	sink := &captureSink{}
	pool := NewPool(store, sink, nil, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.RecordFailure(ctx, "a", false))
	}

	state, _ := store.Get("a")
	require.Equal(t, domain.CredentialSuspended, state.Status)

	_, err := pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
	assert.ErrorIs(t, err, domain.ErrNoCredentialAvailable)

	// Window resets never lift a suspension.
	pool.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
	assert.ErrorIs(t, err, domain.ErrNoCredentialAvailable)

	require.NoError(t, store.Reactivate(ctx, "a"))
	got, err := pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "a", got.CredentialID)

	// One suspension event was emitted.
	var suspended int
	for _, ev := range sink.events() {
		if ev.Type == domain.EventCredentialSuspended {
			suspended++
		}
	}
	assert.Equal(t, 1, suspended)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("a", 100, 100, 0))
	pool := NewPool(store, nil, nil, 3)

	require.NoError(t, pool.RecordFailure(ctx, "a", false))
	require.NoError(t, pool.RecordFailure(ctx, "a", false))
	require.NoError(t, pool.RecordSuccess(ctx, "a"))
	require.NoError(t, pool.RecordFailure(ctx, "a", false))

	state, _ := store.Get("a")
	assert.Equal(t, domain.CredentialActive, state.Status)
	assert.Equal(t, 1, state.ConsecutiveFailureCount)
}

func TestExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore(cred("a", 1, 100, 0))
	pool := NewPool(store, nil, nil, 0)

	exhausted, err := pool.Exhausted(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, exhausted)

	_, err = pool.Acquire(ctx, "openai", domain.StrategyRoundRobin)
	require.NoError(t, err)

	exhausted, err = pool.Exhausted(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, exhausted)
}

// captureSink records emitted events for assertions.
type captureSink struct {
	mu   sync.Mutex
	evts []domain.Event
}

func (s *captureSink) Emit(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evts = append(s.evts, ev)
}

func (s *captureSink) events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.evts...)
}
