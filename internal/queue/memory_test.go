package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentPipeline/internal/domain"
)

func testItem(campaignID, fingerprint string, priority int) domain.DiscoveredItem {
	return domain.DiscoveredItem{
		SourceType:         domain.SourceFeed,
		CampaignID:         campaignID,
		ItemID:             "native-" + fingerprint,
		ContentFingerprint: fingerprint,
		Title:              "Item " + fingerprint,
		CanonicalURL:       "https://example.com/" + fingerprint,
		Priority:           priority,
	}
}

func TestEnqueueDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(Options{})

	outcome, err := q.Enqueue(ctx, testItem("c1", "fp-1", 10))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeInserted, outcome)

	// Same fingerprint while pending refreshes metadata and raises priority.
	dup := testItem("c1", "fp-1", 50)
	dup.RawMetadata = map[string]string{"rank": "2"}
	outcome, err = q.Enqueue(ctx, dup)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDuplicateUpdated, outcome)

	stored, ok := q.Find("c1", "fp-1")
	require.True(t, ok)
	assert.Equal(t, 50, stored.Item.Priority)
	assert.Equal(t, "2", stored.Item.RawMetadata["rank"])

	// A lower-priority duplicate never demotes the record.
	outcome, err = q.Enqueue(ctx, testItem("c1", "fp-1", 5))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDuplicateUpdated, outcome)
	stored, _ = q.Find("c1", "fp-1")
	assert.Equal(t, 50, stored.Item.Priority)

	// The same fingerprint under another campaign is a fresh item.
	outcome, err = q.Enqueue(ctx, testItem("c2", "fp-1", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInserted, outcome)
}

func TestEnqueueIgnoresInFlightAndTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(Options{})

	_, err := q.Enqueue(ctx, testItem("c1", "fp-1", 10))
	require.NoError(t, err)

	leased, err := q.LeaseNext(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	outcome, err := q.Enqueue(ctx, testItem("c1", "fp-1", 99))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicateIgnored, outcome)

	require.NoError(t, q.Complete(ctx, leased[0].ID, "artifact-1"))

	outcome, err = q.Enqueue(ctx, testItem("c1", "fp-1", 99))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicateIgnored, outcome)
}

func TestLeaseOrderAndExclusivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(Options{})

	require := require.New(t)

	for i, tc := range []struct {
		fp       string
		priority int
	}{
		{"low", 10},
		{"high", 90},
		{"mid", 50},
	} {
		_, err := q.Enqueue(ctx, testItem("c1", tc.fp, tc.priority))
		require.NoError(err, "enqueue %d", i)
	}

	leased, err := q.LeaseNext(ctx, "c1", 2)
	require.NoError(err)
	require.Len(leased, 2)

	// Highest priority first.
	require.Equal("high", leased[0].Item.ContentFingerprint)
	require.Equal("mid", leased[1].Item.ContentFingerprint)

	// The remainder is still leasable; the leased two are not.
	rest, err := q.LeaseNext(ctx, "c1", 10)
	require.NoError(err)
	require.Len(rest, 1)
	require.Equal("low", rest[0].Item.ContentFingerprint)
}

func TestLeaseExclusiveUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(Options{})

	const total = 40
	for i := 0; i < total; i++ {
		_, err := q.Enqueue(ctx, testItem("c1", "fp-"+string(rune('a'+i%26))+string(rune('0'+i/26)), i))
		require.NoError(t, err)
	}

	var (
		mu     sync.Mutex
		seen   = map[string]int{}
		wg     sync.WaitGroup
		leased int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := q.LeaseNext(ctx, "c1", 3)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				leased += len(batch)
				for _, item := range batch {
					seen[item.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, total, leased)
	for id, count := range seen {
		require.Equal(t, 1, count, "item %s leased more than once", id)
	}
}

func TestFailRetryLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := 10 * time.Second
	q := NewMemoryQueue(Options{MaxRetries: 2, BackoffBase: base})

	_, err := q.Enqueue(ctx, testItem("c1", "fp-1", 10))
	require.NoError(t, err)

	leased, err := q.LeaseNext(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	id := leased[0].ID

	// First retryable failure: back to pending behind the backoff marker.
	terminal, err := q.Fail(ctx, id, domain.ErrKindTransport, "timeout", true)
	require.NoError(t, err)
	assert.False(t, terminal)
	item, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, domain.ErrKindTransport, item.LastErrorKind)
	assert.False(t, item.NotBefore.IsZero())

	// The backoff marker hides the item from leasing.
	batch, err := q.LeaseNext(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Empty(t, batch)

	// Move the clock past the marker, lease, fail again (second retry).
	q.now = func() time.Time { return time.Now().Add(base + time.Second) }
	batch, err = q.LeaseNext(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	terminal, err = q.Fail(ctx, id, domain.ErrKindTransport, "timeout", true)
	require.NoError(t, err)
	assert.False(t, terminal)
	item, _ = q.Get(id)
	assert.Equal(t, 2, item.RetryCount)
	// Second retry doubles the delay.
	assert.True(t, item.NotBefore.Sub(q.now()) > base)

	// Retry budget exhausted: next retryable failure turns terminal.
	q.now = func() time.Time { return time.Now().Add(10 * base) }
	batch, err = q.LeaseNext(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	terminal, err = q.Fail(ctx, id, domain.ErrKindTransport, "timeout", true)
	require.NoError(t, err)
	assert.True(t, terminal)
	item, _ = q.Get(id)
	assert.Equal(t, domain.StatusFailed, item.Status)
	assert.False(t, item.ProcessedAt.IsZero())

	// Terminal items reject further transitions.
	_, err = q.Fail(ctx, id, domain.ErrKindTransport, "late", true)
	assert.ErrorIs(t, err, domain.ErrTerminalState)
	assert.ErrorIs(t, q.Complete(ctx, id, "ref"), domain.ErrTerminalState)
}

func TestFailPermanentIsTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(Options{MaxRetries: 3})

	_, err := q.Enqueue(ctx, testItem("c1", "fp-1", 10))
	require.NoError(t, err)
	leased, err := q.LeaseNext(ctx, "c1", 1)
	require.NoError(t, err)

	terminal, err := q.Fail(ctx, leased[0].ID, domain.ErrKindProviderRejected, "bad request", false)
	require.NoError(t, err)
	assert.True(t, terminal)
	item, _ := q.Get(leased[0].ID)
	assert.Equal(t, domain.StatusFailed, item.Status)
	assert.Equal(t, 0, item.RetryCount)
}

func TestReclaimStalled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(Options{MaxRetries: 1})

	_, err := q.Enqueue(ctx, testItem("c1", "fp-1", 10))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testItem("c1", "fp-2", 10))
	require.NoError(t, err)

	leased, err := q.LeaseNext(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, leased, 2)

	// Fresh leases are untouched.
	touched, err := q.ReclaimStalled(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, touched)

	// Expire the leases.
	q.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	touched, err = q.ReclaimStalled(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, touched)

	for _, l := range leased {
		item, _ := q.Get(l.ID)
		assert.Equal(t, domain.StatusPending, item.Status)
		assert.Equal(t, 1, item.RetryCount)
		assert.Equal(t, domain.ErrKindLeaseExpired, item.LastErrorKind)
	}

	// A second expiry exceeds MaxRetries=1 and turns terminal.
	batch, err := q.LeaseNext(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	q.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	touched, err = q.ReclaimStalled(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, touched)

	for _, l := range leased {
		item, _ := q.Get(l.ID)
		assert.Equal(t, domain.StatusFailed, item.Status)
		assert.Equal(t, domain.ErrKindLeaseExpiredMax, item.LastErrorKind)
	}
}

func TestCountPendingAndNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(Options{})

	_, err := q.Enqueue(ctx, testItem("c1", "fp-1", 10))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testItem("c2", "fp-2", 10))
	require.NoError(t, err)

	count, err := q.CountPending(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.ErrorIs(t, q.Complete(ctx, "missing", "ref"), domain.ErrItemNotFound)
	_, err = q.Fail(ctx, "missing", domain.ErrKindTransport, "x", true)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}
