package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/ports"
)

type dedupKey struct {
	campaignID  string
	fingerprint string
}

// MemoryQueue is the mutex-guarded in-memory work queue. It implements the
// exact semantics of the Postgres store and backs tests and DSN-less runs.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]*domain.QueueItem
	byKey map[dedupKey]string
	opts  Options
	now   func() time.Time
}

var _ ports.WorkQueue = (*MemoryQueue)(nil)

// NewMemoryQueue builds an empty queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		items: map[string]*domain.QueueItem{},
		byKey: map[dedupKey]string{},
		opts:  opts.withDefaults(),
		now:   time.Now,
	}
}

// Enqueue inserts a discovered item or resolves it against the existing
// record with the same (campaign_id, content_fingerprint).
func (q *MemoryQueue) Enqueue(_ context.Context, item domain.DiscoveredItem) (domain.EnqueueOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := dedupKey{campaignID: item.CampaignID, fingerprint: item.ContentFingerprint}
	if existingID, ok := q.byKey[key]; ok {
		existing := q.items[existingID]
		if existing.Status != domain.StatusPending {
			// Terminal records stay untouched; in-flight records are not
			// disturbed either.
			return domain.OutcomeDuplicateIgnored, nil
		}

		existing.Item.RawMetadata = item.RawMetadata
		if item.Priority > existing.Item.Priority {
			existing.Item.Priority = item.Priority
		}
		return domain.OutcomeDuplicateUpdated, nil
	}

	queued := &domain.QueueItem{
		ID:           uuid.NewString(),
		Item:         item,
		Status:       domain.StatusPending,
		DiscoveredAt: q.now(),
	}
	q.items[queued.ID] = queued
	q.byKey[key] = queued.ID
	return domain.OutcomeInserted, nil
}

// LeaseNext claims up to maxBatch pending items for the campaign, highest
// priority first, oldest first on ties.
func (q *MemoryQueue) LeaseNext(_ context.Context, campaignID string, maxBatch int) ([]domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var eligible []*domain.QueueItem
	for _, item := range q.items {
		if item.Item.CampaignID != campaignID || item.Status != domain.StatusPending {
			continue
		}
		if item.NotBefore.After(now) {
			continue
		}
		eligible = append(eligible, item)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Item.Priority != eligible[j].Item.Priority {
			return eligible[i].Item.Priority > eligible[j].Item.Priority
		}
		return eligible[i].DiscoveredAt.Before(eligible[j].DiscoveredAt)
	})

	if maxBatch > 0 && len(eligible) > maxBatch {
		eligible = eligible[:maxBatch]
	}

	leased := make([]domain.QueueItem, 0, len(eligible))
	for _, item := range eligible {
		item.Status = domain.StatusProcessing
		item.ProcessingStartedAt = now
		leased = append(leased, *item)
	}
	return leased, nil
}

// ReclaimStalled returns lease-expired processing items to pending, or fails
// them terminally past the retry bound. Returns the number touched.
func (q *MemoryQueue) ReclaimStalled(_ context.Context, leaseTTL time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	count := 0
	for _, item := range q.items {
		if item.Status != domain.StatusProcessing {
			continue
		}
		if now.Sub(item.ProcessingStartedAt) <= leaseTTL {
			continue
		}

		count++
		if item.RetryCount >= q.opts.MaxRetries {
			item.Status = domain.StatusFailed
			item.LastErrorKind = domain.ErrKindLeaseExpiredMax
			item.ProcessedAt = now
			continue
		}

		item.RetryCount++
		item.Status = domain.StatusPending
		item.LastErrorKind = domain.ErrKindLeaseExpired
		item.ProcessingStartedAt = time.Time{}
	}
	return count, nil
}

// Complete marks the item completed with the produced artifact reference.
func (q *MemoryQueue) Complete(_ context.Context, itemID, resultReference string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[itemID]
	if !ok {
		return domain.ErrItemNotFound
	}
	if item.Status.Terminal() {
		return domain.ErrTerminalState
	}

	item.Status = domain.StatusCompleted
	item.ResultReference = resultReference
	item.ProcessedAt = q.now()
	return nil
}

// Fail records the failure. Retryable failures below the retry bound return
// the item to pending behind an exponential backoff marker; everything else
// is terminal, and the returned flag says which way it went.
func (q *MemoryQueue) Fail(_ context.Context, itemID string, kind domain.ErrorKind, message string, retryable bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[itemID]
	if !ok {
		return false, domain.ErrItemNotFound
	}
	if item.Status.Terminal() {
		return false, domain.ErrTerminalState
	}

	item.LastErrorKind = kind
	item.LastErrorMessage = message

	if retryable && item.RetryCount < q.opts.MaxRetries {
		item.RetryCount++
		item.Status = domain.StatusPending
		item.NotBefore = q.now().Add(backoffDelay(q.opts.BackoffBase, item.RetryCount))
		item.ProcessingStartedAt = time.Time{}
		return false, nil
	}

	item.Status = domain.StatusFailed
	item.ProcessedAt = q.now()
	return true, nil
}

// CountPending reports the campaign's backlog.
func (q *MemoryQueue) CountPending(_ context.Context, campaignID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, item := range q.items {
		if item.Item.CampaignID == campaignID && item.Status == domain.StatusPending {
			count++
		}
	}
	return count, nil
}

// Get returns a snapshot of one item; it exists for tests and diagnostics.
func (q *MemoryQueue) Get(itemID string) (domain.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[itemID]
	if !ok {
		return domain.QueueItem{}, false
	}
	return *item, true
}

// Find returns a snapshot by dedup key; it exists for tests.
func (q *MemoryQueue) Find(campaignID, fingerprint string) (domain.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.byKey[dedupKey{campaignID: campaignID, fingerprint: fingerprint}]
	if !ok {
		return domain.QueueItem{}, false
	}
	return *q.items[id], true
}
