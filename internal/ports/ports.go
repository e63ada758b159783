package ports

import (
	"context"
	"time"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/domain"
)

// Discoverer fetches raw items for one source family and returns them
// normalized. Partial results are returned alongside a non-nil error when a
// run fails midway.
type Discoverer interface {
	Name() domain.SourceType
	Discover(ctx context.Context, src config.SourceConfig) ([]domain.DiscoveredItem, error)
}

// WorkQueue is the durable, prioritized, deduplicated store of discovered
// items. Dedup is on (campaign_id, content_fingerprint); leasing must be
// atomic with respect to concurrent callers.
type WorkQueue interface {
	Enqueue(ctx context.Context, item domain.DiscoveredItem) (domain.EnqueueOutcome, error)
	LeaseNext(ctx context.Context, campaignID string, maxBatch int) ([]domain.QueueItem, error)
	ReclaimStalled(ctx context.Context, leaseTTL time.Duration) (int, error)
	Complete(ctx context.Context, itemID, resultReference string) error
	// Fail reports whether the item ended terminal so callers do not have
	// to second-guess the queue's retry bound.
	Fail(ctx context.Context, itemID string, kind domain.ErrorKind, message string, retryable bool) (terminal bool, err error)
	CountPending(ctx context.Context, campaignID string) (int, error)
}

// CredentialStore persists credentials and applies atomic conditional
// updates so quota counters stay within limits under concurrent acquirers.
type CredentialStore interface {
	ListByProvider(ctx context.Context, provider string) ([]domain.Credential, error)
	// TryAcquire reserves one call on the credential: windows are lazily
	// reset, then both counters are incremented only if the availability
	// predicate holds. Returns false when the credential cannot serve.
	TryAcquire(ctx context.Context, credentialID string, now time.Time) (bool, error)
	RecordSuccess(ctx context.Context, credentialID string, now time.Time) error
	// RecordFailure returns the credential's status after the update so the
	// caller can surface rate-limit and suspension transitions.
	RecordFailure(ctx context.Context, credentialID string, isRateLimit bool, suspendThreshold int, now time.Time) (domain.CredentialStatus, error)
	Reactivate(ctx context.Context, credentialID string) error
}

// Fetcher is the outbound transport collaborator.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (status int, body []byte, err error)
}

// TransformResult is the provider's answer for one queue item.
type TransformResult struct {
	Content   string
	Model     string
	Reference string
}

// Transformer invokes the external AI transformation provider.
type Transformer interface {
	Transform(ctx context.Context, item domain.QueueItem, provider string, credential domain.Credential, params map[string]string) (TransformResult, error)
}

// Publisher hands a transformation result to the publishing collaborator and
// returns an artifact reference.
type Publisher interface {
	Publish(ctx context.Context, result TransformResult, campaignID string) (string, error)
}

// EventSink receives structured state-transition events.
type EventSink interface {
	Emit(event domain.Event)
}

// Scheduler drives the periodic discovery/dispatch triggers.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
