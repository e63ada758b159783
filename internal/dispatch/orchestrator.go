// Package dispatch drives queued work through the transformation stage,
// pulling credentials from the rotation pool and walking provider fallback
// chains on failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/credentials"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/events"
	"ContentPipeline/internal/ports"
)

// Stats aggregates one dispatch cycle's outcomes.
type Stats struct {
	Completed int
	Failed    int
	Retried   int
}

type itemOutcome int

const (
	outcomeCompleted itemOutcome = iota
	outcomeFailed
	outcomeRetried
)

// downstreamError marks a failure that happened after the transformation
// succeeded. The item retries, but the credential stays healthy and the
// fallback chain is not walked.
type downstreamError struct {
	kind domain.ErrorKind
	err  error
}

func (e *downstreamError) Error() string { return e.err.Error() }

func (e *downstreamError) Unwrap() error { return e.err }

// Orchestrator runs dispatch cycles. Concurrency is bounded twice: a global
// transform-call semaphore and a per-campaign limit, so one campaign's
// backlog cannot starve the others.
type Orchestrator struct {
	queue       ports.WorkQueue
	pool        *credentials.Pool
	transformer ports.Transformer
	publisher   ports.Publisher
	events      ports.EventSink
	logger      *slog.Logger
	cfg         config.DispatchConfig
	campaigns   []config.CampaignConfig
	providers   map[string]config.ProviderConfig

	callSem     *semaphore.Weighted
	campaignSem *semaphore.Weighted
	now         func() time.Time
}

// Deps wires all collaborators into the orchestrator.
type Deps struct {
	Queue       ports.WorkQueue
	Pool        *credentials.Pool
	Transformer ports.Transformer
	Publisher   ports.Publisher
	Events      ports.EventSink
	Logger      *slog.Logger
	Dispatch    config.DispatchConfig
	Campaigns   []config.CampaignConfig
	Providers   []config.ProviderConfig
}

// NewOrchestrator constructs the dispatch component.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := deps.Events
	if sink == nil {
		sink = events.NopSink{}
	}

	maxCalls := deps.Dispatch.MaxConcurrentCalls
	if maxCalls <= 0 {
		maxCalls = 1
	}
	maxCampaigns := deps.Dispatch.MaxConcurrentCampaigns
	if maxCampaigns <= 0 {
		maxCampaigns = 1
	}

	providers := make(map[string]config.ProviderConfig, len(deps.Providers))
	for _, provider := range deps.Providers {
		providers[provider.Name] = provider
	}

	return &Orchestrator{
		queue:       deps.Queue,
		pool:        deps.Pool,
		transformer: deps.Transformer,
		publisher:   deps.Publisher,
		events:      sink,
		logger:      logger,
		cfg:         deps.Dispatch,
		campaigns:   deps.Campaigns,
		providers:   providers,
		callSem:     semaphore.NewWeighted(int64(maxCalls)),
		campaignSem: semaphore.NewWeighted(int64(maxCampaigns)),
		now:         time.Now,
	}
}

// RunDispatch executes one cycle: reclaim stalled leases, then lease and
// process a bounded batch per campaign. Per-item failures never abort the
// cycle; only storage-level errors do.
func (o *Orchestrator) RunDispatch(ctx context.Context, maxBatchPerCampaign int) (Stats, error) {
	if maxBatchPerCampaign <= 0 {
		maxBatchPerCampaign = o.cfg.MaxBatchPerCampaign
	}

	reclaimed, err := o.queue.ReclaimStalled(ctx, o.cfg.LeaseTTL.Std())
	if err != nil {
		return Stats{}, fmt.Errorf("reclaim stalled leases: %w", err)
	}
	if reclaimed > 0 {
		o.logger.Info("reclaimed stalled leases", "count", reclaimed)
	}

	var (
		mu    sync.Mutex
		stats Stats
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, campaign := range o.campaigns {
		if err := o.campaignSem.Acquire(groupCtx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer o.campaignSem.Release(1)

			campaignStats, err := o.processCampaign(groupCtx, campaign, maxBatchPerCampaign)
			mu.Lock()
			stats.Completed += campaignStats.Completed
			stats.Failed += campaignStats.Failed
			stats.Retried += campaignStats.Retried
			mu.Unlock()
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (o *Orchestrator) processCampaign(ctx context.Context, campaign config.CampaignConfig, maxBatch int) (Stats, error) {
	items, err := o.queue.LeaseNext(ctx, campaign.ID, maxBatch)
	if err != nil {
		return Stats{}, fmt.Errorf("lease batch for campaign %s: %w", campaign.ID, err)
	}
	if len(items) == 0 {
		return Stats{}, nil
	}

	for _, item := range items {
		o.emit(domain.Event{
			Type:       domain.EventItemLeased,
			CampaignID: campaign.ID,
			ItemID:     item.ID,
			At:         o.now(),
		})
	}

	maxConcurrent := campaign.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	var (
		mu    sync.Mutex
		stats Stats
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrent)
	for _, item := range items {
		group.Go(func() error {
			outcome, err := o.processItem(groupCtx, campaign, item)
			if err != nil {
				return err
			}
			mu.Lock()
			switch outcome {
			case outcomeCompleted:
				stats.Completed++
			case outcomeFailed:
				stats.Failed++
			case outcomeRetried:
				stats.Retried++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// processItem walks the campaign's provider chain for one leased item.
// Credential exhaustion on one provider moves to the next; a transient call
// failure also moves to the next; a permanent one fails the item terminally.
func (o *Orchestrator) processItem(ctx context.Context, campaign config.CampaignConfig, item domain.QueueItem) (itemOutcome, error) {
	strategy := domain.RotationStrategy(campaign.Strategy).Normalize()

	var (
		lastKind    = domain.ErrKindNoCredential
		lastMessage = "all providers exhausted"
		acquiredAny bool
	)

	for _, provider := range campaign.Providers {
		cred, err := o.pool.Acquire(ctx, provider, strategy)
		if errors.Is(err, domain.ErrNoCredentialAvailable) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("acquire credential for provider %s: %w", provider, err)
		}
		acquiredAny = true

		callErr := o.callProvider(ctx, campaign, item, provider, cred)
		if callErr == nil {
			return outcomeCompleted, nil
		}

		// A failure past the transformation (publish, queue transition) is
		// not the provider's fault: the credential already recorded a
		// success, and re-running the transform on the next provider would
		// only spend more quota on work that is already done.
		var downstream *downstreamError
		if errors.As(callErr, &downstream) {
			return o.retireItem(ctx, campaign.ID, item, downstream.kind, downstream.Error(), true)
		}

		kind, transient, rateLimit := classify(callErr)
		if recordErr := o.pool.RecordFailure(ctx, cred.CredentialID, rateLimit); recordErr != nil {
			o.logger.Error("record credential failure", "credential_id", cred.CredentialID, "error", recordErr)
		}

		if !transient {
			return o.retireItem(ctx, campaign.ID, item, kind, callErr.Error(), false)
		}

		lastKind = kind
		lastMessage = callErr.Error()
		o.logger.Warn("transient provider failure, walking fallback chain",
			"campaign_id", campaign.ID, "item_id", item.ID,
			"provider", provider, "kind", string(kind))
	}

	if !acquiredAny {
		lastKind = domain.ErrKindNoCredential
		lastMessage = "no credential available on any provider in the chain"
	}

	return o.retireItem(ctx, campaign.ID, item, lastKind, lastMessage, true)
}

// callProvider performs the bounded transformation call and, on success, the
// publish + complete transitions.
func (o *Orchestrator) callProvider(ctx context.Context, campaign config.CampaignConfig, item domain.QueueItem, provider string, cred domain.Credential) error {
	if err := o.callSem.Acquire(ctx, 1); err != nil {
		return &domain.ProviderCallError{Kind: domain.ErrKindTransport, Message: err.Error()}
	}
	defer o.callSem.Release(1)

	params := mergeParams(o.providers[provider].Parameters, campaign.TransformParams)

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout.Std())
	result, err := o.transformer.Transform(callCtx, item, provider, cred, params)
	cancel()
	if err != nil {
		return err
	}

	if err := o.pool.RecordSuccess(ctx, cred.CredentialID); err != nil {
		o.logger.Error("record credential success", "credential_id", cred.CredentialID, "error", err)
	}

	reference := result.Reference
	if o.publisher != nil {
		published, err := o.publisher.Publish(ctx, result, campaign.ID)
		if err != nil {
			return &downstreamError{kind: domain.ErrKindTransport, err: fmt.Errorf("publish: %w", err)}
		}
		reference = published
	}

	if err := o.queue.Complete(ctx, item.ID, reference); err != nil {
		return &downstreamError{kind: domain.ErrKindTransport, err: fmt.Errorf("complete item: %w", err)}
	}

	o.emit(domain.Event{
		Type:       domain.EventItemCompleted,
		CampaignID: campaign.ID,
		ItemID:     item.ID,
		Provider:   provider,
		Credential: cred.CredentialID,
		At:         o.now(),
	})
	return nil
}

// retireItem fails the item and translates the queue's verdict into the
// outcome; the queue alone decides whether the retry budget is spent.
func (o *Orchestrator) retireItem(ctx context.Context, campaignID string, item domain.QueueItem, kind domain.ErrorKind, message string, retryable bool) (itemOutcome, error) {
	terminal, err := o.queue.Fail(ctx, item.ID, kind, message, retryable)
	if err != nil {
		return 0, fmt.Errorf("fail item %s: %w", item.ID, err)
	}

	eventType := domain.EventItemRetried
	outcome := outcomeRetried
	if terminal {
		eventType = domain.EventItemFailed
		outcome = outcomeFailed
	}
	o.emit(domain.Event{
		Type:       eventType,
		CampaignID: campaignID,
		ItemID:     item.ID,
		ErrorKind:  kind,
		At:         o.now(),
	})
	return outcome, nil
}

// classify maps a transformation error onto the failure taxonomy.
func classify(err error) (kind domain.ErrorKind, transient bool, rateLimit bool) {
	var callErr *domain.ProviderCallError
	if errors.As(err, &callErr) {
		return callErr.Kind, !callErr.Permanent, callErr.RateLimit
	}
	// Unclassified errors (timeouts, connection resets) count as transient
	// transport failures.
	return domain.ErrKindTransport, true, false
}

func mergeParams(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range override {
		merged[key] = value
	}
	return merged
}

func (o *Orchestrator) emit(event domain.Event) {
	o.events.Emit(event)
}
