// Package usecase orchestrates the discovery and dispatch workflows over the
// driven adapters.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/discovery"
	"ContentPipeline/internal/dispatch"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/events"
	"ContentPipeline/internal/ports"
)

// DiscoveryStats aggregates one discovery cycle's outcomes.
type DiscoveryStats struct {
	Discovered int
	Queued     int
	Updated    int
	Duplicates int
	Failed     int
}

func (s *DiscoveryStats) add(other DiscoveryStats) {
	s.Discovered += other.Discovered
	s.Queued += other.Queued
	s.Updated += other.Updated
	s.Duplicates += other.Duplicates
	s.Failed += other.Failed
}

// PipelineDeps wires all collaborators into the pipeline.
type PipelineDeps struct {
	Registry     *discovery.Registry
	Queue        ports.WorkQueue
	Orchestrator *dispatch.Orchestrator
	Events       ports.EventSink
	Logger       *slog.Logger
	Campaigns    []config.CampaignConfig
}

// Pipeline implements the two top-level operations: discover sources into the
// queue and dispatch queued work through transformation.
type Pipeline struct {
	registry     *discovery.Registry
	queue        ports.WorkQueue
	orchestrator *dispatch.Orchestrator
	events       ports.EventSink
	logger       *slog.Logger
	campaigns    []config.CampaignConfig
	now          func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := deps.Events
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Pipeline{
		registry:     deps.Registry,
		queue:        deps.Queue,
		orchestrator: deps.Orchestrator,
		events:       sink,
		logger:       logger,
		campaigns:    deps.Campaigns,
		now:          time.Now,
	}
}

// RunDiscovery runs every configured source of every campaign and enqueues
// the surviving items. A failing source never aborts the cycle; its error is
// logged and counted, and any partial results it produced are still queued.
func (p *Pipeline) RunDiscovery(ctx context.Context) (DiscoveryStats, error) {
	var stats DiscoveryStats

	for _, campaign := range p.campaigns {
		campaignStats, err := p.DiscoverCampaign(ctx, campaign)
		stats.add(campaignStats)
		if err != nil {
			return stats, err
		}
	}

	p.emit(domain.Event{
		Type: domain.EventDiscoveryRunFinished,
		At:   p.now(),
		Fields: map[string]any{
			"discovered": stats.Discovered,
			"queued":     stats.Queued,
			"updated":    stats.Updated,
			"duplicates": stats.Duplicates,
			"failed":     stats.Failed,
		},
	})
	return stats, nil
}

// DiscoverCampaign runs one campaign's sources. The returned error is
// non-nil only for queue storage failures; source-level failures are
// absorbed into the stats.
func (p *Pipeline) DiscoverCampaign(ctx context.Context, campaign config.CampaignConfig) (DiscoveryStats, error) {
	var stats DiscoveryStats

	for _, src := range campaign.Sources {
		discoverer, err := p.registry.Resolve(domain.SourceType(src.Type))
		if err != nil {
			p.logger.Error("source skipped", "campaign", campaign.ID, "source", src.Name, "error", err)
			stats.Failed++
			continue
		}

		items, err := discoverer.Discover(ctx, src)
		if err != nil {
			p.logger.Error("source discovery failed",
				"campaign", campaign.ID,
				"source", src.Name,
				"type", src.Type,
				"partial_items", len(items),
				"error", err)
			stats.Failed++
		}

		stats.Discovered += len(items)
		if err := p.enqueueAll(ctx, campaign.ID, items, &stats); err != nil {
			return stats, err
		}
	}

	backlog, err := p.queue.CountPending(ctx, campaign.ID)
	if err != nil {
		return stats, fmt.Errorf("count backlog for campaign %s: %w", campaign.ID, err)
	}
	p.logger.Info("campaign discovery finished",
		"campaign", campaign.ID,
		"discovered", stats.Discovered,
		"queued", stats.Queued,
		"backlog", backlog)

	return stats, nil
}

func (p *Pipeline) enqueueAll(ctx context.Context, campaignID string, items []domain.DiscoveredItem, stats *DiscoveryStats) error {
	for _, item := range items {
		outcome, err := p.queue.Enqueue(ctx, item)
		if err != nil {
			return fmt.Errorf("enqueue item %s for campaign %s: %w", item.ItemID, campaignID, err)
		}

		switch outcome {
		case domain.OutcomeInserted:
			stats.Queued++
			p.emit(domain.Event{
				Type:       domain.EventItemCreated,
				CampaignID: campaignID,
				ItemID:     item.ItemID,
				At:         p.now(),
			})
		case domain.OutcomeDuplicateUpdated:
			stats.Updated++
		case domain.OutcomeDuplicateIgnored:
			stats.Duplicates++
		}
	}
	return nil
}

// RunDispatch executes one dispatch cycle and reports the aggregate event.
func (p *Pipeline) RunDispatch(ctx context.Context) (dispatch.Stats, error) {
	stats, err := p.orchestrator.RunDispatch(ctx, 0)
	if err != nil {
		return stats, err
	}

	p.emit(domain.Event{
		Type: domain.EventDispatchRunFinished,
		At:   p.now(),
		Fields: map[string]any{
			"completed": stats.Completed,
			"failed":    stats.Failed,
			"retried":   stats.Retried,
		},
	})
	return stats, nil
}

func (p *Pipeline) emit(ev domain.Event) {
	p.events.Emit(ev)
}
