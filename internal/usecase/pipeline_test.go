package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/discovery"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/queue"
)

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

// scriptedDiscoverer returns canned items per source name.
type scriptedDiscoverer struct {
	family  domain.SourceType
	items   map[string][]domain.DiscoveredItem
	failing map[string]error
}

func (d *scriptedDiscoverer) Name() domain.SourceType { return d.family }

func (d *scriptedDiscoverer) Discover(_ context.Context, src config.SourceConfig) ([]domain.DiscoveredItem, error) {
	return d.items[src.Name], d.failing[src.Name]
}

func feedItem(campaignID, fingerprint string, priority int) domain.DiscoveredItem {
	return domain.DiscoveredItem{
		SourceType:         domain.SourceFeed,
		CampaignID:         campaignID,
		ContentFingerprint: fingerprint,
		Title:              "Item " + fingerprint,
		CanonicalURL:       "https://example.com/" + fingerprint,
		Priority:           priority,
	}
}

func TestRunDiscoveryStats(t *testing.T) {
	t.Parallel()

	registry := discovery.NewRegistry()
	registry.Register(&scriptedDiscoverer{
		family: domain.SourceFeed,
		items: map[string][]domain.DiscoveredItem{
			"feed-a": {
				feedItem("c1", "fp-1", 10),
				feedItem("c1", "fp-2", 10),
			},
			"feed-b": {
				// Same fingerprint as feed-a but higher priority.
				feedItem("c1", "fp-1", 90),
			},
		},
	})

	q := queue.NewMemoryQueue(queue.Options{})
	sink := &captureSink{}

	pipeline := NewPipeline(PipelineDeps{
		Registry: registry,
		Queue:    q,
		Events:   sink,
		Campaigns: []config.CampaignConfig{{
			ID: "c1",
			Sources: []config.SourceConfig{
				{Type: "feed", Name: "feed-a", CampaignID: "c1"},
				{Type: "feed", Name: "feed-b", CampaignID: "c1"},
			},
		}},
	})

	stats, err := pipeline.RunDiscovery(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Discovered)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.Failed)

	// The duplicate raised the stored priority.
	stored, ok := q.Find("c1", "fp-1")
	require.True(t, ok)
	assert.Equal(t, 90, stored.Item.Priority)

	// One created event per inserted item plus the run-finished event.
	var created, finished int
	for _, ev := range sink.events() {
		switch ev.Type {
		case domain.EventItemCreated:
			created++
		case domain.EventDiscoveryRunFinished:
			finished++
		}
	}
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, finished)
}

func TestRunDiscoveryAbsorbsSourceFailures(t *testing.T) {
	t.Parallel()

	registry := discovery.NewRegistry()
	registry.Register(&scriptedDiscoverer{
		family: domain.SourceFeed,
		items: map[string][]domain.DiscoveredItem{
			// The failing source still yielded one partial item.
			"broken": {feedItem("c1", "fp-partial", 10)},
			"ok":     {feedItem("c1", "fp-ok", 10)},
		},
		failing: map[string]error{
			"broken": errors.New("connection reset"),
		},
	})

	q := queue.NewMemoryQueue(queue.Options{})
	pipeline := NewPipeline(PipelineDeps{
		Registry: registry,
		Queue:    q,
		Campaigns: []config.CampaignConfig{{
			ID: "c1",
			Sources: []config.SourceConfig{
				{Type: "feed", Name: "broken", CampaignID: "c1"},
				{Type: "feed", Name: "ok", CampaignID: "c1"},
				{Type: "video", Name: "unregistered", CampaignID: "c1"},
			},
		}},
	})

	stats, err := pipeline.RunDiscovery(context.Background())
	require.NoError(t, err)

	// The broken source and the unregistered family both count as failures,
	// but their survivors and siblings are still queued.
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 2, stats.Queued)

	count, err := q.CountPending(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
