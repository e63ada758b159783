package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/normalize"
	"ContentPipeline/internal/ports"
)

// FeedDiscoverer handles RSS/Atom/JSON feeds.
type FeedDiscoverer struct {
	fetcher    ports.Fetcher
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Discoverer = (*FeedDiscoverer)(nil)

// NewFeedDiscoverer wires the transport and normalizer collaborators.
func NewFeedDiscoverer(fetcher ports.Fetcher, normalizer *normalize.Normalizer, logger *slog.Logger) *FeedDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedDiscoverer{
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Name identifies the family inside the registry.
func (d *FeedDiscoverer) Name() domain.SourceType {
	return domain.SourceFeed
}

// Discover fetches and parses the feed, applying freshness, domain policy,
// and keyword filters before normalization.
func (d *FeedDiscoverer) Discover(ctx context.Context, src config.SourceConfig) ([]domain.DiscoveredItem, error) {
	status, body, err := d.fetcher.Fetch(ctx, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", src.URL, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", src.URL, status)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.URL, err)
	}

	now := d.now()
	var items []domain.DiscoveredItem
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}

		var publishedAt time.Time
		if entry.PublishedParsed != nil {
			publishedAt = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			publishedAt = *entry.UpdatedParsed
		}

		if !freshEnough(publishedAt, src.FreshnessWindow.Std(), now) {
			continue
		}
		if !domainAllowed(src.DomainPolicy, entry.Link) {
			continue
		}
		if !keywordPass(entry.Title, entry.Description, src.IncludeKeywords, src.ExcludeKeywords) {
			continue
		}

		raw := normalize.RawItem{
			NativeID:    entry.GUID,
			Title:       entry.Title,
			Excerpt:     entry.Description,
			Body:        entry.Content,
			URL:         entry.Link,
			PublishedAt: publishedAt,
			Categories:  entry.Categories,
			Metadata: map[string]string{
				"feed_title": feed.Title,
				"source":     src.Name,
			},
			Priority: freshnessPriority(publishedAt, now),
		}
		if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			raw.Author = entry.Authors[0].Name
		}
		for _, enc := range entry.Enclosures {
			if enc != nil && enc.URL != "" {
				raw.MediaURLs = append(raw.MediaURLs, enc.URL)
			}
		}

		item, ok := d.normalizer.Normalize(raw, domain.SourceFeed, src.CampaignID)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	d.logger.Debug("feed discovery done", "source", src.Name, "url", src.URL, "items", len(items))
	return items, nil
}
