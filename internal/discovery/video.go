package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/normalize"
	"ContentPipeline/internal/ports"
)

// VideoDiscoverer lists videos from a platform API and filters on duration
// and caption availability.
type VideoDiscoverer struct {
	fetcher    ports.Fetcher
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Discoverer = (*VideoDiscoverer)(nil)

// NewVideoDiscoverer wires the transport and normalizer collaborators.
func NewVideoDiscoverer(fetcher ports.Fetcher, normalizer *normalize.Normalizer, logger *slog.Logger) *VideoDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoDiscoverer{
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Name identifies the family inside the registry.
func (d *VideoDiscoverer) Name() domain.SourceType {
	return domain.SourceVideo
}

type videoResponse struct {
	Items []videoItem `json:"items"`
}

type videoItem struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	URL             string   `json:"url"`
	Channel         string   `json:"channel"`
	PublishedAt     string   `json:"published_at"`
	DurationSeconds int      `json:"duration_seconds"`
	HasCaptions     bool     `json:"has_captions"`
	Thumbnails      []string `json:"thumbnails"`
}

// Discover fetches the platform listing and applies duration/caption filters.
func (d *VideoDiscoverer) Discover(ctx context.Context, src config.SourceConfig) ([]domain.DiscoveredItem, error) {
	status, body, err := d.fetcher.Fetch(ctx, src.URL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, fmt.Errorf("fetch video listing %s: %w", src.URL, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("video listing %s returned status %d", src.URL, status)
	}

	var response videoResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parse video listing: %w", err)
	}

	now := d.now()
	var items []domain.DiscoveredItem
	for _, video := range response.Items {
		duration := time.Duration(video.DurationSeconds) * time.Second
		if src.MinDuration > 0 && duration < src.MinDuration.Std() {
			continue
		}
		if src.MaxDuration > 0 && duration > src.MaxDuration.Std() {
			continue
		}
		if src.RequireCaptions && !video.HasCaptions {
			continue
		}

		publishedAt := parseSearchTime(video.PublishedAt)
		if !freshEnough(publishedAt, src.FreshnessWindow.Std(), now) {
			continue
		}
		if !keywordPass(video.Title, video.Description, src.IncludeKeywords, src.ExcludeKeywords) {
			continue
		}

		raw := normalize.RawItem{
			NativeID:    video.ID,
			Title:       video.Title,
			Excerpt:     video.Description,
			URL:         video.URL,
			PublishedAt: publishedAt,
			Author:      video.Channel,
			MediaURLs:   video.Thumbnails,
			Metadata: map[string]string{
				"duration_seconds": fmt.Sprintf("%d", video.DurationSeconds),
				"has_captions":     fmt.Sprintf("%t", video.HasCaptions),
				"source":           src.Name,
			},
			Priority: freshnessPriority(publishedAt, now),
		}

		item, ok := d.normalizer.Normalize(raw, domain.SourceVideo, src.CampaignID)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	d.logger.Debug("video discovery done", "source", src.Name, "items", len(items))
	return items, nil
}
