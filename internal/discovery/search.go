package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/normalize"
	"ContentPipeline/internal/ports"
)

const defaultSearchResults = 50

// SearchDiscoverer queries a search-result API and normalizes its hits.
type SearchDiscoverer struct {
	fetcher    ports.Fetcher
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Discoverer = (*SearchDiscoverer)(nil)

// NewSearchDiscoverer wires the transport and normalizer collaborators.
func NewSearchDiscoverer(fetcher ports.Fetcher, normalizer *normalize.Normalizer, logger *slog.Logger) *SearchDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchDiscoverer{
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Name identifies the family inside the registry.
func (d *SearchDiscoverer) Name() domain.SourceType {
	return domain.SourceSearch
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
}

// Discover issues the configured query and filters the results. Individual
// malformed results are skipped without aborting the run.
func (d *SearchDiscoverer) Discover(ctx context.Context, src config.SourceConfig) ([]domain.DiscoveredItem, error) {
	maxResults := src.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	queryURL, err := buildSearchURL(src.URL, src.Query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search source %s: %w", src.Name, err)
	}

	status, body, err := d.fetcher.Fetch(ctx, queryURL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, fmt.Errorf("fetch search %s: %w", queryURL, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search %s returned status %d", queryURL, status)
	}

	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	now := d.now()
	var items []domain.DiscoveredItem
	for _, result := range response.Results {
		if len(items) >= maxResults {
			break
		}

		publishedAt := parseSearchTime(result.PublishedAt)
		if !freshEnough(publishedAt, src.FreshnessWindow.Std(), now) {
			continue
		}
		if !domainAllowed(src.DomainPolicy, result.URL) {
			continue
		}
		if !keywordPass(result.Title, result.Snippet, src.IncludeKeywords, src.ExcludeKeywords) {
			continue
		}

		raw := normalize.RawItem{
			NativeID:    result.ID,
			Title:       result.Title,
			Excerpt:     result.Snippet,
			URL:         result.URL,
			PublishedAt: publishedAt,
			Metadata: map[string]string{
				"search_source": result.Source,
				"query":         src.Query,
				"source":        src.Name,
			},
			Priority: freshnessPriority(publishedAt, now),
		}

		item, ok := d.normalizer.Normalize(raw, domain.SourceSearch, src.CampaignID)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	d.logger.Debug("search discovery done", "source", src.Name, "query", src.Query, "items", len(items))
	return items, nil
}

func buildSearchURL(base, query string, maxResults int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid search url %s: %w", base, err)
	}

	values := parsed.Query()
	values.Set("q", query)
	values.Set("limit", strconv.Itoa(maxResults))
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

func parseSearchTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
