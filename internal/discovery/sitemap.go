package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/normalize"
	"ContentPipeline/internal/ports"
)

const defaultSitemapDepth = 3

// SitemapDiscoverer walks sitemap urlsets and sitemap indexes. Index
// recursion is bounded; exceeding the bound is a warning, not a failure.
type SitemapDiscoverer struct {
	fetcher    ports.Fetcher
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Discoverer = (*SitemapDiscoverer)(nil)

// NewSitemapDiscoverer wires the transport and normalizer collaborators.
func NewSitemapDiscoverer(fetcher ports.Fetcher, normalizer *normalize.Normalizer, logger *slog.Logger) *SitemapDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapDiscoverer{
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Name identifies the family inside the registry.
func (d *SitemapDiscoverer) Name() domain.SourceType {
	return domain.SourceSitemap
}

type sitemapURLSet struct {
	XMLName xml.Name          `xml:"urlset"`
	URLs    []sitemapURLEntry `xml:"url"`
}

type sitemapURLEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type sitemapIndex struct {
	XMLName  xml.Name          `xml:"sitemapindex"`
	Sitemaps []sitemapURLEntry `xml:"sitemap"`
}

// Discover traverses the sitemap starting at src.URL. Partial results are
// returned when a nested fetch fails midway.
func (d *SitemapDiscoverer) Discover(ctx context.Context, src config.SourceConfig) ([]domain.DiscoveredItem, error) {
	maxDepth := src.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultSitemapDepth
	}

	var items []domain.DiscoveredItem
	err := d.walk(ctx, src, src.URL, 0, maxDepth, &items)
	return items, err
}

func (d *SitemapDiscoverer) walk(ctx context.Context, src config.SourceConfig, sitemapURL string, depth, maxDepth int, items *[]domain.DiscoveredItem) error {
	if depth >= maxDepth {
		d.logger.Warn("sitemap depth bound exceeded",
			"source", src.Name, "url", sitemapURL, "max_depth", maxDepth)
		return nil
	}

	status, body, err := d.fetcher.Fetch(ctx, sitemapURL, nil)
	if err != nil {
		return fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("sitemap %s returned status %d", sitemapURL, status)
	}

	// A sitemap document is either an index of further sitemaps or a urlset.
	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		for _, child := range index.Sitemaps {
			if child.Loc == "" {
				continue
			}
			if err := d.walk(ctx, src, child.Loc, depth+1, maxDepth, items); err != nil {
				// Best effort: keep what we have, surface the first failure.
				return err
			}
		}
		return nil
	}

	var urlset sitemapURLSet
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false
	if err := decoder.Decode(&urlset); err != nil {
		return fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}

	now := d.now()
	for _, entry := range urlset.URLs {
		if entry.Loc == "" {
			continue
		}

		lastMod := parseSitemapTime(entry.LastMod)
		if !freshEnough(lastMod, src.FreshnessWindow.Std(), now) {
			continue
		}
		if !domainAllowed(src.DomainPolicy, entry.Loc) {
			continue
		}

		raw := normalize.RawItem{
			URL:         entry.Loc,
			PublishedAt: lastMod,
			Metadata: map[string]string{
				"sitemap": sitemapURL,
				"source":  src.Name,
			},
			Priority: freshnessPriority(lastMod, now),
		}

		item, ok := d.normalizer.Normalize(raw, domain.SourceSitemap, src.CampaignID)
		if !ok {
			continue
		}
		*items = append(*items, item)
	}

	return nil
}

func parseSitemapTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z07:00", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
