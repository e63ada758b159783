package discovery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/normalize"
	"ContentPipeline/internal/ports"
)

const defaultScrapePages = 3

// ScrapeDiscoverer extracts items from listing pages using configured CSS
// selectors, following a "next page" link up to the page bound.
type ScrapeDiscoverer struct {
	fetcher    ports.Fetcher
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Discoverer = (*ScrapeDiscoverer)(nil)

// NewScrapeDiscoverer wires the transport and normalizer collaborators.
func NewScrapeDiscoverer(fetcher ports.Fetcher, normalizer *normalize.Normalizer, logger *slog.Logger) *ScrapeDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScrapeDiscoverer{
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Name identifies the family inside the registry.
func (d *ScrapeDiscoverer) Name() domain.SourceType {
	return domain.SourceScrape
}

// Discover walks listing pages. A page that fails to fetch ends the run with
// the items collected so far.
func (d *ScrapeDiscoverer) Discover(ctx context.Context, src config.SourceConfig) ([]domain.DiscoveredItem, error) {
	maxPages := src.MaxPages
	if maxPages <= 0 {
		maxPages = defaultScrapePages
	}

	pageURL := src.URL
	var items []domain.DiscoveredItem

	for page := 0; page < maxPages && pageURL != ""; page++ {
		status, body, err := d.fetcher.Fetch(ctx, pageURL, nil)
		if err != nil {
			return items, fmt.Errorf("fetch page %s: %w", pageURL, err)
		}
		if status != http.StatusOK {
			return items, fmt.Errorf("page %s returned status %d", pageURL, status)
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return items, fmt.Errorf("parse page %s: %w", pageURL, err)
		}

		pageItems := d.extractItems(doc, src, pageURL)
		items = append(items, pageItems...)

		pageURL = nextPageURL(doc, src.NextSelector, pageURL)
	}

	d.logger.Debug("scrape discovery done", "source", src.Name, "items", len(items))
	return items, nil
}

func (d *ScrapeDiscoverer) extractItems(doc *goquery.Document, src config.SourceConfig, pageURL string) []domain.DiscoveredItem {
	itemSelector := src.ItemSelector
	if itemSelector == "" {
		itemSelector = "article"
	}
	titleSelector := src.TitleSelector
	if titleSelector == "" {
		titleSelector = "h2"
	}
	linkSelector := src.LinkSelector
	if linkSelector == "" {
		linkSelector = "a"
	}

	now := d.now()
	var items []domain.DiscoveredItem

	doc.Find(itemSelector).Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(titleSelector).First().Text())

		href, _ := sel.Find(linkSelector).First().Attr("href")
		link := resolveURL(pageURL, href)

		var excerpt string
		if src.ExcerptSelector != "" {
			excerpt = strings.TrimSpace(sel.Find(src.ExcerptSelector).First().Text())
		}

		if !domainAllowed(src.DomainPolicy, link) {
			return
		}
		if !keywordPass(title, excerpt, src.IncludeKeywords, src.ExcludeKeywords) {
			return
		}

		raw := normalize.RawItem{
			Title:   title,
			Excerpt: excerpt,
			URL:     link,
			Metadata: map[string]string{
				"page":   pageURL,
				"source": src.Name,
			},
			Priority: freshnessPriority(time.Time{}, now),
		}

		item, ok := d.normalizer.Normalize(raw, domain.SourceScrape, src.CampaignID)
		if !ok {
			return
		}
		items = append(items, item)
	})

	return items
}

func nextPageURL(doc *goquery.Document, nextSelector, pageURL string) string {
	if nextSelector == "" {
		return ""
	}
	href, ok := doc.Find(nextSelector).First().Attr("href")
	if !ok {
		return ""
	}
	return resolveURL(pageURL, href)
}

// resolveURL makes a possibly-relative href absolute against the page URL.
func resolveURL(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
