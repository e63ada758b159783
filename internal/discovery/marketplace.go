package discovery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/normalize"
	"ContentPipeline/internal/ports"
)

const defaultMarketplacePages = 3

// MarketplaceDiscoverer extracts product listings, dropping entries below the
// configured rating/review thresholds and prioritizing by bestseller rank.
type MarketplaceDiscoverer struct {
	fetcher    ports.Fetcher
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Discoverer = (*MarketplaceDiscoverer)(nil)

// NewMarketplaceDiscoverer wires the transport and normalizer collaborators.
func NewMarketplaceDiscoverer(fetcher ports.Fetcher, normalizer *normalize.Normalizer, logger *slog.Logger) *MarketplaceDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketplaceDiscoverer{
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Name identifies the family inside the registry.
func (d *MarketplaceDiscoverer) Name() domain.SourceType {
	return domain.SourceMarketplace
}

// Discover walks category listing pages. Rank is the item's position across
// all pages of the listing, starting at 1.
func (d *MarketplaceDiscoverer) Discover(ctx context.Context, src config.SourceConfig) ([]domain.DiscoveredItem, error) {
	maxPages := src.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMarketplacePages
	}

	pageURL := src.URL
	rank := 0
	var items []domain.DiscoveredItem

	for page := 0; page < maxPages && pageURL != ""; page++ {
		status, body, err := d.fetcher.Fetch(ctx, pageURL, nil)
		if err != nil {
			return items, fmt.Errorf("fetch listing %s: %w", pageURL, err)
		}
		if status != http.StatusOK {
			return items, fmt.Errorf("listing %s returned status %d", pageURL, status)
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return items, fmt.Errorf("parse listing %s: %w", pageURL, err)
		}

		pageItems := d.extractListings(doc, src, pageURL, &rank)
		items = append(items, pageItems...)

		pageURL = nextPageURL(doc, src.NextSelector, pageURL)
	}

	d.logger.Debug("marketplace discovery done", "source", src.Name, "items", len(items))
	return items, nil
}

func (d *MarketplaceDiscoverer) extractListings(doc *goquery.Document, src config.SourceConfig, pageURL string, rank *int) []domain.DiscoveredItem {
	itemSelector := src.ItemSelector
	if itemSelector == "" {
		itemSelector = ".product"
	}
	titleSelector := src.TitleSelector
	if titleSelector == "" {
		titleSelector = ".product-title"
	}
	linkSelector := src.LinkSelector
	if linkSelector == "" {
		linkSelector = "a"
	}

	now := d.now()
	var items []domain.DiscoveredItem

	doc.Find(itemSelector).Each(func(_ int, sel *goquery.Selection) {
		*rank++

		title := strings.TrimSpace(sel.Find(titleSelector).First().Text())
		href, _ := sel.Find(linkSelector).First().Attr("href")
		link := resolveURL(pageURL, href)
		productID, _ := sel.Attr("data-product-id")

		rating := parseFloatAttr(sel, "data-rating")
		reviews := parseIntAttr(sel, "data-reviews")

		// Below the rating threshold the listing is dropped entirely.
		if src.MinRating > 0 && rating < src.MinRating {
			return
		}
		if src.MinReviews > 0 && reviews < src.MinReviews {
			return
		}

		raw := normalize.RawItem{
			NativeID: productID,
			Title:    title,
			URL:      link,
			Metadata: map[string]string{
				"rank":    strconv.Itoa(*rank),
				"rating":  strconv.FormatFloat(rating, 'f', 1, 64),
				"reviews": strconv.Itoa(reviews),
				"source":  src.Name,
			},
			PublishedAt: now,
			Priority:    rankPriority(*rank),
		}

		item, ok := d.normalizer.Normalize(raw, domain.SourceMarketplace, src.CampaignID)
		if !ok {
			return
		}
		items = append(items, item)
	})

	return items
}

func parseFloatAttr(sel *goquery.Selection, attr string) float64 {
	value, ok := sel.Attr(attr)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseIntAttr(sel *goquery.Selection, attr string) int {
	value, ok := sel.Attr(attr)
	if !ok {
		return 0
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return parsed
}
