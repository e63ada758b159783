package domain

import "time"

// SourceType enumerates the supported source families. The set is closed;
// dispatch over it happens through the discovery registry, not runtime lookup.
type SourceType string

const (
	SourceFeed        SourceType = "feed"
	SourceSitemap     SourceType = "sitemap"
	SourceScrape      SourceType = "scrape"
	SourceSearch      SourceType = "search"
	SourceVideo       SourceType = "video"
	SourceMarketplace SourceType = "marketplace"
)

// Valid reports whether the source type is one of the known families.
func (s SourceType) Valid() bool {
	switch s {
	case SourceFeed, SourceSitemap, SourceScrape, SourceSearch, SourceVideo, SourceMarketplace:
		return true
	}
	return false
}

// DiscoveredItem is the canonical record every discoverer produces.
// (campaign_id, content_fingerprint) is unique within the work queue.
type DiscoveredItem struct {
	SourceType         SourceType
	CampaignID         string
	ItemID             string
	ContentFingerprint string

	Title        string
	Excerpt      string
	Body         string
	CanonicalURL string
	PublishedAt  time.Time
	Author       string
	MediaURLs    []string
	Categories   []string
	RawMetadata  map[string]string

	// Priority is computed per source family; higher is dispatched sooner.
	Priority int
}
