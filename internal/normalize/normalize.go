// Package normalize converts raw source-specific items into the canonical
// DiscoveredItem and computes the content fingerprint the queue dedups on.
package normalize

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"ContentPipeline/internal/domain"
)

// RawItem carries whatever a discoverer managed to extract before
// normalization. Any field may be empty.
type RawItem struct {
	NativeID    string
	Title       string
	Excerpt     string
	Body        string
	URL         string
	PublishedAt time.Time
	Author      string
	MediaURLs   []string
	Categories  []string
	Metadata    map[string]string
	Priority    int
}

// Normalizer builds DiscoveredItems. It never fails: items that cannot be
// identified are dropped and logged.
type Normalizer struct {
	logger *slog.Logger
}

// New wires a normalizer; a nil logger disables drop logging.
func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize converts a raw item. The second return value is false when the
// item carries neither a title nor an identifying URL and must be dropped.
func (n *Normalizer) Normalize(raw RawItem, sourceType domain.SourceType, campaignID string) (domain.DiscoveredItem, bool) {
	title := strings.TrimSpace(raw.Title)
	canonical := CanonicalURL(raw.URL)

	if title == "" && canonical == "" {
		if n.logger != nil {
			n.logger.Warn("dropping unidentifiable item",
				"source_type", string(sourceType),
				"campaign_id", campaignID,
				"native_id", raw.NativeID)
		}
		return domain.DiscoveredItem{}, false
	}

	item := domain.DiscoveredItem{
		SourceType:         sourceType,
		CampaignID:         campaignID,
		ItemID:             raw.NativeID,
		ContentFingerprint: Fingerprint(raw.NativeID, canonical, title),
		Title:              title,
		Excerpt:            strings.TrimSpace(raw.Excerpt),
		Body:               raw.Body,
		CanonicalURL:       canonical,
		PublishedAt:        raw.PublishedAt,
		Author:             strings.TrimSpace(raw.Author),
		MediaURLs:          raw.MediaURLs,
		Categories:         raw.Categories,
		RawMetadata:        raw.Metadata,
		Priority:           raw.Priority,
	}

	return item, true
}

// Fingerprint computes the stable dedup hash. A source-native identifier wins;
// otherwise the canonical URL; otherwise the collapsed lower-cased title.
// Identical logical items observed on different runs must hash identically.
func Fingerprint(nativeID, canonicalURL, title string) string {
	basis := nativeID
	if basis == "" {
		basis = canonicalURL
	}
	if basis == "" {
		basis = CollapseTitle(title)
	}
	return strconv.FormatUint(xxh3.HashString(basis), 16)
}

// CanonicalURL normalizes a URL for fingerprinting: lower-cased host, no
// fragment, no tracking query parameters, no trailing slash. Unparseable
// input returns the trimmed original so that it still identifies the item.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}

	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Fragment = ""

	query := parsed.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()

	canonical := parsed.String()
	return strings.TrimSuffix(canonical, "/")
}

// CollapseTitle lower-cases a title and collapses runs of whitespace so
// cosmetic differences do not defeat dedup.
func CollapseTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
