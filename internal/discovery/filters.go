package discovery

import (
	"net/url"
	"strings"
	"time"

	"ContentPipeline/internal/config"
)

// freshEnough applies the freshness window. A zero window disables the
// filter; with a window set, an item without a publication date fails it.
func freshEnough(publishedAt time.Time, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return true
	}
	if publishedAt.IsZero() {
		return false
	}
	return now.Sub(publishedAt) <= window
}

// domainAllowed evaluates the allow/block policy against the item URL's host.
// Patterns match exactly, as "*." wildcards, or as subdomains of a listed
// domain. An empty list allows everything in allow mode and rejects
// everything in block mode.
func domainAllowed(policy config.DomainPolicy, rawURL string) bool {
	mode := strings.ToLower(strings.TrimSpace(policy.Mode))
	if mode == "" {
		mode = "allow"
	}

	if len(policy.Domains) == 0 {
		return mode == "allow"
	}

	host := hostOf(rawURL)
	if host == "" {
		// An item without a parseable host cannot satisfy an allow list
		// and cannot violate a block list.
		return mode == "block"
	}

	matched := false
	for _, pattern := range policy.Domains {
		if matchDomain(host, pattern) {
			matched = true
			break
		}
	}

	if mode == "block" {
		return !matched
	}
	return matched
}

func matchDomain(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}

	if wildcard, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == wildcard || strings.HasSuffix(host, "."+wildcard)
	}

	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// keywordPass checks include/exclude keyword filters against the item's
// title and excerpt, case-insensitively. An empty include list matches all.
func keywordPass(title, excerpt string, include, exclude []string) bool {
	haystack := strings.ToLower(title + " " + excerpt)

	for _, kw := range exclude {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(haystack, kw) {
			return false
		}
	}

	if len(include) == 0 {
		return true
	}
	for _, kw := range include {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
