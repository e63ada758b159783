// Package transport implements the outbound HTTP fetcher used by all
// discoverers, with a bounded timeout and per-host politeness limiting.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ContentPipeline/internal/ports"
)

const maxBodyBytes = 10 << 20

// Client fetches URLs with a per-host rate limiter so aggressive discovery
// cannot hammer a single origin.
type Client struct {
	httpClient *http.Client
	userAgent  string
	interval   time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ ports.Fetcher = (*Client)(nil)

// NewClient builds a fetcher; a nil httpClient gets a default with the given
// timeout.
func NewClient(httpClient *http.Client, timeout, perHostInterval time.Duration, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if userAgent == "" {
		userAgent = "ContentPipeline/1.0"
	}
	return &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		interval:   perHostInterval,
		limiters:   map[string]*rate.Limiter{},
	}
}

// Fetch performs a GET with the configured timeout and politeness interval.
func (c *Client) Fetch(ctx context.Context, rawURL string, headers map[string]string) (int, []byte, error) {
	if err := c.waitForHost(ctx, rawURL); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait for %s: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}

	return resp.StatusCode, body, nil
}

func (c *Client) waitForHost(ctx context.Context, rawURL string) error {
	if c.interval <= 0 {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		// Unparseable URLs fail later in the request builder with a
		// clearer error.
		return nil
	}

	return c.limiterForHost(parsed.Host).Wait(ctx)
}

func (c *Client) limiterForHost(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.interval), 1)
		c.limiters[host] = limiter
	}
	return limiter
}
