// Package ai implements the transformation-provider collaborator against
// OpenAI-compatible chat-completion endpoints.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ContentPipeline/internal/config"
	"ContentPipeline/internal/domain"
	"ContentPipeline/internal/ports"
)

const defaultSystemPrompt = "You rewrite source content into a publishable article."

// Client calls transformation providers over HTTP. Endpoints and models come
// from provider configuration; the credential supplies the bearer key.
type Client struct {
	providers  map[string]config.ProviderConfig
	httpClient *http.Client
}

var _ ports.Transformer = (*Client)(nil)

// NewClient builds a client from the configured providers.
func NewClient(providers []config.ProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	byName := make(map[string]config.ProviderConfig, len(providers))
	for _, provider := range providers {
		byName[provider.Name] = provider
	}
	return &Client{providers: byName, httpClient: httpClient}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Transform sends the item's normalized payload to the provider and returns
// the produced content. Failures come back classified for the orchestrator.
func (c *Client) Transform(ctx context.Context, item domain.QueueItem, provider string, credential domain.Credential, params map[string]string) (ports.TransformResult, error) {
	providerCfg, ok := c.providers[provider]
	if !ok {
		return ports.TransformResult{}, &domain.ProviderCallError{
			Kind:      domain.ErrKindProviderRejected,
			Message:   fmt.Sprintf("provider %s is not configured", provider),
			Permanent: true,
		}
	}

	payload, err := json.Marshal(chatRequest{
		Model: providerCfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(params)},
			{Role: "user", Content: buildUserPrompt(item, params)},
		},
	})
	if err != nil {
		return ports.TransformResult{}, fmt.Errorf("marshal transform payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, providerCfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return ports.TransformResult{}, fmt.Errorf("build transform request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential.KeyMaterial)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ports.TransformResult{}, &domain.ProviderCallError{Kind: domain.ErrKindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ports.TransformResult{}, classifyStatus(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ports.TransformResult{}, &domain.ProviderCallError{
			Kind:    domain.ErrKindTransport,
			Message: fmt.Sprintf("decode response: %v", err),
		}
	}
	if len(parsed.Choices) == 0 {
		return ports.TransformResult{}, &domain.ProviderCallError{
			Kind:    domain.ErrKindTransport,
			Message: "provider returned no choices",
		}
	}

	return ports.TransformResult{
		Content:   parsed.Choices[0].Message.Content,
		Model:     parsed.Model,
		Reference: parsed.ID,
	}, nil
}

// classifyStatus maps provider HTTP statuses onto the failure taxonomy:
// 429 is a rate limit, 5xx is transient, the remaining 4xx (auth, policy,
// malformed request) are permanent rejections.
func classifyStatus(resp *http.Response) *domain.ProviderCallError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	message := fmt.Sprintf("provider returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.ProviderCallError{Kind: domain.ErrKindQuotaExhausted, Message: message, RateLimit: true}
	case resp.StatusCode >= 500:
		return &domain.ProviderCallError{Kind: domain.ErrKindTransport, Message: message}
	default:
		return &domain.ProviderCallError{Kind: domain.ErrKindProviderRejected, Message: message, Permanent: true}
	}
}

func systemPrompt(params map[string]string) string {
	if prompt := strings.TrimSpace(params["system_prompt"]); prompt != "" {
		return prompt
	}
	return defaultSystemPrompt
}

// buildUserPrompt serializes the normalized payload for the provider. The
// raw metadata travels along so source-specific details survive the hop.
func buildUserPrompt(item domain.QueueItem, params map[string]string) string {
	type payload struct {
		Title       string            `json:"title"`
		Excerpt     string            `json:"excerpt,omitempty"`
		Body        string            `json:"body,omitempty"`
		URL         string            `json:"url,omitempty"`
		Author      string            `json:"author,omitempty"`
		Categories  []string          `json:"categories,omitempty"`
		MediaURLs   []string          `json:"media_urls,omitempty"`
		Metadata    map[string]string `json:"metadata,omitempty"`
		Instruction string            `json:"instruction,omitempty"`
	}

	serialized, err := json.Marshal(payload{
		Title:       item.Item.Title,
		Excerpt:     item.Item.Excerpt,
		Body:        item.Item.Body,
		URL:         item.Item.CanonicalURL,
		Author:      item.Item.Author,
		Categories:  item.Item.Categories,
		MediaURLs:   item.Item.MediaURLs,
		Metadata:    item.Item.RawMetadata,
		Instruction: params["instruction"],
	})
	if err != nil {
		return item.Item.Title
	}
	return string(serialized)
}
