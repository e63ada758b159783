// Package publish hands transformation results to the external
// content-management collaborator.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ContentPipeline/internal/ports"
)

// Client posts produced articles to the configured target and returns the
// artifact reference the target assigns.
type Client struct {
	targetURL  string
	authToken  string
	httpClient *http.Client
}

var _ ports.Publisher = (*Client)(nil)

// NewClient wires the publishing target.
func NewClient(targetURL, authToken string) *Client {
	return &Client{
		targetURL:  targetURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type publishRequest struct {
	CampaignID string `json:"campaign_id"`
	Content    string `json:"content"`
	Model      string `json:"model,omitempty"`
	Reference  string `json:"reference,omitempty"`
}

type publishResponse struct {
	ArtifactID string `json:"artifact_id"`
}

// Publish sends the result and returns the target's artifact reference.
func (c *Client) Publish(ctx context.Context, result ports.TransformResult, campaignID string) (string, error) {
	if c.targetURL == "" {
		return "", fmt.Errorf("publisher misconfigured: empty target url")
	}

	body, err := json.Marshal(publishRequest{
		CampaignID: campaignID,
		Content:    result.Content,
		Model:      result.Model,
		Reference:  result.Reference,
	})
	if err != nil {
		return "", fmt.Errorf("marshal publish payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.targetURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", c.targetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("publish target returned %s", resp.Status)
	}

	var parsed publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode publish response: %w", err)
	}
	if parsed.ArtifactID == "" {
		return "", fmt.Errorf("publish target returned no artifact id")
	}
	return parsed.ArtifactID, nil
}
