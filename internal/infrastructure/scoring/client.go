package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/ports"
)

// Client talks to an external scoring service that rates engagement bait.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.ScoringService = (*Client)(nil)

// NewClient creates a reusable HTTP client. The engine enforces its own
// deadline; the transport timeout only bounds abandoned requests.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// ScoreItems posts the batch to /score. A response without a scores array
// yields nil scores, which the engine treats as a malformed reply.
func (c *Client) ScoreItems(ctx context.Context, items []domain.SerializedItem) ([]domain.EngagementScore, error) {
	if len(items) == 0 {
		return []domain.EngagementScore{}, nil
	}

	payload := map[string]any{
		"items": items,
	}

	var resp struct {
		Scores []domain.EngagementScore `json:"scores"`
	}
	if err := c.post(ctx, "/score", payload, &resp); err != nil {
		return nil, err
	}

	return resp.Scores, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if v == nil {
		if err := resp.Body.Close(); err != nil {
			return fmt.Errorf("close response body: %w", err)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
