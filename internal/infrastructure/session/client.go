package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/ports"
)

// Client talks to a remote session service over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

var _ ports.SessionService = (*Client)(nil)

// NewClient builds a client rooted at endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) GetSession(ctx context.Context) (*domain.Session, error) {
	var session *domain.Session
	if err := c.do(ctx, http.MethodGet, "/session", nil, &session); err != nil {
		return nil, err
	}
	return session, nil
}

func (c *Client) GetEffectiveThreshold(ctx context.Context, phase domain.Phase) (*float64, error) {
	var resp struct {
		Threshold *float64 `json:"threshold"`
	}
	path := "/threshold?phase=" + url.QueryEscape(string(phase))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Threshold, nil
}

func (c *Client) GetScheduledOrder(ctx context.Context, ids []string, scores map[string]float64) (*domain.ScheduledOrder, error) {
	payload := map[string]any{
		"ids":    ids,
		"scores": scores,
	}
	var order *domain.ScheduledOrder
	if err := c.do(ctx, http.MethodPost, "/schedule", payload, &order); err != nil {
		return nil, err
	}
	return order, nil
}

func (c *Client) LogImpressions(ctx context.Context, impressions []domain.Impression) error {
	if len(impressions) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/impressions", map[string]any{"impressions": impressions}, nil)
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/heartbeat", nil, nil)
}

// do sends one request. A 204 or empty body leaves v untouched.
func (c *Client) do(ctx context.Context, method, path string, payload any, v any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("session %s: unexpected status %s", path, resp.Status)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
