package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"FeedGuard/internal/config"
	"FeedGuard/internal/domain"
	"FeedGuard/internal/infrastructure/scoring"
	"FeedGuard/internal/ports"
)

const defaultSystemPrompt = `You rate social media posts for engagement bait: outrage hooks, ` +
	`rage-inducing framing, manufactured controversy and reply-farming. ` +
	`Reply with a JSON object {"scores":[{"id":"<post id>","score":<0-100>,"reason":"<short reason>"}]} ` +
	`containing one entry per post. 0 means calm and informative, 100 means pure bait.`

// ChatGPTScorer implements ports.ScoringService backed by OpenAI-compatible APIs.
// Every returned score carries the local heuristic; the model supplies the API
// score. When the model is unreachable the batch degrades to heuristic-only
// scores, which render as failed badges instead of being retried forever.
type ChatGPTScorer struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
	logger       *slog.Logger
}

var _ ports.ScoringService = (*ChatGPTScorer)(nil)

// NewChatGPTScorer builds a scorer from configuration.
func NewChatGPTScorer(cfg config.ChatGPTConfig, log *slog.Logger) *ChatGPTScorer {
	if log == nil {
		log = slog.Default()
	}
	return &ChatGPTScorer{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		logger: log,
	}
}

type promptItem struct {
	ID     string            `json:"id"`
	Group  string            `json:"group,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type verdict struct {
	ID     string   `json:"id"`
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

// ScoreItems asks the model to rate the batch.
func (c *ChatGPTScorer) ScoreItems(ctx context.Context, items []domain.SerializedItem) ([]domain.EngagementScore, error) {
	if c == nil {
		return nil, fmt.Errorf("chatgpt scorer is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return nil, fmt.Errorf("chatgpt scorer misconfigured")
	}

	scores := scoring.HeuristicScores(items)
	if len(items) == 0 {
		return scores, nil
	}

	verdicts, err := c.complete(ctx, items)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("chatgpt scoring failed, using heuristic only", "items", len(items), "error", err)
		return scores, nil
	}

	byID := make(map[string]verdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.ID] = v
	}
	for i := range scores {
		v, ok := byID[scores[i].PostID]
		if !ok || v.Score == nil {
			continue
		}
		api := math.Min(math.Max(*v.Score, 0), 100)
		scores[i].APIScore = domain.ScoreOf(api)
		scores[i].APIReason = strings.TrimSpace(v.Reason)
		scores[i].Bucket = domain.BucketFor(api)
	}
	return scores, nil
}

func (c *ChatGPTScorer) complete(ctx context.Context, items []domain.SerializedItem) ([]verdict, error) {
	prompt := make([]promptItem, 0, len(items))
	for _, item := range items {
		prompt = append(prompt, promptItem{ID: item.ID, Group: item.Group, Fields: item.Fields})
	}
	payload, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("marshal posts: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": string(payload)},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion has no choices")
	}

	var parsed struct {
		Scores []verdict `json:"scores"`
	}
	if err := json.Unmarshal([]byte(stripFences(completion.Choices[0].Message.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("parse verdicts: %w", err)
	}
	return parsed.Scores, nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}
