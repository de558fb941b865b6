package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedGuard/internal/config"
	"FeedGuard/internal/domain"
)

func completionServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.Len(t, req.Messages, 2)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("quota exceeded"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func testScorer(endpoint string) *ChatGPTScorer {
	return NewChatGPTScorer(config.ChatGPTConfig{Endpoint: endpoint, Model: "gpt-test", APIKey: "k"}, nil)
}

func TestScoreItemsMergesVerdicts(t *testing.T) {
	server := completionServer(t, "```json\n{\"scores\":[{\"id\":\"a\",\"score\":91,\"reason\":\" rage bait \"},{\"id\":\"b\",\"score\":140}]}\n```", http.StatusOK)

	scores, err := testScorer(server.URL).ScoreItems(context.Background(), []domain.SerializedItem{
		{ID: "a", Fields: map[string]string{"title": "hello"}},
		{ID: "b"},
		{ID: "c"},
	})
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.Equal(t, 91.0, scores[0].Value())
	assert.Equal(t, "rage bait", scores[0].APIReason)
	assert.Equal(t, domain.BucketHigh, scores[0].Bucket)
	assert.Equal(t, 100.0, scores[1].Value(), "scores are clamped")
	assert.True(t, scores[2].Failed(), "posts the model skipped keep only the heuristic")
}

func TestScoreItemsDegradesOnAPIError(t *testing.T) {
	server := completionServer(t, "", http.StatusTooManyRequests)

	scores, err := testScorer(server.URL).ScoreItems(context.Background(), []domain.SerializedItem{{ID: "a"}})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.True(t, scores[0].Failed())
}

func TestScoreItemsMisconfigured(t *testing.T) {
	_, err := NewChatGPTScorer(config.ChatGPTConfig{}, nil).ScoreItems(context.Background(), nil)
	require.Error(t, err)
}

func TestScoreItemsCancelled(t *testing.T) {
	server := completionServer(t, `{"scores":[]}`, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testScorer(server.URL).ScoreItems(ctx, []domain.SerializedItem{{ID: "a"}})
	require.Error(t, err, "a cancelled batch is reverted, not degraded")
}
