//go:build browser

package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedGuard/internal/config"
	"FeedGuard/internal/domain"
	"FeedGuard/internal/platform"
)

const feedHTML = `<!doctype html><html><body>
<shreddit-feed>
  <article><shreddit-post id="t3_a" subreddit-prefixed-name="r/golang" post-title="Go 1.24 released"></shreddit-post></article>
  <article><shreddit-ad-post></shreddit-ad-post></article>
  <article><shreddit-post id="t3_b" subreddit-prefixed-name="r/golang" post-title="You won't believe this"></shreddit-post></article>
</shreddit-feed>
</body></html>`

func TestAdapterAgainstChromium(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedHTML))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	host := NewHost(config.BrowserConfig{Headless: true}, nil)
	require.NoError(t, host.Connect(ctx))
	defer host.Close()

	page, err := host.Open(ctx, server.URL)
	require.NoError(t, err)

	adapter := NewAdapter(page, platform.Reddit(), 5*time.Second)
	items, err := adapter.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "t3_a", items[0].ID)
	assert.True(t, items[1].Interstitial)
	assert.True(t, items[0].Live())

	decision := domain.Decision{Badge: domain.BadgeScored, Blur: domain.BlurEngaged, Score: domain.EngagementScore{APIScore: domain.ScoreOf(88)}}
	require.NoError(t, adapter.RenderBadge(items[2], decision))
	require.NoError(t, adapter.RenderBlur(items[2], domain.BlurEngaged))
	assert.True(t, adapter.HasBadge(items[2]))
	assert.False(t, adapter.HasBadge(items[0]))

	container, ok := adapter.LocatePlacementContainer(items)
	require.True(t, ok)
	require.NoError(t, adapter.ApplyOrder(ctx, container, domain.Placement{
		Sequence: []domain.ContentItem{items[2], items[1]},
		Hidden:   []domain.ContentItem{items[0]},
	}))

	rescanned, err := adapter.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, rescanned, 3)
	assert.Equal(t, "t3_b", rescanned[0].ID)
	assert.Equal(t, "t3_a", rescanned[2].ID)
}
