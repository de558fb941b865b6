package dom

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedGuard/internal/domain"
)

func TestRecreateDetachesOldNode(t *testing.T) {
	doc := NewDocument("https://www.reddit.com/")
	added := doc.Append(NodeSpec{ID: "a"}, NodeSpec{ID: "b"})
	old := added[0]

	fresh, ok := doc.Recreate("a")
	require.True(t, ok)
	assert.False(t, old.Attached())
	assert.True(t, fresh.Attached())
	assert.NotEqual(t, old.Key(), fresh.Key())
	assert.Equal(t, []string{"a", "b"}, doc.Order())

	_, ok = doc.Recreate("missing")
	assert.False(t, ok)
}

func TestAdapterRendersOnlyLiveNodes(t *testing.T) {
	doc := NewDocument("https://www.reddit.com/")
	doc.Append(NodeSpec{ID: "a", Group: "r/golang", Fields: map[string]string{"title": "hello"}})
	adapter := NewAdapter(doc, "reddit")

	items, err := adapter.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, "reddit", item.Platform)
	assert.True(t, item.Live())

	require.NoError(t, adapter.RenderBlur(item, domain.BlurPending))
	assert.Equal(t, domain.BlurPending, doc.Find("a").Blur())

	doc.Recreate("a")
	assert.False(t, item.Live())
	err = adapter.RenderBadge(item, domain.Decision{PostID: "a"})
	require.ErrorIs(t, err, ErrDetached, "a stale handle must not decorate the new node")
	_, badged := doc.Find("a").Badge()
	assert.False(t, badged)
	assert.False(t, adapter.HasBadge(item))
}

func TestApplyOrderMovesAndHides(t *testing.T) {
	doc := NewDocument("https://www.reddit.com/")
	doc.Append(NodeSpec{ID: "a"}, NodeSpec{ID: "b"}, NodeSpec{ID: "c"}, NodeSpec{ID: "d"})
	doc.SetReorderable(true)
	adapter := NewAdapter(doc, "reddit")

	items, err := adapter.Scan(context.Background())
	require.NoError(t, err)
	container, ok := adapter.LocatePlacementContainer(items)
	require.True(t, ok)

	err = adapter.ApplyOrder(context.Background(), container, domain.Placement{
		Sequence: []domain.ContentItem{items[2], items[0]},
		Hidden:   []domain.ContentItem{items[1]},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "d"}, doc.Order())
	assert.True(t, doc.Find("b").Hidden())

	scanned, err := adapter.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, scanned, 3, "hidden nodes are not scanned")

	require.Error(t, adapter.ApplyOrder(context.Background(), "sidebar", domain.Placement{}))
}

func TestLocatePlacementContainerRequiresReorderable(t *testing.T) {
	doc := NewDocument("https://x.com/home")
	_, ok := NewAdapter(doc, "twitter").LocatePlacementContainer(nil)
	assert.False(t, ok)
}

func TestWatcherDeliversUntilDisconnected(t *testing.T) {
	doc := NewDocument("https://www.reddit.com/")
	w := NewWatcher(doc)

	var changes atomic.Int32
	var navigated atomic.Value
	w.OnChange(func() { changes.Add(1) })
	w.OnNavigate(func(url string) { navigated.Store(url) })

	doc.Append(NodeSpec{ID: "a"})
	doc.Remove("a")
	assert.Equal(t, int32(2), changes.Load())

	doc.Navigate("https://www.reddit.com/r/golang/", NodeSpec{ID: "b"})
	assert.Equal(t, "https://www.reddit.com/r/golang/", navigated.Load())
	assert.Equal(t, "https://www.reddit.com/r/golang/", doc.URL())

	w.Disconnect()
	doc.Append(NodeSpec{ID: "c"})
	assert.Equal(t, int32(2), changes.Load())
}
