package dom

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/ports"
)

// FeedContainer is the only placement container an in-memory document has.
const FeedContainer = "feed"

var ErrDetached = errors.New("node detached")

// Adapter exposes a Document as a platform adapter.
type Adapter struct {
	doc      *Document
	platform string
}

var _ ports.PlatformAdapter = (*Adapter)(nil)

// NewAdapter wraps doc for the named platform.
func NewAdapter(doc *Document, platform string) *Adapter {
	return &Adapter{doc: doc, platform: platform}
}

// Platform names the platform profile of the document.
func (a *Adapter) Platform() string {
	return a.platform
}

// Scan lists the visible nodes in container order.
func (a *Adapter) Scan(ctx context.Context) ([]domain.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()

	items := make([]domain.ContentItem, 0, len(a.doc.nodes))
	for _, n := range a.doc.nodes {
		if n.hidden {
			continue
		}
		fields := make(map[string]string, len(n.spec.Fields))
		for k, v := range n.spec.Fields {
			fields[k] = v
		}
		items = append(items, domain.ContentItem{
			ID:           n.spec.ID,
			Platform:     a.platform,
			Group:        n.spec.Group,
			RawFields:    fields,
			Visible:      !n.spec.Offscreen,
			Interstitial: n.spec.Interstitial,
			Handle:       n,
		})
	}
	return items, nil
}

// HasBadge reports whether the node currently rendering item carries a badge.
func (a *Adapter) HasBadge(item domain.ContentItem) bool {
	n := a.resolve(item)
	if n == nil {
		return false
	}
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	return n.attached && n.badge != nil
}

// RenderBadge decorates the node with the decision.
func (a *Adapter) RenderBadge(item domain.ContentItem, decision domain.Decision) error {
	return a.mutate(item, func(n *Node) {
		d := decision
		n.badge = &d
	})
}

// RenderBlur sets the overlay state of the node.
func (a *Adapter) RenderBlur(item domain.ContentItem, blur domain.BlurKind) error {
	return a.mutate(item, func(n *Node) {
		n.blur = blur
	})
}

// LocatePlacementContainer returns the feed container when moving is allowed.
func (a *Adapter) LocatePlacementContainer(_ []domain.ContentItem) (string, bool) {
	if !a.doc.Reorderable() {
		return "", false
	}
	return FeedContainer, true
}

// ApplyOrder moves nodes into the placement sequence and hides the rest.
// Nodes the placement does not mention keep their relative order at the end.
func (a *Adapter) ApplyOrder(ctx context.Context, container string, placement domain.Placement) error {
	if container != FeedContainer {
		return fmt.Errorf("unknown container %q", container)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.doc.mu.Lock()
	byID := make(map[string]*Node, len(a.doc.nodes))
	for _, n := range a.doc.nodes {
		byID[n.spec.ID] = n
	}

	used := map[*Node]struct{}{}
	ordered := make([]*Node, 0, len(a.doc.nodes))
	for _, item := range placement.Sequence {
		n, ok := byID[item.ID]
		if !ok {
			continue
		}
		if _, dup := used[n]; dup {
			continue
		}
		n.hidden = false
		used[n] = struct{}{}
		ordered = append(ordered, n)
	}
	for _, item := range placement.Hidden {
		n, ok := byID[item.ID]
		if !ok {
			continue
		}
		if _, dup := used[n]; dup {
			continue
		}
		n.hidden = true
		used[n] = struct{}{}
		ordered = append(ordered, n)
	}
	for _, n := range a.doc.nodes {
		if _, ok := used[n]; !ok {
			ordered = append(ordered, n)
		}
	}
	a.doc.nodes = ordered
	a.doc.mu.Unlock()
	return nil
}

func (a *Adapter) resolve(item domain.ContentItem) *Node {
	if n, ok := item.Handle.(*Node); ok && n.doc == a.doc {
		return n
	}
	return a.doc.Find(item.ID)
}

func (a *Adapter) mutate(item domain.ContentItem, fn func(n *Node)) error {
	n := a.resolve(item)
	if n == nil {
		return fmt.Errorf("item %s: %w", item.ID, ErrDetached)
	}
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	if !n.attached {
		return fmt.Errorf("item %s: %w", item.ID, ErrDetached)
	}
	fn(n)
	return nil
}

// Watcher is the change detector of a Document.
type Watcher struct {
	doc *Document

	mu          sync.Mutex
	onChange    func()
	onNavigate  func(url string)
	unsubscribe func()
}

var _ ports.ChangeDetector = (*Watcher)(nil)

// NewWatcher builds a detector for doc; it subscribes on first callback.
func NewWatcher(doc *Document) *Watcher {
	return &Watcher{doc: doc}
}

// OnChange registers the feed-growth callback.
func (w *Watcher) OnChange(fn func()) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
	w.ensureSubscribed()
}

// OnNavigate registers the navigation callback.
func (w *Watcher) OnNavigate(fn func(url string)) {
	w.mu.Lock()
	w.onNavigate = fn
	w.mu.Unlock()
	w.ensureSubscribed()
}

// Disconnect drops the subscription and both callbacks.
func (w *Watcher) Disconnect() {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.onChange = nil
	w.onNavigate = nil
	w.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (w *Watcher) ensureSubscribed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsubscribe != nil {
		return
	}
	w.unsubscribe = w.doc.subscribe(listener{
		onChange: func() {
			w.mu.Lock()
			fn := w.onChange
			w.mu.Unlock()
			if fn != nil {
				fn()
			}
		},
		onNavigate: func(url string) {
			w.mu.Lock()
			fn := w.onNavigate
			w.mu.Unlock()
			if fn != nil {
				fn(url)
			}
		},
	})
}
