// Package browser drives a live Chromium tab through the DevTools protocol.
// Item nodes are tagged with a per-instance key so the engine can tell a
// recreated node from the one it scored.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/platform"
	"FeedGuard/internal/ports"
)

// ErrDetached is returned when the node behind an item is gone.
var ErrDetached = errors.New("node detached")

type scanRow struct {
	Key          string            `json:"key"`
	Visible      bool              `json:"visible"`
	Interstitial bool              `json:"interstitial"`
	RawID        string            `json:"rawId"`
	Group        string            `json:"group"`
	Fields       map[string]string `json:"fields"`
}

// Adapter implements ports.PlatformAdapter over a rod page.
type Adapter struct {
	page        *rod.Page
	profile     platform.Profile
	script      jsProfile
	callTimeout time.Duration

	mu   sync.Mutex
	keys map[string]string // key -> item id from the last scan
}

var _ ports.PlatformAdapter = (*Adapter)(nil)

// NewAdapter binds page to a platform profile. callTimeout bounds the render
// calls, which carry no context of their own.
func NewAdapter(page *rod.Page, profile platform.Profile, callTimeout time.Duration) *Adapter {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Second
	}
	return &Adapter{
		page:        page,
		profile:     profile,
		script:      newJSProfile(profile),
		callTimeout: callTimeout,
		keys:        map[string]string{},
	}
}

func (a *Adapter) Platform() string {
	return a.profile.Name
}

func (a *Adapter) Scan(ctx context.Context) ([]domain.ContentItem, error) {
	res, err := a.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           scanJS,
		JSArgs:       []interface{}{a.script},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var rows []scanRow
	if err := decode(res.Value, &rows); err != nil {
		return nil, fmt.Errorf("decode scan: %w", err)
	}

	items := itemsFromRows(rows, a.profile, func(key, id string) domain.NodeHandle {
		return &nodeHandle{adapter: a, key: key, id: id}
	})

	keys := make(map[string]string, len(items))
	for _, item := range items {
		keys[item.Handle.(*nodeHandle).key] = item.ID
	}
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
	return items, nil
}

// itemsFromRows applies the profile's id and group rules to raw scan rows.
// Rows whose id cannot be resolved are dropped.
func itemsFromRows(rows []scanRow, profile platform.Profile, handle func(key, id string) domain.NodeHandle) []domain.ContentItem {
	items := make([]domain.ContentItem, 0, len(rows))
	for _, row := range rows {
		item := domain.ContentItem{
			Platform:     profile.Name,
			Visible:      row.Visible,
			Interstitial: row.Interstitial,
		}
		if row.Interstitial {
			item.ID = "interstitial-" + row.Key
		} else {
			item.ID = profile.ExtractID(row.RawID)
			if item.ID == "" {
				continue
			}
			item.Group = profile.NormalizeGroup(strings.Join(strings.Fields(row.Group), " "))
			item.RawFields = make(map[string]string, len(row.Fields))
			for k, v := range row.Fields {
				if v = strings.Join(strings.Fields(v), " "); v != "" {
					item.RawFields[k] = v
				}
			}
		}
		item.Handle = handle(row.Key, item.ID)
		items = append(items, item)
	}
	return items
}

// ItemForKey returns the item id last scanned under key.
func (a *Adapter) ItemForKey(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.keys[key]
	return id, ok
}

func (a *Adapter) HasBadge(item domain.ContentItem) bool {
	h, ok := item.Handle.(*nodeHandle)
	if !ok {
		return false
	}
	res, err := a.evalShort(&rod.EvalOptions{
		JS:      hasBadgeJS,
		JSArgs:  []interface{}{h.key},
		ByValue: true,
	})
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

type badgeArgs struct {
	Kind   domain.BadgeKind `json:"kind"`
	Label  string           `json:"label"`
	Reason string           `json:"reason,omitempty"`
	Bucket domain.Bucket    `json:"bucket"`
}

func badgeFor(decision domain.Decision) badgeArgs {
	args := badgeArgs{Kind: decision.Badge, Reason: decision.Reason, Bucket: decision.Score.Bucket}
	switch decision.Badge {
	case domain.BadgeWhitelisted:
		args.Label = "trusted"
	case domain.BadgeFailed:
		args.Label = fmt.Sprintf("~%.0f", decision.Score.HeuristicScore)
		if args.Reason == "" {
			args.Reason = "scoring unavailable, local estimate only"
		}
	default:
		args.Label = fmt.Sprintf("%.0f", decision.Score.Value())
	}
	return args
}

func (a *Adapter) RenderBadge(item domain.ContentItem, decision domain.Decision) error {
	return a.call(item, badgeJS, badgeFor(decision))
}

func (a *Adapter) RenderBlur(item domain.ContentItem, blur domain.BlurKind) error {
	return a.call(item, blurJS, string(blur))
}

func (a *Adapter) LocatePlacementContainer(items []domain.ContentItem) (string, bool) {
	if !a.profile.ReorderSafe || a.profile.ContainerSelector == "" {
		return "", false
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if h, ok := item.Handle.(*nodeHandle); ok {
			keys = append(keys, h.key)
		}
	}
	res, err := a.evalShort(&rod.EvalOptions{
		JS:      containerJS,
		JSArgs:  []interface{}{a.script, keys},
		ByValue: true,
	})
	if err != nil {
		return "", false
	}
	container := res.Value.Str()
	return container, container != ""
}

func (a *Adapter) ApplyOrder(ctx context.Context, container string, placement domain.Placement) error {
	res, err := a.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      orderJS,
		JSArgs:  []interface{}{container, keysOf(placement.Sequence), keysOf(placement.Hidden)},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("apply order: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("placement container %s: %w", container, ErrDetached)
	}
	return nil
}

func keysOf(items []domain.ContentItem) []string {
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if h, ok := item.Handle.(*nodeHandle); ok {
			keys = append(keys, h.key)
		}
	}
	return keys
}

func (a *Adapter) call(item domain.ContentItem, js string, arg any) error {
	h, ok := item.Handle.(*nodeHandle)
	if !ok {
		return fmt.Errorf("item %s: %w", item.ID, ErrDetached)
	}
	res, err := a.evalShort(&rod.EvalOptions{
		JS:      js,
		JSArgs:  []interface{}{h.key, arg},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("item %s: %w", item.ID, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("item %s: %w", item.ID, ErrDetached)
	}
	return nil
}

// evalShort runs a render-time script bounded by callTimeout.
func (a *Adapter) evalShort(opts *rod.EvalOptions) (*proto.RuntimeRemoteObject, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.callTimeout)
	defer cancel()
	return a.page.Context(ctx).Evaluate(opts)
}

// nodeHandle refers to a tagged element. Attached and ItemID ask the page.
type nodeHandle struct {
	adapter *Adapter
	key     string
	id      string
}

func (h *nodeHandle) current() (string, bool) {
	a := h.adapter
	res, err := a.evalShort(&rod.EvalOptions{
		JS:      liveJS,
		JSArgs:  []interface{}{a.script, h.key},
		ByValue: true,
	})
	if err != nil || res.Value.Nil() {
		return "", false
	}
	if strings.HasPrefix(h.id, "interstitial-") {
		return h.id, true
	}
	return a.profile.ExtractID(res.Value.Str()), true
}

func (h *nodeHandle) Attached() bool {
	_, ok := h.current()
	return ok
}

// ItemID reports the item the node renders now; virtualized lists reuse nodes.
func (h *nodeHandle) ItemID() string {
	id, _ := h.current()
	return id
}
