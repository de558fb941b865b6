package browser

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"FeedGuard/internal/ports"
)

type pollEvent struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type pollResult struct {
	URL       string      `json:"url"`
	Mutations int64       `json:"mutations"`
	Visible   bool        `json:"visible"`
	Events    []pollEvent `json:"events"`
}

// Watcher polls the page for feed mutations, URL changes, hover events and
// tab visibility. Disconnect drops the change and navigation subscribers but
// polling continues until Run returns, so the engine can re-arm after a reset.
type Watcher struct {
	page     *rod.Page
	adapter  *Adapter
	interval time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	onChange   []func()
	onNavigate []func(string)
	onHover    func(id string, entered bool)
	onVisible  func(visible bool)

	lastURL       string
	lastMutations int64
	lastVisible   bool
	primed        bool
}

var _ ports.ChangeDetector = (*Watcher)(nil)

// NewWatcher polls page every interval. Hover keys are resolved through adapter.
func NewWatcher(page *rod.Page, adapter *Adapter, interval time.Duration, log *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 750 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{page: page, adapter: adapter, interval: interval, log: log}
}

func (w *Watcher) OnChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

func (w *Watcher) OnNavigate(fn func(url string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onNavigate = append(w.onNavigate, fn)
}

// OnHover registers the pointer enter/leave callback.
func (w *Watcher) OnHover(fn func(id string, entered bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onHover = fn
}

// OnVisibility registers the tab visibility callback.
func (w *Watcher) OnVisibility(fn func(visible bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onVisible = fn
}

func (w *Watcher) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = nil
	w.onNavigate = nil
}

// Run polls until ctx is cancelled. Poll failures are logged and retried.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.poll(ctx); err != nil && ctx.Err() == nil {
			w.log.Debug("Page poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	res, err := w.page.Context(pollCtx).Evaluate(&rod.EvalOptions{
		JS:      pollJS,
		JSArgs:  []interface{}{w.adapter.script},
		ByValue: true,
	})
	if err != nil {
		return err
	}
	var result pollResult
	if err := decode(res.Value, &result); err != nil {
		return err
	}
	w.dispatch(result)
	return nil
}

// dispatch turns one poll result into callbacks. Callbacks run outside the
// lock because subscribers re-arm from inside OnNavigate.
func (w *Watcher) dispatch(result pollResult) {
	w.mu.Lock()
	first := !w.primed
	navigated := w.primed && result.URL != w.lastURL
	// The mutation counter restarts with each document.
	changed := w.primed && (result.Mutations != w.lastMutations || navigated)
	visibility := w.primed && result.Visible != w.lastVisible
	w.primed = true
	w.lastURL = result.URL
	w.lastMutations = result.Mutations
	w.lastVisible = result.Visible

	onNavigate := append([](func(string))(nil), w.onNavigate...)
	onChange := append([](func())(nil), w.onChange...)
	onHover := w.onHover
	onVisible := w.onVisible
	w.mu.Unlock()

	if first {
		return
	}
	if navigated {
		for _, fn := range onNavigate {
			fn(result.URL)
		}
	}
	if changed {
		for _, fn := range onChange {
			fn()
		}
	}
	if visibility && onVisible != nil {
		onVisible(result.Visible)
	}
	if onHover == nil {
		return
	}
	for _, ev := range result.Events {
		id, ok := w.adapter.ItemForKey(ev.Key)
		if !ok {
			continue
		}
		onHover(id, ev.Type == "enter")
	}
}
