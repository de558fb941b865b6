package engine

import (
	"context"
	"time"

	"FeedGuard/internal/metrics"
)

// Navigate resets the engine for a new page. The state reset is a single
// critical section: the epoch bump invalidates in-flight cycles and timers, the
// score cache and item memory are dropped and the cycle lock is released. The
// change detector is then re-armed before scanning resumes.
func (e *Engine) Navigate(url string) {
	e.mu.Lock()
	previous := e.url
	e.url = url
	e.epoch++
	e.epochCancel()
	e.epochCtx, e.epochCancel = context.WithCancel(context.Background())
	e.items = map[string]*itemRecord{}
	e.unbadgedSince = map[string]time.Time{}
	e.reveals.cancelAll()
	e.lock = cycleLock{}
	e.rearming = true
	epoch := e.epoch
	runCtx := e.runCtx
	e.mu.Unlock()

	metrics.NavigationResets.WithLabelValues(e.platform).Inc()
	e.logger.Info("navigation reset", "from", previous, "to", url, "epoch", epoch)

	if e.detector != nil {
		e.detector.Disconnect()
		if runCtx == nil {
			runCtx = context.Background()
		}
		e.armDetector(runCtx)
	}

	e.mu.Lock()
	if e.epoch == epoch {
		e.rearming = false
	}
	e.mu.Unlock()
	e.Notify()
}

// URL returns the page address of the current identity space.
func (e *Engine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}
