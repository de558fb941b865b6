package engine

import (
	"time"

	"FeedGuard/internal/domain"
)

type revealTimer struct {
	token   uint64
	timer   Timer
	armedAt time.Time
}

// revealRegistry keys hover timers by item id; node identity is not stable
// under virtualization, so a timer is cancellable without its node.
type revealRegistry struct {
	timers map[string]revealTimer
	seq    uint64
}

func newRevealRegistry() revealRegistry {
	return revealRegistry{timers: map[string]revealTimer{}}
}

func (r *revealRegistry) cancel(id string) bool {
	t, ok := r.timers[id]
	if !ok {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(r.timers, id)
	return true
}

func (r *revealRegistry) cancelAll() {
	for id := range r.timers {
		r.cancel(id)
	}
}

// HoverEnter arms the reveal timer for a blurred item. It reports whether a
// timer was armed or the item was revealed immediately.
func (e *Engine) HoverEnter(id string) bool {
	e.mu.Lock()
	rec, ok := e.items[id]
	if !ok || rec.state != domain.StateBlurred {
		e.mu.Unlock()
		return false
	}
	if _, armed := e.reveals.timers[id]; armed {
		e.mu.Unlock()
		return true
	}

	delay := e.thresholds.settings.RevealDelay(e.cfg.RevealDelay)
	if delay <= 0 {
		item := e.revealLocked(rec)
		e.mu.Unlock()
		e.renderBlur(item, domain.BlurRevealed)
		return true
	}

	e.reveals.seq++
	token := e.reveals.seq
	epoch := e.epoch
	timer := e.clock.AfterFunc(delay, func() {
		e.fireReveal(id, token, epoch)
	})
	e.reveals.timers[id] = revealTimer{token: token, timer: timer, armedAt: e.clock.Now()}
	e.mu.Unlock()
	return true
}

// HoverLeave cancels a pending reveal; the item stays blurred.
func (e *Engine) HoverLeave(id string) {
	e.mu.Lock()
	e.reveals.cancel(id)
	e.mu.Unlock()
}

func (e *Engine) fireReveal(id string, token, epoch uint64) {
	e.mu.Lock()
	t, ok := e.reveals.timers[id]
	if !ok || t.token != token || epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	delete(e.reveals.timers, id)

	rec, ok := e.items[id]
	if !ok || rec.state != domain.StateBlurred {
		e.mu.Unlock()
		return
	}
	item := e.revealLocked(rec)
	held := e.clock.Now().Sub(t.armedAt)
	e.mu.Unlock()

	e.logger.Debug("item revealed", "post_id", id, "hover", held.String())
	e.renderBlur(item, domain.BlurRevealed)
}

func (e *Engine) revealLocked(rec *itemRecord) domain.ContentItem {
	rec.state = domain.StateRevealed
	return rec.item
}
