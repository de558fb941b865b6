package engine

import (
	"time"

	"FeedGuard/internal/metrics"
)

// cycleLock is the single-flight guard. pending is a work queue of depth one:
// any number of requests that arrive while a cycle runs collapse into one rerun.
type cycleLock struct {
	held      bool
	owner     uint64
	startedAt time.Time
	pending   bool
}

// tryAcquireLocked takes the lock for a new cycle, force-releasing it first when
// the current holder has exceeded the stuck-cycle timeout.
func (e *Engine) tryAcquireLocked(now time.Time) (uint64, bool) {
	if e.rearming {
		e.lock.pending = true
		return 0, false
	}
	if e.lock.held {
		if e.stuckLocked(now) {
			e.forceReleaseLocked(now)
		} else {
			e.lock.pending = true
			return 0, false
		}
	}
	e.nextCycle++
	e.lock = cycleLock{held: true, owner: e.nextCycle, startedAt: now}
	return e.nextCycle, true
}

// finishLocked releases the lock held by token. When a rerun was requested the
// lock is handed straight to a new cycle token instead.
func (e *Engine) finishLocked(token uint64, now time.Time) (uint64, bool) {
	if !e.lock.held || e.lock.owner != token {
		return 0, false
	}
	if e.lock.pending && !e.rearming {
		e.nextCycle++
		e.lock = cycleLock{held: true, owner: e.nextCycle, startedAt: now}
		return e.nextCycle, true
	}
	e.lock.held = false
	return 0, false
}

// releaseLocked drops the lock held by token without handing it off. The
// pending flag is kept.
func (e *Engine) releaseLocked(token uint64) {
	if e.lock.held && e.lock.owner == token {
		e.lock.held = false
	}
}

func (e *Engine) stuckLocked(now time.Time) bool {
	return e.lock.held && e.cfg.StuckCycleTimeout > 0 && now.Sub(e.lock.startedAt) >= e.cfg.StuckCycleTimeout
}

// forceReleaseLocked drops a wedged cycle's lock. The wedged cycle keeps running
// but can no longer release or hand off the lock, and its pending items stay
// guarded by their batch token.
func (e *Engine) forceReleaseLocked(now time.Time) {
	e.logger.Warn("force-releasing stuck processing cycle",
		"cycle", e.lock.owner,
		"held_for", now.Sub(e.lock.startedAt).String())
	metrics.StuckRecoveries.WithLabelValues(e.platform).Inc()
	e.lock.held = false
}
