package engine

import (
	"context"
	"fmt"

	"FeedGuard/internal/domain"
)

// RecoveryReport describes one watchdog tick.
type RecoveryReport struct {
	StuckReleased bool
	Unbadged      int
	Stale         int
	Forced        bool
	Cycle         CycleReport
}

// CheckRecovery is the watchdog tick. It force-releases a cycle lock held past
// the stuck-cycle timeout and forces a fresh cycle when visible items remain
// unbadged, either right after a stuck release or once they have been unbadged
// longer than the stale-processing timeout.
func (e *Engine) CheckRecovery(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if e.adapter == nil {
		return report, nil
	}

	e.mu.Lock()
	if e.stuckLocked(e.clock.Now()) {
		e.forceReleaseLocked(e.clock.Now())
		report.StuckReleased = true
	}
	epoch := e.epoch
	e.mu.Unlock()

	scanned, err := e.adapter.Scan(ctx)
	if err != nil {
		return report, fmt.Errorf("recovery scan: %w", err)
	}

	var unbadged []domain.ContentItem
	for _, item := range scanned {
		if item.Interstitial || !item.Visible || item.ID == "" {
			continue
		}
		if !e.adapter.HasBadge(item) {
			unbadged = append(unbadged, item)
		}
	}

	now := e.clock.Now()
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return report, nil
	}
	current := make(map[string]struct{}, len(unbadged))
	for _, item := range unbadged {
		if rec, ok := e.items[item.ID]; ok && rec.state == domain.StatePending {
			continue
		}
		current[item.ID] = struct{}{}
		since, ok := e.unbadgedSince[item.ID]
		if !ok {
			e.unbadgedSince[item.ID] = now
			since = now
		}
		if now.Sub(since) >= e.cfg.StaleProcessingTimeout {
			report.Stale++
		}
	}
	for id := range e.unbadgedSince {
		if _, ok := current[id]; !ok {
			delete(e.unbadgedSince, id)
		}
	}
	report.Unbadged = len(current)
	e.mu.Unlock()

	if report.Unbadged == 0 || (!report.StuckReleased && report.Stale == 0) {
		return report, nil
	}

	e.logger.Info("recovery forcing cycle",
		"unbadged", report.Unbadged,
		"stale", report.Stale,
		"stuck_released", report.StuckReleased)
	report.Forced = true
	cycle, err := e.ProcessCycle(ctx)
	report.Cycle = cycle
	return report, err
}
