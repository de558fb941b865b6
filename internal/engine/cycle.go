package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/metrics"
)

// CycleReport summarizes the last cycle run by a ProcessCycle call.
type CycleReport struct {
	Cycle       uint64
	Scanned     int
	Submitted   int
	Scored      int
	Reverted    int
	Rerendered  int
	Reordered   bool
	Hidden      int
	Impressions []domain.Impression
}

type intakeEntry struct {
	item     domain.ContentItem
	position int
}

// ProcessCycle runs one intake/score/decide cycle. If a cycle is already in
// flight the request is queued behind it and ErrCycleInFlight is returned.
// Soft failures (scan errors, scoring timeouts) are returned after the engine
// state has been restored; they never leave items stuck.
func (e *Engine) ProcessCycle(ctx context.Context) (CycleReport, error) {
	e.mu.Lock()
	token, ok := e.tryAcquireLocked(e.clock.Now())
	epoch := e.epoch
	epochCtx := e.epochCtx
	e.mu.Unlock()
	if !ok {
		return CycleReport{}, ErrCycleInFlight
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(epochCtx, cancel)
	defer stop()

	for {
		report, err := e.runCycle(cycleCtx, token, epoch)
		e.observeCycle(report, err)

		e.mu.Lock()
		stale := epoch != e.epoch
		var (
			next  uint64
			rerun bool
		)
		if stale || cycleCtx.Err() != nil {
			// A queued rerun stays pending for the next caller.
			e.releaseLocked(token)
		} else {
			next, rerun = e.finishLocked(token, e.clock.Now())
		}
		e.mu.Unlock()
		if !rerun {
			return report, err
		}
		if err != nil {
			e.logger.Warn("processing cycle failed", "cycle", token, "error", err)
		}
		token = next
	}
}

func (e *Engine) observeCycle(report CycleReport, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrStaleCycle):
		outcome = "stale"
	case errors.Is(err, ErrScoringTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.Cycles.WithLabelValues(e.platform, outcome).Inc()
	e.logger.Debug("cycle finished",
		"cycle", report.Cycle,
		"outcome", outcome,
		"scanned", report.Scanned,
		"submitted", report.Submitted,
		"scored", report.Scored,
		"reverted", report.Reverted,
		"rerendered", report.Rerendered)
}

func (e *Engine) runCycle(ctx context.Context, cycle, epoch uint64) (CycleReport, error) {
	report := CycleReport{Cycle: cycle}
	if e.adapter == nil {
		return report, nil
	}

	scanned, err := e.adapter.Scan(ctx)
	if err != nil {
		return report, fmt.Errorf("scan: %w", err)
	}
	report.Scanned = len(scanned)

	// Badge presence is read from the host before taking the lock.
	badged := make(map[string]bool, len(scanned))
	for _, item := range scanned {
		if !item.Interstitial {
			badged[item.ID] = e.adapter.HasBadge(item)
		}
	}

	fresh, rerenders, batch, pendingBlur, err := e.intake(epoch, scanned, badged)
	if err != nil {
		return report, err
	}
	report.Rerendered = len(rerenders)
	for _, u := range rerenders {
		e.render(u.item, u.decision)
	}
	if len(fresh) == 0 {
		return report, nil
	}

	report.Submitted = len(fresh)
	if pendingBlur {
		for _, entry := range fresh {
			e.renderBlur(entry.item, domain.BlurPending)
		}
	}

	serialized := make([]domain.SerializedItem, 0, len(fresh))
	for _, entry := range fresh {
		serialized = append(serialized, entry.item.Serialize(entry.position))
	}

	scores, err := e.scoreBatch(ctx, serialized)
	if err != nil {
		reverted := e.revertBatch(epoch, batch, fresh, pendingBlur)
		report.Reverted = len(reverted)
		return report, err
	}

	scored, updates, reverted, err := e.applyScores(epoch, batch, fresh, scores)
	if err != nil {
		return report, err
	}
	report.Scored = len(scored)
	report.Reverted = len(reverted)
	for _, u := range updates {
		e.render(u.item, u.decision)
	}
	if pendingBlur {
		for _, item := range reverted {
			e.renderBlur(item, domain.BlurNone)
		}
	}
	if len(scored) == 0 {
		return report, nil
	}

	arranged, err := e.arrange(ctx, epoch, scanned, scored)
	if err != nil {
		return report, err
	}
	report.Reordered = arranged.reordered
	report.Hidden = arranged.hidden
	report.Impressions = arranged.impressions

	e.recordImpressions(arranged.impressions)
	return report, nil
}

// intake partitions a scan into fresh items to score and known items whose
// recreated nodes need their badge restored from the score cache. Fresh items
// move to Pending under a new batch token.
func (e *Engine) intake(epoch uint64, scanned []domain.ContentItem, badged map[string]bool) ([]intakeEntry, []renderUpdate, uint64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return nil, nil, 0, false, ErrStaleCycle
	}

	var (
		fresh     []intakeEntry
		rerenders []renderUpdate
		position  int
		seen      = make(map[string]struct{}, len(scanned))
	)
	for _, item := range scanned {
		if item.Interstitial || item.ID == "" {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		pos := position
		position++

		rec, known := e.items[item.ID]
		if !known {
			rec = &itemRecord{state: domain.StateUnseen}
			e.items[item.ID] = rec
		}
		rec.item = item

		switch {
		case rec.state == domain.StatePending:
			// Still owned by an earlier batch.
		case rec.state.Processed():
			if badged[item.ID] {
				continue
			}
			if rec.state == domain.StateRevealed {
				rec.state = e.settledStateLocked(rec.score)
			}
			e.reveals.cancel(item.ID)
			rerenders = append(rerenders, renderUpdate{item: item, decision: e.decisionLocked(rec)})
		default:
			if e.scorer == nil {
				continue
			}
			rec.originalPosition = pos
			fresh = append(fresh, intakeEntry{item: item, position: pos})
		}
	}

	if len(fresh) == 0 {
		return nil, rerenders, 0, false, nil
	}

	e.nextBatch++
	batch := e.nextBatch
	for _, entry := range fresh {
		rec := e.items[entry.item.ID]
		rec.state = domain.StatePending
		rec.batch = batch
	}
	pendingBlur := e.thresholds.settings.PendingBlur && e.thresholds.settings.Mode != domain.ModeBaseline
	return fresh, rerenders, batch, pendingBlur, nil
}

// scoreBatch races the scoring call against the scoring timeout.
func (e *Engine) scoreBatch(ctx context.Context, items []domain.SerializedItem) ([]domain.EngagementScore, error) {
	timeout := e.cfg.ScoringTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ScoringTimeout
	}
	started := time.Now()
	scores, err := race(ctx, timeout, func(ctx context.Context) ([]domain.EngagementScore, error) {
		return e.scorer.ScoreItems(ctx, items)
	})
	metrics.ScoringDuration.WithLabelValues(e.platform).Observe(time.Since(started).Seconds())

	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		metrics.ScoringRequests.WithLabelValues(e.platform, "timeout").Inc()
		e.logger.Warn("scoring batch timed out", "items", len(items), "timeout", timeout.String())
		return nil, fmt.Errorf("score %d items: %w", len(items), ErrScoringTimeout)
	case err != nil:
		metrics.ScoringRequests.WithLabelValues(e.platform, "error").Inc()
		return nil, fmt.Errorf("score %d items: %w", len(items), err)
	case scores == nil:
		metrics.ScoringRequests.WithLabelValues(e.platform, "empty").Inc()
		return nil, fmt.Errorf("score %d items: %w", len(items), ErrMalformedScores)
	}
	metrics.ScoringRequests.WithLabelValues(e.platform, "ok").Inc()
	return scores, nil
}

// revertBatch returns the batch's still-pending items to Unseen so the next
// cycle retries them, and clears their pending blur.
func (e *Engine) revertBatch(epoch, batch uint64, fresh []intakeEntry, pendingBlur bool) []domain.ContentItem {
	e.mu.Lock()
	var reverted []domain.ContentItem
	if epoch == e.epoch {
		for _, entry := range fresh {
			rec, ok := e.items[entry.item.ID]
			if !ok || rec.state != domain.StatePending || rec.batch != batch {
				continue
			}
			rec.state = domain.StateUnseen
			rec.batch = 0
			reverted = append(reverted, rec.item)
		}
	}
	e.mu.Unlock()

	metrics.ItemsReverted.WithLabelValues(e.platform).Add(float64(len(reverted)))
	if pendingBlur {
		for _, item := range reverted {
			e.renderBlur(item, domain.BlurNone)
		}
	}
	return reverted
}

type scoredEntry struct {
	item     domain.ContentItem
	score    domain.EngagementScore
	position int
}

// applyScores settles the batch's pending items. Items without a score in the
// response revert to Unseen. Scores for ids outside the batch are ignored.
func (e *Engine) applyScores(epoch, batch uint64, fresh []intakeEntry, scores []domain.EngagementScore) ([]scoredEntry, []renderUpdate, []domain.ContentItem, error) {
	byID := make(map[string]domain.EngagementScore, len(scores))
	for _, s := range scores {
		if s.PostID == "" {
			continue
		}
		if _, dup := byID[s.PostID]; dup {
			continue
		}
		if s.Bucket == "" {
			s.Bucket = domain.BucketFor(s.Value())
		}
		byID[s.PostID] = s
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return nil, nil, nil, ErrStaleCycle
	}

	var (
		scored   []scoredEntry
		updates  []renderUpdate
		reverted []domain.ContentItem
	)
	for _, entry := range fresh {
		rec, ok := e.items[entry.item.ID]
		if !ok || rec.state != domain.StatePending || rec.batch != batch {
			continue
		}
		rec.batch = 0
		score, ok := byID[entry.item.ID]
		if !ok {
			rec.state = domain.StateUnseen
			reverted = append(reverted, rec.item)
			continue
		}
		rec.score = score
		rec.hasScore = true
		rec.state = e.settledStateLocked(score)
		scored = append(scored, scoredEntry{item: rec.item, score: score, position: rec.originalPosition})
		updates = append(updates, renderUpdate{item: rec.item, decision: e.decisionLocked(rec)})
		metrics.ItemsScored.WithLabelValues(e.platform, string(score.Bucket)).Inc()
	}
	metrics.ItemsReverted.WithLabelValues(e.platform).Add(float64(len(reverted)))
	if len(reverted) > 0 {
		e.logger.Info("scores missing for part of batch", "batch", batch, "missing", len(reverted))
	}
	return scored, updates, reverted, nil
}
