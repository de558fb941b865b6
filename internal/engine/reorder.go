package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/metrics"
)

type reorderPlan struct {
	placement      domain.Placement
	newPositions   map[string]int
	origPositions  map[string]int
	placed         int
	skipped        int
	explicitHidden int
	implicitHidden int
}

// planReorder lays the scheduled content out in the scheduler's order.
// scheduled names the ids the scheduler was asked about; nil means every
// scanned content item. Ordered ids missing from the scan are skipped,
// scheduled ids the order does not mention are hidden, and explicitly hidden
// ids are hidden even when ordered. Interstitials and unscheduled items keep
// their slots; scheduled content fills the remaining slots in order.
func planReorder(scanned []domain.ContentItem, order domain.ScheduledOrder, scheduled map[string]bool) reorderPlan {
	plan := reorderPlan{
		newPositions:  map[string]int{},
		origPositions: map[string]int{},
	}
	movable := func(id string) bool { return scheduled == nil || scheduled[id] }

	content := map[string]domain.ContentItem{}
	var contentOrder []string
	for _, item := range scanned {
		if item.Interstitial || item.ID == "" {
			continue
		}
		if _, dup := content[item.ID]; dup {
			continue
		}
		plan.origPositions[item.ID] = len(contentOrder)
		content[item.ID] = item
		contentOrder = append(contentOrder, item.ID)
	}

	hiddenSet := make(map[string]struct{}, len(order.HiddenIDs))
	for _, id := range order.HiddenIDs {
		hiddenSet[id] = struct{}{}
	}

	var placed []domain.ContentItem
	chosen := map[string]struct{}{}
	for _, id := range order.OrderedIDs {
		item, ok := content[id]
		if !ok || !movable(id) {
			plan.skipped++
			continue
		}
		if _, hide := hiddenSet[id]; hide {
			continue
		}
		if _, done := chosen[id]; done {
			continue
		}
		chosen[id] = struct{}{}
		placed = append(placed, item)
	}
	plan.placed = len(placed)

	for _, id := range contentOrder {
		if _, ok := chosen[id]; ok || !movable(id) {
			continue
		}
		plan.placement.Hidden = append(plan.placement.Hidden, content[id])
		if _, explicit := hiddenSet[id]; explicit {
			plan.explicitHidden++
		} else {
			plan.implicitHidden++
		}
	}

	next, position := 0, 0
	seen := map[string]struct{}{}
	for _, item := range scanned {
		if item.Interstitial {
			plan.placement.Sequence = append(plan.placement.Sequence, item)
			continue
		}
		if _, dup := seen[item.ID]; dup || item.ID == "" {
			continue
		}
		seen[item.ID] = struct{}{}
		if !movable(item.ID) {
			plan.placement.Sequence = append(plan.placement.Sequence, item)
			position++
			continue
		}
		if next < len(placed) {
			plan.placement.Sequence = append(plan.placement.Sequence, placed[next])
			plan.newPositions[placed[next].ID] = position
			next++
			position++
		}
	}
	return plan
}

type arrangement struct {
	reordered   bool
	hidden      int
	impressions []domain.Impression
}

// arrange applies the reorder policy and builds this cycle's impressions.
func (e *Engine) arrange(ctx context.Context, epoch uint64, scanned []domain.ContentItem, scored []scoredEntry) (arrangement, error) {
	plan, err := e.reorder(ctx, epoch, scanned)
	if err != nil {
		return arrangement{}, err
	}

	now := e.clock.Now()
	result := arrangement{}
	if plan != nil {
		result.reordered = true
		result.hidden = len(plan.placement.Hidden)
	}
	for _, s := range scored {
		position := s.position
		if plan != nil {
			p, ok := plan.newPositions[s.item.ID]
			if !ok {
				continue
			}
			position = p
		}
		result.impressions = append(result.impressions, domain.Impression{
			Timestamp:        now,
			PostID:           s.item.ID,
			Platform:         s.item.Platform,
			Score:            s.score.Value(),
			Bucket:           s.score.Bucket,
			Position:         position,
			OriginalPosition: s.position,
			WasReordered:     position != s.position,
			SourceGroup:      s.item.SourceGroup(),
		})
	}
	if plan != nil {
		sort.SliceStable(result.impressions, func(i, j int) bool {
			return result.impressions[i].Position < result.impressions[j].Position
		})
	}
	return result, nil
}

// reorder returns nil when the cycle is record-only: baseline mode, reordering
// disabled or unsafe, no placement container, or no order from the scheduler.
func (e *Engine) reorder(ctx context.Context, epoch uint64, scanned []domain.ContentItem) (*reorderPlan, error) {
	e.mu.Lock()
	settings := e.thresholds.settings
	var ids []string
	scores := map[string]float64{}
	for _, item := range scanned {
		if item.Interstitial {
			continue
		}
		rec, ok := e.items[item.ID]
		if !ok || !rec.hasScore {
			continue
		}
		if _, dup := scores[item.ID]; dup {
			continue
		}
		ids = append(ids, item.ID)
		scores[item.ID] = rec.score.Value()
	}
	e.mu.Unlock()

	if settings.Mode != domain.ModeActive || !settings.ReorderFeed || !e.cfg.ReorderSafe || e.session == nil {
		return nil, nil
	}
	container, ok := e.adapter.LocatePlacementContainer(scanned)
	if !ok {
		return nil, nil
	}

	timeout := e.cfg.OrderTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().OrderTimeout
	}
	order, err := race(ctx, timeout, func(ctx context.Context) (*domain.ScheduledOrder, error) {
		return e.session.GetScheduledOrder(ctx, ids, scores)
	})
	if err != nil || order == nil {
		e.logger.Info("scheduled order unavailable, recording natural order", "error", err)
		return nil, nil
	}

	scheduled := make(map[string]bool, len(ids))
	for _, id := range ids {
		scheduled[id] = true
	}
	plan := planReorder(scanned, *order, scheduled)

	e.mu.Lock()
	stale := epoch != e.epoch
	e.mu.Unlock()
	if stale {
		return nil, ErrStaleCycle
	}

	if err := e.adapter.ApplyOrder(ctx, container, plan.placement); err != nil {
		e.logger.Warn("apply order failed, recording natural order", "container", container, "error", err)
		return nil, nil
	}

	metrics.HiddenItems.WithLabelValues(e.platform, "explicit").Add(float64(plan.explicitHidden))
	metrics.HiddenItems.WithLabelValues(e.platform, "unordered").Add(float64(plan.implicitHidden))
	e.logger.Info("feed reordered",
		"container", container,
		"placed", plan.placed,
		"hidden_explicit", plan.explicitHidden,
		"hidden_unordered", plan.implicitHidden,
		"skipped_missing", plan.skipped)
	return &plan, nil
}

// race runs fn with a deadline and returns as soon as either finishes, so a
// collaborator that ignores its context cannot hold the cycle.
func race[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-callCtx.Done():
		var zero T
		return zero, fmt.Errorf("call abandoned: %w", callCtx.Err())
	}
}
