package engine

import (
	"context"
	"fmt"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/metrics"
)

type thresholdManager struct {
	state            domain.ThresholdState
	settings         domain.Settings
	qualityThreshold float64
}

func newThresholdManager(cfg Config) thresholdManager {
	return thresholdManager{
		state: domain.ThresholdState{
			Phase:         domain.PhaseNormal,
			BlurThreshold: cfg.DefaultThreshold,
		},
		settings: domain.Settings{
			Mode:        domain.ModeActive,
			PendingBlur: cfg.PendingBlur,
		},
		qualityThreshold: cfg.QualityModeThreshold,
	}
}

func (t thresholdManager) effective() float64 {
	if t.state.QualityModeEnabled {
		return t.qualityThreshold
	}
	return t.state.BlurThreshold
}

// RefreshThreshold asks the session service for the current phase and its
// threshold. Cached items are re-evaluated only when the state changed; a
// missing threshold keeps the prior value while the quality-mode flag still
// follows the session.
func (e *Engine) RefreshThreshold(ctx context.Context) (bool, error) {
	if e.session == nil {
		return false, nil
	}

	session, err := e.session.GetSession(ctx)
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return false, nil
	}

	threshold, err := e.session.GetEffectiveThreshold(ctx, session.Phase)
	if err != nil {
		return false, fmt.Errorf("get effective threshold: %w", err)
	}

	e.mu.Lock()
	prevMode := e.thresholds.settings.Mode
	e.thresholds.settings = session.Settings
	if e.thresholds.settings.Mode == "" {
		e.thresholds.settings.Mode = domain.ModeActive
	}
	modeChanged := prevMode != e.thresholds.settings.Mode

	// A missing threshold keeps the prior phase and value only.
	next := e.thresholds.state
	next.QualityModeEnabled = session.Settings.QualityMode
	if threshold != nil {
		next.Phase = session.Phase
		next.BlurThreshold = *threshold
	}
	if next == e.thresholds.state && !modeChanged {
		e.mu.Unlock()
		return false, nil
	}
	prev := e.thresholds.state
	e.thresholds.state = next
	effective := e.thresholds.effective()
	updates := e.reevaluateLocked()
	e.mu.Unlock()

	metrics.BlurThreshold.WithLabelValues(e.platform).Set(effective)
	e.logger.Info("blur threshold changed",
		"phase", next.Phase,
		"previous_phase", prev.Phase,
		"threshold", effective,
		"quality_mode", next.QualityModeEnabled,
		"flipped", len(updates))

	for _, u := range updates {
		e.render(u.item, u.decision)
	}
	return true, nil
}

type renderUpdate struct {
	item     domain.ContentItem
	decision domain.Decision
}

// reevaluateLocked flips scored, non-revealed items whose blur decision changed.
func (e *Engine) reevaluateLocked() []renderUpdate {
	var updates []renderUpdate
	for _, rec := range e.items {
		if !rec.hasScore {
			continue
		}
		if rec.state != domain.StateBlurred && rec.state != domain.StateClear {
			continue
		}
		next := e.settledStateLocked(rec.score)
		if next == rec.state {
			continue
		}
		rec.state = next
		if next != domain.StateBlurred {
			e.reveals.cancel(rec.item.ID)
		}
		updates = append(updates, renderUpdate{item: rec.item, decision: e.decisionLocked(rec)})
	}
	return updates
}

// VisibilityChanged refreshes thresholds and rescans when the tab becomes visible.
func (e *Engine) VisibilityChanged(ctx context.Context, visible bool) {
	if !visible {
		return
	}
	if _, err := e.RefreshThreshold(ctx); err != nil {
		e.logger.Debug("threshold refresh on visibility failed", "error", err)
	}
	e.Notify()
}

// Heartbeat pings the session service; failures are only logged.
func (e *Engine) Heartbeat(ctx context.Context) {
	if e.session == nil {
		return
	}
	if err := e.session.Heartbeat(ctx); err != nil {
		e.logger.Debug("heartbeat failed", "error", err)
	}
}
