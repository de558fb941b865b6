package engine

import (
	"context"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/metrics"
)

// recordImpressions hands the cycle's impressions to the session service in the
// background. Impressions are telemetry: failures are logged and dropped.
func (e *Engine) recordImpressions(impressions []domain.Impression) {
	if e.session == nil || len(impressions) == 0 {
		return
	}
	batch := make([]domain.Impression, len(impressions))
	copy(batch, impressions)

	spawned := e.spawn(func() {
		timeout := e.cfg.ImpressionTimeout
		if timeout <= 0 {
			timeout = DefaultConfig().ImpressionTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := e.session.LogImpressions(ctx, batch); err != nil {
			metrics.Impressions.WithLabelValues(e.platform, "dropped").Add(float64(len(batch)))
			e.logger.Debug("impression delivery failed", "count", len(batch), "error", err)
			return
		}
		metrics.Impressions.WithLabelValues(e.platform, "delivered").Add(float64(len(batch)))
	})
	if !spawned {
		metrics.Impressions.WithLabelValues(e.platform, "dropped").Add(float64(len(batch)))
		e.logger.Debug("engine stopped, impressions dropped", "count", len(batch))
	}
}
