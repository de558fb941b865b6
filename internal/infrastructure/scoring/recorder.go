package scoring

import (
	"context"
	"log/slog"
	"time"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/ports"
)

// Recorder wraps a ScoringService and keeps every returned score for
// threshold calibration. Store failures are logged and never fail scoring.
type Recorder struct {
	next  ports.ScoringService
	store ports.CalibrationStore
	log   *slog.Logger
	now   func() time.Time
}

var _ ports.ScoringService = (*Recorder)(nil)

// NewRecorder decorates next. A nil store disables recording.
func NewRecorder(next ports.ScoringService, store ports.CalibrationStore, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{next: next, store: store, log: log, now: time.Now}
}

func (r *Recorder) ScoreItems(ctx context.Context, items []domain.SerializedItem) ([]domain.EngagementScore, error) {
	scores, err := r.next.ScoreItems(ctx, items)
	if err != nil || r.store == nil || len(scores) == 0 {
		return scores, err
	}

	byID := make(map[string]domain.SerializedItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	at := r.now()
	entries := make([]domain.CalibrationEntry, 0, len(scores))
	for _, score := range scores {
		item, ok := byID[score.PostID]
		if !ok || score.Whitelisted {
			continue
		}
		entries = append(entries, domain.CalibrationEntry{
			PostID:         score.PostID,
			Platform:       item.Platform,
			Group:          item.Group,
			HeuristicScore: score.HeuristicScore,
			APIScore:       score.APIScore,
			RecordedAt:     at,
		})
	}

	if err := r.store.SaveCalibration(ctx, entries); err != nil {
		r.log.Warn("Failed to record calibration scores", "count", len(entries), "error", err)
	}
	return scores, nil
}
