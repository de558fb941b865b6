package scoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedGuard/internal/domain"
)

type memoryCalibration struct {
	entries []domain.CalibrationEntry
	err     error
}

func (m *memoryCalibration) SaveCalibration(_ context.Context, entries []domain.CalibrationEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entries...)
	return nil
}

type fixedScorer struct {
	scores []domain.EngagementScore
	err    error
}

func (f fixedScorer) ScoreItems(context.Context, []domain.SerializedItem) ([]domain.EngagementScore, error) {
	return f.scores, f.err
}

func TestRecorderStoresScoredItems(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := &memoryCalibration{}
	rec := NewRecorder(fixedScorer{scores: []domain.EngagementScore{
		{PostID: "a", HeuristicScore: 30, APIScore: domain.ScoreOf(80)},
		{PostID: "b", HeuristicScore: 10},
		{PostID: "w", Whitelisted: true},
		{PostID: "ghost", HeuristicScore: 5},
	}}, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec.now = func() time.Time { return at }

	items := []domain.SerializedItem{
		{ID: "a", Platform: "reddit", Group: "r/golang"},
		{ID: "b", Platform: "twitter", Group: "@gopher"},
		{ID: "w", Platform: "reddit"},
	}
	scores, err := rec.ScoreItems(context.Background(), items)
	require.NoError(t, err)
	assert.Len(t, scores, 4)

	assert.Equal(t, []domain.CalibrationEntry{
		{PostID: "a", Platform: "reddit", Group: "r/golang", HeuristicScore: 30, APIScore: domain.ScoreOf(80), RecordedAt: at},
		{PostID: "b", Platform: "twitter", Group: "@gopher", HeuristicScore: 10, RecordedAt: at},
	}, store.entries)
}

func TestRecorderIgnoresStoreFailure(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(fixedScorer{scores: []domain.EngagementScore{{PostID: "a"}}},
		&memoryCalibration{err: errors.New("disk full")}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	scores, err := rec.ScoreItems(context.Background(), []domain.SerializedItem{{ID: "a"}})
	require.NoError(t, err)
	assert.Len(t, scores, 1)
}

func TestRecorderPassesThroughScoringErrors(t *testing.T) {
	t.Parallel()
	store := &memoryCalibration{}
	rec := NewRecorder(fixedScorer{err: context.DeadlineExceeded}, store, nil)

	_, err := rec.ScoreItems(context.Background(), []domain.SerializedItem{{ID: "a"}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, store.entries)
}

func TestHeuristicScorerHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := HeuristicScorer{}.ScoreItems(ctx, []domain.SerializedItem{{ID: "a"}})
	require.ErrorIs(t, err, context.Canceled)
}
