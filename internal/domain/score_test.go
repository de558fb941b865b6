package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Bucket
	}{
		{0, BucketLow},
		{39.9, BucketLow},
		{40, BucketMedium},
		{69, BucketMedium},
		{70, BucketHigh},
		{100, BucketHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketFor(tt.score), "score %v", tt.score)
	}
}

func TestShouldBlurIsMonotonicInThreshold(t *testing.T) {
	for s := 0.0; s <= 100; s += 5 {
		score := EngagementScore{APIScore: ScoreOf(s)}
		blurredAt := -1.0
		for threshold := 100.0; threshold >= 0; threshold-- {
			if ShouldBlur(score, threshold) {
				blurredAt = threshold
				break
			}
		}
		for threshold := blurredAt; threshold >= 0; threshold-- {
			assert.True(t, ShouldBlur(score, threshold), "score %v threshold %v", s, threshold)
		}
	}
}

func TestShouldBlurExclusions(t *testing.T) {
	assert.True(t, ShouldBlur(EngagementScore{APIScore: ScoreOf(70)}, 70))
	assert.False(t, ShouldBlur(EngagementScore{APIScore: ScoreOf(69.5)}, 70))
	assert.False(t, ShouldBlur(EngagementScore{APIScore: ScoreOf(99), Whitelisted: true}, 10))
	assert.False(t, ShouldBlur(EngagementScore{HeuristicScore: 99}, 10), "failed scores are never blurred")
}

func TestScoreValuePrefersAPIScore(t *testing.T) {
	assert.Equal(t, 42.0, EngagementScore{HeuristicScore: 10, APIScore: ScoreOf(42)}.Value())
	assert.Equal(t, 10.0, EngagementScore{HeuristicScore: 10}.Value())
	assert.True(t, EngagementScore{HeuristicScore: 10}.Failed())
}

func TestItemStateProcessed(t *testing.T) {
	assert.False(t, StateUnseen.Processed())
	assert.False(t, StatePending.Processed())
	assert.True(t, StateBlurred.Processed())
	assert.True(t, StateClear.Processed())
	assert.True(t, StateRevealed.Processed())
}
