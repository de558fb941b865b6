package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"FeedGuard/internal/domain"
)

func TestParseCount(t *testing.T) {
	cases := map[string]float64{
		"1,204":            1204,
		"3.4K":             3400,
		"2M views":         2_000_000,
		"1200 Likes. Like": 1200,
		"":                 0,
		"Reply":            0,
	}
	for raw, want := range cases {
		assert.InDelta(t, want, ParseCount(raw), 0.001, raw)
	}
}

func TestHeuristicRanksBaitAboveNeutral(t *testing.T) {
	neutral := domain.SerializedItem{ID: "n", Fields: map[string]string{
		"title": "Release notes for the new scheduler", "score": "420", "comments": "31",
	}}
	bait := domain.SerializedItem{ID: "b", Fields: map[string]string{
		"title": "UNPOPULAR OPINION: this is why everyone is WRONG!!! Thoughts?", "score": "40", "comments": "900",
	}}

	n, b := Heuristic(neutral), Heuristic(bait)
	assert.Less(t, n, 40.0)
	assert.GreaterOrEqual(t, b, 70.0)
	assert.LessOrEqual(t, b, 100.0)
}

func TestHeuristicScoresAreFailed(t *testing.T) {
	scores := HeuristicScores([]domain.SerializedItem{{ID: "a"}, {ID: "b"}})
	assert.Len(t, scores, 2)
	for _, s := range scores {
		assert.True(t, s.Failed())
		assert.Equal(t, domain.BucketFor(s.HeuristicScore), s.Bucket)
	}
}
