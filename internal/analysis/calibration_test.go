package analysis

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedGuard/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestIsTwitter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id, group string
		want      bool
	}{
		{"t3_abc", "r/golang", false},
		{"1790000000000000001", "", true},
		{"123456789012345", "", false},
		{"abc", "@gopher", true},
		{"17900000000000000x1", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTwitter(tt.id, tt.group), tt.id+"/"+tt.group)
	}
}

func TestDistribute(t *testing.T) {
	t.Parallel()
	d := Distribute([]float64{100, 90, 80, 70, 60, 50, 40, 30, 20, 10})
	require.NotNil(t, d)

	assert.Equal(t, 10, d.N)
	assert.Equal(t, 10.0, d.Min)
	assert.Equal(t, 100.0, d.Max)
	assert.InDelta(t, 55, d.Mean, 1e-9)
	assert.Equal(t, 60.0, d.Median)
	assert.Equal(t, map[int]float64{10: 20, 25: 30, 50: 60, 75: 80, 90: 100, 95: 100}, d.Percentiles)
	assert.Equal(t, Buckets{Low: 3, Medium: 3, High: 4}, d.Buckets)

	require.Len(t, d.Histogram, 11)
	assert.Equal(t, HistogramBin{Start: 0, Count: 0, Bar: 0}, d.Histogram[0])
	assert.Equal(t, HistogramBin{Start: 100, Count: 1, Bar: 40}, d.Histogram[10])

	moderate, strict := d.Suggested()
	assert.Equal(t, 80.0, moderate)
	assert.Equal(t, 100.0, strict)

	assert.Nil(t, Distribute(nil))
}

func TestHistogramScalesBars(t *testing.T) {
	t.Parallel()
	d := Distribute([]float64{71, 72, 75, 79, 12, 45.5})
	require.NotNil(t, d)

	bars := map[int]HistogramBin{}
	for _, bin := range d.Histogram {
		bars[bin.Start] = bin
	}
	assert.Equal(t, HistogramBin{Start: 70, Count: 4, Bar: 40}, bars[70])
	assert.Equal(t, HistogramBin{Start: 40, Count: 1, Bar: 10}, bars[40])
	assert.Equal(t, HistogramBin{Start: 10, Count: 1, Bar: 10}, bars[10])
}

func TestCompare(t *testing.T) {
	t.Parallel()
	c := Compare([]CalibrationPost{
		{HeuristicScore: f(20), APIScore: f(50)},
		{HeuristicScore: f(60), APIScore: f(30)},
		{HeuristicScore: f(40), APIScore: f(45)},
		{HeuristicScore: f(40), APIScore: f(50)},
		{HeuristicScore: f(40)},
	})
	require.NotNil(t, c)
	assert.Equal(t, Comparison{Pairs: 4, MeanDiff: 3.75, Over: 1, Under: 1, Close: 2}, *c)

	assert.Nil(t, Compare([]CalibrationPost{{HeuristicScore: f(1)}}))
}

const exportJSON = `{
  "exportDate": "2026-02-01T10:00:00Z",
  "sessions": [
    {"posts": [
      {"postId": "t3_a", "subreddit": "r/golang", "bucket": "low"},
      {"postId": "t3_b", "subreddit": "r/golang", "bucket": "high"},
      {"postId": "1790000000000000001", "subreddit": "@gopher", "bucket": "medium"}
    ]},
    {"posts": [{"postId": "t3_c", "subreddit": "r/rust"}]}
  ],
  "calibration": [
    {"postId": "t3_a", "subreddit": "r/golang", "heuristicScore": 20, "apiScore": 35},
    {"postId": "t3_b", "subreddit": "r/golang", "heuristicScore": 75, "apiScore": null},
    {"postId": "1790000000000000001", "subreddit": "@gopher", "heuristicScore": 50, "apiScore": 85}
  ]
}`

func TestBuildAndWriteText(t *testing.T) {
	t.Parallel()
	export, err := LoadExport(strings.NewReader(exportJSON))
	require.NoError(t, err)

	report := Build(export)
	assert.Equal(t, 2, report.Sessions)
	assert.Equal(t, 3, report.Entries)
	require.Len(t, report.Platforms, 2)

	reddit := report.Platforms[0]
	assert.Equal(t, 2, reddit.Posts)
	assert.Equal(t, 2, reddit.Heuristic.N)
	assert.Equal(t, 1, reddit.API.N)
	assert.Equal(t, 1, reddit.Comparison.Pairs)

	twitter := report.Platforms[1]
	assert.Equal(t, 1, twitter.Posts)
	assert.Equal(t, 1, twitter.Comparison.Over)

	want := []SessionBuckets{
		{Name: "Reddit", Total: 3, Counts: map[string]int{"low": 1, "high": 1, "unknown": 1}},
		{Name: "Twitter", Total: 1, Counts: map[string]int{"medium": 1}},
	}
	if diff := cmp.Diff(want, report.SessionMixes); diff != "" {
		t.Fatalf("session mixes mismatch (-want +got):\n%s", diff)
	}

	var out bytes.Buffer
	require.NoError(t, WriteText(&out, report))
	text := out.String()
	for _, line := range []string{
		"Export Date: 2026-02-01T10:00:00Z",
		"Reddit:  2",
		"REDDIT - Heuristic Scores",
		"TWITTER - API Scores",
		"Mean difference (API - Heuristic): +15.0",
		"Reddit (3 impressions):",
		"  unknown: 1 (33.3%)",
	} {
		assert.Contains(t, text, line)
	}
}

func TestFromEntries(t *testing.T) {
	t.Parallel()
	posts := FromEntries([]domain.CalibrationEntry{
		{PostID: "a", Group: "r/golang", HeuristicScore: 12, APIScore: domain.ScoreOf(40), RecordedAt: time.Now()},
		{PostID: "b", HeuristicScore: 30},
	})
	require.Len(t, posts, 2)
	assert.Equal(t, "r/golang", posts[0].Subreddit)
	assert.Equal(t, 12.0, *posts[0].HeuristicScore)
	assert.Nil(t, posts[1].APIScore)
}
