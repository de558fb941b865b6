package domain

import "time"

// Bucket is the coarse engagement classification.
type Bucket string

const (
	BucketLow    Bucket = "low"
	BucketMedium Bucket = "medium"
	BucketHigh   Bucket = "high"
)

const (
	MediumBucketFloor = 40
	HighBucketFloor   = 70
)

// BucketFor classifies a score with the low < 40 <= medium < 70 <= high cut-offs.
func BucketFor(score float64) Bucket {
	switch {
	case score >= HighBucketFloor:
		return BucketHigh
	case score >= MediumBucketFloor:
		return BucketMedium
	default:
		return BucketLow
	}
}

// EngagementScore is the scorer's verdict for a single post.
// A nil APIScore means remote scoring failed for this post.
type EngagementScore struct {
	PostID         string   `json:"postId"`
	HeuristicScore float64  `json:"heuristicScore"`
	APIScore       *float64 `json:"apiScore,omitempty"`
	Bucket         Bucket   `json:"bucket"`
	APIReason      string   `json:"apiReason,omitempty"`
	Whitelisted    bool     `json:"whitelisted,omitempty"`
}

// Failed reports whether the remote score is missing.
func (s EngagementScore) Failed() bool {
	return s.APIScore == nil
}

// Value returns the score used for display and impressions.
func (s EngagementScore) Value() float64 {
	if s.APIScore != nil {
		return *s.APIScore
	}
	return s.HeuristicScore
}

// ScoreOf is a small helper for building optional API scores.
func ScoreOf(v float64) *float64 {
	return &v
}

// ShouldBlur decides whether a scored item is obscured at the given threshold.
// Whitelisted and failed scores are never blurred.
func ShouldBlur(score EngagementScore, threshold float64) bool {
	if score.Whitelisted || score.APIScore == nil {
		return false
	}
	return threshold <= *score.APIScore
}

// CalibrationEntry is one scored post kept for threshold calibration.
type CalibrationEntry struct {
	PostID         string    `json:"postId"`
	Platform       string    `json:"platform"`
	Group          string    `json:"subreddit,omitempty"`
	HeuristicScore float64   `json:"heuristicScore"`
	APIScore       *float64  `json:"apiScore"`
	RecordedAt     time.Time `json:"timestamp"`
}
