package domain

import "time"

// Impression records one processed item as it was shown in one cycle.
type Impression struct {
	Timestamp        time.Time `json:"timestamp"`
	PostID           string    `json:"postId"`
	Platform         string    `json:"platform"`
	Score            float64   `json:"score"`
	Bucket           Bucket    `json:"bucket"`
	Position         int       `json:"position"`
	OriginalPosition int       `json:"originalPosition"`
	WasReordered     bool      `json:"wasReordered"`
	SourceGroup      string    `json:"sourceGroup"`
}

// BadgeKind selects which badge variant the renderer draws.
type BadgeKind string

const (
	BadgeScored      BadgeKind = "scored"
	BadgeFailed      BadgeKind = "failed"
	BadgeWhitelisted BadgeKind = "whitelisted"
)

// BlurKind selects the overlay state of an item.
type BlurKind string

const (
	BlurNone     BlurKind = "none"
	BlurPending  BlurKind = "pending"
	BlurEngaged  BlurKind = "engaged"
	BlurRevealed BlurKind = "revealed"
)

// Decision is what the engine hands to a renderer for one item.
type Decision struct {
	PostID    string
	Badge     BadgeKind
	Blur      BlurKind
	Score     EngagementScore
	Threshold float64
	Reason    string
}

// Placement is the outcome of a reorder for one placement container.
// Sequence interleaves content and interstitial items in final order.
type Placement struct {
	Sequence []ContentItem
	Hidden   []ContentItem
}
