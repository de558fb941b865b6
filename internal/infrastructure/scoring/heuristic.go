package scoring

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/ports"
)

var (
	countExpr = regexp.MustCompile(`(?i)(\d[\d.,]*)\s*([km]\b)?`)

	baitPhrases = []string{
		"you won't believe", "shocking", "unpopular opinion", "hot take", "ratio",
		"thoughts?", "agree?", "nobody is talking about", "this is why", "destroyed",
		"slams", "outrage", "wake up", "must watch", "gone wrong",
	}

	textFields     = []string{"title", "text", "caption", "body"}
	reactionFields = []string{"score", "likes", "views"}
	replyFields    = []string{"comments", "replies", "retweets"}
)

// Heuristic rates an item from its raw fields alone: bait wording, shouting,
// and how much argument the item draws relative to its reactions.
func Heuristic(item domain.SerializedItem) float64 {
	text := strings.ToLower(joinFields(item.Fields, textFields))

	score := 10.0
	for _, phrase := range baitPhrases {
		if strings.Contains(text, phrase) {
			score += 15
		}
	}
	score += 20 * shoutRatio(joinFields(item.Fields, textFields))
	if n := strings.Count(text, "!"); n > 0 {
		score += math.Min(float64(n)*4, 12)
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		score += 6
	}

	reactions := sumCounts(item.Fields, reactionFields)
	replies := sumCounts(item.Fields, replyFields)
	if reactions > 0 && replies > 0 {
		// Heavy discussion on little approval is the signature of a flame thread.
		ratio := replies / reactions
		score += math.Min(ratio*25, 30)
	}
	if reactions+replies > 10000 {
		score += 8
	}

	return math.Round(math.Min(math.Max(score, 0), 100))
}

// HeuristicScores returns failed scores carrying only the local heuristic.
func HeuristicScores(items []domain.SerializedItem) []domain.EngagementScore {
	out := make([]domain.EngagementScore, 0, len(items))
	for _, item := range items {
		h := Heuristic(item)
		out = append(out, domain.EngagementScore{PostID: item.ID, HeuristicScore: h, Bucket: domain.BucketFor(h)})
	}
	return out
}

// ParseCount reads counters such as "1,204", "3.4K" or "1200 Likes. Like".
func ParseCount(raw string) float64 {
	m := countExpr.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "k":
		v *= 1_000
	case "m":
		v *= 1_000_000
	}
	return v
}

func sumCounts(fields map[string]string, names []string) float64 {
	var total float64
	for _, name := range names {
		if raw, ok := fields[name]; ok {
			total += ParseCount(raw)
		}
	}
	return total
}

func joinFields(fields map[string]string, names []string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if v := fields[name]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func shoutRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 12 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// HeuristicScorer is the offline ScoringService. Every score it returns is
// a failed score, so nothing it rates is ever blurred.
type HeuristicScorer struct{}

var _ ports.ScoringService = HeuristicScorer{}

func (HeuristicScorer) ScoreItems(ctx context.Context, items []domain.SerializedItem) ([]domain.EngagementScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return HeuristicScores(items), nil
}
