// Package analysis summarises recorded engagement scores so blur thresholds
// can be tuned per platform.
package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"FeedGuard/internal/domain"
)

// Percentiles reported for every distribution.
var Percentiles = []int{10, 25, 50, 75, 90, 95}

// CalibrationPost is one scored post as found in an export or the store.
type CalibrationPost struct {
	PostID         string   `json:"postId"`
	Subreddit      string   `json:"subreddit"`
	HeuristicScore *float64 `json:"heuristicScore"`
	APIScore       *float64 `json:"apiScore"`
}

// SessionPost is one impression inside an exported session.
type SessionPost struct {
	PostID    string `json:"postId"`
	Subreddit string `json:"subreddit"`
	Bucket    string `json:"bucket"`
}

// ExportSession groups the impressions of one session.
type ExportSession struct {
	Posts []SessionPost `json:"posts"`
}

// Export is the data dump analysed by Build.
type Export struct {
	ExportDate  string            `json:"exportDate"`
	Sessions    []ExportSession   `json:"sessions"`
	Calibration []CalibrationPost `json:"calibration"`
}

// LoadExport decodes an export document.
func LoadExport(r io.Reader) (Export, error) {
	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return Export{}, fmt.Errorf("decode export: %w", err)
	}
	return export, nil
}

// FromEntries converts stored calibration entries into export posts.
func FromEntries(entries []domain.CalibrationEntry) []CalibrationPost {
	posts := make([]CalibrationPost, 0, len(entries))
	for _, e := range entries {
		h := e.HeuristicScore
		posts = append(posts, CalibrationPost{
			PostID:         e.PostID,
			Subreddit:      e.Group,
			HeuristicScore: &h,
			APIScore:       e.APIScore,
		})
	}
	return posts
}

// IsTwitter detects timeline posts: handles start with "@" and status ids are
// long numbers.
func IsTwitter(postID, group string) bool {
	if strings.HasPrefix(group, "@") {
		return true
	}
	if len(postID) <= 15 {
		return false
	}
	for _, r := range postID {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Buckets counts scores per engagement bucket.
type Buckets struct {
	Low    int
	Medium int
	High   int
}

// HistogramBin covers [Start, Start+9].
type HistogramBin struct {
	Start int
	Count int
	Bar   int
}

// Distribution describes one set of scores.
type Distribution struct {
	N           int
	Min         float64
	Max         float64
	Mean        float64
	Median      float64
	Percentiles map[int]float64
	Buckets     Buckets
	Histogram   []HistogramBin
}

// Suggested returns the thresholds that would blur roughly the top quarter
// and the top tenth of posts.
func (d Distribution) Suggested() (moderate, strict float64) {
	return d.Percentiles[75], d.Percentiles[90]
}

// Distribute computes the statistics of scores. It returns nil for no data.
func Distribute(scores []float64) *Distribution {
	if len(scores) == 0 {
		return nil
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	n := len(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}

	d := &Distribution{
		N:           n,
		Min:         sorted[0],
		Max:         sorted[n-1],
		Mean:        sum / float64(n),
		Median:      sorted[n/2],
		Percentiles: make(map[int]float64, len(Percentiles)),
	}
	for _, p := range Percentiles {
		idx := n * p / 100
		if idx > n-1 {
			idx = n - 1
		}
		d.Percentiles[p] = sorted[idx]
	}

	counts := map[int]int{}
	maxCount := 0
	for _, s := range sorted {
		switch domain.BucketFor(s) {
		case domain.BucketHigh:
			d.Buckets.High++
		case domain.BucketMedium:
			d.Buckets.Medium++
		default:
			d.Buckets.Low++
		}
		bin := int(math.Floor(s/10)) * 10
		counts[bin]++
		if counts[bin] > maxCount {
			maxCount = counts[bin]
		}
	}
	for start := 0; start <= 100; start += 10 {
		bin := HistogramBin{Start: start, Count: counts[start]}
		if maxCount > 0 {
			bin.Bar = 40 * bin.Count / maxCount
		}
		d.Histogram = append(d.Histogram, bin)
	}
	return d
}

// Comparison pairs heuristic and API scores of the same posts.
type Comparison struct {
	Pairs    int
	MeanDiff float64
	Over     int
	Under    int
	Close    int
}

// Compare reports how far API scores land from the heuristic, as API minus
// heuristic. Posts without an API score are left out.
func Compare(posts []CalibrationPost) *Comparison {
	c := &Comparison{}
	var sum float64
	for _, p := range posts {
		if p.HeuristicScore == nil || p.APIScore == nil {
			continue
		}
		diff := *p.APIScore - *p.HeuristicScore
		sum += diff
		c.Pairs++
		switch {
		case diff > 10:
			c.Over++
		case diff < -10:
			c.Under++
		default:
			c.Close++
		}
	}
	if c.Pairs == 0 {
		return nil
	}
	c.MeanDiff = sum / float64(c.Pairs)
	return c
}

// PlatformReport is the calibration summary of one platform.
type PlatformReport struct {
	Name       string
	Posts      int
	Heuristic  *Distribution
	API        *Distribution
	Comparison *Comparison
}

// SessionBuckets counts impressions per bucket label for one platform.
type SessionBuckets struct {
	Name   string
	Total  int
	Counts map[string]int
}

// Report is the full analysis of an export.
type Report struct {
	ExportDate   string
	Sessions     int
	Entries      int
	Platforms    []PlatformReport
	SessionMixes []SessionBuckets
}

// Build analyses an export, splitting posts into Reddit and Twitter.
func Build(export Export) Report {
	report := Report{
		ExportDate: export.ExportDate,
		Sessions:   len(export.Sessions),
		Entries:    len(export.Calibration),
	}

	var reddit, twitter []CalibrationPost
	for _, p := range export.Calibration {
		if IsTwitter(p.PostID, p.Subreddit) {
			twitter = append(twitter, p)
		} else {
			reddit = append(reddit, p)
		}
	}
	report.Platforms = []PlatformReport{
		platformReport("Reddit", reddit),
		platformReport("Twitter", twitter),
	}

	redditMix := SessionBuckets{Name: "Reddit", Counts: map[string]int{}}
	twitterMix := SessionBuckets{Name: "Twitter", Counts: map[string]int{}}
	for _, session := range export.Sessions {
		for _, post := range session.Posts {
			mix := &redditMix
			if IsTwitter(post.PostID, post.Subreddit) {
				mix = &twitterMix
			}
			bucket := post.Bucket
			if bucket == "" {
				bucket = "unknown"
			}
			mix.Counts[bucket]++
			mix.Total++
		}
	}
	report.SessionMixes = []SessionBuckets{redditMix, twitterMix}
	return report
}

func platformReport(name string, posts []CalibrationPost) PlatformReport {
	var heuristic, api []float64
	for _, p := range posts {
		if p.HeuristicScore != nil {
			heuristic = append(heuristic, *p.HeuristicScore)
		}
		if p.APIScore != nil {
			api = append(api, *p.APIScore)
		}
	}
	return PlatformReport{
		Name:       name,
		Posts:      len(posts),
		Heuristic:  Distribute(heuristic),
		API:        Distribute(api),
		Comparison: Compare(posts),
	}
}
