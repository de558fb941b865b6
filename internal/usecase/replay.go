package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/engine"
	"FeedGuard/internal/ports"
)

// Page is one feed loaded for an offline replay.
type Page struct {
	Ref         string
	URL         string
	Adapter     ports.PlatformAdapter
	ReorderSafe bool
	Skipped     int
}

// PageLoaderFunc opens a page by file path or URL.
type PageLoaderFunc func(ctx context.Context, ref string) (Page, error)

// ReplayDeps wires the services a replay runs the engine against.
type ReplayDeps struct {
	Loader  PageLoaderFunc
	Scorer  ports.ScoringService
	Session ports.SessionService
	Engine  engine.Config
	Logger  *slog.Logger
}

// ItemOutcome is the settled state of one item after a replay.
type ItemOutcome struct {
	ID     string
	State  domain.ItemState
	Score  float64
	Bucket domain.Bucket
	Failed bool
}

// ReplayResult summarises one replayed page.
type ReplayResult struct {
	Ref       string
	URL       string
	Platform  string
	Skipped   int
	Threshold domain.ThresholdState
	Report    engine.CycleReport
	Items     []ItemOutcome
}

// Blurred counts items left obscured.
func (r ReplayResult) Blurred() int {
	n := 0
	for _, item := range r.Items {
		if item.State == domain.StateBlurred {
			n++
		}
	}
	return n
}

// Replay runs one processing cycle per saved page, the way a browser host
// would on first paint.
type Replay struct {
	deps ReplayDeps
}

// NewReplay constructs the replay use case.
func NewReplay(deps ReplayDeps) *Replay {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Replay{deps: deps}
}

// Run replays every ref in order. A page that fails to load aborts the run.
func (r *Replay) Run(ctx context.Context, refs []string) ([]ReplayResult, error) {
	if r.deps.Loader == nil {
		return nil, nil
	}

	results := make([]ReplayResult, 0, len(refs))
	for _, ref := range refs {
		page, err := r.deps.Loader(ctx, ref)
		if err != nil {
			return results, fmt.Errorf("load page %s: %w", ref, err)
		}

		result, err := r.replayPage(ctx, page)
		if err != nil {
			return results, fmt.Errorf("replay page %s: %w", ref, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Replay) replayPage(ctx context.Context, page Page) (ReplayResult, error) {
	cfg := r.deps.Engine
	cfg.ReorderSafe = page.ReorderSafe

	e := engine.New(cfg, engine.Deps{
		Adapter: page.Adapter,
		Scorer:  r.deps.Scorer,
		Session: r.deps.Session,
		Logger:  r.deps.Logger,
	})
	defer e.Stop()

	if _, err := e.RefreshThreshold(ctx); err != nil {
		r.deps.Logger.Warn("Session unavailable, using default threshold", "page", page.Ref, "error", err)
	}

	report, err := e.ProcessCycle(ctx)
	if err != nil {
		return ReplayResult{}, err
	}

	scanned, err := page.Adapter.Scan(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("scan: %w", err)
	}

	result := ReplayResult{
		Ref:       page.Ref,
		URL:       page.URL,
		Platform:  page.Adapter.Platform(),
		Skipped:   page.Skipped,
		Threshold: e.Thresholds(),
		Report:    report,
	}
	for _, item := range scanned {
		if item.Interstitial {
			continue
		}
		outcome := ItemOutcome{ID: item.ID, State: e.State(item.ID)}
		if score, _, ok := e.CachedScore(item.ID); ok {
			outcome.Score = score.Value()
			outcome.Bucket = score.Bucket
			outcome.Failed = score.Failed()
		}
		result.Items = append(result.Items, outcome)
	}

	r.deps.Logger.Info("Replayed page",
		"page", page.Ref,
		"scanned", report.Scanned,
		"scored", report.Scored,
		"blurred", result.Blurred(),
		"reordered", report.Reordered)
	return result, nil
}

// WriteReport prints a plain-text summary of replay results.
func WriteReport(w io.Writer, results []ReplayResult) error {
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "%s (%s)\n", res.Ref, res.Platform)
		fmt.Fprintf(&b, "  phase %s, threshold %.0f", res.Threshold.Phase, res.Threshold.BlurThreshold)
		if res.Threshold.QualityModeEnabled {
			b.WriteString(" (quality mode)")
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "  scanned %d, scored %d, blurred %d, hidden %d, skipped %d\n",
			res.Report.Scanned, res.Report.Scored, res.Blurred(), res.Report.Hidden, res.Skipped)

		items := append([]ItemOutcome(nil), res.Items...)
		sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
		for _, item := range items {
			mark := " "
			switch {
			case item.State == domain.StateBlurred:
				mark = "#"
			case item.Failed:
				mark = "?"
			}
			fmt.Fprintf(&b, "  %s %5.1f %-6s %s\n", mark, item.Score, item.Bucket, item.ID)
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
