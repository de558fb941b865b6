// Package engine drives the per-page intervention pipeline: intake, scoring,
// blur decisions, hover reveal, reordering and impression logging.
//
// One Engine owns the state of one page context. All state sits behind a single
// mutex; calls into adapters and services are made outside of it, and results of
// work started before a navigation reset are discarded by comparing epochs.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/metrics"
	"FeedGuard/internal/ports"
)

var (
	ErrCycleInFlight   = errors.New("processing cycle already in flight")
	ErrScoringTimeout  = errors.New("scoring request timed out")
	ErrMalformedScores = errors.New("scoring response missing")
	ErrStaleCycle      = errors.New("cycle invalidated by navigation")
)

// Config tunes the timeouts and defaults of an Engine.
type Config struct {
	ScoringTimeout         time.Duration
	OrderTimeout           time.Duration
	ImpressionTimeout      time.Duration
	StuckCycleTimeout      time.Duration
	StaleProcessingTimeout time.Duration
	RevealDelay            time.Duration
	DefaultThreshold       float64
	QualityModeThreshold   float64
	PendingBlur            bool
	// ReorderSafe is false on platforms where moving nodes breaks the host layout.
	ReorderSafe bool
}

// DefaultConfig mirrors the timings of the browser extension.
func DefaultConfig() Config {
	return Config{
		ScoringTimeout:         10 * time.Second,
		OrderTimeout:           5 * time.Second,
		ImpressionTimeout:      5 * time.Second,
		StuckCycleTimeout:      15 * time.Second,
		StaleProcessingTimeout: 5 * time.Second,
		RevealDelay:            3 * time.Second,
		DefaultThreshold:       70,
		QualityModeThreshold:   35,
		PendingBlur:            true,
	}
}

// Deps wires the collaborators of an Engine. Only Adapter is required.
type Deps struct {
	Adapter  ports.PlatformAdapter
	Scorer   ports.ScoringService
	Session  ports.SessionService
	Detector ports.ChangeDetector
	Clock    Clock
	Logger   *slog.Logger
}

type itemRecord struct {
	item             domain.ContentItem
	state            domain.ItemState
	batch            uint64
	score            domain.EngagementScore
	hasScore         bool
	originalPosition int
}

// Engine is the intervention pipeline for one page context.
type Engine struct {
	cfg      Config
	adapter  ports.PlatformAdapter
	scorer   ports.ScoringService
	session  ports.SessionService
	detector ports.ChangeDetector
	clock    Clock
	logger   *slog.Logger
	platform string

	mu            sync.Mutex
	epoch         uint64
	epochCtx      context.Context
	epochCancel   context.CancelFunc
	lock          cycleLock
	nextCycle     uint64
	nextBatch     uint64
	rearming      bool
	url           string
	items         map[string]*itemRecord
	unbadgedSince map[string]time.Time
	thresholds    thresholdManager
	reveals       revealRegistry

	signals chan struct{}
	started bool
	stopped bool // set by Stop; no background work is spawned after it
	runCtx  context.Context
	stopRun context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an Engine. It does not touch the page until Start or ProcessCycle.
func New(cfg Config, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	platform := ""
	if deps.Adapter != nil {
		platform = deps.Adapter.Platform()
	}

	epochCtx, epochCancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:           cfg,
		adapter:       deps.Adapter,
		scorer:        deps.Scorer,
		session:       deps.Session,
		detector:      deps.Detector,
		clock:         deps.Clock,
		logger:        deps.Logger.With("platform", platform),
		platform:      platform,
		epochCtx:      epochCtx,
		epochCancel:   epochCancel,
		items:         map[string]*itemRecord{},
		unbadgedSince: map[string]time.Time{},
		thresholds:    newThresholdManager(cfg),
		reveals:       newRevealRegistry(),
		signals:       make(chan struct{}, 1),
	}
	metrics.BlurThreshold.WithLabelValues(platform).Set(e.thresholds.effective())
	return e
}

// Start arms the change detector and runs queued cycles until Stop or ctx ends.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.stopped = false
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.stopRun = cancel
	e.mu.Unlock()

	e.armDetector(runCtx)

	e.wg.Add(1)
	go e.loop(runCtx)
	e.Notify()
}

// Stop disconnects the detector, cancels timers and waits for background work.
func (e *Engine) Stop() {
	e.mu.Lock()
	stopRun := e.stopRun
	e.stopRun = nil
	e.started = false
	e.stopped = true
	e.epochCancel()
	e.reveals.cancelAll()
	e.mu.Unlock()

	if stopRun != nil {
		stopRun()
	}
	if e.detector != nil {
		e.detector.Disconnect()
	}
	e.wg.Wait()
}

// Notify requests a processing cycle. Bursts coalesce into one queued run.
func (e *Engine) Notify() {
	select {
	case e.signals <- struct{}{}:
	default:
	}
}

// Platform names the adapter this engine drives.
func (e *Engine) Platform() string {
	return e.platform
}

// State returns the lifecycle state of an item id.
func (e *Engine) State(id string) domain.ItemState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.items[id]; ok {
		return rec.state
	}
	return domain.StateUnseen
}

// CachedScore returns the cached score and original position of an item.
func (e *Engine) CachedScore(id string) (domain.EngagementScore, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.items[id]
	if !ok || !rec.hasScore {
		return domain.EngagementScore{}, 0, false
	}
	return rec.score, rec.originalPosition, true
}

// Thresholds returns the threshold state applied by blur decisions.
func (e *Engine) Thresholds() domain.ThresholdState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds.state
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.signals:
			if _, err := e.ProcessCycle(ctx); err != nil && !errors.Is(err, ErrCycleInFlight) {
				e.logger.Warn("processing cycle failed", "error", err)
			}
		}
	}
}

func (e *Engine) armDetector(ctx context.Context) {
	if e.detector == nil {
		return
	}
	e.detector.OnChange(e.Notify)
	e.detector.OnNavigate(func(url string) {
		// Navigate disconnects the detector, so it must not run on the detector's goroutine.
		e.spawn(func() {
			if ctx.Err() != nil {
				return
			}
			e.Navigate(url)
		})
	})
}

// spawn runs fn in the background, tracked by Stop. After Stop it reports
// false and fn is dropped.
func (e *Engine) spawn(fn func()) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

// render applies a decision to a live node; stale handles are skipped and
// picked up again from the score cache on the next scan.
func (e *Engine) render(item domain.ContentItem, decision domain.Decision) {
	if !item.Live() {
		return
	}
	if err := e.adapter.RenderBadge(item, decision); err != nil {
		e.logger.Debug("render badge failed", "post_id", item.ID, "error", err)
	}
	if err := e.adapter.RenderBlur(item, decision.Blur); err != nil {
		e.logger.Debug("render blur failed", "post_id", item.ID, "error", err)
	}
}

func (e *Engine) renderBlur(item domain.ContentItem, blur domain.BlurKind) {
	if !item.Live() {
		return
	}
	if err := e.adapter.RenderBlur(item, blur); err != nil {
		e.logger.Debug("render blur failed", "post_id", item.ID, "error", err)
	}
}

// decisionLocked derives the render decision for a scored record.
func (e *Engine) decisionLocked(rec *itemRecord) domain.Decision {
	decision := domain.Decision{
		PostID:    rec.item.ID,
		Score:     rec.score,
		Threshold: e.thresholds.effective(),
		Reason:    rec.score.APIReason,
		Badge:     domain.BadgeScored,
		Blur:      domain.BlurNone,
	}
	switch {
	case rec.score.Whitelisted:
		decision.Badge = domain.BadgeWhitelisted
	case rec.score.Failed():
		decision.Badge = domain.BadgeFailed
	}
	switch rec.state {
	case domain.StateBlurred:
		decision.Blur = domain.BlurEngaged
	case domain.StateRevealed:
		decision.Blur = domain.BlurRevealed
	}
	return decision
}

// settledStateLocked maps a score to Blurred or Clear under the current threshold.
func (e *Engine) settledStateLocked(score domain.EngagementScore) domain.ItemState {
	if e.thresholds.settings.Mode == domain.ModeBaseline {
		return domain.StateClear
	}
	if domain.ShouldBlur(score, e.thresholds.effective()) {
		return domain.StateBlurred
	}
	return domain.StateClear
}
