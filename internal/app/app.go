package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"FeedGuard/internal/analysis"
	"FeedGuard/internal/config"
	"FeedGuard/internal/dom"
	"FeedGuard/internal/engine"
	"FeedGuard/internal/infrastructure/browser"
	"FeedGuard/internal/infrastructure/llm"
	"FeedGuard/internal/infrastructure/parser"
	"FeedGuard/internal/infrastructure/scheduler"
	"FeedGuard/internal/infrastructure/scoring"
	"FeedGuard/internal/infrastructure/session"
	"FeedGuard/internal/infrastructure/storage"
	"FeedGuard/internal/metrics"
	"FeedGuard/internal/platform"
	"FeedGuard/internal/ports"
	"FeedGuard/internal/usecase"
	"FeedGuard/pkg/logger"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *platform.Registry
}

// New builds an application around cfg.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = slog.Default()
	}
	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		registry: buildRegistry(cfg.Platforms),
	}
}

// Registry exposes the platform profiles after config overrides.
func (a *Application) Registry() *platform.Registry {
	return a.registry
}

// buildRegistry starts from the built-in profiles and applies overrides.
// Unknown names register new profiles.
func buildRegistry(overrides []config.PlatformConfig) *platform.Registry {
	reg := platform.Builtin()
	for _, o := range overrides {
		if o.Name == "" {
			continue
		}
		p, err := reg.Resolve(o.Name)
		if err != nil {
			p = platform.Profile{Name: o.Name, IDAttr: "id"}
		}
		if len(o.Hosts) > 0 {
			p.Hosts = o.Hosts
		}
		if o.ItemSelector != "" {
			p.ItemSelector = o.ItemSelector
		}
		if o.InterstitialSelector != "" {
			p.InterstitialSelector = o.InterstitialSelector
		}
		if o.ContainerSelector != "" {
			p.ContainerSelector = o.ContainerSelector
		}
		if o.ReorderSafe != nil {
			p.ReorderSafe = *o.ReorderSafe
		}
		reg.Register(p)
	}
	return reg
}

// EngineConfig maps configuration onto engine settings.
func (a *Application) EngineConfig() engine.Config {
	e := a.cfg.Engine
	cfg := engine.DefaultConfig()
	if e.ScoringTimeout > 0 {
		cfg.ScoringTimeout = e.ScoringTimeout
	}
	if e.OrderTimeout > 0 {
		cfg.OrderTimeout = e.OrderTimeout
	}
	if e.ImpressionTimeout > 0 {
		cfg.ImpressionTimeout = e.ImpressionTimeout
	}
	if e.StuckCycleTimeout > 0 {
		cfg.StuckCycleTimeout = e.StuckCycleTimeout
	}
	if e.StaleProcessingTimeout > 0 {
		cfg.StaleProcessingTimeout = e.StaleProcessingTimeout
	}
	if e.RevealDelay > 0 {
		cfg.RevealDelay = e.RevealDelay
	}
	if e.DefaultThreshold > 0 {
		cfg.DefaultThreshold = e.DefaultThreshold
	}
	if e.QualityModeThreshold > 0 {
		cfg.QualityModeThreshold = e.QualityModeThreshold
	}
	cfg.PendingBlur = !e.DisablePendingBlur
	return cfg
}

// openStore connects the configured database. An empty DSN disables storage.
func (a *Application) openStore(ctx context.Context) (*storage.Repository, io.Closer, error) {
	if a.cfg.Database.DSN == "" {
		return nil, nil, nil
	}
	db, dialect, err := storage.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	repo := storage.NewRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

// Scorer picks the scoring backend. Scores are recorded when store is set.
func (a *Application) Scorer(store ports.CalibrationStore) (ports.ScoringService, error) {
	var base ports.ScoringService
	switch a.cfg.Scoring.Backend {
	case config.BackendHTTP:
		base = scoring.NewClient(a.cfg.Scoring.Endpoint, a.cfg.Scoring.APIKey)
	case config.BackendChat:
		base = llm.NewChatGPTScorer(a.cfg.ChatGPT, logger.Component(a.logger, "scorer.chat"))
	case config.BackendHeuristic, "":
		base = scoring.HeuristicScorer{}
	default:
		return nil, fmt.Errorf("unknown scoring backend %q", a.cfg.Scoring.Backend)
	}
	if store == nil {
		return base, nil
	}
	return scoring.NewRecorder(base, store, logger.Component(a.logger, "scorer.recorder")), nil
}

// Session returns the remote session client when an endpoint is configured,
// otherwise the local service.
func (a *Application) Session(store ports.ImpressionStore) ports.SessionService {
	if a.cfg.Session.Endpoint != "" {
		return session.NewClient(a.cfg.Session.Endpoint)
	}
	return session.NewLocalService(a.cfg.Session, store, logger.Component(a.logger, "session"),
		session.WithPendingBlur(!a.cfg.Engine.DisablePendingBlur))
}

// Run drives a live browser tab until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	repo, closer, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	var (
		impressions ports.ImpressionStore
		calibration ports.CalibrationStore
	)
	if repo != nil {
		impressions, calibration = repo, repo
	}
	scorer, err := a.Scorer(calibration)
	if err != nil {
		return err
	}
	sessions := a.Session(impressions)

	profile, err := a.registry.Match(a.cfg.Browser.StartURL)
	if err != nil {
		return err
	}

	host := browser.NewHost(a.cfg.Browser, logger.Component(a.logger, "browser"))
	if err := host.Connect(ctx); err != nil {
		return err
	}
	defer host.Close()

	page, err := host.Open(ctx, a.cfg.Browser.StartURL)
	if err != nil {
		return err
	}

	adapter := browser.NewAdapter(page, profile, 2*time.Second)
	watcher := browser.NewWatcher(page, adapter, a.cfg.Browser.PollInterval, logger.Component(a.logger, "watcher"))

	engineCfg := a.EngineConfig()
	engineCfg.ReorderSafe = profile.ReorderSafe
	eng := engine.New(engineCfg, engine.Deps{
		Adapter:  adapter,
		Scorer:   scorer,
		Session:  sessions,
		Detector: watcher,
		Logger:   logger.Component(a.logger, "engine"),
	})

	watcher.OnHover(func(id string, entered bool) {
		if entered {
			eng.HoverEnter(id)
			return
		}
		eng.HoverLeave(id)
	})
	watcher.OnVisibility(func(visible bool) {
		eng.VisibilityChanged(ctx, visible)
	})

	if _, err := eng.RefreshThreshold(ctx); err != nil {
		a.logger.Warn("Initial threshold refresh failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	eng.Start(gctx)
	defer eng.Stop()

	jobs := usecase.NewScheduler(usecase.SchedulerDrivers{
		Threshold: scheduler.NewTickerScheduler(a.cfg.Engine.ThresholdInterval, false),
		Heartbeat: scheduler.NewTickerScheduler(a.cfg.Engine.HeartbeatInterval, true),
		Recovery:  scheduler.NewTickerScheduler(a.cfg.Engine.RecoveryInterval, false),
	}, eng, logger.Component(a.logger, "scheduler"))
	if err := jobs.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jobs.Stop(stopCtx)
	}()

	g.Go(func() error {
		return metrics.Serve(gctx, a.cfg.Metrics.Addr, a.logger)
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})

	a.logger.Info("FeedGuard running", "platform", profile.Name, "url", a.cfg.Browser.StartURL)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Replay runs saved or fetched pages through the engine and prints a report.
// Scores and impressions are persisted only when record is set.
func (a *Application) Replay(ctx context.Context, refs []string, pageURL string, record bool, w io.Writer) error {
	var (
		impressions ports.ImpressionStore
		calibration ports.CalibrationStore
	)
	if record {
		repo, closer, err := a.openStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if closer != nil {
			defer closer.Close()
		}
		if repo != nil {
			impressions, calibration = repo, repo
		}
	}

	scorer, err := a.Scorer(calibration)
	if err != nil {
		return err
	}

	loader := parser.NewSnapshotLoader(a.registry, nil, logger.Component(a.logger, "snapshot"))
	replay := usecase.NewReplay(usecase.ReplayDeps{
		Loader: func(ctx context.Context, ref string) (usecase.Page, error) {
			var (
				snap *parser.Snapshot
				err  error
			)
			if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
				snap, err = loader.Fetch(ctx, ref)
			} else {
				snap, err = loader.LoadFile(ref, pageURL)
			}
			if err != nil {
				return usecase.Page{}, err
			}
			return usecase.Page{
				Ref:         ref,
				URL:         snap.URL,
				Adapter:     dom.NewAdapter(snap.Document, snap.Profile.Name),
				ReorderSafe: snap.Profile.ReorderSafe,
				Skipped:     snap.Skipped,
			}, nil
		},
		Scorer:  scorer,
		Session: a.Session(impressions),
		Engine:  a.EngineConfig(),
		Logger:  logger.Component(a.logger, "replay"),
	})

	results, err := replay.Run(ctx, refs)
	if err != nil {
		return err
	}
	return usecase.WriteReport(w, results)
}

// Analyze prints the calibration report of an export file, or of the store
// when exportPath is empty.
func (a *Application) Analyze(ctx context.Context, exportPath string, since time.Time, w io.Writer) error {
	var export analysis.Export
	if exportPath != "" {
		f, err := os.Open(exportPath)
		if err != nil {
			return fmt.Errorf("open export: %w", err)
		}
		defer f.Close()
		if export, err = analysis.LoadExport(f); err != nil {
			return err
		}
	} else {
		repo, closer, err := a.openStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if repo == nil {
			return errors.New("no export given and no database configured")
		}
		defer closer.Close()
		if export, err = exportFromStore(ctx, repo, since); err != nil {
			return err
		}
	}
	return analysis.WriteText(w, analysis.Build(export))
}

func exportFromStore(ctx context.Context, repo *storage.Repository, since time.Time) (analysis.Export, error) {
	entries, err := repo.LoadCalibration(ctx, since)
	if err != nil {
		return analysis.Export{}, err
	}
	posts, err := repo.LoadSessionPosts(ctx, since)
	if err != nil {
		return analysis.Export{}, err
	}

	export := analysis.Export{
		ExportDate:  time.Now().UTC().Format(time.RFC3339),
		Calibration: analysis.FromEntries(entries),
	}
	current := ""
	for _, p := range posts {
		if p.SessionID != current || len(export.Sessions) == 0 {
			export.Sessions = append(export.Sessions, analysis.ExportSession{})
			current = p.SessionID
		}
		last := &export.Sessions[len(export.Sessions)-1]
		last.Posts = append(last.Posts, analysis.SessionPost{
			PostID:    p.PostID,
			Subreddit: p.Group,
			Bucket:    string(p.Bucket),
		})
	}
	return export, nil
}
