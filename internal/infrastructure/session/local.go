package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"FeedGuard/internal/config"
	"FeedGuard/internal/domain"
	"FeedGuard/internal/ports"
)

// LocalService is an in-process session service. The phase advances with
// session age; a session idle for longer than IdleReset starts over.
type LocalService struct {
	mu           sync.Mutex
	id           string
	startedAt    time.Time
	lastActivity time.Time
	impressions  int

	phases     []config.PhaseConfig
	thresholds map[domain.Phase]float64
	settings   domain.Settings
	idleReset  time.Duration
	store      ports.ImpressionStore
	log        *slog.Logger
	now        func() time.Time
}

var _ ports.SessionService = (*LocalService)(nil)

// seenLookup is implemented by stores that can report a session's earlier
// impressions.
type seenLookup interface {
	SeenPosts(ctx context.Context, sessionID string, ids []string) (map[string]bool, error)
}

// Option customises a LocalService.
type Option func(*LocalService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *LocalService) { s.now = now }
}

// WithPendingBlur controls whether items are obscured while scoring runs.
func WithPendingBlur(enabled bool) Option {
	return func(s *LocalService) { s.settings.PendingBlur = enabled }
}

// NewLocalService builds a session service from configuration. A nil store
// drops impressions after counting them.
func NewLocalService(cfg config.SessionConfig, store ports.ImpressionStore, log *slog.Logger, opts ...Option) *LocalService {
	if log == nil {
		log = slog.Default()
	}

	phases := append([]config.PhaseConfig(nil), cfg.Phases...)
	sort.SliceStable(phases, func(i, j int) bool { return phases[i].After < phases[j].After })

	thresholds := make(map[domain.Phase]float64, len(cfg.Thresholds))
	for name, v := range cfg.Thresholds {
		thresholds[domain.Phase(name)] = v
	}

	mode := domain.Mode(cfg.Mode)
	if mode != domain.ModeBaseline {
		mode = domain.ModeActive
	}

	s := &LocalService{
		phases:     phases,
		thresholds: thresholds,
		settings: domain.Settings{
			Mode:          mode,
			QualityMode:   cfg.QualityMode,
			PendingBlur:   true,
			ReorderFeed:   cfg.ReorderFeed,
			RevealDelayMS: cfg.RevealDelayMS,
		},
		idleReset: cfg.IdleReset,
		store:     store,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startLocked(s.now())
	return s
}

func (s *LocalService) GetSession(context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.rolloverLocked(now)
	return &domain.Session{
		ID:        s.id,
		Phase:     s.phaseLocked(now),
		Settings:  s.settings,
		StartedAt: s.startedAt,
	}, nil
}

// GetEffectiveThreshold returns nil for phases without a configured threshold.
func (s *LocalService) GetEffectiveThreshold(_ context.Context, phase domain.Phase) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.thresholds[phase]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// GetScheduledOrder puts the calmest items first. Unscored items follow in
// their original order. In the minimal phase high-bucket items are hidden.
func (s *LocalService) GetScheduledOrder(_ context.Context, ids []string, scores map[string]float64) (*domain.ScheduledOrder, error) {
	s.mu.Lock()
	phase := s.phaseLocked(s.now())
	s.mu.Unlock()

	order := &domain.ScheduledOrder{OrderedIDs: []string{}, HiddenIDs: []string{}}
	var scored, unscored []string
	for _, id := range ids {
		score, ok := scores[id]
		switch {
		case !ok:
			unscored = append(unscored, id)
		case phase == domain.PhaseMinimal && domain.BucketFor(score) == domain.BucketHigh:
			order.HiddenIDs = append(order.HiddenIDs, id)
		default:
			scored = append(scored, id)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scores[scored[i]] < scores[scored[j]] })

	order.OrderedIDs = append(order.OrderedIDs, scored...)
	order.OrderedIDs = append(order.OrderedIDs, unscored...)
	return order, nil
}

func (s *LocalService) LogImpressions(ctx context.Context, impressions []domain.Impression) error {
	if len(impressions) == 0 {
		return nil
	}

	s.mu.Lock()
	s.rolloverLocked(s.now())
	s.lastActivity = s.now()
	id := s.id
	s.mu.Unlock()

	// A post scored again after navigation is one impression per session.
	impressions = s.unseen(ctx, id, impressions)
	if len(impressions) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.id == id {
		s.impressions += len(impressions)
	}
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.SaveImpressions(ctx, id, impressions); err != nil {
		return fmt.Errorf("save impressions: %w", err)
	}
	return nil
}

func (s *LocalService) Heartbeat(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.rolloverLocked(now)
	s.lastActivity = now
	return nil
}

func (s *LocalService) unseen(ctx context.Context, sessionID string, impressions []domain.Impression) []domain.Impression {
	lookup, ok := s.store.(seenLookup)
	if !ok {
		return impressions
	}
	ids := make([]string, 0, len(impressions))
	for _, imp := range impressions {
		ids = append(ids, imp.PostID)
	}
	seen, err := lookup.SeenPosts(ctx, sessionID, ids)
	if err != nil {
		s.log.Debug("Seen lookup failed, keeping all impressions", "error", err)
		return impressions
	}
	if len(seen) == 0 {
		return impressions
	}
	kept := impressions[:0:0]
	for _, imp := range impressions {
		if !seen[imp.PostID] {
			kept = append(kept, imp)
		}
	}
	return kept
}

// Impressions returns how many impressions the current session has logged.
func (s *LocalService) Impressions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impressions
}

func (s *LocalService) rolloverLocked(now time.Time) {
	if s.idleReset <= 0 || now.Sub(s.lastActivity) < s.idleReset {
		return
	}
	previous := s.id
	s.startLocked(now)
	s.log.Info("Session idle, starting a new one", "previous", previous, "session", s.id)
}

func (s *LocalService) startLocked(now time.Time) {
	s.id = uuid.NewString()
	s.startedAt = now
	s.lastActivity = now
	s.impressions = 0
}

func (s *LocalService) phaseLocked(now time.Time) domain.Phase {
	age := now.Sub(s.startedAt)
	phase := domain.PhaseNormal
	for _, p := range s.phases {
		if age >= p.After {
			phase = domain.Phase(p.Name)
		}
	}
	return phase
}
