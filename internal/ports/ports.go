package ports

import (
	"context"
	"time"

	"FeedGuard/internal/domain"
)

// ContentSource lists the items currently present in the host feed.
// Scan must be idempotent and free of side effects.
type ContentSource interface {
	Scan(ctx context.Context) ([]domain.ContentItem, error)
}

// Renderer applies engine decisions to host nodes. It never mutates engine state.
type Renderer interface {
	HasBadge(item domain.ContentItem) bool
	RenderBadge(item domain.ContentItem, decision domain.Decision) error
	RenderBlur(item domain.ContentItem, blur domain.BlurKind) error
}

// PlatformAdapter is the full capability set a host supplies per platform.
type PlatformAdapter interface {
	ContentSource
	Renderer
	Platform() string
	// LocatePlacementContainer returns the container that physically holds the
	// items, or false when reordering is unsafe for the current layout.
	LocatePlacementContainer(items []domain.ContentItem) (string, bool)
	ApplyOrder(ctx context.Context, container string, placement domain.Placement) error
}

// ChangeDetector notifies about feed growth and SPA navigation.
type ChangeDetector interface {
	OnChange(fn func())
	OnNavigate(fn func(url string))
	Disconnect()
}

// ScoringService scores a batch of serialized items.
type ScoringService interface {
	ScoreItems(ctx context.Context, items []domain.SerializedItem) ([]domain.EngagementScore, error)
}

// SessionService exposes the behavioral session and accepts telemetry.
// A nil result with nil error means the service had nothing to say.
type SessionService interface {
	GetSession(ctx context.Context) (*domain.Session, error)
	GetEffectiveThreshold(ctx context.Context, phase domain.Phase) (*float64, error)
	GetScheduledOrder(ctx context.Context, ids []string, scores map[string]float64) (*domain.ScheduledOrder, error)
	LogImpressions(ctx context.Context, impressions []domain.Impression) error
	Heartbeat(ctx context.Context) error
}

// ImpressionStore persists impressions for later calibration.
type ImpressionStore interface {
	SaveImpressions(ctx context.Context, sessionID string, impressions []domain.Impression) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// CalibrationStore keeps heuristic and remote scores side by side.
type CalibrationStore interface {
	SaveCalibration(ctx context.Context, entries []domain.CalibrationEntry) error
}
