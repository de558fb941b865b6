package domain

import "time"

// Phase is the behavioral stage of the browsing session.
type Phase string

const (
	PhaseNormal   Phase = "normal"
	PhaseReduced  Phase = "reduced"
	PhaseWindDown Phase = "wind-down"
	PhaseMinimal  Phase = "minimal"
)

// Mode selects between data collection and active intervention.
type Mode string

const (
	ModeBaseline Mode = "baseline"
	ModeActive   Mode = "active"
)

// Settings are the user-controlled knobs delivered with the session.
type Settings struct {
	Mode          Mode  `json:"mode"`
	QualityMode   bool  `json:"qualityMode"`
	PendingBlur   bool  `json:"pendingBlur"`
	ReorderFeed   bool  `json:"reorderFeed"`
	RevealDelayMS int64 `json:"revealDelayMs"`
}

// RevealDelay converts the millisecond setting, falling back when unset.
func (s Settings) RevealDelay(fallback time.Duration) time.Duration {
	if s.RevealDelayMS <= 0 {
		return fallback
	}
	return time.Duration(s.RevealDelayMS) * time.Millisecond
}

// Session is the GetSession response.
type Session struct {
	ID        string    `json:"id,omitempty"`
	Phase     Phase     `json:"phase"`
	Settings  Settings  `json:"settings"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// ThresholdState is the blur threshold currently applied by an engine.
type ThresholdState struct {
	Phase              Phase
	BlurThreshold      float64
	QualityModeEnabled bool
}

// ScheduledOrder is the GetScheduledOrder response.
type ScheduledOrder struct {
	OrderedIDs []string `json:"orderedIds"`
	HiddenIDs  []string `json:"hiddenIds"`
}
