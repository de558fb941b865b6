package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "FEEDGUARD_CONFIG"
	logLevelEnv        = "FEEDGUARD_LOG_LEVEL"
	databaseDSNEnv     = "DATABASE_DSN"
	scoringAPIKeyEnv   = "SCORING_API_KEY"
	chatGPTAPIKeyEnv   = "CHATGPT_API_KEY"
	chatGPTModelEnv    = "CHATGPT_MODEL"
	sessionEndpointEnv = "SESSION_ENDPOINT"
	browserControlEnv  = "BROWSER_CONTROL_URL"
)

// Scoring backends.
const (
	BackendHTTP      = "http"
	BackendChat      = "chat"
	BackendHeuristic = "heuristic"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Engine    EngineConfig     `yaml:"engine"`
	Scoring   ScoringConfig    `yaml:"scoring"`
	ChatGPT   ChatGPTConfig    `yaml:"chatgpt"`
	Session   SessionConfig    `yaml:"session"`
	Database  DatabaseConfig   `yaml:"database"`
	Browser   BrowserConfig    `yaml:"browser"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Platforms []PlatformConfig `yaml:"platforms"`
}

// LoggingConfig selects level and destination. An empty File logs to stdout.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// EngineConfig tunes the intervention engine and its recurring jobs.
type EngineConfig struct {
	ScoringTimeout         time.Duration `yaml:"scoringTimeout"`
	OrderTimeout           time.Duration `yaml:"orderTimeout"`
	ImpressionTimeout      time.Duration `yaml:"impressionTimeout"`
	StuckCycleTimeout      time.Duration `yaml:"stuckCycleTimeout"`
	StaleProcessingTimeout time.Duration `yaml:"staleProcessingTimeout"`
	RevealDelay            time.Duration `yaml:"revealDelay"`
	RecoveryInterval       time.Duration `yaml:"recoveryInterval"`
	ThresholdInterval      time.Duration `yaml:"thresholdInterval"`
	HeartbeatInterval      time.Duration `yaml:"heartbeatInterval"`
	DefaultThreshold       float64       `yaml:"defaultThreshold"`
	QualityModeThreshold   float64       `yaml:"qualityModeThreshold"`
	DisablePendingBlur     bool          `yaml:"disablePendingBlur"`
}

// ScoringConfig picks the scoring backend.
type ScoringConfig struct {
	Backend  string `yaml:"backend"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// ChatGPTConfig defines how to contact the ChatGPT API.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// SessionConfig either points at a remote session service or configures the
// local one.
type SessionConfig struct {
	Endpoint      string             `yaml:"endpoint"`
	Mode          string             `yaml:"mode"`
	QualityMode   bool               `yaml:"qualityMode"`
	ReorderFeed   bool               `yaml:"reorderFeed"`
	RevealDelayMS int64              `yaml:"revealDelayMs"`
	IdleReset     time.Duration      `yaml:"idleReset"`
	Phases        []PhaseConfig      `yaml:"phases"`
	Thresholds    map[string]float64 `yaml:"thresholds"`
}

// PhaseConfig starts a phase once the session is After old.
type PhaseConfig struct {
	Name  string        `yaml:"name"`
	After time.Duration `yaml:"after"`
}

// DatabaseConfig describes the impression store. Driver is postgres or sqlite.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// BrowserConfig drives the live browser host.
type BrowserConfig struct {
	ControlURL   string        `yaml:"controlUrl"`
	StartURL     string        `yaml:"startUrl"`
	Headless     bool          `yaml:"headless"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// MetricsConfig sets the Prometheus listener; empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// PlatformConfig overrides selectors of a built-in platform profile.
type PlatformConfig struct {
	Name                 string   `yaml:"name"`
	Hosts                []string `yaml:"hosts"`
	ItemSelector         string   `yaml:"itemSelector"`
	InterstitialSelector string   `yaml:"interstitialSelector"`
	ContainerSelector    string   `yaml:"containerSelector"`
	ReorderSafe          *bool    `yaml:"reorderSafe"`
}

// Load reads the file named by FEEDGUARD_CONFIG (if set) and applies
// environment overrides.
func Load() Config {
	return LoadFrom(os.Getenv(configPathEnv))
}

// LoadFrom reads YAML configuration at path (if present) and applies
// environment overrides.
func LoadFrom(path string) Config {
	cfg := defaultConfig()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(scoringAPIKeyEnv); v != "" {
		c.Scoring.APIKey = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}

	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}

	if v := os.Getenv(sessionEndpointEnv); v != "" {
		c.Session.Endpoint = v
	}

	if v := os.Getenv(browserControlEnv); v != "" {
		c.Browser.ControlURL = v
	}
}

func mergeConfig(base, override Config) Config {
	base.Logging = mergeLogging(base.Logging, override.Logging)
	base.Engine = mergeEngine(base.Engine, override.Engine)

	if override.Scoring.Backend != "" {
		base.Scoring.Backend = override.Scoring.Backend
	}
	if override.Scoring.Endpoint != "" {
		base.Scoring.Endpoint = override.Scoring.Endpoint
	}
	if override.Scoring.APIKey != "" {
		base.Scoring.APIKey = override.Scoring.APIKey
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}

	base.Session = mergeSession(base.Session, override.Session)

	if override.Database.DSN != "" {
		base.Database = override.Database
	}
	if base.Database.Driver == "" {
		base.Database.Driver = defaultConfig().Database.Driver
	}

	if override.Browser.ControlURL != "" {
		base.Browser.ControlURL = override.Browser.ControlURL
	}
	if override.Browser.StartURL != "" {
		base.Browser.StartURL = override.Browser.StartURL
	}
	if override.Browser.PollInterval > 0 {
		base.Browser.PollInterval = override.Browser.PollInterval
	}
	base.Browser.Headless = base.Browser.Headless || override.Browser.Headless

	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	if len(override.Platforms) > 0 {
		base.Platforms = override.Platforms
	}

	return base
}

func mergeLogging(base, override LoggingConfig) LoggingConfig {
	if override.Level != "" {
		base.Level = override.Level
	}
	if override.Format != "" {
		base.Format = override.Format
	}
	if override.File != "" {
		base.File = override.File
	}
	if override.MaxSizeMB > 0 {
		base.MaxSizeMB = override.MaxSizeMB
	}
	if override.MaxBackups > 0 {
		base.MaxBackups = override.MaxBackups
	}
	if override.MaxAgeDays > 0 {
		base.MaxAgeDays = override.MaxAgeDays
	}
	return base
}

func mergeEngine(base, override EngineConfig) EngineConfig {
	durations := []struct {
		dst *time.Duration
		src time.Duration
	}{
		{&base.ScoringTimeout, override.ScoringTimeout},
		{&base.OrderTimeout, override.OrderTimeout},
		{&base.ImpressionTimeout, override.ImpressionTimeout},
		{&base.StuckCycleTimeout, override.StuckCycleTimeout},
		{&base.StaleProcessingTimeout, override.StaleProcessingTimeout},
		{&base.RevealDelay, override.RevealDelay},
		{&base.RecoveryInterval, override.RecoveryInterval},
		{&base.ThresholdInterval, override.ThresholdInterval},
		{&base.HeartbeatInterval, override.HeartbeatInterval},
	}
	for _, d := range durations {
		if d.src > 0 {
			*d.dst = d.src
		}
	}

	if override.DefaultThreshold > 0 {
		base.DefaultThreshold = override.DefaultThreshold
	}
	if override.QualityModeThreshold > 0 {
		base.QualityModeThreshold = override.QualityModeThreshold
	}
	base.DisablePendingBlur = base.DisablePendingBlur || override.DisablePendingBlur
	return base
}

func mergeSession(base, override SessionConfig) SessionConfig {
	if override.Endpoint != "" {
		base.Endpoint = override.Endpoint
	}
	if override.Mode != "" {
		base.Mode = override.Mode
	}
	base.QualityMode = base.QualityMode || override.QualityMode
	base.ReorderFeed = base.ReorderFeed || override.ReorderFeed
	if override.RevealDelayMS > 0 {
		base.RevealDelayMS = override.RevealDelayMS
	}
	if override.IdleReset > 0 {
		base.IdleReset = override.IdleReset
	}
	if len(override.Phases) > 0 {
		base.Phases = override.Phases
	}
	for phase, threshold := range override.Thresholds {
		if base.Thresholds == nil {
			base.Thresholds = map[string]float64{}
		}
		base.Thresholds[phase] = threshold
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  5,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		Engine: EngineConfig{
			ScoringTimeout:         10 * time.Second,
			OrderTimeout:           5 * time.Second,
			ImpressionTimeout:      5 * time.Second,
			StuckCycleTimeout:      15 * time.Second,
			StaleProcessingTimeout: 5 * time.Second,
			RevealDelay:            3 * time.Second,
			RecoveryInterval:       5 * time.Second,
			ThresholdInterval:      30 * time.Second,
			HeartbeatInterval:      30 * time.Second,
			DefaultThreshold:       70,
			QualityModeThreshold:   35,
		},
		Scoring: ScoringConfig{
			Backend:  BackendHeuristic,
			Endpoint: "http://localhost:8787",
		},
		ChatGPT: ChatGPTConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		Session: SessionConfig{
			Mode:      "active",
			IdleReset: 30 * time.Minute,
			Phases: []PhaseConfig{
				{Name: "normal", After: 0},
				{Name: "reduced", After: 15 * time.Minute},
				{Name: "wind-down", After: 30 * time.Minute},
				{Name: "minimal", After: 45 * time.Minute},
			},
			Thresholds: map[string]float64{
				"normal":    70,
				"reduced":   55,
				"wind-down": 40,
				"minimal":   25,
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:feedguard.db?_pragma=busy_timeout(5000)",
		},
		Browser: BrowserConfig{
			StartURL:     "https://www.reddit.com/",
			PollInterval: 750 * time.Millisecond,
		},
	}
}
