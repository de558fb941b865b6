package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"FeedGuard/internal/config"
)

// Host owns the browser connection. It attaches to ControlURL when set and
// launches a local Chromium otherwise.
type Host struct {
	cfg config.BrowserConfig
	log *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
}

// NewHost prepares a host; nothing is started until Connect.
func NewHost(cfg config.BrowserConfig, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{cfg: cfg, log: log}
}

// Connect attaches to or launches the browser.
func (h *Host) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.browser != nil {
		if _, err := h.browser.Version(); err == nil {
			return nil
		}
		h.log.Warn("Stale browser connection detected, reconnecting")
		_ = h.browser.Close()
		h.browser = nil
	}

	controlURL := h.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(h.cfg.Headless)
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chromium: %w", err)
		}
		h.launched = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	h.browser = browser
	h.log.Info("Browser connected", "control_url", controlURL, "launched", h.launched != nil)
	return nil
}

// Open creates a tab at url and waits for the first load.
func (h *Host) Open(ctx context.Context, url string) (*rod.Page, error) {
	h.mu.Lock()
	browser := h.browser
	h.mu.Unlock()
	if browser == nil {
		return nil, fmt.Errorf("browser not connected")
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open page %s: %w", url, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("wait load %s: %w", url, err)
	}
	return page, nil
}

// Close disconnects and, for a launched browser, kills the process.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.browser != nil {
		err = h.browser.Close()
		h.browser = nil
	}
	if h.launched != nil {
		h.launched.Kill()
		h.launched.Cleanup()
		h.launched = nil
	}
	return err
}
