// Package metrics holds the Prometheus collectors shared by the engine and its hosts.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"FeedGuard/pkg/logger"
)

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_cycles_total",
			Help: "Processing cycles by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)
	ScoringRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_scoring_requests_total",
			Help: "Scoring batch requests by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)
	ScoringDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedguard_scoring_duration_seconds",
			Help:    "Duration of scoring batch requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)
	ItemsScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_items_scored_total",
			Help: "Items that received a score, labeled by bucket.",
		},
		[]string{"platform", "bucket"},
	)
	ItemsReverted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_items_reverted_total",
			Help: "Pending items returned to the unseen state.",
		},
		[]string{"platform"},
	)
	StuckRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_stuck_cycle_recoveries_total",
			Help: "Cycle locks force-released by the watchdog.",
		},
		[]string{"platform"},
	)
	HiddenItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_hidden_items_total",
			Help: "Items hidden by reordering, labeled by reason.",
		},
		[]string{"platform", "reason"},
	)
	Impressions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_impressions_total",
			Help: "Impressions handed to the session service, labeled by delivery result.",
		},
		[]string{"platform", "result"},
	)
	BlurThreshold = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedguard_blur_threshold",
			Help: "Effective blur threshold currently applied.",
		},
		[]string{"platform"},
	)
	NavigationResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedguard_navigation_resets_total",
			Help: "Engine resets caused by page navigation.",
		},
		[]string{"platform"},
	)
)

func init() {
	prometheus.MustRegister(Cycles)
	prometheus.MustRegister(ScoringRequests)
	prometheus.MustRegister(ScoringDuration)
	prometheus.MustRegister(ItemsScored)
	prometheus.MustRegister(ItemsReverted)
	prometheus.MustRegister(StuckRecoveries)
	prometheus.MustRegister(HiddenItems)
	prometheus.MustRegister(Impressions)
	prometheus.MustRegister(BlurThreshold)
	prometheus.MustRegister(NavigationResets)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.Std(log, "metrics"),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Component(log, "metrics").Info("Exposing Prometheus metrics", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
