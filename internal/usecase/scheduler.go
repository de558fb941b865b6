package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"FeedGuard/internal/engine"
	"FeedGuard/internal/ports"
)

// EngineJobs is the part of the engine driven by recurring timers.
type EngineJobs interface {
	RefreshThreshold(ctx context.Context) (bool, error)
	Heartbeat(ctx context.Context)
	CheckRecovery(ctx context.Context) (engine.RecoveryReport, error)
}

var _ EngineJobs = (*engine.Engine)(nil)

// SchedulerDrivers holds one timer per recurring job. Nil drivers are skipped.
type SchedulerDrivers struct {
	Threshold ports.Scheduler
	Heartbeat ports.Scheduler
	Recovery  ports.Scheduler
}

// Scheduler wires the timer drivers with the engine's periodic jobs.
type Scheduler struct {
	drivers SchedulerDrivers
	jobs    EngineJobs
	logger  *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(drivers SchedulerDrivers, jobs EngineJobs, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{drivers: drivers, jobs: jobs, logger: logger}
}

// Start registers every job with its driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.jobs == nil {
		return nil
	}

	starts := []struct {
		name   string
		driver ports.Scheduler
		job    func(time.Time)
	}{
		{"threshold", s.drivers.Threshold, func(time.Time) {
			if _, err := s.jobs.RefreshThreshold(ctx); err != nil {
				s.logger.Debug("Threshold refresh failed", "error", err)
			}
		}},
		{"heartbeat", s.drivers.Heartbeat, func(time.Time) {
			s.jobs.Heartbeat(ctx)
		}},
		{"recovery", s.drivers.Recovery, func(time.Time) {
			report, err := s.jobs.CheckRecovery(ctx)
			if err != nil {
				s.logger.Debug("Recovery cycle failed", "error", err)
				return
			}
			if report.StuckReleased || report.Forced {
				s.logger.Info("Recovery intervened",
					"stuck_released", report.StuckReleased,
					"unbadged", report.Unbadged,
					"stale", report.Stale,
					"forced", report.Forced)
			}
		}},
	}

	for _, st := range starts {
		if st.driver == nil {
			continue
		}
		if err := st.driver.Start(ctx, st.job); err != nil {
			return errors.Join(err, s.Stop(ctx))
		}
		s.logger.Debug("Scheduled job", "job", st.name)
	}
	return nil
}

// Stop gracefully tears down the underlying schedulers.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	for _, driver := range []ports.Scheduler{s.drivers.Threshold, s.drivers.Heartbeat, s.drivers.Recovery} {
		if driver == nil {
			continue
		}
		if err := driver.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
