package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"FeedGuard/internal/engine"
)

type manualDriver struct {
	job     func(time.Time)
	stopped bool
	err     error
}

func (d *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	if d.err != nil {
		return d.err
	}
	d.job = job
	return nil
}

func (d *manualDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

func (d *manualDriver) fire() {
	d.job(time.Now())
}

type countingJobs struct {
	mu         sync.Mutex
	refreshes  int
	heartbeats int
	recoveries int
}

func (j *countingJobs) RefreshThreshold(context.Context) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.refreshes++
	return false, errors.New("session offline")
}

func (j *countingJobs) Heartbeat(context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.heartbeats++
}

func (j *countingJobs) CheckRecovery(context.Context) (engine.RecoveryReport, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recoveries++
	return engine.RecoveryReport{StuckReleased: true, Forced: true}, nil
}

func TestSchedulerWiresEachJob(t *testing.T) {
	t.Parallel()
	threshold, heartbeat, recovery := &manualDriver{}, &manualDriver{}, &manualDriver{}
	jobs := &countingJobs{}
	s := NewScheduler(SchedulerDrivers{Threshold: threshold, Heartbeat: heartbeat, Recovery: recovery}, jobs, quietLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	threshold.fire()
	threshold.fire()
	heartbeat.fire()
	recovery.fire()

	if jobs.refreshes != 2 || jobs.heartbeats != 1 || jobs.recoveries != 1 {
		t.Fatalf("unexpected job counts: %+v", jobs)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !threshold.stopped || !heartbeat.stopped || !recovery.stopped {
		t.Fatalf("drivers not stopped")
	}
}

func TestSchedulerSkipsMissingDrivers(t *testing.T) {
	t.Parallel()
	recovery := &manualDriver{}
	s := NewScheduler(SchedulerDrivers{Recovery: recovery}, &countingJobs{}, quietLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if recovery.job == nil {
		t.Fatalf("recovery job not registered")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSchedulerStartFailureStopsOthers(t *testing.T) {
	t.Parallel()
	threshold := &manualDriver{}
	heartbeat := &manualDriver{err: errors.New("no timer")}
	s := NewScheduler(SchedulerDrivers{Threshold: threshold, Heartbeat: heartbeat}, &countingJobs{}, quietLogger())

	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if !threshold.stopped {
		t.Fatalf("started driver left running")
	}
}
