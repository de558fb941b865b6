package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedGuard/internal/dom"
	"FeedGuard/internal/domain"
)

func TestProcessCycleScoresAndDecides(t *testing.T) {
	f := newFixture(t, testConfig(), "hot", "calm", "broken")
	f.scorer.set("hot", 82)
	f.scorer.set("calm", 31)
	f.scorer.setFailed("broken", 90)

	report, err := f.engine.ProcessCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Submitted)
	assert.Equal(t, 3, report.Scored)

	assert.Equal(t, domain.StateBlurred, f.engine.State("hot"))
	assert.Equal(t, domain.StateClear, f.engine.State("calm"))
	assert.Equal(t, domain.StateClear, f.engine.State("broken"), "failed scores are never blurred")

	assert.Equal(t, domain.BlurEngaged, f.doc.Find("hot").Blur())
	assert.Equal(t, domain.BlurNone, f.doc.Find("calm").Blur())

	badge, ok := f.doc.Find("broken").Badge()
	require.True(t, ok)
	assert.Equal(t, domain.BadgeFailed, badge.Badge)

	want := []domain.Impression{
		{PostID: "hot", Platform: "reddit", Score: 82, Bucket: domain.BucketHigh, Position: 0, OriginalPosition: 0, SourceGroup: "r/golang"},
		{PostID: "calm", Platform: "reddit", Score: 31, Bucket: domain.BucketLow, Position: 1, OriginalPosition: 1, SourceGroup: "r/golang"},
		{PostID: "broken", Platform: "reddit", Score: 90, Bucket: domain.BucketHigh, Position: 2, OriginalPosition: 2, SourceGroup: "r/golang"},
	}
	if diff := cmp.Diff(want, report.Impressions, cmpopts.IgnoreFields(domain.Impression{}, "Timestamp")); diff != "" {
		t.Fatalf("impressions mismatch (-want +got):\n%s", diff)
	}
}

func TestScoredItemsAreNeverResubmitted(t *testing.T) {
	f := newFixture(t, testConfig(), "a", "b", "c")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.engine.ProcessCycle(ctx)
		require.NoError(t, err)
	}
	f.doc.Append(specs("d")...)
	_, err := f.engine.ProcessCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d"}}, f.scorer.callIDs())
	for id, n := range f.scorer.submitted() {
		assert.Equal(t, 1, n, "id %s submitted more than once", id)
	}
}

func TestMissingScoresRevertToUnseenAndRetry(t *testing.T) {
	ids := numbered("post", 20)
	f := newFixture(t, testConfig(), ids...)
	f.scorer.omit[ids[18]] = true
	f.scorer.omit[ids[19]] = true

	report, err := f.engine.ProcessCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 18, report.Scored)
	assert.Equal(t, 2, report.Reverted)
	assert.Len(t, report.Impressions, 18)
	assert.Equal(t, domain.StateUnseen, f.engine.State(ids[18]))
	assert.Equal(t, domain.StateUnseen, f.engine.State(ids[19]))
	assert.Equal(t, domain.BlurNone, f.doc.Find(ids[19]).Blur(), "pending blur is cleared on revert")

	f.scorer.mu.Lock()
	f.scorer.omit = map[string]bool{}
	f.scorer.mu.Unlock()

	report, err = f.engine.ProcessCycle(context.Background())
	require.NoError(t, err)
	calls := f.scorer.callIDs()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, []string{ids[18], ids[19]}, calls[1])
	assert.Equal(t, 2, report.Scored)

	f.engine.Stop()
	assert.Equal(t, 20, f.session.loggedCount())
}

func TestScoringTimeoutRevertsBatch(t *testing.T) {
	cfg := testConfig()
	cfg.ScoringTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, "a", "b")
	f.scorer.block = make(chan struct{})

	report, err := f.engine.ProcessCycle(context.Background())
	require.ErrorIs(t, err, ErrScoringTimeout)
	assert.Equal(t, 2, report.Reverted)
	assert.Equal(t, domain.StateUnseen, f.engine.State("a"))
	assert.Equal(t, domain.BlurNone, f.doc.Find("a").Blur())
	assert.False(t, f.adapter.HasBadge(domain.ContentItem{ID: "a", Handle: f.doc.Find("a")}))

	close(f.scorer.block)
	_, err = f.engine.ProcessCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.scorer.submitted()["a"], "timed out items are retried")
	assert.Equal(t, domain.StateClear, f.engine.State("a"))
}

func TestScoringErrorIsSoftFailure(t *testing.T) {
	f := newFixture(t, testConfig(), "a")
	f.scorer.err = errors.New("transport unavailable")

	_, err := f.engine.ProcessCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StateUnseen, f.engine.State("a"))

	f.scorer.mu.Lock()
	f.scorer.err = nil
	f.scorer.mu.Unlock()
	_, err = f.engine.ProcessCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateClear, f.engine.State("a"))
}

func TestSingleFlightCoalescesSignals(t *testing.T) {
	f := newFixture(t, testConfig(), "a", "b")
	f.scorer.block = make(chan struct{})
	f.scorer.blockFirst = true

	var (
		wg    sync.WaitGroup
		first CycleReport
		err   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, err = f.engine.ProcessCycle(context.Background())
	}()
	<-f.scorer.entered

	f.doc.Append(specs("c")...)
	for i := 0; i < 5; i++ {
		_, cerr := f.engine.ProcessCycle(context.Background())
		require.ErrorIs(t, cerr, ErrCycleInFlight)
	}

	close(f.scorer.block)
	wg.Wait()
	require.NoError(t, err)

	calls := f.scorer.callIDs()
	require.Len(t, calls, 2, "bursts collapse into one queued rerun")
	assert.Equal(t, []string{"c"}, calls[1])
	assert.Equal(t, 1, f.scorer.maxInFlight)
	assert.Equal(t, 1, first.Scored, "the returned report is the rerun's")
}

func TestRecreatedNodeRestoredFromCache(t *testing.T) {
	f := newFixture(t, testConfig(), "a", "b")
	f.scorer.set("a", 88)
	ctx := context.Background()

	_, err := f.engine.ProcessCycle(ctx)
	require.NoError(t, err)

	fresh, ok := f.doc.Recreate("a")
	require.True(t, ok)
	assert.Equal(t, domain.BlurNone, fresh.Blur())

	report, err := f.engine.ProcessCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rerendered)
	assert.Equal(t, 0, report.Submitted)
	assert.Len(t, f.scorer.callIDs(), 1)
	assert.Equal(t, domain.BlurEngaged, fresh.Blur())
	_, badged := fresh.Badge()
	assert.True(t, badged)

	score, pos, ok := f.engine.CachedScore("a")
	require.True(t, ok)
	assert.Equal(t, 0, pos)
	assert.Equal(t, 88.0, score.Value())
}

func TestRevealedItemBlurredAgainAfterRecreation(t *testing.T) {
	cfg := testConfig()
	cfg.RevealDelay = time.Second
	f := newFixture(t, cfg, "a")
	f.scorer.set("a", 95)
	ctx := context.Background()

	_, err := f.engine.ProcessCycle(ctx)
	require.NoError(t, err)
	require.True(t, f.engine.HoverEnter("a"))
	f.clock.Advance(time.Second)
	require.Equal(t, domain.StateRevealed, f.engine.State("a"))

	fresh, _ := f.doc.Recreate("a")
	_, err = f.engine.ProcessCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateBlurred, f.engine.State("a"))
	assert.Equal(t, domain.BlurEngaged, fresh.Blur())
}

func TestThresholdDropFlipsWithoutRescoring(t *testing.T) {
	f := newFixture(t, testConfig(), "a")
	f.session.update(func(s *stubSession) { s.thresholds[domain.PhaseNormal] = 55 })
	f.scorer.set("a", 45)
	ctx := context.Background()

	changed, err := f.engine.RefreshThreshold(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	_, err = f.engine.ProcessCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateClear, f.engine.State("a"))

	f.session.update(func(s *stubSession) {
		s.session.Phase = domain.PhaseWindDown
		s.thresholds[domain.PhaseWindDown] = 40
	})
	changed, err = f.engine.RefreshThreshold(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, domain.StateBlurred, f.engine.State("a"))
	assert.Equal(t, domain.BlurEngaged, f.doc.Find("a").Blur())
	assert.Len(t, f.scorer.callIDs(), 1)
	assert.Equal(t, domain.ThresholdState{Phase: domain.PhaseWindDown, BlurThreshold: 40}, f.engine.Thresholds())

	changed, err = f.engine.RefreshThreshold(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "unchanged state is not re-applied")
}

func TestMissingThresholdKeepsPrior(t *testing.T) {
	f := newFixture(t, testConfig())
	f.session.update(func(s *stubSession) { s.thresholds = map[domain.Phase]float64{} })

	changed, err := f.engine.RefreshThreshold(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 70.0, f.engine.Thresholds().BlurThreshold)
}

func TestQualityModeOverridesPhaseThreshold(t *testing.T) {
	f := newFixture(t, testConfig(), "a")
	f.scorer.set("a", 50)
	ctx := context.Background()

	_, err := f.engine.ProcessCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateClear, f.engine.State("a"))

	f.session.update(func(s *stubSession) { s.session.Settings.QualityMode = true })
	changed, err := f.engine.RefreshThreshold(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, domain.StateBlurred, f.engine.State("a"), "quality threshold 35 blurs a 50")
}

func TestQualityModeAppliesWhenThresholdMissing(t *testing.T) {
	f := newFixture(t, testConfig(), "a")
	f.scorer.set("a", 50)
	ctx := context.Background()

	_, err := f.engine.ProcessCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateClear, f.engine.State("a"))

	f.session.update(func(s *stubSession) {
		s.session.Phase = domain.PhaseReduced
		s.session.Settings.QualityMode = true
	})
	changed, err := f.engine.RefreshThreshold(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, domain.ThresholdState{
		Phase:              domain.PhaseNormal,
		BlurThreshold:      70,
		QualityModeEnabled: true,
	}, f.engine.Thresholds())
	assert.Equal(t, domain.StateBlurred, f.engine.State("a"))
}

func TestBaselineModeNeverBlurs(t *testing.T) {
	f := newFixture(t, testConfig(), "a")
	f.session.update(func(s *stubSession) { s.session.Settings.Mode = domain.ModeBaseline })
	f.scorer.set("a", 99)
	ctx := context.Background()

	_, err := f.engine.RefreshThreshold(ctx)
	require.NoError(t, err)
	_, err = f.engine.ProcessCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClear, f.engine.State("a"))
	_, badged := f.doc.Find("a").Badge()
	assert.True(t, badged)
}

func TestWhitelistedNeverBlurred(t *testing.T) {
	f := newFixture(t, testConfig(), "a")
	f.scorer.mu.Lock()
	f.scorer.scores["a"] = domain.EngagementScore{PostID: "a", APIScore: domain.ScoreOf(99), Whitelisted: true}
	f.scorer.mu.Unlock()

	_, err := f.engine.ProcessCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateClear, f.engine.State("a"))
	badge, _ := f.doc.Find("a").Badge()
	assert.Equal(t, domain.BadgeWhitelisted, badge.Badge)
	assert.Equal(t, domain.BucketHigh, badge.Score.Bucket, "empty buckets are derived from the score")
}

func TestNavigationResetsIdentitySpace(t *testing.T) {
	f := newFixture(t, testConfig(), "a", "b")
	ctx := context.Background()
	_, err := f.engine.ProcessCycle(ctx)
	require.NoError(t, err)

	f.doc.Navigate("https://www.reddit.com/r/rust/", specs("a", "z")...)
	f.engine.Navigate("https://www.reddit.com/r/rust/")

	_, _, cached := f.engine.CachedScore("a")
	assert.False(t, cached)
	assert.Equal(t, domain.StateUnseen, f.engine.State("b"))
	assert.Equal(t, "https://www.reddit.com/r/rust/", f.engine.URL())

	_, err = f.engine.ProcessCycle(ctx)
	require.NoError(t, err)
	calls := f.scorer.callIDs()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"a", "z"}, calls[1])
}

func TestNavigationDiscardsInFlightCycle(t *testing.T) {
	f := newFixture(t, testConfig(), "a")
	f.scorer.block = make(chan struct{})
	f.scorer.blockFirst = true

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.ProcessCycle(context.Background())
		done <- err
	}()
	<-f.scorer.entered

	f.doc.Navigate("https://x.com/home", specs("t1")...)
	f.engine.Navigate("https://x.com/home")

	err := <-done
	require.Error(t, err, "the old cycle is cancelled")
	assert.Equal(t, domain.StateUnseen, f.engine.State("a"))

	report, err := f.engine.ProcessCycle(context.Background())
	require.NoError(t, err, "navigation released the lock")
	assert.Equal(t, 1, report.Scored)
	assert.Equal(t, domain.StateClear, f.engine.State("t1"))
	close(f.scorer.block)
}

func TestCancelledCycleReleasesLockWithQueuedRerun(t *testing.T) {
	cfg := testConfig()
	cfg.ScoringTimeout = time.Minute
	f := newFixture(t, cfg, "a")
	f.scorer.block = make(chan struct{})
	f.scorer.blockFirst = true
	defer close(f.scorer.block)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.engine.ProcessCycle(ctx)
		done <- err
	}()
	<-f.scorer.entered

	_, err := f.engine.ProcessCycle(context.Background())
	require.ErrorIs(t, err, ErrCycleInFlight, "the second request is queued")

	cancel()
	require.Error(t, <-done)
	assert.Equal(t, domain.StateUnseen, f.engine.State("a"))

	f.doc.Append(specs("b")...)
	report, err := f.engine.ProcessCycle(context.Background())
	require.NoError(t, err, "a cancelled caller must not leave the lock held")
	assert.Equal(t, 2, report.Submitted)
	assert.Equal(t, domain.StateClear, f.engine.State("a"))
	assert.Equal(t, domain.StateClear, f.engine.State("b"))
}

func TestStopRejectsLateBackgroundWork(t *testing.T) {
	f := newFixture(t, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.recordImpressions([]domain.Impression{{PostID: "a"}})
		}()
	}
	f.engine.Stop()
	wg.Wait()
	f.engine.Stop()

	assert.False(t, f.engine.spawn(func() { t.Error("spawned after Stop") }))
	assert.LessOrEqual(t, f.session.loggedCount(), 8)
}

func TestImpressionFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t, testConfig(), "a")
	f.session.update(func(s *stubSession) { s.logErr = errors.New("background unavailable") })

	report, err := f.engine.ProcessCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Impressions, 1)
	f.engine.Stop()
	assert.Equal(t, 0, f.session.loggedCount())
}

func TestStartProcessesOnChangeSignals(t *testing.T) {
	doc := dom.NewDocument("https://www.reddit.com/")
	doc.Append(specs("a")...)
	scorer := newStubScorer()
	session := newStubSession(domain.PhaseNormal, 70)
	e := New(testConfig(), Deps{
		Adapter:  dom.NewAdapter(doc, "reddit"),
		Scorer:   scorer,
		Session:  session,
		Detector: dom.NewWatcher(doc),
		Clock:    newFakeClock(),
		Logger:   quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	require.Eventually(t, func() bool { return e.State("a") == domain.StateClear }, 2*time.Second, 5*time.Millisecond)

	doc.Append(specs("b")...)
	require.Eventually(t, func() bool { return e.State("b") == domain.StateClear }, 2*time.Second, 5*time.Millisecond)

	doc.Navigate("https://www.reddit.com/r/golang/", specs("c")...)
	require.Eventually(t, func() bool { return e.State("c") == domain.StateClear }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StateUnseen, e.State("a"))
	assert.Equal(t, "https://www.reddit.com/r/golang/", e.URL())

	e.Stop()
}

func TestHeartbeatReachesSession(t *testing.T) {
	f := newFixture(t, testConfig())
	f.engine.Heartbeat(context.Background())
	f.engine.Heartbeat(context.Background())
	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	assert.Equal(t, 2, f.session.heartbeats)
}
