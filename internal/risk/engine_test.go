package risk

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockvest/blockvest/internal/circuitbreaker"
	"github.com/blockvest/blockvest/internal/logging"
)

func activeFor(t *testing.T, store Store, investmentID string) []*Assessment {
	t.Helper()
	all, err := store.ListActive(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	var out []*Assessment
	for _, a := range all {
		if a.InvestmentID == investmentID {
			out = append(out, a)
		}
	}
	return out
}

func TestAssessInvestment_CreatesActiveAssessment(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, store := newTestEngine(src, newFakeClock(testNow))

	a, err := e.AssessInvestment(context.Background(), "inv_a")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.ID, "rsk_"))
	assert.True(t, a.IsActive)
	assert.Equal(t, "inv_a", a.InvestmentID)
	assert.Equal(t, "bor_a", a.BorrowerID)
	assert.Equal(t, testNow, a.ComputedAt)

	stored, err := store.GetActive(context.Background(), "inv_a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)
	assert.Equal(t, a.OverallScore, stored.OverallScore)
}

func TestAssessInvestment_ReturnsFreshActive(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	clock := newFakeClock(testNow)
	e, _ := newTestEngine(src, clock)
	ctx := context.Background()

	first, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)

	second, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, src.callCount(SourceHistory))
}

func TestAssessInvestment_NotFound(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, _ := newTestEngine(src, newFakeClock(testNow))

	_, err := e.AssessInvestment(context.Background(), "inv_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	src.mu.Lock()
	delete(src.borrowers, "bor_a")
	src.mu.Unlock()
	_, err = e.AssessInvestment(context.Background(), "inv_a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetActiveAssessment_NoneIsNotFound(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, _ := newTestEngine(src, newFakeClock(testNow))

	_, err := e.GetActiveAssessment(context.Background(), "inv_a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetActiveAssessment_RecomputesWhenStale(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	clock := newFakeClock(testNow)
	e, store := newTestEngine(src, clock)
	ctx := context.Background()

	old, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)

	clock.Advance(6 * 24 * time.Hour)
	same, err := e.GetActiveAssessment(ctx, "inv_a")
	require.NoError(t, err)
	assert.Equal(t, old.ID, same.ID)

	clock.Advance(2 * 24 * time.Hour)
	fresh, err := e.GetActiveAssessment(ctx, "inv_a")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, clock.Now(), fresh.ComputedAt)

	prev, err := store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, prev.IsActive)
	assert.Len(t, activeFor(t, store, "inv_a"), 1)
}

func TestReassess_SupersedesActive(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, store := newTestEngine(src, newFakeClock(testNow))
	ctx := context.Background()

	first, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)
	second, err := e.Reassess(ctx, "inv_a")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.OverallScore, second.OverallScore)
	active := activeFor(t, store, "inv_a")
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestReassess_ConcurrentLeavesOneActive(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, store := newTestEngine(src, newFakeClock(testNow))
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Reassess(ctx, "inv_a")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Positive(t, succeeded)
	assert.Len(t, activeFor(t, store, "inv_a"), 1)
}

// conflictingStore fails the first n activations with ErrConflict.
type conflictingStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *conflictingStore) Activate(ctx context.Context, next *Assessment, expected string) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return ErrConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.Activate(ctx, next, expected)
}

func TestActivate_RetriesConflicts(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	store := &conflictingStore{MemoryStore: NewMemoryStore(), failures: 2}
	e := NewEngine(store, src.sources()).WithClock(newFakeClock(testNow).Now)

	a, err := e.AssessInvestment(context.Background(), "inv_a")
	require.NoError(t, err)
	assert.True(t, a.IsActive)
	assert.Equal(t, 1, src.callCount(SourceHistory), "signals are gathered once per activation")

	store.failures = swapAttempts
	_, err = e.Reassess(context.Background(), "inv_a")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGather_DegradesFailingSource(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	src.fail(SourceMarket, errors.New("market feed down"))
	e, _ := newTestEngine(src, newFakeClock(testNow))

	a, err := e.AssessInvestment(context.Background(), "inv_a")
	require.NoError(t, err)

	assert.Equal(t, []string{"market"}, a.DegradedSources)
	f, ok := a.Advanced(FactorMarketVolatility)
	require.True(t, ok)
	assert.InDelta(t, 50, f.Score, 0.001)
	assert.Equal(t, confidenceDegraded, f.Confidence)
	assert.Less(t, a.Confidence, 0.97)
}

func TestGather_TimesOutSlowSource(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	src.delay(SourceSocial, 5*time.Second)
	e, _ := newTestEngine(src, newFakeClock(testNow))

	start := time.Now()
	a, err := e.AssessInvestment(context.Background(), "inv_a")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"social"}, a.DegradedSources)
	f, ok := a.Advanced(FactorSocialNetworkAnalysis)
	require.True(t, ok)
	assert.InDelta(t, 50, f.Score, 0.001)
	sv, ok := a.Factor(FactorSocialValidation)
	require.True(t, ok)
	assert.Equal(t, 50.0, sv.Score)
}

func TestGather_DefaultsForUnconfiguredSources(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e := NewEngine(NewMemoryStore(), Sources{Investments: src, Borrowers: src}).
		WithClock(newFakeClock(testNow).Now)

	a, err := e.AssessInvestment(context.Background(), "inv_a")
	require.NoError(t, err)

	assert.Equal(t, []string{"behavior", "documents", "history", "market", "social"}, a.DegradedSources)
	login, ok := a.Factor(FactorLoginPatterns)
	require.True(t, ok)
	assert.Equal(t, 70.0, login.Score)
	devices, _ := a.Factor(FactorDeviceConsistency)
	assert.Equal(t, 90.0, devices.Score)
	anomaly, _ := a.Advanced(FactorBehavioralPatterns)
	assert.InDelta(t, 50, anomaly.Score, 0.001)
}

func TestGather_OpenBreakerSkipsSource(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	src.fail(SourceMarket, errors.New("down"))
	e, _ := newTestEngine(src, newFakeClock(testNow))
	e.WithBreaker(circuitbreaker.New(1, time.Hour))
	ctx := context.Background()

	_, err := e.Reassess(ctx, "inv_a")
	require.NoError(t, err)
	a, err := e.Reassess(ctx, "inv_a")
	require.NoError(t, err)

	assert.Equal(t, 1, src.callCount(SourceMarket))
	assert.Contains(t, a.DegradedSources, "market")
}

func TestGather_CallerCancelDoesNotTripBreaker(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	src.delay(SourceSocial, 5*time.Second)
	e, _ := newTestEngine(src, newFakeClock(testNow))
	e.WithSourceTimeout(5 * time.Second)
	e.WithBreaker(circuitbreaker.New(1, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, _ = e.Reassess(ctx, "inv_a")

	assert.Equal(t, circuitbreaker.StateClosed, e.breaker.State("risk_source:social"))
}

func TestScheduling_HighRiskRegistersMonitor(t *testing.T) {
	src := newStubSources()
	src.addHighRisk("inv_b", "bor_b")
	sched := newRecordingScheduler()
	e, _ := newTestEngine(src, newFakeClock(testNow))
	e.WithScheduler(sched)

	_, err := e.AssessInvestment(context.Background(), "inv_b")
	require.NoError(t, err)

	select {
	case <-sched.done:
	case <-time.After(2 * time.Second):
		t.Fatal("high risk assessment was not scheduled for monitoring")
	}
	assert.Equal(t, []string{"inv_b"}, sched.scheduled())
}

func TestScheduling_FailureDoesNotFailAssessment(t *testing.T) {
	src := newStubSources()
	src.addHighRisk("inv_b", "bor_b")
	sched := newRecordingScheduler()
	sched.err = errors.New("scheduler down")
	e, _ := newTestEngine(src, newFakeClock(testNow))
	e.WithScheduler(sched)

	a, err := e.AssessInvestment(context.Background(), "inv_b")
	require.NoError(t, err)
	assert.True(t, a.RiskLevel.IsHigh())
	<-sched.done
}

func TestScheduling_LowRiskNotMonitored(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	sched := newRecordingScheduler()
	e, _ := newTestEngine(src, newFakeClock(testNow))
	e.WithScheduler(sched)

	_, err := e.AssessInvestment(context.Background(), "inv_a")
	require.NoError(t, err)

	select {
	case <-sched.done:
		t.Fatal("low risk assessment should not be monitored")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOverrideFactor_RoundTrip(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, store := newTestEngine(src, newFakeClock(testNow))
	ctx := context.Background()

	orig, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)

	updated, err := e.OverrideFactor(ctx, orig.ID, "reputation_score", 0, "reputation data was stale", "admin_1")
	require.NoError(t, err)

	assert.Equal(t, orig.ID, updated.ID)
	assert.Equal(t, 2, updated.Version)
	f, ok := updated.Factor(FactorReputationScore)
	require.True(t, ok)
	assert.Equal(t, 0.0, f.Score)

	credit, _ := updated.Category(CategoryCreditworthiness)
	assert.InDelta(t, 60, credit.Score, 0.001)
	overall, conf := combine(updated.Categories, updated.AdvancedFactors)
	assert.Equal(t, overall, updated.OverallScore)
	assert.Equal(t, conf, updated.Confidence)
	assert.Less(t, updated.OverallScore, orig.OverallScore)
	assert.Equal(t, Classify(updated.OverallScore), updated.RiskLevel)
	assert.Contains(t, updated.Recommendations, RecBuildReputation)

	require.Len(t, updated.ManualOverrides, 1)
	o := updated.ManualOverrides[0]
	assert.Equal(t, FactorReputationScore, o.Factor)
	assert.Equal(t, 80.0, o.OriginalScore)
	assert.Equal(t, 0.0, o.NewScore)
	assert.Equal(t, "admin_1", o.OverriddenBy)
	assert.Equal(t, testNow, o.Timestamp)

	reread, err := store.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.OverallScore, reread.OverallScore)
	assert.Len(t, reread.ManualOverrides, 1)
	assert.Len(t, activeFor(t, store, "inv_a"), 1)

	again, err := e.OverrideFactor(ctx, orig.ID, "device_consistency", 10, "shared device", "admin_2")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Version)
	assert.Len(t, again.ManualOverrides, 2)
}

func TestOverrideFactor_LogsActorOnce(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	var buf bytes.Buffer
	e, _ := newTestEngine(src, newFakeClock(testNow))
	e.WithLogger(logging.NewWithWriter(&buf, "info", "text"))

	orig, err := e.AssessInvestment(context.Background(), "inv_a")
	require.NoError(t, err)

	for _, ctx := range []context.Context{
		logging.WithActor(context.Background(), "admin_7"),
		context.Background(),
	} {
		buf.Reset()
		_, err = e.OverrideFactor(ctx, orig.ID, "device_consistency", 10, "shared device", "admin_7")
		require.NoError(t, err)

		var line string
		for _, l := range strings.Split(buf.String(), "\n") {
			if strings.Contains(l, "risk factor overridden") {
				line = l
			}
		}
		require.NotEmpty(t, line)
		assert.Equal(t, 1, strings.Count(line, "actor=admin_7"), line)
	}
}

func TestOverrideFactor_AdvancedFactorAndClamp(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, _ := newTestEngine(src, newFakeClock(testNow))
	ctx := context.Background()

	orig, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)

	updated, err := e.OverrideFactor(ctx, orig.ID, "geographic_risk", 150, "manual review", "admin")
	require.NoError(t, err)
	f, ok := updated.Advanced(FactorGeographicRisk)
	require.True(t, ok)
	assert.Equal(t, 100.0, f.Score)
	assert.Greater(t, updated.OverallScore, orig.OverallScore)
}

func TestOverrideFactor_Errors(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, _ := newTestEngine(src, newFakeClock(testNow))
	ctx := context.Background()

	a, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)

	_, err = e.OverrideFactor(ctx, a.ID, "shoe_size", 50, "r", "admin")
	assert.ErrorIs(t, err, ErrInvalidFactorReference)

	// Only scored when the borrower reported financials.
	_, err = e.OverrideFactor(ctx, a.ID, "income_coverage", 50, "r", "admin")
	assert.ErrorIs(t, err, ErrInvalidFactorReference)

	_, err = e.OverrideFactor(ctx, "rsk_missing", "reputation_score", 50, "r", "admin")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Reassess(ctx, "inv_a")
	require.NoError(t, err)
	_, err = e.OverrideFactor(ctx, a.ID, "reputation_score", 50, "r", "admin")
	assert.ErrorIs(t, err, ErrAssessmentInactive)
}

func TestOverrideFactor_SchedulesWhenHighRisk(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	sched := newRecordingScheduler()
	e, _ := newTestEngine(src, newFakeClock(testNow))
	e.WithScheduler(sched)
	ctx := context.Background()

	a, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)

	var updated *Assessment
	for _, f := range []string{
		"reputation_score", "verification_status", "previous_defaults",
		"investment_amount_vs_history", "debt_to_income", "financial_documents_quality",
		"completed_investments_ratio", "time_on_platform", "purpose_clarity",
		"purpose_risk_category", "document_completeness", "document_authenticity",
	} {
		updated, err = e.OverrideFactor(ctx, a.ID, f, 0, "fraud review", "admin")
		require.NoError(t, err)
	}
	require.True(t, updated.RiskLevel.IsHigh(), "score %v", updated.OverallScore)

	select {
	case <-sched.done:
	case <-time.After(2 * time.Second):
		t.Fatal("override to high risk was not scheduled")
	}
}

func TestReassessDue(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	src.addHighRisk("inv_b", "bor_b")
	clock := newFakeClock(testNow)
	e, _ := newTestEngine(src, clock)
	ctx := context.Background()

	a, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)
	b, err := e.AssessInvestment(ctx, "inv_b")
	require.NoError(t, err)

	done, err := e.ReassessDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, done)

	// very_high is due after one month, low after four.
	clock.Advance(40 * 24 * time.Hour)
	done, err = e.ReassessDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "inv_b", done[0].InvestmentID)
	assert.Equal(t, b.ID, done[0].PreviousID)
	assert.NotEqual(t, b.ID, done[0].CurrentID)
	assert.False(t, done[0].Material())

	active, err := e.Store().GetActive(ctx, "inv_a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
}

func TestReassessment_Material(t *testing.T) {
	assert.True(t, Reassessment{PreviousScore: 50, CurrentScore: 60, PreviousLevel: LevelMedium, CurrentLevel: LevelMedium}.Material())
	assert.True(t, Reassessment{PreviousScore: 46, CurrentScore: 44, PreviousLevel: LevelMedium, CurrentLevel: LevelHigh}.Material())
	assert.False(t, Reassessment{PreviousScore: 50, CurrentScore: 55, PreviousLevel: LevelMedium, CurrentLevel: LevelMedium}.Material())
}
