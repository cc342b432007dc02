package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scored(scores ...float64) []*Assessment {
	out := make([]*Assessment, len(scores))
	for i, s := range scores {
		out[i] = &Assessment{OverallScore: s}
	}
	return out
}

func TestTrend(t *testing.T) {
	assert.Equal(t, TrendInsufficientData, Trend(nil))
	assert.Equal(t, TrendInsufficientData, Trend(scored(50)))
	assert.Equal(t, TrendImproving, Trend(scored(70, 60, 55)))
	assert.Equal(t, TrendDeteriorating, Trend(scored(40, 50)))
	assert.Equal(t, TrendStable, Trend(scored(55, 10, 50)))
	assert.Equal(t, TrendStable, Trend(scored(45, 50)))
}

func TestBorrowerHistory(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	clock := newFakeClock(testNow)
	e, _ := newTestEngine(src, clock)
	ctx := context.Background()

	first, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, err := e.Reassess(ctx, "inv_a")
	require.NoError(t, err)

	h, err := e.BorrowerHistory(ctx, "bor_a", 10)
	require.NoError(t, err)
	require.Len(t, h.Assessments, 2)
	assert.Equal(t, second.ID, h.Assessments[0].ID)
	assert.Equal(t, first.ID, h.Assessments[1].ID)
	assert.Equal(t, TrendStable, h.Trend)
	assert.InDelta(t, first.OverallScore, h.AverageScore, 0.01)

	empty, err := e.BorrowerHistory(ctx, "bor_nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Assessments)
	assert.Equal(t, TrendInsufficientData, empty.Trend)
}

func TestReport(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	src.addHighRisk("inv_b", "bor_b")
	e, _ := newTestEngine(src, newFakeClock(testNow))
	ctx := context.Background()

	a, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)
	b, err := e.AssessInvestment(ctx, "inv_b")
	require.NoError(t, err)
	_, err = e.OverrideFactor(ctx, a.ID, "investor_activity", 100, "verified externally", "admin")
	require.NoError(t, err)

	r, err := e.Report(ctx, 30)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 50.0, r.HighRiskPercentage)
	assert.Equal(t, 1, r.LevelDistribution[LevelVeryHigh])
	assert.Equal(t, 1, r.OverrideCount)
	require.Len(t, r.CategoryAverages, 7)
	assert.Equal(t, CategoryCreditworthiness, r.CategoryAverages[0].Category)
	assert.InDelta(t, (92+17.5)/2, r.CategoryAverages[0].Average, 0.01)
	assert.Greater(t, r.AverageScore, b.OverallScore)
	assert.Equal(t, testNow.AddDate(0, 0, -30), r.Since)
}

func TestReport_Empty(t *testing.T) {
	e, _ := newTestEngine(newStubSources(), newFakeClock(testNow))

	r, err := e.Report(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, r.Total)
	assert.Zero(t, r.HighRiskPercentage)
	assert.Len(t, r.CategoryAverages, 7)
}

func TestCheckFundingLimit(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	src.addHighRisk("inv_b", "bor_b")
	e, _ := newTestEngine(src, newFakeClock(testNow))
	ctx := context.Background()

	d, err := e.CheckFundingLimit(ctx, "bor_a", decimal.NewFromInt(100000))
	require.NoError(t, err)
	assert.True(t, d.Allowed, "borrowers without assessments are not limited")

	_, err = e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)
	_, err = e.AssessInvestment(ctx, "inv_b")
	require.NoError(t, err)

	d, err = e.CheckFundingLimit(ctx, "bor_b", decimal.NewFromInt(6000))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, LevelVeryHigh, d.RiskLevel)
	require.NotNil(t, d.SuggestedMaxAmount)
	assert.True(t, d.SuggestedMaxAmount.Equal(decimal.NewFromInt(5000)))

	d, err = e.CheckFundingLimit(ctx, "bor_b", decimal.NewFromInt(4000))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.CheckFundingLimit(ctx, "bor_a", decimal.NewFromInt(20000))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelLow, d.RiskLevel)

	d, err = e.CheckFundingLimit(ctx, "bor_a", decimal.NewFromInt(60000))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.NotNil(t, d.SuggestedMaxAmount)
	assert.True(t, d.SuggestedMaxAmount.Equal(decimal.NewFromInt(50000)))
	require.NotNil(t, d.CurrentDebt)
	assert.True(t, d.CurrentDebt.IsZero())
}

// emptyHistory reports no error and no history.
type emptyHistory struct{}

func (emptyHistory) GetHistory(context.Context, string) (*History, error) { return nil, nil }

func TestCheckFundingLimit_NilHistory(t *testing.T) {
	src := newStubSources()
	src.addLowRisk("inv_a", "bor_a")
	e, _ := newTestEngine(src, newFakeClock(testNow))
	ctx := context.Background()

	_, err := e.AssessInvestment(ctx, "inv_a")
	require.NoError(t, err)
	e.sources.History = emptyHistory{}

	d, err := e.CheckFundingLimit(ctx, "bor_a", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.CheckFundingLimit(ctx, "bor_a", decimal.NewFromInt(60000))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.NotNil(t, d.CurrentDebt)
	assert.True(t, d.CurrentDebt.IsZero())
}
