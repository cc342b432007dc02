package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Borrower risk trends.
const (
	TrendImproving        = "improving"
	TrendDeteriorating    = "deteriorating"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// trendBand is the score movement treated as noise.
const trendBand = 5

// historyWindow is how many recent assessments feed trend and limit checks.
const historyWindow = 5

// BorrowerHistory summarizes a borrower's recent assessments.
type BorrowerHistory struct {
	BorrowerID   string        `json:"borrowerId"`
	Assessments  []*Assessment `json:"assessments"`
	Trend        string        `json:"trend"`
	AverageScore float64       `json:"averageScore"`
}

// Trend compares the newest and oldest scores of assessments ordered
// newest first.
func Trend(newestFirst []*Assessment) string {
	if len(newestFirst) < 2 {
		return TrendInsufficientData
	}
	recent := newestFirst[0].OverallScore
	older := newestFirst[len(newestFirst)-1].OverallScore
	switch {
	case recent > older+trendBand:
		return TrendImproving
	case recent < older-trendBand:
		return TrendDeteriorating
	default:
		return TrendStable
	}
}

func averageScore(as []*Assessment) float64 {
	if len(as) == 0 {
		return 0
	}
	var sum float64
	for _, a := range as {
		sum += a.OverallScore
	}
	return round2(sum / float64(len(as)))
}

// BorrowerHistory returns up to limit of the borrower's most recent
// assessments with a trend computed over the latest five.
func (e *Engine) BorrowerHistory(ctx context.Context, borrowerID string, limit int) (*BorrowerHistory, error) {
	if limit <= 0 {
		limit = historyWindow
	}
	as, err := e.store.ListByBorrower(ctx, borrowerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list borrower assessments: %w", err)
	}
	window := as
	if len(window) > historyWindow {
		window = window[:historyWindow]
	}
	return &BorrowerHistory{
		BorrowerID:   borrowerID,
		Assessments:  as,
		Trend:        Trend(window),
		AverageScore: averageScore(window),
	}, nil
}

// CategoryAverage is a category's mean score across a report window.
type CategoryAverage struct {
	Category Category `json:"category"`
	Average  float64  `json:"average"`
}

// PlatformReport aggregates the active assessments computed in a window.
type PlatformReport struct {
	Since              time.Time         `json:"since"`
	Total              int               `json:"total"`
	AverageScore       float64           `json:"averageScore"`
	HighRiskPercentage float64           `json:"highRiskPercentage"`
	LevelDistribution  map[Level]int     `json:"levelDistribution"`
	CategoryAverages   []CategoryAverage `json:"categoryAverages"`
	OverrideCount      int               `json:"overrideCount"`
}

// Report summarizes active assessments computed within the last days.
func (e *Engine) Report(ctx context.Context, days int) (*PlatformReport, error) {
	if days <= 0 {
		days = 30
	}
	since := e.now().AddDate(0, 0, -days)
	as, err := e.store.ListActive(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list active assessments: %w", err)
	}

	r := &PlatformReport{
		Since:             since,
		Total:             len(as),
		LevelDistribution: make(map[Level]int),
		CategoryAverages:  make([]CategoryAverage, 0, numCategories),
	}
	var catSums [numCategories]float64
	var catCounts [numCategories]int
	high := 0
	for _, a := range as {
		r.LevelDistribution[a.RiskLevel]++
		r.OverrideCount += len(a.ManualOverrides)
		if a.RiskLevel.IsHigh() {
			high++
		}
		for _, c := range a.Categories {
			if c.Name < numCategories {
				catSums[c.Name] += c.Score
				catCounts[c.Name]++
			}
		}
	}
	r.AverageScore = averageScore(as)
	if r.Total > 0 {
		r.HighRiskPercentage = round2(float64(high) / float64(r.Total) * 100)
	}
	for _, c := range Categories() {
		avg := 0.0
		if catCounts[c] > 0 {
			avg = round2(catSums[c] / float64(catCounts[c]))
		}
		r.CategoryAverages = append(r.CategoryAverages, CategoryAverage{Category: c, Average: avg})
	}
	return r, nil
}

// Funding caps applied by CheckFundingLimit.
var (
	veryHighRiskCap   = decimal.NewFromInt(5000)
	highRiskCap       = decimal.NewFromInt(15000)
	lowAverageCap     = decimal.NewFromInt(25000)
	maxBorrowerDebt   = decimal.NewFromInt(50000)
	lowAverageScoreAt = 30.0
)

// FundingDecision is the outcome of a funding limit check.
type FundingDecision struct {
	Allowed            bool             `json:"allowed"`
	Reason             string           `json:"reason,omitempty"`
	RiskLevel          Level            `json:"riskLevel,omitempty"`
	AverageScore       float64          `json:"averageScore,omitempty"`
	SuggestedMaxAmount *decimal.Decimal `json:"suggestedMaxAmount,omitempty"`
	CurrentDebt        *decimal.Decimal `json:"currentDebt,omitempty"`
}

func capped(reason string, limit decimal.Decimal) *FundingDecision {
	return &FundingDecision{Reason: reason, SuggestedMaxAmount: &limit}
}

// CheckFundingLimit decides whether a borrower may request amount given
// their recent assessments and outstanding debt. Borrowers without any
// assessment are allowed.
func (e *Engine) CheckFundingLimit(ctx context.Context, borrowerID string, amount decimal.Decimal) (*FundingDecision, error) {
	if !amount.IsPositive() {
		return &FundingDecision{Allowed: true}, nil
	}
	recent, err := e.store.ListByBorrower(ctx, borrowerID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("list borrower assessments: %w", err)
	}
	var active []*Assessment
	for _, a := range recent {
		if a.IsActive {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return &FundingDecision{Allowed: true}, nil
	}

	latest := active[0]
	avg := averageScore(active)

	var d *FundingDecision
	switch {
	case latest.RiskLevel == LevelVeryHigh && amount.GreaterThan(veryHighRiskCap):
		d = capped("very high risk borrowers are limited to 5000", veryHighRiskCap)
	case latest.RiskLevel == LevelHigh && amount.GreaterThan(highRiskCap):
		d = capped("high risk borrowers are limited to 15000", highRiskCap)
	case avg < lowAverageScoreAt && amount.GreaterThan(lowAverageCap):
		d = capped("risk history suggests a smaller amount", lowAverageCap)
	}
	if d != nil {
		d.RiskLevel = latest.RiskLevel
		d.AverageScore = avg
		return d, nil
	}

	if e.sources.History != nil {
		h, err := e.sources.History.GetHistory(ctx, borrowerID)
		if err != nil {
			return nil, fmt.Errorf("load borrower history: %w", err)
		}
		if h == nil {
			h = &History{}
		}
		debt := decimal.Zero
		for _, p := range h.AsBorrower {
			if p.Status == InvestmentActive {
				debt = debt.Add(p.Amount)
			}
		}
		if debt.Add(amount).GreaterThan(maxBorrowerDebt) {
			available := decimal.Max(decimal.Zero, maxBorrowerDebt.Sub(debt))
			return &FundingDecision{
				Reason:             "total debt limit of 50000 exceeded",
				RiskLevel:          latest.RiskLevel,
				AverageScore:       avg,
				SuggestedMaxAmount: &available,
				CurrentDebt:        &debt,
			}, nil
		}
	}

	return &FundingDecision{Allowed: true, RiskLevel: latest.RiskLevel, AverageScore: avg}, nil
}
