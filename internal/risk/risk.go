// Package risk implements the investment risk assessment engine.
//
// Every investment request is scored against a fixed catalogue of factors
// grouped into 7 weighted categories, plus 4 advanced signals blended outside
// the category table. Scores range from 0 (worst) to 100 (best); the final
// score maps to a discrete risk level and a set of recommendations.
//
// At most one assessment per investment is active at any time. New
// assessments supersede the active one through an optimistic swap on the
// store's active index.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidFactorReference = errors.New("factor not present in assessment")
	ErrAssessmentInactive     = errors.New("assessment is no longer active")
	ErrConflict               = errors.New("concurrent assessment update")
)

// Level is the discrete risk bucket derived from the overall score.
type Level string

const (
	LevelVeryLow  Level = "very_low"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelVeryHigh Level = "very_high"
	LevelUnknown  Level = "unknown"
)

// IsHigh reports whether the level requires active monitoring.
func (l Level) IsHigh() bool {
	return l == LevelHigh || l == LevelVeryHigh
}

// RiskFactor is a single scored signal inside a category.
type RiskFactor struct {
	Name       Factor   `json:"name"`
	Category   Category `json:"category"`
	RawValue   any      `json:"rawValue"`
	Weight     float64  `json:"weight"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// CategoryScore is the weighted average of a category's factors.
type CategoryScore struct {
	Name       Category     `json:"name"`
	Score      float64      `json:"score"`
	Weight     float64      `json:"weight"`
	Confidence float64      `json:"confidence"`
	Factors    []RiskFactor `json:"factors"`
}

// AdvancedFactor is a secondary signal blended outside the category table.
type AdvancedFactor struct {
	Name       Factor  `json:"name"`
	RawValue   any     `json:"rawValue"`
	Score      float64 `json:"score"`
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Override records a manual correction of one factor's score.
type Override struct {
	Factor        Factor    `json:"factor"`
	OriginalScore float64   `json:"originalScore"`
	NewScore      float64   `json:"newScore"`
	Reason        string    `json:"reason"`
	OverriddenBy  string    `json:"overriddenBy"`
	Timestamp     time.Time `json:"timestamp"`
}

// Terms are the lending guidance attached to a risk level.
type Terms struct {
	Decision        string  `json:"decision"`
	MinInterestRate float64 `json:"minInterestRate,omitempty"`
	MaxInterestRate float64 `json:"maxInterestRate,omitempty"`
	MinAmountRatio  float64 `json:"minAmountRatio,omitempty"`
	MaxAmountRatio  float64 `json:"maxAmountRatio,omitempty"`
}

// Assessment is the stored result of scoring one investment.
// Values are treated as immutable; overrides produce a copy with Version+1.
type Assessment struct {
	ID               string           `json:"id"`
	InvestmentID     string           `json:"investmentId"`
	BorrowerID       string           `json:"borrowerId"`
	Version          int              `json:"version"`
	OverallScore     float64          `json:"overallScore"`
	RiskLevel        Level            `json:"riskLevel"`
	Categories       []CategoryScore  `json:"categories"`
	AdvancedFactors  []AdvancedFactor `json:"advancedFactors"`
	Recommendations  []string         `json:"recommendations"`
	Terms            Terms            `json:"terms"`
	Confidence       float64          `json:"confidence"`
	DegradedSources  []string         `json:"degradedSources,omitempty"`
	ComputedAt       time.Time        `json:"computedAt"`
	NextAssessmentAt time.Time        `json:"nextAssessmentAt"`
	IsActive         bool             `json:"isActive"`
	ManualOverrides  []Override       `json:"manualOverrides"`
}

// Factor returns the category factor with the given name.
func (a *Assessment) Factor(name Factor) (RiskFactor, bool) {
	for _, c := range a.Categories {
		for _, f := range c.Factors {
			if f.Name == name {
				return f, true
			}
		}
	}
	return RiskFactor{}, false
}

// Category returns the category score with the given name.
func (a *Assessment) Category(name Category) (CategoryScore, bool) {
	for _, c := range a.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return CategoryScore{}, false
}

// Advanced returns the advanced factor with the given name.
func (a *Assessment) Advanced(name Factor) (AdvancedFactor, bool) {
	for _, f := range a.AdvancedFactors {
		if f.Name == name {
			return f, true
		}
	}
	return AdvancedFactor{}, false
}

// Clone returns a deep copy safe to mutate.
func (a *Assessment) Clone() *Assessment {
	cp := *a
	cp.Categories = make([]CategoryScore, len(a.Categories))
	for i, c := range a.Categories {
		c.Factors = append([]RiskFactor(nil), c.Factors...)
		cp.Categories[i] = c
	}
	cp.AdvancedFactors = append([]AdvancedFactor(nil), a.AdvancedFactors...)
	cp.Recommendations = append([]string(nil), a.Recommendations...)
	cp.DegradedSources = append([]string(nil), a.DegradedSources...)
	cp.ManualOverrides = append([]Override(nil), a.ManualOverrides...)
	return &cp
}

// Store persists assessments keyed by ID, with a secondary index
// investmentID → active assessment ID.
type Store interface {
	Get(ctx context.Context, id string) (*Assessment, error)
	GetActive(ctx context.Context, investmentID string) (*Assessment, error)

	// Activate stores next as the active assessment for its investment,
	// deactivating the current one. It fails with ErrConflict unless the
	// current active ID equals expectedActiveID ("" means none).
	Activate(ctx context.Context, next *Assessment, expectedActiveID string) error

	// Update replaces an active assessment. It fails with ErrConflict unless
	// the stored version equals expectedVersion and the record is still active.
	Update(ctx context.Context, a *Assessment, expectedVersion int) error

	ListByBorrower(ctx context.Context, borrowerID string, limit int) ([]*Assessment, error)
	ListActive(ctx context.Context, since time.Time, limit int) ([]*Assessment, error)
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Assessment, error)
}

// Investment is the funding request being assessed.
type Investment struct {
	ID             string          `json:"id"`
	BorrowerID     string          `json:"borrowerId"`
	Amount         decimal.Decimal `json:"amount"`
	Purpose        string          `json:"purpose"`
	Description    string          `json:"description"`
	DurationMonths int             `json:"durationMonths"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Financials is borrower-reported income data. Optional.
type Financials struct {
	MonthlyIncome decimal.Decimal `json:"monthlyIncome"`
	ExistingDebts decimal.Decimal `json:"existingDebts"`
}

// Borrower is the party requesting funds.
type Borrower struct {
	ID              string      `json:"id"`
	ReputationScore float64     `json:"reputationScore"`
	IsVerified      bool        `json:"isVerified"`
	Location        string      `json:"location"`
	JoinedAt        time.Time   `json:"joinedAt"`
	Financials      *Financials `json:"financials,omitempty"`
}

// Document security check statuses.
const (
	DocVerified  = "verified"
	ScanClean    = "clean"
	DupUnique    = "unique"
	StatusActive = "active"
)

// SecurityChecks are the upload pipeline's results for a document.
type SecurityChecks struct {
	VirusScanStatus string `json:"virusScanStatus"`
	DuplicateStatus string `json:"duplicateStatus"`
}

// Document is an uploaded borrower document.
type Document struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	VerificationStatus string         `json:"verificationStatus"`
	SecurityChecks     SecurityChecks `json:"securityChecks"`
	UploadedAt         time.Time      `json:"uploadedAt"`
}

// Investment statuses seen in borrower history.
const (
	InvestmentPending   = "pending"
	InvestmentActive    = "active"
	InvestmentCompleted = "completed"
	InvestmentDefaulted = "defaulted"
)

// PastInvestment is a prior investment in the borrower's history.
type PastInvestment struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// History is the borrower's platform track record.
type History struct {
	AsBorrower      []PastInvestment `json:"asBorrower"`
	AsInvestorCount int              `json:"asInvestorCount"`
}

// BehavioralSignals summarize the borrower's platform usage.
type BehavioralSignals struct {
	LoginFrequency            float64 `json:"loginFrequency"` // logins per week
	AvgTransactionTimeMinutes float64 `json:"avgTransactionTimeMinutes"`
	DeviceCount               int     `json:"deviceCount"`
	AnomalyScore              float64 `json:"anomalyScore"` // 0..1
}

// MarketSignals describe the sector the investment targets.
type MarketSignals struct {
	VolatilityIndex   float64 `json:"volatilityIndex"` // 0..1
	Trend             string  `json:"trend"`
	SectorPerformance float64 `json:"sectorPerformance"`
}

// SocialSignals describe the borrower's connection graph.
type SocialSignals struct {
	Connections           int `json:"connections"`
	VerifiedConnections   int `json:"verifiedConnections"`
	SuspiciousConnections int `json:"suspiciousConnections"`
}

// InvestmentSource looks up investments. Missing IDs must wrap ErrNotFound.
type InvestmentSource interface {
	GetInvestment(ctx context.Context, id string) (*Investment, error)
}

// BorrowerSource looks up borrowers. Missing IDs must wrap ErrNotFound.
type BorrowerSource interface {
	GetBorrower(ctx context.Context, id string) (*Borrower, error)
}

// DocumentSource lists a borrower's uploaded documents.
type DocumentSource interface {
	ListDocuments(ctx context.Context, borrowerID string) ([]Document, error)
}

// HistorySource returns a borrower's investment history.
type HistorySource interface {
	GetHistory(ctx context.Context, borrowerID string) (*History, error)
}

// BehaviorSource returns behavioral signals for a borrower.
type BehaviorSource interface {
	GetBehavioralSignals(ctx context.Context, borrowerID string) (*BehavioralSignals, error)
}

// MarketSource returns market signals for an investment purpose.
type MarketSource interface {
	GetMarketSignals(ctx context.Context, purpose string) (*MarketSignals, error)
}

// SocialSource returns social graph signals for a borrower.
type SocialSource interface {
	GetSocialSignals(ctx context.Context, borrowerID string) (*SocialSignals, error)
}

// Sources bundles the collaborators the data aggregator fans out to.
type Sources struct {
	Investments InvestmentSource
	Borrowers   BorrowerSource
	Documents   DocumentSource
	History     HistorySource
	Behavior    BehaviorSource
	Market      MarketSource
	Social      SocialSource
}

// Scheduler registers recurring monitoring checks for an assessment.
type Scheduler interface {
	ScheduleCheck(ctx context.Context, investmentID, assessmentID string, every time.Duration) error
}
