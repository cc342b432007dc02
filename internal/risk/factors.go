package risk

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Confidence levels attached to factors.
const (
	confidenceLive        = 1.0
	confidenceNoHistory   = 0.6
	confidenceDegraded    = 0.5
	confidencePlaceholder = 0.3
)

// Signals is the gathered input for one assessment. Scoring is a pure
// function of Signals; the data aggregator is the only impure stage.
type Signals struct {
	Investment *Investment
	Borrower   *Borrower
	Documents  []Document
	History    *History
	Behavior   *BehavioralSignals
	Market     *MarketSignals
	Social     *SocialSignals

	// Degraded lists the sources that fell back to defaults.
	Degraded []Source

	// Now anchors all age-based factors.
	Now time.Time
}

func (s *Signals) degraded(src Source) bool {
	for _, d := range s.Degraded {
		if d == src {
			return true
		}
	}
	return false
}

// confidenceFor returns the live or degraded confidence for a source.
func (s *Signals) confidenceFor(src Source) float64 {
	if s.degraded(src) {
		return confidenceDegraded
	}
	return confidenceLive
}

type calculation struct {
	raw        any
	score      float64
	confidence float64
	reasoning  string
}

type calculator func(s *Signals) (calculation, bool)

// calculators maps every factor to its scoring function. A calculator
// returning false omits the factor from the assessment.
var calculators = [numFactors]calculator{
	FactorReputationScore:           reputationScore,
	FactorVerificationStatus:        verificationStatus,
	FactorPreviousDefaults:          previousDefaults,
	FactorInvestmentAmountVsHistory: amountVsHistory,
	FactorDebtToIncome:              debtToIncome,
	FactorFinancialDocumentsQuality: financialDocumentsQuality,
	FactorIncomeCoverage:            incomeCoverage,
	FactorCompletedInvestmentsRatio: completedInvestmentsRatio,
	FactorTimeOnPlatform:            timeOnPlatform,
	FactorInvestorActivity:          investorActivity,
	FactorPurposeClarity:            purposeClarity,
	FactorPurposeRiskCategory:       purposeRiskCategory,
	FactorDocumentCompleteness:      documentCompleteness,
	FactorDocumentAuthenticity:      documentAuthenticity,
	FactorDocumentRecency:           documentRecency,
	FactorLoginPatterns:             loginPatterns,
	FactorTransactionTiming:         transactionTiming,
	FactorDeviceConsistency:         deviceConsistency,
	FactorSocialValidation:          socialValidation,
	FactorExternalCreditCheck:       externalCreditCheck,
	FactorMarketVolatility:          marketVolatility,
	FactorSocialNetworkAnalysis:     socialNetworkAnalysis,
	FactorBehavioralPatterns:        behavioralPatterns,
	FactorGeographicRisk:            geographicRisk,
}

// clamp bounds v to [lo, hi]. NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalize maps v linearly from [lo, hi] onto [0, 100].
func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return clamp((v-lo)/(hi-lo)*100, 0, 100)
}

type step struct {
	bound float64
	score float64
}

// ladderAtMost returns the score of the first step with v <= bound.
func ladderAtMost(v float64, steps []step, otherwise float64) float64 {
	for _, s := range steps {
		if v <= s.bound {
			return s.score
		}
	}
	return otherwise
}

// ladderAtLeast returns the score of the first step with v >= bound.
func ladderAtLeast(v float64, steps []step, otherwise float64) float64 {
	for _, s := range steps {
		if v >= s.bound {
			return s.score
		}
	}
	return otherwise
}

// --- creditworthiness ---

func reputationScore(s *Signals) (calculation, bool) {
	v := s.Borrower.ReputationScore
	return calculation{
		raw:        v,
		score:      normalize(v, 0, 100),
		confidence: confidenceLive,
		reasoning:  fmt.Sprintf("platform reputation score %.1f", v),
	}, true
}

func verificationStatus(s *Signals) (calculation, bool) {
	c := calculation{raw: s.Borrower.IsVerified, confidence: confidenceLive}
	if s.Borrower.IsVerified {
		c.score, c.reasoning = 100, "account verified"
	} else {
		c.score, c.reasoning = 20, "account not verified"
	}
	return c, true
}

func previousDefaults(s *Signals) (calculation, bool) {
	defaults := 0
	for _, p := range s.History.AsBorrower {
		if p.Status == InvestmentDefaulted {
			defaults++
		}
	}
	return calculation{
		raw:        defaults,
		score:      math.Max(0, 100-float64(defaults)*25),
		confidence: s.confidenceFor(SourceHistory),
		reasoning:  fmt.Sprintf("%d previous defaults", defaults),
	}, true
}

// --- financial stability ---

var amountRatioSteps = []step{{1.2, 100}, {2.0, 80}, {3.0, 60}}

func amountVsHistory(s *Signals) (calculation, bool) {
	past := s.History.AsBorrower
	if len(past) == 0 {
		return calculation{
			raw:        nil,
			score:      30,
			confidence: math.Min(confidenceNoHistory, s.confidenceFor(SourceHistory)),
			reasoning:  "no funding history to compare against",
		}, true
	}
	total := decimal.Zero
	for _, p := range past {
		total = total.Add(p.Amount)
	}
	avg := total.Div(decimal.NewFromInt(int64(len(past))))
	if !avg.IsPositive() {
		return calculation{
			raw:        0.0,
			score:      30,
			confidence: confidenceNoHistory,
			reasoning:  "historical amounts are zero",
		}, true
	}
	ratio, _ := s.Investment.Amount.Div(avg).Float64()
	return calculation{
		raw:        ratio,
		score:      ladderAtMost(ratio, amountRatioSteps, 30),
		confidence: s.confidenceFor(SourceHistory),
		reasoning:  fmt.Sprintf("requested amount is %.2fx the historical average of %s", ratio, avg.StringFixed(2)),
	}, true
}

var activeDebtSteps = []step{{0, 100}, {5000, 90}, {15000, 70}, {30000, 50}}

// activeDebt sums outstanding borrower obligations: active platform
// investments plus self-reported external debt.
func activeDebt(s *Signals) decimal.Decimal {
	debt := decimal.Zero
	for _, p := range s.History.AsBorrower {
		if p.Status == InvestmentActive {
			debt = debt.Add(p.Amount)
		}
	}
	if f := s.Borrower.Financials; f != nil {
		debt = debt.Add(f.ExistingDebts)
	}
	return debt
}

func debtToIncome(s *Signals) (calculation, bool) {
	debt := activeDebt(s)
	v, _ := debt.Float64()
	return calculation{
		raw:        debt.StringFixed(2),
		score:      ladderAtMost(v, activeDebtSteps, 20),
		confidence: s.confidenceFor(SourceHistory),
		reasoning:  fmt.Sprintf("active debt of %s", debt.StringFixed(2)),
	}, true
}

var financialDocumentTypes = map[string]bool{
	"bank_statement": true,
	"income_proof":   true,
	"tax_document":   true,
}

func financialDocumentsQuality(s *Signals) (calculation, bool) {
	n := 0
	for _, d := range s.Documents {
		if financialDocumentTypes[d.Type] && d.VerificationStatus == DocVerified {
			n++
		}
	}
	return calculation{
		raw:        n,
		score:      math.Min(100, float64(n)*40),
		confidence: s.confidenceFor(SourceDocuments),
		reasoning:  fmt.Sprintf("%d verified financial documents", n),
	}, true
}

var coverageSteps = []step{{0.5, 0}, {0.4, 20}, {0.3, 40}, {0.2, 60}, {0.1, 80}}

// incomeCoverage is only scored when the borrower reported financials.
func incomeCoverage(s *Signals) (calculation, bool) {
	f := s.Borrower.Financials
	if f == nil {
		return calculation{}, false
	}
	if !f.MonthlyIncome.IsPositive() {
		return calculation{
			raw:        nil,
			score:      0,
			confidence: confidenceLive,
			reasoning:  "no reported income",
		}, true
	}
	ratio, _ := f.ExistingDebts.Div(f.MonthlyIncome).Float64()
	score := 100.0
	for _, st := range coverageSteps {
		if ratio > st.bound {
			score = st.score
			break
		}
	}
	return calculation{
		raw:        ratio,
		score:      score,
		confidence: confidenceLive,
		reasoning:  fmt.Sprintf("debts are %.0f%% of monthly income", ratio*100),
	}, true
}

// --- reputation history ---

func completedInvestmentsRatio(s *Signals) (calculation, bool) {
	total := len(s.History.AsBorrower)
	completed := 0
	for _, p := range s.History.AsBorrower {
		if p.Status == InvestmentCompleted {
			completed++
		}
	}
	conf := s.confidenceFor(SourceHistory)
	if total == 0 {
		conf = math.Min(conf, confidenceNoHistory)
	}
	ratio := float64(completed) / float64(max(total, 1))
	return calculation{
		raw:        ratio,
		score:      clamp(ratio*100, 0, 100),
		confidence: conf,
		reasoning:  fmt.Sprintf("%d of %d investments completed", completed, total),
	}, true
}

var tenureSteps = []step{{365, 100}, {180, 85}, {90, 70}, {30, 55}}

func timeOnPlatform(s *Signals) (calculation, bool) {
	if s.Borrower.JoinedAt.IsZero() {
		return calculation{
			raw:        nil,
			score:      30,
			confidence: confidenceNoHistory,
			reasoning:  "join date unknown",
		}, true
	}
	days := math.Floor(s.Now.Sub(s.Borrower.JoinedAt).Hours() / 24)
	return calculation{
		raw:        days,
		score:      ladderAtLeast(days, tenureSteps, 30),
		confidence: confidenceLive,
		reasoning:  fmt.Sprintf("%.0f days on platform", days),
	}, true
}

func investorActivity(s *Signals) (calculation, bool) {
	n := s.History.AsInvestorCount
	return calculation{
		raw:        n,
		score:      clamp(float64(n)*20, 0, 100),
		confidence: s.confidenceFor(SourceHistory),
		reasoning:  fmt.Sprintf("%d investments made as investor", n),
	}, true
}

// --- investment purpose ---

func purposeClarity(s *Signals) (calculation, bool) {
	score := 0.0
	if strings.TrimSpace(s.Investment.Purpose) != "" {
		score = 50
	}
	descLen := utf8.RuneCountInString(s.Investment.Description)
	score += math.Min(50, float64(descLen)/10)
	return calculation{
		raw:        descLen,
		score:      score,
		confidence: confidenceLive,
		reasoning:  fmt.Sprintf("purpose stated with %d character description", descLen),
	}, true
}

var purposeScores = map[string]float64{
	"education":          90,
	"medical":            85,
	"home improvement":   80,
	"business":           70,
	"debt consolidation": 60,
	"investment":         50,
	"travel":             40,
}

// PurposeScore returns the static risk score for an investment purpose.
// Unknown purposes score as "Other".
func PurposeScore(purpose string) float64 {
	key := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(purpose, "_", " ")))
	if v, ok := purposeScores[key]; ok {
		return v
	}
	return 30
}

func purposeRiskCategory(s *Signals) (calculation, bool) {
	return calculation{
		raw:        s.Investment.Purpose,
		score:      PurposeScore(s.Investment.Purpose),
		confidence: confidenceLive,
		reasoning:  fmt.Sprintf("purpose %q", s.Investment.Purpose),
	}, true
}

// --- documentation quality ---

func documentCompleteness(s *Signals) (calculation, bool) {
	verified := 0
	for _, d := range s.Documents {
		if d.VerificationStatus == DocVerified {
			verified++
		}
	}
	return calculation{
		raw:        verified,
		score:      math.Min(100, float64(verified)*25),
		confidence: s.confidenceFor(SourceDocuments),
		reasoning:  fmt.Sprintf("%d verified documents", verified),
	}, true
}

func documentAuthenticity(s *Signals) (calculation, bool) {
	total := len(s.Documents)
	if total == 0 {
		return calculation{
			raw:        nil,
			score:      50,
			confidence: math.Min(confidenceNoHistory, s.confidenceFor(SourceDocuments)),
			reasoning:  "no documents uploaded",
		}, true
	}
	passed := 0
	for _, d := range s.Documents {
		if d.SecurityChecks.VirusScanStatus == ScanClean && d.SecurityChecks.DuplicateStatus == DupUnique {
			passed++
		}
	}
	ratio := float64(passed) / float64(total)
	return calculation{
		raw:        ratio,
		score:      clamp(ratio*100, 0, 100),
		confidence: s.confidenceFor(SourceDocuments),
		reasoning:  fmt.Sprintf("%d of %d documents passed security checks", passed, total),
	}, true
}

var recencySteps = []step{{30, 100}, {90, 80}, {180, 60}, {365, 40}}

func documentRecency(s *Signals) (calculation, bool) {
	var sum float64
	n := 0
	for _, d := range s.Documents {
		if d.UploadedAt.IsZero() {
			continue
		}
		sum += math.Max(0, s.Now.Sub(d.UploadedAt).Hours()/24)
		n++
	}
	if n == 0 {
		return calculation{
			raw:        nil,
			score:      0,
			confidence: math.Min(confidenceNoHistory, s.confidenceFor(SourceDocuments)),
			reasoning:  "no dated documents",
		}, true
	}
	avg := sum / float64(n)
	return calculation{
		raw:        avg,
		score:      ladderAtMost(avg, recencySteps, 20),
		confidence: s.confidenceFor(SourceDocuments),
		reasoning:  fmt.Sprintf("documents are %.0f days old on average", avg),
	}, true
}

// --- platform behavior ---

var (
	loginSteps  = []step{{7, 90}, {5, 80}, {3, 70}, {1, 60}}
	txTimeSteps = []step{{2, 90}, {5, 80}, {10, 70}, {15, 60}}
)

func loginPatterns(s *Signals) (calculation, bool) {
	v := s.Behavior.LoginFrequency
	return calculation{
		raw:        v,
		score:      ladderAtLeast(v, loginSteps, 40),
		confidence: s.confidenceFor(SourceBehavior),
		reasoning:  fmt.Sprintf("%.1f logins per week", v),
	}, true
}

func transactionTiming(s *Signals) (calculation, bool) {
	v := s.Behavior.AvgTransactionTimeMinutes
	return calculation{
		raw:        v,
		score:      ladderAtMost(v, txTimeSteps, 50),
		confidence: s.confidenceFor(SourceBehavior),
		reasoning:  fmt.Sprintf("%.1f minutes average transaction time", v),
	}, true
}

func deviceConsistency(s *Signals) (calculation, bool) {
	n := s.Behavior.DeviceCount
	var score float64
	switch {
	case n == 1:
		score = 90
	case n == 2:
		score = 80
	case n == 3:
		score = 70
	case n <= 5:
		score = 60
	default:
		score = 40
	}
	return calculation{
		raw:        n,
		score:      score,
		confidence: s.confidenceFor(SourceBehavior),
		reasoning:  fmt.Sprintf("%d devices used", n),
	}, true
}

// --- external validation ---

func socialValidation(s *Signals) (calculation, bool) {
	if s.degraded(SourceSocial) || s.Social.Connections <= 0 {
		conf := confidenceNoHistory
		if s.degraded(SourceSocial) {
			conf = confidenceDegraded
		}
		return calculation{
			raw:        nil,
			score:      50,
			confidence: conf,
			reasoning:  "no social connections to validate",
		}, true
	}
	ratio := float64(s.Social.VerifiedConnections) / float64(s.Social.Connections)
	return calculation{
		raw:        ratio,
		score:      clamp(ratio*100, 0, 100),
		confidence: confidenceLive,
		reasoning:  fmt.Sprintf("%d of %d connections verified", s.Social.VerifiedConnections, s.Social.Connections),
	}, true
}

// externalCreditCheck is a neutral placeholder until a bureau is integrated.
func externalCreditCheck(*Signals) (calculation, bool) {
	return calculation{
		raw:        nil,
		score:      50,
		confidence: confidencePlaceholder,
		reasoning:  "no external credit bureau data",
	}, true
}

// --- advanced ---

func marketVolatility(s *Signals) (calculation, bool) {
	v := clamp(s.Market.VolatilityIndex, 0, 1)
	score := (1 - v) * 100
	reason := fmt.Sprintf("market volatility index %.2f", v)
	if strings.EqualFold(s.Market.Trend, "declining") {
		score -= 10
		reason += ", declining trend"
	}
	return calculation{
		raw:        v,
		score:      clamp(score, 0, 100),
		confidence: s.confidenceFor(SourceMarket),
		reasoning:  reason,
	}, true
}

// socialRiskScore is the share of suspicious connections, 0.5 when unknown.
func socialRiskScore(s *Signals) (float64, float64) {
	if s.degraded(SourceSocial) {
		return defaultSocialRisk, confidenceDegraded
	}
	if s.Social.Connections <= 0 {
		return defaultSocialRisk, confidenceNoHistory
	}
	r := float64(s.Social.SuspiciousConnections) / float64(s.Social.Connections)
	return clamp(r, 0, 1), confidenceLive
}

func socialNetworkAnalysis(s *Signals) (calculation, bool) {
	r, conf := socialRiskScore(s)
	return calculation{
		raw:        r,
		score:      clamp((1-r)*100, 0, 100),
		confidence: conf,
		reasoning:  fmt.Sprintf("social network risk %.2f", r),
	}, true
}

func behavioralPatterns(s *Signals) (calculation, bool) {
	a := clamp(s.Behavior.AnomalyScore, 0, 1)
	return calculation{
		raw:        a,
		score:      (1 - a) * 100,
		confidence: s.confidenceFor(SourceBehavior),
		reasoning:  fmt.Sprintf("behavioral anomaly score %.2f", a),
	}, true
}

var regionScores = map[string]float64{
	"north america": 85,
	"europe":        85,
	"oceania":       80,
	"asia":          70,
	"middle east":   65,
	"south america": 65,
	"africa":        60,
}

var countryRegions = map[string]string{
	"us": "north america", "ca": "north america", "mx": "north america",
	"gb": "europe", "uk": "europe", "de": "europe", "fr": "europe", "es": "europe",
	"it": "europe", "nl": "europe", "se": "europe", "pl": "europe", "ie": "europe",
	"au": "oceania", "nz": "oceania",
	"jp": "asia", "kr": "asia", "sg": "asia", "in": "asia", "cn": "asia", "id": "asia",
	"ae": "middle east", "sa": "middle east", "il": "middle east",
	"br": "south america", "ar": "south america", "cl": "south america", "co": "south america",
	"ng": "africa", "ke": "africa", "za": "africa", "eg": "africa",
}

// RegionScore returns the geographic score for a location. The location
// may be a region name, a country code, or "City, CC".
func RegionScore(location string) (float64, bool) {
	loc := strings.ToLower(strings.TrimSpace(location))
	if i := strings.LastIndex(loc, ","); i >= 0 {
		loc = strings.TrimSpace(loc[i+1:])
	}
	if v, ok := regionScores[loc]; ok {
		return v, true
	}
	if region, ok := countryRegions[loc]; ok {
		return regionScores[region], true
	}
	return 60, false
}

func geographicRisk(s *Signals) (calculation, bool) {
	score, known := RegionScore(s.Borrower.Location)
	c := calculation{
		raw:        s.Borrower.Location,
		score:      score,
		confidence: confidenceLive,
		reasoning:  fmt.Sprintf("location %q", s.Borrower.Location),
	}
	if !known {
		c.confidence = confidenceNoHistory
		c.reasoning = fmt.Sprintf("location %q not in region table", s.Borrower.Location)
	}
	return c, true
}
