package risk

import (
	"fmt"
	"strings"
)

// Category is one of the 7 fixed scoring categories.
type Category uint8

const (
	CategoryCreditworthiness Category = iota
	CategoryFinancialStability
	CategoryReputationHistory
	CategoryInvestmentPurpose
	CategoryDocumentationQuality
	CategoryPlatformBehavior
	CategoryExternalValidation
	numCategories

	// categoryAdvanced marks factors blended outside the category table.
	categoryAdvanced Category = 0xff
)

var categoryTable = [numCategories]struct {
	name   string
	weight float64
}{
	CategoryCreditworthiness:     {"creditworthiness", 0.25},
	CategoryFinancialStability:   {"financial_stability", 0.20},
	CategoryReputationHistory:    {"reputation_history", 0.15},
	CategoryInvestmentPurpose:    {"investment_purpose", 0.15},
	CategoryDocumentationQuality: {"documentation_quality", 0.10},
	CategoryPlatformBehavior:     {"platform_behavior", 0.10},
	CategoryExternalValidation:   {"external_validation", 0.05},
}

func (c Category) String() string {
	if c < numCategories {
		return categoryTable[c].name
	}
	if c == categoryAdvanced {
		return "advanced"
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Weight returns the category's share of the base score.
func (c Category) Weight() float64 {
	if c < numCategories {
		return categoryTable[c].weight
	}
	return 0
}

func (c Category) MarshalText() ([]byte, error) {
	if c >= numCategories {
		return nil, fmt.Errorf("risk: invalid category %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, ok := ParseCategory(string(b))
	if !ok {
		return fmt.Errorf("risk: unknown category %q", b)
	}
	*c = parsed
	return nil
}

// ParseCategory resolves a category by its wire name.
func ParseCategory(name string) (Category, bool) {
	for c := Category(0); c < numCategories; c++ {
		if categoryTable[c].name == name {
			return c, true
		}
	}
	return 0, false
}

// Factor identifies a scored signal. Category factors come first, in the
// order recommendations are evaluated; advanced factors follow.
type Factor uint8

const (
	FactorReputationScore Factor = iota
	FactorVerificationStatus
	FactorPreviousDefaults
	FactorInvestmentAmountVsHistory
	FactorDebtToIncome
	FactorFinancialDocumentsQuality
	FactorIncomeCoverage
	FactorCompletedInvestmentsRatio
	FactorTimeOnPlatform
	FactorInvestorActivity
	FactorPurposeClarity
	FactorPurposeRiskCategory
	FactorDocumentCompleteness
	FactorDocumentAuthenticity
	FactorDocumentRecency
	FactorLoginPatterns
	FactorTransactionTiming
	FactorDeviceConsistency
	FactorSocialValidation
	FactorExternalCreditCheck

	FactorMarketVolatility
	FactorSocialNetworkAnalysis
	FactorBehavioralPatterns
	FactorGeographicRisk
	numFactors
)

type factorSpec struct {
	name     string
	category Category
	weight   float64
}

var factorTable = [numFactors]factorSpec{
	FactorReputationScore:    {"reputation_score", CategoryCreditworthiness, 0.4},
	FactorVerificationStatus: {"verification_status", CategoryCreditworthiness, 0.3},
	FactorPreviousDefaults:   {"previous_defaults", CategoryCreditworthiness, 0.3},

	FactorInvestmentAmountVsHistory: {"investment_amount_vs_history", CategoryFinancialStability, 0.4},
	FactorDebtToIncome:              {"debt_to_income", CategoryFinancialStability, 0.3},
	FactorFinancialDocumentsQuality: {"financial_documents_quality", CategoryFinancialStability, 0.3},
	FactorIncomeCoverage:            {"income_coverage", CategoryFinancialStability, 0.3},

	FactorCompletedInvestmentsRatio: {"completed_investments_ratio", CategoryReputationHistory, 0.5},
	FactorTimeOnPlatform:            {"time_on_platform", CategoryReputationHistory, 0.3},
	FactorInvestorActivity:          {"investor_activity", CategoryReputationHistory, 0.2},

	FactorPurposeClarity:      {"purpose_clarity", CategoryInvestmentPurpose, 0.4},
	FactorPurposeRiskCategory: {"purpose_risk_category", CategoryInvestmentPurpose, 0.6},

	FactorDocumentCompleteness: {"document_completeness", CategoryDocumentationQuality, 0.5},
	FactorDocumentAuthenticity: {"document_authenticity", CategoryDocumentationQuality, 0.3},
	FactorDocumentRecency:      {"document_recency", CategoryDocumentationQuality, 0.2},

	FactorLoginPatterns:     {"login_patterns", CategoryPlatformBehavior, 0.4},
	FactorTransactionTiming: {"transaction_timing", CategoryPlatformBehavior, 0.3},
	FactorDeviceConsistency: {"device_consistency", CategoryPlatformBehavior, 0.3},

	FactorSocialValidation:    {"social_validation", CategoryExternalValidation, 0.6},
	FactorExternalCreditCheck: {"external_credit_check", CategoryExternalValidation, 0.4},

	FactorMarketVolatility:      {"market_volatility", categoryAdvanced, 0.08},
	FactorSocialNetworkAnalysis: {"social_network_analysis", categoryAdvanced, 0.07},
	FactorBehavioralPatterns:    {"behavioral_patterns", categoryAdvanced, 0.06},
	FactorGeographicRisk:        {"geographic_risk", categoryAdvanced, 0.04},
}

func (f Factor) String() string {
	if f < numFactors {
		return factorTable[f].name
	}
	return fmt.Sprintf("factor(%d)", uint8(f))
}

// Category returns the category the factor belongs to.
func (f Factor) Category() Category {
	if f < numFactors {
		return factorTable[f].category
	}
	return categoryAdvanced
}

// Weight returns the factor's weight within its category, or its blend
// weight for advanced factors.
func (f Factor) Weight() float64 {
	if f < numFactors {
		return factorTable[f].weight
	}
	return 0
}

// IsAdvanced reports whether the factor is blended outside the category table.
func (f Factor) IsAdvanced() bool {
	return f.Category() == categoryAdvanced
}

func (f Factor) MarshalText() ([]byte, error) {
	if f >= numFactors {
		return nil, fmt.Errorf("risk: invalid factor %d", uint8(f))
	}
	return []byte(f.String()), nil
}

func (f *Factor) UnmarshalText(b []byte) error {
	parsed, ok := ParseFactor(string(b))
	if !ok {
		return fmt.Errorf("risk: unknown factor %q", b)
	}
	*f = parsed
	return nil
}

// ParseFactor resolves a factor by its wire name. Matching ignores case and
// surrounding whitespace.
func ParseFactor(name string) (Factor, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f := Factor(0); f < numFactors; f++ {
		if factorTable[f].name == name {
			return f, true
		}
	}
	return 0, false
}

// Factors returns every factor of a category in evaluation order.
func (c Category) Factors() []Factor {
	var out []Factor
	for f := Factor(0); f < numFactors; f++ {
		if factorTable[f].category == c {
			out = append(out, f)
		}
	}
	return out
}

// Categories returns the 7 scoring categories in table order.
func Categories() []Category {
	out := make([]Category, numCategories)
	for c := range out {
		out[c] = Category(c)
	}
	return out
}
