package risk

import "time"

// Recommendation messages.
const (
	RecBuildReputation      = "build platform reputation through smaller completed investments"
	RecCompleteVerification = "complete account verification"
	RecResolveDefaults      = "resolve previous defaults before requesting new funding"
	RecAlignAmount          = "request an amount closer to your funding history"
	RecReduceDebt           = "reduce existing debt before taking on new obligations"
	RecIncomeDocumentation  = "provide additional income documentation"
	RecCompleteInvestments  = "complete existing investments to strengthen repayment history"
	RecDescribePurpose      = "add a detailed description of the investment purpose"
	RecUploadDocuments      = "upload additional supporting documents"
	RecReplaceDocuments     = "replace documents that failed security checks"
	RecRegularActivity      = "maintain regular platform activity"
	RecConsistentDevices    = "use a consistent set of devices"
	RecVerifiedConnections  = "connect with verified platform members"
	RecSmallerAmount        = "consider smaller amounts or co-signer"
)

type rule struct {
	factor  Factor
	below   float64
	message string
}

// factorRules are evaluated in factor order.
var factorRules = []rule{
	{FactorReputationScore, 50, RecBuildReputation},
	{FactorVerificationStatus, 50, RecCompleteVerification},
	{FactorPreviousDefaults, 50, RecResolveDefaults},
	{FactorInvestmentAmountVsHistory, 50, RecAlignAmount},
	{FactorDebtToIncome, 50, RecReduceDebt},
	{FactorFinancialDocumentsQuality, 50, RecIncomeDocumentation},
	{FactorIncomeCoverage, 50, RecIncomeDocumentation},
	{FactorCompletedInvestmentsRatio, 50, RecCompleteInvestments},
	{FactorPurposeClarity, 60, RecDescribePurpose},
	{FactorDocumentCompleteness, 50, RecUploadDocuments},
	{FactorDocumentAuthenticity, 50, RecReplaceDocuments},
	{FactorLoginPatterns, 50, RecRegularActivity},
	{FactorDeviceConsistency, 50, RecConsistentDevices},
	{FactorSocialValidation, 50, RecVerifiedConnections},
}

// overallFloor triggers RecSmallerAmount.
const overallFloor = 40

// Recommend returns guidance for every under-threshold factor, in factor
// order, followed by the overall-score rule. Duplicate messages collapse.
func Recommend(a *Assessment) []string {
	out := []string{}
	seen := make(map[string]bool)
	add := func(msg string) {
		if !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
	}
	for _, r := range factorRules {
		f, ok := a.Factor(r.factor)
		if ok && f.Score < r.below {
			add(r.message)
		}
	}
	if a.OverallScore < overallFloor {
		add(RecSmallerAmount)
	}
	return out
}

// Lending decisions.
const (
	DecisionApprove            = "approve"
	DecisionConditionalApprove = "conditional_approve"
	DecisionRequestMoreInfo    = "request_more_info"
	DecisionReject             = "reject"
)

var termsByLevel = map[Level]Terms{
	LevelVeryLow:  {Decision: DecisionApprove, MinInterestRate: 5, MaxInterestRate: 8, MinAmountRatio: 0.9, MaxAmountRatio: 1},
	LevelLow:      {Decision: DecisionApprove, MinInterestRate: 8, MaxInterestRate: 12, MinAmountRatio: 0.75, MaxAmountRatio: 1},
	LevelMedium:   {Decision: DecisionConditionalApprove, MinInterestRate: 12, MaxInterestRate: 18, MinAmountRatio: 0.5, MaxAmountRatio: 0.8},
	LevelHigh:     {Decision: DecisionRequestMoreInfo, MinInterestRate: 18, MaxInterestRate: 25, MinAmountRatio: 0.25, MaxAmountRatio: 0.5},
	LevelVeryHigh: {Decision: DecisionReject},
}

// TermsFor returns the lending guidance for a risk level.
func TermsFor(level Level) Terms {
	if t, ok := termsByLevel[level]; ok {
		return t
	}
	return Terms{Decision: DecisionRequestMoreInfo}
}

var reassessMonths = map[Level]int{
	LevelVeryLow:  6,
	LevelLow:      4,
	LevelMedium:   3,
	LevelHigh:     2,
	LevelVeryHigh: 1,
}

// NextAssessment returns when an assessment at the given level should be
// reassessed. Riskier levels are revisited sooner.
func NextAssessment(level Level, from time.Time) time.Time {
	months, ok := reassessMonths[level]
	if !ok {
		months = 1
	}
	return from.AddDate(0, months, 0)
}
