package risk

import "math"

// Blend parameters for the overall score.
const (
	baseShare              = 0.8
	advancedShare          = 0.2
	categoryConfidenceMix  = 0.7
	advancedConfidenceMix  = 0.3
	emptyCategoryScore     = 50
	emptyCategoryConfident = 0.5
)

// evaluateFactors runs every calculator against the signals and splits the
// results into category factors and advanced factors.
func evaluateFactors(s *Signals) ([]RiskFactor, []AdvancedFactor) {
	var factors []RiskFactor
	var advanced []AdvancedFactor
	for f := Factor(0); f < numFactors; f++ {
		c, ok := calculators[f](s)
		if !ok {
			continue
		}
		score := clamp(c.score, 0, 100)
		conf := clamp(c.confidence, 0, 1)
		if f.IsAdvanced() {
			advanced = append(advanced, AdvancedFactor{
				Name:       f,
				RawValue:   c.raw,
				Score:      score,
				Weight:     f.Weight(),
				Confidence: conf,
				Reasoning:  c.reasoning,
			})
			continue
		}
		factors = append(factors, RiskFactor{
			Name:       f,
			Category:   f.Category(),
			RawValue:   c.raw,
			Weight:     f.Weight(),
			Score:      score,
			Confidence: conf,
			Reasoning:  c.reasoning,
		})
	}
	return factors, advanced
}

// groupCategories places factors into the 7 fixed categories, in table
// order, and scores each.
func groupCategories(factors []RiskFactor) []CategoryScore {
	out := make([]CategoryScore, numCategories)
	for i := range out {
		out[i] = CategoryScore{Name: Category(i), Weight: Category(i).Weight()}
	}
	for _, f := range factors {
		if f.Category >= numCategories {
			continue
		}
		out[f.Category].Factors = append(out[f.Category].Factors, f)
	}
	for i := range out {
		out[i].Score, out[i].Confidence = scoreCategory(out[i].Factors)
	}
	return out
}

// scoreCategory returns the weighted average score and confidence of the
// factors. Categories without positively weighted factors score 50.
func scoreCategory(factors []RiskFactor) (score, confidence float64) {
	var sum, conf, weights float64
	for _, f := range factors {
		if f.Weight <= 0 {
			continue
		}
		sum += clamp(f.Score, 0, 100) * f.Weight
		conf += clamp(f.Confidence, 0, 1) * f.Weight
		weights += f.Weight
	}
	if weights == 0 {
		return emptyCategoryScore, emptyCategoryConfident
	}
	return clamp(sum/weights, 0, 100), clamp(conf/weights, 0, 1)
}

// combine computes the overall score and the confidence multiplier.
//
//	base     = Σ category.score × category.weight
//	advanced = Σ factor.score × factor.weight
//	overall  = clamp((base×0.8 + advanced×0.2) × confidence, 0, 100)
//	confidence = avgCategoryConfidence×0.7 + avgAdvancedConfidence×0.3
func combine(categories []CategoryScore, advanced []AdvancedFactor) (overall, confidence float64) {
	var base, catConf float64
	for _, c := range categories {
		base += c.Score * c.Weight
		catConf += c.Confidence
	}
	if len(categories) > 0 {
		catConf /= float64(len(categories))
	}

	var adv, advConf float64
	for _, a := range advanced {
		adv += a.Score * a.Weight
		advConf += a.Confidence
	}
	if len(advanced) > 0 {
		advConf /= float64(len(advanced))
	}

	confidence = clamp(catConf*categoryConfidenceMix+advConf*advancedConfidenceMix, 0, 1)
	blended := base*baseShare + adv*advancedShare
	overall = clamp(blended*confidence, 0, 100)
	return round2(overall), round2(confidence)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Classify maps an overall score to a risk level. NaN yields LevelUnknown.
func Classify(score float64) Level {
	switch {
	case math.IsNaN(score) || math.IsInf(score, 0):
		return LevelUnknown
	case score >= 80:
		return LevelVeryLow
	case score >= 65:
		return LevelLow
	case score >= 45:
		return LevelMedium
	case score >= 25:
		return LevelHigh
	default:
		return LevelVeryHigh
	}
}

// recompute derives the overall score, level, recommendations, terms and
// next assessment date from the assessment's current factors.
func (a *Assessment) recompute() {
	for i := range a.Categories {
		a.Categories[i].Score, a.Categories[i].Confidence = scoreCategory(a.Categories[i].Factors)
	}
	a.OverallScore, a.Confidence = combine(a.Categories, a.AdvancedFactors)
	a.RiskLevel = Classify(a.OverallScore)
	a.Recommendations = Recommend(a)
	a.Terms = TermsFor(a.RiskLevel)
	a.NextAssessmentAt = NextAssessment(a.RiskLevel, a.ComputedAt)
}

// Evaluate scores the signals into an unsaved assessment. It is a pure
// function of its input.
func Evaluate(s *Signals) *Assessment {
	factors, advanced := evaluateFactors(s)
	a := &Assessment{
		InvestmentID:    s.Investment.ID,
		BorrowerID:      s.Borrower.ID,
		Version:         1,
		Categories:      groupCategories(factors),
		AdvancedFactors: advanced,
		ComputedAt:      s.Now,
		ManualOverrides: []Override{},
	}
	for _, d := range s.Degraded {
		a.DegradedSources = append(a.DegradedSources, string(d))
	}
	a.recompute()
	return a
}
