package dedup

import (
	"github.com/ratecurve/cashpipe/internal/types"
)

// scoreWeights are the configured quality-score inputs. Weights are applied
// exactly as configured and are not normalized: with the FRN bonus the raw
// sum can exceed QualityScoreMax before the final cap.
type scoreWeights struct {
	RateWeight          float64
	PlatformWeight      float64
	CompletenessWeight  float64
	ReliabilityWeight   float64
	FRNBonus            float64
	Max                 float64
	MaxRateForScoring   float64
	DefaultPlatformRel  float64
	PlatformReliability map[string]float64
}

// qualityScore computes a product's configurable composite score.
func qualityScore(p *types.EnrichedProduct, w scoreWeights) float64 {
	rateScore := 0.0
	if p.AERRate != nil && w.MaxRateForScoring > 0 {
		rateScore = *p.AERRate / w.MaxRateForScoring
		if rateScore > w.Max {
			rateScore = w.Max
		}
	}

	platformScore, ok := w.PlatformReliability[p.Platform]
	if !ok {
		platformScore = w.DefaultPlatformRel
	}

	reliability := platformScore
	if p.FRNConfidence > 0 {
		reliability = p.FRNConfidence
	}

	score := w.RateWeight*rateScore +
		w.PlatformWeight*platformScore +
		w.CompletenessWeight*completeness(p) +
		w.ReliabilityWeight*reliability
	if p.FRN != "" {
		score += w.FRNBonus
	}
	if score > w.Max {
		score = w.Max
	}
	return score
}

// completeness is the filled fraction of the eight scored optional fields.
func completeness(p *types.EnrichedProduct) float64 {
	filled := 0
	if p.AERRate != nil {
		filled++
	}
	if p.GrossRate != nil {
		filled++
	}
	if p.TermMonths != nil {
		filled++
	}
	if p.NoticePeriodDays != nil {
		filled++
	}
	if p.MinDeposit != nil {
		filled++
	}
	if p.MaxDeposit != nil {
		filled++
	}
	if p.InterestPaymentFrequency != "" {
		filled++
	}
	if p.SpecialFeatures != "" {
		filled++
	}
	return float64(filled) / 8
}
