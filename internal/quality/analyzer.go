// Package quality scores a finished pipeline run: flow attrition, data
// integrity, deduplication effectiveness, and anomaly detection. Analysis is
// advisory; persistence failures never fail the run.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/rules"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// ConfigCategory is the unified_config category consumed by the analyzer.
const ConfigCategory = "data_quality"

var requiredKeys = []string{
	"integrity_weights",
	"low_frn_match_threshold",
	"outlier_threshold_pct",
	"max_processing_seconds",
	"trend_tolerance",
}

// Params are the analyzer's store-resident parameters.
type Params struct {
	IntegrityWeights     map[string]float64
	LowFRNMatchThreshold float64
	OutlierThresholdPct  float64
	MaxProcessing        time.Duration
	TrendTolerance       float64
}

// LoadParams reads the data_quality category.
func LoadParams(ctx context.Context, ops storage.Ops) (Params, error) {
	cfg, err := rules.LoadConfiguration(ctx, ops, ConfigCategory, requiredKeys...)
	if err != nil {
		return Params{}, err
	}
	var p Params
	if p.IntegrityWeights, err = cfg.FloatMap("integrity_weights"); err != nil {
		return Params{}, err
	}
	if p.LowFRNMatchThreshold, err = cfg.Float("low_frn_match_threshold"); err != nil {
		return Params{}, err
	}
	if p.OutlierThresholdPct, err = cfg.Float("outlier_threshold_pct"); err != nil {
		return Params{}, err
	}
	secs, err := cfg.Float("max_processing_seconds")
	if err != nil {
		return Params{}, err
	}
	p.MaxProcessing = time.Duration(secs * float64(time.Second))
	if p.TrendTolerance, err = cfg.Float("trend_tolerance"); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Report is the persisted analysis document.
type Report struct {
	BatchID      string             `json:"batchId"`
	OverallScore float64            `json:"overallScore"`
	Trend        string             `json:"trend"`
	Flow         FlowStats          `json:"flow"`
	Integrity    IntegrityStats     `json:"integrity"`
	Dedup        DedupEffectiveness `json:"dedup"`
	Anomalies    []string           `json:"anomalies"`
}

// FlowStats capture pipeline attrition.
type FlowStats struct {
	RawProducts   int     `json:"rawProducts"`
	FinalProducts int     `json:"finalProducts"`
	Attrition     float64 `json:"attrition"`
	DurationMS    int64   `json:"durationMs"`
}

// IntegrityStats capture data soundness of the canonical set.
type IntegrityStats struct {
	MissingFieldRate float64 `json:"missingFieldRate"`
	InvalidRangeRate float64 `json:"invalidRangeRate"`
	FRNMatchRate     float64 `json:"frnMatchRate"`
	Completeness     float64 `json:"completeness"`
	Score            float64 `json:"score"`
}

// DedupEffectiveness captures how well deduplication performed.
type DedupEffectiveness struct {
	CrossPlatformRatio float64        `json:"crossPlatformRatio"`
	PreferredRetention float64        `json:"preferredRetention"`
	ReasonHistogram    map[string]int `json:"reasonHistogram"`
}

// Input carries everything the analyzer needs from the finished run.
type Input struct {
	BatchID  string
	Finals   []*types.FinalProduct
	RawCount int
	Duration time.Duration
	Verbose  bool
}

// Run analyzes the finished run and persists the report. Only parameter
// loading can fail the stage; a persistence failure logs and continues.
func Run(ctx context.Context, ops storage.Ops, in Input, log *logging.Logger) (*Report, types.StageResult, error) {
	started := time.Now()
	result := types.StageResult{Stage: types.StageQuality}

	params, err := LoadParams(ctx, ops)
	if err != nil {
		return nil, result, err
	}

	report := &Report{
		BatchID:   in.BatchID,
		Flow:      flowStats(in),
		Integrity: integrityStats(in.Finals, params),
		Dedup:     dedupEffectiveness(in.Finals),
	}
	report.Anomalies = detectAnomalies(in, report, params)
	report.OverallScore = overallScore(report)
	report.Trend = trend(ctx, ops, in.BatchID, report.OverallScore, params.TrendTolerance)

	if err := persist(ctx, ops, report); err != nil {
		log.Warnf("quality report not persisted: %v", err)
	}

	if in.Verbose {
		log.Infof("quality detail: flow=%+v integrity=%+v dedup=%+v", report.Flow, report.Integrity, report.Dedup)
	}
	log.Infof("data quality: score %.1f (%s), %d anomalies", report.OverallScore, report.Trend, len(report.Anomalies))

	result.Passed = len(in.Finals)
	result.Duration = time.Since(started)
	return report, result, nil
}

func flowStats(in Input) FlowStats {
	attrition := 0.0
	if in.RawCount > 0 {
		attrition = 1 - float64(len(in.Finals))/float64(in.RawCount)
	}
	return FlowStats{
		RawProducts:   in.RawCount,
		FinalProducts: len(in.Finals),
		Attrition:     attrition,
		DurationMS:    in.Duration.Milliseconds(),
	}
}

func integrityStats(finals []*types.FinalProduct, params Params) IntegrityStats {
	if len(finals) == 0 {
		return IntegrityStats{}
	}
	missing, invalid, matched := 0, 0, 0
	completenessSum := 0.0
	for _, p := range finals {
		if p.AERRate == nil || p.BankName == "" {
			missing++
		}
		if p.AERRate != nil && (*p.AERRate < 0 || *p.AERRate > 100) {
			invalid++
		}
		if p.FRNStatus == types.FRNMatched {
			matched++
		}
		completenessSum += finalCompleteness(p)
	}

	n := float64(len(finals))
	st := IntegrityStats{
		MissingFieldRate: float64(missing) / n,
		InvalidRangeRate: float64(invalid) / n,
		FRNMatchRate:     float64(matched) / n,
		Completeness:     completenessSum / n,
	}

	w := params.IntegrityWeights
	st.Score = w["missing_fields"]*(1-st.MissingFieldRate) +
		w["invalid_ranges"]*(1-st.InvalidRangeRate) +
		w["frn_match"]*st.FRNMatchRate +
		w["completeness"]*st.Completeness
	return st
}

func finalCompleteness(p *types.FinalProduct) float64 {
	filled := 0
	if p.AERRate != nil {
		filled++
	}
	if p.GrossRate != nil {
		filled++
	}
	if p.MinDeposit != nil {
		filled++
	}
	if p.FRN != "" {
		filled++
	}
	return float64(filled) / 4
}

func dedupEffectiveness(finals []*types.FinalProduct) DedupEffectiveness {
	eff := DedupEffectiveness{ReasonHistogram: map[string]int{}}
	if len(finals) == 0 {
		return eff
	}
	cross, preferred := 0, 0
	for _, p := range finals {
		eff.ReasonHistogram[p.SelectionReason]++
		if p.SelectionReason == types.ReasonCrossPlatformSelection {
			cross++
		}
		if p.SelectionReason == types.ReasonPreferredPlatform {
			preferred++
		}
	}
	n := float64(len(finals))
	eff.CrossPlatformRatio = float64(cross) / n
	eff.PreferredRetention = float64(preferred) / n
	return eff
}

func detectAnomalies(in Input, report *Report, params Params) []string {
	var anomalies []string

	if len(in.Finals) > 1 {
		sum := 0.0
		count := 0
		for _, p := range in.Finals {
			if p.AERRate != nil {
				sum += *p.AERRate
				count++
			}
		}
		if count > 0 {
			mean := sum / float64(count)
			limit := mean * (1 + params.OutlierThresholdPct/100)
			outliers := 0
			for _, p := range in.Finals {
				if p.AERRate != nil && *p.AERRate > limit {
					outliers++
				}
			}
			if outliers > 0 {
				anomalies = append(anomalies, fmt.Sprintf("%d high-rate outliers above %.2f", outliers, limit))
			}
		}
	}

	if report.Integrity.FRNMatchRate < params.LowFRNMatchThreshold {
		anomalies = append(anomalies, fmt.Sprintf("FRN match rate %.1f%% below threshold %.1f%%",
			report.Integrity.FRNMatchRate*100, params.LowFRNMatchThreshold*100))
	}
	if in.Duration > params.MaxProcessing {
		anomalies = append(anomalies, fmt.Sprintf("processing took %s, over the %s limit",
			in.Duration.Round(time.Second), params.MaxProcessing))
	}
	return anomalies
}

// overallScore maps the analysis onto 0-100, docked per anomaly.
func overallScore(r *Report) float64 {
	score := r.Integrity.Score * 100
	score -= float64(len(r.Anomalies)) * 5
	return math.Max(0, math.Min(100, score))
}

func trend(ctx context.Context, ops storage.Ops, batchID string, score, tolerance float64) string {
	prev, ok, err := ops.LastQualityScore(ctx, batchID)
	if err != nil || !ok {
		return "stable"
	}
	switch {
	case score > prev+tolerance:
		return "improving"
	case score < prev-tolerance:
		return "degrading"
	}
	return "stable"
}

func persist(ctx context.Context, ops storage.Ops, report *Report) error {
	b, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return ops.InsertQualityReport(ctx, report.BatchID, report.OverallScore, report.Trend, string(b))
}
