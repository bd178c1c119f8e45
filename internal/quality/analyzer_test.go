package quality

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage/sqlite"
	"github.com/ratecurve/cashpipe/internal/types"
)

func testParams() Params {
	return Params{
		IntegrityWeights: map[string]float64{
			"missing_fields": 0.3,
			"invalid_ranges": 0.2,
			"frn_match":      0.3,
			"completeness":   0.2,
		},
		LowFRNMatchThreshold: 0.5,
		OutlierThresholdPct:  50,
		MaxProcessing:        30 * time.Second,
		TrendTolerance:       2,
	}
}

func finalProduct(bank string, rate float64, frnStatus types.FRNStatus) *types.FinalProduct {
	r := rate
	p := &types.FinalProduct{SelectionReason: types.ReasonSingleProduct}
	p.BankName = bank
	p.AERRate = &r
	p.FRNStatus = frnStatus
	if frnStatus == types.FRNMatched {
		p.FRN = "204574"
	}
	return p
}

func TestFlowStats(t *testing.T) {
	in := Input{
		RawCount: 100,
		Finals:   make([]*types.FinalProduct, 60),
		Duration: 2 * time.Second,
	}
	flow := flowStats(in)
	assert.Equal(t, 100, flow.RawProducts)
	assert.Equal(t, 60, flow.FinalProducts)
	assert.InDelta(t, 0.4, flow.Attrition, 1e-9)
	assert.Equal(t, int64(2000), flow.DurationMS)
}

func TestFlowStatsEmptyRaw(t *testing.T) {
	assert.Equal(t, 0.0, flowStats(Input{}).Attrition)
}

func TestIntegrityStats(t *testing.T) {
	finals := []*types.FinalProduct{
		finalProduct("Marcus", 4.5, types.FRNMatched),
		finalProduct("Shawbrook", 4.3, types.FRNNoMatch),
	}
	st := integrityStats(finals, testParams())

	assert.Equal(t, 0.0, st.MissingFieldRate)
	assert.Equal(t, 0.0, st.InvalidRangeRate)
	assert.InDelta(t, 0.5, st.FRNMatchRate, 1e-9)
	assert.Greater(t, st.Score, 0.0)
}

func TestIntegrityStatsEmpty(t *testing.T) {
	st := integrityStats(nil, testParams())
	assert.Equal(t, IntegrityStats{}, st)
}

func TestDetectRateOutlier(t *testing.T) {
	finals := []*types.FinalProduct{
		finalProduct("A", 4.0, types.FRNMatched),
		finalProduct("B", 4.1, types.FRNMatched),
		finalProduct("C", 4.2, types.FRNMatched),
		finalProduct("D", 12.0, types.FRNMatched), // way above mean * 1.5
	}
	report := &Report{Integrity: integrityStats(finals, testParams())}
	anomalies := detectAnomalies(Input{Finals: finals, Duration: time.Second}, report, testParams())
	require.NotEmpty(t, anomalies)
	assert.Contains(t, anomalies[0], "outlier")
}

func TestDetectLowFRNMatchRate(t *testing.T) {
	finals := []*types.FinalProduct{
		finalProduct("A", 4.0, types.FRNNoMatch),
		finalProduct("B", 4.1, types.FRNNoMatch),
	}
	report := &Report{Integrity: integrityStats(finals, testParams())}
	anomalies := detectAnomalies(Input{Finals: finals, Duration: time.Second}, report, testParams())
	require.NotEmpty(t, anomalies)
	assert.Contains(t, anomalies[len(anomalies)-1], "FRN match rate")
}

func TestDetectSlowRun(t *testing.T) {
	finals := []*types.FinalProduct{finalProduct("A", 4.0, types.FRNMatched)}
	report := &Report{Integrity: integrityStats(finals, testParams())}
	anomalies := detectAnomalies(Input{Finals: finals, Duration: time.Minute}, report, testParams())
	require.NotEmpty(t, anomalies)
	assert.Contains(t, anomalies[len(anomalies)-1], "over the")
}

func TestOverallScoreClamped(t *testing.T) {
	r := &Report{Integrity: IntegrityStats{Score: 1.0}}
	assert.Equal(t, 100.0, overallScore(r))

	r.Anomalies = make([]string, 30)
	assert.Equal(t, 0.0, overallScore(r), "score docked 5 per anomaly is clamped at 0")
}

func TestDedupEffectivenessHistogram(t *testing.T) {
	finals := []*types.FinalProduct{
		finalProduct("A", 4.0, types.FRNMatched),
		finalProduct("B", 4.1, types.FRNMatched),
	}
	finals[0].SelectionReason = types.ReasonCrossPlatformSelection
	finals[1].SelectionReason = types.ReasonPreferredPlatform

	eff := dedupEffectiveness(finals)
	assert.Equal(t, 1, eff.ReasonHistogram[types.ReasonCrossPlatformSelection])
	assert.InDelta(t, 0.5, eff.CrossPlatformRatio, 1e-9)
	assert.InDelta(t, 0.5, eff.PreferredRetention, 1e-9)
}

// Run against a real store: parameters load from unified_config, the report
// persists, and a second run computes a trend against the first score.
func TestRunPersistsAndTrends(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	seed := map[string][2]string{
		"integrity_weights":       {`{"missing_fields":0.3,"invalid_ranges":0.2,"frn_match":0.3,"completeness":0.2}`, "json"},
		"low_frn_match_threshold": {"0.5", "number"},
		"outlier_threshold_pct":   {"50", "number"},
		"max_processing_seconds":  {"30", "number"},
		"trend_tolerance":         {"2", "number"},
	}
	for key, vt := range seed {
		require.NoError(t, store.SetConfigValue(ctx, ConfigCategory, key, vt[0], vt[1]))
	}

	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	finals := []*types.FinalProduct{
		finalProduct("Marcus", 4.5, types.FRNMatched),
		finalProduct("Shawbrook", 4.3, types.FRNMatched),
	}

	report, res, err := Run(ctx, store, Input{
		BatchID: "batch-1", Finals: finals, RawCount: 3, Duration: time.Second,
	}, log)
	require.NoError(t, err)
	assert.Equal(t, types.StageQuality, res.Stage)
	assert.Equal(t, "stable", report.Trend, "first run has no baseline")
	assert.Greater(t, report.OverallScore, 0.0)

	// a much worse second batch must read as degrading
	worse := []*types.FinalProduct{
		finalProduct("Unknown1", 4.0, types.FRNNoMatch),
		finalProduct("Unknown2", 4.1, types.FRNNoMatch),
	}
	report2, _, err := Run(ctx, store, Input{
		BatchID: "batch-2", Finals: worse, RawCount: 3, Duration: time.Second,
	}, log)
	require.NoError(t, err)
	assert.Equal(t, "degrading", report2.Trend)
}

func TestRunFailsWithoutConfig(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	_, _, err = Run(ctx, store, Input{BatchID: "batch-1"}, log)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConfigLoadFailed))
}
