package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratecurve/cashpipe/internal/audit"
	"github.com/ratecurve/cashpipe/internal/dedup"
	"github.com/ratecurve/cashpipe/internal/frn"
	"github.com/ratecurve/cashpipe/internal/ingest"
	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/storage/sqlite"
	"github.com/ratecurve/cashpipe/internal/types"
)

func seedCategory(t *testing.T, store storage.Store, category string, seed map[string][2]string) {
	t.Helper()
	ctx := context.Background()
	for key, vt := range seed {
		require.NoError(t, store.SetConfigValue(ctx, category, key, vt[0], vt[1]))
	}
}

// seedEngineStore builds a store with every parameter the three mandatory
// stages load, plus reference data and a lookup cache for two banks.
func seedEngineStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	seedCategory(t, store, ingest.ConfigCategory, map[string][2]string{
		"aer_rate_min":           {"0", "number"},
		"aer_rate_max":           {"10", "number"},
		"term_months_min":        {"1", "number"},
		"term_months_max":        {"60", "number"},
		"notice_days_min":        {"1", "number"},
		"notice_days_max":        {"365", "number"},
		"corruption_threshold":   {"0.5", "number"},
		"rate_filtering_enabled": {"false", "boolean"},
		"min_rate_thresholds":    {`{"easy_access":3.5}`, "json"},
	})
	seedCategory(t, store, frn.ConfigCategory, map[string][2]string{
		"fuzzy_threshold":           {"0.85", "number"},
		"max_edit_distance":         {"2", "number"},
		"fuzzy_match_confidence":    {"0.9", "number"},
		"confidence_threshold_high": {"0.75", "number"},
		"confidence_threshold_low":  {"0.5", "number"},
		"research_queue_max_size":   {"100", "number"},
		"generic_terms":             {`["bank","savings"]`, "json"},
		"normalization_prefixes":    {`["The"]`, "json"},
		"normalization_suffixes":    {`["Ltd","Limited","PLC","Bank"]`, "json"},
		"abbreviations":             {`{"BLDG":"Building"}`, "json"},
		"timeout_seconds":           {"30", "number"},
	})
	seedCategory(t, store, dedup.ConfigCategory, map[string][2]string{
		"corporate_suffixes":           {`["Ltd","Limited","PLC","Bank"]`, "json"},
		"direct_platforms":             {`["bank_site"]`, "json"},
		"rate_tolerance_bp":            {"10", "number"},
		"rate_score_weight":            {"0.4", "number"},
		"platform_score_weight":        {"0.2", "number"},
		"completeness_score_weight":    {"0.2", "number"},
		"reliability_score_weight":     {"0.2", "number"},
		"frn_quality_bonus":            {"0.1", "number"},
		"quality_score_max":            {"1.0", "number"},
		"max_rate_for_scoring":         {"10", "number"},
		"default_platform_reliability": {"0.5", "number"},
		"platform_reliability":         {`{"raisin":0.9}`, "json"},
	})

	require.NoError(t, store.UpsertPlatform(ctx, storage.PlatformRow{
		Platform: "raisin", DisplayName: "Raisin", Priority: 5, Category: "aggregator", Reliability: 0.9,
	}))
	require.NoError(t, store.UpsertScraper(ctx, storage.ScraperRow{Source: "raisin", Reliability: 0.9}))

	require.NoError(t, store.AddManualOverride(ctx, "Marcus", "900001", 1.0))
	require.NoError(t, store.AddManualOverride(ctx, "Shawbrook", "204574", 1.0))
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	params, err := frn.LoadParams(ctx, store)
	require.NoError(t, err)
	_, err = frn.RebuildCache(ctx, store, params.Norm, log)
	require.NoError(t, err)
	return store
}

func newTestEngine(store storage.Store, atomic bool) *Engine {
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	return New(store, Options{
		Atomic:       atomic,
		StageTimeout: time.Minute,
		Audit:        audit.Options{Enabled: true, Level: audit.LevelStandard},
	}, log)
}

func feedProduct(bank string, rate float64) string {
	return fmt.Sprintf(`{"platform":"raisin","bankName":%q,"accountType":"easy_access","aerRate":%.2f,"fscsProtected":true,"scrapedAt":"2026-08-24T10:00:00Z"}`,
		bank, rate)
}

func writeFeed(t *testing.T, dir, name string, products ...string) string {
	t.Helper()
	doc := `{"metadata":{"source":"raisin","method":"scrape"},"products":[`
	for i, p := range products {
		if i > 0 {
			doc += ","
		}
		doc += p
	}
	doc += `]}`
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestRunHappyPathAtomic(t *testing.T) {
	ctx := context.Background()
	store := seedEngineStore(t)
	input := writeFeed(t, t.TempDir(), "feed.json",
		feedProduct("Marcus", 4.5), feedProduct("Shawbrook", 4.4))

	engine := newTestEngine(store, true)
	result, err := engine.Run(ctx, RunOptions{Files: []string{input}})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RawCount)
	assert.Equal(t, 2, result.FinalCount)
	require.Len(t, result.Stages, 3)

	n, err := store.CountCleanProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status, err := store.GetPipelineStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)

	batch, err := store.GetBatch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchCompleted, batch.Status)

	assert.False(t, exists(input), "input file is removed after a successful run")
}

// A failure after ingestion in atomic mode must leave both the canonical
// table and the raw table exactly as the previous run left them.
func TestRunAtomicRollbackPreservesPriorData(t *testing.T) {
	ctx := context.Background()
	store := seedEngineStore(t)
	dir := t.TempDir()

	first := writeFeed(t, dir, "first.json",
		feedProduct("Marcus", 4.5), feedProduct("Shawbrook", 4.4))
	engine := newTestEngine(store, true)
	_, err := engine.Run(ctx, RunOptions{Files: []string{first}})
	require.NoError(t, err)

	// poison FRN matching so the second run fails after ingestion wrote rows
	require.NoError(t, store.SetConfigValue(ctx, frn.ConfigCategory, "fuzzy_threshold", "not-a-number", "number"))

	second := writeFeed(t, dir, "second.json", feedProduct("Marcus", 4.6))
	result, err := engine.Run(ctx, RunOptions{Files: []string{second}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConfigLoadFailed))
	assert.False(t, result.Success)

	clean, err := store.CountCleanProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, clean, "canonical table must keep the previous run's rows")

	raw, err := store.CountRawProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, raw, "the failed run's raw writes must roll back")

	status, err := store.GetPipelineStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)

	batch, err := store.GetBatch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchFailed, batch.Status)
}

func TestRunRejectsWhenAlreadyRunning(t *testing.T) {
	ctx := context.Background()
	store := seedEngineStore(t)
	require.NoError(t, store.SetPipelineStatus(ctx, true, types.StageFRNMatching, "batch-other"))

	engine := newTestEngine(store, true)
	_, err := engine.Run(ctx, RunOptions{RebuildOnly: true})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConcurrentExecution))
}

func TestRecoverResetsStaleStatus(t *testing.T) {
	ctx := context.Background()
	store := seedEngineStore(t)
	require.NoError(t, store.SetPipelineStatus(ctx, true, types.StageDedup, "batch-crashed"))

	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	engine := New(store, Options{StageTimeout: 10 * time.Millisecond}, log)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, engine.Recover(ctx))

	status, err := store.GetPipelineStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
}

// auditFailStore fails every stage-audit write; product-table methods pass
// through untouched.
type auditFailStore struct {
	storage.Store
}

func (s auditFailStore) UpdateStageAudit(ctx context.Context, row storage.StageAuditRow) error {
	return errors.New("audit table unavailable")
}

// An audit flush failure is logged, not fatal: the run completes and the
// canonical table is published.
func TestRunSurvivesAuditFlushFailure(t *testing.T) {
	ctx := context.Background()
	store := seedEngineStore(t)
	input := writeFeed(t, t.TempDir(), "feed.json",
		feedProduct("Marcus", 4.5), feedProduct("Shawbrook", 4.4))

	engine := newTestEngine(auditFailStore{Store: store}, false)
	result, err := engine.Run(ctx, RunOptions{Files: []string{input}})
	require.NoError(t, err)
	assert.True(t, result.Success)

	n, err := store.CountCleanProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStageTimeoutMapsToStageFailure(t *testing.T) {
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	engine := New(nil, Options{StageTimeout: 20 * time.Millisecond}, log)

	err := engine.withStageTimeout(context.Background(), types.StageDedup, func(sctx context.Context) error {
		<-sctx.Done()
		return sctx.Err()
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStageExecutionFailed))

	// a stage's own error passes through untouched
	sentinel := errors.New("stage blew up")
	err = engine.withStageTimeout(context.Background(), types.StageDedup, func(sctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}
