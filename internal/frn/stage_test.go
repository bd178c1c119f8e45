package frn

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratecurve/cashpipe/internal/audit"
	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/storage/sqlite"
	"github.com/ratecurve/cashpipe/internal/types"
)

func seedStageStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	seed := map[string][2]string{
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
	}
	for key, vt := range seed {
		require.NoError(t, store.SetConfigValue(ctx, ConfigCategory, key, vt[0], vt[1]))
	}

	require.NoError(t, store.AddManualOverride(ctx, "Marcus", "900001", 1.0))
	params, err := LoadParams(ctx, store)
	require.NoError(t, err)
	_, err = RebuildCache(ctx, store, params.Norm, logging.NewWithWriter("test", logging.LevelError, io.Discard))
	require.NoError(t, err)
	return store
}

func parsedProduct(bank string) *types.ParsedProduct {
	rate := 4.5
	p := &types.ParsedProduct{}
	p.Platform = "raisin"
	p.Source = "raisin"
	p.Method = "scrape"
	p.BankName = bank
	p.AccountType = types.AccountEasyAccess
	p.AERRate = &rate
	p.ScrapedAt = time.Now().UTC()
	return p
}

func TestStageResolvesAndWritesBack(t *testing.T) {
	ctx := context.Background()
	store := seedStageStore(t)
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	rec := audit.NewRecorder(audit.Options{}, log)

	matched := parsedProduct("Marcus")
	require.NoError(t, store.InsertRawProducts(ctx, []*types.RawProduct{&matched.RawProduct}))
	require.NotZero(t, matched.ID)

	enriched, res, err := Run(ctx, store, []*types.ParsedProduct{matched}, rec, log)
	require.NoError(t, err)
	require.Len(t, enriched, 1)
	assert.Equal(t, types.StageFRNMatching, res.Stage)
	assert.Equal(t, 1, res.Passed)

	e := enriched[0]
	assert.Equal(t, "900001", e.FRN)
	assert.Equal(t, types.FRNMatched, e.FRNStatus)
	assert.Equal(t, "MARCUS", e.NormalizedName)

	// resolution is written back onto the raw row
	unprocessed, err := store.UnprocessedRawProducts(ctx)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, "900001", unprocessed[0].FRN)
}

func TestStageQueuesUnmatchedNames(t *testing.T) {
	ctx := context.Background()
	store := seedStageStore(t)
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	rec := audit.NewRecorder(audit.Options{}, log)

	unknown := parsedProduct("Obscure Finance House")
	enriched, _, err := Run(ctx, store, []*types.ParsedProduct{unknown}, rec, log)
	require.NoError(t, err)
	require.Len(t, enriched, 1)
	assert.Equal(t, types.FRNNoMatch, enriched[0].FRNStatus)

	queued, err := store.IsQueuedForResearch(ctx, "Obscure Finance House")
	require.NoError(t, err)
	assert.True(t, queued)

	// a second run must not grow the queue
	_, _, err = Run(ctx, store, []*types.ParsedProduct{parsedProduct("Obscure Finance House")}, rec, log)
	require.NoError(t, err)
	size, err := store.ResearchQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestStageSkipsGenericTermsFromQueue(t *testing.T) {
	ctx := context.Background()
	store := seedStageStore(t)
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	rec := audit.NewRecorder(audit.Options{}, log)

	_, _, err := Run(ctx, store, []*types.ParsedProduct{parsedProduct("Savings")}, rec, log)
	require.NoError(t, err)

	size, err := store.ResearchQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size, "generic terms never enter the research queue")
}

func TestStageFailsWithoutConfig(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)

	recorder := audit.NewRecorder(audit.Options{}, log)
	_, _, err = Run(ctx, store, []*types.ParsedProduct{parsedProduct("Marcus")}, recorder, log)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConfigLoadFailed))
}
