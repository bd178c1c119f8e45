package reprocess

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/storage/sqlite"
	"github.com/ratecurve/cashpipe/internal/types"
)

func testStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testControllerOptions() Options {
	return Options{
		Timeout:          5 * time.Second,
		BreakerThreshold: 3,
		BreakerReset:     time.Hour, // keep the breaker open for the test's duration
		FailsafeInterval: time.Hour, // keep the failsafe quiet
		StaleLockAfter:   time.Minute,
		FallbackAfter:    100, // keep fallback out of breaker-focused tests
	}
}

func waitForRuns(t *testing.T, c *Controller, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.GetStats().TotalRuns >= want
	}, 5*time.Second, 10*time.Millisecond, "controller never reached %d runs", want)
}

func TestControllerRunsProcessorOnTrigger(t *testing.T) {
	var calls atomic.Int32
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	c := NewController(testStore(t), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, testControllerOptions(), log)
	defer c.Shutdown()

	c.Notify(TriggerScraperCompleted, "raisin-normalized-1.json")
	waitForRuns(t, c, 1)

	stats := c.GetStats()
	assert.Equal(t, BreakerClosed, stats.BreakerState)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, stats.LastError)
}

func TestControllerOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	c := NewController(testStore(t), func(ctx context.Context) error {
		return errors.New("dedup exploded")
	}, testControllerOptions(), log)
	defer c.Shutdown()

	for i := 0; i < 3; i++ {
		c.TriggerManualProcessing("test")
		waitForRuns(t, c, i+1)
	}

	require.Eventually(t, func() bool {
		return c.GetStats().BreakerState == BreakerOpen
	}, 5*time.Second, 10*time.Millisecond)

	// further triggers are skipped while open
	before := c.GetStats().TotalRuns
	c.TriggerManualProcessing("test")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, c.GetStats().TotalRuns)
}

func TestControllerHalfOpenRecovery(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	opts := testControllerOptions()
	opts.BreakerThreshold = 1
	opts.BreakerReset = 50 * time.Millisecond

	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	c := NewController(testStore(t), func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("still broken")
		}
		return nil
	}, opts, log)
	defer c.Shutdown()

	c.TriggerManualProcessing("break it")
	require.Eventually(t, func() bool {
		return c.GetStats().BreakerState == BreakerOpen
	}, 5*time.Second, 10*time.Millisecond)

	fail.Store(false)
	time.Sleep(60 * time.Millisecond) // let the reset window pass

	c.TriggerManualProcessing("probe")
	require.Eventually(t, func() bool {
		return c.GetStats().BreakerState == BreakerClosed
	}, 5*time.Second, 10*time.Millisecond, "half-open probe success must close the breaker")
}

func TestControllerResetCircuitBreaker(t *testing.T) {
	opts := testControllerOptions()
	opts.BreakerThreshold = 1

	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	c := NewController(testStore(t), func(ctx context.Context) error {
		return errors.New("nope")
	}, opts, log)
	defer c.Shutdown()

	c.TriggerManualProcessing("test")
	require.Eventually(t, func() bool {
		return c.GetStats().BreakerState == BreakerOpen
	}, 5*time.Second, 10*time.Millisecond)

	c.ResetCircuitBreaker()
	assert.Equal(t, BreakerClosed, c.GetStats().BreakerState)
}

// A lock held by another process skips the invocation without an error and
// without tripping the breaker.
func TestControllerSkipsWhenLockHeld(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	acquired, err := store.AcquireProcessingLock(ctx, lockProcessType, "other process", time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	var calls atomic.Int32
	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	c := NewController(store, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, testControllerOptions(), log)
	defer c.Shutdown()

	c.TriggerManualProcessing("test")
	waitForRuns(t, c, 1)

	stats := c.GetStats()
	assert.Equal(t, int32(0), calls.Load(), "processor must not run under a held lock")
	assert.Equal(t, BreakerClosed, stats.BreakerState)
	assert.Empty(t, stats.LastError)
}

// Repeated failures past the fallback threshold copy raw rows straight into
// the canonical table and mark them processed.
func TestControllerFallbackCopyThrough(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rate := 4.5
	raw := &types.RawProduct{
		Platform: "raisin", Source: "raisin", Method: "scrape",
		BankName: "Marcus", AccountType: types.AccountEasyAccess,
		AERRate: &rate, ScrapedAt: time.Now().UTC(),
	}
	require.NoError(t, store.InsertRawProducts(ctx, []*types.RawProduct{raw}))

	opts := testControllerOptions()
	opts.BreakerThreshold = 10 // keep the breaker closed while fallback fires
	opts.FallbackAfter = 2

	log := logging.NewWithWriter("test", logging.LevelError, io.Discard)
	c := NewController(store, func(ctx context.Context) error {
		return errors.New("dedup keeps failing")
	}, opts, log)
	defer c.Shutdown()

	c.TriggerManualProcessing("one")
	waitForRuns(t, c, 1)
	c.TriggerManualProcessing("two")
	waitForRuns(t, c, 2)

	require.Eventually(t, func() bool {
		return c.GetStats().FallbackRuns >= 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := store.CountCleanProducts(ctx)
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond, "fallback must copy the raw row through")

	unprocessed, err := store.UnprocessedRawProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, unprocessed, "fallback marks raw rows processed")
}
