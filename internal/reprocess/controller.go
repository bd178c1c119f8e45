package reprocess

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// Trigger names the reprocessing event sources.
type Trigger string

const (
	TriggerScraperCompleted Trigger = "scraper:completed"
	TriggerManual           Trigger = "manual:trigger"
	TriggerRecovery         Trigger = "recovery:trigger"
)

// lockProcessType is the processing_state row claimed per invocation.
const lockProcessType = "reprocessing"

// Processor runs the deduplication-only rebuild. Injected so tests can
// exercise the resilience wrapper without a real pipeline.
type Processor func(ctx context.Context) error

// Options configure the controller. Zero values take the documented
// defaults: 30s timeout, 3-failure threshold, 1-minute reset, 5-minute
// failsafe, 10-minute stale locks.
type Options struct {
	Timeout          time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
	FailsafeInterval time.Duration
	StaleLockAfter   time.Duration
	FallbackAfter    int // consecutive failures before fallback copy-through
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 3
	}
	if o.BreakerReset <= 0 {
		o.BreakerReset = time.Minute
	}
	if o.FailsafeInterval <= 0 {
		o.FailsafeInterval = 5 * time.Minute
	}
	if o.StaleLockAfter <= 0 {
		o.StaleLockAfter = 10 * time.Minute
	}
	if o.FallbackAfter <= 0 {
		o.FallbackAfter = 2
	}
}

// Stats is the controller's admin-facing state snapshot.
type Stats struct {
	BreakerState      BreakerState `json:"breakerState"`
	ConsecutiveErrors int          `json:"consecutiveErrors"`
	TotalErrors       int          `json:"totalErrors"`
	TotalRuns         int          `json:"totalRuns"`
	FallbackRuns      int          `json:"fallbackRuns"`
	LastRunAt         time.Time    `json:"lastRunAt"`
	LastError         string       `json:"lastError"`
}

type event struct {
	trigger Trigger
	payload string
}

// Controller owns the event bus and the resilience wrapper around the
// deduplication-only path. A single supervisor goroutine consumes events so
// invocations never overlap in-process; the lock row protects across
// processes.
type Controller struct {
	store   storage.Store
	process Processor
	opts    Options
	log     *logging.Logger
	breaker *breaker

	events chan event
	done   chan struct{}
	wg     sync.WaitGroup

	mu           sync.Mutex
	running      bool
	totalRuns    int
	fallbackRuns int
	lastRunAt    time.Time
	lastError    string
}

// NewController builds and starts the controller: the supervisor goroutine
// and the failsafe ticker begin immediately.
func NewController(store storage.Store, process Processor, opts Options, log *logging.Logger) *Controller {
	opts.applyDefaults()
	c := &Controller{
		store:   store,
		process: process,
		opts:    opts,
		log:     log,
		breaker: newBreaker(opts.BreakerThreshold, opts.BreakerReset),
		events:  make(chan event, 16),
		done:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.supervise()
	go c.failsafe()
	return c
}

// Notify delivers a trigger to the bus. A full bus drops the event with a
// warning instead of blocking the caller.
func (c *Controller) Notify(trigger Trigger, payload string) {
	select {
	case c.events <- event{trigger: trigger, payload: payload}:
	case <-c.done:
	default:
		c.log.Warnf("reprocess event bus full; dropping %s", trigger)
	}
}

// TriggerManualProcessing queues a manual invocation.
func (c *Controller) TriggerManualProcessing(reason string) {
	c.Notify(TriggerManual, reason)
}

// ResetCircuitBreaker closes the breaker. Admin operation.
func (c *Controller) ResetCircuitBreaker() {
	c.breaker.forceReset()
	c.log.Infof("circuit breaker reset to closed")
}

// GetStats returns the controller's counters.
func (c *Controller) GetStats() Stats {
	state, consecutive, total := c.breaker.snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		BreakerState:      state,
		ConsecutiveErrors: consecutive,
		TotalErrors:       total,
		TotalRuns:         c.totalRuns,
		FallbackRuns:      c.fallbackRuns,
		LastRunAt:         c.lastRunAt,
		LastError:         c.lastError,
	}
}

// Shutdown stops the supervisor and failsafe ticker and waits for them.
func (c *Controller) Shutdown() {
	close(c.done)
	c.wg.Wait()
}

func (c *Controller) supervise() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) failsafe() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.FailsafeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			state, _, _ := c.breaker.snapshot()
			c.mu.Lock()
			busy := c.running
			c.mu.Unlock()
			if !busy && state != BreakerOpen {
				c.Notify(TriggerRecovery, "failsafe interval")
			}
		}
	}
}

func (c *Controller) handle(ev event) {
	if !c.breaker.allow() {
		c.log.Warnf("circuit breaker open; skipping %s", ev.trigger)
		return
	}

	c.mu.Lock()
	c.running = true
	c.totalRuns++
	c.lastRunAt = time.Now()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	err := c.invoke(ev)
	if err == nil {
		c.breaker.success()
		c.mu.Lock()
		c.lastError = ""
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
	state := c.breaker.failure()
	c.log.Errorf("reprocessing failed (%s, breaker %s): %v", ev.trigger, state, err)

	_, consecutive, _ := c.breaker.snapshot()
	if state == BreakerClosed && consecutive >= c.opts.FallbackAfter {
		c.runFallback()
	}
}

// invoke runs the processor under the store lock and the configured timeout.
// A held lock skips this invocation; stale locks are reclaimed first.
func (c *Controller) invoke(ev event) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	meta := fmt.Sprintf("%s %s %d", ev.trigger, ev.payload, time.Now().UnixNano())
	acquired, err := c.store.AcquireProcessingLock(ctx, lockProcessType, meta, c.opts.StaleLockAfter)
	if err != nil {
		return types.WrapError(types.ErrDatabaseFailed, "", err, "acquiring processing lock")
	}
	if !acquired {
		c.log.Infof("processing lock held; skipping %s", ev.trigger)
		return nil
	}

	procErr := c.process(ctx)
	status := "completed"
	if procErr != nil {
		status = "failed"
	}
	if err := c.store.ReleaseProcessingLock(context.WithoutCancel(ctx), lockProcessType, status); err != nil {
		c.log.Warnf("releasing processing lock: %v", err)
	}
	return procErr
}

// runFallback copies unprocessed raw rows straight into the canonical table
// so consumers get degraded output instead of none. Current canonical rows
// are archived first. Raw rows are marked processed even when the copy
// fails; retrying a systematically failing copy would thrash.
func (c *Controller) runFallback() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	c.mu.Lock()
	c.fallbackRuns++
	c.mu.Unlock()
	c.log.Warnf("entering fallback copy-through")

	unprocessed, err := c.store.UnprocessedRawProducts(ctx)
	if err != nil {
		c.log.Errorf("fallback: loading unprocessed rows: %v", err)
		return
	}
	if len(unprocessed) == 0 {
		c.log.Infof("fallback: nothing unprocessed")
		return
	}

	archived, err := c.store.ArchiveCleanProducts(ctx)
	if err != nil {
		c.log.Errorf("fallback: archiving canonical rows: %v", err)
	} else {
		c.log.Infof("fallback: archived %d canonical rows", archived)
	}

	inserted, copyErr := c.store.InsertFallbackProducts(ctx, unprocessed)
	if copyErr != nil {
		c.log.Errorf("fallback: copy-through failed after %d rows: %v", inserted, copyErr)
	} else {
		c.log.Warnf("fallback: copied %d raw rows into canonical table", inserted)
	}

	if err := c.store.MarkRawProcessed(ctx, nil); err != nil {
		c.log.Errorf("fallback: marking raw rows processed: %v", err)
	}
}
