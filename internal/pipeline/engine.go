// Package pipeline drives the processing stages as a state machine: idle,
// initializing, ingestion, rebuild (FRN matching then deduplication),
// optional data quality, then completed or failed. The status singleton in
// the store guards concurrent runs; a flock file guards other processes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/ratecurve/cashpipe/internal/audit"
	"github.com/ratecurve/cashpipe/internal/dedup"
	"github.com/ratecurve/cashpipe/internal/frn"
	"github.com/ratecurve/cashpipe/internal/ingest"
	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/quality"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// Options configure one engine instance.
type Options struct {
	Atomic       bool
	DataQuality  bool
	DataQualityV bool
	StopAfter    string // empty, or a stage name
	StageTimeout time.Duration
	LockPath     string
	Emitter      Emitter
	Audit        audit.Options
}

// RunOptions configure one run.
type RunOptions struct {
	Files       []string
	RebuildOnly bool
	RequestID   string
}

// Engine orchestrates the pipeline stages over one store.
type Engine struct {
	store   storage.Store
	opts    Options
	log     *logging.Logger
	emitter Emitter
}

// New builds an engine. StopAfter forces incremental mode: an early exit
// inside one all-or-nothing transaction would commit a partial run.
func New(store storage.Store, opts Options, log *logging.Logger) *Engine {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 5 * time.Minute
	}
	if opts.StopAfter != "" && opts.Atomic {
		log.Warnf("atomic mode is incompatible with --stop-after; downgrading to incremental")
		opts.Atomic = false
	}
	return &Engine{store: store, opts: opts, log: log, emitter: opts.Emitter}
}

// Recover resets a status row stuck in running state, typically after a
// crash. A run is presumed dead after three stage budgets.
func (e *Engine) Recover(ctx context.Context) error {
	status, err := e.store.GetPipelineStatus(ctx)
	if err != nil {
		return types.WrapError(types.ErrServiceInitFailed, "", err, "reading pipeline status")
	}
	if !status.IsRunning {
		return nil
	}
	age := time.Since(status.StartedAt)
	if age < 3*e.opts.StageTimeout {
		return nil
	}
	e.log.Warnf("resetting stale pipeline status: batch %s stuck in %s for %s",
		status.BatchID, status.CurrentStage, age.Round(time.Second))
	return e.store.ResetPipelineStatus(ctx)
}

// Run executes the pipeline. In atomic mode every stage writes through one
// store transaction; nothing is visible until commit.
func (e *Engine) Run(ctx context.Context, runOpts RunOptions) (*types.PipelineResult, error) {
	result := &types.PipelineResult{
		BatchID:   types.NewBatchID(),
		StartedAt: time.Now(),
	}

	status, err := e.store.GetPipelineStatus(ctx)
	if err != nil {
		return result, types.WrapError(types.ErrServiceInitFailed, "", err, "reading pipeline status")
	}
	if status.IsRunning {
		return result, types.NewError(types.ErrConcurrentExecution, "",
			"pipeline already running: batch %s in stage %s", status.BatchID, status.CurrentStage)
	}

	var fileLock *flock.Flock
	if e.opts.LockPath != "" {
		fileLock = flock.New(e.opts.LockPath)
		locked, err := fileLock.TryLock()
		if err != nil {
			return result, types.WrapError(types.ErrConcurrentExecution, "", err, "acquiring run lock")
		}
		if !locked {
			return result, types.NewError(types.ErrConcurrentExecution, "", "another process holds the run lock")
		}
		defer func() { _ = fileLock.Unlock() }()
	}

	rec := audit.NewRecorder(e.opts.Audit, e.log)
	batch := &types.PipelineBatch{
		BatchID:   result.BatchID,
		Status:    types.BatchRunning,
		StartedAt: result.StartedAt,
	}
	if err := rec.CreateBatch(ctx, e.store, batch); err != nil {
		return result, err
	}

	if err := e.store.SetPipelineStatus(ctx, true, "initializing", result.BatchID); err != nil {
		return result, types.WrapError(types.ErrServiceInitFailed, "", err, "marking pipeline running")
	}
	e.emit(Event{Type: EventStarted, RequestID: runOpts.RequestID, BatchID: result.BatchID})

	runErr := e.execute(ctx, runOpts, rec, result)

	result.CompletedAt = time.Now()
	result.Success = runErr == nil

	// terminal bookkeeping runs outside any stage transaction
	finalCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		rec.RecordError(stageOf(runErr), runErr)
		if err := rec.Flush(finalCtx, e.store); err != nil {
			e.log.Warnf("audit flush after failure: %v", err)
		}
		if err := rec.CompleteBatch(finalCtx, e.store, types.BatchFailed, runErr.Error()); err != nil {
			e.log.Warnf("completing failed batch: %v", err)
		}
		if err := e.store.ResetPipelineStatus(finalCtx); err != nil {
			e.log.Warnf("resetting pipeline status: %v", err)
		}
		e.emit(Event{
			Type: EventFailed, RequestID: runOpts.RequestID, BatchID: result.BatchID,
			Stage: stageOf(runErr), ErrorType: string(types.CodeOf(runErr)), Message: runErr.Error(),
		})
		result.Errors = append(result.Errors, runErr.Error())
		return result, runErr
	}

	if err := rec.CompleteBatch(finalCtx, e.store, types.BatchCompleted, ""); err != nil {
		e.log.Warnf("completing batch: %v", err)
	}
	if err := e.store.SetPipelineStatus(finalCtx, false, "completed", result.BatchID); err != nil {
		e.log.Warnf("clearing pipeline status: %v", err)
	}

	if !runOpts.RebuildOnly {
		CleanupInputFiles(runOpts.Files, e.log)
	}
	if err := e.store.CheckpointWAL(finalCtx); err != nil {
		e.log.Warnf("wal checkpoint: %v", err)
	}

	e.emit(Event{Type: EventCompleted, RequestID: runOpts.RequestID, BatchID: result.BatchID,
		Message: fmt.Sprintf("%d canonical products", result.FinalCount)})
	return result, nil
}

// execute runs the stage sequence in the selected commit mode. Audit flush
// failures warn and proceed: only product-table writes may fail the run.
func (e *Engine) execute(ctx context.Context, runOpts RunOptions, rec *audit.Recorder, result *types.PipelineResult) error {
	if e.opts.Atomic {
		return e.store.InTransaction(ctx, func(ops storage.Ops) error {
			if err := e.runStages(ctx, ops, runOpts, rec, result); err != nil {
				return err
			}
			if err := rec.Flush(ctx, ops); err != nil {
				e.log.Warnf("audit flush: %v", err)
			}
			return nil
		})
	}
	if err := e.runStages(ctx, e.store, runOpts, rec, result); err != nil {
		return err
	}
	if err := rec.Flush(ctx, e.store); err != nil {
		e.log.Warnf("audit flush: %v", err)
	}
	return nil
}

// withStageTimeout runs one stage under the configured wall-clock limit and
// reports a deadline hit as a stage execution failure.
func (e *Engine) withStageTimeout(ctx context.Context, stage string, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, e.opts.StageTimeout)
	defer cancel()
	err := fn(sctx)
	if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return types.NewError(types.ErrStageExecutionFailed, stage,
			"stage %s exceeded its %s timeout", stage, e.opts.StageTimeout)
	}
	return err
}

// runStages is the stage sequence proper. ops is either the store or a
// transaction-scoped handle.
func (e *Engine) runStages(ctx context.Context, ops storage.Ops, runOpts RunOptions, rec *audit.Recorder, result *types.PipelineResult) error {
	completed := []string{}

	if !runOpts.RebuildOnly {
		var res types.StageResult
		err := e.withStageTimeout(ctx, types.StageIngestion, func(sctx context.Context) error {
			var stageErr error
			res, stageErr = e.runIngestion(sctx, ops, runOpts, rec, result)
			return stageErr
		})
		if err != nil {
			return err
		}
		result.Stages = append(result.Stages, res)
		completed = append(completed, types.StageIngestion)
		if e.opts.StopAfter == types.StageIngestion {
			return nil
		}
	}

	// rebuild path: FRN matching and deduplication run over the entire raw
	// table so duplicates meet across sources
	parsed, err := e.loadRawAsParsed(ctx, ops)
	if err != nil {
		return err
	}
	rawCount := len(parsed)
	result.RawCount = rawCount

	e.stageStart(runOpts.RequestID, result.BatchID, types.StageFRNMatching, completed)
	if err := e.setStage(ctx, ops, types.StageFRNMatching, result.BatchID); err != nil {
		return err
	}
	var enriched []*types.EnrichedProduct
	var frnRes types.StageResult
	err = e.withStageTimeout(ctx, types.StageFRNMatching, func(sctx context.Context) error {
		var stageErr error
		enriched, frnRes, stageErr = frn.Run(sctx, ops, parsed, rec, e.log)
		return stageErr
	})
	if err != nil {
		return err
	}
	result.Stages = append(result.Stages, frnRes)
	completed = append(completed, types.StageFRNMatching)
	e.stageDone(runOpts.RequestID, result.BatchID, types.StageFRNMatching, completed)
	if e.opts.StopAfter == types.StageFRNMatching {
		return nil
	}

	e.stageStart(runOpts.RequestID, result.BatchID, types.StageDedup, completed)
	if err := e.setStage(ctx, ops, types.StageDedup, result.BatchID); err != nil {
		return err
	}
	var finals []*types.FinalProduct
	var dedupRes types.StageResult
	err = e.withStageTimeout(ctx, types.StageDedup, func(sctx context.Context) error {
		var stageErr error
		finals, dedupRes, stageErr = dedup.Run(sctx, ops, enriched, rec, e.log)
		return stageErr
	})
	if err != nil {
		return err
	}
	result.Stages = append(result.Stages, dedupRes)

	if err := ops.ReplaceCleanProducts(ctx, finals); err != nil {
		return types.WrapError(types.ErrPersistenceFailed, types.StageDedup, err, "replacing canonical table")
	}
	if err := ops.MarkRawProcessed(ctx, nil); err != nil {
		return types.WrapError(types.ErrPersistenceFailed, types.StageDedup, err, "marking raw rows processed")
	}
	result.FinalCount = len(finals)
	completed = append(completed, types.StageDedup)
	e.stageDone(runOpts.RequestID, result.BatchID, types.StageDedup, completed)
	if e.opts.StopAfter == types.StageDedup {
		return nil
	}

	if e.opts.DataQuality {
		e.stageStart(runOpts.RequestID, result.BatchID, types.StageQuality, completed)
		if err := e.setStage(ctx, ops, types.StageQuality, result.BatchID); err != nil {
			return err
		}
		var qualityRes types.StageResult
		err = e.withStageTimeout(ctx, types.StageQuality, func(sctx context.Context) error {
			var stageErr error
			_, qualityRes, stageErr = quality.Run(sctx, ops, quality.Input{
				BatchID:  result.BatchID,
				Finals:   finals,
				RawCount: rawCount,
				Duration: time.Since(result.StartedAt),
				Verbose:  e.opts.DataQualityV,
			}, e.log)
			return stageErr
		})
		if err != nil {
			return err
		}
		result.Stages = append(result.Stages, qualityRes)
		completed = append(completed, types.StageQuality)
		e.stageDone(runOpts.RequestID, result.BatchID, types.StageQuality, completed)
	}
	return nil
}

func (e *Engine) runIngestion(ctx context.Context, ops storage.Ops, runOpts RunOptions, rec *audit.Recorder, result *types.PipelineResult) (types.StageResult, error) {
	started := time.Now()
	e.stageStart(runOpts.RequestID, result.BatchID, types.StageIngestion, nil)
	if err := e.setStage(ctx, ops, types.StageIngestion, result.BatchID); err != nil {
		return types.StageResult{}, err
	}

	stage, err := ingest.NewStage(ctx, ops, rec, e.log)
	if err != nil {
		return types.StageResult{}, err
	}

	passed, rejected, rateFiltered := 0, 0, 0
	for i, path := range runOpts.Files {
		batch, err := ingest.ReadFile(path)
		if err != nil {
			return types.StageResult{}, err
		}
		fileRes, err := stage.IngestBatch(ctx, ops, batch)
		if err != nil {
			return types.StageResult{}, err
		}
		passed += len(fileRes.Passed)
		rejected += fileRes.Rejected
		rateFiltered += fileRes.RateFiltered

		e.emit(Event{
			Type: EventProgress, RequestID: runOpts.RequestID, BatchID: result.BatchID,
			Stage:         types.StageIngestion,
			StageProgress: (i + 1) * 100 / len(runOpts.Files),
			TotalProgress: totalProgress(nil, types.StageIngestion, (i+1)*100/len(runOpts.Files)),
			Message:       fmt.Sprintf("ingested %s", path),
		})
	}

	res := stage.Finish(passed, rejected, rateFiltered, time.Since(started))
	e.stageDone(runOpts.RequestID, result.BatchID, types.StageIngestion, []string{types.StageIngestion})
	return res, nil
}

// loadRawAsParsed loads the full raw table and re-enriches platform priority
// and source reliability for the rebuild path.
func (e *Engine) loadRawAsParsed(ctx context.Context, ops storage.Ops) ([]*types.ParsedProduct, error) {
	raw, err := ops.LoadRawProducts(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrDatabaseFailed, "", err, "loading raw table")
	}
	platforms, err := ops.LoadPlatforms(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrPlatformConfigFailed, "", err, "loading platforms")
	}
	scrapers, err := ops.LoadScrapers(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrDatabaseFailed, "", err, "loading scrapers")
	}

	priority := make(map[string]int, len(platforms))
	for _, row := range platforms {
		priority[row.Platform] = row.Priority
	}
	reliability := make(map[string]float64, len(scrapers))
	for _, row := range scrapers {
		reliability[row.Source] = row.Reliability
	}

	parsed := make([]*types.ParsedProduct, len(raw))
	for i, p := range raw {
		parsed[i] = &types.ParsedProduct{
			RawProduct:        *p,
			PlatformPriority:  priority[p.Platform],
			SourceReliability: reliability[p.Source],
		}
	}
	return parsed, nil
}

func (e *Engine) setStage(ctx context.Context, ops storage.Ops, stage, batchID string) error {
	if err := ops.SetPipelineStatus(ctx, true, stage, batchID); err != nil {
		return types.WrapError(types.ErrDatabaseFailed, stage, err, "updating pipeline status")
	}
	return nil
}

func (e *Engine) stageStart(requestID, batchID, stage string, completed []string) {
	e.log.Debugf("stage started: %s", stage)
	e.emit(Event{
		Type: EventStageStarted, RequestID: requestID, BatchID: batchID, Stage: stage,
		TotalProgress: totalProgress(completed, stage, 0),
	})
}

func (e *Engine) stageDone(requestID, batchID, stage string, completed []string) {
	e.emit(Event{
		Type: EventStageCompleted, RequestID: requestID, BatchID: batchID, Stage: stage,
		StageProgress: 100, TotalProgress: totalProgress(completed, "", 0),
	})
}

func stageOf(err error) string {
	var pe *types.PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
