// Package audit captures batch-scoped pipeline evidence: per-stage counts
// and timings, per-product outcomes, dedup group decisions. Records buffer in
// memory and flush in one write pass at end of run so a failing run leaves
// no half-written audit trail.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// Level controls how much detail is persisted.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelStandard Level = "standard"
	LevelVerbose  Level = "verbose"
)

// ParseLevel maps a config string to a Level, defaulting to standard.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelMinimal, LevelStandard, LevelVerbose:
		return Level(s)
	}
	return LevelStandard
}

// Options configure a Recorder.
type Options struct {
	Enabled         bool
	Level           Level
	PersistRejected bool
}

// Recorder buffers audit records for one batch. A disabled recorder is a
// valid zero-cost sink: every method returns immediately.
type Recorder struct {
	opts Options
	log  *logging.Logger

	mu         sync.Mutex
	batchID    string
	stages     map[string]*storage.StageAuditRow
	items      []storage.AuditItemRow
	ingestion  []storage.IngestionAuditRow
	frn        []storage.FRNAuditRow
	groups     []storage.DedupGroupRow
	summary    *storage.DedupSummaryRow
	corruption *storage.CorruptionAuditRow
}

// NewRecorder builds a recorder. batchID scoping happens in CreateBatch.
func NewRecorder(opts Options, log *logging.Logger) *Recorder {
	return &Recorder{opts: opts, log: log, stages: make(map[string]*storage.StageAuditRow)}
}

// Enabled reports whether the recorder persists anything.
func (r *Recorder) Enabled() bool { return r.opts.Enabled }

// BatchID returns the current batch scope.
func (r *Recorder) BatchID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchID
}

// CreateBatch writes the batch row eagerly and pre-inserts one zero-count
// audit row per stage, so other components can reference stable rows before
// any stage finishes.
func (r *Recorder) CreateBatch(ctx context.Context, ops storage.Ops, batch *types.PipelineBatch) error {
	r.mu.Lock()
	r.batchID = batch.BatchID
	r.mu.Unlock()

	if !r.opts.Enabled {
		return nil
	}
	if err := ops.CreateBatch(ctx, batch); err != nil {
		return types.WrapError(types.ErrPersistenceFailed, "", err, "creating batch %s", batch.BatchID)
	}
	if err := ops.InitStageAudits(ctx, batch.BatchID); err != nil {
		return types.WrapError(types.ErrPersistenceFailed, "", err, "initializing stage audits")
	}
	return nil
}

// Record buffers a stage's final counts and timing.
func (r *Recorder) Record(stage string, passed, rejected int, elapsed time.Duration, detail map[string]any) {
	if !r.opts.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.stageRow(stage)
	row.Passed = passed
	row.Rejected = rejected
	row.TimingMS = elapsed.Milliseconds()
	if detail != nil && r.opts.Level != LevelMinimal {
		if b, err := json.Marshal(detail); err == nil {
			row.DetailJSON = string(b)
		}
	}
}

// RecordError buffers a stage failure message.
func (r *Recorder) RecordError(stage string, err error) {
	if !r.opts.Enabled || err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageRow(stage).ErrorMessage = err.Error()
}

func (r *Recorder) stageRow(stage string) *storage.StageAuditRow {
	row, ok := r.stages[stage]
	if !ok {
		row = &storage.StageAuditRow{BatchID: r.batchID, Stage: stage, DetailJSON: "{}"}
		r.stages[stage] = row
	}
	return row
}

// RecordItem buffers a verbose per-product row. Dropped below verbose level.
func (r *Recorder) RecordItem(stage, productRef, outcome string, detail map[string]any) {
	if !r.opts.Enabled || r.opts.Level != LevelVerbose {
		return
	}
	detailJSON := "{}"
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			detailJSON = string(b)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, storage.AuditItemRow{
		BatchID: r.batchID, Stage: stage, ProductRef: productRef,
		Outcome: outcome, DetailJSON: detailJSON,
	})
}

// RecordIngestion buffers one per-product ingestion outcome. Rejected rows
// are dropped when persistRejected is off.
func (r *Recorder) RecordIngestion(row storage.IngestionAuditRow) {
	if !r.opts.Enabled {
		return
	}
	if row.Outcome != "passed" && !r.opts.PersistRejected {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row.BatchID = r.batchID
	r.ingestion = append(r.ingestion, row)
}

// RecordCorruption buffers the corruption-abort evidence.
func (r *Recorder) RecordCorruption(row storage.CorruptionAuditRow) {
	if !r.opts.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row.BatchID = r.batchID
	r.corruption = &row
}

// RecordFRN buffers one per-product FRN matching outcome.
func (r *Recorder) RecordFRN(row storage.FRNAuditRow) {
	if !r.opts.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row.BatchID = r.batchID
	r.frn = append(r.frn, row)
}

// RecordDedupGroup buffers one group decision.
func (r *Recorder) RecordDedupGroup(row storage.DedupGroupRow) {
	if !r.opts.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row.BatchID = r.batchID
	r.groups = append(r.groups, row)
}

// RecordDedupSummary buffers the one-per-batch dedup summary.
func (r *Recorder) RecordDedupSummary(row storage.DedupSummaryRow) {
	if !r.opts.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row.BatchID = r.batchID
	r.summary = &row
}

// Flush writes every buffered record. Run inside the engine's transaction in
// atomic mode; against the store directly in incremental mode. The buffers
// are cleared on success so Flush is safe to call twice.
func (r *Recorder) Flush(ctx context.Context, ops storage.Ops) error {
	if !r.opts.Enabled {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.stages {
		if err := ops.UpdateStageAudit(ctx, *row); err != nil {
			return types.WrapError(types.ErrPersistenceFailed, row.Stage, err, "flushing stage audit")
		}
	}
	if len(r.ingestion) > 0 {
		if err := ops.InsertIngestionAudits(ctx, r.ingestion); err != nil {
			return types.WrapError(types.ErrPersistenceFailed, types.StageIngestion, err, "flushing ingestion audits")
		}
	}
	if r.corruption != nil {
		if err := ops.InsertCorruptionAudit(ctx, *r.corruption); err != nil {
			return types.WrapError(types.ErrPersistenceFailed, types.StageIngestion, err, "flushing corruption audit")
		}
	}
	if len(r.frn) > 0 {
		if err := ops.InsertFRNAudits(ctx, r.frn); err != nil {
			return types.WrapError(types.ErrPersistenceFailed, types.StageFRNMatching, err, "flushing FRN audits")
		}
	}
	if len(r.groups) > 0 {
		if err := ops.InsertDedupGroups(ctx, r.groups); err != nil {
			return types.WrapError(types.ErrPersistenceFailed, types.StageDedup, err, "flushing dedup groups")
		}
	}
	if r.summary != nil {
		if err := ops.InsertDedupSummary(ctx, *r.summary); err != nil {
			return types.WrapError(types.ErrPersistenceFailed, types.StageDedup, err, "flushing dedup summary")
		}
	}
	if len(r.items) > 0 {
		if err := ops.InsertAuditItems(ctx, r.items); err != nil {
			return types.WrapError(types.ErrPersistenceFailed, "", err, "flushing audit items")
		}
	}

	r.stages = make(map[string]*storage.StageAuditRow)
	r.items = nil
	r.ingestion = nil
	r.frn = nil
	r.groups = nil
	r.summary = nil
	r.corruption = nil
	return nil
}

// CompleteBatch stamps the batch row with its terminal status.
func (r *Recorder) CompleteBatch(ctx context.Context, ops storage.Ops, status types.BatchStatus, errMsg string) error {
	if !r.opts.Enabled {
		return nil
	}
	r.mu.Lock()
	batchID := r.batchID
	r.mu.Unlock()
	if batchID == "" {
		return nil
	}
	if err := ops.CompleteBatch(ctx, batchID, status, errMsg); err != nil {
		return types.WrapError(types.ErrPersistenceFailed, "", err, "completing batch %s", batchID)
	}
	return nil
}
