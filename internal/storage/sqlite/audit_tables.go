package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// CreateBatch records a new batch row in running state.
func (o *ops) CreateBatch(ctx context.Context, batch *types.PipelineBatch) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO pipeline_batch (batch_id, pipeline_id, status, started_at)
		 VALUES (?, ?, ?, ?)`,
		batch.BatchID, batch.PipelineID, string(batch.Status), batch.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch %s: %w", batch.BatchID, err)
	}
	return nil
}

// CompleteBatch stamps a batch with its terminal status.
func (o *ops) CompleteBatch(ctx context.Context, batchID string, status types.BatchStatus, errMsg string) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE pipeline_batch SET status = ?, completed_at = CURRENT_TIMESTAMP, error_message = ?
		 WHERE batch_id = ?`,
		string(status), errMsg, batchID)
	if err != nil {
		return fmt.Errorf("failed to complete batch %s: %w", batchID, err)
	}
	return nil
}

func scanBatch(row *sql.Row) (*types.PipelineBatch, error) {
	var b types.PipelineBatch
	var status string
	var completed sql.NullTime
	err := row.Scan(&b.BatchID, &b.PipelineID, &status, &b.StartedAt, &completed, &b.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = types.BatchStatus(status)
	b.CompletedAt = timePtr(completed)
	return &b, nil
}

const batchColumns = `batch_id, pipeline_id, status, started_at, completed_at, error_message`

// GetBatch returns one batch row.
func (o *ops) GetBatch(ctx context.Context, batchID string) (*types.PipelineBatch, error) {
	b, err := scanBatch(o.q.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM pipeline_batch WHERE batch_id = ?`, batchID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to get batch %s: %w", batchID, err)
	}
	return b, err
}

// LastBatch returns the most recently started batch.
func (o *ops) LastBatch(ctx context.Context) (*types.PipelineBatch, error) {
	b, err := scanBatch(o.q.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM pipeline_batch ORDER BY started_at DESC, batch_id DESC LIMIT 1`))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to get last batch: %w", err)
	}
	return b, err
}

// InitStageAudits pre-inserts one zero-count row per stage so every stage has
// a stable audit row before it runs. Skipped stages keep their zero row.
func (o *ops) InitStageAudits(ctx context.Context, batchID string) error {
	stages := []string{types.StageIngestion, types.StageFRNMatching, types.StageDedup, types.StageQuality}
	for _, stage := range stages {
		_, err := o.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO pipeline_audit (batch_id, stage, stage_order) VALUES (?, ?, ?)`,
			batchID, stage, types.StageOrder(stage))
		if err != nil {
			return fmt.Errorf("failed to init stage audit %s/%s: %w", batchID, stage, err)
		}
	}
	return nil
}

// UpdateStageAudit writes a stage's final counts over its pre-inserted row.
func (o *ops) UpdateStageAudit(ctx context.Context, row storage.StageAuditRow) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE pipeline_audit SET passed = ?, rejected = ?, timing_ms = ?, error_message = ?, detail_json = ?
		 WHERE batch_id = ? AND stage = ?`,
		row.Passed, row.Rejected, row.TimingMS, row.ErrorMessage, row.DetailJSON,
		row.BatchID, row.Stage)
	if err != nil {
		return fmt.Errorf("failed to update stage audit %s/%s: %w", row.BatchID, row.Stage, err)
	}
	return nil
}

// InsertAuditItems appends verbose per-product audit rows.
func (o *ops) InsertAuditItems(ctx context.Context, items []storage.AuditItemRow) error {
	const stmt = `INSERT INTO pipeline_audit_items (batch_id, stage, product_ref, outcome, detail_json)
		VALUES (?, ?, ?, ?, ?)`
	for _, it := range items {
		_, err := o.q.ExecContext(ctx, stmt, it.BatchID, it.Stage, it.ProductRef, it.Outcome, it.DetailJSON)
		if err != nil {
			return fmt.Errorf("failed to insert audit item: %w", err)
		}
	}
	return nil
}

// InsertIngestionAudits appends per-product ingestion outcomes.
func (o *ops) InsertIngestionAudits(ctx context.Context, rows []storage.IngestionAuditRow) error {
	const stmt = `INSERT INTO json_ingestion_audit
		(batch_id, source, method, platform, bank_name_original, bank_name_normalized,
		 outcome, rejection_reason, quality_flags, corruption_severity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, r := range rows {
		_, err := o.q.ExecContext(ctx, stmt,
			r.BatchID, r.Source, r.Method, r.Platform, r.BankNameOriginal, r.BankNameNormalized,
			r.Outcome, r.RejectionReason, r.QualityFlags, r.CorruptionSeverity)
		if err != nil {
			return fmt.Errorf("failed to insert ingestion audit: %w", err)
		}
	}
	return nil
}

// InsertCorruptionAudit records a corruption-threshold abort.
func (o *ops) InsertCorruptionAudit(ctx context.Context, row storage.CorruptionAuditRow) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO json_ingestion_corruption_audit
		 (batch_id, total_products, validation_failures, failure_rate, threshold)
		 VALUES (?, ?, ?, ?, ?)`,
		row.BatchID, row.TotalProducts, row.ValidationFailures, row.FailureRate, row.Threshold)
	if err != nil {
		return fmt.Errorf("failed to insert corruption audit: %w", err)
	}
	return nil
}

// InsertFRNAudits appends per-product FRN matching outcomes.
func (o *ops) InsertFRNAudits(ctx context.Context, rows []storage.FRNAuditRow) error {
	const stmt = `INSERT INTO frn_matching_audit
		(batch_id, bank_name, normalized_name, frn, confidence, status, source,
		 candidates_json, normalization_steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, r := range rows {
		_, err := o.q.ExecContext(ctx, stmt,
			r.BatchID, r.BankName, r.NormalizedName, r.FRN, r.Confidence, r.Status,
			r.Source, r.CandidatesJSON, r.NormalizationSteps)
		if err != nil {
			return fmt.Errorf("failed to insert FRN audit: %w", err)
		}
	}
	return nil
}

// InsertDedupGroups appends per-group deduplication records.
func (o *ops) InsertDedupGroups(ctx context.Context, rows []storage.DedupGroupRow) error {
	const stmt = `INSERT INTO deduplication_groups
		(batch_id, business_key, product_count, winner_ref, selection_reason,
		 quality_scores_json, competing_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	for _, r := range rows {
		_, err := o.q.ExecContext(ctx, stmt,
			r.BatchID, r.BusinessKey, r.ProductCount, r.WinnerRef, r.SelectionReason,
			r.QualityJSON, r.CompetingJSON)
		if err != nil {
			return fmt.Errorf("failed to insert dedup group %q: %w", r.BusinessKey, err)
		}
	}
	return nil
}

// InsertDedupSummary writes the one-per-batch deduplication summary.
func (o *ops) InsertDedupSummary(ctx context.Context, row storage.DedupSummaryRow) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO deduplication_audit
		 (batch_id, groups_total, products_in, products_out, fscs_violations, detail_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.BatchID, row.GroupsTotal, row.ProductsIn, row.ProductsOut,
		row.FSCSViolations, row.DetailJSON)
	if err != nil {
		return fmt.Errorf("failed to insert dedup summary: %w", err)
	}
	return nil
}

// InsertQualityReport persists the data quality analysis for a batch.
func (o *ops) InsertQualityReport(ctx context.Context, batchID string, score float64, trend, reportJSON string) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO data_quality_reports (batch_id, overall_score, trend, report_json)
		 VALUES (?, ?, ?, ?)`,
		batchID, score, trend, reportJSON)
	if err != nil {
		return fmt.Errorf("failed to insert quality report: %w", err)
	}
	return nil
}

// LastQualityScore returns the newest quality score written before the given
// batch, used for trend comparison. ok is false when no prior report exists.
func (o *ops) LastQualityScore(ctx context.Context, beforeBatch string) (float64, bool, error) {
	var score float64
	err := o.q.QueryRowContext(ctx,
		`SELECT overall_score FROM data_quality_reports
		 WHERE batch_id != ? ORDER BY created_at DESC, id DESC LIMIT 1`, beforeBatch).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query last quality score: %w", err)
	}
	return score, true, nil
}
