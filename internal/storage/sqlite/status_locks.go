package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ratecurve/cashpipe/internal/storage"
)

// GetPipelineStatus reads the orchestrator status singleton.
func (o *ops) GetPipelineStatus(ctx context.Context) (storage.PipelineStatusRow, error) {
	var r storage.PipelineStatusRow
	var running int
	var started sql.NullTime
	err := o.q.QueryRowContext(ctx,
		`SELECT is_running, current_stage, batch_id, started_at, updated_at
		 FROM orchestrator_pipeline_status WHERE id = 1`).
		Scan(&running, &r.CurrentStage, &r.BatchID, &started, &r.UpdatedAt)
	if err != nil {
		return r, fmt.Errorf("failed to read pipeline status: %w", err)
	}
	r.IsRunning = running != 0
	if started.Valid {
		r.StartedAt = started.Time
	}
	return r, nil
}

// SetPipelineStatus updates the singleton. started_at is stamped only on the
// transition into running so stage updates keep the original start time.
func (o *ops) SetPipelineStatus(ctx context.Context, running bool, stage, batchID string) error {
	var err error
	if running {
		_, err = o.q.ExecContext(ctx,
			`UPDATE orchestrator_pipeline_status SET
			   is_running = 1,
			   current_stage = ?,
			   batch_id = ?,
			   started_at = COALESCE(CASE WHEN is_running = 1 THEN started_at END, CURRENT_TIMESTAMP),
			   updated_at = CURRENT_TIMESTAMP
			 WHERE id = 1`, stage, batchID)
	} else {
		_, err = o.q.ExecContext(ctx,
			`UPDATE orchestrator_pipeline_status SET
			   is_running = 0,
			   current_stage = ?,
			   batch_id = ?,
			   updated_at = CURRENT_TIMESTAMP
			 WHERE id = 1`, stage, batchID)
	}
	if err != nil {
		return fmt.Errorf("failed to set pipeline status: %w", err)
	}
	return nil
}

// ResetPipelineStatus clears a stale running flag, typically after a crash.
func (o *ops) ResetPipelineStatus(ctx context.Context) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE orchestrator_pipeline_status SET
		   is_running = 0, current_stage = '', batch_id = '',
		   started_at = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to reset pipeline status: %w", err)
	}
	return nil
}

// AcquireProcessingLock claims the exclusive lock row for a process type.
// A running lock older than staleAfter is reclaimed: the holder is assumed
// dead and its row is marked failed before the new claim. Returns false when
// a live lock blocks the claim.
func (o *ops) AcquireProcessingLock(ctx context.Context, processType, metadata string, staleAfter time.Duration) (bool, error) {
	var startedAt time.Time
	var status string
	err := o.q.QueryRowContext(ctx,
		`SELECT status, started_at FROM processing_state WHERE process_type = ?`, processType).
		Scan(&status, &startedAt)
	switch {
	case err == sql.ErrNoRows:
		// no holder
	case err != nil:
		return false, fmt.Errorf("failed to read processing lock %s: %w", processType, err)
	case status == "running":
		if time.Since(startedAt) < staleAfter {
			return false, nil
		}
		_, err = o.q.ExecContext(ctx,
			`UPDATE processing_state SET status = 'failed' WHERE process_type = ? AND status = 'running'`,
			processType)
		if err != nil {
			return false, fmt.Errorf("failed to reclaim stale lock %s: %w", processType, err)
		}
	}

	_, err = o.q.ExecContext(ctx,
		`INSERT INTO processing_state (process_type, status, started_at, metadata)
		 VALUES (?, 'running', CURRENT_TIMESTAMP, ?)
		 ON CONFLICT(process_type) DO UPDATE SET
		   status = 'running', started_at = CURRENT_TIMESTAMP, metadata = excluded.metadata
		 WHERE processing_state.status != 'running'`,
		processType, metadata)
	if err != nil {
		return false, fmt.Errorf("failed to acquire processing lock %s: %w", processType, err)
	}

	// confirm the claim in case another process raced the upsert
	var confirm string
	err = o.q.QueryRowContext(ctx,
		`SELECT metadata FROM processing_state WHERE process_type = ? AND status = 'running'`,
		processType).Scan(&confirm)
	if err != nil {
		return false, fmt.Errorf("failed to confirm processing lock %s: %w", processType, err)
	}
	return confirm == metadata, nil
}

// ReleaseProcessingLock marks the lock row with its terminal status.
func (o *ops) ReleaseProcessingLock(ctx context.Context, processType, status string) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE processing_state SET status = ? WHERE process_type = ?`, status, processType)
	if err != nil {
		return fmt.Errorf("failed to release processing lock %s: %w", processType, err)
	}
	return nil
}
