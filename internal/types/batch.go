package types

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks the lifecycle of a pipeline batch row.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// PipelineBatch is the unit of audit scoping. One batch per orchestrated run.
type PipelineBatch struct {
	BatchID      string
	PipelineID   string
	Status       BatchStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// Stage names, in declared execution order.
const (
	StageIngestion   = "json_ingestion"
	StageFRNMatching = "frn_matching"
	StageDedup       = "deduplication"
	StageQuality     = "data_quality"
)

// StageOrder returns the 1-based position of a stage, or 0 for unknown names.
func StageOrder(stage string) int {
	switch stage {
	case StageIngestion:
		return 1
	case StageFRNMatching:
		return 2
	case StageDedup:
		return 3
	case StageQuality:
		return 4
	}
	return 0
}

var batchCounter atomic.Int64

// NewBatchID produces a collision-free batch identifier. Timestamp plus
// process id plus a monotonic counter plus a random suffix makes rapid
// re-creation and cross-process collisions impossible.
func NewBatchID() string {
	n := batchCounter.Add(1)
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("batch_%d_%d_%d_%s", time.Now().UnixMilli(), os.Getpid(), n, suffix)
}

// StageResult is the typed outcome every stage hands back to the engine.
type StageResult struct {
	Stage    string
	Passed   int
	Rejected int
	Duration time.Duration
	Errors   []string
}

// PipelineResult aggregates a full run for the CLI summary and UI events.
type PipelineResult struct {
	BatchID     string
	Success     bool
	Stages      []StageResult
	FinalCount  int
	RawCount    int
	Errors      []string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the wall-clock time of the whole run.
func (r *PipelineResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
