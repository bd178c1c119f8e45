package audit

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
)

func testLog() *logging.Logger {
	return logging.NewWithWriter("test", logging.LevelError, io.Discard)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelMinimal, ParseLevel("minimal"))
	assert.Equal(t, LevelVerbose, ParseLevel("verbose"))
	assert.Equal(t, LevelStandard, ParseLevel("standard"))
	assert.Equal(t, LevelStandard, ParseLevel("nonsense"))
	assert.Equal(t, LevelStandard, ParseLevel(""))
}

func TestDisabledRecorderBuffersNothing(t *testing.T) {
	r := NewRecorder(Options{Enabled: false}, testLog())
	r.Record("json_ingestion", 10, 2, time.Second, nil)
	r.RecordIngestion(storage.IngestionAuditRow{Outcome: "passed"})
	r.RecordFRN(storage.FRNAuditRow{BankName: "Marcus"})
	r.RecordDedupGroup(storage.DedupGroupRow{BusinessKey: "MARCUS|easy_access"})

	assert.Empty(t, r.stages)
	assert.Empty(t, r.ingestion)
	assert.Empty(t, r.frn)
	assert.Empty(t, r.groups)
}

func TestRecordStageCounts(t *testing.T) {
	r := NewRecorder(Options{Enabled: true, Level: LevelStandard}, testLog())
	r.Record("json_ingestion", 120, 8, 1500*time.Millisecond, map[string]any{"rate_filtered": 3})

	row := r.stages["json_ingestion"]
	require.NotNil(t, row)
	assert.Equal(t, 120, row.Passed)
	assert.Equal(t, 8, row.Rejected)
	assert.Equal(t, int64(1500), row.TimingMS)
	assert.Contains(t, row.DetailJSON, "rate_filtered")
}

func TestMinimalLevelDropsDetail(t *testing.T) {
	r := NewRecorder(Options{Enabled: true, Level: LevelMinimal}, testLog())
	r.Record("json_ingestion", 1, 0, time.Second, map[string]any{"rate_filtered": 3})
	assert.Equal(t, "{}", r.stages["json_ingestion"].DetailJSON)
}

func TestRecordItemVerboseOnly(t *testing.T) {
	standard := NewRecorder(Options{Enabled: true, Level: LevelStandard}, testLog())
	standard.RecordItem("frn_matching", "Marcus/raisin", "matched", nil)
	assert.Empty(t, standard.items)

	verbose := NewRecorder(Options{Enabled: true, Level: LevelVerbose}, testLog())
	verbose.RecordItem("frn_matching", "Marcus/raisin", "matched", nil)
	assert.Len(t, verbose.items, 1)
}

func TestRejectedIngestionRowsDroppedByDefault(t *testing.T) {
	r := NewRecorder(Options{Enabled: true, Level: LevelStandard}, testLog())
	r.RecordIngestion(storage.IngestionAuditRow{Outcome: "passed"})
	r.RecordIngestion(storage.IngestionAuditRow{Outcome: "rejected"})
	r.RecordIngestion(storage.IngestionAuditRow{Outcome: "rate_filtered"})
	assert.Len(t, r.ingestion, 1)

	keeping := NewRecorder(Options{Enabled: true, Level: LevelStandard, PersistRejected: true}, testLog())
	keeping.RecordIngestion(storage.IngestionAuditRow{Outcome: "passed"})
	keeping.RecordIngestion(storage.IngestionAuditRow{Outcome: "rejected"})
	assert.Len(t, keeping.ingestion, 2)
}

func TestRecordError(t *testing.T) {
	r := NewRecorder(Options{Enabled: true, Level: LevelStandard}, testLog())
	r.RecordError("deduplication", errors.New("boom"))
	assert.Equal(t, "boom", r.stages["deduplication"].ErrorMessage)

	r.RecordError("deduplication", nil)
	assert.Equal(t, "boom", r.stages["deduplication"].ErrorMessage)
}

func TestBatchIDStampsBufferedRows(t *testing.T) {
	r := NewRecorder(Options{Enabled: true, Level: LevelStandard, PersistRejected: true}, testLog())
	r.mu.Lock()
	r.batchID = "batch-123"
	r.mu.Unlock()

	r.RecordIngestion(storage.IngestionAuditRow{Outcome: "rejected"})
	r.RecordFRN(storage.FRNAuditRow{BankName: "Marcus"})
	r.RecordDedupSummary(storage.DedupSummaryRow{GroupsTotal: 4})

	assert.Equal(t, "batch-123", r.ingestion[0].BatchID)
	assert.Equal(t, "batch-123", r.frn[0].BatchID)
	assert.Equal(t, "batch-123", r.summary.BatchID)
}
