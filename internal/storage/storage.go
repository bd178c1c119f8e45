// Package storage defines the store protocol for the pipeline engine.
//
// The store is a single-file relational database and is the serialization
// point between stages. Ops is the full data surface; Store adds lifecycle
// and transaction control. In atomic mode the orchestrator runs every stage
// against one transaction-scoped Ops; in incremental mode stages write
// through the store directly and commit independently.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ratecurve/cashpipe/internal/types"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("storage: not found")

// Ops is the data surface shared by the store and its transactions.
type Ops interface {
	// Raw product table (append-only within a run, cleared per origin).
	ClearOrigin(ctx context.Context, source, method string) error
	InsertRawProducts(ctx context.Context, products []*types.RawProduct) error
	LoadRawProducts(ctx context.Context) ([]*types.RawProduct, error)
	UnprocessedRawProducts(ctx context.Context) ([]*types.RawProduct, error)
	UpdateRawFRN(ctx context.Context, id int64, frn, normalizedName string, confidence float64) error
	AssignBusinessKey(ctx context.Context, bankName, platform string, accountType types.AccountType, aerRate float64, businessKey string) (int64, error)
	MarkRawProcessed(ctx context.Context, ids []int64) error
	CountRawProducts(ctx context.Context) (int, error)

	// Canonical table (replaced wholesale) and history.
	ReplaceCleanProducts(ctx context.Context, products []*types.FinalProduct) error
	LoadCleanProducts(ctx context.Context) ([]*types.FinalProduct, error)
	CountCleanProducts(ctx context.Context) (int, error)
	ArchiveCleanProducts(ctx context.Context) (int, error)
	InsertFallbackProducts(ctx context.Context, products []*types.RawProduct) (int, error)

	// Configuration and business rules.
	GetConfigCategory(ctx context.Context, category string) ([]ConfigRow, error)
	SetConfigValue(ctx context.Context, category, key, value, valueType string) error
	ListConfig(ctx context.Context, category string) ([]ConfigRow, error)
	LoadBusinessRules(ctx context.Context, category string) ([]RuleRow, error)
	InsertBusinessRule(ctx context.Context, rule RuleRow) error

	// Platform and scraper reference data.
	LoadPlatforms(ctx context.Context) ([]PlatformRow, error)
	LoadScrapers(ctx context.Context) ([]ScraperRow, error)
	UpsertPlatform(ctx context.Context, p PlatformRow) error
	UpsertScraper(ctx context.Context, s ScraperRow) error

	// FRN source tables and the derived lookup cache.
	LoadManualOverrides(ctx context.Context) ([]FRNSourceRow, error)
	LoadInstitutions(ctx context.Context) ([]FRNSourceRow, error)
	LoadSharedBrands(ctx context.Context) ([]FRNSourceRow, error)
	AddManualOverride(ctx context.Context, bankName, frn string, confidence float64) error
	ReplaceLookupCache(ctx context.Context, entries []*types.FRNLookupEntry) error
	LookupExact(ctx context.Context, searchName string) (*types.FRNLookupEntry, error)
	LoadRankOneEntries(ctx context.Context) ([]*types.FRNLookupEntry, error)
	LoadAliasEntries(ctx context.Context) ([]*types.FRNLookupEntry, error)

	// Research queue (append-only, size-capped by the caller).
	ResearchQueueSize(ctx context.Context) (int, error)
	IsQueuedForResearch(ctx context.Context, bankName string) (bool, error)
	EnqueueResearch(ctx context.Context, entry *types.ResearchQueueEntry) error
	ListResearchQueue(ctx context.Context) ([]*types.ResearchQueueEntry, error)

	// Batch bookkeeping and audit rows.
	CreateBatch(ctx context.Context, batch *types.PipelineBatch) error
	CompleteBatch(ctx context.Context, batchID string, status types.BatchStatus, errMsg string) error
	GetBatch(ctx context.Context, batchID string) (*types.PipelineBatch, error)
	LastBatch(ctx context.Context) (*types.PipelineBatch, error)
	InitStageAudits(ctx context.Context, batchID string) error
	UpdateStageAudit(ctx context.Context, row StageAuditRow) error
	InsertAuditItems(ctx context.Context, items []AuditItemRow) error
	InsertIngestionAudits(ctx context.Context, rows []IngestionAuditRow) error
	InsertCorruptionAudit(ctx context.Context, row CorruptionAuditRow) error
	InsertFRNAudits(ctx context.Context, rows []FRNAuditRow) error
	InsertDedupGroups(ctx context.Context, rows []DedupGroupRow) error
	InsertDedupSummary(ctx context.Context, row DedupSummaryRow) error
	InsertQualityReport(ctx context.Context, batchID string, score float64, trend, reportJSON string) error
	LastQualityScore(ctx context.Context, beforeBatch string) (float64, bool, error)

	// Pipeline status singleton and processing locks.
	GetPipelineStatus(ctx context.Context) (PipelineStatusRow, error)
	SetPipelineStatus(ctx context.Context, running bool, stage, batchID string) error
	ResetPipelineStatus(ctx context.Context) error
	AcquireProcessingLock(ctx context.Context, processType, metadata string, staleAfter time.Duration) (bool, error)
	ReleaseProcessingLock(ctx context.Context, processType, status string) error
}

// Store is the full store handle owned by the engine.
type Store interface {
	Ops

	// InTransaction runs fn inside a single immediate transaction. fn's Ops
	// writes are invisible to other connections until commit; an error or
	// panic rolls everything back.
	InTransaction(ctx context.Context, fn func(Ops) error) error

	CheckpointWAL(ctx context.Context) error
	UnderlyingDB() *sql.DB
	Path() string
	Close() error
}
