package storage

import "time"

// ConfigRow is one unified_config entry. Values are stored as text and
// interpreted by the rules loader according to ValueType.
type ConfigRow struct {
	Category  string
	Key       string
	Value     string
	ValueType string // number | boolean | string | json
	IsActive  bool
}

// RuleRow is one declarative business rule. Conditions and event params are
// JSON documents compiled by the rules engine at load time.
type RuleRow struct {
	ID              int64
	Category        string
	Name            string
	ConditionsJSON  string
	EventType       string
	EventParamsJSON string
	Priority        int
	Enabled         bool
}

// PlatformRow carries per-platform reference data: listing priority,
// direct/aggregator category, and preferred-platform retention settings.
type PlatformRow struct {
	Platform      string
	DisplayName   string
	Priority      int
	Category      string // direct | aggregator
	IsPreferred   bool
	RateTolerance float64
	Reliability   float64
}

// ScraperRow carries per-source reliability used during ingestion.
type ScraperRow struct {
	Source      string
	Reliability float64
}

// FRNSourceRow is a row of one of the three lookup-cache source tables.
type FRNSourceRow struct {
	FRN        string
	Name       string
	Confidence float64
}

// StageAuditRow updates the pre-inserted per-stage audit row for a batch.
type StageAuditRow struct {
	BatchID      string
	Stage        string
	Passed       int
	Rejected     int
	TimingMS     int64
	ErrorMessage string
	DetailJSON   string
}

// AuditItemRow is a verbose-mode per-product audit row.
type AuditItemRow struct {
	BatchID    string
	Stage      string
	ProductRef string
	Outcome    string
	DetailJSON string
}

// IngestionAuditRow is one row per product that reached the ingestion stage.
type IngestionAuditRow struct {
	BatchID            string
	Source             string
	Method             string
	Platform           string
	BankNameOriginal   string
	BankNameNormalized string
	Outcome            string // passed | rejected | rate_filtered
	RejectionReason    string
	QualityFlags       string
	CorruptionSeverity string
}

// CorruptionAuditRow records a DATA_CORRUPTION abort.
type CorruptionAuditRow struct {
	BatchID            string
	TotalProducts      int
	ValidationFailures int
	FailureRate        float64
	Threshold          float64
}

// FRNAuditRow is one row per enriched product.
type FRNAuditRow struct {
	BatchID            string
	BankName           string
	NormalizedName     string
	FRN                string
	Confidence         float64
	Status             string
	Source             string
	CandidatesJSON     string
	NormalizationSteps string
}

// DedupGroupRow is one row per deduplication group.
type DedupGroupRow struct {
	BatchID         string
	BusinessKey     string
	ProductCount    int
	WinnerRef       string
	SelectionReason string
	QualityJSON     string
	CompetingJSON   string
}

// DedupSummaryRow is the one-per-batch deduplication summary.
type DedupSummaryRow struct {
	BatchID        string
	GroupsTotal    int
	ProductsIn     int
	ProductsOut    int
	FSCSViolations int
	DetailJSON     string
}

// PipelineStatusRow mirrors the orchestrator_pipeline_status singleton.
type PipelineStatusRow struct {
	IsRunning    bool
	CurrentStage string
	BatchID      string
	StartedAt    time.Time
	UpdatedAt    time.Time
}
