// Package types defines the domain model shared across pipeline stages.
package types

import "time"

// AccountType classifies a savings product by access terms.
type AccountType string

const (
	AccountEasyAccess AccountType = "easy_access"
	AccountNotice     AccountType = "notice"
	AccountFixedTerm  AccountType = "fixed_term"
)

// Valid reports whether t is one of the recognised account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountEasyAccess, AccountNotice, AccountFixedTerm:
		return true
	}
	return false
}

// PlatformCategory separates a bank's own channel from marketplace listings.
type PlatformCategory string

const (
	PlatformDirect     PlatformCategory = "direct"
	PlatformAggregator PlatformCategory = "aggregator"
)

// RawProduct is a product as landed from a scraper feed. It lives in the
// available_products_raw table and is only ever cleared per (source, method)
// by the ingestion stage.
type RawProduct struct {
	ID                       int64       `json:"id,omitempty"`
	Platform                 string      `json:"platform"`
	Source                   string      `json:"source"`
	Method                   string      `json:"method"`
	BankName                 string      `json:"bankName"`
	AccountType              AccountType `json:"accountType"`
	AERRate                  *float64    `json:"aerRate"`
	GrossRate                *float64    `json:"grossRate,omitempty"`
	TermMonths               *int        `json:"termMonths,omitempty"`
	NoticePeriodDays         *int        `json:"noticePeriodDays,omitempty"`
	MinDeposit               *float64    `json:"minDeposit,omitempty"`
	MaxDeposit               *float64    `json:"maxDeposit,omitempty"`
	InterestPaymentFrequency string      `json:"interestPaymentFrequency,omitempty"`
	ApplyByDate              string      `json:"applyByDate,omitempty"`
	SpecialFeatures          string      `json:"specialFeatures,omitempty"`
	FSCSProtected            bool        `json:"fscsProtected"`
	ScrapedAt                time.Time   `json:"scrapedAt"`

	// Written back by later stages.
	FRN             string     `json:"frn,omitempty"`
	BusinessKey     string     `json:"businessKey,omitempty"`
	ConfidenceScore float64    `json:"confidenceScore,omitempty"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
}

// Rate returns the AER rate or zero when the feed omitted it.
func (p *RawProduct) Rate() float64 {
	if p.AERRate == nil {
		return 0
	}
	return *p.AERRate
}

// ParsedProduct is a RawProduct that survived ingestion validation, enriched
// with platform normalization results.
type ParsedProduct struct {
	RawProduct

	PlatformPriority  int
	SourceReliability float64
	ValidationErrors  []string
}

// FRNStatus is the outcome class of a lookup-cache resolution.
type FRNStatus string

const (
	FRNMatched       FRNStatus = "MATCHED"
	FRNResearchQueue FRNStatus = "RESEARCH_QUEUE"
	FRNNoMatch       FRNStatus = "NO_MATCH"
)

// FRNSource identifies which resolution path produced a match.
type FRNSource string

const (
	FRNSourceExact FRNSource = "EXACT"
	FRNSourceFuzzy FRNSource = "FUZZY"
	FRNSourceAlias FRNSource = "ALIAS"
	FRNSourceNone  FRNSource = "NONE"
)

// EnrichedProduct is a ParsedProduct after FRN matching.
type EnrichedProduct struct {
	ParsedProduct

	FRN            string
	FRNConfidence  float64
	FRNStatus      FRNStatus
	FRNSource      FRNSource
	MatchType      string
	NormalizedName string
}

// Selection reasons recorded per deduplication group. The strings are part of
// the audit contract and must be persisted verbatim.
const (
	ReasonSingleProduct          = "single_product"
	ReasonFSCSBankSeparation     = "fscs_bank_separation"
	ReasonCrossPlatformSelection = "cross_platform_selection"
	ReasonNoDuplicatesFound      = "no_duplicates_found"
	ReasonPreferredPlatform      = "preferred_platform_retained"
	ReasonRateTolerance          = "rate_tolerance_deduplication"
	ReasonQualityScore           = "quality_score_selection"
)

// FinalProduct is the canonical record published to available_products.
type FinalProduct struct {
	EnrichedProduct

	BusinessKey         string
	QualityScore        float64
	DuplicateCount      int
	SelectionReason     string
	CompetingProductIDs []int64
	FSCSCompliant       bool
	PlatformCategory    PlatformCategory
}

// FRNLookupEntry is one row of the derived frn_lookup_helper_cache table.
// The cache is rebuilt wholesale; entries are never mutated in place.
type FRNLookupEntry struct {
	FRN             string
	CanonicalName   string
	SearchName      string
	MatchType       string
	ConfidenceScore float64
	PriorityRank    int
	MatchRank       int
	SourceTable     string
}

// Lookup-cache match types, ordered by priority rank (1 = strongest).
const (
	MatchManualOverride = "manual_override"
	MatchDirect         = "direct_match"
	MatchNameVariation  = "name_variation"
	MatchSharedBrand    = "shared_brand"
)

// ResearchQueueEntry is an unknown or weakly matched bank name held for
// manual review. Append-only and size-capped.
type ResearchQueueEntry struct {
	BankName  string
	Platform  string
	Source    string
	FirstSeen time.Time
}
