// Package ingest parses scraped JSON product batches, validates them against
// store-resident rules and ranges, and lands survivors in the raw table.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ratecurve/cashpipe/internal/audit"
	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/rules"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// ConfigCategory is the unified_config category consumed by this stage.
const ConfigCategory = "ingestion"

// RulesCategory is the unified_business_rules category evaluated per product.
const RulesCategory = "ingestion"

var requiredKeys = []string{
	"aer_rate_min",
	"aer_rate_max",
	"term_months_min",
	"term_months_max",
	"notice_days_min",
	"notice_days_max",
	"corruption_threshold",
	"rate_filtering_enabled",
	"min_rate_thresholds",
}

// Params are the stage's store-resident parameters.
type Params struct {
	AERMin, AERMax       float64
	TermMin, TermMax     int
	NoticeMin, NoticeMax int
	CorruptionThreshold  float64
	RateFilteringEnabled bool
	MinRateThresholds    map[string]float64
}

// LoadParams reads the ingestion category.
func LoadParams(ctx context.Context, ops storage.Ops) (Params, error) {
	cfg, err := rules.LoadConfiguration(ctx, ops, ConfigCategory, requiredKeys...)
	if err != nil {
		return Params{}, err
	}
	var p Params
	if p.AERMin, err = cfg.Float("aer_rate_min"); err != nil {
		return Params{}, err
	}
	if p.AERMax, err = cfg.Float("aer_rate_max"); err != nil {
		return Params{}, err
	}
	if p.TermMin, err = cfg.Int("term_months_min"); err != nil {
		return Params{}, err
	}
	if p.TermMax, err = cfg.Int("term_months_max"); err != nil {
		return Params{}, err
	}
	if p.NoticeMin, err = cfg.Int("notice_days_min"); err != nil {
		return Params{}, err
	}
	if p.NoticeMax, err = cfg.Int("notice_days_max"); err != nil {
		return Params{}, err
	}
	if p.CorruptionThreshold, err = cfg.Float("corruption_threshold"); err != nil {
		return Params{}, err
	}
	if p.RateFilteringEnabled, err = cfg.Bool("rate_filtering_enabled"); err != nil {
		return Params{}, err
	}
	if p.MinRateThresholds, err = cfg.FloatMap("min_rate_thresholds"); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Batch is the input envelope: feed metadata plus the product list.
type Batch struct {
	Metadata struct {
		Source string `json:"source"`
		Method string `json:"method"`
	} `json:"metadata"`
	Products []*types.RawProduct `json:"products"`
}

// ReadFile loads and validates one input file's envelope.
func ReadFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.ErrValidationFailed, types.StageIngestion, err, "reading %s", path)
	}
	return ParseBatch(data)
}

// ParseBatch decodes an in-memory batch and validates the metadata envelope.
func ParseBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, types.WrapError(types.ErrValidationFailed, types.StageIngestion, err, "decoding input batch")
	}
	if b.Metadata.Source == "" || b.Metadata.Method == "" {
		return nil, types.NewError(types.ErrValidationFailed, types.StageIngestion,
			"input batch missing metadata source/method")
	}
	return &b, nil
}

// NormalizePlatform applies source-specific platform rewriting. An aggregator
// listing its own products (platform string equal to the source) is the
// bank's direct channel in disguise.
func NormalizePlatform(platform, source string) string {
	p := strings.ToLower(strings.TrimSpace(platform))
	s := strings.ToLower(strings.TrimSpace(source))
	if p == "" {
		return s
	}
	if p == s {
		return "direct"
	}
	return p
}

// corruptionTracker counts validation failures across a run. Rate-filtered
// products never count: a feed full of low rates is filtered, not broken.
type corruptionTracker struct {
	total     int
	failures  int
	threshold float64
}

func (t *corruptionTracker) add(failed bool) {
	t.total++
	if failed {
		t.failures++
	}
}

func (t *corruptionTracker) rate() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.failures) / float64(t.total)
}

func (t *corruptionTracker) tripped() bool {
	return t.total > 0 && t.rate() > t.threshold
}

// Stage holds loaded parameters and reference data for one ingestion run.
// One Stage serves every input file of a run so the corruption tracker spans
// the whole feed.
type Stage struct {
	params    Params
	engine    *rules.Engine
	platforms map[string]storage.PlatformRow
	scrapers  map[string]float64
	tracker   corruptionTracker
	rec       *audit.Recorder
	log       *logging.Logger
}

// NewStage loads parameters, compiles rules, and snapshots reference data.
func NewStage(ctx context.Context, ops storage.Ops, rec *audit.Recorder, log *logging.Logger) (*Stage, error) {
	params, err := LoadParams(ctx, ops)
	if err != nil {
		return nil, err
	}
	engine, err := rules.LoadEngine(ctx, ops, RulesCategory, log)
	if err != nil {
		return nil, err
	}
	platformRows, err := ops.LoadPlatforms(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrPlatformConfigFailed, types.StageIngestion, err, "loading platforms")
	}
	scraperRows, err := ops.LoadScrapers(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrDatabaseFailed, types.StageIngestion, err, "loading scrapers")
	}

	platforms := make(map[string]storage.PlatformRow, len(platformRows))
	for _, row := range platformRows {
		platforms[row.Platform] = row
	}
	scrapers := make(map[string]float64, len(scraperRows))
	for _, row := range scraperRows {
		scrapers[row.Source] = row.Reliability
	}

	return &Stage{
		params:    params,
		engine:    engine,
		platforms: platforms,
		scrapers:  scrapers,
		tracker:   corruptionTracker{threshold: params.CorruptionThreshold},
		rec:       rec,
		log:       log,
	}, nil
}

// FileResult summarizes one ingested file.
type FileResult struct {
	Source       string
	Method       string
	Passed       []*types.ParsedProduct
	Rejected     int
	RateFiltered int
	ByPlatform   map[string]int
}

// IngestBatch validates a batch, lands survivors in the raw table under the
// batch's (source, method) origin, and updates the corruption tracker. The
// corruption fuse is checked every 100 products and once at the end.
func (s *Stage) IngestBatch(ctx context.Context, ops storage.Ops, batch *Batch) (*FileResult, error) {
	res := &FileResult{
		Source:     batch.Metadata.Source,
		Method:     batch.Metadata.Method,
		ByPlatform: map[string]int{},
	}

	for i, p := range batch.Products {
		p.Source = batch.Metadata.Source
		p.Method = batch.Metadata.Method
		originalName := p.BankName
		p.Platform = NormalizePlatform(p.Platform, p.Source)

		errs, rateFiltered := s.validate(p)
		switch {
		case rateFiltered:
			res.RateFiltered++
			s.tracker.add(false)
			s.recordOutcome(p, originalName, "rate_filtered", "rate below account-type floor")
		case len(errs) > 0:
			res.Rejected++
			s.tracker.add(true)
			s.recordOutcome(p, originalName, "rejected", strings.Join(errs, "; "))
		default:
			s.tracker.add(false)
			parsed := &types.ParsedProduct{RawProduct: *p}
			if row, ok := s.platforms[p.Platform]; ok {
				parsed.PlatformPriority = row.Priority
			}
			parsed.SourceReliability = s.scrapers[p.Source]
			res.Passed = append(res.Passed, parsed)
			res.ByPlatform[p.Platform]++
			s.recordOutcome(p, originalName, "passed", "")
		}

		if (i+1)%100 == 0 {
			if err := s.checkCorruption(); err != nil {
				return res, err
			}
		}
	}
	if err := s.checkCorruption(); err != nil {
		return res, err
	}

	if err := ops.ClearOrigin(ctx, res.Source, res.Method); err != nil {
		return res, types.WrapError(types.ErrDatabaseFailed, types.StageIngestion, err,
			"clearing origin %s/%s", res.Source, res.Method)
	}
	raw := make([]*types.RawProduct, len(res.Passed))
	for i, p := range res.Passed {
		raw[i] = &p.RawProduct
	}
	if err := ops.InsertRawProducts(ctx, raw); err != nil {
		return res, types.WrapError(types.ErrDatabaseFailed, types.StageIngestion, err, "landing raw products")
	}
	for i := range res.Passed {
		res.Passed[i].ID = raw[i].ID
	}

	s.log.Infof("ingested %s/%s: %d passed, %d rejected, %d rate-filtered",
		res.Source, res.Method, len(res.Passed), res.Rejected, res.RateFiltered)
	return res, nil
}

// validate returns the product's validation errors, or rateFiltered=true when
// the only objection is the account-type rate floor.
func (s *Stage) validate(p *types.RawProduct) (errs []string, rateFiltered bool) {
	if strings.TrimSpace(p.BankName) == "" {
		errs = append(errs, "missing bank name")
	}
	if !p.AccountType.Valid() {
		errs = append(errs, fmt.Sprintf("invalid account type %q", p.AccountType))
	}
	if p.AERRate == nil {
		errs = append(errs, "missing AER rate")
	} else if *p.AERRate < s.params.AERMin || *p.AERRate > s.params.AERMax {
		errs = append(errs, fmt.Sprintf("AER rate %.2f outside [%.2f, %.2f]", *p.AERRate, s.params.AERMin, s.params.AERMax))
	}

	switch p.AccountType {
	case types.AccountFixedTerm:
		if p.TermMonths == nil {
			errs = append(errs, "fixed term product missing term months")
		} else if *p.TermMonths < s.params.TermMin || *p.TermMonths > s.params.TermMax {
			errs = append(errs, fmt.Sprintf("term %d outside [%d, %d]", *p.TermMonths, s.params.TermMin, s.params.TermMax))
		}
	case types.AccountNotice:
		if p.NoticePeriodDays == nil {
			errs = append(errs, "notice product missing notice period")
		} else if *p.NoticePeriodDays < s.params.NoticeMin || *p.NoticePeriodDays > s.params.NoticeMax {
			errs = append(errs, fmt.Sprintf("notice period %d outside [%d, %d]", *p.NoticePeriodDays, s.params.NoticeMin, s.params.NoticeMax))
		}
	}

	for _, ev := range s.engine.Evaluate(s.facts(p)) {
		switch ev.Type {
		case "reject_product", "flag_validation_error":
			reason := ev.Rule
			if msg, ok := ev.Params["message"].(string); ok && msg != "" {
				reason = msg
			}
			errs = append(errs, reason)
		}
	}

	if len(errs) == 0 && s.params.RateFilteringEnabled && p.AERRate != nil {
		if floor, ok := s.params.MinRateThresholds[string(p.AccountType)]; ok && *p.AERRate < floor {
			return nil, true
		}
	}
	return errs, false
}

func (s *Stage) facts(p *types.RawProduct) rules.Facts {
	floor, hasFloor := s.params.MinRateThresholds[string(p.AccountType)]
	f := rules.Facts{
		"account_type": string(p.AccountType),
		"platform":     p.Platform,
		"bank_name":    p.BankName,
		"required_fields_complete": strings.TrimSpace(p.BankName) != "" &&
			p.AccountType.Valid() && p.AERRate != nil,
	}
	if p.AERRate != nil {
		f["aer_rate"] = *p.AERRate
	}
	if p.MinDeposit != nil {
		f["min_deposit"] = *p.MinDeposit
	}
	if p.TermMonths != nil {
		f["term_months"] = *p.TermMonths
	}
	if p.NoticePeriodDays != nil {
		f["notice_period_days"] = *p.NoticePeriodDays
	}
	if hasFloor {
		f["min_rate_threshold"] = floor
	}
	f["valid_ranges"] = p.AERRate != nil && *p.AERRate >= s.params.AERMin && *p.AERRate <= s.params.AERMax
	return f
}

func (s *Stage) recordOutcome(p *types.RawProduct, originalName, outcome, reason string) {
	severity := ""
	if outcome == "rejected" && s.tracker.rate() > s.params.CorruptionThreshold/2 {
		severity = "elevated"
	}
	s.rec.RecordIngestion(storage.IngestionAuditRow{
		Source:             p.Source,
		Method:             p.Method,
		Platform:           p.Platform,
		BankNameOriginal:   originalName,
		BankNameNormalized: strings.TrimSpace(p.BankName),
		Outcome:            outcome,
		RejectionReason:    reason,
		QualityFlags:       qualityFlags(p),
		CorruptionSeverity: severity,
	})
}

func qualityFlags(p *types.RawProduct) string {
	var flags []string
	if p.GrossRate == nil {
		flags = append(flags, "no_gross_rate")
	}
	if p.MinDeposit == nil {
		flags = append(flags, "no_min_deposit")
	}
	if !p.FSCSProtected {
		flags = append(flags, "not_fscs_protected")
	}
	return strings.Join(flags, ",")
}

// checkCorruption aborts the run once systematic validation failure exceeds
// the configured threshold.
func (s *Stage) checkCorruption() error {
	if !s.tracker.tripped() {
		return nil
	}
	s.rec.RecordCorruption(storage.CorruptionAuditRow{
		TotalProducts:      s.tracker.total,
		ValidationFailures: s.tracker.failures,
		FailureRate:        s.tracker.rate(),
		Threshold:          s.params.CorruptionThreshold,
	})
	return types.NewError(types.ErrDataCorruption, types.StageIngestion,
		"validation failure rate %.1f%% exceeds corruption threshold %.1f%% (%d of %d products)",
		s.tracker.rate()*100, s.params.CorruptionThreshold*100, s.tracker.failures, s.tracker.total)
}

// Finish records the stage audit row covering every file of the run.
func (s *Stage) Finish(passed, rejected, rateFiltered int, elapsed time.Duration) types.StageResult {
	result := types.StageResult{
		Stage:    types.StageIngestion,
		Passed:   passed,
		Rejected: rejected + rateFiltered,
		Duration: elapsed,
	}
	s.rec.Record(types.StageIngestion, passed, rejected+rateFiltered, elapsed, map[string]any{
		"rejected":      rejected,
		"rate_filtered": rateFiltered,
	})
	return result
}
