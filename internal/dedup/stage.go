package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ratecurve/cashpipe/internal/audit"
	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/rules"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// ConfigCategory is the unified_config category consumed by this stage.
const ConfigCategory = "deduplication"

var requiredKeys = []string{
	"corporate_suffixes",
	"direct_platforms",
	"rate_tolerance_bp",
	"rate_score_weight",
	"platform_score_weight",
	"completeness_score_weight",
	"reliability_score_weight",
	"frn_quality_bonus",
	"quality_score_max",
	"max_rate_for_scoring",
	"default_platform_reliability",
	"platform_reliability",
}

// Params are the stage's store-resident parameters.
type Params struct {
	CorporateSuffixes []string
	DirectPlatforms   map[string]bool
	RateTolerance     float64 // decimal, converted from basis points
	Weights           scoreWeights
}

// LoadParams reads the deduplication category and converts the configured
// basis-point tolerance to a rate decimal.
func LoadParams(ctx context.Context, ops storage.Ops) (Params, error) {
	cfg, err := rules.LoadConfiguration(ctx, ops, ConfigCategory, requiredKeys...)
	if err != nil {
		return Params{}, err
	}

	var p Params
	if p.CorporateSuffixes, err = cfg.StringList("corporate_suffixes"); err != nil {
		return Params{}, err
	}
	direct, err := cfg.StringList("direct_platforms")
	if err != nil {
		return Params{}, err
	}
	p.DirectPlatforms = make(map[string]bool, len(direct))
	for _, d := range direct {
		p.DirectPlatforms[d] = true
	}
	bp, err := cfg.Float("rate_tolerance_bp")
	if err != nil {
		return Params{}, err
	}
	p.RateTolerance = bp / 100 // 10bp = 0.10 percentage points

	if p.Weights.RateWeight, err = cfg.Float("rate_score_weight"); err != nil {
		return Params{}, err
	}
	if p.Weights.PlatformWeight, err = cfg.Float("platform_score_weight"); err != nil {
		return Params{}, err
	}
	if p.Weights.CompletenessWeight, err = cfg.Float("completeness_score_weight"); err != nil {
		return Params{}, err
	}
	if p.Weights.ReliabilityWeight, err = cfg.Float("reliability_score_weight"); err != nil {
		return Params{}, err
	}
	if p.Weights.FRNBonus, err = cfg.Float("frn_quality_bonus"); err != nil {
		return Params{}, err
	}
	if p.Weights.Max, err = cfg.Float("quality_score_max"); err != nil {
		return Params{}, err
	}
	if p.Weights.MaxRateForScoring, err = cfg.Float("max_rate_for_scoring"); err != nil {
		return Params{}, err
	}
	if p.Weights.DefaultPlatformRel, err = cfg.Float("default_platform_reliability"); err != nil {
		return Params{}, err
	}
	if p.Weights.PlatformReliability, err = cfg.FloatMap("platform_reliability"); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Stage holds loaded parameters and preferred-platform reference data.
type Stage struct {
	params    Params
	preferred map[string]storage.PlatformRow
	rec       *audit.Recorder
	log       *logging.Logger

	fscsViolations int
}

// NewStage loads parameters and the preferred-platform table.
func NewStage(ctx context.Context, ops storage.Ops, rec *audit.Recorder, log *logging.Logger) (*Stage, error) {
	params, err := LoadParams(ctx, ops)
	if err != nil {
		return nil, err
	}
	platforms, err := ops.LoadPlatforms(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrPlatformConfigFailed, types.StageDedup, err, "loading platforms")
	}
	preferred := map[string]storage.PlatformRow{}
	for _, row := range platforms {
		if row.IsPreferred {
			preferred[row.Platform] = row
		}
	}
	return &Stage{params: params, preferred: preferred, rec: rec, log: log}, nil
}

// selection is one emitted winner with its group evidence.
type selection struct {
	winner    *types.EnrichedProduct
	group     []*types.EnrichedProduct
	reason    string
	compliant bool
}

// Run deduplicates the enriched set and returns the canonical products.
// Business keys are persisted back onto the raw table so the quality
// analyzer can join raw rows to their groups.
func Run(ctx context.Context, ops storage.Ops, products []*types.EnrichedProduct, rec *audit.Recorder, log *logging.Logger) ([]*types.FinalProduct, types.StageResult, error) {
	started := time.Now()
	result := types.StageResult{Stage: types.StageDedup}

	s, err := NewStage(ctx, ops, rec, log)
	if err != nil {
		return nil, result, err
	}

	groups := map[string][]*types.EnrichedProduct{}
	var keys []string
	for _, p := range products {
		key := BusinessKey(p, s.params.CorporateSuffixes)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], p)
	}
	sort.Strings(keys)
	keys = mergeSharedFRNGroups(groups, keys)

	var selections []selection
	for _, key := range keys {
		selections = append(selections, s.processGroup(key, groups[key])...)
	}

	finals := make([]*types.FinalProduct, 0, len(selections))
	for _, sel := range selections {
		key := BusinessKey(sel.winner, s.params.CorporateSuffixes)
		f := &types.FinalProduct{
			EnrichedProduct:  *sel.winner,
			BusinessKey:      key,
			QualityScore:     qualityScore(sel.winner, s.params.Weights),
			DuplicateCount:   len(sel.group),
			SelectionReason:  sel.reason,
			FSCSCompliant:    sel.compliant,
			PlatformCategory: s.platformCategory(sel.winner.Platform),
		}
		for _, p := range sel.group {
			if p != sel.winner && p.ID != 0 {
				f.CompetingProductIDs = append(f.CompetingProductIDs, p.ID)
			}
		}
		finals = append(finals, f)

		rec.RecordDedupGroup(storage.DedupGroupRow{
			BusinessKey:     key,
			ProductCount:    len(sel.group),
			WinnerRef:       fmt.Sprintf("%s/%s/%.2f", sel.winner.BankName, sel.winner.Platform, sel.winner.Rate()),
			SelectionReason: sel.reason,
			QualityJSON:     s.marshalScores(sel.group),
			CompetingJSON:   marshalIDs(f.CompetingProductIDs),
		})
	}

	// write business keys back to raw so quality analysis can join
	for _, p := range products {
		if p.AERRate == nil {
			continue
		}
		key := BusinessKey(p, s.params.CorporateSuffixes)
		if _, err := ops.AssignBusinessKey(ctx, p.BankName, p.Platform, p.AccountType, *p.AERRate, key); err != nil {
			return nil, result, types.WrapError(types.ErrDatabaseFailed, types.StageDedup, err,
				"persisting business key for %q", p.BankName)
		}
	}

	rec.RecordDedupSummary(storage.DedupSummaryRow{
		GroupsTotal:    len(selections),
		ProductsIn:     len(products),
		ProductsOut:    len(finals),
		FSCSViolations: s.fscsViolations,
		DetailJSON:     "{}",
	})

	result.Passed = len(finals)
	result.Rejected = len(products) - len(finals)
	result.Duration = time.Since(started)
	rec.Record(types.StageDedup, result.Passed, result.Rejected, result.Duration, map[string]any{
		"groups":          len(selections),
		"fscs_violations": s.fscsViolations,
	})
	log.Infof("deduplication: %d products into %d canonical (%d groups, %d FSCS splits) in %s",
		len(products), len(finals), len(selections), s.fscsViolations, result.Duration.Round(time.Millisecond))
	return finals, result, nil
}

// mergeSharedFRNGroups merges candidate groups whose members carry the same
// matched FRN on the same product shape (the key after the bank segment).
// Differently-branded names under one FRN would otherwise land in separate
// groups and the bank-separation check below could never see them together.
func mergeSharedFRNGroups(groups map[string][]*types.EnrichedProduct, keys []string) []string {
	owner := map[string]string{}
	for _, key := range keys {
		shape := keyShape(key)
		target := ""
		var ids []string
		for _, p := range groups[key] {
			if p.FRNStatus != types.FRNMatched || p.FRN == "" {
				continue
			}
			id := p.FRN + "|" + shape
			ids = append(ids, id)
			if t, ok := owner[id]; ok && target == "" && t != key {
				target = t
			}
		}
		if target == "" {
			for _, id := range ids {
				owner[id] = key
			}
			continue
		}
		groups[target] = append(groups[target], groups[key]...)
		delete(groups, key)
		for _, id := range ids {
			owner[id] = target
		}
	}

	out := make([]string, 0, len(groups))
	for _, key := range keys {
		if _, ok := groups[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

// keyShape strips the bank segment from a business key, leaving the account
// type and any term or notice qualifier.
func keyShape(key string) string {
	if i := strings.Index(key, "|"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// processGroup handles one business key: FSCS split first, then platform
// separation and winner selection inside each single-bank group.
func (s *Stage) processGroup(key string, group []*types.EnrichedProduct) []selection {
	if len(group) == 1 {
		return []selection{{winner: group[0], group: group, reason: types.ReasonSingleProduct, compliant: true}}
	}

	byBank := map[string][]*types.EnrichedProduct{}
	var banks []string
	for _, p := range group {
		bank := NormalizeBankKey(p.BankName, s.params.CorporateSuffixes)
		if _, ok := byBank[bank]; !ok {
			banks = append(banks, bank)
		}
		byBank[bank] = append(byBank[bank], p)
	}
	sort.Strings(banks)

	if len(banks) > 1 {
		// different banks may never share a group; split and log
		s.fscsViolations++
		s.log.Warnf("FSCS violation in group %q: %d distinct banks, splitting", key, len(banks))
		var out []selection
		for _, bank := range banks {
			for _, sel := range s.selectWithinBank(byBank[bank]) {
				sel.reason = types.ReasonFSCSBankSeparation
				sel.compliant = false
				out = append(out, sel)
			}
		}
		return out
	}
	return s.selectWithinBank(group)
}

// selectWithinBank separates direct-channel products from aggregator
// listings, then selects one winner per sub-group.
func (s *Stage) selectWithinBank(group []*types.EnrichedProduct) []selection {
	var direct, aggregator []*types.EnrichedProduct
	for _, p := range group {
		if s.platformCategory(p.Platform) == types.PlatformDirect {
			direct = append(direct, p)
		} else {
			aggregator = append(aggregator, p)
		}
	}

	crossPlatform := len(direct) > 0 && len(aggregator) > 0
	var out []selection
	for _, sub := range [][]*types.EnrichedProduct{direct, aggregator} {
		if len(sub) == 0 {
			continue
		}
		sel := s.selectWinner(sub)
		if crossPlatform {
			sel.reason = types.ReasonCrossPlatformSelection
		}
		out = append(out, sel)
	}
	return out
}

// selectWinner picks one product from a single-bank, single-category
// sub-group: preferred platform within tolerance first, then rate-tolerance
// bucketing with quality-score selection.
func (s *Stage) selectWinner(sub []*types.EnrichedProduct) selection {
	if len(sub) == 1 {
		return selection{winner: sub[0], group: sub, reason: types.ReasonNoDuplicatesFound, compliant: true}
	}

	if winner := s.preferredWinner(sub); winner != nil {
		return selection{winner: winner, group: sub, reason: types.ReasonPreferredPlatform, compliant: true}
	}

	winner, bucketed := s.rateToleranceWinner(sub)
	reason := types.ReasonQualityScore
	if bucketed {
		reason = types.ReasonRateTolerance
	}
	return selection{winner: winner, group: sub, reason: reason, compliant: true}
}

// preferredWinner retains the highest-priority preferred product unless some
// non-preferred product beats it by more than its configured tolerance.
func (s *Stage) preferredWinner(sub []*types.EnrichedProduct) *types.EnrichedProduct {
	var best *types.EnrichedProduct
	var bestRow storage.PlatformRow
	for _, p := range sub {
		row, ok := s.preferred[p.Platform]
		if !ok {
			continue
		}
		if best == nil || row.Priority > bestRow.Priority {
			best = p
			bestRow = row
		}
	}
	if best == nil {
		return nil
	}
	for _, p := range sub {
		if _, ok := s.preferred[p.Platform]; ok {
			continue
		}
		if p.Rate() > best.Rate()+bestRow.RateTolerance {
			return nil
		}
	}
	return best
}

// rateToleranceWinner buckets products whose rates sit within the configured
// tolerance of the bucket leader, then picks the top bucket's best product.
// bucketed reports whether any bucket actually merged competitors.
func (s *Stage) rateToleranceWinner(sub []*types.EnrichedProduct) (*types.EnrichedProduct, bool) {
	sorted := make([]*types.EnrichedProduct, len(sub))
	copy(sorted, sub)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rate() > sorted[j].Rate() })

	var buckets [][]*types.EnrichedProduct
	for _, p := range sorted {
		placed := false
		for i, bucket := range buckets {
			if bucket[0].Rate()-p.Rate() <= s.params.RateTolerance {
				buckets[i] = append(bucket, p)
				placed = true
				break
			}
		}
		if !placed {
			buckets = append(buckets, []*types.EnrichedProduct{p})
		}
	}

	top := buckets[0]
	winner := top[0]
	bestScore := qualityScore(winner, s.params.Weights)
	for _, p := range top[1:] {
		score := qualityScore(p, s.params.Weights)
		if score > bestScore || (score == bestScore && p.Rate() > winner.Rate()) {
			winner = p
			bestScore = score
		}
	}
	return winner, len(top) > 1
}

func (s *Stage) platformCategory(platform string) types.PlatformCategory {
	if s.params.DirectPlatforms[platform] || platform == "direct" {
		return types.PlatformDirect
	}
	return types.PlatformAggregator
}

func (s *Stage) marshalScores(group []*types.EnrichedProduct) string {
	scores := make([]float64, len(group))
	for i, p := range group {
		scores[i] = qualityScore(p, s.params.Weights)
	}
	b, err := json.Marshal(scores)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func marshalIDs(ids []int64) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}
