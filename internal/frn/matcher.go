package frn

import (
	"context"
	"strings"
	"time"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/rules"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
	"github.com/ratecurve/cashpipe/internal/utils"
)

// ConfigCategory is the unified_config category consumed by this stage.
const ConfigCategory = "frn_matching"

var requiredKeys = []string{
	"fuzzy_threshold",
	"max_edit_distance",
	"fuzzy_match_confidence",
	"confidence_threshold_high",
	"confidence_threshold_low",
	"research_queue_max_size",
	"generic_terms",
	"normalization_prefixes",
	"normalization_suffixes",
	"abbreviations",
	"timeout_seconds",
}

// Params are the stage's store-resident parameters.
type Params struct {
	FuzzyThreshold       float64
	MaxEditDistance      int
	FuzzyMatchConfidence float64
	ConfidenceHigh       float64
	ConfidenceLow        float64
	ResearchQueueMax     int
	GenericTerms         []string
	Timeout              time.Duration
	Norm                 NormalizationConfig
}

// LoadParams reads the frn_matching category. Any missing key fails with
// CONFIG_LOAD_FAILED.
func LoadParams(ctx context.Context, ops storage.Ops) (Params, error) {
	cfg, err := rules.LoadConfiguration(ctx, ops, ConfigCategory, requiredKeys...)
	if err != nil {
		return Params{}, err
	}

	var p Params
	if p.FuzzyThreshold, err = cfg.Float("fuzzy_threshold"); err != nil {
		return Params{}, err
	}
	if p.MaxEditDistance, err = cfg.Int("max_edit_distance"); err != nil {
		return Params{}, err
	}
	if p.FuzzyMatchConfidence, err = cfg.Float("fuzzy_match_confidence"); err != nil {
		return Params{}, err
	}
	if p.ConfidenceHigh, err = cfg.Float("confidence_threshold_high"); err != nil {
		return Params{}, err
	}
	if p.ConfidenceLow, err = cfg.Float("confidence_threshold_low"); err != nil {
		return Params{}, err
	}
	if p.ResearchQueueMax, err = cfg.Int("research_queue_max_size"); err != nil {
		return Params{}, err
	}
	if p.GenericTerms, err = cfg.StringList("generic_terms"); err != nil {
		return Params{}, err
	}
	if p.Norm.Prefixes, err = cfg.StringList("normalization_prefixes"); err != nil {
		return Params{}, err
	}
	if p.Norm.Suffixes, err = cfg.StringList("normalization_suffixes"); err != nil {
		return Params{}, err
	}
	p.Norm.Abbreviations = map[string]string{}
	if err := cfg.JSON("abbreviations", &p.Norm.Abbreviations); err != nil {
		return Params{}, err
	}
	secs, err := cfg.Float("timeout_seconds")
	if err != nil {
		return Params{}, err
	}
	p.Timeout = time.Duration(secs * float64(time.Second))
	return p, nil
}

// Candidate is one scored fuzzy candidate, kept for the audit trail.
type Candidate struct {
	Name       string  `json:"name"`
	FRN        string  `json:"frn"`
	Similarity float64 `json:"similarity"`
	Distance   int     `json:"distance"`
}

// Resolution is the outcome of resolving one bank name.
type Resolution struct {
	FRN            string
	Confidence     float64
	Status         types.FRNStatus
	Source         types.FRNSource
	MatchType      string
	NormalizedName string
	Steps          []string
	Candidates     []Candidate
}

// Matcher resolves bank names against an in-memory snapshot of the lookup
// cache. The snapshot is loaded once per stage run; cache rebuilds never race
// a resolution in flight.
type Matcher struct {
	params  Params
	rankOne []*types.FRNLookupEntry
	aliases []*types.FRNLookupEntry
	log     *logging.Logger
}

// NewMatcher snapshots the lookup cache for resolution.
func NewMatcher(ctx context.Context, ops storage.Ops, params Params, log *logging.Logger) (*Matcher, error) {
	rankOne, err := ops.LoadRankOneEntries(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err, "loading rank-one entries")
	}
	aliases, err := ops.LoadAliasEntries(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err, "loading alias entries")
	}
	return &Matcher{params: params, rankOne: rankOne, aliases: aliases, log: log}, nil
}

// Resolve runs the resolution paths in order: exact, fuzzy, alias. The winner
// is classified against the confidence band.
func (m *Matcher) Resolve(ctx context.Context, ops storage.Ops, bankName string) (Resolution, error) {
	normalized, steps := NormalizeBankName(bankName, m.params.Norm)
	res := Resolution{
		NormalizedName: normalized,
		Status:         types.FRNNoMatch,
		Source:         types.FRNSourceNone,
	}
	res.Steps = steps
	if normalized == "" {
		return res, nil
	}

	// exact
	if entry, err := ops.LookupExact(ctx, normalized); err == nil {
		res.FRN = entry.FRN
		res.Confidence = entry.ConfidenceScore
		res.Source = types.FRNSourceExact
		res.MatchType = entry.MatchType
		m.classify(&res)
		return res, nil
	} else if err != storage.ErrNotFound {
		return res, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err, "exact lookup for %q", normalized)
	}

	// fuzzy over rank-one entries, space-stripped forms
	if best := m.fuzzyMatch(normalized, &res); best != nil {
		res.FRN = best.FRN
		res.Source = types.FRNSourceFuzzy
		res.MatchType = best.MatchType
		m.classify(&res)
		return res, nil
	}

	// alias substring search
	if entry := m.aliasMatch(normalized); entry != nil {
		res.FRN = entry.FRN
		res.Confidence = entry.ConfidenceScore
		res.Source = types.FRNSourceAlias
		res.MatchType = entry.MatchType
		m.classify(&res)
		return res, nil
	}

	return res, nil
}

func (m *Matcher) fuzzyMatch(normalized string, res *Resolution) *types.FRNLookupEntry {
	stripped := utils.StripSpaces(normalized)
	var best *types.FRNLookupEntry
	bestSim := 0.0

	for _, entry := range m.rankOne {
		candidate := utils.StripSpaces(entry.SearchName)
		dist := utils.ComputeDistance(stripped, candidate)
		if dist > m.params.MaxEditDistance {
			continue
		}
		sim := utils.Similarity(stripped, candidate)
		if sim < m.params.FuzzyThreshold {
			continue
		}
		if len(res.Candidates) < 5 {
			res.Candidates = append(res.Candidates, Candidate{
				Name: entry.SearchName, FRN: entry.FRN, Similarity: sim, Distance: dist,
			})
		}
		if sim > bestSim {
			bestSim = sim
			best = entry
			if sim >= 0.99 {
				break
			}
		}
	}

	if best != nil {
		res.Confidence = bestSim * m.params.FuzzyMatchConfidence
	}
	return best
}

func (m *Matcher) aliasMatch(normalized string) *types.FRNLookupEntry {
	for _, entry := range m.aliases {
		if strings.Contains(normalized, entry.SearchName) || strings.Contains(entry.SearchName, normalized) {
			return entry
		}
	}
	return nil
}

func (m *Matcher) classify(res *Resolution) {
	switch {
	case res.Confidence >= m.params.ConfidenceHigh:
		res.Status = types.FRNMatched
	case res.Confidence >= m.params.ConfidenceLow:
		res.Status = types.FRNResearchQueue
	default:
		res.Status = types.FRNNoMatch
	}
}

// isGenericTerm rejects names too vague to research (e.g. "BANK", "SAVINGS").
func (m *Matcher) isGenericTerm(normalized string) bool {
	for _, term := range m.params.GenericTerms {
		if strings.EqualFold(normalized, term) {
			return true
		}
	}
	return false
}
