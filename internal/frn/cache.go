package frn

import (
	"context"
	"strings"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// Priority ranks, 1 strongest. The SQL post-pass in the store turns these
// into a unique match_rank per search name.
const (
	rankManualOverride = 1
	rankDirectMatch    = 2
	rankNameVariation  = 3
	rankSharedBrand    = 4
)

// RebuildCache regenerates the lookup cache from the three source tables.
// For every canonical name it emits the cross product of name variations:
// with and without prefix removal, suffix stripping, and abbreviation
// expansion. The cache is replaced wholesale; it is never patched in place.
func RebuildCache(ctx context.Context, ops storage.Ops, cfg NormalizationConfig, log *logging.Logger) (int, error) {
	overrides, err := ops.LoadManualOverrides(ctx)
	if err != nil {
		return 0, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err, "loading manual overrides")
	}
	institutions, err := ops.LoadInstitutions(ctx)
	if err != nil {
		return 0, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err, "loading institutions")
	}
	brands, err := ops.LoadSharedBrands(ctx)
	if err != nil {
		return 0, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err, "loading shared brands")
	}

	var entries []*types.FRNLookupEntry
	seen := make(map[string]bool)

	add := func(searchName string, src storage.FRNSourceRow, matchType string, rank int, confidence float64, table string) {
		if searchName == "" {
			return
		}
		key := searchName + "|" + src.FRN + "|" + matchType
		if seen[key] {
			return
		}
		seen[key] = true
		entries = append(entries, &types.FRNLookupEntry{
			FRN:             src.FRN,
			CanonicalName:   src.Name,
			SearchName:      searchName,
			MatchType:       matchType,
			ConfidenceScore: confidence,
			PriorityRank:    rank,
			SourceTable:     table,
		})
	}

	for _, row := range overrides {
		for _, v := range nameVariations(row.Name, cfg) {
			add(v.name, row, types.MatchManualOverride, rankManualOverride, row.Confidence, "frn_manual_overrides")
		}
	}
	for _, row := range institutions {
		for _, v := range nameVariations(row.Name, cfg) {
			if v.identity {
				add(v.name, row, types.MatchDirect, rankDirectMatch, row.Confidence, "boe_institutions")
			} else {
				add(v.name, row, types.MatchNameVariation, rankNameVariation, row.Confidence*0.95, "boe_institutions")
			}
		}
	}
	for _, row := range brands {
		for _, v := range nameVariations(row.Name, cfg) {
			add(v.name, row, types.MatchSharedBrand, rankSharedBrand, row.Confidence, "boe_shared_brands")
		}
	}

	if err := ops.ReplaceLookupCache(ctx, entries); err != nil {
		return 0, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err, "replacing lookup cache")
	}
	log.Debugf("lookup cache rebuilt: %d entries from %d overrides, %d institutions, %d shared brands",
		len(entries), len(overrides), len(institutions), len(brands))
	return len(entries), nil
}

type variation struct {
	name     string
	identity bool
}

// nameVariations produces the search-name cross product for one canonical
// name. The base form (uppercase, punctuation stripped) is the identity
// variation; the rest toggle prefix removal, suffix stripping, and
// abbreviation expansion independently.
func nameVariations(name string, cfg NormalizationConfig) []variation {
	base := stripNonAlphanumeric(strings.ToUpper(strings.TrimSpace(name)))
	if base == "" {
		return nil
	}

	out := []variation{{name: base, identity: true}}
	seen := map[string]bool{base: true}

	for _, usePrefix := range []bool{false, true} {
		for _, useSuffix := range []bool{false, true} {
			for _, useAbbrev := range []bool{false, true} {
				if !usePrefix && !useSuffix && !useAbbrev {
					continue
				}
				v := applyTransforms(base, cfg, usePrefix, useSuffix, useAbbrev)
				if v == "" || seen[v] {
					continue
				}
				seen[v] = true
				out = append(out, variation{name: v})
			}
		}
	}
	return out
}

func applyTransforms(base string, cfg NormalizationConfig, usePrefix, useSuffix, useAbbrev bool) string {
	out := base

	if usePrefix {
		for _, prefix := range cfg.Prefixes {
			p := strings.ToUpper(prefix)
			if trimmed := strings.TrimPrefix(out, p+" "); trimmed != out {
				out = strings.TrimSpace(trimmed)
			}
		}
	}

	if useSuffix {
		for {
			stripped := out
			for _, suffix := range cfg.Suffixes {
				s := strings.ToUpper(suffix)
				if trimmed := strings.TrimSuffix(stripped, " "+s); trimmed != stripped {
					stripped = strings.TrimSpace(trimmed)
				}
			}
			if stripped == out {
				break
			}
			out = stripped
		}
	}

	if useAbbrev && len(cfg.Abbreviations) > 0 {
		words := strings.Fields(out)
		for i, w := range words {
			if full, ok := lookupFold(cfg.Abbreviations, w); ok {
				words[i] = strings.ToUpper(full)
			}
		}
		out = strings.Join(words, " ")
	}

	return out
}
