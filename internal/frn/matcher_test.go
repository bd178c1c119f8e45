package frn

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/types"
)

func newTestMatcher(rankOne, aliases []*types.FRNLookupEntry) *Matcher {
	return &Matcher{
		params: Params{
			FuzzyThreshold:       0.85,
			MaxEditDistance:      2,
			FuzzyMatchConfidence: 0.9,
			ConfidenceHigh:       0.75,
			ConfidenceLow:        0.5,
			GenericTerms:         []string{"BANK", "SAVINGS", "SAVINGS ACCOUNT"},
		},
		rankOne: rankOne,
		aliases: aliases,
		log:     logging.NewWithWriter("test", logging.LevelError, io.Discard),
	}
}

func cacheEntry(searchName, frn, matchType string, confidence float64) *types.FRNLookupEntry {
	return &types.FRNLookupEntry{
		SearchName:      searchName,
		CanonicalName:   searchName,
		FRN:             frn,
		MatchType:       matchType,
		ConfidenceScore: confidence,
		MatchRank:       1,
	}
}

func TestFuzzyMatchWithinDistance(t *testing.T) {
	m := newTestMatcher([]*types.FRNLookupEntry{
		cacheEntry("SHAWBROOK", "204574", types.MatchDirect, 1.0),
		cacheEntry("ALDERMORE", "204503", types.MatchDirect, 1.0),
	}, nil)

	var res Resolution
	best := m.fuzzyMatch("SHAWBROK", &res) // one deletion
	require.NotNil(t, best)
	assert.Equal(t, "204574", best.FRN)
	assert.NotEmpty(t, res.Candidates)
	// similarity 8/9 scaled by the fuzzy confidence factor
	assert.InDelta(t, (8.0/9.0)*0.9, res.Confidence, 1e-9)
}

func TestFuzzyMatchRespectsDistanceCap(t *testing.T) {
	m := newTestMatcher([]*types.FRNLookupEntry{
		cacheEntry("SHAWBROOK", "204574", types.MatchDirect, 1.0),
	}, nil)

	var res Resolution
	assert.Nil(t, m.fuzzyMatch("SHAWB", &res)) // distance 4 > cap 2
	assert.Empty(t, res.Candidates)
}

func TestFuzzyMatchIgnoresWordBoundaries(t *testing.T) {
	m := newTestMatcher([]*types.FRNLookupEntry{
		cacheEntry("OAK NORTH", "629206", types.MatchDirect, 1.0),
	}, nil)

	var res Resolution
	best := m.fuzzyMatch("OAKNORTH", &res)
	require.NotNil(t, best)
	assert.Equal(t, "629206", best.FRN)
}

func TestAliasMatchSubstringBothWays(t *testing.T) {
	m := newTestMatcher(nil, []*types.FRNLookupEntry{
		cacheEntry("GOLDMAN SACHS", "124659", types.MatchSharedBrand, 0.9),
	})

	assert.NotNil(t, m.aliasMatch("GOLDMAN SACHS INTERNATIONAL"))
	assert.NotNil(t, m.aliasMatch("GOLDMAN"))
	assert.Nil(t, m.aliasMatch("BARCLAYS"))
}

func TestClassifyConfidenceBand(t *testing.T) {
	m := newTestMatcher(nil, nil)

	res := Resolution{Confidence: 0.8}
	m.classify(&res)
	assert.Equal(t, types.FRNMatched, res.Status)

	res = Resolution{Confidence: 0.6}
	m.classify(&res)
	assert.Equal(t, types.FRNResearchQueue, res.Status)

	res = Resolution{Confidence: 0.4}
	m.classify(&res)
	assert.Equal(t, types.FRNNoMatch, res.Status)
}

func TestIsGenericTerm(t *testing.T) {
	m := newTestMatcher(nil, nil)
	assert.True(t, m.isGenericTerm("BANK"))
	assert.True(t, m.isGenericTerm("savings account"))
	assert.False(t, m.isGenericTerm("SHAWBROOK"))
}

func TestFuzzyCandidateListCapped(t *testing.T) {
	entries := []*types.FRNLookupEntry{
		cacheEntry("MARCUS1", "1", types.MatchDirect, 1.0),
		cacheEntry("MARCUS2", "2", types.MatchDirect, 1.0),
		cacheEntry("MARCUS3", "3", types.MatchDirect, 1.0),
		cacheEntry("MARCUS4", "4", types.MatchDirect, 1.0),
		cacheEntry("MARCUS5", "5", types.MatchDirect, 1.0),
		cacheEntry("MARCUS6", "6", types.MatchDirect, 1.0),
	}
	m := newTestMatcher(entries, nil)

	var res Resolution
	m.fuzzyMatch("MARCUS0", &res)
	assert.Len(t, res.Candidates, 5)
}
