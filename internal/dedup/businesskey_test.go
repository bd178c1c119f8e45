package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ratecurve/cashpipe/internal/types"
)

var testSuffixes = []string{"LTD", "LIMITED", "PLC", "BANK"}

func TestNormalizeBankKey(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Marcus", "MARCUS"},
		{"camel case split", "GoldmanSachs", "GOLDMAN SACHS"},
		{"ampersand", "C&G Savings", "C AND G SAVINGS"},
		{"punctuation stripped", "Close Brothers, Savings.", "CLOSE BROTHERS SAVINGS"},
		{"single suffix", "Aldermore Bank", "ALDERMORE"},
		{"stacked suffixes", "Paragon Bank PLC", "PARAGON"},
		{"suffix fixed point", "Shawbrook Bank Limited", "SHAWBROOK"},
		{"whitespace collapse", "  OakNorth   Bank  ", "OAK NORTH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeBankKey(tc.in, testSuffixes))
		})
	}
}

func TestNormalizeBankKeyIdempotent(t *testing.T) {
	names := []string{"GoldmanSachs Bank Ltd", "C&G PLC", "Marcus"}
	for _, name := range names {
		once := NormalizeBankKey(name, testSuffixes)
		twice := NormalizeBankKey(once, testSuffixes)
		assert.Equal(t, once, twice, "normalizing %q twice changed the key", name)
	}
}

func TestBusinessKey(t *testing.T) {
	term := 12
	notice := 90
	rate := 4.5

	easy := &types.EnrichedProduct{}
	easy.BankName = "Marcus Bank"
	easy.AccountType = types.AccountEasyAccess
	easy.AERRate = &rate
	assert.Equal(t, "MARCUS|easy_access", BusinessKey(easy, testSuffixes))

	fixed := &types.EnrichedProduct{}
	fixed.BankName = "Marcus Bank"
	fixed.AccountType = types.AccountFixedTerm
	fixed.TermMonths = &term
	assert.Equal(t, "MARCUS|fixed_term|term_12", BusinessKey(fixed, testSuffixes))

	noticeProduct := &types.EnrichedProduct{}
	noticeProduct.BankName = "Marcus Bank"
	noticeProduct.AccountType = types.AccountNotice
	noticeProduct.NoticePeriodDays = &notice
	assert.Equal(t, "MARCUS|notice|notice_90", BusinessKey(noticeProduct, testSuffixes))
}

// The key must not change with platform, FRN, or rate: the same underlying
// product listed on two marketplaces has to collide.
func TestBusinessKeyPlatformAgnostic(t *testing.T) {
	rateA, rateB := 4.5, 4.35

	a := &types.EnrichedProduct{}
	a.BankName = "Shawbrook Bank Limited"
	a.AccountType = types.AccountEasyAccess
	a.Platform = "raisin"
	a.AERRate = &rateA
	a.FRN = "204574"

	b := &types.EnrichedProduct{}
	b.BankName = "ShawbrookBank"
	b.AccountType = types.AccountEasyAccess
	b.Platform = "hargreaves_lansdown"
	b.AERRate = &rateB

	assert.Equal(t, BusinessKey(a, testSuffixes), BusinessKey(b, testSuffixes))
}

// Term variants of the same bank must not collide.
func TestBusinessKeyTermSeparation(t *testing.T) {
	t12, t24 := 12, 24

	a := &types.EnrichedProduct{}
	a.BankName = "Paragon"
	a.AccountType = types.AccountFixedTerm
	a.TermMonths = &t12

	b := &types.EnrichedProduct{}
	b.BankName = "Paragon"
	b.AccountType = types.AccountFixedTerm
	b.TermMonths = &t24

	assert.NotEqual(t, BusinessKey(a, testSuffixes), BusinessKey(b, testSuffixes))
}
