// Package dedup collapses cross-platform duplicates under strict FSCS
// bank-separation rules and publishes one winner per business key.
package dedup

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ratecurve/cashpipe/internal/types"
)

// NormalizeBankKey canonicalizes a bank name for business-key purposes:
// camelCase is split, the result is uppercased, configured corporate suffixes
// are stripped to a fixed point, ampersands become AND, whitespace collapses.
func NormalizeBankKey(name string, corporateSuffixes []string) string {
	out := splitCamelCase(strings.TrimSpace(name))
	out = strings.ToUpper(out)
	out = strings.ReplaceAll(out, "&", " AND ")

	var b strings.Builder
	for _, r := range out {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	out = strings.Join(strings.Fields(b.String()), " ")

	for {
		stripped := out
		for _, suffix := range corporateSuffixes {
			s := strings.ToUpper(strings.TrimSpace(suffix))
			if s == "" {
				continue
			}
			if trimmed := strings.TrimSuffix(stripped, " "+s); trimmed != stripped {
				stripped = strings.TrimSpace(trimmed)
			}
		}
		if stripped == out {
			break
		}
		out = stripped
	}
	return out
}

func splitCamelCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// BusinessKey builds the platform-agnostic product identity. It deliberately
// excludes platform, FRN, deposit bounds, and rate: rate comparison happens
// within a key group, never in the key.
func BusinessKey(p *types.EnrichedProduct, corporateSuffixes []string) string {
	parts := []string{
		NormalizeBankKey(p.BankName, corporateSuffixes),
		string(p.AccountType),
	}
	if p.AccountType == types.AccountFixedTerm && p.TermMonths != nil {
		parts = append(parts, fmt.Sprintf("term_%d", *p.TermMonths))
	}
	if p.AccountType == types.AccountNotice && p.NoticePeriodDays != nil {
		parts = append(parts, fmt.Sprintf("notice_%d", *p.NoticePeriodDays))
	}
	return strings.Join(parts, "|")
}
