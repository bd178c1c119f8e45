// Package frn resolves scraped bank names to Firm Reference Numbers through
// a precomputed lookup cache with exact, fuzzy, and alias resolution paths.
package frn

import (
	"strings"
	"unicode"
)

// NormalizationConfig holds the configured name-rewriting vocabulary. It
// lives in the store (category frn_matching), never in code.
type NormalizationConfig struct {
	Prefixes      []string
	Suffixes      []string
	Abbreviations map[string]string
}

// NormalizeBankName canonicalizes a scraped bank name: uppercase, strip
// non-alphanumerics, drop configured prefixes, strip configured suffixes to
// a fixed point, expand configured abbreviations. The returned steps list
// records each rewrite for the audit trail.
func NormalizeBankName(name string, cfg NormalizationConfig) (string, []string) {
	var steps []string

	out := strings.ToUpper(strings.TrimSpace(name))
	steps = append(steps, "uppercase")

	out = stripNonAlphanumeric(out)
	steps = append(steps, "strip_punctuation")

	for _, prefix := range cfg.Prefixes {
		p := strings.ToUpper(prefix)
		if trimmed := strings.TrimPrefix(out, p+" "); trimmed != out {
			out = strings.TrimSpace(trimmed)
			steps = append(steps, "strip_prefix:"+p)
		}
	}

	for {
		stripped := out
		for _, suffix := range cfg.Suffixes {
			s := strings.ToUpper(suffix)
			if trimmed := strings.TrimSuffix(stripped, " "+s); trimmed != stripped {
				stripped = strings.TrimSpace(trimmed)
				steps = append(steps, "strip_suffix:"+s)
			}
		}
		if stripped == out {
			break
		}
		out = stripped
	}

	if len(cfg.Abbreviations) > 0 {
		words := strings.Fields(out)
		changed := false
		for i, w := range words {
			if full, ok := lookupFold(cfg.Abbreviations, w); ok {
				words[i] = strings.ToUpper(full)
				changed = true
			}
		}
		if changed {
			out = strings.Join(words, " ")
			steps = append(steps, "expand_abbreviations")
		}
	}

	return strings.TrimSpace(out), steps
}

func stripNonAlphanumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func lookupFold(m map[string]string, key string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
