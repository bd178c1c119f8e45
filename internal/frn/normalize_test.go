package frn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testNormConfig() NormalizationConfig {
	return NormalizationConfig{
		Prefixes: []string{"The"},
		Suffixes: []string{"Ltd", "Limited", "PLC", "Bank"},
		Abbreviations: map[string]string{
			"BLDG": "Building",
			"SOC":  "Society",
		},
	}
}

func TestNormalizeBankName(t *testing.T) {
	cfg := testNormConfig()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"uppercase", "marcus", "MARCUS"},
		{"punctuation", "Close Brothers, Savings.", "CLOSE BROTHERS SAVINGS"},
		{"prefix", "The Co-operative", "COOPERATIVE"},
		{"single suffix", "Aldermore Bank", "ALDERMORE"},
		{"stacked suffixes", "Shawbrook Bank Limited", "SHAWBROOK"},
		{"abbreviations", "Coventry Bldg Soc", "COVENTRY BUILDING SOCIETY"},
		{"whitespace", "  OakNorth  ", "OAKNORTH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := NormalizeBankName(tc.in, cfg)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeBankNameIdempotent(t *testing.T) {
	cfg := testNormConfig()
	names := []string{"The Shawbrook Bank Limited", "Coventry Bldg Soc", "marcus"}
	for _, name := range names {
		once, _ := NormalizeBankName(name, cfg)
		twice, _ := NormalizeBankName(once, cfg)
		assert.Equal(t, once, twice, "normalizing %q twice changed the result", name)
	}
}

func TestNormalizeBankNameSteps(t *testing.T) {
	cfg := testNormConfig()
	_, steps := NormalizeBankName("The Paragon Bank PLC", cfg)

	assert.Contains(t, steps, "uppercase")
	assert.Contains(t, steps, "strip_prefix:THE")
	assert.Contains(t, steps, "strip_suffix:PLC")
	assert.Contains(t, steps, "strip_suffix:BANK")
}

func TestNormalizeBankNameEmpty(t *testing.T) {
	got, _ := NormalizeBankName("  .,! ", testNormConfig())
	assert.Equal(t, "", got)
}
