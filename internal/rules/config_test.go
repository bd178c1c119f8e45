package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratecurve/cashpipe/internal/storage"
)

func configFromRows(t *testing.T, rows ...storage.ConfigRow) *Config {
	t.Helper()
	cfg := &Config{Category: "test", values: map[string]Value{}}
	for _, row := range rows {
		v, err := parseValue(row)
		require.NoError(t, err)
		cfg.values[row.Key] = v
	}
	return cfg
}

func TestParseValueKinds(t *testing.T) {
	num, err := parseValue(storage.ConfigRow{Key: "x", Value: "0.85", ValueType: "number"})
	require.NoError(t, err)
	assert.Equal(t, KindNumber, num.Kind())

	b, err := parseValue(storage.ConfigRow{Key: "x", Value: "true", ValueType: "boolean"})
	require.NoError(t, err)
	assert.Equal(t, KindBool, b.Kind())

	j, err := parseValue(storage.ConfigRow{Key: "x", Value: `["a","b"]`, ValueType: "json"})
	require.NoError(t, err)
	assert.Equal(t, KindJSON, j.Kind())

	s, err := parseValue(storage.ConfigRow{Key: "x", Value: "hello", ValueType: "string"})
	require.NoError(t, err)
	assert.Equal(t, KindString, s.Kind())
}

func TestParseValueRejectsMalformed(t *testing.T) {
	_, err := parseValue(storage.ConfigRow{Key: "x", Value: "not a number", ValueType: "number"})
	assert.Error(t, err)

	_, err = parseValue(storage.ConfigRow{Key: "x", Value: "maybe", ValueType: "boolean"})
	assert.Error(t, err)

	_, err = parseValue(storage.ConfigRow{Key: "x", Value: "{broken", ValueType: "json"})
	assert.Error(t, err)
}

// Accessors are strict: asking for the wrong kind is an error, never a
// coercion.
func TestStrictAccessors(t *testing.T) {
	cfg := configFromRows(t,
		storage.ConfigRow{Key: "threshold", Value: "0.85", ValueType: "number"},
		storage.ConfigRow{Key: "enabled", Value: "true", ValueType: "boolean"},
		storage.ConfigRow{Key: "terms", Value: `["BANK","SAVINGS"]`, ValueType: "json"},
		storage.ConfigRow{Key: "label", Value: "direct", ValueType: "string"},
	)

	f, err := cfg.Float("threshold")
	require.NoError(t, err)
	assert.Equal(t, 0.85, f)

	_, err = cfg.Float("label")
	assert.Error(t, err)

	_, err = cfg.Bool("threshold")
	assert.Error(t, err)

	_, err = cfg.String("enabled")
	assert.Error(t, err)

	terms, err := cfg.StringList("terms")
	require.NoError(t, err)
	assert.Equal(t, []string{"BANK", "SAVINGS"}, terms)
}

func TestIntRequiresIntegral(t *testing.T) {
	cfg := configFromRows(t,
		storage.ConfigRow{Key: "max_distance", Value: "2", ValueType: "number"},
		storage.ConfigRow{Key: "fractional", Value: "2.5", ValueType: "number"},
	)

	i, err := cfg.Int("max_distance")
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	_, err = cfg.Int("fractional")
	assert.Error(t, err)
}

func TestFloatMap(t *testing.T) {
	cfg := configFromRows(t,
		storage.ConfigRow{Key: "floors", Value: `{"easy_access":3.5,"notice":3.8}`, ValueType: "json"},
	)
	m, err := cfg.FloatMap("floors")
	require.NoError(t, err)
	assert.Equal(t, 3.5, m["easy_access"])
	assert.Equal(t, 3.8, m["notice"])
}

func TestMissingKey(t *testing.T) {
	cfg := configFromRows(t)
	_, err := cfg.Float("absent")
	assert.Error(t, err)
	assert.False(t, cfg.Has("absent"))
}
