package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratecurve/cashpipe/internal/storage"
)

func mustCompile(t *testing.T, row storage.RuleRow) compiledRule {
	t.Helper()
	r, err := compileRule(row)
	require.NoError(t, err)
	return r
}

func TestLeafOperators(t *testing.T) {
	cases := []struct {
		name       string
		conditions string
		facts      Facts
		want       bool
	}{
		{"equal string", `{"fact":"platform","operator":"equal","value":"raisin"}`,
			Facts{"platform": "raisin"}, true},
		{"equal mismatch", `{"fact":"platform","operator":"equal","value":"raisin"}`,
			Facts{"platform": "flagstone"}, false},
		{"notEqual", `{"fact":"platform","operator":"notEqual","value":"raisin"}`,
			Facts{"platform": "flagstone"}, true},
		{"lessThan", `{"fact":"aer_rate","operator":"lessThan","value":1.0}`,
			Facts{"aer_rate": 0.5}, true},
		{"lessThan missing fact", `{"fact":"aer_rate","operator":"lessThan","value":1.0}`,
			Facts{}, false},
		{"greaterThanInclusive", `{"fact":"aer_rate","operator":"greaterThanInclusive","value":4.5}`,
			Facts{"aer_rate": 4.5}, true},
		{"int fact against float target", `{"fact":"term_months","operator":"greaterThan","value":11.5}`,
			Facts{"term_months": 12}, true},
		{"in", `{"fact":"account_type","operator":"in","value":["notice","fixed_term"]}`,
			Facts{"account_type": "notice"}, true},
		{"notIn", `{"fact":"account_type","operator":"notIn","value":["notice"]}`,
			Facts{"account_type": "easy_access"}, true},
		{"isNull", `{"fact":"aer_rate","operator":"isNull"}`,
			Facts{"aer_rate": nil}, true},
		{"isNotNull", `{"fact":"aer_rate","operator":"isNotNull"}`,
			Facts{"aer_rate": 4.5}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred, err := compileConditions([]byte(tc.conditions))
			require.NoError(t, err)
			assert.Equal(t, tc.want, pred(tc.facts))
		})
	}
}

func TestNestedGroups(t *testing.T) {
	doc := `{"all":[
		{"fact":"account_type","operator":"equal","value":"fixed_term"},
		{"any":[
			{"fact":"term_months","operator":"greaterThan","value":60},
			{"fact":"aer_rate","operator":"lessThan","value":0.5}
		]}
	]}`
	pred, err := compileConditions([]byte(doc))
	require.NoError(t, err)

	assert.True(t, pred(Facts{"account_type": "fixed_term", "term_months": 72, "aer_rate": 4.0}))
	assert.True(t, pred(Facts{"account_type": "fixed_term", "term_months": 12, "aer_rate": 0.1}))
	assert.False(t, pred(Facts{"account_type": "fixed_term", "term_months": 12, "aer_rate": 4.0}))
	assert.False(t, pred(Facts{"account_type": "easy_access", "term_months": 72, "aer_rate": 0.1}))
}

func TestCompileErrors(t *testing.T) {
	bad := []string{
		`{"fact":"x","operator":"frobnicate","value":1}`,
		`{"operator":"equal","value":1}`,
		`{"fact":"x","operator":"lessThan","value":"not a number"}`,
		`{"fact":"x","operator":"in","value":42}`,
		`not json at all`,
	}
	for _, doc := range bad {
		_, err := compileConditions([]byte(doc))
		assert.Error(t, err, "expected compile failure for %s", doc)
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	low := mustCompile(t, storage.RuleRow{
		Name: "reject-low-rate", Priority: 20, EventType: "reject_product",
		ConditionsJSON: `{"fact":"aer_rate","operator":"lessThan","value":1.0}`,
	})
	high := mustCompile(t, storage.RuleRow{
		Name: "flag-missing-fields", Priority: 10, EventType: "flag_validation_error",
		ConditionsJSON: `{"fact":"required_fields_complete","operator":"equal","value":false}`,
	})

	// priority sorting happens in LoadEngine; mirror it here
	eng := &Engine{category: "ingestion", rules: []compiledRule{high, low}}
	events := eng.Evaluate(Facts{"aer_rate": 0.5, "required_fields_complete": false})

	require.Len(t, events, 2)
	assert.Equal(t, "flag-missing-fields", events[0].Rule)
	assert.Equal(t, "reject-low-rate", events[1].Rule)
}

func TestEventParamsPassthrough(t *testing.T) {
	r := mustCompile(t, storage.RuleRow{
		Name: "reject-suspicious", Priority: 1, EventType: "reject_product",
		ConditionsJSON:  `{"fact":"aer_rate","operator":"greaterThan","value":25}`,
		EventParamsJSON: `{"message":"rate implausibly high"}`,
	})
	eng := &Engine{rules: []compiledRule{r}}

	events := eng.Evaluate(Facts{"aer_rate": 30.0})
	require.Len(t, events, 1)
	assert.Equal(t, "rate implausibly high", events[0].Params["message"])
}
