package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// Facts is the record a rule's conditions are evaluated against. Values are
// numbers, strings, bools, or nil for absent optional fields.
type Facts map[string]any

// Event is a fired rule outcome.
type Event struct {
	Type   string
	Rule   string
	Params map[string]any
}

// condition is one leaf comparison: a fact, an operator, and a target value.
type condition struct {
	Fact     string          `json:"fact"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// conditionGroup mirrors the stored conditions document: either an "all"
// conjunction or an "any" disjunction, possibly nested.
type conditionGroup struct {
	All []json.RawMessage `json:"all"`
	Any []json.RawMessage `json:"any"`
}

type compiledRule struct {
	name      string
	priority  int
	eventType string
	params    map[string]any
	eval      func(Facts) bool
}

// Engine holds the compiled rules of one category.
type Engine struct {
	category string
	rules    []compiledRule
}

// LoadEngine fetches and compiles the enabled rules of a category. A rule
// whose conditions fail to parse is logged and skipped; the load itself only
// fails on a store error.
func LoadEngine(ctx context.Context, ops storage.Ops, category string, log *logging.Logger) (*Engine, error) {
	rows, err := ops.LoadBusinessRules(ctx, category)
	if err != nil {
		return nil, types.WrapError(types.ErrBusinessRulesFailed, "", err, "loading rules category %s", category)
	}
	return LoadEngineFromRows(rows, log)
}

// LoadEngineFromRows compiles an already-fetched rule set.
func LoadEngineFromRows(rows []storage.RuleRow, log *logging.Logger) (*Engine, error) {
	eng := &Engine{}
	for _, row := range rows {
		if eng.category == "" {
			eng.category = row.Category
		}
		r, err := compileRule(row)
		if err != nil {
			log.Warnf("skipping rule %q in %s: %v", row.Name, row.Category, err)
			continue
		}
		eng.rules = append(eng.rules, r)
	}

	sort.SliceStable(eng.rules, func(i, j int) bool {
		return eng.rules[i].priority < eng.rules[j].priority
	})
	return eng, nil
}

// Len returns the number of usable rules.
func (e *Engine) Len() int { return len(e.rules) }

// Evaluate runs every rule against the facts and returns fired events in
// priority order.
func (e *Engine) Evaluate(facts Facts) []Event {
	var fired []Event
	for _, r := range e.rules {
		if r.eval(facts) {
			fired = append(fired, Event{Type: r.eventType, Rule: r.name, Params: r.params})
		}
	}
	return fired
}

func compileRule(row storage.RuleRow) (compiledRule, error) {
	eval, err := compileConditions([]byte(row.ConditionsJSON))
	if err != nil {
		return compiledRule{}, err
	}

	params := map[string]any{}
	if strings.TrimSpace(row.EventParamsJSON) != "" {
		if err := json.Unmarshal([]byte(row.EventParamsJSON), &params); err != nil {
			return compiledRule{}, fmt.Errorf("invalid event params: %w", err)
		}
	}

	return compiledRule{
		name:      row.Name,
		priority:  row.Priority,
		eventType: row.EventType,
		params:    params,
		eval:      eval,
	}, nil
}

// compileConditions turns a conditions document into a predicate. A node is
// either a group ({"all": [...]}, {"any": [...]}) or a leaf comparison.
func compileConditions(doc []byte) (func(Facts) bool, error) {
	var group conditionGroup
	if err := json.Unmarshal(doc, &group); err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}

	switch {
	case len(group.All) > 0:
		preds, err := compileAll(group.All)
		if err != nil {
			return nil, err
		}
		return func(f Facts) bool {
			for _, p := range preds {
				if !p(f) {
					return false
				}
			}
			return true
		}, nil
	case len(group.Any) > 0:
		preds, err := compileAll(group.Any)
		if err != nil {
			return nil, err
		}
		return func(f Facts) bool {
			for _, p := range preds {
				if p(f) {
					return true
				}
			}
			return false
		}, nil
	}

	// leaf
	var leaf condition
	if err := json.Unmarshal(doc, &leaf); err != nil {
		return nil, fmt.Errorf("invalid condition leaf: %w", err)
	}
	return compileLeaf(leaf)
}

func compileAll(nodes []json.RawMessage) ([]func(Facts) bool, error) {
	preds := make([]func(Facts) bool, 0, len(nodes))
	for _, n := range nodes {
		p, err := compileConditions(n)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func compileLeaf(c condition) (func(Facts) bool, error) {
	if c.Fact == "" {
		return nil, fmt.Errorf("condition missing fact")
	}

	var target any
	if len(c.Value) > 0 {
		if err := json.Unmarshal(c.Value, &target); err != nil {
			return nil, fmt.Errorf("condition %s: invalid value: %w", c.Fact, err)
		}
	}

	switch c.Operator {
	case "equal":
		return func(f Facts) bool { return valuesEqual(f[c.Fact], target) }, nil
	case "notEqual":
		return func(f Facts) bool { return !valuesEqual(f[c.Fact], target) }, nil
	case "lessThan":
		return numericCompare(c.Fact, target, func(a, b float64) bool { return a < b })
	case "lessThanInclusive":
		return numericCompare(c.Fact, target, func(a, b float64) bool { return a <= b })
	case "greaterThan":
		return numericCompare(c.Fact, target, func(a, b float64) bool { return a > b })
	case "greaterThanInclusive":
		return numericCompare(c.Fact, target, func(a, b float64) bool { return a >= b })
	case "in":
		list, ok := target.([]any)
		if !ok {
			return nil, fmt.Errorf("condition %s: 'in' needs an array value", c.Fact)
		}
		return func(f Facts) bool { return listContains(list, f[c.Fact]) }, nil
	case "notIn":
		list, ok := target.([]any)
		if !ok {
			return nil, fmt.Errorf("condition %s: 'notIn' needs an array value", c.Fact)
		}
		return func(f Facts) bool { return !listContains(list, f[c.Fact]) }, nil
	case "isNull":
		return func(f Facts) bool { return f[c.Fact] == nil }, nil
	case "isNotNull":
		return func(f Facts) bool { return f[c.Fact] != nil }, nil
	default:
		return nil, fmt.Errorf("condition %s: unknown operator %q", c.Fact, c.Operator)
	}
}

func numericCompare(fact string, target any, cmp func(a, b float64) bool) (func(Facts) bool, error) {
	t, ok := asFloat(target)
	if !ok {
		return nil, fmt.Errorf("condition %s: comparison needs a numeric value", fact)
	}
	return func(f Facts) bool {
		v, ok := asFloat(f[fact])
		if !ok {
			return false
		}
		return cmp(v, t)
	}, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	case *int:
		if n == nil {
			return 0, false
		}
		return float64(*n), true
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func listContains(list []any, v any) bool {
	for _, item := range list {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}
