// Package rules loads category-scoped pipeline parameters and compiles
// declarative business rules from the store. There are no code defaults: a
// stage that needs a parameter names it, and a missing or mistyped value
// fails the load.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// Kind tags the runtime type of a config value.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindJSON:
		return "json"
	}
	return "string"
}

// Value is a tagged config variant. Accessors are strict: asking for the
// wrong kind is an error, never a coercion.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	raw  json.RawMessage
}

func parseValue(row storage.ConfigRow) (Value, error) {
	switch row.ValueType {
	case "number":
		f, err := strconv.ParseFloat(strings.TrimSpace(row.Value), 64)
		if err != nil {
			return Value{}, fmt.Errorf("config %s.%s: %q is not a number", row.Category, row.Key, row.Value)
		}
		return Value{kind: KindNumber, num: f}, nil
	case "boolean":
		b, err := strconv.ParseBool(strings.TrimSpace(row.Value))
		if err != nil {
			return Value{}, fmt.Errorf("config %s.%s: %q is not a boolean", row.Category, row.Key, row.Value)
		}
		return Value{kind: KindBool, b: b}, nil
	case "json":
		if !json.Valid([]byte(row.Value)) {
			return Value{}, fmt.Errorf("config %s.%s: invalid JSON", row.Category, row.Key)
		}
		return Value{kind: KindJSON, raw: json.RawMessage(row.Value)}, nil
	default:
		return Value{kind: KindString, str: row.Value}, nil
	}
}

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// Float returns a number value.
func (v Value) Float() (float64, error) {
	if v.kind != KindNumber {
		return 0, fmt.Errorf("config value is %s, not number", v.kind)
	}
	return v.num, nil
}

// Int returns a number value that must be integral.
func (v Value) Int() (int, error) {
	f, err := v.Float()
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("config value %v is not an integer", f)
	}
	return int(f), nil
}

// Bool returns a boolean value.
func (v Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("config value is %s, not boolean", v.kind)
	}
	return v.b, nil
}

// String returns a string value.
func (v Value) String() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("config value is %s, not string", v.kind)
	}
	return v.str, nil
}

// JSON unmarshals a json value into out.
func (v Value) JSON(out any) error {
	if v.kind != KindJSON {
		return fmt.Errorf("config value is %s, not json", v.kind)
	}
	return json.Unmarshal(v.raw, out)
}

// Config is one loaded category.
type Config struct {
	Category string
	values   map[string]Value
}

// LoadConfiguration fetches a category and verifies every required key is
// present and active. Any absence or type error is CONFIG_LOAD_FAILED.
func LoadConfiguration(ctx context.Context, ops storage.Ops, category string, required ...string) (*Config, error) {
	rows, err := ops.GetConfigCategory(ctx, category)
	if err != nil {
		return nil, types.WrapError(types.ErrConfigLoadFailed, "", err, "loading config category %s", category)
	}

	cfg := &Config{Category: category, values: make(map[string]Value, len(rows))}
	for _, row := range rows {
		v, err := parseValue(row)
		if err != nil {
			return nil, types.WrapError(types.ErrConfigLoadFailed, "", err, "parsing config value")
		}
		cfg.values[row.Key] = v
	}

	var missing []string
	for _, key := range required {
		if _, ok := cfg.values[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, types.NewError(types.ErrConfigLoadFailed, "",
			"config category %s missing required keys: %s", category, strings.Join(missing, ", "))
	}
	return cfg, nil
}

func (c *Config) get(key string) (Value, error) {
	v, ok := c.values[key]
	if !ok {
		return Value{}, types.NewError(types.ErrConfigLoadFailed, "",
			"config %s.%s not found", c.Category, key)
	}
	return v, nil
}

// Has reports whether the key is present.
func (c *Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Float returns a required number parameter.
func (c *Config) Float(key string) (float64, error) {
	v, err := c.get(key)
	if err != nil {
		return 0, err
	}
	f, err := v.Float()
	if err != nil {
		return 0, fmt.Errorf("config %s.%s: %w", c.Category, key, err)
	}
	return f, nil
}

// Int returns a required integral parameter.
func (c *Config) Int(key string) (int, error) {
	v, err := c.get(key)
	if err != nil {
		return 0, err
	}
	i, err := v.Int()
	if err != nil {
		return 0, fmt.Errorf("config %s.%s: %w", c.Category, key, err)
	}
	return i, nil
}

// Bool returns a required boolean parameter.
func (c *Config) Bool(key string) (bool, error) {
	v, err := c.get(key)
	if err != nil {
		return false, err
	}
	b, err := v.Bool()
	if err != nil {
		return false, fmt.Errorf("config %s.%s: %w", c.Category, key, err)
	}
	return b, nil
}

// String returns a required string parameter.
func (c *Config) String(key string) (string, error) {
	v, err := c.get(key)
	if err != nil {
		return "", err
	}
	s, err := v.String()
	if err != nil {
		return "", fmt.Errorf("config %s.%s: %w", c.Category, key, err)
	}
	return s, nil
}

// JSON unmarshals a required json parameter into out.
func (c *Config) JSON(key string, out any) error {
	v, err := c.get(key)
	if err != nil {
		return err
	}
	if err := v.JSON(out); err != nil {
		return fmt.Errorf("config %s.%s: %w", c.Category, key, err)
	}
	return nil
}

// StringList unmarshals a json parameter that holds an array of strings.
func (c *Config) StringList(key string) ([]string, error) {
	var out []string
	if err := c.JSON(key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FloatMap unmarshals a json parameter that holds a string-to-number map.
func (c *Config) FloatMap(key string) (map[string]float64, error) {
	out := make(map[string]float64)
	if err := c.JSON(key, &out); err != nil {
		return nil, err
	}
	return out, nil
}
