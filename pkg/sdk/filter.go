package sdk

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpIn  Op = "in"
)

// TimeLayout is the fixed-width UTC layout timestamps are stored in, so that
// lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Filter is a single predicate over a top-level document field.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Validate reports whether the filter can be evaluated.
func (f Filter) Validate() error {
	if strings.TrimSpace(f.Field) == "" {
		return fmt.Errorf("%w: filter field is required", ErrInvalidArgument)
	}
	switch f.Op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return nil
	case OpIn:
		if _, ok := NormalizeValue(f.Value).([]any); !ok {
			return fmt.Errorf("%w: %q filter needs a list value", ErrInvalidArgument, OpIn)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown filter operator %q", ErrInvalidArgument, f.Op)
	}
}

// Match reports whether data satisfies the filter. Documents missing the
// field never match, whatever the operator.
func (f Filter) Match(data map[string]any) bool {
	got, ok := data[f.Field]
	if !ok {
		return false
	}
	got = NormalizeValue(got)
	want := NormalizeValue(f.Value)

	switch f.Op {
	case OpEq:
		return equal(got, want)
	case OpNe:
		return !equal(got, want)
	case OpIn:
		list, _ := want.([]any)
		for _, candidate := range list {
			if equal(got, candidate) {
				return true
			}
		}
		return false
	}

	c, ok := compare(got, want)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// MatchAll reports whether data satisfies every filter.
func MatchAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(data) {
			return false
		}
	}
	return true
}

// NormalizeValue maps a Go value onto the shapes a JSON round trip produces,
// so that values written in-process and values read back from disk or the
// wire compare the same way.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return v
	case time.Time:
		return t.UTC().Format(TimeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(TimeLayout)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if n, err := t.Float64(); err == nil {
			return n
		}
		return t.String()
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			if x == y {
				return 0, true
			}
			if !x {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}
