package stateapi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field holds the current value of one FieldSpec. A Field is either unset or
// holds a value that satisfies its spec; Set never leaves a partial write.
type Field struct {
	spec  FieldSpec
	value any
	set   bool
}

// NewField constructs a field and applies the spec default, if any.
func NewField(spec FieldSpec) (*Field, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("stateapi: field name required")
	}
	if !spec.Kind.known() {
		return nil, fmt.Errorf("stateapi: field %s has unsupported kind %q", spec.Name, spec.Kind)
	}
	if spec.Kind == KindEnum && len(spec.Enum) == 0 {
		return nil, fmt.Errorf("stateapi: enum field %s declares no members", spec.Name)
	}
	if (spec.Lower != nil || spec.Upper != nil) && !spec.Kind.numeric() {
		return nil, fmt.Errorf("stateapi: field %s of kind %s cannot declare bounds", spec.Name, spec.Kind)
	}
	f := &Field{spec: cloneSpec(spec)}
	if spec.Default != nil {
		if err := f.Set(spec.Default); err != nil {
			return nil, fmt.Errorf("stateapi: field %s default: %w", spec.Name, err)
		}
	}
	return f, nil
}

// Spec returns the field declaration.
func (f *Field) Spec() FieldSpec { return cloneSpec(f.spec) }

// Name returns the internal field name.
func (f *Field) Name() string { return f.spec.Name }

// Set coerces raw to the declared kind and stores it. On failure the previous
// value is kept and an *Issue of kind TypeMismatch, OutOfBounds or
// InvalidEnum is returned.
func (f *Field) Set(raw any) error {
	v, issue := Coerce(f.spec, raw)
	if issue != nil {
		return issue
	}
	f.value = v
	f.set = true
	return nil
}

// Get returns a copy of the current value.
func (f *Field) Get() (any, bool) {
	if !f.set {
		return nil, false
	}
	return cloneValue(f.value), true
}

// HasValue reports whether the field holds a value.
func (f *Field) HasValue() bool { return f.set }

// Clear unsets the field. Defaults are not re-applied.
func (f *Field) Clear() {
	f.value = nil
	f.set = false
}

func (f *Field) clone() *Field {
	return &Field{spec: f.spec, value: cloneValue(f.value), set: f.set}
}

// Coerce converts raw into the canonical Go representation for spec.Kind and
// checks bounds and enumeration membership:
//
//	float -> float64, int -> int, bool -> bool, string/enum -> string,
//	range -> Range, *_list -> []float64, []int, []string, []Range.
func Coerce(spec FieldSpec, raw any) (any, *Issue) {
	if raw == nil {
		return nil, NewIssue(spec.Name, TypeMismatch, "value cannot be null")
	}
	switch spec.Kind {
	case KindFloat:
		v, ok := toFloat(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects number, got %T", raw)
		}
		if issue := checkBounds(spec, v); issue != nil {
			return nil, issue
		}
		return v, nil
	case KindInt:
		v, ok := toInt(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects integer, got %v", raw)
		}
		if issue := checkBounds(spec, float64(v)); issue != nil {
			return nil, issue
		}
		return v, nil
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, NewIssue(spec.Name, TypeMismatch, "expects boolean, got %q", v)
			}
			return parsed, nil
		default:
			return nil, NewIssue(spec.Name, TypeMismatch, "expects boolean, got %T", raw)
		}
	case KindString:
		s, ok := toString(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects string, got %T", raw)
		}
		if len(spec.Enum) > 0 {
			return canonicalEnum(spec, s)
		}
		return s, nil
	case KindEnum:
		s, ok := toString(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects one of %s, got %T", strings.Join(spec.Enum, ", "), raw)
		}
		return canonicalEnum(spec, s)
	case KindRange:
		r, ok := toRange(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects range low:high, got %v", raw)
		}
		if issue := checkRange(spec, r); issue != nil {
			return nil, issue
		}
		return r, nil
	case KindFloatList:
		items, ok := toItems(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects list of numbers, got %T", raw)
		}
		out := make([]float64, 0, len(items))
		for _, item := range items {
			v, ok := toFloat(item)
			if !ok {
				return nil, NewIssue(spec.Name, TypeMismatch, "expects list of numbers, got element %v", item)
			}
			if issue := checkBounds(spec, v); issue != nil {
				return nil, issue
			}
			out = append(out, v)
		}
		return out, nil
	case KindIntList:
		items, ok := toItems(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects list of integers, got %T", raw)
		}
		out := make([]int, 0, len(items))
		for _, item := range items {
			v, ok := toInt(item)
			if !ok {
				return nil, NewIssue(spec.Name, TypeMismatch, "expects list of integers, got element %v", item)
			}
			if issue := checkBounds(spec, float64(v)); issue != nil {
				return nil, issue
			}
			out = append(out, v)
		}
		return out, nil
	case KindStringList:
		items, ok := toItems(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects list of strings, got %T", raw)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := toString(item)
			if !ok {
				return nil, NewIssue(spec.Name, TypeMismatch, "expects list of strings, got element %v", item)
			}
			if len(spec.Enum) > 0 {
				canonical, issue := canonicalEnum(spec, s)
				if issue != nil {
					return nil, issue
				}
				s = canonical.(string)
			}
			out = append(out, s)
		}
		return out, nil
	case KindRangeList:
		items, ok := toRangeItems(raw)
		if !ok {
			return nil, NewIssue(spec.Name, TypeMismatch, "expects list of ranges, got %T", raw)
		}
		out := make([]Range, 0, len(items))
		for _, item := range items {
			r, ok := toRange(item)
			if !ok {
				return nil, NewIssue(spec.Name, TypeMismatch, "expects list of ranges, got element %v", item)
			}
			if issue := checkRange(spec, r); issue != nil {
				return nil, issue
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return nil, NewIssue(spec.Name, TypeMismatch, "unsupported kind %q", spec.Kind)
	}
}

func canonicalEnum(spec FieldSpec, s string) (any, *Issue) {
	trimmed := strings.TrimSpace(s)
	for _, member := range spec.Enum {
		if strings.EqualFold(member, trimmed) {
			return member, nil
		}
	}
	return nil, NewIssue(spec.Name, InvalidEnum, "%q is not one of: %s", s, strings.Join(spec.Enum, ", "))
}

func checkBounds(spec FieldSpec, v float64) *Issue {
	if lo := spec.Lower; lo != nil {
		if v < lo.Value || (lo.Exclusive && v == lo.Value) {
			return NewIssue(spec.Name, OutOfBounds, "%s is below the %s lower bound %s", formatFloat(v), boundWord(lo), formatFloat(lo.Value))
		}
	}
	if hi := spec.Upper; hi != nil {
		if v > hi.Value || (hi.Exclusive && v == hi.Value) {
			return NewIssue(spec.Name, OutOfBounds, "%s is above the %s upper bound %s", formatFloat(v), boundWord(hi), formatFloat(hi.Value))
		}
	}
	return nil
}

func checkRange(spec FieldSpec, r Range) *Issue {
	if r.Low > r.High {
		return NewIssue(spec.Name, OutOfBounds, "range %s has low above high", r)
	}
	if issue := checkBounds(spec, r.Low); issue != nil {
		return issue
	}
	return checkBounds(spec, r.High)
}

func boundWord(b *Bound) string {
	if b.Exclusive {
		return "exclusive"
	}
	return "inclusive"
}

func toFloat(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case int32:
		v = float64(n)
	case uint:
		v = float64(n)
	case uint64:
		v = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func toInt(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case int32:
		return int(n), true
	case uint:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float64:
		return floatToInt(n)
	case float32:
		return floatToInt(float64(n))
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// floatToInt accepts integral values that fit in int. float64(math.MaxInt)
// rounds up to 2^63, so the upper check is exclusive.
func floatToInt(n float64) (int, bool) {
	if n != math.Trunc(n) || math.IsInf(n, 0) || n < math.MinInt || n >= math.MaxInt {
		return 0, false
	}
	return int(n), true
}

func toString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

// toRange accepts the range shapes users and transports produce. Both ends
// must be finite.
func toRange(raw any) (Range, bool) {
	r, ok := rangeOf(raw)
	if !ok || !r.finite() {
		return Range{}, false
	}
	return r, true
}

func rangeOf(raw any) (Range, bool) {
	switch v := raw.(type) {
	case Range:
		return v, true
	case *Range:
		if v == nil {
			return Range{}, false
		}
		return *v, true
	case string:
		r, err := ParseRange(v)
		return r, err == nil
	case [2]float64:
		return Range{Low: v[0], High: v[1]}, true
	case []float64:
		if len(v) != 2 {
			return Range{}, false
		}
		return Range{Low: v[0], High: v[1]}, true
	case []any:
		if len(v) != 2 {
			return Range{}, false
		}
		low, okLow := toFloat(v[0])
		high, okHigh := toFloat(v[1])
		return Range{Low: low, High: high}, okLow && okHigh
	case map[string]any:
		low, okLow := toFloat(v["low"])
		high, okHigh := toFloat(v["high"])
		return Range{Low: low, High: high}, okLow && okHigh
	default:
		return Range{}, false
	}
}

// toItems flattens list-shaped input. A string holding a JSON array is
// decoded as such; other strings are split on commas and an empty string is
// an empty list.
func toItems(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return []any{}, true
		}
		if strings.HasPrefix(trimmed, "[") {
			var items []any
			if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
				if items == nil {
					items = []any{}
				}
				return items, true
			}
		}
		parts := strings.Split(v, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, true
	case []any:
		return v, true
	case []float64:
		return liftSlice(v), true
	case []int:
		return liftSlice(v), true
	case []string:
		return liftSlice(v), true
	default:
		return nil, false
	}
}

func toRangeItems(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []Range:
		return liftSlice(v), true
	case []string:
		return liftSlice(v), true
	case []any:
		return v, true
	case string:
		return toItems(v)
	default:
		return nil, false
	}
}

func liftSlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}

func cloneSpec(spec FieldSpec) FieldSpec {
	out := spec
	if spec.Lower != nil {
		lo := *spec.Lower
		out.Lower = &lo
	}
	if spec.Upper != nil {
		hi := *spec.Upper
		out.Upper = &hi
	}
	if len(spec.Enum) > 0 {
		out.Enum = append([]string(nil), spec.Enum...)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []float64:
		return append([]float64{}, t...)
	case []int:
		return append([]int{}, t...)
	case []string:
		return append([]string{}, t...)
	case []Range:
		return append([]Range{}, t...)
	default:
		return v
	}
}
