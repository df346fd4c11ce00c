package stateapi

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// PropertyMap is the flat, string-keyed transport form of a record. Values
// are primitives (float64, int, bool, string) or stringified composites;
// types are restored from the owning Definition, never from string content.
type PropertyMap map[string]any

// Clone returns a shallow copy; values are immutable primitives.
func (m PropertyMap) Clone() PropertyMap {
	out := make(PropertyMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the keys sorted.
func (m PropertyMap) Keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Strings stringifies every value, for text-only transports.
func (m PropertyMap) Strings() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Stringify(v)
	}
	return out
}

// ToMap flattens the record keyed by internal field name.
func (r Record) ToMap() PropertyMap {
	out := make(PropertyMap, len(r.values))
	for name, v := range r.values {
		out[name] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case float64, int, bool, string:
		return t
	default:
		return Stringify(v)
	}
}

// Stringify renders a field value in its transport text form. Floats use
// the shortest representation that parses back to the same value.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return formatFloat(t)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case Range:
		return t.String()
	case []float64:
		return joinWith(t, formatFloat)
	case []int:
		return joinWith(t, strconv.Itoa)
	case []string:
		return joinStrings(t)
	case []Range:
		return joinWith(t, Range.String)
	default:
		if s, ok := toString(v); ok {
			return s
		}
		return ""
	}
}

// joinStrings renders a string list as a JSON array so elements keep commas
// and surrounding spaces.
func joinStrings(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(data)
}

func joinWith[T any](items []T, format func(T) string) string {
	parts := make([]string, len(items))
	for i := range items {
		parts[i] = format(items[i])
	}
	return strings.Join(parts, ",")
}

// FromMap rebuilds a record of def from a property map. Unknown keys fail
// with UnrecognisedOption and absent required fields with
// MissingRequiredField; nothing is defaulted. The restored record must also
// pass def's rules. Errors are *SerializationError.
func FromMap(def *Definition, m PropertyMap) (Record, error) {
	var issues Issues
	values := make(map[string]any, len(m))
	for _, key := range m.Keys() {
		spec, ok := def.Field(key)
		if !ok {
			issues = append(issues, Issue{Stage: def.stage, Field: key, Kind: UnrecognisedOption, Message: "key not declared by the stage schema"})
			continue
		}
		v, issue := Coerce(spec, m[key])
		if issue != nil {
			issue.Stage = def.stage
			issues = append(issues, *issue)
			continue
		}
		values[key] = v
	}
	for _, spec := range def.fields {
		if _, ok := values[spec.Name]; spec.Required && !ok {
			if _, present := m[spec.Name]; present {
				continue
			}
			issues = append(issues, Issue{Stage: def.stage, Field: spec.Name, Kind: MissingRequiredField, Message: "required field absent from property map"})
		}
	}
	if len(issues) > 0 {
		issues.Sort()
		return Record{}, &SerializationError{Stage: def.stage, Issues: issues}
	}
	rec := Record{def: def, values: values}
	if issues := rec.Validate(); len(issues) > 0 {
		return Record{}, &SerializationError{Stage: def.stage, Issues: issues}
	}
	return rec, nil
}
