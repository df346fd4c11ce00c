package stateapi

import (
	"reflect"
)

// Record is an immutable snapshot of one stage. Records are safe for
// concurrent read-only use; getters return copies of composite values.
type Record struct {
	def    *Definition
	values map[string]any
}

// IsZero reports whether the record was never populated by a definition.
func (r Record) IsZero() bool { return r.def == nil }

// Definition returns the schema the record was built against.
func (r Record) Definition() *Definition { return r.def }

// Stage returns the stage key.
func (r Record) Stage() StageKey {
	if r.def == nil {
		return ""
	}
	return r.def.stage
}

// Variant returns the facility/instrument key.
func (r Record) Variant() VariantKey {
	if r.def == nil {
		return VariantKey{}
	}
	return r.def.variant
}

// Has reports whether the field holds a value.
func (r Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Get returns a copy of the field value.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Names returns the set fields in declaration order.
func (r Record) Names() []string {
	if r.def == nil {
		return nil
	}
	out := make([]string, 0, len(r.values))
	for _, spec := range r.def.fields {
		if _, ok := r.values[spec.Name]; ok {
			out = append(out, spec.Name)
		}
	}
	return out
}

// Float returns a float field.
func (r Record) Float(name string) (float64, bool) { return typed[float64](r, name) }

// Int returns an int field.
func (r Record) Int(name string) (int, bool) { return typed[int](r, name) }

// Bool returns a bool field.
func (r Record) Bool(name string) (bool, bool) { return typed[bool](r, name) }

// Text returns a string or enum field.
func (r Record) Text(name string) (string, bool) { return typed[string](r, name) }

// Range returns a range field.
func (r Record) Range(name string) (Range, bool) { return typed[Range](r, name) }

// FloatList returns a copy of a float list field.
func (r Record) FloatList(name string) ([]float64, bool) { return typed[[]float64](r, name) }

// IntList returns a copy of an int list field.
func (r Record) IntList(name string) ([]int, bool) { return typed[[]int](r, name) }

// StringList returns a copy of a string list field.
func (r Record) StringList(name string) ([]string, bool) { return typed[[]string](r, name) }

// RangeList returns a copy of a range list field.
func (r Record) RangeList(name string) ([]Range, bool) { return typed[[]Range](r, name) }

func typed[T any](r Record, name string) (T, bool) {
	var zero T
	v, ok := r.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Validate checks required fields and the definition's rules. It is pure:
// repeated calls return equal results and never mutate the record.
func (r Record) Validate() Issues {
	if r.def == nil {
		return Issues{{Kind: MissingRequiredField, Message: "record has no definition"}}
	}
	var issues Issues
	for _, spec := range r.def.fields {
		if spec.Required && !r.Has(spec.Name) {
			issues = append(issues, Issue{
				Stage:   r.def.stage,
				Field:   spec.Name,
				Kind:    MissingRequiredField,
				Message: "required field missing",
			})
		}
	}
	for _, rule := range r.def.rules {
		for _, issue := range rule.Check(r) {
			if issue.Kind == "" {
				issue.Kind = InterStageConstraintViolated
			}
			if issue.Stage == "" {
				issue.Stage = r.def.stage
			}
			issues = append(issues, issue)
		}
	}
	issues.Sort()
	return issues
}

// Equal reports value equality: same stage, same variant, same field values.
func (r Record) Equal(other Record) bool {
	if r.Stage() != other.Stage() || r.Variant() != other.Variant() {
		return false
	}
	if len(r.values) != len(other.values) {
		return false
	}
	for k, v := range r.values {
		ov, ok := other.values[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}
