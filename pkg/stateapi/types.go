package stateapi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StageKey identifies one logical segment of a reduction configuration.
type StageKey string

// Known stage keys.
const (
	StageData          StageKey = "data"
	StageMove          StageKey = "move"
	StageMask          StageKey = "mask"
	StageWavelength    StageKey = "wavelength"
	StageAdjustment    StageKey = "adjustment"
	StageConvertToQ    StageKey = "convert_to_q"
	StageReductionMode StageKey = "reduction_mode"
	StageScale         StageKey = "scale"
	StageSlice         StageKey = "slice"
	StageSave          StageKey = "save"
)

// String returns the stage key as a string.
func (s StageKey) String() string { return string(s) }

// Kind is the semantic type of a field.
type Kind string

// Supported field kinds.
const (
	KindFloat      Kind = "float"
	KindInt        Kind = "int"
	KindBool       Kind = "bool"
	KindString     Kind = "string"
	KindEnum       Kind = "enum"
	KindRange      Kind = "range"
	KindFloatList  Kind = "float_list"
	KindIntList    Kind = "int_list"
	KindStringList Kind = "string_list"
	KindRangeList  Kind = "range_list"
)

func (k Kind) known() bool {
	switch k {
	case KindFloat, KindInt, KindBool, KindString, KindEnum, KindRange,
		KindFloatList, KindIntList, KindStringList, KindRangeList:
		return true
	}
	return false
}

func (k Kind) numeric() bool {
	switch k {
	case KindFloat, KindInt, KindRange, KindFloatList, KindIntList, KindRangeList:
		return true
	}
	return false
}

// VariantKey identifies the facility/instrument pair a stage definition
// belongs to.
type VariantKey struct {
	Facility   string `json:"facility"`
	Instrument string `json:"instrument"`
}

// String renders the key as FACILITY/INSTRUMENT.
func (v VariantKey) String() string {
	return fmt.Sprintf("%s/%s", v.Facility, v.Instrument)
}

// Matches reports whether the key selects the given facility and instrument,
// ignoring case and surrounding whitespace.
func (v VariantKey) Matches(facility, instrument string) bool {
	return strings.EqualFold(strings.TrimSpace(v.Facility), strings.TrimSpace(facility)) &&
		strings.EqualFold(strings.TrimSpace(v.Instrument), strings.TrimSpace(instrument))
}

// Bound is one side of a numeric constraint.
type Bound struct {
	Value     float64
	Exclusive bool
}

// Inclusive returns an inclusive bound.
func Inclusive(v float64) *Bound { return &Bound{Value: v} }

// Exclusive returns an exclusive bound.
func Exclusive(v float64) *Bound { return &Bound{Value: v, Exclusive: true} }

// Range is a closed numeric interval, serialized as "low:high".
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// String formats the range using the shortest exact float representation.
func (r Range) String() string {
	return formatFloat(r.Low) + ":" + formatFloat(r.High)
}

// Contains reports whether v lies in [Low, High].
func (r Range) Contains(v float64) bool { return v >= r.Low && v <= r.High }

func (r Range) finite() bool {
	return !math.IsNaN(r.Low) && !math.IsNaN(r.High) && !math.IsInf(r.Low, 0) && !math.IsInf(r.High, 0)
}

// ParseRange parses "low:high". A single number yields a degenerate range.
// NaN and infinite ends are rejected.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, fmt.Errorf("empty range")
	}
	lowText, highText, found := strings.Cut(s, ":")
	low, err := strconv.ParseFloat(strings.TrimSpace(lowText), 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q", s)
	}
	high := low
	if found {
		if high, err = strconv.ParseFloat(strings.TrimSpace(highText), 64); err != nil {
			return Range{}, fmt.Errorf("invalid range %q", s)
		}
	}
	r := Range{Low: low, High: high}
	if !r.finite() {
		return Range{}, fmt.Errorf("range %q is not finite", s)
	}
	return r, nil
}

// FieldSpec declares a single named, typed, optionally bounded field.
type FieldSpec struct {
	Name     string
	Kind     Kind
	Lower    *Bound
	Upper    *Bound
	Enum     []string
	Default  any
	Required bool
	// Derived fields are computed at build time and have no external name.
	Derived bool
	Doc     string
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
