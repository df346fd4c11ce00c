package stateapi

import (
	"context"
	"errors"
	"testing"
)

func testDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewDefinition(DefinitionConfig{
		Stage:   StageWavelength,
		Variant: VariantKey{Facility: "ISIS", Instrument: "LOQ"},
		Fields: []FieldSpec{
			{Name: "wavelength_low", Kind: KindFloat, Lower: Exclusive(0), Required: true},
			{Name: "wavelength_high", Kind: KindFloat, Lower: Exclusive(0), Required: true},
			{Name: "wavelength_step", Kind: KindFloat, Lower: Exclusive(0)},
			{Name: "wavelength_step_type", Kind: KindEnum, Enum: []string{"LIN", "LOG"}, Default: "LIN"},
			{Name: "ranges", Kind: KindRangeList},
			{Name: "bin_count", Kind: KindInt, Derived: true},
		},
		Params: []ParamMapEntry{
			{External: "low", Internal: "wavelength_low"},
			{External: "high", Internal: "wavelength_high"},
			{External: "step", Internal: "wavelength_step"},
			{External: "step_type", Internal: "wavelength_step_type"},
			{External: "ranges", Internal: "ranges", Optional: true},
		},
		Rules: []Rule{{
			Name: "ordered",
			Check: func(r Record) Issues {
				low, okLow := r.Float("wavelength_low")
				high, okHigh := r.Float("wavelength_high")
				if okLow && okHigh && low >= high {
					return Issues{{Message: "low must be < high"}}
				}
				return nil
			},
		}},
	})
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	return def
}

func snapshot(t *testing.T, def *Definition, values map[string]any) Record {
	t.Helper()
	fields := def.NewFields()
	for _, f := range fields {
		if v, ok := values[f.Name()]; ok {
			if err := f.Set(v); err != nil {
				t.Fatalf("set %s: %v", f.Name(), err)
			}
		}
	}
	return def.Snapshot(fields)
}

func TestNewDefinitionRejectsInconsistentSchemas(t *testing.T) {
	base := func() DefinitionConfig {
		return DefinitionConfig{
			Stage:  StageScale,
			Fields: []FieldSpec{{Name: "scale", Kind: KindFloat}, {Name: "derived", Kind: KindFloat, Derived: true}},
			Params: []ParamMapEntry{{External: "scale", Internal: "scale"}},
		}
	}
	if _, err := NewDefinition(base()); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
	cases := map[string]func(*DefinitionConfig){
		"no stage":        func(c *DefinitionConfig) { c.Stage = "" },
		"duplicate field": func(c *DefinitionConfig) { c.Fields = append(c.Fields, FieldSpec{Name: "scale", Kind: KindInt}) },
		"unknown target":  func(c *DefinitionConfig) { c.Params = append(c.Params, ParamMapEntry{External: "x", Internal: "missing"}) },
		"maps derived":    func(c *DefinitionConfig) { c.Params = append(c.Params, ParamMapEntry{External: "d", Internal: "derived"}) },
		"unmapped field":  func(c *DefinitionConfig) { c.Fields = append(c.Fields, FieldSpec{Name: "width", Kind: KindFloat}) },
		"bad derivation": func(c *DefinitionConfig) {
			c.Derivations = []Derivation{{Name: "d", Targets: []string{"scale"}, Derive: nil}}
		},
		"derives input": func(c *DefinitionConfig) {
			c.Derivations = []Derivation{{Name: "d", Targets: []string{"scale"}, Derive: func(_ context.Context, _ Record, _ Environment) (map[string]any, error) { return nil, nil }}}
		},
		"nil rule": func(c *DefinitionConfig) { c.Rules = []Rule{{Name: "r"}} },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if _, err := NewDefinition(cfg); err == nil {
			t.Fatalf("%s: expected definition error", name)
		}
	}
}

func TestRecordValidateReportsEachMissingField(t *testing.T) {
	def := testDefinition(t)
	rec := snapshot(t, def, nil)
	issues := rec.Validate()
	if got := issues.Count(MissingRequiredField); got != 2 {
		t.Fatalf("expected one issue per missing field, got %v", issues)
	}
	for _, issue := range issues {
		if issue.Stage != StageWavelength {
			t.Fatalf("expected stage stamped, got %+v", issue)
		}
	}
	if !errors.Is(issues.Err(), ErrMissingRequiredField) {
		t.Fatalf("expected errors.Is to match missing field sentinel")
	}
}

func TestRecordValidateRuleAndIdempotence(t *testing.T) {
	def := testDefinition(t)
	rec := snapshot(t, def, map[string]any{"wavelength_low": 10.0, "wavelength_high": 2.0})
	first := rec.Validate()
	if len(first) != 1 || first[0].Kind != InterStageConstraintViolated || first[0].Message != "low must be < high" {
		t.Fatalf("unexpected issues %+v", first)
	}
	if first[0].Field != "" {
		t.Fatalf("rule issues carry no field, got %q", first[0].Field)
	}
	before := rec.ToMap()
	second := rec.Validate()
	if first.Error() != second.Error() {
		t.Fatalf("validate not idempotent: %v vs %v", first, second)
	}
	after := rec.ToMap()
	if len(before) != len(after) {
		t.Fatalf("validate mutated the record")
	}
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("validate mutated %s", k)
		}
	}

	ok := snapshot(t, def, map[string]any{"wavelength_low": 2.0, "wavelength_high": 10.0, "wavelength_step": 0.1})
	if issues := ok.Validate(); len(issues) != 0 {
		t.Fatalf("expected valid record, got %v", issues)
	}
}

func TestRecordTypedGettersCopy(t *testing.T) {
	def := testDefinition(t)
	rec := snapshot(t, def, map[string]any{
		"wavelength_low":  2.0,
		"wavelength_high": 10.0,
		"ranges":          "2:4,4:10",
	})
	if v, ok := rec.Text("wavelength_step_type"); !ok || v != "LIN" {
		t.Fatalf("expected default step type, got %q %v", v, ok)
	}
	ranges, ok := rec.RangeList("ranges")
	if !ok || len(ranges) != 2 {
		t.Fatalf("expected two ranges, got %v", ranges)
	}
	ranges[0].Low = 99
	again, _ := rec.RangeList("ranges")
	if again[0].Low != 2 {
		t.Fatalf("getter leaked internal slice")
	}
	if _, ok := rec.Int("wavelength_low"); ok {
		t.Fatalf("typed getter must reject wrong kind")
	}
	names := rec.Names()
	if len(names) != 4 || names[0] != "wavelength_low" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRoundTripThroughPropertyMap(t *testing.T) {
	def := testDefinition(t)
	rec := snapshot(t, def, map[string]any{
		"wavelength_low":       2.0,
		"wavelength_high":      10.0,
		"wavelength_step":      0.1,
		"wavelength_step_type": "log",
		"ranges":               []Range{{2, 4}, {4, 10}},
	})
	m := rec.ToMap()
	if m["ranges"] != "2:4,4:10" {
		t.Fatalf("expected stringified composite, got %#v", m["ranges"])
	}
	back, err := FromMap(def, m)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if !back.Equal(rec) {
		t.Fatalf("round trip changed record: %v vs %v", back.ToMap(), m)
	}

	// Text-only transports restore types through the schema.
	text := PropertyMap{}
	for k, v := range m.Strings() {
		text[k] = v
	}
	back, err = FromMap(def, text)
	if err != nil {
		t.Fatalf("FromMap(strings): %v", err)
	}
	if !back.Equal(rec) {
		t.Fatalf("string round trip changed record")
	}
}

func TestFromMapRejectsUnknownAndMissing(t *testing.T) {
	def := testDefinition(t)
	rec := snapshot(t, def, map[string]any{"wavelength_low": 2.0, "wavelength_high": 10.0})

	extra := rec.ToMap()
	extra["wavelenght_step"] = 0.1
	_, err := FromMap(def, extra)
	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SerializationError, got %v", err)
	}
	if !serr.Issues.HasKind(UnrecognisedOption) || !errors.Is(err, ErrUnrecognisedOption) || !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected unrecognised option, got %v", err)
	}

	missing := rec.ToMap()
	delete(missing, "wavelength_high")
	_, err = FromMap(def, missing)
	if !errors.As(err, &serr) || serr.Issues.Count(MissingRequiredField) != 1 {
		t.Fatalf("expected one missing required field, got %v", err)
	}

	bad := rec.ToMap()
	bad["wavelength_low"] = 20.0
	if _, err := FromMap(def, bad); !errors.Is(err, ErrConstraintViolated) {
		t.Fatalf("expected rule violation on decode, got %v", err)
	}
}
