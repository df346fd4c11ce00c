package state

import (
	"context"
	"errors"
	"testing"

	"reductioncore/pkg/stateapi"
)

func TestRecordRoundTripForEveryStage(t *testing.T) {
	all := buildSANS2D(t)
	for _, stage := range all.Stages() {
		rec, _ := all.Record(stage)
		back, err := stateapi.FromMap(rec.Definition(), rec.ToMap())
		if err != nil {
			t.Fatalf("%s: %v", stage, err)
		}
		if !back.Equal(rec) {
			t.Fatalf("%s: round trip changed the record", stage)
		}
	}

	for _, files := range [][]string{{"masks/rear,front.xml"}, {" padded.xml"}, {""}, {"a,b.xml", " x", ""}} {
		b := selected(t, stateapi.StageMask, "LOQ")
		mustSet(t, b, map[string]any{"files": files})
		rec, issues := b.Build(context.Background(), stateapi.Environment{})
		if len(issues) != 0 {
			t.Fatalf("mask %q: %v", files, issues)
		}
		typed, err := stateapi.FromMap(rec.Definition(), rec.ToMap())
		if err != nil || !typed.Equal(rec) {
			t.Fatalf("mask %q: round trip changed the record (%v)", files, err)
		}
		text := stateapi.PropertyMap{}
		for k, v := range rec.ToMap().Strings() {
			text[k] = v
		}
		back, err := stateapi.FromMap(rec.Definition(), text)
		if err != nil || !back.Equal(rec) {
			t.Fatalf("mask %q: text round trip changed the record (%v)", files, err)
		}
		got, _ := back.StringList("mask_files")
		if len(got) != len(files) {
			t.Fatalf("mask %q: restored %q", files, got)
		}
	}
}

func TestMaskRejectsNonFiniteTimeRanges(t *testing.T) {
	b := selected(t, stateapi.StageMask, "LOQ")
	err := b.Set("time_ranges", "NaN:NaN")
	if !errors.Is(err, stateapi.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	_, issues := b.Build(context.Background(), stateapi.Environment{})
	if !issues.HasKind(stateapi.TypeMismatch) {
		t.Fatalf("expected the rejected value to be reported by Build, got %v", issues)
	}
}

func TestEncodeDecodeAll(t *testing.T) {
	all := buildSANS2D(t)
	m := EncodeAll(all)
	if m["wavelength.wavelength_low"] != 2.0 {
		t.Fatalf("unexpected encoded low %v", m["wavelength.wavelength_low"])
	}
	if m["move.@instrument"] != "SANS2D" {
		t.Fatalf("expected variant key, got %v", m["move.@instrument"])
	}
	back, err := DecodeAll(nil, m)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertSameStates(t, all, back)

	// Text-only transport.
	text := stateapi.PropertyMap{}
	for k, v := range m.Strings() {
		text[k] = v
	}
	back, err = DecodeAll(nil, text)
	if err != nil {
		t.Fatalf("decode strings: %v", err)
	}
	assertSameStates(t, all, back)
}

func assertSameStates(t *testing.T, want, got *AllStates) {
	t.Helper()
	if got.Len() != want.Len() {
		t.Fatalf("expected %d stages, got %d", want.Len(), got.Len())
	}
	for _, stage := range want.Stages() {
		a, _ := want.Record(stage)
		b, ok := got.Record(stage)
		if !ok || !a.Equal(b) {
			t.Fatalf("%s differs after decode", stage)
		}
	}
}

func TestDecodeAllRejectsBadMaps(t *testing.T) {
	all := buildSANS2D(t)
	cases := map[string]struct {
		mutate func(stateapi.PropertyMap)
		kind   stateapi.IssueKind
	}{
		"unknown field": {func(m stateapi.PropertyMap) { m["wavelength.wavelength_lowe"] = 2.0 }, stateapi.UnrecognisedOption},
		"unknown stage": {func(m stateapi.PropertyMap) { m["detector.count"] = 2 }, stateapi.UnrecognisedOption},
		"missing field": {func(m stateapi.PropertyMap) { delete(m, "data.sample_scatter") }, stateapi.MissingRequiredField},
		"no variant":    {func(m stateapi.PropertyMap) { delete(m, "mask.@facility") }, stateapi.MissingRequiredField},
		"bad variant":   {func(m stateapi.PropertyMap) { m["scale.@instrument"] = "D22" }, stateapi.NoVariantForInstrument},
		"bad type":      {func(m stateapi.PropertyMap) { m["scale.scale"] = "big" }, stateapi.TypeMismatch},
		"inter stage":   {func(m stateapi.PropertyMap) { m["mask.single_spectra"] = "1,99999" }, stateapi.InterStageConstraintViolated},
	}
	for name, tc := range cases {
		m := EncodeAll(all)
		tc.mutate(m)
		_, err := DecodeAll(nil, m)
		var serr *stateapi.SerializationError
		if !errors.As(err, &serr) || !errors.Is(err, stateapi.ErrSerialization) {
			t.Fatalf("%s: expected serialization error, got %v", name, err)
		}
		if !serr.Issues.HasKind(tc.kind) {
			t.Fatalf("%s: expected %s, got %v", name, tc.kind, serr.Issues)
		}
	}
}

func TestRegistryDefaults(t *testing.T) {
	reg := DefaultRegistry()
	if reg != DefaultRegistry() {
		t.Fatalf("default registry must be built once")
	}
	stages := reg.Stages()
	if len(stages) != len(StageOrder) || stages[0] != stateapi.StageData || stages[len(stages)-1] != stateapi.StageSave {
		t.Fatalf("unexpected stages %v", stages)
	}
	if got := reg.Variants(stateapi.StageMove); len(got) != 4 {
		t.Fatalf("expected four move variants, got %v", got)
	}
	if _, err := reg.Lookup("ILL", "D22", stateapi.StageData); !errors.Is(err, stateapi.ErrNoVariant) {
		t.Fatalf("expected no variant, got %v", err)
	}
}
