// Package state holds the concrete reduction stage schemas, the facility
// variant registry and the builders that turn raw user settings into a
// frozen AllStates aggregate.
package state

import (
	"fmt"

	"reductioncore/pkg/stateapi"
)

// FacilityISIS is the facility key of the built-in variants.
const FacilityISIS = "ISIS"

// StageOrder is the fixed build and slot order of AllStates. Later stages may
// derive values from earlier ones.
var StageOrder = []stateapi.StageKey{
	stateapi.StageData,
	stateapi.StageMove,
	stateapi.StageMask,
	stateapi.StageWavelength,
	stateapi.StageAdjustment,
	stateapi.StageConvertToQ,
	stateapi.StageReductionMode,
	stateapi.StageScale,
	stateapi.StageSlice,
	stateapi.StageSave,
}

func stageIndex(stage stateapi.StageKey) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return len(StageOrder)
}

// KnownStage reports whether stage has a slot in AllStates.
func KnownStage(stage stateapi.StageKey) bool {
	return stageIndex(stage) < len(StageOrder)
}

type stageFactory struct {
	stage stateapi.StageKey
	build func(key stateapi.VariantKey, inst instrument) *stateapi.Definition
}

var stageFactories = []stageFactory{
	{stateapi.StageData, dataDefinition},
	{stateapi.StageMove, moveDefinition},
	{stateapi.StageMask, maskDefinition},
	{stateapi.StageWavelength, wavelengthDefinition},
	{stateapi.StageAdjustment, adjustmentDefinition},
	{stateapi.StageConvertToQ, convertToQDefinition},
	{stateapi.StageReductionMode, reductionModeDefinition},
	{stateapi.StageScale, scaleDefinition},
	{stateapi.StageSlice, sliceDefinition},
	{stateapi.StageSave, saveDefinition},
}

// ISISDefinitions returns every stage definition for every ISIS instrument.
func ISISDefinitions() []*stateapi.Definition {
	out := make([]*stateapi.Definition, 0, len(isisInstruments)*len(stageFactories))
	for _, inst := range isisInstruments {
		key := stateapi.VariantKey{Facility: FacilityISIS, Instrument: inst.name}
		for _, f := range stageFactories {
			out = append(out, f.build(key, inst))
		}
	}
	return out
}

func param(external, internal string) stateapi.ParamMapEntry {
	return stateapi.ParamMapEntry{External: external, Internal: internal}
}

func optional(external, internal string) stateapi.ParamMapEntry {
	return stateapi.ParamMapEntry{External: external, Internal: internal, Optional: true}
}

func aliased(external, internal string, enum map[string]string) stateapi.ParamMapEntry {
	return stateapi.ParamMapEntry{External: external, Internal: internal, Enum: enum}
}

func violation(format string, args ...any) stateapi.Issues {
	return stateapi.Issues{{
		Kind:    stateapi.InterStageConstraintViolated,
		Message: fmt.Sprintf(format, args...),
	}}
}

// ordered requires low < high when both are set.
func ordered(low, high, message string) stateapi.Rule {
	return stateapi.Rule{
		Name: low + "_before_" + high,
		Check: func(r stateapi.Record) stateapi.Issues {
			lo, okLow := r.Float(low)
			hi, okHigh := r.Float(high)
			if okLow && okHigh && lo >= hi {
				return violation("%s", message)
			}
			return nil
		},
	}
}

// together requires a and b to be both set or both unset.
func together(a, b string) stateapi.Rule {
	return stateapi.Rule{
		Name: a + "_with_" + b,
		Check: func(r stateapi.Record) stateapi.Issues {
			if r.Has(a) != r.Has(b) {
				return violation("%s and %s must be set together", a, b)
			}
			return nil
		},
	}
}

// requires demands dependency whenever field is set.
func requires(field, dependency string) stateapi.Rule {
	return stateapi.Rule{
		Name: field + "_requires_" + dependency,
		Check: func(r stateapi.Record) stateapi.Issues {
			if r.Has(field) && !r.Has(dependency) {
				return violation("%s requires %s", field, dependency)
			}
			return nil
		},
	}
}

// requiresWhen demands dependency when the enum field holds value.
func requiresWhen(field, value, dependency string) stateapi.Rule {
	return stateapi.Rule{
		Name: field + "_" + value + "_requires_" + dependency,
		Check: func(r stateapi.Record) stateapi.Issues {
			if v, ok := r.Text(field); ok && v == value && !r.Has(dependency) {
				return violation("%s %s requires %s", field, value, dependency)
			}
			return nil
		},
	}
}
