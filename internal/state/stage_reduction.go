package state

import "reductioncore/pkg/stateapi"

var dimensionalityAliases = map[string]string{"1d": "ONE_DIM", "2d": "TWO_DIM"}

func convertToQDefinition(key stateapi.VariantKey, _ instrument) *stateapi.Definition {
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageConvertToQ,
		Variant: key,
		Fields: []stateapi.FieldSpec{
			{Name: "reduction_dimensionality", Kind: stateapi.KindEnum, Enum: []string{"ONE_DIM", "TWO_DIM"}, Default: "ONE_DIM"},
			{Name: "q_min", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0)},
			{Name: "q_max", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0)},
			{Name: "q_step", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0)},
			{Name: "q_step_type", Kind: stateapi.KindEnum, Enum: []string{"LIN", "LOG"}, Default: "LOG"},
			{Name: "q_xy_max", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0)},
			{Name: "q_xy_step", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0)},
			{Name: "use_gravity", Kind: stateapi.KindBool, Default: true},
			{Name: "gravity_extra_length", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(0), Default: 0.0},
			{Name: "radius_cutoff", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(0), Default: 0.0},
			{Name: "wavelength_cutoff", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(0), Default: 0.0},
		},
		Params: []stateapi.ParamMapEntry{
			aliased("dimensionality", "reduction_dimensionality", dimensionalityAliases),
			optional("q_min", "q_min"),
			optional("q_max", "q_max"),
			optional("q_step", "q_step"),
			aliased("q_step_type", "q_step_type", stepTypeAliases),
			optional("q_xy_max", "q_xy_max"),
			optional("q_xy_step", "q_xy_step"),
			param("gravity", "use_gravity"),
			param("gravity_extra_length", "gravity_extra_length"),
			param("radius_cutoff", "radius_cutoff"),
			param("wavelength_cutoff", "wavelength_cutoff"),
		},
		Rules: []stateapi.Rule{
			together("q_min", "q_max"),
			ordered("q_min", "q_max", "q_min must be < q_max"),
			requiresWhen("reduction_dimensionality", "TWO_DIM", "q_xy_max"),
			requiresWhen("reduction_dimensionality", "TWO_DIM", "q_xy_step"),
		},
	})
}

func reductionModeDefinition(key stateapi.VariantKey, inst instrument) *stateapi.Definition {
	fields := []stateapi.FieldSpec{
		{Name: "reduction_mode", Kind: stateapi.KindEnum, Enum: []string{"LAB", "HAB", "MERGED", "ALL"}, Default: "LAB"},
	}
	params := []stateapi.ParamMapEntry{
		aliased("mode", "reduction_mode", inst.modeAliases),
	}
	var rules []stateapi.Rule
	if inst.multiDetector() {
		fields = append(fields,
			stateapi.FieldSpec{Name: "merge_shift", Kind: stateapi.KindFloat, Default: 0.0},
			stateapi.FieldSpec{Name: "merge_scale", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Default: 1.0},
			stateapi.FieldSpec{Name: "merge_fit_mode", Kind: stateapi.KindEnum, Enum: []string{"NONE", "SHIFT", "SCALE", "BOTH"}, Default: "NONE"},
			stateapi.FieldSpec{Name: "merge_q_range", Kind: stateapi.KindRange, Lower: stateapi.Inclusive(0)},
		)
		params = append(params,
			param("merge_shift", "merge_shift"),
			param("merge_scale", "merge_scale"),
			param("merge_fit", "merge_fit_mode"),
			optional("merge_q_range", "merge_q_range"),
		)
		rules = append(rules, stateapi.Rule{Name: "merge_fit_needs_merged", Check: func(r stateapi.Record) stateapi.Issues {
			fit, _ := r.Text("merge_fit_mode")
			mode, _ := r.Text("reduction_mode")
			if fit != "" && fit != "NONE" && mode != "MERGED" {
				return violation("merge fit %s requires MERGED reduction mode, got %s", fit, mode)
			}
			return nil
		}})
	}
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageReductionMode,
		Variant: key,
		Fields:  fields,
		Params:  params,
		Rules:   rules,
	})
}
