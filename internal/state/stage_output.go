package state

import "reductioncore/pkg/stateapi"

func scaleDefinition(key stateapi.VariantKey, _ instrument) *stateapi.Definition {
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageScale,
		Variant: key,
		Fields: []stateapi.FieldSpec{
			{Name: "scale", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Default: 1.0},
			{Name: "sample_shape", Kind: stateapi.KindEnum, Enum: []string{"CYLINDER", "FLAT_PLATE", "DISC"}},
			{Name: "thickness", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Doc: "mm"},
			{Name: "width", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Doc: "mm"},
			{Name: "height", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Doc: "mm"},
		},
		Params: []stateapi.ParamMapEntry{
			param("scale", "scale"),
			{External: "shape", Internal: "sample_shape", Optional: true, Enum: map[string]string{"flat plate": "FLAT_PLATE", "flat": "FLAT_PLATE"}},
			optional("thickness", "thickness"),
			optional("width", "width"),
			optional("height", "height"),
		},
		Rules: []stateapi.Rule{
			requires("sample_shape", "thickness"),
			requiresWhen("sample_shape", "FLAT_PLATE", "width"),
			requiresWhen("sample_shape", "FLAT_PLATE", "height"),
		},
	})
}

func sliceDefinition(key stateapi.VariantKey, _ instrument) *stateapi.Definition {
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageSlice,
		Variant: key,
		Fields: []stateapi.FieldSpec{
			{Name: "start_times", Kind: stateapi.KindFloatList, Lower: stateapi.Inclusive(0), Doc: "seconds from run start"},
			{Name: "end_times", Kind: stateapi.KindFloatList, Lower: stateapi.Inclusive(0)},
		},
		Params: []stateapi.ParamMapEntry{
			optional("start", "start_times"),
			optional("end", "end_times"),
		},
		Rules: []stateapi.Rule{
			together("start_times", "end_times"),
			{Name: "slice_windows", Check: checkSliceWindows},
		},
	})
}

func checkSliceWindows(r stateapi.Record) stateapi.Issues {
	starts, _ := r.FloatList("start_times")
	ends, _ := r.FloatList("end_times")
	if len(starts) != len(ends) {
		return violation("%d start times but %d end times", len(starts), len(ends))
	}
	var issues stateapi.Issues
	for i := range starts {
		if starts[i] >= ends[i] {
			issues = append(issues, violation("slice %d: start must be < end", i)...)
		}
	}
	return issues
}

var fileFormats = []string{"NEXUS", "CAN_SAS", "NX_CAN_SAS", "RKH", "CSV"}

func saveDefinition(key stateapi.VariantKey, _ instrument) *stateapi.Definition {
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageSave,
		Variant: key,
		Fields: []stateapi.FieldSpec{
			{Name: "file_format", Kind: stateapi.KindStringList, Enum: fileFormats, Required: true},
			{Name: "user_output_name", Kind: stateapi.KindString},
			{Name: "zero_free_correction", Kind: stateapi.KindBool, Default: true},
			{Name: "use_reduction_mode_as_suffix", Kind: stateapi.KindBool, Default: false},
		},
		Params: []stateapi.ParamMapEntry{
			aliased("formats", "file_format", map[string]string{"nxcansas": "NX_CAN_SAS", "cansas": "CAN_SAS"}),
			optional("output_name", "user_output_name"),
			param("zero_free_correction", "zero_free_correction"),
			param("mode_suffix", "use_reduction_mode_as_suffix"),
		},
		Rules: []stateapi.Rule{{Name: "formats", Check: func(r stateapi.Record) stateapi.Issues {
			formats, ok := r.StringList("file_format")
			if !ok {
				return nil
			}
			if len(formats) == 0 {
				return violation("at least one file format is required")
			}
			seen := make(map[string]struct{}, len(formats))
			for _, f := range formats {
				if _, dup := seen[f]; dup {
					return violation("file format %s listed twice", f)
				}
				seen[f] = struct{}{}
			}
			return nil
		}}},
	})
}
