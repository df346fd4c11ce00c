package state

import "reductioncore/pkg/stateapi"

func maskDefinition(key stateapi.VariantKey, _ instrument) *stateapi.Definition {
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageMask,
		Variant: key,
		Fields: []stateapi.FieldSpec{
			{Name: "spectrum_ranges", Kind: stateapi.KindRangeList, Lower: stateapi.Inclusive(1)},
			{Name: "single_spectra", Kind: stateapi.KindIntList, Lower: stateapi.Inclusive(1)},
			{Name: "time_ranges", Kind: stateapi.KindRangeList, Lower: stateapi.Inclusive(0), Doc: "time-of-flight windows in microseconds"},
			{Name: "radius_min", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(0)},
			{Name: "radius_max", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0)},
			{Name: "phi_min", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(-90), Upper: stateapi.Inclusive(90), Default: -90.0},
			{Name: "phi_max", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(-90), Upper: stateapi.Inclusive(90), Default: 90.0},
			{Name: "phi_mirror", Kind: stateapi.KindBool, Default: true},
			{Name: "mask_files", Kind: stateapi.KindStringList},
		},
		Params: []stateapi.ParamMapEntry{
			optional("spectrum_ranges", "spectrum_ranges"),
			optional("spectra", "single_spectra"),
			optional("time_ranges", "time_ranges"),
			optional("radius_min", "radius_min"),
			optional("radius_max", "radius_max"),
			param("phi_min", "phi_min"),
			param("phi_max", "phi_max"),
			param("phi_mirror", "phi_mirror"),
			optional("files", "mask_files"),
		},
		Rules: []stateapi.Rule{
			ordered("radius_min", "radius_max", "radius_min must be < radius_max"),
			ordered("phi_min", "phi_max", "phi_min must be < phi_max"),
		},
	})
}

// maskedSpectra returns every spectrum number the mask refers to.
func maskedSpectra(r stateapi.Record) []int {
	var out []int
	if single, ok := r.IntList("single_spectra"); ok {
		out = append(out, single...)
	}
	if ranges, ok := r.RangeList("spectrum_ranges"); ok {
		for _, rg := range ranges {
			out = append(out, int(rg.Low), int(rg.High))
		}
	}
	return out
}
