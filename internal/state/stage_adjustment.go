package state

import "reductioncore/pkg/stateapi"

var fitTypeAliases = map[string]string{"lin": "LINEAR", "logarithmic": "LOG", "poly": "POLYNOMIAL", "off": "NONE"}

func adjustmentDefinition(key stateapi.VariantKey, inst instrument) *stateapi.Definition {
	fields := []stateapi.FieldSpec{
		{Name: "transmission_fit_type", Kind: stateapi.KindEnum, Enum: []string{"LINEAR", "LOG", "POLYNOMIAL", "NONE"}, Default: "LOG"},
		{Name: "polynomial_order", Kind: stateapi.KindInt, Lower: stateapi.Inclusive(2), Upper: stateapi.Inclusive(6)},
		{Name: "transmission_wavelength_low", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0)},
		{Name: "transmission_wavelength_high", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0)},
		{Name: "incident_monitor", Kind: stateapi.KindInt, Lower: stateapi.Inclusive(1), Default: inst.incidentMonitor},
		{Name: "transmission_monitor", Kind: stateapi.KindInt, Lower: stateapi.Inclusive(1), Default: inst.transmissionMonitor},
		{Name: "transmission_radius", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Doc: "mm"},
		{Name: "wide_angle_correction", Kind: stateapi.KindBool, Default: false},
		{Name: "flood_file", Kind: stateapi.KindString},
	}
	params := []stateapi.ParamMapEntry{
		aliased("fit_type", "transmission_fit_type", fitTypeAliases),
		optional("polynomial_order", "polynomial_order"),
		optional("fit_wavelength_low", "transmission_wavelength_low"),
		optional("fit_wavelength_high", "transmission_wavelength_high"),
		param("incident_monitor", "incident_monitor"),
		param("transmission_monitor", "transmission_monitor"),
		optional("transmission_radius", "transmission_radius"),
		param("wide_angle_correction", "wide_angle_correction"),
		optional("flood_file", "flood_file"),
	}
	rules := []stateapi.Rule{
		requiresWhen("transmission_fit_type", "POLYNOMIAL", "polynomial_order"),
		together("transmission_wavelength_low", "transmission_wavelength_high"),
		ordered("transmission_wavelength_low", "transmission_wavelength_high", "transmission fit low must be < high"),
		{Name: "distinct_monitors", Check: func(r stateapi.Record) stateapi.Issues {
			in, okIn := r.Int("incident_monitor")
			tr, okTr := r.Int("transmission_monitor")
			if okIn && okTr && in == tr {
				return violation("transmission_monitor must differ from incident_monitor")
			}
			return nil
		}},
	}
	if inst.promptPeak {
		fields = append(fields,
			stateapi.FieldSpec{Name: "prompt_peak_low", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(0), Doc: "microseconds"},
			stateapi.FieldSpec{Name: "prompt_peak_high", Kind: stateapi.KindFloat, Lower: stateapi.Inclusive(0), Doc: "microseconds"},
		)
		params = append(params,
			optional("prompt_peak_low", "prompt_peak_low"),
			optional("prompt_peak_high", "prompt_peak_high"),
		)
		rules = append(rules,
			together("prompt_peak_low", "prompt_peak_high"),
			ordered("prompt_peak_low", "prompt_peak_high", "prompt peak low must be < high"),
		)
	}
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageAdjustment,
		Variant: key,
		Fields:  fields,
		Params:  params,
		Rules:   rules,
	})
}
