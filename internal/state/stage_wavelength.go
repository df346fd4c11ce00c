package state

import (
	"strings"

	"reductioncore/pkg/stateapi"
)

var stepTypeAliases = map[string]string{"linear": "LIN", "logarithmic": "LOG"}

func wavelengthDefinition(key stateapi.VariantKey, _ instrument) *stateapi.Definition {
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageWavelength,
		Variant: key,
		Fields: []stateapi.FieldSpec{
			{Name: "wavelength_low", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Required: true, Doc: "angstrom"},
			{Name: "wavelength_high", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Required: true, Doc: "angstrom"},
			{Name: "wavelength_step", Kind: stateapi.KindFloat, Lower: stateapi.Exclusive(0), Required: true},
			{Name: "wavelength_step_type", Kind: stateapi.KindEnum, Enum: []string{"LIN", "LOG", "RANGE_LIN", "RANGE_LOG"}, Default: "LIN"},
			{Name: "wavelength_ranges", Kind: stateapi.KindRangeList, Lower: stateapi.Exclusive(0)},
		},
		Params: []stateapi.ParamMapEntry{
			param("low", "wavelength_low"),
			param("high", "wavelength_high"),
			param("step", "wavelength_step"),
			aliased("step_type", "wavelength_step_type", stepTypeAliases),
			optional("ranges", "wavelength_ranges"),
		},
		Rules: []stateapi.Rule{
			ordered("wavelength_low", "wavelength_high", "low must be < high"),
			{Name: "ranged_step_type", Check: checkWavelengthRanges},
		},
	})
}

func checkWavelengthRanges(r stateapi.Record) stateapi.Issues {
	stepType, _ := r.Text("wavelength_step_type")
	ranges, hasRanges := r.RangeList("wavelength_ranges")
	if strings.HasPrefix(stepType, "RANGE_") && (!hasRanges || len(ranges) == 0) {
		return violation("step type %s requires wavelength ranges", stepType)
	}
	low, okLow := r.Float("wavelength_low")
	high, okHigh := r.Float("wavelength_high")
	if !okLow || !okHigh || low >= high {
		return nil
	}
	bounds := stateapi.Range{Low: low, High: high}
	for _, rg := range ranges {
		if !bounds.Contains(rg.Low) || !bounds.Contains(rg.High) {
			return violation("wavelength range %s lies outside %s", rg, bounds)
		}
	}
	return nil
}
