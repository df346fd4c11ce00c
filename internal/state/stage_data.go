package state

import (
	"context"
	"errors"
	"fmt"

	"reductioncore/pkg/stateapi"
)

func dataDefinition(key stateapi.VariantKey, inst instrument) *stateapi.Definition {
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageData,
		Variant: key,
		Fields: []stateapi.FieldSpec{
			{Name: "sample_scatter", Kind: stateapi.KindString, Required: true, Doc: "sample scatter run or file"},
			{Name: "sample_scatter_period", Kind: stateapi.KindInt, Lower: stateapi.Inclusive(1)},
			{Name: "sample_transmission", Kind: stateapi.KindString},
			{Name: "sample_direct", Kind: stateapi.KindString},
			{Name: "can_scatter", Kind: stateapi.KindString},
			{Name: "can_transmission", Kind: stateapi.KindString},
			{Name: "can_direct", Kind: stateapi.KindString},
			{Name: "calibration", Kind: stateapi.KindString, Doc: "detector calibration file"},
			{Name: "event_mode", Kind: stateapi.KindBool, Default: false},
			{Name: "sample_scatter_run", Kind: stateapi.KindInt, Lower: stateapi.Inclusive(1), Derived: true},
		},
		Params: []stateapi.ParamMapEntry{
			param("sample", "sample_scatter"),
			optional("sample_period", "sample_scatter_period"),
			optional("transmission", "sample_transmission"),
			optional("direct", "sample_direct"),
			optional("can", "can_scatter"),
			optional("can_transmission", "can_transmission"),
			optional("can_direct", "can_direct"),
			optional("calibration", "calibration"),
			param("event_mode", "event_mode"),
		},
		Rules: []stateapi.Rule{
			together("sample_transmission", "sample_direct"),
			together("can_transmission", "can_direct"),
			requires("can_transmission", "can_scatter"),
		},
		Derivations: []stateapi.Derivation{{
			Name:    "sample_run",
			Targets: []string{"sample_scatter_run"},
			Derive: func(_ context.Context, current stateapi.Record, _ stateapi.Environment) (map[string]any, error) {
				ref, ok := current.Text("sample_scatter")
				if !ok {
					return nil, nil
				}
				run, err := ParseRunNumber(inst.name, ref)
				if err != nil {
					return nil, err
				}
				return map[string]any{"sample_scatter_run": run}, nil
			},
		}},
	})
}

func moveDefinition(key stateapi.VariantKey, inst instrument) *stateapi.Definition {
	fields := []stateapi.FieldSpec{
		{Name: "detector_count", Kind: stateapi.KindInt, Lower: stateapi.Inclusive(1), Derived: true},
		{Name: "spectrum_count", Kind: stateapi.KindInt, Lower: stateapi.Inclusive(1), Derived: true},
		{Name: "sample_offset", Kind: stateapi.KindFloat, Derived: true, Doc: "geometry sample offset in mm"},
		{Name: "sample_offset_correction", Kind: stateapi.KindFloat, Default: 0.0},
		{Name: "beam_centre_x", Kind: stateapi.KindFloat},
		{Name: "beam_centre_y", Kind: stateapi.KindFloat},
	}
	params := []stateapi.ParamMapEntry{
		param("sample_offset_correction", "sample_offset_correction"),
		optional("beam_centre_x", "beam_centre_x"),
		optional("beam_centre_y", "beam_centre_y"),
	}
	for _, extra := range inst.move {
		fields = append(fields, extra.spec)
		params = append(params, param(extra.external, extra.spec.Name))
	}
	return stateapi.MustDefinition(stateapi.DefinitionConfig{
		Stage:   stateapi.StageMove,
		Variant: key,
		Fields:  fields,
		Params:  params,
		Rules: []stateapi.Rule{
			together("beam_centre_x", "beam_centre_y"),
		},
		Derivations: []stateapi.Derivation{{
			Name:    "detector_geometry",
			Targets: []string{"detector_count", "spectrum_count", "sample_offset"},
			Derive:  deriveGeometry(inst.name),
		}},
	})
}

func deriveGeometry(name string) func(context.Context, stateapi.Record, stateapi.Environment) (map[string]any, error) {
	return func(ctx context.Context, _ stateapi.Record, env stateapi.Environment) (map[string]any, error) {
		data, ok := env.Record(stateapi.StageData)
		if !ok {
			return nil, errors.New("detector geometry needs the data stage")
		}
		run, ok := data.Int("sample_scatter_run")
		if !ok {
			return nil, errors.New("data stage has no sample run")
		}
		if env.Geometry == nil {
			return nil, errors.New("no geometry lookup configured")
		}
		g, err := env.Geometry.Geometry(ctx, name, run)
		if err != nil {
			return nil, fmt.Errorf("lookup %s run %d: %w", name, run, err)
		}
		return map[string]any{
			"detector_count": g.DetectorCount,
			"spectrum_count": g.SpectrumCount,
			"sample_offset":  g.SampleOffset,
		}, nil
	}
}
