package state

import (
	"fmt"

	"reductioncore/pkg/stateapi"
)

// AllStates is the frozen aggregate of one reduction job: at most one record
// per stage slot. Values are only produced by Director.BuildAll and DecodeAll
// and are safe for concurrent read-only use.
type AllStates struct {
	records map[stateapi.StageKey]stateapi.Record
}

func newAllStates(records map[stateapi.StageKey]stateapi.Record) *AllStates {
	out := &AllStates{records: make(map[stateapi.StageKey]stateapi.Record, len(records))}
	for stage, rec := range records {
		if KnownStage(stage) && !rec.IsZero() {
			out.records[stage] = rec
		}
	}
	return out
}

// Record returns the record in a stage slot.
func (a *AllStates) Record(stage stateapi.StageKey) (stateapi.Record, bool) {
	if a == nil {
		return stateapi.Record{}, false
	}
	rec, ok := a.records[stage]
	return rec, ok
}

// Stages returns the populated slots in StageOrder.
func (a *AllStates) Stages() []stateapi.StageKey {
	if a == nil {
		return nil
	}
	out := make([]stateapi.StageKey, 0, len(a.records))
	for _, stage := range StageOrder {
		if _, ok := a.records[stage]; ok {
			out = append(out, stage)
		}
	}
	return out
}

// Len returns the number of populated slots.
func (a *AllStates) Len() int {
	if a == nil {
		return 0
	}
	return len(a.records)
}

// Validate re-checks every record and the inter-stage rules.
func (a *AllStates) Validate() stateapi.Issues {
	var issues stateapi.Issues
	for _, stage := range a.Stages() {
		issues = append(issues, a.records[stage].Validate()...)
	}
	issues = append(issues, a.interStageIssues()...)
	issues.Sort()
	return issues
}

func (a *AllStates) interStageIssues() stateapi.Issues {
	var issues stateapi.Issues
	for _, rule := range interStageRules {
		records := make([]stateapi.Record, 0, len(rule.stages))
		for _, stage := range rule.stages {
			rec, ok := a.Record(stage)
			if !ok {
				break
			}
			records = append(records, rec)
		}
		if len(records) != len(rule.stages) {
			continue
		}
		issues = append(issues, rule.check(records...).WithStage(rule.stages[0])...)
	}
	return issues
}

type interStageRule struct {
	name string
	// stages lists the records the rule reads; issues belong to the first.
	stages []stateapi.StageKey
	check  func(records ...stateapi.Record) stateapi.Issues
}

var interStageRules = []interStageRule{
	{
		name:   "mask_within_geometry",
		stages: []stateapi.StageKey{stateapi.StageMask, stateapi.StageMove},
		check: func(rs ...stateapi.Record) stateapi.Issues {
			count, ok := rs[1].Int("spectrum_count")
			if !ok {
				return nil
			}
			for _, spectrum := range maskedSpectra(rs[0]) {
				if spectrum < 1 || spectrum > count {
					return violation("masked spectrum %d outside the %d spectra of the detector geometry", spectrum, count)
				}
			}
			return nil
		},
	},
	{
		name:   "mode_needs_detectors",
		stages: []stateapi.StageKey{stateapi.StageReductionMode, stateapi.StageMove},
		check: func(rs ...stateapi.Record) stateapi.Issues {
			mode, _ := rs[0].Text("reduction_mode")
			detectors, ok := rs[1].Int("detector_count")
			if !ok || mode == "" || mode == "LAB" {
				return nil
			}
			if detectors < 2 {
				return violation("reduction mode %s requires at least 2 detectors, geometry has %d", mode, detectors)
			}
			return nil
		},
	},
	{
		name:   "transmission_covers_wavelength",
		stages: []stateapi.StageKey{stateapi.StageAdjustment, stateapi.StageWavelength},
		check: func(rs ...stateapi.Record) stateapi.Issues {
			tLow, okLow := rs[0].Float("transmission_wavelength_low")
			tHigh, okHigh := rs[0].Float("transmission_wavelength_high")
			wLow, okWLow := rs[1].Float("wavelength_low")
			wHigh, okWHigh := rs[1].Float("wavelength_high")
			if !okLow || !okHigh || !okWLow || !okWHigh {
				return nil
			}
			fit := stateapi.Range{Low: tLow, High: tHigh}
			if !fit.Contains(wLow) || !fit.Contains(wHigh) {
				return violation("transmission fit range %s does not cover wavelength range %s", fit, stateapi.Range{Low: wLow, High: wHigh})
			}
			return nil
		},
	},
	{
		name:   "slice_needs_events",
		stages: []stateapi.StageKey{stateapi.StageSlice, stateapi.StageData},
		check: func(rs ...stateapi.Record) stateapi.Issues {
			if !rs[0].Has("start_times") {
				return nil
			}
			if events, _ := rs[1].Bool("event_mode"); !events {
				return violation("event slicing requires data event_mode")
			}
			return nil
		},
	},
}

func (a *AllStates) String() string {
	return fmt.Sprintf("AllStates%v", a.Stages())
}
