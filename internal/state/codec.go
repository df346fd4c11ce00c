package state

import (
	"errors"
	"strings"

	"reductioncore/pkg/stateapi"
)

// Reserved key suffixes carrying the variant of each encoded stage.
const (
	FacilityKey   = "@facility"
	InstrumentKey = "@instrument"
)

// EncodeAll flattens every record into one property map keyed
// "<stage>.<field>", plus the reserved variant keys per stage.
func EncodeAll(all *AllStates) stateapi.PropertyMap {
	out := make(stateapi.PropertyMap)
	for _, stage := range all.Stages() {
		rec := all.records[stage]
		prefix := string(stage) + "."
		for name, v := range rec.ToMap() {
			out[prefix+name] = v
		}
		out[prefix+FacilityKey] = rec.Variant().Facility
		out[prefix+InstrumentKey] = rec.Variant().Instrument
	}
	return out
}

// DecodeAll rebuilds an AllStates from EncodeAll output, restoring field types
// through the registry's definitions and re-checking the inter-stage rules.
// Errors are *stateapi.SerializationError.
func DecodeAll(registry *Registry, m stateapi.PropertyMap) (*AllStates, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	grouped := make(map[stateapi.StageKey]stateapi.PropertyMap)
	var issues stateapi.Issues
	for _, key := range m.Keys() {
		stageText, field, ok := strings.Cut(key, ".")
		stage := stateapi.StageKey(stageText)
		if !ok || field == "" || !KnownStage(stage) {
			issues = append(issues, stateapi.Issue{Field: key, Kind: stateapi.UnrecognisedOption, Message: "key does not address a known stage"})
			continue
		}
		if grouped[stage] == nil {
			grouped[stage] = make(stateapi.PropertyMap)
		}
		grouped[stage][field] = m[key]
	}

	records := make(map[stateapi.StageKey]stateapi.Record, len(grouped))
	for _, stage := range StageOrder {
		props, ok := grouped[stage]
		if !ok {
			continue
		}
		facility, okFacility := props[FacilityKey].(string)
		instrument, okInstrument := props[InstrumentKey].(string)
		delete(props, FacilityKey)
		delete(props, InstrumentKey)
		if !okFacility || !okInstrument {
			issues = append(issues, stateapi.Issue{Stage: stage, Field: FacilityKey, Kind: stateapi.MissingRequiredField, Message: "stage variant keys missing"})
			continue
		}
		def, err := registry.Lookup(facility, instrument, stage)
		if err != nil {
			issues = append(issues, issuesFrom(stage, err)...)
			continue
		}
		rec, err := stateapi.FromMap(def, props)
		if err != nil {
			issues = append(issues, issuesFrom(stage, err)...)
			continue
		}
		records[stage] = rec
	}
	if len(issues) > 0 {
		issues.Sort()
		return nil, &stateapi.SerializationError{Issues: issues}
	}
	all := newAllStates(records)
	if inter := all.interStageIssues(); len(inter) > 0 {
		inter.Sort()
		return nil, &stateapi.SerializationError{Issues: inter}
	}
	return all, nil
}

func issuesFrom(stage stateapi.StageKey, err error) stateapi.Issues {
	var serr *stateapi.SerializationError
	if errors.As(err, &serr) {
		return serr.Issues.WithStage(stage)
	}
	var issue *stateapi.Issue
	if errors.As(err, &issue) {
		return stateapi.Issues{*issue}.WithStage(stage)
	}
	return stateapi.Issues{{Stage: stage, Kind: stateapi.SerializationFailed, Message: err.Error()}}
}
