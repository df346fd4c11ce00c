package state

import (
	"sort"
	"strings"
	"sync"

	"reductioncore/pkg/stateapi"
)

// Registry indexes stage definitions by (facility, instrument, stage). It is
// immutable after construction and safe for concurrent use.
type Registry struct {
	byStage  map[stateapi.StageKey][]*stateapi.Definition
	external map[stateapi.StageKey]map[string]struct{}
}

// NewRegistry indexes defs. Duplicate keys are kept so that lookups can report
// them as AmbiguousVariant instead of silently picking one.
func NewRegistry(defs ...*stateapi.Definition) *Registry {
	r := &Registry{
		byStage:  make(map[stateapi.StageKey][]*stateapi.Definition),
		external: make(map[stateapi.StageKey]map[string]struct{}),
	}
	for _, def := range defs {
		if def == nil {
			continue
		}
		stage := def.Stage()
		r.byStage[stage] = append(r.byStage[stage], def)
		names := r.external[stage]
		if names == nil {
			names = make(map[string]struct{})
			r.external[stage] = names
		}
		for _, name := range def.Params().ExternalNames() {
			names[strings.ToLower(name)] = struct{}{}
		}
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(ISISDefinitions()...)
})

// DefaultRegistry returns the process-wide registry of built-in variants.
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

// Lookup resolves exactly one definition. Failures are *stateapi.Issue values
// of kind NoVariantForInstrument or AmbiguousVariant.
func (r *Registry) Lookup(facility, instrument string, stage stateapi.StageKey) (*stateapi.Definition, error) {
	var matches []*stateapi.Definition
	for _, def := range r.byStage[stage] {
		if def.Variant().Matches(facility, instrument) {
			matches = append(matches, def)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		issue := stateapi.NewIssue("", stateapi.NoVariantForInstrument, "no %s variant registered for %s/%s", stage, facility, instrument)
		issue.Stage = stage
		return nil, issue
	default:
		issue := stateapi.NewIssue("", stateapi.AmbiguousVariant, "%d %s variants registered for %s/%s", len(matches), stage, facility, instrument)
		issue.Stage = stage
		return nil, issue
	}
}

// Stages returns the stages with at least one variant, in StageOrder.
func (r *Registry) Stages() []stateapi.StageKey {
	out := make([]stateapi.StageKey, 0, len(r.byStage))
	for stage := range r.byStage {
		out = append(out, stage)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := stageIndex(out[i]), stageIndex(out[j])
		if a != b {
			return a < b
		}
		return out[i] < out[j]
	})
	return out
}

// Variants returns the distinct variant keys registered for stage, sorted.
func (r *Registry) Variants(stage stateapi.StageKey) []stateapi.VariantKey {
	seen := make(map[stateapi.VariantKey]struct{})
	var out []stateapi.VariantKey
	for _, def := range r.byStage[stage] {
		if _, dup := seen[def.Variant()]; dup {
			continue
		}
		seen[def.Variant()] = struct{}{}
		out = append(out, def.Variant())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// knowsExternal reports whether any variant of stage accepts the name.
func (r *Registry) knowsExternal(stage stateapi.StageKey, name string) bool {
	_, ok := r.external[stage][strings.ToLower(strings.TrimSpace(name))]
	return ok
}
