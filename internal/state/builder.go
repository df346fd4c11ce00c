package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reductioncore/pkg/stateapi"
)

// Phase is the variant selection and build lifecycle of a Builder.
type Phase int

// Builder phases. Transitions only move forward, except that a failed build
// returns to Populated on the next Set.
const (
	PhaseUnselected Phase = iota
	PhaseFacilitySet
	PhaseVariantResolved
	PhasePopulated
	PhaseValidated
	PhaseFrozen
)

func (p Phase) String() string {
	switch p {
	case PhaseUnselected:
		return "unselected"
	case PhaseFacilitySet:
		return "facility_set"
	case PhaseVariantResolved:
		return "variant_resolved"
	case PhasePopulated:
		return "populated"
	case PhaseValidated:
		return "validated"
	case PhaseFrozen:
		return "frozen"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Builder misuse errors.
var (
	ErrReselect    = errors.New("state: builder variant already selected; discard the builder and create a new one")
	ErrNotSelected = errors.New("state: builder has no resolved variant")
	ErrFrozen      = errors.New("state: builder is frozen")
)

// Builder accumulates raw settings for one stage and emits a frozen Record.
// A Builder is not safe for concurrent use.
type Builder struct {
	stage    stateapi.StageKey
	registry *Registry
	phase    Phase
	fatal    *stateapi.Issue

	def    *stateapi.Definition
	fields map[string]*stateapi.Field
	order  []*stateapi.Field
	// rejected holds the latest failed Set per external name.
	rejected map[string]stateapi.Issue
	record   stateapi.Record
}

// NewBuilder returns an unselected builder for stage. A nil registry uses
// DefaultRegistry.
func NewBuilder(registry *Registry, stage stateapi.StageKey) *Builder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Builder{
		stage:    stage,
		registry: registry,
		rejected: make(map[string]stateapi.Issue),
	}
}

// Stage returns the stage key.
func (b *Builder) Stage() stateapi.StageKey { return b.stage }

// Phase returns the current lifecycle phase.
func (b *Builder) Phase() Phase { return b.phase }

// Definition returns the resolved definition, or nil before resolution.
func (b *Builder) Definition() *stateapi.Definition { return b.def }

// Select picks the facility variant. It may be called once; any later call
// fails with ErrReselect. Lookup failures are returned as *stateapi.Issue and
// reported again by every Build.
func (b *Builder) Select(facility, instrument string) error {
	if b.phase != PhaseUnselected {
		return ErrReselect
	}
	b.phase = PhaseFacilitySet
	def, err := b.registry.Lookup(facility, instrument, b.stage)
	if err != nil {
		var issue *stateapi.Issue
		if !errors.As(err, &issue) {
			issue = stateapi.NewIssue("", stateapi.NoVariantForInstrument, "%v", err)
			issue.Stage = b.stage
		}
		b.fatal = issue
		return issue
	}
	b.def = def
	b.order = def.NewFields()
	b.fields = make(map[string]*stateapi.Field, len(b.order))
	for _, f := range b.order {
		b.fields[f.Name()] = f
	}
	b.phase = PhaseVariantResolved
	return nil
}

// Set assigns raw to the field behind the external name. A later Set for the
// same name overwrites an earlier one. Rejected values are returned as
// *stateapi.Issue and also reported by Build until corrected.
func (b *Builder) Set(external string, raw any) error {
	switch b.phase {
	case PhaseUnselected:
		return ErrNotSelected
	case PhaseFacilitySet:
		return fmt.Errorf("%w: %w", ErrNotSelected, b.fatal)
	case PhaseFrozen:
		return ErrFrozen
	}
	b.phase = PhasePopulated
	key := strings.ToLower(strings.TrimSpace(external))
	entry, ok := b.def.Params().Resolve(external)
	if !ok {
		kind := stateapi.UnrecognisedOption
		msg := fmt.Sprintf("%q is not a %s option", external, b.stage)
		if b.registry.knowsExternal(b.stage, external) {
			kind = stateapi.FieldNotInVariant
			msg = fmt.Sprintf("%q is not available for %s", external, b.def.Variant())
		}
		return b.reject(key, stateapi.Issue{Stage: b.stage, Field: external, Kind: kind, Message: msg})
	}
	field := b.fields[entry.Internal]
	if raw == nil && entry.Optional {
		field.Clear()
		delete(b.rejected, key)
		return nil
	}
	if err := field.Set(entry.Translate(raw)); err != nil {
		var issue *stateapi.Issue
		if !errors.As(err, &issue) {
			return err
		}
		rejected := *issue
		rejected.Stage = b.stage
		return b.reject(key, rejected)
	}
	delete(b.rejected, key)
	return nil
}

func (b *Builder) reject(key string, issue stateapi.Issue) error {
	b.rejected[key] = issue
	return &issue
}

// Build runs derivations, validates, and on success freezes the builder.
// Every problem is returned at once; a frozen builder returns its record.
func (b *Builder) Build(ctx context.Context, env stateapi.Environment) (stateapi.Record, stateapi.Issues) {
	switch b.phase {
	case PhaseUnselected:
		return stateapi.Record{}, stateapi.Issues{{
			Stage:   b.stage,
			Kind:    stateapi.NoVariantForInstrument,
			Message: "no facility and instrument selected",
		}}
	case PhaseFacilitySet:
		return stateapi.Record{}, stateapi.Issues{*b.fatal}
	case PhaseFrozen:
		return b.record, nil
	}

	var issues stateapi.Issues
	for _, issue := range b.rejected {
		issues = append(issues, issue)
	}
	working := stateapi.CloneFields(b.order)
	issues = append(issues, b.derive(ctx, working, env)...)
	rec := b.def.Snapshot(working)
	issues = append(issues, rec.Validate()...)
	b.phase = PhaseValidated
	if len(issues) > 0 {
		issues = issues.WithStage(b.stage)
		issues.Sort()
		return stateapi.Record{}, issues
	}
	b.phase = PhaseFrozen
	b.record = rec
	return rec, nil
}

func (b *Builder) derive(ctx context.Context, working []*stateapi.Field, env stateapi.Environment) stateapi.Issues {
	byName := make(map[string]*stateapi.Field, len(working))
	for _, f := range working {
		byName[f.Name()] = f
	}
	var issues stateapi.Issues
	for _, d := range b.def.Derivations() {
		if err := ctx.Err(); err != nil {
			issues = append(issues, derivationIssue(d.Name, err))
			continue
		}
		values, err := d.Derive(ctx, b.def.Snapshot(working), env)
		if err != nil {
			issues = append(issues, derivationIssue(d.Name, err))
			continue
		}
		for _, target := range d.Targets {
			v, ok := values[target]
			if !ok {
				continue
			}
			if err := byName[target].Set(v); err != nil {
				issues = append(issues, derivationIssue(d.Name, err))
			}
		}
	}
	return issues
}

func derivationIssue(name string, err error) stateapi.Issue {
	return stateapi.Issue{Kind: stateapi.DerivationFailed, Message: fmt.Sprintf("%s: %v", name, err)}
}
