package stateapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Rule is a cross-field invariant evaluated by Record.Validate. Issues
// without a Kind are reported as InterStageConstraintViolated.
type Rule struct {
	Name  string
	Check func(r Record) Issues
}

// Derivation computes derived fields at build time from the fields supplied
// so far and the build environment.
type Derivation struct {
	Name    string
	Targets []string
	Derive  func(ctx context.Context, current Record, env Environment) (map[string]any, error)
}

// DetectorGeometry is the facility-registry answer for an instrument run.
type DetectorGeometry struct {
	Instrument    string   `json:"instrument"`
	Run           int      `json:"run"`
	DetectorCount int      `json:"detector_count"`
	SpectrumCount int      `json:"spectrum_count"`
	SampleOffset  float64  `json:"sample_offset"`
	Detectors     []string `json:"detectors,omitempty"`
}

// ErrGeometryNotFound is returned by lookups that hold no entry for a run.
var ErrGeometryNotFound = errors.New("stateapi: detector geometry not found")

// GeometryLookup resolves detector geometry for an instrument and run number.
// Implementations may block on disk or network access.
type GeometryLookup interface {
	Geometry(ctx context.Context, instrument string, run int) (DetectorGeometry, error)
}

// Environment carries pre-resolved collaborators into derivations.
type Environment struct {
	Geometry GeometryLookup
	// Upstream holds records built earlier in the same job.
	Upstream map[StageKey]Record
}

// Record returns an upstream record for stage.
func (e Environment) Record(stage StageKey) (Record, bool) {
	r, ok := e.Upstream[stage]
	return r, ok && !r.IsZero()
}

// DefinitionConfig describes a stage definition before validation.
type DefinitionConfig struct {
	Stage       StageKey
	Variant     VariantKey
	Fields      []FieldSpec
	Params      []ParamMapEntry
	Rules       []Rule
	Derivations []Derivation
}

// Definition is the immutable schema of one stage for one variant.
type Definition struct {
	stage       StageKey
	variant     VariantKey
	fields      []FieldSpec
	index       map[string]int
	params      ParamMap
	rules       []Rule
	derivations []Derivation
}

// NewDefinition validates cfg: field names are unique, every non-derived
// field is reachable through exactly one param entry, derived fields are not
// mapped, derivation targets are derived fields and defaults satisfy their
// own specs.
func NewDefinition(cfg DefinitionConfig) (*Definition, error) {
	if strings.TrimSpace(string(cfg.Stage)) == "" {
		return nil, errors.New("stateapi: definition stage required")
	}
	def := &Definition{
		stage:   cfg.Stage,
		variant: cfg.Variant,
		index:   make(map[string]int, len(cfg.Fields)),
	}
	for _, spec := range cfg.Fields {
		if _, dup := def.index[spec.Name]; dup {
			return nil, fmt.Errorf("stateapi: %s declares field %s twice", cfg.Stage, spec.Name)
		}
		if _, err := NewField(spec); err != nil {
			return nil, fmt.Errorf("stateapi: %s: %w", cfg.Stage, err)
		}
		def.index[spec.Name] = len(def.fields)
		def.fields = append(def.fields, cloneSpec(spec))
	}
	params, err := NewParamMap(cfg.Params...)
	if err != nil {
		return nil, fmt.Errorf("stateapi: %s: %w", cfg.Stage, err)
	}
	for _, entry := range params.Entries() {
		spec, ok := def.Field(entry.Internal)
		if !ok {
			return nil, fmt.Errorf("stateapi: %s maps %s to unknown field %s", cfg.Stage, entry.External, entry.Internal)
		}
		if spec.Derived {
			return nil, fmt.Errorf("stateapi: %s maps %s to derived field %s", cfg.Stage, entry.External, entry.Internal)
		}
	}
	for _, spec := range def.fields {
		_, mapped := params.External(spec.Name)
		if !spec.Derived && !mapped {
			return nil, fmt.Errorf("stateapi: %s field %s has no external name", cfg.Stage, spec.Name)
		}
	}
	for _, d := range cfg.Derivations {
		if d.Derive == nil {
			return nil, fmt.Errorf("stateapi: %s derivation %s has no function", cfg.Stage, d.Name)
		}
		for _, target := range d.Targets {
			spec, ok := def.Field(target)
			if !ok || !spec.Derived {
				return nil, fmt.Errorf("stateapi: %s derivation %s targets non-derived field %s", cfg.Stage, d.Name, target)
			}
		}
	}
	for _, rule := range cfg.Rules {
		if rule.Check == nil {
			return nil, fmt.Errorf("stateapi: %s rule %s has no check", cfg.Stage, rule.Name)
		}
	}
	def.params = params
	def.rules = append([]Rule(nil), cfg.Rules...)
	def.derivations = append([]Derivation(nil), cfg.Derivations...)
	return def, nil
}

// MustDefinition is NewDefinition for static tables; it panics on error.
func MustDefinition(cfg DefinitionConfig) *Definition {
	def, err := NewDefinition(cfg)
	if err != nil {
		panic(err)
	}
	return def
}

// Stage returns the stage key.
func (d *Definition) Stage() StageKey { return d.stage }

// Variant returns the facility/instrument key.
func (d *Definition) Variant() VariantKey { return d.variant }

// Params returns the name table.
func (d *Definition) Params() ParamMap { return d.params }

// Field returns the spec for an internal field name.
func (d *Definition) Field(name string) (FieldSpec, bool) {
	idx, ok := d.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return cloneSpec(d.fields[idx]), true
}

// Fields returns the specs in declaration order.
func (d *Definition) Fields() []FieldSpec {
	out := make([]FieldSpec, len(d.fields))
	for i := range d.fields {
		out[i] = cloneSpec(d.fields[i])
	}
	return out
}

// Derivations returns the build-time derivations in declaration order.
func (d *Definition) Derivations() []Derivation {
	return append([]Derivation(nil), d.derivations...)
}

// NewFields returns fresh fields with defaults applied, in declaration order.
func (d *Definition) NewFields() []*Field {
	out := make([]*Field, 0, len(d.fields))
	for _, spec := range d.fields {
		f, err := NewField(spec)
		if err != nil {
			// Specs were checked by NewDefinition.
			panic(err)
		}
		out = append(out, f)
	}
	return out
}

// Snapshot captures the values of fields into an immutable Record. Fields
// that do not belong to the definition are ignored.
func (d *Definition) Snapshot(fields []*Field) Record {
	values := make(map[string]any, len(fields))
	for _, f := range fields {
		if _, ok := d.index[f.Name()]; !ok {
			continue
		}
		if v, ok := f.Get(); ok {
			values[f.Name()] = v
		}
	}
	return Record{def: d, values: values}
}

// CloneFields deep-copies a field set.
func CloneFields(fields []*Field) []*Field {
	out := make([]*Field, len(fields))
	for i, f := range fields {
		out[i] = f.clone()
	}
	return out
}
