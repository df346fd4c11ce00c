// Package settings reads the declarative YAML settings document a user
// writes for one reduction job and turns it into director inputs.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"reductioncore/internal/state"
	"reductioncore/pkg/stateapi"
)

// ErrInvalidDocument is wrapped by every structural validation failure.
var ErrInvalidDocument = errors.New("settings: invalid document")

// Selector picks the facility variant for one stage.
type Selector struct {
	Facility   string `yaml:"facility" validate:"required"`
	Instrument string `yaml:"instrument" validate:"required"`
}

// Document is the settings file layout.
//
//	job: run-42
//	facility: ISIS
//	instrument: SANS2D
//	stages:
//	  data: {sample: SANS2D00022048}
//	  wavelength: {low: 2.0, high: 10.0, step: 0.1}
//	overrides:
//	  move: {facility: ISIS, instrument: SANS2D}
//	steps: [data, move, wavelength]
type Document struct {
	Job        string                    `yaml:"job,omitempty" validate:"omitempty,max=128,printascii"`
	Facility   string                    `yaml:"facility" validate:"required"`
	Instrument string                    `yaml:"instrument" validate:"required"`
	Stages     map[string]map[string]any `yaml:"stages" validate:"required,min=1,dive,keys,stagekey,endkeys"`
	Overrides  map[string]Selector       `yaml:"overrides,omitempty" validate:"omitempty,dive,keys,stagekey,endkeys"`
	Steps      []string                  `yaml:"steps,omitempty" validate:"omitempty,dive,stagekey"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerStageTag(v, "stagekey"); err != nil {
		panic(fmt.Sprintf("settings: %v", err))
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// registerStageTag installs the stage-name check under tag.
func registerStageTag(v *validator.Validate, tag string) error {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return state.KnownStage(normalizeStage(fl.Field().String()))
	})
	if err != nil {
		return fmt.Errorf("register %q validation: %w", tag, err)
	}
	return nil
}

func normalizeStage(name string) stateapi.StageKey {
	return stateapi.StageKey(strings.ToLower(strings.TrimSpace(name)))
}

// Load reads and validates the document at path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	doc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates an in-memory document.
func Parse(data []byte) (*Document, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one YAML document from r. Unknown top-level keys are rejected.
func Decode(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document structure. Field values are checked later by
// the stage builders.
func (d *Document) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Document.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must not be empty"
	case "stagekey":
		return fmt.Sprintf("%s: %q is not a reduction stage", field, fe.Value())
	default:
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}

// Inputs flattens the stage settings into director inputs ordered by stage
// and then by setting name.
func (d *Document) Inputs() []state.Input {
	stages := make([]string, 0, len(d.Stages))
	for s := range d.Stages {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool {
		return stageRank(normalizeStage(stages[i])) < stageRank(normalizeStage(stages[j]))
	})
	var out []state.Input
	for _, s := range stages {
		values := d.Stages[s]
		names := make([]string, 0, len(values))
		for n := range values {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, state.Input{Stage: normalizeStage(s), Field: n, Value: values[n]})
		}
	}
	return out
}

func stageRank(stage stateapi.StageKey) int {
	for i, s := range state.StageOrder {
		if s == stage {
			return i
		}
	}
	return len(state.StageOrder)
}

// Selector returns the variant selector for stage, honouring overrides.
func (d *Document) Selector(stage stateapi.StageKey) Selector {
	for name, sel := range d.Overrides {
		if normalizeStage(name) == stage {
			return sel
		}
	}
	return Selector{Facility: d.Facility, Instrument: d.Instrument}
}

// Configure creates a director with one builder per stage, selects each
// stage variant and applies every input. Variant and value problems are
// recorded on the builders and reported by BuildAll; only misuse is
// returned here.
func (d *Document) Configure(opts ...state.Option) (*state.Director, error) {
	dir := state.NewDirector(opts...)
	var errs []error
	for _, stage := range state.StageOrder {
		sel := d.Selector(stage)
		if err := dir.SelectStage(stage, sel.Facility, sel.Instrument); err != nil && !deferred(err) {
			errs = append(errs, err)
		}
	}
	for _, in := range d.Inputs() {
		if err := dir.Set(in.Stage, in.Field, in.Value); err != nil && !deferred(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return dir, nil
}

func deferred(err error) bool {
	var issue *stateapi.Issue
	return errors.As(err, &issue) || errors.Is(err, state.ErrNotSelected)
}
