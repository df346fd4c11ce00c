package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reductioncore/internal/telemetry"
	"reductioncore/pkg/stateapi"
)

// Director errors.
var (
	ErrDuplicateStage = errors.New("state: stage already has a builder")
	ErrStageMismatch  = errors.New("state: builder stage does not match slot")
	ErrUnknownStage   = errors.New("state: unknown stage")
	ErrNoBuilder      = errors.New("state: stage has no builder")
)

// Input is one raw user setting addressed to a stage.
type Input struct {
	Stage stateapi.StageKey
	Field string
	Value any
}

// Option configures a Director.
type Option func(*Director)

// WithRegistry overrides the variant registry used by builders the director
// creates.
func WithRegistry(r *Registry) Option {
	return func(d *Director) {
		if r != nil {
			d.registry = r
		}
	}
}

// WithGeometry sets the lookup passed to derivations.
func WithGeometry(g stateapi.GeometryLookup) Option {
	return func(d *Director) { d.geometry = g }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Director) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.MetricsRecorder) Option {
	return func(d *Director) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Director composes one builder per stage into an AllStates aggregate.
type Director struct {
	registry *Registry
	geometry stateapi.GeometryLookup
	logger   *slog.Logger
	metrics  telemetry.MetricsRecorder
	builders map[stateapi.StageKey]*Builder
}

// NewDirector constructs an empty director.
func NewDirector(opts ...Option) *Director {
	d := &Director{
		registry: DefaultRegistry(),
		logger:   slog.New(slog.DiscardHandler),
		metrics:  telemetry.Nop(),
		builders: make(map[stateapi.StageKey]*Builder),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddBuilder places b in the slot for stage.
func (d *Director) AddBuilder(stage stateapi.StageKey, b *Builder) error {
	if !KnownStage(stage) {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	if b == nil || b.Stage() != stage {
		return fmt.Errorf("%w: %s", ErrStageMismatch, stage)
	}
	if _, dup := d.builders[stage]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, stage)
	}
	d.builders[stage] = b
	return nil
}

// Builder returns the builder in a stage slot.
func (d *Director) Builder(stage stateapi.StageKey) (*Builder, bool) {
	b, ok := d.builders[stage]
	return b, ok
}

// Select creates missing builders for every registered stage and selects the
// variant on each. Variant lookup failures stay with the stage and surface
// from BuildAll; misuse errors such as ErrReselect are returned joined.
func (d *Director) Select(facility, instrument string) error {
	var errs []error
	for _, stage := range d.registry.Stages() {
		if err := d.SelectStage(stage, facility, instrument); err != nil && errors.Is(err, ErrReselect) {
			errs = append(errs, fmt.Errorf("%s: %w", stage, err))
		}
	}
	return errors.Join(errs...)
}

// SelectStage selects the variant of one stage, creating its builder when the
// slot is empty.
func (d *Director) SelectStage(stage stateapi.StageKey, facility, instrument string) error {
	b, ok := d.builders[stage]
	if !ok {
		b = NewBuilder(d.registry, stage)
		if err := d.AddBuilder(stage, b); err != nil {
			return err
		}
	}
	return b.Select(facility, instrument)
}

// Set forwards one raw setting to the stage builder.
func (d *Director) Set(stage stateapi.StageKey, field string, value any) error {
	b, ok := d.builders[stage]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBuilder, stage)
	}
	return b.Set(field, value)
}

// Apply forwards every input and returns the rejected ones joined. Inputs are
// applied in order, so later values for a field overwrite earlier ones.
func (d *Director) Apply(inputs []Input) error {
	var errs []error
	for _, in := range inputs {
		if err := d.Set(in.Stage, in.Field, in.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildAll builds every stage in StageOrder without short-circuiting and,
// when every stage succeeded, checks the inter-stage rules. The aggregate is
// returned only on full success.
func (d *Director) BuildAll(ctx context.Context) (*AllStates, Report) {
	start := time.Now()
	upstream := make(map[stateapi.StageKey]stateapi.Record, len(d.builders))
	var report Report
	for _, stage := range StageOrder {
		b, ok := d.builders[stage]
		if !ok {
			continue
		}
		env := stateapi.Environment{Geometry: d.geometry, Upstream: copyRecords(upstream)}
		rec, issues := b.Build(ctx, env)
		report.Stages = append(report.Stages, StageReport{Stage: stage, Issues: issues})
		if len(issues) == 0 {
			upstream[stage] = rec
		}
	}
	var all *AllStates
	if report.stageIssueCount() == 0 {
		candidate := newAllStates(upstream)
		report.InterStage = candidate.interStageIssues()
		report.InterStage.Sort()
		if len(report.InterStage) == 0 {
			all = candidate
		}
	}
	ok := all != nil
	d.metrics.Observe(ctx, "build_all", ok, time.Since(start))
	if ok {
		d.logger.DebugContext(ctx, "reduction state built", "stages", all.Len())
	} else {
		d.logger.DebugContext(ctx, "reduction state rejected", "failed_stages", report.Failed(), "issues", len(report.Issues()))
	}
	return all, report
}

func copyRecords(in map[stateapi.StageKey]stateapi.Record) map[stateapi.StageKey]stateapi.Record {
	out := make(map[stateapi.StageKey]stateapi.Record, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StageReport lists the issues of one stage; an empty list means the stage
// built.
type StageReport struct {
	Stage  stateapi.StageKey `json:"stage"`
	Issues stateapi.Issues   `json:"issues"`
}

// Report is the outcome of BuildAll.
type Report struct {
	Stages     []StageReport   `json:"stages"`
	InterStage stateapi.Issues `json:"inter_stage,omitempty"`
}

func (r Report) stageIssueCount() int {
	n := 0
	for _, s := range r.Stages {
		n += len(s.Issues)
	}
	return n
}

// OK reports full success.
func (r Report) OK() bool {
	return r.stageIssueCount() == 0 && len(r.InterStage) == 0
}

// For returns the issues of one stage.
func (r Report) For(stage stateapi.StageKey) stateapi.Issues {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s.Issues
		}
	}
	return nil
}

// Failed returns the stages with issues, in build order.
func (r Report) Failed() []stateapi.StageKey {
	var out []stateapi.StageKey
	for _, s := range r.Stages {
		if len(s.Issues) > 0 {
			out = append(out, s.Stage)
		}
	}
	return out
}

// Issues flattens the report in build order.
func (r Report) Issues() stateapi.Issues {
	var out stateapi.Issues
	for _, s := range r.Stages {
		out = append(out, s.Issues...)
	}
	return append(out, r.InterStage...)
}

// Err returns nil on success and a *BuildError otherwise.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	return &BuildError{Report: r}
}

// BuildError wraps a failed Report.
type BuildError struct {
	Report Report
}

func (e *BuildError) Error() string {
	issues := e.Report.Issues()
	parts := make([]string, 0, len(issues))
	for i := range issues {
		parts = append(parts, issues[i].Error())
	}
	return fmt.Sprintf("state: build failed with %d issue(s): %s", len(issues), strings.Join(parts, "; "))
}

// Unwrap exposes every issue to errors.Is.
func (e *BuildError) Unwrap() []error {
	return e.Report.Issues().Unwrap()
}
