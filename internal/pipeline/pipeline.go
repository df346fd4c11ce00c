// Package pipeline runs a frozen reduction state against an external
// execution engine, one stage step at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"reductioncore/internal/state"
	"reductioncore/internal/telemetry"
	"reductioncore/pkg/stateapi"
)

// Plan errors.
var (
	ErrNoState       = errors.New("pipeline: no reduction state")
	ErrNoSteps       = errors.New("pipeline: no steps")
	ErrUnknownStage  = errors.New("pipeline: unknown stage")
	ErrMissingRecord = errors.New("pipeline: stage has no record")
)

// Step names one stage to run. Algorithm defaults to the stage key.
type Step struct {
	Stage     stateapi.StageKey `json:"stage" yaml:"stage"`
	Algorithm string            `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
}

func (s Step) algorithm() string {
	if s.Algorithm != "" {
		return s.Algorithm
	}
	return string(s.Stage)
}

// ParseSteps turns stage names into steps.
func ParseSteps(names []string) ([]Step, error) {
	out := make([]Step, 0, len(names))
	for _, name := range names {
		stage := stateapi.StageKey(strings.ToLower(strings.TrimSpace(name)))
		if !state.KnownStage(stage) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
		out = append(out, Step{Stage: stage})
	}
	return out, nil
}

// DefaultSteps returns one step per populated slot, in stage order.
func DefaultSteps(all *state.AllStates) []Step {
	stages := all.Stages()
	out := make([]Step, 0, len(stages))
	for _, stage := range stages {
		out = append(out, Step{Stage: stage})
	}
	return out
}

// StageRequest is what the execution engine receives for one step. Arguments
// is a private copy of the stage record's property map.
type StageRequest struct {
	JobID     string
	Index     int
	Step      Step
	Variant   stateapi.VariantKey
	Arguments stateapi.PropertyMap
}

// StageResult is the engine's answer for one step.
type StageResult struct {
	Outputs map[string]string
	Message string
}

// Runner executes one step. It is supplied by the execution engine.
type Runner func(ctx context.Context, req StageRequest) (StageResult, error)

// StepError reports the step the engine failed on.
type StepError struct {
	Index int
	Stage stateapi.StageKey
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline: step %d (%s): %v", e.Index, e.Stage, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepOutcome records one completed step.
type StepOutcome struct {
	Step     Step
	Result   StageResult
	Duration time.Duration
}

// Summary describes a run. Steps holds the completed steps only.
type Summary struct {
	JobID    string
	Steps    []StepOutcome
	Duration time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer("reductioncore/pipeline")
		}
	}
}

// Orchestrator feeds stage records to a Runner in step order. It never
// mutates the AllStates it is given and may be shared by goroutines.
type Orchestrator struct {
	runner  Runner
	logger  *slog.Logger
	metrics telemetry.MetricsRecorder
	tracer  trace.Tracer
}

// New constructs an orchestrator around runner.
func New(runner Runner, opts ...Option) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("pipeline: runner required")
	}
	o := &Orchestrator{
		runner:  runner,
		logger:  slog.New(slog.DiscardHandler),
		metrics: telemetry.Nop(),
		tracer:  otel.Tracer("reductioncore/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Plan checks every step against all and returns the requests in order.
// Nothing runs when any step is invalid.
func (o *Orchestrator) Plan(jobID string, all *state.AllStates, steps []Step) ([]StageRequest, error) {
	if all == nil {
		return nil, ErrNoState
	}
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	var errs []error
	reqs := make([]StageRequest, 0, len(steps))
	for i, step := range steps {
		if !state.KnownStage(step.Stage) {
			errs = append(errs, fmt.Errorf("step %d: %w: %s", i, ErrUnknownStage, step.Stage))
			continue
		}
		rec, ok := all.Record(step.Stage)
		if !ok {
			errs = append(errs, fmt.Errorf("step %d: %w: %s", i, ErrMissingRecord, step.Stage))
			continue
		}
		reqs = append(reqs, StageRequest{
			JobID:     jobID,
			Index:     i,
			Step:      step,
			Variant:   rec.Variant(),
			Arguments: rec.ToMap(),
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reqs, nil
}

// Run plans the steps and executes them in order, stopping at the first
// engine failure or context cancellation. An empty jobID gets a generated
// one.
func (o *Orchestrator) Run(ctx context.Context, jobID string, all *state.AllStates, steps []Step) (Summary, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	start := time.Now()
	summary := Summary{JobID: jobID}
	reqs, err := o.Plan(jobID, all, steps)
	if err != nil {
		return summary, err
	}
	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("job_id", jobID),
		attribute.Int("steps", len(reqs)),
	))
	defer span.End()

	o.logger.InfoContext(ctx, "pipeline started", slog.String("job_id", jobID), slog.Int("steps", len(reqs)))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			o.finish(ctx, &summary, start, false)
			return summary, err
		}
		outcome, err := o.runStep(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.ErrorContext(ctx, "pipeline step failed",
				slog.String("job_id", jobID),
				slog.Int("step", req.Index),
				slog.String("stage", string(req.Step.Stage)),
				slog.String("error", err.Error()),
			)
			o.finish(ctx, &summary, start, false)
			return summary, &StepError{Index: req.Index, Stage: req.Step.Stage, Err: err}
		}
		summary.Steps = append(summary.Steps, outcome)
	}
	span.SetStatus(codes.Ok, "")
	o.finish(ctx, &summary, start, true)
	o.logger.InfoContext(ctx, "pipeline completed", slog.String("job_id", jobID), slog.Duration("duration", summary.Duration))
	return summary, nil
}

func (o *Orchestrator) finish(ctx context.Context, summary *Summary, start time.Time, ok bool) {
	summary.Duration = time.Since(start)
	o.metrics.Observe(ctx, "pipeline_run", ok, summary.Duration)
}

func (o *Orchestrator) runStep(ctx context.Context, req StageRequest) (StepOutcome, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.Int("index", req.Index),
		attribute.String("stage", string(req.Step.Stage)),
		attribute.String("algorithm", req.Step.algorithm()),
		attribute.String("variant", req.Variant.String()),
	))
	defer span.End()

	begin := time.Now()
	result, err := o.runner(ctx, req)
	elapsed := time.Since(begin)
	o.metrics.Observe(ctx, "pipeline_step", err == nil, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StepOutcome{}, err
	}
	o.logger.DebugContext(ctx, "pipeline step completed",
		slog.Int("step", req.Index),
		slog.String("stage", string(req.Step.Stage)),
		slog.Duration("duration", elapsed),
	)
	return StepOutcome{Step: req.Step, Result: result, Duration: elapsed}, nil
}

// DryRunRunner writes each request to w instead of executing it.
func DryRunRunner(w io.Writer) Runner {
	return func(ctx context.Context, req StageRequest) (StageResult, error) {
		if err := ctx.Err(); err != nil {
			return StageResult{}, err
		}
		if _, err := fmt.Fprintf(w, "step %d: %s (%s) on %s\n", req.Index, req.Step.algorithm(), req.Step.Stage, req.Variant); err != nil {
			return StageResult{}, err
		}
		for _, key := range req.Arguments.Keys() {
			if _, err := fmt.Fprintf(w, "  %s = %s\n", key, stateapi.Stringify(req.Arguments[key])); err != nil {
				return StageResult{}, err
			}
		}
		return StageResult{Message: "dry run"}, nil
	}
}
