package stateapi

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// IssueKind classifies a validation or configuration problem.
type IssueKind string

// Issue kinds.
const (
	TypeMismatch                 IssueKind = "TypeMismatch"
	OutOfBounds                  IssueKind = "OutOfBounds"
	InvalidEnum                  IssueKind = "InvalidEnum"
	UnrecognisedOption           IssueKind = "UnrecognisedOption"
	MissingRequiredField         IssueKind = "MissingRequiredField"
	FieldNotInVariant            IssueKind = "FieldNotInVariant"
	NoVariantForInstrument       IssueKind = "NoVariantForInstrument"
	AmbiguousVariant             IssueKind = "AmbiguousVariant"
	DerivationFailed             IssueKind = "DerivationFailed"
	InterStageConstraintViolated IssueKind = "InterStageConstraintViolated"
	SerializationFailed          IssueKind = "SerializationError"
)

// Sentinel errors matching each issue kind through errors.Is.
var (
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrOutOfBounds          = errors.New("value out of bounds")
	ErrInvalidEnum          = errors.New("invalid enumeration value")
	ErrUnrecognisedOption   = errors.New("unrecognised option")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrFieldNotInVariant    = errors.New("field not in variant")
	ErrNoVariant            = errors.New("no variant for instrument")
	ErrAmbiguousVariant     = errors.New("ambiguous variant")
	ErrDerivationFailed     = errors.New("derivation failed")
	ErrConstraintViolated   = errors.New("constraint violated")
	ErrSerialization        = errors.New("serialization error")
)

var kindSentinels = map[IssueKind]error{
	TypeMismatch:                 ErrTypeMismatch,
	OutOfBounds:                  ErrOutOfBounds,
	InvalidEnum:                  ErrInvalidEnum,
	UnrecognisedOption:           ErrUnrecognisedOption,
	MissingRequiredField:         ErrMissingRequiredField,
	FieldNotInVariant:            ErrFieldNotInVariant,
	NoVariantForInstrument:       ErrNoVariant,
	AmbiguousVariant:             ErrAmbiguousVariant,
	DerivationFailed:             ErrDerivationFailed,
	InterStageConstraintViolated: ErrConstraintViolated,
	SerializationFailed:          ErrSerialization,
}

// Recoverable reports whether the caller may retry the same Set with a
// corrected value.
func (k IssueKind) Recoverable() bool {
	switch k {
	case TypeMismatch, OutOfBounds, InvalidEnum:
		return true
	}
	return false
}

// Issue is one row of a validation report. Field is empty for inter-stage,
// variant and derivation issues.
type Issue struct {
	Stage   StageKey  `json:"stage"`
	Field   string    `json:"field,omitempty"`
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
}

// NewIssue constructs an issue without a stage; builders stamp the stage.
func NewIssue(field string, kind IssueKind, format string, args ...any) *Issue {
	return &Issue{Field: field, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (i *Issue) Error() string {
	var b strings.Builder
	if i.Stage != "" {
		b.WriteString(string(i.Stage))
		if i.Field != "" {
			b.WriteByte('.')
		}
	}
	b.WriteString(i.Field)
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(string(i.Kind))
	if i.Message != "" {
		b.WriteString(": ")
		b.WriteString(i.Message)
	}
	return b.String()
}

// Unwrap exposes the sentinel for the issue kind.
func (i *Issue) Unwrap() error { return kindSentinels[i.Kind] }

// Issues is a batch of validation problems. A nil or empty Issues means
// success.
type Issues []Issue

// Err returns nil for an empty batch and the batch itself otherwise.
func (is Issues) Err() error {
	if len(is) == 0 {
		return nil
	}
	return is
}

func (is Issues) Error() string {
	parts := make([]string, 0, len(is))
	for i := range is {
		parts = append(parts, is[i].Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes every issue so errors.Is can match any contained kind.
func (is Issues) Unwrap() []error {
	out := make([]error, 0, len(is))
	for i := range is {
		issue := is[i]
		out = append(out, &issue)
	}
	return out
}

// HasKind reports whether any issue is of the given kind.
func (is Issues) HasKind(kind IssueKind) bool {
	return is.Count(kind) > 0
}

// Count returns the number of issues of the given kind.
func (is Issues) Count(kind IssueKind) int {
	n := 0
	for _, issue := range is {
		if issue.Kind == kind {
			n++
		}
	}
	return n
}

// WithStage returns a copy with Stage set on every issue that lacks one.
func (is Issues) WithStage(stage StageKey) Issues {
	if len(is) == 0 {
		return nil
	}
	out := make(Issues, len(is))
	copy(out, is)
	for i := range out {
		if out[i].Stage == "" {
			out[i].Stage = stage
		}
	}
	return out
}

// Sort orders issues by stage, field, kind and message in place.
func (is Issues) Sort() {
	sort.SliceStable(is, func(i, j int) bool {
		a, b := is[i], is[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Message < b.Message
	})
}

// SerializationError reports why a PropertyMap could not be turned back into
// a Record.
type SerializationError struct {
	Stage  StageKey
	Issues Issues
}

func (e *SerializationError) Error() string {
	if e.Stage == "" {
		return "stateapi: cannot decode state: " + e.Issues.Error()
	}
	return fmt.Sprintf("stateapi: cannot decode %s state: %s", e.Stage, e.Issues.Error())
}

// Unwrap exposes ErrSerialization and every contained issue.
func (e *SerializationError) Unwrap() []error {
	return append([]error{ErrSerialization}, e.Issues.Unwrap()...)
}
