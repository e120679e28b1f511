// Package coerce turns raw extracted text into typed field values.
//
// A Pipeline is an ordered list of stages applied left to right. Stages are
// best effort: a stage that cannot parse its input returns the zero value for
// its output type together with a *ParseError. In Lenient mode the pipeline
// keeps going with that zero value; in Strict mode the error is returned.
package coerce

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every *ParseError.
var ErrParse = errors.New("parse failure")

// ParseError reports a value a stage could not convert.
type ParseError struct {
	Stage string
	Value any
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: cannot parse %q", e.Stage, fmt.Sprint(e.Value))
	}
	return fmt.Sprintf("%s: cannot parse %q: %v", e.Stage, fmt.Sprint(e.Value), e.Err)
}

// Unwrap exposes both ErrParse and the underlying cause.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

func parseErr(stage string, value any, err error) error {
	return &ParseError{Stage: stage, Value: value, Err: err}
}

// Mode selects how a Pipeline reacts to stage failures.
type Mode int

// Coercion modes.
const (
	// Lenient continues with the failing stage's zero value.
	Lenient Mode = iota
	// Strict stops at the first failure and returns it.
	Strict
)

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "lenient"
}

// Stage transforms a value or passes it through unchanged.
type Stage func(v any) (any, error)

// Pipeline is an ordered list of stages.
type Pipeline []Stage

// Apply runs every stage in order.
func (p Pipeline) Apply(v any, mode Mode) (any, error) {
	for _, stage := range p {
		out, err := stage(v)
		if err != nil && mode == Strict {
			return out, err
		}
		v = out
	}
	return v, nil
}

// Then returns a copy of p with stages appended.
func (p Pipeline) Then(stages ...Stage) Pipeline {
	out := make(Pipeline, 0, len(p)+len(stages))
	out = append(out, p...)
	return append(out, stages...)
}

// Stage collapses the pipeline into a single stage so it can be nested, e.g.
// inside TakeFirstNonEmpty.
func (p Pipeline) Stage(mode Mode) Stage {
	return func(v any) (any, error) {
		return p.Apply(v, mode)
	}
}

// IsEmpty reports whether v carries no extracted value. Numeric zero and false
// are real values and are not empty.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []byte:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case interface{ IsZero() bool }:
		return t.IsZero()
	default:
		return false
	}
}
