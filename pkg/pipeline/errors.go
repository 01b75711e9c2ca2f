package pipeline

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-gentpl/internal/callsite"
)

// ErrUnresolvedPlaceholder reports a placeholder that an evaluator-time
// expression altered so it no longer matches a collected prompt.
var ErrUnresolvedPlaceholder = errors.New("placeholder altered before interpolation")

// Phase names a stage of a render.
type Phase string

const (
	PhaseCollect     Phase = "collect"
	PhaseGenerate    Phase = "generate"
	PhaseInterpolate Phase = "interpolate"
)

// ParseError reports a template that could not be constructed. Line and
// Column are set when the failure points at a source position.
type ParseError struct {
	Name   string
	Line   int
	Column int
	Err    error
}

func newParseError(name string, err error) *ParseError {
	pe := &ParseError{Name: name, Err: err}
	var syntax *callsite.SyntaxError
	if errors.As(err, &syntax) {
		pe.Line = syntax.Line
		pe.Column = syntax.Column
	}
	return pe
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pipeline: parse template %q: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RenderError is the single failure kind of a render. Phase tells which stage
// failed; Filter names the failing filter during interpolation.
type RenderError struct {
	Phase  Phase
	Filter string
	Err    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Filter != "" {
		return fmt.Sprintf("pipeline: render failed in %s phase: filter %q: %v", e.Phase, e.Filter, e.Err)
	}
	return fmt.Sprintf("pipeline: render failed in %s phase: %v", e.Phase, e.Err)
}

func (e *RenderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StructuredOutputError reports rendered output that does not parse in the
// requested format. Output holds the offending text.
type StructuredOutputError struct {
	Format string
	Output string
	Err    error
}

func (e *StructuredOutputError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pipeline: rendered output is not valid %s: %v", e.Format, e.Err)
}

func (e *StructuredOutputError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
