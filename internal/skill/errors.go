package skill

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	// ErrMissingParameter is returned when a required parameter is absent.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrTypeMismatch is returned when a parameter value has the wrong type.
	ErrTypeMismatch = errors.New("parameter type mismatch")

	// ErrTemplateResolution is returned when a template references a
	// variable absent from the resolved scope, or cannot be parsed.
	ErrTemplateResolution = errors.New("template resolution failed")

	// ErrNotFound is returned when a skill id is unknown to the registry.
	ErrNotFound = errors.New("skill not found")
)

// MissingParameterError reports an absent required parameter.
type MissingParameterError struct {
	SkillID   string
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("skill %s: parameter %q is required", e.SkillID, e.Parameter)
}

func (e *MissingParameterError) Unwrap() error { return ErrMissingParameter }

// TypeMismatchError reports a parameter value of the wrong type.
type TypeMismatchError struct {
	SkillID   string
	Parameter string
	Want      ParamType
	Got       string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("skill %s: parameter %q: want %s, got %s", e.SkillID, e.Parameter, e.Want, e.Got)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// TemplateResolutionError reports a template that could not be resolved
// against the execution scope.
type TemplateResolutionError struct {
	Expr   string
	Reason string
}

func (e *TemplateResolutionError) Error() string {
	return fmt.Sprintf("template %q: %s", e.Expr, e.Reason)
}

func (e *TemplateResolutionError) Unwrap() error { return ErrTemplateResolution }
