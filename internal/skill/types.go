package skill

import (
	"fmt"
	"time"
)

// RiskLevel rates the blast radius of running a skill.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ErrorPolicy controls what the engine does when a step fails.
type ErrorPolicy string

const (
	// PolicyAbort stops the skill, retaining partial results. Default.
	PolicyAbort ErrorPolicy = "abort"
	// PolicyContinue records the failure and moves to the next step.
	PolicyContinue ErrorPolicy = "continue"
	// PolicyRetry re-attempts the step up to RetryCount times.
	PolicyRetry ErrorPolicy = "retry"
)

// Backoff selects the retry delay curve.
type Backoff string

const (
	// BackoffConstant waits RetryDelay before every attempt.
	BackoffConstant Backoff = "constant"
	// BackoffLinear waits RetryDelay * attempt.
	BackoffLinear Backoff = "linear"
	// BackoffExponential waits RetryDelay * 2^(attempt-1).
	BackoffExponential Backoff = "exponential"
)

// ParamType is the declared type of a skill parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeList    ParamType = "list"
)

// Parameter declares one input to a skill.
type Parameter struct {
	// Name is the parameter name referenced by templates.
	Name string `yaml:"name" json:"name"`

	// Type is the expected value type.
	Type ParamType `yaml:"type" json:"type"`

	// Required marks the parameter as mandatory at invocation.
	Required bool `yaml:"required" json:"required"`

	// Default is applied when the caller omits an optional parameter.
	Default any `yaml:"default,omitempty" json:"default,omitempty"`

	// Description documents the parameter for operators.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Step is one operation in a skill. Steps are read-only to the engine.
type Step struct {
	// ID is unique within the skill and addresses the step's result
	// (steps.<id>.result) from later templates.
	ID string `yaml:"id" json:"id"`

	// Action names the externally dispatched operation.
	Action string `yaml:"action" json:"action"`

	// Parameters are template expressions resolved before dispatch.
	Parameters map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Condition, when set, must evaluate true or the step is skipped.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// RequiresApproval gates the step behind an external decision.
	RequiresApproval bool `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`

	// OnError selects the failure policy. Empty means abort.
	OnError ErrorPolicy `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	// RetryCount is the number of re-attempts under PolicyRetry.
	RetryCount int `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`

	// RetryDelay is the base delay between attempts.
	RetryDelay time.Duration `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`

	// RetryBackoff selects the delay curve. Empty means constant.
	RetryBackoff Backoff `yaml:"retry_backoff,omitempty" json:"retry_backoff,omitempty"`

	// Timeout bounds a single dispatch of this step, if set.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Policy returns the step's effective error policy.
func (s *Step) Policy() ErrorPolicy {
	if s.OnError == "" {
		return PolicyAbort
	}
	return s.OnError
}

// BackoffMode returns the step's effective backoff curve.
func (s *Step) BackoffMode() Backoff {
	if s.RetryBackoff == "" {
		return BackoffConstant
	}
	return s.RetryBackoff
}

// Skill is a declarative, parameterized, multi-step remediation workflow.
type Skill struct {
	// ID uniquely identifies the skill in the registry.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable skill name.
	Name string `yaml:"name" json:"name"`

	// Description documents what the skill does.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// RiskLevel rates the skill's blast radius.
	RiskLevel RiskLevel `yaml:"risk_level" json:"risk_level"`

	// Parameters is the input schema.
	Parameters []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps" json:"steps"`

	// Rollback is an optional command template surfaced to the caller when
	// the skill fails, is denied, or is cancelled.
	Rollback string `yaml:"rollback,omitempty" json:"rollback,omitempty"`

	// Timeout bounds the sum of all step executions, if set.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks structural invariants of a skill definition.
func (s *Skill) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("skill: %w", errMissingField("id"))
	}
	if s.Name == "" {
		return fmt.Errorf("skill %s: %w", s.ID, errMissingField("name"))
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("skill %s: %w", s.ID, errMissingField("steps"))
	}
	switch s.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	default:
		return fmt.Errorf("skill %s: invalid risk_level %q", s.ID, s.RiskLevel)
	}

	seen := make(map[string]bool, len(s.Steps))
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.ID == "" {
			return fmt.Errorf("skill %s: step %d: %w", s.ID, i, errMissingField("id"))
		}
		if seen[step.ID] {
			return fmt.Errorf("skill %s: duplicate step id %q", s.ID, step.ID)
		}
		seen[step.ID] = true
		if step.Action == "" {
			return fmt.Errorf("skill %s: step %s: %w", s.ID, step.ID, errMissingField("action"))
		}
		switch step.OnError {
		case "", PolicyAbort, PolicyContinue, PolicyRetry:
		default:
			return fmt.Errorf("skill %s: step %s: invalid on_error %q", s.ID, step.ID, step.OnError)
		}
		switch step.RetryBackoff {
		case "", BackoffConstant, BackoffLinear, BackoffExponential:
		default:
			return fmt.Errorf("skill %s: step %s: invalid retry_backoff %q", s.ID, step.ID, step.RetryBackoff)
		}
		if step.RetryCount < 0 {
			return fmt.Errorf("skill %s: step %s: retry_count must be >= 0", s.ID, step.ID)
		}
	}

	seenParams := make(map[string]bool, len(s.Parameters))
	for i := range s.Parameters {
		p := &s.Parameters[i]
		if p.Name == "" {
			return fmt.Errorf("skill %s: parameter %d: %w", s.ID, i, errMissingField("name"))
		}
		if seenParams[p.Name] {
			return fmt.Errorf("skill %s: duplicate parameter %q", s.ID, p.Name)
		}
		seenParams[p.Name] = true
		switch p.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeList:
		default:
			return fmt.Errorf("skill %s: parameter %s: invalid type %q", s.ID, p.Name, p.Type)
		}
	}

	return nil
}

// ResolveParams validates caller-supplied values against the parameter
// schema, applies defaults, and returns the resolved parameter map. Missing
// required parameters fail with MissingParameterError; ill-typed values fail
// with TypeMismatchError.
func (s *Skill) ResolveParams(values map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(s.Parameters))
	for i := range s.Parameters {
		p := &s.Parameters[i]
		v, ok := values[p.Name]
		if !ok {
			if p.Required {
				return nil, &MissingParameterError{SkillID: s.ID, Parameter: p.Name}
			}
			if p.Default != nil {
				resolved[p.Name] = p.Default
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return nil, &TypeMismatchError{SkillID: s.ID, Parameter: p.Name, Want: p.Type, Got: fmt.Sprintf("%T", v)}
		}
		resolved[p.Name] = v
	}
	return resolved, nil
}

func typeMatches(t ParamType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeList:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	}
	return false
}

func errMissingField(field string) error {
	return fmt.Errorf("missing required field %q", field)
}
