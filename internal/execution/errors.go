package execution

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	// ErrApprovalAlreadyPending is returned when a second approval request
	// is raised while one is outstanding for the same context.
	ErrApprovalAlreadyPending = errors.New("approval already pending")

	// ErrAlreadyResolved is returned when an approval is resolved twice.
	// First resolution wins.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrStepTimeout marks a dispatch that exceeded the step's timeout.
	ErrStepTimeout = errors.New("step timed out")

	// ErrSkillTimeout marks a skill whose cumulative step time exceeded
	// the skill-level timeout.
	ErrSkillTimeout = errors.New("skill timed out")

	// ErrUnknownAction is returned when a step names an action with no
	// registered handler.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidState is returned for operations illegal in the context's
	// current status, such as cancelling a completed skill.
	ErrInvalidState = errors.New("invalid execution state")

	// ErrNotFound is returned for unknown session or approval ids.
	ErrNotFound = errors.New("not found")
)

// UnknownActionError reports dispatch of an unregistered action name.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("no handler registered for action %q", e.Action)
}

func (e *UnknownActionError) Unwrap() error { return ErrUnknownAction }
