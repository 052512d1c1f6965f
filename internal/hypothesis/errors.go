package hypothesis

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	// ErrDepthExceeded is returned when a proposal would exceed the
	// configured maximum tree depth.
	ErrDepthExceeded = errors.New("hypothesis depth exceeded")

	// ErrInvalidTransition is returned when an operation is not legal for
	// the hypothesis's current status.
	ErrInvalidTransition = errors.New("invalid hypothesis transition")

	// ErrAmbiguousConfirmation is returned when a confirmation would
	// violate the single-confirmed-root-cause invariant.
	ErrAmbiguousConfirmation = errors.New("ambiguous confirmation")

	// ErrNotFound is returned when a hypothesis id is unknown to the tree.
	ErrNotFound = errors.New("hypothesis not found")
)

// DepthExceededError reports a proposal past the depth limit.
type DepthExceededError struct {
	ParentID string
	Depth    int
	MaxDepth int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("cannot propose child of %s: depth %d exceeds maximum %d", e.ParentID, e.Depth, e.MaxDepth)
}

func (e *DepthExceededError) Unwrap() error { return ErrDepthExceeded }

// InvalidTransitionError reports an operation that is illegal for the
// hypothesis's current status. State is left untouched.
type InvalidTransitionError struct {
	HypothesisID string
	Status       Status
	Operation    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s hypothesis %s in status %q", e.Operation, e.HypothesisID, e.Status)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// AmbiguousConfirmationError reports a confirmation attempt while another
// hypothesis is already confirmed. The caller must disambiguate; the engine
// never picks silently.
type AmbiguousConfirmationError struct {
	HypothesisID string
	ConfirmedID  string
}

func (e *AmbiguousConfirmationError) Error() string {
	return fmt.Sprintf("cannot confirm hypothesis %s: %s is already confirmed", e.HypothesisID, e.ConfirmedID)
}

func (e *AmbiguousConfirmationError) Unwrap() error { return ErrAmbiguousConfirmation }
