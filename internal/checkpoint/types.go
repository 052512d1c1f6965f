package checkpoint

import (
	"time"

	"github.com/fyrsmithlabs/incidentd/internal/execution"
	"github.com/fyrsmithlabs/incidentd/internal/hypothesis"
)

// Phase is the investigation lifecycle stage a checkpoint was taken in.
type Phase string

const (
	// PhaseTriage gathers symptoms and affected services.
	PhaseTriage Phase = "triage"
	// PhaseHypothesize proposes candidate root causes.
	PhaseHypothesize Phase = "hypothesize"
	// PhaseInvestigate tests hypotheses against evidence.
	PhaseInvestigate Phase = "investigate"
	// PhaseConclude settles on a root cause and remediation.
	PhaseConclude Phase = "conclude"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseTriage, PhaseHypothesize, PhaseInvestigate, PhaseConclude:
		return true
	}
	return false
}

// Checkpoint is an immutable point-in-time snapshot of one investigation:
// the hypothesis tree, any in-flight skill execution, and investigation
// metadata. No field holds a live reference into engine state; mutating the
// engines after a save never affects a saved checkpoint.
type Checkpoint struct {
	// ID is the opaque, collision-resistant checkpoint identifier.
	ID string `json:"id"`

	// InvestigationID keys the per-investigation checkpoint set.
	InvestigationID string `json:"investigation_id"`

	// SessionID is the active skill execution session, if any.
	SessionID string `json:"session_id,omitempty"`

	// Phase is the investigation stage at snapshot time.
	Phase Phase `json:"phase"`

	// Query is the original natural-language request.
	Query string `json:"query"`

	// Confidence is the investigation-level confidence at snapshot time.
	Confidence int `json:"confidence"`

	// Hypotheses is the flattened hypothesis tree, each entry a value copy.
	Hypotheses []hypothesis.Snapshot `json:"hypotheses,omitempty"`

	// Execution is the in-flight skill execution, if one exists. A paused
	// approval wait survives process restarts through this field.
	Execution *execution.ContextSnapshot `json:"execution,omitempty"`

	// PromptCount and ToolCallCount track language-model usage.
	PromptCount   int `json:"prompt_count"`
	ToolCallCount int `json:"tool_call_count"`

	// Services and Symptoms are what triage discovered.
	Services []string `json:"services,omitempty"`
	Symptoms []string `json:"symptoms,omitempty"`

	// RootCause is set once a hypothesis is confirmed.
	RootCause string `json:"root_cause,omitempty"`

	// AffectedServices lists services implicated by the root cause.
	AffectedServices []string `json:"affected_services,omitempty"`

	// CreatedAt totally orders checkpoints within an investigation.
	CreatedAt time.Time `json:"created_at"`
}

// ListEntry summarizes one checkpoint for listings.
type ListEntry struct {
	// ID is the checkpoint identifier.
	ID string `json:"id"`

	// Phase is the investigation stage at snapshot time.
	Phase Phase `json:"phase"`

	// Confidence is the investigation-level confidence at snapshot time.
	Confidence int `json:"confidence"`

	// HypothesisCount is derived from the snapshot's hypothesis list.
	HypothesisCount int `json:"hypothesis_count"`

	// CreatedAt is when the checkpoint was taken.
	CreatedAt time.Time `json:"created_at"`
}

// InvestigationSummary describes one investigation's checkpoint set.
type InvestigationSummary struct {
	// InvestigationID keys the checkpoint set.
	InvestigationID string `json:"investigation_id"`

	// CheckpointCount is the number of retained checkpoints.
	CheckpointCount int `json:"checkpoint_count"`

	// Latest summarizes the most recent checkpoint.
	Latest ListEntry `json:"latest"`
}
