package execution

import (
	"time"

	"github.com/fyrsmithlabs/incidentd/internal/skill"
)

// ContextStatus is the skill-level state of an execution context.
type ContextStatus string

const (
	// StatusRunning means steps are being executed.
	StatusRunning ContextStatus = "running"
	// StatusPaused means the context is suspended at an approval gate.
	StatusPaused ContextStatus = "paused"
	// StatusCompleted means every step finished. Terminal.
	StatusCompleted ContextStatus = "completed"
	// StatusFailed means a step or gate failed the skill. Terminal.
	StatusFailed ContextStatus = "failed"
	// StatusCancelled means the caller cancelled at a step boundary. Terminal.
	StatusCancelled ContextStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal contexts are
// immutable.
func (s ContextStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the terminal state of one step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// StepResult is the stored outcome of one step. Once stored it is never
// re-dispatched: Advance on an already-terminal step returns it verbatim.
type StepResult struct {
	// Status is the step's terminal state.
	Status StepStatus `json:"status"`

	// Result is the handler's return value on success.
	Result any `json:"result,omitempty"`

	// Error holds the failure detail when Status is error.
	Error string `json:"error,omitempty"`

	// DurationMS is wall-clock dispatch time across all attempts.
	DurationMS int64 `json:"duration_ms"`

	// Attempts is the number of dispatch attempts made.
	Attempts int `json:"attempts"`
}

// ApprovalState is the lifecycle state of an approval request.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalDenied   ApprovalState = "denied"
	// ApprovalTimeout means the window elapsed unresolved. Treated like a
	// denial but recorded distinctly for audit.
	ApprovalTimeout ApprovalState = "timeout"
)

// ApprovalRequest suspends a step pending an external decision. Resolved
// exactly once; immutable after resolution.
type ApprovalRequest struct {
	// ID identifies the request for Resolve calls.
	ID string `json:"id"`

	// SkillID and StepID locate the gated step.
	SkillID string `json:"skill_id"`
	StepID  string `json:"step_id"`

	// Action and Parameters describe exactly what will run if approved.
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// RiskLevel is the skill's declared blast radius.
	RiskLevel skill.RiskLevel `json:"risk_level"`

	// RollbackCommand is the resolved rollback template, if any.
	RollbackCommand string `json:"rollback_command,omitempty"`

	// State is the request's lifecycle state.
	State ApprovalState `json:"state"`

	// Approver identifies who resolved the request.
	Approver string `json:"approver,omitempty"`

	// IssuedAt starts the approval timeout window.
	IssuedAt time.Time `json:"issued_at"`

	// ResolvedAt is when the request left the pending state.
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Context is the mutable state of one skill invocation. Each invocation gets
// its own instance; contexts are never shared between invocations. Terminal
// contexts are immutable.
type Context struct {
	// SkillID names the skill being executed.
	SkillID string `json:"skill_id"`

	// SessionID uniquely identifies this invocation.
	SessionID string `json:"session_id"`

	// User is the invoking operator, exposed to templates as the `user`
	// builtin.
	User string `json:"user"`

	// Params are the resolved skill parameters.
	Params map[string]any `json:"params"`

	// Steps maps step id to stored result.
	Steps map[string]*StepResult `json:"steps"`

	// CurrentStepIndex is the next step to execute.
	CurrentStepIndex int `json:"current_step_index"`

	// Status is the skill-level state.
	Status ContextStatus `json:"status"`

	// PendingApproval is the outstanding gate request, if paused.
	PendingApproval *ApprovalRequest `json:"pending_approval,omitempty"`

	// Approvals is the audit trail of resolved gate requests.
	Approvals []ApprovalRequest `json:"approvals,omitempty"`

	// Reason is the human-readable explanation for a terminal status.
	Reason string `json:"reason,omitempty"`

	// RollbackCommand is surfaced on failed and cancelled outcomes.
	RollbackCommand string `json:"rollback_command,omitempty"`

	// ElapsedMS accumulates dispatch time for the skill-level timeout.
	ElapsedMS int64 `json:"elapsed_ms"`

	// StartedAt is when the invocation began.
	StartedAt time.Time `json:"started_at"`

	// approvedStepID marks a step whose gate has been approved, so the
	// next Advance resumes at its dispatch phase.
	approvedStepID string

	// skill is the definition being interpreted. Not serialized; restored
	// from the registry on resume.
	skill *skill.Skill
}

// Skill returns the definition this context interprets.
func (c *Context) Skill() *skill.Skill { return c.skill }

// StepOutcome reports what one Advance call did.
type StepOutcome struct {
	// StepID is the step acted on, empty when the advance only finalized
	// the context.
	StepID string

	// Status is the context status after the advance.
	Status ContextStatus

	// Result is the step's stored result, when it reached a terminal state.
	Result *StepResult

	// Approval is the gate request emitted when the advance paused.
	Approval *ApprovalRequest
}

// ContextSnapshot is the serializable value copy of a context, persisted via
// the checkpoint store so a paused approval wait survives process restarts.
type ContextSnapshot struct {
	SkillID          string                 `json:"skill_id"`
	SessionID        string                 `json:"session_id"`
	User             string                 `json:"user"`
	Params           map[string]any         `json:"params"`
	Steps            map[string]*StepResult `json:"steps"`
	CurrentStepIndex int                    `json:"current_step_index"`
	Status           ContextStatus          `json:"status"`
	PendingApproval  *ApprovalRequest       `json:"pending_approval,omitempty"`
	Approvals        []ApprovalRequest      `json:"approvals,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	RollbackCommand  string                 `json:"rollback_command,omitempty"`
	ElapsedMS        int64                  `json:"elapsed_ms"`
	StartedAt        time.Time              `json:"started_at"`
}

// Snapshot returns a value copy of the context with no live references.
func (c *Context) Snapshot() ContextSnapshot {
	steps := make(map[string]*StepResult, len(c.Steps))
	for id, res := range c.Steps {
		cp := *res
		steps[id] = &cp
	}
	params := make(map[string]any, len(c.Params))
	for k, v := range c.Params {
		params[k] = v
	}
	var pending *ApprovalRequest
	if c.PendingApproval != nil {
		cp := *c.PendingApproval
		pending = &cp
	}
	return ContextSnapshot{
		SkillID:          c.SkillID,
		SessionID:        c.SessionID,
		User:             c.User,
		Params:           params,
		Steps:            steps,
		CurrentStepIndex: c.CurrentStepIndex,
		Status:           c.Status,
		PendingApproval:  pending,
		Approvals:        append([]ApprovalRequest(nil), c.Approvals...),
		Reason:           c.Reason,
		RollbackCommand:  c.RollbackCommand,
		ElapsedMS:        c.ElapsedMS,
		StartedAt:        c.StartedAt,
	}
}
