package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/incidentd/internal/checkpoint"
	"github.com/fyrsmithlabs/incidentd/internal/execution"
	"github.com/fyrsmithlabs/incidentd/internal/hypothesis"
)

// ToolCall is one action the model asked to run.
type ToolCall struct {
	// Action names a handler registered with the execution dispatcher.
	Action string `json:"action"`

	// Params are the handler arguments.
	Params map[string]any `json:"params,omitempty"`
}

// ChatResult is one model turn.
type ChatResult struct {
	// Text is the model's prose reply.
	Text string `json:"text"`

	// ToolCalls are the actions the model requested, in order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// LLMClient is the reasoning collaborator. Implementations wrap a provider
// API; tests substitute a scripted stub.
type LLMClient interface {
	Chat(ctx context.Context, system, user string, tools []string) (*ChatResult, error)
}

// Chunk is one knowledge-base passage returned by a search.
type Chunk struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchOptions narrows a knowledge search.
type SearchOptions struct {
	// Limit caps the number of chunks returned (0 means implementation
	// default).
	Limit int

	// Services restricts results to the named services.
	Services []string
}

// KnowledgeSearch retrieves runbooks and past-incident context.
type KnowledgeSearch interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]Chunk, error)
}

// ToolCallResult pairs a requested tool call with its outcome.
type ToolCallResult struct {
	Call   ToolCall `json:"call"`
	Result any      `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// TurnResult is what one orchestrator prompt round produced.
type TurnResult struct {
	// Text is the model's reply.
	Text string `json:"text"`

	// ToolResults are the dispatched tool calls with their outcomes.
	ToolResults []ToolCallResult `json:"tool_results,omitempty"`
}

// Investigation is one live incident-investigation session. All mutation goes
// through the Service, which serializes access per investigation.
type Investigation struct {
	// ID identifies the investigation across checkpoints and restarts.
	ID string `json:"id"`

	// SessionID identifies this process's session with the investigation.
	// A resumed investigation gets a fresh session id.
	SessionID string `json:"session_id"`

	// Query is the operator's incident description.
	Query string `json:"query"`

	// Phase is the current investigation phase.
	Phase checkpoint.Phase `json:"phase"`

	// PromptCount and ToolCallCount track model usage for the audit record.
	PromptCount   int `json:"prompt_count"`
	ToolCallCount int `json:"tool_call_count"`

	// Services and Symptoms accumulate triage findings.
	Services []string `json:"services,omitempty"`
	Symptoms []string `json:"symptoms,omitempty"`

	// RootCause is set when the investigation concludes.
	RootCause string `json:"root_cause,omitempty"`

	// StartedAt is when this session began.
	StartedAt time.Time `json:"started_at"`

	tree *hypothesis.Engine
	exec *execution.Context
}

// Tree exposes the investigation's hypothesis engine.
func (inv *Investigation) Tree() *hypothesis.Engine { return inv.tree }

// Execution returns the remediation context in flight, or nil.
func (inv *Investigation) Execution() *execution.Context { return inv.exec }

// Confidence is the investigation-level confidence: the confirmed
// hypothesis's score, or the best strong candidate's, or zero.
func (inv *Investigation) Confidence() int {
	if h, ok := inv.tree.Confirmed(); ok {
		return h.Confidence
	}
	best := 0
	for _, h := range inv.tree.StrongCandidates() {
		if h.Confidence > best {
			best = h.Confidence
		}
	}
	return best
}
