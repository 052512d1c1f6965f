package hypothesis

import (
	"time"
)

// Category classifies where a suspected root cause lives.
type Category string

const (
	// CategoryInfrastructure covers hosts, networks, and platform failures.
	CategoryInfrastructure Category = "infrastructure"
	// CategoryApplication covers bugs and regressions in the service itself.
	CategoryApplication Category = "application"
	// CategoryConfiguration covers bad config pushes and flag changes.
	CategoryConfiguration Category = "configuration"
	// CategoryDependency covers upstream/downstream service failures.
	CategoryDependency Category = "dependency"
	// CategoryExternal covers causes outside the system (provider outages, traffic).
	CategoryExternal Category = "external"
)

// Status is the lifecycle state of a hypothesis.
type Status string

const (
	// StatusPending means the hypothesis has been proposed but not yet tested.
	StatusPending Status = "pending"
	// StatusInvestigating means at least one piece of evidence has been recorded.
	StatusInvestigating Status = "investigating"
	// StatusConfirmed means the hypothesis was accepted as the root cause.
	StatusConfirmed Status = "confirmed"
	// StatusPruned means the hypothesis was eliminated. Pruned nodes are
	// tombstones: they stay in the tree for audit and cascade to descendants.
	StatusPruned Status = "pruned"
)

// Strength classifies how decisively a query result supports a hypothesis.
type Strength string

const (
	// StrengthNone means the result does not support the hypothesis.
	StrengthNone Strength = "none"
	// StrengthWeak means the result is consistent with the hypothesis.
	StrengthWeak Strength = "weak"
	// StrengthStrong means the result directly implicates the hypothesis.
	StrengthStrong Strength = "strong"
)

// rank orders strengths for the one-way ratchet.
func (s Strength) rank() int {
	switch s {
	case StrengthStrong:
		return 2
	case StrengthWeak:
		return 1
	default:
		return 0
	}
}

// Evidence is one append-only ledger entry: a query issued for a hypothesis
// and its raw result. Entries are never mutated after insertion.
type Evidence struct {
	// QueryID identifies the evidence-gathering action.
	QueryID string `json:"query_id"`

	// Query describes the action that was issued.
	Query string `json:"query"`

	// Result is the raw query result, kept verbatim for audit.
	Result string `json:"result"`

	// Classification is how decisively this result supports the hypothesis.
	Classification Strength `json:"classification"`

	// Reasoning explains the classification.
	Reasoning string `json:"reasoning"`

	// RecordedAt is when the evidence was attached.
	RecordedAt time.Time `json:"recorded_at"`
}

// Hypothesis is one node in the tree. Parent/child links are stored as ids,
// never as live references; the Engine's arena resolves them by lookup.
type Hypothesis struct {
	// ID is the unique identifier for this hypothesis.
	ID string `json:"id"`

	// ParentID is the owning parent, or empty for a root hypothesis.
	ParentID string `json:"parent_id,omitempty"`

	// Statement is the human-readable claim.
	Statement string `json:"statement"`

	// Category is the taxonomy bucket for the suspected cause.
	Category Category `json:"category"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// EvidenceStrength is the strongest classification seen so far.
	EvidenceStrength Strength `json:"evidence_strength"`

	// Confidence is a 0-100 score, meaningful once evidence is attached.
	// Frozen once the hypothesis is confirmed or pruned.
	Confidence int `json:"confidence"`

	// Reasoning accumulates free-text justification, append-only.
	Reasoning string `json:"reasoning,omitempty"`

	// ConfirmingEvidence summarizes evidence supporting the claim.
	ConfirmingEvidence []string `json:"confirming_evidence,omitempty"`

	// RefutingEvidence summarizes evidence against the claim.
	RefutingEvidence []string `json:"refuting_evidence,omitempty"`

	// Ledger is the ordered evidence record for this hypothesis.
	Ledger []Evidence `json:"ledger,omitempty"`

	// ChildIDs are the ids of child hypotheses, in creation order.
	ChildIDs []string `json:"child_ids,omitempty"`

	// Depth is 0 for roots; depth(child) = depth(parent) + 1.
	Depth int `json:"depth"`

	// PruneReason explains why a pruned hypothesis was eliminated.
	PruneReason string `json:"prune_reason,omitempty"`

	// CreatedAt is when the hypothesis was proposed.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the hypothesis last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a value copy of one hypothesis, safe to persist. Mutating the
// live tree after a snapshot never affects snapshots already taken.
type Snapshot struct {
	Hypothesis
}

// clone returns a deep value copy of the hypothesis.
func (h *Hypothesis) clone() Hypothesis {
	c := *h
	c.ConfirmingEvidence = append([]string(nil), h.ConfirmingEvidence...)
	c.RefutingEvidence = append([]string(nil), h.RefutingEvidence...)
	c.Ledger = append([]Evidence(nil), h.Ledger...)
	c.ChildIDs = append([]string(nil), h.ChildIDs...)
	return c
}
