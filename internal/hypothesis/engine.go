package hypothesis

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config configures the hypothesis engine.
type Config struct {
	// MaxDepth is the deepest level a hypothesis may occupy (roots are 0).
	MaxDepth int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth: 4,
	}
}

// Engine owns the hypothesis tree for one investigation.
//
// Hypotheses live in an arena keyed by id; parent and child links are stored
// as ids, never as live references. All mutations are serialized by the
// engine's mutex (single-writer discipline); reads may run concurrently.
// Operations that fail validation leave the tree untouched.
type Engine struct {
	mu     sync.RWMutex
	config *Config
	logger *zap.Logger

	arena       map[string]*Hypothesis
	order       []string // creation order, for deterministic traversal
	rootIDs     []string
	confirmedID string
}

// NewEngine creates a hypothesis engine.
func NewEngine(cfg *Config, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config: cfg,
		logger: logger,
		arena:  make(map[string]*Hypothesis),
	}
}

// Propose creates a hypothesis in pending status. parentID may be empty for a
// root hypothesis. Fails with DepthExceededError when the child would sit
// below the configured maximum depth.
func (e *Engine) Propose(parentID, statement string, category Category) (Hypothesis, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	depth := 0
	var parent *Hypothesis
	if parentID != "" {
		var ok bool
		parent, ok = e.arena[parentID]
		if !ok {
			return Hypothesis{}, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
		}
		if parent.Status == StatusPruned {
			return Hypothesis{}, &InvalidTransitionError{HypothesisID: parentID, Status: parent.Status, Operation: "propose child of"}
		}
		depth = parent.Depth + 1
		if depth > e.config.MaxDepth {
			return Hypothesis{}, &DepthExceededError{ParentID: parentID, Depth: depth, MaxDepth: e.config.MaxDepth}
		}
	}

	now := time.Now()
	h := &Hypothesis{
		ID:               uuid.New().String(),
		ParentID:         parentID,
		Statement:        statement,
		Category:         category,
		Status:           StatusPending,
		EvidenceStrength: StrengthNone,
		Confidence:       0,
		Depth:            depth,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	e.arena[h.ID] = h
	e.order = append(e.order, h.ID)
	if parent != nil {
		parent.ChildIDs = append(parent.ChildIDs, h.ID)
	} else {
		e.rootIDs = append(e.rootIDs, h.ID)
	}

	e.logger.Debug("proposed hypothesis",
		zap.String("id", h.ID),
		zap.String("parent_id", parentID),
		zap.String("category", string(category)),
		zap.Int("depth", depth),
	)

	return h.clone(), nil
}

// RecordEvidence appends a query result to the hypothesis's evidence ledger,
// ratchets evidence strength upward, and recomputes confidence from the full
// history. The first evidence moves a pending hypothesis to investigating.
// Recording against a confirmed hypothesis is a no-op returning current state;
// recording against a pruned hypothesis fails with InvalidTransitionError.
func (e *Engine) RecordEvidence(hypothesisID, query, result string, classification Strength, reasoning string) (Hypothesis, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.arena[hypothesisID]
	if !ok {
		return Hypothesis{}, fmt.Errorf("hypothesis %s: %w", hypothesisID, ErrNotFound)
	}

	switch h.Status {
	case StatusConfirmed:
		return h.clone(), nil
	case StatusPruned:
		return Hypothesis{}, &InvalidTransitionError{HypothesisID: hypothesisID, Status: h.Status, Operation: "record evidence for"}
	}

	h.Ledger = append(h.Ledger, Evidence{
		QueryID:        uuid.New().String(),
		Query:          query,
		Result:         result,
		Classification: classification,
		Reasoning:      reasoning,
		RecordedAt:     time.Now(),
	})

	if h.Status == StatusPending {
		h.Status = StatusInvestigating
	}

	// One-way ratchet: strong > weak > none.
	if classification.rank() > h.EvidenceStrength.rank() {
		h.EvidenceStrength = classification
	}

	if reasoning != "" {
		if h.Reasoning != "" {
			h.Reasoning += "\n"
		}
		h.Reasoning += reasoning
	}
	if classification == StrengthNone {
		h.RefutingEvidence = append(h.RefutingEvidence, reasoning)
	} else {
		h.ConfirmingEvidence = append(h.ConfirmingEvidence, reasoning)
	}

	h.Confidence = scoreEvidence(h.Ledger)
	h.UpdatedAt = time.Now()

	e.logger.Debug("recorded evidence",
		zap.String("id", h.ID),
		zap.String("classification", string(classification)),
		zap.String("strength", string(h.EvidenceStrength)),
		zap.Int("confidence", h.Confidence),
	)

	return h.clone(), nil
}

// scoreEvidence computes confidence as a pure function of the evidence
// history: base score per strongest tier {strong: 70, weak: 35, none: 0},
// +5 per corroborating strong signal beyond the first capped at 95,
// -10 per refuting signal, clamped to [0, 100].
func scoreEvidence(ledger []Evidence) int {
	strongest := StrengthNone
	strongCount := 0
	refuting := 0
	for _, ev := range ledger {
		if ev.Classification.rank() > strongest.rank() {
			strongest = ev.Classification
		}
		switch ev.Classification {
		case StrengthStrong:
			strongCount++
		case StrengthNone:
			refuting++
		}
	}

	var score int
	switch strongest {
	case StrengthStrong:
		score = 70
	case StrengthWeak:
		score = 35
	}

	if strongCount > 1 {
		score += 5 * (strongCount - 1)
		if score > 95 {
			score = 95
		}
	}

	score -= 10 * refuting

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Branch creates child hypotheses under a parent with strong evidence.
// Children are created at depth+1 in pending status, inheriting the parent's
// category. All children are created or none.
func (e *Engine) Branch(hypothesisID string, childStatements []string) ([]Hypothesis, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	parent, ok := e.arena[hypothesisID]
	if !ok {
		return nil, fmt.Errorf("hypothesis %s: %w", hypothesisID, ErrNotFound)
	}
	if parent.Status == StatusPruned || parent.Status == StatusConfirmed {
		return nil, &InvalidTransitionError{HypothesisID: hypothesisID, Status: parent.Status, Operation: "branch from"}
	}
	if parent.EvidenceStrength != StrengthStrong {
		return nil, &InvalidTransitionError{HypothesisID: hypothesisID, Status: parent.Status, Operation: "branch without strong evidence from"}
	}
	depth := parent.Depth + 1
	if depth > e.config.MaxDepth {
		return nil, &DepthExceededError{ParentID: hypothesisID, Depth: depth, MaxDepth: e.config.MaxDepth}
	}

	now := time.Now()
	children := make([]Hypothesis, 0, len(childStatements))
	for _, stmt := range childStatements {
		h := &Hypothesis{
			ID:               uuid.New().String(),
			ParentID:         parent.ID,
			Statement:        stmt,
			Category:         parent.Category,
			Status:           StatusPending,
			EvidenceStrength: StrengthNone,
			Depth:            depth,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		e.arena[h.ID] = h
		e.order = append(e.order, h.ID)
		parent.ChildIDs = append(parent.ChildIDs, h.ID)
		children = append(children, h.clone())
	}

	e.logger.Info("branched hypothesis",
		zap.String("id", parent.ID),
		zap.Int("children", len(children)),
		zap.Int("depth", depth),
	)

	return children, nil
}

// Prune marks a hypothesis and all its descendants pruned. Descendants
// inherit the reason with an "ancestor pruned" suffix. Pruning is idempotent;
// pruning a subtree containing the confirmed hypothesis is illegal.
func (e *Engine) Prune(hypothesisID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.arena[hypothesisID]
	if !ok {
		return fmt.Errorf("hypothesis %s: %w", hypothesisID, ErrNotFound)
	}
	if h.Status == StatusPruned {
		return nil
	}
	if e.confirmedID != "" && e.subtreeContains(h, e.confirmedID) {
		return &InvalidTransitionError{HypothesisID: hypothesisID, Status: StatusConfirmed, Operation: "prune confirmed subtree at"}
	}

	e.pruneSubtree(h, reason, false)

	e.logger.Info("pruned hypothesis",
		zap.String("id", hypothesisID),
		zap.String("reason", reason),
	)
	return nil
}

func (e *Engine) subtreeContains(h *Hypothesis, id string) bool {
	if h.ID == id {
		return true
	}
	for _, childID := range h.ChildIDs {
		if child, ok := e.arena[childID]; ok && e.subtreeContains(child, id) {
			return true
		}
	}
	return false
}

func (e *Engine) pruneSubtree(h *Hypothesis, reason string, inherited bool) {
	if h.Status == StatusPruned {
		return
	}
	h.Status = StatusPruned
	if inherited {
		h.PruneReason = reason + " (ancestor pruned)"
	} else {
		h.PruneReason = reason
	}
	h.UpdatedAt = time.Now()
	for _, childID := range h.ChildIDs {
		if child, ok := e.arena[childID]; ok {
			e.pruneSubtree(child, reason, true)
		}
	}
}

// Confirm accepts a hypothesis as the root cause. Requires strong evidence;
// only one hypothesis may be confirmed per tree. Confirming the already
// confirmed hypothesis is a no-op returning current state; a second
// confirmation of a different node fails with AmbiguousConfirmationError and
// the caller must disambiguate (see StrongCandidates).
func (e *Engine) Confirm(hypothesisID string) (Hypothesis, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.arena[hypothesisID]
	if !ok {
		return Hypothesis{}, fmt.Errorf("hypothesis %s: %w", hypothesisID, ErrNotFound)
	}
	if h.Status == StatusConfirmed {
		return h.clone(), nil
	}
	if e.confirmedID != "" {
		return Hypothesis{}, &AmbiguousConfirmationError{HypothesisID: hypothesisID, ConfirmedID: e.confirmedID}
	}
	if h.Status == StatusPruned {
		return Hypothesis{}, &InvalidTransitionError{HypothesisID: hypothesisID, Status: h.Status, Operation: "confirm"}
	}
	if h.EvidenceStrength != StrengthStrong {
		return Hypothesis{}, &InvalidTransitionError{HypothesisID: hypothesisID, Status: h.Status, Operation: "confirm without strong evidence"}
	}

	h.Status = StatusConfirmed
	h.UpdatedAt = time.Now()
	e.confirmedID = h.ID

	e.logger.Info("confirmed hypothesis",
		zap.String("id", h.ID),
		zap.Int("confidence", h.Confidence),
		zap.String("statement", h.Statement),
	)

	return h.clone(), nil
}

// Get returns a value copy of one hypothesis.
func (e *Engine) Get(hypothesisID string) (Hypothesis, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h, ok := e.arena[hypothesisID]
	if !ok {
		return Hypothesis{}, fmt.Errorf("hypothesis %s: %w", hypothesisID, ErrNotFound)
	}
	return h.clone(), nil
}

// Roots returns the root hypotheses in creation order.
func (e *Engine) Roots() []Hypothesis {
	e.mu.RLock()
	defer e.mu.RUnlock()

	roots := make([]Hypothesis, 0, len(e.rootIDs))
	for _, id := range e.rootIDs {
		roots = append(roots, e.arena[id].clone())
	}
	return roots
}

// All returns every hypothesis in creation order.
func (e *Engine) All() []Hypothesis {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := make([]Hypothesis, 0, len(e.order))
	for _, id := range e.order {
		all = append(all, e.arena[id].clone())
	}
	return all
}

// Confirmed returns the confirmed hypothesis, if any.
func (e *Engine) Confirmed() (Hypothesis, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.confirmedID == "" {
		return Hypothesis{}, false
	}
	return e.arena[e.confirmedID].clone(), true
}

// StrongCandidates returns all unconfirmed, unpruned hypotheses with strong
// evidence. When more than one candidate exists the caller must gather
// further evidence or ask for a human decision; the engine never picks.
func (e *Engine) StrongCandidates() []Hypothesis {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Hypothesis
	for _, id := range e.order {
		h := e.arena[id]
		if h.Status == StatusInvestigating && h.EvidenceStrength == StrengthStrong {
			out = append(out, h.clone())
		}
	}
	return out
}

// Snapshot returns value copies of every hypothesis in creation order,
// suitable for checkpointing. Later tree mutations never affect the returned
// snapshots.
func (e *Engine) Snapshot() []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(e.order))
	for _, id := range e.order {
		snaps = append(snaps, Snapshot{Hypothesis: e.arena[id].clone()})
	}
	return snaps
}

// Restore replaces the engine's state from checkpointed snapshots. Child and
// root indexes are rebuilt from parent links; snapshot order is preserved as
// creation order.
func (e *Engine) Restore(snaps []Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	arena := make(map[string]*Hypothesis, len(snaps))
	order := make([]string, 0, len(snaps))
	var rootIDs []string
	confirmedID := ""

	for i := range snaps {
		h := snaps[i].Hypothesis.clone()
		if h.ID == "" {
			return fmt.Errorf("snapshot %d: missing hypothesis id", i)
		}
		if _, dup := arena[h.ID]; dup {
			return fmt.Errorf("snapshot %d: duplicate hypothesis id %s", i, h.ID)
		}
		// Child links are rebuilt below from parent ids.
		h.ChildIDs = nil
		arena[h.ID] = &h
		order = append(order, h.ID)
	}

	for _, id := range order {
		h := arena[id]
		if h.ParentID == "" {
			rootIDs = append(rootIDs, id)
			continue
		}
		parent, ok := arena[h.ParentID]
		if !ok {
			return fmt.Errorf("hypothesis %s references unknown parent %s", id, h.ParentID)
		}
		parent.ChildIDs = append(parent.ChildIDs, id)
	}

	for _, id := range order {
		if arena[id].Status == StatusConfirmed {
			if confirmedID != "" {
				return fmt.Errorf("snapshots contain two confirmed hypotheses: %s and %s", confirmedID, id)
			}
			confirmedID = id
		}
	}

	e.arena = arena
	e.order = order
	e.rootIDs = rootIDs
	e.confirmedID = confirmedID

	e.logger.Info("restored hypothesis tree", zap.Int("count", len(order)))
	return nil
}
