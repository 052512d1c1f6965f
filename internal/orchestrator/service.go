package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/incidentd/internal/checkpoint"
	"github.com/fyrsmithlabs/incidentd/internal/execution"
	"github.com/fyrsmithlabs/incidentd/internal/hypothesis"
	"github.com/fyrsmithlabs/incidentd/internal/skill"
)

const instrumentationName = "github.com/fyrsmithlabs/incidentd/internal/orchestrator"

var (
	// ErrNotFound is returned for an unknown investigation id.
	ErrNotFound = errors.New("investigation not found")

	// ErrInvalidTransition is returned when a phase change skips a phase or
	// moves backwards.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrNotConcluded is returned when Conclude is called without a
	// confirmed hypothesis.
	ErrNotConcluded = errors.New("no confirmed hypothesis")
)

// Config configures the orchestrator service.
type Config struct {
	// MaxHypothesisDepth bounds the hypothesis tree (default: 4).
	MaxHypothesisDepth int

	// SearchLimit caps knowledge-search results folded into prompts
	// (default: 5).
	SearchLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxHypothesisDepth: 4,
		SearchLimit:        5,
	}
}

// Service drives investigations. It owns the session registry, the
// checkpoint cadence, and the collaborator plumbing; the hypothesis and
// execution engines own their respective invariants.
type Service struct {
	config     *Config
	store      *checkpoint.Store
	skills     *skill.Registry
	engine     *execution.Engine
	dispatcher *execution.Dispatcher
	llm        LLMClient
	search     KnowledgeSearch
	logger     *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	turnCounter metric.Int64Counter

	mu             sync.Mutex
	investigations map[string]*Investigation
}

// Deps are the collaborators the service is wired with. Store, Skills,
// Engine, and Dispatcher are required; LLM and Search may be nil, in which
// case Turn and searchContext are unavailable.
type Deps struct {
	Store      *checkpoint.Store
	Skills     *skill.Registry
	Engine     *execution.Engine
	Dispatcher *execution.Dispatcher
	LLM        LLMClient
	Search     KnowledgeSearch
}

// NewService creates an orchestrator service.
func NewService(cfg *Config, deps Deps, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxHypothesisDepth <= 0 {
		cfg.MaxHypothesisDepth = 4
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if deps.Store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if deps.Skills == nil {
		return nil, errors.New("skill registry is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("execution engine is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("action dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config:         cfg,
		store:          deps.Store,
		skills:         deps.Skills,
		engine:         deps.Engine,
		dispatcher:     deps.Dispatcher,
		llm:            deps.LLM,
		search:         deps.Search,
		logger:         logger,
		tracer:         otel.Tracer(instrumentationName),
		meter:          otel.Meter(instrumentationName),
		investigations: make(map[string]*Investigation),
	}

	var err error
	s.turnCounter, err = s.meter.Int64Counter(
		"incidentd.orchestrator.turns_total",
		metric.WithDescription("Total number of model turns taken"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		s.logger.Warn("failed to create turn counter", zap.Error(err))
	}

	return s, nil
}

// Start opens a new investigation in the triage phase and writes its first
// checkpoint.
func (s *Service) Start(ctx context.Context, query string) (*Investigation, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.start")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}

	inv := &Investigation{
		ID:        uuid.New().String(),
		SessionID: uuid.New().String(),
		Query:     query,
		Phase:     checkpoint.PhaseTriage,
		StartedAt: time.Now(),
		tree: hypothesis.NewEngine(
			&hypothesis.Config{MaxDepth: s.config.MaxHypothesisDepth},
			s.logger,
		),
	}
	span.SetAttributes(attribute.String("investigation_id", inv.ID))

	if _, err := s.writeCheckpoint(ctx, inv); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("initial checkpoint: %w", err)
	}

	s.mu.Lock()
	s.investigations[inv.ID] = inv
	s.mu.Unlock()

	s.logger.Info("started investigation",
		zap.String("investigation_id", inv.ID),
		zap.String("query", query),
	)
	return inv, nil
}

// Get returns a live investigation by id.
func (s *Service) Get(id string) (*Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investigations[id]
	if !ok {
		return nil, fmt.Errorf("investigation %s: %w", id, ErrNotFound)
	}
	return inv, nil
}

// nextPhase returns the only legal successor for each phase.
func nextPhase(p checkpoint.Phase) (checkpoint.Phase, bool) {
	switch p {
	case checkpoint.PhaseTriage:
		return checkpoint.PhaseHypothesize, true
	case checkpoint.PhaseHypothesize:
		return checkpoint.PhaseInvestigate, true
	case checkpoint.PhaseInvestigate:
		return checkpoint.PhaseConclude, true
	default:
		return "", false
	}
}

// Transition moves an investigation to the next phase. The transition is
// checkpointed before it takes effect: if the write fails, the phase does
// not change.
func (s *Service) Transition(ctx context.Context, id string, to checkpoint.Phase) error {
	ctx, span := s.tracer.Start(ctx, "orchestrator.transition")
	defer span.End()

	inv, err := s.Get(id)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("investigation_id", id),
		attribute.String("from", string(inv.Phase)),
		attribute.String("to", string(to)),
	)

	next, ok := nextPhase(inv.Phase)
	if !ok || next != to {
		return fmt.Errorf("%s -> %s: %w", inv.Phase, to, ErrInvalidTransition)
	}

	prev := inv.Phase
	inv.Phase = to
	if _, err := s.writeCheckpoint(ctx, inv); err != nil {
		inv.Phase = prev
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checkpoint phase transition: %w", err)
	}

	s.logger.Info("phase transition",
		zap.String("investigation_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(to)),
	)
	return nil
}

// AddSymptom records a triage finding. Duplicates are dropped.
func (s *Service) AddSymptom(id, symptom string) error {
	inv, err := s.Get(id)
	if err != nil {
		return err
	}
	inv.Symptoms = appendUnique(inv.Symptoms, symptom)
	return nil
}

// AddService records an affected service. Duplicates are dropped.
func (s *Service) AddService(id, service string) error {
	inv, err := s.Get(id)
	if err != nil {
		return err
	}
	inv.Services = appendUnique(inv.Services, service)
	return nil
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Turn runs one model round: build the prompt from investigation state and
// knowledge search, call the model, and dispatch any tool calls it requested.
// Tool failures are reported back in the turn result, not fatal to the
// investigation.
func (s *Service) Turn(ctx context.Context, id, user string) (*TurnResult, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.turn")
	defer span.End()

	if s.llm == nil {
		return nil, errors.New("no model client configured")
	}
	inv, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("investigation_id", id))

	system := s.systemPrompt(ctx, inv)
	result, err := s.llm.Chat(ctx, system, user, s.dispatcher.Actions())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("model turn: %w", err)
	}
	inv.PromptCount++
	if s.turnCounter != nil {
		s.turnCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", string(inv.Phase)),
		))
	}

	turn := &TurnResult{Text: result.Text}
	for _, call := range result.ToolCalls {
		inv.ToolCallCount++
		out, callErr := s.dispatcher.Execute(ctx, call.Action, call.Params)
		tr := ToolCallResult{Call: call, Result: out}
		if callErr != nil {
			tr.Error = callErr.Error()
			s.logger.Warn("tool call failed",
				zap.String("investigation_id", id),
				zap.String("action", call.Action),
				zap.Error(callErr),
			)
		}
		turn.ToolResults = append(turn.ToolResults, tr)
	}

	return turn, nil
}

// systemPrompt summarizes the investigation for the model, folding in
// knowledge-base context when a search collaborator is wired.
func (s *Service) systemPrompt(ctx context.Context, inv *Investigation) string {
	var b strings.Builder
	b.WriteString("You are investigating a production incident.\n")
	fmt.Fprintf(&b, "Incident: %s\nPhase: %s\n", inv.Query, inv.Phase)
	if len(inv.Symptoms) > 0 {
		fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(inv.Symptoms, "; "))
	}
	if len(inv.Services) > 0 {
		fmt.Fprintf(&b, "Affected services: %s\n", strings.Join(inv.Services, ", "))
	}
	for _, h := range inv.tree.All() {
		fmt.Fprintf(&b, "Hypothesis [%s, %s, %d%%]: %s\n", h.Status, h.EvidenceStrength, h.Confidence, h.Statement)
	}

	if s.search != nil {
		chunks, err := s.search.Search(ctx, inv.Query, SearchOptions{
			Limit:    s.config.SearchLimit,
			Services: inv.Services,
		})
		if err != nil {
			s.logger.Warn("knowledge search failed",
				zap.String("investigation_id", inv.ID),
				zap.Error(err),
			)
		}
		for _, chunk := range chunks {
			fmt.Fprintf(&b, "Context (%s): %s\n", chunk.Source, chunk.Content)
		}
	}
	return b.String()
}

// RunSkill starts a remediation skill for the investigation and drives it
// until it completes, fails, or pauses at an approval gate. The outcome is
// checkpointed either way; a paused execution context rides inside the
// checkpoint so the approval wait survives a restart.
func (s *Service) RunSkill(ctx context.Context, id, skillID string, params map[string]any) (*execution.StepOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.run_skill")
	defer span.End()

	inv, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("investigation_id", id),
		attribute.String("skill_id", skillID),
	)

	sk, err := s.skills.Get(skillID)
	if err != nil {
		return nil, err
	}

	ec, err := s.engine.Start(ctx, sk, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	inv.exec = ec

	outcome, err := s.engine.Run(ctx, ec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if _, cpErr := s.writeCheckpoint(ctx, inv); cpErr != nil {
		span.RecordError(cpErr)
		span.SetStatus(codes.Error, cpErr.Error())
		return nil, fmt.Errorf("checkpoint skill outcome: %w", cpErr)
	}
	return outcome, nil
}

// ResumeSkill re-drives a restored or approved execution context.
func (s *Service) ResumeSkill(ctx context.Context, id string) (*execution.StepOutcome, error) {
	inv, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if inv.exec == nil {
		return nil, errors.New("no execution context to resume")
	}

	outcome, err := s.engine.Run(ctx, inv.exec)
	if err != nil {
		return nil, err
	}
	if _, cpErr := s.writeCheckpoint(ctx, inv); cpErr != nil {
		return nil, fmt.Errorf("checkpoint skill outcome: %w", cpErr)
	}
	return outcome, nil
}

// Conclude finishes the investigation. It requires a confirmed hypothesis,
// records the root cause, moves to the conclude phase, and writes the final
// checkpoint.
func (s *Service) Conclude(ctx context.Context, id, rootCause string) (*checkpoint.Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.conclude")
	defer span.End()

	inv, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("investigation_id", id))

	confirmed, ok := inv.tree.Confirmed()
	if !ok {
		return nil, ErrNotConcluded
	}
	if inv.Phase != checkpoint.PhaseInvestigate && inv.Phase != checkpoint.PhaseConclude {
		return nil, fmt.Errorf("%s -> %s: %w", inv.Phase, checkpoint.PhaseConclude, ErrInvalidTransition)
	}
	if rootCause == "" {
		rootCause = confirmed.Statement
	}

	prevPhase, prevCause := inv.Phase, inv.RootCause
	inv.Phase = checkpoint.PhaseConclude
	inv.RootCause = rootCause

	cp, err := s.writeCheckpoint(ctx, inv)
	if err != nil {
		inv.Phase, inv.RootCause = prevPhase, prevCause
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("checkpoint conclusion: %w", err)
	}

	s.logger.Info("investigation concluded",
		zap.String("investigation_id", id),
		zap.String("root_cause", rootCause),
	)
	return cp, nil
}

// Checkpoint forces a checkpoint of current investigation state.
func (s *Service) Checkpoint(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	inv, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return s.writeCheckpoint(ctx, inv)
}

func (s *Service) writeCheckpoint(ctx context.Context, inv *Investigation) (*checkpoint.Checkpoint, error) {
	cp := &checkpoint.Checkpoint{
		InvestigationID:  inv.ID,
		SessionID:        inv.SessionID,
		Phase:            inv.Phase,
		Query:            inv.Query,
		Confidence:       inv.Confidence(),
		Hypotheses:       inv.tree.Snapshot(),
		PromptCount:      inv.PromptCount,
		ToolCallCount:    inv.ToolCallCount,
		Services:         append([]string(nil), inv.Services...),
		Symptoms:         append([]string(nil), inv.Symptoms...),
		RootCause:        inv.RootCause,
		AffectedServices: append([]string(nil), inv.Services...),
	}
	if inv.exec != nil {
		snap := inv.exec.Snapshot()
		cp.Execution = &snap
	}
	if _, err := s.store.Save(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Resume rebuilds an investigation from its latest checkpoint: the hypothesis
// tree is restored node for node, and a paused remediation context is
// re-attached through the skill registry so its approval gate can still be
// resolved. The resumed session gets a fresh session id.
func (s *Service) Resume(ctx context.Context, investigationID string) (*Investigation, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.resume")
	defer span.End()
	span.SetAttributes(attribute.String("investigation_id", investigationID))

	cp, err := s.store.LoadLatest(ctx, investigationID)
	if err != nil {
		return nil, err
	}

	tree := hypothesis.NewEngine(
		&hypothesis.Config{MaxDepth: s.config.MaxHypothesisDepth},
		s.logger,
	)
	if err := tree.Restore(cp.Hypotheses); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("restore hypothesis tree: %w", err)
	}

	inv := &Investigation{
		ID:            cp.InvestigationID,
		SessionID:     uuid.New().String(),
		Query:         cp.Query,
		Phase:         cp.Phase,
		PromptCount:   cp.PromptCount,
		ToolCallCount: cp.ToolCallCount,
		Services:      append([]string(nil), cp.Services...),
		Symptoms:      append([]string(nil), cp.Symptoms...),
		RootCause:     cp.RootCause,
		StartedAt:     time.Now(),
		tree:          tree,
	}

	if cp.Execution != nil && !cp.Execution.Status.Terminal() {
		sk, err := s.skills.Get(cp.Execution.SkillID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("restore execution context: %w", err)
		}
		ec, err := s.engine.Restore(*cp.Execution, sk)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("restore execution context: %w", err)
		}
		inv.exec = ec
	}

	s.mu.Lock()
	s.investigations[inv.ID] = inv
	s.mu.Unlock()

	s.logger.Info("resumed investigation",
		zap.String("investigation_id", inv.ID),
		zap.String("phase", string(inv.Phase)),
		zap.Bool("execution_restored", inv.exec != nil),
	)
	return inv, nil
}

// Report renders the latest checkpoint of an investigation as markdown.
func (s *Service) Report(ctx context.Context, investigationID string) (string, error) {
	cp, err := s.store.LoadLatest(ctx, investigationID)
	if err != nil {
		return "", err
	}
	return checkpoint.RenderReport(cp), nil
}
