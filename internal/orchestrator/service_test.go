package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/incidentd/internal/checkpoint"
	"github.com/fyrsmithlabs/incidentd/internal/execution"
	"github.com/fyrsmithlabs/incidentd/internal/hypothesis"
	"github.com/fyrsmithlabs/incidentd/internal/skill"
)

// scriptedLLM replays canned turns in order.
type scriptedLLM struct {
	turns []ChatResult
	calls int
}

func (s *scriptedLLM) Chat(_ context.Context, _, _ string, _ []string) (*ChatResult, error) {
	if s.calls >= len(s.turns) {
		return nil, errors.New("script exhausted")
	}
	result := s.turns[s.calls]
	s.calls++
	return &result, nil
}

type stubSearch struct {
	chunks []Chunk
	query  string
}

func (s *stubSearch) Search(_ context.Context, query string, _ SearchOptions) ([]Chunk, error) {
	s.query = query
	return s.chunks, nil
}

type testHarness struct {
	service    *Service
	store      *checkpoint.Store
	skills     *skill.Registry
	engine     *execution.Engine
	dispatcher *execution.Dispatcher
	llm        *scriptedLLM
	search     *stubSearch

	restartCount int
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store, err := checkpoint.NewStore(&checkpoint.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &testHarness{store: store}
	h.build(t)
	return h
}

// build wires a fresh service around the shared store, simulating a process
// start.
func (h *testHarness) build(t *testing.T) {
	t.Helper()

	h.skills = skill.NewRegistry(nil)
	require.NoError(t, h.skills.Register(restartSkill()))

	h.dispatcher = execution.NewDispatcher(nil)
	require.NoError(t, h.dispatcher.Register("service.restart", func(_ context.Context, _ map[string]any) (any, error) {
		h.restartCount++
		return "restarted", nil
	}))
	require.NoError(t, h.dispatcher.Register("logs.query", func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"matches": 17}, nil
	}))
	require.NoError(t, h.dispatcher.Register("always.fails", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("backend unreachable")
	}))

	engine, err := execution.NewEngine(nil, h.dispatcher, nil)
	require.NoError(t, err)
	h.engine = engine

	h.llm = &scriptedLLM{}
	h.search = &stubSearch{}

	svc, err := NewService(nil, Deps{
		Store:      h.store,
		Skills:     h.skills,
		Engine:     h.engine,
		Dispatcher: h.dispatcher,
		LLM:        h.llm,
		Search:     h.search,
	}, nil)
	require.NoError(t, err)
	h.service = svc
}

func restartSkill() *skill.Skill {
	return &skill.Skill{
		ID:        "restart-service",
		Name:      "Restart Service",
		RiskLevel: skill.RiskHigh,
		Parameters: []skill.Parameter{
			{Name: "service", Type: skill.TypeString, Required: true},
		},
		Steps: []skill.Step{
			{
				ID:               "restart",
				Action:           "service.restart",
				Parameters:       map[string]string{"service": "{{ params.service }}"},
				RequiresApproval: true,
			},
		},
		Rollback: "kubectl rollout undo deploy/{{ params.service }}",
	}
}

func TestServiceStartWritesInitialCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "api gateway 502s")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.PhaseTriage, inv.Phase)
	assert.NotEmpty(t, inv.ID)

	entries, err := h.store.List(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, checkpoint.PhaseTriage, entries[0].Phase)
}

func TestServiceStartRequiresQuery(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Start(context.Background(), "  ")
	assert.Error(t, err)
}

func TestServiceGetUnknown(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceTransitionOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "checkout latency")
	require.NoError(t, err)

	// Skipping a phase is rejected.
	err = h.service.Transition(ctx, inv.ID, checkpoint.PhaseInvestigate)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, checkpoint.PhaseTriage, inv.Phase)

	require.NoError(t, h.service.Transition(ctx, inv.ID, checkpoint.PhaseHypothesize))
	require.NoError(t, h.service.Transition(ctx, inv.ID, checkpoint.PhaseInvestigate))
	require.NoError(t, h.service.Transition(ctx, inv.ID, checkpoint.PhaseConclude))
	assert.Equal(t, checkpoint.PhaseConclude, inv.Phase)

	// Moving backwards is rejected.
	err = h.service.Transition(ctx, inv.ID, checkpoint.PhaseTriage)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Each successful transition wrote a checkpoint: start + 3 transitions.
	entries, err := h.store.List(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestServiceTransitionAbortsOnCheckpointFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "checkout latency")
	require.NoError(t, err)

	// A closed store makes the checkpoint write fail; the phase must not
	// change.
	require.NoError(t, h.store.Close())

	err = h.service.Transition(ctx, inv.ID, checkpoint.PhaseHypothesize)
	require.Error(t, err)
	assert.Equal(t, checkpoint.PhaseTriage, inv.Phase)
}

func TestServiceSymptomsAndServicesDeduped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "checkout latency")
	require.NoError(t, err)

	require.NoError(t, h.service.AddSymptom(inv.ID, "p99 above 2s"))
	require.NoError(t, h.service.AddSymptom(inv.ID, "p99 above 2s"))
	require.NoError(t, h.service.AddService(inv.ID, "checkout"))
	require.NoError(t, h.service.AddService(inv.ID, "checkout"))

	assert.Equal(t, []string{"p99 above 2s"}, inv.Symptoms)
	assert.Equal(t, []string{"checkout"}, inv.Services)
}

func TestServiceTurnDispatchesToolCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "api gateway 502s")
	require.NoError(t, err)
	require.NoError(t, h.service.AddService(inv.ID, "api-gateway"))

	h.llm.turns = []ChatResult{
		{
			Text: "Checking error logs.",
			ToolCalls: []ToolCall{
				{Action: "logs.query", Params: map[string]any{"service": "api-gateway"}},
				{Action: "always.fails"},
			},
		},
	}
	h.search.chunks = []Chunk{{Source: "runbook.md", Content: "restart the gateway", Score: 0.9}}

	turn, err := h.service.Turn(ctx, inv.ID, "what do the logs say?")
	require.NoError(t, err)
	assert.Equal(t, "Checking error logs.", turn.Text)
	require.Len(t, turn.ToolResults, 2)

	assert.Empty(t, turn.ToolResults[0].Error)
	assert.Equal(t, map[string]any{"matches": 17}, turn.ToolResults[0].Result)

	// A failing tool is reported in the result, not fatal to the turn.
	assert.Contains(t, turn.ToolResults[1].Error, "backend unreachable")

	assert.Equal(t, 1, inv.PromptCount)
	assert.Equal(t, 2, inv.ToolCallCount)
	assert.Equal(t, "api gateway 502s", h.search.query)
}

func TestServiceTurnModelError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "api gateway 502s")
	require.NoError(t, err)

	_, err = h.service.Turn(ctx, inv.ID, "hello")
	require.Error(t, err)
	assert.Equal(t, 0, inv.PromptCount)
}

func TestServiceConcludeRequiresConfirmedHypothesis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "checkout latency")
	require.NoError(t, err)
	require.NoError(t, h.service.Transition(ctx, inv.ID, checkpoint.PhaseHypothesize))
	require.NoError(t, h.service.Transition(ctx, inv.ID, checkpoint.PhaseInvestigate))

	_, err = h.service.Conclude(ctx, inv.ID, "")
	assert.ErrorIs(t, err, ErrNotConcluded)

	hyp, err := inv.Tree().Propose("", "connection pool exhausted", hypothesis.CategoryApplication)
	require.NoError(t, err)
	_, err = inv.Tree().RecordEvidence(hyp.ID, "pool.stats", "wait time 900ms", hypothesis.StrengthStrong, "pool saturated")
	require.NoError(t, err)
	_, err = inv.Tree().Confirm(hyp.ID)
	require.NoError(t, err)

	cp, err := h.service.Conclude(ctx, inv.ID, "pool size misconfigured")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.PhaseConclude, cp.Phase)
	assert.Equal(t, "pool size misconfigured", cp.RootCause)
	assert.Equal(t, checkpoint.PhaseConclude, inv.Phase)

	latest, err := h.store.LoadLatest(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "pool size misconfigured", latest.RootCause)
}

func TestServiceConcludeDefaultsToConfirmedStatement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "checkout latency")
	require.NoError(t, err)
	require.NoError(t, h.service.Transition(ctx, inv.ID, checkpoint.PhaseHypothesize))
	require.NoError(t, h.service.Transition(ctx, inv.ID, checkpoint.PhaseInvestigate))

	hyp, err := inv.Tree().Propose("", "bad config push", hypothesis.CategoryConfiguration)
	require.NoError(t, err)
	_, err = inv.Tree().RecordEvidence(hyp.ID, "config.diff", "flag flipped at 14:02", hypothesis.StrengthStrong, "matches onset")
	require.NoError(t, err)
	_, err = inv.Tree().Confirm(hyp.ID)
	require.NoError(t, err)

	cp, err := h.service.Conclude(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "bad config push", cp.RootCause)
}

func TestServiceRunSkillCompletesAndCheckpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Low-risk variant without the approval gate.
	require.NoError(t, h.skills.Register(&skill.Skill{
		ID:        "clear-cache",
		Name:      "Clear Cache",
		RiskLevel: skill.RiskLow,
		Steps: []skill.Step{
			{ID: "clear", Action: "logs.query"},
		},
	}))

	inv, err := h.service.Start(ctx, "stale cache entries")
	require.NoError(t, err)

	outcome, err := h.service.RunSkill(ctx, inv.ID, "clear-cache", nil)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, outcome.Status)

	latest, err := h.store.LoadLatest(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, latest.Execution)
	assert.Equal(t, execution.StatusCompleted, latest.Execution.Status)
}

func TestServiceRunSkillUnknown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "stale cache entries")
	require.NoError(t, err)

	_, err = h.service.RunSkill(ctx, inv.ID, "no-such-skill", nil)
	assert.Error(t, err)
}

func TestServiceResumeRestoresTree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "checkout latency")
	require.NoError(t, err)
	require.NoError(t, h.service.AddSymptom(inv.ID, "p99 above 2s"))

	root, err := inv.Tree().Propose("", "database overloaded", hypothesis.CategoryInfrastructure)
	require.NoError(t, err)
	_, err = inv.Tree().RecordEvidence(root.ID, "db.metrics", "cpu at 95%", hypothesis.StrengthStrong, "saturation")
	require.NoError(t, err)
	_, err = inv.Tree().Branch(root.ID, []string{"hot query", "missing index"})
	require.NoError(t, err)

	_, err = h.service.Checkpoint(ctx, inv.ID)
	require.NoError(t, err)

	// Simulate a process restart: fresh service and engines, same store.
	h.build(t)

	resumed, err := h.service.Resume(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, resumed.ID)
	assert.NotEqual(t, inv.SessionID, resumed.SessionID)
	assert.Equal(t, []string{"p99 above 2s"}, resumed.Symptoms)

	all := resumed.Tree().All()
	assert.Len(t, all, 3)

	restored, err := resumed.Tree().Get(root.ID)
	require.NoError(t, err)
	assert.Equal(t, hypothesis.StrengthStrong, restored.EvidenceStrength)
	assert.Len(t, restored.ChildIDs, 2)
}

func TestServiceResumeUnknownInvestigation(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Resume(context.Background(), "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestServiceApprovalSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "api gateway 502s")
	require.NoError(t, err)

	outcome, err := h.service.RunSkill(ctx, inv.ID, "restart-service", map[string]any{"service": "api-gateway"})
	require.NoError(t, err)
	require.Equal(t, execution.StatusPaused, outcome.Status)
	require.NotNil(t, outcome.Approval)
	assert.Equal(t, 0, h.restartCount)

	approvalID := outcome.Approval.ID

	// Restart the process: only the checkpoint store survives.
	h.build(t)

	resumed, err := h.service.Resume(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.Execution())
	assert.Equal(t, execution.StatusPaused, resumed.Execution().Status)
	require.NotNil(t, resumed.Execution().PendingApproval)
	assert.Equal(t, approvalID, resumed.Execution().PendingApproval.ID)

	// The restored gate is still resolvable.
	require.NoError(t, h.engine.Resolve(ctx, approvalID, execution.ApprovalApproved, "sre-oncall"))

	final, err := h.service.ResumeSkill(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status)
	assert.Equal(t, 1, h.restartCount)

	latest, err := h.store.LoadLatest(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, latest.Execution)
	assert.Equal(t, execution.StatusCompleted, latest.Execution.Status)
}

func TestServiceReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "checkout latency")
	require.NoError(t, err)

	report, err := h.service.Report(ctx, inv.ID)
	require.NoError(t, err)
	assert.Contains(t, report, inv.ID)
	assert.Contains(t, report, "checkout latency")
}

func TestInvestigationConfidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.service.Start(ctx, "checkout latency")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Confidence())

	hyp, err := inv.Tree().Propose("", "pool exhausted", hypothesis.CategoryApplication)
	require.NoError(t, err)
	_, err = inv.Tree().RecordEvidence(hyp.ID, "pool.stats", "wait 900ms", hypothesis.StrengthStrong, "saturated")
	require.NoError(t, err)
	assert.Equal(t, 70, inv.Confidence())

	_, err = inv.Tree().Confirm(hyp.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, inv.Confidence())
}
