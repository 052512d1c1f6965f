package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/incidentd/internal/skill"
)

func newTestEngine(t *testing.T, cfg *Config, d *Dispatcher) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, d, nil)
	require.NoError(t, err)
	return e
}

func twoStepSkill() *skill.Skill {
	return &skill.Skill{
		ID:        "restart-service",
		Name:      "Restart Service",
		RiskLevel: skill.RiskLow,
		Parameters: []skill.Parameter{
			{Name: "service", Type: skill.TypeString, Required: true},
			{Name: "verify", Type: skill.TypeBoolean, Default: true},
		},
		Steps: []skill.Step{
			{ID: "restart", Action: "service.restart", Parameters: map[string]string{
				"target": "{{ params.service }}",
			}},
			{ID: "verify", Action: "health.check", Condition: "{{ params.verify }}"},
		},
		Rollback: "rollout undo {{ params.service }}",
	}
}

func TestStart(t *testing.T) {
	d := NewDispatcher(nil)
	e := newTestEngine(t, nil, d)

	ec, err := e.Start(context.Background(), twoStepSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	assert.NotEmpty(t, ec.SessionID)
	assert.Equal(t, StatusRunning, ec.Status)
	assert.Equal(t, 0, ec.CurrentStepIndex)
	assert.Equal(t, "api", ec.Params["service"])
	assert.Equal(t, true, ec.Params["verify"], "default applied")

	got, err := e.GetContext(ec.SessionID)
	require.NoError(t, err)
	assert.Same(t, ec, got)
}

func TestStartValidatesParams(t *testing.T) {
	e := newTestEngine(t, nil, NewDispatcher(nil))

	_, err := e.Start(context.Background(), twoStepSkill(), nil)
	assert.ErrorIs(t, err, skill.ErrMissingParameter)

	_, err = e.Start(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestGetContextUnknown(t *testing.T) {
	e := newTestEngine(t, nil, NewDispatcher(nil))
	_, err := e.GetContext("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunCompletes(t *testing.T) {
	restarts, checks := 0, 0
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("service.restart", func(ctx context.Context, params map[string]any) (any, error) {
		restarts++
		assert.Equal(t, "api", params["target"], "template resolved before dispatch")
		return "restarted", nil
	}))
	require.NoError(t, d.Register("health.check", func(ctx context.Context, params map[string]any) (any, error) {
		checks++
		return "healthy", nil
	}))
	e := newTestEngine(t, nil, d)

	ec, err := e.Start(context.Background(), twoStepSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)

	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, 1, restarts)
	assert.Equal(t, 1, checks)
	assert.Equal(t, "all steps completed", ec.Reason)

	require.Contains(t, ec.Steps, "restart")
	assert.Equal(t, StepSuccess, ec.Steps["restart"].Status)
	assert.Equal(t, "restarted", ec.Steps["restart"].Result)
	assert.Equal(t, 1, ec.Steps["restart"].Attempts)
}

func TestAdvanceOnTerminalContextIsNoop(t *testing.T) {
	calls := 0
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("service.restart", func(ctx context.Context, params map[string]any) (any, error) {
		calls++
		return nil, nil
	}))
	require.NoError(t, d.Register("health.check", okHandler("healthy")))
	e := newTestEngine(t, nil, d)

	ec, err := e.Start(context.Background(), twoStepSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, ec.Status)

	outcome, err := e.Advance(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, 1, calls, "terminal context never re-dispatches")
}

func TestAdvanceSkipsStoredStepResult(t *testing.T) {
	calls := 0
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("service.restart", func(ctx context.Context, params map[string]any) (any, error) {
		calls++
		return nil, nil
	}))
	require.NoError(t, d.Register("health.check", okHandler("healthy")))
	e := newTestEngine(t, nil, d)

	// A snapshot taken after the first step already holds its result; the
	// restored context replays from index 0 without re-dispatching it.
	sk := twoStepSkill()
	snap := ContextSnapshot{
		SkillID:   sk.ID,
		SessionID: "session-1",
		User:      "alice",
		Params:    map[string]any{"service": "api", "verify": true},
		Steps: map[string]*StepResult{
			"restart": {Status: StepSuccess, Result: "restarted", Attempts: 1},
		},
		CurrentStepIndex: 0,
		Status:           StatusRunning,
		StartedAt:        time.Now(),
	}
	ec, err := e.Restore(snap, sk)
	require.NoError(t, err)

	outcome, err := e.Advance(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "restart", outcome.StepID)
	assert.Equal(t, "restarted", outcome.Result.Result)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, ec.CurrentStepIndex)

	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ec.Status)
	assert.Equal(t, 0, calls)
}

func TestConditionFalseSkipsStep(t *testing.T) {
	checks := 0
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("service.restart", okHandler("restarted")))
	require.NoError(t, d.Register("health.check", func(ctx context.Context, params map[string]any) (any, error) {
		checks++
		return nil, nil
	}))
	e := newTestEngine(t, nil, d)

	ec, err := e.Start(context.Background(), twoStepSkill(), map[string]any{
		"service": "api",
		"verify":  false,
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ec.Status)
	assert.Equal(t, 0, checks)
	assert.Equal(t, StepSkipped, ec.Steps["verify"].Status)
}

func TestConditionErrorFailsStep(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("noop", okHandler(nil)))
	e := newTestEngine(t, nil, d)

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{
			{ID: "a", Action: "noop", Condition: "{{ params.missing }}"},
		},
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, StepError, ec.Steps["a"].Status)
	assert.Equal(t, 0, ec.Steps["a"].Attempts, "template errors are not retried")
}

func TestTemplateErrorFailsWithoutDispatch(t *testing.T) {
	calls := 0
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("noop", func(ctx context.Context, params map[string]any) (any, error) {
		calls++
		return nil, nil
	}))
	e := newTestEngine(t, nil, d)

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{
			{ID: "a", Action: "noop", OnError: skill.PolicyRetry, RetryCount: 3,
				Parameters: map[string]string{"x": "{{ steps.nope.result }}"}},
		},
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ec.Status)
	assert.Equal(t, 0, calls)
	assert.Contains(t, ec.Steps["a"].Error, "steps.nope")
}

func TestRetryBackoff(t *testing.T) {
	attempts := 0
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("flaky", func(ctx context.Context, params map[string]any) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, assert.AnError
		}
		return "ok", nil
	}))
	e := newTestEngine(t, nil, d)

	var delays []time.Duration
	e.sleep = func(ctx context.Context, dur time.Duration) error {
		delays = append(delays, dur)
		return nil
	}

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{
			{ID: "a", Action: "flaky", OnError: skill.PolicyRetry, RetryCount: 4,
				RetryDelay: 10 * time.Millisecond, RetryBackoff: skill.BackoffExponential},
		},
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, 3, ec.Steps["a"].Attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		mode    skill.Backoff
		attempt int
		want    time.Duration
	}{
		{skill.BackoffConstant, 1, base},
		{skill.BackoffConstant, 3, base},
		{skill.BackoffLinear, 1, base},
		{skill.BackoffLinear, 3, 3 * base},
		{skill.BackoffExponential, 1, base},
		{skill.BackoffExponential, 2, 2 * base},
		{skill.BackoffExponential, 4, 8 * base},
	}
	for _, tt := range tests {
		step := &skill.Step{RetryDelay: base, RetryBackoff: tt.mode}
		assert.Equal(t, tt.want, backoffDelay(step, tt.attempt),
			"mode %s attempt %d", tt.mode, tt.attempt)
	}
}

func TestRetryExhaustedAborts(t *testing.T) {
	attempts := 0
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("flaky", func(ctx context.Context, params map[string]any) (any, error) {
		attempts++
		return nil, assert.AnError
	}))
	e := newTestEngine(t, nil, d)
	e.sleep = func(ctx context.Context, dur time.Duration) error { return nil }

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{
			{ID: "a", Action: "flaky", OnError: skill.PolicyRetry, RetryCount: 2},
			{ID: "b", Action: "flaky"},
		},
		Rollback: "undo everything",
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ec.Status)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, ec.Steps["a"].Attempts)
	assert.NotContains(t, ec.Steps, "b", "later steps never run after abort")
	assert.Contains(t, ec.Reason, "step a failed")
	assert.Equal(t, "undo everything", ec.RollbackCommand)
}

func TestOnErrorContinue(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("always.fails", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, assert.AnError
	}))
	require.NoError(t, d.Register("noop", okHandler("ok")))
	e := newTestEngine(t, nil, d)

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{
			{ID: "a", Action: "always.fails", OnError: skill.PolicyContinue},
			{ID: "b", Action: "noop"},
		},
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	assert.Equal(t, StepError, ec.Steps["a"].Status)
	assert.Equal(t, StepSuccess, ec.Steps["b"].Status)
}

func TestUnknownActionFailsStep(t *testing.T) {
	e := newTestEngine(t, nil, NewDispatcher(nil))

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{{ID: "a", Action: "not.registered"}},
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ec.Status)
	assert.Contains(t, ec.Steps["a"].Error, "not.registered")
}

func TestStepTimeout(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("slow", func(ctx context.Context, params map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	e := newTestEngine(t, nil, d)

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{
			{ID: "a", Action: "slow", Timeout: 10 * time.Millisecond},
		},
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ec.Status)
	assert.Contains(t, ec.Steps["a"].Error, "exceeded 10ms")
}

func TestSkillTimeout(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("noop", okHandler("ok")))
	e := newTestEngine(t, nil, d)

	// Each clock read advances 40ms, so the first dispatch alone books 40ms
	// of elapsed time against a 30ms budget.
	clock := time.Unix(1700000000, 0)
	e.now = func() time.Time {
		clock = clock.Add(40 * time.Millisecond)
		return clock
	}

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{
			{ID: "a", Action: "noop"},
			{ID: "b", Action: "noop"},
		},
		Timeout: 30 * time.Millisecond,
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ec.Status)
	assert.Equal(t, StepSuccess, ec.Steps["a"].Status, "finished step is retained")
	assert.NotContains(t, ec.Steps, "b")
	assert.Contains(t, ec.Reason, "exceeded timeout")
}

func approvalSkill() *skill.Skill {
	return &skill.Skill{
		ID:        "scale-down",
		Name:      "Scale Down",
		RiskLevel: skill.RiskHigh,
		Parameters: []skill.Parameter{
			{Name: "service", Type: skill.TypeString, Required: true},
		},
		Steps: []skill.Step{
			{ID: "scale", Action: "k8s.scale", RequiresApproval: true,
				Parameters: map[string]string{"target": "{{ params.service }}"}},
			{ID: "verify", Action: "health.check"},
		},
		Rollback: "kubectl rollout undo {{ params.service }}",
	}
}

func approvalDispatcher(t *testing.T, scales *int) *Dispatcher {
	t.Helper()
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("k8s.scale", func(ctx context.Context, params map[string]any) (any, error) {
		*scales++
		return "scaled", nil
	}))
	require.NoError(t, d.Register("health.check", okHandler("healthy")))
	return d
}

func TestApprovalGatePauses(t *testing.T) {
	scales := 0
	e := newTestEngine(t, &Config{User: "alice"}, approvalDispatcher(t, &scales))

	ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)

	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, outcome.Status)
	require.NotNil(t, outcome.Approval)
	assert.Equal(t, 0, scales, "gated action not dispatched")

	req := outcome.Approval
	assert.Equal(t, "scale", req.StepID)
	assert.Equal(t, "k8s.scale", req.Action)
	assert.Equal(t, "api", req.Parameters["target"], "request shows resolved parameters")
	assert.Equal(t, skill.RiskHigh, req.RiskLevel)
	assert.Equal(t, "kubectl rollout undo api", req.RollbackCommand)
	assert.Equal(t, ApprovalPending, req.State)

	// Advancing while paused re-surfaces the same request.
	again, err := e.Advance(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, again.Status)
	assert.Equal(t, req.ID, again.Approval.ID)
}

func TestApprovalApprovedResumes(t *testing.T) {
	scales := 0
	e := newTestEngine(t, nil, approvalDispatcher(t, &scales))

	ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	require.NotNil(t, outcome.Approval)

	require.NoError(t, e.Resolve(context.Background(), outcome.Approval.ID, ApprovalApproved, "oncall"))
	assert.Equal(t, StatusRunning, ec.Status)
	assert.Nil(t, ec.PendingApproval)

	final, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, scales)

	require.Len(t, ec.Approvals, 1)
	assert.Equal(t, ApprovalApproved, ec.Approvals[0].State)
	assert.Equal(t, "oncall", ec.Approvals[0].Approver)
}

func TestApprovalDeniedFails(t *testing.T) {
	scales := 0
	e := newTestEngine(t, nil, approvalDispatcher(t, &scales))

	ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)

	require.NoError(t, e.Resolve(context.Background(), outcome.Approval.ID, ApprovalDenied, "oncall"))
	assert.Equal(t, StatusFailed, ec.Status)
	assert.Equal(t, 0, scales)
	assert.Contains(t, ec.Reason, "denied by oncall")
	assert.Equal(t, "kubectl rollout undo api", ec.RollbackCommand)

	require.Len(t, ec.Approvals, 1)
	assert.Equal(t, ApprovalDenied, ec.Approvals[0].State)
}

func TestApprovalResolveErrors(t *testing.T) {
	scales := 0
	e := newTestEngine(t, nil, approvalDispatcher(t, &scales))

	ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	id := outcome.Approval.ID

	assert.Error(t, e.Resolve(context.Background(), id, ApprovalPending, "x"),
		"only approved and denied are valid decisions")
	assert.ErrorIs(t, e.Resolve(context.Background(), "missing", ApprovalApproved, "x"), ErrNotFound)

	require.NoError(t, e.Resolve(context.Background(), id, ApprovalApproved, "oncall"))
	assert.ErrorIs(t, e.Resolve(context.Background(), id, ApprovalDenied, "oncall"), ErrAlreadyResolved)
}

func TestApprovalTimeout(t *testing.T) {
	scales := 0
	e := newTestEngine(t, &Config{ApprovalTimeout: 30 * time.Minute}, approvalDispatcher(t, &scales))

	base := time.Unix(1700000000, 0)
	e.now = func() time.Time { return base }

	ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	id := outcome.Approval.ID

	// The window elapses while the gate sits unresolved; the next Advance
	// expires it lazily.
	e.now = func() time.Time { return base.Add(31 * time.Minute) }

	expired, err := e.Advance(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, expired.Status)
	assert.Equal(t, 0, scales)
	assert.Contains(t, ec.Reason, "approval timed out")

	require.Len(t, ec.Approvals, 1)
	assert.Equal(t, ApprovalTimeout, ec.Approvals[0].State, "timeout recorded distinctly from denial")

	assert.ErrorIs(t, e.Resolve(context.Background(), id, ApprovalApproved, "late"), ErrAlreadyResolved)
}

func TestExpireApprovalsSweep(t *testing.T) {
	scales := 0
	e := newTestEngine(t, &Config{ApprovalTimeout: time.Minute}, approvalDispatcher(t, &scales))

	base := time.Unix(1700000000, 0)
	e.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
		require.NoError(t, err)
		_, err = e.Run(context.Background(), ec)
		require.NoError(t, err)
	}

	assert.Equal(t, 0, e.ExpireApprovals(context.Background()), "nothing overdue yet")

	e.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 2, e.ExpireApprovals(context.Background()))
	assert.Equal(t, 0, e.ExpireApprovals(context.Background()), "expiry is one-shot")
}

func TestCancel(t *testing.T) {
	scales := 0
	e := newTestEngine(t, &Config{User: "operator"}, approvalDispatcher(t, &scales))

	ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, ec.Status)

	require.NoError(t, e.Cancel(ec, "incident resolved"))
	assert.Equal(t, StatusCancelled, ec.Status)
	assert.Equal(t, "incident resolved", ec.Reason)
	assert.Equal(t, "kubectl rollout undo api", ec.RollbackCommand)

	// The outstanding gate is closed as a denial on the canceller's behalf.
	assert.Nil(t, ec.PendingApproval)
	require.Len(t, ec.Approvals, 1)
	assert.Equal(t, ApprovalDenied, ec.Approvals[0].State)
	assert.Equal(t, "operator", ec.Approvals[0].Approver)

	assert.ErrorIs(t, e.Cancel(ec, "again"), ErrInvalidState)
}

func TestCancelDefaultReason(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register("noop", okHandler(nil)))
	e := newTestEngine(t, nil, d)

	sk := &skill.Skill{
		ID: "s", Name: "S", RiskLevel: skill.RiskLow,
		Steps: []skill.Step{{ID: "a", Action: "noop"}},
	}
	ec, err := e.Start(context.Background(), sk, nil)
	require.NoError(t, err)

	require.NoError(t, e.Cancel(ec, ""))
	assert.Equal(t, "cancelled by operator", ec.Reason)
}

func TestRestoreReArmsPendingApproval(t *testing.T) {
	scales := 0
	e := newTestEngine(t, nil, approvalDispatcher(t, &scales))

	ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	outcome, err := e.Run(context.Background(), ec)
	require.NoError(t, err)
	id := outcome.Approval.ID

	snap := ec.Snapshot()

	// A fresh engine models the process restarting; the snapshot plus the
	// registry's definition are everything it gets.
	restoredScales := 0
	e2 := newTestEngine(t, nil, approvalDispatcher(t, &restoredScales))
	ec2, err := e2.Restore(snap, approvalSkill())
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, ec2.Status)
	assert.Equal(t, ec.SessionID, ec2.SessionID)

	require.NoError(t, e2.Resolve(context.Background(), id, ApprovalApproved, "oncall"))
	final, err := e2.Run(context.Background(), ec2)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, restoredScales)
	assert.Equal(t, 0, scales, "original engine untouched")
}

func TestRestoreValidatesSkill(t *testing.T) {
	e := newTestEngine(t, nil, NewDispatcher(nil))

	_, err := e.Restore(ContextSnapshot{SkillID: "a"}, nil)
	assert.Error(t, err)

	other := twoStepSkill()
	_, err = e.Restore(ContextSnapshot{SkillID: "different"}, other)
	assert.ErrorContains(t, err, "snapshot is for skill")
}

func TestSnapshotIsValueCopy(t *testing.T) {
	scales := 0
	e := newTestEngine(t, nil, approvalDispatcher(t, &scales))

	ec, err := e.Start(context.Background(), approvalSkill(), map[string]any{"service": "api"})
	require.NoError(t, err)
	_, err = e.Run(context.Background(), ec)
	require.NoError(t, err)

	snap := ec.Snapshot()
	require.NotNil(t, snap.PendingApproval)

	snap.Params["service"] = "mutated"
	snap.PendingApproval.State = ApprovalDenied

	assert.Equal(t, "api", ec.Params["service"])
	assert.Equal(t, ApprovalPending, ec.PendingApproval.State)
}
