package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/incidentd/internal/skill"
)

const instrumentationName = "github.com/fyrsmithlabs/incidentd/internal/execution"

// Config configures the execution engine.
type Config struct {
	// ApprovalTimeout bounds how long a gate stays pending before it
	// auto-resolves to timeout (default: 30m).
	ApprovalTimeout time.Duration

	// User identifies the invoking operator, exposed to templates as the
	// `user` builtin.
	User string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ApprovalTimeout: 30 * time.Minute,
		User:            "system",
	}
}

// ctxState pairs a context with the mutex serializing its Advance calls.
type ctxState struct {
	mu sync.Mutex
	ec *Context
}

// Engine interprets skills against execution contexts. Advance calls on a
// single context are serialized; independent contexts run concurrently with
// no shared mutable state beyond the engine's session index.
type Engine struct {
	config     *Config
	dispatcher *Dispatcher
	logger     *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	stepCounter     metric.Int64Counter
	approvalCounter metric.Int64Counter

	mu        sync.RWMutex
	contexts  map[string]*ctxState // session id -> state
	approvals map[string]*ctxState // approval id -> owning context

	// Injection points for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an execution engine.
func NewEngine(cfg *Config, dispatcher *Dispatcher, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 30 * time.Minute
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:     cfg,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		contexts:   make(map[string]*ctxState),
		approvals:  make(map[string]*ctxState),
		now:        time.Now,
		sleep:      sleepWithContext,
	}
	e.initMetrics()
	return e, nil
}

func (e *Engine) initMetrics() {
	var err error

	e.stepCounter, err = e.meter.Int64Counter(
		"incidentd.execution.steps_total",
		metric.WithDescription("Total number of steps reaching a terminal state"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		e.logger.Warn("failed to create step counter", zap.Error(err))
	}

	e.approvalCounter, err = e.meter.Int64Counter(
		"incidentd.execution.approvals_total",
		metric.WithDescription("Total number of approval gate resolutions"),
		metric.WithUnit("{approval}"),
	)
	if err != nil {
		e.logger.Warn("failed to create approval counter", zap.Error(err))
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start validates parameters against the skill's schema, applies defaults,
// and returns a fresh context in running state at step index 0.
func (e *Engine) Start(ctx context.Context, sk *skill.Skill, params map[string]any) (*Context, error) {
	ctx, span := e.tracer.Start(ctx, "execution.start")
	defer span.End()

	if sk == nil {
		return nil, errors.New("skill is required")
	}
	span.SetAttributes(attribute.String("skill_id", sk.ID))

	resolved, err := sk.ResolveParams(params)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ec := &Context{
		SkillID:   sk.ID,
		SessionID: uuid.New().String(),
		User:      e.config.User,
		Params:    resolved,
		Steps:     make(map[string]*StepResult),
		Status:    StatusRunning,
		StartedAt: e.now(),
		skill:     sk,
	}

	e.mu.Lock()
	e.contexts[ec.SessionID] = &ctxState{ec: ec}
	e.mu.Unlock()

	e.logger.Info("started skill execution",
		zap.String("skill_id", sk.ID),
		zap.String("session_id", ec.SessionID),
		zap.String("risk_level", string(sk.RiskLevel)),
	)

	span.SetAttributes(attribute.String("session_id", ec.SessionID))
	return ec, nil
}

// GetContext returns the context for a session id. The returned context is
// engine-owned; callers must treat it as read-only.
func (e *Engine) GetContext(sessionID string) (*Context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.contexts[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return st.ec, nil
}

// Advance executes the step at the current index: condition, templating,
// approval gate, dispatch, error policy. Calling Advance on a terminal
// context, or on a step that already holds a terminal result, is a no-op
// returning stored state without re-dispatching.
func (e *Engine) Advance(ctx context.Context, ec *Context) (*StepOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "execution.advance")
	defer span.End()
	span.SetAttributes(
		attribute.String("skill_id", ec.SkillID),
		attribute.String("session_id", ec.SessionID),
	)

	st, err := e.state(ec)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if ec.Status.Terminal() {
		return &StepOutcome{Status: ec.Status}, nil
	}

	if ec.Status == StatusPaused {
		if e.expireIfOverdueLocked(ec) {
			return &StepOutcome{StepID: ec.Approvals[len(ec.Approvals)-1].StepID, Status: ec.Status}, nil
		}
		return &StepOutcome{StepID: ec.PendingApproval.StepID, Status: StatusPaused, Approval: ec.PendingApproval}, nil
	}

	sk := ec.skill
	if ec.CurrentStepIndex >= len(sk.Steps) {
		e.completeLocked(ctx, ec)
		return &StepOutcome{Status: ec.Status}, nil
	}
	step := &sk.Steps[ec.CurrentStepIndex]
	span.SetAttributes(attribute.String("step_id", step.ID))

	// Checkpoint-and-resume safety: a step that already holds a terminal
	// result is never re-dispatched.
	if res, ok := ec.Steps[step.ID]; ok {
		ec.CurrentStepIndex++
		if ec.CurrentStepIndex >= len(sk.Steps) {
			e.completeLocked(ctx, ec)
		}
		return &StepOutcome{StepID: step.ID, Status: ec.Status, Result: res}, nil
	}

	if exceeded, reason := e.skillTimedOut(ec); exceeded {
		e.failLocked(ctx, ec, reason, e.resolveRollback(ec))
		return &StepOutcome{Status: ec.Status}, nil
	}

	scope := e.scope(ec)

	// 1. Condition: false skips the step without dispatching.
	if step.Condition != "" {
		pass, err := skill.EvalCondition(step.Condition, scope)
		if err != nil {
			return e.stepFailedLocked(ctx, ec, step, err, 0, 0), nil
		}
		if !pass {
			res := &StepResult{Status: StepSkipped}
			ec.Steps[step.ID] = res
			ec.CurrentStepIndex++
			e.recordStep(ctx, StepSkipped)
			e.logger.Debug("skipped step",
				zap.String("session_id", ec.SessionID),
				zap.String("step_id", step.ID),
				zap.String("condition", step.Condition),
			)
			if ec.CurrentStepIndex >= len(sk.Steps) {
				e.completeLocked(ctx, ec)
			}
			return &StepOutcome{StepID: step.ID, Status: ec.Status, Result: res}, nil
		}
	}

	// 2. Parameter templating.
	params, err := skill.ResolveParameters(step.Parameters, scope)
	if err != nil {
		return e.stepFailedLocked(ctx, ec, step, err, 0, 0), nil
	}

	// 3. Approval gate.
	if step.RequiresApproval && ec.approvedStepID != step.ID {
		req, err := e.requestApprovalLocked(st, ec, step, params)
		if err != nil {
			return nil, err
		}
		return &StepOutcome{StepID: step.ID, Status: StatusPaused, Approval: req}, nil
	}

	// 4. Dispatch, with the step's retry policy.
	result, attempts, durMS, dispatchErr := e.dispatch(ctx, step, params)
	ec.ElapsedMS += durMS
	if ec.approvedStepID == step.ID {
		ec.approvedStepID = ""
	}

	if dispatchErr != nil {
		return e.stepFailedLocked(ctx, ec, step, dispatchErr, attempts, durMS), nil
	}

	res := &StepResult{
		Status:     StepSuccess,
		Result:     result,
		DurationMS: durMS,
		Attempts:   attempts,
	}
	ec.Steps[step.ID] = res
	ec.CurrentStepIndex++
	e.recordStep(ctx, StepSuccess)

	e.logger.Info("step succeeded",
		zap.String("session_id", ec.SessionID),
		zap.String("step_id", step.ID),
		zap.Int64("duration_ms", durMS),
		zap.Int("attempts", attempts),
	)

	// A skill-level timeout forces failure once the step naturally
	// completes; the step's own result is retained.
	if exceeded, reason := e.skillTimedOut(ec); exceeded {
		e.failLocked(ctx, ec, reason, e.resolveRollback(ec))
	} else if ec.CurrentStepIndex >= len(sk.Steps) {
		e.completeLocked(ctx, ec)
	}

	return &StepOutcome{StepID: step.ID, Status: ec.Status, Result: res}, nil
}

// Run advances the context until it pauses at an approval gate or reaches a
// terminal state, returning the last outcome.
func (e *Engine) Run(ctx context.Context, ec *Context) (*StepOutcome, error) {
	for {
		outcome, err := e.Advance(ctx, ec)
		if err != nil {
			return outcome, err
		}
		if outcome.Status == StatusPaused || outcome.Status.Terminal() {
			return outcome, nil
		}
	}
}

// Cancel stops an execution at the next step boundary. It never interrupts a
// step mid-dispatch: if an Advance is in flight, Cancel waits for the step's
// natural completion. A pending approval is resolved as denied on the
// canceller's behalf. Legal only while running or paused.
func (e *Engine) Cancel(ec *Context, reason string) error {
	st, err := e.state(ec)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if ec.Status.Terminal() {
		return fmt.Errorf("cancel session %s in status %q: %w", ec.SessionID, ec.Status, ErrInvalidState)
	}

	if ec.PendingApproval != nil {
		req := ec.PendingApproval
		req.State = ApprovalDenied
		req.Approver = e.config.User
		req.ResolvedAt = e.now()
		ec.Approvals = append(ec.Approvals, *req)
		ec.PendingApproval = nil
	}

	if reason == "" {
		reason = "cancelled by operator"
	}
	ec.Status = StatusCancelled
	ec.Reason = reason
	ec.RollbackCommand = e.resolveRollback(ec)

	e.logger.Info("cancelled skill execution",
		zap.String("session_id", ec.SessionID),
		zap.String("skill_id", ec.SkillID),
		zap.String("reason", reason),
	)
	return nil
}

// Restore rebuilds a context from a checkpointed snapshot. The skill
// definition is supplied by the caller (looked up in the registry), since
// snapshots carry only the skill id. A pending approval is re-armed so the
// gate can still be resolved, with its original issue time governing the
// timeout window.
func (e *Engine) Restore(snap ContextSnapshot, sk *skill.Skill) (*Context, error) {
	if sk == nil {
		return nil, errors.New("skill is required")
	}
	if sk.ID != snap.SkillID {
		return nil, fmt.Errorf("snapshot is for skill %s, got definition for %s", snap.SkillID, sk.ID)
	}

	steps := make(map[string]*StepResult, len(snap.Steps))
	for id, res := range snap.Steps {
		cp := *res
		steps[id] = &cp
	}
	var pending *ApprovalRequest
	if snap.PendingApproval != nil {
		cp := *snap.PendingApproval
		pending = &cp
	}

	ec := &Context{
		SkillID:          snap.SkillID,
		SessionID:        snap.SessionID,
		User:             snap.User,
		Params:           snap.Params,
		Steps:            steps,
		CurrentStepIndex: snap.CurrentStepIndex,
		Status:           snap.Status,
		PendingApproval:  pending,
		Approvals:        append([]ApprovalRequest(nil), snap.Approvals...),
		Reason:           snap.Reason,
		RollbackCommand:  snap.RollbackCommand,
		ElapsedMS:        snap.ElapsedMS,
		StartedAt:        snap.StartedAt,
		skill:            sk,
	}

	st := &ctxState{ec: ec}
	e.mu.Lock()
	e.contexts[ec.SessionID] = st
	if pending != nil && pending.State == ApprovalPending {
		e.approvals[pending.ID] = st
	}
	e.mu.Unlock()

	e.logger.Info("restored execution context",
		zap.String("session_id", ec.SessionID),
		zap.String("skill_id", ec.SkillID),
		zap.String("status", string(ec.Status)),
		zap.Bool("pending_approval", pending != nil),
	)
	return ec, nil
}

// --- internals ---

func (e *Engine) state(ec *Context) (*ctxState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.contexts[ec.SessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", ec.SessionID, ErrNotFound)
	}
	return st, nil
}

// scope builds the template environment from the context's current state.
func (e *Engine) scope(ec *Context) *skill.Scope {
	steps := make(map[string]map[string]any, len(ec.Steps))
	for id, res := range ec.Steps {
		steps[id] = map[string]any{
			"result":      res.Result,
			"status":      string(res.Status),
			"duration_ms": res.DurationMS,
		}
	}
	return &skill.Scope{
		Params: ec.Params,
		Steps:  steps,
		Builtins: map[string]any{
			"now":        e.now().UTC().Format(time.RFC3339),
			"user":       ec.User,
			"session_id": ec.SessionID,
		},
	}
}

// resolveRollback resolves the skill's rollback template. Resolution is best
// effort: a template error surfaces the raw template rather than nothing.
func (e *Engine) resolveRollback(ec *Context) string {
	if ec.skill == nil || ec.skill.Rollback == "" {
		return ""
	}
	v, err := skill.ResolveString(ec.skill.Rollback, e.scope(ec))
	if err != nil {
		return ec.skill.Rollback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// dispatch runs the step's action through the dispatcher, honoring the step
// timeout and retry policy. It returns the result, the number of attempts
// made, the total wall-clock dispatch duration, and the final error.
func (e *Engine) dispatch(ctx context.Context, step *skill.Step, params map[string]any) (any, int, int64, error) {
	maxAttempts := 1
	if step.Policy() == skill.PolicyRetry {
		maxAttempts = 1 + step.RetryCount
	}

	var total time.Duration
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := e.now()
		result, err := e.dispatchOnce(ctx, step, params)
		total += e.now().Sub(start)

		if err == nil {
			return result, attempt, total.Milliseconds(), nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if serr := e.sleep(ctx, backoffDelay(step, attempt)); serr != nil {
				return nil, attempt, total.Milliseconds(), serr
			}
		}
	}
	return nil, maxAttempts, total.Milliseconds(), lastErr
}

func (e *Engine) dispatchOnce(ctx context.Context, step *skill.Step, params map[string]any) (any, error) {
	dispatchCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	result, err := e.dispatcher.Execute(dispatchCtx, step.Action, params)
	if err != nil {
		if step.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("step %s exceeded %s: %w", step.ID, step.Timeout, ErrStepTimeout)
		}
		return nil, err
	}
	return result, nil
}

// backoffDelay computes the wait after failed attempt n (1-based):
// constant x1, linear x n, exponential x 2^(n-1).
func backoffDelay(step *skill.Step, attempt int) time.Duration {
	base := step.RetryDelay
	switch step.BackoffMode() {
	case skill.BackoffLinear:
		return base * time.Duration(attempt)
	case skill.BackoffExponential:
		return base * time.Duration(1<<(attempt-1))
	default:
		return base
	}
}

// skillTimedOut reports whether cumulative step time exceeded the skill
// timeout.
func (e *Engine) skillTimedOut(ec *Context) (bool, string) {
	sk := ec.skill
	if sk == nil || sk.Timeout <= 0 {
		return false, ""
	}
	elapsed := time.Duration(ec.ElapsedMS) * time.Millisecond
	if elapsed < sk.Timeout {
		return false, ""
	}
	return true, fmt.Sprintf("skill %s exceeded timeout %s after %s: %s", sk.ID, sk.Timeout, elapsed, ErrSkillTimeout)
}

// stepFailedLocked stores the failed step result and applies the step's
// error policy. Template resolution failures are deterministic and are never
// retried; they reach this path with zero attempts.
func (e *Engine) stepFailedLocked(ctx context.Context, ec *Context, step *skill.Step, stepErr error, attempts int, durMS int64) *StepOutcome {
	res := &StepResult{
		Status:     StepError,
		Error:      stepErr.Error(),
		DurationMS: durMS,
		Attempts:   attempts,
	}
	ec.Steps[step.ID] = res
	e.recordStep(ctx, StepError)

	e.logger.Warn("step failed",
		zap.String("session_id", ec.SessionID),
		zap.String("step_id", step.ID),
		zap.Int("attempts", attempts),
		zap.Error(stepErr),
	)

	if step.Policy() == skill.PolicyContinue {
		ec.CurrentStepIndex++
		if exceeded, reason := e.skillTimedOut(ec); exceeded {
			e.failLocked(ctx, ec, reason, e.resolveRollback(ec))
		} else if ec.CurrentStepIndex >= len(ec.skill.Steps) {
			e.completeLocked(ctx, ec)
		}
		return &StepOutcome{StepID: step.ID, Status: ec.Status, Result: res}
	}

	// Abort, or retries exhausted: partial results are retained and the
	// rollback command is surfaced with the failure.
	reason := fmt.Sprintf("step %s failed: %v", step.ID, stepErr)
	e.failLocked(ctx, ec, reason, e.resolveRollback(ec))
	return &StepOutcome{StepID: step.ID, Status: ec.Status, Result: res}
}

func (e *Engine) completeLocked(ctx context.Context, ec *Context) {
	ec.Status = StatusCompleted
	ec.Reason = "all steps completed"
	e.logger.Info("skill execution completed",
		zap.String("session_id", ec.SessionID),
		zap.String("skill_id", ec.SkillID),
		zap.Int64("elapsed_ms", ec.ElapsedMS),
	)
}

func (e *Engine) failLocked(ctx context.Context, ec *Context, reason, rollback string) {
	ec.Status = StatusFailed
	ec.Reason = reason
	ec.RollbackCommand = rollback
	e.logger.Warn("skill execution failed",
		zap.String("session_id", ec.SessionID),
		zap.String("skill_id", ec.SkillID),
		zap.String("reason", reason),
		zap.String("rollback", rollback),
	)
}

func (e *Engine) recordStep(ctx context.Context, status StepStatus) {
	if e.stepCounter != nil {
		e.stepCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(status)),
		))
	}
}
