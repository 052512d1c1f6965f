package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/incidentd/internal/skill"
)

// requestApprovalLocked suspends the context at an approval gate. At most one
// request may be outstanding per context.
func (e *Engine) requestApprovalLocked(st *ctxState, ec *Context, step *skill.Step, params map[string]any) (*ApprovalRequest, error) {
	if ec.PendingApproval != nil {
		return nil, fmt.Errorf("session %s: step %s: %w", ec.SessionID, step.ID, ErrApprovalAlreadyPending)
	}

	req := &ApprovalRequest{
		ID:              uuid.New().String(),
		SkillID:         ec.SkillID,
		StepID:          step.ID,
		Action:          step.Action,
		Parameters:      params,
		RiskLevel:       ec.skill.RiskLevel,
		RollbackCommand: e.resolveRollback(ec),
		State:           ApprovalPending,
		IssuedAt:        e.now(),
	}

	ec.PendingApproval = req
	ec.Status = StatusPaused

	e.mu.Lock()
	e.approvals[req.ID] = st
	e.mu.Unlock()

	e.logger.Info("approval requested",
		zap.String("session_id", ec.SessionID),
		zap.String("approval_id", req.ID),
		zap.String("step_id", step.ID),
		zap.String("action", step.Action),
		zap.String("risk_level", string(req.RiskLevel)),
	)
	return req, nil
}

// Resolve settles a pending approval. First resolution wins: a second call
// for the same id fails with ErrAlreadyResolved. Approving resumes the state
// machine at the gated step's dispatch phase on the next Advance; denying
// fails the skill and surfaces the rollback command. A request past its
// timeout window auto-resolves to timeout before the caller's decision is
// considered.
func (e *Engine) Resolve(ctx context.Context, approvalID string, decision ApprovalState, approver string) error {
	ctx, span := e.tracer.Start(ctx, "execution.resolve_approval")
	defer span.End()
	span.SetAttributes(
		attribute.String("approval_id", approvalID),
		attribute.String("decision", string(decision)),
	)

	if decision != ApprovalApproved && decision != ApprovalDenied {
		return fmt.Errorf("invalid approval decision %q", decision)
	}

	e.mu.RLock()
	st, ok := e.approvals[approvalID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("approval %s: %w", approvalID, ErrNotFound)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	ec := st.ec
	req := ec.PendingApproval
	if req == nil || req.ID != approvalID {
		return fmt.Errorf("approval %s: %w", approvalID, ErrAlreadyResolved)
	}

	if e.expireIfOverdueLocked(ec) {
		return fmt.Errorf("approval %s resolved by timeout: %w", approvalID, ErrAlreadyResolved)
	}

	req.State = decision
	req.Approver = approver
	req.ResolvedAt = e.now()
	ec.Approvals = append(ec.Approvals, *req)
	ec.PendingApproval = nil

	e.recordApproval(ctx, decision)

	switch decision {
	case ApprovalApproved:
		ec.Status = StatusRunning
		ec.approvedStepID = req.StepID
		e.logger.Info("approval granted",
			zap.String("session_id", ec.SessionID),
			zap.String("approval_id", req.ID),
			zap.String("step_id", req.StepID),
			zap.String("approver", approver),
		)
	case ApprovalDenied:
		reason := fmt.Sprintf("step %s denied by %s", req.StepID, approver)
		e.failLocked(ctx, ec, reason, req.RollbackCommand)
	}
	return nil
}

// ExpireApprovals sweeps pending approvals past their timeout window,
// auto-resolving each to timeout. Returns the number expired. Callers run
// this periodically; Advance and Resolve also expire lazily.
func (e *Engine) ExpireApprovals(ctx context.Context) int {
	e.mu.RLock()
	states := make([]*ctxState, 0, len(e.approvals))
	for _, st := range e.approvals {
		states = append(states, st)
	}
	e.mu.RUnlock()

	expired := 0
	for _, st := range states {
		st.mu.Lock()
		if e.expireIfOverdueLocked(st.ec) {
			expired++
		}
		st.mu.Unlock()
	}
	return expired
}

// expireIfOverdueLocked auto-resolves an overdue pending approval to
// timeout. Equivalent to a denial but recorded distinctly for audit.
func (e *Engine) expireIfOverdueLocked(ec *Context) bool {
	req := ec.PendingApproval
	if req == nil || req.State != ApprovalPending {
		return false
	}
	if e.now().Sub(req.IssuedAt) < e.config.ApprovalTimeout {
		return false
	}

	req.State = ApprovalTimeout
	req.ResolvedAt = e.now()
	ec.Approvals = append(ec.Approvals, *req)
	ec.PendingApproval = nil

	e.recordApproval(context.Background(), ApprovalTimeout)

	reason := fmt.Sprintf("step %s approval timed out after %s", req.StepID, e.config.ApprovalTimeout)
	e.failLocked(context.Background(), ec, reason, req.RollbackCommand)

	e.logger.Warn("approval timed out",
		zap.String("session_id", ec.SessionID),
		zap.String("approval_id", req.ID),
		zap.String("step_id", req.StepID),
	)
	return true
}

func (e *Engine) recordApproval(ctx context.Context, state ApprovalState) {
	if e.approvalCounter != nil {
		e.approvalCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", string(state)),
		))
	}
}
