package checkpoint

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/incidentd/internal/execution"
	"github.com/fyrsmithlabs/incidentd/internal/hypothesis"
)

func TestRenderReportNil(t *testing.T) {
	assert.Empty(t, RenderReport(nil))
}

func TestRenderReport(t *testing.T) {
	cp := &Checkpoint{
		ID:              "cp-1",
		InvestigationID: "inv-42",
		Phase:           PhaseConclude,
		Query:           "checkout latency spike",
		Confidence:      85,
		Symptoms:        []string{"p99 latency above 2s"},
		AffectedServices: []string{
			"checkout",
			"api-gateway",
		},
		Hypotheses: []hypothesis.Snapshot{
			{Hypothesis: hypothesis.Hypothesis{
				ID:         "h1",
				Statement:  "database connection pool exhausted",
				Category:   hypothesis.CategoryApplication,
				Status:     hypothesis.StatusConfirmed,
				Confidence: 85,
				Ledger: []hypothesis.Evidence{
					{Classification: hypothesis.StrengthStrong, Reasoning: "pool wait time correlates with latency"},
				},
			}},
			{Hypothesis: hypothesis.Hypothesis{
				ID:          "h2",
				Statement:   "upstream provider outage",
				Category:    hypothesis.CategoryExternal,
				Status:      hypothesis.StatusPruned,
				PruneReason: "provider status page green",
			}},
		},
		Execution: &execution.ContextSnapshot{
			SkillID: "restart-service",
			Status:  execution.StatusCompleted,
			Steps: map[string]*execution.StepResult{
				"drain":   {Status: execution.StepSuccess, DurationMS: 1200},
				"restart": {Status: execution.StepSuccess, DurationMS: 3400},
			},
		},
		RootCause: "pool size misconfigured after the 14:00 deploy",
		CreatedAt: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
	}

	report := RenderReport(cp)

	assert.Contains(t, report, "# Investigation Report: inv-42")
	assert.Contains(t, report, "**Phase:** conclude")
	assert.Contains(t, report, "**Confidence:** 85%")
	assert.Contains(t, report, "2026-03-10 14:30:00 UTC")
	assert.Contains(t, report, "## Symptoms")
	assert.Contains(t, report, "- p99 latency above 2s")
	assert.Contains(t, report, "## Affected Services")
	assert.Contains(t, report, "[confirmed] **database connection pool exhausted**")
	assert.Contains(t, report, "[pruned] **upstream provider outage**")
	assert.Contains(t, report, "pruned: provider status page green")
	assert.Contains(t, report, "evidence [strong]: pool wait time correlates with latency")
	assert.Contains(t, report, "| drain | success | 1200ms |")
	assert.Contains(t, report, "| restart | success | 3400ms |")
	assert.Contains(t, report, "## Root Cause")
	assert.Contains(t, report, "pool size misconfigured after the 14:00 deploy")

	// Deterministic: same snapshot, same document.
	assert.Equal(t, report, RenderReport(cp))
}

func TestRenderReportAffectedServicesSorted(t *testing.T) {
	cp := &Checkpoint{
		InvestigationID:  "inv-1",
		Phase:            PhaseTriage,
		AffectedServices: []string{"zeta", "alpha"},
	}
	report := RenderReport(cp)
	assert.Less(t, strings.Index(report, "- alpha"), strings.Index(report, "- zeta"))
}
