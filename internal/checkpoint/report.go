package checkpoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/incidentd/internal/hypothesis"
)

// RenderReport builds a markdown audit report from a checkpoint. The report
// is self-contained: everything in it comes from the snapshot, so rendering
// the same checkpoint always produces the same document.
func RenderReport(cp *Checkpoint) string {
	if cp == nil {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "# Investigation Report: %s\n\n", cp.InvestigationID)
	fmt.Fprintf(&b, "- **Checkpoint:** %s\n", cp.ID)
	fmt.Fprintf(&b, "- **Phase:** %s\n", cp.Phase)
	fmt.Fprintf(&b, "- **Confidence:** %d%%\n", cp.Confidence)
	if !cp.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- **Captured:** %s\n", cp.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	if cp.Query != "" {
		fmt.Fprintf(&b, "- **Query:** %s\n", cp.Query)
	}
	b.WriteString("\n")

	if len(cp.Symptoms) > 0 {
		b.WriteString("## Symptoms\n\n")
		for _, s := range cp.Symptoms {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}

	if len(cp.AffectedServices) > 0 {
		services := append([]string(nil), cp.AffectedServices...)
		sort.Strings(services)
		b.WriteString("## Affected Services\n\n")
		for _, svc := range services {
			fmt.Fprintf(&b, "- %s\n", svc)
		}
		b.WriteString("\n")
	}

	if len(cp.Hypotheses) > 0 {
		b.WriteString("## Hypotheses\n\n")
		for _, h := range cp.Hypotheses {
			renderHypothesis(&b, &h)
		}
	}

	if cp.Execution != nil {
		b.WriteString("## Remediation\n\n")
		fmt.Fprintf(&b, "- **Skill:** %s\n", cp.Execution.SkillID)
		fmt.Fprintf(&b, "- **Status:** %s\n", cp.Execution.Status)
		if len(cp.Execution.Steps) > 0 {
			ids := make([]string, 0, len(cp.Execution.Steps))
			for id := range cp.Execution.Steps {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			b.WriteString("\n| Step | Status | Duration |\n|------|--------|----------|\n")
			for _, id := range ids {
				result := cp.Execution.Steps[id]
				fmt.Fprintf(&b, "| %s | %s | %dms |\n", id, result.Status, result.DurationMS)
			}
		}
		b.WriteString("\n")
	}

	if cp.RootCause != "" {
		b.WriteString("## Root Cause\n\n")
		b.WriteString(cp.RootCause)
		b.WriteString("\n")
	}

	return b.String()
}

func renderHypothesis(b *strings.Builder, h *hypothesis.Snapshot) {
	indent := strings.Repeat("  ", h.Depth)
	marker := statusMarker(h.Status)
	fmt.Fprintf(b, "%s- %s **%s** (%s, %d%% confidence)\n", indent, marker, h.Statement, h.Category, h.Confidence)
	if h.Status == hypothesis.StatusPruned && h.PruneReason != "" {
		fmt.Fprintf(b, "%s  - pruned: %s\n", indent, h.PruneReason)
	}
	for _, ev := range h.Ledger {
		fmt.Fprintf(b, "%s  - evidence [%s]: %s\n", indent, ev.Classification, ev.Reasoning)
	}
}

func statusMarker(st hypothesis.Status) string {
	switch st {
	case hypothesis.StatusConfirmed:
		return "[confirmed]"
	case hypothesis.StatusPruned:
		return "[pruned]"
	case hypothesis.StatusInvestigating:
		return "[investigating]"
	default:
		return "[active]"
	}
}
