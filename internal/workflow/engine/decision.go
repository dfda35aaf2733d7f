package engine

import (
	"fmt"
	"strings"

	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/workflow"
)

// HookDecision maps the outcome onto the host verdict: block only for
// critical findings, warn when state could not be loaded or saved.
func (d Decision) HookDecision() hook.Decision {
	switch {
	case d.Block:
		return hook.DecisionBlock
	case d.LoadErr != nil || d.SaveErr != nil:
		return hook.DecisionWarn
	default:
		return hook.DecisionApprove
	}
}

// SuggestedWorkers returns the suggestions as plain strings.
func (d Decision) SuggestedWorkers() []string {
	return workerStrings(d.Suggested)
}

// Message renders the orchestration summary. The catalog supplies worker
// descriptions and chain sizes.
func (d Decision) Message(catalog *workflow.Catalog) string {
	var b strings.Builder
	if len(d.Suggested) > 0 {
		b.WriteString("Workflow orchestration\n")
		if d.ActiveWorkflow != "" {
			fmt.Fprintf(&b, "Active workflow: %s\n", workflow.Titleize(d.ActiveWorkflow))
		}
		b.WriteString("Suggested next steps:\n")
		for i, id := range d.Suggested {
			fmt.Fprintf(&b, "  %d. `%s` subagent - %s\n", i+1, id, catalog.Describe(id))
		}
	}
	for _, chainID := range d.Completed {
		members := 0
		if chain, ok := catalog.Chain(chainID); ok {
			members = len(chain.Members)
		}
		fmt.Fprintf(&b, "Workflow complete: %s (all %d subagents have run)\n", workflow.Titleize(chainID), members)
	}
	for _, advisory := range d.Advisories {
		fmt.Fprintf(&b, "Note: %s\n", advisory)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Response builds the hook response for this decision.
func (d Decision) Response(catalog *workflow.Catalog) hook.Response {
	resp := hook.Response{
		Decision:             d.HookDecision(),
		Message:              d.Message(catalog),
		SuggestedNextWorkers: d.SuggestedWorkers(),
	}
	resp = resp.WithDetail("completedWorker", string(d.Worker))
	if d.ActiveWorkflow != "" {
		resp = resp.WithDetail("activeWorkflow", d.ActiveWorkflow)
	}
	if len(d.Completed) > 0 {
		resp = resp.WithDetail("completedWorkflows", d.Completed)
	}
	return resp.WithDetail("workflowState", d.State)
}
