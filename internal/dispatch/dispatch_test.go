package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-hooks/internal/config"
	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/state"
)

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func newDispatcher(t *testing.T, mutate func(*config.Config)) *Dispatcher {
	t.Helper()
	cfg := config.Default(t.TempDir())
	if mutate != nil {
		mutate(cfg)
	}
	d, err := New(context.Background(), cfg, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func loadState(t *testing.T, d *Dispatcher) state.State {
	t.Helper()
	st, err := state.NewFileStore(d.Config().StatePath()).Load(context.Background())
	require.NoError(t, err)
	return st
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}

func TestPromptSubmitRoutesToTestingWorker(t *testing.T) {
	d := newDispatcher(t, nil)
	resp := d.Handle(context.Background(), hook.Input{
		Event:  hook.EventUserPromptSubmit,
		Prompt: "Please write unit tests for the parser",
	})
	assert.Equal(t, hook.DecisionApprove, resp.Decision)
	require.NotEmpty(t, resp.SuggestedNextWorkers)
	assert.Equal(t, "tdd-python-implementer", resp.SuggestedNextWorkers[0])
	assert.Contains(t, resp.Message, "Subagent router suggestions:")

	candidates, ok := resp.Details["candidates"].([]map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tdd-python-implementer", candidates[0]["name"])
}

func TestPromptWithoutMatchesApprovesSilently(t *testing.T) {
	d := newDispatcher(t, nil)
	resp := d.Handle(context.Background(), hook.Input{Event: hook.EventUserPromptSubmit, Prompt: "   "})
	assert.Equal(t, hook.Approve(""), resp)
}

func TestPreToolUsePreparesContext(t *testing.T) {
	d := newDispatcher(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(d.Config().ProjectDir, "go.mod"), []byte("module example.com/x\n\ngo 1.22\n"), 0o644))

	resp := d.Handle(context.Background(), hook.Input{
		Event:    hook.EventPreToolUse,
		ToolName: hook.ToolTask,
		ToolInput: hook.Payload{
			"subagent_type": "security-orchestrator",
			"prompt":        "Audit the login flow",
		},
	})
	assert.Equal(t, hook.DecisionApprove, resp.Decision)
	path := filepath.Join(d.Config().ContextDir(), "security-orchestrator.md")
	assert.Equal(t, path, resp.Details["snapshotPath"])
	assert.FileExists(t, path)
	assert.Contains(t, resp.Details["context"], "Project type: Go")
	assert.Contains(t, resp.Message, "Context prepared for security-orchestrator")
}

func TestPreToolUseIgnoresOtherTools(t *testing.T) {
	d := newDispatcher(t, nil)
	resp := d.Handle(context.Background(), hook.Input{Event: hook.EventPreToolUse, ToolName: "Bash"})
	assert.Equal(t, hook.Approve(""), resp)

	d = newDispatcher(t, func(cfg *config.Config) { cfg.Settings.Preparer.Enabled = false })
	resp = d.Handle(context.Background(), hook.Input{
		Event: hook.EventPreToolUse, ToolName: hook.ToolTask,
		ToolInput: hook.Payload{"prompt": "Implement it"},
	})
	assert.Equal(t, hook.Approve(""), resp)
	_, err := os.Stat(d.Config().ContextDir())
	assert.True(t, os.IsNotExist(err))
}

func TestSubagentStopAdvancesWorkflow(t *testing.T) {
	d := newDispatcher(t, nil)
	resp := d.Handle(context.Background(), hook.Input{
		Event:     hook.EventSubagentStop,
		AgentName: "code-synthesis-analyzer",
		Result: hook.Payload{
			"issues_found": true,
			"issue_types":  []any{"quality"},
			"metrics":      map[string]any{"complexity": 12},
		},
	})
	assert.Equal(t, hook.DecisionApprove, resp.Decision)
	assert.Equal(t, hook.ExitOK, resp.ExitCode())
	assert.Equal(t, []string{"code-clarity-refactorer"}, resp.SuggestedNextWorkers)
	assert.Contains(t, resp.Message, "Subagent completed: code-synthesis-analyzer")
	assert.Contains(t, resp.Message, "Suggested next steps:")
	assert.Equal(t, false, resp.Details["requiresImmediateAttention"])

	st := loadState(t, d)
	assert.Equal(t, []string{"code-synthesis-analyzer"}, st.CompletedWorkers)
	assert.Equal(t, []string{"code-clarity-refactorer"}, st.PendingWorkers)

	entries, err := os.ReadDir(d.Config().ResultsDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "code-synthesis-analyzer_20250304T050607"))
	assert.Equal(t, filepath.Join(d.Config().ResultsDir(), entries[0].Name()), resp.Details["recordPath"])
}

func TestCriticalFindingBlocks(t *testing.T) {
	d := newDispatcher(t, nil)
	resp := d.Handle(context.Background(), hook.Input{
		Event:     hook.EventSubagentStop,
		AgentName: "security-orchestrator",
		Result: hook.Payload{
			"findings": []any{
				map[string]any{"severity": "critical", "title": "SQL injection"},
				map[string]any{"severity": "low"},
			},
		},
	})
	assert.Equal(t, hook.DecisionBlock, resp.Decision)
	assert.Equal(t, hook.ExitBlock, resp.ExitCode())
	assert.True(t, strings.HasPrefix(resp.Message, "IMMEDIATE ATTENTION REQUIRED: 1 critical finding(s) from security-orchestrator"))
	assert.Equal(t, []string{"bug-issue-creator", "tech-docs-maintainer"}, resp.SuggestedNextWorkers)
	assert.Equal(t, 1, resp.Details["criticalFindings"])

	lines, _ := d.Logbook().Tail(10)
	assert.NotEmpty(t, lines)
}

func TestSubagentStopWithoutWorkerIsNoop(t *testing.T) {
	d := newDispatcher(t, nil)
	resp := d.Handle(context.Background(), hook.Input{Event: hook.EventSubagentStop, Result: hook.Payload{"x": 1}})
	assert.Equal(t, hook.Approve(""), resp)
	_, err := os.Stat(d.Config().ResultsDir())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(d.Config().StatePath())
	assert.True(t, os.IsNotExist(err))
}

func TestMalformedStateWarns(t *testing.T) {
	d := newDispatcher(t, nil)
	require.NoError(t, os.MkdirAll(d.Config().HooksProjectDir, 0o755))
	require.NoError(t, os.WriteFile(d.Config().StatePath(), []byte("{not json"), 0o644))

	resp := d.Handle(context.Background(), hook.Input{Event: hook.EventSubagentStop, AgentName: "prompt-engineer"})
	assert.Equal(t, hook.DecisionWarn, resp.Decision)
	assert.Equal(t, hook.ExitOK, resp.ExitCode())
	assert.Contains(t, resp.Message, "Note: workflow state could not be loaded")
	assert.Equal(t, []string{"prompt-engineer"}, loadState(t, d).CompletedWorkers)
}

func TestSQLiteBackend(t *testing.T) {
	d := newDispatcher(t, func(cfg *config.Config) { cfg.Settings.State.Backend = config.BackendSQLite })
	resp := d.Handle(context.Background(), hook.Input{Event: hook.EventSubagentStop, AgentName: "code-synthesis-analyzer"})
	assert.Equal(t, hook.DecisionApprove, resp.Decision)
	assert.FileExists(t, d.Config().StateDBPath())
	assert.NoFileExists(t, d.Config().StatePath())

	snap, err := d.Engine().Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"code-synthesis-analyzer"}, snap.State.CompletedWorkers)
}

func TestBrokenCatalogOverrideFallsBack(t *testing.T) {
	d := newDispatcher(t, func(cfg *config.Config) {
		cfg.Settings.Catalog = "catalog.yaml"
		require.NoError(t, os.MkdirAll(cfg.HooksProjectDir, 0o755))
		require.NoError(t, os.WriteFile(cfg.CatalogPath(), []byte("chains:\n  - id: x\n    members: [ghost]\n"), 0o644))
	})
	require.Len(t, d.Notes(), 1)
	assert.Contains(t, d.Notes()[0], "catalog override ignored")

	resp := d.Handle(context.Background(), hook.Input{Event: hook.EventSubagentStop, AgentName: "prompt-engineer"})
	assert.Equal(t, hook.DecisionWarn, resp.Decision)
	assert.Contains(t, resp.Message, "Note: catalog override ignored")
}

func TestStopGate(t *testing.T) {
	d := newDispatcher(t, nil)
	resp := d.Handle(context.Background(), hook.Input{Event: hook.EventStop, StopHookActive: true})
	assert.Equal(t, hook.DecisionApprove, resp.Decision)

	require.NoError(t, os.WriteFile(filepath.Join(d.Config().ProjectDir, "broken.json"), []byte("{"), 0o644))
	resp = d.Handle(context.Background(), hook.Input{Event: hook.EventStop})
	assert.Equal(t, hook.DecisionBlock, resp.Decision)
	assert.Contains(t, resp.Message, "Syntax errors in: broken.json")

	d = newDispatcher(t, func(cfg *config.Config) { cfg.Settings.Gate.Enabled = false })
	require.NoError(t, os.WriteFile(filepath.Join(d.Config().ProjectDir, "broken.json"), []byte("{"), 0o644))
	resp = d.Handle(context.Background(), hook.Input{Event: hook.EventStop})
	assert.Equal(t, hook.Approve(""), resp)
}

func TestUnknownEventApproves(t *testing.T) {
	d := newDispatcher(t, nil)
	resp := d.Handle(context.Background(), hook.Input{Event: "Notification"})
	assert.Equal(t, hook.Approve(""), resp)
}

func TestCallerNotesAreReported(t *testing.T) {
	cfg := config.Default(t.TempDir())
	d, err := New(context.Background(), cfg, WithNote("settings ignored: bad yaml"), WithNote("  "))
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, []string{"settings ignored: bad yaml"}, d.Notes())
}
