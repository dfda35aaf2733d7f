package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-hooks/internal/config"
	"github.com/kingrea/lattice-hooks/internal/hook"
)

type run struct {
	code   int
	stdout string
	stderr string
}

func invoke(t *testing.T, stdin string, args ...string) run {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return run{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func decodeResponse(t *testing.T, out string) hook.Response {
	t.Helper()
	var resp hook.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func event(t *testing.T, fields map[string]any) string {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return string(data)
}

func TestMalformedStdinExitsOne(t *testing.T) {
	for _, stdin := range []string{"", "not json", "[1,2]", "{broken"} {
		r := invoke(t, stdin)
		assert.Equal(t, hook.ExitMalformed, r.code, stdin)
		assert.Empty(t, r.stdout)
		assert.Contains(t, r.stderr, "malformed input")
	}
}

func TestMistypedFieldsFailOpen(t *testing.T) {
	for name, stdin := range map[string]string{
		"result":           `{"hook_event_name":"SubagentStop","agentName":"prompt-engineer","result":"done"}`,
		"tool_input":       `{"hook_event_name":"PreToolUse","tool_name":"Task","tool_input":"x"}`,
		"stop_hook_active": `{"hook_event_name":"Stop","stop_hook_active":"true"}`,
	} {
		t.Run(name, func(t *testing.T) {
			r := invoke(t, stdin, "--project", t.TempDir())
			assert.Equal(t, hook.ExitOK, r.code, r.stderr)
			resp := decodeResponse(t, r.stdout)
			assert.NotEqual(t, hook.DecisionBlock, resp.Decision)
		})
	}
}

func TestPromptEventRoutes(t *testing.T) {
	dir := t.TempDir()
	r := invoke(t, event(t, map[string]any{
		"hook_event_name": "UserPromptSubmit",
		"cwd":             dir,
		"prompt":          "Please write unit tests for the parser",
	}))
	require.Equal(t, hook.ExitOK, r.code, r.stderr)
	resp := decodeResponse(t, r.stdout)
	assert.Equal(t, hook.DecisionApprove, resp.Decision)
	assert.Equal(t, "tdd-python-implementer", resp.SuggestedNextWorkers[0])
	assert.FileExists(t, filepath.Join(dir, ".claude", "logs", "lattice-hooks.log"))
}

func TestCriticalFindingExitsTwo(t *testing.T) {
	dir := t.TempDir()
	r := invoke(t, event(t, map[string]any{
		"hook_event_name": "SubagentStop",
		"agent_name":      "security-orchestrator",
		"result":          map[string]any{"findings": []any{map[string]any{"severity": "critical"}}},
	}), "handle", "--project", dir)
	assert.Equal(t, hook.ExitBlock, r.code)
	assert.Equal(t, hook.DecisionBlock, decodeResponse(t, r.stdout).Decision)
	assert.FileExists(t, filepath.Join(dir, ".claude", "workflow-state.json"))
}

func TestComponentSubcommandIgnoresEventName(t *testing.T) {
	dir := t.TempDir()
	r := invoke(t, event(t, map[string]any{
		"hook_event_name": "Notification",
		"prompt":          "Please write unit tests for the parser",
	}), "route", "--project", dir)
	require.Equal(t, hook.ExitOK, r.code)
	assert.NotEmpty(t, decodeResponse(t, r.stdout).SuggestedNextWorkers)
}

func TestBrokenSettingsWarnButDoNotFail(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.HooksDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.HooksDir, config.SettingsFile), []byte("state: [\n"), 0o644))

	r := invoke(t, event(t, map[string]any{
		"hook_event_name": "SubagentStop",
		"agentName":       "prompt-engineer",
		"cwd":             dir,
	}))
	assert.Equal(t, hook.ExitOK, r.code)
	resp := decodeResponse(t, r.stdout)
	assert.Equal(t, hook.DecisionWarn, resp.Decision)
	assert.Contains(t, resp.Message, "Note: settings ignored")
}

func TestInitStatusAndStateCommands(t *testing.T) {
	dir := t.TempDir()
	r := invoke(t, "", "init", "--project", dir)
	require.Equal(t, 0, r.code, r.stderr)
	assert.FileExists(t, filepath.Join(dir, config.HooksDir, config.SettingsFile))

	r = invoke(t, event(t, map[string]any{
		"hook_event_name": "SubagentStop",
		"agentName":       "code-synthesis-analyzer",
		"result":          map[string]any{"issues_found": true, "issue_types": []any{"quality"}},
	}), "--project", dir)
	require.Equal(t, 0, r.code, r.stderr)

	r = invoke(t, "", "status", "--project", dir)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "code-synthesis-analyzer")
	assert.Contains(t, r.stdout, "code-clarity-refactorer")

	r = invoke(t, "", "state", "reset", "--project", dir)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "--yes")

	r = invoke(t, "", "state", "reset", "--yes", "--project", dir)
	require.Equal(t, 0, r.code, r.stderr)
	data, err := os.ReadFile(filepath.Join(dir, config.HooksDir, config.StateFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"completedWorkers": []`)

	r = invoke(t, "", "state", "compact", "--project", dir)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Removed 0 completed worker(s)")

	require.NoError(t, os.WriteFile(filepath.Join(dir, config.HooksDir, config.StateFile), []byte("{not json"), 0o644))
	r = invoke(t, "", "state", "compact", "--project", dir)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "malformed")
	assert.Empty(t, r.stdout)
}

func TestContextShow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n\ngo 1.22\n"), 0o644))
	r := invoke(t, event(t, map[string]any{
		"hook_event_name": "PreToolUse",
		"tool_name":       "Task",
		"tool_input":      map[string]any{"subagent_type": "prompt-engineer", "prompt": "Document the API"},
	}), "--project", dir)
	require.Equal(t, 0, r.code, r.stderr)

	r = invoke(t, "", "context", "show", "prompt-engineer", "--raw", "--project", dir)
	require.Equal(t, 0, r.code, r.stderr)
	assert.True(t, strings.HasPrefix(r.stdout, "---\nworker: prompt-engineer\n"))

	r = invoke(t, "", "context", "show", "prompt-engineer", "--project", dir)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Document the API")

	r = invoke(t, "", "context", "show", "nobody", "--project", dir)
	assert.Equal(t, 1, r.code)
}
