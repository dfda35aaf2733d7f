package results

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/workflow"
)

func payload(t *testing.T, raw string) hook.Payload {
	t.Helper()
	var p hook.Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
}

func TestRecorderNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, WithRecorderClock(fixedClock))

	_, first, err := rec.Record("security-orchestrator", hook.Payload{"success": true})
	require.NoError(t, err)
	_, second, err := rec.Record("security-orchestrator", hook.Payload{"success": false})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Contains(t, filepath.Base(first), "security-orchestrator_20260304T050607")
}

func TestRecorderRecentNewestFirst(t *testing.T) {
	dir := t.TempDir()
	now := fixedClock()
	rec := NewRecorder(dir, WithRecorderClock(func() time.Time { now = now.Add(time.Minute); return now }))
	for _, worker := range []string{"a", "b", "c"} {
		_, _, err := rec.Record(worker, nil)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("nope"), 0o644))

	recent, err := rec.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Worker)
	assert.Equal(t, "b", recent[1].Worker)

	missing, err := NewRecorder(filepath.Join(dir, "absent")).Recent(5)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestCriticalFindingRequiresImmediateAttention(t *testing.T) {
	proc := NewProcessor(NewRecorder(t.TempDir()))
	out := proc.Process(workflow.WorkerSecurity, payload(t, `{
		"findings": [{"severity": "critical"}, {"severity": "high"}, {"severity": "Critical"}],
		"success": true
	}`))
	require.NoError(t, out.RecordErr)
	assert.True(t, out.RequiresImmediateAttention)
	assert.Equal(t, 2, out.CriticalFindings)
	assert.Contains(t, out.FollowUpActions, "2 critical security issues found")
	assert.FileExists(t, out.RecordPath)
}

func TestCriticalFindingAppliesToAnyWorker(t *testing.T) {
	out := NewProcessor(nil).Process("custom-linter", payload(t, `{"findings":[{"severity":"critical"}]}`))
	assert.True(t, out.RequiresImmediateAttention)
	assert.Empty(t, out.FollowUpActions)
}

func TestUnknownWorkerRecordsOnly(t *testing.T) {
	dir := t.TempDir()
	out := NewProcessor(NewRecorder(dir)).Process("custom-linter", payload(t, `{"issues_found": true}`))
	require.NoError(t, out.RecordErr)
	assert.Empty(t, out.FollowUpActions)
	assert.Empty(t, out.Metrics)
	assert.False(t, out.RequiresImmediateAttention)
	assert.FileExists(t, out.RecordPath)
}

func TestHandlersTolerateMistypedPayloads(t *testing.T) {
	odd := payload(t, `{
		"findings": "everything",
		"tests_written": [1,2],
		"issues_found": "yes",
		"metrics": 12,
		"files_documented": {"a": 1},
		"issue_created": "true",
		"refactoring_complete": 0
	}`)
	for _, worker := range workflow.KnownWorkers() {
		out := NewProcessor(nil).Process(worker, odd)
		assert.False(t, out.RequiresImmediateAttention, worker)
	}
	assert.NotPanics(t, func() { NewProcessor(nil).Process(workflow.WorkerTDDImplementer, nil) })
}

func TestTDDExtraction(t *testing.T) {
	ext := Extract(workflow.WorkerTDDImplementer, payload(t, `{"tests_written": 4, "incomplete_features": ["x"]}`))
	assert.Equal(t, []string{
		"4 tests written successfully",
		"Consider running `code-clarity-refactorer` to improve code quality",
		"Some features remain incomplete, continue with the TDD cycle",
	}, ext.FollowUpActions)
	assert.Equal(t, map[string]any{"tests_added": 4, "coverage_delta": "unknown"}, ext.Metrics[MetricTests])
}

func TestAnalysisAndRefactorMetrics(t *testing.T) {
	ext := Extract(workflow.WorkerAnalyzer, payload(t, `{"issues_found": true, "issue_types": ["missing_tests"], "metrics": {"complexity": 12}}`))
	assert.Len(t, ext.FollowUpActions, 3)
	assert.Equal(t, map[string]any{"complexity": float64(12)}, ext.Metrics[MetricQuality])

	ext = Extract(workflow.WorkerRefactorer, payload(t, `{"refactoring_complete": true}`))
	assert.Len(t, ext.FollowUpActions, 3)
	assert.Empty(t, ext.Metrics)
}

func TestIssueAndDocsExtraction(t *testing.T) {
	ext := Extract(workflow.WorkerIssueCreator, payload(t, `{"issue_created": true, "issue_url": "https://tracker.example/1"}`))
	assert.Contains(t, ext.FollowUpActions, "Issue created: https://tracker.example/1")
	assert.Equal(t, map[string]any{"created": true, "url": "https://tracker.example/1"}, ext.Metrics[MetricIssueTracking])

	ext = Extract(workflow.WorkerDiffDocumenter, payload(t, `{"documentation_created": true, "files_documented": ["README.md"]}`))
	assert.Len(t, ext.FollowUpActions, 2)
	assert.Equal(t, []string{"README.md"}, ext.Metrics[MetricDocsUpdated])
}

func TestSummaryListsActionsAndMetrics(t *testing.T) {
	out := NewProcessor(nil).Process(workflow.WorkerTDDImplementer, payload(t, `{"tests_written": 2, "coverage_change": "+5%"}`))
	summary := out.Summary()
	assert.Contains(t, summary, "Subagent completed: tdd-python-implementer")
	assert.Contains(t, summary, "2 tests written successfully")
	assert.Contains(t, summary, "Test Metrics:")
	assert.Contains(t, summary, "coverage_delta: +5%")
}

func TestRecordFailureIsReported(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	out := NewProcessor(NewRecorder(filepath.Join(blocker, "results"))).Process(workflow.WorkerSecurity, nil)
	assert.Error(t, out.RecordErr)
	assert.Empty(t, out.RecordPath)
}
