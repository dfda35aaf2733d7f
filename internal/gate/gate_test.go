package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-hooks/internal/hook"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func initRepo(t *testing.T, branch string, committed map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	require.NoError(t, err)
	tree, err := repo.Worktree()
	require.NoError(t, err)
	for name, content := range committed {
		writeFile(t, dir, name, content)
		_, err := tree.Add(name)
		require.NoError(t, err)
	}
	if len(committed) > 0 {
		_, err = tree.Commit("initial", &git.CommitOptions{
			Author: &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(1700000000, 0)},
		})
		require.NoError(t, err)
	}
	return dir
}

func TestStopHookActiveShortCircuits(t *testing.T) {
	report := New().Check(context.Background(), Request{ProjectDir: t.TempDir(), StopHookActive: true})
	assert.True(t, report.Skipped)
	resp := report.Response()
	assert.Equal(t, hook.DecisionApprove, resp.Decision)
	assert.Equal(t, hook.ExitOK, resp.ExitCode())
}

func TestCleanRepositoryApproves(t *testing.T) {
	dir := initRepo(t, "feature/login", map[string]string{"README.md": "# project\n"})
	report := New().Check(context.Background(), Request{ProjectDir: dir})
	assert.Equal(t, SourceGit, report.Source)
	assert.Equal(t, "feature/login", report.Branch)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.Warnings)

	resp := report.Response()
	assert.Equal(t, hook.DecisionApprove, resp.Decision)
	assert.Equal(t, []string{}, resp.Details["touchedFiles"])
}

func TestSyntaxErrorsBlock(t *testing.T) {
	dir := initRepo(t, "feature/x", map[string]string{"docs/guide.md": "guide\n"})
	writeFile(t, dir, "broken.go", "package main\n\nfunc main( {\n")
	writeFile(t, dir, "ok.go", "package main\n\nfunc helper() {}\n")
	writeFile(t, dir, "bad.json", `{"a": }`)
	writeFile(t, dir, "bad.yaml", "key: [unclosed\n")
	writeFile(t, dir, "good.yml", "a: 1\n---\nb: 2\n")

	report := New().Check(context.Background(), Request{ProjectDir: dir})
	require.True(t, report.Blocking())
	assert.Equal(t, []string{"Syntax errors in: bad.json, bad.yaml, broken.go"}, report.Issues)
	assert.Contains(t, report.Warnings, "You have 5 uncommitted changes")
	assert.Contains(t, report.Warnings, "Code changed but documentation not updated")

	resp := report.Response()
	assert.Equal(t, hook.DecisionBlock, resp.Decision)
	assert.Equal(t, hook.ExitBlock, resp.ExitCode())
	assert.Contains(t, resp.Message, "Work incomplete:\n- Syntax errors in:")
	assert.Contains(t, resp.Message, "\nWarnings:\n- You have 5 uncommitted changes")
	assert.Contains(t, resp.Message, "Please address these items before stopping.")
}

func TestFailingTranscriptBlocks(t *testing.T) {
	cases := map[string]string{
		"go test":    `{"type":"tool_result","content":"--- FAIL: TestCheckout (0.00s)\nFAIL"}`,
		"pytest sum": `{"content":"=== 2 failed, 10 passed in 0.3s ==="}`,
		"pytest id":  `{"content":"FAILED tests/test_cart.py::test_total - AssertionError"}`,
		"jest":       `{"content":"Tests: 1 failed, 4 passed"}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			transcript := filepath.Join(t.TempDir(), "session.jsonl")
			writeFile(t, filepath.Dir(transcript), "session.jsonl", `{"type":"user"}`+"\n"+line+"\n")

			report := New(WithClock(func() time.Time { return time.Now().Add(24 * time.Hour) })).
				Check(context.Background(), Request{ProjectDir: dir, TranscriptPath: transcript})
			assert.Equal(t, []string{"Failing tests reported in the session transcript"}, report.Issues)
		})
	}
}

func TestPassingTranscriptDoesNotBlock(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "session.jsonl")
	writeFile(t, filepath.Dir(transcript), "session.jsonl", `{"content":"ok  \tshop\t0.01s\n=== 0 failed, 12 passed ==="}`+"\n")
	report := New().Check(context.Background(), Request{ProjectDir: t.TempDir(), TranscriptPath: transcript})
	assert.Empty(t, report.Issues)
}

func TestTranscriptOnlyTailIsScanned(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "session.jsonl")
	content := "--- FAIL: TestOld (0.00s)\n"
	for i := 0; i < 100; i++ {
		content += `{"content":"all good"}` + "\n"
	}
	writeFile(t, filepath.Dir(transcript), "session.jsonl", content)

	report := New(WithTranscriptTail(512)).Check(context.Background(), Request{ProjectDir: t.TempDir(), TranscriptPath: transcript})
	assert.Empty(t, report.Issues)
}

func TestAdvisoriesDoNotBlock(t *testing.T) {
	dir := initRepo(t, "main", map[string]string{
		"go.mod":  "module example.com/shop\n\ngo 1.22\n",
		"cart.go": "package shop\n",
	})
	writeFile(t, dir, "cart.go", "package shop\n\n// TODO: handle discounts\nfunc Total() int { return 0 }\n")

	report := New().Check(context.Background(), Request{ProjectDir: dir})
	assert.False(t, report.Blocking())
	assert.Equal(t, []string{
		"You have 1 uncommitted changes",
		"Working directly on main branch",
		"Unresolved TODO/FIXME/XXX markers in: cart.go",
		"Remember to run tests: go test ./...",
		"Code changed but documentation not updated",
	}, report.Warnings)

	resp := report.Response()
	assert.Equal(t, hook.DecisionWarn, resp.Decision)
	assert.Equal(t, hook.ExitOK, resp.ExitCode())
	assert.Contains(t, resp.Message, "Work appears complete. Reminders:\n- You have 1 uncommitted changes")
}

func TestProtectedBranchesAreConfigurable(t *testing.T) {
	dir := initRepo(t, "trunk", map[string]string{"README.md": "x\n"})
	report := New(WithProtectedBranches([]string{"trunk"})).Check(context.Background(), Request{ProjectDir: dir})
	assert.Equal(t, []string{"Working directly on trunk branch"}, report.Warnings)
}

func TestNonRepositoryFallsBackToModificationTime(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fresh.json", `{"bad": ]`)
	writeFile(t, dir, "stale.json", `{"bad": ]`)
	writeFile(t, dir, "node_modules/pkg/index.json", `{"bad": ]`)
	writeFile(t, dir, ".claude/workflow-state.json", `{`)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "stale.json"), old, old))

	report := New(WithRecentWindow(time.Hour)).Check(context.Background(), Request{ProjectDir: dir})
	assert.Equal(t, SourceMtime, report.Source)
	assert.Equal(t, []string{"fresh.json"}, report.TouchedFiles)
	assert.Equal(t, []string{"Syntax errors in: fresh.json"}, report.Issues)
}

func TestExpiredDeadlineSkipsRemainingChecks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := initRepo(t, "feature/x", map[string]string{"README.md": "x\n"})
	writeFile(t, dir, "broken.json", "{")
	report := New().Check(ctx, Request{ProjectDir: dir})
	assert.False(t, report.Blocking())
	assert.Empty(t, report.TouchedFiles)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[len(report.Warnings)-1], "Completion checks stopped early")
	assert.Equal(t, hook.DecisionWarn, report.Response().Decision)

	plain := t.TempDir()
	writeFile(t, plain, "broken.json", "{")
	report = New().Check(ctx, Request{ProjectDir: plain})
	assert.Equal(t, SourceMtime, report.Source)
	assert.Empty(t, report.Issues)
	assert.Contains(t, report.Warnings, "Completion checks stopped early (context canceled); results are partial")
}

func TestTimeoutOptionBoundsCheck(t *testing.T) {
	g := New(WithTimeout(250 * time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, g.timeout)
	assert.Equal(t, DefaultTimeout, New(WithTimeout(0)).timeout)
}

func TestTestCommandDetection(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", testCommand(dir))
	writeFile(t, dir, "pyproject.toml", "[project]\nname='x'\n")
	assert.Equal(t, "pytest", testCommand(dir))
	writeFile(t, dir, "package.json", `{"scripts": {"test:unit": "vitest"}}`)
	assert.Equal(t, "npm run test:unit", testCommand(dir))
	writeFile(t, dir, "package.json", `{"scripts": {"test": "jest"}}`)
	assert.Equal(t, "npm test", testCommand(dir))
}

func TestDocsStale(t *testing.T) {
	assert.True(t, docsStale([]string{"internal/cart.go"}))
	assert.False(t, docsStale([]string{"internal/cart.go", "README.md"}))
	assert.False(t, docsStale([]string{"internal/cart.go", "docs/api/cart.html"}))
	assert.False(t, docsStale([]string{"config.yaml"}))
	assert.False(t, docsStale(nil))
}

func TestListFilesCountsOverflow(t *testing.T) {
	assert.Equal(t, "a, b", listFiles([]string{"a", "b"}))
	assert.Equal(t, "a, b, c and 2 more", listFiles([]string{"a", "b", "c", "d", "e"}))
}
