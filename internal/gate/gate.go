// Package gate decides whether a session may stop. Blocking findings are
// syntax errors in touched files and failing tests in the transcript; the
// rest is advice.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/lattice-hooks/internal/gitrepo"
	"github.com/kingrea/lattice-hooks/internal/hook"
)

const (
	DefaultRecentWindow        = 2 * time.Hour
	DefaultTranscriptTailBytes = 256 << 10
	DefaultTimeout             = 5 * time.Second

	// SourceGit and SourceMtime tell where the touched file list came from.
	SourceGit   = "git"
	SourceMtime = "mtime"

	listedFiles = 3
)

var defaultProtectedBranches = []string{"main", "master", "production"}

// Option configures a Gate.
type Option func(*Gate)

// WithRecentWindow sets how far back modification times count as touched
// when the project is not a git repository.
func WithRecentWindow(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithTranscriptTail bounds how much of the transcript is scanned.
func WithTranscriptTail(n int64) Option {
	return func(g *Gate) {
		if n > 0 {
			g.tailBytes = n
		}
	}
}

// WithProtectedBranches replaces the branches that trigger a warning.
func WithProtectedBranches(branches []string) Option {
	return func(g *Gate) {
		g.protected = append([]string(nil), branches...)
	}
}

// WithTimeout bounds a whole Check run.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gate runs the stop checks.
type Gate struct {
	window    time.Duration
	tailBytes int64
	protected []string
	timeout   time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

// New returns a Gate with default settings.
func New(opts ...Option) *Gate {
	g := &Gate{
		window:    DefaultRecentWindow,
		tailBytes: DefaultTranscriptTailBytes,
		protected: append([]string(nil), defaultProtectedBranches...),
		timeout:   DefaultTimeout,
		clock:     time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request carries the parts of a Stop event the gate reads.
type Request struct {
	ProjectDir     string
	TranscriptPath string
	StopHookActive bool
}

// Report collects the findings of one check run.
type Report struct {
	Issues       []string
	Warnings     []string
	TouchedFiles []string
	Source       string
	Branch       string
	// Skipped is set when the host is already inside a stop hook loop.
	Skipped bool
}

// Blocking reports whether the session must not stop yet.
func (r Report) Blocking() bool {
	return len(r.Issues) > 0
}

// Check runs every check against the project. It never fails: a check
// that cannot run contributes nothing. Checks still pending when the
// timeout expires are skipped and reported as a warning.
func (g *Gate) Check(ctx context.Context, req Request) Report {
	if req.StopHookActive {
		return Report{Skipped: true}
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	var report Report

	repo, err := gitrepo.Open(req.ProjectDir)
	switch {
	case errors.Is(err, gitrepo.ErrNotRepository):
		repo = nil
	case err != nil:
		g.logger.Debug("open repository failed", zap.Error(err))
		repo = nil
	}

	root := req.ProjectDir
	if repo != nil {
		// Status paths are relative to the worktree root, not to cwd.
		root = repo.Root()
		g.checkRepository(ctx, repo, &report)
	} else {
		files, err := recentlyModified(ctx, req.ProjectDir, g.clock().Add(-g.window))
		if err != nil {
			g.logger.Debug("scan recent files failed", zap.Error(err))
		}
		report.TouchedFiles = files
		report.Source = SourceMtime
	}

	g.checkSyntax(ctx, root, &report)
	g.checkMarkers(ctx, root, &report)
	g.checkTranscript(req.TranscriptPath, &report)
	if cmd := testCommand(root); cmd != "" {
		report.Warnings = append(report.Warnings, "Remember to run tests: "+cmd)
	}
	if docsStale(report.TouchedFiles) {
		report.Warnings = append(report.Warnings, "Code changed but documentation not updated")
	}
	if err := ctx.Err(); err != nil {
		g.logger.Warn("completion checks cut short", zap.Error(err))
		report.Warnings = append(report.Warnings, fmt.Sprintf("Completion checks stopped early (%v); results are partial", err))
	}
	return report
}

func (g *Gate) checkRepository(ctx context.Context, repo *gitrepo.Repo, report *Report) {
	report.Source = SourceGit
	changes, err := repo.Changes(ctx)
	if err != nil {
		g.logger.Debug("git status failed", zap.Error(err))
	}
	for _, change := range changes {
		report.TouchedFiles = append(report.TouchedFiles, change.Path)
	}
	if n := len(changes); n > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("You have %d uncommitted changes", n))
	}

	branch, err := repo.Branch()
	if err != nil {
		g.logger.Debug("read branch failed", zap.Error(err))
		return
	}
	report.Branch = branch
	for _, protected := range g.protected {
		if branch == protected {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Working directly on %s branch", branch))
			break
		}
	}
}

// Response renders the report for the host.
func (r Report) Response() hook.Response {
	if r.Skipped {
		return hook.Approve("")
	}
	var resp hook.Response
	switch {
	case r.Blocking():
		var b strings.Builder
		b.WriteString("Work incomplete:\n")
		writeBullets(&b, r.Issues)
		if len(r.Warnings) > 0 {
			b.WriteString("\nWarnings:\n")
			writeBullets(&b, r.Warnings)
		}
		b.WriteString("\nPlease address these items before stopping.")
		resp = hook.Block(b.String())
	case len(r.Warnings) > 0:
		var b strings.Builder
		b.WriteString("Work appears complete. Reminders:\n")
		writeBullets(&b, r.Warnings)
		resp = hook.Warn(strings.TrimRight(b.String(), "\n"))
	default:
		resp = hook.Approve("All checks passed - work appears complete")
	}
	resp = resp.WithDetail("touchedFiles", nonNil(r.TouchedFiles)).WithDetail("touchedSource", r.Source)
	if len(r.Issues) > 0 {
		resp = resp.WithDetail("issues", r.Issues)
	}
	if len(r.Warnings) > 0 {
		resp = resp.WithDetail("warnings", r.Warnings)
	}
	if r.Branch != "" {
		resp = resp.WithDetail("branch", r.Branch)
	}
	return resp
}

func writeBullets(b *strings.Builder, items []string) {
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// listFiles names the first few files and counts the rest.
func listFiles(files []string) string {
	if len(files) <= listedFiles {
		return strings.Join(files, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(files[:listedFiles], ", "), len(files)-listedFiles)
}
