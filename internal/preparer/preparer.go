// Package preparer gathers project context for a worker before it launches.
//
// A fixed battery of probes inspects the repository (layout, standards,
// dependencies, similar code, tests, recent history) and the results are
// folded into a size-bounded Markdown snapshot stored under
// .claude/agent-context/<worker>.md. Probes only read; a probe that errors,
// times out or panics contributes nothing.
package preparer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultMaxBytes     = 8 << 10
	DefaultProbeTimeout = 2 * time.Second

	truncationMarker = "\n\n[... context truncated]"
	taskMarker       = " [... task truncated]"
	// taskShare is the fraction of the byte budget the stored task may use.
	taskShare = 8
	generalWorker    = "general"
)

// Option configures a Preparer.
type Option func(*Preparer)

// WithMaxBytes caps the rendered snapshot body.
func WithMaxBytes(n int) Option {
	return func(p *Preparer) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithProbeTimeout bounds each probe, including any external command.
func WithProbeTimeout(d time.Duration) Option {
	return func(p *Preparer) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClock overrides the snapshot timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(p *Preparer) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger receives probe failures at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Preparer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Preparer builds and stores context snapshots.
type Preparer struct {
	contextDir string
	maxBytes   int
	timeout    time.Duration
	clock      func() time.Time
	logger     *zap.Logger
	probes     []probe
}

// New returns a Preparer writing snapshots into contextDir.
func New(contextDir string, opts ...Option) *Preparer {
	p := &Preparer{
		contextDir: contextDir,
		maxBytes:   DefaultMaxBytes,
		timeout:    DefaultProbeTimeout,
		clock:      time.Now,
		logger:     zap.NewNop(),
		probes:     battery,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request describes one worker launch.
type Request struct {
	Worker     string
	Task       string
	ProjectDir string
}

// Result is a built snapshot and where it was stored.
type Result struct {
	Snapshot
	Path string
}

// SnapshotPath returns where the snapshot for worker is stored.
func (p *Preparer) SnapshotPath(worker string) string {
	return filepath.Join(p.contextDir, fileName(worker)+".md")
}

// Build runs the probe battery and assembles the snapshot without writing it.
func (p *Preparer) Build(ctx context.Context, req Request) Snapshot {
	types := DetectTaskTypes(req.Task)
	env := probeEnv{dir: req.ProjectDir, task: req.Task, types: types}

	var sections []section
	for _, pr := range p.probes {
		if !pr.applies(types) {
			continue
		}
		if body := p.runProbe(ctx, pr, env); body != "" {
			sections = append(sections, section{name: pr.name, title: pr.title, body: body})
		}
	}
	body, used, truncated := assemble(sections, p.maxBytes)
	task, taskCut := capTask(strings.TrimSpace(req.Task), p.maxBytes/taskShare)

	worker := strings.TrimSpace(req.Worker)
	if worker == "" {
		worker = generalWorker
	}
	return Snapshot{
		Header: Header{
			Worker:    worker,
			Generated: p.clock().UTC(),
			Task:      task,
			TaskTypes: types.Strings(),
			Probes:    used,
			Truncated: truncated || taskCut,
		},
		Body: body,
	}
}

// Prepare builds the snapshot and stores it. A write failure still returns
// the built snapshot alongside the error.
func (p *Preparer) Prepare(ctx context.Context, req Request) (Result, error) {
	snap := p.Build(ctx, req)
	result := Result{Snapshot: snap, Path: p.SnapshotPath(snap.Worker)}
	data, err := snap.Encode()
	if err != nil {
		return result, err
	}
	if err := os.MkdirAll(p.contextDir, 0o755); err != nil {
		return result, fmt.Errorf("preparer: ensure context dir: %w", err)
	}
	if err := os.WriteFile(result.Path, data, 0o644); err != nil {
		return result, fmt.Errorf("preparer: write %s: %w", result.Path, err)
	}
	return result, nil
}

func (p *Preparer) runProbe(ctx context.Context, pr probe, env probeEnv) (out string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("probe panicked", zap.String("probe", pr.name), zap.Any("panic", r))
			out = ""
		}
	}()
	text, err := pr.run(ctx, env)
	if err != nil {
		p.logger.Debug("probe failed", zap.String("probe", pr.name), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

type section struct {
	name  string
	title string
	body  string
}

func (s section) render() string {
	return "=== " + s.title + " ===\n" + s.body
}

// assemble appends sections until maxBytes is spent. The section that
// overflows is cut and closed with a marker; later ones are dropped.
func assemble(sections []section, maxBytes int) (string, []string, bool) {
	var b strings.Builder
	var used []string
	for _, s := range sections {
		chunk := s.render()
		if b.Len() > 0 {
			chunk = "\n\n" + chunk
		}
		if b.Len()+len(chunk) <= maxBytes {
			b.WriteString(chunk)
			used = append(used, s.name)
			continue
		}
		room := maxBytes - b.Len() - len(truncationMarker)
		if room > 0 {
			b.WriteString(cutRunes(chunk, room))
			used = append(used, s.name)
			return b.String() + truncationMarker, used, true
		}
		return cutRunes(b.String(), maxBytes-len(truncationMarker)) + truncationMarker, used, true
	}
	return b.String(), used, false
}

// capTask bounds the task text kept in the snapshot header.
func capTask(task string, max int) (string, bool) {
	if len(task) <= max {
		return task, false
	}
	return cutRunes(task, max-len(taskMarker)) + taskMarker, true
}

func cutRunes(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

func fileName(worker string) string {
	worker = strings.TrimSpace(worker)
	if worker == "" {
		return generalWorker
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, worker)
}
