// Package dispatch wires one project's components together and maps each
// host lifecycle event onto the component that handles it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/lattice-hooks/internal/config"
	"github.com/kingrea/lattice-hooks/internal/gate"
	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/logbook"
	"github.com/kingrea/lattice-hooks/internal/preparer"
	"github.com/kingrea/lattice-hooks/internal/results"
	"github.com/kingrea/lattice-hooks/internal/routing"
	"github.com/kingrea/lattice-hooks/internal/state"
	"github.com/kingrea/lattice-hooks/internal/workflow"
	"github.com/kingrea/lattice-hooks/internal/workflow/engine"
)

// Option customizes the dispatcher.
type Option func(*options)

type options struct {
	logger *zap.Logger
	clock  func() time.Time
	store  state.Store
	notes  []string
}

// WithLogger attaches the structured logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithStore replaces the configured state backend.
func WithStore(store state.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithNote records a fallback the caller already applied, such as
// settings that could not be read.
func WithNote(text string) Option {
	return func(o *options) {
		if text = strings.TrimSpace(text); text != "" {
			o.notes = append(o.notes, text)
		}
	}
}

// Dispatcher owns the components for one project directory.
type Dispatcher struct {
	cfg       *config.Config
	catalog   *workflow.Catalog
	router    *routing.Router
	preparer  *preparer.Preparer
	recorder  *results.Recorder
	processor *results.Processor
	engine    *engine.Engine
	gate      *gate.Gate
	book      *logbook.Logbook
	logger    *zap.Logger
	closers   []func() error
	// notes are configuration problems that were worked around at startup.
	notes []string
}

// New builds every component from cfg. Broken optional pieces (catalog
// override, SQLite backend, logbook) fall back to defaults and are
// reported as notes instead of failing the hook.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dispatch: config is required")
	}
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	d := &Dispatcher{cfg: cfg, logger: o.logger}
	for _, text := range o.notes {
		d.note(text)
	}

	catalog, err := workflow.LoadCatalog(cfg.CatalogPath())
	if err != nil {
		d.note(fmt.Sprintf("catalog override ignored: %v", err))
		catalog = workflow.DefaultCatalog()
	}
	d.catalog = catalog

	store := o.store
	if store == nil {
		store = d.openStore(ctx)
	}

	book, err := logbook.New(cfg.LogbookPath())
	if err != nil {
		d.logger.Warn("open logbook", zap.Error(err))
	}
	d.book = book

	settings := cfg.Settings
	d.router = routing.New(catalog,
		routing.WithThreshold(settings.Router.Threshold),
		routing.WithLimit(settings.Router.MaxSuggestions))
	d.preparer = preparer.New(cfg.ContextDir(),
		preparer.WithMaxBytes(settings.Preparer.MaxBytes),
		preparer.WithProbeTimeout(settings.Preparer.ProbeTimeout),
		preparer.WithClock(o.clock),
		preparer.WithLogger(d.logger))
	d.recorder = results.NewRecorder(cfg.ResultsDir(), results.WithRecorderClock(o.clock))
	d.processor = results.NewProcessor(d.recorder)
	d.engine, err = engine.New(catalog, store,
		engine.WithClock(o.clock),
		engine.WithLogbook(book),
		engine.WithLogger(d.logger))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	d.gate = gate.New(
		gate.WithRecentWindow(settings.Gate.RecentWindow),
		gate.WithTranscriptTail(settings.Gate.TranscriptTailBytes),
		gate.WithProtectedBranches(settings.Gate.ProtectedBranches),
		gate.WithTimeout(settings.Gate.Timeout),
		gate.WithClock(o.clock),
		gate.WithLogger(d.logger))
	return d, nil
}

func (d *Dispatcher) openStore(ctx context.Context) state.Store {
	if d.cfg.Settings.State.Backend == config.BackendSQLite {
		store, err := state.OpenSQLiteStore(ctx, d.cfg.StateDBPath())
		if err == nil {
			d.closers = append(d.closers, store.Close)
			return store
		}
		d.note(fmt.Sprintf("sqlite state backend unavailable, using %s: %v", config.StateFile, err))
	}
	return state.NewFileStore(d.cfg.StatePath())
}

func (d *Dispatcher) note(text string) {
	d.notes = append(d.notes, text)
	d.logger.Warn("configuration fallback", zap.String("note", text))
}

// Close releases backend handles.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, closer := range d.closers {
		errs = append(errs, closer())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Config returns the project configuration.
func (d *Dispatcher) Config() *config.Config { return d.cfg }

// Catalog returns the loaded worker catalog.
func (d *Dispatcher) Catalog() *workflow.Catalog { return d.catalog }

// Engine returns the workflow orchestrator.
func (d *Dispatcher) Engine() *engine.Engine { return d.engine }

// Logbook returns the project logbook; it may be nil.
func (d *Dispatcher) Logbook() *logbook.Logbook { return d.book }

// Recorder returns the completion record writer.
func (d *Dispatcher) Recorder() *results.Recorder { return d.recorder }

// Preparer returns the context preparer.
func (d *Dispatcher) Preparer() *preparer.Preparer { return d.preparer }

// Notes returns the startup fallbacks.
func (d *Dispatcher) Notes() []string {
	return append([]string(nil), d.notes...)
}

// Handle dispatches on the event name. Events nobody handles are approved.
func (d *Dispatcher) Handle(ctx context.Context, in hook.Input) hook.Response {
	var resp hook.Response
	switch in.Event {
	case hook.EventUserPromptSubmit:
		resp = d.Route(in)
	case hook.EventPreToolUse:
		resp = d.Prepare(ctx, in)
	case hook.EventSubagentStop:
		resp = d.Complete(ctx, in)
	case hook.EventStop:
		resp = d.Gate(ctx, in)
	default:
		d.logger.Debug("event ignored", zap.String("event", in.Event))
		resp = hook.Approve("")
	}
	return resp
}

// Route suggests workers for the submitted prompt.
func (d *Dispatcher) Route(in hook.Input) hook.Response {
	candidates := d.router.Route(in.Prompt)
	d.logger.Info("routed prompt",
		zap.Int("candidates", len(candidates)),
		zap.Strings("workers", routing.Workers(candidates)))
	if len(candidates) == 0 {
		return hook.Approve("")
	}
	details := make([]map[string]any, len(candidates))
	for i, c := range candidates {
		details[i] = map[string]any{
			"name":        string(c.Worker),
			"confidence":  c.Score,
			"label":       c.Confidence(),
			"description": c.Description,
		}
	}
	resp := hook.Approve(routing.FormatSuggestions(candidates))
	resp.SuggestedNextWorkers = routing.Workers(candidates)
	return resp.WithDetail("candidates", details)
}

// Prepare builds the context snapshot for a worker launch.
func (d *Dispatcher) Prepare(ctx context.Context, in hook.Input) hook.Response {
	if in.ToolName != hook.ToolTask || !d.cfg.Settings.Preparer.Enabled {
		return hook.Approve("")
	}
	task := in.TaskPrompt()
	if strings.TrimSpace(task) == "" {
		return hook.Approve("")
	}
	result, err := d.preparer.Prepare(ctx, preparer.Request{
		Worker:     in.Worker(),
		Task:       task,
		ProjectDir: d.cfg.ProjectDir,
	})
	resp := hook.Approve(fmt.Sprintf("Context prepared for %s: %s", result.Worker, result.Path))
	if err != nil {
		d.logger.Warn("store context snapshot", zap.Error(err))
		resp = hook.Warn(fmt.Sprintf("Context prepared for %s but not stored: %v", result.Worker, err))
	} else {
		d.logger.Info("prepared context",
			zap.String("worker", result.Worker),
			zap.Strings("probes", result.Probes),
			zap.Bool("truncated", result.Truncated))
	}
	return resp.
		WithDetail("context", result.Body).
		WithDetail("snapshotPath", result.Path).
		WithDetail("taskTypes", result.TaskTypes).
		WithDetail("probes", result.Probes).
		WithDetail("truncated", result.Truncated)
}

// Complete runs the result processor and then the orchestrator.
func (d *Dispatcher) Complete(ctx context.Context, in hook.Input) hook.Response {
	worker := workflow.WorkerID(strings.TrimSpace(in.Worker()))
	if worker == "" {
		return hook.Approve("")
	}
	outcome := d.processor.Process(worker, in.Result)
	if outcome.RecordErr != nil {
		d.logger.Warn("write completion record", zap.String("worker", string(worker)), zap.Error(outcome.RecordErr))
	}
	text := in.Context
	if strings.TrimSpace(text) == "" {
		text = in.Prompt
	}
	decision := d.engine.Complete(ctx, engine.CompletionRequest{
		Worker:                     worker,
		Result:                     in.Result,
		Context:                    text,
		RequiresImmediateAttention: outcome.RequiresImmediateAttention,
	})

	resp := decision.Response(d.catalog)
	var b strings.Builder
	if outcome.RequiresImmediateAttention {
		fmt.Fprintf(&b, "IMMEDIATE ATTENTION REQUIRED: %d critical finding(s) from %s\n\n", outcome.CriticalFindings, worker)
		d.book.Error("%s reported %d critical finding(s)", worker, outcome.CriticalFindings)
	}
	b.WriteString(outcome.Summary())
	if msg := decision.Message(d.catalog); msg != "" {
		b.WriteString("\n\n")
		b.WriteString(msg)
	}
	if outcome.RecordErr != nil {
		fmt.Fprintf(&b, "\nNote: completion record not written: %v", outcome.RecordErr)
		if resp.Decision == hook.DecisionApprove {
			resp.Decision = hook.DecisionWarn
		}
	}
	resp.Message = b.String()
	resp = resp.
		WithDetail("requiresImmediateAttention", outcome.RequiresImmediateAttention).
		WithDetail("criticalFindings", outcome.CriticalFindings)
	if len(outcome.FollowUpActions) > 0 {
		resp = resp.WithDetail("followUpActions", outcome.FollowUpActions)
	}
	if len(outcome.Metrics) > 0 {
		resp = resp.WithDetail("metrics", outcome.Metrics)
	}
	if outcome.RecordPath != "" {
		resp = resp.WithDetail("recordPath", outcome.RecordPath)
	}
	return d.withNotes(resp)
}

// Gate runs the stop checks.
func (d *Dispatcher) Gate(ctx context.Context, in hook.Input) hook.Response {
	if !d.cfg.Settings.Gate.Enabled {
		return hook.Approve("")
	}
	report := d.gate.Check(ctx, gate.Request{
		ProjectDir:     d.cfg.ProjectDir,
		TranscriptPath: in.TranscriptPath,
		StopHookActive: in.StopHookActive,
	})
	if report.Blocking() {
		d.book.Warn("stop blocked: %s", strings.Join(report.Issues, "; "))
	}
	d.logger.Info("stop gate",
		zap.Bool("skipped", report.Skipped),
		zap.Strings("issues", report.Issues),
		zap.Int("warnings", len(report.Warnings)))
	return report.Response()
}

func (d *Dispatcher) withNotes(resp hook.Response) hook.Response {
	if len(d.notes) == 0 {
		return resp
	}
	var b strings.Builder
	b.WriteString(resp.Message)
	for _, note := range d.notes {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Note: ")
		b.WriteString(note)
	}
	resp.Message = b.String()
	if resp.Decision == hook.DecisionApprove {
		resp.Decision = hook.DecisionWarn
	}
	return resp
}
