package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/logbook"
	"github.com/kingrea/lattice-hooks/internal/state"
	"github.com/kingrea/lattice-hooks/internal/workflow"
)

// Engine advances workflow chains as workers complete.
type Engine struct {
	catalog *workflow.Catalog
	store   state.Store
	book    *logbook.Logbook
	logger  *zap.Logger
	clock   func() time.Time
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogbook records workflow milestones in the project logbook.
func WithLogbook(book *logbook.Logbook) Option {
	return func(e *Engine) {
		e.book = book
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New wires the engine to the catalog and persistence store.
func New(catalog *workflow.Catalog, store state.Store, opts ...Option) (*Engine, error) {
	if catalog == nil {
		return nil, fmt.Errorf("workflow engine: catalog is required")
	}
	if store == nil {
		return nil, fmt.Errorf("workflow engine: state store is required")
	}
	engine := &Engine{
		catalog: catalog,
		store:   store,
		logger:  zap.NewNop(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// CompletionRequest reports a finished worker.
type CompletionRequest struct {
	Worker workflow.WorkerID
	Result hook.Payload
	// Context is free text used to pick a chain when the worker heads none.
	Context string
	// RequiresImmediateAttention is set by the result processor when the
	// result carries a critical finding.
	RequiresImmediateAttention bool
}

// Decision is the outcome of one completion.
type Decision struct {
	Worker          workflow.WorkerID
	ConditionalNext []workflow.WorkerID
	Suggested       []workflow.WorkerID
	ActiveWorkflow  string
	Started         string
	At              time.Time
	Completed       []string
	State           state.State
	Block           bool
	LoadErr         error
	SaveErr         error
	Advisories      []string
}

// Complete runs one orchestration step. It never fails: load and save
// problems are carried on the decision as advisories.
func (e *Engine) Complete(ctx context.Context, req CompletionRequest) Decision {
	worker := workflow.WorkerID(strings.TrimSpace(string(req.Worker)))
	decision := Decision{Worker: worker, Block: req.RequiresImmediateAttention, At: e.now().UTC()}
	if worker == "" {
		return decision
	}

	outcome := state.Apply(ctx, e.store, func(st *state.State) {
		e.advance(st, worker, req, &decision)
	})
	decision.State = outcome.State
	decision.LoadErr = outcome.LoadErr
	decision.SaveErr = outcome.SaveErr
	if outcome.LoadErr != nil {
		decision.Advisories = append(decision.Advisories, fmt.Sprintf("workflow state could not be loaded, starting fresh: %v", outcome.LoadErr))
		e.logger.Warn("load workflow state", zap.Error(outcome.LoadErr))
	}
	if outcome.SaveErr != nil {
		decision.Advisories = append(decision.Advisories, fmt.Sprintf("workflow state could not be saved: %v", outcome.SaveErr))
		e.logger.Error("save workflow state", zap.Error(outcome.SaveErr))
		e.book.Warn("state not saved after %s: %v", worker, outcome.SaveErr)
	}
	e.record(decision)
	return decision
}

// advance mutates st in place. It may run more than once per request when a
// store retries, so it resets the decision fields it owns.
func (e *Engine) advance(st *state.State, worker workflow.WorkerID, req CompletionRequest, decision *Decision) {
	decision.ConditionalNext = nil
	decision.Suggested = nil
	decision.ActiveWorkflow = ""
	decision.Started = ""
	decision.Completed = nil

	st.MarkCompleted(string(worker))
	done := completedIn(*st)

	var candidates suggestions
	decision.ConditionalNext = ConditionalNext(worker, req.Result)
	for _, id := range decision.ConditionalNext {
		candidates.add(id)
	}

	inActiveChain := false
	for _, chainID := range st.ActiveWorkflows {
		chain, ok := e.catalog.Chain(chainID)
		if !ok || !chain.Contains(worker) {
			continue
		}
		inActiveChain = true
		if next, ok := chain.NextUndone(done); ok {
			candidates.add(next)
			if decision.ActiveWorkflow == "" {
				decision.ActiveWorkflow = chain.ID
			}
		}
	}

	if len(candidates) == 0 && !inActiveChain {
		if chain, ok := e.detectChain(worker, req.Context, done); ok {
			st.Activate(chain.ID)
			decision.Started = chain.ID
			decision.ActiveWorkflow = chain.ID
			if next, ok := chain.NextUndone(done); ok {
				candidates.add(next)
			}
		}
	}

	for _, id := range candidates {
		st.AddPending(string(id))
	}
	decision.Suggested = candidates

	for _, chainID := range append([]string(nil), st.ActiveWorkflows...) {
		chain, ok := e.catalog.Chain(chainID)
		if !ok {
			st.Deactivate(chainID)
			continue
		}
		if chain.CompletedBy(done) {
			st.Deactivate(chainID)
			decision.Completed = append(decision.Completed, chainID)
		}
	}
}

// detectChain picks the chain to start for worker: first the chain it heads,
// then a chain containing it whose trigger keywords match the context, in
// trigger priority order.
// Chains whose members have all completed are never restarted.
func (e *Engine) detectChain(worker workflow.WorkerID, text string, done func(workflow.WorkerID) bool) (workflow.Chain, bool) {
	chains := e.catalog.Chains()
	for _, chain := range chains {
		if chain.Head() == worker && !chain.CompletedBy(done) {
			return chain, true
		}
	}
	for _, chain := range e.catalog.TriggerChains() {
		if chain.Contains(worker) && chain.MatchesContext(text) && !chain.CompletedBy(done) {
			return chain, true
		}
	}
	return workflow.Chain{}, false
}

func (e *Engine) record(decision Decision) {
	fields := []zap.Field{
		zap.String("worker", string(decision.Worker)),
		zap.Strings("suggested", workerStrings(decision.Suggested)),
		zap.String("active_workflow", decision.ActiveWorkflow),
		zap.Strings("completed_workflows", decision.Completed),
		zap.Bool("block", decision.Block),
	}
	e.logger.Info("worker completed", fields...)
	e.book.Info("completed %s", decision.Worker)
	if decision.Started != "" {
		e.book.Info("workflow started: %s", decision.Started)
	}
	if len(decision.Suggested) > 0 {
		e.book.Info("suggested next: %s", strings.Join(workerStrings(decision.Suggested), ", "))
	}
	for _, chainID := range decision.Completed {
		e.book.Info("workflow complete: %s", chainID)
	}
	if decision.Block {
		e.book.Error("%s reported critical findings", decision.Worker)
	}
}

// Snapshot returns the stored state with the derived chain view.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	st, err := e.store.Load(ctx)
	return Snapshot{State: st, Chains: DescribeChains(e.catalog, st)}, err
}

// Compact forgets completed workers outside every active chain, letting
// finished chains start again. It returns the number of entries removed.
// A state that cannot be loaded is left untouched.
func (e *Engine) Compact(ctx context.Context) (int, error) {
	if _, err := e.store.Load(ctx); err != nil {
		return 0, fmt.Errorf("engine: compact: %w", err)
	}
	removed := 0
	outcome := state.Apply(ctx, e.store, func(st *state.State) {
		active := e.activeMembers(*st)
		removed = st.Compact(func(worker string) bool { return active[worker] })
	})
	if outcome.LoadErr != nil {
		return 0, fmt.Errorf("engine: compact: %w", outcome.LoadErr)
	}
	if outcome.SaveErr != nil {
		return 0, outcome.SaveErr
	}
	e.book.Info("state compacted: %d completed workers dropped", removed)
	return removed, nil
}

// Reset replaces the stored state with an empty one.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.store.Save(ctx, state.New()); err != nil {
		return err
	}
	e.book.Warn("workflow state reset")
	return nil
}

func (e *Engine) activeMembers(st state.State) map[string]bool {
	members := map[string]bool{}
	for _, chainID := range st.ActiveWorkflows {
		chain, ok := e.catalog.Chain(chainID)
		if !ok {
			continue
		}
		for _, member := range chain.Members {
			members[string(member)] = true
		}
	}
	return members
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func workerStrings(ids []workflow.WorkerID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
