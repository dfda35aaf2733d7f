// Package state persists orchestration state between hook invocations.
//
// Every invocation loads the whole document, mutates it in memory and writes
// it back. Lists carry set semantics: insertion order is kept for display,
// duplicates are rejected.
package state

import (
	"context"
	"errors"
	"strings"
)

// ErrMalformedState is reported when a stored document cannot be decoded.
// Callers continue from an empty state.
var ErrMalformedState = errors.New("state: malformed orchestration state")

// State is the durable orchestration document.
type State struct {
	ActiveWorkflows  []string `json:"activeWorkflows"`
	CompletedWorkers []string `json:"completedWorkers"`
	PendingWorkers   []string `json:"pendingWorkers"`
}

// New returns an empty state with non-nil lists.
func New() State {
	return State{
		ActiveWorkflows:  []string{},
		CompletedWorkers: []string{},
		PendingWorkers:   []string{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	return State{
		ActiveWorkflows:  cloneList(s.ActiveWorkflows),
		CompletedWorkers: cloneList(s.CompletedWorkers),
		PendingWorkers:   cloneList(s.PendingWorkers),
	}
}

// IsCompleted reports whether worker has completed.
func (s State) IsCompleted(worker string) bool {
	return contains(s.CompletedWorkers, worker)
}

// IsPending reports whether worker is waiting to run.
func (s State) IsPending(worker string) bool {
	return contains(s.PendingWorkers, worker)
}

// IsActive reports whether chain is an active workflow.
func (s State) IsActive(chain string) bool {
	return contains(s.ActiveWorkflows, chain)
}

// MarkCompleted records worker as completed and drops it from pending. It
// returns false when the worker was already completed.
func (s *State) MarkCompleted(worker string) bool {
	if worker == "" {
		return false
	}
	s.PendingWorkers = remove(s.PendingWorkers, worker)
	if contains(s.CompletedWorkers, worker) {
		return false
	}
	s.CompletedWorkers = append(s.CompletedWorkers, worker)
	return true
}

// AddPending queues worker unless it is already pending or completed.
func (s *State) AddPending(worker string) bool {
	if worker == "" || contains(s.PendingWorkers, worker) || contains(s.CompletedWorkers, worker) {
		return false
	}
	s.PendingWorkers = append(s.PendingWorkers, worker)
	return true
}

// Activate marks chain as an active workflow.
func (s *State) Activate(chain string) bool {
	if chain == "" || contains(s.ActiveWorkflows, chain) {
		return false
	}
	s.ActiveWorkflows = append(s.ActiveWorkflows, chain)
	return true
}

// Deactivate removes chain from the active workflows.
func (s *State) Deactivate(chain string) bool {
	if !contains(s.ActiveWorkflows, chain) {
		return false
	}
	s.ActiveWorkflows = remove(s.ActiveWorkflows, chain)
	return true
}

// Normalize repairs a decoded document: blank and duplicate entries are
// dropped and completed workers are removed from pending.
func (s *State) Normalize() {
	s.ActiveWorkflows = dedupe(s.ActiveWorkflows)
	s.CompletedWorkers = dedupe(s.CompletedWorkers)
	pending := dedupe(s.PendingWorkers)
	filtered := pending[:0]
	for _, worker := range pending {
		if !contains(s.CompletedWorkers, worker) {
			filtered = append(filtered, worker)
		}
	}
	s.PendingWorkers = filtered
}

// Compact forgets completed workers that retain reports false for, typically
// those outside every active workflow. It returns the number of entries
// removed.
func (s *State) Compact(retain func(worker string) bool) int {
	s.Normalize()
	kept := make([]string, 0, len(s.CompletedWorkers))
	for _, worker := range s.CompletedWorkers {
		if retain != nil && retain(worker) {
			kept = append(kept, worker)
		}
	}
	removed := len(s.CompletedWorkers) - len(kept)
	s.CompletedWorkers = kept
	return removed
}

// Store loads and saves the orchestration document.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
}

// Transactor is implemented by stores that can run a read-modify-write cycle
// under an exclusive lock.
type Transactor interface {
	Transact(ctx context.Context, mutate func(*State)) Outcome
}

// Outcome reports the state produced by Apply along with any load or save
// problem. Neither error prevents the mutation from running.
type Outcome struct {
	State   State
	LoadErr error
	SaveErr error
}

// Err joins the load and save errors.
func (o Outcome) Err() error {
	return errors.Join(o.LoadErr, o.SaveErr)
}

// Apply loads the state, runs mutate and saves the result. A load failure
// starts from an empty state; a save failure is reported, not raised.
func Apply(ctx context.Context, store Store, mutate func(*State)) Outcome {
	if tx, ok := store.(Transactor); ok {
		return tx.Transact(ctx, mutate)
	}
	st, loadErr := store.Load(ctx)
	if loadErr != nil {
		st = New()
	}
	st.Normalize()
	if mutate != nil {
		mutate(&st)
	}
	st.Normalize()
	return Outcome{State: st, LoadErr: loadErr, SaveErr: store.Save(ctx, st)}
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func remove(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value != target {
			out = append(out, value)
		}
	}
	return out
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func cloneList(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
