package engine

import (
	"github.com/kingrea/lattice-hooks/internal/state"
	"github.com/kingrea/lattice-hooks/internal/workflow"
)

// ChainState enumerates the lifecycle of a chain instance. Complete is
// terminal; there is no rollback.
type ChainState string

const (
	ChainNotStarted ChainState = "not-started"
	ChainActive     ChainState = "active"
	ChainComplete   ChainState = "complete"
)

// MemberStatus describes one chain member against the stored state.
type MemberStatus struct {
	Worker    workflow.WorkerID `json:"worker"`
	Completed bool              `json:"completed"`
	Pending   bool              `json:"pending"`
}

// ChainStatus is the derived view of a chain.
type ChainStatus struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	State   ChainState     `json:"state"`
	Members []MemberStatus `json:"members"`
}

// Progress returns completed and total member counts.
func (c ChainStatus) Progress() (done, total int) {
	for _, member := range c.Members {
		if member.Completed {
			done++
		}
	}
	return done, len(c.Members)
}

// Snapshot pairs the stored state with the derived chain view.
type Snapshot struct {
	State  state.State   `json:"state"`
	Chains []ChainStatus `json:"chains"`
}

// DescribeChains derives chain statuses from st in catalog order.
func DescribeChains(catalog *workflow.Catalog, st state.State) []ChainStatus {
	chains := catalog.Chains()
	out := make([]ChainStatus, 0, len(chains))
	for _, chain := range chains {
		status := ChainStatus{ID: chain.ID, Title: chain.Title(), State: ChainNotStarted}
		for _, member := range chain.Members {
			status.Members = append(status.Members, MemberStatus{
				Worker:    member,
				Completed: st.IsCompleted(string(member)),
				Pending:   st.IsPending(string(member)),
			})
		}
		switch {
		case st.IsActive(chain.ID):
			status.State = ChainActive
		case chain.CompletedBy(completedIn(st)):
			status.State = ChainComplete
		}
		out = append(out, status)
	}
	return out
}

func completedIn(st state.State) func(workflow.WorkerID) bool {
	return func(id workflow.WorkerID) bool { return st.IsCompleted(string(id)) }
}
