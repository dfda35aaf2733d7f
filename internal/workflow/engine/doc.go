// Package engine is the workflow orchestrator. On every worker completion it
// records the worker, asks the conditional rules and the active chains for the
// next workers, starts a chain when none is running, retires chains whose
// members have all completed, and persists the result through a state.Store.
//
// Chain completion is decided by set membership: members may complete in any
// order. When several chains could start, the first one in catalog order wins.
package engine
