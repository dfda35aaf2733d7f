package state

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// document accepts the legacy snake_case keys written by earlier hook
// versions alongside the current camelCase ones.
type document struct {
	State
	LegacyActive    []string `json:"active_workflows,omitempty"`
	LegacyCompleted []string `json:"completed_subagents,omitempty"`
	LegacyPending   []string `json:"pending_subagents,omitempty"`
}

// Encode renders st as indented JSON with a trailing newline.
func Encode(st State) ([]byte, error) {
	st.Normalize()
	encoded, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("state: encode: %w", err)
	}
	return append(encoded, '\n'), nil
}

// Decode parses a stored document. Empty input yields an empty state.
func Decode(data []byte) (State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return New(), fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	st := doc.State
	st.ActiveWorkflows = append(st.ActiveWorkflows, doc.LegacyActive...)
	st.CompletedWorkers = append(st.CompletedWorkers, doc.LegacyCompleted...)
	st.PendingWorkers = append(st.PendingWorkers, doc.LegacyPending...)
	st.Normalize()
	return st, nil
}
