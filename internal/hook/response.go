package hook

import (
	"encoding/json"
	"fmt"
	"io"
)

// Decision is the verdict returned to the host.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionBlock   Decision = "block"
	DecisionWarn    Decision = "warn"
)

// Exit codes understood by the host.
const (
	ExitOK        = 0
	ExitMalformed = 1
	ExitBlock     = 2
)

// Response is the single JSON document written to stdout.
type Response struct {
	Decision             Decision       `json:"decision"`
	Message              string         `json:"message,omitempty"`
	SuggestedNextWorkers []string       `json:"suggestedNextWorkers,omitempty"`
	Details              map[string]any `json:"details,omitempty"`
}

// Approve returns an approving response carrying an optional message.
func Approve(message string) Response {
	return Response{Decision: DecisionApprove, Message: message}
}

// Warn returns an advisory response.
func Warn(message string) Response {
	return Response{Decision: DecisionWarn, Message: message}
}

// Block returns a blocking response.
func Block(message string) Response {
	return Response{Decision: DecisionBlock, Message: message}
}

// WithDetail attaches a structured detail entry.
func (r Response) WithDetail(key string, value any) Response {
	if r.Details == nil {
		r.Details = map[string]any{}
	}
	r.Details[key] = value
	return r
}

// ExitCode maps the decision onto the host's exit code contract.
func (r Response) ExitCode() int {
	if r.Decision == DecisionBlock {
		return ExitBlock
	}
	return ExitOK
}

// Encode writes r as one JSON document followed by a newline.
func (r Response) Encode(w io.Writer) error {
	if r.Decision == "" {
		r.Decision = DecisionApprove
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("hook: encode response: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("hook: write response: %w", err)
	}
	return nil
}
