package hook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Lifecycle events the host delivers on stdin.
const (
	EventUserPromptSubmit = "UserPromptSubmit"
	EventPreToolUse       = "PreToolUse"
	EventPostToolUse      = "PostToolUse"
	EventSubagentStop     = "SubagentStop"
	EventStop             = "Stop"
)

// ToolTask is the host tool that launches a worker.
const ToolTask = "Task"

// ErrMalformedInput marks stdin that is not a single JSON object. It is the
// only input condition that fails an invocation.
var ErrMalformedInput = errors.New("hook: malformed input")

// Input is the event document the host writes to stdin.
type Input struct {
	Event          string  `json:"hook_event_name"`
	SessionID      string  `json:"session_id"`
	Cwd            string  `json:"cwd"`
	TranscriptPath string  `json:"transcript_path"`
	AgentName      string  `json:"agentName"`
	Prompt         string  `json:"prompt"`
	Context        string  `json:"context"`
	ToolName       string  `json:"tool_name"`
	ToolInput      Payload `json:"tool_input"`
	Result         Payload `json:"result"`
	StopHookActive bool    `json:"stop_hook_active"`
}

// UnmarshalJSON accepts agent_name and subagent_name as aliases of agentName.
// Only the top level must be an object: a field of the wrong type reads as
// its zero value.
func (in *Input) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*in = Input{
		Event:          looseString(fields["hook_event_name"]),
		SessionID:      looseString(fields["session_id"]),
		Cwd:            looseString(fields["cwd"]),
		TranscriptPath: looseString(fields["transcript_path"]),
		AgentName:      looseString(fields["agentName"]),
		Prompt:         looseString(fields["prompt"]),
		Context:        looseString(fields["context"]),
		ToolName:       looseString(fields["tool_name"]),
		ToolInput:      loosePayload(fields["tool_input"]),
		Result:         loosePayload(fields["result"]),
		StopHookActive: looseBool(fields["stop_hook_active"]),
	}
	if in.AgentName == "" {
		in.AgentName = looseString(fields["agent_name"])
	}
	if in.AgentName == "" {
		in.AgentName = looseString(fields["subagent_name"])
	}
	return nil
}

func looseValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func looseString(raw json.RawMessage) string {
	return Payload{"v": looseValue(raw)}.String("v")
}

func loosePayload(raw json.RawMessage) Payload {
	if m, ok := looseValue(raw).(map[string]any); ok {
		return Payload(m)
	}
	return nil
}

func looseBool(raw json.RawMessage) bool {
	switch v := looseValue(raw).(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

// Normalize trims identifiers and guarantees non-nil payload maps.
func (in *Input) Normalize() {
	if in == nil {
		return
	}
	in.Event = strings.TrimSpace(in.Event)
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.Cwd = strings.TrimSpace(in.Cwd)
	in.AgentName = strings.TrimSpace(in.AgentName)
	in.ToolName = strings.TrimSpace(in.ToolName)
	if in.ToolInput == nil {
		in.ToolInput = Payload{}
	}
	if in.Result == nil {
		in.Result = Payload{}
	}
}

// Worker resolves the worker an event refers to: the completing agent for
// SubagentStop, the requested subagent type for a Task tool launch.
func (in Input) Worker() string {
	if in.AgentName != "" {
		return in.AgentName
	}
	return strings.TrimSpace(in.ToolInput.String("subagent_type"))
}

// TaskPrompt returns the free text describing the current task.
func (in Input) TaskPrompt() string {
	if prompt := in.ToolInput.String("prompt"); prompt != "" {
		return prompt
	}
	if in.Prompt != "" {
		return in.Prompt
	}
	return in.ToolInput.String("description")
}

// Decode reads exactly one JSON object from r.
func Decode(r io.Reader) (Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Input{}, fmt.Errorf("%w: read stdin: %v", ErrMalformedInput, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Input{}, fmt.Errorf("%w: expected a JSON object", ErrMalformedInput)
	}
	var in Input
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return Input{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	in.Normalize()
	return in, nil
}
