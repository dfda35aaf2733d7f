// Package results turns a worker's completion payload into an audit record,
// follow-up suggestions and structured metrics.
package results

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/workflow"
)

// Outcome is the processed view of one completion.
type Outcome struct {
	Worker workflow.WorkerID
	Extraction
	RequiresImmediateAttention bool
	CriticalFindings           int
	Record                     CompletionRecord
	RecordPath                 string
	// RecordErr is a persistence problem; the outcome is still usable.
	RecordErr error
}

// Processor records completions and extracts their follow-ups.
type Processor struct {
	recorder *Recorder
}

// NewProcessor builds a processor. A nil recorder skips the audit write.
func NewProcessor(recorder *Recorder) *Processor {
	return &Processor{recorder: recorder}
}

// Process never fails: payload shape problems yield empty output and record
// write failures are returned in Outcome.RecordErr.
func (p *Processor) Process(worker workflow.WorkerID, result hook.Payload) Outcome {
	if result == nil {
		result = hook.Payload{}
	}
	out := Outcome{Worker: worker}
	if p != nil && p.recorder != nil {
		out.Record, out.RecordPath, out.RecordErr = p.recorder.Record(string(worker), result)
	}
	out.Extraction = Extract(worker, result)
	out.CriticalFindings = CriticalFindings(result)
	out.RequiresImmediateAttention = out.CriticalFindings > 0
	return out
}

// Summary renders the outcome for the host.
func (o Outcome) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subagent completed: %s\n", o.Worker)
	if len(o.FollowUpActions) > 0 {
		b.WriteString("\nSuggested follow-up actions:\n")
		for _, action := range o.FollowUpActions {
			fmt.Fprintf(&b, "  - %s\n", action)
		}
	}
	keys := make([]string, 0, len(o.Metrics))
	for key := range o.Metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "\n%s:\n", workflow.Titleize(key))
		writeMetric(&b, o.Metrics[key])
	}
	if o.RequiresImmediateAttention {
		fmt.Fprintf(&b, "\n%d critical finding(s) reported.\n", o.CriticalFindings)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeMetric(b *strings.Builder, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(b, "  - %s: %v\n", key, v[key])
		}
	case []string:
		for _, item := range v {
			fmt.Fprintf(b, "  - %s\n", item)
		}
	default:
		fmt.Fprintf(b, "  - %v\n", v)
	}
}
