package preparer

import "strings"

// TaskType classifies what a worker is about to do.
type TaskType string

const (
	TaskResearch       TaskType = "research"
	TaskImplementation TaskType = "implementation"
	TaskRefactoring    TaskType = "refactoring"
	TaskTesting        TaskType = "testing"
	TaskDebugging      TaskType = "debugging"
	TaskDocumentation  TaskType = "documentation"
	TaskReview         TaskType = "review"
)

var taskKeywords = []struct {
	kind  TaskType
	words []string
}{
	{TaskResearch, []string{"research", "find", "search", "analyze", "investigate"}},
	{TaskImplementation, []string{"implement", "create", "build", "add", "write"}},
	{TaskRefactoring, []string{"refactor", "optimize", "improve", "clean", "reorganize"}},
	{TaskTesting, []string{"test", "spec", "coverage", "integration"}},
	{TaskDebugging, []string{"debug", "fix", "bug", "error", "issue"}},
	{TaskDocumentation, []string{"document", "docs", "readme", "comment", "explain"}},
	{TaskReview, []string{"review", "check", "validate", "verify", "audit"}},
}

var taskGuidelines = map[TaskType]string{
	TaskResearch:       "Research task: be thorough and cite sources for findings",
	TaskImplementation: "Implementation task: follow existing patterns and test your code",
	TaskRefactoring:    "Refactoring task: preserve behaviour and keep changes reviewable",
	TaskTesting:        "Testing task: aim for comprehensive coverage including edge cases",
	TaskDebugging:      "Debugging task: identify the root cause, not just the symptoms",
	TaskDocumentation:  "Documentation task: be clear and concise, include examples",
	TaskReview:         "Review task: report findings with file and line references",
}

// TaskTypes is the set of task types detected in a prompt, in a fixed order.
type TaskTypes []TaskType

// DetectTaskTypes matches task keywords as substrings of the lowercased
// prompt. A prompt can carry several types at once.
func DetectTaskTypes(task string) TaskTypes {
	lowered := strings.ToLower(task)
	var out TaskTypes
	for _, entry := range taskKeywords {
		for _, word := range entry.words {
			if strings.Contains(lowered, word) {
				out = append(out, entry.kind)
				break
			}
		}
	}
	return out
}

// Has reports whether kind was detected.
func (t TaskTypes) Has(kind TaskType) bool {
	for _, k := range t {
		if k == kind {
			return true
		}
	}
	return false
}

// Strings returns the task types as plain strings.
func (t TaskTypes) Strings() []string {
	out := make([]string, len(t))
	for i, k := range t {
		out[i] = string(k)
	}
	return out
}

func (t TaskTypes) buildsCode() bool {
	return t.Has(TaskImplementation) || t.Has(TaskRefactoring)
}
