package results

import (
	"fmt"
	"strings"

	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/workflow"
)

// Metric keys emitted by the worker handlers.
const (
	MetricTests         = "test_metrics"
	MetricQuality       = "quality_metrics"
	MetricDocsUpdated   = "docs_updated"
	MetricIssueTracking = "issue_tracking"
	MetricRefactor      = "refactor_metrics"
)

// Extraction is what a handler pulls out of a worker's result payload.
type Extraction struct {
	FollowUpActions []string       `json:"followUpActions,omitempty"`
	Metrics         map[string]any `json:"structuredMetrics,omitempty"`
}

func (e *Extraction) follow(format string, args ...any) {
	e.FollowUpActions = append(e.FollowUpActions, fmt.Sprintf(format, args...))
}

func (e *Extraction) metric(key string, value any) {
	if e.Metrics == nil {
		e.Metrics = map[string]any{}
	}
	e.Metrics[key] = value
}

// Extract dispatches to the handler for worker. Unknown workers get the
// generic handler, which extracts nothing.
func Extract(worker workflow.WorkerID, result hook.Payload) Extraction {
	switch worker {
	case workflow.WorkerSecurity:
		return extractSecurity(result)
	case workflow.WorkerTDDImplementer:
		return extractTDD(result)
	case workflow.WorkerAnalyzer:
		return extractAnalysis(result)
	case workflow.WorkerDiffDocumenter:
		return extractDocumentation(result)
	case workflow.WorkerIssueCreator:
		return extractIssue(result)
	case workflow.WorkerRefactorer:
		return extractRefactor(result)
	case workflow.WorkerDocsMaintainer,
		workflow.WorkerDocsResearcher,
		workflow.WorkerPromptEngineer,
		workflow.WorkerSynthesisDirector:
		return Extraction{}
	default:
		return Extraction{}
	}
}

// CriticalFindings counts findings whose severity is critical.
func CriticalFindings(result hook.Payload) int {
	return countSeverity(result, "critical")
}

// HasCriticalFinding reports whether result demands immediate attention.
func HasCriticalFinding(result hook.Payload) bool {
	return CriticalFindings(result) > 0
}

func countSeverity(result hook.Payload, severity string) int {
	count := 0
	for _, finding := range result.Records("findings") {
		if strings.EqualFold(strings.TrimSpace(finding.String("severity")), severity) {
			count++
		}
	}
	return count
}

func extractSecurity(result hook.Payload) Extraction {
	var ext Extraction
	if critical := CriticalFindings(result); critical > 0 {
		ext.follow("%d critical security issues found", critical)
		ext.follow("Consider using `%s` to track these issues", workflow.WorkerIssueCreator)
	}
	if result.Truthy("success") {
		ext.follow("Update security documentation with `%s`", workflow.WorkerDocsMaintainer)
	}
	return ext
}

func extractTDD(result hook.Payload) Extraction {
	var ext Extraction
	if tests := result.Int("tests_written"); tests > 0 {
		ext.follow("%d tests written successfully", tests)
		ext.follow("Consider running `%s` to improve code quality", workflow.WorkerRefactorer)
	}
	if result.Truthy("incomplete_features") {
		ext.follow("Some features remain incomplete, continue with the TDD cycle")
	}
	if result.Has("tests_written") || result.Has("coverage_change") {
		coverage := result.String("coverage_change")
		if coverage == "" {
			coverage = "unknown"
		}
		ext.metric(MetricTests, map[string]any{
			"tests_added":    result.Int("tests_written"),
			"coverage_delta": coverage,
		})
	}
	return ext
}

func extractAnalysis(result hook.Payload) Extraction {
	var ext Extraction
	if result.Truthy("issues_found") {
		ext.follow("Issues detected in implementation")
		ext.follow("Run `%s` to address code quality issues", workflow.WorkerRefactorer)
		if result.Truthy("missing_tests") || containsString(result.Strings("issue_types"), "missing_tests") {
			ext.follow("Use `%s` to add missing tests", workflow.WorkerTDDImplementer)
		}
	}
	if metrics := result.Map("metrics"); len(metrics) > 0 {
		ext.metric(MetricQuality, map[string]any(metrics))
	}
	return ext
}

func extractDocumentation(result hook.Payload) Extraction {
	var ext Extraction
	if result.Truthy("documentation_created") {
		ext.follow("Documentation updated successfully")
		ext.follow("Review with `%s` for consistency", workflow.WorkerDocsMaintainer)
	}
	if files := result.Strings("files_documented"); len(files) > 0 {
		ext.metric(MetricDocsUpdated, files)
	}
	return ext
}

func extractIssue(result hook.Payload) Extraction {
	var ext Extraction
	created := result.Truthy("issue_created")
	url := result.String("issue_url")
	if created && url != "" {
		ext.follow("Issue created: %s", url)
		ext.follow("Track progress in your issue tracker")
	}
	if result.Has("issue_created") || url != "" {
		tracking := map[string]any{"created": created}
		if url != "" {
			tracking["url"] = url
		}
		ext.metric(MetricIssueTracking, tracking)
	}
	return ext
}

func extractRefactor(result hook.Payload) Extraction {
	var ext Extraction
	if result.Truthy("refactoring_complete") {
		ext.follow("Refactoring completed successfully")
		ext.follow("Run tests to ensure no regressions")
		ext.follow("Update documentation with `%s`", workflow.WorkerDiffDocumenter)
	}
	if metrics := result.Map("metrics"); len(metrics) > 0 {
		ext.metric(MetricRefactor, map[string]any(metrics))
	}
	return ext
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
