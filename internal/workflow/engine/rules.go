package engine

import (
	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/workflow"
)

// ConditionalNext suggests follow-up workers from a worker's own result.
// Workers without a rule suggest nothing.
func ConditionalNext(worker workflow.WorkerID, result hook.Payload) []workflow.WorkerID {
	switch worker {
	case workflow.WorkerAnalyzer:
		return analysisRule(result)
	case workflow.WorkerSecurity:
		return securityRule(result)
	case workflow.WorkerTDDImplementer:
		return tddRule(result)
	case workflow.WorkerDiffDocumenter:
		return documentationRule(result)
	case workflow.WorkerRefactorer:
		return refactorRule(result)
	case workflow.WorkerIssueCreator,
		workflow.WorkerDocsMaintainer,
		workflow.WorkerDocsResearcher,
		workflow.WorkerPromptEngineer,
		workflow.WorkerSynthesisDirector:
		return nil
	default:
		return nil
	}
}

type suggestions []workflow.WorkerID

func (s *suggestions) add(id workflow.WorkerID) {
	for _, existing := range *s {
		if existing == id {
			return
		}
	}
	*s = append(*s, id)
}

func analysisRule(result hook.Payload) []workflow.WorkerID {
	var next suggestions
	if !result.Truthy("issues_found") {
		next.add(workflow.WorkerDiffDocumenter)
		return next
	}
	types := map[string]bool{}
	for _, kind := range result.Strings("issue_types") {
		types[kind] = true
	}
	if types["quality"] || types["complexity"] {
		next.add(workflow.WorkerRefactorer)
	}
	if types["missing_tests"] {
		next.add(workflow.WorkerTDDImplementer)
	}
	if types["security"] {
		next.add(workflow.WorkerSecurity)
	}
	return next
}

func securityRule(result hook.Payload) []workflow.WorkerID {
	var next suggestions
	critical, high := 0, 0
	for _, finding := range result.Records("findings") {
		switch finding.String("severity") {
		case "critical":
			critical++
		case "high":
			high++
		}
	}
	if critical > 0 {
		next.add(workflow.WorkerIssueCreator)
	}
	if critical > 0 || high > 0 {
		next.add(workflow.WorkerDocsMaintainer)
	}
	if result.Truthy("code_changes_suggested") {
		next.add(workflow.WorkerRefactorer)
	}
	return next
}

func tddRule(result hook.Payload) []workflow.WorkerID {
	var next suggestions
	if result.Number("tests_written") > 0 {
		next.add(workflow.WorkerRefactorer)
	}
	if result.Truthy("implementation_complete") {
		next.add(workflow.WorkerDiffDocumenter)
	}
	if result.Truthy("coverage_increased") {
		next.add(workflow.WorkerDocsMaintainer)
	}
	return next
}

func documentationRule(result hook.Payload) []workflow.WorkerID {
	var next suggestions
	if result.Truthy("documentation_gaps") {
		next.add(workflow.WorkerDocsMaintainer)
	}
	if result.Truthy("api_changes") {
		next.add(workflow.WorkerDocsResearcher)
	}
	return next
}

func refactorRule(result hook.Payload) []workflow.WorkerID {
	var next suggestions
	if result.Truthy("refactoring_complete") {
		next.add(workflow.WorkerDiffDocumenter)
		next.add(workflow.WorkerDocsMaintainer)
	}
	return next
}
