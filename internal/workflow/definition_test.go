package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogDeclaresKnownWorkers(t *testing.T) {
	cat := DefaultCatalog()
	for _, id := range KnownWorkers() {
		if _, ok := cat.Profile(id); !ok {
			t.Fatalf("default catalog missing profile for %s", id)
		}
	}
	chains := cat.Chains()
	if len(chains) != 4 {
		t.Fatalf("expected 4 default chains, got %d", len(chains))
	}
	if chains[0].ID != "full-development-cycle" || chains[0].Head() != WorkerAnalyzer {
		t.Fatalf("unexpected first chain: %+v", chains[0])
	}
}

func TestParseDefinitionsRejectsUnknownChainMember(t *testing.T) {
	const payload = `
workers:
  - id: alpha
chains:
  - id: broken
    members: [alpha, ghost]
`
	defs, err := ParseDefinitionsYAML([]byte(payload))
	require.NoError(t, err)
	_, err = defs.Compile()
	if err == nil {
		t.Fatalf("expected error when chain references unknown worker")
	}
	if !strings.Contains(err.Error(), "references unknown worker ghost") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseDefinitionsRejectsBadPattern(t *testing.T) {
	const payload = `
workers:
  - id: alpha
    patterns: ['(unclosed']
`
	defs, err := ParseDefinitionsYAML([]byte(payload))
	require.NoError(t, err)
	_, err = defs.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern")
}

func TestParseDefinitionsRejectsEmptyPayload(t *testing.T) {
	_, err := ParseDefinitionsYAML([]byte("  \n"))
	require.Error(t, err)
}

func TestNormalizedLowercasesKeywords(t *testing.T) {
	defs := Definitions{Workers: []WorkerDefinition{{ID: " alpha ", Keywords: []string{" Deep DIVE ", ""}}}}
	normalized, err := defs.Normalized()
	require.NoError(t, err)
	assert.Equal(t, 1, normalized.Version)
	assert.Equal(t, "alpha", normalized.Workers[0].ID)
	assert.Equal(t, []string{"deep dive"}, normalized.Workers[0].Keywords)
}

func TestLoadCatalogMergesOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	const overlay = `
workers:
  - id: release-manager
    description: Cut and publish releases
    keywords: [release]
  - id: prompt-engineer
    description: Tune prompts
    keywords: [prompt]
chains:
  - id: release-workflow
    members: [tech-docs-maintainer, release-manager]
    triggers:
      - [release]
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)

	profile, ok := cat.Profile("release-manager")
	require.True(t, ok)
	assert.Equal(t, "Cut and publish releases", profile.Description)
	assert.Equal(t, "Tune prompts", cat.Describe(WorkerPromptEngineer))

	chain, ok := cat.Chain("release-workflow")
	require.True(t, ok)
	assert.Equal(t, WorkerID("release-manager"), chain.Members[1])
	assert.Len(t, cat.Chains(), 5)
}

func TestLoadCatalogIgnoresMissingOverride(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Len(t, cat.Profiles(), len(KnownWorkers()))
}

func TestCatalogAccessorsReturnCopies(t *testing.T) {
	cat := DefaultCatalog()
	chains := cat.Chains()
	chains[0].Members[0] = "mutated"
	again, ok := cat.Chain(chains[0].ID)
	require.True(t, ok)
	assert.Equal(t, WorkerAnalyzer, again.Members[0])

	profile, _ := cat.Profile(WorkerSecurity)
	profile.Keywords[0] = "mutated"
	fresh, _ := cat.Profile(WorkerSecurity)
	assert.Equal(t, "security", fresh.Keywords[0])
}

func TestChainMatchesContextRequiresWholeGroup(t *testing.T) {
	chain, ok := DefaultCatalog().Chain("security-audit-workflow")
	require.True(t, ok)
	assert.False(t, chain.MatchesContext("a security review"))
	assert.True(t, chain.MatchesContext("Run a Security AUDIT on auth"))
	assert.False(t, chain.MatchesContext("   "))
}

func TestChainCompletionIsOrderIndependent(t *testing.T) {
	chain, _ := DefaultCatalog().Chain("quality-improvement-workflow")
	done := map[WorkerID]bool{WorkerTDDImplementer: true, WorkerRefactorer: true}
	next, ok := chain.NextUndone(func(id WorkerID) bool { return done[id] })
	require.True(t, ok)
	assert.Equal(t, WorkerAnalyzer, next)
	assert.False(t, chain.CompletedBy(func(id WorkerID) bool { return done[id] }))

	done[WorkerAnalyzer] = true
	assert.True(t, chain.CompletedBy(func(id WorkerID) bool { return done[id] }))
}

func TestTitleize(t *testing.T) {
	assert.Equal(t, "Full Development Cycle", Titleize("full-development-cycle"))
	assert.Equal(t, "", Titleize(""))
}

func TestTriggerChainsOrderByPriority(t *testing.T) {
	var ids []string
	for _, chain := range DefaultCatalog().TriggerChains() {
		ids = append(ids, chain.ID)
	}
	assert.Equal(t, []string{
		"security-audit-workflow",
		"documentation-workflow",
		"quality-improvement-workflow",
		"full-development-cycle",
	}, ids)
	assert.Equal(t, "full-development-cycle", DefaultCatalog().Chains()[0].ID)
}
