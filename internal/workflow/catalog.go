package workflow

import (
	"regexp"
	"sort"
	"strings"
)

// WorkerID identifies a worker (subagent) the engine can route to and track.
type WorkerID string

// Built-in workers. Catalog overrides may declare more; those fall back to
// the generic result handler and have no conditional rule.
const (
	WorkerAnalyzer          WorkerID = "code-synthesis-analyzer"
	WorkerTDDImplementer    WorkerID = "tdd-python-implementer"
	WorkerRefactorer        WorkerID = "code-clarity-refactorer"
	WorkerDiffDocumenter    WorkerID = "git-diff-documentation-agent"
	WorkerDocsMaintainer    WorkerID = "tech-docs-maintainer"
	WorkerSecurity          WorkerID = "security-orchestrator"
	WorkerIssueCreator      WorkerID = "bug-issue-creator"
	WorkerDocsResearcher    WorkerID = "web-docs-researcher"
	WorkerPromptEngineer    WorkerID = "prompt-engineer"
	WorkerSynthesisDirector WorkerID = "multi-agent-synthesis-orchestrator"
)

var knownWorkers = []WorkerID{
	WorkerTDDImplementer,
	WorkerSecurity,
	WorkerRefactorer,
	WorkerDiffDocumenter,
	WorkerIssueCreator,
	WorkerDocsResearcher,
	WorkerDocsMaintainer,
	WorkerPromptEngineer,
	WorkerAnalyzer,
	WorkerSynthesisDirector,
}

// KnownWorkers returns the built-in worker identities in declaration order.
func KnownWorkers() []WorkerID {
	out := make([]WorkerID, len(knownWorkers))
	copy(out, knownWorkers)
	return out
}

// Known reports whether id is one of the built-in workers.
func (id WorkerID) Known() bool {
	for _, known := range knownWorkers {
		if known == id {
			return true
		}
	}
	return false
}

func (id WorkerID) String() string {
	return string(id)
}

// Profile is the immutable routing profile of a worker.
type Profile struct {
	ID          WorkerID
	Description string
	Keywords    []string
	Patterns    []*regexp.Regexp
}

func (p Profile) clone() Profile {
	clone := p
	clone.Keywords = cloneStrings(p.Keywords)
	if len(p.Patterns) > 0 {
		clone.Patterns = make([]*regexp.Regexp, len(p.Patterns))
		copy(clone.Patterns, p.Patterns)
	}
	return clone
}

// Chain is an ordered sequence of workers describing an expected path.
type Chain struct {
	ID       string
	Members  []WorkerID
	Triggers [][]string
	Priority int
}

func (c Chain) clone() Chain {
	clone := Chain{ID: c.ID, Triggers: cloneGroups(c.Triggers), Priority: c.Priority}
	if len(c.Members) > 0 {
		clone.Members = make([]WorkerID, len(c.Members))
		copy(clone.Members, c.Members)
	}
	return clone
}

// Head returns the first member of the chain.
func (c Chain) Head() WorkerID {
	if len(c.Members) == 0 {
		return ""
	}
	return c.Members[0]
}

// Contains reports whether id is a member of the chain.
func (c Chain) Contains(id WorkerID) bool {
	for _, member := range c.Members {
		if member == id {
			return true
		}
	}
	return false
}

// NextUndone returns the first member, in declared order, for which done
// reports false. Advancement is decided by membership, not by position of
// the worker that just finished.
func (c Chain) NextUndone(done func(WorkerID) bool) (WorkerID, bool) {
	for _, member := range c.Members {
		if !done(member) {
			return member, true
		}
	}
	return "", false
}

// CompletedBy reports whether every member satisfies done, in any order.
func (c Chain) CompletedBy(done func(WorkerID) bool) bool {
	if len(c.Members) == 0 {
		return false
	}
	_, pending := c.NextUndone(done)
	return !pending
}

// MatchesContext reports whether any trigger group is fully contained in text.
func (c Chain) MatchesContext(text string) bool {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, group := range c.Triggers {
		if len(group) == 0 {
			continue
		}
		matched := true
		for _, word := range group {
			if !strings.Contains(text, word) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// Title renders the chain ID for humans ("full-development-cycle" ->
// "Full Development Cycle").
func (c Chain) Title() string {
	return Titleize(c.ID)
}

// Titleize converts a dashed identifier into title case words.
func Titleize(id string) string {
	parts := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' })
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

// Catalog holds the worker profiles and chains loaded at startup. It is never
// mutated after Compile; accessors hand out copies.
type Catalog struct {
	profiles     []Profile
	chains       []Chain
	profileIndex map[WorkerID]int
	chainIndex   map[string]int
}

// Profiles returns every profile in declaration order.
func (c *Catalog) Profiles() []Profile {
	if c == nil {
		return nil
	}
	out := make([]Profile, len(c.profiles))
	for i, p := range c.profiles {
		out[i] = p.clone()
	}
	return out
}

// Profile looks up a worker profile.
func (c *Catalog) Profile(id WorkerID) (Profile, bool) {
	if c == nil {
		return Profile{}, false
	}
	idx, ok := c.profileIndex[id]
	if !ok {
		return Profile{}, false
	}
	return c.profiles[idx].clone(), true
}

// Chains returns every chain in declaration order.
func (c *Catalog) Chains() []Chain {
	if c == nil {
		return nil
	}
	out := make([]Chain, len(c.chains))
	for i, chain := range c.chains {
		out[i] = chain.clone()
	}
	return out
}

// TriggerChains returns every chain in the order context triggers are
// tried: by priority, then declaration order.
func (c *Catalog) TriggerChains() []Chain {
	out := c.Chains()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Chain looks up a chain by ID.
func (c *Catalog) Chain(id string) (Chain, bool) {
	if c == nil {
		return Chain{}, false
	}
	idx, ok := c.chainIndex[id]
	if !ok {
		return Chain{}, false
	}
	return c.chains[idx].clone(), true
}

// Describe returns a one-line description of a worker.
func (c *Catalog) Describe(id WorkerID) string {
	if profile, ok := c.Profile(id); ok && profile.Description != "" {
		return profile.Description
	}
	return "Specialized task execution"
}
