package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

// Definitions is the on-disk shape of the worker catalog: worker profiles used
// by the router plus the static chains the engine advances.
type Definitions struct {
	Version int                `json:"version" yaml:"version"`
	Workers []WorkerDefinition `json:"workers" yaml:"workers"`
	Chains  []ChainDefinition  `json:"chains" yaml:"chains"`
}

// WorkerDefinition declares a worker profile before its patterns are compiled.
type WorkerDefinition struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Patterns    []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}

// ChainDefinition declares an ordered worker chain. Triggers are keyword
// groups; a group matches free text when every keyword in it appears.
// Priority orders trigger matching across chains, lowest first; equal
// priorities keep declaration order.
type ChainDefinition struct {
	ID       string     `json:"id" yaml:"id"`
	Members  []string   `json:"members" yaml:"members"`
	Triggers [][]string `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Priority int        `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Clone returns a deep copy of the definitions.
func (d Definitions) Clone() Definitions {
	clone := Definitions{Version: d.Version}
	if len(d.Workers) > 0 {
		clone.Workers = make([]WorkerDefinition, len(d.Workers))
		for i, w := range d.Workers {
			clone.Workers[i] = WorkerDefinition{
				ID:          w.ID,
				Description: w.Description,
				Keywords:    cloneStrings(w.Keywords),
				Patterns:    cloneStrings(w.Patterns),
			}
		}
	}
	if len(d.Chains) > 0 {
		clone.Chains = make([]ChainDefinition, len(d.Chains))
		for i, c := range d.Chains {
			clone.Chains[i] = ChainDefinition{
				ID:       c.ID,
				Members:  cloneStrings(c.Members),
				Triggers: cloneGroups(c.Triggers),
				Priority: c.Priority,
			}
		}
	}
	return clone
}

// Merge overlays other onto d. Workers and chains with a matching ID are
// replaced in place; new ones are appended in declaration order.
func (d Definitions) Merge(other Definitions) Definitions {
	merged := d.Clone()
	overlay := other.Clone()
	if overlay.Version > merged.Version {
		merged.Version = overlay.Version
	}
	for _, w := range overlay.Workers {
		replaced := false
		for i := range merged.Workers {
			if merged.Workers[i].ID == w.ID {
				merged.Workers[i] = w
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Workers = append(merged.Workers, w)
		}
	}
	for _, c := range overlay.Chains {
		replaced := false
		for i := range merged.Chains {
			if merged.Chains[i].ID == c.ID {
				merged.Chains[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Chains = append(merged.Chains, c)
		}
	}
	return merged
}

// Normalized trims identifiers, lowercases keywords, and validates the result.
func (d Definitions) Normalized() (Definitions, error) {
	clone := d.Clone()
	if clone.Version == 0 {
		clone.Version = 1
	}
	for i := range clone.Workers {
		w := &clone.Workers[i]
		w.ID = strings.TrimSpace(w.ID)
		w.Description = strings.TrimSpace(w.Description)
		w.Keywords = normalizeWords(w.Keywords)
		w.Patterns = trimAll(w.Patterns)
	}
	for i := range clone.Chains {
		c := &clone.Chains[i]
		c.ID = strings.TrimSpace(c.ID)
		c.Members = trimAll(c.Members)
		groups := make([][]string, 0, len(c.Triggers))
		for _, group := range c.Triggers {
			if words := normalizeWords(group); len(words) > 0 {
				groups = append(groups, words)
			}
		}
		c.Triggers = groups
	}
	if err := clone.Validate(); err != nil {
		return Definitions{}, err
	}
	return clone, nil
}

// Validate ensures the definitions are self-consistent.
func (d Definitions) Validate() error {
	if d.Version < 1 {
		return fmt.Errorf("workflow: definitions version must be >= 1")
	}
	if len(d.Workers) == 0 {
		return fmt.Errorf("workflow: at least one worker is required")
	}
	workers := map[string]struct{}{}
	for idx, w := range d.Workers {
		if w.ID == "" {
			return fmt.Errorf("workflow: workers[%d]: id is required", idx)
		}
		if _, exists := workers[w.ID]; exists {
			return fmt.Errorf("workflow: duplicate worker %s", w.ID)
		}
		workers[w.ID] = struct{}{}
		for _, pattern := range w.Patterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("workflow: worker %s pattern %q: %w", w.ID, pattern, err)
			}
		}
	}
	chains := map[string]struct{}{}
	for idx, c := range d.Chains {
		if c.ID == "" {
			return fmt.Errorf("workflow: chains[%d]: id is required", idx)
		}
		if _, exists := chains[c.ID]; exists {
			return fmt.Errorf("workflow: duplicate chain %s", c.ID)
		}
		chains[c.ID] = struct{}{}
		if len(c.Members) == 0 {
			return fmt.Errorf("workflow: chain %s: at least one member is required", c.ID)
		}
		seen := map[string]struct{}{}
		for _, member := range c.Members {
			if _, ok := workers[member]; !ok {
				return fmt.Errorf("workflow: chain %s references unknown worker %s", c.ID, member)
			}
			if _, dup := seen[member]; dup {
				return fmt.Errorf("workflow: chain %s lists %s twice", c.ID, member)
			}
			seen[member] = struct{}{}
		}
	}
	return nil
}

// Compile turns validated definitions into an immutable Catalog.
func (d Definitions) Compile() (*Catalog, error) {
	normalized, err := d.Normalized()
	if err != nil {
		return nil, err
	}
	cat := &Catalog{
		profileIndex: make(map[WorkerID]int, len(normalized.Workers)),
		chainIndex:   make(map[string]int, len(normalized.Chains)),
	}
	for _, w := range normalized.Workers {
		profile := Profile{
			ID:          WorkerID(w.ID),
			Description: w.Description,
			Keywords:    cloneStrings(w.Keywords),
		}
		for _, pattern := range w.Patterns {
			// Requests are lowercased before matching, patterns are not.
			profile.Patterns = append(profile.Patterns, regexp.MustCompile("(?i)"+pattern))
		}
		cat.profileIndex[profile.ID] = len(cat.profiles)
		cat.profiles = append(cat.profiles, profile)
	}
	for _, c := range normalized.Chains {
		chain := Chain{ID: c.ID, Triggers: cloneGroups(c.Triggers), Priority: c.Priority}
		for _, member := range c.Members {
			chain.Members = append(chain.Members, WorkerID(member))
		}
		cat.chainIndex[chain.ID] = len(cat.chains)
		cat.chains = append(cat.chains, chain)
	}
	return cat, nil
}

func normalizeWords(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}

func cloneGroups(groups [][]string) [][]string {
	if len(groups) == 0 {
		return nil
	}
	clone := make([][]string, len(groups))
	for i, group := range groups {
		clone[i] = cloneStrings(group)
	}
	return clone
}
