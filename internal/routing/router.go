// Package routing scores free-text requests against worker profiles.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/lattice-hooks/internal/workflow"
)

const (
	keywordWeight = 0.3
	patternWeight = 0.5
	nameWeight    = 1.0

	// DefaultThreshold is the minimum score a candidate needs.
	DefaultThreshold = 0.3
	// DefaultLimit caps the number of candidates returned.
	DefaultLimit = 3
)

// Candidate is a scored worker suggestion.
type Candidate struct {
	Worker      workflow.WorkerID `json:"name"`
	Score       float64           `json:"confidence"`
	Description string            `json:"description,omitempty"`
}

// Confidence labels the score for humans.
func (c Candidate) Confidence() string {
	switch {
	case c.Score > 0.7:
		return "high"
	case c.Score > 0.4:
		return "medium"
	default:
		return "low"
	}
}

// Router ranks workers for a request. It holds no mutable state.
type Router struct {
	catalog   *workflow.Catalog
	threshold float64
	limit     int
}

// Option customizes the router.
type Option func(*Router)

// WithThreshold overrides the minimum score.
func WithThreshold(threshold float64) Option {
	return func(r *Router) {
		if threshold > 0 && threshold <= 1 {
			r.threshold = threshold
		}
	}
}

// WithLimit overrides the number of candidates returned.
func WithLimit(limit int) Option {
	return func(r *Router) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

// New builds a router over the catalog's profiles.
func New(catalog *workflow.Catalog, opts ...Option) *Router {
	r := &Router{catalog: catalog, threshold: DefaultThreshold, limit: DefaultLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Score computes the clamped relevance of profile for an already lowercased
// request.
func Score(profile workflow.Profile, request string) float64 {
	score := 0.0
	for _, keyword := range profile.Keywords {
		if strings.Contains(request, keyword) {
			score += keywordWeight
		}
	}
	for _, pattern := range profile.Patterns {
		if pattern.MatchString(request) {
			score += patternWeight
		}
	}
	if name := strings.ReplaceAll(string(profile.ID), "-", " "); strings.Contains(request, name) {
		score += nameWeight
	}
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// Route returns the qualifying candidates, best first. Ties keep profile
// declaration order. Empty requests yield nothing.
func (r *Router) Route(request string) []Candidate {
	request = strings.ToLower(strings.TrimSpace(request))
	if request == "" {
		return nil
	}
	var candidates []Candidate
	for _, profile := range r.catalog.Profiles() {
		score := Score(profile, request)
		if score < r.threshold {
			continue
		}
		candidates = append(candidates, Candidate{
			Worker:      profile.ID,
			Score:       score,
			Description: profile.Description,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > r.limit {
		candidates = candidates[:r.limit]
	}
	return candidates
}

// Workers lists candidate identities in rank order.
func Workers(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = string(c.Worker)
	}
	return out
}

// FormatSuggestions renders the candidates as the hook message.
func FormatSuggestions(candidates []Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Subagent router suggestions:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- consider the `%s` subagent (%s confidence: %.0f%%)", c.Worker, c.Confidence(), c.Score*100)
		if c.Description != "" {
			fmt.Fprintf(&b, ": %s", c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
