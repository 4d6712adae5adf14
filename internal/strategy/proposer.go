// Package strategy defines the Proposer interface for trade-confidence
// scoring and provides a Registry for managing multiple proposer
// implementations.
package strategy

import (
	"context"
	"sort"

	"autotrader/internal/domain"
)

// Proposer scores how confident the decision manager should be about an
// asset's near-term direction.
type Proposer interface {
	// Name returns the unique identifier for this proposer.
	Name() string

	// Confidence returns a score in [-1, 1]: positive values favor buying,
	// negative values favor selling.
	Confidence(ctx context.Context, asset *domain.Asset) (float64, error)
}

// Registry holds a named collection of proposers for lookup and enumeration.
type Registry struct {
	proposers map[string]Proposer
}

// NewRegistry creates an empty proposer Registry.
func NewRegistry() *Registry {
	return &Registry{
		proposers: make(map[string]Proposer),
	}
}

// Register adds a proposer to the registry, keyed by its Name().
func (r *Registry) Register(p Proposer) {
	r.proposers[p.Name()] = p
}

// Get retrieves a proposer by name. The second return value indicates whether
// the proposer was found.
func (r *Registry) Get(name string) (Proposer, bool) {
	p, ok := r.proposers[name]
	return p, ok
}

// List returns a sorted slice of all registered proposer names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.proposers))
	for name := range r.proposers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
