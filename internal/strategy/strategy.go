// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry for managing multiple strategy implementations.
package strategy

import (
	"context"
	"sort"

	"stratlab/internal/domain"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// GenerateSignals returns one signal per input bar, index-aligned with
	// bars. The signal at index i may only use data up to and including
	// bars[i]; the engine executes it on the following bar.
	GenerateSignals(ctx context.Context, bars []domain.Bar) ([]domain.Signal, error)
}

// Factory builds a fresh strategy from a parameter map. The CLI uses
// factories to build parameter sweeps.
type Factory func(params map[string]float64) (Strategy, error)

// Registry holds a named collection of strategy factories for lookup and
// enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a strategy factory under name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get builds the named strategy with params. The second return value
// indicates whether the strategy was found.
func (r *Registry) Get(name string, params map[string]float64) (Strategy, bool, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, false, nil
	}
	s, err := f(params)
	return s, true, err
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
