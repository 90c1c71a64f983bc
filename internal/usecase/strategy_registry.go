package usecase

import (
	"fmt"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

// StrategyRegistry maps a provider to its strategy. It is built once at start-up
// and never mutated afterwards, so concurrent lookups need no locking.
type StrategyRegistry struct {
	strategies map[model.Provider]adapter.ProviderStrategy
}

// NewStrategyRegistry rejects nil strategies and duplicate providers.
func NewStrategyRegistry(strategies ...adapter.ProviderStrategy) (*StrategyRegistry, error) {
	m := make(map[model.Provider]adapter.ProviderStrategy, len(strategies))
	for _, s := range strategies {
		if s == nil {
			return nil, fmt.Errorf("%w: nil payment strategy", domain.ErrInvalidArgument)
		}
		if _, dup := m[s.Provider()]; dup {
			return nil, fmt.Errorf("%w: duplicate strategy for %s", domain.ErrInvalidArgument, s.Provider())
		}
		m[s.Provider()] = s
	}
	return &StrategyRegistry{strategies: m}, nil
}

// Resolve returns the strategy for p or domain.ErrUnconfiguredProvider.
func (r *StrategyRegistry) Resolve(p model.Provider) (adapter.ProviderStrategy, error) {
	if r != nil {
		if s, ok := r.strategies[p]; ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnconfiguredProvider, p)
}

// Providers lists the configured providers.
func (r *StrategyRegistry) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(r.strategies))
	for p := range r.strategies {
		out = append(out, p)
	}
	return out
}
