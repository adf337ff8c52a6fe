// Package memory implements domain.MarketStore in process memory. It backs
// the "memory" store backend for single-node development and the engine
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/akindolabs/pulsemarket/internal/domain"
)

// MarketStore is a mutex-guarded in-memory store. Load and Save exchange
// deep copies so callers never alias the stored maps.
type MarketStore struct {
	mu      sync.Mutex
	markets map[uuid.UUID]*domain.MarketState
}

// NewMarketStore creates an empty in-memory store.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[uuid.UUID]*domain.MarketState)}
}

// Create stores a fresh market, failing if the ID is already present.
func (s *MarketStore) Create(_ context.Context, state *domain.MarketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[state.Params.ID]; ok {
		return fmt.Errorf("memory: create market %s: already exists", state.Params.ID)
	}
	s.markets[state.Params.ID] = state.Clone()
	return nil
}

// Load returns a deep copy of the stored state.
func (s *MarketStore) Load(_ context.Context, id uuid.UUID) (*domain.MarketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("memory: load market %s: %w", id, domain.ErrNotFound)
	}
	return state.Clone(), nil
}

// Save replaces the stored state with a deep copy of the given one.
func (s *MarketStore) Save(_ context.Context, state *domain.MarketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[state.Params.ID]; !ok {
		return fmt.Errorf("memory: save market %s: %w", state.Params.ID, domain.ErrNotFound)
	}
	s.markets[state.Params.ID] = state.Clone()
	return nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
