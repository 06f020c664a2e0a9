// Package market holds the per-market adapter contract plumbing: a registry
// of known markets and a declarative selector-driven adapter covering the
// common listing/detail site shape.
package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sellsync/market-crawler/internal/catalog"
)

// Factory builds an adapter for one market.
type Factory func() (catalog.Adapter, error)

// Registry maps market identifiers to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a market factory. Registering a duplicate id is a
// programming error.
func (r *Registry) Register(marketID string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[marketID]; exists {
		return fmt.Errorf("market %q already registered", marketID)
	}
	r.factories[marketID] = factory
	return nil
}

// Resolve builds the adapter for marketID.
func (r *Registry) Resolve(marketID string) (catalog.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[marketID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("market %q not found (known: %v)", marketID, r.Known())
	}
	return factory()
}

// Known lists registered market ids, sorted.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
