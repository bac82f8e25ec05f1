package forage

import (
	"encoding/json"
	"sync"
)

// Contract bundles everything the rest of the system needs to work with
// one provider: its card, constructors for the concrete Setup and
// Arguments types, and the response normalizer.
type Contract struct {
	Provider     Provider
	Card         ProviderCard
	NewSetup     func() Setup
	NewArguments func() Arguments

	// Normalize maps a raw provider response into the common document
	// shape. It returns a *NormalizationError when the payload cannot
	// be interpreted.
	Normalize func(raw json.RawMessage) (FetchOutput, error)
}

// Describe returns the provider's static capability card.
func (c Contract) Describe() ProviderCard {
	return c.Card
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and auto-registers the built-in providers.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
		registerBuiltins(global)
	})
	return global
}

// Registry holds the known provider contracts.
type Registry struct {
	mu        sync.RWMutex
	contracts map[Provider]Contract
	order     []Provider // preserves registration order
}

// NewRegistry creates an empty registry. Most callers want Global.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[Provider]Contract),
	}
}

// Register adds a provider contract. A contract registered under an
// existing tag overwrites the previous one.
func (r *Registry) Register(c Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[c.Provider]; !exists {
		r.order = append(r.order, c.Provider)
	}
	r.contracts[c.Provider] = c
}

// Lookup returns the contract registered for the provider tag.
func (r *Registry) Lookup(p Provider) (Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[p]
	return c, ok
}

// Has returns true if the provider tag is registered.
func (r *Registry) Has(p Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.contracts[p]
	return ok
}

// All returns all registered contracts in registration order.
// Used by the GET /api/providers endpoint.
func (r *Registry) All() []Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Contract, 0, len(r.order))
	for _, p := range r.order {
		result = append(result, r.contracts[p])
	}
	return result
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contracts)
}
