package receipt

import (
	"fmt"
	"sync"

	"github.com/zombor/receipt-parser/internal/fault"
	"github.com/zombor/receipt-parser/internal/scanning"
)

// Registry maps provider names to back ends
type Registry struct {
	mu        sync.RWMutex
	providers map[string]scanning.Provider
	order     []string
}

// NewRegistry creates a Registry holding providers. It panics on a duplicate
// name, which is a wiring bug.
func NewRegistry(providers ...scanning.Provider) *Registry {
	r := &Registry{providers: make(map[string]scanning.Provider)}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a provider under its name
func (r *Registry) Register(p scanning.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, ok := r.providers[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (scanning.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fault.New(fault.NotFound, "unknown provider %q", name).WithDetail("provider", name)
	}
	return p, nil
}

// All returns every provider in registration order
func (r *Registry) All() []scanning.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]scanning.Provider, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.providers[name])
	}
	return all
}
