package provider

import (
	"fmt"
	"sync"
)

// Registry holds the ordered set of registered adapters and routes requests
// to one of them. The default adapter is injected configuration rather than
// an artifact of registration order; when the default cannot serve a
// modality, the first registered adapter that can wins. The registry is
// read-mostly after startup and safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	adapters    map[string]Adapter
	defaultName string
}

// NewRegistry creates a registry whose default adapter is defaultName.
// The name does not need to be registered yet.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		adapters:    make(map[string]Adapter),
		defaultName: defaultName,
	}
}

// Register adds an adapter. Registering the same name twice replaces the
// earlier adapter but keeps its position in the selection order.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
}

// Names returns the registered adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SelectFor picks the adapter for a request. If explicitName is non-empty it
// is looked up exactly and its capability checked. Otherwise the configured
// default is used when it supports the modality, else the first registered
// adapter that does.
func (r *Registry) SelectFor(m Modality, explicitName string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if explicitName != "" {
		a, ok := r.adapters[explicitName]
		if !ok {
			return nil, fmt.Errorf("%q: %w", explicitName, ErrProviderNotFound)
		}
		if !a.Supports(m) {
			return nil, fmt.Errorf("%q does not support %q: %w", explicitName, m, ErrUnsupportedModality)
		}
		return a, nil
	}

	if a, ok := r.adapters[r.defaultName]; ok && a.Supports(m) {
		return a, nil
	}
	for _, name := range r.order {
		if a := r.adapters[name]; a.Supports(m) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", m, ErrNoProviderForModality)
}
