// Package registry holds the immutable mapping from stable model
// identifiers to their backend adapters. It is built once at startup from
// configuration and is read-only afterwards, so lookups need no locking.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/vocoip/mcp-test/internal/core"
)

// Registry maps model identifiers to adapters. The zero value is not
// usable; construct with New.
type Registry struct {
	adapters map[string]core.Adapter
	// order preserves configuration insertion order for List.
	order []string
}

// New builds a registry from adapters in the given order. Construction
// fails on an empty identifier or a duplicate identifier; a duplicate is a
// configuration error, not a runtime one, and the process must not start.
func New(adapters []core.Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]core.Adapter, len(adapters)),
		order:    make([]string, 0, len(adapters)),
	}

	for _, a := range adapters {
		id := a.Identifier()
		if id == "" {
			return nil, fmt.Errorf("adapter with empty model identifier")
		}
		if _, exists := r.adapters[id]; exists {
			return nil, fmt.Errorf("duplicate model identifier %q", id)
		}
		r.adapters[id] = a
		r.order = append(r.order, id)
		slog.Info("model registered", "model", id)
	}

	return r, nil
}

// Resolve returns the adapter for the identifier, or an unknown_model error.
func (r *Registry) Resolve(model string) (core.Adapter, error) {
	a, ok := r.adapters[model]
	if !ok {
		return nil, core.NewUnknownModelError(model)
	}
	return a, nil
}

// List returns all registered identifiers in insertion order.
func (r *Registry) List() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered models.
func (r *Registry) Count() int {
	return len(r.order)
}
