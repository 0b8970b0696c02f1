// Package adapters provides a factory for creating backend adapter
// instances from configuration.
package adapters

import (
	"fmt"
	"sort"

	"github.com/vocoip/mcp-test/config"
	"github.com/vocoip/mcp-test/internal/core"
)

// Builder creates an adapter instance from a backend configuration.
type Builder func(cfg config.BackendConfig) (core.Adapter, error)

// builders holds all registered adapter builders keyed by backend type.
var builders = make(map[string]Builder)

// Register allows adapter packages to register themselves.
// This should be called from init() functions in adapter packages.
func Register(adapterType string, builder Builder) {
	builders[adapterType] = builder
}

// Create instantiates an adapter based on configuration.
func Create(cfg config.BackendConfig) (core.Adapter, error) {
	builder, ok := builders[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown backend type: %q (registered: %v)", cfg.Type, ListRegistered())
	}
	return builder(cfg)
}

// BuildAll creates one adapter per backend config, preserving order.
// Any single failure aborts the build; a misconfigured backend must stop
// the process rather than silently drop a model.
func BuildAll(cfgs []config.BackendConfig) ([]core.Adapter, error) {
	out := make([]core.Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		a, err := Create(cfg)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", cfg.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// ListRegistered returns all registered adapter types, sorted.
func ListRegistered() []string {
	types := make([]string, 0, len(builders))
	for t := range builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
