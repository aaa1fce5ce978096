// Package provider holds the adapter registry and the shared daily-synthesis
// algorithm used by adapters whose upstream only reports monthly totals.
package provider

import (
	"sort"
	"strings"

	"github.com/cloudlens/cost-ingest-go/internal/domain/repository"
)

// Registry resolves a provider identifier, or any of its known aliases, to
// exactly one adapter instance. Lookup is case-insensitive and returns nil
// for unknown identifiers; callers treat nil as "unsupported provider".
type Registry struct {
	adapters map[string]repository.ProviderAdapter
	// canonical maps every known identifier (including aliases) back to the
	// primary provider id, so breaker state keys stay stable.
	canonical map[string]string
}

// NewRegistry creates an empty registry. Adapters are registered once at
// startup.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[string]repository.ProviderAdapter),
		canonical: make(map[string]string),
	}
}

// Register binds an adapter to a provider id and its aliases.
func (r *Registry) Register(id string, adapter repository.ProviderAdapter, aliases ...string) {
	key := strings.ToLower(strings.TrimSpace(id))
	r.adapters[key] = adapter
	r.canonical[key] = key
	for _, alias := range aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		r.adapters[a] = adapter
		r.canonical[a] = key
	}
}

// Lookup returns the adapter for id or nil when unsupported.
func (r *Registry) Lookup(id string) repository.ProviderAdapter {
	return r.adapters[strings.ToLower(strings.TrimSpace(id))]
}

// Canonical returns the primary provider id for any known identifier, or the
// lowercased input when unknown.
func (r *Registry) Canonical(id string) string {
	key := strings.ToLower(strings.TrimSpace(id))
	if c, ok := r.canonical[key]; ok {
		return c
	}
	return key
}

// Providers lists the registered primary identifiers, sorted.
func (r *Registry) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.canonical {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
