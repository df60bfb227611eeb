package plugin

import "sort"

// Registry is the small, explicit, sorted slice of Plugins built once at
// state construction. Grounded on the teacher's validation.Registry: a
// deterministic slice, never a map, so iteration order never depends on
// Go's unordered map iteration.
type Registry struct {
	plugins []Plugin
}

// NewRegistry sorts plugins by descending Priority, ties broken by
// registration order (spec.md §9 Open Question (c), decided in favor of
// registration order: deterministic and simple).
func NewRegistry(plugins []Plugin) *Registry {
	indexed := make([]Plugin, len(plugins))
	copy(indexed, plugins)
	order := make([]int, len(indexed))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return indexed[order[a]].Priority > indexed[order[b]].Priority
	})
	sorted := make([]Plugin, len(indexed))
	for i, idx := range order {
		sorted[i] = indexed[idx]
	}
	return &Registry{plugins: sorted}
}

// Ordered returns plugins in their fixed execution order (descending
// priority, registration order breaking ties). Callers must not mutate
// the returned slice's elements' shared StateField/Filter/Append values,
// but may freely read them.
func (r *Registry) Ordered() []Plugin {
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int { return len(r.plugins) }

// ByKey returns the plugin with the given Key, if present.
func (r *Registry) ByKey(key string) (Plugin, bool) {
	for _, p := range r.plugins {
		if p.Key == key {
			return p, true
		}
	}
	return Plugin{}, false
}
