package crdt

import "sync"

// LWWEntry is one last-write-wins register value, wire-safe and
// mergeable: the write with the Greater ID wins, independent of arrival
// order, giving the map's Merge the same
// commutative/associative/idempotent guarantee gocrdt.GCounter's Merge
// documents for counters, applied here to map entries instead.
type LWWEntry struct {
	ID    ID
	Value any
}

// LWWMap is a last-write-wins register map, used for a tree node's attrs
// and marks: each key converges independently to the value written with
// the highest ID.
type LWWMap struct {
	mu      sync.Mutex
	entries map[string]LWWEntry
}

// NewLWWMap creates an empty map.
func NewLWWMap() *LWWMap {
	return &LWWMap{entries: map[string]LWWEntry{}}
}

// Set writes value for key under id, winning over any existing entry
// with a smaller ID. A nil value with the winning ID still counts as a
// write (it represents a deletion that must itself win LWW conflicts).
func (m *LWWMap) Set(key string, value any, id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[key]; ok && !id.Greater(cur.ID) {
		return
	}
	m.entries[key] = LWWEntry{ID: id, Value: value}
}

// Get returns the current value for key.
func (m *LWWMap) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Snapshot returns every key's current winning entry, for merging into
// another replica or serializing over the wire.
func (m *LWWMap) Snapshot() map[string]LWWEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]LWWEntry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Merge folds remote entries in, keeping the Greater ID per key. Merging
// the same snapshot twice is a no-op (idempotent), and merge order
// doesn't affect the result (commutative/associative), satisfying the
// CRDT contract.
func (m *LWWMap) Merge(remote map[string]LWWEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range remote {
		if cur, ok := m.entries[k]; ok && !e.ID.Greater(cur.ID) {
			continue
		}
		m.entries[k] = e
	}
}
