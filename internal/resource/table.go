// Package resource implements the process-wide typed resource registries
// of spec.md §3/§4.9: a string-keyed, reference-counted table for
// plugin/op-function-shared resources, and a type-keyed table for
// singletons.
package resource

import (
	"sync"
	"sync/atomic"

	"github.com/moduforge/moduforge/internal/merr"
)

type entry struct {
	value    any
	refcount int32
}

// Table is a concurrent-safe, string-keyed, reference-counted resource
// registry. Grounded on the teacher's mcp.Registry lock granularity: a
// single RWMutex guarding a plain map, short critical sections for
// writers, concurrent reads for Get.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{entries: map[string]*entry{}}
}

// Put registers value under id with an initial refcount of 1. Replacing
// an existing id discards its old refcount.
func (t *Table) Put(id string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &entry{value: value, refcount: 1}
}

// Get returns the value registered under id, if present, without
// affecting its refcount.
func (t *Table) Get(id string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// MustGet is a typed convenience wrapper over Get.
func MustGet[T any](t *Table, id string) (T, error) {
	var zero T
	v, ok := t.Get(id)
	if !ok {
		return zero, merr.NewResourceError(merr.ErrResourceMissing, id)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, merr.NewResourceError(merr.ErrResourceWrongType, id)
	}
	return typed, nil
}

// Retain increments id's refcount, for a caller sharing ownership of an
// already-registered resource.
func (t *Table) Retain(id string) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return
	}
	atomic.AddInt32(&e.refcount, 1)
}

// Release decrements id's refcount, removing the entry once it reaches
// zero. Returns whether the entry was removed.
func (t *Table) Release(id string) bool {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	if atomic.AddInt32(&e.refcount, -1) > 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.entries[id]; ok && cur == e {
		delete(t.entries, id)
		return true
	}
	return false
}
