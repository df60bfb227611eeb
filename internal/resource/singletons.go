package resource

import (
	"reflect"
	"sync"

	"github.com/moduforge/moduforge/internal/merr"
)

// Singletons is the type-keyed flavor of Table, for process-wide values
// like the compiled schema or the metrics registry where one instance
// per type (rather than per string id) is the natural shape.
type Singletons struct {
	mu    sync.RWMutex
	items map[reflect.Type]any
}

// NewSingletons creates an empty Singletons table.
func NewSingletons() *Singletons {
	return &Singletons{items: map[reflect.Type]any{}}
}

// Put registers value keyed by its own concrete type.
func (s *Singletons) Put(value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[reflect.TypeOf(value)] = value
}

// SingletonOf retrieves the value registered for type T.
func SingletonOf[T any](s *Singletons) (T, error) {
	var zero T
	t := reflect.TypeOf(zero)
	s.mu.RLock()
	v, ok := s.items[t]
	s.mu.RUnlock()
	if !ok {
		return zero, merr.NewResourceError(merr.ErrResourceMissing, t.String())
	}
	typed, ok := v.(T)
	if !ok {
		return zero, merr.NewResourceError(merr.ErrResourceWrongType, t.String())
	}
	return typed, nil
}
