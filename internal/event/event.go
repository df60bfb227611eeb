// Package event provides the small synchronous publish/subscribe bus the
// runtime and CRDT bridge use to broadcast the events named in spec.md
// §6 (StateApplied, TransactionFiltered, RoomCreated, ...).
package event

import "sync"

// Kind identifies an event type.
type Kind string

const (
	KindStateApplied        Kind = "StateApplied"
	KindTransactionFiltered Kind = "TransactionFiltered"
	KindRoomCreated         Kind = "RoomCreated"
	KindRoomInitialized     Kind = "RoomInitialized"
	KindRoomShutting        Kind = "RoomShutting"
	KindRoomOffline         Kind = "RoomOffline"
	KindSyncMismatch        Kind = "SyncMismatch"
	KindExtensionLoaded     Kind = "ExtensionLoaded"
	KindExtensionUnloaded   Kind = "ExtensionUnloaded"
)

// Event is the envelope delivered to handlers. Payload is one of the
// *Payload structs below, matched by Kind.
type Event struct {
	Kind    Kind
	Payload any
}

// StateAppliedPayload corresponds to StateApplied{version, tx_ids}.
type StateAppliedPayload struct {
	Version uint64
	TxIDs   []string
}

// TransactionFilteredPayload corresponds to TransactionFiltered{plugin_key, reason}.
type TransactionFilteredPayload struct {
	PluginKey string
	Reason    string
}

// RoomPayload covers RoomCreated/Initialized/Shutting/Offline, which all
// carry just the room id.
type RoomPayload struct {
	RoomID string
}

// SyncMismatchPayload corresponds to SyncMismatch{room, detail}.
type SyncMismatchPayload struct {
	RoomID string
	Detail string
}

// ExtensionPayload corresponds to ExtensionLoaded/Unloaded{name}.
type ExtensionPayload struct {
	Name string
}

// Handler receives one event at a time, always on the goroutine that
// called Bus.Publish. Handlers that may block should hand work off
// (e.g. to a runtime task pool) rather than doing it inline.
type Handler func(Event)

// Bus is a minimal ordered pub/sub registry. Publish calls handlers in
// registration order, synchronously, matching the deterministic
// registration-order contract used for plugins and middleware elsewhere
// in this module.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns an unsubscribe function.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.handlers)
	b.handlers = append(b.handlers, h)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}
}

// Publish delivers ev to every still-subscribed handler in registration
// order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}
