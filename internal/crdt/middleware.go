package crdt

import (
	"context"
	"log/slog"

	"github.com/moduforge/moduforge/internal/state"
	"github.com/moduforge/moduforge/internal/transaction"
)

// Spawner hands a function off to run outside the caller's goroutine.
// *runtime.Runtime's Spawn method satisfies this, which is also how it
// is declared structurally here to avoid crdt importing runtime.
type Spawner interface {
	Spawn(func(context.Context))
}

// RoomMiddleware is the runtime.Middleware the bridge uses to forward
// locally-applied steps into a room's replicated structure, per spec.md
// §4.7's "a middleware may observe the applied transactions (e.g. the
// CRDT bridge forwards them)." Transactions already tagged
// Meta[source]=remote are skipped — they were reconstructed from this
// same room's ingest_remote and must not be projected back into it.
// Projection runs on the Spawner's task pool so it never holds up the
// dispatch loop; a projection failure is logged, not returned, matching
// "errors inside after-hooks are logged and do not revert state."
type RoomMiddleware struct {
	Bridge *Bridge
	RoomID string
	Spawn  Spawner
	Logger *slog.Logger
}

func (m *RoomMiddleware) Before(ctx context.Context, tx *transaction.Transaction) error {
	return nil
}

func (m *RoomMiddleware) After(ctx context.Context, applied state.Applied) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, tx := range applied.Transactions {
		if tx.Meta[transaction.MetaSource] == transaction.SourceRemote {
			continue
		}
		steps := tx.Steps
		m.Spawn.Spawn(func(context.Context) {
			if _, err := m.Bridge.ApplyLocal(m.RoomID, steps); err != nil {
				logger.Warn("crdt: projecting local transaction into room failed", "room", m.RoomID, "error", err)
			}
		})
	}
}
