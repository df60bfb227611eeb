package crdt

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/moduforge/moduforge/internal/event"
	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/metrics"
	"github.com/moduforge/moduforge/internal/state"
	"github.com/moduforge/moduforge/internal/step"
	"github.com/moduforge/moduforge/internal/transaction"
	"github.com/moduforge/moduforge/internal/tree"
)

// Dispatcher is the subset of *runtime.Runtime the bridge needs to
// submit a synthetic transaction reconstructed from a remote update.
// Declared structurally here (rather than importing internal/runtime)
// so the bridge stays usable without pulling in the dispatch loop.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx transaction.Transaction) (*state.Applied, error)
}

// StrictMode is reserved for spec.md §9 Open Question (b): a future
// version could use it to reject schema-drifted remote ops outright
// instead of logging and dropping them via SyncMismatch. Not read
// anywhere yet — schema drift handling currently always degrades
// gracefully, matching the decision recorded in DESIGN.md.
var StrictMode = false

// Bridge owns every room's replicated structure, keyed by room id.
// Grounded on spec.md §4.8/§5: one *room per id in a sync.Map, per-room
// mutex for the local-apply/remote-ingest exclusive section, backoff
// retry around remote ingest so one bad update degrades gracefully
// instead of taking the room offline.
type Bridge struct {
	rooms      sync.Map // string -> *room
	metrics    *metrics.Bridge
	events     *event.Bus
	maxRetries uint64
}

// NewBridge creates an empty Bridge. m and bus may be nil.
func NewBridge(m *metrics.Bridge, bus *event.Bus) *Bridge {
	if bus == nil {
		bus = event.New()
	}
	return &Bridge{metrics: m, events: bus, maxRetries: 5}
}

func (b *Bridge) room(roomID string) (*room, error) {
	v, ok := b.rooms.Load(roomID)
	if !ok {
		return nil, merr.NewRoomError(merr.ErrRoomNotFound, roomID)
	}
	return v.(*room), nil
}

// InitRoom creates and initializes a room for replicaID, seeding it by
// projecting initialTree as a sequence of create-node ops (spec.md
// §4.8's init_room contract) so the replicated structure starts in sync
// with the runtime's actual current tree instead of empty. initialTree
// may be nil for a room with no starting content. Calling it twice for
// the same room id fails with ErrRoomAlreadyExists.
func (b *Bridge) InitRoom(roomID, replicaID string, initialTree *tree.Tree) error {
	r := newRoom(roomID, replicaID)
	if _, loaded := b.rooms.LoadOrStore(roomID, r); loaded {
		return merr.NewRoomError(merr.ErrRoomAlreadyExists, roomID)
	}
	if b.metrics != nil {
		b.metrics.RoomsActive.Inc()
	}
	b.events.Publish(event.Event{Kind: event.KindRoomCreated, Payload: event.RoomPayload{RoomID: roomID}})

	r.mu.Lock()
	seedOps := r.seedTree(initialTree)
	for _, op := range seedOps {
		r.opLog.ReplaceOrInsert(op)
	}
	r.state = roomInitialized
	r.mu.Unlock()
	b.events.Publish(event.Event{Kind: event.KindRoomInitialized, Payload: event.RoomPayload{RoomID: roomID}})
	return nil
}

// AttachRuntime binds roomID to d, so future IngestRemote calls submit
// their reconstructed synthetic transaction to d instead of only
// updating the replicated structure locally. Call after InitRoom.
func (b *Bridge) AttachRuntime(roomID string, d Dispatcher) error {
	r, err := b.room(roomID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.dispatcher = d
	r.mu.Unlock()
	return nil
}

// ApplyLocal projects locally-committed steps into roomID's replicated
// structure and returns the ops produced, for broadcast to other
// replicas.
func (b *Bridge) ApplyLocal(roomID string, steps []step.Step) ([]Op, error) {
	r, err := b.room(roomID)
	if err != nil {
		return nil, err
	}
	if r.currentState() == roomShutting {
		return nil, merr.NewRoomError(merr.ErrRoomShutting, roomID)
	}
	ops := r.applyLocal(steps)
	if b.metrics != nil {
		b.metrics.LocalOpsTotal.Add(float64(len(ops)))
	}
	return ops, nil
}

// IngestRemote merges ops received from another replica, then (if a
// Dispatcher is attached via AttachRuntime) submits the reconstructed
// Steps as a Transaction tagged Meta[source]=remote so the owning
// Runtime's Tree, plugins and history observe the change exactly like a
// local transaction. A transient merge failure is retried with
// exponential backoff; if every attempt fails, or the reconstructed
// transaction fails to dispatch (e.g. schema drift against an unknown
// remote node type), the bridge emits SyncMismatch and drops that
// update rather than taking the room offline.
func (b *Bridge) IngestRemote(ctx context.Context, roomID string, ops []Op) error {
	r, err := b.room(roomID)
	if err != nil {
		return err
	}
	if r.currentState() == roomShutting {
		return merr.NewRoomError(merr.ErrRoomShutting, roomID)
	}

	var steps []step.Step
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.maxRetries), ctx)
	applyErr := backoff.Retry(func() error {
		s, err := r.ingestRemoteChecked(ops)
		if err != nil {
			return err
		}
		steps = s
		return nil
	}, policy)
	if applyErr != nil {
		b.reportSyncMismatch(roomID, applyErr)
		return merr.NewSyncMismatchError(roomID, applyErr.Error(), applyErr)
	}
	if b.metrics != nil {
		b.metrics.RemoteOpsTotal.Add(float64(len(ops)))
	}

	if r.dispatcher == nil || len(steps) == 0 {
		return nil
	}
	tx := transaction.New(0)
	tx.Meta[transaction.MetaSource] = transaction.SourceRemote
	tx.Steps = steps
	if _, err := r.dispatcher.Dispatch(ctx, tx); err != nil {
		b.reportSyncMismatch(roomID, err)
	}
	return nil
}

func (b *Bridge) reportSyncMismatch(roomID string, cause error) {
	if b.metrics != nil {
		b.metrics.SyncMismatches.Inc()
	}
	detail := cause.Error()
	b.events.Publish(event.Event{Kind: event.KindSyncMismatch, Payload: event.SyncMismatchPayload{RoomID: roomID, Detail: detail}})
}

func (r *room) ingestRemoteChecked(ops []Op) (steps []step.Step, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("crdt: panic applying remote ops: %v", rec)
		}
	}()
	steps = r.ingestRemote(ops)
	return steps, nil
}

// ShutdownRoom transitions roomID to Shutting, emits RoomShutting, then
// drops it — a subsequent InitRoom with the same id is a fresh room.
func (b *Bridge) ShutdownRoom(roomID string) error {
	r, err := b.room(roomID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.state = roomShutting
	r.mu.Unlock()
	b.events.Publish(event.Event{Kind: event.KindRoomShutting, Payload: event.RoomPayload{RoomID: roomID}})
	b.rooms.Delete(roomID)
	if b.metrics != nil {
		b.metrics.RoomsActive.Dec()
	}
	return nil
}
