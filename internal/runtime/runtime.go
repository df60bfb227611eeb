// Package runtime implements the Runtime of spec.md §4.7: a
// single-writer dispatch loop over an atomically-published State, a
// middleware chain, bounded undo/redo history, and a detached task pool
// for middleware-spawned work. Grounded on the teacher's mcp.Server.Run
// (a goroutine draining a channel under select/ctx.Done) and
// scheduler.Scheduler (goroutine lifecycle, slog field conventions).
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moduforge/moduforge/internal/config"
	"github.com/moduforge/moduforge/internal/event"
	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/metrics"
	"github.com/moduforge/moduforge/internal/state"
	"github.com/moduforge/moduforge/internal/transaction"
)

// ErrNoHistory is returned by Undo/Redo when there is nothing to reverse.
var ErrNoHistory = errors.New("runtime: no history entry available")

// Runtime owns the current State and serializes all writes to it through
// a single goroutine, matching spec.md §5's single-writer concurrency
// model: reads of Current never block on a dispatch in flight.
type Runtime struct {
	current          atomic.Pointer[state.State]
	appendDepthLimit int
	middlewares      []Middleware
	history          *history
	tasks            *taskPool
	events           *event.Bus
	metrics          *metrics.Runtime
	logger           *slog.Logger

	requests chan dispatchRequest
	stop     chan struct{}
	done     chan struct{}
}

type dispatchRequest struct {
	ctx   context.Context
	tx    transaction.Transaction
	reply chan dispatchResult
}

type dispatchResult struct {
	applied *state.Applied
	err     error
}

// New constructs a Runtime seeded with initial and starts its dispatch
// loop. logger and metricsReg may be nil; events may be nil, in which
// case a private unused bus is created so internal Publish calls stay
// unconditional.
func New(initial *state.State, cfg *config.RuntimeConfig, logger *slog.Logger, metricsReg prometheus.Registerer, bus *event.Bus) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = event.New()
	}
	historyLimit := 100
	appendDepthLimit := 10
	taskPoolSize := 0
	namespace := "moduforge"
	metricsEnabled := true
	if cfg != nil {
		historyLimit = cfg.HistoryLimit
		appendDepthLimit = cfg.AppendDepthLimit
		taskPoolSize = cfg.TaskPoolSize
		if cfg.Metrics.Namespace != "" {
			namespace = cfg.Metrics.Namespace
		}
		metricsEnabled = cfg.Metrics.Enabled
	}

	var m *metrics.Runtime
	if metricsEnabled {
		m = metrics.NewRuntime(metricsReg, namespace)
	}

	r := &Runtime{
		appendDepthLimit: appendDepthLimit,
		history:          newHistory(historyLimit),
		tasks:            newTaskPool(taskPoolSize, m),
		events:           bus,
		metrics:          m,
		logger:           logger,
		requests:         make(chan dispatchRequest, 64),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	r.current.Store(initial)
	if m != nil {
		m.CurrentVersion.Set(float64(initial.Version()))
	}
	go r.loop()
	return r
}

// Use registers a middleware. Not safe to call concurrently with Dispatch;
// intended for startup wiring before the Runtime serves traffic.
func (r *Runtime) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// Current returns the most recently published State. Safe for concurrent
// use from any number of readers; never blocks on a dispatch in flight.
func (r *Runtime) Current() *state.State {
	return r.current.Load()
}

// Spawn hands fn off to the detached task pool, for middleware that needs
// to do work without holding up the single-writer loop.
func (r *Runtime) Spawn(fn func(context.Context)) {
	r.tasks.Spawn(fn)
}

func (r *Runtime) loop() {
	defer close(r.done)
	for {
		select {
		case req := <-r.requests:
			r.handle(req)
		case <-r.stop:
			return
		}
	}
}

func (r *Runtime) handle(req dispatchRequest) {
	result := r.dispatchOne(req.ctx, req.tx)
	req.reply <- result
}

// dispatchOne runs one transaction through middleware.Before, the state
// pipeline, history recording, middleware.After and event publication. It
// always executes on the single dispatch-loop goroutine.
func (r *Runtime) dispatchOne(ctx context.Context, tx transaction.Transaction) dispatchResult {
	start := time.Now()
	cur := r.current.Load()

	if err := runBefore(ctx, r.middlewares, &tx); err != nil {
		r.recordOutcome("error", start)
		return dispatchResult{err: err}
	}

	inv, invErr := computeInverse(cur.Tree(), cur.Schema(), tx)

	applied, err := cur.Apply(ctx, tx, r.appendDepthLimit)
	if err != nil {
		r.recordOutcome(outcomeFor(err), start)
		r.logger.Warn("dispatch failed", "error", err)
		if fe, ok := err.(*merr.TransactionFilteredError); ok {
			r.events.Publish(event.Event{Kind: event.KindTransactionFiltered, Payload: event.TransactionFilteredPayload{
				PluginKey: fe.PluginKey, Reason: fe.Reason,
			}})
		}
		return dispatchResult{err: err}
	}

	r.current.Store(applied.State)
	if r.metrics != nil {
		r.metrics.CurrentVersion.Set(float64(applied.State.Version()))
	}

	if invErr == nil {
		r.history.push(historyEntry{version: applied.State.Version(), inverse: inv})
	} else {
		r.logger.Warn("skipping history entry: could not compute inverse", "error", invErr)
	}

	runAfter(ctx, r.middlewares, *applied)

	ids := make([]string, len(applied.Transactions))
	for i, t := range applied.Transactions {
		ids[i] = t.ID
	}
	r.events.Publish(event.Event{Kind: event.KindStateApplied, Payload: event.StateAppliedPayload{
		Version: applied.State.Version(), TxIDs: ids,
	}})

	r.recordOutcome("applied", start)
	return dispatchResult{applied: applied}
}

func outcomeFor(err error) string {
	switch {
	case merr.Code(err) == "TRANSACTION_FILTERED":
		return "filtered"
	case merr.Code(err) == "APPEND_LOOP":
		return "append_loop"
	case merr.Code(err) == "CANCELLED":
		return "cancelled"
	default:
		return "error"
	}
}

func (r *Runtime) recordOutcome(outcome string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.DispatchTotal.WithLabelValues(outcome).Inc()
	r.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	switch outcome {
	case "filtered":
		r.metrics.FilteredTotal.Inc()
	case "append_loop":
		r.metrics.AppendLoopTotal.Inc()
	case "cancelled":
		r.metrics.CancelledTotal.Inc()
	}
}

// Dispatch submits tx to the single-writer loop and waits for the result,
// honoring ctx cancellation both while the request is queued and while
// it runs through State.Apply.
func (r *Runtime) Dispatch(ctx context.Context, tx transaction.Transaction) (*state.Applied, error) {
	reply := make(chan dispatchResult, 1)
	req := dispatchRequest{ctx: ctx, tx: tx, reply: reply}

	if r.metrics != nil {
		r.metrics.QueueDepth.Set(float64(len(r.requests) + 1))
	}

	select {
	case r.requests <- req:
	case <-ctx.Done():
		return nil, &merr.CancelledError{Phase: "queue"}
	case <-r.stop:
		return nil, &merr.CancelledError{Phase: "shutdown"}
	}

	select {
	case res := <-reply:
		return res.applied, res.err
	case <-ctx.Done():
		return nil, &merr.CancelledError{Phase: "wait"}
	case <-r.done:
		select {
		case res := <-reply:
			return res.applied, res.err
		default:
		}
		return nil, &merr.CancelledError{Phase: "shutdown"}
	}
}

// Undo dispatches the inverse of the most recently applied transaction,
// tagged with Meta[MetaSource]=SourceUndo so plugins may special-case it.
// It is a no-op error if there is nothing left to undo.
func (r *Runtime) Undo(ctx context.Context) (*state.Applied, error) {
	entry, ok := r.history.popUndo()
	if !ok {
		return nil, ErrNoHistory
	}
	tx := entry.inverse
	tx.StartVersion = r.current.Load().Version()
	return r.Dispatch(ctx, tx)
}

// UndoTo reverses every retained transaction dispatched after version in
// one step, most recent first, as a single composite transaction tagged
// Meta[MetaSource]=SourceUndo. A no-op error if version is already the
// current version or newer. If history_limit has evicted entries newer
// than version, only the retained entries are reversed, so the tree is
// not brought all the way back to its shape at version.
func (r *Runtime) UndoTo(ctx context.Context, version uint64) (*state.Applied, error) {
	entries := r.history.popUndoTo(version)
	if len(entries) == 0 {
		return nil, ErrNoHistory
	}
	tx := transaction.New(r.current.Load().Version())
	tx.Meta[transaction.MetaSource] = transaction.SourceUndo
	for _, e := range entries {
		tx.Steps = append(tx.Steps, e.inverse.Steps...)
	}
	return r.Dispatch(ctx, tx)
}

// Redo re-dispatches the transaction Undo most recently reversed.
func (r *Runtime) Redo(ctx context.Context) (*state.Applied, error) {
	entry, ok := r.history.popRedo()
	if !ok {
		return nil, ErrNoHistory
	}
	redoTx, err := computeInverse(r.current.Load().Tree(), r.current.Load().Schema(), entry.inverse)
	if err != nil {
		return nil, err
	}
	redoTx.StartVersion = r.current.Load().Version()
	return r.Dispatch(ctx, redoTx)
}

// Shutdown stops the dispatch loop and the task pool, waiting for both to
// drain. Pending Dispatch calls observe ErrCancelled.
func (r *Runtime) Shutdown() {
	close(r.stop)
	<-r.done
	r.tasks.Shutdown()
}
