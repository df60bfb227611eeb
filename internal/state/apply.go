package state

import (
	"context"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/plugin"
	"github.com/moduforge/moduforge/internal/transaction"
	"github.com/moduforge/moduforge/internal/tree"
)

// Applied is the result of a successful Apply: the resulting State plus
// the ordered list of transactions that were actually applied (the
// original plus any appended follow-ups), per spec.md §4.6 step 5.
type Applied struct {
	State        *State
	Transactions []transaction.Transaction
}

// Apply runs the five-phase pipeline of spec.md §4.6: filter, step-apply,
// field-derive, append, return. appendDepthLimit bounds append recursion
// (default 10, per §6); exceeding it fails with AppendLoop and the
// receiver is left untouched — no partial state is ever observable.
func (s *State) Apply(ctx context.Context, tx transaction.Transaction, appendDepthLimit int) (*Applied, error) {
	return s.applyDepth(ctx, tx, appendDepthLimit, 0)
}

func (s *State) applyDepth(ctx context.Context, tx transaction.Transaction, limit, depth int) (*Applied, error) {
	if depth > limit {
		return nil, &merr.AppendLoopError{Depth: depth}
	}
	if err := ctx.Err(); err != nil {
		return nil, &merr.CancelledError{Phase: "filter"}
	}
	if err := s.runFilters(ctx, tx); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, &merr.CancelledError{Phase: "steps"}
	}
	newTree, err := s.applySteps(tx)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, &merr.CancelledError{Phase: "fields"}
	}
	provisional := s.withTreeAndVersion(newTree, s.version+1)
	fields, err := s.deriveFields(tx, provisional)
	if err != nil {
		return nil, err
	}
	provisional.fields = fields

	if err := ctx.Err(); err != nil {
		return nil, &merr.CancelledError{Phase: "append"}
	}
	return s.runAppends(ctx, tx, provisional, limit, depth)
}

// runFilters runs every plugin's filter hook in registry order. A panic
// inside a hook is trapped into PluginPanic rather than unwinding the
// dispatch loop.
func (s *State) runFilters(ctx context.Context, tx transaction.Transaction) (err error) {
	for _, p := range s.registry.Ordered() {
		if p.Filter == nil {
			continue
		}
		ok, reason, hookErr := runFilterHook(p, ctx, tx, s)
		if hookErr != nil {
			return hookErr
		}
		if !ok {
			return &merr.TransactionFilteredError{PluginKey: p.Key, Reason: reason}
		}
	}
	return nil
}

func runFilterHook(p plugin.Plugin, ctx context.Context, tx transaction.Transaction, view plugin.StateView) (ok bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &merr.PluginPanic{PluginKey: p.Key, Hook: "filter", Recovered: r}
		}
	}()
	ok, reason = p.Filter(ctx, tx, view)
	return ok, reason, nil
}

// applySteps replays tx.Steps against the current tree, aborting
// atomically (no partial tree) on the first StepError.
func (s *State) applySteps(tx transaction.Transaction) (*tree.Tree, error) {
	current := s.tree
	for _, st := range tx.Steps {
		next, err := st.Apply(current, s.schema)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// deriveFields invokes each plugin's StateField.Apply in registry order,
// passing the prior value (nil if it was never set); plugins with no
// StateField carry their prior value forward unchanged, if they have one.
func (s *State) deriveFields(tx transaction.Transaction, provisional *State) (map[string]plugin.Resource, error) {
	fields := make(map[string]plugin.Resource, s.registry.Len())
	for _, p := range s.registry.Ordered() {
		prior, _ := s.PluginField(p.Key)
		if p.StateField == nil {
			if v, ok := s.PluginField(p.Key); ok {
				fields[p.Key] = v
			}
			continue
		}
		v, err := runFieldApply(p, tx, prior, s, provisional)
		if err != nil {
			return nil, err
		}
		fields[p.Key] = v
	}
	return fields, nil
}

func runFieldApply(p plugin.Plugin, tx transaction.Transaction, prior plugin.Resource, oldView, newView plugin.StateView) (v plugin.Resource, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &merr.PluginPanic{PluginKey: p.Key, Hook: "field.apply", Recovered: r}
		}
	}()
	v, err = p.StateField.Apply(tx, prior, oldView, newView)
	if err != nil {
		err = merr.NewPluginError(p.Key, "field.apply", err)
	}
	return v, err
}

// runAppends invokes each plugin's append_transaction hook in registry
// order on the provisional state, dispatching any returned follow-up
// transaction recursively (bounded by limit/depth), and collects the
// ordered list of applied transactions.
func (s *State) runAppends(ctx context.Context, tx transaction.Transaction, provisional *State, limit, depth int) (*Applied, error) {
	applied := []transaction.Transaction{tx}
	current := provisional

	for _, p := range provisional.registry.Ordered() {
		if p.Append == nil {
			continue
		}
		extra, err := runAppendHook(p, ctx, tx, s, current)
		if err != nil {
			return nil, err
		}
		if extra == nil {
			continue
		}
		next, err := current.applyDepth(ctx, *extra, limit, depth+1)
		if err != nil {
			return nil, err
		}
		applied = append(applied, next.Transactions...)
		current = next.State
	}

	return &Applied{State: current, Transactions: applied}, nil
}

func runAppendHook(p plugin.Plugin, ctx context.Context, tx transaction.Transaction, oldView, newView plugin.StateView) (extra *transaction.Transaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &merr.PluginPanic{PluginKey: p.Key, Hook: "append_transaction", Recovered: r}
		}
	}()
	extra, err = p.Append(ctx, tx, oldView, newView)
	if err != nil {
		err = merr.NewPluginError(p.Key, "append_transaction", err)
	}
	return extra, err
}
