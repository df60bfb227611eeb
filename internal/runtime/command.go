package runtime

import (
	"context"

	"github.com/moduforge/moduforge/internal/plugin"
	"github.com/moduforge/moduforge/internal/state"
	"github.com/moduforge/moduforge/internal/transaction"
)

// Command builds a transaction from a read-only view of the current
// state, per spec.md §4.7: commands never see a tree under construction,
// only the last published snapshot.
type Command func(view plugin.StateView) (transaction.Transaction, error)

// RunCommand builds a transaction via cmd against the Runtime's current
// state and dispatches it.
func (r *Runtime) RunCommand(ctx context.Context, cmd Command) (*state.Applied, error) {
	tx, err := cmd(r.Current())
	if err != nil {
		return nil, err
	}
	return r.Dispatch(ctx, tx)
}
