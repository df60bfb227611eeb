package runtime

import (
	"context"

	"github.com/moduforge/moduforge/internal/state"
	"github.com/moduforge/moduforge/internal/transaction"
)

// Middleware wraps every dispatch. Before hooks run in registration order
// and may mutate or reject the transaction before it reaches State.Apply;
// After hooks run in reverse registration order once the transaction has
// committed, mirroring the wrap/unwrap order of a standard HTTP middleware
// chain.
type Middleware interface {
	Before(ctx context.Context, tx *transaction.Transaction) error
	After(ctx context.Context, applied state.Applied)
}

func runBefore(ctx context.Context, mws []Middleware, tx *transaction.Transaction) error {
	for _, mw := range mws {
		if err := mw.Before(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func runAfter(ctx context.Context, mws []Middleware, applied state.Applied) {
	for i := len(mws) - 1; i >= 0; i-- {
		mws[i].After(ctx, applied)
	}
}
