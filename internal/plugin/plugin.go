// Package plugin implements the Plugin/StateField contracts of spec.md
// §3/§4.5: composable units of behavior that filter transactions, derive
// their own state, and may append follow-up transactions.
package plugin

import (
	"context"

	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/transaction"
	"github.com/moduforge/moduforge/internal/tree"
)

// Resource is any typed opaque value a plugin's StateField owns.
type Resource = any

// StateView is the slice of State a plugin hook may observe: tree,
// schema, version, and other plugins' derived fields. Defined here
// (rather than importing the state package) because state.State itself
// depends on plugin — state.State satisfies this interface.
type StateView interface {
	Tree() *tree.Tree
	Schema() *schema.Schema
	Version() uint64
	PluginField(key string) (Resource, bool)
}

// StateField is the rule by which a plugin derives and updates its own
// piece of state, addressable through State's plugin_fields mapping by
// the owning plugin's Key.
type StateField interface {
	Init(cfg any, initial StateView) (Resource, error)
	Apply(tx transaction.Transaction, prior Resource, old, new StateView) (Resource, error)
}

// FilterFunc inspects a transaction before it is applied. Returning
// false rejects it with TransactionFiltered; reason is optional context.
type FilterFunc func(ctx context.Context, tx transaction.Transaction, state StateView) (ok bool, reason string)

// AppendFunc may return a follow-up transaction after tx has been
// applied, dispatched recursively up to the configured append depth.
type AppendFunc func(ctx context.Context, tx transaction.Transaction, old, new StateView) (*transaction.Transaction, error)

// Metadata describes a plugin for diagnostics and dependency tracking;
// the engine does not itself enforce Dependencies/Conflicts, it only
// carries them for tooling built on top of Runtime.
type Metadata struct {
	Name         string
	Version      string
	Dependencies []string
	Conflicts    []string
	Tags         []string
}

// Plugin is a named, immutable-after-registration unit of behavior. Key
// indexes its State in plugin_fields and must be unique within one
// Runtime's plugin set.
type Plugin struct {
	Key        string
	Metadata   Metadata
	Priority   int
	StateField StateField // optional
	Filter     FilterFunc // optional
	Append     AppendFunc // optional
}
