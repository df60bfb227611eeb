// Package transaction implements the ordered step sequence + metadata
// described in spec.md §3/§4.4: the unit of mutation a Runtime dispatches.
package transaction

import (
	"github.com/google/uuid"

	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/step"
	"github.com/moduforge/moduforge/internal/tree"
)

// Reserved metadata keys plugins may inspect, per spec.md §4.4/§6.
const (
	MetaSource        = "source"
	MetaUserID        = "user_id"
	MetaAdminApproved = "admin_approved"

	SourceUndo   = "undo"
	SourceRemote = "remote"
)

// Transaction is an ordered, metadata-tagged sequence of Steps with a
// reference to the state version it was built against. It is a value: no
// in-place mutation after dispatch.
type Transaction struct {
	ID           string
	Steps        []step.Step
	Meta         map[string]any
	StartVersion uint64
}

// New creates an empty transaction against startVersion, with a fresh id.
func New(startVersion uint64) Transaction {
	return Transaction{
		ID:           uuid.NewString(),
		Meta:         map[string]any{},
		StartVersion: startVersion,
	}
}

// Clone copies the transaction, giving the copy its own Steps slice and
// Meta map so later mutation of one does not affect the other (meta "is
// copied, not shared, when cloning a transaction" per spec.md §4.4).
func (t Transaction) Clone() Transaction {
	steps := make([]step.Step, len(t.Steps))
	copy(steps, t.Steps)
	meta := make(map[string]any, len(t.Meta))
	for k, v := range t.Meta {
		meta[k] = v
	}
	return Transaction{ID: t.ID, Steps: steps, Meta: meta, StartVersion: t.StartVersion}
}

// StateView is the read-only slice of State a Builder may consult for
// convenience validation. It intentionally excludes anything that would
// let a Builder mutate state, and avoids an import cycle with the state
// package (which itself depends on transaction).
type StateView interface {
	Tree() *tree.Tree
	Schema() *schema.Schema
}
