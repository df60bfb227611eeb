package transaction

import (
	"github.com/google/uuid"

	"github.com/moduforge/moduforge/internal/step"
	"github.com/moduforge/moduforge/internal/tree"
)

// Builder assembles a Transaction by chaining step constructors. It may
// read the starting StateView for convenience validation but never
// mutates it, per spec.md §4.4.
type Builder struct {
	view  StateView
	tx    Transaction
	early error // first convenience-validation failure, surfaced by Build
}

// NewBuilder creates a Builder against the given read-only view and
// starting version.
func NewBuilder(view StateView, startVersion uint64) *Builder {
	return &Builder{view: view, tx: New(startVersion)}
}

func (b *Builder) fail(err error) *Builder {
	if b.early == nil {
		b.early = err
	}
	return b
}

// AddNode appends an AddNode step, minting ids via uuid for any Nodes
// entry whose ID is empty.
func (b *Builder) AddNode(parentID string, position *int, nodes []tree.Node) *Builder {
	for i, n := range nodes {
		if n.ID == "" {
			nodes[i].ID = uuid.NewString()
		}
	}
	if b.view != nil && b.view.Tree() != nil && b.view.Tree().Get(parentID) == nil {
		return b.fail(errMissingParent(parentID))
	}
	b.tx.Steps = append(b.tx.Steps, step.AddNode{ParentID: parentID, Position: position, Nodes: nodes})
	return b
}

// RemoveNode appends a RemoveNode step.
func (b *Builder) RemoveNode(parentID string, ids []string) *Builder {
	b.tx.Steps = append(b.tx.Steps, step.RemoveNode{ParentID: parentID, IDs: ids})
	return b
}

// MoveNode appends a MoveNode step.
func (b *Builder) MoveNode(sourceParent, targetParent, id string, position *int) *Builder {
	b.tx.Steps = append(b.tx.Steps, step.MoveNode{SourceParent: sourceParent, TargetParent: targetParent, ID: id, Position: position})
	return b
}

// SetAttrs appends a SetAttrs step.
func (b *Builder) SetAttrs(id string, changes map[string]any) *Builder {
	b.tx.Steps = append(b.tx.Steps, step.SetAttrs{ID: id, Changes: changes})
	return b
}

// AddMark appends an AddMark step.
func (b *Builder) AddMark(id string, marks []tree.Mark) *Builder {
	b.tx.Steps = append(b.tx.Steps, step.AddMark{ID: id, Marks: marks})
	return b
}

// RemoveMark appends a RemoveMark step.
func (b *Builder) RemoveMark(id string, markTypes []string) *Builder {
	b.tx.Steps = append(b.tx.Steps, step.RemoveMark{ID: id, MarkTypes: markTypes})
	return b
}

// Step appends an arbitrary, already-constructed step (used for
// plugin-defined step kinds the builder has no dedicated method for).
func (b *Builder) Step(s step.Step) *Builder {
	b.tx.Steps = append(b.tx.Steps, s)
	return b
}

// SetMeta sets a metadata key.
func (b *Builder) SetMeta(key string, value any) *Builder {
	b.tx.Meta[key] = value
	return b
}

// Build finalizes the transaction. err is non-nil only if a convenience
// validation performed during building failed (e.g. an obviously-missing
// parent); schema/step-level validation still happens at apply time
// regardless.
func (b *Builder) Build() (Transaction, error) {
	if b.early != nil {
		return Transaction{}, b.early
	}
	return b.tx, nil
}

func errMissingParent(id string) error {
	return &builderError{parentID: id}
}

type builderError struct{ parentID string }

func (e *builderError) Error() string {
	return "transaction builder: parent " + e.parentID + " not found in starting state"
}
