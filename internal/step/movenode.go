package step

import (
	"encoding/json"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/tree"
)

// MoveNode atomically reparents ID from SourceParent to TargetParent.
type MoveNode struct {
	SourceParent string
	TargetParent string
	ID           string
	Position     *int
}

func (MoveNode) Kind() string { return "move_node" }

func (s MoveNode) Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error) {
	if s.ID == s.TargetParent {
		return nil, merr.NewStepError(merr.ErrCycle, "", "cannot move a node under itself")
	}
	src := t.Get(s.SourceParent)
	dst := t.Get(s.TargetParent)
	if src == nil || dst == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "source or target parent not found")
	}

	nt, err := t.Move(s.SourceParent, s.TargetParent, s.ID, s.Position)
	if err != nil {
		return nil, err
	}

	srcTypes := childTypes(nt, nt.Children(s.SourceParent))
	if !sch.ValidateFragment(src.TypeName, srcTypes) {
		return nil, merr.NewStepError(merr.ErrContentMismatch, "", "resulting content of "+s.SourceParent+" does not match schema")
	}
	dstTypes := childTypes(nt, nt.Children(s.TargetParent))
	if !sch.ValidateFragment(dst.TypeName, dstTypes) {
		return nil, merr.NewStepError(merr.ErrContentMismatch, "", "resulting content of "+s.TargetParent+" does not match schema")
	}
	return nt, nil
}

func (s MoveNode) Invert(pre *tree.Tree) Step {
	content := pre.Children(s.SourceParent)
	var position *int
	for i, id := range content {
		if id == s.ID {
			idx := i
			position = &idx
			break
		}
	}
	return MoveNode{SourceParent: s.TargetParent, TargetParent: s.SourceParent, ID: s.ID, Position: position}
}

func (s MoveNode) Map(m PositionMap) (Step, bool) {
	if m.isRemoved(s.ID) || m.isRemoved(s.SourceParent) || m.isRemoved(s.TargetParent) {
		return nil, false
	}
	return s, true
}

func (s MoveNode) MarshalJSON() ([]byte, error) {
	type alias MoveNode
	return json.Marshal(alias(s))
}

func init() {
	Register("move_node", func(data []byte) (Step, error) {
		var s MoveNode
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
}
