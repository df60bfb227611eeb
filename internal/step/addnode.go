package step

import (
	"encoding/json"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/tree"
)

// AddNode inserts Nodes (a node plus any of its own descendants, see
// tree.Add) as children of ParentID at Position.
type AddNode struct {
	ParentID string
	Position *int
	Nodes    []tree.Node
}

func (AddNode) Kind() string { return "add_node" }

func (s AddNode) Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error) {
	parent := t.Get(s.ParentID)
	if parent == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "parent "+s.ParentID+" not found")
	}

	nt, err := t.Add(s.ParentID, s.Position, s.Nodes)
	if err != nil {
		return nil, err
	}

	resultTypes := childTypes(nt, nt.Children(s.ParentID))
	if !sch.ValidateFragment(parent.TypeName, resultTypes) {
		return nil, merr.NewStepError(merr.ErrContentMismatch, "", "resulting content of "+s.ParentID+" does not match schema")
	}
	return nt, nil
}

func (s AddNode) Invert(pre *tree.Tree) Step {
	ids := make([]string, 0, len(s.Nodes))
	// only the top-level inserted ids (not referenced by another new
	// node) need to be removed; tree.Remove takes care of descendants.
	referenced := map[string]bool{}
	byID := map[string]bool{}
	for _, n := range s.Nodes {
		byID[n.ID] = true
	}
	for _, n := range s.Nodes {
		for _, c := range n.Content {
			if byID[c] {
				referenced[c] = true
			}
		}
	}
	for _, n := range s.Nodes {
		if !referenced[n.ID] {
			ids = append(ids, n.ID)
		}
	}
	return RemoveNode{ParentID: s.ParentID, IDs: ids}
}

func (s AddNode) Map(m PositionMap) (Step, bool) {
	if m.isRemoved(s.ParentID) {
		return nil, false
	}
	return s, true
}

func (s AddNode) MarshalJSON() ([]byte, error) {
	type alias AddNode
	return json.Marshal(alias(s))
}

func init() {
	Register("add_node", func(data []byte) (Step, error) {
		var s AddNode
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
}
