package step

import (
	"encoding/json"
	"sort"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/tree"
)

// RemoveNode deletes IDs (and their descendants) from ParentID's content.
type RemoveNode struct {
	ParentID string
	IDs      []string
}

func (RemoveNode) Kind() string { return "remove_node" }

func (s RemoveNode) Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error) {
	parent := t.Get(s.ParentID)
	if parent == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "parent "+s.ParentID+" not found")
	}
	nt, err := t.Remove(s.ParentID, s.IDs)
	if err != nil {
		return nil, err
	}
	resultTypes := childTypes(nt, nt.Children(s.ParentID))
	if !sch.ValidateFragment(parent.TypeName, resultTypes) {
		return nil, merr.NewStepError(merr.ErrContentMismatch, "", "resulting content of "+s.ParentID+" does not match schema")
	}
	return nt, nil
}

func (s RemoveNode) Invert(pre *tree.Tree) Step {
	// each removed id is a direct child of ParentID (tree.Remove requires
	// it), so its own original index among pre's content is well defined.
	// Reinsert one id's subtree at a time, in ascending original-index
	// order: when group i is reinserted, every id that originally sat
	// before it is already present (either it survived the removal or it
	// was reinserted by an earlier group), so its original index is
	// exactly its insertion index into the content built up so far.
	content := pre.Children(s.ParentID)
	removedSet := map[string]bool{}
	for _, id := range s.IDs {
		removedSet[id] = true
	}

	var groups []reinsertGroup
	for i, id := range content {
		if !removedSet[id] {
			continue
		}
		groups = append(groups, reinsertGroup{Position: i, Nodes: flattenSubtree(pre, id)})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Position < groups[j].Position })

	return ReinsertNodes{ParentID: s.ParentID, Groups: groups}
}

// flattenSubtree collects id and its descendants, parent before child, as
// tree.Add expects.
func flattenSubtree(pre *tree.Tree, id string) []tree.Node {
	var flat []tree.Node
	var collect func(id string)
	collect = func(id string) {
		n := pre.Get(id)
		if n == nil {
			return
		}
		flat = append(flat, *n)
		for _, c := range n.Content {
			collect(c)
		}
	}
	collect(id)
	return flat
}

func (s RemoveNode) Map(m PositionMap) (Step, bool) {
	if m.isRemoved(s.ParentID) {
		return nil, false
	}
	var remaining []string
	for _, id := range s.IDs {
		if !m.isRemoved(id) {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return nil, false
	}
	return RemoveNode{ParentID: s.ParentID, IDs: remaining}, true
}

func (s RemoveNode) MarshalJSON() ([]byte, error) {
	type alias RemoveNode
	return json.Marshal(alias(s))
}

func init() {
	Register("remove_node", func(data []byte) (Step, error) {
		var s RemoveNode
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
	Register("reinsert_nodes", func(data []byte) (Step, error) {
		var s ReinsertNodes
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
}

// reinsertGroup is one excised subtree going back to its own original
// position among ParentID's content.
type reinsertGroup struct {
	Position int
	Nodes    []tree.Node
}

// ReinsertNodes is an internal step used only to express the exact
// inverse of RemoveNode, not constructed directly by callers. A single
// RemoveNode can remove several non-contiguous ids in one call, so its
// inverse must restore each one at its own original index rather than
// as one contiguous AddNode batch.
type ReinsertNodes struct {
	ParentID string
	Groups   []reinsertGroup
}

func (ReinsertNodes) Kind() string { return "reinsert_nodes" }

func (s ReinsertNodes) Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error) {
	parent := t.Get(s.ParentID)
	if parent == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "parent "+s.ParentID+" not found")
	}

	nt := t
	for _, g := range s.Groups {
		pos := g.Position
		next, err := nt.Add(s.ParentID, &pos, g.Nodes)
		if err != nil {
			return nil, err
		}
		nt = next
	}

	resultTypes := childTypes(nt, nt.Children(s.ParentID))
	if !sch.ValidateFragment(parent.TypeName, resultTypes) {
		return nil, merr.NewStepError(merr.ErrContentMismatch, "", "resulting content of "+s.ParentID+" does not match schema")
	}
	return nt, nil
}

func (s ReinsertNodes) Invert(pre *tree.Tree) Step {
	var ids []string
	for _, g := range s.Groups {
		if len(g.Nodes) > 0 {
			ids = append(ids, g.Nodes[0].ID)
		}
	}
	return RemoveNode{ParentID: s.ParentID, IDs: ids}
}

func (s ReinsertNodes) Map(m PositionMap) (Step, bool) {
	if m.isRemoved(s.ParentID) {
		return nil, false
	}
	return s, true
}

func (s ReinsertNodes) MarshalJSON() ([]byte, error) {
	type alias ReinsertNodes
	return json.Marshal(alias(s))
}
