package step

import (
	"encoding/json"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/tree"
)

// SetAttrs applies Changes to node ID's attrs. A nil value for a key
// deletes that attribute.
type SetAttrs struct {
	ID      string
	Changes map[string]any
}

func (SetAttrs) Kind() string { return "set_attrs" }

func (s SetAttrs) Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error) {
	n := t.Get(s.ID)
	if n == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "node "+s.ID+" not found")
	}
	nodeSpec, ok := sch.NodeSpec(n.TypeName)
	if !ok {
		return nil, merr.NewStepError(merr.ErrUnknownAttribute, s.ID, "unknown node type "+n.TypeName)
	}
	if !nodeSpec.Open {
		for k := range s.Changes {
			if _, declared := nodeSpec.Attrs[k]; !declared {
				return nil, merr.NewStepError(merr.ErrUnknownAttribute, s.ID, "attribute "+k+" not declared on "+n.TypeName)
			}
		}
	}
	return t.SetAttrs(s.ID, s.Changes)
}

func (s SetAttrs) Invert(pre *tree.Tree) Step {
	n := pre.Get(s.ID)
	reverse := map[string]any{}
	if n != nil {
		for k := range s.Changes {
			if old, had := n.Attrs[k]; had {
				reverse[k] = old
			} else {
				reverse[k] = nil // wasn't set before: delete it back
			}
		}
	}
	return SetAttrs{ID: s.ID, Changes: reverse}
}

func (s SetAttrs) Map(m PositionMap) (Step, bool) {
	if m.isRemoved(s.ID) {
		return nil, false
	}
	return s, true
}

func (s SetAttrs) MarshalJSON() ([]byte, error) {
	type alias SetAttrs
	return json.Marshal(alias(s))
}

func init() {
	Register("set_attrs", func(data []byte) (Step, error) {
		var s SetAttrs
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
}
