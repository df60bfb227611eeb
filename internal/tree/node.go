// Package tree implements the persistent, sharded node tree described in
// spec.md §3/§4.2: nodes are logically immutable, every mutation produces
// a new Tree sharing unchanged storage with the old one.
package tree

// Mark is a type_name + attrs pair attached to a Node, order-preserved,
// duplicates of the same type disallowed by the mark-type policy (enforced
// by the schema/step layers, not here).
type Mark struct {
	TypeName string
	Attrs    map[string]any
}

// Node is identified by an opaque, stable string id. Content holds the
// ordered ids of this node's children. Nodes are never mutated in place;
// a "change" produces a new Node value stored under the same id in a new
// Tree.
type Node struct {
	ID       string
	TypeName string
	Attrs    map[string]any
	Content  []string
	Marks    []Mark
}

func cloneAttrs(a map[string]any) map[string]any {
	if a == nil {
		return nil
	}
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func cloneContent(c []string) []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c))
	copy(out, c)
	return out
}

func cloneMarks(m []Mark) []Mark {
	if m == nil {
		return nil
	}
	out := make([]Mark, len(m))
	copy(out, m)
	return out
}

// clone returns a deep-enough copy of n suitable as the basis for a
// structural update (new Attrs/Content/Marks slices/maps, same id/type).
func (n Node) clone() Node {
	return Node{
		ID:       n.ID,
		TypeName: n.TypeName,
		Attrs:    cloneAttrs(n.Attrs),
		Content:  cloneContent(n.Content),
		Marks:    cloneMarks(n.Marks),
	}
}
