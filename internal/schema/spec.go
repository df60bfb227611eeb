// Package schema compiles node/mark type specifications into a Schema:
// a content-match DFA per node type plus mark-allowance rules. It is the
// validator every Step application consults before mutating a Tree.
package schema

import "github.com/moduforge/moduforge/internal/merr"

// AttributeSpec describes one declared attribute of a node or mark type.
// Default is the JSON-shaped value (string | float64 | bool | map | nil)
// used when a node of this type omits the attribute.
type AttributeSpec struct {
	Default  any
	HasDefault bool
}

// NodeSpec is one node type entry in a Spec.
type NodeSpec struct {
	Name    string
	Group   string // group this type belongs to, empty if none
	Desc    string
	Content string // content expression, empty means "no children"
	Marks   string // "_" none, "*" all, or space-separated mark type names
	Attrs   map[string]AttributeSpec
	// Open allows undeclared attribute names to pass SetAttrs without
	// failing with ErrUnknownAttribute.
	Open bool
}

// MarkSpec is one mark type entry in a Spec.
type MarkSpec struct {
	Name     string
	Attrs    map[string]AttributeSpec
	Excludes []string // mark type names this mark cannot coexist with
	Spanning bool
}

// Spec is the uncompiled schema description, as produced by schemaio or
// built directly by a caller.
type Spec struct {
	TopNode          string
	Nodes            []NodeSpec
	Marks            []MarkSpec
	GlobalAttributes map[string]map[string]AttributeSpec // node type name -> extra attrs merged in
}

// resolveSymbol resolves a name used in a content expression. If any node
// type carries name as its group, it returns those types with isGroup
// true; otherwise, if name is a declared node type, it returns just that
// name with isGroup false (a content expression may reference a concrete
// type name directly); otherwise it returns nil, false.
func (s *Spec) resolveSymbol(name string) (members []string, isGroup bool) {
	for _, n := range s.Nodes {
		if n.Group == name {
			members = append(members, n.Name)
		}
	}
	if len(members) > 0 {
		return members, true
	}
	for _, n := range s.Nodes {
		if n.Name == name {
			return []string{name}, false
		}
	}
	return nil, false
}

func (s *Spec) nodeSpec(name string) (*NodeSpec, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].Name == name {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

func (s *Spec) markSpec(name string) (*MarkSpec, bool) {
	for i := range s.Marks {
		if s.Marks[i].Name == name {
			return &s.Marks[i], true
		}
	}
	return nil, false
}

// validateSymbols checks for duplicate type names, a declared top node,
// and that every mark's excludes list names a declared mark. Names in
// content expressions are resolved later, when each expression compiles;
// node mark lists are not checked.
func (s *Spec) validateSymbols() error {
	seen := map[string]bool{}
	for _, n := range s.Nodes {
		if seen[n.Name] {
			return merr.NewSchemaError(merr.ErrDuplicateType, "node type "+n.Name, nil)
		}
		seen[n.Name] = true
	}
	for _, m := range s.Marks {
		if seen[m.Name] {
			return merr.NewSchemaError(merr.ErrDuplicateType, "mark type "+m.Name, nil)
		}
		seen[m.Name] = true
	}
	if s.TopNode == "" {
		return merr.NewSchemaError(merr.ErrNoTopNode, "top_node not set", nil)
	}
	if _, ok := s.nodeSpec(s.TopNode); !ok {
		return merr.NewSchemaError(merr.ErrNoTopNode, "top_node "+s.TopNode+" not defined", nil)
	}
	for _, m := range s.Marks {
		for _, ex := range m.Excludes {
			if _, ok := s.markSpec(ex); !ok {
				return merr.NewSchemaError(merr.ErrUnresolvedRef, "mark "+m.Name+" excludes unknown mark "+ex, nil)
			}
		}
	}
	return nil
}
