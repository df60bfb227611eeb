package schema

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/moduforge/moduforge/internal/merr"
)

// dfaCache shares compiled ContentMatch DFAs across Schemas whose specs
// are byte-identical, the way the teacher's validation package caches
// compiled transition tables once at startup. Keyed by a deterministic
// fingerprint so equal specs produce byte-identical caches (spec.md §4.1).
var dfaCache sync.Map // map[uint64]*ContentMatch

func fingerprint(expr string, groupMembers map[string][]string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(expr))
	h.Write([]byte{0})
	keys := make([]string, 0, len(groupMembers))
	for k := range groupMembers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		members := append([]string{}, groupMembers[k]...)
		sort.Strings(members)
		h.Write([]byte(strings.Join(members, ",")))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// compiledNode holds the per-node-type compiled content DFA plus the
// resolved mark allowance rule.
type compiledNode struct {
	spec    NodeSpec
	content *ContentMatch
}

// Schema is the immutable, compiled, shared-by-reference result of
// Compile. It answers validate_fragment/match_prefix/fill_before/
// allows_mark as specified in spec.md §4.1.
type Schema struct {
	topNode string
	nodes   map[string]*compiledNode
	marks   map[string]*MarkSpec
}

// TopNode returns the schema's designated top-level node type name.
func (s *Schema) TopNode() string { return s.topNode }

// NodeSpec returns the compiled spec for a node type, if defined.
func (s *Schema) NodeSpec(typeName string) (NodeSpec, bool) {
	cn, ok := s.nodes[typeName]
	if !ok {
		return NodeSpec{}, false
	}
	return cn.spec, true
}

// Compile validates spec and compiles each node type's content expression
// into a DFA. It mirrors the teacher's register-then-validate pattern:
// resolve all symbols first, then compile expressions independently.
func Compile(spec Spec) (*Schema, error) {
	if err := spec.validateSymbols(); err != nil {
		return nil, err
	}

	groupMembers := map[string][]string{}
	for _, n := range spec.Nodes {
		if n.Group != "" {
			groupMembers[n.Group] = append(groupMembers[n.Group], n.Name)
		}
	}

	sc := &Schema{
		topNode: spec.TopNode,
		nodes:   map[string]*compiledNode{},
		marks:   map[string]*MarkSpec{},
	}

	resolve := func(name string) ([]string, bool) {
		return spec.resolveSymbol(name)
	}

	// whether a bare name in an expression resolves depends on the
	// declared type names, so they are part of every cache key too.
	typeNames := make([]string, 0, len(spec.Nodes))
	for _, n := range spec.Nodes {
		typeNames = append(typeNames, n.Name)
	}
	sort.Strings(typeNames)
	declared := strings.Join(typeNames, ",")

	for _, n := range spec.Nodes {
		key := fingerprint(n.Content+"\x00"+declared, groupMembers)
		var cm *ContentMatch
		if cached, ok := dfaCache.Load(key); ok {
			cm = cached.(*ContentMatch)
		} else {
			compiled, err := compileContentMatch(n.Content, resolve)
			if err != nil {
				return nil, merr.NewSchemaError(merr.ErrUnparseableExpr, "node "+n.Name+" content: "+err.Error(), err)
			}
			dfaCache.Store(key, compiled)
			cm = compiled
		}
		nCopy := n
		if extra, ok := spec.GlobalAttributes[n.Name]; ok {
			if nCopy.Attrs == nil {
				nCopy.Attrs = map[string]AttributeSpec{}
			} else {
				merged := make(map[string]AttributeSpec, len(nCopy.Attrs))
				for k, v := range nCopy.Attrs {
					merged[k] = v
				}
				nCopy.Attrs = merged
			}
			for k, v := range extra {
				nCopy.Attrs[k] = v
			}
		}
		sc.nodes[n.Name] = &compiledNode{spec: nCopy, content: cm}
	}

	for i := range spec.Marks {
		m := spec.Marks[i]
		sc.marks[m.Name] = &m
	}

	return sc, nil
}

// ValidateFragment drives the DFA for parentType's content expression.
func (s *Schema) ValidateFragment(parentType string, children []string) bool {
	cn, ok := s.nodes[parentType]
	if !ok {
		return false
	}
	return cn.content.ValidateFragment(children)
}

// MatchPrefix returns (last_state, matched_len) for parentType's content.
func (s *Schema) MatchPrefix(parentType string, children []string) (state int, matchedLen int, ok bool) {
	cn, found := s.nodes[parentType]
	if !found {
		return 0, 0, false
	}
	st, n := cn.content.MatchPrefix(children)
	return st, n, true
}

// FillBefore finds the shortest filler sequence, per spec.md §4.1.
func (s *Schema) FillBefore(parentType string, existingPrefix []string, desiredChildType string) ([]string, bool) {
	cn, ok := s.nodes[parentType]
	if !ok {
		return nil, false
	}
	return cn.content.FillBefore(existingPrefix, desiredChildType)
}

// AllowsMark reports whether nodeType's mark policy admits markType,
// honoring "_" (none), "*" (all), and explicit lists of mark type names.
// Mark-type excludes are not consulted here; see MarksExclude.
func (s *Schema) AllowsMark(nodeType, markType string) bool {
	cn, ok := s.nodes[nodeType]
	if !ok {
		return false
	}
	policy := strings.TrimSpace(cn.spec.Marks)
	switch policy {
	case "", "_":
		return false
	case "*":
		return true
	default:
		for _, m := range strings.Fields(policy) {
			if m == markType {
				return true
			}
		}
		return false
	}
}

// MarksExclude reports whether adding markType conflicts with any mark
// type name in existing, per that mark's declared excludes list.
func (s *Schema) MarksExclude(markType string, existing []string) bool {
	ms, ok := s.marks[markType]
	if !ok {
		return false
	}
	for _, ex := range ms.Excludes {
		for _, e := range existing {
			if e == ex {
				return true
			}
		}
	}
	for _, e := range existing {
		if other, ok := s.marks[e]; ok {
			for _, ex := range other.Excludes {
				if ex == markType {
					return true
				}
			}
		}
	}
	return false
}
