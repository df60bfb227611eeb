// Package state implements the immutable State snapshot and its Apply
// pipeline from spec.md §3/§4.6.
package state

import (
	"github.com/moduforge/moduforge/internal/plugin"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/tree"
)

// State is the immutable tuple of spec.md §3: version, schema, tree,
// stored marks, and plugin-derived fields. Apply returns a new State
// sharing unchanged structure with the receiver.
type State struct {
	version     uint64
	schema      *schema.Schema
	tree        *tree.Tree
	storedMarks []tree.Mark
	registry    *plugin.Registry
	fields      map[string]plugin.Resource
}

// Tree implements plugin.StateView / transaction.StateView.
func (s *State) Tree() *tree.Tree { return s.tree }

// Schema implements plugin.StateView / transaction.StateView.
func (s *State) Schema() *schema.Schema { return s.schema }

// Version implements plugin.StateView.
func (s *State) Version() uint64 { return s.version }

// StoredMarks returns the marks pending for the next insertion.
func (s *State) StoredMarks() []tree.Mark { return s.storedMarks }

// PluginField implements plugin.StateView.
func (s *State) PluginField(key string) (plugin.Resource, bool) {
	v, ok := s.fields[key]
	return v, ok
}

// Registry exposes the plugin execution order, for Runtime diagnostics.
func (s *State) Registry() *plugin.Registry { return s.registry }

// New constructs the initial State at version 1: compiles no schema itself (the
// caller passes an already-compiled one), seeds the tree with root, and
// runs every plugin's StateField.Init in registry order.
func New(sch *schema.Schema, root tree.Node, plugins []plugin.Plugin, pluginConfig map[string]any) (*State, error) {
	reg := plugin.NewRegistry(plugins)
	s := &State{
		version:  1,
		schema:   sch,
		tree:     tree.New(root),
		registry: reg,
		fields:   map[string]plugin.Resource{},
	}
	for _, p := range reg.Ordered() {
		if p.StateField == nil {
			continue
		}
		cfg := pluginConfig[p.Key]
		v, err := p.StateField.Init(cfg, s)
		if err != nil {
			return nil, err
		}
		s.fields[p.Key] = v
	}
	return s, nil
}

// withTreeAndVersion returns a shallow copy of s with a new tree and
// version, same schema/registry reference, fields to be filled in by the
// field-derive phase.
func (s *State) withTreeAndVersion(t *tree.Tree, version uint64) *State {
	return &State{
		version:     version,
		schema:      s.schema,
		tree:        t,
		storedMarks: s.storedMarks,
		registry:    s.registry,
		fields:      map[string]plugin.Resource{},
	}
}
