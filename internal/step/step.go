// Package step implements the atomic, invertible tree mutations of
// spec.md §3/§4.3: AddNode, RemoveNode, MoveNode, SetAttrs, AddMark,
// RemoveMark, plus a registry extension point for plugin-defined steps.
package step

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/tree"
)

// Step is the common interface every mutation satisfies. Apply is the
// only way the tree changes; Invert produces the step that undoes it
// given the pre-application tree; Map rebases the step across ids that
// were removed or otherwise shifted by steps applied before it.
type Step interface {
	Kind() string
	Apply(t *tree.Tree, sch *schema.Schema) (*tree.Tree, error)
	Invert(pre *tree.Tree) Step
	Map(m PositionMap) (Step, bool) // ok=false: step is now a no-op, drop it
}

// PositionMap records ids that have been removed by steps applied before
// the one being rebased, the minimal information spec.md §4.3's
// rebasing contract requires.
type PositionMap struct {
	removed map[string]bool
}

// NewPositionMap builds a PositionMap from the ids removed by prior steps.
func NewPositionMap(removedIDs ...string) PositionMap {
	m := PositionMap{removed: make(map[string]bool, len(removedIDs))}
	for _, id := range removedIDs {
		m.removed[id] = true
	}
	return m
}

func (m PositionMap) isRemoved(id string) bool { return m.removed[id] }

// decodeFunc turns a kind's JSON payload back into a Step.
type decodeFunc func([]byte) (Step, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]decodeFunc{}
)

// Register associates a step kind tag with its decoder. Called from each
// step type's init(), the same register-at-init pattern as the teacher's
// mcp.Registry.Register, plus by plugins defining their own step kinds.
func Register(kind string, decode decodeFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = decode
}

type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal serializes a Step as a tagged JSON envelope.
func Marshal(s Step) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: s.Kind(), Payload: payload})
}

// Unmarshal decodes a tagged envelope back into a Step. An unrecognized
// kind produces ErrUnknownStepKind rather than panicking, per spec.md §4.3.
func Unmarshal(data []byte) (Step, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding step envelope: %w", err)
	}
	registryMu.RLock()
	decode, ok := registry[env.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, merr.NewStepError(merr.ErrUnknownStepKind, "", "kind "+env.Kind)
	}
	return decode(env.Payload)
}

func childTypes(t *tree.Tree, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if n := t.Get(id); n != nil {
			out[i] = n.TypeName
		}
	}
	return out
}
