// Package snapshot implements the JSON state snapshot format of
// spec.md/SPEC_FULL.md §6: short field names, round-trip-safe via
// encoding/json, independent of the in-memory sharded Tree layout.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/moduforge/moduforge/internal/tree"
)

type markSnap struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

type nodeSnap struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []string       `json:"content,omitempty"`
	Marks   []markSnap     `json:"marks,omitempty"`
}

type docSnap struct {
	Version uint64     `json:"version"`
	Root    string     `json:"root"`
	Nodes   []nodeSnap `json:"nodes"`
}

// Serialize flattens t into the JSON snapshot format, stamped with
// version.
func Serialize(t *tree.Tree, version uint64) ([]byte, error) {
	ids := append([]string{t.RootID()}, t.Descendants(t.RootID())...)
	nodes := make([]nodeSnap, 0, len(ids))
	for _, id := range ids {
		n := t.Get(id)
		if n == nil {
			return nil, fmt.Errorf("snapshot: dangling reference %q", id)
		}
		marks := make([]markSnap, 0, len(n.Marks))
		for _, m := range n.Marks {
			marks = append(marks, markSnap{Type: m.TypeName, Attrs: m.Attrs})
		}
		nodes = append(nodes, nodeSnap{
			ID:      n.ID,
			Type:    n.TypeName,
			Attrs:   n.Attrs,
			Content: n.Content,
			Marks:   marks,
		})
	}
	return json.Marshal(docSnap{Version: version, Root: t.RootID(), Nodes: nodes})
}

// Deserialize rebuilds a Tree and its stamped version from data produced
// by Serialize. It does not validate the result against any schema;
// callers that need that should run schema.ValidateFragment themselves.
func Deserialize(data []byte) (*tree.Tree, uint64, error) {
	var doc docSnap
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("snapshot: decoding: %w", err)
	}

	var rootSnap *nodeSnap
	var rest []nodeSnap
	for i, n := range doc.Nodes {
		if n.ID == doc.Root {
			rootSnap = &doc.Nodes[i]
			continue
		}
		rest = append(rest, n)
	}
	if rootSnap == nil {
		return nil, 0, fmt.Errorf("snapshot: root id %q not present among nodes", doc.Root)
	}

	t := tree.New(tree.Node{
		ID:       rootSnap.ID,
		TypeName: rootSnap.Type,
		Attrs:    rootSnap.Attrs,
		Marks:    toMarks(rootSnap.Marks),
	})

	if len(rest) == 0 {
		return t, doc.Version, nil
	}

	others := make([]tree.Node, 0, len(rest))
	for _, n := range rest {
		others = append(others, tree.Node{
			ID:       n.ID,
			TypeName: n.Type,
			Attrs:    n.Attrs,
			Content:  n.Content,
			Marks:    toMarks(n.Marks),
		})
	}
	t, err := t.Add(doc.Root, nil, others)
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot: rebuilding tree: %w", err)
	}

	// rootSnap.Content is redundant: Add already derives the root's
	// children from whichever ids in others aren't referenced by another
	// node's Content.
	return t, doc.Version, nil
}

func toMarks(snaps []markSnap) []tree.Mark {
	if len(snaps) == 0 {
		return nil
	}
	marks := make([]tree.Mark, 0, len(snaps))
	for _, m := range snaps {
		marks = append(marks, tree.Mark{TypeName: m.Type, Attrs: m.Attrs})
	}
	return marks
}
