package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moduforge/moduforge/internal/tree"
)

func buildSampleTree(t *testing.T) *tree.Tree {
	tr := tree.New(tree.Node{ID: "root", TypeName: "doc"})
	tr, err := tr.Add("root", nil, []tree.Node{
		{ID: "p1", TypeName: "paragraph", Attrs: map[string]any{"align": "center"},
			Marks: []tree.Mark{{TypeName: "strong"}}},
		{ID: "list1", TypeName: "list", Content: []string{"li1"}},
		{ID: "li1", TypeName: "listitem"},
	})
	require.NoError(t, err)
	return tr
}

// property 8: snapshot round-trips
func TestSerializeDeserializeRoundTrip(t *testing.T) {
	tr := buildSampleTree(t)
	data, err := Serialize(tr, 7)
	require.NoError(t, err)

	got, version, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, uint64(7), version)
	require.Equal(t, tr.RootID(), got.RootID())
	require.Equal(t, tr.Children("root"), got.Children("root"))
	require.Equal(t, tr.Children("list1"), got.Children("list1"))
	require.Equal(t, tr.Get("p1"), got.Get("p1"))
	require.NoError(t, got.CheckInvariants())
}

func TestSerializeProducesShortFieldNames(t *testing.T) {
	tr := tree.New(tree.Node{ID: "root", TypeName: "doc"})
	data, err := Serialize(tr, 1)
	require.NoError(t, err)
	require.Contains(t, string(data), `"id":"root"`)
	require.Contains(t, string(data), `"type":"doc"`)
}

func TestDeserializeRejectsMissingRoot(t *testing.T) {
	_, _, err := Deserialize([]byte(`{"version":1,"root":"missing","nodes":[]}`))
	require.Error(t, err)
}

func TestDeserializeSingleNodeTree(t *testing.T) {
	tr := tree.New(tree.Node{ID: "root", TypeName: "doc"})
	data, err := Serialize(tr, 0)
	require.NoError(t, err)

	got, version, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, uint64(0), version)
	require.Equal(t, "root", got.RootID())
	require.Empty(t, got.Children("root"))
}
