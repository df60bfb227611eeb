package step

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moduforge/moduforge/internal/tree"
)

func TestRemoveNodeInvertNonContiguousIDs(t *testing.T) {
	// parent content [a,b,c]; RemoveNode{IDs:["c","a"]} is a valid,
	// order-independent id list. Inverting and reapplying against the
	// post-removal tree must reproduce the original [a,b,c] exactly,
	// not [c,a,b].
	sch := testSchema(t)
	pre, err := tree.New(tree.Node{ID: "root", TypeName: "doc"}).Add("root", nil,
		[]tree.Node{{ID: "list1", TypeName: "list"}})
	require.NoError(t, err)
	pre, err = pre.Add("list1", nil, []tree.Node{
		{ID: "a", TypeName: "listitem"},
		{ID: "b", TypeName: "listitem"},
		{ID: "c", TypeName: "listitem"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, pre.Children("list1"))

	s := RemoveNode{ParentID: "list1", IDs: []string{"c", "a"}}
	post, err := s.Apply(pre, sch)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, post.Children("list1"))

	inv := s.Invert(pre)
	back, err := inv.Apply(post, sch)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, back.Children("list1"))
	require.Equal(t, serializeTree(pre), serializeTree(back))
}

func TestRemoveNodeInvertPreservesDescendants(t *testing.T) {
	sch := testSchema(t)
	pre, err := tree.New(tree.Node{ID: "root", TypeName: "doc"}).Add("root", nil,
		[]tree.Node{{ID: "list1", TypeName: "list"}})
	require.NoError(t, err)
	pre, err = pre.Add("list1", nil, []tree.Node{
		{ID: "a", TypeName: "listitem"},
		{ID: "b", TypeName: "listitem"},
	})
	require.NoError(t, err)
	pre, err = pre.Add("a", nil, []tree.Node{{ID: "a1", TypeName: "listitem"}})
	require.NoError(t, err)

	s := RemoveNode{ParentID: "list1", IDs: []string{"a"}}
	post, err := s.Apply(pre, sch)
	require.NoError(t, err)
	require.Nil(t, post.Get("a1"))

	inv := s.Invert(pre)
	back, err := inv.Apply(post, sch)
	require.NoError(t, err)
	require.Equal(t, []string{"a1"}, back.Children("a"))
	require.Equal(t, serializeTree(pre), serializeTree(back))
}

func TestRemoveNodeMapDropsRemovedIDs(t *testing.T) {
	s := RemoveNode{ParentID: "list1", IDs: []string{"a", "b"}}
	m := NewPositionMap("a")

	mapped, ok := s.Map(m)
	require.True(t, ok)
	require.Equal(t, RemoveNode{ParentID: "list1", IDs: []string{"b"}}, mapped)
}
