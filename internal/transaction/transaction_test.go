package transaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/tree"
)

type fakeView struct {
	t *tree.Tree
	s *schema.Schema
}

func (v fakeView) Tree() *tree.Tree      { return v.t }
func (v fakeView) Schema() *schema.Schema { return v.s }

func TestBuilderFluent(t *testing.T) {
	tr := tree.New(tree.Node{ID: "root", TypeName: "doc"})
	b := NewBuilder(fakeView{t: tr}, 1)
	tx, err := b.AddNode("root", nil, []tree.Node{{TypeName: "paragraph"}}).
		SetMeta(MetaUserID, "u1").
		Build()
	require.NoError(t, err)
	require.Len(t, tx.Steps, 1)
	require.Equal(t, "u1", tx.Meta[MetaUserID])
	require.NotEmpty(t, tx.ID)
}

func TestBuilderRejectsMissingParent(t *testing.T) {
	tr := tree.New(tree.Node{ID: "root", TypeName: "doc"})
	b := NewBuilder(fakeView{t: tr}, 1)
	_, err := b.AddNode("nope", nil, []tree.Node{{TypeName: "paragraph"}}).Build()
	require.Error(t, err)
}

func TestCloneCopiesMetaIndependently(t *testing.T) {
	tx := New(1)
	tx.Meta["a"] = 1
	clone := tx.Clone()
	clone.Meta["a"] = 2
	require.Equal(t, 1, tx.Meta["a"])
	require.Equal(t, 2, clone.Meta["a"])
}
