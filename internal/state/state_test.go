package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moduforge/moduforge/internal/merr"
	"github.com/moduforge/moduforge/internal/plugin"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/step"
	"github.com/moduforge/moduforge/internal/transaction"
	"github.com/moduforge/moduforge/internal/tree"
)

func docSchema(t *testing.T) *schema.Schema {
	sch, err := schema.Compile(schema.Spec{
		TopNode: "doc",
		Nodes: []schema.NodeSpec{
			{Name: "doc", Content: "paragraph+"},
			{Name: "paragraph", Content: "", Marks: "strong"},
			{Name: "list", Content: "listitem+"},
			{Name: "listitem", Content: ""},
		},
		Marks: []schema.MarkSpec{{Name: "strong"}},
	})
	require.NoError(t, err)
	return sch
}

func addP1Tx(startVersion uint64) transaction.Transaction {
	tx := transaction.New(startVersion)
	tx.Steps = []step.Step{step.AddNode{ParentID: "root", Nodes: []tree.Node{{ID: "p1", TypeName: "paragraph"}}}}
	return tx
}

// S1
func TestScenarioS1(t *testing.T) {
	sch := docSchema(t)
	s, err := New(sch, tree.Node{ID: "root", TypeName: "doc"}, nil, nil)
	require.NoError(t, err)

	applied, err := s.Apply(context.Background(), addP1Tx(s.Version()), 10)
	require.NoError(t, err)
	require.Equal(t, uint64(2), applied.State.Version())
	require.Equal(t, []string{"p1"}, applied.State.Tree().Children("root"))
	p, ok := applied.State.Tree().Parent("p1")
	require.True(t, ok)
	require.Equal(t, "root", p)
}

// S2
func TestScenarioS2(t *testing.T) {
	sch := docSchema(t)
	s, _ := New(sch, tree.Node{ID: "root", TypeName: "doc"}, nil, nil)
	applied, err := s.Apply(context.Background(), addP1Tx(s.Version()), 10)
	require.NoError(t, err)
	s2 := applied.State

	addMark := transaction.New(s2.Version())
	addMark.Steps = []step.Step{step.AddMark{ID: "p1", Marks: []tree.Mark{{TypeName: "strong"}}}}
	applied2, err := s2.Apply(context.Background(), addMark, 10)
	require.NoError(t, err)
	require.Len(t, applied2.State.Tree().Get("p1").Marks, 1)

	removeMark := transaction.New(applied2.State.Version())
	removeMark.Steps = []step.Step{step.RemoveMark{ID: "p1", MarkTypes: []string{"strong"}}}
	applied3, err := applied2.State.Apply(context.Background(), removeMark, 10)
	require.NoError(t, err)
	require.Empty(t, applied3.State.Tree().Get("p1").Marks)
}

// S4
func TestScenarioS4ContentMismatch(t *testing.T) {
	sch, err := schema.Compile(schema.Spec{
		TopNode: "doc",
		Nodes: []schema.NodeSpec{
			{Name: "doc", Content: "(paragraph | list)+"},
			{Name: "paragraph", Content: ""},
			{Name: "list", Content: "listitem+"},
			{Name: "listitem", Content: ""},
		},
	})
	require.NoError(t, err)
	s, _ := New(sch, tree.Node{ID: "root", TypeName: "doc"}, nil, nil)
	applied, err := s.Apply(context.Background(), addP1Tx(s.Version()), 10)
	require.NoError(t, err)
	s2 := applied.State

	addList := transaction.New(s2.Version())
	addList.Steps = []step.Step{step.AddNode{ParentID: "root", Nodes: []tree.Node{{ID: "list1", TypeName: "list"}}}}
	s3applied, err := s2.Apply(context.Background(), addList, 10)
	require.NoError(t, err)

	badTx := transaction.New(s3applied.State.Version())
	badTx.Steps = []step.Step{step.AddNode{ParentID: "list1", Nodes: []tree.Node{{ID: "bad", TypeName: "paragraph"}}}}
	_, err = s3applied.State.Apply(context.Background(), badTx, 10)
	require.Error(t, err)
	require.ErrorIs(t, err, merr.ErrContentMismatch)
}

// filter precedence: property 5
func TestFilterRejectsAndStateUnchanged(t *testing.T) {
	sch := docSchema(t)
	s, err := New(sch, tree.Node{ID: "root", TypeName: "doc"}, []plugin.Plugin{
		{Key: "blocker", Filter: func(ctx context.Context, tx transaction.Transaction, view plugin.StateView) (bool, string) {
			return false, "nope"
		}},
	}, nil)
	require.NoError(t, err)

	_, err = s.Apply(context.Background(), addP1Tx(s.Version()), 10)
	require.Error(t, err)
	require.ErrorIs(t, err, merr.ErrTransactionFilter)
	require.Equal(t, uint64(1), s.Version())
}

// S5 / property 6: append depth
func TestScenarioS5AppendLoop(t *testing.T) {
	sch := docSchema(t)
	noop := plugin.Plugin{
		Key:      "looper",
		Priority: 1,
		Append: func(ctx context.Context, tx transaction.Transaction, old, new plugin.StateView) (*transaction.Transaction, error) {
			t := transaction.New(new.Version())
			return &t, nil
		},
	}
	s, err := New(sch, tree.Node{ID: "root", TypeName: "doc"}, []plugin.Plugin{noop}, nil)
	require.NoError(t, err)

	_, err = s.Apply(context.Background(), addP1Tx(s.Version()), 3)
	require.Error(t, err)
	require.ErrorIs(t, err, merr.ErrAppendLoop)
	require.Equal(t, uint64(1), s.Version())
}

// property 3: determinism
func TestApplyIsDeterministic(t *testing.T) {
	sch := docSchema(t)
	s1, _ := New(sch, tree.Node{ID: "root", TypeName: "doc"}, nil, nil)
	s2, _ := New(sch, tree.Node{ID: "root", TypeName: "doc"}, nil, nil)

	a1, err := s1.Apply(context.Background(), addP1Tx(0), 10)
	require.NoError(t, err)
	a2, err := s2.Apply(context.Background(), addP1Tx(0), 10)
	require.NoError(t, err)

	require.Equal(t, a1.State.Tree().Get("p1"), a2.State.Tree().Get("p1"))
	require.Equal(t, a1.State.Version(), a2.State.Version())
}

func TestCancellationBeforeApplyNeverAdvancesVersion(t *testing.T) {
	sch := docSchema(t)
	s, _ := New(sch, tree.Node{ID: "root", TypeName: "doc"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Apply(ctx, addP1Tx(0), 10)
	require.Error(t, err)
	require.ErrorIs(t, err, merr.ErrCancelled)
	require.Equal(t, uint64(1), s.Version())
}
