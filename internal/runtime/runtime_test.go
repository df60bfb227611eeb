package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moduforge/moduforge/internal/plugin"
	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/state"
	"github.com/moduforge/moduforge/internal/step"
	"github.com/moduforge/moduforge/internal/transaction"
	"github.com/moduforge/moduforge/internal/tree"
)

func docSchema(t *testing.T) *schema.Schema {
	sch, err := schema.Compile(schema.Spec{
		TopNode: "doc",
		Nodes: []schema.NodeSpec{
			{Name: "doc", Content: "paragraph*"},
			{Name: "paragraph", Content: ""},
		},
	})
	require.NoError(t, err)
	return sch
}

func newTestRuntime(t *testing.T) *Runtime {
	sch := docSchema(t)
	s, err := state.New(sch, tree.Node{ID: "root", TypeName: "doc"}, nil, nil)
	require.NoError(t, err)
	return New(s, nil, nil, nil, nil)
}

func addParagraph(id string) transaction.Transaction {
	tx := transaction.New(0)
	tx.Steps = []step.Step{step.AddNode{ParentID: "root", Nodes: []tree.Node{{ID: id, TypeName: "paragraph"}}}}
	return tx
}

func TestDispatchAdvancesVersionMonotonically(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	var lastVersion uint64
	for i, id := range []string{"p1", "p2", "p3"} {
		applied, err := r.Dispatch(context.Background(), addParagraph(id))
		require.NoError(t, err)
		require.Greater(t, applied.State.Version(), lastVersion)
		lastVersion = applied.State.Version()
		require.Equal(t, uint64(i+2), lastVersion)
	}
	require.Equal(t, lastVersion, r.Current().Version())
}

func TestDispatchCancellationNeverAdvancesVersion(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := r.Current().Version()
	_, err := r.Dispatch(ctx, addParagraph("p1"))
	require.Error(t, err)
	require.Equal(t, before, r.Current().Version())
}

func TestUndoRedoRoundTrip(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	applied, err := r.Dispatch(context.Background(), addParagraph("p1"))
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, applied.State.Tree().Children("root"))

	undone, err := r.Undo(context.Background())
	require.NoError(t, err)
	require.Empty(t, undone.State.Tree().Children("root"))

	redone, err := r.Redo(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, redone.State.Tree().Children("root"))
}

func TestUndoWithEmptyHistoryFails(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	_, err := r.Undo(context.Background())
	require.ErrorIs(t, err, ErrNoHistory)
}

func TestUndoToReversesEverythingAfterTargetVersion(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	_, err := r.Dispatch(context.Background(), addParagraph("p1"))
	require.NoError(t, err)
	target := r.Current().Version()
	_, err = r.Dispatch(context.Background(), addParagraph("p2"))
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), addParagraph("p3"))
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2", "p3"}, r.Current().Tree().Children("root"))

	applied, err := r.UndoTo(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, applied.State.Tree().Children("root"))

	redone, err := r.Redo(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, redone.State.Tree().Children("root"))
}

func TestUndoToAtCurrentVersionFails(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	_, err := r.Dispatch(context.Background(), addParagraph("p1"))
	require.NoError(t, err)
	_, err = r.UndoTo(context.Background(), r.Current().Version())
	require.ErrorIs(t, err, ErrNoHistory)
}

func TestMiddlewareRunsBeforeAndAfterInOppositeOrder(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	var order []string
	m1 := &orderMiddleware{tag: "m1", order: &order}
	m2 := &orderMiddleware{tag: "m2", order: &order}
	r.Use(m1)
	r.Use(m2)

	_, err := r.Dispatch(context.Background(), addParagraph("p1"))
	require.NoError(t, err)
	require.Equal(t, []string{"before:m1", "before:m2", "after:m2", "after:m1"}, order)
}

type orderMiddleware struct {
	tag   string
	order *[]string
}

func (m *orderMiddleware) Before(ctx context.Context, tx *transaction.Transaction) error {
	*m.order = append(*m.order, "before:"+m.tag)
	return nil
}

func (m *orderMiddleware) After(ctx context.Context, applied state.Applied) {
	*m.order = append(*m.order, "after:"+m.tag)
}

func TestRunCommandBuildsFromCurrentView(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	cmd := Command(func(view plugin.StateView) (transaction.Transaction, error) {
		tx := transaction.New(view.Version())
		tx.Steps = []step.Step{step.AddNode{ParentID: "root", Nodes: []tree.Node{{ID: "cmd1", TypeName: "paragraph"}}}}
		return tx, nil
	})

	applied, err := r.RunCommand(context.Background(), cmd)
	require.NoError(t, err)
	require.Contains(t, applied.State.Tree().Children("root"), "cmd1")
}

func TestSpawnRunsOnTaskPool(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Shutdown()

	done := make(chan struct{})
	r.Spawn(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("spawned task did not run")
	}
}
