package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLWWMapLaterWriteWins(t *testing.T) {
	m := NewLWWMap()
	m.Set("color", "red", ID{1, "a"})
	m.Set("color", "blue", ID{2, "a"})
	v, ok := m.Get("color")
	require.True(t, ok)
	require.Equal(t, "blue", v)
}

func TestLWWMapEarlierWriteLoses(t *testing.T) {
	m := NewLWWMap()
	m.Set("color", "blue", ID{2, "a"})
	m.Set("color", "red", ID{1, "a"})
	v, ok := m.Get("color")
	require.True(t, ok)
	require.Equal(t, "blue", v)
}

func TestLWWMapTieBrokenByReplicaID(t *testing.T) {
	m := NewLWWMap()
	m.Set("color", "from-a", ID{1, "a"})
	m.Set("color", "from-b", ID{1, "b"})
	v, ok := m.Get("color")
	require.True(t, ok)
	require.Equal(t, "from-b", v) // "b" > "a"
}

func TestLWWMapMergeConvergesRegardlessOfOrder(t *testing.T) {
	m1 := NewLWWMap()
	m2 := NewLWWMap()

	m1.Set("title", "draft", ID{1, "r1"})
	m2.Set("title", "final", ID{2, "r2"})

	m1.Merge(m2.Snapshot())
	m2.Merge(m1.Snapshot())

	v1, _ := m1.Get("title")
	v2, _ := m2.Get("title")
	require.Equal(t, v1, v2)
	require.Equal(t, "final", v1)
}

func TestLWWMapMergeIsIdempotent(t *testing.T) {
	m := NewLWWMap()
	m.Set("k", "v", ID{1, "a"})
	snap := m.Snapshot()
	m.Merge(snap)
	m.Merge(snap)
	v, _ := m.Get("k")
	require.Equal(t, "v", v)
}
