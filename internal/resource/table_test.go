package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct{ name string }

func TestTablePutGetRelease(t *testing.T) {
	tbl := NewTable()
	tbl.Put("w1", widget{name: "a"})

	v, err := MustGet[widget](tbl, "w1")
	require.NoError(t, err)
	require.Equal(t, "a", v.name)

	freed := tbl.Release("w1")
	require.True(t, freed)
	_, ok := tbl.Get("w1")
	require.False(t, ok)
}

func TestTableRefcounting(t *testing.T) {
	tbl := NewTable()
	tbl.Put("w1", widget{name: "a"})
	tbl.Retain("w1")

	require.False(t, tbl.Release("w1")) // refcount 2 -> 1, still present
	_, ok := tbl.Get("w1")
	require.True(t, ok)

	require.True(t, tbl.Release("w1")) // refcount 1 -> 0, removed
	_, ok = tbl.Get("w1")
	require.False(t, ok)
}

func TestMustGetWrongType(t *testing.T) {
	tbl := NewTable()
	tbl.Put("w1", widget{name: "a"})
	_, err := MustGet[int](tbl, "w1")
	require.Error(t, err)
}

func TestSingletons(t *testing.T) {
	s := NewSingletons()
	s.Put(widget{name: "singleton"})
	v, err := SingletonOf[widget](s)
	require.NoError(t, err)
	require.Equal(t, "singleton", v.name)
}
