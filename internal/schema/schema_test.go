package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func docSpec() Spec {
	return Spec{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "paragraph+"},
			{Name: "paragraph", Content: "", Marks: "strong"},
			{Name: "list", Content: "listitem+"},
			{Name: "listitem", Content: ""},
		},
		Marks: []MarkSpec{
			{Name: "strong"},
		},
	}
}

func TestCompileValidatesSymbols(t *testing.T) {
	_, err := Compile(Spec{})
	require.Error(t, err)
}

func TestValidateFragment(t *testing.T) {
	s, err := Compile(docSpec())
	require.NoError(t, err)

	require.True(t, s.ValidateFragment("doc", []string{"paragraph"}))
	require.True(t, s.ValidateFragment("doc", []string{"paragraph", "paragraph"}))
	require.False(t, s.ValidateFragment("doc", []string{}))
	require.False(t, s.ValidateFragment("list", []string{"paragraph"}))
	require.True(t, s.ValidateFragment("list", []string{"listitem", "listitem"}))
}

func TestMatchPrefix(t *testing.T) {
	s, err := Compile(docSpec())
	require.NoError(t, err)

	state, n, ok := s.MatchPrefix("doc", []string{"paragraph", "paragraph"})
	require.True(t, ok)
	require.Equal(t, 2, n)
	require.Equal(t, s.ValidateFragment("doc", []string{"paragraph", "paragraph"}), s.nodes["doc"].content.ValidEnd(state))
}

func TestAllowsMark(t *testing.T) {
	s, err := Compile(docSpec())
	require.NoError(t, err)

	require.True(t, s.AllowsMark("paragraph", "strong"))
	require.False(t, s.AllowsMark("listitem", "strong"))
}

func TestGroupReference(t *testing.T) {
	spec := Spec{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "block+"},
			{Name: "paragraph", Group: "block"},
			{Name: "heading", Group: "block"},
		},
	}
	s, err := Compile(spec)
	require.NoError(t, err)
	require.True(t, s.ValidateFragment("doc", []string{"paragraph", "heading", "paragraph"}))
	require.False(t, s.ValidateFragment("doc", []string{"listitem"}))
}

func TestFillBefore(t *testing.T) {
	spec := Spec{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "title paragraph+"},
			{Name: "title", Content: ""},
			{Name: "paragraph", Content: ""},
		},
	}
	s, err := Compile(spec)
	require.NoError(t, err)

	fill, ok := s.FillBefore("doc", nil, "paragraph")
	require.True(t, ok)
	require.Equal(t, []string{"title"}, fill)

	fill, ok = s.FillBefore("doc", []string{"title"}, "paragraph")
	require.True(t, ok)
	require.Empty(t, fill)
}

func TestUnresolvedReferenceFails(t *testing.T) {
	spec := Spec{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "nonexistent+"},
		},
	}
	_, err := Compile(spec)
	require.Error(t, err)
}

func TestDuplicateTypeFails(t *testing.T) {
	spec := Spec{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: ""},
			{Name: "doc", Content: ""},
		},
	}
	_, err := Compile(spec)
	require.Error(t, err)
}
