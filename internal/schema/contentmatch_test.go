package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func resolveLiteral(types map[string]bool) func(string) ([]string, bool) {
	return func(name string) ([]string, bool) {
		if types[name] {
			return []string{name}, false
		}
		return nil, false
	}
}

func TestContentMatchRoundTrip(t *testing.T) {
	// property 7: match_prefix(children) == (s, k) implies
	// s.valid_end == validate_fragment(children) iff k == len(children).
	resolve := resolveLiteral(map[string]bool{"a": true, "b": true})
	cm, err := compileContentMatch("a (b a)*", resolve)
	require.NoError(t, err)

	cases := [][]string{
		{"a"},
		{"a", "b", "a"},
		{"a", "b"},
		{},
		{"b"},
		{"a", "b", "a", "b", "a"},
	}
	for _, children := range cases {
		state, n := cm.MatchPrefix(children)
		full := cm.ValidateFragment(children)
		if n == len(children) {
			require.Equal(t, full, cm.ValidEnd(state), "children=%v", children)
		} else {
			require.False(t, full, "children=%v", children)
		}
	}
}

func TestQuantifiers(t *testing.T) {
	resolve := resolveLiteral(map[string]bool{"a": true})

	star, err := compileContentMatch("a*", resolve)
	require.NoError(t, err)
	require.True(t, star.ValidateFragment(nil))
	require.True(t, star.ValidateFragment([]string{"a", "a", "a"}))

	plus, err := compileContentMatch("a+", resolve)
	require.NoError(t, err)
	require.False(t, plus.ValidateFragment(nil))
	require.True(t, plus.ValidateFragment([]string{"a"}))

	opt, err := compileContentMatch("a?", resolve)
	require.NoError(t, err)
	require.True(t, opt.ValidateFragment(nil))
	require.True(t, opt.ValidateFragment([]string{"a"}))
	require.False(t, opt.ValidateFragment([]string{"a", "a"}))

	bound, err := compileContentMatch("a{2,3}", resolve)
	require.NoError(t, err)
	require.False(t, bound.ValidateFragment([]string{"a"}))
	require.True(t, bound.ValidateFragment([]string{"a", "a"}))
	require.True(t, bound.ValidateFragment([]string{"a", "a", "a"}))
	require.False(t, bound.ValidateFragment([]string{"a", "a", "a", "a"}))
}

func TestAlternation(t *testing.T) {
	resolve := resolveLiteral(map[string]bool{"a": true, "b": true})
	cm, err := compileContentMatch("a | b", resolve)
	require.NoError(t, err)
	require.True(t, cm.ValidateFragment([]string{"a"}))
	require.True(t, cm.ValidateFragment([]string{"b"}))
	require.False(t, cm.ValidateFragment([]string{"a", "b"}))
}

func TestUnparseableExpression(t *testing.T) {
	resolve := resolveLiteral(map[string]bool{"a": true})
	_, err := compileContentMatch("a +", resolve)
	require.NoError(t, err) // whitespace before quantifier is fine

	_, err = compileContentMatch("a)", resolve)
	require.Error(t, err)

	_, err = compileContentMatch("", resolve)
	require.NoError(t, err) // empty expression: matches only empty fragment
}

func TestEmptyExpressionMatchesOnlyEmpty(t *testing.T) {
	resolve := resolveLiteral(map[string]bool{"a": true})
	cm, err := compileContentMatch("", resolve)
	require.NoError(t, err)
	require.True(t, cm.ValidateFragment(nil))
	require.False(t, cm.ValidateFragment([]string{"a"}))
}
