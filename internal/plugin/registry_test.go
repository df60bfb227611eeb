package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryOrdersByPriorityThenRegistration(t *testing.T) {
	r := NewRegistry([]Plugin{
		{Key: "a", Priority: 1},
		{Key: "b", Priority: 5},
		{Key: "c", Priority: 5},
		{Key: "d", Priority: 0},
	})
	keys := make([]string, 0, r.Len())
	for _, p := range r.Ordered() {
		keys = append(keys, p.Key)
	}
	require.Equal(t, []string{"b", "c", "a", "d"}, keys)
}

func TestRegistryByKey(t *testing.T) {
	r := NewRegistry([]Plugin{{Key: "a", Priority: 1}})
	p, ok := r.ByKey("a")
	require.True(t, ok)
	require.Equal(t, 1, p.Priority)

	_, ok = r.ByKey("missing")
	require.False(t, ok)
}
