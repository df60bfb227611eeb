package tree

import (
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/cespare/xxhash/v2"
)

// nodeShard and parentShard are the unit of copy-on-write sharing,
// grounded on wayneeseguin/graft's COWNode.clone: a write clones only the
// shard it touches (shallow-copy map, keep other shards pointer-shared).
type nodeShard struct {
	m map[string]*Node
}

type parentShard struct {
	m map[string]string
}

func (s *nodeShard) clone() *nodeShard {
	out := make(map[string]*Node, len(s.m)+1)
	for k, v := range s.m {
		out[k] = v
	}
	return &nodeShard{m: out}
}

func (s *parentShard) clone() *parentShard {
	out := make(map[string]string, len(s.m)+1)
	for k, v := range s.m {
		out[k] = v
	}
	return &parentShard{m: out}
}

// defaultShardCount mirrors spec.md §4.2: "N ≈ available parallelism, ≥2".
func defaultShardCount() int {
	n := runtime.GOMAXPROCS(0)
	if n < 2 {
		return 2
	}
	return n
}

// shardIndexCache is the small id → shard index LRU called out in §4.2.
// A miss just recomputes the shard from the hash; it is never a
// correctness dependency, only an optimization.
type shardIndexCache struct {
	cache *lru.Cache[string, int]
}

func newShardIndexCache(capacity int) *shardIndexCache {
	c, err := lru.New[string, int](capacity)
	if err != nil {
		return &shardIndexCache{} // capacity <= 0: disable caching, fall back to recompute
	}
	return &shardIndexCache{cache: c}
}

func (c *shardIndexCache) shardFor(id string, shardCount int) int {
	if c.cache != nil {
		if idx, ok := c.cache.Get(id); ok {
			return idx
		}
	}
	idx := int(xxhash.Sum64String(id) % uint64(shardCount))
	if c.cache != nil {
		c.cache.Add(id, idx)
	}
	return idx
}
