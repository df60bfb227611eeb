package tree

import (
	"github.com/moduforge/moduforge/internal/merr"
)

// defaultLRUCapacity bounds the shard-index LRU; see shard.go.
const defaultLRUCapacity = 4096

// Tree is the persistent, sharded node tree of spec.md §3. All mutating
// operations return a new Tree; the receiver is left unchanged.
type Tree struct {
	rootID       string
	shardCount   int
	nodeShards   []*nodeShard
	parentShards []*parentShard
	cache        *shardIndexCache
}

// New creates a single-node tree whose root is root. root.Content must be
// empty; children are added via Add.
func New(root Node) *Tree {
	shardCount := defaultShardCount()
	t := &Tree{
		rootID:     root.ID,
		shardCount: shardCount,
		cache:      newShardIndexCache(defaultLRUCapacity),
	}
	t.nodeShards = make([]*nodeShard, shardCount)
	t.parentShards = make([]*parentShard, shardCount)
	for i := range t.nodeShards {
		t.nodeShards[i] = &nodeShard{m: map[string]*Node{}}
		t.parentShards[i] = &parentShard{m: map[string]string{}}
	}
	rootCopy := root.clone()
	idx := t.cache.shardFor(root.ID, shardCount)
	t.nodeShards[idx].m[root.ID] = &rootCopy
	return t
}

func (t *Tree) shallowCopy() *Tree {
	nodeShards := make([]*nodeShard, len(t.nodeShards))
	copy(nodeShards, t.nodeShards)
	parentShards := make([]*parentShard, len(t.parentShards))
	copy(parentShards, t.parentShards)
	return &Tree{
		rootID:       t.rootID,
		shardCount:   t.shardCount,
		nodeShards:   nodeShards,
		parentShards: parentShards,
		cache:        t.cache,
	}
}

func (t *Tree) idxFor(id string) int { return t.cache.shardFor(id, t.shardCount) }

// RootID returns the tree's root node id.
func (t *Tree) RootID() string { return t.rootID }

// Get returns the node for id, or nil if absent.
func (t *Tree) Get(id string) *Node {
	return t.nodeShards[t.idxFor(id)].m[id]
}

// Children returns the ordered child ids of id, or nil if id is absent.
func (t *Tree) Children(id string) []string {
	n := t.Get(id)
	if n == nil {
		return nil
	}
	return cloneContent(n.Content)
}

// Parent returns the parent id of id, and whether id has one (the root
// never does).
func (t *Tree) Parent(id string) (string, bool) {
	p, ok := t.parentShards[t.idxFor(id)].m[id]
	return p, ok
}

// Ancestors returns id's ancestor chain, nearest first, root last.
func (t *Tree) Ancestors(id string) []string {
	var out []string
	cur := id
	for {
		p, ok := t.Parent(cur)
		if !ok {
			break
		}
		out = append(out, p)
		cur = p
	}
	return out
}

// Descendants returns every id reachable from id's content, in
// depth-first pre-order.
func (t *Tree) Descendants(id string) []string {
	var out []string
	var walk func(string)
	walk = func(cur string) {
		n := t.Get(cur)
		if n == nil {
			return
		}
		for _, c := range n.Content {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

// isSelfOrAncestorOf reports whether candidate is id or an ancestor of id.
func (t *Tree) isSelfOrAncestorOf(candidate, id string) bool {
	if candidate == id {
		return true
	}
	for _, a := range t.Ancestors(id) {
		if a == candidate {
			return true
		}
	}
	return false
}

// setNode writes node into its shard, cloning the shard first (COW).
func (t *Tree) setNode(node Node) *Tree {
	nt := t.shallowCopy()
	idx := t.idxFor(node.ID)
	ns := nt.nodeShards[idx].clone()
	ns.m[node.ID] = &node
	nt.nodeShards[idx] = ns
	return nt
}

// setParent writes parentMap[child]=parent, cloning the shard first.
func (t *Tree) setParent(child, parent string) *Tree {
	nt := t.shallowCopy()
	idx := t.idxFor(child)
	ps := nt.parentShards[idx].clone()
	ps.m[child] = parent
	nt.parentShards[idx] = ps
	return nt
}

func (t *Tree) deleteParent(child string) *Tree {
	nt := t.shallowCopy()
	idx := t.idxFor(child)
	ps := nt.parentShards[idx].clone()
	delete(ps.m, child)
	nt.parentShards[idx] = ps
	return nt
}

func (t *Tree) deleteNode(id string) *Tree {
	nt := t.shallowCopy()
	idx := t.idxFor(id)
	ns := nt.nodeShards[idx].clone()
	delete(ns.m, id)
	nt.nodeShards[idx] = ns
	return nt
}

func insertAt(content []string, index *int, id string) []string {
	out := cloneContent(content)
	pos := len(out)
	if index != nil {
		pos = *index
		if pos > len(out) {
			pos = len(out)
		}
		if pos < 0 {
			pos = 0
		}
	}
	out = append(out, "")
	copy(out[pos+1:], out[pos:])
	out[pos] = id
	return out
}

func removeFrom(content []string, id string) []string {
	out := make([]string, 0, len(content))
	for _, c := range content {
		if c != id {
			out = append(out, c)
		}
	}
	return out
}

// Add inserts nodes (a flat set representing a subtree: one or more
// top-level new children of parentID, plus any of their own descendants
// also present in nodes) at position index under parentID. Fails if the
// parent is missing, any id collides with an existing node, or the
// inserted subtree contains a cycle.
func (t *Tree) Add(parentID string, index *int, nodes []Node) (*Tree, error) {
	parent := t.Get(parentID)
	if parent == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "parent "+parentID+" not found")
	}

	newIDs := map[string]bool{}
	byID := map[string]Node{}
	for _, n := range nodes {
		if t.Get(n.ID) != nil || newIDs[n.ID] {
			return nil, merr.NewStepError(merr.ErrDuplicateID, "", "id "+n.ID+" already exists")
		}
		newIDs[n.ID] = true
		byID[n.ID] = n
	}

	// a node referenced as a child by another new node is not a "top"
	// insertion point under parentID.
	referenced := map[string]bool{}
	for _, n := range nodes {
		for _, c := range n.Content {
			if newIDs[c] {
				referenced[c] = true
			}
		}
	}

	// cycle check: no new node may (transitively, through new-node
	// content only) contain itself.
	for _, n := range nodes {
		visited := map[string]bool{}
		var walk func(string) bool
		walk = func(cur string) bool {
			if cur == n.ID && visited[cur] {
				return true
			}
			if visited[cur] {
				return false
			}
			visited[cur] = true
			node, ok := byID[cur]
			if !ok {
				return false
			}
			for _, c := range node.Content {
				if c == n.ID {
					return true
				}
				if newIDs[c] && walk(c) {
					return true
				}
			}
			return false
		}
		if walk(n.ID) {
			return nil, merr.NewStepError(merr.ErrCycle, "", "node "+n.ID+" is its own descendant")
		}
	}

	nt := t
	var topOrder []string
	for _, n := range nodes {
		nt = nt.setNode(n)
		if referenced[n.ID] {
			continue
		}
		topOrder = append(topOrder, n.ID)
	}
	// parent links: new-node-to-new-node links from content, plus top
	// nodes to parentID.
	for _, n := range nodes {
		for _, c := range n.Content {
			if newIDs[c] {
				nt = nt.setParent(c, n.ID)
			}
		}
	}

	newParent := parent.clone()
	content := newParent.Content
	pos := index
	for _, id := range topOrder {
		content = insertAt(content, pos, id)
		nt = nt.setParent(id, parentID)
		if pos != nil {
			next := *pos + 1
			pos = &next
		}
	}
	newParent.Content = content
	nt = nt.setNode(newParent)

	return nt, nil
}

// Remove deletes childIDs and their descendants from parentID's content.
// Fails if any childID is not currently a child of parentID.
func (t *Tree) Remove(parentID string, childIDs []string) (*Tree, error) {
	parent := t.Get(parentID)
	if parent == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "parent "+parentID+" not found")
	}
	for _, id := range childIDs {
		if p, ok := t.Parent(id); !ok || p != parentID {
			return nil, merr.NewStepError(merr.ErrNotAChild, "", id+" is not a child of "+parentID)
		}
	}

	toDelete := map[string]bool{}
	for _, id := range childIDs {
		toDelete[id] = true
		for _, d := range t.Descendants(id) {
			toDelete[d] = true
		}
	}

	nt := t
	for id := range toDelete {
		nt = nt.deleteNode(id)
		nt = nt.deleteParent(id)
	}

	newParent := parent.clone()
	content := newParent.Content
	for _, id := range childIDs {
		content = removeFrom(content, id)
	}
	newParent.Content = content
	nt = nt.setNode(newParent)

	return nt, nil
}

// Move atomically reparents id from srcParent to dstParent at index.
// Fails if id equals dstParent or is an ancestor of dstParent (cycle), or
// if id is not currently a child of srcParent.
func (t *Tree) Move(srcParent, dstParent, id string, index *int) (*Tree, error) {
	if p, ok := t.Parent(id); !ok || p != srcParent {
		return nil, merr.NewStepError(merr.ErrNotAChild, "", id+" is not a child of "+srcParent)
	}
	if t.isSelfOrAncestorOf(id, dstParent) {
		return nil, merr.NewStepError(merr.ErrCycle, "", "moving "+id+" under "+dstParent+" would create a cycle")
	}
	dst := t.Get(dstParent)
	if dst == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "target parent "+dstParent+" not found")
	}

	src := t.Get(srcParent)
	srcCopy := src.clone()
	srcCopy.Content = removeFrom(srcCopy.Content, id)

	dstCopy := dst.clone()
	dstCopy.Content = insertAt(dstCopy.Content, index, id)

	nt := t.setNode(*srcCopy)
	nt = nt.setNode(*dstCopy)
	nt = nt.setParent(id, dstParent)
	return nt, nil
}

// SetAttrs replaces id's attrs with the result of applying changes (a
// nil value for a key deletes it). Parent/content are unchanged.
func (t *Tree) SetAttrs(id string, changes map[string]any) (*Tree, error) {
	n := t.Get(id)
	if n == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "node "+id+" not found")
	}
	nc := n.clone()
	if nc.Attrs == nil {
		nc.Attrs = map[string]any{}
	}
	for k, v := range changes {
		if v == nil {
			delete(nc.Attrs, k)
			continue
		}
		nc.Attrs[k] = v
	}
	return t.setNode(*nc), nil
}

// ReplaceMarks replaces id's mark list wholesale.
func (t *Tree) ReplaceMarks(id string, marks []Mark) (*Tree, error) {
	n := t.Get(id)
	if n == nil {
		return nil, merr.NewStepError(merr.ErrMissingParent, "", "node "+id+" not found")
	}
	nc := n.clone()
	nc.Marks = cloneMarks(marks)
	return t.setNode(*nc), nil
}

// CheckInvariants verifies the structural invariants of spec.md §3: a
// single root with no parent entry, every content id present and
// pointing back via parent_map, no cycles, no dangling references.
func (t *Tree) CheckInvariants() error {
	if _, ok := t.Parent(t.rootID); ok {
		return merr.NewStepError(merr.ErrCycle, "", "root must not have a parent entry")
	}
	visited := map[string]bool{}
	var walk func(id string) error
	walk = func(id string) error {
		if visited[id] {
			return merr.NewStepError(merr.ErrCycle, "", "cycle at "+id)
		}
		visited[id] = true
		n := t.Get(id)
		if n == nil {
			return merr.NewStepError(merr.ErrMissingParent, "", "dangling reference "+id)
		}
		for _, c := range n.Content {
			p, ok := t.Parent(c)
			if !ok || p != id {
				return merr.NewStepError(merr.ErrNotAChild, "", c+" does not point back to "+id)
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t.rootID)
}
