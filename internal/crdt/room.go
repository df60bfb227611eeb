package crdt

import (
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/moduforge/moduforge/internal/step"
	"github.com/moduforge/moduforge/internal/tree"
)

type roomState int

const (
	roomCreated roomState = iota
	roomInitialized
	roomShutting
)

// room is the per-room replicated structure: one RGA sequence per tree
// node acting as a parent, one LWW map per tree node's attrs and marks,
// and an applied-op log for diagnostics and convergence tests. Local
// apply and remote ingest share one mutex, matching spec.md §5's
// "per-room exclusive section."
type room struct {
	mu        sync.Mutex
	id        string
	replicaID string
	state     roomState
	clock     int64
	sequences map[string]*RGA
	attrs     map[string]*LWWMap
	nodeTypes map[string]string // tree node id -> schema type, established at that id's first insert
	opLog     *btree.BTreeG[Op]

	// dispatcher, if set, receives the synthetic transaction
	// reconstructed from each ingested remote update (spec.md §4.8's
	// ingest_remote contract). Nil for a room with no attached runtime.
	dispatcher Dispatcher
}

func newRoom(id, replicaID string) *room {
	return &room{
		id:        id,
		replicaID: replicaID,
		state:     roomCreated,
		sequences: map[string]*RGA{},
		attrs:     map[string]*LWWMap{},
		nodeTypes: map[string]string{},
		opLog:     btree.NewG(8, opLess),
	}
}

// appliedOps returns every op this room has recorded, ordered by
// (Lamport, replica), for diagnostics and convergence tests — e.g. two
// replicas that converge produce op logs that diff to empty once both
// sides have ingested the other's ops.
func (r *room) appliedOps() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, 0, r.opLog.Len())
	r.opLog.Ascend(func(op Op) bool {
		out = append(out, op)
		return true
	})
	return out
}

func (r *room) currentState() roomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *room) sequenceFor(parentID string) *RGA {
	s, ok := r.sequences[parentID]
	if !ok {
		s = NewRGA(r.replicaID)
		r.sequences[parentID] = s
	}
	return s
}

func (r *room) attrsFor(nodeID string) *LWWMap {
	m, ok := r.attrs[nodeID]
	if !ok {
		m = NewLWWMap()
		r.attrs[nodeID] = m
	}
	return m
}

func (r *room) nextID() ID {
	r.clock++
	return ID{Lamport: r.clock, ReplicaID: r.replicaID}
}

// applyLocal projects steps into the room's replicated structure and
// records the resulting ops in the op log.
func (r *room) applyLocal(steps []step.Step) []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ops []Op
	for _, s := range steps {
		ops = append(ops, r.projectStep(s)...)
	}
	for _, op := range ops {
		r.opLog.ReplaceOrInsert(op)
	}
	return ops
}

func (r *room) projectStep(s step.Step) []Op {
	switch v := s.(type) {
	case step.AddNode:
		return r.projectAddNode(v)
	case step.RemoveNode:
		return r.projectRemoveNode(v)
	case step.MoveNode:
		// Open Question (a): MoveNode stays remove+add at the CRDT
		// layer, so projecting it loses "this was a move" intent (a
		// remote replica sees a delete and a fresh insert).
		var ops []Op
		ops = append(ops, r.projectRemoveNode(step.RemoveNode{ParentID: v.SourceParent, IDs: []string{v.ID}})...)
		ops = append(ops, r.projectAddNode(step.AddNode{ParentID: v.TargetParent, Position: v.Position, Nodes: []tree.Node{{ID: v.ID}}})...)
		return ops
	case step.SetAttrs:
		return r.projectSetAttrs(v)
	case step.AddMark:
		return r.projectAddMark(v)
	case step.RemoveMark:
		return r.projectRemoveMark(v)
	default:
		return nil
	}
}

func topLevelIDs(nodes []tree.Node) []string {
	referenced := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		for _, c := range n.Content {
			referenced[c] = true
		}
	}
	var top []string
	for _, n := range nodes {
		if !referenced[n.ID] {
			top = append(top, n.ID)
		}
	}
	return top
}

func (r *room) projectAddNode(v step.AddNode) []Op {
	byID := make(map[string]tree.Node, len(v.Nodes))
	for _, n := range v.Nodes {
		byID[n.ID] = n
	}

	var ops []Op
	seq := r.sequenceFor(v.ParentID)
	pos := len(seq.Values())
	if v.Position != nil {
		pos = *v.Position
	}
	for _, id := range topLevelIDs(v.Nodes) {
		after := seq.IDBefore(pos)
		elemID := seq.Insert(id, after)
		ops = append(ops, Op{Kind: OpInsert, Scope: v.ParentID, ElemID: elemID, AfterID: after, ChildID: id, TypeName: r.typeNameFor(id, byID)})
		pos++
	}
	for _, n := range v.Nodes {
		ops = append(ops, r.seedNode(n, byID)...)
	}
	return ops
}

// typeNameFor resolves id's schema type from byID if this is its first
// appearance, or from the room's existing registry otherwise (e.g. a
// move re-inserts an already-known id without repeating its type),
// recording it either way.
func (r *room) typeNameFor(id string, byID map[string]tree.Node) string {
	if n, ok := byID[id]; ok && n.TypeName != "" {
		r.nodeTypes[id] = n.TypeName
		return n.TypeName
	}
	return r.nodeTypes[id]
}

// seedNode registers the attrs, marks and content sequence a freshly
// inserted node carries with it, so later operations on its descendants
// have a CRDT home.
func (r *room) seedNode(n tree.Node, byID map[string]tree.Node) []Op {
	var ops []Op
	if n.TypeName != "" {
		r.nodeTypes[n.ID] = n.TypeName
	}
	for k, val := range n.Attrs {
		ops = append(ops, r.projectSetAttrs(step.SetAttrs{ID: n.ID, Changes: map[string]any{k: val}})...)
	}
	for _, m := range n.Marks {
		ops = append(ops, r.projectAddMark(step.AddMark{ID: n.ID, Marks: []tree.Mark{m}})...)
	}
	if len(n.Content) > 0 {
		childSeq := r.sequenceFor(n.ID)
		prev := childSeq.IDBefore(0)
		for _, childID := range n.Content {
			id := childSeq.Insert(childID, prev)
			ops = append(ops, Op{Kind: OpInsert, Scope: n.ID, ElemID: id, AfterID: prev, ChildID: childID, TypeName: r.typeNameFor(childID, byID)})
			prev = id
		}
	}
	return ops
}

// seedTree projects t's entire shape (root plus every descendant) as a
// sequence of create-node ops, establishing the room's starting CRDT
// state from a runtime's current tree, per spec.md §4.8's init_room
// contract.
func (r *room) seedTree(t *tree.Tree) []Op {
	if t == nil {
		return nil
	}
	ids := append([]string{t.RootID()}, t.Descendants(t.RootID())...)
	nodes := make([]tree.Node, 0, len(ids))
	byID := make(map[string]tree.Node, len(ids))
	for _, id := range ids {
		if n := t.Get(id); n != nil {
			nodes = append(nodes, *n)
			byID[id] = *n
		}
	}
	var ops []Op
	for _, n := range nodes {
		ops = append(ops, r.seedNode(n, byID)...)
	}
	return ops
}

func (r *room) projectRemoveNode(v step.RemoveNode) []Op {
	seq := r.sequenceFor(v.ParentID)
	var ops []Op
	for _, childID := range v.IDs {
		id, ok := seq.findID(childID)
		if !ok {
			continue
		}
		seq.Delete(id)
		ops = append(ops, Op{Kind: OpDelete, Scope: v.ParentID, ElemID: id, ChildID: childID})
	}
	return ops
}

func (r *room) projectSetAttrs(v step.SetAttrs) []Op {
	m := r.attrsFor(v.ID)
	var ops []Op
	for k, val := range v.Changes {
		id := r.nextID()
		m.Set(k, val, id)
		ops = append(ops, Op{Kind: OpSetAttr, Scope: v.ID, ElemID: id, Key: k, Value: val})
	}
	return ops
}

func (r *room) projectAddMark(v step.AddMark) []Op {
	m := r.attrsFor(v.ID)
	var ops []Op
	for _, mk := range v.Marks {
		key := "mark:" + mk.TypeName
		id := r.nextID()
		m.Set(key, mk.Attrs, id)
		ops = append(ops, Op{Kind: OpSetAttr, Scope: v.ID, ElemID: id, Key: key, Value: mk.Attrs})
	}
	return ops
}

func (r *room) projectRemoveMark(v step.RemoveMark) []Op {
	m := r.attrsFor(v.ID)
	var ops []Op
	for _, t := range v.MarkTypes {
		key := "mark:" + t
		id := r.nextID()
		m.Set(key, nil, id)
		ops = append(ops, Op{Kind: OpSetAttr, Scope: v.ID, ElemID: id, Key: key, Value: nil})
	}
	return ops
}

// ingestRemote merges remote ops into local state and reconstructs the
// Steps that ops represents, so the caller can submit them to a Runtime
// as a synthetic transaction. Safe to call concurrently with applyLocal;
// both hold the room mutex.
func (r *room) ingestRemote(ops []Op) []step.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			r.sequenceFor(op.Scope).Merge([]Node{{ID: op.ElemID, ParentID: op.AfterID, Value: op.ChildID}})
			if op.TypeName != "" {
				r.nodeTypes[op.ChildID] = op.TypeName
			}
		case OpDelete:
			r.sequenceFor(op.Scope).Merge([]Node{{ID: op.ElemID, Value: op.ChildID, Deleted: true}})
		case OpSetAttr:
			r.attrsFor(op.Scope).Set(op.Key, op.Value, op.ElemID)
		}
	}
	for _, op := range ops {
		r.opLog.ReplaceOrInsert(op)
	}
	return r.stepsFromOps(ops)
}

// indexOf returns i's position in values, or nil if absent.
func indexOf(values []string, id string) *int {
	for i, v := range values {
		if v == id {
			return &i
		}
	}
	return nil
}

// stepsFromOps reconstructs the Steps one applied-together ops batch
// represents, in an order that preserves tree invariants: creates before
// moves before removes at sibling scope, per spec.md §4.8's "CRDT ->
// Step mapping." Must run after ops have already been merged (sequences
// and attrs reflect the resulting state) and with r.mu held.
func (r *room) stepsFromOps(ops []Op) []step.Step {
	type touch struct {
		childID string
		scope   string
	}

	var insertOrder []touch
	seenInsert := map[string]bool{}
	var deleteOrder []touch
	seenDelete := map[string]bool{}
	var attrScopeOrder []string
	seenAttrScope := map[string]bool{}
	attrOps := map[string][]Op{}

	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			if !seenInsert[op.ChildID] {
				seenInsert[op.ChildID] = true
				insertOrder = append(insertOrder, touch{op.ChildID, op.Scope})
			}
		case OpDelete:
			if !seenDelete[op.ChildID] {
				seenDelete[op.ChildID] = true
				deleteOrder = append(deleteOrder, touch{op.ChildID, op.Scope})
			}
		case OpSetAttr:
			attrOps[op.Scope] = append(attrOps[op.Scope], op)
			if !seenAttrScope[op.Scope] {
				seenAttrScope[op.Scope] = true
				attrScopeOrder = append(attrScopeOrder, op.Scope)
			}
		}
	}

	createdIDs := map[string]bool{}
	for _, ins := range insertOrder {
		createdIDs[ins.childID] = true
	}
	deletedScope := map[string]string{}
	for _, d := range deleteOrder {
		deletedScope[d.childID] = d.scope
	}

	var creates, moves, removes, attrSteps []step.Step
	handledDelete := map[string]bool{}

	for _, ins := range insertOrder {
		if createdIDs[ins.scope] {
			continue // nested content insert, folded into its parent's subtree below
		}
		if srcScope, moved := deletedScope[ins.childID]; moved {
			handledDelete[ins.childID] = true
			pos := indexOf(r.sequenceFor(ins.scope).Values(), ins.childID)
			moves = append(moves, step.MoveNode{SourceParent: srcScope, TargetParent: ins.scope, ID: ins.childID, Position: pos})
			continue
		}
		pos := indexOf(r.sequenceFor(ins.scope).Values(), ins.childID)
		creates = append(creates, step.AddNode{ParentID: ins.scope, Position: pos, Nodes: r.buildSubtree(ins.childID, createdIDs)})
	}

	removesByScope := map[string][]string{}
	var removeScopeOrder []string
	for _, d := range deleteOrder {
		if handledDelete[d.childID] {
			continue
		}
		if _, ok := removesByScope[d.scope]; !ok {
			removeScopeOrder = append(removeScopeOrder, d.scope)
		}
		removesByScope[d.scope] = append(removesByScope[d.scope], d.childID)
	}
	for _, scope := range removeScopeOrder {
		removes = append(removes, step.RemoveNode{ParentID: scope, IDs: removesByScope[scope]})
	}

	for _, scope := range attrScopeOrder {
		if createdIDs[scope] {
			continue // already folded into the new node's Attrs/Marks
		}
		attrSteps = append(attrSteps, attrStepsFor(scope, attrOps[scope])...)
	}

	steps := make([]step.Step, 0, len(creates)+len(moves)+len(removes)+len(attrSteps))
	steps = append(steps, creates...)
	steps = append(steps, moves...)
	steps = append(steps, removes...)
	steps = append(steps, attrSteps...)
	return steps
}

// buildSubtree walks id's content sequence, folding in every descendant
// this same batch created, and reads id's current attrs/marks from the
// room's LWW map (already merged by the time this runs).
func (r *room) buildSubtree(id string, createdIDs map[string]bool) []tree.Node {
	var flat []tree.Node
	var collect func(id string)
	collect = func(id string) {
		attrs, marks := r.splitAttrs(id)
		children := r.sequenceFor(id).Values()
		flat = append(flat, tree.Node{ID: id, TypeName: r.nodeTypes[id], Attrs: attrs, Marks: marks, Content: children})
		for _, c := range children {
			if createdIDs[c] {
				collect(c)
			}
		}
	}
	collect(id)
	return flat
}

const markKeyPrefix = "mark:"

// splitAttrs separates id's LWW entries into plain attrs and marks
// (keyed "mark:<type>"), dropping tombstoned (nil-valued) entries.
func (r *room) splitAttrs(id string) (map[string]any, []tree.Mark) {
	snap := r.attrsFor(id).Snapshot()
	var attrs map[string]any
	var marks []tree.Mark
	for k, e := range snap {
		if e.Value == nil {
			continue
		}
		if typeName, ok := strings.CutPrefix(k, markKeyPrefix); ok {
			markAttrs, _ := e.Value.(map[string]any)
			marks = append(marks, tree.Mark{TypeName: typeName, Attrs: markAttrs})
			continue
		}
		if attrs == nil {
			attrs = map[string]any{}
		}
		attrs[k] = e.Value
	}
	return attrs, marks
}

// attrStepsFor turns scope's SetAttr ops from one batch into SetAttrs/
// AddMark/RemoveMark steps. A deleted mark (nil value) becomes a
// RemoveMark; anything else under "mark:" becomes an AddMark; the rest
// become one SetAttrs.
func attrStepsFor(scope string, ops []Op) []step.Step {
	changes := map[string]any{}
	var addMarks []tree.Mark
	var removeMarkTypes []string
	for _, op := range ops {
		typeName, isMark := strings.CutPrefix(op.Key, markKeyPrefix)
		if !isMark {
			changes[op.Key] = op.Value
			continue
		}
		if op.Value == nil {
			removeMarkTypes = append(removeMarkTypes, typeName)
			continue
		}
		markAttrs, _ := op.Value.(map[string]any)
		addMarks = append(addMarks, tree.Mark{TypeName: typeName, Attrs: markAttrs})
	}

	var steps []step.Step
	if len(changes) > 0 {
		steps = append(steps, step.SetAttrs{ID: scope, Changes: changes})
	}
	if len(addMarks) > 0 {
		steps = append(steps, step.AddMark{ID: scope, Marks: addMarks})
	}
	if len(removeMarkTypes) > 0 {
		steps = append(steps, step.RemoveMark{ID: scope, MarkTypes: removeMarkTypes})
	}
	return steps
}
