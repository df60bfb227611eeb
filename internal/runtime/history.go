package runtime

import (
	"sync"

	"github.com/google/btree"

	"github.com/moduforge/moduforge/internal/schema"
	"github.com/moduforge/moduforge/internal/step"
	"github.com/moduforge/moduforge/internal/transaction"
	"github.com/moduforge/moduforge/internal/tree"
)

// historyEntry pairs the version a dispatch produced with the
// transaction that undoes it.
type historyEntry struct {
	version uint64
	inverse transaction.Transaction
}

func historyLess(a, b historyEntry) bool { return a.version < b.version }

// history is the bounded undo/redo stack of spec.md §4.7. Dispatching a
// new transaction clears the redo stack, matching standard editor undo
// semantics. Undo/Redo only ever touch the ring buffer's tail; UndoTo
// uses the btree index to find every entry past a target version without
// a linear scan of entries.
type history struct {
	mu        sync.Mutex
	limit     int
	entries   []historyEntry
	redoStack []historyEntry
	index     *btree.BTreeG[historyEntry]
}

func newHistory(limit int) *history {
	return &history{
		limit: limit,
		index: btree.NewG(8, historyLess),
	}
}

func (h *history) push(e historyEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	h.index.ReplaceOrInsert(e)
	h.redoStack = nil
	for len(h.entries) > h.limit && h.limit > 0 {
		evicted := h.entries[0]
		h.entries = h.entries[1:]
		h.index.Delete(evicted)
	}
}

func (h *history) popUndo() (historyEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return historyEntry{}, false
	}
	last := h.entries[len(h.entries)-1]
	h.entries = h.entries[:len(h.entries)-1]
	h.index.Delete(last)
	h.redoStack = append(h.redoStack, last)
	return last, true
}

func (h *history) popRedo() (historyEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redoStack) == 0 {
		return historyEntry{}, false
	}
	last := h.redoStack[len(h.redoStack)-1]
	h.redoStack = h.redoStack[:len(h.redoStack)-1]
	h.entries = append(h.entries, last)
	h.index.ReplaceOrInsert(last)
	return last, true
}

// popUndoTo pops every entry with version > target off the undo stack,
// most recent first, pushing each onto the redo stack in the order Redo
// expects to replay them. Returns nil if target is already the current
// version or newer.
func (h *history) popUndoTo(target uint64) []historyEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	var popped []historyEntry
	h.index.Descend(func(e historyEntry) bool {
		if e.version <= target {
			return false
		}
		popped = append(popped, e)
		return true
	})
	if len(popped) == 0 {
		return nil
	}
	for _, e := range popped {
		h.index.Delete(e)
	}
	h.entries = h.entries[:len(h.entries)-len(popped)]
	for _, e := range popped {
		h.redoStack = append(h.redoStack, e)
	}
	return popped
}

// computeInverse replays tx.Steps against pre (purely to derive each
// step's inverse; the result is discarded) and returns a transaction
// that undoes tx's effect on pre when applied immediately afterward.
// Only the originally-dispatched transaction is inverted — any
// plugin-appended follow-ups are not separately undoable.
func computeInverse(pre *tree.Tree, sch *schema.Schema, tx transaction.Transaction) (transaction.Transaction, error) {
	current := pre
	inverses := make([]step.Step, 0, len(tx.Steps))
	for _, s := range tx.Steps {
		next, err := s.Apply(current, sch)
		if err != nil {
			return transaction.Transaction{}, err
		}
		inverses = append(inverses, s.Invert(current))
		current = next
	}
	inv := transaction.New(0)
	inv.Meta[transaction.MetaSource] = transaction.SourceUndo
	for i := len(inverses) - 1; i >= 0; i-- {
		inv.Steps = append(inv.Steps, inverses[i])
	}
	return inv, nil
}
