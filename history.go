package cartograph

import "fmt"

// History is the linear undo/redo ledger of one editing session.
//
// applied holds executed changesets, most recent last; undone holds undone ones, most
// recently undone last. Pushing a new changeset discards undone: there is no branching.
// Every operation re-checks the document invariants and reverts itself on a violation.
//
// History is not safe for concurrent use; Session serializes access to it.
// 同一Documentに対する execute/undo/redo は必ず直列に行うこと。
type History struct {
	doc      *Document
	base     *Snapshot
	applied  []*Changeset
	undone   []*Changeset
	maxDepth int
}

// NewHistory binds an empty history to doc. maxDepth limits how many changesets can be
// undone; the oldest are forgotten first. Zero means unlimited.
func NewHistory(doc *Document, maxDepth int) *History {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &History{doc: doc, base: SnapshotFromDocument(doc), maxDepth: maxDepth}
}

// Document returns the live document the history edits.
func (h *History) Document() *Document {
	return h.doc
}

// Base returns the document state before the oldest changeset still held.
func (h *History) Base() *Snapshot {
	return h.base
}

// PushAndExecute executes cs against the document and records it.
// The redo branch is discarded. On any error the document and both stacks are unchanged.
func (h *History) PushAndExecute(cs *Changeset) error {
	if cs == nil || cs.Change == nil {
		return fmt.Errorf("push: empty changeset")
	}
	if err := execute(h.doc, cs.Change); err != nil {
		return fmt.Errorf("execute %s: %w", cs.Label, err)
	}
	if v := violation(h.doc, "execute", cs.Change.Kind()); v != nil {
		if err := undo(h.doc, cs.Change); err != nil {
			return fmt.Errorf("%w (revert failed: %v)", v, err)
		}
		return v
	}
	h.applied = append(h.applied, cs)
	h.undone = nil
	h.trim()
	return nil
}

// Undo reverses the most recent applied changeset and returns it.
// With nothing applied it returns ErrNothingToUndo and does nothing.
func (h *History) Undo() (*Changeset, error) {
	if len(h.applied) == 0 {
		return nil, ErrNothingToUndo
	}
	cs := h.applied[len(h.applied)-1]
	if err := undo(h.doc, cs.Change); err != nil {
		return nil, fmt.Errorf("undo %s: %w", cs.Label, err)
	}
	if v := violation(h.doc, "undo", cs.Change.Kind()); v != nil {
		if err := execute(h.doc, cs.Change); err != nil {
			return nil, fmt.Errorf("%w (revert failed: %v)", v, err)
		}
		return nil, v
	}
	h.applied = h.applied[:len(h.applied)-1]
	h.undone = append(h.undone, cs)
	return cs, nil
}

// Redo re-executes the most recently undone changeset and returns it.
// With nothing undone it returns ErrNothingToRedo and does nothing.
func (h *History) Redo() (*Changeset, error) {
	if len(h.undone) == 0 {
		return nil, ErrNothingToRedo
	}
	cs := h.undone[len(h.undone)-1]
	if err := execute(h.doc, cs.Change); err != nil {
		return nil, fmt.Errorf("redo %s: %w", cs.Label, err)
	}
	if v := violation(h.doc, "redo", cs.Change.Kind()); v != nil {
		if err := undo(h.doc, cs.Change); err != nil {
			return nil, fmt.Errorf("%w (revert failed: %v)", v, err)
		}
		return nil, v
	}
	h.undone = h.undone[:len(h.undone)-1]
	h.applied = append(h.applied, cs)
	return cs, nil
}

// Reset clears both stacks without touching the document.
func (h *History) Reset() {
	h.applied = nil
	h.undone = nil
	h.base = SnapshotFromDocument(h.doc)
}

// Replace binds the history to a different document and resets it.
// ロード時に呼ばれ、以前の履歴は意味を持たないため破棄する。
func (h *History) Replace(doc *Document) {
	h.doc = doc
	h.Reset()
}

// CanUndo reports whether Undo has something to do.
func (h *History) CanUndo() bool {
	return len(h.applied) > 0
}

// CanRedo reports whether Redo has something to do.
func (h *History) CanRedo() bool {
	return len(h.undone) > 0
}

// Applied returns the applied changesets, most recent last.
func (h *History) Applied() []*Changeset {
	out := make([]*Changeset, len(h.applied))
	copy(out, h.applied)
	return out
}

// Undone returns the undone changesets, most recently undone last.
func (h *History) Undone() []*Changeset {
	out := make([]*Changeset, len(h.undone))
	copy(out, h.undone)
	return out
}

// MaxDepth returns the undo limit, 0 when unlimited.
func (h *History) MaxDepth() int {
	return h.maxDepth
}

// trim forgets the oldest applied changesets beyond maxDepth, folding them into base.
func (h *History) trim() {
	if h.maxDepth == 0 {
		return
	}
	for len(h.applied) > h.maxDepth {
		oldest := h.applied[0]
		h.applied = h.applied[1:]
		if h.base == nil {
			continue
		}
		d := h.base.Document()
		if err := execute(d, oldest.Change); err != nil {
			// Base is no longer reproducible; Verify reports it.
			h.base = nil
			continue
		}
		h.base = SnapshotFromDocument(d)
	}
}
