package cartograph

import "fmt"

// Replay builds a document by executing changesets, in order, on a copy of base.
// 基準スナップショット + 適用済みChangeset列 = 現在のDocument を構成する射影。
func Replay(base *Snapshot, changesets []*Changeset) (*Document, error) {
	d := base.Document()
	if d == nil {
		return nil, fmt.Errorf("replay: no base snapshot")
	}
	for i, cs := range changesets {
		if cs == nil {
			return nil, fmt.Errorf("replay: changeset %d is nil", i)
		}
		if err := execute(d, cs.Change); err != nil {
			return nil, fmt.Errorf("replay changeset %d (%s): %w", i, cs.Label, err)
		}
	}
	return d, nil
}

// Verify checks that replaying the applied changesets on the history's base reproduces
// the live document exactly. A mismatch means some change did not record what it needed.
func (h *History) Verify() error {
	replayed, err := Replay(h.base, h.Applied())
	if err != nil {
		return err
	}
	if !SnapshotFromDocument(replayed).Equal(SnapshotFromDocument(h.doc)) {
		return fmt.Errorf("replay of %d changesets does not reproduce the document", len(h.applied))
	}
	return nil
}
