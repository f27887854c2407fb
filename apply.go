package cartograph

import (
	"fmt"

	"github.com/user/cartograph/packages/manifest"
)

// Apply executes a change against d outside of any history.
// It is all-or-nothing: on error d is unchanged.
func Apply(d *Document, c Change) error {
	return execute(d, c)
}

// Revert undoes a change previously applied to d. On error d is unchanged.
func Revert(d *Document, c Change) error {
	return undo(d, c)
}

// execute applies a change. Every variant checks all of its preconditions before the
// first mutation, so a failure leaves d untouched.
// 変更は必ず undo で正確に元に戻せることが前提。
func execute(d *Document, c Change) error {
	switch c := c.(type) {
	case AddLayers:
		return addLayers(d, c.Index, c.Layers)
	case RemoveLayers:
		return removeLayers(d, c)
	case UpdateLayer:
		return replaceLayer(d, c.Before, c.After)
	case MoveLayer:
		return moveLayer(d, c.ID, c.From, c.To)
	case SetActiveLayer:
		return setActiveLayer(d, c.After)
	case RenameProject:
		d.setName(c.After)
		return nil
	case AddLayouts:
		return addLayouts(d, c.Index, c.Layouts)
	case RemoveLayouts:
		return removeLayouts(d, c.Removed)
	case UpdateLayout:
		return replaceLayout(d, c.Before, c.After)
	case SetLayoutScale:
		return setLayoutScale(d, c.ID, c.After)
	case AddSharedViews:
		return addViews(d, c.Index, c.Views)
	case RemoveSharedViews:
		return removeViews(d, c)
	case UpdateSharedView:
		return replaceView(d, c.Before, c.After)
	case SetActiveSharedView:
		return setActiveView(d, c.After)
	case Composite:
		return executeComposite(d, c.Changes)
	case nil:
		return fmt.Errorf("execute: nil change")
	default:
		return fmt.Errorf("execute: unsupported change %T", c)
	}
}

// undo reverses a change that was the last one executed against d.
func undo(d *Document, c Change) error {
	switch c := c.(type) {
	case AddLayers:
		return unaddLayers(d, c.Index, c.Layers)
	case RemoveLayers:
		return restoreLayers(d, c)
	case UpdateLayer:
		return replaceLayer(d, c.After, c.Before)
	case MoveLayer:
		return moveLayer(d, c.ID, c.To, c.From)
	case SetActiveLayer:
		return setActiveLayer(d, c.Before)
	case RenameProject:
		d.setName(c.Before)
		return nil
	case AddLayouts:
		return unaddLayouts(d, c.Index, c.Layouts)
	case RemoveLayouts:
		return restoreLayouts(d, c.Removed)
	case UpdateLayout:
		return replaceLayout(d, c.After, c.Before)
	case SetLayoutScale:
		return setLayoutScale(d, c.ID, c.Before)
	case AddSharedViews:
		return unaddViews(d, c.Index, c.Views)
	case RemoveSharedViews:
		return restoreViews(d, c)
	case UpdateSharedView:
		return replaceView(d, c.After, c.Before)
	case SetActiveSharedView:
		return setActiveView(d, c.Before)
	case Composite:
		return undoComposite(d, c.Changes)
	case nil:
		return fmt.Errorf("undo: nil change")
	default:
		return fmt.Errorf("undo: unsupported change %T", c)
	}
}

func executeComposite(d *Document, changes []Change) error {
	for i, child := range changes {
		if err := execute(d, child); err != nil {
			// 適用済みの子を逆順に巻き戻す
			for j := i - 1; j >= 0; j-- {
				if rbErr := undo(d, changes[j]); rbErr != nil {
					return fmt.Errorf("composite step %d: %w (rollback of step %d failed: %v)", i, err, j, rbErr)
				}
			}
			return fmt.Errorf("composite step %d: %w", i, err)
		}
	}
	return nil
}

func undoComposite(d *Document, changes []Change) error {
	for i := len(changes) - 1; i >= 0; i-- {
		if err := undo(d, changes[i]); err != nil {
			for j := i + 1; j < len(changes); j++ {
				if rbErr := execute(d, changes[j]); rbErr != nil {
					return fmt.Errorf("composite undo step %d: %w (reapply of step %d failed: %v)", i, err, j, rbErr)
				}
			}
			return fmt.Errorf("composite undo step %d: %w", i, err)
		}
	}
	return nil
}

// --- layers ---

func addLayers(d *Document, at int, layers []Layer) error {
	if at < 0 || at > d.LayerCount() {
		return stale("add layers: position %d out of range", at)
	}
	seen := make(map[LayerID]bool, len(layers))
	for _, l := range layers {
		if l.ID == "" {
			return stale("add layers: layer without id")
		}
		if seen[l.ID] || d.HasLayer(l.ID) {
			return stale("add layers: layer already exists: %s", l.ID)
		}
		seen[l.ID] = true
	}
	for i, l := range layers {
		d.insertLayer(at+i, l)
	}
	return nil
}

func unaddLayers(d *Document, at int, layers []Layer) error {
	for i, l := range layers {
		if d.LayerIndex(l.ID) != at+i {
			return stale("undo add layers: layer %s is not at position %d", l.ID, at+i)
		}
	}
	for i := len(layers) - 1; i >= 0; i-- {
		d.removeLayerAt(at + i)
	}
	return nil
}

func removeLayers(d *Document, c RemoveLayers) error {
	removed := make(map[LayerID]bool, len(c.Removed))
	for _, r := range c.Removed {
		if d.LayerIndex(r.Layer.ID) != r.Index {
			return stale("remove layers: layer %s is not at position %d", r.Layer.ID, r.Index)
		}
		removed[r.Layer.ID] = true
	}
	sv := d.SharedViews()
	for _, e := range c.Entries {
		vi := viewPosition(sv.Views, e.View)
		if vi < 0 {
			return stale("remove layers: shared view does not exist: %s", e.View)
		}
		idx := sv.Views[vi].LayerIndex
		if e.Position >= len(idx) || idx[e.Position].LayerID != e.Entry.LayerID {
			return stale("remove layers: view %s has no entry for %s at %d", e.View, e.Entry.LayerID, e.Position)
		}
	}

	for i := len(c.Entries) - 1; i >= 0; i-- {
		e := c.Entries[i]
		d.removeViewEntryAt(viewPosition(sv.Views, e.View), e.Position)
	}
	for i := len(c.Removed) - 1; i >= 0; i-- {
		d.removeLayerAt(c.Removed[i].Index)
	}
	if removed[d.ActiveLayer()] {
		d.setActiveLayer("")
	}
	return nil
}

func restoreLayers(d *Document, c RemoveLayers) error {
	count := d.LayerCount()
	for _, r := range c.Removed {
		if d.HasLayer(r.Layer.ID) {
			return stale("undo remove layers: layer already exists: %s", r.Layer.ID)
		}
		if r.Index > count {
			return stale("undo remove layers: position %d out of range", r.Index)
		}
		count++
	}
	sv := d.SharedViews()
	grown := make(map[ViewID]int)
	for _, e := range c.Entries {
		vi := viewPosition(sv.Views, e.View)
		if vi < 0 {
			return stale("undo remove layers: shared view does not exist: %s", e.View)
		}
		if e.Position > len(sv.Views[vi].LayerIndex)+grown[e.View] {
			return stale("undo remove layers: view %s position %d out of range", e.View, e.Position)
		}
		grown[e.View]++
	}

	removed := make(map[LayerID]bool, len(c.Removed))
	for _, r := range c.Removed {
		d.insertLayer(r.Index, r.Layer)
		removed[r.Layer.ID] = true
	}
	for _, e := range c.Entries {
		d.insertViewEntry(viewPosition(sv.Views, e.View), e.Position, e.Entry)
	}
	if removed[c.PriorActive] {
		d.setActiveLayer(c.PriorActive)
	}
	return nil
}

func replaceLayer(d *Document, from, to Layer) error {
	if from.ID != to.ID {
		return stale("update layer: id changes from %s to %s", from.ID, to.ID)
	}
	i := d.LayerIndex(from.ID)
	if i < 0 {
		return stale("update layer: layer does not exist: %s", from.ID)
	}
	d.replaceLayer(i, to)
	return nil
}

func moveLayer(d *Document, id LayerID, from, to int) error {
	if d.LayerIndex(id) != from {
		return stale("move layer: layer %s is not at position %d", id, from)
	}
	if to < 0 || to >= d.LayerCount() {
		return stale("move layer: position %d out of range", to)
	}
	d.moveLayer(from, to)
	return nil
}

func setActiveLayer(d *Document, id LayerID) error {
	if id != "" && !d.HasLayer(id) {
		return stale("set active layer: layer does not exist: %s", id)
	}
	d.setActiveLayer(id)
	return nil
}

// --- layouts ---

func addLayouts(d *Document, at int, layouts []Layout) error {
	if at < 0 || at > len(d.Layouts()) {
		return stale("add layouts: position %d out of range", at)
	}
	seen := make(map[LayoutID]bool, len(layouts))
	for _, l := range layouts {
		if l.ID == "" {
			return stale("add layouts: layout without id")
		}
		if seen[l.ID] || d.Layout(l.ID) != nil {
			return stale("add layouts: layout already exists: %s", l.ID)
		}
		seen[l.ID] = true
	}
	for i, l := range layouts {
		d.insertLayout(at+i, l)
	}
	return nil
}

func unaddLayouts(d *Document, at int, layouts []Layout) error {
	current := d.Layouts()
	for i, l := range layouts {
		if at+i >= len(current) || current[at+i].ID != l.ID {
			return stale("undo add layouts: layout %s is not at position %d", l.ID, at+i)
		}
	}
	for i := len(layouts) - 1; i >= 0; i-- {
		d.removeLayoutAt(at + i)
	}
	return nil
}

func removeLayouts(d *Document, removed []IndexedLayout) error {
	current := d.Layouts()
	for _, r := range removed {
		if r.Index >= len(current) || current[r.Index].ID != r.Layout.ID {
			return stale("remove layouts: layout %s is not at position %d", r.Layout.ID, r.Index)
		}
	}
	for i := len(removed) - 1; i >= 0; i-- {
		d.removeLayoutAt(removed[i].Index)
	}
	return nil
}

func restoreLayouts(d *Document, removed []IndexedLayout) error {
	count := len(d.Layouts())
	for _, r := range removed {
		if d.Layout(r.Layout.ID) != nil {
			return stale("undo remove layouts: layout already exists: %s", r.Layout.ID)
		}
		if r.Index > count {
			return stale("undo remove layouts: position %d out of range", r.Index)
		}
		count++
	}
	for _, r := range removed {
		d.insertLayout(r.Index, r.Layout)
	}
	return nil
}

func replaceLayout(d *Document, from, to Layout) error {
	if from.ID != to.ID {
		return stale("update layout: id changes from %s to %s", from.ID, to.ID)
	}
	i := layoutPosition(d.Layouts(), from.ID)
	if i < 0 {
		return stale("update layout: layout does not exist: %s", from.ID)
	}
	d.replaceLayout(i, to)
	return nil
}

func setLayoutScale(d *Document, id LayoutID, s *manifest.Scale) error {
	i := layoutPosition(d.Layouts(), id)
	if i < 0 {
		return stale("set layout scale: layout does not exist: %s", id)
	}
	d.setLayoutScale(i, s)
	return nil
}

// --- shared views ---

func addViews(d *Document, at int, views []SharedView) error {
	current := d.SharedViews().Views
	if at < 0 || at > len(current) {
		return stale("add shared views: position %d out of range", at)
	}
	seen := make(map[ViewID]bool, len(views))
	for _, v := range views {
		if v.ID == "" {
			return stale("add shared views: view without id")
		}
		if seen[v.ID] || viewPosition(current, v.ID) >= 0 {
			return stale("add shared views: view already exists: %s", v.ID)
		}
		seen[v.ID] = true
	}
	for i, v := range views {
		d.insertView(at+i, v)
	}
	return nil
}

func unaddViews(d *Document, at int, views []SharedView) error {
	current := d.SharedViews().Views
	for i, v := range views {
		if at+i >= len(current) || current[at+i].ID != v.ID {
			return stale("undo add shared views: view %s is not at position %d", v.ID, at+i)
		}
	}
	for i := len(views) - 1; i >= 0; i-- {
		d.removeViewAt(at + i)
	}
	return nil
}

func removeViews(d *Document, c RemoveSharedViews) error {
	current := d.SharedViews().Views
	removed := make(map[ViewID]bool, len(c.Removed))
	for _, r := range c.Removed {
		if r.Index >= len(current) || current[r.Index].ID != r.View.ID {
			return stale("remove shared views: view %s is not at position %d", r.View.ID, r.Index)
		}
		removed[r.View.ID] = true
	}
	for i := len(c.Removed) - 1; i >= 0; i-- {
		d.removeViewAt(c.Removed[i].Index)
	}
	if removed[d.ActiveSharedView()] {
		d.setActiveView("")
	}
	return nil
}

func restoreViews(d *Document, c RemoveSharedViews) error {
	current := d.SharedViews().Views
	count := len(current)
	for _, r := range c.Removed {
		if viewPosition(current, r.View.ID) >= 0 {
			return stale("undo remove shared views: view already exists: %s", r.View.ID)
		}
		if r.Index > count {
			return stale("undo remove shared views: position %d out of range", r.Index)
		}
		count++
	}
	removed := make(map[ViewID]bool, len(c.Removed))
	for _, r := range c.Removed {
		d.insertView(r.Index, r.View)
		removed[r.View.ID] = true
	}
	if removed[c.PriorActive] {
		d.setActiveView(c.PriorActive)
	}
	return nil
}

func replaceView(d *Document, from, to SharedView) error {
	if from.ID != to.ID {
		return stale("update shared view: id changes from %s to %s", from.ID, to.ID)
	}
	i := viewPosition(d.SharedViews().Views, from.ID)
	if i < 0 {
		return stale("update shared view: view does not exist: %s", from.ID)
	}
	d.replaceView(i, to)
	return nil
}

func setActiveView(d *Document, id ViewID) error {
	if id != "" && d.SharedView(id) == nil {
		return stale("set active view: view does not exist: %s", id)
	}
	d.setActiveView(id)
	return nil
}

func viewPosition(views []SharedView, id ViewID) int {
	for i, v := range views {
		if v.ID == id {
			return i
		}
	}
	return -1
}

func layoutPosition(layouts []Layout, id LayoutID) int {
	for i, l := range layouts {
		if l.ID == id {
			return i
		}
	}
	return -1
}
