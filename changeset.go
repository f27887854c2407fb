package cartograph

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/user/cartograph/packages/manifest"
)

// ChangeKind represents the kind of edit a change performs.
// ここでの Change は「取り消し可能な最小単位の編集」を表す。
type ChangeKind int

const (
	KindAddLayers ChangeKind = iota
	KindRemoveLayers
	KindUpdateLayer
	KindMoveLayer
	KindSetActiveLayer
	KindRenameProject
	KindAddLayouts
	KindRemoveLayouts
	KindUpdateLayout
	KindSetLayoutScale
	KindAddSharedViews
	KindRemoveSharedViews
	KindUpdateSharedView
	KindSetActiveSharedView
	KindComposite
)

func (k ChangeKind) String() string {
	switch k {
	case KindAddLayers:
		return "AddLayers"
	case KindRemoveLayers:
		return "RemoveLayers"
	case KindUpdateLayer:
		return "UpdateLayer"
	case KindMoveLayer:
		return "MoveLayer"
	case KindSetActiveLayer:
		return "SetActiveLayer"
	case KindRenameProject:
		return "RenameProject"
	case KindAddLayouts:
		return "AddLayouts"
	case KindRemoveLayouts:
		return "RemoveLayouts"
	case KindUpdateLayout:
		return "UpdateLayout"
	case KindSetLayoutScale:
		return "SetLayoutScale"
	case KindAddSharedViews:
		return "AddSharedViews"
	case KindRemoveSharedViews:
		return "RemoveSharedViews"
	case KindUpdateSharedView:
		return "UpdateSharedView"
	case KindSetActiveSharedView:
		return "SetActiveSharedView"
	case KindComposite:
		return "Composite"
	default:
		return "Unknown"
	}
}

// Change is one reversible edit. The set of implementations is closed: every variant
// lives in this package and is dispatched by execute/undo in apply.go.
// Each variant holds copies of every prior value it needs, never references into a document.
type Change interface {
	Kind() ChangeKind
	change()
}

// AddLayers inserts Layers starting at Index.
type AddLayers struct {
	Index  int
	Layers []Layer
}

// IndexedLayer is a layer and the draw-order position it occupied.
type IndexedLayer struct {
	Index int
	Layer Layer
}

// ViewEntry is a shared-view layer index entry and where it sat.
type ViewEntry struct {
	View     ViewID
	Position int
	Entry    LayerVisibility
}

// RemoveLayers deletes layers. Removing the active layer clears the active reference and
// shared views drop their index entries for removed layers; undo restores all of it.
// Removed and Entries are in ascending position order.
type RemoveLayers struct {
	Removed     []IndexedLayer
	PriorActive LayerID
	Entries     []ViewEntry
}

// UpdateLayer replaces a layer's settings; the id never changes.
type UpdateLayer struct {
	Before Layer
	After  Layer
}

// MoveLayer changes a layer's draw-order position.
type MoveLayer struct {
	ID   LayerID
	From int
	To   int
}

// SetActiveLayer changes the active layer reference. Empty After clears it.
type SetActiveLayer struct {
	Before LayerID
	After  LayerID
}

// RenameProject changes the project display name.
type RenameProject struct {
	Before string
	After  string
}

// AddLayouts inserts Layouts starting at Index.
type AddLayouts struct {
	Index   int
	Layouts []Layout
}

// IndexedLayout is a layout and the position it occupied.
type IndexedLayout struct {
	Index  int
	Layout Layout
}

// RemoveLayouts deletes layouts; Removed is in ascending position order.
type RemoveLayouts struct {
	Removed []IndexedLayout
}

// UpdateLayout replaces a layout's settings; the id never changes.
type UpdateLayout struct {
	Before Layout
	After  Layout
}

// SetLayoutScale sets or removes (nil After) a layout's scale annotation.
// Before is the exact prior value so undo restores it rather than a default.
type SetLayoutScale struct {
	ID     LayoutID
	Before *manifest.Scale
	After  *manifest.Scale
}

// AddSharedViews inserts Views starting at Index.
type AddSharedViews struct {
	Index int
	Views []SharedView
}

// IndexedView is a shared view and the position it occupied.
type IndexedView struct {
	Index int
	View  SharedView
}

// RemoveSharedViews deletes shared views. Removing the active view clears the active
// reference; undo restores it.
type RemoveSharedViews struct {
	Removed     []IndexedView
	PriorActive ViewID
}

// UpdateSharedView replaces a shared view; the id never changes.
type UpdateSharedView struct {
	Before SharedView
	After  SharedView
}

// SetActiveSharedView changes the active shared view. Empty After clears it.
type SetActiveSharedView struct {
	Before ViewID
	After  ViewID
}

// Composite runs Changes in order as one edit and undoes them in reverse.
// A failing child rolls back the children already applied, so nothing is half done.
type Composite struct {
	Changes []Change
}

func (AddLayers) Kind() ChangeKind           { return KindAddLayers }
func (RemoveLayers) Kind() ChangeKind        { return KindRemoveLayers }
func (UpdateLayer) Kind() ChangeKind         { return KindUpdateLayer }
func (MoveLayer) Kind() ChangeKind           { return KindMoveLayer }
func (SetActiveLayer) Kind() ChangeKind      { return KindSetActiveLayer }
func (RenameProject) Kind() ChangeKind       { return KindRenameProject }
func (AddLayouts) Kind() ChangeKind          { return KindAddLayouts }
func (RemoveLayouts) Kind() ChangeKind       { return KindRemoveLayouts }
func (UpdateLayout) Kind() ChangeKind        { return KindUpdateLayout }
func (SetLayoutScale) Kind() ChangeKind      { return KindSetLayoutScale }
func (AddSharedViews) Kind() ChangeKind      { return KindAddSharedViews }
func (RemoveSharedViews) Kind() ChangeKind   { return KindRemoveSharedViews }
func (UpdateSharedView) Kind() ChangeKind    { return KindUpdateSharedView }
func (SetActiveSharedView) Kind() ChangeKind { return KindSetActiveSharedView }
func (Composite) Kind() ChangeKind           { return KindComposite }

func (AddLayers) change()           {}
func (RemoveLayers) change()        {}
func (UpdateLayer) change()         {}
func (MoveLayer) change()           {}
func (SetActiveLayer) change()      {}
func (RenameProject) change()       {}
func (AddLayouts) change()          {}
func (RemoveLayouts) change()       {}
func (UpdateLayout) change()        {}
func (SetLayoutScale) change()      {}
func (AddSharedViews) change()      {}
func (RemoveSharedViews) change()   {}
func (UpdateSharedView) change()    {}
func (SetActiveSharedView) change() {}
func (Composite) change()           {}

// Changeset is a labelled, identified change as recorded in history.
// ID is a ULID so history listings sort by creation time.
type Changeset struct {
	ID        ulid.ULID
	Label     string
	Change    Change
	CreatedAt time.Time
}

// NewChangeset wraps c. An empty label defaults to the change kind.
func NewChangeset(label string, c Change) *Changeset {
	now := time.Now().UTC()
	if label == "" && c != nil {
		label = c.Kind().String()
	}
	return &Changeset{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()),
		Label:     label,
		Change:    c,
		CreatedAt: now,
	}
}

// --- Constructors ---
// 構築時点のドキュメントから undo に必要な値をコピーで取り込む。

// NewAddLayers appends layers after the current last layer.
func NewAddLayers(d *Document, layers ...Layer) (AddLayers, error) {
	if len(layers) == 0 {
		return AddLayers{}, fmt.Errorf("add layers: no layers given")
	}
	seen := make(map[LayerID]bool, len(layers))
	out := make([]Layer, len(layers))
	for i, l := range layers {
		if l.ID == "" {
			return AddLayers{}, fmt.Errorf("add layers: layer %d has no id", i)
		}
		if err := manifest.CheckName(manifest.LayerFeaturesFile(string(l.ID))); err != nil {
			return AddLayers{}, fmt.Errorf("add layers: layer id %q: %w", l.ID, err)
		}
		if seen[l.ID] || d.HasLayer(l.ID) {
			return AddLayers{}, fmt.Errorf("add layers: duplicate layer id %s", l.ID)
		}
		seen[l.ID] = true
		out[i] = cloneLayer(l)
	}
	return AddLayers{Index: d.LayerCount(), Layers: out}, nil
}

// NewRemoveLayers captures the layers and every reference to them.
func NewRemoveLayers(d *Document, ids ...LayerID) (RemoveLayers, error) {
	if len(ids) == 0 {
		return RemoveLayers{}, fmt.Errorf("remove layers: no layers given")
	}
	targets := make(map[LayerID]bool, len(ids))
	for _, id := range ids {
		if targets[id] {
			return RemoveLayers{}, fmt.Errorf("remove layers: layer %s listed twice", id)
		}
		if !d.HasLayer(id) {
			return RemoveLayers{}, fmt.Errorf("remove layers: layer does not exist: %s", id)
		}
		targets[id] = true
	}

	c := RemoveLayers{PriorActive: d.ActiveLayer()}
	for i, l := range d.Layers() {
		if targets[l.ID] {
			c.Removed = append(c.Removed, IndexedLayer{Index: i, Layer: l})
		}
	}
	for _, v := range d.SharedViews().Views {
		for pos, e := range v.LayerIndex {
			if targets[e.LayerID] {
				c.Entries = append(c.Entries, ViewEntry{View: v.ID, Position: pos, Entry: e})
			}
		}
	}
	return c, nil
}

// NewUpdateLayer replaces the stored layer with the same id by after.
func NewUpdateLayer(d *Document, after Layer) (UpdateLayer, error) {
	before := d.Layer(after.ID)
	if before == nil {
		return UpdateLayer{}, fmt.Errorf("update layer: layer does not exist: %s", after.ID)
	}
	return UpdateLayer{Before: *before, After: cloneLayer(after)}, nil
}

// NewSetLayerVisibility shows or hides a layer.
func NewSetLayerVisibility(d *Document, id LayerID, visible bool) (UpdateLayer, error) {
	l := d.Layer(id)
	if l == nil {
		return UpdateLayer{}, fmt.Errorf("set visibility: layer does not exist: %s", id)
	}
	l.Visible = visible
	return NewUpdateLayer(d, *l)
}

// NewSetLayerOpacity changes a layer's opacity.
func NewSetLayerOpacity(d *Document, id LayerID, opacity float64) (UpdateLayer, error) {
	if opacity < 0 || opacity > 1 {
		return UpdateLayer{}, fmt.Errorf("set opacity: %v is outside 0..1", opacity)
	}
	l := d.Layer(id)
	if l == nil {
		return UpdateLayer{}, fmt.Errorf("set opacity: layer does not exist: %s", id)
	}
	l.Opacity = opacity
	return NewUpdateLayer(d, *l)
}

// NewMoveLayer moves a layer to position to.
func NewMoveLayer(d *Document, id LayerID, to int) (MoveLayer, error) {
	from := d.LayerIndex(id)
	if from < 0 {
		return MoveLayer{}, fmt.Errorf("move layer: layer does not exist: %s", id)
	}
	if to < 0 || to >= d.LayerCount() {
		return MoveLayer{}, fmt.Errorf("move layer: position %d out of range", to)
	}
	return MoveLayer{ID: id, From: from, To: to}, nil
}

// NewSetActiveLayer selects a layer; an empty id clears the selection.
func NewSetActiveLayer(d *Document, id LayerID) (SetActiveLayer, error) {
	if id != "" && !d.HasLayer(id) {
		return SetActiveLayer{}, fmt.Errorf("set active layer: layer does not exist: %s", id)
	}
	return SetActiveLayer{Before: d.ActiveLayer(), After: id}, nil
}

// NewRenameProject changes the display name.
func NewRenameProject(d *Document, name string) RenameProject {
	return RenameProject{Before: d.Metadata().Name, After: name}
}

// NewAddLayouts appends layouts.
func NewAddLayouts(d *Document, layouts ...Layout) (AddLayouts, error) {
	if len(layouts) == 0 {
		return AddLayouts{}, fmt.Errorf("add layouts: no layouts given")
	}
	seen := make(map[LayoutID]bool, len(layouts))
	out := make([]Layout, len(layouts))
	for i, l := range layouts {
		if l.ID == "" {
			return AddLayouts{}, fmt.Errorf("add layouts: layout %d has no id", i)
		}
		if seen[l.ID] || d.Layout(l.ID) != nil {
			return AddLayouts{}, fmt.Errorf("add layouts: duplicate layout id %s", l.ID)
		}
		seen[l.ID] = true
		out[i] = cloneLayout(l)
	}
	return AddLayouts{Index: len(d.Layouts()), Layouts: out}, nil
}

// NewRemoveLayouts captures the layouts to remove.
func NewRemoveLayouts(d *Document, ids ...LayoutID) (RemoveLayouts, error) {
	if len(ids) == 0 {
		return RemoveLayouts{}, fmt.Errorf("remove layouts: no layouts given")
	}
	targets := make(map[LayoutID]bool, len(ids))
	for _, id := range ids {
		if targets[id] {
			return RemoveLayouts{}, fmt.Errorf("remove layouts: layout %s listed twice", id)
		}
		if d.Layout(id) == nil {
			return RemoveLayouts{}, fmt.Errorf("remove layouts: layout does not exist: %s", id)
		}
		targets[id] = true
	}
	var c RemoveLayouts
	for i, l := range d.Layouts() {
		if targets[l.ID] {
			c.Removed = append(c.Removed, IndexedLayout{Index: i, Layout: l})
		}
	}
	return c, nil
}

// NewUpdateLayout replaces the stored layout with the same id by after.
func NewUpdateLayout(d *Document, after Layout) (UpdateLayout, error) {
	before := d.Layout(after.ID)
	if before == nil {
		return UpdateLayout{}, fmt.Errorf("update layout: layout does not exist: %s", after.ID)
	}
	return UpdateLayout{Before: *before, After: cloneLayout(after)}, nil
}

// NewSetLayoutScale places (or with nil removes) a layout's scale annotation.
func NewSetLayoutScale(d *Document, id LayoutID, scale *manifest.Scale) (SetLayoutScale, error) {
	l := d.Layout(id)
	if l == nil {
		return SetLayoutScale{}, fmt.Errorf("set layout scale: layout does not exist: %s", id)
	}
	return SetLayoutScale{ID: id, Before: cloneScale(l.Scale), After: cloneScale(scale)}, nil
}

// NewAddSharedViews appends shared views.
// Layer index entries are not checked here so a composite may add the layers first;
// history rejects the edit if an entry is still dangling once applied.
func NewAddSharedViews(d *Document, views ...SharedView) (AddSharedViews, error) {
	if len(views) == 0 {
		return AddSharedViews{}, fmt.Errorf("add shared views: no views given")
	}
	seen := make(map[ViewID]bool, len(views))
	out := make([]SharedView, len(views))
	for i, v := range views {
		if v.ID == "" {
			return AddSharedViews{}, fmt.Errorf("add shared views: view %d has no id", i)
		}
		if seen[v.ID] || d.SharedView(v.ID) != nil {
			return AddSharedViews{}, fmt.Errorf("add shared views: duplicate view id %s", v.ID)
		}
		seen[v.ID] = true
		out[i] = cloneView(v)
	}
	return AddSharedViews{Index: len(d.SharedViews().Views), Views: out}, nil
}

// NewAddSharedViewsAndActivate adds views and makes the last one active, as one edit.
func NewAddSharedViewsAndActivate(d *Document, views ...SharedView) (Composite, error) {
	add, err := NewAddSharedViews(d, views...)
	if err != nil {
		return Composite{}, err
	}
	activate := SetActiveSharedView{Before: d.ActiveSharedView(), After: add.Views[len(add.Views)-1].ID}
	return Composite{Changes: []Change{add, activate}}, nil
}

// NewRemoveSharedViews captures the views to remove.
func NewRemoveSharedViews(d *Document, ids ...ViewID) (RemoveSharedViews, error) {
	if len(ids) == 0 {
		return RemoveSharedViews{}, fmt.Errorf("remove shared views: no views given")
	}
	targets := make(map[ViewID]bool, len(ids))
	for _, id := range ids {
		if targets[id] {
			return RemoveSharedViews{}, fmt.Errorf("remove shared views: view %s listed twice", id)
		}
		if d.SharedView(id) == nil {
			return RemoveSharedViews{}, fmt.Errorf("remove shared views: view does not exist: %s", id)
		}
		targets[id] = true
	}
	sv := d.SharedViews()
	c := RemoveSharedViews{PriorActive: sv.ActiveID}
	for i, v := range sv.Views {
		if targets[v.ID] {
			c.Removed = append(c.Removed, IndexedView{Index: i, View: v})
		}
	}
	return c, nil
}

// NewUpdateSharedView replaces the stored view with the same id by after.
func NewUpdateSharedView(d *Document, after SharedView) (UpdateSharedView, error) {
	before := d.SharedView(after.ID)
	if before == nil {
		return UpdateSharedView{}, fmt.Errorf("update shared view: view does not exist: %s", after.ID)
	}
	return UpdateSharedView{Before: *before, After: cloneView(after)}, nil
}

// NewSetActiveSharedView selects a shared view; an empty id clears the selection.
func NewSetActiveSharedView(d *Document, id ViewID) (SetActiveSharedView, error) {
	if id != "" && d.SharedView(id) == nil {
		return SetActiveSharedView{}, fmt.Errorf("set active view: view does not exist: %s", id)
	}
	return SetActiveSharedView{Before: d.ActiveSharedView(), After: id}, nil
}

// AffectedLayers returns the layer ids a change touches, for reference analysis.
// 参照解析の起点（seed）として使う。
func AffectedLayers(c Change) []LayerID {
	switch c := c.(type) {
	case AddLayers:
		ids := make([]LayerID, len(c.Layers))
		for i, l := range c.Layers {
			ids[i] = l.ID
		}
		return ids
	case RemoveLayers:
		ids := make([]LayerID, len(c.Removed))
		for i, r := range c.Removed {
			ids[i] = r.Layer.ID
		}
		return ids
	case UpdateLayer:
		return []LayerID{c.After.ID}
	case MoveLayer:
		return []LayerID{c.ID}
	case SetActiveLayer:
		var ids []LayerID
		if c.Before != "" {
			ids = append(ids, c.Before)
		}
		if c.After != "" && c.After != c.Before {
			ids = append(ids, c.After)
		}
		return ids
	case AddSharedViews:
		return viewLayers(c.Views)
	case UpdateSharedView:
		return viewLayers([]SharedView{c.Before, c.After})
	case RemoveSharedViews:
		views := make([]SharedView, len(c.Removed))
		for i, r := range c.Removed {
			views[i] = r.View
		}
		return viewLayers(views)
	case Composite:
		seen := make(map[LayerID]bool)
		var ids []LayerID
		for _, child := range c.Changes {
			for _, id := range AffectedLayers(child) {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		return ids
	default:
		return nil
	}
}

func viewLayers(views []SharedView) []LayerID {
	seen := make(map[LayerID]bool)
	var ids []LayerID
	for _, v := range views {
		for _, e := range v.LayerIndex {
			if !seen[e.LayerID] {
				seen[e.LayerID] = true
				ids = append(ids, e.LayerID)
			}
		}
	}
	return ids
}
