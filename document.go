package cartograph

import (
	"sync"

	"github.com/google/uuid"

	"github.com/user/cartograph/packages/manifest"
)

// LayerID identifies a layer within a project.
// プロジェクト内で一意であることが不変条件。
type LayerID string

// LayoutID identifies a paged export layout.
type LayoutID string

// ViewID identifies a shared view.
type ViewID string

// Metadata is the project header.
type Metadata struct {
	ID         string
	Version    manifest.Version
	Name       string
	Projection string
}

// Layer is one map layer. Vector layers carry their features as opaque GeoJSON bytes;
// remote layers carry a tile or map service definition instead.
// ジオメトリは解釈しない。
type Layer struct {
	ID       LayerID
	Name     string
	Type     string
	Visible  bool
	Opacity  float64
	Style    *manifest.Style
	Features []byte
	// HasData marks a vector layer whose features live in an auxiliary file. It is
	// implied by non-empty Features and kept for an empty file.
	HasData  bool
	Remote   *manifest.Remote
}

// Layout is a paged export view of the map.
// Scale is the position of the scale annotation, nil when the layout has none.
type Layout struct {
	ID     LayoutID
	Name   string
	Format manifest.PageFormat
	View   manifest.MapView
	Scale  *manifest.Scale
}

// LayerVisibility is one entry of a shared view's layer index.
type LayerVisibility struct {
	LayerID LayerID
	Visible bool
}

// SharedView is a published view of the project.
type SharedView struct {
	ID         ViewID
	View       manifest.MapView
	LayerIndex []LayerVisibility
}

// SharedViews holds the published views and their display settings.
// ActiveID is a weak reference into Views; empty means none is active.
type SharedViews struct {
	Fullscreen    bool
	MapDimensions manifest.Dimensions
	Views         []SharedView
	ActiveID      ViewID
}

// Document is the live, in-memory project.
// Readers receive copies; only changesets mutate a document, through the unexported
// methods below.
// 読み取りはRLockで守り、変更はChangesetの execute/undo からのみ行う。
type Document struct {
	mu          sync.RWMutex
	meta        Metadata
	layers      []Layer
	activeLayer LayerID
	layouts     []Layout
	shared      SharedViews
	// attachments are auxiliary files no layer references; kept so saving loses nothing.
	attachments manifest.Files
}

// NewDocument creates an empty current-version project with a fresh identifier.
func NewDocument(name string) *Document {
	return &Document{
		meta: Metadata{
			ID:         uuid.NewString(),
			Version:    manifest.Current,
			Name:       name,
			Projection: "EPSG:3857",
		},
		shared: SharedViews{
			MapDimensions: manifest.Dimensions{Width: 1920, Height: 1080},
		},
	}
}

// Metadata returns the project header.
func (d *Document) Metadata() Metadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.meta
}

// Layers returns copies of all layers in draw order.
func (d *Document) Layers() []Layer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Layer, len(d.layers))
	for i, l := range d.layers {
		out[i] = cloneLayer(l)
	}
	return out
}

// Layer returns a copy of the layer with the given id (nil if not found).
// 呼び出し側の無ロック変更を防ぐためコピーを返す。
func (d *Document) Layer(id LayerID) *Layer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.layerIndex(id)
	if i < 0 {
		return nil
	}
	l := cloneLayer(d.layers[i])
	return &l
}

// LayerIndex returns the draw-order position of a layer, or -1.
func (d *Document) LayerIndex(id LayerID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.layerIndex(id)
}

// HasLayer checks if a layer exists
func (d *Document) HasLayer(id LayerID) bool {
	return d.LayerIndex(id) >= 0
}

// LayerCount returns the number of layers
func (d *Document) LayerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.layers)
}

// ActiveLayer returns the active layer reference; empty when none is selected.
func (d *Document) ActiveLayer() LayerID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.activeLayer
}

// Layouts returns copies of all layouts.
func (d *Document) Layouts() []Layout {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Layout, len(d.layouts))
	for i, l := range d.layouts {
		out[i] = cloneLayout(l)
	}
	return out
}

// Layout returns a copy of the layout with the given id (nil if not found).
func (d *Document) Layout(id LayoutID) *Layout {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.layoutIndex(id)
	if i < 0 {
		return nil
	}
	l := cloneLayout(d.layouts[i])
	return &l
}

// SharedViews returns a copy of the shared view settings.
func (d *Document) SharedViews() SharedViews {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneSharedViews(d.shared)
}

// SharedView returns a copy of the shared view with the given id (nil if not found).
func (d *Document) SharedView(id ViewID) *SharedView {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.viewIndex(id)
	if i < 0 {
		return nil
	}
	v := cloneView(d.shared.Views[i])
	return &v
}

// ActiveSharedView returns the active shared view reference; empty when none.
func (d *Document) ActiveSharedView() ViewID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.shared.ActiveID
}

// Attachments returns copies of auxiliary files that no layer references.
func (d *Document) Attachments() manifest.Files {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attachments.Clone()
}

// Clone returns a deep copy of the document suitable for speculative edits.
func (d *Document) Clone() *Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := &Document{
		meta:        d.meta,
		activeLayer: d.activeLayer,
		shared:      cloneSharedViews(d.shared),
		attachments: d.attachments.Clone(),
	}
	if d.layers != nil {
		c.layers = make([]Layer, len(d.layers))
		for i, l := range d.layers {
			c.layers[i] = cloneLayer(l)
		}
	}
	if d.layouts != nil {
		c.layouts = make([]Layout, len(d.layouts))
		for i, l := range d.layouts {
			c.layouts[i] = cloneLayout(l)
		}
	}
	return c
}

func (d *Document) layerIndex(id LayerID) int {
	for i, l := range d.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (d *Document) layoutIndex(id LayoutID) int {
	for i, l := range d.layouts {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (d *Document) viewIndex(id ViewID) int {
	for i, v := range d.shared.Views {
		if v.ID == id {
			return i
		}
	}
	return -1
}

// --- Mutation methods (used by changesets) ---
// 前提条件の検査は呼び出し側（apply.go）で済ませてから呼ぶ。

func (d *Document) setName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta.Name = name
}

func (d *Document) insertLayer(at int, l Layer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layers = insertAt(d.layers, at, cloneLayer(l))
}

func (d *Document) removeLayerAt(at int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layers = removeAt(d.layers, at)
}

func (d *Document) replaceLayer(at int, l Layer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layers[at] = cloneLayer(l)
}

func (d *Document) moveLayer(from, to int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.layers[from]
	d.layers = insertAt(removeAt(d.layers, from), to, l)
}

func (d *Document) setActiveLayer(id LayerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeLayer = id
}

func (d *Document) insertLayout(at int, l Layout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layouts = insertAt(d.layouts, at, cloneLayout(l))
}

func (d *Document) removeLayoutAt(at int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layouts = removeAt(d.layouts, at)
}

func (d *Document) replaceLayout(at int, l Layout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layouts[at] = cloneLayout(l)
}

func (d *Document) setLayoutScale(at int, s *manifest.Scale) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layouts[at].Scale = cloneScale(s)
}

func (d *Document) insertView(at int, v SharedView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shared.Views = insertAt(d.shared.Views, at, cloneView(v))
}

func (d *Document) removeViewAt(at int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shared.Views = removeAt(d.shared.Views, at)
}

func (d *Document) replaceView(at int, v SharedView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shared.Views[at] = cloneView(v)
}

func (d *Document) insertViewEntry(view, at int, e LayerVisibility) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shared.Views[view].LayerIndex = insertAt(d.shared.Views[view].LayerIndex, at, e)
}

func (d *Document) removeViewEntryAt(view, at int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shared.Views[view].LayerIndex = removeAt(d.shared.Views[view].LayerIndex, at)
}

func (d *Document) setActiveView(id ViewID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shared.ActiveID = id
}

func insertAt[T any](s []T, at int, v T) []T {
	s = append(s, v)
	copy(s[at+1:], s[at:])
	s[at] = v
	return s
}

func removeAt[T any](s []T, at int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:at]...)
	return append(out, s[at+1:]...)
}

func cloneLayer(src Layer) Layer {
	out := src
	if src.Style != nil {
		st := *src.Style
		out.Style = &st
	}
	if src.Features != nil {
		out.Features = append([]byte(nil), src.Features...)
	}
	if src.Remote != nil {
		r := *src.Remote
		r.Layers = cloneStrings(src.Remote.Layers)
		r.Attributions = cloneStrings(src.Remote.Attributions)
		out.Remote = &r
	}
	return out
}

func cloneLayout(src Layout) Layout {
	out := src
	out.Scale = cloneScale(src.Scale)
	return out
}

func cloneScale(s *manifest.Scale) *manifest.Scale {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneView(src SharedView) SharedView {
	out := src
	if src.LayerIndex != nil {
		out.LayerIndex = make([]LayerVisibility, len(src.LayerIndex))
		copy(out.LayerIndex, src.LayerIndex)
	}
	return out
}

func cloneSharedViews(src SharedViews) SharedViews {
	out := src
	if src.Views != nil {
		out.Views = make([]SharedView, len(src.Views))
		for i, v := range src.Views {
			out.Views[i] = cloneView(v)
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
