package cartograph

import (
	"testing"

	"github.com/user/cartograph/packages/manifest"
)

// vectorLayer returns a visible vector layer with a tiny feature collection.
// テスト用のベクターレイヤー。
func vectorLayer(id LayerID) Layer {
	return Layer{
		ID:       id,
		Name:     string(id),
		Type:     manifest.LayerVector,
		Visible:  true,
		Opacity:  1,
		Style:    &manifest.Style{Fill: "#336699"},
		Features: []byte(`{"type":"FeatureCollection","features":[]}`),
	}
}

// remoteLayer returns an XYZ tile layer.
func remoteLayer(id LayerID) Layer {
	return Layer{
		ID:      id,
		Name:    string(id),
		Type:    manifest.LayerRemote,
		Visible: true,
		Opacity: 0.8,
		Remote:  &manifest.Remote{Kind: "xyz", URL: "https://tile.example/{z}/{x}/{y}.png"},
	}
}

func a4Layout(id LayoutID) Layout {
	return Layout{
		ID:     id,
		Name:   string(id),
		Format: manifest.PageFormat{Name: "A4", Width: 210, Height: 297, Orientation: "portrait"},
		View:   manifest.MapView{Resolution: 1, Projection: "EPSG:3857"},
	}
}

func sharedView(id ViewID, layers ...LayerID) SharedView {
	v := SharedView{ID: id, View: manifest.MapView{Resolution: 1, Projection: "EPSG:3857"}}
	for _, l := range layers {
		v.LayerIndex = append(v.LayerIndex, LayerVisibility{LayerID: l, Visible: true})
	}
	return v
}

// buildSampleDocument creates a project with two layers, one layout and a shared view
// referencing both layers. L2 is active and v1 is the active view.
// 参照（アクティブレイヤー・共有ビュー）を含む小さなDocumentを返す。
func buildSampleDocument(t testing.TB) *Document {
	t.Helper()
	d := NewDocument("Sample")
	mustApply(t, d, mustChange(NewAddLayers(d, vectorLayer("L1"), remoteLayer("L2"))))
	mustApply(t, d, mustChange(NewAddLayouts(d, a4Layout("A"))))
	mustApply(t, d, mustChange(NewAddSharedViews(d, sharedView("v1", "L1", "L2"))))
	mustApply(t, d, mustChange(NewSetActiveLayer(d, "L2")))
	mustApply(t, d, mustChange(NewSetActiveSharedView(d, "v1")))
	return d
}

func mustChange[C Change](c C, err error) Change {
	if err != nil {
		panic(err)
	}
	return c
}

func mustApply(t testing.TB, d *Document, c Change) {
	t.Helper()
	if err := Apply(d, c); err != nil {
		t.Fatalf("apply %s: %v", c.Kind(), err)
	}
}

func mustPush(t testing.TB, h *History, c Change) *Changeset {
	t.Helper()
	cs := NewChangeset("", c)
	if err := h.PushAndExecute(cs); err != nil {
		t.Fatalf("push %s: %v", c.Kind(), err)
	}
	return cs
}

func snap(d *Document) *Snapshot {
	return SnapshotFromDocument(d)
}
