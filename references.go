package cartograph

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ReferenceKind says what holds a weak reference to a layer.
type ReferenceKind string

const (
	RefActiveLayer ReferenceKind = "active_layer" // project-level selection
	RefSharedView  ReferenceKind = "shared_view"  // a shared view's layer index entry
)

// Reference is one place that points at a layer by id.
type Reference struct {
	Layer LayerID
	Kind  ReferenceKind
	// View is set for RefSharedView.
	View     ViewID
	Position int
	Visible  bool
}

// ReferenceResult contains the result of reference analysis.
// レイヤー削除時に何が外れるかを説明するために使う。
type ReferenceResult struct {
	// Seeds that initiated the analysis
	Seeds []LayerID

	// Refs lists, per seed, everything pointing at it. Seeds that do not exist are absent.
	Refs map[LayerID][]Reference

	// Whether the computation was cancelled
	Cancelled bool
}

// References finds every weak reference to the given layers.
func References(ctx context.Context, d *Document, seeds ...LayerID) *ReferenceResult {
	result := &ReferenceResult{
		Seeds: seeds,
		Refs:  make(map[LayerID][]Reference),
	}
	if len(seeds) == 0 {
		return result
	}

	want := make(map[LayerID]bool, len(seeds))
	for _, id := range seeds {
		if d.HasLayer(id) {
			want[id] = true
			result.Refs[id] = []Reference{}
		}
	}

	if active := d.ActiveLayer(); want[active] {
		result.Refs[active] = append(result.Refs[active], Reference{Layer: active, Kind: RefActiveLayer})
	}
	for _, v := range d.SharedViews().Views {
		if canceled(ctx) {
			result.Cancelled = true
			return result
		}
		for pos, e := range v.LayerIndex {
			if want[e.LayerID] {
				result.Refs[e.LayerID] = append(result.Refs[e.LayerID], Reference{
					Layer:    e.LayerID,
					Kind:     RefSharedView,
					View:     v.ID,
					Position: pos,
					Visible:  e.Visible,
				})
			}
		}
	}
	return result
}

// ReferencesForChange analyses the layers a change touches.
func ReferencesForChange(ctx context.Context, d *Document, c Change) *ReferenceResult {
	return References(ctx, d, AffectedLayers(c)...)
}

// Explain returns a human-readable explanation of what points at a layer.
func (r *ReferenceResult) Explain(id LayerID) string {
	refs, ok := r.Refs[id]
	if !ok {
		return "no such layer"
	}
	if len(refs) == 0 {
		return "not referenced"
	}
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		switch ref.Kind {
		case RefActiveLayer:
			parts = append(parts, "active layer")
		case RefSharedView:
			state := "hidden"
			if ref.Visible {
				state = "visible"
			}
			parts = append(parts, fmt.Sprintf("shared view %s (%s)", ref.View, state))
		}
	}
	sort.Strings(parts)
	return "referenced by: " + strings.Join(parts, ", ")
}
