package cartograph

import (
	"context"
	"testing"

	"github.com/user/cartograph/packages/manifest"
)

// 空スライスとnilは観測上同じとみなす。
func TestSnapshotNormalizesEmptyCollections(t *testing.T) {
	a := NewDocument("x")
	b := a.Clone()
	mustApply(t, b, mustChange(NewAddLayers(b, vectorLayer("L1"))))
	mustApply(t, b, mustChange(NewRemoveLayers(b, "L1")))

	if !snap(a).Equal(snap(b)) {
		t.Fatalf("empty after removal should equal never populated")
	}
}

// スナップショットから作ったDocumentを変更してもスナップショットは不変。
func TestSnapshotIsImmutable(t *testing.T) {
	d := buildSampleDocument(t)
	s := snap(d)

	derived := s.Document()
	mustApply(t, derived, mustChange(NewRemoveLayers(derived, "L1")))
	st := s.State()
	st.Layers[0].Name = "mutated"

	if !s.Equal(snap(d)) {
		t.Fatalf("snapshot changed through a derived document or state")
	}
	// The live document is independent too.
	mustApply(t, d, NewRenameProject(d, "changed"))
	if s.State().Metadata.Name != "Sample" {
		t.Fatalf("snapshot followed the live document")
	}
}

func TestSnapshotNil(t *testing.T) {
	var s *Snapshot
	if s.Document() != nil || s.SourceVersion() != "" || s.Steps() != nil {
		t.Fatalf("nil snapshot accessors should return zero values")
	}
	if !s.Equal(nil) || s.Equal(snap(NewDocument("x"))) {
		t.Fatalf("nil snapshot equality mismatch")
	}
}

// 不変条件: バージョン、一意性、弱参照の解決、不透明度の範囲。
func TestValidateReportsEveryRule(t *testing.T) {
	d := NewDocument("broken")
	d.meta.Version = "1.4.0"
	d.layers = []Layer{vectorLayer("L1"), vectorLayer("L1"), {ID: "L2", Opacity: 2}}
	d.activeLayer = "ghost"
	d.layouts = []Layout{a4Layout("A"), a4Layout("A")}
	d.shared.Views = []SharedView{sharedView("v1", "nope"), sharedView("v1")}
	d.shared.ActiveID = "v9"

	r := Validate(context.Background(), d)
	if r.Valid {
		t.Fatalf("expected invalid document")
	}
	want := map[string]bool{
		RuleUnknownVersion:   true,
		RuleDuplicateLayer:   true,
		RuleOpacityRange:     true,
		RuleDanglingActive:   true,
		RuleDuplicateLayout:  true,
		RuleDanglingViewItem: true,
		RuleDuplicateView:    true,
		RuleDanglingView:     true,
	}
	got := make(map[string]bool)
	for _, e := range r.Errors {
		got[e.Rule] = true
	}
	for rule := range want {
		if !got[rule] {
			t.Fatalf("missing rule %s in %v", rule, r.Errors)
		}
	}

	if r := Validate(context.Background(), buildSampleDocument(t)); !r.Valid {
		t.Fatalf("sample document should be valid: %v", r.Errors)
	}
	if NewDocument("x").Metadata().Version != manifest.Current {
		t.Fatalf("new documents are current")
	}
}
