package cartograph

import (
	"context"
	"testing"
)

// レイヤーを指す参照（アクティブレイヤー・共有ビュー）を列挙し説明できる。
func TestReferences(t *testing.T) {
	d := buildSampleDocument(t)
	mustApply(t, d, mustChange(NewAddSharedViews(d, SharedView{
		ID:         "v2",
		LayerIndex: []LayerVisibility{{LayerID: "L2", Visible: false}},
	})))

	r := References(context.Background(), d, "L1", "L2", "ghost")

	if got := len(r.Refs["L1"]); got != 1 {
		t.Fatalf("expected 1 reference to L1, got %d", got)
	}
	if got := len(r.Refs["L2"]); got != 3 {
		t.Fatalf("expected 3 references to L2, got %d", got)
	}
	if got, want := r.Explain("L2"), "referenced by: active layer, shared view v1 (visible), shared view v2 (hidden)"; got != want {
		t.Fatalf("explain mismatch:\n got %q\nwant %q", got, want)
	}
	if got := r.Explain("ghost"); got != "no such layer" {
		t.Fatalf("unexpected explanation %q", got)
	}

	mustApply(t, d, mustChange(NewAddLayers(d, vectorLayer("L3"))))
	if got := References(context.Background(), d, "L3").Explain("L3"); got != "not referenced" {
		t.Fatalf("unexpected explanation %q", got)
	}
}

// 削除変更から起点レイヤーを取り出して影響を調べられる。
func TestReferencesForChange(t *testing.T) {
	d := buildSampleDocument(t)
	c := mustChange(NewRemoveLayers(d, "L1"))

	r := ReferencesForChange(context.Background(), d, c)
	if len(r.Seeds) != 1 || r.Seeds[0] != "L1" {
		t.Fatalf("unexpected seeds %v", r.Seeds)
	}
	if got := r.Explain("L1"); got != "referenced by: shared view v1 (visible)" {
		t.Fatalf("unexpected explanation %q", got)
	}
}

// キャンセル済みのcontextでは途中で打ち切る。
func TestReferencesCancelled(t *testing.T) {
	d := buildSampleDocument(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if r := References(ctx, d, "L1"); !r.Cancelled {
		t.Fatalf("expected cancellation")
	}
}
