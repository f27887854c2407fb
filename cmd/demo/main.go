package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	c "github.com/user/cartograph"
	"github.com/user/cartograph/packages/logging"
	"github.com/user/cartograph/packages/manifest"
	"github.com/user/cartograph/packages/store"
)

// A project saved by the first release: flat layer styling, inline features,
// numeric layout scale and publicViews.
const legacyProject = `{
  "metadata": {"id": "city", "version": "1.0.0", "title": "都市計画図", "projection": "EPSG:6677"},
  "layers": [
    {"id": "parcels", "name": "筆界", "type": "vector", "color": "#ffcc00", "strokeWidth": 1,
     "features": {"type": "FeatureCollection", "features": []}},
    {"id": "roads", "name": "道路", "type": "vector", "color": "#333333", "strokeWidth": 3,
     "features": {"type": "FeatureCollection", "features": []}},
    {"id": "base", "name": "地理院タイル", "type": "xyz", "url": "https://cyberjapandata.gsi.go.jp/xyz/std/{z}/{x}/{y}.png"}
  ],
  "layouts": [{"id": "a3", "name": "A3 掲示用", "scale": 12}],
  "publicViews": [{"id": "public", "layers": ["roads", "base"]}]
}`

func main() {
	fmt.Println("=== Cartograph Demo ===")
	fmt.Println()

	logger, err := logging.New(logging.Config{Level: "warn"})
	if err != nil {
		fail(err)
	}
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.Save(ctx, "city", &store.Record{Manifest: []byte(legacyProject)}); err != nil {
		fail(err)
	}

	s := c.NewSession(st, nil, c.WithLogger(logger), c.WithObserver(func(n c.Notification) {
		fmt.Printf("  [%s] %s version=%s\n", n.Kind, n.ProjectID, n.Version)
	}))

	// --- Scenario 1: open a 1.0.0 project ---
	fmt.Println("=== Scenario 1: 旧形式プロジェクトの読み込み ===")
	snap, err := s.Open(ctx, "city")
	if err != nil {
		fail(err)
	}
	fmt.Printf("Migrated %s -> %s via:\n", snap.SourceVersion(), snap.State().Metadata.Version)
	for _, step := range snap.Steps() {
		fmt.Printf("  - %s\n", step)
	}
	printDocument(snap)
	fmt.Println()

	// --- Scenario 2: what does removing roads touch? ---
	fmt.Println("=== Scenario 2: 道路レイヤー削除の影響 ===")
	d := snap.Document()
	remove, err := c.NewRemoveLayers(d, "roads")
	if err != nil {
		fail(err)
	}
	preview, err := s.Preview(ctx, remove)
	if err != nil {
		fail(err)
	}
	fmt.Printf("roads: %s\n", preview.PreReferences.Explain("roads"))
	fmt.Printf("Valid after removal: %v\n", preview.PostValidate.Valid)
	fmt.Println()

	// --- Scenario 3: edit, undo, redo ---
	fmt.Println("=== Scenario 3: 編集と取り消し ===")
	edits := []struct {
		label string
		build func(d *c.Document) (c.Change, error)
	}{
		{"道路を削除", func(d *c.Document) (c.Change, error) { return c.NewRemoveLayers(d, "roads") }},
		{"筆界をアクティブに", func(d *c.Document) (c.Change, error) { return c.NewSetActiveLayer(d, "parcels") }},
		{"縮尺記号を移動", func(d *c.Document) (c.Change, error) {
			return c.NewSetLayoutScale(d, "a3", &manifest.Scale{X: 20, Y: 380})
		}},
		{"名称変更", func(d *c.Document) (c.Change, error) { return c.NewRenameProject(d, "都市計画図 2026"), nil }},
	}
	for _, e := range edits {
		cs, err := s.Edit(e.label, e.build)
		if err != nil {
			fail(err)
		}
		fmt.Printf("  do   %-12s (%s)\n", cs.Label, cs.Change.Kind())
	}
	for i := 0; i < 3; i++ {
		cs, err := s.Undo()
		if err != nil {
			fail(err)
		}
		fmt.Printf("  undo %s\n", cs.Label)
	}
	cs, err := s.Redo()
	if err != nil {
		fail(err)
	}
	fmt.Printf("  redo %s\n", cs.Label)
	hs := s.HistoryState()
	fmt.Printf("History: %d applied, %d undone\n", len(hs.Applied), len(hs.Undone))
	if err := s.Verify(); err != nil {
		fail(err)
	}
	fmt.Println("Replay of history matches the document")
	printDocument(s.Document())
	fmt.Println()

	// --- Scenario 4: a change that would break a reference ---
	fmt.Println("=== Scenario 4: 不整合な変更の拒否 ===")
	_, err = s.Edit("壊れた共有ビュー", func(d *c.Document) (c.Change, error) {
		return c.NewAddSharedViews(d, c.SharedView{
			ID:         "broken",
			LayerIndex: []c.LayerVisibility{{LayerID: "missing", Visible: true}},
		})
	})
	var iv *c.InvariantViolation
	if errors.As(err, &iv) {
		fmt.Printf("Rejected: %v\n", iv)
	}
	fmt.Println()

	// --- Scenario 5: save and reopen ---
	fmt.Println("=== Scenario 5: 保存と再読み込み ===")
	if err := s.Save(ctx); err != nil {
		fail(err)
	}
	if _, err := s.Undo(); err == nil {
		fmt.Println("Undo still works after save")
	}
	reopened, err := s.Open(ctx, "city")
	if err != nil {
		fail(err)
	}
	fmt.Printf("Reopened at %s with %d migration steps; undo available: %v\n",
		reopened.SourceVersion(), len(reopened.Steps()), s.HistoryState().CanUndo)
	if _, err := s.Undo(); errors.Is(err, c.ErrNothingToUndo) {
		fmt.Println("Nothing to undo in the new session")
	}

	fmt.Println()
	fmt.Println("=== Demo Complete ===")
}

func printDocument(snap *c.Snapshot) {
	st := snap.State()
	fmt.Printf("Project %q (%s), active layer %q\n", st.Metadata.Name, st.Metadata.Projection, st.ActiveLayer)
	for _, l := range st.Layers {
		fmt.Printf("  layer %-8s %-6s visible=%v\n", l.ID, l.Type, l.Visible)
	}
	for _, l := range st.Layouts {
		scale := "none"
		if l.Scale != nil {
			scale = fmt.Sprintf("%g,%g", l.Scale.X, l.Scale.Y)
		}
		fmt.Printf("  layout %s scale=%s\n", l.ID, scale)
	}
	for _, v := range st.SharedViews.Views {
		fmt.Printf("  view %s layers=%v\n", v.ID, v.LayerIndex)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
