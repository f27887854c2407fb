package cartograph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/user/cartograph/packages/logging"
	"github.com/user/cartograph/packages/manifest"
	"github.com/user/cartograph/packages/migrate"
	"github.com/user/cartograph/packages/store"
	"github.com/user/cartograph/packages/telemetry"
)

const legacyProject = `{
  "metadata": {"id": "legacy", "version": "1.0.0", "title": "Old map", "projection": "EPSG:4326"},
  "layers": [
    {"id": "parcels", "name": "Parcels", "type": "vector", "color": "#00ff00",
     "features": {"type": "FeatureCollection", "features": []}},
    {"id": "osm", "name": "OSM", "type": "xyz", "url": "https://tile.example/{z}/{x}/{y}.png"}
  ],
  "layouts": [{"id": "poster", "name": "Poster", "scale": 2}],
  "publicViews": [{"id": "pv", "layers": ["parcels"]}]
}`

func saveRaw(t *testing.T, st store.Store, id, data string, files manifest.Files) {
	t.Helper()
	if err := st.Save(context.Background(), id, &store.Record{Manifest: []byte(data), Files: files}); err != nil {
		t.Fatalf("store save: %v", err)
	}
}

type recorder struct {
	got []Notification
}

func (r *recorder) observe(n Notification) { r.got = append(r.got, n) }

// 旧形式のプロジェクトを開くと移行チェーンを経て現行形式のDocumentになる。
func TestSessionOpenMigratesLegacyProject(t *testing.T) {
	st := store.NewMemory()
	saveRaw(t, st, "legacy", legacyProject, nil)
	rec := &recorder{}
	s := NewSession(st, nil, WithObserver(rec.observe))

	loaded, err := s.Open(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if loaded.SourceVersion() != migrate.Base {
		t.Fatalf("expected source %s, got %s", migrate.Base, loaded.SourceVersion())
	}
	if n := len(loaded.Steps()); n != 5 {
		t.Fatalf("expected 5 steps, got %v", loaded.Steps())
	}
	state := loaded.State()
	if state.Metadata.Name != "Old map" || state.Metadata.Version != manifest.Current {
		t.Fatalf("unexpected metadata %+v", state.Metadata)
	}
	if len(state.Layers) != 2 || state.Layers[0].Features == nil || state.Layers[1].Remote == nil {
		t.Fatalf("unexpected layers %+v", state.Layers)
	}
	if got := state.Layouts[0].Scale; !reflect.DeepEqual(got, &manifest.Scale{X: 2, Y: 2}) {
		t.Fatalf("unexpected scale %+v", got)
	}
	if got := state.SharedViews.Views[0].LayerIndex; !reflect.DeepEqual(got, []LayerVisibility{{LayerID: "parcels", Visible: true}}) {
		t.Fatalf("unexpected shared view entries %+v", got)
	}

	if len(rec.got) != 1 {
		t.Fatalf("expected one notification, got %d", len(rec.got))
	}
	n := rec.got[0]
	if n.Kind != Loaded || n.ProjectID != "legacy" || n.SourceVersion != migrate.Base || len(n.Steps) != 5 {
		t.Fatalf("unexpected notification %+v", n)
	}
	if s.HistoryState().CanUndo {
		t.Fatalf("history should be empty after load")
	}
}

// 読み込みに失敗しても、開いていたプロジェクトと履歴はそのまま残る。
func TestSessionFailedLoadKeepsPriorProject(t *testing.T) {
	st := store.NewMemory()
	saveRaw(t, st, "legacy", legacyProject, nil)
	saveRaw(t, st, "future", `{"version": "9.0.0", "metadata": {"id": "f", "version": "9.0.0"}}`, nil)
	s := NewSession(st, nil)

	if _, err := s.Open(context.Background(), "legacy"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Edit("rename", func(d *Document) (Change, error) {
		return NewRenameProject(d, "Edited"), nil
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	before := s.Document()

	_, err := s.Open(context.Background(), "future")
	var unknown *migrate.UnknownVersionError
	if !errors.As(err, &unknown) || unknown.Version != "9.0.0" {
		t.Fatalf("expected UnknownVersionError, got %v", err)
	}
	if _, err := s.Open(context.Background(), "absent"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if !s.Document().Equal(before) || s.ProjectID() != "legacy" {
		t.Fatalf("failed loads must keep the open project")
	}
	if !s.HistoryState().CanUndo {
		t.Fatalf("failed loads must keep history")
	}
}

// 保存しても履歴は消えず、保存後も undo/redo できる。
func TestSessionSaveKeepsHistory(t *testing.T) {
	st := store.NewMemory()
	rec := &recorder{}
	s := NewSession(st, nil, WithObserver(rec.observe))
	s.NewProject("Fresh")
	id := s.ProjectID()

	if _, err := s.Edit("add", func(d *Document) (Change, error) {
		return NewAddLayers(d, vectorLayer("L1"))
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	saved := s.Document()
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := s.Undo(); err != nil {
		t.Fatalf("undo after save: %v", err)
	}
	if _, err := s.Redo(); err != nil {
		t.Fatalf("redo after save: %v", err)
	}
	if !s.Document().Equal(saved) {
		t.Fatalf("redo should restore the saved state")
	}

	reopened, err := s.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Equal(saved) {
		t.Fatalf("reopened project differs:\n got %+v\nwant %+v", reopened.State(), saved.State())
	}
	if reopened.SourceVersion() != manifest.Current || len(reopened.Steps()) != 0 {
		t.Fatalf("saved projects are current")
	}
	if s.HistoryState().CanUndo {
		t.Fatalf("load starts a new editing session")
	}

	kinds := make([]NotificationKind, len(rec.got))
	for i, n := range rec.got {
		kinds[i] = n.Kind
	}
	if want := []NotificationKind{Created, Saved, Loaded}; !reflect.DeepEqual(kinds, want) {
		t.Fatalf("notifications mismatch: %v", kinds)
	}
}

// 移行したプロジェクトを保存すると現行バージョンで書き出される。
func TestSessionSaveWritesCurrentVersion(t *testing.T) {
	st := store.NewMemory()
	saveRaw(t, st, "legacy", legacyProject, nil)
	s := NewSession(st, nil)
	if _, err := s.Open(context.Background(), "legacy"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.Load(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	raw, err := manifest.Parse(got.Manifest)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v, err := manifest.ReadVersion(raw); err != nil || v != manifest.Current {
		t.Fatalf("expected current version, got %s (%v)", v, err)
	}
	if _, ok := got.Files[manifest.LayerFeaturesFile("parcels")]; !ok {
		t.Fatalf("features file not saved: %v", got.Files.Names())
	}
}

// 同じ内容を再度開くとキャッシュから返り、移行は走らない。
func TestSessionCacheSkipsMigration(t *testing.T) {
	st := store.NewMemory()
	saveRaw(t, st, "a", legacyProject, nil)
	saveRaw(t, st, "b", legacyProject, nil)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	s := NewSession(st, nil, WithCache(NewSnapshotCache(4)), WithMetrics(metrics))

	first, err := s.Open(context.Background(), "a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	second, err := s.Open(context.Background(), "b")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}

	if !first.Equal(second) {
		t.Fatalf("identical bytes should load identically")
	}
	if got := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues(telemetry.ResultHit)); got != 1 {
		t.Fatalf("expected one cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.MigrationSteps.WithLabelValues("shared-views")); got != 1 {
		t.Fatalf("migration should run once, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.LoadTotal.WithLabelValues(telemetry.ResultOK)); got != 2 {
		t.Fatalf("expected two loads, got %v", got)
	}
}

// キャッシュを埋めるのは読み込みだけで、保存しても件数は増えない。
func TestSessionCacheFilledOnlyByLoads(t *testing.T) {
	st := store.NewMemory()
	saveRaw(t, st, "a", legacyProject, nil)
	cache := NewSnapshotCache(4)
	s := NewSession(st, nil, WithCache(cache))

	if _, err := s.Open(context.Background(), "a"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one cached digest after load, got %d", cache.Len())
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("save should not fill the cache, got %d", cache.Len())
	}

	cache.Put("", snap(NewDocument("ignored")))
	if cache.Len() != 1 {
		t.Fatalf("empty digest should be ignored")
	}
}

// 現行形式でも参照が壊れていれば読み込みを拒否する。
func TestSessionRejectsInvalidDocuments(t *testing.T) {
	st := store.NewMemory()
	base := `{"version": "1.5.0",
	  "metadata": {"id": "p", "version": "1.5.0", "name": "x", "projection": {"name": "EPSG:3857"}},
	  "layers": [{"id": "roads", "type": "vector", "visible": true, "opacity": 1,
	              "style": null, "data": {"file": "layers/roads.geojson"}, "remote": null}],
	  "activeLayer": %q, "layouts": [],
	  "sharedViews": {"fullscreen": false, "mapDimensions": {"width": 1, "height": 1}, "views": [], "activeId": ""}}`
	files := manifest.Files{"layers/roads.geojson": []byte(`{}`)}
	saveRaw(t, st, "dangling", fmt.Sprintf(base, "ghost"), files)
	saveRaw(t, st, "nofile", fmt.Sprintf(base, "roads"), nil)
	s := NewSession(st, nil)

	_, err := s.Open(context.Background(), "dangling")
	var iv *InvariantViolation
	if !errors.As(err, &iv) || iv.Op != "load" || iv.Errors[0].Rule != RuleDanglingActive {
		t.Fatalf("expected load InvariantViolation, got %v", err)
	}

	if _, err := s.Open(context.Background(), "nofile"); !errors.Is(err, ErrMissingFile) {
		t.Fatalf("expected ErrMissingFile, got %v", err)
	}
	if s.Document() != nil {
		t.Fatalf("nothing should be open")
	}
}

// プロジェクト未オープン時の操作は ErrNoDocument。
func TestSessionWithoutDocument(t *testing.T) {
	s := NewSession(store.NewMemory(), nil)

	if err := s.Save(context.Background()); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Undo(); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("undo: %v", err)
	}
	if _, err := s.Redo(); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("redo: %v", err)
	}
	if err := s.Execute(NewChangeset("", RenameProject{After: "x"})); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("execute: %v", err)
	}
	if _, err := s.Preview(context.Background()); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("preview: %v", err)
	}
	if s.Document() != nil || s.ProjectID() != "" {
		t.Fatalf("nothing should be open")
	}
}

// オブザーバーはロック外で呼ばれるのでセッションを呼び返せる。
func TestSessionObserverMayCallBack(t *testing.T) {
	var seen string
	var s *Session
	s = NewSession(store.NewMemory(), nil, WithObserver(func(n Notification) {
		seen = s.ProjectID()
	}))

	s.NewProject("Callback")
	if seen == "" || seen != s.ProjectID() {
		t.Fatalf("observer should see the new project id, got %q", seen)
	}
}

// 構築に失敗した編集は何も記録しない。履歴の深さ制限はセッションにも効く。
func TestSessionEditAndDepth(t *testing.T) {
	s := NewSession(store.NewMemory(), nil, WithHistoryDepth(1))
	s.NewProject("Depth")

	_, err := s.Edit("bad", func(d *Document) (Change, error) {
		return NewRemoveLayers(d, "nope")
	})
	if err == nil {
		t.Fatalf("expected build error")
	}
	for _, name := range []string{"a", "b"} {
		if _, err := s.Edit("rename", func(d *Document) (Change, error) {
			return NewRenameProject(d, name), nil
		}); err != nil {
			t.Fatalf("edit: %v", err)
		}
	}

	hs := s.HistoryState()
	if len(hs.Applied) != 1 || hs.MaxDepth != 1 {
		t.Fatalf("unexpected history state %+v", hs)
	}
	if err := s.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := s.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got := s.Document().State().Metadata.Name; got != "a" {
		t.Fatalf("expected a, got %q", got)
	}
	if _, err := s.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

// 不変条件違反はerrorレベルで、空のundo/redoはdebugレベルでログに残る。
func TestSessionLogsViolationsAndNoOps(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Config{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s := NewSession(store.NewMemory(), nil, WithLogger(logger))
	s.NewProject("Logged")

	_, err = s.Edit("dangling", func(d *Document) (Change, error) {
		return NewAddSharedViews(d, sharedView("v1", "missing"))
	})
	var iv *InvariantViolation
	if !errors.As(err, &iv) {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
	if _, err := s.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
	if _, err := s.Redo(); !errors.Is(err, ErrNothingToRedo) {
		t.Fatalf("expected ErrNothingToRedo, got %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`level=ERROR msg="invariant violated" op=execute`,
		RuleDanglingViewItem,
		`level=DEBUG msg="history no-op" op=undo`,
		`level=DEBUG msg="history no-op" op=redo`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q:\n%s", want, out)
		}
	}
}
