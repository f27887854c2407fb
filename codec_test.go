package cartograph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/user/cartograph/packages/manifest"
)

func roundTrip(t *testing.T, d *Document) *Document {
	t.Helper()
	m, files, err := EncodeDocument(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data, err := manifest.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw, err := manifest.Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	decoded, err := manifest.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := DocumentFromManifest(decoded, files)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return out
}

// 保存形式への変換と読み戻しで観測可能な状態が変わらない。
func TestCodecRoundTrip(t *testing.T) {
	d := buildSampleDocument(t)
	mustApply(t, d, mustChange(NewSetLayoutScale(d, "A", &manifest.Scale{X: 12.5, Y: 40})))

	got := roundTrip(t, d)
	if !snap(got).Equal(snap(d)) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", snap(got).State(), snap(d).State())
	}
}

// ベクターの地物は補助ファイルに書き出され、マニフェストからはファイル名で参照される。
func TestEncodeDocumentWritesFeatureFiles(t *testing.T) {
	d := buildSampleDocument(t)
	m, files, err := EncodeDocument(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if m.Version != manifest.Current || m.Metadata.Version != manifest.Current {
		t.Fatalf("expected current version tags, got %s / %s", m.Version, m.Metadata.Version)
	}
	if got := m.Layers[0].Data; got == nil || got.File != "layers/L1.geojson" {
		t.Fatalf("vector layer should reference its features file, got %+v", got)
	}
	if m.Layers[1].Data != nil {
		t.Fatalf("remote layer has no features file")
	}
	if want := []string{"layers/L1.geojson"}; !reflect.DeepEqual(files.Names(), want) {
		t.Fatalf("files mismatch: %v", files.Names())
	}
}

// 参照されていない補助ファイルは添付として保持され、保存時にそのまま戻る。
func TestUnreferencedFilesSurvive(t *testing.T) {
	d := buildSampleDocument(t)
	m, files, err := EncodeDocument(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	files["notes/readme.txt"] = []byte("hello")

	loaded, err := DocumentFromManifest(m, files)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if got := loaded.Attachments(); !reflect.DeepEqual(got, manifest.Files{"notes/readme.txt": []byte("hello")}) {
		t.Fatalf("attachments mismatch: %v", got.Names())
	}

	_, again, err := EncodeDocument(loaded)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(again["notes/readme.txt"]) != "hello" {
		t.Fatalf("attachment lost on save")
	}
}

// マニフェストが参照する補助ファイルが無い場合はロードエラー。
func TestMissingFeatureFile(t *testing.T) {
	d := buildSampleDocument(t)
	m, _, err := EncodeDocument(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = DocumentFromManifest(m, nil)
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("expected ErrMissingFile, got %v", err)
	}
}

// 空の地物ファイルも保存と読み戻しで失われず、マニフェストからの参照も残る。
func TestEmptyFeatureFileSurvivesRoundTrip(t *testing.T) {
	d := buildSampleDocument(t)
	m, files, err := EncodeDocument(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	files["layers/L1.geojson"] = []byte{}

	loaded, err := DocumentFromManifest(m, files)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if l := loaded.Layer("L1"); l == nil || !l.HasData {
		t.Fatalf("layer should keep its data file, got %+v", l)
	}

	again, out, err := EncodeDocument(loaded)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := again.Layers[0].Data; got == nil || got.File != "layers/L1.geojson" {
		t.Fatalf("data reference lost, got %+v", got)
	}
	content, ok := out["layers/L1.geojson"]
	if !ok || len(content) != 0 {
		t.Fatalf("expected empty features file, got %q (present %v)", content, ok)
	}
}
