package migrate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/cartograph/packages/manifest"
)

const legacyManifest = `{
  "metadata": {"id": "legacy", "version": "1.0.0", "title": "Old map", "projection": "EPSG:4326"},
  "layers": [
    {"id": "parcels", "name": "Parcels", "type": "vector", "color": "#00ff00", "strokeWidth": 2,
     "features": {"type": "FeatureCollection", "features": []}},
    {"id": "osm", "name": "OSM", "type": "xyz", "url": "https://tile.example/{z}/{x}/{y}.png", "visible": false},
    {"id": "admin", "name": "Admin", "type": "wms", "url": "https://wms.example/", "sublayers": ["admin"], "opacity": 0.5}
  ],
  "layouts": [{"id": "l1", "name": "Poster", "scale": 2}]
}`

const legacyMigrated = `{
  "version": "1.5.0",
  "metadata": {"id": "legacy", "version": "1.5.0", "name": "Old map", "projection": {"name": "EPSG:4326"}},
  "layers": [
    {"id": "parcels", "name": "Parcels", "type": "vector", "visible": true, "opacity": 1,
     "style": {"fill": "#00ff00", "stroke": "#00ff00", "strokeWidth": 2},
     "data": {"file": "layers/parcels.geojson"}, "remote": null},
    {"id": "osm", "name": "OSM", "type": "remote", "visible": false, "opacity": 1,
     "style": null, "data": null, "remote": {"kind": "xyz", "url": "https://tile.example/{z}/{x}/{y}.png"}},
    {"id": "admin", "name": "Admin", "type": "remote", "visible": true, "opacity": 0.5,
     "style": null, "data": null, "remote": {"kind": "wms", "url": "https://wms.example/", "layers": ["admin"]}}
  ],
  "activeLayer": "",
  "layouts": [
    {"id": "l1", "name": "Poster", "scale": {"x": 2, "y": 2},
     "format": {"name": "A4", "width": 210, "height": 297, "orientation": "portrait"},
     "view": {"center": {"x": 0, "y": 0}, "resolution": 1, "rotation": 0, "projection": "EPSG:4326"}}
  ],
  "sharedViews": {"fullscreen": false, "mapDimensions": {"width": 1920, "height": 1080}, "views": [], "activeId": ""}
}`

func TestDefaultChainMigratesLegacyManifest(t *testing.T) {
	res, err := Default().Apply(mustParse(t, legacyManifest), nil)
	require.NoError(t, err)

	assert.Equal(t, Base, res.From)
	assert.Equal(t, manifest.Current, res.To)
	assert.Len(t, res.Steps, 5)
	assert.Equal(t, mustParse(t, legacyMigrated), res.Manifest)

	// Inline features moved out of the manifest.
	assert.Equal(t, []string{"layers/parcels.geojson"}, res.Files.Names())
	assert.JSONEq(t, `{"type": "FeatureCollection", "features": []}`, string(res.Files["layers/parcels.geojson"]))

	_, err = manifest.Decode(res.Manifest)
	require.NoError(t, err)
}

// A 1.4.0 layout without a scale gains an explicit null scale and nothing else changes
// beyond the version tags.
func TestLayoutWithoutScaleMigratesTo150(t *testing.T) {
	in := mustParse(t, `{
	  "version": "1.4.0",
	  "metadata": {"id": "p1", "version": "1.4.0", "name": "Roads", "projection": {"name": "EPSG:3857"}},
	  "layers": [{"id": "roads", "name": "Roads", "type": "vector", "visible": true, "opacity": 1,
	              "style": {"fill": "#ff0000"}, "data": {"file": "layers/roads.geojson"}, "remote": null}],
	  "layouts": [{"id": "a4", "name": "Print",
	               "format": {"name": "A4", "width": 210, "height": 297, "orientation": "portrait"},
	               "view": {"center": {"x": 1, "y": 2}, "resolution": 10, "rotation": 0, "projection": "EPSG:3857"}}],
	  "sharedViews": {"fullscreen": false, "mapDimensions": {"width": 1920, "height": 1080}, "views": [], "activeId": ""}
	}`)
	files := manifest.Files{"layers/roads.geojson": []byte(`{"type":"FeatureCollection","features":[]}`)}

	res, err := Default().Apply(in, files)
	require.NoError(t, err)

	want := mustParse(t, `{
	  "version": "1.5.0",
	  "metadata": {"id": "p1", "version": "1.5.0", "name": "Roads", "projection": {"name": "EPSG:3857"}},
	  "layers": [{"id": "roads", "name": "Roads", "type": "vector", "visible": true, "opacity": 1,
	              "style": {"fill": "#ff0000"}, "data": {"file": "layers/roads.geojson"}, "remote": null}],
	  "activeLayer": "",
	  "layouts": [{"id": "a4", "name": "Print",
	               "format": {"name": "A4", "width": 210, "height": 297, "orientation": "portrait"},
	               "view": {"center": {"x": 1, "y": 2}, "resolution": 10, "rotation": 0, "projection": "EPSG:3857"},
	               "scale": null}],
	  "sharedViews": {"fullscreen": false, "mapDimensions": {"width": 1920, "height": 1080}, "views": [], "activeId": ""}
	}`)
	assert.Equal(t, want, res.Manifest)
	assert.Equal(t, []string{"layout-scale"}, res.Steps)
	assert.Equal(t, files, res.Files)

	m, err := manifest.Decode(res.Manifest)
	require.NoError(t, err)
	assert.Nil(t, m.Layouts[0].Scale)
}

func TestPublicViewsBecomeSharedViews(t *testing.T) {
	in := mustParse(t, `{
	  "version": "1.2.0",
	  "metadata": {"id": "p", "version": "1.2.0", "name": "Views", "projection": {"name": "EPSG:3857"}},
	  "layers": [{"id": "a", "type": "vector", "visible": true, "opacity": 1}],
	  "layouts": [],
	  "publicViews": [
	    {"id": "v1", "view": {"center": {"x": 5, "y": 6}, "resolution": 2, "rotation": 0, "projection": "EPSG:3857"}, "layers": ["a"]},
	    {"layers": []}
	  ]
	}`)

	res, err := Default().Apply(in, nil)
	require.NoError(t, err)

	assert.False(t, res.Manifest.Has("publicViews"))
	want := mustParse(t, `{"sharedViews": {
	  "fullscreen": false,
	  "mapDimensions": {"width": 1920, "height": 1080},
	  "views": [
	    {"id": "v1", "view": {"center": {"x": 5, "y": 6}, "resolution": 2, "rotation": 0, "projection": "EPSG:3857"},
	     "layerIndex": [{"layerId": "a", "visible": true}]},
	    {"id": "view-2", "view": {"center": {"x": 0, "y": 0}, "resolution": 1, "rotation": 0, "projection": "EPSG:3857"},
	     "layerIndex": []}
	  ],
	  "activeId": ""
	}}`)
	assert.Equal(t, want["sharedViews"], res.Manifest["sharedViews"])
}

func TestMigrationIsIdempotent(t *testing.T) {
	first, err := Default().Apply(mustParse(t, legacyManifest), nil)
	require.NoError(t, err)

	second, err := Default().Apply(first.Manifest, first.Files)
	require.NoError(t, err)

	assert.False(t, second.Migrated())
	assert.Equal(t, first.Manifest, second.Manifest)
	assert.Equal(t, first.Files, second.Files)
}

// Stopping part way and resuming later must land on the same result as one run.
func TestMigrationConvergesFromIntermediateVersions(t *testing.T) {
	direct, err := Default().Apply(mustParse(t, legacyManifest), nil)
	require.NoError(t, err)

	steps := Default().Steps()
	for n := 1; n < len(steps); n++ {
		partial, err := NewChain(Base, steps[:n]...)
		require.NoError(t, err)
		mid, err := partial.Apply(mustParse(t, legacyManifest), nil)
		require.NoError(t, err)
		assert.Equal(t, steps[n-1].Target(), mid.To)

		resumed, err := Default().Apply(mid.Manifest, mid.Files)
		require.NoError(t, err)
		assert.Equal(t, direct.Manifest, resumed.Manifest, "resumed after %d steps", n)
		assert.Equal(t, direct.Files, resumed.Files, "resumed after %d steps", n)
	}
}

func TestStepsToleratePartiallyMigratedInput(t *testing.T) {
	// Claims 1.0.0 but already carries several newer fields.
	in := mustParse(t, `{
	  "metadata": {"id": "p", "version": "1.0.0", "name": "Half done", "projection": {"name": "EPSG:3857"}},
	  "layers": [{"id": "a", "type": "vector", "visible": false, "opacity": 0.3, "style": {"fill": "#111"}}],
	  "layouts": [{"id": "l", "scale": {"x": 4}}],
	  "sharedViews": {"views": []}
	}`)

	res, err := Default().Apply(in, nil)
	require.NoError(t, err)

	m, err := manifest.Decode(res.Manifest)
	require.NoError(t, err)
	assert.Equal(t, "Half done", m.Metadata.Name)
	assert.False(t, m.Layers[0].Visible)
	assert.Equal(t, 0.3, m.Layers[0].Opacity)
	assert.Equal(t, "#111", m.Layers[0].Style.Fill)
	assert.Equal(t, &manifest.Scale{X: 4, Y: 0}, m.Layouts[0].Scale)
	assert.Equal(t, 1920, m.SharedViews.MapDimensions.Width)
}

func TestStepsRejectValuesOfTheWrongType(t *testing.T) {
	cases := []struct {
		name string
		in   string
		step string
	}{
		{"projection number", `{"metadata": {"id": "p", "version": "1.0.0", "projection": 4326}}`, "layer-display-defaults"},
		{"opacity string", `{"metadata": {"id": "p", "version": "1.0.0"}, "layers": [{"id": "a", "opacity": "half"}]}`, "layer-display-defaults"},
		{"title number", `{"version": "1.1.0", "metadata": {"id": "p", "version": "1.1.0", "title": 7}}`, "project-name"},
		{"view layer id number", `{"version": "1.2.0", "metadata": {"id": "p", "version": "1.2.0"}, "publicViews": [{"id": "v", "layers": [1]}]}`, "shared-views"},
		{"unsupported layer type", `{"version": "1.3.0", "metadata": {"id": "p", "version": "1.3.0"}, "layers": [{"id": "a", "type": "raster"}]}`, "layer-style-and-files"},
		{"scale string", `{"version": "1.4.0", "metadata": {"id": "p", "version": "1.4.0"}, "layouts": [{"id": "l", "scale": "big"}]}`, "layout-scale"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Default().Apply(mustParse(t, tc.in), nil)
			require.Error(t, err)
			assert.Nil(t, res)
			var failure *MigrationFailure
			require.True(t, errors.As(err, &failure), "got %v", err)
			assert.Equal(t, tc.step, failure.Step)
		})
	}
}

func TestFeaturesNeedAFileSafeLayerID(t *testing.T) {
	in := mustParse(t, `{"version": "1.3.0", "metadata": {"id": "p", "version": "1.3.0"},
	  "layers": [{"id": "../escape", "type": "vector", "features": {"type": "FeatureCollection", "features": []}}]}`)

	_, err := Default().Apply(in, nil)
	var failure *MigrationFailure
	require.True(t, errors.As(err, &failure), "got %v", err)
	assert.Equal(t, "layer-style-and-files", failure.Step)
}
