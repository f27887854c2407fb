package migrate

import (
	"encoding/json"
	"fmt"

	"github.com/user/cartograph/packages/manifest"
)

// Base is the oldest manifest version the built-in chain reads.
const Base manifest.Version = "1.0.0"

const (
	defaultProjection  = "EPSG:3857"
	defaultProjectName = "Untitled project"
)

var defaultChain = mustChain(Base,
	Step{StepName: "layer-display-defaults", To: "1.1.0", Apply: layerDisplayDefaults},
	Step{StepName: "project-name", To: "1.2.0", Apply: projectName},
	Step{StepName: "shared-views", To: "1.3.0", Apply: sharedViews},
	Step{StepName: "layer-style-and-files", To: "1.4.0", Apply: layerStyleAndFiles},
	Step{StepName: "layout-scale", To: "1.5.0", Apply: layoutScale},
)

// Default returns the built-in chain from Base to manifest.Current.
func Default() *Chain {
	return defaultChain
}

func mustChain(base manifest.Version, steps ...Migration) *Chain {
	c, err := NewChain(base, steps...)
	if err != nil {
		panic(err)
	}
	return c
}

// 1.1.0: version moves to the top level (done by Step), layers get explicit display
// settings, projection becomes an object and layouts always exist.
func layerDisplayDefaults(m manifest.Raw, files manifest.Files) (manifest.Raw, manifest.Files, error) {
	meta, err := ensureObject(m, "metadata")
	if err != nil {
		return nil, nil, err
	}
	switch p := meta["projection"].(type) {
	case nil:
		meta["projection"] = map[string]any{"name": defaultProjection}
	case string:
		if p == "" {
			p = defaultProjection
		}
		meta["projection"] = map[string]any{"name": p}
	case map[string]any:
		if name, _ := p["name"].(string); name == "" {
			p["name"] = defaultProjection
		}
	default:
		return nil, nil, &manifest.TypeError{Key: "metadata.projection", Want: "string or object", Got: p}
	}

	layers, err := ensureObjects(m, "layers")
	if err != nil {
		return nil, nil, err
	}
	for i, l := range layers {
		l.SetDefault("visible", true)
		l.SetDefault("opacity", 1.0)
		if _, ok := l["opacity"].(float64); !ok {
			return nil, nil, &manifest.TypeError{Key: fmt.Sprintf("layers[%d].opacity", i), Want: "number", Got: l["opacity"]}
		}
	}
	m.SetDefault("layouts", []any{})
	return m, files, nil
}

// 1.2.0: metadata.title is renamed to metadata.name and public views are introduced.
func projectName(m manifest.Raw, files manifest.Files) (manifest.Raw, manifest.Files, error) {
	meta, err := ensureObject(m, "metadata")
	if err != nil {
		return nil, nil, err
	}
	title, err := meta.String("title")
	if err != nil {
		return nil, nil, err
	}
	name, err := meta.String("name")
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		name = title
	}
	if name == "" {
		name = defaultProjectName
	}
	meta["name"] = name
	delete(meta, "title")

	if !m.Has("sharedViews") {
		m.SetDefault("publicViews", []any{})
	}
	return m, files, nil
}

// 1.3.0: publicViews is renamed to sharedViews and reshaped: the plain layer id list of
// each view becomes a layer index with explicit visibility. Views already present under
// sharedViews are kept ahead of the converted ones.
func sharedViews(m manifest.Raw, files manifest.Files) (manifest.Raw, manifest.Files, error) {
	projection := projectionName(m)

	sv, err := m.Object("sharedViews")
	if err != nil {
		return nil, nil, err
	}
	if sv == nil {
		sv = manifest.Raw{}
	}
	existing, err := sv.Array("views")
	if err != nil {
		return nil, nil, err
	}
	views, err := m.Objects("publicViews")
	if err != nil {
		return nil, nil, err
	}

	merged := make([]any, 0, len(existing)+len(views))
	merged = append(merged, existing...)
	for i, v := range views {
		id, err := v.String("id")
		if err != nil {
			return nil, nil, err
		}
		if id == "" {
			id = fmt.Sprintf("view-%d", i+1)
		}
		view, err := v.Object("view")
		if err != nil {
			return nil, nil, err
		}
		if view == nil {
			view = defaultMapView(projection)
		}
		layerIDs, err := v.Array("layers")
		if err != nil {
			return nil, nil, err
		}
		index := make([]any, 0, len(layerIDs))
		for j, item := range layerIDs {
			layerID, ok := item.(string)
			if !ok {
				return nil, nil, &manifest.TypeError{Key: fmt.Sprintf("publicViews[%d].layers[%d]", i, j), Want: "string", Got: item}
			}
			index = append(index, map[string]any{"layerId": layerID, "visible": true})
		}
		merged = append(merged, map[string]any{
			"id":         id,
			"view":       map[string]any(view),
			"layerIndex": index,
		})
	}
	delete(m, "publicViews")

	sv["views"] = merged
	normalizeSharedViews(sv)
	m["sharedViews"] = map[string]any(sv)
	return m, files, nil
}

// 1.4.0: flat vector styling becomes a style object, inline features move to an auxiliary
// file per layer and tile layers become remote layers.
func layerStyleAndFiles(m manifest.Raw, files manifest.Files) (manifest.Raw, manifest.Files, error) {
	layers, err := ensureObjects(m, "layers")
	if err != nil {
		return nil, nil, err
	}
	if files == nil {
		files = make(manifest.Files)
	}
	for i, l := range layers {
		id, err := l.String("id")
		if err != nil {
			return nil, nil, err
		}
		typ, err := l.String("type")
		if err != nil {
			return nil, nil, err
		}
		switch typ {
		case "xyz", "wms":
			if err := toRemoteLayer(l, typ); err != nil {
				return nil, nil, fmt.Errorf("layers[%d]: %w", i, err)
			}
		case "vector", "":
			l["type"] = manifest.LayerVector
			if err := toStyleObject(l); err != nil {
				return nil, nil, fmt.Errorf("layers[%d]: %w", i, err)
			}
			if err := moveFeatures(l, id, files); err != nil {
				return nil, nil, fmt.Errorf("layers[%d]: %w", i, err)
			}
			l.SetDefault("remote", nil)
		case manifest.LayerRemote:
			l.SetDefault("style", nil)
			l.SetDefault("data", nil)
		default:
			return nil, nil, fmt.Errorf("layers[%d]: unsupported layer type %q", i, typ)
		}
	}
	return m, files, nil
}

// 1.5.0: every layout states its scale annotation explicitly (null when absent), a legacy
// numeric scale becomes a position, and page format and view are always present.
func layoutScale(m manifest.Raw, files manifest.Files) (manifest.Raw, manifest.Files, error) {
	projection := projectionName(m)
	layouts, err := ensureObjects(m, "layouts")
	if err != nil {
		return nil, nil, err
	}
	for i, l := range layouts {
		switch s := l["scale"].(type) {
		case nil:
			l["scale"] = nil
		case float64:
			l["scale"] = map[string]any{"x": s, "y": s}
		case map[string]any:
			sc := manifest.Raw(s)
			sc.SetDefault("x", 0.0)
			sc.SetDefault("y", 0.0)
		default:
			return nil, nil, &manifest.TypeError{Key: fmt.Sprintf("layouts[%d].scale", i), Want: "number or object", Got: s}
		}
		l.SetDefault("format", map[string]any{"name": "A4", "width": 210.0, "height": 297.0, "orientation": "portrait"})
		l.SetDefault("view", map[string]any(defaultMapView(projection)))
		l.SetDefault("name", "")
	}
	m.SetDefault("activeLayer", "")
	return m, files, nil
}

func toRemoteLayer(l manifest.Raw, kind string) error {
	url, err := l.String("url")
	if err != nil {
		return err
	}
	remote := map[string]any{"kind": kind, "url": url}
	sublayers, err := l.Array("sublayers")
	if err != nil {
		return err
	}
	if len(sublayers) > 0 {
		names := make([]any, 0, len(sublayers))
		for _, s := range sublayers {
			if _, ok := s.(string); !ok {
				return &manifest.TypeError{Key: "sublayers", Want: "string", Got: s}
			}
			names = append(names, s)
		}
		remote["layers"] = names
	}
	delete(l, "url")
	delete(l, "sublayers")
	l["type"] = manifest.LayerRemote
	l["remote"] = remote
	l.SetDefault("style", nil)
	l.SetDefault("data", nil)
	return nil
}

func toStyleObject(l manifest.Raw) error {
	style, err := l.Object("style")
	if err != nil {
		return err
	}
	color, err := l.String("color")
	if err != nil {
		return err
	}
	width, hasWidth := l["strokeWidth"]
	if style == nil && color == "" && !hasWidth {
		l["style"] = nil
		return nil
	}
	if style == nil {
		style = manifest.Raw{}
	}
	if color != "" {
		style.SetDefault("fill", color)
		style.SetDefault("stroke", color)
	}
	if hasWidth && width != nil {
		if _, ok := width.(float64); !ok {
			return &manifest.TypeError{Key: "strokeWidth", Want: "number", Got: width}
		}
		style.SetDefault("strokeWidth", width)
	}
	delete(l, "color")
	delete(l, "strokeWidth")
	l["style"] = map[string]any(style)
	return nil
}

func moveFeatures(l manifest.Raw, id string, files manifest.Files) error {
	features, ok := l["features"]
	delete(l, "features")
	if !ok || features == nil {
		l.SetDefault("data", nil)
		return nil
	}
	if id == "" {
		return fmt.Errorf("vector layer with inline features has no id")
	}
	name := manifest.LayerFeaturesFile(id)
	if err := manifest.CheckName(name); err != nil {
		return fmt.Errorf("layer id %q cannot name a file: %w", id, err)
	}
	data, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	files[name] = data
	l["data"] = map[string]any{"file": name}
	return nil
}

func normalizeSharedViews(sv manifest.Raw) {
	sv.SetDefault("fullscreen", false)
	sv.SetDefault("mapDimensions", map[string]any{"width": 1920.0, "height": 1080.0})
	sv.SetDefault("views", []any{})
	sv.SetDefault("activeId", "")
}

func defaultMapView(projection string) manifest.Raw {
	return manifest.Raw{
		"center":     map[string]any{"x": 0.0, "y": 0.0},
		"resolution": 1.0,
		"rotation":   0.0,
		"projection": projection,
	}
}

func projectionName(m manifest.Raw) string {
	meta, _ := m["metadata"].(map[string]any)
	if p, ok := meta["projection"].(map[string]any); ok {
		if name, _ := p["name"].(string); name != "" {
			return name
		}
	}
	return defaultProjection
}

func ensureObject(m manifest.Raw, key string) (manifest.Raw, error) {
	obj, err := m.Object(key)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		obj = manifest.Raw{}
		m[key] = map[string]any(obj)
	}
	return obj, nil
}

func ensureObjects(m manifest.Raw, key string) ([]manifest.Raw, error) {
	if v, ok := m[key]; !ok || v == nil {
		m[key] = []any{}
		return nil, nil
	}
	return m.Objects(key)
}
