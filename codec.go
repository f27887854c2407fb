package cartograph

import (
	"fmt"

	"github.com/user/cartograph/packages/manifest"
)

// DocumentFromManifest assembles a document from a decoded current-version manifest and
// its auxiliary files. Feature files referenced by layers are pulled into the layers;
// unreferenced files are kept as attachments. A referenced file that is missing is an error.
func DocumentFromManifest(m *manifest.Manifest, files manifest.Files) (*Document, error) {
	rest := files.Clone()
	if rest == nil {
		rest = make(manifest.Files)
	}
	d := &Document{
		meta: Metadata{
			ID:         m.Metadata.ID,
			Version:    m.Version,
			Name:       m.Metadata.Name,
			Projection: m.Metadata.Projection.Name,
		},
		activeLayer: LayerID(m.ActiveLayer),
		shared: SharedViews{
			Fullscreen:    m.SharedViews.Fullscreen,
			MapDimensions: m.SharedViews.MapDimensions,
			ActiveID:      ViewID(m.SharedViews.ActiveID),
		},
	}

	referenced := make(map[string]bool)
	for _, ml := range m.Layers {
		l := Layer{
			ID:      LayerID(ml.ID),
			Name:    ml.Name,
			Type:    ml.Type,
			Visible: ml.Visible,
			Opacity: ml.Opacity,
		}
		if ml.Style != nil {
			st := *ml.Style
			l.Style = &st
		}
		if ml.Remote != nil {
			r := *ml.Remote
			r.Layers = cloneStrings(ml.Remote.Layers)
			r.Attributions = cloneStrings(ml.Remote.Attributions)
			l.Remote = &r
		}
		if ml.Data != nil {
			data, ok := files[ml.Data.File]
			if !ok {
				return nil, fmt.Errorf("%w: layer %s needs %s", ErrMissingFile, ml.ID, ml.Data.File)
			}
			l.Features = append([]byte{}, data...)
			l.HasData = true
			referenced[ml.Data.File] = true
		}
		d.layers = append(d.layers, l)
	}
	for name := range referenced {
		delete(rest, name)
	}
	if len(rest) > 0 {
		d.attachments = rest
	}

	for _, ml := range m.Layouts {
		l := Layout{
			ID:     LayoutID(ml.ID),
			Name:   ml.Name,
			Format: ml.Format,
			View:   ml.View,
			Scale:  cloneScale(ml.Scale),
		}
		d.layouts = append(d.layouts, l)
	}

	for _, mv := range m.SharedViews.Views {
		v := SharedView{ID: ViewID(mv.ID), View: mv.View}
		for _, e := range mv.LayerIndex {
			v.LayerIndex = append(v.LayerIndex, LayerVisibility{LayerID: LayerID(e.LayerID), Visible: e.Visible})
		}
		d.shared.Views = append(d.shared.Views, v)
	}
	return d, nil
}

// EncodeDocument converts d into a current-version manifest plus auxiliary files.
// Vector features are written to manifest.LayerFeaturesFile; attachments pass through.
// The manifest is validated before it is returned.
func EncodeDocument(d *Document) (*manifest.Manifest, manifest.Files, error) {
	st := captureState(d)
	files := st.Attachments
	if files == nil {
		files = make(manifest.Files)
	}

	m := &manifest.Manifest{
		Version: manifest.Current,
		Metadata: manifest.Metadata{
			ID:         st.Metadata.ID,
			Version:    manifest.Current,
			Name:       st.Metadata.Name,
			Projection: manifest.Projection{Name: st.Metadata.Projection},
		},
		Layers:      make([]manifest.Layer, 0, len(st.Layers)),
		ActiveLayer: string(st.ActiveLayer),
		Layouts:     make([]manifest.Layout, 0, len(st.Layouts)),
		SharedViews: manifest.SharedViews{
			Fullscreen:    st.SharedViews.Fullscreen,
			MapDimensions: st.SharedViews.MapDimensions,
			Views:         make([]manifest.SharedView, 0, len(st.SharedViews.Views)),
			ActiveID:      string(st.SharedViews.ActiveID),
		},
	}

	for _, l := range st.Layers {
		ml := manifest.Layer{
			ID:      string(l.ID),
			Name:    l.Name,
			Type:    l.Type,
			Visible: l.Visible,
			Opacity: l.Opacity,
			Style:   l.Style,
			Remote:  l.Remote,
		}
		if l.HasData || len(l.Features) > 0 {
			name := manifest.LayerFeaturesFile(string(l.ID))
			if err := manifest.CheckName(name); err != nil {
				return nil, nil, fmt.Errorf("encode layer %s: %w", l.ID, err)
			}
			files[name] = append([]byte{}, l.Features...)
			ml.Data = &manifest.LayerData{File: name}
		}
		m.Layers = append(m.Layers, ml)
	}

	for _, l := range st.Layouts {
		m.Layouts = append(m.Layouts, manifest.Layout{
			ID:     string(l.ID),
			Name:   l.Name,
			Format: l.Format,
			View:   l.View,
			Scale:  l.Scale,
		})
	}

	for _, v := range st.SharedViews.Views {
		mv := manifest.SharedView{
			ID:         string(v.ID),
			View:       v.View,
			LayerIndex: make([]manifest.LayerVisibility, 0, len(v.LayerIndex)),
		}
		for _, e := range v.LayerIndex {
			mv.LayerIndex = append(mv.LayerIndex, manifest.LayerVisibility{LayerID: string(e.LayerID), Visible: e.Visible})
		}
		m.SharedViews.Views = append(m.SharedViews.Views, mv)
	}

	if err := manifest.Validate(m); err != nil {
		return nil, nil, err
	}
	return m, files, nil
}
