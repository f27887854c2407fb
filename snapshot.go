package cartograph

import (
	"reflect"

	"github.com/user/cartograph/packages/manifest"
)

// State is everything a document exposes, in a form comparable with reflect.DeepEqual.
// Empty collections are normalised to nil so "no layers" compares equal however it came about.
type State struct {
	Metadata    Metadata
	Layers      []Layer
	ActiveLayer LayerID
	Layouts     []Layout
	SharedViews SharedViews
	Attachments manifest.Files
}

// Snapshot is an immutable document checkpoint.
// リクエスト間で共有してよいが、直接ミューテートしてはいけない。
type Snapshot struct {
	state State
	// source and steps describe how a loaded document was migrated; zero otherwise.
	source manifest.Version
	steps  []string
}

// SnapshotFromDocument captures an immutable snapshot of d.
// 既存Documentの状態を読み取り専用スナップショットとして保持する。
func SnapshotFromDocument(d *Document) *Snapshot {
	if d == nil {
		return nil
	}
	return &Snapshot{state: normalize(captureState(d))}
}

func captureState(d *Document) State {
	return State{
		Metadata:    d.Metadata(),
		Layers:      d.Layers(),
		ActiveLayer: d.ActiveLayer(),
		Layouts:     d.Layouts(),
		SharedViews: d.SharedViews(),
		Attachments: d.Attachments(),
	}
}

// State returns a deep copy of the captured state.
func (s *Snapshot) State() State {
	if s == nil {
		return State{}
	}
	return cloneState(s.state)
}

// Document returns a new mutable document holding the snapshot's state.
// 返却されるDocumentは呼び出し側専有として自由に変更してよい。
func (s *Snapshot) Document() *Document {
	if s == nil {
		return nil
	}
	st := cloneState(s.state)
	return &Document{
		meta:        st.Metadata,
		layers:      st.Layers,
		activeLayer: st.ActiveLayer,
		layouts:     st.Layouts,
		shared:      st.SharedViews,
		attachments: st.Attachments,
	}
}

// Equal reports observational equality.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return reflect.DeepEqual(s.state, other.state)
}

// SourceVersion is the manifest version the document was loaded from, empty if it was not loaded.
func (s *Snapshot) SourceVersion() manifest.Version {
	if s == nil {
		return ""
	}
	return s.source
}

// Steps names the migrations that ran when the document was loaded.
func (s *Snapshot) Steps() []string {
	if s == nil {
		return nil
	}
	return cloneStrings(s.steps)
}

func (s *Snapshot) withOrigin(source manifest.Version, steps []string) *Snapshot {
	s.source = source
	s.steps = cloneStrings(steps)
	return s
}

func normalize(st State) State {
	if len(st.Layers) == 0 {
		st.Layers = nil
	}
	for i := range st.Layers {
		l := &st.Layers[i]
		if len(l.Features) == 0 {
			l.Features = nil
		} else {
			l.HasData = true
		}
		if l.Remote != nil {
			if len(l.Remote.Layers) == 0 {
				l.Remote.Layers = nil
			}
			if len(l.Remote.Attributions) == 0 {
				l.Remote.Attributions = nil
			}
		}
	}
	if len(st.Layouts) == 0 {
		st.Layouts = nil
	}
	if len(st.SharedViews.Views) == 0 {
		st.SharedViews.Views = nil
	}
	for i := range st.SharedViews.Views {
		if len(st.SharedViews.Views[i].LayerIndex) == 0 {
			st.SharedViews.Views[i].LayerIndex = nil
		}
	}
	if len(st.Attachments) == 0 {
		st.Attachments = nil
	}
	return st
}

func cloneState(st State) State {
	out := st
	if st.Layers != nil {
		out.Layers = make([]Layer, len(st.Layers))
		for i, l := range st.Layers {
			out.Layers[i] = cloneLayer(l)
		}
	}
	if st.Layouts != nil {
		out.Layouts = make([]Layout, len(st.Layouts))
		for i, l := range st.Layouts {
			out.Layouts[i] = cloneLayout(l)
		}
	}
	out.SharedViews = cloneSharedViews(st.SharedViews)
	out.Attachments = st.Attachments.Clone()
	return out
}
