package manifest

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Files holds auxiliary blobs stored next to a manifest, keyed by slash-separated relative name.
// Large payloads such as vector feature collections live here instead of inline.
type Files map[string][]byte

// Clone returns a deep copy.
func (f Files) Clone() Files {
	if f == nil {
		return nil
	}
	out := make(Files, len(f))
	for name, data := range f {
		cp := make([]byte, len(data))
		copy(cp, data)
		out[name] = cp
	}
	return out
}

// Names returns the file names in sorted order.
func (f Files) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckName rejects names that would escape a project directory or are not canonical.
func CheckName(name string) error {
	if name == "" {
		return fmt.Errorf("file name is empty")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("file name %q must be a relative slash path", name)
	}
	if path.Clean(name) != name || name == "." || strings.HasPrefix(name, "../") || name == ".." {
		return fmt.Errorf("file name %q is not canonical", name)
	}
	return nil
}

// LayerFeaturesFile is the auxiliary file name holding a vector layer's features.
func LayerFeaturesFile(layerID string) string {
	return "layers/" + layerID + ".geojson"
}
