package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingVersion is returned when a manifest carries no version tag at all.
var ErrMissingVersion = errors.New("manifest has no version")

// Raw is a schema-agnostic manifest: the decoded JSON object as nested maps and slices.
// Migrations operate on Raw because historical shapes have no Go type.
// Nested objects are map[string]any and arrays are []any, as produced by encoding/json.
type Raw map[string]any

// TypeError reports a manifest value whose JSON type cannot be coerced.
type TypeError struct {
	Key  string
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("manifest field %q: expected %s, got %s", e.Key, e.Want, jsonType(e.Got))
}

// Parse decodes persisted manifest bytes. The document must be a JSON object.
func Parse(data []byte) (Raw, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("parse manifest: empty input")
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse manifest: top level is %s, not an object", jsonType(v))
	}
	return Raw(m), nil
}

// Bytes encodes the manifest as indented JSON. Map keys are sorted by encoding/json,
// so equal manifests produce equal bytes.
func (r Raw) Bytes() ([]byte, error) {
	return json.MarshalIndent(map[string]any(r), "", "  ")
}

// Clone returns a deep copy; the result shares nothing with r.
func (r Raw) Clone() Raw {
	if r == nil {
		return nil
	}
	return Raw(cloneValue(map[string]any(r)).(map[string]any))
}

// Has reports whether key is present, even with a null value.
func (r Raw) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Object returns the nested object at key. A missing or null value yields (nil, nil).
// The returned Raw aliases the nested map, so writes through it are visible in r.
func (r Raw) Object(key string) (Raw, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &TypeError{Key: key, Want: "object", Got: v}
	}
	return Raw(m), nil
}

// Array returns the array at key. A missing or null value yields (nil, nil).
func (r Raw) Array(key string) ([]any, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, nil
	}
	a, ok := v.([]any)
	if !ok {
		return nil, &TypeError{Key: key, Want: "array", Got: v}
	}
	return a, nil
}

// String returns the string at key. A missing or null value yields ("", nil).
func (r Raw) String(key string) (string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Key: key, Want: "string", Got: v}
	}
	return s, nil
}

// Objects returns the array at key as a list of objects.
// Every element must be an object; a null element is an error.
func (r Raw) Objects(key string) ([]Raw, error) {
	arr, err := r.Array(key)
	if err != nil {
		return nil, err
	}
	out := make([]Raw, 0, len(arr))
	for i, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &TypeError{Key: fmt.Sprintf("%s[%d]", key, i), Want: "object", Got: item}
		}
		out = append(out, Raw(m))
	}
	return out, nil
}

// SetDefault stores value under key when the key is missing or null.
func (r Raw) SetDefault(key string, value any) {
	if v, ok := r[key]; !ok || v == nil {
		r[key] = value
	}
}

// ReadVersion returns the manifest's schema version without trusting any other field.
// The top-level "version" wins; manifests older than 1.1.0 only carry "metadata.version".
func ReadVersion(r Raw) (Version, error) {
	if v, ok := r["version"]; ok && v != nil {
		return versionValue("version", v)
	}
	meta, ok := r["metadata"].(map[string]any)
	if ok {
		if v, ok := meta["version"]; ok && v != nil {
			return versionValue("metadata.version", v)
		}
	}
	return "", ErrMissingVersion
}

// SetVersion writes v to both version locations, creating metadata when absent.
func SetVersion(r Raw, v Version) {
	r["version"] = string(v)
	meta, ok := r["metadata"].(map[string]any)
	if !ok {
		meta = make(map[string]any)
		r["metadata"] = meta
	}
	meta["version"] = string(v)
}

func versionValue(key string, v any) (Version, error) {
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Key: key, Want: "string", Got: v}
	}
	return ParseVersion(s)
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = cloneValue(item)
		}
		return out
	case Raw:
		// Nested Raw values are stored back as plain maps.
		return cloneValue(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any, Raw:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
