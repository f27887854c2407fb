package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Manifest is the typed form of a current-version manifest.
// Older versions must go through the migration chain before Decode accepts them.
type Manifest struct {
	Version     Version     `json:"version" validate:"required"`
	Metadata    Metadata    `json:"metadata"`
	Layers      []Layer     `json:"layers" validate:"dive"`
	ActiveLayer string      `json:"activeLayer"`
	Layouts     []Layout    `json:"layouts" validate:"dive"`
	SharedViews SharedViews `json:"sharedViews"`
}

type Metadata struct {
	ID         string     `json:"id" validate:"required"`
	Version    Version    `json:"version" validate:"required"`
	Name       string     `json:"name"`
	Projection Projection `json:"projection"`
}

type Projection struct {
	Name string `json:"name" validate:"required"`
}

// Layer types.
const (
	LayerVector = "vector"
	LayerRemote = "remote"
)

type Layer struct {
	ID      string     `json:"id" validate:"required"`
	Name    string     `json:"name"`
	Type    string     `json:"type" validate:"oneof=vector remote"`
	Visible bool       `json:"visible"`
	Opacity float64    `json:"opacity" validate:"gte=0,lte=1"`
	Style   *Style     `json:"style"`
	Data    *LayerData `json:"data"`
	Remote  *Remote    `json:"remote" validate:"required_if=Type remote"`
}

type Style struct {
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty" validate:"gte=0"`
	PointIcon   string  `json:"pointIcon,omitempty"`
	PointSize   float64 `json:"pointSize,omitempty" validate:"gte=0"`
}

// LayerData points at the auxiliary file holding a vector layer's features.
type LayerData struct {
	File string `json:"file" validate:"required"`
}

type Remote struct {
	Kind         string   `json:"kind" validate:"oneof=xyz wms"`
	URL          string   `json:"url" validate:"required"`
	Layers       []string `json:"layers,omitempty"`
	Attributions []string `json:"attributions,omitempty"`
}

type Layout struct {
	ID     string     `json:"id" validate:"required"`
	Name   string     `json:"name"`
	Format PageFormat `json:"format"`
	View   MapView    `json:"view"`
	Scale  *Scale     `json:"scale"`
}

type PageFormat struct {
	Name        string  `json:"name"`
	Width       float64 `json:"width" validate:"gt=0"`
	Height      float64 `json:"height" validate:"gt=0"`
	Orientation string  `json:"orientation" validate:"oneof=portrait landscape"`
}

type MapView struct {
	Center     Coordinate `json:"center"`
	Resolution float64    `json:"resolution" validate:"gte=0"`
	Rotation   float64    `json:"rotation"`
	Projection string     `json:"projection"`
}

type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Scale is the position of a layout's scale annotation on the page.
type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type SharedViews struct {
	Fullscreen    bool         `json:"fullscreen"`
	MapDimensions Dimensions   `json:"mapDimensions"`
	Views         []SharedView `json:"views" validate:"dive"`
	ActiveID      string       `json:"activeId"`
}

type Dimensions struct {
	Width  int `json:"width" validate:"gte=0"`
	Height int `json:"height" validate:"gte=0"`
}

type SharedView struct {
	ID         string            `json:"id" validate:"required"`
	View       MapView           `json:"view"`
	LayerIndex []LayerVisibility `json:"layerIndex" validate:"dive"`
}

type LayerVisibility struct {
	LayerID string `json:"layerId" validate:"required"`
	Visible bool   `json:"visible"`
}

// ValidationError lists the schema rules a decoded manifest breaks.
type ValidationError struct {
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	return "invalid manifest: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report JSON names so messages match what users see in manifest files.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks m against the current schema rules.
func Validate(m *Manifest) error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate manifest: %w", err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields = append(fields, fmt.Sprintf("%s fails %s", trimRoot(fe.Namespace()), rule))
	}
	return &ValidationError{Fields: fields, Err: err}
}

// Decode converts a current-version raw manifest into its typed form and validates it.
func Decode(r Raw) (*Manifest, error) {
	v, err := ReadVersion(r)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if v != Current {
		return nil, fmt.Errorf("decode manifest: version %s is not the current version %s", v, Current)
	}
	data, err := json.Marshal(map[string]any(r))
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode converts a typed manifest back into raw form.
func Encode(m *Manifest) (Raw, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return Parse(data)
}

// Marshal encodes m as indented JSON, the persisted form.
func Marshal(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
