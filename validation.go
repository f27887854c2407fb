package cartograph

import (
	"context"
	"fmt"

	"github.com/user/cartograph/packages/manifest"
)

// Validation rules.
const (
	RuleUnknownVersion   = "unknown_version"
	RuleEmptyID          = "empty_id"
	RuleDuplicateLayer   = "duplicate_layer"
	RuleDuplicateLayout  = "duplicate_layout"
	RuleDuplicateView    = "duplicate_view"
	RuleDanglingActive   = "dangling_active_layer"
	RuleDanglingView     = "dangling_active_view"
	RuleDanglingViewItem = "dangling_view_layer"
	RuleOpacityRange     = "opacity_out_of_range"
)

// ValidationError represents one broken document rule.
// 参照整合性と一意性を中心に扱う。
type ValidationError struct {
	Rule    string
	ID      string
	Message string
}

func (v ValidationError) String() string {
	if v.ID == "" {
		return fmt.Sprintf("%s: %s", v.Rule, v.Message)
	}
	return fmt.Sprintf("%s %s: %s", v.Rule, v.ID, v.Message)
}

// ValidationResult contains the result of validation.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
	// Whether the computation was cancelled
	Cancelled bool
}

func (r *ValidationResult) add(rule, id, msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Rule: rule, ID: id, Message: msg})
}

// Validate checks the document invariants: known version, unique ids per collection,
// and every weak reference (active layer, active view, view layer entries) resolving.
func Validate(ctx context.Context, d *Document) *ValidationResult {
	result := &ValidationResult{Valid: true, Errors: make([]ValidationError, 0)}

	if canceled(ctx) {
		result.Cancelled = true
		return result
	}

	meta := d.Metadata()
	if meta.Version != manifest.Current {
		result.add(RuleUnknownVersion, meta.ID, fmt.Sprintf("version %q is not %s", string(meta.Version), manifest.Current))
	}

	layers := make(map[LayerID]bool)
	for _, l := range d.Layers() {
		if l.ID == "" {
			result.add(RuleEmptyID, "", "layer without id")
			continue
		}
		if layers[l.ID] {
			result.add(RuleDuplicateLayer, string(l.ID), "layer id is not unique")
		}
		layers[l.ID] = true
		if l.Opacity < 0 || l.Opacity > 1 {
			result.add(RuleOpacityRange, string(l.ID), fmt.Sprintf("opacity %v is outside 0..1", l.Opacity))
		}
	}
	if active := d.ActiveLayer(); active != "" && !layers[active] {
		result.add(RuleDanglingActive, string(active), "active layer does not exist")
	}

	if canceled(ctx) {
		result.Cancelled = true
		return result
	}

	layouts := make(map[LayoutID]bool)
	for _, l := range d.Layouts() {
		if l.ID == "" {
			result.add(RuleEmptyID, "", "layout without id")
			continue
		}
		if layouts[l.ID] {
			result.add(RuleDuplicateLayout, string(l.ID), "layout id is not unique")
		}
		layouts[l.ID] = true
	}

	sv := d.SharedViews()
	views := make(map[ViewID]bool)
	for _, v := range sv.Views {
		if canceled(ctx) {
			result.Cancelled = true
			return result
		}
		if v.ID == "" {
			result.add(RuleEmptyID, "", "shared view without id")
			continue
		}
		if views[v.ID] {
			result.add(RuleDuplicateView, string(v.ID), "shared view id is not unique")
		}
		views[v.ID] = true
		for _, e := range v.LayerIndex {
			if !layers[e.LayerID] {
				result.add(RuleDanglingViewItem, string(v.ID), fmt.Sprintf("layer index references missing layer %s", e.LayerID))
			}
		}
	}
	if sv.ActiveID != "" && !views[sv.ActiveID] {
		result.add(RuleDanglingView, string(sv.ActiveID), "active shared view does not exist")
	}

	return result
}

// violation validates d and wraps any broken rule as an InvariantViolation.
func violation(d *Document, op string, kind ChangeKind) *InvariantViolation {
	r := Validate(context.Background(), d)
	if r.Valid {
		return nil
	}
	return &InvariantViolation{Op: op, Change: kind, Errors: r.Errors}
}

func canceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
