package cartograph

import "context"

// PreviewResult aggregates validation and reference analysis around a tentative edit.
// PreValidate failure means the changes were not applied.
type PreviewResult struct {
	Changes []Change

	PreReferences *ReferenceResult
	PreValidate   *ValidationResult

	Applied bool

	// Error captures a change that did not fit the document; nothing after it ran.
	Error error

	// Cancelled is set when ctx ended before every step ran. Later fields stay nil.
	Cancelled bool

	PostValidate   *ValidationResult
	PostReferences *ReferenceResult

	// After is the document state the changes would produce.
	After *Snapshot
}

// Preview runs changes, in order, against a copy of d and reports what would happen.
// It never mutates d.
// 入力Documentを変更せず、クローン上で適用して事前・事後の検査結果を返す。
// NOTE: PreReferences is empty for layers that an AddLayers change introduces; rely on
// PostReferences for the "after" view.
func Preview(ctx context.Context, d *Document, changes ...Change) *PreviewResult {
	result := &PreviewResult{Changes: changes}

	seeds := previewSeeds(changes)
	result.PreReferences = References(ctx, d, seeds...)
	if result.PreReferences.Cancelled {
		result.Cancelled = true
		return result
	}

	result.PreValidate = Validate(ctx, d)
	if result.PreValidate.Cancelled || !result.PreValidate.Valid {
		result.Cancelled = result.PreValidate.Cancelled
		return result
	}

	after := d.Clone()
	for _, c := range changes {
		if canceled(ctx) {
			result.Cancelled = true
			return result
		}
		if err := execute(after, c); err != nil {
			result.Error = err
			return result
		}
	}
	result.Applied = true
	result.After = SnapshotFromDocument(after)

	result.PostValidate = Validate(ctx, after)
	if result.PostValidate.Cancelled {
		result.Cancelled = true
		return result
	}

	result.PostReferences = References(ctx, after, seeds...)
	result.Cancelled = result.PostReferences.Cancelled
	return result
}

func previewSeeds(changes []Change) []LayerID {
	seen := make(map[LayerID]bool)
	var seeds []LayerID
	for _, c := range changes {
		for _, id := range AffectedLayers(c) {
			if !seen[id] {
				seen[id] = true
				seeds = append(seeds, id)
			}
		}
	}
	return seeds
}
