package matching

import (
	"fmt"
	"sort"

	"cellmatch/internal/models"
)

// Overlap counts the voxels where a warped source label sits on a target label
type Overlap struct {
	SourceLabel int64
	TargetLabel int64
	Voxels      int
}

// LabelOverlap tabulates label co-occurrence between a warped source volume
// and the target volume on the same grid. Pairs with fewer than minVoxels
// shared voxels are dropped. Rows are sorted by source then target label.
func LabelOverlap(warped, target *models.LabeledVolume, minVoxels int) ([]Overlap, error) {
	if err := warped.Validate(); err != nil {
		return nil, fmt.Errorf("warped volume: %w", err)
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("target volume: %w", err)
	}
	if !warped.SameShape(target) {
		return nil, &ShapeMismatchError{
			What:     "label overlap",
			Expected: fmt.Sprintf("target shape %v", target.Shape),
			Actual:   fmt.Sprintf("warped shape %v", warped.Shape),
		}
	}

	type key struct{ src, tgt int64 }
	counts := make(map[key]int)
	for i, s := range warped.Data {
		t := target.Data[i]
		if s > 0 && t > 0 {
			counts[key{s, t}]++
		}
	}

	out := make([]Overlap, 0, len(counts))
	for k, n := range counts {
		if n < minVoxels {
			continue
		}
		out = append(out, Overlap{SourceLabel: k.src, TargetLabel: k.tgt, Voxels: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceLabel != out[j].SourceLabel {
			return out[i].SourceLabel < out[j].SourceLabel
		}
		return out[i].TargetLabel < out[j].TargetLabel
	})
	return out, nil
}
