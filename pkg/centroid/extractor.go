// Package centroid computes one representative point per labeled object of a
// label volume, plus the per-label statistics used by the overview table.
package centroid

import (
	"fmt"
	"sort"

	"cellmatch/internal/models"
	"cellmatch/pkg/spacing"
)

// EmptyVolumeError is returned when a volume holds no positive label
type EmptyVolumeError struct {
	Shape []int
}

func (e *EmptyVolumeError) Error() string {
	return fmt.Sprintf("label volume with shape %v contains no positive labels", e.Shape)
}

// Set is the centroid set of one label volume. Rows are ordered by ascending
// label; Index[i] is the native-order voxel-index centroid of Labels[i].
type Set struct {
	Labels []int64
	Index  [][]float64

	rows map[int64]int
}

// Len returns the number of labels
func (s *Set) Len() int { return len(s.Labels) }

// NDim returns the dimensionality of the centroids
func (s *Set) NDim() int {
	if len(s.Index) == 0 {
		return 0
	}
	return len(s.Index[0])
}

// Lookup returns the index-space centroid of a label
func (s *Set) Lookup(label int64) ([]float64, bool) {
	row, ok := s.rows[label]
	if !ok {
		return nil, false
	}
	return s.Index[row], true
}

// Microns scales the index-space centroids by sp, preserving row order
func (s *Set) Microns(sp spacing.Spacing) ([][]float64, error) {
	return sp.ToMicrons(s.Index)
}

// Copy returns a deep copy that callers may modify
func (s *Set) Copy() *Set {
	out := &Set{
		Labels: append([]int64(nil), s.Labels...),
		Index:  make([][]float64, len(s.Index)),
		rows:   make(map[int64]int, len(s.rows)),
	}
	for i, p := range s.Index {
		out.Index[i] = append([]float64(nil), p...)
	}
	for k, v := range s.rows {
		out.rows[k] = v
	}
	return out
}

type accumulator struct {
	count int64
	sums  []int64
}

// Extract returns the arithmetic-mean voxel index of every positive label in
// vol. Sums are accumulated as integers so the result does not depend on the
// order in which voxels are visited.
func Extract(vol *models.LabeledVolume) (*Set, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}

	ndim := vol.NDim()
	acc := make(map[int64]*accumulator)
	idx := make([]int, ndim)

	for off, label := range vol.Data {
		if label <= 0 {
			continue
		}
		a, ok := acc[label]
		if !ok {
			a = &accumulator{sums: make([]int64, ndim)}
			acc[label] = a
		}
		vol.Unravel(off, idx)
		a.count++
		for axis, i := range idx {
			a.sums[axis] += int64(i)
		}
	}

	if len(acc) == 0 {
		return nil, &EmptyVolumeError{Shape: append([]int(nil), vol.Shape...)}
	}

	labels := make([]int64, 0, len(acc))
	for label := range acc {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	set := &Set{
		Labels: labels,
		Index:  make([][]float64, len(labels)),
		rows:   make(map[int64]int, len(labels)),
	}
	for row, label := range labels {
		a := acc[label]
		c := make([]float64, ndim)
		for axis, sum := range a.sums {
			c[axis] = float64(sum) / float64(a.count)
		}
		set.Index[row] = c
		set.rows[label] = row
	}
	return set, nil
}
