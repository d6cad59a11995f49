// Package coords composes spacing conversions into the three conversions the
// pipeline needs: index centroids to microns, microns to transform input,
// and transform output back to microns.
package coords

import (
	"fmt"
	"math"

	"cellmatch/pkg/centroid"
	"cellmatch/pkg/spacing"
)

// IndexToPhysical converts a centroid set to native-order microns. Row i of
// the result belongs to set.Labels[i].
func IndexToPhysical(set *centroid.Set, sp spacing.Spacing) ([][]float64, error) {
	if set == nil {
		return nil, fmt.Errorf("centroid set is nil")
	}
	return sp.ToMicrons(set.Index)
}

// PhysicalToTransformInput converts native-order microns to index units and
// reverses them into transform order. This is what a point-transform
// operator receives.
func PhysicalToTransformInput(microns [][]float64, sp spacing.Spacing) ([][]float64, error) {
	idx, err := sp.ToIndex(microns)
	if err != nil {
		return nil, err
	}
	return sp.ToTransformOrder(idx)
}

// TransformOutputToPhysical is the inverse of PhysicalToTransformInput: it
// reorders transform-order index units back to native order and scales them
// to microns.
func TransformOutputToPhysical(points [][]float64, sp spacing.Spacing) ([][]float64, error) {
	native, err := sp.FromTransformOrder(points)
	if err != nil {
		return nil, err
	}
	return sp.ToMicrons(native)
}

// RoundTripError is returned by CheckRoundTrip when converting to transform
// input and back does not reproduce the original coordinates.
type RoundTripError struct {
	Row       int
	Axis      int
	Want, Got float64
}

func (e *RoundTripError) Error() string {
	return fmt.Sprintf("coordinate round trip drifted at row %d axis %d: want %g, got %g", e.Row, e.Axis, e.Want, e.Got)
}

// CheckRoundTrip runs microns through PhysicalToTransformInput and
// TransformOutputToPhysical with no transform in between and verifies the
// coordinates come back within relTol relative tolerance.
func CheckRoundTrip(microns [][]float64, sp spacing.Spacing, relTol float64) error {
	in, err := PhysicalToTransformInput(microns, sp)
	if err != nil {
		return err
	}
	back, err := TransformOutputToPhysical(in, sp)
	if err != nil {
		return err
	}
	for i, p := range microns {
		for axis, want := range p {
			got := back[i][axis]
			if math.Abs(got-want) > relTol*math.Max(math.Abs(want), 1) {
				return &RoundTripError{Row: i, Axis: axis, Want: want, Got: got}
			}
		}
	}
	return nil
}
