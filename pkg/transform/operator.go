// Package transform carries points and label volumes through an externally
// supplied spatial transform. The transform itself is opaque: it is reached
// through the PointTransformer and VolumeResampler interfaces, and this
// package only does the geometry bookkeeping around the call.
package transform

import (
	"context"
	"fmt"
)

// Step is one named transform in a chain, with its own direction flag.
// Chains are given most specific first (nonlinear warp) and most generic last
// (affine); they are forwarded to operators unchanged.
type Step struct {
	Name   string
	Invert bool
}

func (s Step) String() string {
	if s.Invert {
		return s.Name + " (inverse)"
	}
	return s.Name
}

// Interpolation names the resampling kernel requested from a VolumeResampler
type Interpolation string

// NearestNeighbor is the only kernel label volumes may be resampled with
const NearestNeighbor Interpolation = "NearestNeighbor"

// PointTransformer maps points given in transform-order index units of the
// moving frame to transform-order index units of the target frame.
type PointTransformer interface {
	TransformPoints(ctx context.Context, ndim int, points [][]float64, steps []Step) ([][]float64, error)
}

// VolumeResampler resamples a moving grid onto the reference grid.
// Implementations must not modify either input grid.
type VolumeResampler interface {
	ResampleVolume(ctx context.Context, moving, reference Grid, steps []Step, interp Interpolation) (Grid, error)
}

// Grid is a volume handle in transform order. Size and Spacing are (X,Y,Z)
// or (X,Y); Data is laid out with the first axis varying fastest, which is the
// same memory layout as a row-major native (Z,Y,X) array.
type Grid struct {
	Size    []int
	Spacing []float64
	Data    []int64
}

// Len returns the number of voxels the grid's Size describes
func (g Grid) Len() int {
	n := 1
	for _, s := range g.Size {
		n *= s
	}
	return n
}

// Offset returns the flat index of a transform-order voxel index
func (g Grid) Offset(idx []int) int {
	off := 0
	for axis := len(g.Size) - 1; axis >= 0; axis-- {
		off = off*g.Size[axis] + idx[axis]
	}
	return off
}

// Unravel writes the transform-order index of flat offset off into out
func (g Grid) Unravel(off int, out []int) {
	for axis, s := range g.Size {
		out[axis] = off % s
		off /= s
	}
}

// Contains reports whether a transform-order voxel index lies inside the grid
func (g Grid) Contains(idx []int) bool {
	for axis, i := range idx {
		if i < 0 || i >= g.Size[axis] {
			return false
		}
	}
	return true
}

func validateSteps(steps []Step) error {
	for i, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("transform step %d has no name", i)
		}
	}
	return nil
}

func reversedInts(v []int) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[len(v)-1-i] = x
	}
	return out
}
