// Package spacing models the physical voxel size of a 2D or 3D modality and
// converts point arrays between voxel-index and micron units.
//
// Two axis orders are used throughout the module. Native order matches the
// storage order of label volumes: (Z,Y,X) or (Y,X). Transform order is what
// spatial-transform operators expect: (X,Y,Z) or (X,Y). Rescaling and
// reordering are deliberately separate operations.
package spacing

import (
	"fmt"
	"math"
	"strings"
)

// Spacing is an immutable per-axis voxel size in microns. A Spacing without a
// Z component describes a 2D modality.
type Spacing struct {
	dz, dy, dx float64
	hasZ       bool
}

// New2D returns the spacing of a 2D modality
func New2D(dy, dx float64) (Spacing, error) {
	s := Spacing{dy: dy, dx: dx}
	if err := s.validate(); err != nil {
		return Spacing{}, err
	}
	return s, nil
}

// New3D returns the spacing of a 3D modality
func New3D(dz, dy, dx float64) (Spacing, error) {
	s := Spacing{dz: dz, dy: dy, dx: dx, hasZ: true}
	if err := s.validate(); err != nil {
		return Spacing{}, err
	}
	return s, nil
}

// FromNativeTuple builds a Spacing from magnitudes in native order,
// (dz,dy,dx) or (dy,dx).
func FromNativeTuple(values []float64) (Spacing, error) {
	switch len(values) {
	case 2:
		return New2D(values[0], values[1])
	case 3:
		return New3D(values[0], values[1], values[2])
	default:
		return Spacing{}, &InvalidSpacingError{
			Reason: fmt.Sprintf("native tuple must have 2 (dy,dx) or 3 (dz,dy,dx) values, got %d", len(values)),
		}
	}
}

// FromMapping builds a Spacing from a mapping with dy and dx keys and an
// optional dz key. Keys are case-insensitive.
func FromMapping(m map[string]float64) (Spacing, error) {
	norm := make(map[string]float64, len(m))
	for k, v := range m {
		norm[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for key := range norm {
		if key != "dz" && key != "dy" && key != "dx" {
			return Spacing{}, &InvalidSpacingError{Axis: key, Unknown: true}
		}
	}
	dy, ok := norm["dy"]
	if !ok {
		return Spacing{}, &InvalidSpacingError{Axis: "dy", Missing: true}
	}
	dx, ok := norm["dx"]
	if !ok {
		return Spacing{}, &InvalidSpacingError{Axis: "dx", Missing: true}
	}
	if dz, ok := norm["dz"]; ok {
		return New3D(dz, dy, dx)
	}
	return New2D(dy, dx)
}

func (s Spacing) validate() error {
	check := func(axis string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return &InvalidSpacingError{Axis: axis, Value: v, Reason: "must be finite and strictly positive"}
		}
		return nil
	}
	if s.hasZ {
		if err := check("dz", s.dz); err != nil {
			return err
		}
	}
	if err := check("dy", s.dy); err != nil {
		return err
	}
	return check("dx", s.dx)
}

// NDim returns 3 when a Z spacing is present and 2 otherwise
func (s Spacing) NDim() int {
	if s.hasZ {
		return 3
	}
	return 2
}

// IsZero reports whether s is the zero value (never a valid spacing)
func (s Spacing) IsZero() bool { return s == Spacing{} }

// DZ returns the Z spacing and whether the modality has one
func (s Spacing) DZ() (float64, bool) { return s.dz, s.hasZ }

// DY returns the Y spacing
func (s Spacing) DY() float64 { return s.dy }

// DX returns the X spacing
func (s Spacing) DX() float64 { return s.dx }

// Native returns the spacing in native order, (dz,dy,dx) or (dy,dx)
func (s Spacing) Native() []float64 {
	if s.hasZ {
		return []float64{s.dz, s.dy, s.dx}
	}
	return []float64{s.dy, s.dx}
}

// TransformOrder returns the spacing in transform order, (dx,dy,dz) or (dx,dy)
func (s Spacing) TransformOrder() []float64 {
	if s.hasZ {
		return []float64{s.dx, s.dy, s.dz}
	}
	return []float64{s.dx, s.dy}
}

// AxisNames returns the lower-case native axis names
func (s Spacing) AxisNames() []string {
	if s.hasZ {
		return []string{"z", "y", "x"}
	}
	return []string{"y", "x"}
}

// AnisotropyZY returns dz/dy for 3D modalities
func (s Spacing) AnisotropyZY() (float64, bool) {
	if !s.hasZ {
		return 0, false
	}
	return s.dz / s.dy, true
}

// String implements fmt.Stringer
func (s Spacing) String() string {
	if s.hasZ {
		return fmt.Sprintf("{dz:%g dy:%g dx:%g}", s.dz, s.dy, s.dx)
	}
	return fmt.Sprintf("{dy:%g dx:%g}", s.dy, s.dx)
}

// Mapping returns the spacing as a dz/dy/dx keyed map
func (s Spacing) Mapping() map[string]float64 {
	m := map[string]float64{"dy": s.dy, "dx": s.dx}
	if s.hasZ {
		m["dz"] = s.dz
	}
	return m
}

// ToIndex divides native-order micron points by the spacing of each axis
func (s Spacing) ToIndex(points [][]float64) ([][]float64, error) {
	return s.scale(points, func(v, d float64) float64 { return v / d })
}

// ToMicrons multiplies native-order index points by the spacing of each axis
func (s Spacing) ToMicrons(points [][]float64) ([][]float64, error) {
	return s.scale(points, func(v, d float64) float64 { return v * d })
}

func (s Spacing) scale(points [][]float64, op func(v, d float64) float64) ([][]float64, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if err := s.CheckColumns(points); err != nil {
		return nil, err
	}
	native := s.Native()
	out := make([][]float64, len(points))
	for i, p := range points {
		row := make([]float64, len(p))
		for axis, v := range p {
			row[axis] = op(v, native[axis])
		}
		out[i] = row
	}
	return out, nil
}

// ToTransformOrder reverses the axes of native-order points, (Z,Y,X) to
// (X,Y,Z). Values are not rescaled.
func (s Spacing) ToTransformOrder(points [][]float64) ([][]float64, error) {
	return s.reverse(points)
}

// FromTransformOrder reverses the axes of transform-order points back to
// native order. Values are not rescaled.
func (s Spacing) FromTransformOrder(points [][]float64) ([][]float64, error) {
	return s.reverse(points)
}

func (s Spacing) reverse(points [][]float64) ([][]float64, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if err := s.CheckColumns(points); err != nil {
		return nil, err
	}
	out := make([][]float64, len(points))
	for i, p := range points {
		row := make([]float64, len(p))
		for axis, v := range p {
			row[len(p)-1-axis] = v
		}
		out[i] = row
	}
	return out, nil
}

// CheckColumns verifies that every point has NDim coordinates
func (s Spacing) CheckColumns(points [][]float64) error {
	want := s.NDim()
	for i, p := range points {
		if len(p) != want {
			return &DimensionMismatchError{
				Expected: want,
				Actual:   len(p),
				Row:      i,
				Axes:     strings.Join(s.AxisNames(), ","),
			}
		}
	}
	return nil
}

// PhysicalExtent returns the field of view in microns for a native-order shape
func (s Spacing) PhysicalExtent(shape []int) ([]float64, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if len(shape) != s.NDim() {
		return nil, &DimensionMismatchError{
			Expected: s.NDim(),
			Actual:   len(shape),
			Row:      -1,
			Axes:     strings.Join(s.AxisNames(), ","),
		}
	}
	native := s.Native()
	out := make([]float64, len(shape))
	for axis, n := range shape {
		out[axis] = float64(n) * native[axis]
	}
	return out, nil
}

func (s Spacing) usable() error {
	if s.IsZero() {
		return &InvalidSpacingError{Reason: "spacing is unset"}
	}
	return nil
}
