package models

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// DType identifies the integer storage type a label volume was loaded with.
// Labels are always held as int64 in memory; DType records what they must be
// cast back to when a volume is handed back to the caller or written out.
type DType int

const (
	Int8 DType = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
)

// String returns the numpy-style name of the type
func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Int64:
		return "int64"
	case Uint64:
		return "uint64"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Size returns the number of bytes per element
func (d DType) Size() int {
	switch d {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32:
		return 4
	default:
		return 8
	}
}

// LabeledVolume is a dense 2D or 3D array of object labels where 0 is
// background and every positive value identifies one object instance.
type LabeledVolume struct {
	// Data holds the labels in row-major native order (Z,Y,X or Y,X)
	Data []int64

	// Shape is the extent along each native axis
	Shape []int

	// DType is the storage type the labels were loaded with
	DType DType
}

// NewLabeledVolume allocates an all-background volume of the given native shape
func NewLabeledVolume(shape []int, dtype DType) *LabeledVolume {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &LabeledVolume{
		Data:  make([]int64, n),
		Shape: append([]int(nil), shape...),
		DType: dtype,
	}
}

// NDim returns the number of axes (2 or 3 for a valid volume)
func (v *LabeledVolume) NDim() int { return len(v.Shape) }

// Len returns the number of voxels
func (v *LabeledVolume) Len() int { return len(v.Data) }

// Validate checks that the volume is 2D or 3D, that Data matches Shape and
// that no label is negative.
func (v *LabeledVolume) Validate() error {
	if v == nil {
		return fmt.Errorf("label volume is nil")
	}
	if nd := len(v.Shape); nd != 2 && nd != 3 {
		return fmt.Errorf("label volume must be 2D or 3D, got %dD shape %v", nd, v.Shape)
	}
	n := 1
	for axis, s := range v.Shape {
		if s <= 0 {
			return fmt.Errorf("label volume axis %d has non-positive extent %d", axis, s)
		}
		n *= s
	}
	if n != len(v.Data) {
		return fmt.Errorf("label volume shape %v needs %d voxels, data has %d", v.Shape, n, len(v.Data))
	}
	for i, label := range v.Data {
		if label < 0 {
			return fmt.Errorf("label volume has negative label %d at flat index %d", label, i)
		}
	}
	return nil
}

// Offset returns the flat index of a native-order voxel index
func (v *LabeledVolume) Offset(idx ...int) int {
	off := 0
	for axis, i := range idx {
		off = off*v.Shape[axis] + i
	}
	return off
}

// At returns the label at a native-order voxel index
func (v *LabeledVolume) At(idx ...int) int64 { return v.Data[v.Offset(idx...)] }

// Set stores a label at a native-order voxel index
func (v *LabeledVolume) Set(label int64, idx ...int) { v.Data[v.Offset(idx...)] = label }

// Unravel writes the native-order index of flat offset off into out,
// which must have NDim elements.
func (v *LabeledVolume) Unravel(off int, out []int) {
	for axis := len(v.Shape) - 1; axis >= 0; axis-- {
		out[axis] = off % v.Shape[axis]
		off /= v.Shape[axis]
	}
}

// SameShape reports whether two volumes share a native shape
func (v *LabeledVolume) SameShape(o *LabeledVolume) bool {
	if len(v.Shape) != len(o.Shape) {
		return false
	}
	for i := range v.Shape {
		if v.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (v *LabeledVolume) Clone() *LabeledVolume {
	return &LabeledVolume{
		Data:  append([]int64(nil), v.Data...),
		Shape: append([]int(nil), v.Shape...),
		DType: v.DType,
	}
}

// MinMax returns the smallest and largest label present
func (v *LabeledVolume) MinMax() (lo, hi int64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	lo, hi = v.Data[0], v.Data[0]
	for _, label := range v.Data[1:] {
		if label < lo {
			lo = label
		}
		if label > hi {
			hi = label
		}
	}
	return lo, hi
}

// AsType returns a copy of the volume cast to dtype. Values that do not fit
// wrap the way a C integer conversion does.
func (v *LabeledVolume) AsType(dtype DType) *LabeledVolume {
	out := &LabeledVolume{
		Data:  make([]int64, len(v.Data)),
		Shape: append([]int(nil), v.Shape...),
		DType: dtype,
	}
	switch dtype {
	case Int8:
		castInto[int8](out.Data, v.Data)
	case Uint8:
		castInto[uint8](out.Data, v.Data)
	case Int16:
		castInto[int16](out.Data, v.Data)
	case Uint16:
		castInto[uint16](out.Data, v.Data)
	case Int32:
		castInto[int32](out.Data, v.Data)
	case Uint32:
		castInto[uint32](out.Data, v.Data)
	case Uint64:
		castInto[uint64](out.Data, v.Data)
	default:
		copy(out.Data, v.Data)
	}
	return out
}

func castInto[T constraints.Integer](dst, src []int64) {
	for i, val := range src {
		dst[i] = int64(T(val))
	}
}

// FromSlice builds a volume from any integer slice, recording dtype
func FromSlice[T constraints.Integer](data []T, shape []int, dtype DType) *LabeledVolume {
	out := &LabeledVolume{
		Data:  make([]int64, len(data)),
		Shape: append([]int(nil), shape...),
		DType: dtype,
	}
	for i, val := range data {
		out.Data[i] = int64(val)
	}
	return out
}
