package transform

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// AffineOperator is a built-in operator over named homogeneous matrices
// expressed in transform-order index units. A step list is applied last
// step first, so the composite for steps s0..sn is M0·M1·…·Mn. An inverted
// step contributes the inverse of its matrix.
//
// Volumes are resampled by pulling every reference voxel through the inverse
// composite, which keeps volume warps consistent with point transforms.
type AffineOperator struct {
	matrices map[string]*mat.Dense
}

// Identity returns an operator that knows no steps. With an empty step list
// it maps points and volumes unchanged.
func Identity() *AffineOperator {
	return &AffineOperator{matrices: map[string]*mat.Dense{}}
}

// NewAffineOperator builds an operator from named row-major homogeneous
// matrices. Every matrix must be square with an affine last row.
func NewAffineOperator(affines map[string][][]float64) (*AffineOperator, error) {
	op := Identity()
	for name, rows := range affines {
		m, err := homogeneous(rows)
		if err != nil {
			return nil, fmt.Errorf("affine %q: %w", name, err)
		}
		op.matrices[name] = m
	}
	return op, nil
}

// Steps returns the names of the matrices the operator knows
func (o *AffineOperator) Steps() []string {
	names := make([]string, 0, len(o.matrices))
	for name := range o.matrices {
		names = append(names, name)
	}
	return names
}

func homogeneous(rows [][]float64) (*mat.Dense, error) {
	n := len(rows)
	if n != 3 && n != 4 {
		return nil, fmt.Errorf("need a 3x3 (2D) or 4x4 (3D) matrix, got %d rows", n)
	}
	data := make([]float64, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), n)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("row %d has non-finite value %g", i, v)
			}
		}
		data = append(data, row...)
	}
	last := rows[n-1]
	for j := 0; j < n-1; j++ {
		if last[j] != 0 {
			return nil, fmt.Errorf("last row must be [0 ... 0 1], got %v", last)
		}
	}
	if last[n-1] != 1 {
		return nil, fmt.Errorf("last row must be [0 ... 0 1], got %v", last)
	}
	return mat.NewDense(n, n, data), nil
}

// Translation returns the homogeneous matrix of a pure translation
func Translation(offsets ...float64) [][]float64 {
	m := eye(len(offsets) + 1)
	for i, v := range offsets {
		m[i][len(offsets)] = v
	}
	return m
}

// Scaling returns the homogeneous matrix of a per-axis scaling
func Scaling(factors ...float64) [][]float64 {
	m := eye(len(factors) + 1)
	for i, v := range factors {
		m[i][i] = v
	}
	return m
}

func eye(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	return m
}

func (o *AffineOperator) composite(ndim int, steps []Step) (*mat.Dense, error) {
	n := ndim + 1
	c := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		c.Set(i, i, 1)
	}
	for _, s := range steps {
		m, ok := o.matrices[s.Name]
		if !ok {
			return nil, fmt.Errorf("unknown affine step %q", s.Name)
		}
		if r, _ := m.Dims(); r != n {
			return nil, fmt.Errorf("affine step %q is %dx%d, a %dD transform needs %dx%d", s.Name, r, r, ndim, n, n)
		}
		if s.Invert {
			var inv mat.Dense
			if err := inv.Inverse(m); err != nil {
				return nil, fmt.Errorf("invert affine step %q: %w", s.Name, err)
			}
			m = &inv
		}
		var next mat.Dense
		next.Mul(c, m)
		c = &next
	}
	return c, nil
}

// TransformPoints applies the composite of steps to every point
func (o *AffineOperator) TransformPoints(ctx context.Context, ndim int, points [][]float64, steps []Step) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := o.composite(ndim, steps)
	if err != nil {
		return nil, err
	}
	rows := matrixRows(c)

	out := make([][]float64, len(points))
	for i, p := range points {
		if len(p) != ndim {
			return nil, fmt.Errorf("point %d has %d coordinates, want %d", i, len(p), ndim)
		}
		out[i] = applyAffine(rows, p, make([]float64, ndim))
	}
	return out, nil
}

// ResampleVolume samples the moving grid at the inverse-mapped position of
// every reference voxel. Positions outside the moving grid read as background.
func (o *AffineOperator) ResampleVolume(ctx context.Context, moving, reference Grid, steps []Step, interp Interpolation) (Grid, error) {
	if interp != NearestNeighbor {
		return Grid{}, fmt.Errorf("affine resampler supports only %s interpolation, got %q", NearestNeighbor, interp)
	}
	ndim := len(reference.Size)
	if len(moving.Size) != ndim {
		return Grid{}, fmt.Errorf("moving grid is %dD, reference grid is %dD", len(moving.Size), ndim)
	}
	c, err := o.composite(ndim, steps)
	if err != nil {
		return Grid{}, err
	}
	var inv mat.Dense
	if err := inv.Inverse(c); err != nil {
		return Grid{}, fmt.Errorf("invert composite transform: %w", err)
	}
	rows := matrixRows(&inv)

	out := Grid{
		Size:    append([]int(nil), reference.Size...),
		Spacing: append([]float64(nil), reference.Spacing...),
		Data:    make([]int64, reference.Len()),
	}
	idx := make([]int, ndim)
	pos := make([]float64, ndim)
	mapped := make([]float64, ndim)
	src := make([]int, ndim)
	for off := range out.Data {
		if off&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return Grid{}, err
			}
		}
		out.Unravel(off, idx)
		for axis, i := range idx {
			pos[axis] = float64(i)
		}
		applyAffine(rows, pos, mapped)
		for axis, v := range mapped {
			src[axis] = int(math.Round(v))
		}
		if moving.Contains(src) {
			out.Data[off] = moving.Data[moving.Offset(src)]
		}
	}
	return out, nil
}

func matrixRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	return rows
}

// applyAffine writes the affine image of p into out and returns out
func applyAffine(rows [][]float64, p, out []float64) []float64 {
	n := len(p)
	for i := 0; i < n; i++ {
		v := rows[i][n]
		for j, x := range p {
			v += rows[i][j] * x
		}
		out[i] = v
	}
	return out
}
