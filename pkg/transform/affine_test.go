package transform

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineStepOrderIsLastFirst(t *testing.T) {
	op, err := NewAffineOperator(map[string][][]float64{
		"scale": Scaling(2, 2, 2),
		"shift": Translation(1, 1, 1),
	})
	require.NoError(t, err)

	// shift is listed last, so it runs first: 2*(p+1)
	out, err := op.TransformPoints(context.Background(), 3, [][]float64{{1, 1, 1}},
		[]Step{{Name: "scale"}, {Name: "shift"}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 4, 4}, out[0], 1e-12)

	out, err = op.TransformPoints(context.Background(), 3, [][]float64{{1, 1, 1}},
		[]Step{{Name: "shift"}, {Name: "scale"}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 3, 3}, out[0], 1e-12)
}

func TestAffineInvertFlag(t *testing.T) {
	op, err := NewAffineOperator(map[string][][]float64{"shift": Translation(2, -1)})
	require.NoError(t, err)

	out, err := op.TransformPoints(context.Background(), 2, [][]float64{{5, 5}}, []Step{{Name: "shift", Invert: true}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 6}, out[0], 1e-12)
}

func TestAffineErrors(t *testing.T) {
	_, err := NewAffineOperator(map[string][][]float64{"bad": {{1, 0}, {0, 1}}})
	assert.ErrorContains(t, err, "3x3")

	_, err = NewAffineOperator(map[string][][]float64{"skew": {{1, 0, 0}, {0, 1, 0}, {1, 0, 1}}})
	assert.ErrorContains(t, err, "last row")

	op, err := NewAffineOperator(map[string][][]float64{
		"flat":     Translation(1, 1),
		"singular": {{0, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = op.TransformPoints(ctx, 3, [][]float64{{0, 0, 0}}, []Step{{Name: "missing"}})
	assert.ErrorContains(t, err, `unknown affine step "missing"`)

	_, err = op.TransformPoints(ctx, 3, [][]float64{{0, 0, 0}}, []Step{{Name: "flat"}})
	assert.ErrorContains(t, err, "3x3")

	_, err = op.TransformPoints(ctx, 3, [][]float64{{0, 0, 0}}, []Step{{Name: "singular", Invert: true}})
	assert.ErrorContains(t, err, "invert")

	g := Grid{Size: []int{2, 2, 2}, Data: make([]int64, 8)}
	_, err = op.ResampleVolume(ctx, g, g, nil, Interpolation("Linear"))
	assert.ErrorContains(t, err, "NearestNeighbor")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = op.TransformPoints(cancelled, 3, [][]float64{{0, 0, 0}}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestGridOffsetLayout(t *testing.T) {
	g := Grid{Size: []int{4, 3, 2}}
	idx := make([]int, 3)
	for off := 0; off < g.Len(); off++ {
		g.Unravel(off, idx)
		assert.Equal(t, off, g.Offset(idx))
	}
	// x varies fastest
	assert.Equal(t, 1, g.Offset([]int{1, 0, 0}))
	assert.Equal(t, 4, g.Offset([]int{0, 1, 0}))
	assert.Equal(t, 12, g.Offset([]int{0, 0, 1}))
	assert.False(t, g.Contains([]int{4, 0, 0}))
	assert.False(t, g.Contains([]int{0, -1, 0}))
}

func TestANTsArgs(t *testing.T) {
	args := antsPointArgs(3, "in.csv", "out.csv", []Step{
		{Name: "warp1Warp.nii.gz"},
		{Name: "warp0GenericAffine.mat", Invert: true},
	})
	assert.Equal(t, []string{
		"-d", "3", "-i", "in.csv", "-o", "out.csv",
		"-t", "warp1Warp.nii.gz",
		"-t", "[warp0GenericAffine.mat,1]",
	}, args)
}

func TestANTsPointsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePointsCSV(&buf, 3, [][]float64{{1.5, 2, 3}, {0, -1, 0.25}}))
	assert.Equal(t, "x,y,z,t\n1.5,2,3,0\n0,-1,0.25,0\n", buf.String())

	pts, err := readPointsCSV(&buf, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1.5, 2, 3}, {0, -1, 0.25}}, pts)

	// ANTs may reorder or add columns
	pts, err = readPointsCSV(bytes.NewBufferString("t,X,Y,label\n0,4,5,7\n"), 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{4, 5}}, pts)

	_, err = readPointsCSV(bytes.NewBufferString("x,y\n1,2\n"), 3)
	assert.ErrorContains(t, err, `"z"`)

	err = writePointsCSV(&buf, 2, [][]float64{{1, 2, 3}})
	assert.Error(t, err)
}

func TestANTsMissingBinary(t *testing.T) {
	op := &ANTsCLIOperator{Binary: "cellmatch-no-such-ants-binary"}
	_, err := op.TransformPoints(context.Background(), 3, [][]float64{{0, 0, 0}}, nil)
	var unavailable *TransformUnavailableError
	assert.True(t, errors.As(err, &unavailable))
}
