package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellmatch/internal/models"
	"cellmatch/pkg/spacing"
)

// recordingOperator returns points unchanged and remembers what it was given
type recordingOperator struct {
	ndim   int
	points [][]float64
	steps  []Step
	drop   bool
}

func (r *recordingOperator) TransformPoints(_ context.Context, ndim int, points [][]float64, steps []Step) ([][]float64, error) {
	r.ndim, r.points, r.steps = ndim, points, steps
	if r.drop {
		return points[1:], nil
	}
	return points, nil
}

type shrinkingResampler struct{}

func (shrinkingResampler) ResampleVolume(_ context.Context, _, reference Grid, _ []Step, _ Interpolation) (Grid, error) {
	size := append([]int(nil), reference.Size...)
	size[0]--
	g := Grid{Size: size}
	g.Data = make([]int64, g.Len())
	return g, nil
}

func must3D(t *testing.T, dz, dy, dx float64) spacing.Spacing {
	t.Helper()
	sp, err := spacing.New3D(dz, dy, dx)
	require.NoError(t, err)
	return sp
}

func TestApplyToPointsIdentityScenario(t *testing.T) {
	src := must3D(t, 2, 1, 1)
	tgt := must3D(t, 1, 1, 1)
	a := &Adapter{Points: Identity()}

	// centroid at index (2,2,2) of the source is (4,2,2) microns
	out, err := a.ApplyToPoints(context.Background(), [][]float64{{4, 2, 2}}, src, tgt, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2, 2, 2}}, out)
}

func TestApplyToPointsForwardsTransformOrderAndSteps(t *testing.T) {
	src := must3D(t, 2, 0.5, 0.25)
	tgt := must3D(t, 1, 1, 1)
	rec := &recordingOperator{}
	a := &Adapter{Points: rec}
	steps := []Step{{Name: "warp.nii.gz"}, {Name: "affine.mat", Invert: true}}

	out, err := a.ApplyToPoints(context.Background(), [][]float64{{4, 1, 1}}, src, tgt, steps)
	require.NoError(t, err)

	assert.Equal(t, 3, rec.ndim)
	assert.Equal(t, [][]float64{{4, 2, 2}}, rec.points)
	assert.Equal(t, steps, rec.steps)
	// the operator output is read back as (x,y,z) index units of the target
	assert.Equal(t, [][]float64{{2, 2, 4}}, out)
}

func TestApplyToPointsTranslation(t *testing.T) {
	op, err := NewAffineOperator(map[string][][]float64{"shift": Translation(1, 0, 0)})
	require.NoError(t, err)
	sp := must3D(t, 1, 1, 0.5)
	a := &Adapter{Points: op}

	out, err := a.ApplyToPoints(context.Background(), [][]float64{{0, 0, 1}}, sp, sp, []Step{{Name: "shift"}})
	require.NoError(t, err)
	// one index unit along x is 0.5 microns
	assert.InDeltaSlice(t, []float64{0, 0, 1.5}, out[0], 1e-12)
}

func TestApplyToPointsErrors(t *testing.T) {
	sp := must3D(t, 1, 1, 1)
	ctx := context.Background()

	var unavailable *TransformUnavailableError
	_, err := (&Adapter{}).ApplyToPoints(ctx, [][]float64{{1, 1, 1}}, sp, sp, nil)
	require.True(t, errors.As(err, &unavailable))
	assert.Contains(t, err.Error(), "points")

	var geom *GeometryMismatchError
	a := &Adapter{Points: &recordingOperator{drop: true}}
	_, err = a.ApplyToPoints(ctx, [][]float64{{1, 1, 1}, {2, 2, 2}}, sp, sp, nil)
	require.True(t, errors.As(err, &geom))
	assert.Equal(t, []int{2, 3}, geom.Expected)
	assert.Equal(t, []int{1, 3}, geom.Actual)

	sp2, err := spacing.New2D(1, 1)
	require.NoError(t, err)
	var dim *spacing.DimensionMismatchError
	_, err = (&Adapter{Points: Identity()}).ApplyToPoints(ctx, [][]float64{{1, 1, 1}}, sp, sp2, nil)
	assert.True(t, errors.As(err, &dim))

	_, err = (&Adapter{Points: Identity()}).ApplyToPoints(ctx, [][]float64{{1, 1, 1}}, sp, sp, []Step{{}})
	assert.ErrorContains(t, err, "no name")
}

func TestApplyToPointsEmpty(t *testing.T) {
	sp := must3D(t, 1, 1, 1)
	rec := &recordingOperator{}
	out, err := (&Adapter{Points: rec}).ApplyToPoints(context.Background(), nil, sp, sp, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Nil(t, rec.points)
}

func TestApplyToVolumeIdentityKeepsDType(t *testing.T) {
	sp := must3D(t, 2, 1, 1)
	vol := models.NewLabeledVolume([]int{3, 4, 5}, models.Uint16)
	vol.Set(9, 1, 2, 3)
	ref := models.NewLabeledVolume([]int{3, 4, 5}, models.Uint8)

	out, err := (&Adapter{Volumes: Identity()}).ApplyToVolume(context.Background(), vol, sp, ref, sp, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Uint16, out.DType)
	assert.Equal(t, []int{3, 4, 5}, out.Shape)
	assert.Equal(t, vol.Data, out.Data)
}

func TestApplyToVolumeMatchesPointTransform(t *testing.T) {
	op, err := NewAffineOperator(map[string][][]float64{"shift": Translation(2, 1, 0)})
	require.NoError(t, err)
	sp := must3D(t, 1, 1, 1)
	steps := []Step{{Name: "shift"}}

	vol := models.NewLabeledVolume([]int{4, 6, 8}, models.Uint16)
	vol.Set(5, 1, 2, 3) // native (z,y,x)
	ref := models.NewLabeledVolume([]int{4, 6, 8}, models.Uint16)

	a := &Adapter{Points: op, Volumes: op}
	warped, err := a.ApplyToVolume(context.Background(), vol, sp, ref, sp, steps)
	require.NoError(t, err)

	pts, err := a.ApplyToPoints(context.Background(), [][]float64{{1, 2, 3}}, sp, sp, steps)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 3, 5}}, pts)
	assert.Equal(t, int64(5), warped.At(1, 3, 5))
	assert.Equal(t, int64(0), warped.At(1, 2, 3))
}

func TestApplyToVolumeOntoDifferentGrid(t *testing.T) {
	// moving is twice as fine along x; scaling x by 0.5 lands it on the reference
	op, err := NewAffineOperator(map[string][][]float64{"half": Scaling(0.5, 1)})
	require.NoError(t, err)
	movingSp, err := spacing.New2D(1, 0.5)
	require.NoError(t, err)
	refSp, err := spacing.New2D(1, 1)
	require.NoError(t, err)

	vol := models.NewLabeledVolume([]int{2, 8}, models.Uint8)
	for x := 4; x < 8; x++ {
		vol.Set(3, 1, x)
	}
	ref := models.NewLabeledVolume([]int{2, 4}, models.Uint8)

	out, err := (&Adapter{Volumes: op}).ApplyToVolume(context.Background(), vol, movingSp, ref, refSp, []Step{{Name: "half"}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, out.Shape)
	assert.Equal(t, []int64{0, 0, 0, 0, 0, 0, 3, 3}, out.Data)
}

func TestApplyToVolumeErrors(t *testing.T) {
	sp := must3D(t, 1, 1, 1)
	vol := models.NewLabeledVolume([]int{2, 2, 2}, models.Uint8)
	ctx := context.Background()

	var unavailable *TransformUnavailableError
	_, err := (&Adapter{}).ApplyToVolume(ctx, vol, sp, vol, sp, nil)
	assert.True(t, errors.As(err, &unavailable))

	var geom *GeometryMismatchError
	_, err = (&Adapter{Volumes: shrinkingResampler{}}).ApplyToVolume(ctx, vol, sp, vol, sp, nil)
	require.True(t, errors.As(err, &geom))
	assert.Equal(t, []int{2, 2, 2}, geom.Expected)
	assert.Equal(t, []int{2, 2, 1}, geom.Actual)

	flat := models.NewLabeledVolume([]int{2, 2}, models.Uint8)
	var dim *spacing.DimensionMismatchError
	_, err = (&Adapter{Volumes: Identity()}).ApplyToVolume(ctx, flat, sp, vol, sp, nil)
	assert.True(t, errors.As(err, &dim))
}
