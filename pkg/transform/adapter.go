package transform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cellmatch/internal/logging"
	"cellmatch/internal/models"
	"cellmatch/pkg/coords"
	"cellmatch/pkg/spacing"
)

// Adapter invokes the external operators. Either operator may be nil, in
// which case the matching Apply method fails with TransformUnavailableError.
type Adapter struct {
	Points  PointTransformer
	Volumes VolumeResampler
	Logger  *logging.Logger
}

// ApplyToPoints carries native-order micron points of the source modality
// into native-order microns of the target modality.
func (a *Adapter) ApplyToPoints(ctx context.Context, microns [][]float64, src, tgt spacing.Spacing, steps []Step) ([][]float64, error) {
	if a == nil || a.Points == nil {
		return nil, &TransformUnavailableError{Operation: "points"}
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	if src.NDim() != tgt.NDim() {
		return nil, &spacing.DimensionMismatchError{
			Expected: src.NDim(),
			Actual:   tgt.NDim(),
			Row:      -1,
			Axes:     strings.Join(tgt.AxisNames(), ","),
		}
	}

	in, err := coords.PhysicalToTransformInput(microns, src)
	if err != nil {
		return nil, fmt.Errorf("prepare transform input: %w", err)
	}
	if len(in) == 0 {
		return [][]float64{}, nil
	}

	log := logging.OrNoop(a.Logger)
	started := time.Now()
	out, err := a.Points.TransformPoints(ctx, src.NDim(), in, steps)
	if err != nil {
		return nil, fmt.Errorf("transform points: %w", err)
	}
	log.DebugContext(ctx, "points transformed",
		"points", len(in),
		"steps", len(steps),
		"elapsed", time.Since(started),
	)

	if len(out) != len(in) {
		return nil, &GeometryMismatchError{
			What:     "transformed points",
			Expected: []int{len(in), src.NDim()},
			Actual:   []int{len(out), src.NDim()},
		}
	}
	return coords.TransformOutputToPhysical(out, tgt)
}

// ApplyToVolume resamples a source label volume onto the reference volume's
// grid with nearest-neighbour interpolation. The result has the reference's
// native shape and the source's dtype.
func (a *Adapter) ApplyToVolume(ctx context.Context, labels *models.LabeledVolume, srcSp spacing.Spacing,
	reference *models.LabeledVolume, refSp spacing.Spacing, steps []Step) (*models.LabeledVolume, error) {
	if a == nil || a.Volumes == nil {
		return nil, &TransformUnavailableError{Operation: "volumes"}
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	moving, err := gridFor(labels, srcSp)
	if err != nil {
		return nil, fmt.Errorf("moving volume: %w", err)
	}
	ref, err := gridFor(reference, refSp)
	if err != nil {
		return nil, fmt.Errorf("reference volume: %w", err)
	}

	log := logging.OrNoop(a.Logger)
	started := time.Now()
	out, err := a.Volumes.ResampleVolume(ctx, moving, ref, steps, NearestNeighbor)
	if err != nil {
		return nil, fmt.Errorf("resample volume: %w", err)
	}
	log.DebugContext(ctx, "volume resampled",
		"size", ref.Size,
		"steps", len(steps),
		"elapsed", time.Since(started),
	)

	if !sameInts(out.Size, ref.Size) || len(out.Data) != ref.Len() {
		return nil, &GeometryMismatchError{
			What:     "resampled volume",
			Expected: append([]int(nil), reference.Shape...),
			Actual:   reversedInts(out.Size),
		}
	}
	warped := &models.LabeledVolume{
		Data:  out.Data,
		Shape: reversedInts(out.Size),
		DType: models.Int64,
	}
	return warped.AsType(labels.DType), nil
}

// gridFor wraps a native-order volume as a transform-order grid. No data is
// copied: reversing the axes of a row-major array only reverses its strides.
func gridFor(vol *models.LabeledVolume, sp spacing.Spacing) (Grid, error) {
	if err := vol.Validate(); err != nil {
		return Grid{}, err
	}
	if vol.NDim() != sp.NDim() {
		return Grid{}, &spacing.DimensionMismatchError{
			Expected: sp.NDim(),
			Actual:   vol.NDim(),
			Row:      -1,
			Axes:     strings.Join(sp.AxisNames(), ","),
		}
	}
	return Grid{
		Size:    reversedInts(vol.Shape),
		Spacing: sp.TransformOrder(),
		Data:    vol.Data,
	}, nil
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
