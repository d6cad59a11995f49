package centroid

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"cellmatch/internal/models"
	"cellmatch/pkg/spacing"
)

// LabelCount is the number of voxels carrying one label
type LabelCount struct {
	Label  int64
	Voxels int
}

// LabelVolumes counts the voxels of every positive label, ascending by label
func LabelVolumes(vol *models.LabeledVolume) []LabelCount {
	counts := make(map[int64]int)
	for _, label := range vol.Data {
		if label > 0 {
			counts[label]++
		}
	}
	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Voxels: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Extent is the bounding-box size of one label in native-order microns
type Extent struct {
	Label   int64
	Microns []float64
}

// Extents returns the per-label bounding-box size along each native axis.
// A label spanning voxels 3..5 on an axis has an extent of 3 voxels there.
func Extents(vol *models.LabeledVolume, sp spacing.Spacing) ([]Extent, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	// PhysicalExtent performs the dimensionality check
	if _, err := sp.PhysicalExtent(vol.Shape); err != nil {
		return nil, err
	}

	ndim := vol.NDim()
	type box struct{ lo, hi []int }
	boxes := make(map[int64]*box)
	idx := make([]int, ndim)

	for off, label := range vol.Data {
		if label <= 0 {
			continue
		}
		vol.Unravel(off, idx)
		b, ok := boxes[label]
		if !ok {
			b = &box{lo: append([]int(nil), idx...), hi: append([]int(nil), idx...)}
			boxes[label] = b
			continue
		}
		for axis, i := range idx {
			if i < b.lo[axis] {
				b.lo[axis] = i
			}
			if i > b.hi[axis] {
				b.hi[axis] = i
			}
		}
	}

	native := sp.Native()
	out := make([]Extent, 0, len(boxes))
	for label, b := range boxes {
		um := make([]float64, ndim)
		for axis := range um {
			um[axis] = float64(b.hi[axis]-b.lo[axis]+1) * native[axis]
		}
		out = append(out, Extent{Label: label, Microns: um})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// Summary describes one dataset for the overview table
type Summary struct {
	Dataset          string
	Shape            []int
	NDim             int
	DType            string
	MinLabel         int64
	MaxLabel         int64
	Cells            int
	NonzeroVoxels    int
	FracNonzeroPct   float64
	VoxelUm          []float64
	FOVUm            []float64
	Voxels           int
	MeanCellVoxels   float64
	AnisotropyZOverY *float64
}

// Summarize computes the overview statistics of the dataset
func (d *Dataset) Summarize() (Summary, error) {
	vol := d.Volume
	fov, err := d.Spacing.PhysicalExtent(vol.Shape)
	if err != nil {
		return Summary{}, err
	}

	counts := LabelVolumes(vol)
	nonzero := 0
	voxels := make([]float64, len(counts))
	for i, c := range counts {
		nonzero += c.Voxels
		voxels[i] = float64(c.Voxels)
	}
	lo, hi := vol.MinMax()

	s := Summary{
		Dataset:       d.Name,
		Shape:         append([]int(nil), vol.Shape...),
		NDim:          vol.NDim(),
		DType:         vol.DType.String(),
		MinLabel:      lo,
		MaxLabel:      hi,
		Cells:         len(counts),
		NonzeroVoxels: nonzero,
		VoxelUm:       d.Spacing.Native(),
		FOVUm:         fov,
		Voxels:        vol.Len(),
	}
	if vol.Len() > 0 {
		s.FracNonzeroPct = float64(nonzero) / float64(vol.Len()) * 100
	}
	if len(voxels) > 0 {
		s.MeanCellVoxels = stat.Mean(voxels, nil)
	}
	if a, ok := d.Spacing.AnisotropyZY(); ok {
		s.AnisotropyZOverY = &a
	}
	return s, nil
}
