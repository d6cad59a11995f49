// Package visualization renders QC slices of label volumes: single volumes in
// a per-label palette and overlays of a warped source on its target.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"cellmatch/internal/models"
	"cellmatch/pkg/spacing"
)

// Overlay colours
var (
	SourceOnly = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	TargetOnly = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	Both       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Viewer slices a label volume along its native axes. 2D volumes are viewed
// as a single Z plane.
type Viewer struct {
	data []int64

	// dimensions of the volume
	width  int
	height int
	depth  int

	// pixel sizes in microns
	dx, dy, dz float64
}

// NewViewer creates a viewer for vol with its spacing
func NewViewer(vol *models.LabeledVolume, sp spacing.Spacing) (*Viewer, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	if vol.NDim() != sp.NDim() {
		return nil, fmt.Errorf("volume is %dD but spacing %s is %dD", vol.NDim(), sp, sp.NDim())
	}
	v := &Viewer{data: vol.Data, dx: sp.DX(), dy: sp.DY(), dz: 1}
	if vol.NDim() == 3 {
		v.depth, v.height, v.width = vol.Shape[0], vol.Shape[1], vol.Shape[2]
		v.dz, _ = sp.DZ()
	} else {
		v.depth, v.height, v.width = 1, vol.Shape[0], vol.Shape[1]
	}
	return v, nil
}

// LabelColor returns a stable colour per label; background is black
func LabelColor(label int64) color.RGBA {
	if label <= 0 {
		return color.RGBA{A: 255}
	}
	h := uint64(label) * 0x9E3779B97F4A7C15
	return color.RGBA{
		R: uint8(h>>40) | 0x40,
		G: uint8(h>>48) | 0x40,
		B: uint8(h>>56) | 0x40,
		A: 255,
	}
}

// plane describes one slice: its size and how to read voxel (u, w) of it
type plane struct {
	w, h   int
	px, py float64
	at     func(u, w int) int
}

func (v *Viewer) plane(axis string, position int) (plane, error) {
	if position < 0 {
		return plane{}, fmt.Errorf("position must be non-negative")
	}
	stride := v.width * v.height
	switch strings.ToLower(axis) {
	case "x":
		if position >= v.width {
			return plane{}, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		return plane{w: v.height, h: v.depth, px: v.dy, py: v.dz, at: func(y, z int) int {
			return z*stride + y*v.width + position
		}}, nil
	case "y":
		if position >= v.height {
			return plane{}, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		return plane{w: v.width, h: v.depth, px: v.dx, py: v.dz, at: func(x, z int) int {
			return z*stride + position*v.width + x
		}}, nil
	case "z":
		if position >= v.depth {
			return plane{}, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		return plane{w: v.width, h: v.height, px: v.dx, py: v.dy, at: func(x, y int) int {
			return position*stride + y*v.width + x
		}}, nil
	default:
		return plane{}, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice renders one slice in the label palette
func (v *Viewer) ExtractSlice(axis string, position int) (*image.RGBA, error) {
	p, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, p.w, p.h))
	for j := 0; j < p.h; j++ {
		for i := 0; i < p.w; i++ {
			img.SetRGBA(i, j, LabelColor(v.data[p.at(i, j)]))
		}
	}
	return img, nil
}

// Overlay renders a slice of v against the same slice of other, which must
// have the same shape. Voxels labelled only in v are SourceOnly, only in
// other TargetOnly, in both Both.
func (v *Viewer) Overlay(other *Viewer, axis string, position int) (*image.RGBA, error) {
	if other.width != v.width || other.height != v.height || other.depth != v.depth {
		return nil, fmt.Errorf("overlay needs equal shapes, got %dx%dx%d and %dx%dx%d",
			v.depth, v.height, v.width, other.depth, other.height, other.width)
	}
	p, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, p.w, p.h))
	for j := 0; j < p.h; j++ {
		for i := 0; i < p.w; i++ {
			off := p.at(i, j)
			a, b := v.data[off] > 0, other.data[off] > 0
			switch {
			case a && b:
				img.SetRGBA(i, j, Both)
			case a:
				img.SetRGBA(i, j, SourceOnly)
			case b:
				img.SetRGBA(i, j, TargetOnly)
			default:
				img.SetRGBA(i, j, color.RGBA{A: 255})
			}
		}
	}
	return img, nil
}

// Isotropic rescales a slice image so its pixels are square, using
// nearest-neighbour sampling so label colours are never blended.
func (v *Viewer) Isotropic(img image.Image, axis string) (image.Image, error) {
	p, err := v.plane(axis, 0)
	if err != nil {
		return nil, err
	}
	unit := math.Min(p.px, p.py)
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * p.px / unit))
	h := int(math.Round(float64(b.Dy()) * p.py / unit))
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Rect, img, b, draw.Src, nil)
	return dst, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch strings.ToLower(axis) {
	case "x":
		maxPos = v.width
	case "y":
		maxPos = v.height
	case "z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// SaveMidOverlays writes the isotropic overlay of the middle slice along each
// axis and returns the written paths. A 2D volume only has a Z slice.
func (v *Viewer) SaveMidOverlays(other *Viewer, outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	axes := []string{"z", "y", "x"}
	if v.depth == 1 {
		axes = axes[:1]
	}
	mid := map[string]int{"z": v.depth / 2, "y": v.height / 2, "x": v.width / 2}

	var paths []string
	for _, axis := range axes {
		img, err := v.Overlay(other, axis, mid[axis])
		if err != nil {
			return nil, err
		}
		iso, err := v.Isotropic(img, axis)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(outputDir, fmt.Sprintf("%s_overlay_%s%03d.png", prefix, axis, mid[axis]))
		if err := v.SaveSlice(iso, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
