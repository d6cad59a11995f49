package labelio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"cellmatch/internal/models"
)

// LoadTIFF reads a single 2D label image. 8-bit images keep uint8 labels,
// everything else is read through the 16-bit gray model.
func LoadTIFF(path string) (*models.LabeledVolume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open tiff")
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return imageLabels(img), nil
}

func imageLabels(img image.Image) *models.LabeledVolume {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()

	switch g := img.(type) {
	case *image.Gray:
		vol := models.NewLabeledVolume([]int{h, w}, models.Uint8)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				vol.Set(int64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y), y, x)
			}
		}
		return vol
	case *image.Gray16:
		vol := models.NewLabeledVolume([]int{h, w}, models.Uint16)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				vol.Set(int64(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y), y, x)
			}
		}
		return vol
	default:
		vol := models.NewLabeledVolume([]int{h, w}, models.Uint16)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				vol.Set(int64(c.Y), y, x)
			}
		}
		return vol
	}
}

// LoadTIFFStack stacks the 2D TIFF slices of a directory along Z. Slices are
// ordered by the number embedded in their file names.
func LoadTIFFStack(dir string) (*models.LabeledVolume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read slice directory")
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".tif" || ext == ".tiff" {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no TIFF slices found in %s", dir)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	var stack *models.LabeledVolume
	var plane int
	for z, name := range files {
		slice, err := LoadTIFF(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if stack == nil {
			stack = models.NewLabeledVolume([]int{len(files), slice.Shape[0], slice.Shape[1]}, slice.DType)
			plane = slice.Len()
		}
		if slice.Shape[0] != stack.Shape[1] || slice.Shape[1] != stack.Shape[2] {
			return nil, errors.Errorf("slice %s is %dx%d, expected %dx%d",
				name, slice.Shape[0], slice.Shape[1], stack.Shape[1], stack.Shape[2])
		}
		if slice.DType != stack.DType {
			stack.DType = models.Uint16
		}
		copy(stack.Data[z*plane:(z+1)*plane], slice.Data)
	}
	return stack, nil
}

// extractNumber returns the digits of a file name read as one number, or 0
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

// SaveTIFF writes a 2D volume as a 16-bit grayscale TIFF. Labels above 65535
// cannot be represented and are rejected.
func SaveTIFF(path string, vol *models.LabeledVolume) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	if vol.NDim() != 2 {
		return errors.Errorf("tiff export needs a 2D volume, got shape %v", vol.Shape)
	}
	if _, hi := vol.MinMax(); hi > 0xffff {
		return errors.Errorf("label %d does not fit a 16-bit tiff", hi)
	}

	h, w := vol.Shape[0], vol.Shape[1]
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(vol.At(y, x))})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create tiff")
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrap(f.Close(), "close tiff")
}
