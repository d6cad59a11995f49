package labelio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"cellmatch/internal/models"
)

// Load reads a label volume, choosing the reader from the path: a directory
// is a TIFF slice stack, otherwise the extension decides.
func Load(path string) (*models.LabeledVolume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "label volume")
	}
	if info.IsDir() {
		return LoadTIFFStack(path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".npy":
		return LoadNPY(path)
	case ".tif", ".tiff":
		return LoadTIFF(path)
	default:
		return nil, errors.Errorf("unsupported label volume format %q (want .npy, .tif or a slice directory)", ext)
	}
}

// Save writes a label volume as .npy, or as TIFF for 2D volumes with a .tif
// extension.
func Save(path string, vol *models.LabeledVolume) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".npy":
		return SaveNPY(path, vol)
	case ".tif", ".tiff":
		return SaveTIFF(path, vol)
	default:
		return errors.Errorf("unsupported label volume format %q", ext)
	}
}
