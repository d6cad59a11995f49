package centroid

import (
	"fmt"
	"strings"
	"sync"

	"cellmatch/internal/models"
	"cellmatch/pkg/spacing"
)

// Dataset is a named label volume of one modality together with its spacing.
// Centroids are computed lazily and cached until Volume is replaced.
type Dataset struct {
	Name    string
	Path    string
	Spacing spacing.Spacing
	Volume  *models.LabeledVolume

	mu        sync.Mutex
	cached    *Set
	cachedFor *models.LabeledVolume
}

// NewDataset validates that the volume and spacing agree in dimensionality
func NewDataset(name, path string, sp spacing.Spacing, vol *models.LabeledVolume) (*Dataset, error) {
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	if vol.NDim() != sp.NDim() {
		return nil, fmt.Errorf("dataset %s: %w", name, &spacing.DimensionMismatchError{
			Expected: sp.NDim(),
			Actual:   vol.NDim(),
			Row:      -1,
			Axes:     strings.Join(sp.AxisNames(), ","),
		})
	}
	return &Dataset{Name: name, Path: path, Spacing: sp, Volume: vol}, nil
}

// Centroids returns the cached centroid set, recomputing it if the backing
// volume changed identity since the last call.
func (d *Dataset) Centroids() (*Set, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && d.cachedFor == d.Volume {
		return d.cached, nil
	}
	set, err := Extract(d.Volume)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", d.Name, err)
	}
	d.cached = set
	d.cachedFor = d.Volume
	return set, nil
}

// Labels returns a copy of the label ids in centroid row order
func (d *Dataset) Labels() ([]int64, error) {
	set, err := d.Centroids()
	if err != nil {
		return nil, err
	}
	return append([]int64(nil), set.Labels...), nil
}

// PositionsUm returns the centroids in native-order microns
func (d *Dataset) PositionsUm() ([][]float64, error) {
	set, err := d.Centroids()
	if err != nil {
		return nil, err
	}
	return set.Microns(d.Spacing)
}
