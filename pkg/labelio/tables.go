package labelio

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"cellmatch/pkg/centroid"
	"cellmatch/pkg/matching"
)

// PairColumns returns the pairing-table header for the given native axis names
func PairColumns(axes []string) []string {
	cols := []string{"source_label", "target_label", "distance_um", "within_gate"}
	for _, side := range []string{"source", "target"} {
		for _, a := range axes {
			cols = append(cols, side+"_"+a+"_um")
		}
	}
	return cols
}

// WritePairsCSV writes the pairing table in its sorted order
func WritePairsCSV(w io.Writer, pairs []matching.Pair, axes []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PairColumns(axes)); err != nil {
		return err
	}
	for i, p := range pairs {
		if len(p.SourceUm) != len(axes) || len(p.TargetUm) != len(axes) {
			return errors.Errorf("pair %d has %d/%d coordinates for axes %v", i, len(p.SourceUm), len(p.TargetUm), axes)
		}
		record := []string{
			strconv.FormatInt(p.SourceLabel, 10),
			strconv.FormatInt(p.TargetLabel, 10),
			formatFloat(p.DistanceUm),
			strconv.FormatBool(p.WithinGate),
		}
		for _, v := range p.SourceUm {
			record = append(record, formatFloat(v))
		}
		for _, v := range p.TargetUm {
			record = append(record, formatFloat(v))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryJSON writes the summary as an indented flat object
func WriteSummaryJSON(w io.Writer, s matching.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// OverviewColumns is the header of the dataset overview table
var OverviewColumns = []string{
	"dataset", "shape", "ndim", "dtype", "min_label", "max_label", "n_cells",
	"nonzero_voxels", "frac_nonzero_pct", "voxel_um", "fov_um", "voxels",
	"mean_cell_voxels", "anisotropy_z_over_y",
}

// WriteOverviewCSV writes one row per dataset summary
func WriteOverviewCSV(w io.Writer, rows []centroid.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(OverviewColumns); err != nil {
		return err
	}
	for _, s := range rows {
		aniso := ""
		if s.AnisotropyZOverY != nil {
			aniso = formatFloat(*s.AnisotropyZOverY)
		}
		record := []string{
			s.Dataset,
			joinInts(s.Shape),
			strconv.Itoa(s.NDim),
			s.DType,
			strconv.FormatInt(s.MinLabel, 10),
			strconv.FormatInt(s.MaxLabel, 10),
			strconv.Itoa(s.Cells),
			strconv.Itoa(s.NonzeroVoxels),
			formatFloat(s.FracNonzeroPct),
			joinFloats(s.VoxelUm),
			joinFloats(s.FOVUm),
			strconv.Itoa(s.Voxels),
			formatFloat(s.MeanCellVoxels),
			aniso,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOverlapCSV writes the label overlap table
func WriteOverlapCSV(w io.Writer, rows []matching.Overlap) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"source_label", "target_label", "overlap_voxels"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.FormatInt(r.SourceLabel, 10),
			strconv.FormatInt(r.TargetLabel, 10),
			strconv.Itoa(r.Voxels),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile creates path (and its directory) and fills it with write
func WriteFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, "x")
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	return strings.Join(parts, "x")
}
