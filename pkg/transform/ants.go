package transform

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"cellmatch/internal/logging"
)

// DefaultANTsPointsBinary is the ANTs tool used when no binary is configured
const DefaultANTsPointsBinary = "antsApplyTransformsToPoints"

// ANTsCLIOperator transforms points by running antsApplyTransformsToPoints
// over a CSV file. Step names are transform file paths.
type ANTsCLIOperator struct {
	Binary  string
	WorkDir string
	Logger  *logging.Logger
}

// TransformPoints writes the points to a temporary CSV, runs the binary and
// reads the transformed points back.
func (o *ANTsCLIOperator) TransformPoints(ctx context.Context, ndim int, points [][]float64, steps []Step) ([][]float64, error) {
	bin := o.Binary
	if bin == "" {
		bin = DefaultANTsPointsBinary
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, &TransformUnavailableError{Operation: "points", Reason: err.Error()}
	}

	dir, err := os.MkdirTemp(o.WorkDir, "cellmatch-ants-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "points_in.csv")
	out := filepath.Join(dir, "points_out.csv")
	if err := writeCSVFile(in, ndim, points); err != nil {
		return nil, err
	}

	args := antsPointArgs(ndim, in, out, steps)
	logging.OrNoop(o.Logger).DebugContext(ctx, "running ants", "binary", path, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, path, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", bin, err, strings.TrimSpace(string(output)))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("open ants output: %w", err)
	}
	defer f.Close()
	return readPointsCSV(f, ndim)
}

// antsPointArgs builds the argument list. Inverted steps use the [path,1]
// form ANTs expects.
func antsPointArgs(ndim int, in, out string, steps []Step) []string {
	args := []string{"-d", strconv.Itoa(ndim), "-i", in, "-o", out}
	for _, s := range steps {
		if s.Invert {
			args = append(args, "-t", "["+s.Name+",1]")
		} else {
			args = append(args, "-t", s.Name)
		}
	}
	return args
}

func pointColumns(ndim int) []string {
	if ndim == 2 {
		return []string{"x", "y", "t"}
	}
	return []string{"x", "y", "z", "t"}
}

func writeCSVFile(path string, ndim int, points [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ants input: %w", err)
	}
	if err := writePointsCSV(f, ndim, points); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writePointsCSV writes transform-order points with a zero time column
func writePointsCSV(w io.Writer, ndim int, points [][]float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pointColumns(ndim)); err != nil {
		return err
	}
	record := make([]string, ndim+1)
	for i, p := range points {
		if len(p) != ndim {
			return fmt.Errorf("point %d has %d coordinates, want %d", i, len(p), ndim)
		}
		for axis, v := range p {
			record[axis] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		record[ndim] = "0"
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// readPointsCSV reads the spatial columns of an ANTs points file by header name
func readPointsCSV(r io.Reader, ndim int) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read ants output header: %w", err)
	}
	cols := make([]int, ndim)
	for axis, name := range pointColumns(ndim)[:ndim] {
		cols[axis] = -1
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				cols[axis] = i
			}
		}
		if cols[axis] < 0 {
			return nil, fmt.Errorf("ants output has no %q column (header %v)", name, header)
		}
	}

	var out [][]float64
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ants output line %d: %w", line, err)
		}
		p := make([]float64, ndim)
		for axis, col := range cols {
			if col >= len(record) {
				return nil, fmt.Errorf("ants output line %d is missing column %d", line, col)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("ants output line %d: %w", line, err)
			}
			p[axis] = v
		}
		out = append(out, p)
	}
	return out, nil
}
