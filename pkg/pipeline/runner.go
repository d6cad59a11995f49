// Package pipeline runs the correspondence workflow for configured specimens.
//
// One specimen goes through these stages:
//  1. load both label volumes
//  2. write the dataset overview
//  3. warp the source labels onto the target grid and tabulate label overlap
//  4. extract centroids of both modalities in microns
//  5. carry the source centroids into the target frame
//  6. match the two point sets
//  7. persist the pairing table and its summary
//
// Stage 3 is skipped when the configured operator cannot resample volumes.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"cellmatch/internal/logging"
	"cellmatch/internal/metrics"
	"cellmatch/internal/models"
	"cellmatch/pkg/centroid"
	"cellmatch/pkg/config"
	"cellmatch/pkg/coords"
	"cellmatch/pkg/labelio"
	"cellmatch/pkg/matching"
	"cellmatch/pkg/spacing"
	"cellmatch/pkg/transform"
	"cellmatch/pkg/visualization"
)

// roundTripTol is the relative drift allowed when microns go to transform
// input and back without a transform
const roundTripTol = 1e-9

// Output file names inside a specimen directory
const (
	PairsFile    = "pairs.csv"
	SummaryFile  = "summary.json"
	OverviewFile = "overview.csv"
	OverlapFile  = "overlap.csv"
	QCDir        = "qc"
)

// Report describes what one specimen run produced
type Report struct {
	Specimen  string
	OutputDir string
	Overview  []centroid.Summary
	Overlap   []matching.Overlap
	Result    *matching.Result

	// Files lists every file written, in order
	Files []string
}

// Runner executes specimens with the matching and output settings of one
// configuration.
type Runner struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Recorder

	// BaseDir resolves relative label and transform paths; empty means the
	// working directory
	BaseDir string

	// NewAdapter builds the transform adapter of a specimen. It defaults to
	// AdapterFor and can be replaced to plug in other operators.
	NewAdapter func(spec config.Specimen, baseDir string, log *logging.Logger) (*transform.Adapter, error)
}

// NewRunner creates a runner. log and rec may be nil.
func NewRunner(cfg *config.Config, log *logging.Logger, rec *metrics.Recorder) *Runner {
	return &Runner{
		cfg:        cfg,
		log:        logging.OrNoop(log),
		metrics:    rec,
		NewAdapter: AdapterFor,
	}
}

// AdapterFor builds the adapter for a specimen's configured operator. The
// ANTs operator only transforms points, so its adapter has no resampler.
func AdapterFor(spec config.Specimen, baseDir string, log *logging.Logger) (*transform.Adapter, error) {
	t := spec.Transform
	switch t.Operator {
	case config.OperatorIdentity, "":
		op := transform.Identity()
		return &transform.Adapter{Points: op, Volumes: op, Logger: log}, nil
	case config.OperatorAffine:
		op, err := transform.NewAffineOperator(t.Affines)
		if err != nil {
			return nil, err
		}
		return &transform.Adapter{Points: op, Volumes: op, Logger: log}, nil
	case config.OperatorANTs:
		op := &transform.ANTsCLIOperator{Binary: t.Binary, Logger: log}
		return &transform.Adapter{Points: op, Logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", t.Operator)
	}
}

// chain returns the specimen's steps. ANTs step names are file paths and are
// resolved against baseDir.
func chain(spec config.Specimen, baseDir string) ([]transform.Step, error) {
	steps, err := spec.Transform.ChainSteps()
	if err != nil {
		return nil, err
	}
	if spec.Transform.Operator == config.OperatorANTs {
		for i := range steps {
			steps[i].Name = resolve(baseDir, steps[i].Name)
		}
	}
	return steps, nil
}

func resolve(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// run is the state of one specimen while it moves through the stages
type run struct {
	spec   config.Specimen
	log    *logging.Logger
	report *Report

	srcSp, tgtSp spacing.Spacing
	source       *centroid.Dataset
	target       *centroid.Dataset
	adapter      *transform.Adapter
	steps        []transform.Step

	srcUm, tgtUm   [][]float64
	srcLab, tgtLab []int64
	movedUm        [][]float64
}

// Run processes one specimen and writes its outputs below Output.Dir
func (r *Runner) Run(ctx context.Context, spec config.Specimen) (*Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("specimen %s: %w", spec.Name, err)
	}
	strategy, err := r.cfg.StrategyValue()
	if err != nil {
		return nil, err
	}

	st := &run{
		spec: spec,
		log:  r.log.WithSpecimen(spec.Name),
		report: &Report{
			Specimen:  spec.Name,
			OutputDir: filepath.Join(r.cfg.Output.Dir, spec.Name),
		},
	}

	stages := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{"load", r.load},
		{"overview", r.overview},
		{"warp", r.warp},
		{"centroids", r.centroids},
		{"transform", r.transformPoints},
		{"match", func(ctx context.Context, st *run) error { return r.match(ctx, st, strategy) }},
		{"persist", r.persist},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		started := time.Now()
		err := s.fn(ctx, st)
		st.log.LogStage(ctx, s.name, started, err)
		r.metrics.ObserveStage(s.name, started)
		if err != nil {
			return nil, fmt.Errorf("specimen %s: %s: %w", spec.Name, s.name, err)
		}
	}
	return st.report, nil
}

func (r *Runner) load(ctx context.Context, st *run) error {
	var err error
	if st.srcSp, err = st.spec.Source.SpacingValue(); err != nil {
		return err
	}
	if st.tgtSp, err = st.spec.Target.SpacingValue(); err != nil {
		return err
	}
	if st.source, err = r.dataset(st.spec.Source, st.srcSp); err != nil {
		return err
	}
	if st.target, err = r.dataset(st.spec.Target, st.tgtSp); err != nil {
		return err
	}
	if st.steps, err = chain(st.spec, r.BaseDir); err != nil {
		return err
	}
	st.adapter, err = r.NewAdapter(st.spec, r.BaseDir, st.log)
	return err
}

func (r *Runner) dataset(m config.Modality, sp spacing.Spacing) (*centroid.Dataset, error) {
	path := resolve(r.BaseDir, m.Labels)
	vol, err := labelio.Load(path)
	if err != nil {
		return nil, err
	}
	name := m.Name
	if name == "" {
		name = filepath.Base(path)
	}
	return centroid.NewDataset(name, path, sp, vol)
}

func (r *Runner) overview(ctx context.Context, st *run) error {
	for _, d := range []*centroid.Dataset{st.source, st.target} {
		s, err := d.Summarize()
		if err != nil {
			return err
		}
		st.log.DebugContext(ctx, "dataset loaded",
			"dataset", s.Dataset,
			"shape", s.Shape,
			"cells", s.Cells,
			"dtype", s.DType,
		)
		st.report.Overview = append(st.report.Overview, s)
	}
	if !r.cfg.Output.SaveOverview {
		return nil
	}
	return st.write(OverviewFile, func(w io.Writer) error {
		return labelio.WriteOverviewCSV(w, st.report.Overview)
	})
}

func (r *Runner) warp(ctx context.Context, st *run) error {
	if st.adapter.Volumes == nil {
		st.log.InfoContext(ctx, "operator cannot resample volumes, skipping warp")
		return nil
	}
	warped, err := st.adapter.ApplyToVolume(ctx, st.source.Volume, st.srcSp, st.target.Volume, st.tgtSp, st.steps)
	if err != nil {
		return err
	}

	st.report.Overlap, err = matching.LabelOverlap(warped, st.target.Volume, r.cfg.Matching.MinOverlapVoxels)
	if err != nil {
		return err
	}
	if err := st.write(OverlapFile, func(w io.Writer) error {
		return labelio.WriteOverlapCSV(w, st.report.Overlap)
	}); err != nil {
		return err
	}

	if r.cfg.Output.SaveWarpedLabels {
		path := filepath.Join(st.report.OutputDir, fmt.Sprintf("%s_warped_to_%s.npy", st.source.Name, st.target.Name))
		if err := labelio.Save(path, warped); err != nil {
			return err
		}
		st.report.Files = append(st.report.Files, path)
	}
	if r.cfg.Output.SaveQCSlices {
		paths, err := qcOverlays(warped, st.target.Volume, st.tgtSp, filepath.Join(st.report.OutputDir, QCDir), st.spec.Name)
		if err != nil {
			return err
		}
		st.report.Files = append(st.report.Files, paths...)
	}
	return nil
}

func qcOverlays(warped, target *models.LabeledVolume, sp spacing.Spacing, dir, prefix string) ([]string, error) {
	a, err := visualization.NewViewer(warped, sp)
	if err != nil {
		return nil, err
	}
	b, err := visualization.NewViewer(target, sp)
	if err != nil {
		return nil, err
	}
	return a.SaveMidOverlays(b, dir, prefix)
}

func (r *Runner) centroids(ctx context.Context, st *run) error {
	src, err := st.source.Centroids()
	if err != nil {
		return err
	}
	tgt, err := st.target.Centroids()
	if err != nil {
		return err
	}
	if st.srcUm, err = coords.IndexToPhysical(src, st.srcSp); err != nil {
		return err
	}
	if st.tgtUm, err = coords.IndexToPhysical(tgt, st.tgtSp); err != nil {
		return err
	}
	st.srcLab = append([]int64(nil), src.Labels...)
	st.tgtLab = append([]int64(nil), tgt.Labels...)
	st.log.DebugContext(ctx, "centroids extracted", "source", len(st.srcLab), "target", len(st.tgtLab))
	return nil
}

func (r *Runner) transformPoints(ctx context.Context, st *run) error {
	if err := coords.CheckRoundTrip(st.srcUm, st.srcSp, roundTripTol); err != nil {
		return err
	}
	moved, err := st.adapter.ApplyToPoints(ctx, st.srcUm, st.srcSp, st.tgtSp, st.steps)
	if err != nil {
		return err
	}
	st.movedUm = moved
	return nil
}

func (r *Runner) match(ctx context.Context, st *run, strategy matching.Strategy) error {
	res, err := matching.Match(matching.Input{
		SourceLabels: st.srcLab,
		SourcePoints: st.movedUm,
		TargetLabels: st.tgtLab,
		TargetPoints: st.tgtUm,
	}, strategy, matching.WithGate(r.cfg.Matching.MaxDistanceUm))
	if err != nil {
		return err
	}
	st.report.Result = res
	st.log.LogMatch(ctx, res.Summary.Strategy, len(res.Pairs), res.Summary.CountWithinGate)
	r.metrics.Matched(st.spec.Name, res.Summary.Strategy, len(res.Pairs), res.Summary.FractionWithinGate)
	return nil
}

func (r *Runner) persist(ctx context.Context, st *run) error {
	axes := st.tgtSp.AxisNames()
	if err := st.write(PairsFile, func(w io.Writer) error {
		return labelio.WritePairsCSV(w, st.report.Result.Pairs, axes)
	}); err != nil {
		return err
	}
	return st.write(SummaryFile, func(w io.Writer) error {
		return labelio.WriteSummaryJSON(w, st.report.Result.Summary)
	})
}

func (st *run) write(name string, fill func(io.Writer) error) error {
	path := filepath.Join(st.report.OutputDir, name)
	if err := labelio.WriteFile(path, fill); err != nil {
		return err
	}
	st.report.Files = append(st.report.Files, path)
	return nil
}
