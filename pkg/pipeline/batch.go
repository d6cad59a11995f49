package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"cellmatch/pkg/config"
)

// RunBatch processes specimens with at most Processing.NumWorkers running at
// once. Reports are index-aligned with specimens; a failed specimen leaves a
// nil report. Without Processing.FailFast every specimen runs and the
// returned error joins all failures; with it the first failure cancels the
// rest.
func (r *Runner) RunBatch(ctx context.Context, specimens []config.Specimen) ([]*Report, error) {
	started := time.Now()
	reports := make([]*Report, len(specimens))
	errs := make([]error, len(specimens))

	g, gctx := errgroup.WithContext(ctx)
	workers := r.cfg.Processing.NumWorkers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, spec := range specimens {
		i, spec := i, spec
		g.Go(func() error {
			rep, err := r.Run(gctx, spec)
			r.metrics.SpecimenDone(err)
			if err != nil {
				errs[i] = err
				if r.cfg.Processing.FailFast {
					return err
				}
				return nil
			}
			reports[i] = rep
			return nil
		})
	}
	firstErr := g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	r.log.LogBatch(ctx, len(specimens), failed)
	r.metrics.ObserveStage("batch", started)

	if path := r.cfg.Output.MetricsTextfile; path != "" {
		if err := r.metrics.WriteTextfile(path); err != nil {
			r.log.WarnContext(ctx, "failed to write metrics textfile", "path", path, "error", err)
		}
	}

	if r.cfg.Processing.FailFast && firstErr != nil {
		return reports, firstErr
	}
	return reports, errors.Join(errs...)
}
