// Package matching pairs cells of one modality with cells of another once
// both are expressed in the same micron space.
//
// Two strategies are available. NearestNeighbor answers every source point
// with its closest target through a k-d tree; targets may repeat.
// OptimalAssignment builds the full distance matrix and solves the one-to-one
// assignment with minimum total cost. Either way every pair is flagged
// against a distance gate and the table is sorted by distance.
package matching

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Input holds both point sets. Source points must already be in the target's
// micron space; label i belongs to point row i.
type Input struct {
	SourceLabels []int64
	SourcePoints [][]float64
	TargetLabels []int64
	TargetPoints [][]float64
}

// Pair is one row of the pairing table
type Pair struct {
	SourceLabel int64
	TargetLabel int64
	DistanceUm  float64
	WithinGate  bool

	// SourceRow and TargetRow index the input arrays
	SourceRow int
	TargetRow int

	// SourceUm and TargetUm are the native-order coordinates of both ends
	SourceUm []float64
	TargetUm []float64
}

// Result is the pairing table, sorted ascending by distance, and its summary
type Result struct {
	Pairs   []Pair
	Summary Summary
}

type options struct {
	gate float64
}

// Option configures Match
type Option func(*options)

// WithGate sets the maximum distance in microns for a pair to count as
// within gate. The default, +Inf, accepts everything.
func WithGate(um float64) Option {
	return func(o *options) { o.gate = um }
}

// Match pairs the source points with the target points using strategy
func Match(in Input, strategy Strategy, opts ...Option) (*Result, error) {
	o := options{gate: math.Inf(1)}
	for _, opt := range opts {
		opt(&o)
	}

	if !strategy.valid() {
		return nil, &InvalidStrategyError{Name: strategy.String()}
	}
	if math.IsNaN(o.gate) || o.gate < 0 {
		return nil, fmt.Errorf("distance gate must be a non-negative number, got %g", o.gate)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var pairs []Pair
	switch strategy {
	case NearestNeighbor:
		pairs = in.nearest()
	case OptimalAssignment:
		pairs = in.optimal(o.gate)
	}

	for i := range pairs {
		pairs[i].WithinGate = pairs[i].DistanceUm <= o.gate
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].DistanceUm < pairs[j].DistanceUm })

	return &Result{
		Pairs:   pairs,
		Summary: Summarize(pairs, strategy, o.gate),
	}, nil
}

func (in Input) validate() error {
	if len(in.SourceLabels) != len(in.SourcePoints) {
		return &ShapeMismatchError{
			What:     "source",
			Expected: fmt.Sprintf("%d point rows, one per label", len(in.SourceLabels)),
			Actual:   fmt.Sprintf("%d rows", len(in.SourcePoints)),
		}
	}
	if len(in.TargetLabels) != len(in.TargetPoints) {
		return &ShapeMismatchError{
			What:     "target",
			Expected: fmt.Sprintf("%d point rows, one per label", len(in.TargetLabels)),
			Actual:   fmt.Sprintf("%d rows", len(in.TargetPoints)),
		}
	}
	if len(in.SourcePoints) == 0 {
		return &EmptyPointSetError{Side: "source"}
	}
	if len(in.TargetPoints) == 0 {
		return &EmptyPointSetError{Side: "target"}
	}

	ndim := len(in.SourcePoints[0])
	if ndim == 0 {
		return &ShapeMismatchError{What: "source point 0", Expected: "at least one column", Actual: "0 columns"}
	}
	sets := []struct {
		side string
		pts  [][]float64
	}{{"source", in.SourcePoints}, {"target", in.TargetPoints}}
	for _, set := range sets {
		side := set.side
		for i, p := range set.pts {
			if len(p) != ndim {
				return &ShapeMismatchError{
					What:     fmt.Sprintf("%s point %d", side, i),
					Expected: fmt.Sprintf("%d columns", ndim),
					Actual:   fmt.Sprintf("%d columns", len(p)),
				}
			}
			for axis, v := range p {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%s point %d axis %d is not finite: %g", side, i, axis, v)
				}
			}
		}
	}
	return nil
}

func (in Input) pair(i, j int, dist float64) Pair {
	return Pair{
		SourceLabel: in.SourceLabels[i],
		TargetLabel: in.TargetLabels[j],
		DistanceUm:  dist,
		SourceRow:   i,
		TargetRow:   j,
		SourceUm:    append([]float64(nil), in.SourcePoints[i]...),
		TargetUm:    append([]float64(nil), in.TargetPoints[j]...),
	}
}

func (in Input) nearest() []Pair {
	idx := nearestNeighbors(in.SourcePoints, in.TargetPoints)
	pairs := make([]Pair, len(idx))
	for i, j := range idx {
		pairs[i] = in.pair(i, j, floats.Distance(in.SourcePoints[i], in.TargetPoints[j], 2))
	}
	return pairs
}

// optimal reports the literal distance of every assigned pair; the gate
// penalty only steers the solver.
func (in Input) optimal(gate float64) []Pair {
	dist := distanceMatrix(in.SourcePoints, in.TargetPoints)
	cols := assign(gatedCost(dist, gate))
	pairs := make([]Pair, 0, min(len(in.SourcePoints), len(in.TargetPoints)))
	for i, j := range cols {
		if j < 0 {
			continue
		}
		pairs = append(pairs, in.pair(i, j, dist.At(i, j)))
	}
	return pairs
}
