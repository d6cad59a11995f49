package matching

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelsFor(n int, base int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = base + int64(i)
	}
	return out
}

func input(src, tgt [][]float64) Input {
	return Input{
		SourceLabels: labelsFor(len(src), 1),
		SourcePoints: src,
		TargetLabels: labelsFor(len(tgt), 101),
		TargetPoints: tgt,
	}
}

func totalDistance(pairs []Pair) float64 {
	var sum float64
	for _, p := range pairs {
		sum += p.DistanceUm
	}
	return sum
}

func TestNearestNeighborExample(t *testing.T) {
	in := input(
		[][]float64{{0, 0, 0}, {10, 10, 10}},
		[][]float64{{0, 0, 1}, {9, 9, 9}, {100, 100, 100}},
	)
	res, err := Match(in, NearestNeighbor)
	require.NoError(t, err)
	require.Len(t, res.Pairs, 2)

	first, second := res.Pairs[0], res.Pairs[1]
	assert.Equal(t, 0, first.SourceRow)
	assert.Equal(t, 0, first.TargetRow)
	assert.Equal(t, int64(1), first.SourceLabel)
	assert.Equal(t, int64(101), first.TargetLabel)
	assert.InDelta(t, 1.0, first.DistanceUm, 1e-12)

	assert.Equal(t, 1, second.SourceRow)
	assert.Equal(t, 1, second.TargetRow)
	assert.InDelta(t, math.Sqrt(3), second.DistanceUm, 1e-12)

	assert.Equal(t, []float64{10, 10, 10}, second.SourceUm)
	assert.Equal(t, []float64{9, 9, 9}, second.TargetUm)
	assert.True(t, first.WithinGate)
	assert.True(t, second.WithinGate)
	assert.Equal(t, 2, res.Summary.CountWithinGate)
	assert.True(t, math.IsInf(res.Summary.MaxDistanceUm, 1))
}

func TestNearestNeighborCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := randomPoints(rng, 200, 3, 100)
	tgt := randomPoints(rng, 57, 3, 100)

	res, err := Match(input(src, tgt), NearestNeighbor)
	require.NoError(t, err)
	require.Len(t, res.Pairs, len(src))

	seen := make(map[int]bool)
	for i, p := range res.Pairs {
		require.GreaterOrEqual(t, p.TargetRow, 0)
		require.Less(t, p.TargetRow, len(tgt))
		seen[p.SourceRow] = true
		if i > 0 {
			assert.LessOrEqual(t, res.Pairs[i-1].DistanceUm, p.DistanceUm)
		}
		// the k-d tree answer matches a linear scan
		best := math.Inf(1)
		for _, q := range tgt {
			best = math.Min(best, euclid(src[p.SourceRow], q))
		}
		assert.InDelta(t, best, p.DistanceUm, 1e-9)
	}
	assert.Len(t, seen, len(src))
}

func TestNearestNeighborTiesGoToFirstTarget(t *testing.T) {
	tests := []struct {
		name string
		tgt  [][]float64
		want int
	}{
		{"all equidistant", [][]float64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}, 0},
		{"tie after a far point", [][]float64{{5, 5}, {0, 1}, {1, 0}}, 1},
		{"duplicate targets", [][]float64{{9, 9}, {2, 2}, {2, 2}, {2, 2}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Match(input([][]float64{{0, 0}}, tt.tgt), NearestNeighbor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Pairs[0].TargetRow)
		})
	}
}

func TestGateSemantics(t *testing.T) {
	in := input(
		[][]float64{{0, 0, 0}, {20, 0, 0}},
		[][]float64{{1, 0, 0}, {26, 0, 0}},
	)
	for _, strategy := range []Strategy{NearestNeighbor, OptimalAssignment} {
		t.Run(strategy.String(), func(t *testing.T) {
			res, err := Match(in, strategy, WithGate(5))
			require.NoError(t, err)
			require.Len(t, res.Pairs, 2)

			assert.InDelta(t, 1.0, res.Pairs[0].DistanceUm, 1e-12)
			assert.True(t, res.Pairs[0].WithinGate)
			// the out-of-gate pair keeps its literal distance
			assert.InDelta(t, 6.0, res.Pairs[1].DistanceUm, 1e-12)
			assert.False(t, res.Pairs[1].WithinGate)

			s := res.Summary
			assert.Equal(t, 2, s.Count)
			assert.Equal(t, 1, s.CountWithinGate)
			assert.Equal(t, 0.5, s.FractionWithinGate)
			assert.Equal(t, 1.0, s.MedianWithinGateUm)
			assert.Equal(t, 1.0, s.P90WithinGateUm)
			assert.Equal(t, 5.0, s.MaxDistanceUm)
			assert.Equal(t, strategy.String(), s.Strategy)
		})
	}
}

func TestGateIsInclusive(t *testing.T) {
	res, err := Match(input([][]float64{{0, 0}}, [][]float64{{3, 4}}), NearestNeighbor, WithGate(5))
	require.NoError(t, err)
	assert.True(t, res.Pairs[0].WithinGate)
}

func TestAllPairsOutsideGate(t *testing.T) {
	in := input([][]float64{{0, 0, 0}, {50, 0, 0}}, [][]float64{{0, 0, 30}, {50, 40, 0}})
	for _, strategy := range []Strategy{NearestNeighbor, OptimalAssignment} {
		res, err := Match(in, strategy, WithGate(5))
		require.NoError(t, err)
		s := res.Summary
		assert.Equal(t, 0, s.CountWithinGate)
		assert.Equal(t, 0.0, s.FractionWithinGate)
		assert.True(t, math.IsNaN(s.MedianWithinGateUm))
		assert.True(t, math.IsNaN(s.P90WithinGateUm))
		assert.True(t, math.IsNaN(s.MeanWithinGateUm))
		assert.True(t, math.IsNaN(s.MaxWithinGateUm))
		// the penalty steers the solver but never leaks into the table
		for _, p := range res.Pairs {
			assert.InDelta(t, euclid(p.SourceUm, p.TargetUm), p.DistanceUm, 1e-12)
			assert.NotEqual(t, 50.0, p.DistanceUm)
		}
	}

	res, err := Match(in, NearestNeighbor, WithGate(5))
	require.NoError(t, err)
	assert.InDelta(t, 30.0, res.Pairs[0].DistanceUm, 1e-12)
	assert.InDelta(t, 40.0, res.Pairs[1].DistanceUm, 1e-12)
}

func TestOptimalAssignmentIsOneToOne(t *testing.T) {
	src := [][]float64{{0, 0}, {1, 0}, {10, 0}}
	tgt := [][]float64{{0, 0}, {9, 0}}

	nn, err := Match(input(src, tgt), NearestNeighbor)
	require.NoError(t, err)
	assert.Len(t, nn.Pairs, 3)

	res, err := Match(input(src, tgt), OptimalAssignment)
	require.NoError(t, err)
	require.Len(t, res.Pairs, 2)

	assert.Equal(t, int64(1), res.Pairs[0].SourceLabel)
	assert.Equal(t, int64(101), res.Pairs[0].TargetLabel)
	assert.Equal(t, int64(3), res.Pairs[1].SourceLabel)
	assert.Equal(t, int64(102), res.Pairs[1].TargetLabel)
	assert.InDelta(t, 1.0, totalDistance(res.Pairs), 1e-12)

	// more targets than sources
	res, err = Match(input(tgt, src), OptimalAssignment)
	require.NoError(t, err)
	require.Len(t, res.Pairs, 2)
	assert.Equal(t, 0, res.Pairs[0].TargetRow)
	assert.Equal(t, 2, res.Pairs[1].TargetRow)
}

func TestOptimalAssignmentBeatsBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 40; trial++ {
		n := 1 + rng.Intn(5)
		m := 1 + rng.Intn(5)
		src := randomPoints(rng, n, 3, 20)
		tgt := randomPoints(rng, m, 3, 20)

		res, err := Match(input(src, tgt), OptimalAssignment)
		require.NoError(t, err)
		require.Len(t, res.Pairs, min(n, m))

		srcSeen, tgtSeen := map[int]bool{}, map[int]bool{}
		for _, p := range res.Pairs {
			assert.False(t, srcSeen[p.SourceRow], "source reused")
			assert.False(t, tgtSeen[p.TargetRow], "target reused")
			srcSeen[p.SourceRow], tgtSeen[p.TargetRow] = true, true
		}
		assert.InDelta(t, bruteForce(src, tgt), totalDistance(res.Pairs), 1e-9, "trial %d", trial)
	}
}

func TestOptimalMatchesNearestWhenNearestIsInjective(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var src, tgt [][]float64
	for x := 0; x < 5; x++ {
		for y := 0; y < 4; y++ {
			base := []float64{float64(x) * 20, float64(y) * 20, 5}
			tgt = append(tgt, base)
			src = append(src, []float64{
				base[0] + rng.Float64() - 0.5,
				base[1] + rng.Float64() - 0.5,
				base[2] + rng.Float64() - 0.5,
			})
		}
	}
	nn, err := Match(input(src, tgt), NearestNeighbor)
	require.NoError(t, err)
	opt, err := Match(input(src, tgt), OptimalAssignment)
	require.NoError(t, err)

	used := map[int]bool{}
	for _, p := range nn.Pairs {
		require.False(t, used[p.TargetRow])
		used[p.TargetRow] = true
	}
	assert.InDelta(t, totalDistance(nn.Pairs), totalDistance(opt.Pairs), 1e-9)
	assert.LessOrEqual(t, totalDistance(opt.Pairs), totalDistance(nn.Pairs)+1e-9)
}

func TestMatchErrors(t *testing.T) {
	good := input([][]float64{{0, 0}}, [][]float64{{1, 1}})

	var empty *EmptyPointSetError
	_, err := Match(input(nil, [][]float64{{1, 1}}), NearestNeighbor)
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, "source", empty.Side)

	_, err = Match(input([][]float64{{1, 1}}, nil), OptimalAssignment)
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, "target", empty.Side)

	var shape *ShapeMismatchError
	bad := good
	bad.SourceLabels = []int64{1, 2}
	_, err = Match(bad, NearestNeighbor)
	require.True(t, errors.As(err, &shape))
	assert.Contains(t, err.Error(), "source")

	bad = good
	bad.TargetPoints = [][]float64{{1, 1, 1}}
	_, err = Match(bad, NearestNeighbor)
	require.True(t, errors.As(err, &shape))
	assert.Contains(t, err.Error(), "target point 0")

	var strategy *InvalidStrategyError
	_, err = Match(good, Strategy(9))
	require.True(t, errors.As(err, &strategy))
	assert.Contains(t, err.Error(), "strategy(9)")

	_, err = Match(good, NearestNeighbor, WithGate(math.NaN()))
	assert.Error(t, err)
	_, err = Match(good, NearestNeighbor, WithGate(-1))
	assert.Error(t, err)

	bad = good
	bad.SourcePoints = [][]float64{{math.Inf(1), 0}}
	_, err = Match(bad, NearestNeighbor)
	assert.ErrorContains(t, err, "not finite")
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"nn":                   NearestNeighbor,
		"Nearest-Neighbor":     NearestNeighbor,
		"hungarian":            OptimalAssignment,
		"optimal_assignment":   OptimalAssignment,
		" optimal-assignment ": OptimalAssignment,
	}
	for name, want := range tests {
		got, err := ParseStrategy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseStrategy("greedy")
	var invalid *InvalidStrategyError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, err.Error(), `"greedy"`)
}

func randomPoints(rng *rand.Rand, n, dim int, scale float64) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		p := make([]float64, dim)
		for j := range p {
			p[j] = rng.Float64() * scale
		}
		out[i] = p
	}
	return out
}

func euclid(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// bruteForce enumerates every injective assignment of the smaller side
func bruteForce(src, tgt [][]float64) float64 {
	if len(src) > len(tgt) {
		src, tgt = tgt, src
	}
	used := make([]bool, len(tgt))
	best := math.Inf(1)
	var walk func(i int, sum float64)
	walk = func(i int, sum float64) {
		if sum >= best {
			return
		}
		if i == len(src) {
			best = sum
			return
		}
		for j := range tgt {
			if used[j] {
				continue
			}
			used[j] = true
			walk(i+1, sum+euclid(src[i], tgt[j]))
			used[j] = false
		}
	}
	walk(0, 0)
	return best
}
