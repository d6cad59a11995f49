package matching

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// distanceMatrix returns the N×M Euclidean distances between source and
// target points.
func distanceMatrix(source, target [][]float64) *mat.Dense {
	d := mat.NewDense(len(source), len(target), nil)
	for i, p := range source {
		for j, q := range target {
			d.Set(i, j, floats.Distance(p, q, 2))
		}
	}
	return d
}

// gatedCost copies the distance matrix, replacing every entry beyond the
// gate with a flat penalty of ten times the gate. An infinite or zero gate
// leaves the costs untouched.
func gatedCost(dist *mat.Dense, gate float64) *mat.Dense {
	cost := mat.DenseCopyOf(dist)
	if math.IsInf(gate, 1) || gate <= 0 {
		return cost
	}
	penalty := 10 * gate
	cost.Apply(func(_, _ int, v float64) float64 {
		if v > gate {
			return penalty
		}
		return v
	}, cost)
	return cost
}

// assign solves the rectangular minimum-cost assignment. It returns, for
// every row, the assigned column or -1; exactly min(rows, cols) rows are
// assigned.
func assign(cost mat.Matrix) []int {
	n, m := cost.Dims()
	if n <= m {
		return hungarian(cost)
	}
	cols := hungarian(cost.T())
	rows := make([]int, n)
	for i := range rows {
		rows[i] = -1
	}
	for j, i := range cols {
		rows[i] = j
	}
	return rows
}

// hungarian is the O(n²m) shortest augmenting path method with row and
// column potentials. It requires rows <= cols and assigns every row.
func hungarian(cost mat.Matrix) []int {
	n, m := cost.Dims()
	inf := math.Inf(1)

	// potentials and matching are 1-based; column 0 is a virtual start
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)
	way := make([]int, m+1)
	minv := make([]float64, m+1)
	used := make([]bool, m+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta, j1 := inf, 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := cost.At(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	rows := make([]int, n)
	for i := range rows {
		rows[i] = -1
	}
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			rows[p[j]-1] = j - 1
		}
	}
	return rows
}
