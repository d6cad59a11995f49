package matching

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// site is a target point that remembers its row in the target array
type site struct {
	coords []float64
	idx    int
}

// Compare implements the kdtree.Comparable interface
func (p site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(site).coords[d]
}

// Dims implements the kdtree.Comparable interface
func (p site) Dims() int { return len(p.coords) }

// Distance returns the squared Euclidean distance, as kdtree expects
func (p site) Distance(c kdtree.Comparable) float64 {
	q := c.(site)
	var sum float64
	for i, v := range p.coords {
		d := v - q.coords[i]
		sum += d * d
	}
	return sum
}

// sites satisfies kdtree.Interface
type sites []site

func (p sites) Index(i int) kdtree.Comparable         { return p[i] }
func (p sites) Len() int                              { return len(p) }
func (p sites) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot uses the median of medians so tree construction does not depend on
// a random source.
func (p sites) Pivot(d kdtree.Dim) int {
	plane := sitePlane{sites: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

// sitePlane implements sort.Interface and kdtree.SortSlicer for sites
type sitePlane struct {
	sites
	kdtree.Dim
}

func (p sitePlane) Less(i, j int) bool {
	return p.sites[i].coords[p.Dim] < p.sites[j].coords[p.Dim]
}

func (p sitePlane) Slice(start, end int) kdtree.SortSlicer {
	return sitePlane{sites: p.sites[start:end], Dim: p.Dim}
}

func (p sitePlane) Swap(i, j int) {
	p.sites[i], p.sites[j] = p.sites[j], p.sites[i]
}

var _ sort.Interface = sitePlane{}

// nearestNeighbors returns, for every source point, the row of its closest
// target. Exact ties go to the lowest target row.
func nearestNeighbors(source, target [][]float64) []int {
	pts := make(sites, len(target))
	for i, p := range target {
		pts[i] = site{coords: append([]float64(nil), p...), idx: i}
	}
	tree := kdtree.New(pts, false)

	idx := make([]int, len(source))
	for i, p := range source {
		q := site{coords: p, idx: -1}
		_, d := tree.Nearest(q)

		// collect everything at that distance; the slack only widens the
		// search, the exact comparison below decides
		keeper := kdtree.NewDistKeeper(d + d*1e-12 + math.SmallestNonzeroFloat64)
		tree.NearestSet(keeper, q)

		best, bestDist := -1, math.Inf(1)
		for _, c := range keeper.Heap {
			if c.Comparable == nil {
				continue
			}
			s := c.Comparable.(site)
			switch {
			case c.Dist < bestDist:
				best, bestDist = s.idx, c.Dist
			case c.Dist == bestDist && s.idx < best:
				best = s.idx
			}
		}
		idx[i] = best
	}
	return idx
}
