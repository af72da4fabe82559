package amg

import (
	"math"
	"sort"

	"github.com/notargets/ovlpsolver/linalg"
)

const (
	unaggregated = -1
	isolated     = -2
)

type connection struct {
	to       int
	strength float64
}

// strengthGraph holds the symmetrised strong connections between owned points
type strengthGraph struct {
	strong   [][]connection
	isolated []bool
}

// dependency measures the coupling of i and j relative to their diagonals.
// Rows of non-owned points are identity after projection, so for those the
// matrix is assumed symmetric and a_ii stands in for a_jj.
func dependency(a *linalg.Matrix, i, j int, aij, aii float64, ownedJ bool) float64 {
	if aii == 0 {
		return 0
	}
	if !ownedJ {
		return aij * aij / (aii * aii)
	}
	ajj := a.Diagonal(j)
	if ajj == 0 {
		return 0
	}
	return math.Abs(aij*a.At(j, i)) / math.Abs(aii*ajj)
}

// newStrengthGraph applies the symmetric criterion to the rows of the owned points
func newStrengthGraph(a *linalg.Matrix, owned []bool, p Parameters) *strengthGraph {
	n := a.N()
	g := &strengthGraph{
		strong:   make([][]connection, n),
		isolated: make([]bool, n),
	}
	seen := make([]map[int]float64, n)
	link := func(i, j int, s float64) {
		if seen[i] == nil {
			seen[i] = make(map[int]float64)
		}
		if _, ok := seen[i][j]; ok {
			return
		}
		seen[i][j] = s
		g.strong[i] = append(g.strong[i], connection{to: j, strength: s})
	}

	for i := 0; i < n; i++ {
		if !owned[i] {
			continue
		}
		aii := a.Diagonal(i)
		cols, vals := a.Row(i)
		s := make([]float64, len(cols))
		var maxS float64
		for k, j := range cols {
			if j == i {
				continue
			}
			s[k] = dependency(a, i, j, vals[k], aii, owned[j])
			maxS = math.Max(maxS, s[k])
		}
		if maxS < p.Beta {
			g.isolated[i] = true
			continue
		}
		for k, j := range cols {
			if j == i || !owned[j] || s[k] == 0 || s[k] < p.Alpha*maxS {
				continue
			}
			link(i, j, s[k])
			link(j, i, s[k])
		}
	}

	// Isolated points take no part in aggregation
	for i := range g.strong {
		kept := g.strong[i][:0]
		for _, c := range g.strong[i] {
			if !g.isolated[c.to] {
				kept = append(kept, c)
			}
		}
		g.strong[i] = kept
		sort.Slice(g.strong[i], func(x, y int) bool { return g.strong[i][x].to < g.strong[i][y].to })
	}
	return g
}

// aggregate groups the owned points of a into aggregates. It returns the
// aggregate of every local point, numbered from zero, with -1 for points that
// are not owned or isolated, and the number of aggregates.
func aggregate(a *linalg.Matrix, owned []bool, p Parameters) ([]int, int) {
	g := newStrengthGraph(a, owned, p)
	n := a.N()
	agg := make([]int, n)
	for i := range agg {
		switch {
		case !owned[i]:
			agg[i] = -1
		case g.isolated[i]:
			agg[i] = isolated
		default:
			agg[i] = unaggregated
		}
	}

	var sizes []int
	dist := make([]int, n)

	// Phase 1: grow aggregates around seeds whose neighbourhood is still free
	for i := 0; i < n; i++ {
		if !owned[i] || agg[i] != unaggregated {
			continue
		}
		free := true
		for _, c := range g.strong[i] {
			if agg[c.to] != unaggregated {
				free = false
				break
			}
		}
		if !free {
			continue
		}

		id := len(sizes)
		agg[i] = id
		size := 1
		dist[i] = 0
		queue := []int{i}
		for len(queue) > 0 && size < p.MaxAggregateSize {
			u := queue[0]
			queue = queue[1:]
			if dist[u] >= p.MaxDistance {
				continue
			}
			for _, c := range g.strong[u] {
				if agg[c.to] != unaggregated {
					continue
				}
				agg[c.to] = id
				dist[c.to] = dist[u] + 1
				queue = append(queue, c.to)
				size++
				if size == p.MaxAggregateSize {
					break
				}
			}
		}
		sizes = append(sizes, size)
	}

	// Phase 2: attach leftovers to the most strongly connected aggregate
	for i := 0; i < n; i++ {
		if !owned[i] || agg[i] != unaggregated {
			continue
		}
		best, bestS := -1, 0.0
		for _, c := range g.strong[i] {
			if agg[c.to] >= 0 && c.strength > bestS {
				best, bestS = agg[c.to], c.strength
			}
		}
		if best < 0 {
			best = len(sizes)
			sizes = append(sizes, 0)
		}
		agg[i] = best
		sizes[best]++
	}

	for i := range agg {
		if agg[i] == isolated {
			agg[i] = -1
		}
	}
	return agg, len(sizes)
}
