package amg

import (
	"fmt"

	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/ovlp"
	"github.com/notargets/ovlpsolver/partitions"
)

// coarseSolver solves the coarsest level exactly. Every rank gathers the
// owned rows of all ranks and factorizes the global matrix redundantly, so
// a solve needs a single all-gather of the right hand side.
type coarseSolver struct {
	ooc    *partitions.OwnerOverlapCopy
	solver ovlp.ExactSolver
	n      int
	rhs    []float64
	sol    []float64
}

// newCoarseSolver is collective
func newCoarseSolver(a *linalg.Matrix, ooc *partitions.OwnerOverlapCopy, exact string) (*coarseSolver, error) {
	c := ooc.Comm()
	var triplets []float64
	for i := 0; i < ooc.N(); i++ {
		if !ooc.IsOwner(i) {
			continue
		}
		cols, vals := a.Row(i)
		for k, j := range cols {
			triplets = append(triplets, float64(ooc.GIDs[i]), float64(ooc.GIDs[j]), vals[k])
		}
	}
	n := int(c.Sum(float64(ooc.NumOwned())))
	parts := c.AllGather(triplets)

	b := linalg.NewBuilder(n, 1)
	for _, part := range parts {
		for k := 0; k+2 < len(part); k += 3 {
			gi, gj := int(part[k]), int(part[k+1])
			if gi >= n || gj >= n {
				return nil, fmt.Errorf("amg: coarse entry (%d, %d) outside global system of order %d", gi, gj, n)
			}
			b.Add(gi, gj, part[k+2])
		}
	}
	solver, err := ovlp.NewExactSolver(exact, b.Build())
	if err != nil {
		return nil, fmt.Errorf("amg: coarse solver: %w", err)
	}
	return &coarseSolver{
		ooc:    ooc,
		solver: solver,
		n:      n,
		rhs:    make([]float64, n),
		sol:    make([]float64, n),
	}, nil
}

// Solve computes x = A⁻¹ d. Only the owned entries of d are read, x is consistent.
func (s *coarseSolver) Solve(x, d []float64) error {
	var local []float64
	for i := 0; i < s.ooc.N(); i++ {
		if s.ooc.IsOwner(i) {
			local = append(local, float64(s.ooc.GIDs[i]), d[i])
		}
	}
	for k := range s.rhs {
		s.rhs[k] = 0
	}
	for _, part := range s.ooc.Comm().AllGather(local) {
		for k := 0; k+1 < len(part); k += 2 {
			s.rhs[int(part[k])] = part[k+1]
		}
	}
	if err := s.solver.Solve(s.sol, s.rhs); err != nil {
		return err
	}
	for i, g := range s.ooc.GIDs {
		x[i] = s.sol[g]
	}
	return nil
}
