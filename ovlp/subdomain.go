package ovlp

import (
	"fmt"

	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/partitions"
	"github.com/notargets/ovlpsolver/utils"
)

// SubdomainSolver is an overlapping preconditioner that solves the local
// problem exactly. The unrestricted variant sums the local corrections over
// every copy (additive Schwarz); the restricted variant keeps only the owned
// part of each correction and adds it to the copies (restricted additive Schwarz).
type SubdomainSolver struct {
	helper     *partitions.ParallelHelper
	solver     ExactSolver
	couplings  []coupling
	restricted bool
}

// coupling is an entry a_ik of a regular row i into an identity row k
type coupling struct {
	row, col int
	val      float64
}

// NewSubdomainSolver factorizes the local matrix a with the named exact solver
func NewSubdomainSolver(helper *partitions.ParallelHelper, a *linalg.Matrix, exact string) (*SubdomainSolver, error) {
	return newSubdomainSolver(helper, a, exact, false)
}

// NewRestrictedSubdomainSolver is NewSubdomainSolver for the restricted variant
func NewRestrictedSubdomainSolver(helper *partitions.ParallelHelper, a *linalg.Matrix, exact string) (*SubdomainSolver, error) {
	return newSubdomainSolver(helper, a, exact, true)
}

func newSubdomainSolver(helper *partitions.ParallelHelper, a *linalg.Matrix, exact string, restricted bool) (*SubdomainSolver, error) {
	reduced, couplings := splitIdentityRows(a)
	solver, err := NewExactSolver(exact, reduced)
	if err != nil {
		return nil, fmt.Errorf("rank %d: factorizing subdomain matrix: %w", helper.Comm().Rank(), err)
	}
	return &SubdomainSolver{helper: helper, solver: solver, couplings: couplings, restricted: restricted}, nil
}

// splitIdentityRows moves the couplings of regular rows into identity rows
// out of a. An identity row k fixes x_k = b_k, so the reduced system with
// b_i -= a_ik b_k has the same solution, and it is symmetric whenever the
// regular rows of a are.
func splitIdentityRows(a *linalg.Matrix) (*linalg.Matrix, []coupling) {
	n := a.N()
	identity := make([]bool, n)
	for i := 0; i < n; i++ {
		identity[i] = a.Diagonal(i) == 1
		cols, vals := a.Row(i)
		for k, j := range cols {
			if j != i && vals[k] != 0 {
				identity[i] = false
				break
			}
		}
	}

	var couplings []coupling
	b := linalg.NewBuilder(a.Blocks(), a.BlockSize())
	a.DoNonZero(func(i, j int, v float64) {
		switch {
		case i == j || !identity[j]:
			b.Set(i, j, v)
		case !identity[i] && v != 0:
			couplings = append(couplings, coupling{row: i, col: j, val: v})
		}
	})
	return b.Build(), couplings
}

func (s *SubdomainSolver) Pre(_, _ *linalg.BlockVector) {}

// Apply solves the local system for d and combines the corrections across ranks. d is not modified.
func (s *SubdomainSolver) Apply(v, d *linalg.BlockVector) {
	b := d.Clone()
	for _, c := range s.couplings {
		b.Data[c.row] -= c.val * d.Data[c.col]
	}
	if err := s.solver.Solve(v.Data, b.Data); err != nil {
		panic(fmt.Sprintf("ovlp: subdomain solve on rank %d: %v", s.helper.Comm().Rank(), err))
	}
	if s.restricted {
		s.helper.MaskVector(v)
		s.helper.Communicate(utils.AddDataHandle{}, utils.InteriorBorderAll, v)
		return
	}
	s.helper.Communicate(utils.AddDataHandle{}, utils.AllAll, v)
}

func (s *SubdomainSolver) Post(_ *linalg.BlockVector) {}

func (s *SubdomainSolver) Category() krylov.Category { return krylov.Overlapping }
