package ovlp

import (
	"fmt"
	"math"

	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/partitions"
	"github.com/notargets/ovlpsolver/utils"
	"gonum.org/v1/gonum/mat"
)

// ExplicitDiagonalBackend solves systems with a block diagonal matrix, as
// arising from explicit time stepping with a lumped mass matrix, by a single
// block Jacobi step followed by an owner-to-copy exchange.
type ExplicitDiagonalBackend struct {
	helper *partitions.ParallelHelper
}

func NewExplicitDiagonalBackend(helper *partitions.ParallelHelper) *ExplicitDiagonalBackend {
	return &ExplicitDiagonalBackend{helper: helper}
}

// Apply performs z += D⁻¹(r - A z) and makes z consistent. The result always
// reports convergence in one iteration with the requested reduction.
func (b *ExplicitDiagonalBackend) Apply(a *linalg.Matrix, z, r *linalg.BlockVector, reduction float64) (krylov.Result, error) {
	bs := a.BlockSize()
	n := a.Blocks()
	if z.Len() != a.N() || r.Len() != a.N() {
		panic(fmt.Sprintf("ovlp: matrix of order %d with vectors of length %d and %d", a.N(), z.Len(), r.Len()))
	}

	// defect d = r - A z
	d := r.Clone()
	a.Usmv(-1, z.Data, d.Data)

	if bs == 1 {
		for i := 0; i < n; i++ {
			dii := a.Diagonal(i)
			if dii == 0 {
				return krylov.Result{}, fmt.Errorf("%w: zero diagonal entry %d", ErrSingularSubdomain, i)
			}
			z.Data[i] += d.Data[i] / dii
		}
	} else {
		blk := mat.NewDense(bs, bs, nil)
		var lu mat.LU
		dz := mat.NewVecDense(bs, nil)
		for i := 0; i < n; i++ {
			for p := 0; p < bs; p++ {
				for q := 0; q < bs; q++ {
					blk.Set(p, q, a.At(i*bs+p, i*bs+q))
				}
			}
			lu.Factorize(blk)
			if c := lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
				return krylov.Result{}, fmt.Errorf("%w: diagonal block %d", ErrSingularSubdomain, i)
			}
			if err := ignoreCondition(lu.SolveVecTo(dz, false, mat.NewVecDense(bs, d.Block(i)))); err != nil {
				return krylov.Result{}, fmt.Errorf("diagonal block %d: %w", i, err)
			}
			zb := z.Block(i)
			for p := 0; p < bs; p++ {
				zb[p] += dz.AtVec(p)
			}
		}
	}

	b.helper.Communicate(utils.CopyDataHandle{}, utils.InteriorBorderAll, z)

	return krylov.Result{
		Converged:  true,
		Iterations: 1,
		Elapsed:    0,
		Reduction:  reduction,
		ConvRate:   reduction,
	}, nil
}

// Norm is not available for this backend and panics.
func (b *ExplicitDiagonalBackend) Norm(_ *linalg.BlockVector) float64 {
	panic("ovlp: explicit diagonal backend does not compute norms")
}
