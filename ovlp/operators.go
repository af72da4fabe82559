// Package ovlp implements Krylov solver components for overlapping domain
// decomposition: an operator, a scalar product and preconditioner wrappers
// that keep distributed vectors consistent, plus ready-made solver backends.
//
// A local vector is consistent when every copy of a DOF holds the global
// value, and additive when the global value is the sum of all copies.
// Operator outputs and defects are trusted on owned DOFs; preconditioner
// outputs are made consistent by a boundary exchange.
package ovlp

import (
	"math"

	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/partitions"
	"github.com/notargets/ovlpsolver/utils"
)

// OverlappingOperator applies the local matrix and zeroes constrained DOFs
// of the result. No communication is involved.
type OverlappingOperator struct {
	cc linalg.Constraints
	a  *linalg.Matrix
}

// NewOverlappingOperator creates the operator of the local matrix a with constraints cc
func NewOverlappingOperator(cc linalg.Constraints, a *linalg.Matrix) *OverlappingOperator {
	return &OverlappingOperator{cc: cc, a: a}
}

// Apply computes y = A x with constrained entries of y set to zero
func (o *OverlappingOperator) Apply(x, y *linalg.BlockVector) {
	o.a.Mv(x.Data, y.Data)
	linalg.SetConstrainedDOFs(o.cc, 0, y)
}

// ApplyScaleAdd computes y += alpha A x with constrained entries of y set to zero
func (o *OverlappingOperator) ApplyScaleAdd(alpha float64, x, y *linalg.BlockVector) {
	o.a.Usmv(alpha, x.Data, y.Data)
	linalg.SetConstrainedDOFs(o.cc, 0, y)
}

func (o *OverlappingOperator) Matrix() *linalg.Matrix { return o.a }

func (o *OverlappingOperator) Category() krylov.Category { return krylov.Overlapping }

// OverlappingScalarProduct counts every DOF once, at its owner, and sums over all ranks
type OverlappingScalarProduct struct {
	helper *partitions.ParallelHelper
}

func NewOverlappingScalarProduct(helper *partitions.ParallelHelper) *OverlappingScalarProduct {
	return &OverlappingScalarProduct{helper: helper}
}

// Dot returns the global inner product of two consistent vectors
func (s *OverlappingScalarProduct) Dot(x, y *linalg.BlockVector) float64 {
	var sum float64
	for i := 0; i < x.N(); i++ {
		for j := 0; j < x.BlockSize; j++ {
			sum += x.At(i, j) * y.At(i, j) * s.helper.Mask(i, j)
		}
	}
	return s.helper.Comm().Sum(sum)
}

// Norm returns the global Euclidean norm of a consistent vector
func (s *OverlappingScalarProduct) Norm(x *linalg.BlockVector) float64 {
	return math.Sqrt(s.Dot(x, x))
}

func (s *OverlappingScalarProduct) Category() krylov.Category { return krylov.Overlapping }

// OverlappingWrappedPreconditioner turns a sequential preconditioner into an
// overlapping one: the local correction is computed from the constrained
// defect and then summed over all copies.
type OverlappingWrappedPreconditioner struct {
	helper *partitions.ParallelHelper
	cc     linalg.Constraints
	prec   krylov.Preconditioner
}

func NewOverlappingWrappedPreconditioner(helper *partitions.ParallelHelper, cc linalg.Constraints,
	prec krylov.Preconditioner) *OverlappingWrappedPreconditioner {
	return &OverlappingWrappedPreconditioner{helper: helper, cc: cc, prec: prec}
}

func (p *OverlappingWrappedPreconditioner) Pre(x, b *linalg.BlockVector) { p.prec.Pre(x, b) }

// Apply computes the local correction of d and sums it across ranks. d is not modified.
func (p *OverlappingWrappedPreconditioner) Apply(v, d *linalg.BlockVector) {
	dd := d.Clone()
	linalg.SetConstrainedDOFs(p.cc, 0, dd)
	p.prec.Apply(v, dd)
	p.helper.Communicate(utils.AddDataHandle{}, utils.AllAll, v)
}

func (p *OverlappingWrappedPreconditioner) Post(x *linalg.BlockVector) { p.prec.Post(x) }

func (p *OverlappingWrappedPreconditioner) Category() krylov.Category { return krylov.Overlapping }
