package amg

import (
	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/partitions"
)

// SchwarzOperator applies a matrix whose non-owned rows are identity and
// zeroes the non-owned entries of the result, so defects live on owners only.
type SchwarzOperator struct {
	a   *linalg.Matrix
	ooc *partitions.OwnerOverlapCopy
}

func NewSchwarzOperator(a *linalg.Matrix, ooc *partitions.OwnerOverlapCopy) *SchwarzOperator {
	return &SchwarzOperator{a: a, ooc: ooc}
}

func (o *SchwarzOperator) Apply(x, y *linalg.BlockVector) {
	o.a.Mv(x.Data, y.Data)
	o.ooc.Project(y.Data)
}

func (o *SchwarzOperator) ApplyScaleAdd(alpha float64, x, y *linalg.BlockVector) {
	o.a.Usmv(alpha, x.Data, y.Data)
	o.ooc.Project(y.Data)
}

func (o *SchwarzOperator) Matrix() *linalg.Matrix { return o.a }

func (o *SchwarzOperator) Category() krylov.Category { return krylov.Overlapping }

// SchwarzScalarProduct sums owned entries across ranks
type SchwarzScalarProduct struct {
	ooc *partitions.OwnerOverlapCopy
}

func NewSchwarzScalarProduct(ooc *partitions.OwnerOverlapCopy) *SchwarzScalarProduct {
	return &SchwarzScalarProduct{ooc: ooc}
}

func (s *SchwarzScalarProduct) Dot(x, y *linalg.BlockVector) float64 { return s.ooc.Dot(x.Data, y.Data) }

func (s *SchwarzScalarProduct) Norm(x *linalg.BlockVector) float64 { return s.ooc.Norm(x.Data) }

func (s *SchwarzScalarProduct) Category() krylov.Category { return krylov.Overlapping }

// BlockPreconditioner applies a sequential preconditioner to the local
// defect and copies the owners' result to every copy, which is a block
// Jacobi method across ranks.
type BlockPreconditioner struct {
	prec krylov.Preconditioner
	ooc  *partitions.OwnerOverlapCopy
	tmp  []float64
}

func NewBlockPreconditioner(prec krylov.Preconditioner, ooc *partitions.OwnerOverlapCopy) *BlockPreconditioner {
	return &BlockPreconditioner{prec: prec, ooc: ooc, tmp: make([]float64, ooc.N())}
}

func (p *BlockPreconditioner) Pre(x, b *linalg.BlockVector) { p.prec.Pre(x, b) }

// Apply computes the local correction and makes it consistent
func (p *BlockPreconditioner) Apply(v, d *linalg.BlockVector) {
	p.prec.Apply(v, d)
	copy(p.tmp, v.Data)
	p.ooc.CopyOwnerToAll(p.tmp, v.Data)
}

func (p *BlockPreconditioner) Post(x *linalg.BlockVector) { p.prec.Post(x) }

func (p *BlockPreconditioner) Category() krylov.Category { return krylov.Overlapping }
