package problems

import (
	"fmt"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/partitions"
)

// LocalAssembler serves the rows of a global problem held by one subdomain.
// Processor boundary (front) DOFs and Dirichlet DOFs are constrained.
type LocalAssembler struct {
	comm      comm.Communicator
	sub       *partitions.Subdomain
	a         *linalg.Matrix
	b         *linalg.BlockVector
	dirichlet linalg.Constraints
	cc        linalg.Constraints
}

func NewLocalAssembler(c comm.Communicator, sub *partitions.Subdomain, p *Problem) (*LocalAssembler, error) {
	if sub.Rank != c.Rank() {
		return nil, fmt.Errorf("problems: subdomain of rank %d assembled on rank %d", sub.Rank, c.Rank())
	}
	dirichlet := sub.RestrictConstraints(p.Constraints)
	cc := sub.FrontConstraints().Merge(dirichlet)
	a, err := sub.LocalMatrix(p.A, cc)
	if err != nil {
		return nil, fmt.Errorf("problems: %s: %w", p.Name, err)
	}
	return &LocalAssembler{
		comm:      c,
		sub:       sub,
		a:         a,
		b:         sub.Restrict(p.B),
		dirichlet: dirichlet,
		cc:        cc,
	}, nil
}

func (l *LocalAssembler) Comm() comm.Communicator { return l.comm }

// Jacobian returns the local matrix, the problem is linear
func (l *LocalAssembler) Jacobian(_ *linalg.BlockVector) (*linalg.Matrix, error) { return l.a, nil }

// Residual stores r = A x - b with constrained entries zeroed
func (l *LocalAssembler) Residual(x, r *linalg.BlockVector) error {
	if x.Len() != l.a.N() || r.Len() != l.a.N() {
		return fmt.Errorf("problems: residual of %d DOFs on vectors of length %d and %d", l.a.N(), x.Len(), r.Len())
	}
	l.a.Mv(x.Data, r.Data)
	r.Sub(l.b)
	linalg.SetConstrainedDOFs(l.cc, 0, r)
	return nil
}

func (l *LocalAssembler) NewVector() *linalg.BlockVector {
	return linalg.NewBlockVector(l.sub.N(), l.sub.BlockSize)
}

// InitialGuess returns a zero vector satisfying the Dirichlet conditions
func (l *LocalAssembler) InitialGuess() *linalg.BlockVector {
	x := l.NewVector()
	for i, v := range l.dirichlet {
		for j := range x.Block(i) {
			x.Block(i)[j] = v
		}
	}
	return x
}

// Constraints returns all constrained local DOFs, front and Dirichlet
func (l *LocalAssembler) Constraints() linalg.Constraints { return l.cc }

func (l *LocalAssembler) Subdomain() *partitions.Subdomain { return l.sub }
