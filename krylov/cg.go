package krylov

import (
	"fmt"
	"math"
	"time"

	"github.com/notargets/ovlpsolver/linalg"
)

// CGSolver implements the preconditioned conjugate gradient method for
// symmetric positive definite systems. The preconditioner should be symmetric.
type CGSolver struct {
	base
}

// Apply solves A x = b starting from x. On return b holds the final defect.
func (s *CGSolver) Apply(x, b *linalg.BlockVector) (Result, error) {
	start := time.Now()
	var res Result

	s.op.ApplyScaleAdd(-1, x, b) // b = b - A x
	def0 := s.sp.Norm(b)
	if def0 < zeroDefect {
		res.Converged = true
		s.finish("CG", &res, 0, def0, 0, start)
		return res, nil
	}

	p := zeroed(x)
	q := zeroed(x)

	s.prec.Pre(x, b)
	s.prec.Apply(p, b) // p = M⁻¹ b
	rhoLast := s.sp.Dot(p, b)
	def := def0

	it := 1
	for ; it <= s.MaxIter; it++ {
		s.op.Apply(p, q) // q = A p
		alpha := s.sp.Dot(p, q)
		if math.Abs(alpha) < breakdownLimit {
			s.prec.Post(x)
			return res, fmt.Errorf("%w: CG direction p·Ap = %g in iteration %d", ErrBreakdown, alpha, it)
		}
		lambda := rhoLast / alpha
		x.Axpy(lambda, p)  // x += λ p
		b.Axpy(-lambda, q) // b -= λ q

		defNew := s.sp.Norm(b)
		s.logIteration("CG", float64(it), defNew, def)
		def = defNew
		if def < def0*s.Reduction || def < zeroDefect {
			res.Converged = true
			break
		}

		q.Zero()
		s.prec.Apply(q, b) // q = M⁻¹ b
		rho := s.sp.Dot(q, b)
		beta := rho / rhoLast
		p.Scale(beta)
		p.Add(q) // p = q + β p
		rhoLast = rho
	}
	if it > s.MaxIter {
		it = s.MaxIter
	}

	s.prec.Post(x)
	s.finish("CG", &res, def, def0, float64(it), start)
	return res, nil
}
