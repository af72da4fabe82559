package krylov

import (
	"fmt"
	"math"
	"time"

	"github.com/notargets/ovlpsolver/linalg"
)

// BiCGSTABSolver implements the preconditioned BiConjugate Gradient STABilized
// method for non-symmetric systems. Iterations are counted in half steps and
// reported rounded up.
type BiCGSTABSolver struct {
	base
}

// Apply solves A x = b starting from x. On return b holds the final defect.
func (s *BiCGSTABSolver) Apply(x, b *linalg.BlockVector) (Result, error) {
	start := time.Now()
	var res Result

	r := b
	s.op.ApplyScaleAdd(-1, x, r) // r = b - A x
	norm0 := s.sp.Norm(r)
	if norm0 < zeroDefect {
		res.Converged = true
		s.finish("BiCGSTAB", &res, 0, norm0, 0, start)
		return res, nil
	}

	rt := r.Clone()
	p := zeroed(x)
	v := zeroed(x)
	t := zeroed(x)
	y := zeroed(x)

	rho, alpha, omega := 1.0, 1.0, 1.0
	norm, normOld := norm0, norm0

	s.prec.Pre(x, r)

	it := 0.5
	for ; it < float64(s.MaxIter); it += 0.5 {
		rhoNew := s.sp.Dot(rt, r)
		if math.Abs(rhoNew) < breakdownLimit {
			s.prec.Post(x)
			return res, fmt.Errorf("%w: BiCGSTAB rho = %g in iteration %g", ErrBreakdown, rhoNew, it)
		}

		if it < 1 {
			p.CopyFrom(r)
		} else {
			beta := (rhoNew / rho) * (alpha / omega)
			p.Axpy(-omega, v) // p = r + β (p - ω v)
			p.Scale(beta)
			p.Add(r)
		}

		y.Zero()
		s.prec.Apply(y, p) // y = M⁻¹ p
		s.op.Apply(y, v)   // v = A y

		h := s.sp.Dot(rt, v)
		if math.Abs(h) < breakdownLimit {
			s.prec.Post(x)
			return res, fmt.Errorf("%w: BiCGSTAB r̃·v = %g in iteration %g", ErrBreakdown, h, it)
		}
		alpha = rhoNew / h
		x.Axpy(alpha, y)
		r.Axpy(-alpha, v)

		norm = s.sp.Norm(r)
		s.logIteration("BiCGSTAB", it, norm, normOld)
		if norm < s.Reduction*norm0 {
			res.Converged = true
			break
		}
		it += 0.5
		normOld = norm

		y.Zero()
		s.prec.Apply(y, r) // y = M⁻¹ s
		s.op.Apply(y, t)   // t = A y

		tt := s.sp.Dot(t, t)
		if tt < breakdownLimit {
			s.prec.Post(x)
			return res, fmt.Errorf("%w: BiCGSTAB t·t = %g in iteration %g", ErrBreakdown, tt, it)
		}
		omega = s.sp.Dot(t, r) / tt
		x.Axpy(omega, y)
		r.Axpy(-omega, t)

		rho = rhoNew

		norm = s.sp.Norm(r)
		s.logIteration("BiCGSTAB", it, norm, normOld)
		if norm < s.Reduction*norm0 {
			res.Converged = true
			break
		}
		normOld = norm
	}
	if it > float64(s.MaxIter) {
		it = float64(s.MaxIter)
	}

	s.prec.Post(x)
	s.finish("BiCGSTAB", &res, norm, norm0, it, start)
	return res, nil
}
