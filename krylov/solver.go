package krylov

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/logging"
)

// Settings configures a Krylov solver.
type Settings struct {
	Reduction float64 // Required relative defect reduction
	MaxIter   int
	Verbose   int // 0 silent, 1 summary, 2 per iteration
	Logger    *slog.Logger
}

type base struct {
	op   LinearOperator
	sp   ScalarProduct
	prec Preconditioner
	Settings
}

// NewSolver composes a Krylov method from its three components. All
// components must share one category.
func NewSolver(kind Kind, op LinearOperator, sp ScalarProduct, prec Preconditioner, s Settings) (InverseOperator, error) {
	if op.Category() != sp.Category() || op.Category() != prec.Category() {
		return nil, fmt.Errorf("%w: operator %v, scalar product %v, preconditioner %v",
			ErrCategoryMismatch, op.Category(), sp.Category(), prec.Category())
	}
	if s.MaxIter < 1 {
		return nil, fmt.Errorf("krylov: max iterations must be positive, got %d", s.MaxIter)
	}
	if !(s.Reduction >= 0) {
		return nil, fmt.Errorf("krylov: reduction must not be negative, got %g", s.Reduction)
	}
	s.Logger = logging.OrDefault(s.Logger)
	b := base{op: op, sp: sp, prec: prec, Settings: s}

	switch kind {
	case CG:
		return &CGSolver{base: b}, nil
	case BiCGSTAB:
		return &BiCGSTABSolver{base: b}, nil
	}
	return nil, fmt.Errorf("krylov: unknown solver kind %d", kind)
}

func (b *base) logIteration(name string, it float64, def, prev float64) {
	if b.Verbose > 1 {
		b.Logger.Debug(name, "iter", it, "defect", def, "rate", def/prev)
	}
}

func (b *base) finish(name string, res *Result, def, def0 float64, iterations float64, start time.Time) {
	res.Elapsed = time.Since(start)
	res.Iterations = int(math.Ceil(iterations))
	if def0 > 0 {
		res.Reduction = def / def0
	}
	if res.Iterations > 0 && res.Reduction > 0 {
		res.ConvRate = math.Pow(res.Reduction, 1/float64(res.Iterations))
	}
	if b.Verbose > 0 {
		b.Logger.Info(name,
			"converged", res.Converged,
			"iterations", res.Iterations,
			"reduction", res.Reduction,
			"rate", res.ConvRate,
			"elapsed", res.Elapsed)
	}
}

// zeroed returns a zero vector shaped like v.
func zeroed(v *linalg.BlockVector) *linalg.BlockVector { return v.CloneZero() }
