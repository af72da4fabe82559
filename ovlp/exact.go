package ovlp

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/notargets/ovlpsolver/linalg"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrExactSolverUnavailable is returned when no exact solver is registered under the requested name
	ErrExactSolverUnavailable = errors.New("ovlp: exact subdomain solver not available")
	// ErrSingularSubdomain is returned when a local matrix cannot be factorized
	ErrSingularSubdomain = errors.New("ovlp: singular subdomain matrix")
	// ErrNonSymmetric is returned when a symmetric factorization is requested for a non-symmetric matrix
	ErrNonSymmetric = errors.New("ovlp: subdomain matrix is not symmetric")
)

// ExactSolver solves with a factorized local matrix
type ExactSolver interface {
	// Solve computes x = A⁻¹ b.
	Solve(x, b []float64) error
}

// ExactSolverFactory factorizes a local matrix
type ExactSolverFactory func(a *linalg.Matrix) (ExactSolver, error)

var (
	exactMu      sync.RWMutex
	exactSolvers = map[string]ExactSolverFactory{
		"lu":       newDenseLU,
		"cholesky": newDenseCholesky,
	}
)

// RegisterExactSolver makes an exact solver available under name
func RegisterExactSolver(name string, f ExactSolverFactory) {
	exactMu.Lock()
	defer exactMu.Unlock()
	exactSolvers[name] = f
}

// ExactSolverAvailable reports whether an exact solver is registered under name
func ExactSolverAvailable(name string) bool {
	exactMu.RLock()
	defer exactMu.RUnlock()
	_, ok := exactSolvers[name]
	return ok
}

// ExactSolverNames lists the registered exact solvers
func ExactSolverNames() []string {
	exactMu.RLock()
	defer exactMu.RUnlock()
	names := make([]string, 0, len(exactSolvers))
	for n := range exactSolvers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewExactSolver factorizes a with the solver registered under name
func NewExactSolver(name string, a *linalg.Matrix) (ExactSolver, error) {
	exactMu.RLock()
	f, ok := exactSolvers[name]
	exactMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrExactSolverUnavailable, name, ExactSolverNames())
	}
	return f(a)
}

func toDense(a *linalg.Matrix) *mat.Dense {
	n := a.N()
	d := mat.NewDense(n, n, nil)
	a.DoNonZero(func(i, j int, v float64) { d.Set(i, j, v) })
	return d
}

type denseLU struct {
	lu mat.LU
	n  int
}

func newDenseLU(a *linalg.Matrix) (ExactSolver, error) {
	s := &denseLU{n: a.N()}
	if s.n == 0 {
		return s, nil
	}
	s.lu.Factorize(toDense(a))
	if c := s.lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
		return nil, fmt.Errorf("%w: LU condition number %g", ErrSingularSubdomain, c)
	}
	return s, nil
}

func (s *denseLU) Solve(x, b []float64) error {
	if s.n == 0 {
		return nil
	}
	dst := mat.NewVecDense(s.n, x)
	return ignoreCondition(s.lu.SolveVecTo(dst, false, mat.NewVecDense(s.n, b)))
}

type denseCholesky struct {
	chol mat.Cholesky
	n    int
}

func newDenseCholesky(a *linalg.Matrix) (ExactSolver, error) {
	s := &denseCholesky{n: a.N()}
	if s.n == 0 {
		return s, nil
	}
	d := toDense(a)
	tol := 1e-12 * mat.Norm(d, math.Inf(1))
	sym := mat.NewSymDense(s.n, nil)
	for i := 0; i < s.n; i++ {
		for j := i; j < s.n; j++ {
			aij, aji := d.At(i, j), d.At(j, i)
			if math.Abs(aij-aji) > tol {
				return nil, fmt.Errorf("%w: a[%d][%d] = %g, a[%d][%d] = %g", ErrNonSymmetric, i, j, aij, j, i, aji)
			}
			sym.SetSym(i, j, aij)
		}
	}
	if ok := s.chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("%w: matrix is not positive definite", ErrSingularSubdomain)
	}
	return s, nil
}

func (s *denseCholesky) Solve(x, b []float64) error {
	if s.n == 0 {
		return nil
	}
	dst := mat.NewVecDense(s.n, x)
	return ignoreCondition(s.chol.SolveVecTo(dst, mat.NewVecDense(s.n, b)))
}

// ignoreCondition drops gonum's ill-conditioning warning, the solution is still computed.
func ignoreCondition(err error) error {
	var c mat.Condition
	if errors.As(err, &c) {
		return nil
	}
	return err
}
