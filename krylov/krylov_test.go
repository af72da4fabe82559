package krylov

import (
	"math"
	"testing"

	"github.com/notargets/ovlpsolver/linalg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// convectionDiffusion builds a tridiagonal matrix that is symmetric for c == 0.
func convectionDiffusion(n int, c float64) *linalg.Matrix {
	b := linalg.NewBuilder(n, 1)
	for i := 0; i < n; i++ {
		b.Set(i, i, 2)
		if i > 0 {
			b.Set(i, i-1, -1-c)
		}
		if i < n-1 {
			b.Set(i, i+1, -1+c)
		}
	}
	return b.Build()
}

func denseSolve(t *testing.T, a *linalg.Matrix, rhs []float64) []float64 {
	t.Helper()
	n := a.N()
	d := mat.NewDense(n, n, nil)
	a.DoNonZero(func(i, j int, v float64) { d.Set(i, j, v) })
	var lu mat.LU
	lu.Factorize(d)
	x := mat.NewVecDense(n, nil)
	require.NoError(t, lu.SolveVecTo(x, false, mat.NewVecDense(n, append([]float64(nil), rhs...))))
	return x.RawVector().Data
}

func ones(n int) *linalg.BlockVector {
	v := linalg.NewBlockVector(n, 1)
	v.Fill(1)
	return v
}

func relErr(x, y []float64) float64 {
	var num, den float64
	for i := range x {
		num += (x[i] - y[i]) * (x[i] - y[i])
		den += y[i] * y[i]
	}
	return math.Sqrt(num / den)
}

func TestSolvers(t *testing.T) {
	testCases := []struct {
		name     string
		kind     Kind
		smoother SmootherKind
		c        float64
	}{
		{"cg-ssor", CG, SSOR, 0},
		{"cg-jacobi", CG, Jacobi, 0},
		{"bicgstab-ssor", BiCGSTAB, SSOR, 0.3},
		{"bicgstab-sor", BiCGSTAB, SOR, 0.3},
		{"bicgstab-jacobi", BiCGSTAB, Jacobi, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			const n = 60
			a := convectionDiffusion(n, tc.c)
			prec, err := NewSmoother(tc.smoother, a, 1, 1)
			require.NoError(t, err)
			solver, err := NewSolver(tc.kind, MatrixAdapter{a}, SeqScalarProduct{}, prec,
				Settings{Reduction: 1e-10, MaxIter: 1000})
			require.NoError(t, err)

			x := linalg.NewBlockVector(n, 1)
			b := ones(n)
			res, err := solver.Apply(x, b)
			require.NoError(t, err)

			assert.True(t, res.Converged)
			assert.Greater(t, res.Iterations, 0)
			assert.Less(t, res.Reduction, 1e-10)
			assert.Less(t, res.ConvRate, 1.0)

			want := denseSolve(t, a, ones(n).Data)
			assert.Less(t, relErr(x.Data, want), 1e-6)
		})
	}
}

func TestSolverZeroRightHandSide(t *testing.T) {
	a := convectionDiffusion(10, 0)
	prec, err := NewSmoother(SSOR, a, 1, 1)
	require.NoError(t, err)
	for _, kind := range []Kind{CG, BiCGSTAB} {
		solver, err := NewSolver(kind, MatrixAdapter{a}, SeqScalarProduct{}, prec, Settings{Reduction: 1e-8, MaxIter: 10})
		require.NoError(t, err)
		res, err := solver.Apply(linalg.NewBlockVector(10, 1), linalg.NewBlockVector(10, 1))
		require.NoError(t, err)
		assert.True(t, res.Converged, kind.String())
		assert.Equal(t, 0, res.Iterations, kind.String())
	}
}

func TestSolverIterationCap(t *testing.T) {
	const n = 200
	a := convectionDiffusion(n, 0)
	prec, err := NewSmoother(Jacobi, a, 1, 1)
	require.NoError(t, err)
	solver, err := NewSolver(CG, MatrixAdapter{a}, SeqScalarProduct{}, prec, Settings{Reduction: 1e-12, MaxIter: 3})
	require.NoError(t, err)

	res, err := solver.Apply(linalg.NewBlockVector(n, 1), ones(n))
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Iterations)
	assert.Greater(t, res.Reduction, 1e-12)
}

type overlappingStub struct{ SeqScalarProduct }

func (overlappingStub) Category() Category { return Overlapping }

func TestNewSolverValidation(t *testing.T) {
	a := convectionDiffusion(4, 0)
	prec, err := NewSmoother(SSOR, a, 1, 1)
	require.NoError(t, err)

	_, err = NewSolver(CG, MatrixAdapter{a}, overlappingStub{}, prec, Settings{Reduction: 1e-8, MaxIter: 10})
	assert.ErrorIs(t, err, ErrCategoryMismatch)

	_, err = NewSolver(CG, MatrixAdapter{a}, SeqScalarProduct{}, prec, Settings{Reduction: 1e-8})
	assert.Error(t, err)

	_, err = NewSolver(CG, MatrixAdapter{a}, SeqScalarProduct{}, prec, Settings{MaxIter: 5, Reduction: -1})
	assert.Error(t, err)

	_, err = NewSmoother(SSOR, linalg.FromDense(2, 1, []float64{0, 1, 1, 0}), 1, 1)
	assert.Error(t, err)
}

func TestParseNames(t *testing.T) {
	k, err := ParseKind("bicgstab")
	require.NoError(t, err)
	assert.Equal(t, BiCGSTAB, k)
	_, err = ParseKind("gmres")
	assert.Error(t, err)

	s, err := ParseSmootherKind("jacobi")
	require.NoError(t, err)
	assert.Equal(t, Jacobi, s)
	_, err = ParseSmootherKind("ilu")
	assert.Error(t, err)
}
