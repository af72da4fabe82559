package ovlp

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/logging"
	"github.com/notargets/ovlpsolver/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// poisson builds the tridiagonal [-1 2 -1] matrix of order n with bs decoupled components
func poisson(n, bs int) *linalg.Matrix {
	b := linalg.NewBuilder(n, bs)
	for i := 0; i < n; i++ {
		for c := 0; c < bs; c++ {
			b.Set(i*bs+c, i*bs+c, 2)
			if i > 0 {
				b.Set(i*bs+c, (i-1)*bs+c, -1)
			}
			if i < n-1 {
				b.Set(i*bs+c, (i+1)*bs+c, -1)
			}
		}
	}
	return b.Build()
}

func subdomains(t *testing.T, a *linalg.Matrix, np, overlap int) []*partitions.Subdomain {
	t.Helper()
	graph := partitions.NewDOFGraph(a)
	layout, err := (&partitions.PartitionBuilder{Graph: graph, NumPartitions: np,
		Strategy: partitions.BlockPartition}).BuildPartitions()
	require.NoError(t, err)
	subs, err := partitions.BuildSubdomains(layout, graph, overlap, a.BlockSize())
	require.NoError(t, err)
	return subs
}

func denseSolve(t *testing.T, a *linalg.Matrix, rhs []float64) []float64 {
	t.Helper()
	n := a.N()
	d := mat.NewDense(n, n, nil)
	a.DoNonZero(func(i, j int, v float64) { d.Set(i, j, v) })
	var x mat.VecDense
	require.NoError(t, x.SolveVec(d, mat.NewVecDense(n, append([]float64(nil), rhs...))))
	return x.RawVector().Data
}

func relErr(x, y []float64) float64 {
	var num, den float64
	for i := range x {
		num += (x[i] - y[i]) * (x[i] - y[i])
		den += y[i] * y[i]
	}
	return math.Sqrt(num / den)
}

func rhsVector(n int) []float64 {
	rng := rand.New(rand.NewSource(3))
	b := make([]float64, n)
	for i := range b {
		b[i] = rng.Float64() - 0.5
	}
	return b
}

// solveDistributed runs backend on np ranks and returns the gathered solution
func solveDistributed(t *testing.T, a *linalg.Matrix, rhs []float64, np, overlap int,
	newBackend func(h *partitions.ParallelHelper, cc linalg.Constraints) (Backend, error)) ([]float64, krylov.Result) {
	t.Helper()
	subs := subdomains(t, a, np, overlap)
	var (
		global []float64
		result krylov.Result
	)
	err := comm.Run(context.Background(), np, func(ctx context.Context, c comm.Communicator) error {
		sub := subs[c.Rank()]
		h, err := partitions.NewParallelHelper(c, sub)
		if err != nil {
			return err
		}
		cc := sub.FrontConstraints()
		local, err := sub.LocalMatrix(a, cc)
		if err != nil {
			return err
		}
		backend, err := newBackend(h, cc)
		if err != nil {
			return err
		}
		z := linalg.NewBlockVector(sub.N(), a.BlockSize())
		r := sub.Restrict(rhs)
		res, err := backend.Apply(local, z, r, 1e-10)
		if err != nil {
			return err
		}
		x := sub.GatherGlobal(c, z)
		if c.Rank() == 0 {
			global, result = x, res
		}
		return nil
	})
	require.NoError(t, err)
	return global, result
}

func quietOptions() Options {
	opts := DefaultOptions()
	opts.Logger = logging.Discard()
	return opts
}

func TestScalarProductMatchesGlobal(t *testing.T) {
	for _, np := range []int{2, 3, 4} {
		a := poisson(30, 2)
		subs := subdomains(t, a, np, 2)
		x := rhsVector(60)
		y := rhsVector(60)
		for i := range y {
			y[i] += float64(i % 5)
		}
		want := mat.Dot(mat.NewVecDense(60, x), mat.NewVecDense(60, y))

		err := comm.Run(context.Background(), np, func(ctx context.Context, c comm.Communicator) error {
			h, err := partitions.NewParallelHelper(c, subs[c.Rank()])
			if err != nil {
				return err
			}
			sp := NewOverlappingScalarProduct(h)
			xl, yl := subs[c.Rank()].Restrict(x), subs[c.Rank()].Restrict(y)
			assert.InDelta(t, want, sp.Dot(xl, yl), 1e-10)
			assert.InDelta(t, math.Sqrt(mat.Dot(mat.NewVecDense(60, x), mat.NewVecDense(60, x))), sp.Norm(xl), 1e-10)
			assert.GreaterOrEqual(t, sp.Norm(yl), 0.0)
			assert.Equal(t, 0.0, sp.Norm(xl.CloneZero()))
			assert.Equal(t, krylov.Overlapping, sp.Category())
			return nil
		})
		require.NoError(t, err)
	}
}

func TestOverlappingOperatorZeroesConstraints(t *testing.T) {
	a := poisson(6, 1)
	cc := linalg.Constraints{0: 0, 5: 0}
	op := NewOverlappingOperator(cc, a)
	x := linalg.NewBlockVectorFrom([]float64{1, 2, 3, 4, 5, 6}, 1)

	y := linalg.NewBlockVector(6, 1)
	op.Apply(x, y)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, y.Data)

	y.Fill(1)
	op.ApplyScaleAdd(2, x, y)
	assert.Equal(t, []float64{0, 1, 1, 1, 1, 0}, y.Data)

	// zeroing is idempotent
	again := y.Clone()
	linalg.SetConstrainedDOFs(cc, 0, again)
	assert.Equal(t, y.Data, again.Data)
	assert.Same(t, a, op.Matrix())
}

func TestWrappedPreconditionerSumsCopies(t *testing.T) {
	a := poisson(8, 1)
	subs := subdomains(t, a, 2, 1)
	err := comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Communicator) error {
		sub := subs[c.Rank()]
		h, err := partitions.NewParallelHelper(c, sub)
		if err != nil {
			return err
		}
		ident := identity{}
		p := NewOverlappingWrappedPreconditioner(h, linalg.Constraints{}, ident)
		d := linalg.NewBlockVector(sub.N(), 1)
		d.Fill(1)
		v := d.CloneZero()
		p.Apply(v, d)
		for i, g := range sub.GIDs {
			// DOFs 3 and 4 are held by both ranks
			want := 1.0
			if g == 3 || g == 4 {
				want = 2
			}
			assert.Equal(t, want, v.Data[i], "rank %d gid %d", c.Rank(), g)
		}
		assert.Equal(t, 1.0, d.Data[0])
		return nil
	})
	require.NoError(t, err)
}

type identity struct{}

func (identity) Pre(_, _ *linalg.BlockVector)   {}
func (identity) Apply(v, d *linalg.BlockVector) { v.CopyFrom(d) }
func (identity) Post(_ *linalg.BlockVector)     {}
func (identity) Category() krylov.Category      { return krylov.Sequential }

func TestSSORkBackend(t *testing.T) {
	a := poisson(40, 1)
	rhs := rhsVector(40)
	want := denseSolve(t, a, rhs)
	for _, kind := range []krylov.Kind{krylov.CG, krylov.BiCGSTAB} {
		for _, np := range []int{1, 2, 4} {
			x, res := solveDistributed(t, a, rhs, np, 1,
				func(h *partitions.ParallelHelper, cc linalg.Constraints) (Backend, error) {
					opts := quietOptions()
					opts.Solver = kind
					return NewSSORkBackend(h, cc, opts)
				})
			assert.True(t, res.Converged, "%v on %d ranks", kind, np)
			assert.Less(t, relErr(x, want), 1e-6, "%v on %d ranks", kind, np)
		}
	}
}

func TestSSORkBackendRejectsZeroSteps(t *testing.T) {
	opts := quietOptions()
	opts.Steps = 0
	h, err := partitions.NewParallelHelper(comm.Serial(), subdomains(t, poisson(4, 1), 1, 0)[0])
	require.NoError(t, err)
	_, err = NewSSORkBackend(h, nil, opts)
	assert.Error(t, err)
}

func TestExactBackends(t *testing.T) {
	a := poisson(24, 2)
	rhs := rhsVector(48)
	want := denseSolve(t, a, rhs)
	type exactCase struct {
		name       string
		solver     krylov.Kind
		restricted bool
		exact      string
		overlap    int
	}
	var cases []exactCase
	for _, exact := range []string{"lu", "cholesky"} {
		for _, overlap := range []int{1, 2} {
			for _, solver := range []krylov.Kind{krylov.CG, krylov.BiCGSTAB} {
				name := fmt.Sprintf("unrestricted-%s-overlap%d-%v", exact, overlap, solver)
				cases = append(cases, exactCase{name, solver, false, exact, overlap})
			}
		}
	}
	cases = append(cases,
		exactCase{"ras-bicgstab", krylov.BiCGSTAB, true, "lu", 1},
		exactCase{"ras-overlap2", krylov.BiCGSTAB, true, "lu", 2},
		exactCase{"ras-cholesky", krylov.BiCGSTAB, true, "cholesky", 1},
	)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, np := range []int{2, 3, 4} {
				x, res := solveDistributed(t, a, rhs, np, tc.overlap,
					func(h *partitions.ParallelHelper, cc linalg.Constraints) (Backend, error) {
						opts := quietOptions()
						opts.Solver = tc.solver
						opts.Restricted = tc.restricted
						opts.ExactSolver = tc.exact
						return NewExactBackend(h, cc, opts)
					})
				assert.True(t, res.Converged, "%d ranks", np)
				assert.LessOrEqual(t, res.Reduction, 1e-10, "%d ranks", np)
				assert.Less(t, relErr(x, want), 1e-6, "%d ranks", np)
			}
		})
	}
}

func TestSplitIdentityRows(t *testing.T) {
	// rows 0 and 3 are identity rows, rows 1 and 2 couple into them
	a := linalg.FromDense(4, 1, []float64{
		1, 0, 0, 0,
		-1, 2, -1, 0,
		0, -1, 2, -3,
		0, 0, 0, 1,
	})
	reduced, couplings := splitIdentityRows(a)
	assert.Equal(t, 0.0, reduced.At(1, 0))
	assert.Equal(t, 0.0, reduced.At(2, 3))
	assert.Equal(t, 1.0, reduced.At(0, 0))
	assert.Equal(t, -1.0, reduced.At(1, 2))
	assert.Equal(t, reduced.At(1, 2), reduced.At(2, 1))
	assert.ElementsMatch(t, []coupling{{row: 1, col: 0, val: -1}, {row: 2, col: 3, val: -3}}, couplings)

	// the reduced system with moved couplings reproduces the full solution
	b := []float64{2, 1, 1, -1}
	want := denseSolve(t, a, b)
	chol, err := NewExactSolver("cholesky", reduced)
	require.NoError(t, err)
	rhs := append([]float64(nil), b...)
	for _, c := range couplings {
		rhs[c.row] -= c.val * b[c.col]
	}
	x := make([]float64, 4)
	require.NoError(t, chol.Solve(x, rhs))
	assert.InDeltaSlice(t, want, x, 1e-12)

	// the full matrix is not symmetric
	_, err = NewExactSolver("cholesky", a)
	assert.ErrorIs(t, err, ErrNonSymmetric)
}

func TestCholeskySubdomainWithFront(t *testing.T) {
	a := poisson(12, 1)
	subs := subdomains(t, a, 3, 1)
	err := comm.Run(context.Background(), 3, func(ctx context.Context, c comm.Communicator) error {
		sub := subs[c.Rank()]
		h, err := partitions.NewParallelHelper(c, sub)
		if err != nil {
			return err
		}
		local, err := sub.LocalMatrix(a, sub.FrontConstraints())
		if err != nil {
			return err
		}
		// front rows make the local matrix non-symmetric
		if c.Rank() == 1 {
			_, err := NewExactSolver("cholesky", local)
			assert.ErrorIs(t, err, ErrNonSymmetric)
		}
		_, err = NewSubdomainSolver(h, local, "cholesky")
		return err
	})
	require.NoError(t, err)
}

func TestExactBackendSingleRankIsDirect(t *testing.T) {
	a := poisson(10, 1)
	rhs := rhsVector(10)
	x, res := solveDistributed(t, a, rhs, 1, 1,
		func(h *partitions.ParallelHelper, cc linalg.Constraints) (Backend, error) {
			return NewExactBackend(h, cc, quietOptions())
		})
	assert.True(t, res.Converged)
	assert.LessOrEqual(t, res.Iterations, 1)
	assert.Less(t, relErr(x, denseSolve(t, a, rhs)), 1e-10)
}

func TestExactBackendUnavailable(t *testing.T) {
	h, err := partitions.NewParallelHelper(comm.Serial(), subdomains(t, poisson(4, 1), 1, 0)[0])
	require.NoError(t, err)
	opts := quietOptions()
	opts.ExactSolver = "superlu"
	_, err = NewExactBackend(h, nil, opts)
	assert.ErrorIs(t, err, ErrExactSolverUnavailable)

	RegisterExactSolver("superlu", newDenseLU)
	assert.True(t, ExactSolverAvailable("superlu"))
	_, err = NewExactBackend(h, nil, opts)
	assert.NoError(t, err)
	assert.Contains(t, ExactSolverNames(), "lu")
}

func TestExactSolverSingular(t *testing.T) {
	a := linalg.FromDense(2, 1, []float64{1, 1, 1, 1})
	_, err := NewExactSolver("lu", a)
	assert.ErrorIs(t, err, ErrSingularSubdomain)
	_, err = NewExactSolver("cholesky", linalg.FromDense(2, 1, []float64{1, 2, 2, 1}))
	assert.ErrorIs(t, err, ErrSingularSubdomain)
}

func TestExplicitDiagonalBackend(t *testing.T) {
	// block diagonal mass matrix with 2x2 blocks
	n := 12
	bld := linalg.NewBuilder(n, 2)
	for i := 0; i < n; i++ {
		bld.Set(2*i, 2*i, 2)
		bld.Set(2*i, 2*i+1, 1)
		bld.Set(2*i+1, 2*i, 1)
		bld.Set(2*i+1, 2*i+1, 3)
	}
	m := bld.Build()
	rhs := rhsVector(2 * n)
	want := denseSolve(t, m, rhs)

	// a graph with neighbours is needed to grow an overlap
	subs := subdomains(t, poisson(n, 2), 3, 1)
	err := comm.Run(context.Background(), 3, func(ctx context.Context, c comm.Communicator) error {
		sub := subs[c.Rank()]
		h, err := partitions.NewParallelHelper(c, sub)
		if err != nil {
			return err
		}
		local, err := sub.LocalMatrix(m, linalg.Constraints{})
		if err != nil {
			return err
		}
		b := NewExplicitDiagonalBackend(h)
		z := linalg.NewBlockVector(sub.N(), 2)
		for _, red := range []float64{1e-3, 0.5} {
			z.Zero()
			res, err := b.Apply(local, z, sub.Restrict(rhs), red)
			if err != nil {
				return err
			}
			assert.True(t, res.Converged)
			assert.Equal(t, 1, res.Iterations)
			assert.Zero(t, res.Elapsed)
			assert.Equal(t, red, res.Reduction)
		}
		for i, g := range sub.GIDs {
			assert.InDelta(t, want[2*g], z.At(i, 0), 1e-12)
			assert.InDelta(t, want[2*g+1], z.At(i, 1), 1e-12)
		}
		assert.Panics(t, func() { b.Norm(z) })
		return nil
	})
	require.NoError(t, err)
}

func TestExplicitDiagonalBackendZeroDiagonal(t *testing.T) {
	subs := subdomains(t, poisson(4, 1), 1, 0)
	h, err := partitions.NewParallelHelper(comm.Serial(), subs[0])
	require.NoError(t, err)
	b := NewExplicitDiagonalBackend(h)

	m := linalg.FromDense(4, 1, []float64{
		2, 0, 0, 0,
		0, 0, 0, 0,
		0, 0, 3, 0,
		0, 0, 0, 4,
	})
	z := linalg.NewBlockVector(4, 1)
	_, err = b.Apply(m, z, linalg.NewBlockVectorFrom([]float64{1, 1, 1, 1}, 1), 1e-3)
	assert.ErrorIs(t, err, ErrSingularSubdomain)
	for _, v := range z.Data {
		assert.False(t, math.IsInf(v, 0) || math.IsNaN(v))
	}
}
