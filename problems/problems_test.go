package problems

import (
	"context"
	"math"
	"testing"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func solveDense(t *testing.T, p *Problem) []float64 {
	t.Helper()
	n := p.A.N()
	d := mat.NewDense(n, n, nil)
	p.A.DoNonZero(func(i, j int, v float64) { d.Set(i, j, v) })
	var x mat.VecDense
	require.NoError(t, x.SolveVec(d, mat.NewVecDense(n, append([]float64(nil), p.B...))))
	return x.RawVector().Data
}

func maxDiff(x, y []float64) float64 {
	var m float64
	for i := range x {
		m = math.Max(m, math.Abs(x[i]-y[i]))
	}
	return m
}

func TestPoisson1D(t *testing.T) {
	p, err := Poisson1D(101)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Dim)
	assert.Equal(t, 101, p.A.N())
	assert.Len(t, p.Constraints, 2)
	assert.Equal(t, 1.0, p.A.At(0, 0))
	assert.Equal(t, 0.0, p.A.At(0, 1))

	u := solveDense(t, p)
	assert.Less(t, maxDiff(u, p.Exact), 1e-3)
	assert.Less(t, maxDiff(p.Residual(u), make([]float64, 101)), 1e-12)

	_, err = Poisson1D(2)
	assert.Error(t, err)
}

func TestLaplace2D(t *testing.T) {
	p, err := Laplace2D(17)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Dim)
	assert.Len(t, p.Constraints, 4*16)

	u := solveDense(t, p)
	assert.Less(t, maxDiff(u, p.Exact), 1e-2)

	_, err = Laplace2D(1)
	assert.Error(t, err)
}

func TestLocalAssembler(t *testing.T) {
	p, err := Poisson1D(30)
	require.NoError(t, err)
	u := solveDense(t, p)

	graph := partitions.NewDOFGraph(p.A)
	layout, err := (&partitions.PartitionBuilder{Graph: graph, NumPartitions: 3,
		Strategy: partitions.BlockPartition}).BuildPartitions()
	require.NoError(t, err)
	subs, err := partitions.BuildSubdomains(layout, graph, 2, 1)
	require.NoError(t, err)

	err = comm.Run(context.Background(), 3, func(ctx context.Context, c comm.Communicator) error {
		la, err := NewLocalAssembler(c, subs[c.Rank()], p)
		if err != nil {
			return err
		}
		sub := la.Subdomain()
		cc := la.Constraints()
		for i, a := range sub.Attributes {
			if a == partitions.Front {
				assert.True(t, cc.Contains(i))
			}
		}

		// the discrete solution has a vanishing residual
		x := sub.Restrict(u)
		r := la.NewVector()
		require.NoError(t, la.Residual(x, r))
		assert.Less(t, maxDiff(r.Data, make([]float64, r.Len())), 1e-12)

		// constrained rows are zero for any x
		x.Fill(1)
		require.NoError(t, la.Residual(x, r))
		for i := range cc {
			assert.Equal(t, 0.0, r.Data[i])
		}

		x0 := la.InitialGuess()
		for g := range p.Constraints {
			if i, ok := sub.LocalIndex(g); ok {
				assert.Equal(t, 0.0, x0.Data[i])
			}
		}
		a, err := la.Jacobian(x0)
		require.NoError(t, err)
		assert.Equal(t, sub.N(), a.N())

		assert.Error(t, la.Residual(x0, linalg.NewBlockVector(1, 1)))
		return nil
	})
	require.NoError(t, err)

	_, err = NewLocalAssembler(comm.Serial(), subs[1], p)
	assert.Error(t, err)
}
