package partitions

import (
	"testing"

	"github.com/notargets/ovlpsolver/linalg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// laplace1D builds the tridiagonal (-1, 2, -1) matrix with blocks of bs
// decoupled components.
func laplace1D(n, bs int) *linalg.Matrix {
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

// laplace2D builds the 5-point Laplacian on an m x m grid
func laplace2D(m int) *linalg.Matrix {
	b := linalg.NewBuilder(m*m, 1)
	for y := 0; y < m; y++ {
		for x := 0; x < m; x++ {
			i := y*m + x
			b.Set(i, i, 4)
			if x > 0 {
				b.Set(i, i-1, -1)
			}
			if x < m-1 {
				b.Set(i, i+1, -1)
			}
			if y > 0 {
				b.Set(i, i-m, -1)
			}
			if y < m-1 {
				b.Set(i, i+m, -1)
			}
		}
	}
	return b.Build()
}

func TestNewDOFGraph(t *testing.T) {
	g := NewDOFGraph(laplace1D(5, 2))
	require.Equal(t, 5, g.NumDOFs)
	assert.Equal(t, []int{1}, g.Adjacency[0])
	assert.Equal(t, []int{1, 3}, g.Adjacency[2])
	assert.Equal(t, []int{3}, g.Adjacency[4])
}

func TestBuildPartitions_Strategies(t *testing.T) {
	graph := NewDOFGraph(laplace2D(6))

	for _, strategy := range []PartitionStrategy{BlockPartition, RoundRobin, GraphPartition} {
		for _, np := range []int{1, 2, 3, 5} {
			pb := &PartitionBuilder{Graph: graph, NumPartitions: np, Strategy: strategy}
			layout, err := pb.BuildPartitions()
			if err != nil {
				t.Fatalf("strategy %d np %d: %v", strategy, np, err)
			}

			// Test 1: every DOF has exactly one owner
			if err := layout.ValidateLayout(); err != nil {
				t.Errorf("strategy %d np %d: %v", strategy, np, err)
			}

			// Test 2: balanced to within one DOF
			stats := layout.PartitionStatistics()
			if stats.MaxDOFs-stats.MinDOFs > 1 {
				t.Errorf("strategy %d np %d: sizes %d..%d", strategy, np, stats.MinDOFs, stats.MaxDOFs)
			}
			if stats.NumPartitions != np {
				t.Errorf("strategy %d: %d partitions, want %d", strategy, stats.NumPartitions, np)
			}
		}
	}
}

func TestBuildPartitions_Errors(t *testing.T) {
	pb := &PartitionBuilder{Graph: NewDOFGraph(laplace1D(3, 1)), NumPartitions: 4}
	_, err := pb.BuildPartitions()
	assert.Error(t, err)

	pb = &PartitionBuilder{NumPartitions: 1}
	_, err = pb.BuildPartitions()
	assert.Error(t, err)
}

func TestNewPartitionLayout(t *testing.T) {
	layout, err := NewPartitionLayout([]int{0, 0, 1, 1, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, layout.Partitions[1].DOFs)
	assert.Equal(t, 3, layout.MaxDOFs)
	assert.Equal(t, 1, layout.GetPartition(2))
	assert.Equal(t, -1, layout.GetPartition(9))

	_, err = NewPartitionLayout([]int{0, 2}, 2)
	assert.ErrorIs(t, err, ErrInconsistentOwnership)
}

func TestValidateLayout_DetectsCorruption(t *testing.T) {
	layout, err := NewPartitionLayout([]int{0, 1, 1}, 2)
	require.NoError(t, err)

	layout.Partitions[0].DOFs = append(layout.Partitions[0].DOFs, 1)
	layout.Partitions[0].NumDOFs++
	assert.ErrorIs(t, layout.ValidateLayout(), ErrInconsistentOwnership)
}

func TestValidateCommunicationSymmetry(t *testing.T) {
	good := []*PartitionBuffer{
		{RemotePartitions: []RemotePartition{{Rank: 1, PartitionID: 1, SendCount: 2, RecvCount: 1}}},
		{RemotePartitions: []RemotePartition{{Rank: 0, PartitionID: 0, SendCount: 1, RecvCount: 2}}},
	}
	assert.NoError(t, validateCommunicationSymmetry(good))

	bad := []*PartitionBuffer{
		{RemotePartitions: []RemotePartition{{Rank: 1, PartitionID: 1, SendCount: 2}}},
		{RemotePartitions: []RemotePartition{{Rank: 0, PartitionID: 0, RecvCount: 3}}},
	}
	assert.Error(t, validateCommunicationSymmetry(bad))

	orphan := []*PartitionBuffer{
		{RemotePartitions: []RemotePartition{{Rank: 1, PartitionID: 1, SendCount: 2}}},
		{},
	}
	assert.Error(t, validateCommunicationSymmetry(orphan))
}
