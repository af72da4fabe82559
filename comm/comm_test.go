package comm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialCommunicator(t *testing.T) {
	c := Serial()
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 3.5, c.Sum(3.5))
	assert.Equal(t, -1.0, c.Max(-1))

	dst := make([]float64, 2)
	c.SumSlice(dst, []float64{1, 2})
	assert.Equal(t, []float64{1, 2}, dst)
	assert.Equal(t, [][]int{{4, 5}}, c.AllGatherInts([]int{4, 5}))
	assert.Empty(t, c.Exchange(nil, nil))
	assert.Panics(t, func() { c.Exchange(map[int][]float64{1: {1}}, nil) })
}

func TestWorldCollectives(t *testing.T) {
	for _, size := range []int{2, 3, 4, 7} {
		err := Run(context.Background(), size, func(ctx context.Context, c Communicator) error {
			r := float64(c.Rank())
			if got, want := c.Sum(r+1), float64(size*(size+1)/2); got != want {
				t.Errorf("size %d rank %d: sum %v, want %v", size, c.Rank(), got, want)
			}
			if got := c.Max(r); got != float64(size-1) {
				t.Errorf("size %d rank %d: max %v", size, c.Rank(), got)
			}
			dst := make([]float64, 2)
			c.SumSlice(dst, []float64{1, r})
			if dst[0] != float64(size) {
				t.Errorf("size %d rank %d: elementwise sum %v", size, c.Rank(), dst)
			}
			all := c.AllGatherInts([]int{c.Rank(), c.Rank() * 10})
			for q, part := range all {
				if len(part) != 2 || part[0] != q || part[1] != q*10 {
					t.Errorf("size %d rank %d: gathered %v from %d", size, c.Rank(), part, q)
				}
			}
			c.Barrier()
			return nil
		})
		require.NoError(t, err)
	}
}

func TestWorldExchangeRing(t *testing.T) {
	const size = 4
	err := Run(context.Background(), size, func(ctx context.Context, c Communicator) error {
		next := (c.Rank() + 1) % size
		prev := (c.Rank() + size - 1) % size
		for round := range 10 {
			sends := map[int][]float64{next: {float64(c.Rank()), float64(round)}}
			got := c.Exchange(sends, []int{prev})
			if got[prev][0] != float64(prev) || got[prev][1] != float64(round) {
				t.Errorf("rank %d round %d: got %v", c.Rank(), round, got[prev])
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestWorldExchangeOneSided(t *testing.T) {
	// rank 0 only sends, rank 1 only receives, for several rounds in a row
	err := Run(context.Background(), 2, func(ctx context.Context, c Communicator) error {
		for round := range 5 {
			if c.Rank() == 0 {
				c.Exchange(map[int][]float64{1: {float64(round)}}, nil)
				continue
			}
			got := c.Exchange(nil, []int{0})
			if got[0][0] != float64(round) {
				t.Errorf("round %d: got %v", round, got[0])
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestWorldExchangeSkippedByIdleRank(t *testing.T) {
	// rank 2 sits out the first rounds, then joins a ring
	const size = 3
	err := Run(context.Background(), size, func(ctx context.Context, c Communicator) error {
		for round := range 3 {
			if c.Rank() == 2 {
				continue
			}
			peer := 1 - c.Rank()
			got := c.Exchange(map[int][]float64{peer: {float64(round)}}, []int{peer})
			assert.Equal(t, []float64{float64(round)}, got[peer])
		}
		assert.Equal(t, float64(size), c.Sum(1))

		next := (c.Rank() + 1) % size
		prev := (c.Rank() + size - 1) % size
		got := c.Exchange(map[int][]float64{next: {float64(c.Rank())}}, []int{prev})
		assert.Equal(t, []float64{float64(prev)}, got[prev])
		return nil
	})
	require.NoError(t, err)
}

func TestRunPropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	err := Run(context.Background(), 3, func(ctx context.Context, c Communicator) error {
		if c.Rank() == 1 {
			return boom
		}
		// the other ranks block in a collective rank 1 never joins
		c.Sum(1)
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom) || errors.Is(err, ErrAborted), "unexpected error %v", err)
}

func TestRunRecoversPanic(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, c Communicator) error {
		if c.Rank() == 0 {
			panic("bad rank")
		}
		c.Barrier()
		return nil
	})
	require.Error(t, err)
}
