package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainPartitions splits a chain of n DOFs into np contiguous blocks with
// overlap ghost layers on each side.
func chainPartitions(n, np, overlap int) (l2g, owner [][]int) {
	l2g = make([][]int, np)
	owner = make([][]int, np)
	ownerOf := func(g int) int { return g * np / n }
	for p := 0; p < np; p++ {
		lo, hi := -1, -1
		for g := 0; g < n; g++ {
			if ownerOf(g) == p {
				if lo < 0 {
					lo = g
				}
				hi = g
			}
		}
		for g := lo - overlap; g <= hi+overlap; g++ {
			if g < 0 || g >= n {
				continue
			}
			l2g[p] = append(l2g[p], g)
			owner[p] = append(owner[p], ownerOf(g))
		}
	}
	return l2g, owner
}

func TestDOFConnectorChain(t *testing.T) {
	testCases := []struct {
		n, np, overlap int
	}{
		{10, 2, 1},
		{12, 3, 1},
		{20, 4, 2},
		{9, 1, 0},
	}

	for _, tc := range testCases {
		l2g, owner := chainPartitions(tc.n, tc.np, tc.overlap)
		fc, err := NewDOFConnector(l2g, owner)
		require.NoError(t, err)
		require.NoError(t, fc.Verify())

		for p := 0; p < tc.np; p++ {
			for q := 0; q < tc.np; q++ {
				pick := fc.GetPickIndices(AllAll, p, q)
				place := fc.GetPlaceIndices(AllAll, q, p)
				if len(pick) != len(place) {
					t.Errorf("n=%d np=%d: pick[%d][%d]=%d place=%d", tc.n, tc.np, p, q, len(pick), len(place))
				}
				// neighbours in a chain share 2*overlap DOFs, everything else nothing
				want := 0
				if (q == p+1 || q == p-1) && tc.np > 1 {
					want = 2 * tc.overlap
				}
				if len(pick) != want {
					t.Errorf("n=%d np=%d overlap=%d: pair (%d,%d) shares %d, want %d",
						tc.n, tc.np, tc.overlap, p, q, len(pick), want)
				}
				// owner to ghost only in one direction per DOF
				if want > 0 {
					assert.Len(t, fc.GetPickIndices(InteriorBorderAll, p, q), tc.overlap)
				}
			}
		}
	}
}

func TestDOFConnectorExchangeSemantics(t *testing.T) {
	l2g, owner := chainPartitions(12, 3, 2)
	fc, err := NewDOFConnector(l2g, owner)
	require.NoError(t, err)

	// every partition holds value 1 on each copy; summing over AllAll must
	// give the number of holders
	data := make([][]float64, fc.NumPartitions)
	for p := range data {
		data[p] = make([]float64, len(l2g[p]))
		for i := range data[p] {
			data[p][i] = 1
		}
	}
	sends := make([][][]float64, fc.NumPartitions)
	for p := 0; p < fc.NumPartitions; p++ {
		sends[p] = make([][]float64, fc.NumPartitions)
		for q := 0; q < fc.NumPartitions; q++ {
			for _, idx := range fc.GetPickIndices(AllAll, p, q) {
				sends[p][q] = append(sends[p][q], AddDataHandle{}.Pick(data[p], idx))
			}
		}
	}
	for p := 0; p < fc.NumPartitions; p++ {
		for q := 0; q < fc.NumPartitions; q++ {
			for i, idx := range fc.GetPlaceIndices(AllAll, p, q) {
				AddDataHandle{}.Place(data[p], idx, sends[q][p][i])
			}
		}
	}
	for p := range data {
		for i, v := range data[p] {
			g := l2g[p][i]
			if v != float64(len(fc.Holders[g])) {
				t.Errorf("partition %d DOF %d: summed %v, holders %d", p, g, v, len(fc.Holders[g]))
			}
		}
	}
}

func TestDOFConnectorRejectsBadOwnership(t *testing.T) {
	_, err := NewDOFConnector([][]int{{0, 1}, {1, 2}}, [][]int{{0, 0}, {1, 1}})
	assert.Error(t, err, "DOF 1 claimed by two owners")

	_, err = NewDOFConnector([][]int{{0}, {1, 2}}, [][]int{{0}, {1, 0}})
	assert.Error(t, err, "owner does not hold DOF 2")

	_, err = NewDOFConnector([][]int{{0, 0}}, [][]int{{0, 0}})
	assert.Error(t, err, "duplicate local DOF")

	_, err = NewDOFConnector(nil, nil)
	assert.Error(t, err)
}

func TestDataHandles(t *testing.T) {
	data := []float64{1, 2}
	AddDataHandle{}.Place(data, 0, 3)
	CopyDataHandle{}.Place(data, 1, 7)
	assert.Equal(t, []float64{4, 7}, data)
	assert.Equal(t, "AllAll", AllAll.String())
	assert.Equal(t, "InteriorBorderAll", InteriorBorderAll.String())
}
