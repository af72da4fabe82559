package partitions

import (
	"fmt"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/metrics"
	"github.com/notargets/ovlpsolver/utils"
)

// ParallelHelper provides the ownership mask and boundary exchanges of one
// rank's subdomain to the overlapping solver components.
type ParallelHelper struct {
	comm    comm.Communicator
	sub     *Subdomain
	mask    []float64 // 1 on every component of an owned block, 0 elsewhere
	metrics metrics.Collector
}

// HelperOption configures a ParallelHelper
type HelperOption func(*ParallelHelper)

// WithMetrics reports boundary exchanges to m
func WithMetrics(m metrics.Collector) HelperOption {
	return func(h *ParallelHelper) { h.metrics = metrics.OrNop(m) }
}

// NewParallelHelper binds a subdomain to the communicator of its rank
func NewParallelHelper(c comm.Communicator, sub *Subdomain, opts ...HelperOption) (*ParallelHelper, error) {
	if sub.Rank != c.Rank() {
		return nil, fmt.Errorf("subdomain of rank %d bound to rank %d", sub.Rank, c.Rank())
	}
	if c.Size() > 1 && len(sub.Buffers) == 0 {
		return nil, fmt.Errorf("rank %d: subdomain has no exchange plans for %d ranks", c.Rank(), c.Size())
	}
	h := &ParallelHelper{comm: c, sub: sub, metrics: metrics.NewNop()}
	for _, opt := range opts {
		opt(h)
	}

	bs := sub.BlockSize
	h.mask = make([]float64, sub.N()*bs)
	for i := 0; i < sub.N(); i++ {
		if sub.IsOwned(i) {
			for j := 0; j < bs; j++ {
				h.mask[i*bs+j] = 1
			}
		}
	}
	return h, nil
}

func (h *ParallelHelper) Comm() comm.Communicator { return h.comm }

func (h *ParallelHelper) Subdomain() *Subdomain { return h.sub }

func (h *ParallelHelper) BlockSize() int { return h.sub.BlockSize }

// Mask returns 1 if component j of local block i is owned by this rank, else 0
func (h *ParallelHelper) Mask(i, j int) float64 { return h.mask[i*h.sub.BlockSize+j] }

// MaskVector zeroes every component this rank does not own
func (h *ParallelHelper) MaskVector(v *linalg.BlockVector) {
	if len(v.Data) != len(h.mask) {
		panic(fmt.Sprintf("partitions: vector of length %d masked with %d", len(v.Data), len(h.mask)))
	}
	for k, m := range h.mask {
		v.Data[k] *= m
	}
}

// Communicate performs a boundary exchange of v over iface. A rank without
// neighbours on iface, in particular a single rank, leaves v untouched.
func (h *ParallelHelper) Communicate(dh utils.DataHandle, iface utils.Interface, v *linalg.BlockVector) {
	if h.comm.Size() == 1 {
		return
	}
	buf := h.sub.Buffers[iface]
	if !buf.RequiresRemoteCommunication() {
		return
	}
	h.sub.Communicate(h.comm, dh, iface, v)
	if h.comm.Rank() == 0 {
		h.metrics.RecordExchange(iface.String(), buf.Volume())
	}
}

// Neighbors returns the ranks sharing DOFs with this one, ascending
func (h *ParallelHelper) Neighbors() []int {
	if h.comm.Size() == 1 {
		return nil
	}
	return h.sub.Buffers[utils.AllAll].Neighbors()
}

// CreateIndexSetAndProjectForAMG returns a copy of a in which every row of a
// non-owned scalar DOF is an identity row, together with the scalar-level
// communication object describing ownership. It is collective.
func (h *ParallelHelper) CreateIndexSetAndProjectForAMG(a *linalg.Matrix) (*linalg.Matrix, *OwnerOverlapCopy, error) {
	bs := h.sub.BlockSize
	n := h.sub.N() * bs
	if a.N() != n {
		return nil, nil, fmt.Errorf("matrix of order %d on subdomain of %d scalars", a.N(), n)
	}

	gids := make([]int, n)
	owners := make([]int, n)
	for i, g := range h.sub.GIDs {
		for j := 0; j < bs; j++ {
			gids[i*bs+j] = g*bs + j
			owners[i*bs+j] = h.sub.Owner[i]
		}
	}

	b := linalg.NewBuilder(n, 1)
	for i := 0; i < n; i++ {
		if h.mask[i] == 0 {
			b.Set(i, i, 1)
			continue
		}
		cols, vals := a.Row(i)
		for k, j := range cols {
			b.Set(i, j, vals[k])
		}
	}

	ooc, err := NewOwnerOverlapCopy(h.comm, gids, owners, WithOOCMetrics(h.metrics))
	if err != nil {
		return nil, nil, fmt.Errorf("building AMG index set: %w", err)
	}
	return b.Build(), ooc, nil
}
