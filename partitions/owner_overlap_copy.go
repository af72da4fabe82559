package partitions

import (
	"fmt"
	"math"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/metrics"
	"github.com/notargets/ovlpsolver/utils"
)

// OwnerOverlapCopy describes scalar DOF ownership on one rank and performs
// owner-to-copy exchanges. It is the communication object of the AMG levels.
type OwnerOverlapCopy struct {
	comm      comm.Communicator
	GIDs      []int // Local scalar → global index
	OwnerRank []int // Local scalar → owning rank

	owner   []bool
	buffers map[utils.Interface]*PartitionBuffer
	metrics metrics.Collector
}

// OOCOption configures an OwnerOverlapCopy
type OOCOption func(*OwnerOverlapCopy)

// WithOOCMetrics reports exchanges to m
func WithOOCMetrics(m metrics.Collector) OOCOption {
	return func(o *OwnerOverlapCopy) { o.metrics = metrics.OrNop(m) }
}

// NewOwnerOverlapCopy builds the exchange plans for the given local index set.
// It is collective: every rank gathers all index sets and derives the same
// pick and place lists.
func NewOwnerOverlapCopy(c comm.Communicator, gids, ownerRank []int, opts ...OOCOption) (*OwnerOverlapCopy, error) {
	if len(gids) != len(ownerRank) {
		return nil, fmt.Errorf("%d global indices for %d owners", len(gids), len(ownerRank))
	}
	o := &OwnerOverlapCopy{
		comm:      c,
		GIDs:      gids,
		OwnerRank: ownerRank,
		owner:     make([]bool, len(gids)),
		buffers:   make(map[utils.Interface]*PartitionBuffer),
		metrics:   metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	for i, r := range ownerRank {
		o.owner[i] = r == c.Rank()
	}

	if c.Size() == 1 {
		for i, r := range ownerRank {
			if r != 0 {
				return nil, fmt.Errorf("%w: index %d owned by rank %d in a serial run", ErrInconsistentOwnership, gids[i], r)
			}
		}
		return o, nil
	}

	// Build exchange plans
	allGIDs := c.AllGatherInts(gids)
	allOwners := c.AllGatherInts(ownerRank)
	fc, err := utils.NewDOFConnector(allGIDs, allOwners)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistentOwnership, err)
	}
	for _, iface := range utils.Interfaces {
		o.buffers[iface] = buildPartitionBuffer(fc, iface, c.Rank(), 1)
	}
	return o, nil
}

func (o *OwnerOverlapCopy) Comm() comm.Communicator { return o.comm }

// N returns the number of local scalars
func (o *OwnerOverlapCopy) N() int { return len(o.GIDs) }

// IsOwner reports whether local scalar i is owned by this rank
func (o *OwnerOverlapCopy) IsOwner(i int) bool { return o.owner[i] }

// NumOwned returns the number of owned local scalars
func (o *OwnerOverlapCopy) NumOwned() int {
	n := 0
	for _, ok := range o.owner {
		if ok {
			n++
		}
	}
	return n
}

// CopyOwnerToAll copies src into dst and overwrites every non-owned entry of
// dst with the owner's value.
func (o *OwnerOverlapCopy) CopyOwnerToAll(src, dst []float64) {
	if len(src) != len(o.GIDs) || len(dst) != len(o.GIDs) {
		panic(fmt.Sprintf("partitions: copyOwnerToAll on %d/%d values, index set has %d", len(src), len(dst), len(o.GIDs)))
	}
	copy(dst, src)
	if o.comm.Size() == 1 {
		return
	}
	buf := o.buffers[utils.InteriorBorderAll]
	buf.Communicate(o.comm, utils.CopyDataHandle{}, dst)
	if o.comm.Rank() == 0 {
		o.metrics.RecordExchange(utils.InteriorBorderAll.String(), buf.Volume())
	}
}

// Project zeroes every non-owned entry of x
func (o *OwnerOverlapCopy) Project(x []float64) {
	for i, ok := range o.owner {
		if !ok {
			x[i] = 0
		}
	}
}

// Dot returns the global dot product counting each scalar once, at its owner
func (o *OwnerOverlapCopy) Dot(x, y []float64) float64 {
	var s float64
	for i, ok := range o.owner {
		if ok {
			s += x[i] * y[i]
		}
	}
	return o.comm.Sum(s)
}

// Norm returns the global Euclidean norm of x
func (o *OwnerOverlapCopy) Norm(x []float64) float64 {
	return math.Sqrt(o.Dot(x, x))
}
