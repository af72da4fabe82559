package amg

import (
	"fmt"
	"sort"

	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/partitions"
)

// Level is one grid of the hierarchy
type Level struct {
	A   *linalg.Matrix
	OOC *partitions.OwnerOverlapCopy

	// Local point → local point on the next coarser level, -1 if the point
	// has no coarse representative. Nil on the coarsest level.
	agg []int

	globalSize int
}

// GlobalSize returns the number of points of this level over all ranks
func (l *Level) GlobalSize() int { return l.globalSize }

// Hierarchy is the sequence of levels from fine to coarse
type Hierarchy struct {
	Levels []*Level
	params Parameters
}

// BuildHierarchy coarsens a until one of the stopping rules holds. Every
// decision is taken on globally reduced quantities, so all ranks build the
// same number of levels. It is collective.
func BuildHierarchy(a *linalg.Matrix, ooc *partitions.OwnerOverlapCopy, p Parameters) (*Hierarchy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if a.BlockSize() != 1 || a.N() != ooc.N() {
		return nil, fmt.Errorf("amg: point matrix of order %d expected for %d indices, got block size %d order %d",
			ooc.N(), ooc.N(), a.BlockSize(), a.N())
	}
	c := ooc.Comm()
	fine := &Level{A: a, OOC: ooc, globalSize: int(c.Sum(float64(ooc.NumOwned())))}
	h := &Hierarchy{Levels: []*Level{fine}, params: p}

	for {
		lev := h.Levels[len(h.Levels)-1]
		if len(h.Levels) >= p.MaxLevel || lev.globalSize <= p.CoarsenTarget {
			break
		}
		coarse, agg, err := coarsen(lev, p)
		if err != nil {
			return nil, fmt.Errorf("amg: coarsening level %d: %w", len(h.Levels)-1, err)
		}
		if coarse.globalSize == 0 || float64(lev.globalSize)/float64(coarse.globalSize) < p.MinCoarsenRate {
			break
		}
		lev.agg = agg
		h.Levels = append(h.Levels, coarse)
	}
	return h, nil
}

// Coarsest returns the last level
func (h *Hierarchy) Coarsest() *Level { return h.Levels[len(h.Levels)-1] }

// coarsen aggregates the owned points of lev and builds the Galerkin coarse level
func coarsen(lev *Level, p Parameters) (*Level, []int, error) {
	ooc := lev.OOC
	c := ooc.Comm()
	n := ooc.N()

	owned := make([]bool, n)
	for i := range owned {
		owned[i] = ooc.IsOwner(i)
	}
	agg, nAgg := aggregate(lev.A, owned, p)

	// Number aggregates globally in rank order
	counts := c.AllGatherInts([]int{nAgg})
	offset, total := 0, 0
	for r, cnt := range counts {
		if r < c.Rank() {
			offset += cnt[0]
		}
		total += cnt[0]
	}

	// Ghost points learn the global aggregate of their owner's copy
	gid := make([]float64, n)
	for i := range gid {
		gid[i] = -1
		if owned[i] && agg[i] >= 0 {
			gid[i] = float64(offset + agg[i])
		}
	}
	ghostGID := make([]float64, n)
	ooc.CopyOwnerToAll(gid, ghostGID)

	// Owned aggregates first, then ghost aggregates by global index
	coarseGIDs := make([]int, nAgg, nAgg+n-ooc.NumOwned())
	coarseOwners := make([]int, nAgg, cap(coarseGIDs))
	for k := 0; k < nAgg; k++ {
		coarseGIDs[k] = offset + k
		coarseOwners[k] = c.Rank()
	}
	ghostOwner := make(map[int]int)
	for i := 0; i < n; i++ {
		if owned[i] || ghostGID[i] < 0 {
			continue
		}
		g := int(ghostGID[i])
		if r, ok := ghostOwner[g]; ok && r != ooc.OwnerRank[i] {
			return nil, nil, fmt.Errorf("aggregate %d claimed by ranks %d and %d", g, r, ooc.OwnerRank[i])
		}
		ghostOwner[g] = ooc.OwnerRank[i]
	}
	ghosts := make([]int, 0, len(ghostOwner))
	for g := range ghostOwner {
		ghosts = append(ghosts, g)
	}
	sort.Ints(ghosts)
	local := make(map[int]int, len(ghosts))
	for _, g := range ghosts {
		local[g] = len(coarseGIDs)
		coarseGIDs = append(coarseGIDs, g)
		coarseOwners = append(coarseOwners, ghostOwner[g])
	}

	mapping := make([]int, n)
	for i := range mapping {
		switch {
		case owned[i]:
			mapping[i] = agg[i]
		case ghostGID[i] >= 0:
			mapping[i] = local[int(ghostGID[i])]
		default:
			mapping[i] = -1
		}
	}

	coarseOOC, err := partitions.NewOwnerOverlapCopy(c, coarseGIDs, coarseOwners)
	if err != nil {
		return nil, nil, err
	}

	// Galerkin product with piecewise constant prolongation. Owned fine rows
	// are complete, so every owned coarse row is complete too.
	nc := len(coarseGIDs)
	b := linalg.NewBuilder(nc, 1)
	for i := 0; i < n; i++ {
		if !owned[i] || mapping[i] < 0 {
			continue
		}
		cols, vals := lev.A.Row(i)
		for k, j := range cols {
			if mapping[j] >= 0 {
				b.Add(mapping[i], mapping[j], vals[k])
			}
		}
	}
	for k := nAgg; k < nc; k++ {
		b.Set(k, k, 1)
	}

	return &Level{A: b.Build(), OOC: coarseOOC, globalSize: total}, mapping, nil
}
