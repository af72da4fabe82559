package partitions

import (
	"fmt"
	"sort"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/utils"
)

// Subdomain is the local view of one rank: its owned DOFs followed by the
// ghost copies of the overlap region.
type Subdomain struct {
	Rank      int
	BlockSize int

	GIDs       []int          // Local block → global DOF, owned first then ghosts, each ascending
	Owner      []int          // Local block → owning rank
	Attributes []DOFAttribute // Local block → attribute
	NumOwned   int

	// Exchange plans
	Buffers map[utils.Interface]*PartitionBuffer

	globalToLocal map[int]int
}

// BuildSubdomains grows every partition by overlap graph layers and builds the
// exchange plans between the resulting subdomains. The outermost layer is the
// front and is constrained, so overlap must be at least one when there is more
// than one partition for owned rows to be complete.
func BuildSubdomains(layout *PartitionLayout, graph *DOFGraph, overlap, blockSize int) ([]*Subdomain, error) {
	if layout.TotalDOFs != graph.NumDOFs {
		return nil, fmt.Errorf("layout has %d DOFs, graph has %d", layout.TotalDOFs, graph.NumDOFs)
	}
	if overlap < 1 && layout.NumPartitions > 1 {
		return nil, fmt.Errorf("overlap %d leaves owned rows incomplete", overlap)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}

	subs := make([]*Subdomain, layout.NumPartitions)
	l2g := make([][]int, layout.NumPartitions)
	owners := make([][]int, layout.NumPartitions)
	depth := make([][]int, layout.NumPartitions)

	// Grow each partition breadth first
	for p, part := range layout.Partitions {
		dist := make(map[int]int, part.NumDOFs)
		frontier := make([]int, 0, part.NumDOFs)
		for _, d := range part.DOFs {
			dist[d] = 0
			frontier = append(frontier, d)
		}
		var ghosts []int
		for layer := 1; layer <= overlap; layer++ {
			var next []int
			for _, d := range frontier {
				for _, nb := range graph.Adjacency[d] {
					if _, ok := dist[nb]; ok {
						continue
					}
					dist[nb] = layer
					next = append(next, nb)
					ghosts = append(ghosts, nb)
				}
			}
			frontier = next
		}
		sort.Ints(ghosts)

		gids := append(append([]int(nil), part.DOFs...), ghosts...)
		l2g[p] = gids
		owners[p] = make([]int, len(gids))
		depth[p] = make([]int, len(gids))
		for i, g := range gids {
			owners[p][i] = layout.DToP[g]
			depth[p][i] = dist[g]
		}
	}

	// Build exchange plans
	fc, err := utils.NewDOFConnector(l2g, owners)
	if err != nil {
		return nil, fmt.Errorf("building DOF connector: %w", err)
	}
	if err := fc.Verify(); err != nil {
		return nil, fmt.Errorf("verifying DOF connector: %w", err)
	}

	for p := range subs {
		sub := &Subdomain{
			Rank:       p,
			BlockSize:  blockSize,
			GIDs:       l2g[p],
			Owner:      owners[p],
			Attributes: make([]DOFAttribute, len(l2g[p])),
			NumOwned:   layout.Partitions[p].NumDOFs,
			Buffers:    make(map[utils.Interface]*PartitionBuffer),
		}
		for i, g := range sub.GIDs {
			switch {
			case depth[p][i] == 0 && len(fc.Holders[g]) > 1:
				sub.Attributes[i] = Border
			case depth[p][i] == 0:
				sub.Attributes[i] = Interior
			case depth[p][i] == overlap:
				sub.Attributes[i] = Front
			default:
				sub.Attributes[i] = Overlap
			}
		}
		for _, iface := range utils.Interfaces {
			sub.Buffers[iface] = buildPartitionBuffer(fc, iface, p, blockSize)
		}
		sub.index()
		subs[p] = sub
	}

	// Validate symmetry of communication
	for _, iface := range utils.Interfaces {
		buffers := make([]*PartitionBuffer, len(subs))
		for p, s := range subs {
			buffers[p] = s.Buffers[iface]
		}
		if err := validateCommunicationSymmetry(buffers); err != nil {
			return nil, fmt.Errorf("asymmetric %v communication pattern: %w", iface, err)
		}
	}

	return subs, nil
}

func (s *Subdomain) index() {
	s.globalToLocal = make(map[int]int, len(s.GIDs))
	for i, g := range s.GIDs {
		s.globalToLocal[g] = i
	}
}

// N returns the number of local blocks
func (s *Subdomain) N() int { return len(s.GIDs) }

// LocalIndex returns the local block of global DOF g
func (s *Subdomain) LocalIndex(g int) (int, bool) {
	if s.globalToLocal == nil {
		s.index()
	}
	i, ok := s.globalToLocal[g]
	return i, ok
}

// IsOwned reports whether local block i is owned by this rank
func (s *Subdomain) IsOwned(i int) bool { return s.Owner[i] == s.Rank }

// FrontConstraints returns the processor boundary constraints of this subdomain
func (s *Subdomain) FrontConstraints() linalg.Constraints {
	cc := make(linalg.Constraints)
	for i, a := range s.Attributes {
		if a == Front {
			cc[i] = 0
		}
	}
	return cc
}

// RestrictConstraints maps global DOF constraints onto the local blocks held by this subdomain
func (s *Subdomain) RestrictConstraints(global linalg.Constraints) linalg.Constraints {
	cc := make(linalg.Constraints)
	for g, v := range global {
		if i, ok := s.LocalIndex(g); ok {
			cc[i] = v
		}
	}
	return cc
}

// LocalMatrix extracts the local matrix of this subdomain from the global
// matrix. Constrained rows become identity rows.
func (s *Subdomain) LocalMatrix(a *linalg.Matrix, cc linalg.Constraints) (*linalg.Matrix, error) {
	bs := s.BlockSize
	if a.BlockSize() != bs {
		return nil, fmt.Errorf("matrix block size %d, subdomain block size %d", a.BlockSize(), bs)
	}
	b := linalg.NewBuilder(s.N(), bs)
	for i, g := range s.GIDs {
		if cc.Contains(i) {
			for j := 0; j < bs; j++ {
				b.Set(i*bs+j, i*bs+j, 1)
			}
			continue
		}
		for ci := 0; ci < bs; ci++ {
			cols, vals := a.Row(g*bs + ci)
			for k, col := range cols {
				lj, ok := s.LocalIndex(col / bs)
				if !ok {
					return nil, fmt.Errorf("rank %d: row of DOF %d couples to DOF %d outside the subdomain",
						s.Rank, g, col/bs)
				}
				b.Set(i*bs+ci, lj*bs+col%bs, vals[k])
			}
		}
	}
	return b.Build(), nil
}

// Restrict copies the local blocks of a global vector
func (s *Subdomain) Restrict(global []float64) *linalg.BlockVector {
	bs := s.BlockSize
	v := linalg.NewBlockVector(s.N(), bs)
	for i, g := range s.GIDs {
		copy(v.Block(i), global[g*bs:(g+1)*bs])
	}
	return v
}

// Communicate performs one collective exchange of v over the given interface
func (s *Subdomain) Communicate(c comm.Communicator, h utils.DataHandle, iface utils.Interface, v *linalg.BlockVector) {
	if v.N() != s.N() || v.BlockSize != s.BlockSize {
		panic(fmt.Sprintf("partitions: vector of %d blocks of %d on subdomain of %d blocks of %d",
			v.N(), v.BlockSize, s.N(), s.BlockSize))
	}
	s.Buffers[iface].Communicate(c, h, v.Data)
}

// GatherGlobal assembles the global vector from the owned blocks of every rank.
// It is collective and every rank receives the full vector.
func (s *Subdomain) GatherGlobal(c comm.Communicator, v *linalg.BlockVector) []float64 {
	bs := s.BlockSize
	local := make([]float64, 0, s.NumOwned*(bs+1))
	for i := 0; i < s.N(); i++ {
		if !s.IsOwned(i) {
			continue
		}
		local = append(local, float64(s.GIDs[i]))
		local = append(local, v.Block(i)...)
	}
	parts := c.AllGather(local)

	n := 0
	for _, part := range parts {
		n += len(part) / (bs + 1)
	}
	global := make([]float64, n*bs)
	for _, part := range parts {
		for k := 0; k < len(part); k += bs + 1 {
			g := int(part[k])
			copy(global[g*bs:(g+1)*bs], part[k+1:k+1+bs])
		}
	}
	return global
}
