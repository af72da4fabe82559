package partitions

import (
	"errors"
	"fmt"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/utils"
)

// ErrInconsistentOwnership is returned when DOF ownership is not a partition of the DOF set
var ErrInconsistentOwnership = errors.New("inconsistent DOF ownership")

// DOFAttribute classifies a DOF copy held by a partition
type DOFAttribute uint8

const (
	Interior DOFAttribute = iota // Owned, held by no other partition
	Border                       // Owned, held by other partitions as a ghost
	Overlap                      // Ghost inside the overlap region
	Front                        // Ghost on the outermost overlap layer, constrained
)

func (a DOFAttribute) String() string {
	switch a {
	case Interior:
		return "interior"
	case Border:
		return "border"
	case Overlap:
		return "overlap"
	case Front:
		return "front"
	}
	return "unknown"
}

// Partition represents the DOFs owned by one rank
type Partition struct {
	// Unique identifier for this partition, equal to the owning rank
	ID int

	// DOF membership
	DOFs    []int // Global DOF indices owned by this partition, ascending
	NumDOFs int
}

// PartitionLayout manages the complete DOF decomposition
type PartitionLayout struct {
	// All partitions
	Partitions []Partition

	// Global sizing information
	MaxDOFs       int // max(NumDOFs) across all partitions
	TotalDOFs     int // Sum of all owned DOFs across partitions
	NumPartitions int

	// DOF to partition mapping
	DToP []int // Length TotalDOFs: DOF d is owned by partition DToP[d]
}

// PartitionMapping defines how local partition data maps to communication buffers
type PartitionMapping struct {
	PartitionID int

	// Block indices within the partition's local data
	LocalIndices []int

	// Corresponding block positions in send/recv buffer
	BufferIndices []int

	// Number of blocks to transfer
	Count int
}

// RemotePartition describes communication with a partition on another rank
type RemotePartition struct {
	Rank        int
	PartitionID int

	// Location in communication buffers, in blocks
	SendOffset int
	SendCount  int
	RecvOffset int
	RecvCount  int
}

// PartitionBuffer manages the exchange of one interface for one partition
type PartitionBuffer struct {
	Interface utils.Interface
	BlockSize int

	// Contiguous communication buffers
	SendBuffer []float64
	RecvBuffer []float64

	// Scatter operation: local partition data -> SendBuffer
	ScatterMappings []PartitionMapping

	// Gather operation: RecvBuffer -> local partition data
	GatherMappings []PartitionMapping

	// Remote communication metadata
	RemotePartitions []RemotePartition

	// Buffer management, in scalars
	SendBufferSize int
	RecvBufferSize int

	recvFrom []int
}

// Methods for PartitionLayout

// GetPartition returns the partition owning DOF d
func (pl *PartitionLayout) GetPartition(dof int) int {
	if dof < 0 || dof >= len(pl.DToP) {
		return -1
	}
	return pl.DToP[dof]
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.DToP) != pl.TotalDOFs {
		return fmt.Errorf("%w: DToP length %d != TotalDOFs %d", ErrInconsistentOwnership, len(pl.DToP), pl.TotalDOFs)
	}

	// Verify every DOF is owned exactly once
	seen := make([]bool, pl.TotalDOFs)
	actualMax := 0
	for _, p := range pl.Partitions {
		if p.NumDOFs != len(p.DOFs) {
			return fmt.Errorf("partition %d: NumDOFs %d != len(DOFs) %d", p.ID, p.NumDOFs, len(p.DOFs))
		}
		if p.NumDOFs > actualMax {
			actualMax = p.NumDOFs
		}
		for _, d := range p.DOFs {
			if d < 0 || d >= pl.TotalDOFs {
				return fmt.Errorf("partition %d: DOF %d out of range", p.ID, d)
			}
			if seen[d] {
				return fmt.Errorf("%w: DOF %d owned twice", ErrInconsistentOwnership, d)
			}
			if pl.DToP[d] != p.ID {
				return fmt.Errorf("%w: DOF %d listed in partition %d but DToP says %d",
					ErrInconsistentOwnership, d, p.ID, pl.DToP[d])
			}
			seen[d] = true
		}
	}
	for d, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: DOF %d has no owner", ErrInconsistentOwnership, d)
		}
	}

	// Verify MaxDOFs
	if actualMax != pl.MaxDOFs {
		return fmt.Errorf("computed MaxDOFs %d != stored MaxDOFs %d", actualMax, pl.MaxDOFs)
	}
	return nil
}

// Methods for PartitionBuffer

// RequiresRemoteCommunication checks if any value leaves or enters this partition
func (pb *PartitionBuffer) RequiresRemoteCommunication() bool {
	for _, rp := range pb.RemotePartitions {
		if rp.SendCount > 0 || rp.RecvCount > 0 {
			return true
		}
	}
	return false
}

// Neighbors returns the ranks this partition exchanges with, ascending
func (pb *PartitionBuffer) Neighbors() []int {
	out := make([]int, 0, len(pb.RemotePartitions))
	for _, rp := range pb.RemotePartitions {
		out = append(out, rp.Rank)
	}
	return out
}

// Communicate performs one collective exchange of data over this buffer's
// interface. Every rank of the world must call it for the same interface.
func (pb *PartitionBuffer) Communicate(c comm.Communicator, h utils.DataHandle, data []float64) {
	bs := pb.BlockSize

	// Scatter: local data -> SendBuffer
	sends := make(map[int][]float64, len(pb.ScatterMappings))
	for _, m := range pb.ScatterMappings {
		for k, local := range m.LocalIndices {
			b := m.BufferIndices[k]
			for j := 0; j < bs; j++ {
				pb.SendBuffer[b*bs+j] = h.Pick(data, local*bs+j)
			}
		}
		lo := m.BufferIndices[0] * bs
		sends[m.PartitionID] = pb.SendBuffer[lo : lo+m.Count*bs]
	}

	recv := c.Exchange(sends, pb.recvFrom)

	// Gather: RecvBuffer -> local data
	for _, m := range pb.GatherMappings {
		msg := recv[m.PartitionID]
		if len(msg) != m.Count*bs {
			panic(fmt.Sprintf("partitions: rank %d received %d values from %d, expected %d",
				c.Rank(), len(msg), m.PartitionID, m.Count*bs))
		}
		lo := m.BufferIndices[0] * bs
		copy(pb.RecvBuffer[lo:lo+m.Count*bs], msg)
		for k, local := range m.LocalIndices {
			b := m.BufferIndices[k]
			for j := 0; j < bs; j++ {
				h.Place(data, local*bs+j, pb.RecvBuffer[b*bs+j])
			}
		}
	}
}

// Volume returns the number of scalars this partition sends per exchange
func (pb *PartitionBuffer) Volume() int { return pb.SendBufferSize }
