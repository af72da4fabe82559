package partitions

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/utils"
)

// PartitionBuilder constructs partitions from the DOF coupling graph
type PartitionBuilder struct {
	// DOF connectivity
	Graph *DOFGraph

	// Partitioning parameters
	NumPartitions int
	Strategy      PartitionStrategy
}

// DOFGraph is the symmetric coupling graph of a matrix at block level
type DOFGraph struct {
	NumDOFs   int
	Adjacency [][]int // Neighbours of each DOF, ascending, without the DOF itself
}

// PartitionStrategy defines how DOFs are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive DOFs
	RoundRobin                              // Distribute cyclically

	// Graph-based strategies
	GraphPartition // Breadth-first graph growing
)

// NewDOFGraph builds the coupling graph of a matrix, merging the scalar rows of each block
func NewDOFGraph(a *linalg.Matrix) *DOFGraph {
	bs := a.BlockSize()
	n := a.Blocks()
	sets := make([]map[int]struct{}, n)
	for i := range sets {
		sets[i] = make(map[int]struct{})
	}
	a.DoNonZero(func(i, j int, v float64) {
		bi, bj := i/bs, j/bs
		if bi == bj {
			return
		}
		// Symmetrize so that overlap growth does not depend on the pattern orientation
		sets[bi][bj] = struct{}{}
		sets[bj][bi] = struct{}{}
	})

	g := &DOFGraph{NumDOFs: n, Adjacency: make([][]int, n)}
	for i, s := range sets {
		adj := make([]int, 0, len(s))
		for j := range s {
			adj = append(adj, j)
		}
		sort.Ints(adj)
		g.Adjacency[i] = adj
	}
	return g
}

// BuildPartitions creates a partition layout from the DOF graph
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Graph == nil || pb.Graph.NumDOFs == 0 {
		return nil, fmt.Errorf("empty DOF graph")
	}
	if pb.NumPartitions < 1 || pb.NumPartitions > pb.Graph.NumDOFs {
		return nil, fmt.Errorf("cannot split %d DOFs into %d partitions", pb.Graph.NumDOFs, pb.NumPartitions)
	}

	// Partition the DOFs
	dToP := pb.partitionDOFs(pb.NumPartitions)

	// Create partition structures
	partitions := createPartitions(dToP, pb.NumPartitions)

	layout := &PartitionLayout{
		Partitions:    partitions,
		MaxDOFs:       calculateMaxDOFs(partitions),
		TotalDOFs:     pb.Graph.NumDOFs,
		NumPartitions: pb.NumPartitions,
		DToP:          dToP,
	}

	// Validate the layout
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	for _, p := range layout.Partitions {
		if p.NumDOFs == 0 {
			return nil, fmt.Errorf("invalid partition layout: partition %d is empty", p.ID)
		}
	}

	return layout, nil
}

// NewPartitionLayout creates a layout from an externally computed owner map
func NewPartitionLayout(dToP []int, numPartitions int) (*PartitionLayout, error) {
	for d, p := range dToP {
		if p < 0 || p >= numPartitions {
			return nil, fmt.Errorf("%w: DOF %d assigned to partition %d of %d", ErrInconsistentOwnership, d, p, numPartitions)
		}
	}
	partitions := createPartitions(dToP, numPartitions)
	layout := &PartitionLayout{
		Partitions:    partitions,
		MaxDOFs:       calculateMaxDOFs(partitions),
		TotalDOFs:     len(dToP),
		NumPartitions: numPartitions,
		DToP:          append([]int(nil), dToP...),
	}
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// partitionDOFs assigns DOFs to partitions
func (pb *PartitionBuilder) partitionDOFs(numPartitions int) []int {
	n := pb.Graph.NumDOFs
	dToP := make([]int, n)

	switch pb.Strategy {
	case BlockPartition:
		// Balanced contiguous blocks
		for i := 0; i < n; i++ {
			dToP[i] = i * numPartitions / n
		}

	case RoundRobin:
		// Distribute DOFs cyclically
		for i := 0; i < n; i++ {
			dToP[i] = i % numPartitions
		}

	case GraphPartition:
		return pb.growPartitions(numPartitions)

	default:
		return pb.partitionWithStrategy(BlockPartition, numPartitions)
	}

	return dToP
}

// partitionWithStrategy recursively applies a different strategy
func (pb *PartitionBuilder) partitionWithStrategy(strategy PartitionStrategy, numPartitions int) []int {
	oldStrategy := pb.Strategy
	pb.Strategy = strategy
	result := pb.partitionDOFs(numPartitions)
	pb.Strategy = oldStrategy
	return result
}

// growPartitions fills partitions one after another by breadth-first search
// from the lowest unassigned DOF, so each partition is a connected chunk when
// the graph allows it.
func (pb *PartitionBuilder) growPartitions(numPartitions int) []int {
	n := pb.Graph.NumDOFs
	dToP := make([]int, n)
	for i := range dToP {
		dToP[i] = -1
	}

	next := 0
	assigned := 0
	for p := 0; p < numPartitions; p++ {
		target := (p+1)*n/numPartitions - assigned
		queue := make([]int, 0, target)
		count := 0
		for count < target {
			if len(queue) == 0 {
				for next < n && dToP[next] >= 0 {
					next++
				}
				queue = append(queue, next)
				dToP[next] = p
				count++
				continue
			}
			d := queue[0]
			queue = queue[1:]
			for _, nb := range pb.Graph.Adjacency[d] {
				if count == target {
					break
				}
				if dToP[nb] < 0 {
					dToP[nb] = p
					queue = append(queue, nb)
					count++
				}
			}
		}
		assigned += count
	}

	return dToP
}

// createPartitions builds partition structures from DOF assignments
func createPartitions(dToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	for i := range partitions {
		partitions[i] = Partition{
			ID:   i,
			DOFs: make([]int, 0),
		}
	}

	// DOFs are visited in ascending order, so each list stays sorted
	for dof, part := range dToP {
		partitions[part].DOFs = append(partitions[part].DOFs, dof)
		partitions[part].NumDOFs++
	}

	return partitions
}

// calculateMaxDOFs finds maximum owned DOFs across all partitions
func calculateMaxDOFs(partitions []Partition) int {
	maxDOFs := 0
	for _, p := range partitions {
		if p.NumDOFs > maxDOFs {
			maxDOFs = p.NumDOFs
		}
	}
	return maxDOFs
}

// buildPartitionBuffer creates the exchange buffer of one partition for one interface
func buildPartitionBuffer(fc *utils.DOFConnector, iface utils.Interface, partID, blockSize int) *PartitionBuffer {
	// Build mappings and calculate buffer sizes
	var scatterMappings []PartitionMapping
	var gatherMappings []PartitionMapping
	var remotePartitions []RemotePartition
	var recvFrom []int

	sendOffset := 0
	recvOffset := 0

	// Process each remote partition in rank order
	for remotePart := 0; remotePart < fc.NumPartitions; remotePart++ {
		if remotePart == partID {
			continue
		}
		pick := fc.GetPickIndices(iface, partID, remotePart)
		place := fc.GetPlaceIndices(iface, partID, remotePart)
		if len(pick) == 0 && len(place) == 0 {
			continue
		}

		// Build scatter mapping (what we send)
		if len(pick) > 0 {
			scatterMappings = append(scatterMappings, PartitionMapping{
				PartitionID:   remotePart,
				LocalIndices:  append([]int(nil), pick...),
				BufferIndices: makeRange(sendOffset, sendOffset+len(pick)),
				Count:         len(pick),
			})
		}

		// Build gather mapping (what we receive)
		if len(place) > 0 {
			gatherMappings = append(gatherMappings, PartitionMapping{
				PartitionID:   remotePart,
				LocalIndices:  append([]int(nil), place...),
				BufferIndices: makeRange(recvOffset, recvOffset+len(place)),
				Count:         len(place),
			})
			recvFrom = append(recvFrom, remotePart)
		}

		// Record remote partition info
		remotePartitions = append(remotePartitions, RemotePartition{
			Rank:        remotePart,
			PartitionID: remotePart,
			SendOffset:  sendOffset,
			SendCount:   len(pick),
			RecvOffset:  recvOffset,
			RecvCount:   len(place),
		})

		sendOffset += len(pick)
		recvOffset += len(place)
	}

	return &PartitionBuffer{
		Interface:        iface,
		BlockSize:        blockSize,
		SendBuffer:       make([]float64, sendOffset*blockSize),
		RecvBuffer:       make([]float64, recvOffset*blockSize),
		ScatterMappings:  scatterMappings,
		GatherMappings:   gatherMappings,
		RemotePartitions: remotePartitions,
		SendBufferSize:   sendOffset * blockSize,
		RecvBufferSize:   recvOffset * blockSize,
		recvFrom:         recvFrom,
	}
}

// Helper functions

func makeRange(start, end int) []int {
	r := make([]int, end-start)
	for i := range r {
		r[i] = start + i
	}
	return r
}

func validateCommunicationSymmetry(buffers []*PartitionBuffer) error {
	// Verify that if partition A sends to partition B,
	// then partition B expects to receive from partition A

	// Build send expectations
	sendMap := make(map[string]int) // "sender:receiver" -> count
	for senderID, buf := range buffers {
		for _, rp := range buf.RemotePartitions {
			if rp.SendCount == 0 {
				continue
			}
			key := fmt.Sprintf("%d:%d", senderID, rp.PartitionID)
			sendMap[key] = rp.SendCount
		}
	}

	// Verify receive expectations match
	received := 0
	for receiverID, buf := range buffers {
		for _, rp := range buf.RemotePartitions {
			if rp.RecvCount == 0 {
				continue
			}
			key := fmt.Sprintf("%d:%d", rp.PartitionID, receiverID)
			expectedCount, exists := sendMap[key]
			if !exists {
				return fmt.Errorf("partition %d expects to receive from %d, but %d doesn't send",
					receiverID, rp.PartitionID, rp.PartitionID)
			}
			if expectedCount != rp.RecvCount {
				return fmt.Errorf("count mismatch: partition %d sends %d to %d, but %d expects %d",
					rp.PartitionID, expectedCount, receiverID, receiverID, rp.RecvCount)
			}
			received++
		}
	}
	if received != len(sendMap) {
		return fmt.Errorf("%d sends but only %d matching receives", len(sendMap), received)
	}

	return nil
}

// PartitionStatistics computes load balance metrics
func (layout *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: layout.NumPartitions,
		MinDOFs:       math.MaxInt32,
		MaxDOFs:       0,
		AvgDOFs:       float64(layout.TotalDOFs) / float64(layout.NumPartitions),
	}

	for _, p := range layout.Partitions {
		if p.NumDOFs < stats.MinDOFs {
			stats.MinDOFs = p.NumDOFs
		}
		if p.NumDOFs > stats.MaxDOFs {
			stats.MaxDOFs = p.NumDOFs
		}
	}

	stats.Imbalance = float64(stats.MaxDOFs) / stats.AvgDOFs

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinDOFs       int
	MaxDOFs       int
	AvgDOFs       float64
	Imbalance     float64 // MaxDOFs / AvgDOFs
}
