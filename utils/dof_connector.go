package utils

import (
	"fmt"
	"sort"
)

// DOFConnector manages pick and place indices for overlapping DOF partitions
type DOFConnector struct {
	NumPartitions int

	// Input connectivity
	LocalToGlobal [][]int // [partition][local] → global DOF
	Owner         [][]int // [partition][local] → owning partition

	// Partition mappings
	GlobalToLocal []map[int]int // [partition][global] → local
	Holders       map[int][]int // global DOF → partitions holding a copy, ascending

	// Pick/Place indices per interface
	PickIndices  map[Interface][][]PickBuffer  // [iface][sourcePartition][targetPartition]
	PlaceIndices map[Interface][][]PlaceBuffer // [iface][targetPartition][sourcePartition]
}

// PickBuffer contains indices for gathering values to send
type PickBuffer struct {
	Indices         []int // Local DOF indices
	TargetPartition int
}

// PlaceBuffer contains indices for scattering received values
type PlaceBuffer struct {
	Indices         []int // Local DOF indices
	SourcePartition int
}

type sharedDOF struct {
	global int
	local  int
}

// NewDOFConnector creates a connector from the local-to-global maps and owners of every partition
func NewDOFConnector(localToGlobal, owner [][]int) (*DOFConnector, error) {
	// Validate inputs
	if len(localToGlobal) == 0 {
		return nil, fmt.Errorf("no partitions")
	}
	if len(owner) != len(localToGlobal) {
		return nil, fmt.Errorf("owner table has %d partitions, expected %d", len(owner), len(localToGlobal))
	}

	fc := &DOFConnector{
		NumPartitions: len(localToGlobal),
		LocalToGlobal: localToGlobal,
		Owner:         owner,
	}

	if err := fc.buildPartitionMappings(); err != nil {
		return nil, err
	}

	fc.initializeBuffers()

	if err := fc.BuildIndices(); err != nil {
		return nil, err
	}

	return fc, nil
}

// buildPartitionMappings creates the global to local maps and the holder lists
func (fc *DOFConnector) buildPartitionMappings() error {
	fc.GlobalToLocal = make([]map[int]int, fc.NumPartitions)
	fc.Holders = make(map[int][]int)
	ownerOf := make(map[int]int)

	for p := 0; p < fc.NumPartitions; p++ {
		if len(fc.Owner[p]) != len(fc.LocalToGlobal[p]) {
			return fmt.Errorf("partition %d: %d owners for %d DOFs", p, len(fc.Owner[p]), len(fc.LocalToGlobal[p]))
		}
		fc.GlobalToLocal[p] = make(map[int]int, len(fc.LocalToGlobal[p]))
		for local, global := range fc.LocalToGlobal[p] {
			if _, dup := fc.GlobalToLocal[p][global]; dup {
				return fmt.Errorf("partition %d holds DOF %d twice", p, global)
			}
			fc.GlobalToLocal[p][global] = local
			fc.Holders[global] = append(fc.Holders[global], p)

			o := fc.Owner[p][local]
			if o < 0 || o >= fc.NumPartitions {
				return fmt.Errorf("partition %d: DOF %d has invalid owner %d", p, global, o)
			}
			if prev, seen := ownerOf[global]; seen && prev != o {
				return fmt.Errorf("DOF %d owned by both %d and %d", global, prev, o)
			}
			ownerOf[global] = o
		}
	}

	// Every DOF must be held by its owner
	for global, o := range ownerOf {
		if _, ok := fc.GlobalToLocal[o][global]; !ok {
			return fmt.Errorf("DOF %d owner %d does not hold it", global, o)
		}
	}

	return nil
}

// initializeBuffers creates empty pick and place buffer structures
func (fc *DOFConnector) initializeBuffers() {
	fc.PickIndices = make(map[Interface][][]PickBuffer)
	fc.PlaceIndices = make(map[Interface][][]PlaceBuffer)

	for _, iface := range Interfaces {
		pick := make([][]PickBuffer, fc.NumPartitions)
		place := make([][]PlaceBuffer, fc.NumPartitions)
		for p := 0; p < fc.NumPartitions; p++ {
			pick[p] = make([]PickBuffer, fc.NumPartitions)
			place[p] = make([]PlaceBuffer, fc.NumPartitions)
			for q := 0; q < fc.NumPartitions; q++ {
				pick[p][q] = PickBuffer{Indices: make([]int, 0), TargetPartition: q}
				place[p][q] = PlaceBuffer{Indices: make([]int, 0), SourcePartition: q}
			}
		}
		fc.PickIndices[iface] = pick
		fc.PlaceIndices[iface] = place
	}
}

// BuildIndices constructs pick and place indices for all partitions.
// Both sides of every pair list the shared DOFs in ascending global order,
// so the i-th picked value lands on the i-th place index.
func (fc *DOFConnector) BuildIndices() error {
	for _, iface := range Interfaces {
		shared := make([][][]sharedDOF, fc.NumPartitions)
		for p := range shared {
			shared[p] = make([][]sharedDOF, fc.NumPartitions)
		}

		for p := 0; p < fc.NumPartitions; p++ {
			for local, global := range fc.LocalToGlobal[p] {
				if iface == InteriorBorderAll && fc.Owner[p][local] != p {
					continue
				}
				for _, q := range fc.Holders[global] {
					if q == p {
						continue
					}
					shared[p][q] = append(shared[p][q], sharedDOF{global: global, local: local})
				}
			}
		}

		for p := 0; p < fc.NumPartitions; p++ {
			for q := 0; q < fc.NumPartitions; q++ {
				list := shared[p][q]
				sort.Slice(list, func(i, j int) bool { return list[i].global < list[j].global })
				for _, s := range list {
					// p sends its copy, q places it on its own copy
					fc.PickIndices[iface][p][q].Indices = append(fc.PickIndices[iface][p][q].Indices, s.local)
					fc.PlaceIndices[iface][q][p].Indices = append(fc.PlaceIndices[iface][q][p].Indices,
						fc.GlobalToLocal[q][s.global])
				}
			}
		}
	}

	return nil
}

// GetPickIndices returns pick indices for sending from source to target partition
func (fc *DOFConnector) GetPickIndices(iface Interface, sourcePartition, targetPartition int) []int {
	if sourcePartition < 0 || sourcePartition >= fc.NumPartitions ||
		targetPartition < 0 || targetPartition >= fc.NumPartitions {
		return nil
	}
	return fc.PickIndices[iface][sourcePartition][targetPartition].Indices
}

// GetPlaceIndices returns place indices for target partition receiving from source
func (fc *DOFConnector) GetPlaceIndices(iface Interface, targetPartition, sourcePartition int) []int {
	if targetPartition < 0 || targetPartition >= fc.NumPartitions ||
		sourcePartition < 0 || sourcePartition >= fc.NumPartitions {
		return nil
	}
	return fc.PlaceIndices[iface][targetPartition][sourcePartition].Indices
}

// Verify checks index validity and correspondence
func (fc *DOFConnector) Verify() error {
	for _, iface := range Interfaces {
		// Verify 1: Local validity - all indices are within bounds
		for p := 0; p < fc.NumPartitions; p++ {
			n := len(fc.LocalToGlobal[p])
			for q := 0; q < fc.NumPartitions; q++ {
				for _, idx := range fc.PickIndices[iface][p][q].Indices {
					if idx < 0 || idx >= n {
						return fmt.Errorf("%v: invalid pick index %d for partition %d (max %d)", iface, idx, p, n-1)
					}
				}
				for _, idx := range fc.PlaceIndices[iface][p][q].Indices {
					if idx < 0 || idx >= n {
						return fmt.Errorf("%v: invalid place index %d for partition %d (max %d)", iface, idx, p, n-1)
					}
				}
			}
		}

		// Verify 2: Correspondence - picked and placed DOFs are the same global DOFs
		for p := 0; p < fc.NumPartitions; p++ {
			for q := 0; q < fc.NumPartitions; q++ {
				pick := fc.PickIndices[iface][p][q].Indices
				place := fc.PlaceIndices[iface][q][p].Indices
				if len(pick) != len(place) {
					return fmt.Errorf("%v: length mismatch: pick[%d][%d]=%d, place[%d][%d]=%d",
						iface, p, q, len(pick), q, p, len(place))
				}
				for i := range pick {
					gp := fc.LocalToGlobal[p][pick[i]]
					gq := fc.LocalToGlobal[q][place[i]]
					if gp != gq {
						return fmt.Errorf("%v: pick[%d][%d][%d] is DOF %d but place is DOF %d", iface, p, q, i, gp, gq)
					}
				}
			}
		}
	}

	// Verify 3: Conservation - every ghost copy receives exactly one owner value
	received := make([]int, fc.NumPartitions)
	ghosts := make([]int, fc.NumPartitions)
	for p := 0; p < fc.NumPartitions; p++ {
		for local := range fc.LocalToGlobal[p] {
			if fc.Owner[p][local] != p {
				ghosts[p]++
			}
		}
		for q := 0; q < fc.NumPartitions; q++ {
			received[p] += len(fc.PlaceIndices[InteriorBorderAll][p][q].Indices)
		}
		if received[p] != ghosts[p] {
			return fmt.Errorf("conservation error: partition %d receives %d owner values for %d ghosts",
				p, received[p], ghosts[p])
		}
	}

	return nil
}
