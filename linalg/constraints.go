package linalg

// Constraints maps a constrained DOF (block index) to its imposed value
type Constraints map[int]float64

// Contains reports whether DOF i is constrained
func (cc Constraints) Contains(i int) bool {
	_, ok := cc[i]
	return ok
}

// Merge returns the union of cc and others, later entries win
func (cc Constraints) Merge(others ...Constraints) Constraints {
	out := make(Constraints, len(cc))
	for i, v := range cc {
		out[i] = v
	}
	for _, o := range others {
		for i, v := range o {
			out[i] = v
		}
	}
	return out
}

// SetConstrainedDOFs sets every component of every constrained block of v to value
func SetConstrainedDOFs(cc Constraints, value float64, v *BlockVector) {
	for i := range cc {
		blk := v.Block(i)
		for j := range blk {
			blk[j] = value
		}
	}
}
