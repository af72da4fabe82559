// Package amg implements an aggregation based algebraic multigrid
// preconditioner for matrices distributed over overlapping subdomains, and a
// Krylov backend that rebuilds the hierarchy on every solve.
package amg

import "fmt"

// Parameters control coarsening and the multigrid cycle
type Parameters struct {
	MaxLevel       int     // Maximum number of levels including the finest
	CoarsenTarget  int     // Stop coarsening once the global level size is at most this
	MinCoarsenRate float64 // Stop coarsening when a level shrinks by less than this factor

	Alpha float64 // Connection i→j is strong if s_ij ≥ Alpha·max_k s_ik
	Beta  float64 // Node is isolated if max_k s_ik < Beta

	MaxDistance      int // Maximum graph distance from the seed within an aggregate
	MinAggregateSize int
	MaxAggregateSize int

	ProlongationDamping float64
}

// DefaultParameters returns the isotropic defaults for a problem in dim
// dimensions with aggregates of diameter two.
func DefaultParameters(dim int) Parameters {
	p := Parameters{
		MaxLevel:            15,
		CoarsenTarget:       2000,
		MinCoarsenRate:      1.2,
		Alpha:               1.0 / 3,
		Beta:                1e-5,
		ProlongationDamping: 1.6,
	}
	p.setDefaultValuesIsotropic(dim, 2)
	return p
}

func (p *Parameters) setDefaultValuesIsotropic(dim, diameter int) {
	p.MaxDistance = diameter - 1 + dim
	csize := 1
	for i := 0; i < dim; i++ {
		csize *= diameter
	}
	p.MinAggregateSize = csize
	p.MaxAggregateSize = csize * 3 / 2
	if p.MaxAggregateSize <= p.MinAggregateSize {
		p.MaxAggregateSize = p.MinAggregateSize + 1
	}
}

// Validate reports the first inconsistent parameter
func (p Parameters) Validate() error {
	switch {
	case p.MaxLevel < 1:
		return fmt.Errorf("amg: max level must be positive, got %d", p.MaxLevel)
	case p.CoarsenTarget < 1:
		return fmt.Errorf("amg: coarsen target must be positive, got %d", p.CoarsenTarget)
	case p.MinCoarsenRate <= 1:
		return fmt.Errorf("amg: minimum coarsening rate must exceed 1, got %g", p.MinCoarsenRate)
	case p.Alpha <= 0 || p.Alpha > 1:
		return fmt.Errorf("amg: alpha must be in (0, 1], got %g", p.Alpha)
	case p.Beta < 0:
		return fmt.Errorf("amg: beta must not be negative, got %g", p.Beta)
	case p.MaxDistance < 1:
		return fmt.Errorf("amg: max distance must be positive, got %d", p.MaxDistance)
	case p.MaxAggregateSize < 1 || p.MinAggregateSize > p.MaxAggregateSize:
		return fmt.Errorf("amg: invalid aggregate size range [%d, %d]", p.MinAggregateSize, p.MaxAggregateSize)
	case p.ProlongationDamping <= 0 || p.ProlongationDamping >= 2:
		return fmt.Errorf("amg: prolongation damping must be in (0, 2), got %g", p.ProlongationDamping)
	}
	return nil
}
