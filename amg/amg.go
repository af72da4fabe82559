package amg

import (
	"fmt"

	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
)

// AMG is one multigrid V-cycle used as a preconditioner
type AMG struct {
	h           *Hierarchy
	smoothers   []*BlockPreconditioner
	coarse      *coarseSolver
	smoothSteps int
	damping     float64

	// Per level work vectors
	x, d, v []*linalg.BlockVector
}

// NewAMG sets up smoothers on every level but the coarsest and factorizes the
// coarsest level. It is collective.
func NewAMG(h *Hierarchy, smoother krylov.SmootherKind, smoothSteps int) (*AMG, error) {
	if smoothSteps < 1 {
		return nil, fmt.Errorf("amg: smoothing steps must be positive, got %d", smoothSteps)
	}
	m := &AMG{
		h:           h,
		smoothSteps: smoothSteps,
		damping:     h.params.ProlongationDamping,
	}
	for l, lev := range h.Levels {
		n := lev.A.N()
		m.x = append(m.x, linalg.NewBlockVector(n, 1))
		m.d = append(m.d, linalg.NewBlockVector(n, 1))
		m.v = append(m.v, linalg.NewBlockVector(n, 1))
		if l == len(h.Levels)-1 {
			break
		}
		seq, err := krylov.NewSmoother(smoother, lev.A, 1, 1)
		if err != nil {
			return nil, fmt.Errorf("amg: smoother on level %d: %w", l, err)
		}
		m.smoothers = append(m.smoothers, NewBlockPreconditioner(seq, lev.OOC))
	}
	coarsest := h.Coarsest()
	cs, err := newCoarseSolver(coarsest.A, coarsest.OOC, "lu")
	if err != nil {
		return nil, err
	}
	m.coarse = cs
	return m, nil
}

// Levels returns the number of levels of the hierarchy
func (m *AMG) Levels() int { return len(m.h.Levels) }

func (m *AMG) Pre(_, _ *linalg.BlockVector) {}

// Apply computes v ≈ A⁻¹ d by one V-cycle. d is not modified, v is consistent.
func (m *AMG) Apply(v, d *linalg.BlockVector) {
	copy(m.d[0].Data, d.Data)
	m.h.Levels[0].OOC.Project(m.d[0].Data)
	m.x[0].Zero()
	m.mgc(0)
	copy(v.Data, m.x[0].Data)
}

func (m *AMG) Post(_ *linalg.BlockVector) {}

func (m *AMG) Category() krylov.Category { return krylov.Overlapping }

// mgc improves x[l] for the defect d[l] and updates d[l] accordingly
func (m *AMG) mgc(l int) {
	lev := m.h.Levels[l]
	x, d := m.x[l], m.d[l]
	if l == len(m.h.Levels)-1 {
		if err := m.coarse.Solve(x.Data, d.Data); err != nil {
			panic(fmt.Sprintf("amg: coarse solve: %v", err))
		}
		return
	}

	for s := 0; s < m.smoothSteps; s++ {
		m.smooth(l)
	}

	// Restrict the owned defect onto the aggregates
	xc, dc := m.x[l+1], m.d[l+1]
	dc.Zero()
	for i, k := range lev.agg {
		if k >= 0 && lev.OOC.IsOwner(i) {
			dc.Data[k] += d.Data[i]
		}
	}
	xc.Zero()
	m.mgc(l + 1)

	// Prolongate the damped coarse correction
	v := m.v[l]
	for i, k := range lev.agg {
		v.Data[i] = 0
		if k >= 0 {
			v.Data[i] = m.damping * xc.Data[k]
		}
	}
	m.correct(l, v)

	for s := 0; s < m.smoothSteps; s++ {
		m.smooth(l)
	}
}

// smooth applies one smoother step on level l
func (m *AMG) smooth(l int) {
	v := m.v[l]
	v.Zero()
	m.smoothers[l].Apply(v, m.d[l])
	m.correct(l, v)
}

// correct adds the consistent correction v to x[l] and removes it from the defect
func (m *AMG) correct(l int, v *linalg.BlockVector) {
	lev := m.h.Levels[l]
	m.x[l].Add(v)
	lev.A.Usmv(-1, v.Data, m.d[l].Data)
	lev.OOC.Project(m.d[l].Data)
}
