// Package problems provides reference linear problems and a per-rank
// assembler that serves the local part of a global problem.
package problems

import (
	"fmt"
	"math"

	"github.com/notargets/ovlpsolver/linalg"
)

// Problem is a globally assembled linear system A u = B with Dirichlet constraints
type Problem struct {
	Name        string
	Dim         int
	A           *linalg.Matrix
	B           []float64
	Constraints linalg.Constraints // Global DOF → boundary value
	Exact       []float64          // Nodal values of the continuous solution
}

// Poisson1D discretizes -u'' = π² sin(πx) on [0, 1] with u(0) = u(1) = 0 on n
// equidistant nodes including both boundary nodes. Rows are scaled by h².
func Poisson1D(n int) (*Problem, error) {
	if n < 3 {
		return nil, fmt.Errorf("problems: 1-D Poisson needs at least 3 nodes, got %d", n)
	}
	h := 1 / float64(n-1)
	p := &Problem{
		Name:        fmt.Sprintf("poisson1d-%d", n),
		Dim:         1,
		B:           make([]float64, n),
		Constraints: linalg.Constraints{0: 0, n - 1: 0},
		Exact:       make([]float64, n),
	}
	b := linalg.NewBuilder(n, 1)
	for i := 0; i < n; i++ {
		x := float64(i) * h
		p.Exact[i] = math.Sin(math.Pi * x)
		if p.Constraints.Contains(i) {
			b.Set(i, i, 1)
			p.B[i] = p.Constraints[i]
			continue
		}
		b.Set(i, i, 2)
		b.Set(i, i-1, -1)
		b.Set(i, i+1, -1)
		p.B[i] = h * h * math.Pi * math.Pi * math.Sin(math.Pi*x)
	}
	p.A = b.Build()
	return p, nil
}

// Laplace2D discretizes -Δu = 2π² sin(πx) sin(πy) on the unit square with
// homogeneous Dirichlet conditions on an m x m grid of nodes, 5-point stencil.
func Laplace2D(m int) (*Problem, error) {
	if m < 3 {
		return nil, fmt.Errorf("problems: 2-D Laplace needs at least 3 nodes per direction, got %d", m)
	}
	n := m * m
	h := 1 / float64(m-1)
	p := &Problem{
		Name:        fmt.Sprintf("laplace2d-%dx%d", m, m),
		Dim:         2,
		B:           make([]float64, n),
		Constraints: make(linalg.Constraints),
		Exact:       make([]float64, n),
	}
	for k := 0; k < m; k++ {
		for _, i := range []int{k, (m-1)*m + k, k * m, k*m + m - 1} {
			p.Constraints[i] = 0
		}
	}
	b := linalg.NewBuilder(n, 1)
	for iy := 0; iy < m; iy++ {
		for ix := 0; ix < m; ix++ {
			i := iy*m + ix
			x, y := float64(ix)*h, float64(iy)*h
			p.Exact[i] = math.Sin(math.Pi*x) * math.Sin(math.Pi*y)
			if p.Constraints.Contains(i) {
				b.Set(i, i, 1)
				continue
			}
			b.Set(i, i, 4)
			b.Set(i, i-1, -1)
			b.Set(i, i+1, -1)
			b.Set(i, i-m, -1)
			b.Set(i, i+m, -1)
			p.B[i] = h * h * 2 * math.Pi * math.Pi * p.Exact[i]
		}
	}
	p.A = b.Build()
	return p, nil
}

// Residual returns the global residual A u - B
func (p *Problem) Residual(u []float64) []float64 {
	r := make([]float64, len(p.B))
	p.A.Mv(u, r)
	for i := range r {
		r[i] -= p.B[i]
	}
	return r
}
