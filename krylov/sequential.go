package krylov

import (
	"fmt"
	"math"

	"github.com/notargets/ovlpsolver/linalg"
)

// MatrixAdapter turns a matrix into a sequential linear operator.
type MatrixAdapter struct {
	A *linalg.Matrix
}

func (m MatrixAdapter) Apply(x, y *linalg.BlockVector) { m.A.Mv(x.Data, y.Data) }

func (m MatrixAdapter) ApplyScaleAdd(alpha float64, x, y *linalg.BlockVector) {
	m.A.Usmv(alpha, x.Data, y.Data)
}

func (m MatrixAdapter) Matrix() *linalg.Matrix { return m.A }

func (MatrixAdapter) Category() Category { return Sequential }

// SeqScalarProduct is the Euclidean inner product of local vectors.
type SeqScalarProduct struct{}

func (SeqScalarProduct) Dot(x, y *linalg.BlockVector) float64 { return x.Dot(y) }

func (SeqScalarProduct) Norm(x *linalg.BlockVector) float64 { return math.Sqrt(x.Dot(x)) }

func (SeqScalarProduct) Category() Category { return Sequential }

// SmootherKind selects a sequential relaxation preconditioner.
type SmootherKind int

const (
	SSOR SmootherKind = iota
	SOR
	Jacobi
)

func (k SmootherKind) String() string {
	switch k {
	case SSOR:
		return "SSOR"
	case SOR:
		return "SOR"
	case Jacobi:
		return "Jacobi"
	}
	return "unknown"
}

// ParseSmootherKind maps a configuration name to a SmootherKind.
func ParseSmootherKind(name string) (SmootherKind, error) {
	switch name {
	case "ssor", "SSOR":
		return SSOR, nil
	case "sor", "SOR", "gs", "gauss-seidel":
		return SOR, nil
	case "jacobi", "jac", "Jacobi":
		return Jacobi, nil
	}
	return 0, fmt.Errorf("krylov: unknown smoother %q", name)
}

// NewSmoother creates a sequential relaxation preconditioner performing
// iterations sweeps with relaxation factor w.
func NewSmoother(kind SmootherKind, a *linalg.Matrix, iterations int, w float64) (Preconditioner, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("krylov: smoother needs at least one iteration, got %d", iterations)
	}
	for i := 0; i < a.N(); i++ {
		if a.Diagonal(i) == 0 {
			return nil, fmt.Errorf("krylov: zero diagonal in row %d", i)
		}
	}
	r := relaxation{a: a, n: iterations, w: w}
	switch kind {
	case SSOR:
		return &SeqSSOR{r}, nil
	case SOR:
		return &SeqSOR{r}, nil
	case Jacobi:
		return &SeqJac{relaxation: r}, nil
	}
	return nil, fmt.Errorf("krylov: unknown smoother kind %d", kind)
}

type relaxation struct {
	a *linalg.Matrix
	n int
	w float64
}

func (relaxation) Pre(_, _ *linalg.BlockVector) {}
func (relaxation) Post(_ *linalg.BlockVector)   {}
func (relaxation) Category() Category           { return Sequential }

// sweep performs one Gauss-Seidel row update of row i in place.
func (r relaxation) sweep(i int, v, d []float64) {
	cols, vals := r.a.Row(i)
	s := d[i]
	var diag float64
	for k, j := range cols {
		if j == i {
			diag = vals[k]
			continue
		}
		s -= vals[k] * v[j]
	}
	v[i] += r.w * (s/diag - v[i])
}

// SeqSSOR is symmetric successive over-relaxation: a forward sweep followed by a backward sweep.
type SeqSSOR struct{ relaxation }

func (s *SeqSSOR) Apply(v, d *linalg.BlockVector) {
	n := s.a.N()
	for k := 0; k < s.n; k++ {
		for i := 0; i < n; i++ {
			s.sweep(i, v.Data, d.Data)
		}
		for i := n - 1; i >= 0; i-- {
			s.sweep(i, v.Data, d.Data)
		}
	}
}

// SeqSOR is successive over-relaxation with forward sweeps.
type SeqSOR struct{ relaxation }

func (s *SeqSOR) Apply(v, d *linalg.BlockVector) {
	n := s.a.N()
	for k := 0; k < s.n; k++ {
		for i := 0; i < n; i++ {
			s.sweep(i, v.Data, d.Data)
		}
	}
}

// SeqJac is damped point Jacobi.
type SeqJac struct {
	relaxation
	tmp []float64
}

func (s *SeqJac) Apply(v, d *linalg.BlockVector) {
	n := s.a.N()
	if len(s.tmp) != n {
		s.tmp = make([]float64, n)
	}
	for k := 0; k < s.n; k++ {
		s.a.Mv(v.Data, s.tmp)
		for i := 0; i < n; i++ {
			v.Data[i] += s.w * (d.Data[i] - s.tmp[i]) / s.a.Diagonal(i)
		}
	}
}
