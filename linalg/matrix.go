package linalg

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/james-bowman/sparse/blas"
)

// Matrix is a square sparse matrix in CSR storage whose rows and columns
// are grouped into blocks of BlockSize scalars.
type Matrix struct {
	csr       *sparse.CSR
	blockSize int
	diag      []int // position of the diagonal entry of each row in the raw storage, -1 if absent
}

// NewMatrix wraps a CSR matrix
func NewMatrix(csr *sparse.CSR, blockSize int) *Matrix {
	r, c := csr.Dims()
	if r != c {
		panic(fmt.Sprintf("linalg: matrix must be square, got %dx%d", r, c))
	}
	if blockSize < 1 || r%blockSize != 0 {
		panic(fmt.Sprintf("linalg: dimension %d is not a multiple of block size %d", r, blockSize))
	}
	m := &Matrix{csr: csr, blockSize: blockSize, diag: make([]int, r)}
	raw := csr.RawMatrix()
	for i := 0; i < r; i++ {
		m.diag[i] = -1
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			if raw.Ind[k] == i {
				m.diag[i] = k
				break
			}
		}
	}
	return m
}

// Base returns the underlying CSR matrix
func (m *Matrix) Base() *sparse.CSR { return m.csr }

// N returns the number of scalar rows
func (m *Matrix) N() int {
	r, _ := m.csr.Dims()
	return r
}

// Blocks returns the number of block rows
func (m *Matrix) Blocks() int { return m.N() / m.blockSize }

func (m *Matrix) BlockSize() int { return m.blockSize }

func (m *Matrix) NNZ() int { return m.csr.NNZ() }

func (m *Matrix) At(i, j int) float64 { return m.csr.At(i, j) }

// Diagonal returns a_ii, or zero if the entry is not stored
func (m *Matrix) Diagonal(i int) float64 {
	if k := m.diag[i]; k >= 0 {
		return m.csr.RawMatrix().Data[k]
	}
	return 0
}

// Row returns views of the column indices and values of row i
func (m *Matrix) Row(i int) (cols []int, vals []float64) {
	raw := m.csr.RawMatrix()
	lo, hi := raw.Indptr[i], raw.Indptr[i+1]
	return raw.Ind[lo:hi], raw.Data[lo:hi]
}

// Mv computes y = A x
func (m *Matrix) Mv(x, y []float64) {
	m.checkLen(x, y)
	for i := range y {
		y[i] = 0
	}
	m.csr.MulVecTo(y, false, x)
}

// Usmv computes y += alpha A x
func (m *Matrix) Usmv(alpha float64, x, y []float64) {
	m.checkLen(x, y)
	blas.Dusmv(false, alpha, m.csr.RawMatrix(), x, 1, y, 1)
}

// DoNonZero calls fn for every stored entry
func (m *Matrix) DoNonZero(fn func(i, j int, v float64)) {
	m.csr.DoNonZero(fn)
}

func (m *Matrix) checkLen(x, y []float64) {
	n := m.N()
	if len(x) != n || len(y) != n {
		panic(fmt.Sprintf("linalg: matrix of order %d applied to vectors of length %d and %d", n, len(x), len(y)))
	}
}

// Builder assembles a square matrix entry by entry
type Builder struct {
	dok       *sparse.DOK
	n         int
	blockSize int
}

// NewBuilder creates a builder for n blocks of the given size
func NewBuilder(n, blockSize int) *Builder {
	size := n * blockSize
	return &Builder{dok: sparse.NewDOK(size, size), n: size, blockSize: blockSize}
}

// Set stores a_ij = v
func (b *Builder) Set(i, j int, v float64) { b.dok.Set(i, j, v) }

// Add accumulates v into a_ij
func (b *Builder) Add(i, j int, v float64) { b.dok.Set(i, j, b.dok.At(i, j)+v) }

func (b *Builder) Build() *Matrix {
	return NewMatrix(b.dok.ToCSR(), b.blockSize)
}

// FromDense builds a matrix from a row-major dense array, dropping zeros
func FromDense(n, blockSize int, a []float64) *Matrix {
	b := NewBuilder(n/blockSize, blockSize)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if v := a[i*n+j]; v != 0 {
				b.Set(i, j, v)
			}
		}
	}
	return b.Build()
}
