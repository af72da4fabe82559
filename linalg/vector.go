package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// BlockVector is a vector of fixed-size blocks, one block per DOF
type BlockVector struct {
	BlockSize int
	Data      []float64 // block i occupies Data[i*BlockSize : (i+1)*BlockSize]
}

// NewBlockVector allocates a zero vector of n blocks
func NewBlockVector(n, blockSize int) *BlockVector {
	if blockSize < 1 {
		panic(fmt.Sprintf("linalg: invalid block size %d", blockSize))
	}
	return &BlockVector{BlockSize: blockSize, Data: make([]float64, n*blockSize)}
}

// NewBlockVectorFrom wraps data without copying
func NewBlockVectorFrom(data []float64, blockSize int) *BlockVector {
	if blockSize < 1 || len(data)%blockSize != 0 {
		panic(fmt.Sprintf("linalg: %d values do not form blocks of %d", len(data), blockSize))
	}
	return &BlockVector{BlockSize: blockSize, Data: data}
}

// N returns the number of blocks
func (v *BlockVector) N() int { return len(v.Data) / v.BlockSize }

// Len returns the number of scalar entries
func (v *BlockVector) Len() int { return len(v.Data) }

func (v *BlockVector) At(i, j int) float64 { return v.Data[i*v.BlockSize+j] }

func (v *BlockVector) Set(i, j int, x float64) { v.Data[i*v.BlockSize+j] = x }

// Block returns the slice backing block i
func (v *BlockVector) Block(i int) []float64 {
	return v.Data[i*v.BlockSize : (i+1)*v.BlockSize]
}

func (v *BlockVector) Clone() *BlockVector {
	return &BlockVector{BlockSize: v.BlockSize, Data: append([]float64(nil), v.Data...)}
}

// CloneZero returns a zero vector of the same shape
func (v *BlockVector) CloneZero() *BlockVector {
	return NewBlockVector(v.N(), v.BlockSize)
}

func (v *BlockVector) CopyFrom(w *BlockVector) {
	v.checkShape(w)
	copy(v.Data, w.Data)
}

func (v *BlockVector) Zero() { v.Fill(0) }

func (v *BlockVector) Fill(x float64) {
	for i := range v.Data {
		v.Data[i] = x
	}
}

// Axpy computes v += a*x
func (v *BlockVector) Axpy(a float64, x *BlockVector) {
	v.checkShape(x)
	floats.AddScaled(v.Data, a, x.Data)
}

// Add computes v += x
func (v *BlockVector) Add(x *BlockVector) {
	v.checkShape(x)
	floats.Add(v.Data, x.Data)
}

// Sub computes v -= x
func (v *BlockVector) Sub(x *BlockVector) {
	v.checkShape(x)
	floats.Sub(v.Data, x.Data)
}

func (v *BlockVector) Scale(a float64) { floats.Scale(a, v.Data) }

// Dot is the local, unweighted dot product
func (v *BlockVector) Dot(x *BlockVector) float64 {
	v.checkShape(x)
	return floats.Dot(v.Data, x.Data)
}

func (v *BlockVector) checkShape(x *BlockVector) {
	if len(v.Data) != len(x.Data) || v.BlockSize != x.BlockSize {
		panic(fmt.Sprintf("linalg: shape mismatch %d/%d vs %d/%d", len(v.Data), v.BlockSize, len(x.Data), x.BlockSize))
	}
}
