// Package krylov provides preconditioned Krylov subspace solvers that are
// composed from an operator, a scalar product and a preconditioner, so the
// same iteration runs sequentially or on overlapping distributed vectors.
package krylov

import (
	"errors"
	"fmt"
	"time"

	"github.com/notargets/ovlpsolver/linalg"
)

var (
	// ErrBreakdown is returned when a Krylov recurrence divides by a vanishing quantity.
	ErrBreakdown = errors.New("krylov: breakdown")
	// ErrCategoryMismatch is returned when solver components disagree on their parallel category.
	ErrCategoryMismatch = errors.New("krylov: solver category mismatch")
)

// Category tells whether a component acts on purely local vectors or on
// overlapping distributed vectors.
type Category int

const (
	Sequential Category = iota
	Overlapping
)

func (c Category) String() string {
	switch c {
	case Sequential:
		return "sequential"
	case Overlapping:
		return "overlapping"
	}
	return "unknown"
}

// LinearOperator applies a linear map.
type LinearOperator interface {
	// Apply computes y = A x.
	Apply(x, y *linalg.BlockVector)
	// ApplyScaleAdd computes y += alpha A x.
	ApplyScaleAdd(alpha float64, x, y *linalg.BlockVector)
	Category() Category
}

// AssembledLinearOperator is a linear operator backed by a stored matrix.
type AssembledLinearOperator interface {
	LinearOperator
	Matrix() *linalg.Matrix
}

// ScalarProduct computes inner products and norms, globally reduced if distributed.
type ScalarProduct interface {
	Dot(x, y *linalg.BlockVector) float64
	Norm(x *linalg.BlockVector) float64
	Category() Category
}

// Preconditioner approximately inverts an operator.
type Preconditioner interface {
	// Pre is called once before the iteration with the initial guess and right hand side.
	Pre(x, b *linalg.BlockVector)
	// Apply computes v ≈ A⁻¹ d. v is zero on entry.
	Apply(v, d *linalg.BlockVector)
	// Post is called once after the iteration with the final iterate.
	Post(x *linalg.BlockVector)
	Category() Category
}

// InverseOperator solves A x = b. It overwrites b with the final defect.
type InverseOperator interface {
	Apply(x, b *linalg.BlockVector) (Result, error)
}

// Result summarizes one linear solve.
type Result struct {
	Converged  bool
	Iterations int
	Elapsed    time.Duration
	Reduction  float64 // Achieved defect reduction ‖d_final‖/‖d_0‖
	ConvRate   float64 // Average reduction per iteration
}

// Kind selects a Krylov method.
type Kind int

const (
	CG Kind = iota
	BiCGSTAB
)

func (k Kind) String() string {
	switch k {
	case CG:
		return "CG"
	case BiCGSTAB:
		return "BiCGSTAB"
	}
	return "unknown"
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "cg", "CG":
		return CG, nil
	case "bicgstab", "bcgs", "BiCGSTAB":
		return BiCGSTAB, nil
	}
	return 0, fmt.Errorf("krylov: unknown solver %q", name)
}

// breakdownLimit is the magnitude below which a recurrence denominator counts as zero.
const breakdownLimit = 1e-300

// zeroDefect is the absolute defect below which a system counts as already solved.
const zeroDefect = 1e-30
