// Package stationary solves linear stationary problems: it assembles the
// matrix and residual, picks a reduction target and applies one correction
// computed by a linear solver backend.
package stationary

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/logging"
	"github.com/notargets/ovlpsolver/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMinDefect is the default absolute defect floor
const DefaultMinDefect = 1e-99

// Assembler evaluates the discrete problem on one rank.
type Assembler interface {
	Comm() comm.Communicator
	// Jacobian assembles the local matrix at x. Owned and overlap rows must be
	// complete, constrained rows are identity.
	Jacobian(x *linalg.BlockVector) (*linalg.Matrix, error)
	// Residual stores r = A x - b, zero at constrained DOFs.
	Residual(x, r *linalg.BlockVector) error
	// NewVector returns a zero vector of the local size.
	NewVector() *linalg.BlockVector
}

// LinearSolver computes corrections
type LinearSolver interface {
	Apply(a *linalg.Matrix, z, r *linalg.BlockVector, reduction float64) (krylov.Result, error)
	Norm(v *linalg.BlockVector) float64
}

// Result describes the last call to Apply
type Result struct {
	krylov.Result

	Defect          float64 // Defect norm before the solve
	TargetReduction float64 // Reduction requested from the linear solver

	// Slowest rank's time per phase
	AssemblyTime time.Duration
	ResidualTime time.Duration
	SolveTime    time.Duration
}

// LinearProblemSolver drives one linear solve of a stationary problem
type LinearProblemSolver struct {
	assembler Assembler
	ls        LinearSolver
	reduction float64
	minDefect float64

	logger  *slog.Logger
	metrics metrics.Collector
	tracer  trace.Tracer

	result Result
}

// Option configures a LinearProblemSolver
type Option func(*LinearProblemSolver)

// WithMinDefect sets the absolute defect floor
func WithMinDefect(minDefect float64) Option {
	return func(s *LinearProblemSolver) { s.minDefect = minDefect }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *LinearProblemSolver) { s.logger = l }
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *LinearProblemSolver) { s.metrics = metrics.OrNop(m) }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *LinearProblemSolver) { s.tracer = t }
}

// NewLinearProblemSolver creates a solver reducing the defect by reduction
func NewLinearProblemSolver(assembler Assembler, ls LinearSolver, reduction float64, opts ...Option) (*LinearProblemSolver, error) {
	if !(reduction > 0) {
		return nil, fmt.Errorf("stationary: reduction must be positive, got %g", reduction)
	}
	s := &LinearProblemSolver{
		assembler: assembler,
		ls:        ls,
		reduction: reduction,
		minDefect: DefaultMinDefect,
		metrics:   metrics.NewNop(),
		tracer:    otel.Tracer("ovlpsolver.stationary"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !(s.minDefect > 0) {
		return nil, fmt.Errorf("stationary: minimum defect must be positive, got %g", s.minDefect)
	}
	s.logger = logging.ForRank(s.logger, assembler.Comm().Rank())
	return s, nil
}

// TargetReduction returns the reduction asked of the linear solver: the
// requested one, tightened to defect/minDefect when that is smaller.
func TargetReduction(reduction, defect, minDefect float64) float64 {
	return math.Min(reduction, defect/minDefect)
}

// Apply assembles the problem at x, solves for the correction and subtracts
// it from x. Non-convergence is reported through Result, not as an error.
// It is collective.
func (s *LinearProblemSolver) Apply(ctx context.Context, x *linalg.BlockVector) error {
	c := s.assembler.Comm()
	ctx, span := s.tracer.Start(ctx, "stationary.Apply",
		trace.WithAttributes(
			attribute.Int("rank", c.Rank()),
			attribute.Float64("reduction", s.reduction),
		),
	)
	defer span.End()

	s.result = Result{}

	// Assemble matrix
	start := time.Now()
	_, phase := s.tracer.Start(ctx, "stationary.Jacobian")
	a, err := s.assembler.Jacobian(x)
	phase.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "matrix assembly failed")
		return fmt.Errorf("stationary: assembling matrix: %w", err)
	}
	s.result.AssemblyTime = s.maxTime(start)
	s.logger.Info("matrix assembly", "max", s.result.AssemblyTime)

	// Assemble residual
	start = time.Now()
	_, phase = s.tracer.Start(ctx, "stationary.Residual")
	r := s.assembler.NewVector()
	err = s.assembler.Residual(x, r)
	phase.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "residual assembly failed")
		return fmt.Errorf("stationary: assembling residual: %w", err)
	}
	s.result.ResidualTime = s.maxTime(start)
	s.logger.Info("residual assembly", "max", s.result.ResidualTime)

	defect := s.ls.Norm(r)
	red := TargetReduction(s.reduction, defect, s.minDefect)
	s.result.Defect = defect
	s.result.TargetReduction = red
	if c.Rank() == 0 {
		s.metrics.RecordDefect(defect)
	}
	span.SetAttributes(attribute.Float64("defect", defect), attribute.Float64("target_reduction", red))

	// Compute correction
	start = time.Now()
	_, phase = s.tracer.Start(ctx, "stationary.Solve")
	z := s.assembler.NewVector()
	res, err := s.ls.Apply(a, z, r, red)
	phase.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "linear solve failed")
		return fmt.Errorf("stationary: linear solve: %w", err)
	}
	s.result.Result = res
	s.result.SolveTime = s.maxTime(start)
	s.logger.Info("solving", "reduction", red, "defect", defect, "converged", res.Converged,
		"iterations", res.Iterations, "max", s.result.SolveTime)
	span.SetAttributes(attribute.Bool("converged", res.Converged), attribute.Int("iterations", res.Iterations))

	// Update
	x.Sub(z)
	return nil
}

// Result returns the record of the last Apply
func (s *LinearProblemSolver) Result() Result { return s.result }

func (s *LinearProblemSolver) maxTime(start time.Time) time.Duration {
	elapsed := s.assembler.Comm().Max(time.Since(start).Seconds())
	return time.Duration(elapsed * float64(time.Second))
}
