package ovlp

import (
	"fmt"
	"log/slog"

	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/logging"
	"github.com/notargets/ovlpsolver/metrics"
	"github.com/notargets/ovlpsolver/partitions"
)

// Backend solves the linear systems of a nonlinear or stationary solver.
type Backend interface {
	// Apply solves A z = r to the relative defect reduction given. z holds the
	// initial guess on entry. r may be overwritten.
	Apply(a *linalg.Matrix, z, r *linalg.BlockVector, reduction float64) (krylov.Result, error)
	// Norm returns the global norm of a consistent vector.
	Norm(v *linalg.BlockVector) float64
}

// Options configures the overlapping backends
type Options struct {
	Solver      krylov.Kind
	Smoother    krylov.SmootherKind // Sequential smoother of the SSORk backend
	Steps       int                 // Smoother sweeps per preconditioner application
	MaxIter     int
	Verbose     int
	ExactSolver string // Registered exact solver of the exact backend
	Restricted  bool   // Use restricted additive Schwarz in the exact backend
	Logger      *slog.Logger
	Metrics     metrics.Collector
}

// DefaultOptions returns BiCGSTAB with 5 SSOR sweeps, at most 5000 iterations and summary output
func DefaultOptions() Options {
	return Options{
		Solver:      krylov.BiCGSTAB,
		Smoother:    krylov.SSOR,
		Steps:       5,
		MaxIter:     5000,
		Verbose:     1,
		ExactSolver: "lu",
	}
}

// ovlpBase holds what every overlapping backend shares
type ovlpBase struct {
	name    string
	helper  *partitions.ParallelHelper
	cc      linalg.Constraints
	opts    Options
	logger  *slog.Logger
	metrics metrics.Collector
}

func newBase(name string, helper *partitions.ParallelHelper, cc linalg.Constraints, opts Options) ovlpBase {
	rank := helper.Comm().Rank()
	if rank != 0 {
		opts.Verbose = 0
	}
	b := ovlpBase{
		name:    name,
		helper:  helper,
		cc:      cc,
		opts:    opts,
		logger:  logging.ForRank(opts.Logger, rank).With("backend", name),
		metrics: metrics.OrNop(opts.Metrics),
	}
	b.logger.Debug("subdomain", "blocks", helper.Subdomain().N(), "neighbors", helper.Neighbors())
	return b
}

// Norm returns the global norm of a consistent vector
func (b *ovlpBase) Norm(v *linalg.BlockVector) float64 {
	return NewOverlappingScalarProduct(b.helper).Norm(v)
}

// solve runs the configured Krylov method with the overlapping operator and scalar product
func (b *ovlpBase) solve(a *linalg.Matrix, z, r *linalg.BlockVector, reduction float64,
	prec krylov.Preconditioner) (krylov.Result, error) {
	linalg.SetConstrainedDOFs(b.cc, 0, r)
	op := NewOverlappingOperator(b.cc, a)
	sp := NewOverlappingScalarProduct(b.helper)
	solver, err := krylov.NewSolver(b.opts.Solver, op, sp, prec, krylov.Settings{
		Reduction: reduction,
		MaxIter:   b.opts.MaxIter,
		Verbose:   b.opts.Verbose,
		Logger:    b.logger,
	})
	if err != nil {
		return krylov.Result{}, err
	}
	res, err := solver.Apply(z, r)
	if err != nil {
		return res, err
	}
	if b.helper.Comm().Rank() == 0 {
		b.metrics.RecordSolve(b.name, res.Converged, res.Iterations, res.Elapsed, res.Reduction)
	}
	return res, nil
}

// SSORkBackend is a Krylov solver preconditioned by a few sweeps of a
// sequential relaxation on each subdomain, summed over the overlap.
type SSORkBackend struct {
	ovlpBase
}

// NewSSORkBackend creates the relaxation-preconditioned overlapping backend
func NewSSORkBackend(helper *partitions.ParallelHelper, cc linalg.Constraints, opts Options) (*SSORkBackend, error) {
	if opts.Steps < 1 {
		return nil, fmt.Errorf("ovlp: smoother steps must be positive, got %d", opts.Steps)
	}
	name := fmt.Sprintf("ovlp-%v-%vk", opts.Solver, opts.Smoother)
	return &SSORkBackend{ovlpBase: newBase(name, helper, cc, opts)}, nil
}

// Apply solves A z = r
func (b *SSORkBackend) Apply(a *linalg.Matrix, z, r *linalg.BlockVector, reduction float64) (krylov.Result, error) {
	seq, err := krylov.NewSmoother(b.opts.Smoother, a, b.opts.Steps, 1)
	if err != nil {
		return krylov.Result{}, fmt.Errorf("rank %d: %w", b.helper.Comm().Rank(), err)
	}
	prec := NewOverlappingWrappedPreconditioner(b.helper, b.cc, seq)
	return b.solve(a, z, r, reduction, prec)
}

// ExactBackend is a Krylov solver preconditioned by exact subdomain solves.
type ExactBackend struct {
	ovlpBase
}

// NewExactBackend creates the exact-subdomain overlapping backend. It refuses
// to run when the requested exact solver is not registered.
func NewExactBackend(helper *partitions.ParallelHelper, cc linalg.Constraints, opts Options) (*ExactBackend, error) {
	kind := "unrestricted"
	if opts.Restricted {
		kind = "restricted"
	}
	name := fmt.Sprintf("ovlp-%v-%s-%s", opts.Solver, kind, opts.ExactSolver)
	b := &ExactBackend{ovlpBase: newBase(name, helper, cc, opts)}
	if !ExactSolverAvailable(opts.ExactSolver) {
		b.logger.Error("no exact subdomain solver available, register one or pick another backend",
			"requested", opts.ExactSolver, "registered", ExactSolverNames())
		return nil, fmt.Errorf("%w: %q", ErrExactSolverUnavailable, opts.ExactSolver)
	}
	return b, nil
}

// Apply solves A z = r
func (b *ExactBackend) Apply(a *linalg.Matrix, z, r *linalg.BlockVector, reduction float64) (krylov.Result, error) {
	var prec *SubdomainSolver
	var err error
	if b.opts.Restricted {
		prec, err = NewRestrictedSubdomainSolver(b.helper, a, b.opts.ExactSolver)
	} else {
		prec, err = NewSubdomainSolver(b.helper, a, b.opts.ExactSolver)
	}
	if err != nil {
		return krylov.Result{}, err
	}
	return b.solve(a, z, r, reduction, prec)
}

var (
	_ Backend = (*SSORkBackend)(nil)
	_ Backend = (*ExactBackend)(nil)
	_ Backend = (*ExplicitDiagonalBackend)(nil)
)
