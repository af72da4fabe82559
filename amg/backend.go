package amg

import (
	"fmt"
	"log/slog"

	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/logging"
	"github.com/notargets/ovlpsolver/metrics"
	"github.com/notargets/ovlpsolver/ovlp"
	"github.com/notargets/ovlpsolver/partitions"
)

// Options configures the AMG backend
type Options struct {
	Solver      krylov.Kind
	Smoother    krylov.SmootherKind
	SmoothSteps int // Pre- and post-smoothing steps per level
	MaxIter     int
	Verbose     int
	Parameters  Parameters
	Logger      *slog.Logger
	Metrics     metrics.Collector
}

// DefaultOptions returns CG preconditioned by AMG with two SSOR steps
func DefaultOptions(dim int) Options {
	return Options{
		Solver:      krylov.CG,
		Smoother:    krylov.SSOR,
		SmoothSteps: 2,
		MaxIter:     5000,
		Verbose:     1,
		Parameters:  DefaultParameters(dim),
	}
}

// Backend runs a Krylov method preconditioned by one AMG V-cycle. The
// hierarchy is rebuilt from the matrix on every call to Apply.
type Backend struct {
	name    string
	helper  *partitions.ParallelHelper
	opts    Options
	logger  *slog.Logger
	metrics metrics.Collector
	sp      *ovlp.OverlappingScalarProduct
}

func NewBackend(helper *partitions.ParallelHelper, opts Options) (*Backend, error) {
	if err := opts.Parameters.Validate(); err != nil {
		return nil, err
	}
	if opts.SmoothSteps < 1 {
		return nil, fmt.Errorf("amg: smoothing steps must be positive, got %d", opts.SmoothSteps)
	}
	rank := helper.Comm().Rank()
	if rank != 0 {
		opts.Verbose = 0
	}
	name := fmt.Sprintf("amg-%v-%v", opts.Solver, opts.Smoother)
	return &Backend{
		name:    name,
		helper:  helper,
		opts:    opts,
		logger:  logging.ForRank(opts.Logger, rank).With("backend", name),
		metrics: metrics.OrNop(opts.Metrics),
		sp:      ovlp.NewOverlappingScalarProduct(helper),
	}, nil
}

// Apply solves A z = r where a is the local matrix with complete owned rows.
// z is made consistent, r is overwritten.
func (b *Backend) Apply(a *linalg.Matrix, z, r *linalg.BlockVector, reduction float64) (krylov.Result, error) {
	ap, ooc, err := b.helper.CreateIndexSetAndProjectForAMG(a)
	if err != nil {
		return krylov.Result{}, err
	}
	h, err := BuildHierarchy(ap, ooc, b.opts.Parameters)
	if err != nil {
		return krylov.Result{}, err
	}
	prec, err := NewAMG(h, b.opts.Smoother, b.opts.SmoothSteps)
	if err != nil {
		return krylov.Result{}, err
	}
	if b.opts.Verbose > 0 {
		sizes := make([]int, len(h.Levels))
		for l, lev := range h.Levels {
			sizes[l] = lev.GlobalSize()
		}
		b.logger.Info("AMG hierarchy built", "levels", len(h.Levels), "sizes", sizes)
	}
	if b.helper.Comm().Rank() == 0 {
		b.metrics.RecordHierarchy(len(h.Levels), h.Coarsest().GlobalSize())
	}

	solver, err := krylov.NewSolver(b.opts.Solver, NewSchwarzOperator(ap, ooc), NewSchwarzScalarProduct(ooc), prec,
		krylov.Settings{
			Reduction: reduction,
			MaxIter:   b.opts.MaxIter,
			Verbose:   b.opts.Verbose,
			Logger:    b.logger,
		})
	if err != nil {
		return krylov.Result{}, err
	}

	// The point level views share storage with the block vectors
	res, err := solver.Apply(linalg.NewBlockVectorFrom(z.Data, 1), linalg.NewBlockVectorFrom(r.Data, 1))
	if err != nil {
		return res, err
	}
	if b.helper.Comm().Rank() == 0 {
		b.metrics.RecordSolve(b.name, res.Converged, res.Iterations, res.Elapsed, res.Reduction)
	}
	return res, nil
}

// Norm returns the global norm of a consistent vector
func (b *Backend) Norm(v *linalg.BlockVector) float64 { return b.sp.Norm(v) }

var _ ovlp.Backend = (*Backend)(nil)
