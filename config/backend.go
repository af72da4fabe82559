package config

import (
	"fmt"
	"log/slog"

	"github.com/notargets/ovlpsolver/amg"
	"github.com/notargets/ovlpsolver/krylov"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/metrics"
	"github.com/notargets/ovlpsolver/ovlp"
	"github.com/notargets/ovlpsolver/partitions"
)

type backendOptions struct {
	logger  *slog.Logger
	metrics metrics.Collector
}

// BackendOption configures NewBackend
type BackendOption func(*backendOptions)

func WithLogger(l *slog.Logger) BackendOption {
	return func(o *backendOptions) { o.logger = l }
}

func WithMetrics(m metrics.Collector) BackendOption {
	return func(o *backendOptions) { o.metrics = m }
}

// AMGParameters returns the coarsening parameters of the configuration
func (c *Config) AMGParameters() amg.Parameters {
	p := amg.DefaultParameters(c.AMG.Dim)
	p.MaxLevel = c.AMG.MaxLevel
	p.CoarsenTarget = c.AMG.CoarsenTarget
	p.MinCoarsenRate = c.AMG.MinCoarsenRate
	p.Alpha = c.AMG.Alpha
	p.Beta = c.AMG.Beta
	p.ProlongationDamping = c.AMG.ProlongationDamping
	return p
}

// NewBackend builds the configured backend for one rank. cc holds the
// constrained local DOFs, front and boundary, used by the overlapping backends.
func (c *Config) NewBackend(helper *partitions.ParallelHelper, cc linalg.Constraints, opts ...BackendOption) (ovlp.Backend, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var o backendOptions
	for _, opt := range opts {
		opt(&o)
	}
	kind, err := krylov.ParseKind(c.Solver)
	if err != nil {
		return nil, err
	}
	smoother, err := krylov.ParseSmootherKind(c.Smoother)
	if err != nil {
		return nil, err
	}

	switch c.Backend {
	case BackendAMG:
		ao := amg.DefaultOptions(c.AMG.Dim)
		ao.Solver = kind
		ao.Smoother = smoother
		if c.Steps > 0 {
			ao.SmoothSteps = c.Steps
		}
		ao.MaxIter = c.MaxIter
		ao.Verbose = c.Verbose
		ao.Parameters = c.AMGParameters()
		ao.Logger = o.logger
		ao.Metrics = o.metrics
		return amg.NewBackend(helper, ao)

	case BackendSSORk, BackendExact:
		oo := ovlp.DefaultOptions()
		oo.Solver = kind
		oo.Smoother = smoother
		if c.Steps > 0 {
			oo.Steps = c.Steps
		}
		oo.MaxIter = c.MaxIter
		oo.Verbose = c.Verbose
		oo.ExactSolver = c.Exact.Solver
		oo.Restricted = c.Exact.Restricted
		oo.Logger = o.logger
		oo.Metrics = o.metrics
		if c.Backend == BackendSSORk {
			return ovlp.NewSSORkBackend(helper, cc, oo)
		}
		return ovlp.NewExactBackend(helper, cc, oo)

	case BackendExplicitDiagonal:
		return ovlp.NewExplicitDiagonalBackend(helper), nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
}
