package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/config"
	"github.com/notargets/ovlpsolver/logging"
	"github.com/notargets/ovlpsolver/metrics"
	"github.com/notargets/ovlpsolver/partitions"
	"github.com/notargets/ovlpsolver/problems"
	"github.com/notargets/ovlpsolver/stationary"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type solveFlags struct {
	problem     string
	n           int
	ranks       int
	overlap     int
	strategy    string
	configPath  string
	metricsAddr string
}

// report is what rank 0 learns about a finished solve
type report struct {
	Problem  string
	Backend  string
	Ranks    int
	Result   stationary.Result
	Residual float64 // Max-norm of the global residual
	MaxError float64 // Max-norm distance to the continuous solution
}

func newSolveCmd() *cobra.Command {
	f := solveFlags{}
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a reference problem on overlapping subdomains",
		Example: `  ovlpsolve solve --problem poisson1d --n 100 --ranks 4 --overlap 1
  ovlpsolve solve --problem laplace2d --n 33 --config solver.yaml --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if f.configPath != "" {
				var err error
				if cfg, err = config.LoadConfig(f.configPath); err != nil {
					return err
				}
			}

			var collector metrics.Collector = metrics.NewNop()
			if f.metricsAddr != "" {
				reg := prometheus.NewRegistry()
				collector = metrics.NewPrometheus(reg, "")
				srv := &http.Server{
					Addr:              f.metricsAddr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("metrics server stopped", "addr", f.metricsAddr, "error", err)
					}
				}()
				defer srv.Close()
			}

			rep, err := runSolve(cmd.Context(), f, cfg, collector, logging.New(os.Stderr, cfg.Verbose))
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.problem, "problem", "poisson1d", "Reference problem (poisson1d, laplace2d)")
	cmd.Flags().IntVar(&f.n, "n", 100, "Nodes per direction")
	cmd.Flags().IntVar(&f.ranks, "ranks", 4, "Number of ranks")
	cmd.Flags().IntVar(&f.overlap, "overlap", 1, "Overlap layers around each partition")
	cmd.Flags().StringVar(&f.strategy, "partition", "block", "Partitioning strategy (block, graph)")
	cmd.Flags().StringVar(&f.configPath, "config", "", "Solver configuration YAML file")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func buildProblem(name string, n int) (*problems.Problem, error) {
	switch name {
	case "poisson1d":
		return problems.Poisson1D(n)
	case "laplace2d":
		return problems.Laplace2D(n)
	}
	return nil, fmt.Errorf("unknown problem %q", name)
}

func parseStrategy(s string) (partitions.PartitionStrategy, error) {
	switch s {
	case "block":
		return partitions.BlockPartition, nil
	case "graph":
		return partitions.GraphPartition, nil
	}
	return 0, fmt.Errorf("unknown partitioning strategy %q", s)
}

func runSolve(ctx context.Context, f solveFlags, cfg *config.Config, collector metrics.Collector, logger *slog.Logger) (*report, error) {
	if cfg.Backend == config.BackendExplicitDiagonal {
		return nil, fmt.Errorf("%w: backend %s cannot measure defects and cannot drive a stationary solve",
			config.ErrInvalidConfig, cfg.Backend)
	}
	if f.ranks < 1 {
		return nil, fmt.Errorf("need at least one rank, got %d", f.ranks)
	}
	p, err := buildProblem(f.problem, f.n)
	if err != nil {
		return nil, err
	}
	strategy, err := parseStrategy(f.strategy)
	if err != nil {
		return nil, err
	}
	// Aggregate sizes follow the problem dimension
	cfg.AMG.Dim = p.Dim

	graph := partitions.NewDOFGraph(p.A)
	layout, err := (&partitions.PartitionBuilder{Graph: graph, NumPartitions: f.ranks, Strategy: strategy}).BuildPartitions()
	if err != nil {
		return nil, err
	}
	subs, err := partitions.BuildSubdomains(layout, graph, f.overlap, p.A.BlockSize())
	if err != nil {
		return nil, err
	}
	stats := layout.PartitionStatistics()
	logger.Info("partitioned", "problem", p.Name, "dofs", p.A.N(), "ranks", f.ranks,
		"overlap", f.overlap, "minDOFs", stats.MinDOFs, "maxDOFs", stats.MaxDOFs)

	rep := &report{Problem: p.Name, Backend: cfg.Backend, Ranks: f.ranks}
	var global []float64
	err = comm.Run(ctx, f.ranks, func(ctx context.Context, c comm.Communicator) error {
		sub := subs[c.Rank()]

		la, err := problems.NewLocalAssembler(c, sub, p)
		if err != nil {
			return err
		}
		helper, err := partitions.NewParallelHelper(c, sub, partitions.WithMetrics(collector))
		if err != nil {
			return err
		}
		ls, err := cfg.NewBackend(helper, la.Constraints(),
			config.WithLogger(logger), config.WithMetrics(collector))
		if err != nil {
			return err
		}
		s, err := stationary.NewLinearProblemSolver(la, ls, cfg.Stationary.Reduction,
			stationary.WithMinDefect(cfg.Stationary.MinDefect),
			stationary.WithLogger(logger),
			stationary.WithMetrics(collector))
		if err != nil {
			return err
		}
		x := la.InitialGuess()
		if err := s.Apply(ctx, x); err != nil {
			return err
		}
		g := sub.GatherGlobal(c, x)
		if c.Rank() == 0 {
			global = g
			rep.Result = s.Result()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, r := range p.Residual(global) {
		rep.Residual = math.Max(rep.Residual, math.Abs(r))
		rep.MaxError = math.Max(rep.MaxError, math.Abs(global[i]-p.Exact[i]))
	}
	return rep, nil
}

func printReport(w io.Writer, r *report) {
	res := r.Result
	fmt.Fprintf(w, "problem      %s\n", r.Problem)
	fmt.Fprintf(w, "backend      %s on %d ranks\n", r.Backend, r.Ranks)
	fmt.Fprintf(w, "converged    %v after %d iterations\n", res.Converged, res.Iterations)
	fmt.Fprintf(w, "defect       %.6e\n", res.Defect)
	fmt.Fprintf(w, "reduction    %.6e (target %.6e)\n", res.Reduction, res.TargetReduction)
	fmt.Fprintf(w, "conv. rate   %.6e\n", res.ConvRate)
	fmt.Fprintf(w, "assembly     %v\n", res.AssemblyTime)
	fmt.Fprintf(w, "residual     %v\n", res.ResidualTime)
	fmt.Fprintf(w, "solve        %v\n", res.SolveTime)
	fmt.Fprintf(w, "|A u - b|    %.6e\n", r.Residual)
	fmt.Fprintf(w, "|u - exact|  %.6e\n", r.MaxError)
}
