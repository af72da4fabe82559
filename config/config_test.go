package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/ovlpsolver/amg"
	"github.com/notargets/ovlpsolver/comm"
	"github.com/notargets/ovlpsolver/linalg"
	"github.com/notargets/ovlpsolver/logging"
	"github.com/notargets/ovlpsolver/ovlp"
	"github.com/notargets/ovlpsolver/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendAMG, cfg.Backend)
	assert.Equal(t, 5000, cfg.MaxIter)
	assert.Equal(t, 1e-99, cfg.Stationary.MinDefect)

	p := cfg.AMGParameters()
	assert.Equal(t, amg.DefaultParameters(2), p)
}

func TestParseOverridesDefaults(t *testing.T) {
	yamlConfig := `
backend: ovlp-exact
solver: bicgstab
steps: 3
exact:
  solver: cholesky
  restricted: true
amg:
  dim: 1
  coarsen_target: 10
stationary:
  reduction: 1.0e-8
`
	cfg, err := Parse([]byte(yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, BackendExact, cfg.Backend)
	assert.Equal(t, "bicgstab", cfg.Solver)
	assert.Equal(t, "ssor", cfg.Smoother)
	assert.Equal(t, 3, cfg.Steps)
	assert.True(t, cfg.Exact.Restricted)
	assert.Equal(t, "cholesky", cfg.Exact.Solver)
	assert.Equal(t, 10, cfg.AMG.CoarsenTarget)
	assert.Equal(t, 15, cfg.AMG.MaxLevel)
	assert.Equal(t, 1e-8, cfg.Stationary.Reduction)

	p := cfg.AMGParameters()
	assert.Equal(t, 3, p.MaxAggregateSize)
	assert.Equal(t, 10, p.CoarsenTarget)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"backend":   "backend: superlu",
		"solver":    "solver: gmres",
		"smoother":  "smoother: ilu0",
		"max_iter":  "max_iter: 0",
		"dim":       "amg:\n  dim: 4",
		"damping":   "amg:\n  prolongation_damping: 2.5",
		"reduction": "stationary:\n  reduction: 2",
		"yaml":      "backend: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
	_, err := Parse([]byte("max_iter: -3"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.yaml")
	cfg := Default()
	cfg.Backend = BackendSSORk
	data, err := cfg.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	b := linalg.NewBuilder(6, 1)
	for i := 0; i < 6; i++ {
		b.Set(i, i, 2)
		if i > 0 {
			b.Set(i, i-1, -1)
		}
		if i < 5 {
			b.Set(i, i+1, -1)
		}
	}
	a := b.Build()
	layout, err := partitions.NewPartitionLayout(make([]int, 6), 1)
	require.NoError(t, err)
	subs, err := partitions.BuildSubdomains(layout, partitions.NewDOFGraph(a), 0, 1)
	require.NoError(t, err)
	helper, err := partitions.NewParallelHelper(comm.Serial(), subs[0])
	require.NoError(t, err)

	for _, kind := range []string{BackendAMG, BackendSSORk, BackendExact, BackendExplicitDiagonal} {
		cfg := Default()
		cfg.Backend = kind
		backend, err := cfg.NewBackend(helper, linalg.Constraints{}, WithLogger(logging.Discard()))
		require.NoError(t, err, kind)
		switch kind {
		case BackendAMG:
			assert.IsType(t, &amg.Backend{}, backend)
		case BackendSSORk:
			assert.IsType(t, &ovlp.SSORkBackend{}, backend)
		case BackendExact:
			assert.IsType(t, &ovlp.ExactBackend{}, backend)
		case BackendExplicitDiagonal:
			assert.IsType(t, &ovlp.ExplicitDiagonalBackend{}, backend)
		}

		if kind == BackendExplicitDiagonal {
			continue
		}
		z := linalg.NewBlockVector(6, 1)
		r := linalg.NewBlockVectorFrom([]float64{1, 0, 0, 0, 0, 1}, 1)
		res, err := backend.Apply(a, z, r, 1e-10)
		require.NoError(t, err, kind)
		assert.True(t, res.Converged, kind)
		assert.InDeltaSlice(t, []float64{1, 1, 1, 1, 1, 1}, z.Data, 1e-8, kind)
	}

	cfg := Default()
	cfg.Backend = BackendExact
	cfg.Exact.Solver = "pardiso"
	_, err = cfg.NewBackend(helper, nil, WithLogger(logging.Discard()))
	assert.ErrorIs(t, err, ovlp.ErrExactSolverUnavailable)
}
