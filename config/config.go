// Package config loads solver configurations from YAML and turns them into
// linear solver backends.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Backend kinds
const (
	BackendAMG              = "amg"
	BackendSSORk            = "ovlp-ssork"
	BackendExact            = "ovlp-exact"
	BackendExplicitDiagonal = "explicit-diagonal"
)

// Config selects and tunes a linear solver backend and the stationary solve driving it.
type Config struct {
	Backend  string `yaml:"backend" validate:"required,oneof=amg ovlp-ssork ovlp-exact explicit-diagonal"`
	Solver   string `yaml:"solver" validate:"required,oneof=cg bicgstab"`
	Smoother string `yaml:"smoother" validate:"required,oneof=ssor sor jacobi"`
	MaxIter  int    `yaml:"max_iter" validate:"gte=1"`
	Steps    int    `yaml:"steps" validate:"gte=0"` // 0 selects the backend default
	Verbose  int    `yaml:"verbose" validate:"gte=0,lte=3"`

	Exact      ExactConfig      `yaml:"exact"`
	AMG        AMGConfig        `yaml:"amg"`
	Stationary StationaryConfig `yaml:"stationary"`
}

// ExactConfig configures the exact subdomain backend.
type ExactConfig struct {
	Solver     string `yaml:"solver" validate:"required"` // "lu", "cholesky" or a registered name
	Restricted bool   `yaml:"restricted"`
}

// AMGConfig configures coarsening.
type AMGConfig struct {
	Dim                 int     `yaml:"dim" validate:"gte=1,lte=3"`
	MaxLevel            int     `yaml:"max_level" validate:"gte=1"`
	CoarsenTarget       int     `yaml:"coarsen_target" validate:"gte=1"`
	MinCoarsenRate      float64 `yaml:"min_coarsen_rate" validate:"gt=1"`
	Alpha               float64 `yaml:"alpha" validate:"gt=0,lte=1"`
	Beta                float64 `yaml:"beta" validate:"gte=0"`
	ProlongationDamping float64 `yaml:"prolongation_damping" validate:"gt=0,lt=2"`
}

// StationaryConfig configures the stationary solve.
type StationaryConfig struct {
	Reduction float64 `yaml:"reduction" validate:"gt=0,lt=1"`
	MinDefect float64 `yaml:"min_defect" validate:"gt=0"`
}

var validate = validator.New()

// Default returns CG with AMG, two SSOR smoothing steps and a 1e-10 reduction
func Default() *Config {
	return &Config{
		Backend:  BackendAMG,
		Solver:   "cg",
		Smoother: "ssor",
		MaxIter:  5000,
		Verbose:  1,
		Exact:    ExactConfig{Solver: "lu"},
		AMG: AMGConfig{
			Dim:                 2,
			MaxLevel:            15,
			CoarsenTarget:       2000,
			MinCoarsenRate:      1.2,
			Alpha:               1.0 / 3,
			Beta:                1e-5,
			ProlongationDamping: 1.6,
		},
		Stationary: StationaryConfig{
			Reduction: 1e-10,
			MinDefect: 1e-99,
		},
	}
}

// LoadConfig loads configuration from a YAML file.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded configuration with defaults for every omitted field
//   - error: Error if the file cannot be read, parsed or validated
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field constraint
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Marshal encodes the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
