// Package config provides unified configuration loading for cellsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cellsim/internal/blob"
	"github.com/nvandessel/cellsim/internal/cellcycle"
	"github.com/nvandessel/cellsim/internal/force"
	"github.com/nvandessel/cellsim/internal/killer"
	"github.com/nvandessel/cellsim/internal/ode"
	"github.com/nvandessel/cellsim/internal/output"
	"github.com/nvandessel/cellsim/internal/population"
	"github.com/nvandessel/cellsim/internal/tissue"
)

// EnvConfig names the variable holding an explicit config file path.
const EnvConfig = "CELLSIM_CONFIG"

// Config contains all cellsim configuration settings.
type Config struct {
	// Simulation controls time stepping and sampling.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Tissue describes the initial cells and the spatial structure.
	Tissue tissue.Spec `json:"tissue" yaml:"tissue"`

	// CellCycle selects the cell-cycle model.
	CellCycle CellCycleConfig `json:"cell_cycle" yaml:"cell_cycle"`

	// Mechanics configures the force law and the node integrator.
	Mechanics MechanicsConfig `json:"mechanics" yaml:"mechanics"`

	// Apoptosis configures programmed cell death.
	Apoptosis ApoptosisConfig `json:"apoptosis" yaml:"apoptosis"`

	// Boundary configures the position corrections after mechanics.
	Boundary population.Boundary `json:"boundary" yaml:"boundary"`

	// Killers are applied in order every step.
	Killers []killer.Spec `json:"killers,omitempty" yaml:"killers,omitempty"`

	// Output selects where sampled results go.
	Output OutputConfig `json:"output" yaml:"output"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Ensemble configures batches of independently seeded runs.
	Ensemble EnsembleConfig `json:"ensemble" yaml:"ensemble"`
}

// SimulationConfig controls the time loop.
type SimulationConfig struct {
	// Seed seeds the run's random source. Ensemble run i uses Seed+i.
	Seed uint64 `json:"seed" yaml:"seed"`

	// StartTime and EndTime bound the simulated interval in hours.
	StartTime float64 `json:"start_time" yaml:"start_time"`
	EndTime   float64 `json:"end_time" yaml:"end_time"`

	// Dt is the step length in hours.
	Dt float64 `json:"dt" yaml:"dt"`

	// SamplingMultiple writes results every n-th step.
	SamplingMultiple int `json:"sampling_multiple" yaml:"sampling_multiple"`

	// SkipValidation disables the per-step cell/location check.
	SkipValidation bool `json:"skip_validation,omitempty" yaml:"skip_validation,omitempty"`

	// BottomAncestorHeight, when positive, gives each cell below this
	// height on the floor axis its own ancestor before the first step.
	BottomAncestorHeight float64 `json:"bottom_ancestor_height,omitempty" yaml:"bottom_ancestor_height,omitempty"`
}

// CellCycleConfig selects and parameterises the cell-cycle model.
type CellCycleConfig struct {
	// Model is "fixed", "stochastic" or "tyson_novak".
	Model  string           `json:"model" yaml:"model"`
	Params cellcycle.Params `json:"params" yaml:"params"`

	// Solver is the ODE integrator for ODE-based models:
	// "backward_euler" (default), "rk4" or "rkf45".
	Solver string `json:"solver,omitempty" yaml:"solver,omitempty"`

	// DivisionMode is how ODE state is split at division:
	// "auto" (default), "halve" or "reset".
	DivisionMode string `json:"division_mode,omitempty" yaml:"division_mode,omitempty"`
}

// MechanicsConfig configures the force law and the node integrator.
type MechanicsConfig struct {
	// Force is "linear_spring" (default) or "repulsion".
	Force  string             `json:"force" yaml:"force"`
	Spring force.SpringParams `json:"spring" yaml:"spring"`

	// Damping is the drag on wild-type cells, MutantDamping on mutants.
	Damping       float64 `json:"damping" yaml:"damping"`
	MutantDamping float64 `json:"mutant_damping" yaml:"mutant_damping"`

	// MaxPlacementAttempts bounds daughter placement retries.
	MaxPlacementAttempts int `json:"max_placement_attempts,omitempty" yaml:"max_placement_attempts,omitempty"`
}

// ApoptosisConfig configures programmed cell death.
type ApoptosisConfig struct {
	// Duration is the time in hours from the start of apoptosis to death.
	Duration float64 `json:"duration" yaml:"duration"`
}

// OutputConfig selects result sinks and artefact upload.
type OutputConfig struct {
	// Dir receives result files and the event log. Runs of an ensemble
	// write to Dir/<run id>.
	Dir string `json:"dir" yaml:"dir"`

	// Formats lists result sinks: text, sqlite, arrow, postgres.
	Formats []string `json:"formats" yaml:"formats"`

	// PostgresDSN is the connection string for the postgres sink.
	// Supports ${VAR} syntax for env vars.
	PostgresDSN string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`

	// Upload, when its driver is set, receives the result files of every
	// finished run.
	Upload blob.Config `json:"upload,omitempty" yaml:"upload,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// LoggingConfig configures cellsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", "trace",
	// "warn" or "error". Per-step progress is logged at trace.
	Level string `json:"level" yaml:"level"`

	// Events writes division and death events to <output dir>/events.jsonl.
	Events bool `json:"events" yaml:"events"`
}

// EnsembleConfig configures batches of independently seeded runs.
type EnsembleConfig struct {
	Runs int `json:"runs" yaml:"runs"`
	// Parallelism bounds concurrent runs; zero means one per CPU.
	Parallelism int `json:"parallelism" yaml:"parallelism"`
}

// Default returns a Config with sensible defaults: a small honeycomb crypt
// base on fixed-duration cycles, run for one day.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Seed:             1,
			EndTime:          24,
			Dt:               1.0 / 120,
			SamplingMultiple: 60,
		},
		Tissue: tissue.DefaultSpec(),
		CellCycle: CellCycleConfig{
			Model:        cellcycle.KindFixed,
			Params:       cellcycle.DefaultParams(),
			Solver:       "backward_euler",
			DivisionMode: "auto",
		},
		Mechanics: MechanicsConfig{
			Force:         "linear_spring",
			Spring:        force.DefaultSpringParams(),
			Damping:       1,
			MutantDamping: 2,
		},
		Apoptosis: ApoptosisConfig{Duration: 0.25},
		Output: OutputConfig{
			Dir:     "results",
			Formats: []string{output.FormatText},
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464"},
		Logging: LoggingConfig{Level: "info"},
		Ensemble: EnsembleConfig{
			Runs: 1,
		},
	}
}

// Path returns the config file Load reads: $CELLSIM_CONFIG, or
// ~/.cellsim/config.yaml.
func Path() (string, error) {
	if v := os.Getenv(EnvConfig); v != "" {
		return v, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cellsim", "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> $CELLSIM_CONFIG or ~/.cellsim/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	configPath, err := Path()
	if err == nil {
		_, statErr := os.Stat(configPath)
		explicit := os.Getenv(EnvConfig) != ""
		if statErr == nil || explicit {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(config)

	return config, nil
}

// LoadPath is Load with an explicit file. An empty path behaves like Load.
func LoadPath(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Fields the
// file leaves out keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Expand environment variables in secrets and paths
	config.Output.PostgresDSN = expandEnvVars(config.Output.PostgresDSN)
	config.Output.Dir = expandEnvVars(config.Output.Dir)
	config.Output.Upload.Root = expandEnvVars(config.Output.Upload.Root)

	return config, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid. A missing neighbour
// cutoff is not an error here: it fails when the first neighbour search
// needs it.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %g", s.Dt)
	}
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("end_time (%g) must be after start_time (%g)", s.EndTime, s.StartTime)
	}
	if s.SamplingMultiple < 0 {
		return fmt.Errorf("sampling_multiple must be non-negative, got %d", s.SamplingMultiple)
	}
	if s.BottomAncestorHeight < 0 {
		return fmt.Errorf("bottom_ancestor_height must be non-negative, got %g", s.BottomAncestorHeight)
	}

	if err := c.Tissue.Validate(); err != nil {
		return fmt.Errorf("tissue: %w", err)
	}

	validModels := map[string]bool{cellcycle.KindFixed: true, cellcycle.KindStochastic: true, cellcycle.KindTysonNovak: true}
	if !validModels[c.CellCycle.Model] {
		return fmt.Errorf("invalid cell cycle model: %s (valid: fixed, stochastic, tyson_novak)", c.CellCycle.Model)
	}
	if c.CellCycle.Model != cellcycle.KindTysonNovak {
		if err := c.CellCycle.Params.Validate(); err != nil {
			return fmt.Errorf("cell_cycle: %w", err)
		}
	}
	if _, err := ode.New(c.CellCycle.Solver); err != nil {
		return fmt.Errorf("cell_cycle: %w", err)
	}
	if _, err := cellcycle.ParseDivisionMode(c.CellCycle.DivisionMode); err != nil {
		return fmt.Errorf("cell_cycle: %w", err)
	}

	if _, err := force.New(c.Mechanics.Force, c.Mechanics.Spring); err != nil {
		return fmt.Errorf("mechanics: %w", err)
	}
	if c.Mechanics.Damping <= 0 || c.Mechanics.MutantDamping <= 0 {
		return fmt.Errorf("damping must be positive (damping %g, mutant_damping %g)", c.Mechanics.Damping, c.Mechanics.MutantDamping)
	}
	if c.Mechanics.MaxPlacementAttempts < 0 {
		return fmt.Errorf("max_placement_attempts must be non-negative, got %d", c.Mechanics.MaxPlacementAttempts)
	}

	if c.Apoptosis.Duration < 0 {
		return fmt.Errorf("apoptosis duration must be non-negative, got %g", c.Apoptosis.Duration)
	}
	if err := c.Boundary.Floor.Validate(c.Tissue.Dim); err != nil {
		return fmt.Errorf("boundary: %w", err)
	}
	for i, ks := range c.Killers {
		if _, err := killer.New(ks); err != nil {
			return fmt.Errorf("killers[%d]: %w", i, err)
		}
	}

	for _, f := range c.Output.Formats {
		if !output.ValidFormat(f) {
			return fmt.Errorf("invalid output format: %s (valid: text, sqlite, arrow, postgres)", f)
		}
		if f == output.FormatPostgres && c.Output.PostgresDSN == "" {
			return fmt.Errorf("output format postgres needs postgres_dsn")
		}
	}
	if len(c.Output.Formats) > 0 && c.Output.Dir == "" {
		return fmt.Errorf("output dir is required when formats are set")
	}
	validDrivers := map[blob.Driver]bool{"": true, blob.DriverFilesystem: true, blob.DriverS3: true, blob.DriverMemory: true}
	if !validDrivers[c.Output.Upload.Driver] {
		return fmt.Errorf("invalid upload driver: %s (valid: fs, s3, memory, or empty)", c.Output.Upload.Driver)
	}
	if c.Output.Upload.Driver == blob.DriverS3 && c.Output.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload driver s3 needs a bucket")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: trace, debug, info, warn, error, or empty for default)", c.Logging.Level)
	}

	if c.Ensemble.Runs < 1 {
		return fmt.Errorf("ensemble runs must be at least 1, got %d", c.Ensemble.Runs)
	}
	if c.Ensemble.Parallelism < 0 {
		return fmt.Errorf("ensemble parallelism must be non-negative, got %d", c.Ensemble.Parallelism)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CELLSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}

	if v := os.Getenv("CELLSIM_END_TIME"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.EndTime = f
		}
	}

	if v := os.Getenv("CELLSIM_DT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.Dt = f
		}
	}

	if v := os.Getenv("CELLSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("CELLSIM_OUTPUT_DIR"); v != "" {
		config.Output.Dir = v
	}

	if v := os.Getenv("CELLSIM_POSTGRES_DSN"); v != "" {
		config.Output.PostgresDSN = v
	}

	// A bucket alone is enough to switch uploads to S3.
	if v := os.Getenv("CELLSIM_S3_BUCKET"); v != "" {
		config.Output.Upload.S3.Bucket = v
		if config.Output.Upload.Driver == "" {
			config.Output.Upload.Driver = blob.DriverS3
		}
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
