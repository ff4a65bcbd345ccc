package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/cellsim/internal/blob"
	"github.com/nvandessel/cellsim/internal/killer"
)

func TestDefault(t *testing.T) {
	config := Default()

	// Simulation defaults
	if config.Simulation.Seed != 1 {
		t.Errorf("expected Seed 1, got %d", config.Simulation.Seed)
	}
	if config.Simulation.EndTime != 24 {
		t.Errorf("expected EndTime 24, got %g", config.Simulation.EndTime)
	}
	if config.Simulation.SamplingMultiple != 60 {
		t.Errorf("expected SamplingMultiple 60, got %d", config.Simulation.SamplingMultiple)
	}

	// Cell cycle defaults
	if config.CellCycle.Model != "fixed" {
		t.Errorf("expected Model 'fixed', got '%s'", config.CellCycle.Model)
	}
	if config.CellCycle.Params.S != 5 || config.CellCycle.Params.G2 != 4 || config.CellCycle.Params.M != 1 {
		t.Errorf("unexpected phase durations: %+v", config.CellCycle.Params)
	}

	// Mechanics defaults
	if config.Mechanics.Spring.Stiffness != 15 {
		t.Errorf("expected spring stiffness 15, got %g", config.Mechanics.Spring.Stiffness)
	}

	// Logging defaults
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
simulation:
  seed: 42
  end_time: 4
  dt: 0.5
tissue:
  kind: node_based
  dim: 1
  cols: 1
  spacing: 1
  cutoff: 1.5
  stem_rows: 1
cell_cycle:
  model: stochastic
  params:
    stem_g1: 2
killers:
  - type: random
    probability: 0.01
  - type: sloughing
    height: 10
output:
  formats: [sqlite, arrow]
  postgres_dsn: ${CELLSIM_TEST_DSN}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("CELLSIM_TEST_DSN", "postgres://localhost/cells")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Simulation.Seed != 42 {
		t.Errorf("expected Seed 42, got %d", config.Simulation.Seed)
	}
	if config.Simulation.Dt != 0.5 {
		t.Errorf("expected Dt 0.5, got %g", config.Simulation.Dt)
	}
	if config.Tissue.Dim != 1 || config.Tissue.Cols != 1 {
		t.Errorf("unexpected tissue: %+v", config.Tissue)
	}
	if config.CellCycle.Model != "stochastic" {
		t.Errorf("expected Model 'stochastic', got '%s'", config.CellCycle.Model)
	}
	if config.CellCycle.Params.StemG1 != 2 {
		t.Errorf("expected StemG1 2, got %g", config.CellCycle.Params.StemG1)
	}
	// Unset fields keep their defaults
	if config.CellCycle.Params.S != 5 {
		t.Errorf("expected default S 5, got %g", config.CellCycle.Params.S)
	}
	if config.Apoptosis.Duration != 0.25 {
		t.Errorf("expected default apoptosis duration 0.25, got %g", config.Apoptosis.Duration)
	}
	if len(config.Killers) != 2 || config.Killers[1].Type != "sloughing" {
		t.Errorf("unexpected killers: %+v", config.Killers)
	}
	if strings.Join(config.Output.Formats, ",") != "sqlite,arrow" {
		t.Errorf("unexpected formats: %v", config.Output.Formats)
	}
	if config.Output.PostgresDSN != "postgres://localhost/cells" {
		t.Errorf("expected expanded DSN, got '%s'", config.Output.PostgresDSN)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("loaded config should be valid: %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	badPath := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(badPath, []byte("simulation: [not, a, map"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := LoadFromFile(badPath); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "zero dt",
			modify:  func(c *Config) { c.Simulation.Dt = 0 },
			wantErr: "dt must be positive",
		},
		{
			name:    "end before start",
			modify:  func(c *Config) { c.Simulation.StartTime = 30 },
			wantErr: "end_time",
		},
		{
			name:    "negative sampling multiple",
			modify:  func(c *Config) { c.Simulation.SamplingMultiple = -1 },
			wantErr: "sampling_multiple",
		},
		{
			name:    "bad tissue",
			modify:  func(c *Config) { c.Tissue.Spacing = 0 },
			wantErr: "tissue",
		},
		{
			name:   "missing cutoff is deferred",
			modify: func(c *Config) { c.Tissue.Cutoff = 0 },
		},
		{
			name:    "unknown cell cycle model",
			modify:  func(c *Config) { c.CellCycle.Model = "wnt" },
			wantErr: "invalid cell cycle model",
		},
		{
			name:    "unknown solver",
			modify:  func(c *Config) { c.CellCycle.Solver = "euler" },
			wantErr: "unknown solver",
		},
		{
			name:    "unknown division mode",
			modify:  func(c *Config) { c.CellCycle.DivisionMode = "split" },
			wantErr: "division mode",
		},
		{
			name:    "negative phase duration",
			modify:  func(c *Config) { c.CellCycle.Params.S = -1 },
			wantErr: "cell_cycle",
		},
		{
			name:    "unknown force",
			modify:  func(c *Config) { c.Mechanics.Force = "morse" },
			wantErr: "unknown force law",
		},
		{
			name:    "zero damping",
			modify:  func(c *Config) { c.Mechanics.Damping = 0 },
			wantErr: "damping must be positive",
		},
		{
			name:    "floor axis outside tissue",
			modify:  func(c *Config) { c.Boundary.Floor.Enabled = true; c.Boundary.Floor.Axis = 2 },
			wantErr: "boundary",
		},
		{
			name:    "unknown killer",
			modify:  func(c *Config) { c.Killers = []killer.Spec{{Type: "laser"}} },
			wantErr: "killers[0]",
		},
		{
			name:    "unknown output format",
			modify:  func(c *Config) { c.Output.Formats = []string{"csv"} },
			wantErr: "invalid output format",
		},
		{
			name:    "postgres without dsn",
			modify:  func(c *Config) { c.Output.Formats = []string{"postgres"} },
			wantErr: "postgres_dsn",
		},
		{
			name:    "s3 upload without bucket",
			modify:  func(c *Config) { c.Output.Upload.Driver = blob.DriverS3 },
			wantErr: "bucket",
		},
		{
			name:    "invalid upload driver",
			modify:  func(c *Config) { c.Output.Upload.Driver = "ftp" },
			wantErr: "invalid upload driver",
		},
		{
			name:    "metrics without addr",
			modify:  func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" },
			wantErr: "metrics addr",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:   "empty log level uses default",
			modify: func(c *Config) { c.Logging.Level = "" },
		},
		{
			name:    "zero ensemble runs",
			modify:  func(c *Config) { c.Ensemble.Runs = 0 },
			wantErr: "ensemble runs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CELLSIM_SEED", "99")
	t.Setenv("CELLSIM_END_TIME", "48")
	t.Setenv("CELLSIM_DT", "0.01")
	t.Setenv("CELLSIM_LOG_LEVEL", "debug")
	t.Setenv("CELLSIM_OUTPUT_DIR", "/tmp/cells")
	t.Setenv("CELLSIM_POSTGRES_DSN", "postgres://db/cells")
	t.Setenv("CELLSIM_S3_BUCKET", "cell-results")

	config := Default()
	applyEnvOverrides(config)

	if config.Simulation.Seed != 99 {
		t.Errorf("expected Seed 99, got %d", config.Simulation.Seed)
	}
	if config.Simulation.EndTime != 48 {
		t.Errorf("expected EndTime 48, got %g", config.Simulation.EndTime)
	}
	if config.Simulation.Dt != 0.01 {
		t.Errorf("expected Dt 0.01, got %g", config.Simulation.Dt)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected Level 'debug', got '%s'", config.Logging.Level)
	}
	if config.Output.Dir != "/tmp/cells" {
		t.Errorf("expected Dir '/tmp/cells', got '%s'", config.Output.Dir)
	}
	if config.Output.PostgresDSN != "postgres://db/cells" {
		t.Errorf("expected DSN override, got '%s'", config.Output.PostgresDSN)
	}
	if config.Output.Upload.Driver != blob.DriverS3 || config.Output.Upload.S3.Bucket != "cell-results" {
		t.Errorf("expected s3 upload to cell-results, got %+v", config.Output.Upload)
	}
}

func TestApplyEnvOverridesIgnoresGarbage(t *testing.T) {
	t.Setenv("CELLSIM_SEED", "not-a-number")
	t.Setenv("CELLSIM_DT", "fast")

	config := Default()
	applyEnvOverrides(config)

	if config.Simulation.Seed != 1 {
		t.Errorf("expected Seed to stay 1, got %d", config.Simulation.Seed)
	}
	if config.Simulation.Dt != 1.0/120 {
		t.Errorf("expected Dt to stay default, got %g", config.Simulation.Dt)
	}
}

func TestLoad(t *testing.T) {
	t.Run("no config file", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Setenv(EnvConfig, "")

		config, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if config.Simulation.Seed != 1 {
			t.Errorf("expected default Seed, got %d", config.Simulation.Seed)
		}
	})

	t.Run("home config file", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Setenv(EnvConfig, "")
		if err := os.MkdirAll(filepath.Join(home, ".cellsim"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(home, ".cellsim", "config.yaml"), []byte("simulation:\n  seed: 7\n"), 0600); err != nil {
			t.Fatal(err)
		}

		config, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if config.Simulation.Seed != 7 {
			t.Errorf("expected Seed 7, got %d", config.Simulation.Seed)
		}
	})

	t.Run("explicit config path must exist", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "nope.yaml"))

		if _, err := Load(); err == nil {
			t.Error("expected error for missing explicit config file")
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "cellsim.yaml")
		if err := os.WriteFile(path, []byte("simulation:\n  seed: 7\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(EnvConfig, path)
		t.Setenv("CELLSIM_SEED", "8")

		config, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if config.Simulation.Seed != 8 {
			t.Errorf("expected Seed 8, got %d", config.Simulation.Seed)
		}
	})

	t.Run("explicit path argument", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.yaml")
		if err := os.WriteFile(path, []byte("simulation:\n  end_time: 6\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(EnvConfig, "")
		t.Setenv("CELLSIM_SEED", "4")

		config, err := LoadPath(path)
		if err != nil {
			t.Fatalf("LoadPath failed: %v", err)
		}
		if config.Simulation.EndTime != 6 || config.Simulation.Seed != 4 {
			t.Errorf("expected EndTime 6 and Seed 4, got %g and %d", config.Simulation.EndTime, config.Simulation.Seed)
		}

		if _, err := LoadPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	config := Default()
	config.Simulation.Seed = 1234
	config.Killers = []killer.Spec{{Type: "random", Probability: 0.1}}

	if err := config.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Simulation.Seed != 1234 {
		t.Errorf("expected Seed 1234, got %d", loaded.Simulation.Seed)
	}
	if len(loaded.Killers) != 1 || loaded.Killers[0].Probability != 0.1 {
		t.Errorf("unexpected killers after reload: %+v", loaded.Killers)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CELLSIM_TEST_VAR", "expanded")

	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"${CELLSIM_TEST_VAR}", "expanded"},
		{"pre-${CELLSIM_TEST_VAR}-post", "pre-expanded-post"},
		{"${CELLSIM_UNSET_VAR}", ""},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
