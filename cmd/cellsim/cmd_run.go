package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvandessel/cellsim/internal/blob"
	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/simulation"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		Long: `Run one simulation from the loaded config and write its snapshots to
<output dir>/<run id>.

Examples:
  cellsim run                                # defaults or ~/.cellsim/config.yaml
  cellsim run --config crypt.yaml --seed 7
  cellsim run --end-time 48 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			log := newLogger(cmd, cfg)
			defer func() { _ = log.Sync() }()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			store, err := blob.Open(ctx, cfg.Output.Upload)
			if err != nil {
				return fmt.Errorf("failed to open upload store: %w", err)
			}
			rec, stopMetrics := startMetrics(ctx, cfg, log)
			defer stopMetrics()

			runID, _ := cmd.Flags().GetString("run-id")
			if runID == "" {
				runID = uuid.NewString()
			}
			dir := ""
			if cfg.Output.Dir != "" {
				dir = filepath.Join(cfg.Output.Dir, runID)
			}

			res, err := simulation.Run(ctx, simulation.Setup{
				Config:  cfg,
				RunID:   runID,
				Seed:    cfg.Simulation.Seed,
				Dir:     dir,
				Store:   store,
				Metrics: rec,
				Log:     log,
			})
			if err != nil {
				return fmt.Errorf("run %s failed: %w", runID, err)
			}
			log.Info("run complete", zap.String("run", runID), zap.Int("cells", res.Summary.Cells))

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().Uint64("seed", 0, "Random seed (overrides config)")
	cmd.Flags().Float64("end-time", 0, "End time in hours (overrides config)")
	cmd.Flags().String("output-dir", "", "Output directory (overrides config)")
	cmd.Flags().String("run-id", "", "Run id (default: random UUID)")

	return cmd
}

// applyRunFlags copies explicitly set flags over the config and validates
// the result.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Simulation.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("end-time") {
		cfg.Simulation.EndTime, _ = flags.GetFloat64("end-time")
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir, _ = flags.GetString("output-dir")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func printResult(cmd *cobra.Command, res simulation.Result) {
	out := cmd.OutOrStdout()
	s := res.Summary
	fmt.Fprintf(out, "Run %s (seed %d)\n", res.RunID, res.Seed)
	fmt.Fprintf(out, "  steps:      %d (t=%g)\n", s.Steps, s.EndTime)
	fmt.Fprintf(out, "  cells:      %d\n", s.Cells)
	fmt.Fprintf(out, "  divisions:  %d\n", s.Divisions)
	fmt.Fprintf(out, "  deaths:     %d apoptotic, %d killed\n", s.ApoptoticDeaths, s.KilledDeaths)
	fmt.Fprintf(out, "  mean age:   %.3f h\n", s.MeanAge)

	states := make([]string, 0, len(s.Counts))
	for state := range s.Counts {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(out, "    %-20s %d\n", state, s.Counts[state])
	}
	if res.Dir != "" {
		fmt.Fprintf(out, "  results:    %s\n", res.Dir)
	}
	for _, info := range res.Uploaded {
		fmt.Fprintf(out, "  uploaded:   %s (%d bytes)\n", info.Key, info.Size)
	}
}
