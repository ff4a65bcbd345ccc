package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cellsim/internal/blob"
	"github.com/nvandessel/cellsim/internal/ensemble"
)

func newEnsembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensemble",
		Short: "Run a batch of independently seeded simulations",
		Long: `Run the loaded config several times, run i with seed+i, and summarise
the final cell counts, divisions and deaths across runs.

Examples:
  cellsim ensemble --runs 20
  cellsim ensemble --config crypt.yaml --runs 8 --parallelism 4 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			runs, _ := cmd.Flags().GetInt("runs")
			parallelism, _ := cmd.Flags().GetInt("parallelism")

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

			report, err := ensemble.Run(ctx, ensemble.Options{
				Config:      cfg,
				Runs:        runs,
				Parallelism: parallelism,
				Store:       store,
				Metrics:     rec,
				Log:         log,
			})
			if err != nil {
				return fmt.Errorf("ensemble failed: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().Int("runs", 0, "Number of runs (overrides config)")
	cmd.Flags().Int("parallelism", 0, "Concurrent runs (default: config, or one per CPU)")
	cmd.Flags().Uint64("seed", 0, "Seed of the first run (overrides config)")
	cmd.Flags().Float64("end-time", 0, "End time in hours (overrides config)")
	cmd.Flags().String("output-dir", "", "Output directory (overrides config)")

	return cmd
}

func printReport(cmd *cobra.Command, report ensemble.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ensemble of %d runs\n\n", len(report.Runs))
	fmt.Fprintf(out, "%-38s %6s %8s %10s %8s\n", "RUN", "SEED", "CELLS", "DIVISIONS", "DEATHS")
	for _, r := range report.Runs {
		s := r.Summary
		fmt.Fprintf(out, "%-38s %6d %8d %10d %8d\n", r.RunID, r.Seed, s.Cells, s.Divisions, s.ApoptoticDeaths+s.KilledDeaths)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-10s %10s %10s %10s %10s\n", "", "MEAN", "STDDEV", "MIN", "MAX")
	for _, row := range []struct {
		name  string
		stats ensemble.Stats
	}{
		{"cells", report.Cells},
		{"divisions", report.Divisions},
		{"deaths", report.Deaths},
		{"mean age", report.MeanAge},
	} {
		st := row.stats
		fmt.Fprintf(out, "%-10s %10.3f %10.3f %10.3f %10.3f\n", row.name, st.Mean, st.StdDev, st.Min, st.Max)
	}
}
