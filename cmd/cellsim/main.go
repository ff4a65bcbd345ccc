package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/metrics"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cellsim",
		Short: "Cell-population mechanics and lifecycle simulator",
		Long: `cellsim simulates populations of cells that cycle, divide, die and push
on each other, and writes sampled snapshots of the tissue.

A run is described by a YAML config (see 'cellsim config init'); the same
seed always reproduces the same run.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default $CELLSIM_CONFIG or ~/.cellsim/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newEnsembleCmd(),
		newConfigCmd(),
	)

	return rootCmd
}

// loadConfig reads the config named by --config, or the default locations.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout stays parseable with --json.
func newLogger(cmd *cobra.Command, cfg *config.Config) *zap.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	return logging.NewLogger(level, cmd.ErrOrStderr())
}

// signalContext is cancelled on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	notifySignals(ch)
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// startMetrics serves the Prometheus endpoint when enabled. The returned
// stop function shuts the server down and waits for it.
func startMetrics(ctx context.Context, cfg *config.Config, log *zap.Logger) (*metrics.Recorder, func()) {
	if !cfg.Metrics.Enabled {
		return nil, func() {}
	}
	rec := metrics.New()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
		if err := rec.ListenAndServe(ctx, cfg.Metrics.Addr); err != nil {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return rec, func() {
		cancel()
		<-done
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
