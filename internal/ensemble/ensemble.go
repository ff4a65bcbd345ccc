// Package ensemble runs batches of independent, seeded simulations in
// parallel and summarises them. Run i uses seed base+i and shares no state
// with the others, so an ensemble is as reproducible as a single run.
package ensemble

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/cellsim/internal/blob"
	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/simulation"
)

// Options configures an ensemble.
type Options struct {
	Config *config.Config

	// Runs and Parallelism override the config's ensemble section when
	// positive.
	Runs        int
	Parallelism int

	// Store receives every run's result files.
	Store   blob.Store
	Metrics *metrics.Recorder
	Log     *zap.Logger

	// NewRunID names runs; it defaults to random UUIDs.
	NewRunID func() string
}

// Stats summarises one quantity across runs. It is zero when N is.
type Stats struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Report is a finished ensemble, runs in seed order.
type Report struct {
	Runs      []simulation.Result `json:"runs"`
	Cells     Stats               `json:"cells"`
	Divisions Stats               `json:"divisions"`
	Deaths    Stats               `json:"deaths"`
	MeanAge   Stats               `json:"mean_age"`
}

// Run executes the ensemble. The first failing run cancels the rest and
// its error is returned.
func Run(ctx context.Context, opts Options) (Report, error) {
	cfg := opts.Config
	if cfg == nil {
		return Report{}, fmt.Errorf("ensemble: config is required")
	}
	runs := cfg.Ensemble.Runs
	if opts.Runs > 0 {
		runs = opts.Runs
	}
	if runs < 1 {
		return Report{}, fmt.Errorf("ensemble: runs must be at least 1, got %d", runs)
	}
	limit := cfg.Ensemble.Parallelism
	if opts.Parallelism > 0 {
		limit = opts.Parallelism
	}
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	newID := opts.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	results := make([]simulation.Result, runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	log.Info("ensemble started", zap.Int("runs", runs), zap.Int("parallelism", limit))

	for i := 0; i < runs; i++ {
		id := newID()
		seed := cfg.Simulation.Seed + uint64(i)
		g.Go(func() error {
			dir := ""
			if cfg.Output.Dir != "" {
				dir = filepath.Join(cfg.Output.Dir, id)
			}
			res, err := simulation.Run(gctx, simulation.Setup{
				Config:  cfg,
				RunID:   id,
				Seed:    seed,
				Dir:     dir,
				Store:   opts.Store,
				Metrics: opts.Metrics,
				Log:     log,
			})
			if err != nil {
				return fmt.Errorf("run %d (seed %d): %w", i, seed, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Summarise(results)
	log.Info("ensemble complete",
		zap.Int("runs", runs),
		zap.Float64("mean_cells", report.Cells.Mean),
		zap.Float64("mean_divisions", report.Divisions.Mean))
	return report, nil
}

// Summarise computes the cross-run statistics of results.
func Summarise(results []simulation.Result) Report {
	var cells, divisions, deaths, ages []float64
	for _, r := range results {
		s := r.Summary
		cells = append(cells, float64(s.Cells))
		divisions = append(divisions, float64(s.Divisions))
		deaths = append(deaths, float64(s.ApoptoticDeaths+s.KilledDeaths))
		if s.Cells > 0 {
			ages = append(ages, s.MeanAge)
		}
	}
	return Report{
		Runs:      results,
		Cells:     describe(cells),
		Divisions: describe(divisions),
		Deaths:    describe(deaths),
		MeanAge:   describe(ages),
	}
}

func describe(xs []float64) Stats {
	switch len(xs) {
	case 0:
		return Stats{}
	case 1:
		return Stats{N: 1, Mean: xs[0], Min: xs[0], Max: xs[0]}
	}
	s := Stats{N: len(xs), Min: floats.Min(xs), Max: floats.Max(xs)}
	s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	return s
}
