package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nvandessel/cellsim/internal/killer"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/output"
	"github.com/nvandessel/cellsim/internal/parallel"
	"github.com/nvandessel/cellsim/internal/population"
	"github.com/nvandessel/cellsim/internal/simtime"
)

// ErrRemoteValidation is returned when another rank's population failed
// validation while this one passed.
var ErrRemoteValidation = errors.New("population validation failed on another rank")

// Config controls the time loop.
type Config struct {
	// SamplingMultiple writes every n-th step to the sink. The initial
	// state and the final step are always written. Zero means every step.
	SamplingMultiple int

	// SkipValidation turns off the per-step cell/location check.
	SkipValidation bool

	// KeepEvents stores every division and death in the Summary.
	KeepEvents bool
}

// Options are the collaborators of a Driver. Only the clock and population
// passed to New are required; everything here may be left nil.
type Options struct {
	Killers []killer.Killer
	Sink    output.Sink
	Metrics *metrics.Recorder
	Events  *logging.EventLogger
	Comm    parallel.Communicator
	Log     *zap.Logger
}

// Summary describes a finished run.
type Summary struct {
	Steps   int     `json:"steps"`
	EndTime float64 `json:"end_time"`

	Divisions       int `json:"divisions"`
	ApoptoticDeaths int `json:"apoptotic_deaths"`
	KilledDeaths    int `json:"killed_deaths"`

	// Cells is the live-cell total summed over every rank.
	Cells int `json:"cells"`
	// Counts is this rank's live cells by mutation state.
	Counts map[string]int `json:"counts"`
	// MeanAge is this rank's mean live-cell age, zero when none survive.
	MeanAge float64 `json:"mean_age"`

	DivisionEvents []population.DivisionEvent `json:"division_events,omitempty"`
	DeathEvents    []population.DeathEvent    `json:"death_events,omitempty"`
}

// Driver steps a population through time.
type Driver struct {
	clock   *simtime.Clock
	pop     *population.Population
	cfg     Config
	killers []killer.Killer
	sink    output.Sink
	metrics *metrics.Recorder
	events  *logging.EventLogger
	comm    parallel.Communicator
	log     *zap.Logger

	// fresh is true while the neighbour pairs match the node positions.
	fresh       bool
	lastSampled int
	sum         Summary
}

// New returns a driver for pop advanced by clock. The clock must be the one
// the population's registry and cell-cycle models read.
func New(clock *simtime.Clock, pop *population.Population, cfg Config, opts Options) (*Driver, error) {
	if clock == nil || pop == nil {
		return nil, errors.New("simulation: clock and population are required")
	}
	if cfg.SamplingMultiple < 0 {
		return nil, fmt.Errorf("simulation: sampling multiple must be non-negative, got %d", cfg.SamplingMultiple)
	}
	if cfg.SamplingMultiple == 0 {
		cfg.SamplingMultiple = 1
	}
	if opts.Comm == nil {
		opts.Comm = parallel.Local{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Driver{
		clock:       clock,
		pop:         pop,
		cfg:         cfg,
		killers:     opts.Killers,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		events:      opts.Events,
		comm:        opts.Comm,
		log:         opts.Log,
		lastSampled: -1,
	}, nil
}

// Population returns the driven population.
func (d *Driver) Population() *population.Population { return d.pop }

// Solve runs every remaining step of the clock. A step either completes
// or the run fails: on any error the sink is aborted so no partial result
// survives. ctx is checked between steps.
func (d *Driver) Solve(ctx context.Context) (sum Summary, err error) {
	defer func() {
		if err == nil {
			return
		}
		abortSink(d.sink, d.log)
		d.metrics.RunFinished("failed")
		d.events.Log(map[string]any{"event": "failed", "sim_time": d.clock.Now(), "error": err.Error()})
		d.log.Error("simulation failed", zap.Int("step", d.clock.Steps()), zap.Float64("time", d.clock.Now()), zap.Error(err))
	}()

	if err := d.setup(ctx); err != nil {
		return Summary{}, err
	}
	d.log.Info("simulation started",
		zap.Int("cells", d.pop.NumCells()),
		zap.Int("steps", d.clock.TotalSteps()),
		zap.Float64("dt", d.clock.Dt()),
		zap.Int("rank", d.comm.Rank()))

	for !d.clock.Done() {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		started := time.Now()
		if err := d.clock.Advance(); err != nil {
			return Summary{}, err
		}
		if err := d.step(ctx); err != nil {
			return Summary{}, fmt.Errorf("step %d (t=%g): %w", d.clock.Steps(), d.clock.Now(), err)
		}
		if d.clock.Steps()%d.cfg.SamplingMultiple == 0 {
			if err := d.sample(ctx); err != nil {
				return Summary{}, err
			}
		}
		d.metrics.ObserveStep(time.Since(started), d.clock.Now())
	}

	if d.lastSampled != d.clock.Steps() {
		if err := d.sample(ctx); err != nil {
			return Summary{}, err
		}
	}
	if err := d.finish(ctx); err != nil {
		return Summary{}, err
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			return Summary{}, fmt.Errorf("close result sink: %w", err)
		}
	}
	d.metrics.RunFinished("complete")
	d.events.Log(map[string]any{"event": "complete", "sim_time": d.clock.Now(), "cells": d.sum.Cells})
	d.log.Info("simulation complete",
		zap.Int("steps", d.sum.Steps),
		zap.Int("cells", d.sum.Cells),
		zap.Int("divisions", d.sum.Divisions),
		zap.Int("deaths", d.sum.ApoptoticDeaths+d.sum.KilledDeaths))
	return d.sum, nil
}

// setup brings the structure up to date and writes the initial state.
func (d *Driver) setup(ctx context.Context) error {
	if err := d.update(); err != nil {
		return err
	}
	if err := d.validate(ctx); err != nil {
		return err
	}
	return d.sample(ctx)
}

func (d *Driver) update() error {
	if err := d.pop.Update(); err != nil {
		return err
	}
	d.fresh = true
	return nil
}

// validate runs the local check and agrees on the outcome with the other
// ranks.
func (d *Driver) validate(ctx context.Context) error {
	var verr error
	if !d.cfg.SkipValidation {
		verr = d.pop.Validate()
	}
	ok, err := d.comm.AllTrue(ctx, verr == nil)
	if err != nil {
		return err
	}
	if verr != nil {
		return verr
	}
	if !ok {
		return ErrRemoteValidation
	}
	return nil
}

// step runs one pass of the lifecycle: update, validate, mechanics,
// boundary conditions, division, killers, death sweep and compaction.
func (d *Driver) step(ctx context.Context) error {
	if !d.fresh {
		if err := d.update(); err != nil {
			return err
		}
	}
	if err := d.validate(ctx); err != nil {
		return err
	}

	forces, err := d.pop.ComputeForces()
	if err != nil {
		return err
	}
	old, err := d.pop.MoveNodes(forces, d.clock.Dt())
	if err != nil {
		return err
	}
	d.fresh = false
	if err := d.pop.ApplyBoundaryConditions(old); err != nil {
		return err
	}

	divisions, err := d.pop.DivideReadyCells()
	if err != nil {
		return err
	}

	view := killerView{Population: d.pop, dt: d.clock.Dt()}
	for _, k := range d.killers {
		if err := k.TestAndLabelCellsForApoptosisOrDeath(view); err != nil {
			return fmt.Errorf("killer %s: %w", k.Name(), err)
		}
	}

	deaths, err := d.pop.RemoveDeadCells()
	if err != nil {
		return err
	}
	if len(divisions) > 0 || len(deaths) > 0 {
		if err := d.update(); err != nil {
			return err
		}
	}

	d.record(divisions, deaths)
	logging.Trace(d.log, "step complete",
		zap.Int("step", d.clock.Steps()),
		zap.Float64("time", d.clock.Now()),
		zap.Int("cells", d.pop.NumCells()),
		zap.Int("divisions", len(divisions)),
		zap.Int("deaths", len(deaths)))
	return nil
}

// record folds one step's events into the summary, the metrics and the
// event log.
func (d *Driver) record(divisions []population.DivisionEvent, deaths []population.DeathEvent) {
	apoptotic, killed := 0, 0
	for _, ev := range deaths {
		if ev.Apoptotic {
			apoptotic++
		} else {
			killed++
		}
	}
	d.sum.Divisions += len(divisions)
	d.sum.ApoptoticDeaths += apoptotic
	d.sum.KilledDeaths += killed
	if d.cfg.KeepEvents {
		d.sum.DivisionEvents = append(d.sum.DivisionEvents, divisions...)
		d.sum.DeathEvents = append(d.sum.DeathEvents, deaths...)
	}

	d.metrics.AddDivisions(len(divisions))
	d.metrics.AddDeaths(apoptotic, killed)
	d.metrics.SetCellCounts(d.counts())

	for _, ev := range divisions {
		d.events.Log(map[string]any{
			"event":    "division",
			"sim_time": ev.Time,
			"parent":   ev.ParentID,
			"daughter": ev.DaughterID,
			"ancestor": ev.Ancestor,
		})
	}
	for _, ev := range deaths {
		d.events.Log(map[string]any{
			"event":     "death",
			"sim_time":  ev.Time,
			"cell":      ev.CellID,
			"apoptotic": ev.Apoptotic,
			"ancestor":  ev.Ancestor,
			"mutation":  ev.Mutation.String(),
		})
	}
}

func (d *Driver) counts() map[string]int {
	out := make(map[string]int)
	for state, n := range d.pop.LiveCellsByState() {
		out[state.String()] = n
	}
	return out
}

// sample writes the current population to the sink.
func (d *Driver) sample(ctx context.Context) error {
	d.lastSampled = d.clock.Steps()
	if d.sink == nil {
		return nil
	}
	now := d.clock.Now()
	cells := d.pop.Cells()
	snap := output.Snapshot{Step: d.clock.Steps(), Time: now, Records: make([]output.Record, 0, len(cells))}
	for _, c := range cells {
		snap.Records = append(snap.Records, output.Record{
			Time:              now,
			CellID:            c.ID(),
			Location:          c.Location(),
			Position:          d.pop.CellCentre(c),
			Ancestor:          c.Ancestor(),
			Mutation:          c.MutationState().String(),
			Phase:             c.Phase().String(),
			ProliferativeType: c.ProliferativeType().String(),
			Age:               c.Age(),
		})
	}
	if err := d.sink.WriteSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("write snapshot at step %d: %w", snap.Step, err)
	}
	return nil
}

// finish computes the global totals for the summary.
func (d *Driver) finish(ctx context.Context) error {
	total, err := d.comm.SumInt(ctx, d.pop.NumCells())
	if err != nil {
		return err
	}
	d.sum.Steps = d.clock.Steps()
	d.sum.EndTime = d.clock.Now()
	d.sum.Cells = total
	d.sum.Counts = d.counts()
	if d.pop.NumCells() > 0 {
		d.sum.MeanAge = d.pop.MeanAge()
	}
	return nil
}

// abortSink discards a sink's partial results. Failures are logged since
// the run is already failing with another error.
func abortSink(sink output.Sink, log *zap.Logger) {
	if sink == nil {
		return
	}
	if err := sink.Abort(); err != nil {
		log.Warn("abort result sink", zap.Error(err))
	}
}

// killerView exposes the population to killers together with the step
// length.
type killerView struct {
	*population.Population
	dt float64
}

func (v killerView) Dt() float64 { return v.dt }
