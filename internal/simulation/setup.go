package simulation

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/nvandessel/cellsim/internal/blob"
	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/cellcycle"
	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/force"
	"github.com/nvandessel/cellsim/internal/killer"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/ode"
	"github.com/nvandessel/cellsim/internal/output"
	"github.com/nvandessel/cellsim/internal/parallel"
	"github.com/nvandessel/cellsim/internal/population"
	"github.com/nvandessel/cellsim/internal/rng"
	"github.com/nvandessel/cellsim/internal/simtime"
	"github.com/nvandessel/cellsim/internal/tissue"
)

// Setup describes one run to assemble from a configuration.
type Setup struct {
	Config *config.Config
	RunID  string
	Seed   uint64

	// Dir receives the run's result files and event log. Empty uses the
	// configured output dir.
	Dir string

	// Sink overrides the configured output formats.
	Sink output.Sink

	// Store, when set, receives the result files after a successful run.
	Store blob.Store

	// KeepEvents stores every division and death in the summary.
	KeepEvents bool

	Metrics *metrics.Recorder
	Comm    parallel.Communicator
	Log     *zap.Logger
}

// Result is a finished run.
type Result struct {
	RunID    string      `json:"run_id"`
	Seed     uint64      `json:"seed"`
	Dir      string      `json:"dir,omitempty"`
	Summary  Summary     `json:"summary"`
	Uploaded []blob.Info `json:"uploaded,omitempty"`
}

func (s Setup) dir() string {
	if s.Dir != "" {
		return s.Dir
	}
	return s.Config.Output.Dir
}

// Build assembles the clock, tissue, population, killers and sinks of a
// run and returns a driver ready to Solve. Close the driver when done.
func Build(ctx context.Context, s Setup) (*Driver, error) {
	cfg := s.Config
	if cfg == nil {
		return nil, fmt.Errorf("simulation: setup needs a config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run", s.RunID), zap.Uint64("seed", s.Seed))

	sim := cfg.Simulation
	clock, err := simtime.ForDuration(sim.StartTime, sim.EndTime, sim.Dt)
	if err != nil {
		return nil, err
	}
	src := rng.New(s.Seed)
	registry := cell.NewRegistry(clock, cfg.Apoptosis.Duration)

	structure, locs, err := tissue.NewStructure(cfg.Tissue)
	if err != nil {
		return nil, fmt.Errorf("build tissue: %w", err)
	}
	pop, err := population.New(structure, registry, src, population.Config{
		Damping:              cfg.Mechanics.Damping,
		MutantDamping:        cfg.Mechanics.MutantDamping,
		DivisionSeparation:   cfg.Mechanics.Spring.DivisionSeparation,
		MaxPlacementAttempts: cfg.Mechanics.MaxPlacementAttempts,
		Boundary:             cfg.Boundary,
	}, log)
	if err != nil {
		return nil, err
	}
	law, err := force.New(cfg.Mechanics.Force, cfg.Mechanics.Spring)
	if err != nil {
		return nil, err
	}
	pop.AddForce(law)

	factory, err := newFactory(cfg.CellCycle, clock, src)
	if err != nil {
		return nil, err
	}
	if err := tissue.Seed(cfg.Tissue, pop, locs, factory, src, clock.Now()); err != nil {
		return nil, fmt.Errorf("seed tissue: %w", err)
	}
	if h := sim.BottomAncestorHeight; h > 0 {
		n := pop.SetBottomCellAncestors(h)
		log.Debug("bottom cell ancestors assigned", zap.Int("cells", n))
	}

	killers := make([]killer.Killer, 0, len(cfg.Killers))
	for i, ks := range cfg.Killers {
		k, err := killer.New(ks)
		if err != nil {
			return nil, fmt.Errorf("killers[%d]: %w", i, err)
		}
		killers = append(killers, k)
	}

	dir := s.dir()
	sink := s.Sink
	if sink == nil {
		sink, err = output.Open(ctx, output.Options{
			Dir:         dir,
			Formats:     cfg.Output.Formats,
			PostgresDSN: cfg.Output.PostgresDSN,
		}, output.RunInfo{ID: s.RunID, Seed: s.Seed})
		if err != nil {
			return nil, err
		}
	}

	var events *logging.EventLogger
	if cfg.Logging.Events {
		events = logging.NewEventLogger(dir)
		if events == nil {
			log.Warn("event log unavailable", zap.String("dir", dir))
		}
	}

	d, err := New(clock, pop, Config{
		SamplingMultiple: sim.SamplingMultiple,
		SkipValidation:   sim.SkipValidation,
		KeepEvents:       s.KeepEvents,
	}, Options{
		Killers: killers,
		Sink:    sink,
		Metrics: s.Metrics.ForRun(s.RunID),
		Events:  events,
		Comm:    s.Comm,
		Log:     log,
	})
	if err != nil {
		abortSink(sink, log)
		events.Close()
		return nil, err
	}
	return d, nil
}

func newFactory(cc config.CellCycleConfig, clock cellcycle.Clock, src *rng.Source) (cellcycle.Factory, error) {
	fc := cellcycle.FactoryConfig{Kind: cc.Model, Params: cc.Params}
	if cc.Model == cellcycle.KindTysonNovak {
		solver, err := ode.New(cc.Solver)
		if err != nil {
			return nil, err
		}
		mode, err := cellcycle.ParseDivisionMode(cc.DivisionMode)
		if err != nil {
			return nil, err
		}
		fc.Solver, fc.Division = solver, mode
	}
	return cellcycle.NewFactory(fc, clock, src)
}

// Close releases the event log.
func (d *Driver) Close() {
	d.events.Close()
}

// Run builds, solves and closes one run, then uploads its result files
// when a store is configured.
func Run(ctx context.Context, s Setup) (Result, error) {
	res := Result{RunID: s.RunID, Seed: s.Seed}
	d, err := Build(ctx, s)
	if err != nil {
		return res, err
	}
	eventsPath := d.events.Path()
	sum, err := d.Solve(ctx)
	d.Close()
	if err != nil {
		return res, err
	}
	res.Summary = sum
	if s.Sink == nil {
		res.Dir = s.dir()
	}

	if s.Store == nil || res.Dir == "" {
		return res, nil
	}
	files := output.Files(res.Dir, s.Config.Output.Formats)
	if eventsPath != "" {
		files = append(files, eventsPath)
	}
	prefix := s.RunID
	if p := s.Config.Output.Upload.Prefix; p != "" {
		prefix = path.Join(p, s.RunID)
	}
	res.Uploaded, err = blob.UploadFiles(ctx, s.Store, prefix, files, map[string]string{
		"run-id": s.RunID,
		"seed":   strconv.FormatUint(s.Seed, 10),
	})
	if err != nil {
		return res, fmt.Errorf("upload results: %w", err)
	}
	return res, nil
}
