package cellcycle

import (
	"fmt"

	"github.com/nvandessel/cellsim/internal/ode"
	"github.com/nvandessel/cellsim/internal/rng"
)

// Kinds of cell-cycle model accepted by NewFactory.
const (
	KindFixed      = "fixed"
	KindStochastic = "stochastic"
	KindTysonNovak = "tyson_novak"
)

// Factory builds a fresh model of one configured kind.
type Factory func(ptype ProliferativeType) (Model, error)

// FactoryConfig selects and parameterises a model kind.
type FactoryConfig struct {
	Kind     string
	Params   Params
	Solver   ode.Solver
	Division DivisionMode
}

// NewFactory validates cfg and returns a Factory. Configuration problems,
// such as an ODE kind with no solver, are reported here rather than when
// the first cell is built.
func NewFactory(cfg FactoryConfig, clock Clock, src *rng.Source) (Factory, error) {
	switch cfg.Kind {
	case KindFixed, "":
		if err := cfg.Params.Validate(); err != nil {
			return nil, err
		}
		return func(t ProliferativeType) (Model, error) {
			return NewFixed(clock, cfg.Params, t), nil
		}, nil
	case KindStochastic:
		if err := cfg.Params.Validate(); err != nil {
			return nil, err
		}
		if src == nil {
			return nil, ErrNoRandomSource
		}
		return func(t ProliferativeType) (Model, error) {
			return NewStochastic(clock, cfg.Params, t, src)
		}, nil
	case KindTysonNovak:
		if cfg.Solver == nil {
			return nil, ErrNoIntegrator
		}
		return func(t ProliferativeType) (Model, error) {
			return NewTysonNovak(clock, cfg.Solver, cfg.Division, t)
		}, nil
	}
	return nil, fmt.Errorf("unknown cell cycle model %q (valid: %s, %s, %s)",
		cfg.Kind, KindFixed, KindStochastic, KindTysonNovak)
}
