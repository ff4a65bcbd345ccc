package cellcycle

import (
	"math"

	"github.com/nvandessel/cellsim/internal/rng"
)

// durationModel is the generation-based model shared by Fixed and
// Stochastic. Readiness is age >= M + G1 + S + G2; G1 depends on the
// proliferative type and comes from draw.
type durationModel struct {
	base
	g1   float64
	draw func(ProliferativeType) float64
}

func (d *durationModel) Durations() Durations {
	return Durations{G1: d.g1, S: d.params.S, G2: d.params.G2, M: d.params.M}
}

func (d *durationModel) SetProliferativeType(t ProliferativeType) {
	d.ptype = t
	d.g1 = d.draw(t)
}

// Phase returns the phase implied by the current age. Differentiated cells
// sit in G0 once mitosis is over.
func (d *durationModel) Phase() Phase {
	d.updatePhase()
	return d.phase
}

func (d *durationModel) updatePhase() {
	age := d.Age()
	p := d.params
	switch {
	case age < p.M:
		d.phase = M
	case age < p.M+d.g1:
		if d.ptype == Differentiated {
			d.phase = G0
		} else {
			d.phase = G1
		}
	case age < p.M+d.g1+p.S:
		d.phase = S
	case age < p.M+d.g1+p.S+p.G2:
		d.phase = G2
	}
}

func (d *durationModel) ReadyToDivide() (bool, error) {
	if d.ready {
		return true, nil
	}
	d.updatePhase()
	if d.phase != G0 && d.Age() >= d.Durations().Total() {
		d.ready = true
	}
	return d.ready, nil
}

// ResetForDivision advances the generation. Transit cells past the
// generation limit become differentiated; stem cells stay at generation 0.
func (d *durationModel) ResetForDivision() error {
	if err := d.resetLatch(); err != nil {
		return err
	}
	if d.ptype == Stem {
		d.generation = 0
	} else {
		d.generation++
		if d.generation > d.params.MaxTransitGenerations {
			d.ptype = Differentiated
		}
	}
	d.g1 = d.draw(d.ptype)
	return nil
}

// InitialiseDaughterCell demotes a stem daughter to transit.
func (d *durationModel) InitialiseDaughterCell() {
	if d.generation == 0 {
		d.generation = 1
	}
	if d.ptype == Stem {
		d.ptype = Transit
	}
	d.g1 = d.draw(d.ptype)
}

// Fixed is the generation-based model with constant G1 per type.
type Fixed struct {
	durationModel
}

// NewFixed returns a Fixed model born now.
func NewFixed(clock Clock, params Params, ptype ProliferativeType) *Fixed {
	f := &Fixed{durationModel{base: newBase(clock, params, ptype)}}
	f.draw = func(t ProliferativeType) float64 {
		switch t {
		case Stem:
			return params.StemG1
		case Transit:
			return params.TransitG1
		}
		return math.Inf(1)
	}
	f.g1 = f.draw(ptype)
	return f
}

func (*Fixed) Name() string { return "fixed" }

func (f *Fixed) CreateCellCycleModel() Model {
	c := *f
	return &c
}

// Stochastic is the generation-based model whose G1 is drawn uniformly per
// type: StemG1Range for stem, TransitG1Range for transit, infinite for
// differentiated cells. G1 is redrawn at construction, at division, on a
// type change and in the daughter.
type Stochastic struct {
	durationModel
}

// NewStochastic returns a Stochastic model born now that draws from src.
func NewStochastic(clock Clock, params Params, ptype ProliferativeType, src *rng.Source) (*Stochastic, error) {
	if src == nil {
		return nil, ErrNoRandomSource
	}
	s := &Stochastic{durationModel{base: newBase(clock, params, ptype)}}
	s.draw = func(t ProliferativeType) float64 {
		switch t {
		case Stem:
			return src.Uniform(params.StemG1Range.Min, params.StemG1Range.Max)
		case Transit:
			return src.Uniform(params.TransitG1Range.Min, params.TransitG1Range.Max)
		}
		return math.Inf(1)
	}
	s.g1 = s.draw(ptype)
	return s, nil
}

func (*Stochastic) Name() string { return "stochastic" }

func (s *Stochastic) CreateCellCycleModel() Model {
	c := *s
	return &c
}
