// Package killer holds the rules that label cells for apoptosis or death.
//
// A killer walks the live cells once per step. It may start apoptosis or
// kill a cell outright, but it never touches the spatial structure: dead
// cells are swept by the population afterwards.
package killer

import (
	"fmt"
	"math"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/rng"
)

// View is what a killer may read from the population.
type View interface {
	Cells() []*cell.Cell
	CellCentre(c *cell.Cell) []float64
	Now() float64
	Dt() float64
	Rand() *rng.Source
}

// Killer labels cells for apoptosis or death.
type Killer interface {
	Name() string
	TestAndLabelCellsForApoptosisOrDeath(v View) error
}

// startApoptosis begins timed apoptosis unless it already began or the
// cell is dead.
func startApoptosis(c *cell.Cell) error {
	if c.HasApoptosisBegun() || c.IsDead() {
		return nil
	}
	return c.StartApoptosis(true)
}

// OxygenField reports the oxygen concentration a cell sees.
type OxygenField interface {
	Concentration(c *cell.Cell, centre []float64) float64
}

// UniformOxygen is the same concentration everywhere.
type UniformOxygen float64

func (u UniformOxygen) Concentration(*cell.Cell, []float64) float64 { return float64(u) }

// LinearOxygen falls linearly along one axis from Surface at Level to
// zero at Level-Depth and stays clamped to [0, Surface].
type LinearOxygen struct {
	Axis    int     `yaml:"axis"`
	Level   float64 `yaml:"level"`
	Depth   float64 `yaml:"depth"`
	Surface float64 `yaml:"surface"`
}

func (l LinearOxygen) Concentration(_ *cell.Cell, centre []float64) float64 {
	if l.Depth <= 0 {
		return l.Surface
	}
	frac := 1 - (l.Level-centre[l.Axis])/l.Depth
	return l.Surface * math.Max(0, math.Min(1, frac))
}

// Oxygen starts apoptosis on necrotic cells. With a Field it first marks
// cells below NecroticConcentration as necrotic.
type Oxygen struct {
	Field                 OxygenField
	NecroticConcentration float64
}

func (*Oxygen) Name() string { return "oxygen" }

func (o *Oxygen) TestAndLabelCellsForApoptosisOrDeath(v View) error {
	for _, c := range v.Cells() {
		if o.Field != nil && o.Field.Concentration(c, v.CellCentre(c)) < o.NecroticConcentration {
			c.MarkNecrotic()
		}
		if !c.IsNecrotic() {
			continue
		}
		if err := startApoptosis(c); err != nil {
			return fmt.Errorf("oxygen killer: %w", err)
		}
	}
	return nil
}

// OxygenLinear kills hypoxic cells stochastically. A cell whose oxygen
// stays below HypoxicConcentration for longer than HypoxicDuration starts
// apoptosis this step with probability
// (1 - O2/HypoxicConcentration) * Rate * dt.
type OxygenLinear struct {
	Field                OxygenField
	HypoxicConcentration float64
	HypoxicDuration      float64
	Rate                 float64

	hypoxicFor map[uint64]float64
}

// NewOxygenLinear validates the parameters.
func NewOxygenLinear(field OxygenField, concentration, duration, rate float64) (*OxygenLinear, error) {
	if field == nil {
		return nil, fmt.Errorf("oxygen linear killer: an oxygen field is required")
	}
	if concentration <= 0 || duration < 0 || rate < 0 {
		return nil, fmt.Errorf("oxygen linear killer: need concentration > 0, duration >= 0, rate >= 0")
	}
	return &OxygenLinear{
		Field:                field,
		HypoxicConcentration: concentration,
		HypoxicDuration:      duration,
		Rate:                 rate,
		hypoxicFor:           make(map[uint64]float64),
	}, nil
}

func (*OxygenLinear) Name() string { return "oxygen_linear" }

// HypoxicTime returns how long cell id has been hypoxic.
func (o *OxygenLinear) HypoxicTime(id uint64) float64 { return o.hypoxicFor[id] }

func (o *OxygenLinear) TestAndLabelCellsForApoptosisOrDeath(v View) error {
	dt := v.Dt()
	next := make(map[uint64]float64, len(o.hypoxicFor))
	for _, c := range v.Cells() {
		if c.HasApoptosisBegun() || c.IsDead() {
			continue
		}
		o2 := o.Field.Concentration(c, v.CellCentre(c))
		if o2 >= o.HypoxicConcentration {
			continue
		}
		t := o.hypoxicFor[c.ID()] + dt
		next[c.ID()] = t
		if t <= o.HypoxicDuration {
			continue
		}
		p := (1 - o2/o.HypoxicConcentration) * o.Rate * dt
		if v.Rand().Bernoulli(p) {
			if err := startApoptosis(c); err != nil {
				return fmt.Errorf("oxygen linear killer: %w", err)
			}
		}
	}
	o.hypoxicFor = next
	return nil
}

// Random kills each cell with Probability per hour of simulated time.
type Random struct {
	Probability float64
}

// NewRandom checks that p is a probability.
func NewRandom(p float64) (*Random, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("random killer: probability %g outside [0, 1]", p)
	}
	return &Random{Probability: p}, nil
}

func (*Random) Name() string { return "random" }

// StepProbability is the per-step chance of death for a step of dt hours.
func (r *Random) StepProbability(dt float64) float64 {
	return 1 - math.Pow(1-r.Probability, dt)
}

func (r *Random) TestAndLabelCellsForApoptosisOrDeath(v View) error {
	p := r.StepProbability(v.Dt())
	for _, c := range v.Cells() {
		if c.HasApoptosisBegun() || c.IsDead() {
			continue
		}
		if v.Rand().Bernoulli(p) {
			if err := startApoptosis(c); err != nil {
				return fmt.Errorf("random killer: %w", err)
			}
		}
	}
	return nil
}

// Sloughing removes cells that leave the crypt: above Height on Axis, or
// further than Width from the origin on the first axis when Width is set.
type Sloughing struct {
	Axis   int
	Height float64
	Width  float64
}

func (*Sloughing) Name() string { return "sloughing" }

func (s *Sloughing) TestAndLabelCellsForApoptosisOrDeath(v View) error {
	for _, c := range v.Cells() {
		centre := v.CellCentre(c)
		if s.Axis >= len(centre) {
			return fmt.Errorf("sloughing killer: axis %d outside a %dD tissue", s.Axis, len(centre))
		}
		out := centre[s.Axis] > s.Height
		if s.Width > 0 && s.Axis != 0 && math.Abs(centre[0]) > s.Width {
			out = true
		}
		if out {
			c.Kill()
		}
	}
	return nil
}

// Spec is the configuration of one killer.
type Spec struct {
	Type string `yaml:"type" json:"type"`

	// random
	Probability float64 `yaml:"probability,omitempty" json:"probability,omitempty"`

	// sloughing
	Axis   int     `yaml:"axis,omitempty" json:"axis,omitempty"`
	Height float64 `yaml:"height,omitempty" json:"height,omitempty"`
	Width  float64 `yaml:"width,omitempty" json:"width,omitempty"`

	// oxygen, oxygen_linear
	Oxygen                *LinearOxygen `yaml:"oxygen,omitempty" json:"oxygen,omitempty"`
	NecroticConcentration float64       `yaml:"necrotic_concentration,omitempty" json:"necrotic_concentration,omitempty"`
	HypoxicConcentration  float64       `yaml:"hypoxic_concentration,omitempty" json:"hypoxic_concentration,omitempty"`
	HypoxicDuration       float64       `yaml:"hypoxic_duration,omitempty" json:"hypoxic_duration,omitempty"`
	Rate                  float64       `yaml:"rate,omitempty" json:"rate,omitempty"`
}

// New builds a killer from its spec.
func New(s Spec) (Killer, error) {
	var field OxygenField
	if s.Oxygen != nil {
		field = *s.Oxygen
	}
	switch s.Type {
	case "oxygen":
		return &Oxygen{Field: field, NecroticConcentration: s.NecroticConcentration}, nil
	case "oxygen_linear":
		return NewOxygenLinear(field, s.HypoxicConcentration, s.HypoxicDuration, s.Rate)
	case "random":
		return NewRandom(s.Probability)
	case "sloughing":
		if s.Height <= 0 {
			return nil, fmt.Errorf("sloughing killer: height must be positive, got %g", s.Height)
		}
		return &Sloughing{Axis: s.Axis, Height: s.Height, Width: s.Width}, nil
	}
	return nil, fmt.Errorf("unknown killer %q (valid: oxygen, oxygen_linear, random, sloughing)", s.Type)
}
