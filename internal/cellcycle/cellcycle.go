// Package cellcycle implements the models that decide when a cell is ready
// to divide.
//
// Every variant satisfies Model. Fixed and Stochastic derive readiness from
// the sum of phase durations; TysonNovak integrates an ODE system and
// treats a protein threshold crossing as the division signal.
package cellcycle

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrNotReady is returned by ResetForDivision on a model whose
	// ready-to-divide latch is not set.
	ErrNotReady = errors.New("cell cycle model is not ready to divide")

	// ErrNoIntegrator is returned when an ODE-based model is built
	// without a solver.
	ErrNoIntegrator = errors.New("ODE-based cell cycle model requires an integrator")

	// ErrNoRandomSource is returned when a stochastic model is built
	// without a random source.
	ErrNoRandomSource = errors.New("stochastic cell cycle model requires a random source")
)

// Clock reports the current simulated time in hours.
type Clock interface {
	Now() float64
}

// Phase is a cell-cycle phase.
type Phase int

const (
	G0 Phase = iota
	G1
	S
	G2
	M
)

func (p Phase) String() string {
	switch p {
	case G0:
		return "G0"
	case G1:
		return "G1"
	case S:
		return "S"
	case G2:
		return "G2"
	case M:
		return "M"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ProliferativeType is a cell's proliferative category.
type ProliferativeType int

const (
	Stem ProliferativeType = iota
	Transit
	Differentiated
)

func (t ProliferativeType) String() string {
	switch t {
	case Stem:
		return "stem"
	case Transit:
		return "transit"
	case Differentiated:
		return "differentiated"
	}
	return fmt.Sprintf("ProliferativeType(%d)", int(t))
}

// ParseProliferativeType maps "stem", "transit" or "differentiated".
func ParseProliferativeType(s string) (ProliferativeType, error) {
	switch strings.ToLower(s) {
	case "stem":
		return Stem, nil
	case "transit":
		return Transit, nil
	case "differentiated":
		return Differentiated, nil
	}
	return 0, fmt.Errorf("unknown proliferative type %q", s)
}

// Durations are a model's phase lengths in hours.
type Durations struct {
	G1 float64
	S  float64
	G2 float64
	M  float64
}

// Total is the full cycle length.
func (d Durations) Total() float64 {
	return d.M + d.G1 + d.S + d.G2
}

// Range is a closed interval [Min, Max].
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Params configures the duration-based models.
type Params struct {
	StemG1                float64 `json:"stem_g1" yaml:"stem_g1"`
	TransitG1             float64 `json:"transit_g1" yaml:"transit_g1"`
	S                     float64 `json:"s" yaml:"s"`
	G2                    float64 `json:"g2" yaml:"g2"`
	M                     float64 `json:"m" yaml:"m"`
	MaxTransitGenerations int     `json:"max_transit_generations" yaml:"max_transit_generations"`

	// StemG1Range and TransitG1Range bound the stochastic G1 draws.
	StemG1Range    Range `json:"stem_g1_range" yaml:"stem_g1_range"`
	TransitG1Range Range `json:"transit_g1_range" yaml:"transit_g1_range"`
}

// DefaultParams returns the crypt defaults: G1 of 14h (stem) and 2h
// (transit), S=5h, G2=4h, M=1h, three transit generations.
func DefaultParams() Params {
	return Params{
		StemG1:                14,
		TransitG1:             2,
		S:                     5,
		G2:                    4,
		M:                     1,
		MaxTransitGenerations: 3,
		StemG1Range:           Range{Min: 1, Max: 5},
		TransitG1Range:        Range{Min: 1, Max: 3},
	}
}

// Validate rejects negative durations and inverted ranges.
func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"stem_g1": p.StemG1, "transit_g1": p.TransitG1, "s": p.S, "g2": p.G2, "m": p.M,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("cell cycle %s must be non-negative, got %g", name, v)
		}
	}
	if p.MaxTransitGenerations < 0 {
		return fmt.Errorf("max_transit_generations must be non-negative, got %d", p.MaxTransitGenerations)
	}
	for name, r := range map[string]Range{"stem_g1_range": p.StemG1Range, "transit_g1_range": p.TransitG1Range} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("cell cycle %s must satisfy 0 <= min <= max, got [%g, %g]", name, r.Min, r.Max)
		}
	}
	return nil
}

// Model decides when its cell is ready to divide. A Model is owned by
// exactly one cell.
type Model interface {
	// Name identifies the variant in logs and output.
	Name() string

	// ReadyToDivide reports whether the cell should divide now. Once it
	// returns true it keeps returning true until ResetForDivision.
	ReadyToDivide() (bool, error)

	// ResetForDivision clears the latch, sets the phase to M and restarts
	// the cycle at the current time. It fails with ErrNotReady when the
	// latch is not set.
	ResetForDivision() error

	// CreateCellCycleModel returns an independent copy for a daughter.
	CreateCellCycleModel() Model

	// InitialiseDaughterCell applies the daughter-specific adjustments
	// after CreateCellCycleModel.
	InitialiseDaughterCell()

	Age() float64
	BirthTime() float64
	SetBirthTime(t float64)
	Phase() Phase
	ProliferativeType() ProliferativeType
	SetProliferativeType(t ProliferativeType)
	Generation() int
	Durations() Durations
}

// base holds the state shared by every variant.
type base struct {
	clock      Clock
	params     Params
	birthTime  float64
	phase      Phase
	ready      bool
	ptype      ProliferativeType
	generation int
}

func newBase(clock Clock, params Params, ptype ProliferativeType) base {
	return base{
		clock:     clock,
		params:    params,
		birthTime: clock.Now(),
		phase:     M,
		ptype:     ptype,
	}
}

func (b *base) Age() float64 { return b.clock.Now() - b.birthTime }

func (b *base) BirthTime() float64 { return b.birthTime }

func (b *base) SetBirthTime(t float64) { b.birthTime = t }

func (b *base) ProliferativeType() ProliferativeType { return b.ptype }

func (b *base) Generation() int { return b.generation }

// SetGeneration overrides the generation counter, used when seeding a
// tissue with cells part-way down a lineage.
func (b *base) SetGeneration(g int) { b.generation = g }

func (b *base) resetLatch() error {
	if !b.ready {
		return ErrNotReady
	}
	b.ready = false
	b.phase = M
	b.birthTime = b.clock.Now()
	return nil
}
