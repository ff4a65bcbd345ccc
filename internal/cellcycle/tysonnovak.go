package cellcycle

import (
	"fmt"
	"math"

	"github.com/nvandessel/cellsim/internal/ode"
)

// DivisionMode selects how the Tyson-Novak state is partitioned when a
// cell divides.
type DivisionMode int

const (
	// DivisionAuto halves mass with adaptive solvers and resets otherwise.
	DivisionAuto DivisionMode = iota
	// DivisionHalve halves the mass variable and keeps the rest.
	DivisionHalve
	// DivisionReset restores the canonical initial conditions. Fixed-step
	// solvers drift off the limit cycle over many periods when only the
	// mass is halved, so they need this.
	DivisionReset
)

// ParseDivisionMode maps "auto", "halve" or "reset".
func ParseDivisionMode(s string) (DivisionMode, error) {
	switch s {
	case "auto", "":
		return DivisionAuto, nil
	case "halve":
		return DivisionHalve, nil
	case "reset":
		return DivisionReset, nil
	}
	return 0, fmt.Errorf("unknown ODE division mode %q (valid: auto, halve, reset)", s)
}

func (m DivisionMode) String() string {
	switch m {
	case DivisionHalve:
		return "halve"
	case DivisionReset:
		return "reset"
	}
	return "auto"
}

// tysonNovakStep is the integration step in hours (0.1 minutes).
const tysonNovakStep = 0.1 / 60

// TysonNovakAverageCycleTime is the mean cycle length in hours.
const TysonNovakAverageCycleTime = 1.25

// TysonNovak is the ODE-based model of Tyson and Novak (2001). G1 is the
// time from birth to the CycB threshold crossing; S, G2 and M are zero
// because the ODEs cover the whole cycle.
type TysonNovak struct {
	base
	solver     ode.Solver
	mode       DivisionMode
	sys        tysonNovakSystem
	y          []float64
	lastTime   float64
	divideTime float64
	finished   bool
	g1         float64
}

// NewTysonNovak returns a model born now at the canonical initial
// conditions. A nil solver is a configuration error.
func NewTysonNovak(clock Clock, solver ode.Solver, mode DivisionMode, ptype ProliferativeType) (*TysonNovak, error) {
	if solver == nil {
		return nil, ErrNoIntegrator
	}
	b := newBase(clock, Params{}, ptype)
	return &TysonNovak{
		base:     b,
		solver:   solver,
		mode:     mode,
		y:        tysonNovakInitial(),
		lastTime: b.birthTime,
	}, nil
}

func (*TysonNovak) Name() string { return "tyson_novak" }

// State returns a copy of the ODE state vector.
func (tn *TysonNovak) State() []float64 {
	out := make([]float64, len(tn.y))
	copy(out, tn.y)
	return out
}

// SetBirthTime also moves the integration start, so a cell seeded with a
// past birth time integrates from then.
func (tn *TysonNovak) SetBirthTime(t float64) {
	tn.birthTime = t
	tn.lastTime = t
}

func (tn *TysonNovak) SetProliferativeType(t ProliferativeType) { tn.ptype = t }

func (tn *TysonNovak) Phase() Phase { return tn.phase }

func (tn *TysonNovak) Durations() Durations { return Durations{G1: tn.g1} }

// DivideTime returns the time of the last threshold crossing.
func (tn *TysonNovak) DivideTime() float64 { return tn.divideTime }

func (tn *TysonNovak) ReadyToDivide() (bool, error) {
	if tn.ready {
		return true, nil
	}
	now := tn.clock.Now()
	if !tn.finished && now > tn.lastTime {
		res, err := tn.solver.Solve(&tn.sys, tn.y, tn.lastTime, now, tysonNovakStep)
		if err != nil {
			return false, fmt.Errorf("tyson-novak cell cycle: %w", err)
		}
		if res.Stopped {
			tn.finished = true
			tn.divideTime = res.StopTime
			tn.g1 = res.StopTime - tn.birthTime
			tn.lastTime = res.StopTime
		} else {
			tn.lastTime = now
		}
	}
	if tn.finished && now >= tn.divideTime {
		tn.ready = true
		tn.phase = M
		return true, nil
	}
	tn.phase = G1
	return false, nil
}

// ResetForDivision restarts the cycle at the threshold crossing and
// partitions the state according to the division mode.
func (tn *TysonNovak) ResetForDivision() error {
	if err := tn.resetLatch(); err != nil {
		return err
	}
	tn.birthTime = tn.divideTime
	tn.lastTime = tn.divideTime
	tn.finished = false
	tn.sys.armed = false

	halve := tn.mode == DivisionHalve || (tn.mode == DivisionAuto && tn.solver.Adaptive())
	if halve {
		tn.y[tnMass] *= 0.5
	} else {
		tn.y = tysonNovakInitial()
	}
	return nil
}

func (tn *TysonNovak) CreateCellCycleModel() Model {
	c := *tn
	c.y = make([]float64, len(tn.y))
	copy(c.y, tn.y)
	return &c
}

// InitialiseDaughterCell demotes a stem daughter to transit.
func (tn *TysonNovak) InitialiseDaughterCell() {
	if tn.ptype == Stem {
		tn.ptype = Transit
	}
}

// State vector indices.
const (
	tnCycB = iota
	tnCdh1
	tnCdc20T
	tnCdc20A
	tnIEP
	tnMass
	tnSize
)

// Rate constants, per minute.
const (
	tnK1     = 0.04
	tnK2d    = 0.04
	tnK2dd   = 1.0
	tnK3d    = 1.0
	tnK3dd   = 10.0
	tnK4     = 35.0
	tnJ3     = 0.04
	tnJ4     = 0.04
	tnK5d    = 0.005
	tnK5dd   = 0.2
	tnK6     = 0.1
	tnJ5     = 0.3
	tnN      = 4
	tnK7     = 1.0
	tnK8     = 0.5
	tnJ7     = 1e-3
	tnJ8     = 1e-3
	tnMad    = 1.0
	tnK9     = 0.1
	tnK10    = 0.02
	tnMu     = 0.01
	tnMstar  = 10.0
	tnCycBTh = 0.1

	minutesPerHour = 60.0
)

func tysonNovakInitial() []float64 {
	return []float64{
		0.09871747935669,
		0.98997151365259,
		1.54294119626341,
		1.40694789129912,
		0.67089313148601,
		0.95374837005522,
	}
}

// tysonNovakSystem is the budding-yeast cycle in hours. The stopping event
// fires when CycB falls through the threshold; it is armed only after CycB
// has been above the threshold since the last division, so the low-CycB
// state right after division does not retrigger it.
type tysonNovakSystem struct {
	armed bool
}

func (*tysonNovakSystem) Size() int { return tnSize }

func (*tysonNovakSystem) Derivatives(_ float64, y, dydt []float64) error {
	x1, x2, x3, x4, x5, x6 := y[tnCycB], y[tnCdh1], y[tnCdc20T], y[tnCdc20A], y[tnIEP], y[tnMass]

	dx1 := tnK1 - (tnK2d+tnK2dd*x2)*x1

	act := (tnK3d + tnK3dd*x4) * (1 - x2) / (tnJ3 + 1 - x2)
	inact := tnK4 * x6 * x1 * x2 / (tnJ4 + x2)
	dx2 := act - inact

	hill := math.Pow(x1*x6/tnJ5, tnN)
	dx3 := tnK5d + tnK5dd*hill/(1+hill) - tnK6*x3

	dx4 := tnK7*x5*(x3-x4)/(tnJ7+x3-x4) - tnK8*tnMad*x4/(tnJ8+x4) - tnK6*x4

	dx5 := tnK9*x6*x1*(1-x5) - tnK10*x5

	dx6 := tnMu * x6 * (1 - x6/tnMstar)

	for i, d := range []float64{dx1, dx2, dx3, dx4, dx5, dx6} {
		dydt[i] = d * minutesPerHour
	}
	return nil
}

func (s *tysonNovakSystem) StoppingEvent(t float64, y []float64) (bool, error) {
	if y[tnCycB] >= tnCycBTh {
		s.armed = true
		return false, nil
	}
	if !s.armed {
		return false, nil
	}
	dydt := make([]float64, tnSize)
	if err := s.Derivatives(t, y, dydt); err != nil {
		return false, err
	}
	return dydt[tnCycB] < 0, nil
}

// Validate rejects negative concentrations or mass.
func (*tysonNovakSystem) Validate(y []float64) error {
	for i, v := range y {
		if v < -1e-6 {
			return fmt.Errorf("tyson-novak variable %d is negative (%g)", i, v)
		}
	}
	return nil
}
