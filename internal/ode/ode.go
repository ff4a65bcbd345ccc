// Package ode integrates small systems of ordinary differential equations
// for the ODE-driven cell-cycle models.
//
// A Solver advances a System's state vector in place from one time to
// another and reports whether the system's stopping event fired on the way.
// Three solvers are provided: BackwardEuler and RK4 (fixed step) and RKF45
// (adaptive step with a fourth/fifth order error estimate).
package ode

import (
	"errors"
	"fmt"
	"math"
)

// ErrDivergence is returned when the state leaves the physically valid
// range or stops being finite. It is fatal for the run.
var ErrDivergence = errors.New("ode: integration diverged")

// System is an ODE system dy/dt = f(t, y).
type System interface {
	// Size is the length of the state vector.
	Size() int

	// Derivatives writes f(t, y) into dydt.
	Derivatives(t float64, y, dydt []float64) error

	// StoppingEvent reports whether the integration should halt at (t, y).
	StoppingEvent(t float64, y []float64) (bool, error)
}

// Validator is implemented by systems that can reject a state vector as
// physically impossible, for example a negative concentration.
type Validator interface {
	Validate(y []float64) error
}

// Result describes the outcome of one Solve call.
type Result struct {
	// Stopped is true when the stopping event fired.
	Stopped bool
	// StopTime is the time at which it fired. Valid only when Stopped.
	StopTime float64
	// Steps counts accepted steps.
	Steps int
}

// Solver advances y from tFrom to tTo with step (or maximum step) dt.
// y is updated in place. When the stopping event fires, y holds the state
// at Result.StopTime.
type Solver interface {
	Solve(sys System, y []float64, tFrom, tTo, dt float64) (Result, error)

	// Adaptive reports whether the solver controls its own error. Cell-cycle
	// models use this to choose how state is partitioned at division.
	Adaptive() bool
}

// New returns a solver by name: "backward_euler", "rk4" or "rkf45".
func New(name string) (Solver, error) {
	switch name {
	case "backward_euler", "":
		return BackwardEuler{}, nil
	case "rk4":
		return RK4{}, nil
	case "rkf45":
		return NewRKF45(1e-6, 1e-6), nil
	}
	return nil, fmt.Errorf("ode: unknown solver %q (valid: backward_euler, rk4, rkf45)", name)
}

func checkArgs(sys System, y []float64, tFrom, tTo, dt float64) error {
	if sys == nil {
		return errors.New("ode: nil system")
	}
	if len(y) != sys.Size() {
		return fmt.Errorf("ode: state has %d variables, system wants %d", len(y), sys.Size())
	}
	if dt <= 0 {
		return fmt.Errorf("ode: step must be positive, got %g", dt)
	}
	if tTo < tFrom {
		return fmt.Errorf("ode: end time %g before start time %g", tTo, tFrom)
	}
	return nil
}

func checkState(sys System, t float64, y []float64) error {
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: variable %d is %g at t=%g", ErrDivergence, i, v, t)
		}
	}
	if v, ok := sys.(Validator); ok {
		if err := v.Validate(y); err != nil {
			return fmt.Errorf("%w at t=%g: %v", ErrDivergence, t, err)
		}
	}
	return nil
}
