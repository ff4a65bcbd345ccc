package ode

import (
	"fmt"
	"math"
)

// minStep is the smallest step RKF45 will try before giving up.
const minStep = 1e-12

// RKF45 is the Runge-Kutta-Fehlberg 4(5) method with step size control.
// The dt passed to Solve is the maximum step.
type RKF45 struct {
	AbsTol float64
	RelTol float64
}

// NewRKF45 returns an adaptive solver with the given tolerances.
func NewRKF45(absTol, relTol float64) *RKF45 {
	return &RKF45{AbsTol: absTol, RelTol: relTol}
}

// Adaptive returns true.
func (*RKF45) Adaptive() bool { return true }

// Solve implements Solver.
func (s *RKF45) Solve(sys System, y []float64, tFrom, tTo, dt float64) (Result, error) {
	if err := checkArgs(sys, y, tFrom, tTo, dt); err != nil {
		return Result{}, err
	}

	n := len(y)
	k := make([][]float64, 6)
	for i := range k {
		k[i] = make([]float64, n)
	}
	tmp := make([]float64, n)
	y4 := make([]float64, n)
	y5 := make([]float64, n)

	var res Result
	t := tFrom
	h := dt
	for tTo-t > 1e-12 {
		if t+h > tTo {
			h = tTo - t
		}

		if err := s.stages(sys, t, h, y, k, tmp); err != nil {
			return res, err
		}
		var errNorm float64
		for i := range y {
			y4[i] = y[i] + h*(25.0/216*k[0][i]+1408.0/2565*k[2][i]+2197.0/4104*k[3][i]-k[4][i]/5)
			y5[i] = y[i] + h*(16.0/135*k[0][i]+6656.0/12825*k[2][i]+28561.0/56430*k[3][i]-9.0/50*k[4][i]+2.0/55*k[5][i])
			scale := s.AbsTol + s.RelTol*math.Max(math.Abs(y[i]), math.Abs(y5[i]))
			errNorm = math.Max(errNorm, math.Abs(y5[i]-y4[i])/scale)
		}
		if math.IsNaN(errNorm) {
			return res, fmt.Errorf("%w: error estimate is NaN at t=%g", ErrDivergence, t)
		}

		if errNorm <= 1 {
			t += h
			copy(y, y5)
			res.Steps++
			if err := checkState(sys, t, y); err != nil {
				return res, err
			}
			stop, err := sys.StoppingEvent(t, y)
			if err != nil {
				return res, err
			}
			if stop {
				res.Stopped = true
				res.StopTime = t
				return res, nil
			}
		}

		factor := 4.0
		if errNorm > 0 {
			factor = math.Min(4, math.Max(0.1, 0.84*math.Pow(1/errNorm, 0.25)))
		}
		h = math.Min(h*factor, dt)
		if h < minStep {
			return res, fmt.Errorf("%w: step size underflow at t=%g", ErrDivergence, t)
		}
	}
	return res, nil
}

func (s *RKF45) stages(sys System, t, h float64, y []float64, k [][]float64, tmp []float64) error {
	if err := sys.Derivatives(t, y, k[0]); err != nil {
		return err
	}
	for i := range y {
		tmp[i] = y[i] + h*k[0][i]/4
	}
	if err := sys.Derivatives(t+h/4, tmp, k[1]); err != nil {
		return err
	}
	for i := range y {
		tmp[i] = y[i] + h*(3.0/32*k[0][i]+9.0/32*k[1][i])
	}
	if err := sys.Derivatives(t+3*h/8, tmp, k[2]); err != nil {
		return err
	}
	for i := range y {
		tmp[i] = y[i] + h*(1932.0/2197*k[0][i]-7200.0/2197*k[1][i]+7296.0/2197*k[2][i])
	}
	if err := sys.Derivatives(t+12*h/13, tmp, k[3]); err != nil {
		return err
	}
	for i := range y {
		tmp[i] = y[i] + h*(439.0/216*k[0][i]-8*k[1][i]+3680.0/513*k[2][i]-845.0/4104*k[3][i])
	}
	if err := sys.Derivatives(t+h, tmp, k[4]); err != nil {
		return err
	}
	for i := range y {
		tmp[i] = y[i] + h*(-8.0/27*k[0][i]+2*k[1][i]-3544.0/2565*k[2][i]+1859.0/4104*k[3][i]-11.0/40*k[4][i])
	}
	return sys.Derivatives(t+h/2, tmp, k[5])
}
