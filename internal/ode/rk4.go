package ode

import (
	"gonum.org/v1/gonum/floats"
)

// RK4 is the classical fixed-step fourth order Runge-Kutta method.
type RK4 struct{}

// Adaptive returns false.
func (RK4) Adaptive() bool { return false }

// Solve implements Solver.
func (RK4) Solve(sys System, y []float64, tFrom, tTo, dt float64) (Result, error) {
	if err := checkArgs(sys, y, tFrom, tTo, dt); err != nil {
		return Result{}, err
	}

	n := len(y)
	k1 := make([]float64, n)
	k2 := make([]float64, n)
	k3 := make([]float64, n)
	k4 := make([]float64, n)
	tmp := make([]float64, n)

	var res Result
	t := tFrom
	for tTo-t > 1e-12 {
		h := dt
		if t+h > tTo {
			h = tTo - t
		}

		if err := sys.Derivatives(t, y, k1); err != nil {
			return res, err
		}
		floats.AddScaledTo(tmp, y, h/2, k1)
		if err := sys.Derivatives(t+h/2, tmp, k2); err != nil {
			return res, err
		}
		floats.AddScaledTo(tmp, y, h/2, k2)
		if err := sys.Derivatives(t+h/2, tmp, k3); err != nil {
			return res, err
		}
		floats.AddScaledTo(tmp, y, h, k3)
		if err := sys.Derivatives(t+h, tmp, k4); err != nil {
			return res, err
		}

		for i := range y {
			y[i] += h / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
		}
		t += h
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
	return res, nil
}
