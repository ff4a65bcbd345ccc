package ode

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	newtonMaxIter = 20
	newtonTol     = 1e-10
)

// BackwardEuler is the implicit first order Euler method. Each step solves
// the implicit equation with Newton iterations on a finite-difference
// Jacobian, which keeps stiff cell-cycle systems stable at steps where
// explicit methods blow up.
type BackwardEuler struct{}

// Adaptive returns false.
func (BackwardEuler) Adaptive() bool { return false }

// Solve implements Solver.
func (BackwardEuler) Solve(sys System, y []float64, tFrom, tTo, dt float64) (Result, error) {
	if err := checkArgs(sys, y, tFrom, tTo, dt); err != nil {
		return Result{}, err
	}

	n := len(y)
	z := make([]float64, n)
	f := make([]float64, n)
	fp := make([]float64, n)
	g := make([]float64, n)
	jac := mat.NewDense(n, n, nil)
	var lu mat.LU
	var delta mat.VecDense

	var res Result
	t := tFrom
	for tTo-t > 1e-12 {
		h := dt
		if t+h > tTo {
			h = tTo - t
		}
		tn := t + h
		copy(z, y)

		converged := false
		for iter := 0; iter < newtonMaxIter; iter++ {
			if err := sys.Derivatives(tn, z, f); err != nil {
				return res, err
			}
			for i := range z {
				g[i] = z[i] - y[i] - h*f[i]
			}

			// J = I - h * df/dz, column by column.
			for j := 0; j < n; j++ {
				eps := 1e-8 * math.Max(1, math.Abs(z[j]))
				orig := z[j]
				z[j] = orig + eps
				if err := sys.Derivatives(tn, z, fp); err != nil {
					return res, err
				}
				z[j] = orig
				for i := 0; i < n; i++ {
					v := -h * (fp[i] - f[i]) / eps
					if i == j {
						v++
					}
					jac.Set(i, j, v)
				}
			}

			lu.Factorize(jac)
			if err := lu.SolveVecTo(&delta, false, mat.NewVecDense(n, g)); err != nil && !isCondition(err) {
				return res, fmt.Errorf("%w: singular Newton system at t=%g: %v", ErrDivergence, tn, err)
			}

			var size float64
			for i := range z {
				d := delta.AtVec(i)
				z[i] -= d
				size = math.Max(size, math.Abs(d)/math.Max(1, math.Abs(z[i])))
			}
			if size < newtonTol {
				converged = true
				break
			}
		}
		if !converged {
			return res, fmt.Errorf("%w: Newton iteration did not converge at t=%g", ErrDivergence, tn)
		}

		copy(y, z)
		t = tn
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

// isCondition reports whether err only warns about an ill-conditioned
// matrix; the solution is still usable.
func isCondition(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}
