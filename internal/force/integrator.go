package force

import (
	"fmt"
	"math"
)

// ForwardEuler advances a node by dt*F/damping, the overdamped equation of
// motion used for cell-centre models.
type ForwardEuler struct{}

// Step returns the new position of a node at pos with net force f.
func (ForwardEuler) Step(pos, f []float64, damping, dt float64) ([]float64, error) {
	if damping <= 0 {
		return nil, fmt.Errorf("damping must be positive, got %g", damping)
	}
	if len(pos) != len(f) {
		return nil, fmt.Errorf("force has %d components, position has %d", len(f), len(pos))
	}
	out := make([]float64, len(pos))
	for i := range pos {
		out[i] = pos[i] + dt*f[i]/damping
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, fmt.Errorf("node position diverged (component %d is %g)", i, out[i])
		}
	}
	return out, nil
}
