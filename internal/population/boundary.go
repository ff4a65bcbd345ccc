package population

import (
	"fmt"

	"github.com/nvandessel/cellsim/internal/rng"
)

// DefaultJiggle is the jitter amplitude used for cells pushed back to the
// floor.
const DefaultJiggle = 0.05

// Floor is a lower bound on one coordinate. A node that moves below it is
// put back on the floor, or jiggled up to Jiggle above it so corrected
// cells do not pile up at one height.
type Floor struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Axis    int     `json:"axis" yaml:"axis"`
	Level   float64 `json:"level" yaml:"level"`
	Jiggle  float64 `json:"jiggle" yaml:"jiggle"`
}

// Validate checks the floor against the tissue dimension.
func (f Floor) Validate(dim int) error {
	if !f.Enabled {
		return nil
	}
	if f.Axis < 0 || f.Axis >= dim {
		return fmt.Errorf("floor axis %d outside a %dD tissue", f.Axis, dim)
	}
	if f.Jiggle < 0 {
		return fmt.Errorf("floor jiggle must be non-negative, got %g", f.Jiggle)
	}
	return nil
}

// Below reports whether p lies under the floor.
func (f Floor) Below(p []float64) bool {
	return f.Enabled && p[f.Axis] < f.Level
}

// Correct moves p back onto the floor in place and reports whether it
// moved.
func (f Floor) Correct(p []float64, src *rng.Source) bool {
	if !f.Below(p) {
		return false
	}
	p[f.Axis] = f.Level
	if f.Jiggle > 0 && src != nil {
		p[f.Axis] += f.Jiggle * src.Float64()
	}
	return true
}

// Boundary groups the position corrections applied after mechanics.
type Boundary struct {
	Floor Floor `json:"floor" yaml:"floor"`
	// PinStemCells holds stem cells where they were before the mechanics
	// step, the crypt convention when no Wnt gradient positions them.
	PinStemCells bool `json:"pin_stem_cells" yaml:"pin_stem_cells"`
}
