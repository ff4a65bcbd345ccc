// Package force holds the pairwise mechanical force laws and the node
// position integrator used by the mechanics step.
package force

import (
	"fmt"
	"math"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/vecmath"
)

// View is the read-only slice of a population a force law needs.
type View interface {
	Dim() int
	NodePosition(node int) []float64
	// CellAtNode returns the cell whose location is the node, or nil for
	// ghost nodes and vertices.
	CellAtNode(node int) *cell.Cell
}

// Force computes the force node a feels from node b. The mechanics step
// applies the negation to b.
type Force interface {
	Name() string
	Compute(a, b int, v View) ([]float64, error)
}

// SpringParams configures the linear spring laws.
type SpringParams struct {
	// Stiffness is the spring constant (Meineke's mu).
	Stiffness float64 `json:"spring_stiffness" yaml:"spring_stiffness"`
	// RestLength is the natural separation of two mature cells.
	RestLength float64 `json:"rest_length" yaml:"rest_length"`
	// DivisionSeparation is the separation of a newly divided pair.
	DivisionSeparation float64 `json:"division_separation" yaml:"division_separation"`
	// GrowthDuration is how long a newborn pair takes to reach RestLength.
	GrowthDuration float64 `json:"growth_duration" yaml:"growth_duration"`
	// Cutoff, when positive, zeroes the force beyond this distance.
	Cutoff float64 `json:"cutoff" yaml:"cutoff"`
}

// DefaultSpringParams returns the crypt defaults.
func DefaultSpringParams() SpringParams {
	return SpringParams{
		Stiffness:          15,
		RestLength:         1,
		DivisionSeparation: 0.3,
		GrowthDuration:     1,
	}
}

// Validate checks the parameters.
func (p SpringParams) Validate() error {
	if p.Stiffness <= 0 {
		return fmt.Errorf("spring stiffness must be positive, got %g", p.Stiffness)
	}
	if p.RestLength <= 0 {
		return fmt.Errorf("rest length must be positive, got %g", p.RestLength)
	}
	if p.DivisionSeparation < 0 || p.DivisionSeparation > p.RestLength {
		return fmt.Errorf("division separation must be in [0, rest length], got %g", p.DivisionSeparation)
	}
	if p.GrowthDuration < 0 || p.Cutoff < 0 {
		return fmt.Errorf("growth duration and cutoff must be non-negative")
	}
	return nil
}

// LinearSpring is the generalised linear spring of Meineke et al. The
// rest length grows from DivisionSeparation to RestLength while both cells
// are younger than GrowthDuration, and each apoptotic cell's half of the
// rest length shrinks linearly to zero as it approaches death.
type LinearSpring struct {
	Params SpringParams
}

// NewLinearSpring validates p.
func NewLinearSpring(p SpringParams) (*LinearSpring, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &LinearSpring{Params: p}, nil
}

func (*LinearSpring) Name() string { return "linear_spring" }

func (s *LinearSpring) Compute(a, b int, v View) ([]float64, error) {
	pa, pb := v.NodePosition(a), v.NodePosition(b)
	diff := vecmath.Sub(pb, pa)
	if diff == nil {
		return nil, fmt.Errorf("linear spring: nodes %d and %d differ in dimension", a, b)
	}
	dist := vecmath.Norm(diff)
	if dist == 0 {
		return nil, fmt.Errorf("linear spring: nodes %d and %d coincide", a, b)
	}
	if s.Params.Cutoff > 0 && dist > s.Params.Cutoff {
		return make([]float64, len(diff)), nil
	}

	rest := s.restLength(v.CellAtNode(a), v.CellAtNode(b))
	return vecmath.Scale(s.Params.Stiffness*(dist-rest)/dist, diff), nil
}

func (s *LinearSpring) restLength(ca, cb *cell.Cell) float64 {
	p := s.Params
	rest := p.RestLength
	if ca != nil && cb != nil && p.GrowthDuration > 0 {
		ageA, ageB := ca.Age(), cb.Age()
		if ageA < p.GrowthDuration && ageB < p.GrowthDuration {
			age := math.Max(ageA, 0)
			rest = p.DivisionSeparation + (p.RestLength-p.DivisionSeparation)*age/p.GrowthDuration
		}
	}
	half := rest / 2
	return apoptoticHalf(ca, half) + apoptoticHalf(cb, half)
}

func apoptoticHalf(c *cell.Cell, half float64) float64 {
	if c == nil || !c.HasApoptosisBegun() {
		return half
	}
	left, err := c.TimeUntilDeath()
	if err != nil {
		return half
	}
	total := c.DeathTime() - c.StartOfApoptosisTime()
	if total <= 0 {
		return 0
	}
	return half * math.Max(left, 0) / total
}

// Repulsion is a linear spring that only pushes: beyond the rest length it
// contributes nothing. It suits node-based tissues where distant cells
// should not attract.
type Repulsion struct {
	LinearSpring
}

// NewRepulsion validates p.
func NewRepulsion(p SpringParams) (*Repulsion, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Repulsion{LinearSpring{Params: p}}, nil
}

func (*Repulsion) Name() string { return "repulsion" }

func (r *Repulsion) Compute(a, b int, v View) ([]float64, error) {
	pa, pb := v.NodePosition(a), v.NodePosition(b)
	if vecmath.Distance(pa, pb) >= r.restLength(v.CellAtNode(a), v.CellAtNode(b)) {
		return make([]float64, v.Dim()), nil
	}
	return r.LinearSpring.Compute(a, b, v)
}

// New returns a force law by name: "linear_spring" or "repulsion".
func New(name string, p SpringParams) (Force, error) {
	switch name {
	case "linear_spring", "":
		return NewLinearSpring(p)
	case "repulsion":
		return NewRepulsion(p)
	}
	return nil, fmt.Errorf("unknown force law %q (valid: linear_spring, repulsion)", name)
}
