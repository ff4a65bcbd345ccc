// Package tissue generates initial tissues: node positions on a regular
// lattice and a freshly seeded cell at each of them.
package tissue

import (
	"fmt"
	"math"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/cellcycle"
	"github.com/nvandessel/cellsim/internal/population"
	"github.com/nvandessel/cellsim/internal/rng"
	"github.com/nvandessel/cellsim/internal/spatial"
)

// Structure kinds accepted by NewStructure.
const (
	KindNodeBased = "node_based"
	KindChain     = "chain"
)

// Spec describes an initial tissue.
type Spec struct {
	// Kind is node_based (1 to 3D free nodes) or chain (1D mesh with ghost
	// nodes at both ends).
	Kind string `json:"kind" yaml:"kind"`
	Dim  int    `json:"dim" yaml:"dim"`
	// Cols, Rows and Layers give the lattice size per axis. 2D lattices
	// are honeycombs: odd rows shift half a spacing.
	Cols   int `json:"cols" yaml:"cols"`
	Rows   int `json:"rows" yaml:"rows"`
	Layers int `json:"layers" yaml:"layers"`
	// Spacing is the distance between lattice neighbours.
	Spacing float64 `json:"spacing" yaml:"spacing"`
	// Cutoff is the neighbour interaction radius for node-based tissues.
	// Zero is accepted here and fails at the first neighbour update.
	Cutoff float64 `json:"cutoff" yaml:"cutoff"`
	// GhostLayers is the number of ghost nodes at each end of a chain.
	GhostLayers int `json:"ghost_layers" yaml:"ghost_layers"`
	// StemRows is how many bottom rows (along the last axis) start as
	// stem cells; the rest start as transit cells.
	StemRows int `json:"stem_rows" yaml:"stem_rows"`
	// RandomBirthTimes spreads birth times uniformly over one cycle before
	// the start so the tissue is not synchronised.
	RandomBirthTimes bool `json:"random_birth_times" yaml:"random_birth_times"`
	// Mutation is the initial mutation state of every cell.
	Mutation string `json:"mutation,omitempty" yaml:"mutation,omitempty"`
}

// DefaultSpec returns a small 2D honeycomb crypt base.
func DefaultSpec() Spec {
	return Spec{
		Kind:     KindNodeBased,
		Dim:      2,
		Cols:     6,
		Rows:     4,
		Layers:   1,
		Spacing:  1,
		Cutoff:   1.5,
		StemRows: 1,
	}
}

// Validate checks the lattice description.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindNodeBased, "":
	case KindChain:
		if s.Dim != 1 {
			return fmt.Errorf("chain tissues are 1D, got dim %d", s.Dim)
		}
		if s.GhostLayers < 0 {
			return fmt.Errorf("ghost_layers must be non-negative, got %d", s.GhostLayers)
		}
	default:
		return fmt.Errorf("unknown tissue kind %q (valid: %s, %s)", s.Kind, KindNodeBased, KindChain)
	}
	if s.Dim < 1 || s.Dim > spatial.MaxDim {
		return fmt.Errorf("tissue dim must be 1..%d, got %d", spatial.MaxDim, s.Dim)
	}
	if s.Cols < 1 {
		return fmt.Errorf("tissue needs at least one column, got %d", s.Cols)
	}
	if s.Dim >= 2 && s.Rows < 1 {
		return fmt.Errorf("tissue needs at least one row, got %d", s.Rows)
	}
	if s.Dim == 3 && s.Layers < 1 {
		return fmt.Errorf("tissue needs at least one layer, got %d", s.Layers)
	}
	if s.Spacing <= 0 {
		return fmt.Errorf("tissue spacing must be positive, got %g", s.Spacing)
	}
	if s.Cutoff < 0 {
		return fmt.Errorf("tissue cutoff must be non-negative, got %g", s.Cutoff)
	}
	if s.StemRows < 0 {
		return fmt.Errorf("stem_rows must be non-negative, got %d", s.StemRows)
	}
	if s.Mutation != "" {
		if _, err := cell.ParseMutationState(s.Mutation); err != nil {
			return err
		}
	}
	return nil
}

// Line returns n points spaced along the x axis from the origin.
func Line(n int, spacing float64) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{float64(i) * spacing}
	}
	return out
}

// Honeycomb returns a cols x rows hexagonal lattice, row by row from the
// bottom. Rows are sqrt(3)/2 spacings apart and odd rows shift right by
// half a spacing, so every interior point has six equidistant neighbours.
func Honeycomb(cols, rows int, spacing float64) [][]float64 {
	h := spacing * math.Sqrt(3) / 2
	out := make([][]float64, 0, cols*rows)
	for r := 0; r < rows; r++ {
		shift := 0.0
		if r%2 == 1 {
			shift = spacing / 2
		}
		for c := 0; c < cols; c++ {
			out = append(out, []float64{float64(c)*spacing + shift, float64(r) * h})
		}
	}
	return out
}

// Cubic returns a cols x rows x layers lattice, layer by layer from z=0.
func Cubic(cols, rows, layers int, spacing float64) [][]float64 {
	out := make([][]float64, 0, cols*rows*layers)
	for l := 0; l < layers; l++ {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				out = append(out, []float64{float64(c) * spacing, float64(r) * spacing, float64(l) * spacing})
			}
		}
	}
	return out
}

// Points returns the lattice described by s.
func (s Spec) Points() [][]float64 {
	switch s.Dim {
	case 1:
		return Line(s.Cols, s.Spacing)
	case 2:
		return Honeycomb(s.Cols, s.Rows, s.Spacing)
	}
	return Cubic(s.Cols, s.Rows, s.Layers, s.Spacing)
}

// rowOf returns the lattice row of point index i along the last axis.
func (s Spec) rowOf(i int) int {
	switch s.Dim {
	case 1:
		return 0
	case 2:
		return i / s.Cols
	}
	return i / (s.Cols * s.Rows)
}

// NewStructure builds the empty spatial structure for s together with the
// lattice points it will hold. For chains the returned slice of cell
// locations skips the ghost nodes.
func NewStructure(s Spec) (spatial.Structure, []int, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	pts := s.Points()

	if s.Kind == KindChain {
		xs := make([]float64, 0, len(pts)+2*s.GhostLayers)
		var ghosts, locs []int
		for g := s.GhostLayers; g > 0; g-- {
			ghosts = append(ghosts, len(xs))
			xs = append(xs, -float64(g)*s.Spacing)
		}
		for _, p := range pts {
			locs = append(locs, len(xs))
			xs = append(xs, p[0])
		}
		end := pts[len(pts)-1][0]
		for g := 1; g <= s.GhostLayers; g++ {
			ghosts = append(ghosts, len(xs))
			xs = append(xs, end+float64(g)*s.Spacing)
		}
		mb, err := spatial.NewMeshBased(spatial.NewChainMesh(xs), ghosts)
		if err != nil {
			return nil, nil, err
		}
		return mb, locs, nil
	}

	nb, err := spatial.NewNodeBased(s.Dim, s.Cutoff)
	if err != nil {
		return nil, nil, err
	}
	locs := make([]int, len(pts))
	for i, p := range pts {
		if locs[i], err = nb.AddNode(p); err != nil {
			return nil, nil, err
		}
	}
	return nb, locs, nil
}

// Seed creates one cell per location using factory. Each cell is its own
// ancestor, numbered by seeding order. Cells are born one M phase before
// start (they have just divided) unless random birth times are requested.
func Seed(s Spec, pop *population.Population, locs []int, factory cellcycle.Factory, src *rng.Source, start float64) error {
	state := cell.WildType
	if s.Mutation != "" {
		var err error
		if state, err = cell.ParseMutationState(s.Mutation); err != nil {
			return err
		}
	}
	for i, loc := range locs {
		ptype := cellcycle.Transit
		if s.rowOf(i) < s.StemRows {
			ptype = cellcycle.Stem
		}
		model, err := factory(ptype)
		if err != nil {
			return fmt.Errorf("seed cell %d: %w", i, err)
		}
		c, err := pop.Registry().NewCell(model, state)
		if err != nil {
			return fmt.Errorf("seed cell %d: %w", i, err)
		}
		c.SetBirthTime(start - birthOffset(s, model, src))
		c.SetAncestor(int64(i))
		if err := pop.AddCell(c, loc); err != nil {
			c.Release()
			return err
		}
	}
	return nil
}

func birthOffset(s Spec, m cellcycle.Model, src *rng.Source) float64 {
	d := m.Durations()
	if !s.RandomBirthTimes || src == nil {
		return d.M
	}
	cycle := d.Total()
	if cycle <= 0 || math.IsInf(cycle, 0) {
		cycle = cellcycle.TysonNovakAverageCycleTime
	}
	return src.Uniform(0, cycle)
}
