// Package population couples a spatial structure with the live cells that
// occupy it and carries out the per-step lifecycle: neighbour update,
// validation, mechanics, boundary conditions, division and the death
// sweep.
//
// Cells live in one arena indexed by location. A slot holds at most one
// cell and each cell records its own slot, so the cell to location map and
// its inverse cannot drift apart except through a bug Validate reports.
package population

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/cellcycle"
	"github.com/nvandessel/cellsim/internal/force"
	"github.com/nvandessel/cellsim/internal/rng"
	"github.com/nvandessel/cellsim/internal/spatial"
	"github.com/nvandessel/cellsim/internal/vecmath"
)

// DefaultMaxPlacementAttempts bounds the daughter placement retries.
const DefaultMaxPlacementAttempts = 1000

var (
	// ErrPlacement is returned when no daughter position satisfying the
	// boundary was found within the retry budget.
	ErrPlacement = errors.New("could not place daughter cell")

	// ErrOccupied is returned when attaching a cell to a taken location.
	ErrOccupied = errors.New("location already holds a cell")
)

// Config tunes the population.
type Config struct {
	// Damping is the drag on wild-type and apoptotic cells.
	Damping float64
	// MutantDamping is the drag on mutant cells.
	MutantDamping float64
	// DivisionSeparation is the distance between parent and daughter
	// centres right after division.
	DivisionSeparation float64
	// MaxPlacementAttempts bounds daughter placement retries.
	MaxPlacementAttempts int
	Boundary             Boundary
}

// DefaultConfig returns unit damping, a 0.3 division separation and no
// boundary.
func DefaultConfig() Config {
	return Config{
		Damping:              1,
		MutantDamping:        1,
		DivisionSeparation:   0.3,
		MaxPlacementAttempts: DefaultMaxPlacementAttempts,
	}
}

// ValidationError describes a broken cell/location correspondence.
type ValidationError struct {
	Location int
	CellID   uint64
	HasCell  bool
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.HasCell {
		return fmt.Sprintf("population invalid at location %d (cell %d): %s", e.Location, e.CellID, e.Reason)
	}
	return fmt.Sprintf("population invalid at location %d: %s", e.Location, e.Reason)
}

// Population is the set of live cells on a spatial structure. It is owned
// by one run and is not safe for concurrent mutation.
type Population struct {
	structure spatial.Structure
	registry  *cell.Registry
	src       *rng.Source
	cfg       Config
	forces    []force.Force
	log       *zap.Logger

	occupants []*cell.Cell
	updated   bool
}

// New returns an empty population on structure.
func New(structure spatial.Structure, registry *cell.Registry, src *rng.Source, cfg Config, log *zap.Logger) (*Population, error) {
	if structure == nil || registry == nil {
		return nil, errors.New("population: structure and registry are required")
	}
	if cfg.Damping <= 0 || cfg.MutantDamping <= 0 {
		return nil, fmt.Errorf("population: damping must be positive (normal %g, mutant %g)", cfg.Damping, cfg.MutantDamping)
	}
	if cfg.MaxPlacementAttempts <= 0 {
		cfg.MaxPlacementAttempts = DefaultMaxPlacementAttempts
	}
	if err := cfg.Boundary.Floor.Validate(structure.Dim()); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Population{
		structure: structure,
		registry:  registry,
		src:       src,
		cfg:       cfg,
		log:       log,
		occupants: make([]*cell.Cell, structure.LocationCount()),
	}, nil
}

// AddForce registers a force law for the mechanics step.
func (p *Population) AddForce(f force.Force) {
	p.forces = append(p.forces, f)
}

// Structure returns the spatial structure.
func (p *Population) Structure() spatial.Structure { return p.structure }

// Registry returns the cell registry.
func (p *Population) Registry() *cell.Registry { return p.registry }

// Rand returns the run's random source.
func (p *Population) Rand() *rng.Source { return p.src }

// Now returns the current simulated time.
func (p *Population) Now() float64 { return p.registry.Now() }

// Dim returns the spatial dimension.
func (p *Population) Dim() int { return p.structure.Dim() }

// AddCell attaches c to the live, empty location loc.
func (p *Population) AddCell(c *cell.Cell, loc int) error {
	if !p.structure.IsLocationLive(loc) {
		return fmt.Errorf("add cell %d at %d: %w", c.ID(), loc, spatial.ErrNoLocation)
	}
	p.grow()
	if p.occupants[loc] != nil {
		return fmt.Errorf("add cell %d at %d: %w", c.ID(), loc, ErrOccupied)
	}
	p.occupants[loc] = c
	c.SetLocation(loc)
	return nil
}

func (p *Population) grow() {
	for len(p.occupants) < p.structure.LocationCount() {
		p.occupants = append(p.occupants, nil)
	}
}

// Cells returns the live cells in location order.
func (p *Population) Cells() []*cell.Cell {
	out := make([]*cell.Cell, 0, len(p.occupants))
	for _, c := range p.occupants {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// NumCells returns the number of live cells.
func (p *Population) NumCells() int {
	n := 0
	for _, c := range p.occupants {
		if c != nil {
			n++
		}
	}
	return n
}

// CellAt returns the cell at loc, or nil.
func (p *Population) CellAt(loc int) *cell.Cell {
	if loc < 0 || loc >= len(p.occupants) {
		return nil
	}
	return p.occupants[loc]
}

// CellCentre returns the position of the location c occupies.
func (p *Population) CellCentre(c *cell.Cell) []float64 {
	return p.structure.Centre(c.Location())
}

// NodePosition implements force.View.
func (p *Population) NodePosition(node int) []float64 {
	return p.structure.Node(node).Position
}

// CellAtNode implements force.View: the cell of a node's only location.
func (p *Population) CellAtNode(node int) *cell.Cell {
	locs := p.structure.NodeLocations(node)
	if len(locs) != 1 {
		return nil
	}
	return p.CellAt(locs[0])
}

// Update compacts or remeshes the structure, re-keys the arena through the
// returned index map and rebuilds the neighbour pairs.
func (p *Population) Update() error {
	m, err := p.structure.Update()
	if err != nil {
		return fmt.Errorf("update spatial structure: %w", err)
	}
	if !m.IsIdentity() || len(m) != p.structure.LocationCount() {
		next := make([]*cell.Cell, p.structure.LocationCount())
		for old, c := range p.occupants {
			if c == nil {
				continue
			}
			nw, ok := m.Lookup(old)
			if !ok {
				return &ValidationError{Location: old, CellID: c.ID(), HasCell: true, Reason: "remesh removed an occupied location"}
			}
			next[nw] = c
			c.SetLocation(nw)
		}
		p.occupants = next
	}
	p.grow()
	p.updated = true
	return nil
}

// NeighborPairs returns the cached pairs. Before the first Update it fails
// with spatial.ErrNotUpdated.
func (p *Population) NeighborPairs() ([]spatial.Pair, error) {
	if !p.updated {
		return nil, spatial.ErrNotUpdated
	}
	return p.structure.NeighborPairs()
}

// Validate checks that live cells and live locations correspond one to one.
func (p *Population) Validate() error {
	seen := make(map[*cell.Cell]bool)
	for loc, c := range p.occupants {
		if c == nil {
			continue
		}
		switch {
		case !p.structure.IsLocationLive(loc):
			return &ValidationError{Location: loc, CellID: c.ID(), HasCell: true, Reason: "cell attached to a deleted location"}
		case c.Location() != loc:
			return &ValidationError{Location: loc, CellID: c.ID(), HasCell: true, Reason: fmt.Sprintf("cell records location %d", c.Location())}
		case seen[c]:
			return &ValidationError{Location: loc, CellID: c.ID(), HasCell: true, Reason: "cell occupies more than one location"}
		case c.Released():
			return &ValidationError{Location: loc, CellID: c.ID(), HasCell: true, Reason: "released cell still attached"}
		}
		seen[c] = true
	}
	for loc := 0; loc < p.structure.LocationCount(); loc++ {
		if p.structure.IsLocationLive(loc) && p.CellAt(loc) == nil {
			return &ValidationError{Location: loc, Reason: "live location has no cell"}
		}
	}
	return nil
}

// ComputeForces sums every force law over every neighbour pair and returns
// the net force per node.
func (p *Population) ComputeForces() ([][]float64, error) {
	pairs, err := p.NeighborPairs()
	if err != nil {
		return nil, err
	}
	dim := p.Dim()
	forces := make([][]float64, p.structure.NodeCount())
	for i := range forces {
		forces[i] = make([]float64, dim)
	}
	for _, pair := range pairs {
		for _, law := range p.forces {
			f, err := law.Compute(pair.A, pair.B, p)
			if err != nil {
				return nil, fmt.Errorf("%s between nodes %d and %d: %w", law.Name(), pair.A, pair.B, err)
			}
			vecmath.AddScaledInPlace(forces[pair.A], 1, f)
			vecmath.AddScaledInPlace(forces[pair.B], -1, f)
		}
	}
	return forces, nil
}

// damping returns the drag for a node: mutant damping if any cell using
// the node is mutant.
func (p *Population) damping(node int) float64 {
	for _, loc := range p.structure.NodeLocations(node) {
		if c := p.CellAt(loc); c != nil && c.MutationState().IsMutant() {
			return p.cfg.MutantDamping
		}
	}
	return p.cfg.Damping
}

// MoveNodes advances every live node by one forward Euler step and returns
// the positions from before the move.
func (p *Population) MoveNodes(forces [][]float64, dt float64) ([][]float64, error) {
	var fe force.ForwardEuler
	old := make([][]float64, p.structure.NodeCount())
	for i := range old {
		n := p.structure.Node(i)
		if n.Deleted {
			continue
		}
		old[i] = n.Position
		next, err := fe.Step(n.Position, forces[i], p.damping(i), dt)
		if err != nil {
			return nil, fmt.Errorf("move node %d: %w", i, err)
		}
		if err := p.structure.SetNodePosition(i, next); err != nil {
			return nil, err
		}
	}
	return old, nil
}

// ApplyBoundaryConditions pins stem cells back to their old positions when
// configured and lifts nodes that fell below the floor. old is the result
// of MoveNodes and may be nil when nothing is pinned.
func (p *Population) ApplyBoundaryConditions(old [][]float64) error {
	b := p.cfg.Boundary
	for i := 0; i < p.structure.NodeCount(); i++ {
		n := p.structure.Node(i)
		if n.Deleted {
			continue
		}
		pos := n.Position
		changed := false
		if b.PinStemCells && old != nil && old[i] != nil && p.nodeHoldsStemCell(i) {
			pos = vecmath.Clone(old[i])
			changed = true
		}
		if b.Floor.Correct(pos, p.src) {
			changed = true
		}
		if changed {
			if err := p.structure.SetNodePosition(i, pos); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Population) nodeHoldsStemCell(node int) bool {
	c := p.CellAtNode(node)
	return c != nil && c.ProliferativeType() == cellcycle.Stem
}

// SetBottomCellAncestors gives every cell whose centre lies below height
// on the floor axis its own ancestor tag, numbered from 0 in location
// order, so clones from the crypt base can be followed.
func (p *Population) SetBottomCellAncestors(height float64) int {
	axis := p.cfg.Boundary.Floor.Axis
	if axis >= p.Dim() {
		axis = p.Dim() - 1
	}
	next := int64(0)
	for _, c := range p.Cells() {
		if p.CellCentre(c)[axis] < height {
			c.SetAncestor(next)
			next++
		}
	}
	return int(next)
}

// LiveCellsByState counts live cells per mutation state by scanning the
// arena. Validate-style cross-checks compare it with the registry.
func (p *Population) LiveCellsByState() map[cell.MutationState]int {
	out := make(map[cell.MutationState]int)
	for _, c := range p.Cells() {
		out[c.MutationState()]++
	}
	return out
}

// MeanAge returns the mean age of live cells, or NaN when empty.
func (p *Population) MeanAge() float64 {
	cells := p.Cells()
	if len(cells) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, c := range cells {
		sum += c.Age()
	}
	return sum / float64(len(cells))
}
