package population

import (
	"fmt"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/cellcycle"
	"github.com/nvandessel/cellsim/internal/vecmath"
	"go.uber.org/zap"
)

// DivisionEvent records one division.
type DivisionEvent struct {
	Time           float64
	ParentID       uint64
	DaughterID     uint64
	ParentLocation int
	// DaughterLocation is the daughter's location at the time of division;
	// a later Update may renumber it.
	DaughterLocation int
	Ancestor         int64
	ParentPosition   []float64
	DaughterPosition []float64
}

// DeathEvent records one cell removed by the death sweep.
type DeathEvent struct {
	Time      float64
	CellID    uint64
	Location  int
	Apoptotic bool
	Ancestor  int64
	Mutation  cell.MutationState
}

// placement chooses parent and daughter positions for a division. The pair
// is separated along a random direction; a pinned parent stays put and the
// daughter is placed a full separation away. A daughter under the floor is
// redrawn, up to the attempt budget.
func (p *Population) placement(c *cell.Cell) (parent, daughter []float64, err error) {
	centre := p.CellCentre(c)
	sep := p.cfg.DivisionSeparation
	pinned := p.cfg.Boundary.PinStemCells && c.ProliferativeType() == cellcycle.Stem
	floor := p.cfg.Boundary.Floor

	for attempt := 0; attempt < p.cfg.MaxPlacementAttempts; attempt++ {
		dir := p.src.UnitVector(p.Dim())
		if pinned {
			parent = vecmath.Clone(centre)
			daughter = vecmath.Add(centre, vecmath.Scale(sep, dir))
		} else {
			parent = vecmath.Add(centre, vecmath.Scale(-sep/2, dir))
			daughter = vecmath.Add(centre, vecmath.Scale(sep/2, dir))
		}
		if !floor.Below(daughter) {
			return parent, daughter, nil
		}
	}
	return nil, nil, fmt.Errorf("cell %d at %v after %d attempts: %w", c.ID(), centre, p.cfg.MaxPlacementAttempts, ErrPlacement)
}

// DivideReadyCells divides every live cell whose cycle model reports ready.
// Cells born this call are not considered again until the next call.
func (p *Population) DivideReadyCells() ([]DivisionEvent, error) {
	if p.src == nil {
		return nil, fmt.Errorf("population: division needs a random source")
	}
	var events []DivisionEvent
	for _, c := range p.Cells() {
		if c.IsDead() {
			continue
		}
		ready, err := c.ReadyToDivide()
		if err != nil {
			return events, err
		}
		if !ready {
			continue
		}

		parentPos, daughterPos, err := p.placement(c)
		if err != nil {
			return events, err
		}
		daughter, err := c.Divide()
		if err != nil {
			return events, err
		}
		parentLoc := c.Location()
		loc, err := p.structure.Divide(parentLoc, parentPos, daughterPos)
		if err != nil {
			daughter.Release()
			return events, fmt.Errorf("divide cell %d: %w", c.ID(), err)
		}
		if err := p.AddCell(daughter, loc); err != nil {
			daughter.Release()
			return events, err
		}

		ev := DivisionEvent{
			Time:             p.Now(),
			ParentID:         c.ID(),
			DaughterID:       daughter.ID(),
			ParentLocation:   parentLoc,
			DaughterLocation: loc,
			Ancestor:         c.Ancestor(),
			ParentPosition:   p.structure.Centre(parentLoc),
			DaughterPosition: p.structure.Centre(loc),
		}
		events = append(events, ev)
		p.log.Debug("cell divided",
			zap.Uint64("parent", ev.ParentID),
			zap.Uint64("daughter", ev.DaughterID),
			zap.Float64("time", ev.Time))
	}
	return events, nil
}

// RemoveDeadCells sweeps every dead cell: its location is deleted and its
// mutation-state count released. Cells whose apoptosis has run its course
// die here.
func (p *Population) RemoveDeadCells() ([]DeathEvent, error) {
	var events []DeathEvent
	for loc, c := range p.occupants {
		if c == nil || !c.IsDead() {
			continue
		}
		if err := p.structure.Remove(loc); err != nil {
			return events, fmt.Errorf("remove dead cell %d: %w", c.ID(), err)
		}
		p.occupants[loc] = nil
		c.SetLocation(cell.NoLocation)
		c.Release()

		events = append(events, DeathEvent{
			Time:      p.Now(),
			CellID:    c.ID(),
			Location:  loc,
			Apoptotic: c.HasApoptosisBegun(),
			Ancestor:  c.Ancestor(),
			Mutation:  c.MutationState(),
		})
		p.log.Debug("cell removed", zap.Uint64("cell", c.ID()), zap.Int("location", loc))
	}
	return events, nil
}
