package population_test

import (
	"errors"
	"testing"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/cellcycle"
	"github.com/nvandessel/cellsim/internal/force"
	"github.com/nvandessel/cellsim/internal/population"
	"github.com/nvandessel/cellsim/internal/rng"
	"github.com/nvandessel/cellsim/internal/simtime"
	"github.com/nvandessel/cellsim/internal/spatial"
	"github.com/nvandessel/cellsim/internal/vecmath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	clock *simtime.Manual
	reg   *cell.Registry
	nb    *spatial.NodeBased
	pop   *population.Population
}

func shortParams() cellcycle.Params {
	p := cellcycle.DefaultParams()
	p.StemG1, p.TransitG1, p.S, p.G2, p.M = 2, 2, 1, 1, 1
	return p
}

// newFixture places one cell per point. Cells are born at birth.
func newFixture(t *testing.T, cfg population.Config, ptype cellcycle.ProliferativeType, birth float64, points ...[]float64) *fixture {
	t.Helper()
	clock := &simtime.Manual{}
	reg := cell.NewRegistry(clock, 0.25)
	nb, err := spatial.NewNodeBased(len(points[0]), 1.5)
	require.NoError(t, err)
	pop, err := population.New(nb, reg, rng.New(1), cfg, nil)
	require.NoError(t, err)
	for _, pt := range points {
		loc, err := nb.AddNode(pt)
		require.NoError(t, err)
		c, err := reg.NewCell(cellcycle.NewFixed(clock, shortParams(), ptype), cell.WildType)
		require.NoError(t, err)
		c.SetBirthTime(birth)
		c.SetAncestor(int64(loc))
		require.NoError(t, pop.AddCell(c, loc))
	}
	return &fixture{clock: clock, reg: reg, nb: nb, pop: pop}
}

func TestValidateBijection(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Transit, 0, []float64{0, 0}, []float64{1, 0}, []float64{2, 0})
	require.NoError(t, f.pop.Update())
	require.NoError(t, f.pop.Validate())

	for loc := 0; loc < f.nb.LocationCount(); loc++ {
		c := f.pop.CellAt(loc)
		require.NotNil(t, c)
		assert.Equal(t, loc, c.Location())
	}
	assert.Equal(t, 3, f.pop.NumCells())
}

func TestValidateDetectsOrphanLocation(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Transit, 0, []float64{0, 0})
	_, err := f.nb.AddNode([]float64{3, 3})
	require.NoError(t, err)

	err = f.pop.Validate()
	var verr *population.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 1, verr.Location)
	assert.False(t, verr.HasCell)
}

func TestValidateDetectsMismatchedCell(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Transit, 0, []float64{0, 0}, []float64{1, 0})
	f.pop.CellAt(0).SetLocation(1)

	err := f.pop.Validate()
	var verr *population.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 0, verr.Location)
	assert.True(t, verr.HasCell)
}

func TestAddCellRejectsOccupiedOrDeadLocation(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Transit, 0, []float64{0, 0})
	c, err := f.reg.NewCell(cellcycle.NewFixed(f.clock, shortParams(), cellcycle.Transit), cell.WildType)
	require.NoError(t, err)
	assert.ErrorIs(t, f.pop.AddCell(c, 0), population.ErrOccupied)
	assert.ErrorIs(t, f.pop.AddCell(c, 7), spatial.ErrNoLocation)
}

func TestNeighborPairsBeforeUpdate(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Transit, 0, []float64{0, 0}, []float64{1, 0})
	_, err := f.pop.NeighborPairs()
	assert.ErrorIs(t, err, spatial.ErrNotUpdated)

	require.NoError(t, f.pop.Update())
	pairs, err := f.pop.NeighborPairs()
	require.NoError(t, err)
	assert.Equal(t, []spatial.Pair{{A: 0, B: 1}}, pairs)
}

func TestDivisionAddsOneCellAndOneLocation(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Stem, -5, []float64{0, 0}, []float64{1, 0})
	require.NoError(t, f.pop.Update())
	f.pop.CellAt(1).SetBirthTime(0)

	events, err := f.pop.DivideReadyCells()
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]

	assert.Equal(t, 3, f.pop.NumCells())
	assert.Equal(t, 3, f.nb.LocationCount())
	parent := f.pop.CellAt(ev.ParentLocation)
	daughter := f.pop.CellAt(ev.DaughterLocation)
	require.NotNil(t, parent)
	require.NotNil(t, daughter)
	assert.Equal(t, parent.Ancestor(), daughter.Ancestor())
	assert.Equal(t, int64(0), daughter.Ancestor())
	assert.InDelta(t, 0.3, vecmath.Distance(ev.ParentPosition, ev.DaughterPosition), 1e-12)

	require.NoError(t, f.pop.Update())
	require.NoError(t, f.pop.Validate())
}

func TestPinnedStemDivisionKeepsParent(t *testing.T) {
	cfg := population.DefaultConfig()
	cfg.Boundary.PinStemCells = true
	cfg.Boundary.Floor = population.Floor{Enabled: true, Axis: 1}
	f := newFixture(t, cfg, cellcycle.Stem, -5, []float64{0, 0})
	require.NoError(t, f.pop.Update())

	events, err := f.pop.DivideReadyCells()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []float64{0, 0}, events[0].ParentPosition)
	assert.GreaterOrEqual(t, events[0].DaughterPosition[1], 0.0)
	assert.InDelta(t, 0.3, vecmath.Distance(events[0].ParentPosition, events[0].DaughterPosition), 1e-12)
}

func TestPlacementGivesUp(t *testing.T) {
	cfg := population.DefaultConfig()
	cfg.MaxPlacementAttempts = 10
	cfg.Boundary.Floor = population.Floor{Enabled: true, Axis: 1}
	f := newFixture(t, cfg, cellcycle.Stem, -5, []float64{0, -10})
	require.NoError(t, f.pop.Update())

	_, err := f.pop.DivideReadyCells()
	assert.ErrorIs(t, err, population.ErrPlacement)
	assert.Equal(t, 1, f.pop.NumCells())
}

func TestRemoveDeadCells(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Transit, 0, []float64{0, 0}, []float64{1, 0}, []float64{2, 0})
	require.NoError(t, f.pop.Update())
	victim := f.pop.CellAt(1)
	victim.Kill()

	events, err := f.pop.RemoveDeadCells()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, victim.ID(), events[0].CellID)
	assert.Equal(t, cell.NoLocation, victim.Location())
	assert.True(t, victim.Released())
	assert.Equal(t, 2, f.reg.Total())

	require.NoError(t, f.pop.Update())
	require.NoError(t, f.pop.Validate())
	assert.Equal(t, 2, f.nb.LocationCount())
	assert.Equal(t, []float64{2, 0}, f.pop.CellCentre(f.pop.CellAt(1)))
}

func TestApoptoticCellsDieAfterDuration(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Transit, 0, []float64{0, 0})
	require.NoError(t, f.pop.CellAt(0).StartApoptosis(true))

	events, err := f.pop.RemoveDeadCells()
	require.NoError(t, err)
	assert.Empty(t, events)

	f.clock.Set(0.25)
	events, err = f.pop.RemoveDeadCells()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Apoptotic)
	assert.Equal(t, 0, f.pop.NumCells())
}

func TestFloorCorrection(t *testing.T) {
	tests := []struct {
		name   string
		jiggle float64
	}{
		{"exact", 0},
		{"jiggled", population.DefaultJiggle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := population.DefaultConfig()
			cfg.Boundary.Floor = population.Floor{Enabled: true, Axis: 1, Level: 0, Jiggle: tt.jiggle}
			f := newFixture(t, cfg, cellcycle.Transit, 0, []float64{0, 1}, []float64{2, -0.4})

			require.NoError(t, f.pop.ApplyBoundaryConditions(nil))
			y := f.pop.CellCentre(f.pop.CellAt(1))[1]
			if tt.jiggle == 0 {
				assert.Equal(t, 0.0, y)
			} else {
				assert.GreaterOrEqual(t, y, 0.0)
				assert.Less(t, y, tt.jiggle)
			}
			assert.Equal(t, []float64{0, 1}, f.pop.CellCentre(f.pop.CellAt(0)), "cells above the floor are untouched")
		})
	}
}

func TestMechanicsPullsStretchedPairTogether(t *testing.T) {
	f := newFixture(t, population.DefaultConfig(), cellcycle.Transit, -10, []float64{0, 0}, []float64{1.4, 0})
	spring, err := force.NewLinearSpring(force.DefaultSpringParams())
	require.NoError(t, err)
	f.pop.AddForce(spring)
	require.NoError(t, f.pop.Update())

	forces, err := f.pop.ComputeForces()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{6, 0}, forces[0], 1e-12)
	assert.InDeltaSlice(t, []float64{-6, 0}, forces[1], 1e-12)

	old, err := f.pop.MoveNodes(forces, 0.01)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, old[0])
	assert.InDeltaSlice(t, []float64{0.06, 0}, f.pop.CellCentre(f.pop.CellAt(0)), 1e-12)
	assert.InDeltaSlice(t, []float64{1.34, 0}, f.pop.CellCentre(f.pop.CellAt(1)), 1e-12)
}

func TestMutantDamping(t *testing.T) {
	cfg := population.DefaultConfig()
	cfg.MutantDamping = 2
	f := newFixture(t, cfg, cellcycle.Transit, -10, []float64{0}, []float64{1.4})
	f.pop.CellAt(1).SetMutationState(cell.ApcTwoHit)
	require.NoError(t, f.pop.Update())

	_, err := f.pop.MoveNodes([][]float64{{1}, {1}}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, f.pop.CellCentre(f.pop.CellAt(0)))
	assert.InDeltaSlice(t, []float64{1.9}, f.pop.CellCentre(f.pop.CellAt(1)), 1e-12)
}

func TestPinStemCellsRestoresPosition(t *testing.T) {
	cfg := population.DefaultConfig()
	cfg.Boundary.PinStemCells = true
	f := newFixture(t, cfg, cellcycle.Stem, 0, []float64{0, 0})
	require.NoError(t, f.pop.Update())

	old, err := f.pop.MoveNodes([][]float64{{1, 1}}, 1)
	require.NoError(t, err)
	require.NoError(t, f.pop.ApplyBoundaryConditions(old))
	assert.Equal(t, []float64{0, 0}, f.pop.CellCentre(f.pop.CellAt(0)))
}

func TestSetBottomCellAncestors(t *testing.T) {
	cfg := population.DefaultConfig()
	cfg.Boundary.Floor = population.Floor{Enabled: true, Axis: 1}
	f := newFixture(t, cfg, cellcycle.Transit, 0, []float64{0, 0}, []float64{1, 0.2}, []float64{0, 3})
	for _, c := range f.pop.Cells() {
		c.SetAncestor(cell.UnsetAncestor)
	}

	n := f.pop.SetBottomCellAncestors(0.5)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(0), f.pop.CellAt(0).Ancestor())
	assert.Equal(t, int64(1), f.pop.CellAt(1).Ancestor())
	assert.Equal(t, cell.UnsetAncestor, f.pop.CellAt(2).Ancestor())
}

func TestMeshBasedPopulationWithGhosts(t *testing.T) {
	clock := &simtime.Manual{}
	reg := cell.NewRegistry(clock, 0.25)
	mesh := spatial.NewChainMesh([]float64{-1, 0, 1, 2})
	mb, err := spatial.NewMeshBased(mesh, []int{0, 3})
	require.NoError(t, err)
	pop, err := population.New(mb, reg, rng.New(3), population.DefaultConfig(), nil)
	require.NoError(t, err)

	for _, loc := range []int{1, 2} {
		c, err := reg.NewCell(cellcycle.NewFixed(clock, shortParams(), cellcycle.Transit), cell.WildType)
		require.NoError(t, err)
		require.NoError(t, pop.AddCell(c, loc))
	}
	assert.ErrorIs(t, pop.AddCell(pop.CellAt(1), 0), spatial.ErrNoLocation, "ghost nodes take no cell")

	require.NoError(t, pop.Update())
	require.NoError(t, pop.Validate())
	pairs, err := pop.NeighborPairs()
	require.NoError(t, err)
	assert.Len(t, pairs, 3)
	assert.Nil(t, pop.CellAtNode(0))
}

func TestNewRejectsBadConfig(t *testing.T) {
	nb, err := spatial.NewNodeBased(2, 1)
	require.NoError(t, err)
	reg := cell.NewRegistry(&simtime.Manual{}, 0.25)

	cfg := population.DefaultConfig()
	cfg.Damping = 0
	_, err = population.New(nb, reg, rng.New(1), cfg, nil)
	assert.Error(t, err)

	cfg = population.DefaultConfig()
	cfg.Boundary.Floor = population.Floor{Enabled: true, Axis: 2}
	_, err = population.New(nb, reg, rng.New(1), cfg, nil)
	assert.Error(t, err)
}
