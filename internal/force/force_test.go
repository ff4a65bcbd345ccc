package force_test

import (
	"testing"

	"github.com/nvandessel/cellsim/internal/cell"
	"github.com/nvandessel/cellsim/internal/cellcycle"
	"github.com/nvandessel/cellsim/internal/force"
	"github.com/nvandessel/cellsim/internal/simtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type view struct {
	pos   [][]float64
	cells []*cell.Cell
}

func (v *view) Dim() int { return len(v.pos[0]) }
func (v *view) NodePosition(i int) []float64 { return v.pos[i] }
func (v *view) CellAtNode(i int) *cell.Cell { return v.cells[i] }

func matureCells(t *testing.T, clock *simtime.Manual, reg *cell.Registry, n int) []*cell.Cell {
	t.Helper()
	out := make([]*cell.Cell, n)
	for i := range out {
		c, err := reg.NewCell(cellcycle.NewFixed(clock, cellcycle.DefaultParams(), cellcycle.Transit), cell.WildType)
		require.NoError(t, err)
		c.SetBirthTime(-10)
		out[i] = c
	}
	return out
}

func TestLinearSpring(t *testing.T) {
	clock := &simtime.Manual{}
	reg := cell.NewRegistry(clock, 0.25)
	s, err := force.NewLinearSpring(force.DefaultSpringParams())
	require.NoError(t, err)

	tests := []struct {
		name string
		b    []float64
		want []float64
	}{
		{"at rest", []float64{1, 0}, []float64{0, 0}},
		{"stretched pulls together", []float64{2, 0}, []float64{15, 0}},
		{"compressed pushes apart", []float64{0, 0.5}, []float64{0, -7.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &view{pos: [][]float64{{0, 0}, tt.b}, cells: matureCells(t, clock, reg, 2)}
			f, err := s.Compute(0, 1, v)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, f, 1e-12)
		})
	}
}

func TestLinearSpringCoincidentNodes(t *testing.T) {
	s, err := force.NewLinearSpring(force.DefaultSpringParams())
	require.NoError(t, err)
	v := &view{pos: [][]float64{{1, 1}, {1, 1}}, cells: []*cell.Cell{nil, nil}}
	_, err = s.Compute(0, 1, v)
	assert.Error(t, err)
}

func TestLinearSpringNewbornRestLength(t *testing.T) {
	clock := &simtime.Manual{}
	reg := cell.NewRegistry(clock, 0.25)
	cells := matureCells(t, clock, reg, 2)
	for _, c := range cells {
		c.SetBirthTime(0)
	}
	clock.Set(0.5)
	s, err := force.NewLinearSpring(force.DefaultSpringParams())
	require.NoError(t, err)

	// Rest length halfway between 0.3 and 1 is 0.65.
	v := &view{pos: [][]float64{{0, 0}, {0.65, 0}}, cells: cells}
	f, err := s.Compute(0, 1, v)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0}, f, 1e-12)
}

func TestLinearSpringApoptoticCellShrinks(t *testing.T) {
	clock := &simtime.Manual{}
	reg := cell.NewRegistry(clock, 1)
	cells := matureCells(t, clock, reg, 2)
	require.NoError(t, cells[1].StartApoptosis(true))
	clock.Set(0.5)
	s, err := force.NewLinearSpring(force.DefaultSpringParams())
	require.NoError(t, err)

	// Half of cell 1's share is gone: rest = 0.5 + 0.25.
	v := &view{pos: [][]float64{{0, 0}, {0.75, 0}}, cells: cells}
	f, err := s.Compute(0, 1, v)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0}, f, 1e-12)
}

func TestLinearSpringCutoff(t *testing.T) {
	p := force.DefaultSpringParams()
	p.Cutoff = 1.5
	s, err := force.NewLinearSpring(p)
	require.NoError(t, err)
	v := &view{pos: [][]float64{{0}, {2}}, cells: []*cell.Cell{nil, nil}}
	f, err := s.Compute(0, 1, v)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, f)
}

func TestRepulsionOnlyPushes(t *testing.T) {
	r, err := force.NewRepulsion(force.DefaultSpringParams())
	require.NoError(t, err)

	far := &view{pos: [][]float64{{0, 0}, {2, 0}}, cells: []*cell.Cell{nil, nil}}
	f, err := r.Compute(0, 1, far)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, f)

	near := &view{pos: [][]float64{{0, 0}, {0.5, 0}}, cells: []*cell.Cell{nil, nil}}
	f, err = r.Compute(0, 1, near)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-7.5, 0}, f, 1e-12)
}

func TestSpringParamsValidate(t *testing.T) {
	p := force.DefaultSpringParams()
	p.Stiffness = 0
	assert.Error(t, p.Validate())

	p = force.DefaultSpringParams()
	p.DivisionSeparation = 2
	assert.Error(t, p.Validate())

	_, err := force.New("gravity", force.DefaultSpringParams())
	assert.Error(t, err)
}

func TestForwardEuler(t *testing.T) {
	var fe force.ForwardEuler
	got, err := fe.Step([]float64{1, 2}, []float64{2, -4}, 2, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 1}, got)

	_, err = fe.Step([]float64{1}, []float64{1}, 0, 0.5)
	assert.Error(t, err)
}
