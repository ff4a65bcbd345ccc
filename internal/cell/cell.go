package cell

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/cellsim/internal/cellcycle"
)

const (
	// UnsetAncestor marks a cell whose lineage has not been assigned.
	UnsetAncestor int64 = -1

	// NoLocation marks a cell not attached to a spatial location.
	NoLocation = -1
)

var (
	// ErrAlreadyApoptotic is returned by StartApoptosis on a cell that has
	// already begun apoptosis.
	ErrAlreadyApoptotic = errors.New("cell is already undergoing apoptosis")

	// ErrDead is returned by operations that need a live cell.
	ErrDead = errors.New("cell is dead")

	// ErrCannotDivide is returned by Divide when the last ReadyToDivide
	// call did not report true.
	ErrCannotDivide = errors.New("cell is not ready to divide")

	// ErrNoDeathTime is returned by TimeUntilDeath when no death time is set.
	ErrNoDeathTime = errors.New("cell has no scheduled death time")
)

// Cell is one biological cell. It exclusively owns its cell-cycle model.
type Cell struct {
	reg   *Registry
	id    uint64
	model cellcycle.Model
	state MutationState

	ancestor       int64
	apoptotic      bool
	apoptosisStart float64
	deathTime      float64
	dead           bool
	necrotic       bool
	canDivide      bool
	released       bool

	location int
}

// ID returns the cell's unique id.
func (c *Cell) ID() uint64 { return c.id }

// Model returns the cell-cycle model.
func (c *Cell) Model() cellcycle.Model { return c.model }

// MutationState returns the current mutation state.
func (c *Cell) MutationState() MutationState { return c.state }

// SetMutationState moves the cell from its current state to state in one
// counted transfer.
func (c *Cell) SetMutationState(state MutationState) {
	if state == c.state {
		return
	}
	if !c.released {
		c.reg.transfer(c.state, state)
	}
	c.state = state
}

// Ancestor returns the lineage tag, or UnsetAncestor.
func (c *Cell) Ancestor() int64 { return c.ancestor }

// SetAncestor sets the lineage tag.
func (c *Cell) SetAncestor(a int64) { c.ancestor = a }

func (c *Cell) Age() float64 { return c.model.Age() }

func (c *Cell) BirthTime() float64 { return c.model.BirthTime() }

func (c *Cell) SetBirthTime(t float64) { c.model.SetBirthTime(t) }

func (c *Cell) Phase() cellcycle.Phase { return c.model.Phase() }

func (c *Cell) ProliferativeType() cellcycle.ProliferativeType { return c.model.ProliferativeType() }

// Location returns the index of the spatial location the cell occupies, or
// NoLocation. The population owning the cell maintains it.
func (c *Cell) Location() int { return c.location }

// SetLocation records the occupied location. Only the owning population
// should call it.
func (c *Cell) SetLocation(loc int) { c.location = loc }

// StartApoptosis begins programmed death now. With setDeathTime the cell
// dies after the registry's apoptosis duration; otherwise the death time is
// left infinite for an external rule to decide. The state becomes
// Apoptotic.
func (c *Cell) StartApoptosis(setDeathTime bool) error {
	if c.dead {
		return fmt.Errorf("start apoptosis on cell %d: %w", c.id, ErrDead)
	}
	if c.apoptotic {
		return fmt.Errorf("start apoptosis on cell %d: %w", c.id, ErrAlreadyApoptotic)
	}
	c.apoptotic = true
	c.apoptosisStart = c.reg.Now()
	if setDeathTime {
		c.deathTime = c.apoptosisStart + c.reg.ApoptosisTime()
	} else {
		c.deathTime = math.Inf(1)
	}
	c.SetMutationState(Apoptotic)
	return nil
}

// HasApoptosisBegun reports whether StartApoptosis has been called.
func (c *Cell) HasApoptosisBegun() bool { return c.apoptotic }

// StartOfApoptosisTime returns when apoptosis began (+Inf if it has not).
func (c *Cell) StartOfApoptosisTime() float64 { return c.apoptosisStart }

// DeathTime returns the scheduled death time (+Inf if none).
func (c *Cell) DeathTime() float64 { return c.deathTime }

// TimeUntilDeath returns the hours left before an apoptotic cell dies.
func (c *Cell) TimeUntilDeath() (float64, error) {
	if !c.apoptotic || math.IsInf(c.deathTime, 1) {
		return 0, fmt.Errorf("cell %d: %w", c.id, ErrNoDeathTime)
	}
	return c.deathTime - c.reg.Now(), nil
}

// IsDead reports whether the cell is dead, killing an apoptotic cell whose
// death time has passed.
func (c *Cell) IsDead() bool {
	if c.apoptotic && !c.dead && c.reg.Now() >= c.deathTime {
		c.dead = true
	}
	return c.dead
}

// Kill marks the cell dead immediately.
func (c *Cell) Kill() { c.dead = true }

// MarkNecrotic flags the cell as necrotic. Killers decide what follows.
func (c *Cell) MarkNecrotic() { c.necrotic = true }

// IsNecrotic reports the necrotic flag.
func (c *Cell) IsNecrotic() bool { return c.necrotic }

// ReadyToDivide consults the cell-cycle model. Apoptotic cells never
// divide.
func (c *Cell) ReadyToDivide() (bool, error) {
	if c.IsDead() {
		return false, fmt.Errorf("ready to divide on cell %d: %w", c.id, ErrDead)
	}
	if c.apoptotic || c.state == Apoptotic {
		c.canDivide = false
		return false, nil
	}
	ready, err := c.model.ReadyToDivide()
	if err != nil {
		return false, fmt.Errorf("cell %d: %w", c.id, err)
	}
	c.canDivide = ready
	return ready, nil
}

// Divide resets the parent's cycle and returns a daughter with a copy of
// the model, the same mutation state and the same ancestor. The daughter
// is not attached to any location.
func (c *Cell) Divide() (*Cell, error) {
	if c.dead {
		return nil, fmt.Errorf("divide cell %d: %w", c.id, ErrDead)
	}
	if !c.canDivide {
		return nil, fmt.Errorf("divide cell %d: %w", c.id, ErrCannotDivide)
	}
	c.canDivide = false

	if err := c.model.ResetForDivision(); err != nil {
		return nil, fmt.Errorf("divide cell %d: %w", c.id, err)
	}
	dm := c.model.CreateCellCycleModel()
	dm.InitialiseDaughterCell()

	d, err := c.reg.NewCell(dm, c.state)
	if err != nil {
		return nil, err
	}
	d.ancestor = c.ancestor
	return d, nil
}

// Release drops the cell's mutation-state count. It is called once when
// the cell leaves the population; later calls do nothing.
func (c *Cell) Release() {
	if c.released {
		return
	}
	c.released = true
	c.reg.release(c.state)
}

// Released reports whether Release has been called.
func (c *Cell) Released() bool { return c.released }
