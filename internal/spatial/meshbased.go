package spatial

import (
	"fmt"

	"github.com/nvandessel/cellsim/internal/vecmath"
)

// Mesh is the external mesh a MeshBased structure drives. Remesh restores
// the mesh's geometric quality after nodes were added, moved or deleted
// and reports how node indices changed.
type Mesh interface {
	Dim() int
	NodeCount() int
	Position(i int) []float64
	SetPosition(i int, p []float64)
	IsDeleted(i int) bool
	AddNode(p []float64) int
	DeleteNode(i int)
	Edges() []Pair
	Remesh() (IndexMap, error)
}

// MeshBased attaches cells to the nodes of a Mesh. Ghost nodes pad the
// tissue boundary; they take part in mechanics but never hold a cell.
type MeshBased struct {
	mesh    Mesh
	ghost   []bool
	pairs   []Pair
	updated bool
}

// NewMeshBased wraps mesh. Nodes listed in ghosts are ghost nodes.
func NewMeshBased(mesh Mesh, ghosts []int) (*MeshBased, error) {
	if err := checkDim(mesh.Dim()); err != nil {
		return nil, err
	}
	mb := &MeshBased{mesh: mesh, ghost: make([]bool, mesh.NodeCount())}
	for _, g := range ghosts {
		if g < 0 || g >= len(mb.ghost) {
			return nil, fmt.Errorf("ghost node %d: %w", g, ErrNoLocation)
		}
		mb.ghost[g] = true
	}
	return mb, nil
}

func (mb *MeshBased) Dim() int { return mb.mesh.Dim() }

// IsGhost reports whether node i is a ghost node.
func (mb *MeshBased) IsGhost(i int) bool {
	return i >= 0 && i < len(mb.ghost) && mb.ghost[i]
}

// GhostCount returns the number of live ghost nodes.
func (mb *MeshBased) GhostCount() int {
	n := 0
	for i, g := range mb.ghost {
		if g && !mb.mesh.IsDeleted(i) {
			n++
		}
	}
	return n
}

func (mb *MeshBased) NodeCount() int { return mb.mesh.NodeCount() }

func (mb *MeshBased) Node(i int) Node {
	return Node{
		Index:    i,
		Position: vecmath.Clone(mb.mesh.Position(i)),
		Boundary: mb.IsGhost(i),
		Deleted:  mb.mesh.IsDeleted(i),
	}
}

func (mb *MeshBased) SetNodePosition(i int, p []float64) error {
	if i < 0 || i >= mb.mesh.NodeCount() || mb.mesh.IsDeleted(i) {
		return fmt.Errorf("set node %d position: %w", i, ErrNoLocation)
	}
	if err := checkPoint(mb.Dim(), p); err != nil {
		return err
	}
	mb.mesh.SetPosition(i, p)
	return nil
}

func (mb *MeshBased) LocationCount() int { return mb.mesh.NodeCount() }

func (mb *MeshBased) IsLocationLive(loc int) bool {
	return loc >= 0 && loc < mb.mesh.NodeCount() && !mb.mesh.IsDeleted(loc) && !mb.IsGhost(loc)
}

func (mb *MeshBased) Centre(loc int) []float64 {
	return vecmath.Clone(mb.mesh.Position(loc))
}

func (mb *MeshBased) NodeLocations(node int) []int {
	if !mb.IsLocationLive(node) {
		return nil
	}
	return []int{node}
}

func (mb *MeshBased) Divide(loc int, parentPos, daughterPos []float64) (int, error) {
	if !mb.IsLocationLive(loc) {
		return -1, fmt.Errorf("divide node %d: %w", loc, ErrNoLocation)
	}
	if err := mb.SetNodePosition(loc, parentPos); err != nil {
		return -1, err
	}
	if err := checkPoint(mb.Dim(), daughterPos); err != nil {
		return -1, err
	}
	idx := mb.mesh.AddNode(daughterPos)
	for len(mb.ghost) <= idx {
		mb.ghost = append(mb.ghost, false)
	}
	mb.ghost[idx] = false
	mb.updated = false
	return idx, nil
}

func (mb *MeshBased) Remove(loc int) error {
	if !mb.IsLocationLive(loc) {
		return fmt.Errorf("remove node %d: %w", loc, ErrNoLocation)
	}
	mb.mesh.DeleteNode(loc)
	mb.updated = false
	return nil
}

// Update remeshes and carries the ghost flags through the index map. The
// neighbour pairs are the mesh edges, ghost edges included.
func (mb *MeshBased) Update() (IndexMap, error) {
	m, err := mb.mesh.Remesh()
	if err != nil {
		return nil, fmt.Errorf("remesh: %w", err)
	}
	ghost := make([]bool, mb.mesh.NodeCount())
	for old, isGhost := range mb.ghost {
		if nw, ok := m.Lookup(old); ok && isGhost {
			ghost[nw] = true
		}
	}
	mb.ghost = ghost

	pairs := make([]Pair, 0)
	for _, e := range mb.mesh.Edges() {
		if mb.mesh.IsDeleted(e.A) || mb.mesh.IsDeleted(e.B) {
			continue
		}
		pairs = append(pairs, NewPair(e.A, e.B))
	}
	SortPairs(pairs)
	mb.pairs = pairs
	mb.updated = true
	return m, nil
}

func (mb *MeshBased) NeighborPairs() ([]Pair, error) {
	if !mb.updated {
		return nil, ErrNotUpdated
	}
	return mb.pairs, nil
}
