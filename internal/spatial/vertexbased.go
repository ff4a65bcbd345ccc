package spatial

import (
	"fmt"

	"github.com/nvandessel/cellsim/internal/vecmath"
)

// VertexMesh is the external polygonal mesh a VertexBased structure
// drives. Each element is one cell. Remesh performs the mesh's topological
// transitions (T1 swaps, T2 removals of small elements, T3 merges) and
// returns the old to new element index map.
type VertexMesh interface {
	Dim() int
	NodeCount() int
	NodePosition(i int) []float64
	SetNodePosition(i int, p []float64)
	IsNodeDeleted(i int) bool

	ElementCount() int
	IsElementDeleted(e int) bool
	// ElementNodes lists the element's vertices in order around it.
	ElementNodes(e int) []int
	Centroid(e int) []float64

	// DivideElement splits e along a line through its centroid
	// perpendicular to axis and returns the new element's index.
	DivideElement(e int, axis []float64) (int, error)
	DeleteElement(e int) error
	Remesh() (IndexMap, error)
}

// VertexBased attaches cells to the elements of a VertexMesh. Mechanics
// act on vertices; neighbour pairs are the element edges.
type VertexBased struct {
	mesh    VertexMesh
	owners  [][]int
	pairs   []Pair
	updated bool
}

// NewVertexBased wraps mesh.
func NewVertexBased(mesh VertexMesh) (*VertexBased, error) {
	if err := checkDim(mesh.Dim()); err != nil {
		return nil, err
	}
	vb := &VertexBased{mesh: mesh}
	vb.rebuildOwners()
	return vb, nil
}

func (vb *VertexBased) rebuildOwners() {
	vb.owners = make([][]int, vb.mesh.NodeCount())
	for e := 0; e < vb.mesh.ElementCount(); e++ {
		if vb.mesh.IsElementDeleted(e) {
			continue
		}
		for _, n := range vb.mesh.ElementNodes(e) {
			vb.owners[n] = append(vb.owners[n], e)
		}
	}
}

func (vb *VertexBased) Dim() int { return vb.mesh.Dim() }

func (vb *VertexBased) NodeCount() int { return vb.mesh.NodeCount() }

func (vb *VertexBased) Node(i int) Node {
	n := Node{
		Index:    i,
		Position: vecmath.Clone(vb.mesh.NodePosition(i)),
		Deleted:  vb.mesh.IsNodeDeleted(i),
	}
	if i < len(vb.owners) {
		n.Elements = append([]int(nil), vb.owners[i]...)
		n.Boundary = len(vb.owners[i]) < 3
	}
	return n
}

func (vb *VertexBased) SetNodePosition(i int, p []float64) error {
	if i < 0 || i >= vb.mesh.NodeCount() || vb.mesh.IsNodeDeleted(i) {
		return fmt.Errorf("set vertex %d position: %w", i, ErrNoLocation)
	}
	if err := checkPoint(vb.Dim(), p); err != nil {
		return err
	}
	vb.mesh.SetNodePosition(i, p)
	return nil
}

func (vb *VertexBased) LocationCount() int { return vb.mesh.ElementCount() }

func (vb *VertexBased) IsLocationLive(loc int) bool {
	return loc >= 0 && loc < vb.mesh.ElementCount() && !vb.mesh.IsElementDeleted(loc)
}

func (vb *VertexBased) Centre(loc int) []float64 {
	return vb.mesh.Centroid(loc)
}

func (vb *VertexBased) NodeLocations(node int) []int {
	if node < 0 || node >= len(vb.owners) {
		return nil
	}
	return vb.owners[node]
}

// Divide splits the element perpendicular to the parent-daughter axis.
// The positions only set the axis; the mesh decides the geometry.
func (vb *VertexBased) Divide(loc int, parentPos, daughterPos []float64) (int, error) {
	if !vb.IsLocationLive(loc) {
		return -1, fmt.Errorf("divide element %d: %w", loc, ErrNoLocation)
	}
	axis := vecmath.Sub(daughterPos, parentPos)
	if axis == nil {
		return -1, fmt.Errorf("divide element %d: bad division axis", loc)
	}
	e, err := vb.mesh.DivideElement(loc, axis)
	if err != nil {
		return -1, fmt.Errorf("divide element %d: %w", loc, err)
	}
	vb.rebuildOwners()
	vb.updated = false
	return e, nil
}

func (vb *VertexBased) Remove(loc int) error {
	if !vb.IsLocationLive(loc) {
		return fmt.Errorf("remove element %d: %w", loc, ErrNoLocation)
	}
	if err := vb.mesh.DeleteElement(loc); err != nil {
		return fmt.Errorf("remove element %d: %w", loc, err)
	}
	vb.rebuildOwners()
	vb.updated = false
	return nil
}

func (vb *VertexBased) Update() (IndexMap, error) {
	m, err := vb.mesh.Remesh()
	if err != nil {
		return nil, fmt.Errorf("vertex remesh: %w", err)
	}
	vb.rebuildOwners()

	seen := make(map[Pair]bool)
	pairs := make([]Pair, 0)
	for e := 0; e < vb.mesh.ElementCount(); e++ {
		if vb.mesh.IsElementDeleted(e) {
			continue
		}
		nodes := vb.mesh.ElementNodes(e)
		for i := range nodes {
			p := NewPair(nodes[i], nodes[(i+1)%len(nodes)])
			if p.A == p.B || seen[p] {
				continue
			}
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	SortPairs(pairs)
	vb.pairs = pairs
	vb.updated = true
	return m, nil
}

func (vb *VertexBased) NeighborPairs() ([]Pair, error) {
	if !vb.updated {
		return nil, ErrNotUpdated
	}
	return vb.pairs, nil
}
