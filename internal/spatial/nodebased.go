package spatial

import (
	"fmt"

	"github.com/nvandessel/cellsim/internal/vecmath"
)

// NodeBased is a cloud of free nodes, one per cell. Deleted node indices
// are recycled by AddNode and compacted away by Update.
type NodeBased struct {
	dim    int
	cutoff float64
	nodes  []Node
	free   []int

	boxes   *BoxCollection
	pairs   []Pair
	updated bool
}

// NewNodeBased returns an empty structure. cutoff may be zero when the
// caller never needs neighbour search; Update then fails with
// ErrCutoffUnset.
func NewNodeBased(dim int, cutoff float64) (*NodeBased, error) {
	if err := checkDim(dim); err != nil {
		return nil, err
	}
	return &NodeBased{dim: dim, cutoff: cutoff}, nil
}

func (nb *NodeBased) Dim() int { return nb.dim }

// CutoffLength returns the configured neighbour cutoff.
func (nb *NodeBased) CutoffLength() float64 { return nb.cutoff }

// AddNode inserts a node at p, reusing the most recently deleted index if
// there is one.
func (nb *NodeBased) AddNode(p []float64) (int, error) {
	if err := checkPoint(nb.dim, p); err != nil {
		return -1, err
	}
	nb.invalidate()
	if n := len(nb.free); n > 0 {
		idx := nb.free[n-1]
		nb.free = nb.free[:n-1]
		nb.nodes[idx] = Node{Index: idx, Position: vecmath.Clone(p)}
		return idx, nil
	}
	idx := len(nb.nodes)
	nb.nodes = append(nb.nodes, Node{Index: idx, Position: vecmath.Clone(p)})
	return idx, nil
}

// DeletedCount returns how many deleted slots await recycling or
// compaction.
func (nb *NodeBased) DeletedCount() int { return len(nb.free) }

func (nb *NodeBased) NodeCount() int { return len(nb.nodes) }

func (nb *NodeBased) Node(i int) Node {
	n := nb.nodes[i]
	n.Position = vecmath.Clone(n.Position)
	return n
}

func (nb *NodeBased) SetNodePosition(i int, p []float64) error {
	if !nb.IsLocationLive(i) {
		return fmt.Errorf("set node %d position: %w", i, ErrNoLocation)
	}
	if err := checkPoint(nb.dim, p); err != nil {
		return err
	}
	copy(nb.nodes[i].Position, p)
	return nil
}

// SetBoundary flags node i as a boundary node.
func (nb *NodeBased) SetBoundary(i int, boundary bool) {
	nb.nodes[i].Boundary = boundary
}

func (nb *NodeBased) LocationCount() int { return len(nb.nodes) }

func (nb *NodeBased) IsLocationLive(loc int) bool {
	return loc >= 0 && loc < len(nb.nodes) && !nb.nodes[loc].Deleted
}

func (nb *NodeBased) Centre(loc int) []float64 {
	return vecmath.Clone(nb.nodes[loc].Position)
}

func (nb *NodeBased) NodeLocations(node int) []int {
	if !nb.IsLocationLive(node) {
		return nil
	}
	return []int{node}
}

func (nb *NodeBased) Divide(loc int, parentPos, daughterPos []float64) (int, error) {
	if err := nb.SetNodePosition(loc, parentPos); err != nil {
		return -1, err
	}
	return nb.AddNode(daughterPos)
}

func (nb *NodeBased) Remove(loc int) error {
	if !nb.IsLocationLive(loc) {
		return fmt.Errorf("remove node %d: %w", loc, ErrNoLocation)
	}
	nb.nodes[loc].Deleted = true
	nb.free = append(nb.free, loc)
	nb.invalidate()
	return nil
}

// Update drops deleted nodes, renumbering the survivors densely in their
// existing order, then rebuilds the box collection and neighbour pairs.
func (nb *NodeBased) Update() (IndexMap, error) {
	if nb.boxes == nil {
		bc, err := NewBoxCollection(nb.dim, nb.cutoff)
		if err != nil {
			return nil, err
		}
		nb.boxes = bc
	}

	m := Identity(len(nb.nodes))
	if len(nb.free) > 0 {
		kept := nb.nodes[:0]
		for old, n := range nb.nodes {
			if n.Deleted {
				m[old] = -1
				continue
			}
			m[old] = len(kept)
			n.Index = len(kept)
			kept = append(kept, n)
		}
		nb.nodes = kept
		nb.free = nb.free[:0]
	}

	points := make([][]float64, len(nb.nodes))
	for i, n := range nb.nodes {
		points[i] = n.Position
	}
	nb.boxes.Rebuild(points, nil)
	nb.pairs = nb.boxes.Pairs(points)
	nb.updated = true
	return m, nil
}

// invalidate drops the cached pairs after a structural change.
func (nb *NodeBased) invalidate() {
	nb.pairs = nil
	nb.updated = false
}

func (nb *NodeBased) NeighborPairs() ([]Pair, error) {
	if !nb.updated {
		return nil, ErrNotUpdated
	}
	return nb.pairs, nil
}
