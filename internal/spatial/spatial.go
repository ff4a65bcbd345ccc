// Package spatial holds the geometric side of a tissue: nodes, the
// locations cells occupy, neighbour search and remeshing.
//
// Three structures implement Structure:
//   - NodeBased: free nodes, one per cell, neighbours by box collection
//   - MeshBased: nodes of a Mesh, some of them ghost nodes with no cell
//   - VertexBased: cells are polygonal elements of a VertexMesh
//
// A location is the index a population uses to attach a cell: a node index
// for the node and mesh structures, an element index for the vertex one.
package spatial

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCutoffUnset is returned when neighbour search needs a cutoff
	// length and none was configured.
	ErrCutoffUnset = errors.New("mechanics cutoff length is not set")

	// ErrNotUpdated is returned by NeighborPairs before the first Update.
	ErrNotUpdated = errors.New("neighbour pairs requested before the first update")

	// ErrNoLocation is returned for an index that is out of range or deleted.
	ErrNoLocation = errors.New("no such location")
)

// MaxDim is the largest supported spatial dimension.
const MaxDim = 3

// Node is a point owned by a structure.
type Node struct {
	Index    int
	Position []float64
	Boundary bool
	Deleted  bool
	// Elements lists the owning element indices (vertex meshes only).
	Elements []int
}

// Pair is an unordered node pair with A < B.
type Pair struct {
	A, B int
}

// NewPair orders a and b.
func NewPair(a, b int) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// SortPairs orders pairs by A then B.
func SortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
}

// IndexMap maps old indices to new ones after compaction or remeshing.
// Entry i is the new index of old index i, or -1 when i was removed.
type IndexMap []int

// Identity returns the map that keeps n indices in place.
func Identity(n int) IndexMap {
	m := make(IndexMap, n)
	for i := range m {
		m[i] = i
	}
	return m
}

// Lookup returns the new index for old, and false if it was removed or is
// out of range.
func (m IndexMap) Lookup(old int) (int, bool) {
	if old < 0 || old >= len(m) || m[old] < 0 {
		return -1, false
	}
	return m[old], true
}

// IsIdentity reports whether no index moved or disappeared.
func (m IndexMap) IsIdentity() bool {
	for i, v := range m {
		if v != i {
			return false
		}
	}
	return true
}

// Structure is the spatial representation a population is built on.
type Structure interface {
	// Dim is the spatial dimension, 1 to 3.
	Dim() int

	// NodeCount is the number of node slots, including deleted ones.
	NodeCount() int
	Node(i int) Node
	SetNodePosition(i int, p []float64) error

	// LocationCount is the number of location slots, including deleted ones.
	LocationCount() int
	// IsLocationLive reports whether loc exists and can hold a cell.
	IsLocationLive(loc int) bool
	// Centre is the location's position: its node, or its element centroid.
	Centre(loc int) []float64
	// NodeLocations lists the live locations a node belongs to.
	NodeLocations(node int) []int

	// Divide places a parent at parentPos and creates a daughter location at
	// daughterPos, returning the daughter's index.
	Divide(loc int, parentPos, daughterPos []float64) (int, error)
	// Remove deletes a location. Its index may be recycled before the next
	// Update and is compacted away by it.
	Remove(loc int) error

	// Update compacts or remeshes after insertions and deletions and
	// rebuilds the neighbour pairs. The returned map covers locations.
	Update() (IndexMap, error)
	// NeighborPairs returns the node pairs found by the last Update.
	NeighborPairs() ([]Pair, error)
}

func checkDim(dim int) error {
	if dim < 1 || dim > MaxDim {
		return fmt.Errorf("spatial: dimension must be 1..%d, got %d", MaxDim, dim)
	}
	return nil
}

func checkPoint(dim int, p []float64) error {
	if len(p) != dim {
		return fmt.Errorf("spatial: point has %d coordinates, structure is %dD", len(p), dim)
	}
	return nil
}
