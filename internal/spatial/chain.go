package spatial

import (
	"sort"

	"github.com/nvandessel/cellsim/internal/vecmath"
)

// ChainMesh is a one-dimensional Mesh: nodes on a line, each joined to its
// nearest neighbour on either side. Remesh drops deleted nodes and
// renumbers the rest in coordinate order.
type ChainMesh struct {
	pos     [][]float64
	deleted []bool
}

// NewChainMesh returns a chain through xs.
func NewChainMesh(xs []float64) *ChainMesh {
	c := &ChainMesh{}
	for _, x := range xs {
		c.AddNode([]float64{x})
	}
	return c
}

func (c *ChainMesh) Dim() int { return 1 }

func (c *ChainMesh) NodeCount() int { return len(c.pos) }

func (c *ChainMesh) Position(i int) []float64 { return c.pos[i] }

func (c *ChainMesh) SetPosition(i int, p []float64) { copy(c.pos[i], p) }

func (c *ChainMesh) IsDeleted(i int) bool { return c.deleted[i] }

func (c *ChainMesh) AddNode(p []float64) int {
	c.pos = append(c.pos, vecmath.Clone(p))
	c.deleted = append(c.deleted, false)
	return len(c.pos) - 1
}

func (c *ChainMesh) DeleteNode(i int) { c.deleted[i] = true }

// order returns live node indices sorted by coordinate, ties by index.
func (c *ChainMesh) order() []int {
	var idx []int
	for i := range c.pos {
		if !c.deleted[i] {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return c.pos[idx[a]][0] < c.pos[idx[b]][0]
	})
	return idx
}

func (c *ChainMesh) Edges() []Pair {
	idx := c.order()
	var edges []Pair
	for i := 1; i < len(idx); i++ {
		edges = append(edges, NewPair(idx[i-1], idx[i]))
	}
	return edges
}

func (c *ChainMesh) Remesh() (IndexMap, error) {
	m := make(IndexMap, len(c.pos))
	for i := range m {
		m[i] = -1
	}
	idx := c.order()
	pos := make([][]float64, len(idx))
	for nw, old := range idx {
		m[old] = nw
		pos[nw] = c.pos[old]
	}
	c.pos = pos
	c.deleted = make([]bool, len(pos))
	return m, nil
}
