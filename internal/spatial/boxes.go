package spatial

import (
	"math"
	"sort"

	"github.com/nvandessel/cellsim/internal/vecmath"
)

// boxKey addresses one box of the collection. Unused trailing axes are 0.
type boxKey [MaxDim]int

// BoxCollection buckets points into cubes whose side is the cutoff
// length, so a neighbour search only compares points in adjacent boxes.
// Boxes are hashed rather than allocated densely; a stray point far from
// the tissue costs one extra box, not a grid spanning the gap.
type BoxCollection struct {
	cutoff float64
	dim    int
	origin []float64
	boxes  map[boxKey][]int
}

// NewBoxCollection returns an empty collection. A non-positive cutoff is
// ErrCutoffUnset.
func NewBoxCollection(dim int, cutoff float64) (*BoxCollection, error) {
	if err := checkDim(dim); err != nil {
		return nil, err
	}
	if cutoff <= 0 || math.IsNaN(cutoff) || math.IsInf(cutoff, 0) {
		return nil, ErrCutoffUnset
	}
	return &BoxCollection{cutoff: cutoff, dim: dim}, nil
}

// CutoffLength returns the box side.
func (bc *BoxCollection) CutoffLength() float64 { return bc.cutoff }

// Rebuild clears the collection and inserts every point whose live flag is
// set. live may be nil to insert all points. The box grid is anchored at
// the lower corner of the live points.
func (bc *BoxCollection) Rebuild(points [][]float64, live []bool) {
	bc.boxes = make(map[boxKey][]int)
	var pts [][]float64
	for i, p := range points {
		if live == nil || live[i] {
			pts = append(pts, p)
		}
	}
	bc.origin, _ = vecmath.Bounds(pts)
	for i, p := range points {
		if live != nil && !live[i] {
			continue
		}
		k := bc.key(p)
		bc.boxes[k] = append(bc.boxes[k], i)
	}
}

func (bc *BoxCollection) key(p []float64) boxKey {
	var k boxKey
	for d := 0; d < bc.dim; d++ {
		k[d] = int(math.Floor((p[d] - bc.origin[d]) / bc.cutoff))
	}
	return k
}

// BoxCount returns the number of occupied boxes.
func (bc *BoxCollection) BoxCount() int { return len(bc.boxes) }

// Pairs returns every pair of inserted points no further apart than the
// cutoff, ordered by A then B.
func (bc *BoxCollection) Pairs(points [][]float64) []Pair {
	keys := make([]boxKey, 0, len(bc.boxes))
	for k := range bc.boxes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	offsets := neighbourOffsets(bc.dim)
	var pairs []Pair
	for _, k := range keys {
		here := bc.boxes[k]
		for _, off := range offsets {
			var nk boxKey
			for d := 0; d < MaxDim; d++ {
				nk[d] = k[d] + off[d]
			}
			// Visit each unordered box pair once.
			if keyLess(nk, k) {
				continue
			}
			there, ok := bc.boxes[nk]
			if !ok {
				continue
			}
			same := nk == k
			for ai, a := range here {
				start := 0
				if same {
					start = ai + 1
				}
				for _, b := range there[start:] {
					if vecmath.Distance(points[a], points[b]) <= bc.cutoff {
						pairs = append(pairs, NewPair(a, b))
					}
				}
			}
		}
	}
	SortPairs(pairs)
	return pairs
}

func keyLess(a, b boxKey) bool {
	for d := 0; d < MaxDim; d++ {
		if a[d] != b[d] {
			return a[d] < b[d]
		}
	}
	return false
}

// neighbourOffsets lists the 3^dim offsets of a box and its neighbours.
func neighbourOffsets(dim int) []boxKey {
	offsets := []boxKey{{}}
	for d := 0; d < dim; d++ {
		var next []boxKey
		for _, o := range offsets {
			for _, step := range []int{-1, 0, 1} {
				n := o
				n[d] = step
				next = append(next, n)
			}
		}
		offsets = next
	}
	return offsets
}

// NeighborPairs is the one-shot neighbour search: bucket points with the
// given cutoff and return the close pairs.
func NeighborPairs(dim int, points [][]float64, live []bool, cutoff float64) ([]Pair, error) {
	bc, err := NewBoxCollection(dim, cutoff)
	if err != nil {
		return nil, err
	}
	bc.Rebuild(points, live)
	return bc.Pairs(points), nil
}
