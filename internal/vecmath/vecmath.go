// Package vecmath provides small vector helpers over []float64 for
// positions and forces in one, two or three dimensions.
package vecmath

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Add returns a + b as a new slice. Mismatched lengths return nil.
func Add(a, b []float64) []float64 {
	if len(a) != len(b) {
		return nil
	}
	out := make([]float64, len(a))
	floats.AddTo(out, a, b)
	return out
}

// Sub returns a - b as a new slice. Mismatched lengths return nil.
func Sub(a, b []float64) []float64 {
	if len(a) != len(b) {
		return nil
	}
	out := make([]float64, len(a))
	floats.SubTo(out, a, b)
	return out
}

// Scale returns s*v as a new slice.
func Scale(s float64, v []float64) []float64 {
	out := make([]float64, len(v))
	floats.ScaleTo(out, s, v)
	return out
}

// AddScaledInPlace sets dst = dst + s*v.
func AddScaledInPlace(dst []float64, s float64, v []float64) {
	if len(dst) != len(v) {
		return
	}
	floats.AddScaled(dst, s, v)
}

// Norm returns the Euclidean length of v.
func Norm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

// Distance returns the Euclidean distance between a and b, or +Inf for
// mismatched lengths.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2)
}

// Unit returns v scaled to length one. A zero vector is returned unchanged.
func Unit(v []float64) []float64 {
	n := Norm(v)
	if n == 0 {
		return Clone(v)
	}
	return Scale(1/n, v)
}

// Clone returns a copy of v.
func Clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// Bounds returns the per-axis minimum and maximum over points. All points
// must share a dimension; an empty input returns nil slices.
func Bounds(points [][]float64) (lo, hi []float64) {
	if len(points) == 0 {
		return nil, nil
	}
	dim := len(points[0])
	lo = make([]float64, dim)
	hi = make([]float64, dim)
	for d := 0; d < dim; d++ {
		lo[d] = math.Inf(1)
		hi[d] = math.Inf(-1)
	}
	for _, p := range points {
		for d := 0; d < dim; d++ {
			lo[d] = math.Min(lo[d], p[d])
			hi[d] = math.Max(hi[d], p[d])
		}
	}
	return lo, hi
}
