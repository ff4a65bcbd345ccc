package rng_test

import (
	"math"
	"testing"

	"github.com/nvandessel/cellsim/internal/rng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameSeedSameStream(t *testing.T) {
	a := rng.New(42)
	b := rng.New(42)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Float64(), b.Float64(), "draw %d", i)
	}
	assert.Equal(t, uint64(42), a.Seed())
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := rng.New(1)
	b := rng.New(2)
	same := 0
	for i := 0; i < 20; i++ {
		if a.Float64() == b.Float64() {
			same++
		}
	}
	assert.Less(t, same, 20)
}

func TestUniformBounds(t *testing.T) {
	src := rng.New(7)
	for i := 0; i < 10000; i++ {
		v := src.Uniform(1, 5)
		require.GreaterOrEqual(t, v, 1.0)
		require.LessOrEqual(t, v, 5.0)
	}
	assert.Equal(t, 3.0, src.Uniform(3, 3))
}

func TestBernoulliEdges(t *testing.T) {
	src := rng.New(3)
	assert.False(t, src.Bernoulli(0))
	assert.True(t, src.Bernoulli(1))
}

func TestUnitVector(t *testing.T) {
	src := rng.New(11)
	for dim := 1; dim <= 3; dim++ {
		for i := 0; i < 50; i++ {
			v := src.UnitVector(dim)
			require.Len(t, v, dim)
			var sq float64
			for _, x := range v {
				sq += x * x
			}
			assert.InDelta(t, 1.0, math.Sqrt(sq), 1e-12)
		}
	}
	assert.Nil(t, src.UnitVector(4))
}
