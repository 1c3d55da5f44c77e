package testutils

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandWeightedOpRespectsZeroWeights(t *testing.T) {
	t.Parallel()
	rng := NewRand(t)

	weights := OpWeights{"a": 0, "b": 3, "c": 0}
	for range 100 {
		assert.Equal(t, "b", RandWeightedOp(rng, weights))
	}

	assert.Panics(t, func() { RandWeightedOp(rng, OpWeights{"a": 0}) })
}

func TestRandWeightedOpIsReproducible(t *testing.T) {
	t.Parallel()

	weights := OpWeights{"tick": 10, "join": 2, "leave": 1, "crash": 1}
	run := func() []string {
		rng := rand.New(rand.NewPCG(7, 7))
		out := make([]string, 0, 50)
		for range 50 {
			out = append(out, RandWeightedOp(rng, weights))
		}
		return out
	}
	require.Equal(t, run(), run())
}

func TestShuffleKeepsElements(t *testing.T) {
	t.Parallel()
	rng := NewRand(t)

	in := []int{1, 2, 3, 4, 5, 6}
	out := Shuffle(rng, in)
	assert.ElementsMatch(t, in, out)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, in)
}
