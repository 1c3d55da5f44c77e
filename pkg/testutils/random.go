// Package testutils holds helpers shared by the package tests: a reproducible random source and an
// in-process NATS server.
package testutils

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"testing"
	"time"
)

var Seed uint64 //nolint:gochecknoglobals // intentionally global for test reproducibility

func init() { //nolint:gochecknoinits // intentionally using init to set seed
	Seed = uint64(time.Now().UnixNano()) //nolint:gosec // it's ok
	if envSeed := os.Getenv("TEST_SEED"); envSeed != "" {
		parsed, err := strconv.ParseUint(envSeed, 0, 64)
		if err == nil { // Only set using the env if it's valid
			Seed = parsed
		}
	}
	fmt.Printf("to reproduce: TEST_SEED=0x%x\n", Seed) //nolint:forbidigo // just for testing
}

// NewRand returns a PCG source seeded from Seed. Each test gets its own stream so parallel tests
// don't perturb each other.
func NewRand(t *testing.T) *rand.Rand {
	t.Helper()
	return rand.New(rand.NewPCG(Seed, seedFor(t.Name()))) //nolint:gosec // weak RNG is fine for tests
}

func seedFor(name string) uint64 {
	// FNV-1a over the test name.
	h := uint64(14695981039346656037)
	for i := range len(name) {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return h
}

// RandMapKey returns a random key from a map. Keys are visited in sorted order so the result only
// depends on the random source. Panics if the map is empty.
func RandMapKey[K cmp.Ordered, V any](r *rand.Rand, m map[K]V) K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys[r.IntN(len(keys))]
}

// OpWeights maps an operation name to its selection weight.
type OpWeights map[string]uint64

// RandOpWeights assigns a random weight in [0, 100] to every op. A zero weight disables the op for
// the run, which is how swarm testing explores different workload mixes.
func RandOpWeights(r *rand.Rand, ops []string) OpWeights {
	weights := make(OpWeights, len(ops))
	for _, op := range ops {
		weights[op] = uint64(r.IntN(101)) //nolint:gosec // non-negative
	}
	return weights
}

// RandWeightedOp picks an op proportionally to its weight. Panics if every weight is zero.
func RandWeightedOp(r *rand.Rand, weights OpWeights) string {
	ops := make([]string, 0, len(weights))
	var total uint64
	for op, w := range weights {
		ops = append(ops, op)
		total += w
	}
	if total == 0 {
		panic("all op weights are zero")
	}
	slices.Sort(ops)

	pick := r.Uint64N(total)
	for _, op := range ops {
		w := weights[op]
		if pick < w {
			return op
		}
		pick -= w
	}
	panic("unreachable")
}

// RandString generates a random alphanumeric string of the given length.
func RandString(r *rand.Rand, length int) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = chars[r.IntN(len(chars))]
	}
	return string(b)
}

// RandBytes returns n random bytes.
func RandBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.UintN(256))
	}
	return b
}

// Shuffle returns a shuffled copy of s.
func Shuffle[T any](r *rand.Rand, s []T) []T {
	out := slices.Clone(s)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
