//go:build !release

package assert

import (
	"testing"

	testifyassert "github.com/stretchr/testify/assert"
)

func TestThat(t *testing.T) {
	t.Parallel()

	testifyassert.NotPanics(t, func() { That(true, "unreachable") })
	testifyassert.PanicsWithValue(t, "slot 3 out of range", func() { That(false, "slot %d out of range", 3) })
}

func TestMonotonic(t *testing.T) {
	t.Parallel()

	testifyassert.NotPanics(t, func() { Monotonic(uint64(4), uint64(4), "tick") })
	testifyassert.NotPanics(t, func() { Monotonic(uint64(4), uint64(5), "tick") })
	testifyassert.PanicsWithValue(t, "tick went backwards: 5 -> 4", func() { Monotonic(uint64(5), uint64(4), "tick") })
}
