//go:build !release

// Package assert panics when an internal invariant of the lockstep core is violated. Invariants
// checked here are programming errors, never environmental conditions such as late input or a
// lost connection; those are handled by the component that owns them.
package assert

import "fmt"

func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Monotonic panics if next is smaller than prev. Used for ticks and log positions.
func Monotonic[T ~uint8 | ~uint16 | ~uint32 | ~uint64](prev, next T, what string) {
	if next < prev {
		panic(fmt.Sprintf("%s went backwards: %d -> %d", what, prev, next))
	}
}
