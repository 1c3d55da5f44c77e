// Package detmath provides arithmetic, iteration and hashing helpers whose results are
// bit-identical on every platform Go targets.
//
// Simulation code that must stay in lockstep follows three rules:
//
//  1. Only + - * / and Sqrt are used directly on floats. Everything transcendental goes through
//     this package, which implements it in plain Go instead of deferring to platform assembly.
//  2. Maps are never ranged directly; use SortedKeys or Range.
//  3. A simulation step runs on one goroutine.
//
// Go allows the compiler to fuse x*y + z into a single FMA instruction on arm64, ppc64le and
// s390x, which rounds once instead of twice. An explicit float64() conversion forces the
// intermediate rounding, so every product that feeds an addition in this package is wrapped, and
// simulation code should use MulAdd for the same purpose.
package detmath

import "math"

// MulAdd returns a*b + c with the product rounded before the addition.
func MulAdd(a, b, c float64) float64 {
	return float64(a*b) + c
}

// Sqrt is correctly rounded under IEEE 754 and therefore identical everywhere.
func Sqrt(x float64) float64 {
	return math.Sqrt(x)
}

func Abs(x float64) float64 {
	return math.Abs(x)
}

// Sign returns -1, 0 or 1.
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
