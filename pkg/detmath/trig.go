package detmath

import "math"

// Range reduction by Cody-Waite with a three-part pi/2. Accurate to a few ulp for |x| < 1e6.
// Larger inputs lose precision but remain deterministic.
const (
	invPio2 = 6.36619772367581382433e-01
	pio2a   = 1.57079632673412561417e+00
	pio2b   = 6.07710050630396597660e-11
	pio2c   = 2.02226624879595063154e-21
)

// Polynomial coefficients for the sin/cos kernels on [-pi/4, pi/4].
const (
	s1 = -1.66666666666666324348e-01
	s2 = 8.33333333332248946124e-03
	s3 = -1.98412698298579493134e-04
	s4 = 2.75573137070700676789e-06
	s5 = -2.50507602534068634195e-08
	s6 = 1.58969099521155010221e-10

	c1 = 4.16666666666666019037e-02
	c2 = -1.38888888888741095749e-03
	c3 = 2.48015872894767294178e-05
	c4 = -2.75573143513906633035e-07
	c5 = 2.08757232129817482790e-09
	c6 = -1.13596475577881948265e-11
)

func reduce(x float64) (float64, int64) {
	k := math.Round(float64(x * invPio2))
	r := x - float64(k*pio2a)
	r -= float64(k * pio2b)
	r -= float64(k * pio2c)
	return r, int64(k) & 3
}

func sinKernel(r float64) float64 {
	z := float64(r * r)
	p := MulAdd(z, s6, s5)
	p = MulAdd(z, p, s4)
	p = MulAdd(z, p, s3)
	p = MulAdd(z, p, s2)
	p = MulAdd(z, p, s1)
	return MulAdd(float64(z*r), p, r)
}

func cosKernel(r float64) float64 {
	z := float64(r * r)
	p := MulAdd(z, c6, c5)
	p = MulAdd(z, p, c4)
	p = MulAdd(z, p, c3)
	p = MulAdd(z, p, c2)
	p = MulAdd(z, p, c1)
	return 1 - float64(0.5*z) + float64(float64(z*z)*p)
}

// Sin returns the sine of x (radians).
func Sin(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return math.NaN()
	}
	r, q := reduce(x)
	switch q {
	case 0:
		return sinKernel(r)
	case 1:
		return cosKernel(r)
	case 2:
		return -sinKernel(r)
	default:
		return -cosKernel(r)
	}
}

// Cos returns the cosine of x (radians).
func Cos(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return math.NaN()
	}
	r, q := reduce(x)
	switch q {
	case 0:
		return cosKernel(r)
	case 1:
		return -sinKernel(r)
	case 2:
		return -cosKernel(r)
	default:
		return sinKernel(r)
	}
}

// Rational approximation of atan on [0, 0.66].
const (
	ap0 = -8.750608600031904122785e-01
	ap1 = -1.615753718733365076637e+01
	ap2 = -7.500855792314704667340e+01
	ap3 = -1.228866684490136173410e+02
	ap4 = -6.485021904942025371773e+01
	aq0 = +2.485846490142306297962e+01
	aq1 = +1.650270098316988542046e+02
	aq2 = +4.328810604912902668951e+02
	aq3 = +4.853903996359136964868e+02
	aq4 = +1.945506571482613964425e+02

	tan3pio8 = 2.41421356237309504880
	moreBits = 6.123233995736765886130e-17
)

func xatan(x float64) float64 {
	z := float64(x * x)
	num := MulAdd(ap0, z, ap1)
	num = MulAdd(num, z, ap2)
	num = MulAdd(num, z, ap3)
	num = MulAdd(num, z, ap4)
	den := z + aq0
	den = MulAdd(den, z, aq1)
	den = MulAdd(den, z, aq2)
	den = MulAdd(den, z, aq3)
	den = MulAdd(den, z, aq4)
	z = float64(z*num) / den
	return MulAdd(x, z, x)
}

// satan reduces x >= 0 into the range of xatan.
func satan(x float64) float64 {
	if x <= 0.66 {
		return xatan(x)
	}
	if x > tan3pio8 {
		return math.Pi/2 - xatan(1/x) + moreBits
	}
	return math.Pi/4 + xatan((x-1)/(x+1)) + 0.5*moreBits
}

// Atan returns the arctangent of x.
func Atan(x float64) float64 {
	if math.IsNaN(x) {
		return x
	}
	if x < 0 {
		return -satan(-x)
	}
	return satan(x)
}

// Atan2 returns the angle of the vector (x, y) in (-pi, pi]. Signed zeros are not distinguished.
func Atan2(y, x float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case x == 0:
		switch {
		case y > 0:
			return math.Pi / 2
		case y < 0:
			return -math.Pi / 2
		default:
			return 0
		}
	case math.IsInf(x, 0) && math.IsInf(y, 0):
		return math.NaN()
	}

	q := Atan(y / x)
	if x < 0 {
		if y >= 0 {
			return q + math.Pi
		}
		return q - math.Pi
	}
	return q
}
