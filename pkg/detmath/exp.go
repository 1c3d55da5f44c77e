package detmath

import "math"

const (
	ln2Hi = 6.93147180369123816490e-01
	ln2Lo = 1.90821492927058770002e-10
	log2e = 1.44269504088896338700e+00

	expOverflow  = 7.09782712893383973096e+02
	expUnderflow = -7.45133219101941108420e+02

	ep1 = 1.66666666666666657415e-01
	ep2 = -2.77777777770155933842e-03
	ep3 = 6.61375632143793436117e-05
	ep4 = -1.65339022054652515390e-06
	ep5 = 4.13813679705723846039e-08
)

// Exp returns e**x.
func Exp(x float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsInf(x, 1):
		return x
	case math.IsInf(x, -1):
		return 0
	case x > expOverflow:
		return math.Inf(1)
	case x < expUnderflow:
		return 0
	}

	k := math.Round(float64(log2e * x))
	hi := x - float64(k*ln2Hi)
	lo := float64(k * ln2Lo)
	r := hi - lo

	t := float64(r * r)
	p := MulAdd(t, ep5, ep4)
	p = MulAdd(t, p, ep3)
	p = MulAdd(t, p, ep2)
	p = MulAdd(t, p, ep1)
	c := r - float64(t*p)
	y := 1 - ((lo - float64(r*c)/(2-c)) - hi)

	// Ldexp only adjusts the exponent, so it is exact.
	return math.Ldexp(y, int(k))
}
