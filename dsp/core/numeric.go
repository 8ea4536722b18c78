package core

import (
	"cmp"
	"math"
)

// Clamp limits v to [lo, hi]. Swapped bounds are reordered.
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	return min(max(v, lo), hi)
}

// NearlyEqual reports whether a and b agree within eps: absolutely when
// both are small, relative to the larger magnitude otherwise. A
// non-positive eps means 1e-12.
func NearlyEqual(a, b, eps float64) bool {
	if eps <= 0 {
		eps = 1e-12
	}

	diff := math.Abs(a - b)
	scale := max(math.Abs(a), math.Abs(b), 1)
	return diff <= eps*scale
}

// DBToLinear converts a level in dB to an amplitude factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts an amplitude to dB. Silence maps to -Inf; negative
// amplitudes have no level and map to NaN.
func LinearToDB(amp float64) float64 {
	switch {
	case amp < 0:
		return math.NaN()
	case amp == 0:
		return math.Inf(-1)
	}
	return 20 * math.Log10(amp)
}
