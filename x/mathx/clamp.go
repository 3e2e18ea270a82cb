// Package mathx holds the generic numeric helpers used when quantising
// measurements into fixed-width wire fields.
package mathx

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp limits v to [lo, hi]. Swapped bounds are put in order first.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// RoundTo rounds v half away from zero and saturates it to [lo, hi].
// NaN maps to lo.
func RoundTo[T constraints.Integer](v float64, lo, hi T) T {
	if math.IsNaN(v) {
		return lo
	}
	return T(Clamp(math.Round(v), float64(lo), float64(hi)))
}
