package utils

// Clamp limits v to the closed interval [lo, hi].
func Clamp[T ~int | ~int16 | ~int32 | ~int64 | ~float32 | ~float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
