package vector

import "math"

// CosineSimilarity returns dot(a, b) / (|a| * |b|) computed in float64 and clamped to [-1, 1].
// It returns 0 when either norm is zero, the lengths differ or a component is not finite.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	s := InnerProduct(a, b) / (na * nb)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return Clamp(s)
}

// Clamp limits s to [-1, 1] to absorb floating-point drift. NaN becomes 0.
func Clamp(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(-1, math.Min(1, s))
}

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
