package index

import "math"

// dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// squaredL2 calculates the squared L2 (Euclidean) distance between two
// vectors. For L2-normalized vectors d² = 2 - 2·cos, so similarity can
// be recovered from the distance alone.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// normalizeL2 returns an L2-normalized copy of v.
// Returns false if v has zero norm.
func normalizeL2(v []float32) ([]float32, bool) {
	norm2 := dot(v, v)
	if norm2 == 0 {
		return nil, false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out, true
}

// cosineScore converts a squared L2 distance between normalized vectors
// into a similarity score clamped to [0,1].
func cosineScore(dist float32) float64 {
	s := 1 - float64(dist)/2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
