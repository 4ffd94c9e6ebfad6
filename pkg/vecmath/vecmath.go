// Package vecmath provides the vector operations used by topic clustering
// and incremental assignment. All similarity math assumes unit-normalized
// vectors (cosine geometry).
package vecmath

import "math"

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged (it has no direction to preserve).
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// NormalizeAll returns unit-length copies of all vectors.
func NormalizeAll(vs [][]float32) [][]float32 {
	out := make([][]float32, len(vs))
	for i, v := range vs {
		out[i] = Normalize(v)
	}
	return out
}

// Dot returns the dot product of a and b. Panics if lengths differ,
// mismatched dimensions are a programming error.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		panic("vecmath: dimension mismatch")
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// For unit vectors this is just the dot product; non-unit inputs are
// normalized by their norms.
func CosineSimilarity(a, b []float32) float64 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// CosineDistance returns 1 - CosineSimilarity(a, b).
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// ClampSimilarity clips s into [0, 1]. Same-domain text embeddings land in
// this range already; tiny float drift below zero or above one is clipped so
// stored scores honor the similarity invariant.
func ClampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Mean returns the element-wise mean of the vectors. Returns nil for an
// empty input.
func Mean(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		for i, x := range v {
			acc[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i, x := range acc {
		out[i] = float32(x / float64(len(vs)))
	}
	return out
}

// Centroid returns the re-normalized mean of the vectors: the unit vector
// representing the semantic center of the set.
func Centroid(vs [][]float32) []float32 {
	m := Mean(vs)
	if m == nil {
		return nil
	}
	return Normalize(m)
}
