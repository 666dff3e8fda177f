// Package vecmath provides the vector similarity and normalization kernels
// used throughout Symbiont.
//
// All embeddings are L2-normalized at write time, so cosine similarity
// reduces to a dot product and scores are comparable across backends. Use
// these functions instead of hand-rolling loops to keep scoring consistent.
package vecmath

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// CosineSimilarity calculates cosine similarity between two float32 vectors.
// Returns a value in [-1, 1] where 1 = identical direction, 0 = orthogonal.
// Returns 0 for empty, mismatched, or zero-length inputs.
//
// Example:
//
//	a := []float32{1, 2, 3}
//	b := []float32{4, 5, 6}
//	sim := vecmath.CosineSimilarity(a, b) // 0.9746...
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	// vek returns NaN for zero vectors; we want 0.
	result := vek32.CosineSimilarity(a, b)
	if math.IsNaN(float64(result)) {
		return 0
	}
	return float64(result)
}

// DotProduct calculates the dot product of two float32 vectors. For
// normalized vectors this equals cosine similarity and is the fast path for
// index scoring.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return float64(vek32.Dot(a, b))
}

// Norm returns the Euclidean (L2) norm of a vector.
func Norm(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return float64(vek32.Norm(v))
}

// Normalize returns an L2-normalized copy of the vector. The input is not
// modified. A zero vector normalizes to a zero vector of the same length.
func Normalize(vec []float32) []float32 {
	normalized := make([]float32, len(vec))
	n := Norm(vec)
	if n == 0 {
		return normalized
	}
	inv := float32(1.0 / n)
	for i, v := range vec {
		normalized[i] = v * inv
	}
	return normalized
}

// NormalizeInPlace normalizes a vector to unit length, modifying the input.
// A zero vector is left unchanged.
func NormalizeInPlace(v []float32) {
	n := Norm(v)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range v {
		v[i] *= inv
	}
}

// IsNormalized reports whether the vector already has unit length within a
// small tolerance.
func IsNormalized(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	return math.Abs(Norm(v)-1.0) < 1e-4
}
