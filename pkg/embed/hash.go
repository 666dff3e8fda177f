package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder produces deterministic embeddings by feature-hashing tokens
// into a fixed number of buckets. It needs no network and always returns the
// same vector for the same text, which makes it suitable for tests and for
// air-gapped deployments where lexical search does the heavy lifting.
type HashEmbedder struct {
	dimensions int
}

// NewHash creates a deterministic hashing embedder. Dimensions defaults to 64
// when zero or negative.
func NewHash(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed hashes each token into a bucket and L2-normalizes the result.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		hasher := fnv.New32a()
		hasher.Write([]byte(tok))
		sum := hasher.Sum32()
		bucket := int(sum) % h.dimensions
		if bucket < 0 {
			bucket += h.dimensions
		}
		// Sign bit from the hash spreads tokens across both directions.
		if sum&0x80000000 != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the bucket count.
func (h *HashEmbedder) Dimensions() int { return h.dimensions }

// Model identifies the hashing scheme.
func (h *HashEmbedder) Model() string { return "feature-hash-fnv32a" }
