package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Static generates embeddings by hashing tokens and character trigrams into
// a fixed-dimension vector. No network, no model download, fully
// deterministic for a given input; semantic quality is reduced accordingly.
type Static struct {
	dim int
}

var _ Embedder = (*Static)(nil)

// Token and trigram contributions to the vector.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// NewStatic creates a static embedder producing vectors of dimension dim.
func NewStatic(dim int) *Static {
	if dim <= 0 {
		dim = 768
	}
	return &Static{dim: dim}
}

func (e *Static) Dimensions() int { return e.dim }

// Embed hashes the text's tokens and trigrams into an L2-normalized vector.
// Empty input yields the zero vector.
func (e *Static) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)

	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return vec, nil
	}

	for _, tok := range strings.Fields(trimmed) {
		vec[hashToIndex(tok, e.dim)] += tokenWeight
		for i := 0; i+ngramSize <= len(tok); i++ {
			vec[hashToIndex(tok[i:i+ngramSize], e.dim)] += ngramWeight
		}
	}

	return normalize(vec), nil
}

func hashToIndex(s string, dim int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(dim))
}

// normalize scales vec to unit length. The zero vector passes through.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
