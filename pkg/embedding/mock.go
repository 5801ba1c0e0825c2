package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// MockProvider produces a deterministic, hash-seeded pseudo-embedding:
// no semantic signal, but it satisfies the L2-norm and determinism
// contracts that every provider must honor. Every other provider in
// this package falls back to it on failure.
type MockProvider struct {
	BaseProvider
	dim int
}

// NewMock constructs a MockProvider of the given dimension.
func NewMock(dim int) *MockProvider {
	p := &MockProvider{dim: dim}
	p.BaseProvider = newBaseProvider(p.embed)
	return p
}

func (p *MockProvider) embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text, p.dim), nil
}

// IsAvailable is always true: the hash fallback never fails to load.
func (p *MockProvider) IsAvailable() bool { return true }

func (p *MockProvider) ModelInfo() ModelInfo {
	return ModelInfo{Provider: "mock", Model: "hash-fnv64a", Dim: p.dim, Fallback: true}
}

// hashEmbed seeds a deterministic PRNG from the FNV-64a hash of text and
// draws a dim-length vector, then L2-normalizes it. Same input always
// yields the same output.
func hashEmbed(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := int64(h.Sum64())

	rng := rand.New(rand.NewSource(seed))
	vec := make([]float32, dim)
	var sumSquares float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		sumSquares += v * v
	}

	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
