// Package embedding implements convomem's embedding provider component:
// text to fixed-dimension, L2-normalized vectors, with a deterministic
// fallback when no real model is available.
package embedding

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

// ErrEmbeddingUnavailable names the condition of a provider's backing
// model failing to load. No provider in this package returns it: such a
// provider serves the deterministic fallback vector and reports
// IsAvailable() == false instead.
var ErrEmbeddingUnavailable = errors.New("embedding: provider unavailable, using fallback")

// ModelInfo describes the active embedding model.
type ModelInfo struct {
	Provider string
	Model    string
	Dim      int
	Fallback bool // true if this provider is serving the hash-seeded fallback
}

// Provider is the embedding capability: text to vector, batched, with a
// liveness check and model metadata.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	IsAvailable() bool
	ModelInfo() ModelInfo
}

// BaseProvider gives a Provider a default goroutine-fan-out EmbedBatch
// built on top of a single-text Embed function, so a variant only has
// to implement Embed.
type BaseProvider struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	group   singleflight.Group
}

func newBaseProvider(embedFn func(ctx context.Context, text string) ([]float32, error)) BaseProvider {
	return BaseProvider{embedFn: embedFn}
}

// Embed calls the underlying embed function for a single text.
func (b *BaseProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return b.embedFn(ctx, text)
}

// EmbedBatch embeds each text concurrently, preserving input order.
// Duplicate texts within the same batch share a single in-flight call
// via singleflight, so a session whose embed payload repeats a message
// (or a caller that re-submits the same query text) doesn't pay for the
// same embedding twice.
func (b *BaseProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	type result struct {
		idx int
		vec []float32
		err error
	}

	results := make([][]float32, len(texts))
	ch := make(chan result, len(texts))

	for i, text := range texts {
		go func(idx int, t string) {
			v, err, _ := b.group.Do(t, func() (interface{}, error) {
				return b.embedFn(ctx, t)
			})
			vec, _ := v.([]float32)
			ch <- result{idx: idx, vec: vec, err: err}
		}(i, text)
	}

	for range texts {
		r := <-ch
		if r.err != nil {
			return nil, r.err
		}
		results[r.idx] = r.vec
	}

	return results, nil
}
