package embedding

import (
	"context"
	"math"
	"testing"
)

func TestMockProviderDeterministicAndNormalized(t *testing.T) {
	p := NewMock(384)
	ctx := context.Background()

	v1, err := p.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, err := p.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("Embed (again): %v", err)
	}

	if len(v1) != len(v2) {
		t.Fatalf("lengths differ: %d vs %d", len(v1), len(v2))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embed(t) not deterministic at index %d: %f vs %f", i, v1[i], v2[i])
		}
	}

	var sumSquares float64
	for _, v := range v1 {
		sumSquares += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSquares)
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("‖embed(t)‖₂ = %f, want ~1.0", norm)
	}
}

func TestMockProviderBatchPreservesOrder(t *testing.T) {
	p := NewMock(16)
	ctx := context.Background()

	texts := []string{"a", "b", "c"}
	batch, err := p.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, text := range texts {
		single, err := p.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed(%q): %v", text, err)
		}
		for j := range single {
			if batch[i][j] != single[j] {
				t.Errorf("batch[%d] != Embed(%q) at index %d", i, text, j)
			}
		}
	}
}
