package embedding

import (
	"context"
	"math"

	"github.com/sashabaranov/go-openai"

	"github.com/convomem/convomem/internal/memlog"
)

// OpenAIProvider embeds via the OpenAI embeddings API, truncating or
// zero-padding the model's native dimension to the store's fixed D and
// re-normalizing. Any API failure (network, auth, rate limit) falls back
// to the deterministic hash embedding rather than propagating as a
// StorageFailure — embedding is an optional subsystem per §7.
type OpenAIProvider struct {
	BaseProvider
	client   *openai.Client
	model    openai.EmbeddingModel
	dim      int
	logger   memlog.Logger
	fallback *MockProvider
}

// NewOpenAI constructs an OpenAIProvider. apiKey comes from the
// environment (OPENAI_API_KEY), never from config.json.
func NewOpenAI(apiKey string, dim int, logger memlog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = memlog.Nop()
	}
	p := &OpenAIProvider{
		client:   openai.NewClient(apiKey),
		model:    openai.SmallEmbedding3,
		dim:      dim,
		logger:   logger,
		fallback: NewMock(dim),
	}
	p.BaseProvider = newBaseProvider(p.embed)
	return p
}

func (p *OpenAIProvider) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: p.model,
		Input: []string{text},
	})
	if err != nil || len(resp.Data) == 0 {
		p.logger.Warn("openai embedding failed, falling back to hash embedding", "error", err)
		return p.fallback.embed(ctx, text)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float64, p.dim)
	for i := 0; i < p.dim && i < len(raw); i++ {
		vec[i] = float64(raw[i])
	}

	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return p.fallback.embed(ctx, text)
	}

	out := make([]float32, p.dim)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// IsAvailable is true for any constructed OpenAIProvider: the client is
// always set, and the key itself is not checked here (the factory only
// builds this provider when OPENAI_API_KEY is non-empty).
func (p *OpenAIProvider) IsAvailable() bool { return p.client != nil }

func (p *OpenAIProvider) ModelInfo() ModelInfo {
	return ModelInfo{Provider: "openai", Model: string(p.model), Dim: p.dim}
}
