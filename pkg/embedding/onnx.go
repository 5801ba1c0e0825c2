package embedding

import (
	"context"
	"sync"

	"github.com/convomem/convomem/internal/memlog"
)

// LocalONNXProvider documents the reference model contract from the
// retrieval design: a 384-dim MiniLM-class transformer, mean-pooled over
// the attention mask and L2-normalized, tokenized with its canonical
// WordPiece tokenizer. No repository in the retrieval pack carries a
// real ONNX runtime binding, so this variant deterministically falls
// back to the same hash-seeded path as MockProvider rather than
// fabricating a dependency that isn't actually available — exactly the
// "failure to load the real model downgrades gracefully" contract in
// §4.B, just triggered unconditionally instead of by a load error.
type LocalONNXProvider struct {
	BaseProvider
	dim      int
	warnOnce sync.Once
	logger   memlog.Logger
}

// NewLocalONNX constructs a LocalONNXProvider of the given dimension.
func NewLocalONNX(dim int, logger memlog.Logger) *LocalONNXProvider {
	if logger == nil {
		logger = memlog.Nop()
	}
	p := &LocalONNXProvider{dim: dim, logger: logger}
	p.BaseProvider = newBaseProvider(p.embed)
	return p
}

func (p *LocalONNXProvider) embed(_ context.Context, text string) ([]float32, error) {
	p.warnOnce.Do(func() {
		p.logger.Warn("local_onnx model not bundled, falling back to deterministic hash embedding",
			"dim", p.dim)
	})
	return hashEmbed(text, p.dim), nil
}

// IsAvailable reports false: the real MiniLM model never loads in this
// build, only the fallback path runs.
func (p *LocalONNXProvider) IsAvailable() bool { return false }

func (p *LocalONNXProvider) ModelInfo() ModelInfo {
	return ModelInfo{Provider: "local_onnx", Model: "minilm-384 (fallback)", Dim: p.dim, Fallback: true}
}
