package embedding

import (
	"os"

	"github.com/convomem/convomem/internal/memlog"
)

// New selects a Provider variant by name (§6 embedding.provider). An
// unknown name, or "openai" without OPENAI_API_KEY set, falls back to
// mock with a warning rather than failing store initialization.
func New(provider string, dim int, logger memlog.Logger) Provider {
	if logger == nil {
		logger = memlog.Nop()
	}

	switch provider {
	case "mock", "":
		return NewMock(dim)
	case "local_onnx":
		return NewLocalONNX(dim, logger)
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			logger.Warn("embedding.provider=openai requires OPENAI_API_KEY, falling back to mock")
			return NewMock(dim)
		}
		return NewOpenAI(apiKey, dim, logger)
	default:
		logger.Warn("unknown embedding provider, falling back to mock", "provider", provider)
		return NewMock(dim)
	}
}
