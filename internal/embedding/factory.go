package embedding

import (
	"fmt"
	"os"

	"github.com/hyperjump/diaryrag/internal/config"
)

// Provider names accepted by New.
const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// New builds the configured embedder, wrapped in an LRU cache when CacheSize > 0.
// Any initialization failure is returned wrapped in ErrModelUnavailable.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case ProviderONNX, "":
		if _, statErr := os.Stat(cfg.ModelPath); statErr != nil {
			return nil, fmt.Errorf("%w: model file %s: %v", ErrModelUnavailable, cfg.ModelPath, statErr)
		}
		tokPath := TokenizerPathFor(cfg.ModelPath, cfg.TokenizerPath)
		if _, statErr := os.Stat(tokPath); statErr != nil {
			return nil, fmt.Errorf("%w: tokenizer file %s: %v", ErrModelUnavailable, tokPath, statErr)
		}
		tok, tokErr := LoadHFTokenizer(tokPath)
		if tokErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, tokErr)
		}
		e, err = NewONNXEmbedder(cfg.ModelPath, tok, cfg.Dimensions, cfg.MaxTokens)
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.Dimensions)
	case ProviderMock:
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: onnx, openai, mock)", ErrModelUnavailable, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, cfg.Provider, err)
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
