// Package embedding turns diary and query text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
)

// ErrModelUnavailable is returned when an embedding backend cannot be initialized.
// It is fatal for the process: every other operation needs embeddings.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Embedder produces vector embeddings for text. Implementations are deterministic:
// the same text always yields the same vector for a fixed model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
