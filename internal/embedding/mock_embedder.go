package embedding

import (
	"context"
	"hash/fnv"
	"unicode"

	"github.com/hyperjump/diaryrag/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline use. Each letter or digit
// is hashed into one of the dimensions, so texts sharing characters score as similar.
// Empty text, or text with no letters or digits, maps to the zero vector.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the L2-normalized character histogram of text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		emb[runeBucket(unicode.ToLower(r), e.dimensions)]++
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

func runeBucket(r rune, dimensions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(r)))
	return int(h.Sum32() % uint32(dimensions))
}
