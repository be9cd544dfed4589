// Package vector provides vector math, codecs, and an in-memory similarity index.
package vector

import "context"

// VectorIndex stores vectors keyed by record id and answers cosine-similarity queries.
// Add replaces the vector of an id that is already present.
type VectorIndex interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int, threshold float64) ([]VectorResult, error)
	Remove(ctx context.Context, ids []int64) error
	Reset()
	Size() int
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    int64
	Score float64 // cosine similarity in [-1, 1]
}
