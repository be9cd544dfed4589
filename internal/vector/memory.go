package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when a vector does not have the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// MemoryIndex is an in-memory vector index using brute-force cosine search.
// Vectors keep their insertion order, which breaks score ties.
type MemoryIndex struct {
	dimensions int
	ids        []int64
	vectors    [][]float32
	pos        map[int64]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		ids:        make([]int64, 0),
		vectors:    make([][]float32, 0),
		pos:        make(map[int64]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the vector dimension of the index.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add inserts vectors, replacing in place any id that is already present.
func (m *MemoryIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		if p, ok := m.pos[id]; ok {
			m.vectors[p] = vec
			continue
		}
		m.pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns up to k vectors whose cosine similarity to query is >= threshold,
// best first. Equal scores keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, threshold float64) ([]VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query %w: got %d, expected %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	results := make([]VectorResult, 0, len(m.ids))
	for i, vec := range m.vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score := CosineSimilarity(query, vec)
		if score >= threshold {
			results = append(results, VectorResult{ID: m.ids[i], Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Remove removes vectors by ID. Unknown ids are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []int64) error {
	removeSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	newIDs := make([]int64, 0, len(m.ids))
	newVectors := make([][]float32, 0, len(m.vectors))
	for i, id := range m.ids {
		if !removeSet[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, m.vectors[i])
		}
	}
	m.ids = newIDs
	m.vectors = newVectors
	m.reindex()
	return nil
}

// Reset drops every vector.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = m.ids[:0]
	m.vectors = m.vectors[:0]
	m.pos = make(map[int64]int)
}

func (m *MemoryIndex) reindex() {
	m.pos = make(map[int64]int, len(m.ids))
	for i, id := range m.ids {
		m.pos[id] = i
	}
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
