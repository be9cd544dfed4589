package storage

import (
	"context"
	"sync"

	"github.com/hyperjump/diaryrag/internal/models"
)

// MemoryStore keeps records in process memory in insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.Record
	pos     map[int64]int
	opts    options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{pos: make(map[int64]int), opts: buildOptions(opts)}
}

func (m *MemoryStore) Kind() Kind { return KindKeyValue }

func (m *MemoryStore) Upsert(ctx context.Context, rec models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.opts.checkDimensions(rec.Vector); err != nil {
		return err
	}
	rec.Vector = append([]float32(nil), rec.Vector...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.pos[rec.ID]; ok {
		m.records[i] = rec
		return nil
	}
	m.pos[rec.ID] = len(m.records)
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.pos[id]
	if !ok {
		return false, nil
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	delete(m.pos, id)
	for j := i; j < len(m.records); j++ {
		m.pos[m.records[j].ID] = j
	}
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (models.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.pos[id]
	if !ok {
		return models.Record{}, false, nil
	}
	return m.records[i], true, nil
}

// Scan iterates over a snapshot so fn may write to the store.
func (m *MemoryStore) Scan(ctx context.Context, fn func(models.Record) error) error {
	m.mu.RLock()
	snapshot := append([]models.Record(nil), m.records...)
	m.mu.RUnlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return endScan(err)
		}
	}
	return nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryStore) Close() error { return nil }
