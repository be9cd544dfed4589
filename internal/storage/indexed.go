package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/vector"
)

const backendIndex = "index"

type recordMeta struct {
	text string
	date string
}

// IndexedStore answers searches from an in-memory vector index over another
// store. The index is rebuilt from a full scan on the first search after any
// write or Invalidate call, so a search never sees a stale vector.
type IndexedStore struct {
	inner Store
	index vector.VectorIndex
	opts  options

	mu    sync.Mutex
	meta  map[int64]recordMeta
	stale bool
}

var (
	_ Store    = (*IndexedStore)(nil)
	_ Searcher = (*IndexedStore)(nil)
)

// NewIndexedStore wraps inner with index. The index is built lazily.
func NewIndexedStore(inner Store, index vector.VectorIndex, opts ...Option) *IndexedStore {
	return &IndexedStore{
		inner: inner,
		index: index,
		opts:  buildOptions(opts),
		stale: true,
	}
}

// Invalidate forces a rebuild before the next search. Used when the
// underlying data changes outside this process.
func (s *IndexedStore) Invalidate() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// Inner returns the wrapped store.
func (s *IndexedStore) Inner() Store { return s.inner }

func (s *IndexedStore) rebuild(ctx context.Context) error {
	s.index.Reset()
	meta := make(map[int64]recordMeta)
	err := s.inner.Scan(ctx, func(r models.Record) error {
		err := s.index.Add(ctx, []int64{r.ID}, [][]float32{r.Vector})
		if errors.Is(err, vector.ErrDimensionMismatch) {
			s.opts.skipped(backendIndex, r.ID, err)
			return nil
		}
		if err != nil {
			return err
		}
		meta[r.ID] = recordMeta{text: r.Text, date: r.Date}
		return nil
	})
	if err != nil {
		s.index.Reset()
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	s.meta = meta
	s.stale = false
	s.opts.logger.Debug("vector index rebuilt", zap.Int("size", s.index.Size()))
	return nil
}

// Search ranks by cosine similarity using the index.
func (s *IndexedStore) Search(ctx context.Context, query []float32, limit int, threshold float64) ([]models.ScoredHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale {
		if err := s.rebuild(ctx); err != nil {
			return nil, err
		}
	}
	hits := []models.ScoredHit{}
	if limit <= 0 || s.index.Size() == 0 {
		return hits, nil
	}
	results, err := s.index.Search(ctx, query, limit, threshold)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		m := s.meta[r.ID]
		hits = append(hits, models.ScoredHit{ID: r.ID, Text: m.text, Date: m.date, Score: r.Score})
	}
	return hits, nil
}

func (s *IndexedStore) Kind() Kind { return s.inner.Kind() }

// DecodeFailures counts records the index rebuild rejected.
func (s *IndexedStore) DecodeFailures() int64 { return s.opts.failures.Load() }

func (s *IndexedStore) Upsert(ctx context.Context, rec models.Record) error {
	err := s.inner.Upsert(ctx, rec)
	s.Invalidate()
	return err
}

func (s *IndexedStore) Delete(ctx context.Context, id int64) (bool, error) {
	ok, err := s.inner.Delete(ctx, id)
	s.Invalidate()
	return ok, err
}

func (s *IndexedStore) Get(ctx context.Context, id int64) (models.Record, bool, error) {
	return s.inner.Get(ctx, id)
}

func (s *IndexedStore) Scan(ctx context.Context, fn func(models.Record) error) error {
	return s.inner.Scan(ctx, fn)
}

func (s *IndexedStore) Count(ctx context.Context) (int, error) {
	return s.inner.Count(ctx)
}

func (s *IndexedStore) Close() error {
	return errors.Join(s.index.Close(), s.inner.Close())
}
