// Package search embeds queries and diaries and ranks stored records against them.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/diaryrag/internal/embedding"
	"github.com/hyperjump/diaryrag/internal/metrics"
	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/ranking"
	"github.com/hyperjump/diaryrag/internal/storage"
	"github.com/hyperjump/diaryrag/pkg/utils"
)

// Service runs single-query retrieval and keeps stored vectors in step with their text.
type Service struct {
	embedder embedding.Embedder
	store    storage.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewService creates a retrieval service. logger and m may be nil.
func NewService(embedder embedding.Embedder, store storage.Store, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, store: store, logger: logger, metrics: m}
}

// Store returns the underlying record store.
func (s *Service) Store() storage.Store { return s.store }

// Embedder returns the embedder used for queries and diaries.
func (s *Service) Embedder() embedding.Embedder { return s.embedder }

// Search embeds q.Text and returns the stored records with cosine similarity
// >= q.Threshold, best first, at most q.Limit. No hits is not an error.
func (s *Service) Search(ctx context.Context, q models.Query) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		s.metrics.Search(metrics.OutcomeInvalid, time.Since(start))
		return nil, err
	}

	hits, err := s.rank(ctx, q)
	if err != nil {
		s.metrics.Search(metrics.OutcomeError, time.Since(start))
		return nil, err
	}

	outcome := metrics.OutcomeOK
	if len(hits) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	elapsed := time.Since(start)
	s.metrics.Search(outcome, elapsed)
	s.logger.Debug("search finished",
		zap.String("query", utils.Truncate(q.Text, 50)),
		zap.Int("hits", len(hits)),
		zap.Duration("elapsed", elapsed))

	return &models.SearchResponse{
		Query:      q.Text,
		Results:    hits,
		TotalFound: len(hits),
		QueryTime:  elapsed.Milliseconds(),
	}, nil
}

func (s *Service) rank(ctx context.Context, q models.Query) ([]models.ScoredHit, error) {
	embedStart := time.Now()
	queryVec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	s.metrics.Embed(time.Since(embedStart))

	if searcher, ok := s.store.(storage.Searcher); ok {
		hits, err := searcher.Search(ctx, queryVec, q.Limit, q.Threshold)
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		return hits, nil
	}

	collector := ranking.NewCollector(queryVec, q.Limit, q.Threshold)
	err = s.store.Scan(ctx, func(r models.Record) error {
		collector.Add(r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store scan failed: %w", err)
	}
	return collector.Hits(), nil
}

// Upsert composes the diary text, embeds it and stores text and vector together.
func (s *Service) Upsert(ctx context.Context, in models.DiaryInput) (*models.UpsertResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	text := in.ComposeText()
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	rec := models.Record{ID: *in.ID, Text: text, Date: in.Date, Vector: vec}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store diary %d: %w", rec.ID, err)
	}
	s.logger.Info("diary stored", zap.Int64("diary_id", rec.ID), zap.Int("dim", len(vec)))
	return &models.UpsertResult{
		DiaryID:      rec.ID,
		TextLength:   utils.RuneLen(text),
		EmbeddingDim: len(vec),
		Text:         text,
	}, nil
}

// Delete removes a diary. Deleting an absent id reports false without error.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete diary %d: %w", id, err)
	}
	if deleted {
		s.logger.Info("diary deleted", zap.Int64("diary_id", id))
	}
	return deleted, nil
}
