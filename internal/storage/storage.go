// Package storage persists diary records and their embedding vectors.
//
// Every backend satisfies Store. Backends with a native nearest-neighbour
// index additionally implement Searcher; callers fall back to scanning when
// they do not.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/diaryrag/internal/metrics"
	"github.com/hyperjump/diaryrag/internal/models"
)

// Kind names the physical shape of a backend.
type Kind string

const (
	KindKeyValue      Kind = "key_value"
	KindIndexedVector Kind = "indexed_vector"
	KindRawBlob       Kind = "raw_blob"
)

var (
	// ErrStoreUnavailable means no link of the store chain yielded usable records.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDimensionMismatch is returned when a vector does not match the store dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrReadOnly is returned by backends that do not accept writes.
	ErrReadOnly = errors.New("store is read-only")
	// ErrStopScan may be returned by a Scan callback to end the scan early without error.
	ErrStopScan = errors.New("stop scan")
)

// Store is the record store contract shared by all backends.
type Store interface {
	Kind() Kind
	// Upsert inserts rec or replaces text, date and vector of the record with the same ID.
	Upsert(ctx context.Context, rec models.Record) error
	// Delete removes the record and reports whether it existed.
	Delete(ctx context.Context, id int64) (bool, error)
	Get(ctx context.Context, id int64) (models.Record, bool, error)
	// Scan calls fn for every decodable record in a stable order. Undecodable
	// records are skipped and counted. Scan may be called again after writes
	// and observes them.
	Scan(ctx context.Context, fn func(models.Record) error) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Searcher is implemented by stores that rank candidates themselves. Results
// follow the same contract as a linear scan: scores clamped to [-1, 1],
// score >= threshold, descending, at most limit hits.
type Searcher interface {
	Search(ctx context.Context, query []float32, limit int, threshold float64) ([]models.ScoredHit, error)
}

// Option configures a backend.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	dimensions int
	failures   *atomic.Int64
}

// WithLogger sets the logger used for skipped records and fallbacks.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink for decode failures and fallbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDimensions fixes the vector dimension. Zero accepts any dimension.
func WithDimensions(d int) Option {
	return func(o *options) { o.dimensions = d }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), failures: new(atomic.Int64)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) checkDimensions(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if o.dimensions > 0 && len(v) != o.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), o.dimensions)
	}
	return nil
}

// skipped logs and counts a record that could not be decoded.
func (o options) skipped(backend string, key any, err error) {
	o.failures.Add(1)
	o.logger.Warn("skipping undecodable record",
		zap.String("backend", backend),
		zap.Any("key", key),
		zap.Error(err))
	o.metrics.DecodeFailure(backend)
}

// hasRecords reports whether s yields at least one decodable record.
func hasRecords(ctx context.Context, s Store) (bool, error) {
	found := false
	err := s.Scan(ctx, func(models.Record) error {
		found = true
		return ErrStopScan
	})
	return found, err
}

// All collects every record of s.
func All(ctx context.Context, s Store) ([]models.Record, error) {
	var out []models.Record
	err := s.Scan(ctx, func(r models.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// endScan turns the early-exit sentinel into a clean return.
func endScan(err error) error {
	if errors.Is(err, ErrStopScan) {
		return nil
	}
	return err
}
