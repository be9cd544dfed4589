package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/hyperjump/diaryrag/internal/models"
)

const backendBlob = "blob"

// BlobSource is raw key/bytes storage holding serialized points.
type BlobSource interface {
	Name() string
	Each(ctx context.Context, fn func(key string, data []byte) error) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Remove(ctx context.Context, key string) (bool, error)
	Close() error
}

// blobPoint is the shape written by BlobStore. TryDecode reads it as a
// {vector, payload} pair.
type blobPoint struct {
	ID      int64       `json:"id"`
	Vector  []float32   `json:"vector"`
	Payload blobPayload `json:"payload"`
}

type blobPayload struct {
	Text string `json:"text"`
	Date string `json:"date,omitempty"`
}

// BlobStore decodes records from foreign serialized blobs. Blobs that cannot be
// decoded are skipped and counted instead of failing the scan.
type BlobStore struct {
	src  BlobSource
	opts options
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore reads records from src.
func NewBlobStore(src BlobSource, opts ...Option) *BlobStore {
	return &BlobStore{src: src, opts: buildOptions(opts)}
}

// DecodeFailures returns how many blobs were skipped since the store was opened.
func (s *BlobStore) DecodeFailures() int64 { return s.opts.failures.Load() }

func (s *BlobStore) Kind() Kind { return KindRawBlob }

func (s *BlobStore) decode(key string, data []byte) (models.Record, bool) {
	rec, err := TryDecode(key, data)
	if err == nil {
		err = s.opts.checkDimensions(rec.Vector)
	}
	if err != nil {
		s.opts.skipped(backendBlob+":"+s.src.Name(), key, err)
		return models.Record{}, false
	}
	return rec, true
}

func (s *BlobStore) Upsert(ctx context.Context, rec models.Record) error {
	if err := s.opts.checkDimensions(rec.Vector); err != nil {
		return err
	}
	data, err := json.Marshal(blobPoint{
		ID:      rec.ID,
		Vector:  rec.Vector,
		Payload: blobPayload{Text: rec.Text, Date: rec.Date},
	})
	if err != nil {
		return fmt.Errorf("failed to encode point: %w", err)
	}
	return s.src.Put(ctx, blobKey(rec.ID), data)
}

func (s *BlobStore) Delete(ctx context.Context, id int64) (bool, error) {
	return s.src.Remove(ctx, blobKey(id))
}

func (s *BlobStore) Get(ctx context.Context, id int64) (models.Record, bool, error) {
	data, ok, err := s.src.Get(ctx, blobKey(id))
	if err != nil || !ok {
		return models.Record{}, false, err
	}
	rec, ok := s.decode(blobKey(id), data)
	return rec, ok, nil
}

func (s *BlobStore) Scan(ctx context.Context, fn func(models.Record) error) error {
	err := s.src.Each(ctx, func(key string, data []byte) error {
		rec, ok := s.decode(key, data)
		if !ok {
			return nil
		}
		return fn(rec)
	})
	return endScan(err)
}

// Count returns the number of decodable records.
func (s *BlobStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.Scan(ctx, func(models.Record) error {
		n++
		return nil
	})
	return n, err
}

func (s *BlobStore) Close() error { return s.src.Close() }

func blobKey(id int64) string { return strconv.FormatInt(id, 10) }

var errBadKey = errors.New("invalid blob key")
