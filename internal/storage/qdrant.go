package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/vector"
)

const (
	backendQdrant   = "qdrant"
	qdrantPageSize  = 256
	defaultQdrantTO = 15 * time.Second
)

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Result T            `json:"result"`
}

type qdrantStatus struct {
	State string `json:"status"`
	Error string `json:"error,omitempty"`
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}

	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"payload"`
	Vector  json.RawMessage `json:"vector"`
}

type qdrantScrollResult struct {
	Points     []qdrantPoint   `json:"points"`
	NextOffset json.RawMessage `json:"next_page_offset"`
}

type qdrantCountResult struct {
	Count int `json:"count"`
}

type qdrantHTTPError struct {
	Status int
	Body   string
}

func (e *qdrantHTTPError) Error() string {
	return fmt.Sprintf("qdrant http %d: %s", e.Status, e.Body)
}

func isNotFound(err error) bool {
	var he *qdrantHTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}

// QdrantStore keeps records as points of a Qdrant collection, using the REST API.
// Point payloads carry text and date; the collection's cosine index serves Search.
type QdrantStore struct {
	location   string
	collection string
	apiKey     string
	client     *http.Client
	opts       options
}

var (
	_ Store    = (*QdrantStore)(nil)
	_ Searcher = (*QdrantStore)(nil)
)

// NewQdrantStore connects to the collection at location, creating it with a
// cosine vector config when it does not exist and the dimension is known.
func NewQdrantStore(ctx context.Context, location, collection, apiKey string, timeout time.Duration, opts ...Option) (*QdrantStore, error) {
	if location == "" || collection == "" {
		return nil, errors.New("qdrant store needs a url and a collection")
	}
	if timeout <= 0 {
		timeout = defaultQdrantTO
	}
	s := &QdrantStore{
		location:   strings.TrimRight(location, "/"),
		collection: collection,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: timeout},
		opts:       buildOptions(opts),
	}
	if err := s.configure(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) configure(ctx context.Context) error {
	var rsp qdrantEnvelope[json.RawMessage]
	err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, &rsp)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to reach qdrant collection: %w", err)
	}
	if s.opts.dimensions <= 0 {
		return fmt.Errorf("qdrant collection %q does not exist and no dimension is configured", s.collection)
	}
	req := map[string]any{
		"vectors": map[string]any{
			"size":     s.opts.dimensions,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionPath(""), req, &rsp); err != nil {
		return fmt.Errorf("failed to create qdrant collection: %w", err)
	}
	return rsp.Status.err()
}

func (st qdrantStatus) err() error {
	if st.State != "" && !strings.EqualFold(st.State, "ok") && st.Error != "" {
		return errors.New(st.Error)
	}
	return nil
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

func (s *QdrantStore) Kind() Kind { return KindIndexedVector }

func (s *QdrantStore) DecodeFailures() int64 { return s.opts.failures.Load() }

func (s *QdrantStore) Upsert(ctx context.Context, rec models.Record) error {
	if err := s.opts.checkDimensions(rec.Vector); err != nil {
		return err
	}
	payload := map[string]any{"text": rec.Text}
	if rec.Date != "" {
		payload["date"] = rec.Date
	}
	req := map[string]any{
		"points": []map[string]any{{
			"id":      rec.ID,
			"vector":  rec.Vector,
			"payload": payload,
		}},
	}
	var rsp qdrantEnvelope[json.RawMessage]
	if err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), req, &rsp); err != nil {
		return err
	}
	return rsp.Status.err()
}

func (s *QdrantStore) Delete(ctx context.Context, id int64) (bool, error) {
	_, ok, err := s.fetch(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	req := map[string]any{"points": []int64{id}}
	var rsp qdrantEnvelope[json.RawMessage]
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, &rsp); err != nil {
		return false, err
	}
	if err := rsp.Status.err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *QdrantStore) fetch(ctx context.Context, id int64) (qdrantPoint, bool, error) {
	var rsp qdrantEnvelope[qdrantPoint]
	err := s.do(ctx, http.MethodGet, s.collectionPath("/points/"+strconv.FormatInt(id, 10)), nil, &rsp)
	if isNotFound(err) {
		return qdrantPoint{}, false, nil
	}
	if err != nil {
		return qdrantPoint{}, false, err
	}
	return rsp.Result, true, nil
}

func (s *QdrantStore) Get(ctx context.Context, id int64) (models.Record, bool, error) {
	p, ok, err := s.fetch(ctx, id)
	if err != nil || !ok {
		return models.Record{}, false, err
	}
	rec, err := s.decodePoint(p, true)
	if err != nil {
		s.opts.skipped(backendQdrant, id, err)
		return models.Record{}, false, nil
	}
	return rec, true, nil
}

// Scan pages through the collection in point id order.
func (s *QdrantStore) Scan(ctx context.Context, fn func(models.Record) error) error {
	var offset json.RawMessage
	for {
		req := map[string]any{
			"limit":        qdrantPageSize,
			"with_payload": true,
			"with_vector":  true,
		}
		if len(offset) > 0 {
			req["offset"] = offset
		}
		var rsp qdrantEnvelope[qdrantScrollResult]
		if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll"), req, &rsp); err != nil {
			return err
		}
		for _, p := range rsp.Result.Points {
			rec, err := s.decodePoint(p, true)
			if err != nil {
				s.opts.skipped(backendQdrant, string(p.ID), err)
				continue
			}
			if err := fn(rec); err != nil {
				return endScan(err)
			}
		}
		next := bytes.TrimSpace(rsp.Result.NextOffset)
		if len(next) == 0 || bytes.Equal(next, []byte("null")) {
			return nil
		}
		offset = next
	}
}

// Search delegates to the collection index and re-applies the ranking contract
// on the returned scores. Ties are ordered by point id.
func (s *QdrantStore) Search(ctx context.Context, query []float32, limit int, threshold float64) ([]models.ScoredHit, error) {
	hits := []models.ScoredHit{}
	if limit <= 0 {
		return hits, nil
	}
	req := map[string]any{
		"vector":          query,
		"limit":           limit,
		"score_threshold": threshold,
		"with_payload":    true,
		"with_vector":     false,
	}
	var rsp qdrantEnvelope[[]qdrantPoint]
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &rsp); err != nil {
		return nil, err
	}
	for _, p := range rsp.Result {
		rec, err := s.decodePoint(p, false)
		if err != nil {
			s.opts.skipped(backendQdrant, string(p.ID), err)
			continue
		}
		score := vector.Clamp(p.Score)
		if score < threshold {
			continue
		}
		hits = append(hits, models.ScoredHit{ID: rec.ID, Text: rec.Text, Date: rec.Date, Score: score})
	}
	// equal scores follow Scan order (point id ascending), whatever order the index returned
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var rsp qdrantEnvelope[qdrantCountResult]
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]any{"exact": true}, &rsp); err != nil {
		return 0, err
	}
	return rsp.Result.Count, nil
}

func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) decodePoint(p qdrantPoint, withVector bool) (models.Record, error) {
	var rec models.Record
	id, err := rawID(p.ID)
	if err != nil {
		return rec, err
	}
	rec.ID = id
	if len(p.Payload) > 0 && !bytes.Equal(bytes.TrimSpace(p.Payload), []byte("null")) {
		fields, err := objectFields(p.Payload)
		if err != nil {
			return rec, fmt.Errorf("payload: %w", err)
		}
		rec.Text, rec.Date = textAndDate(fields)
	}
	if !withVector {
		return rec, nil
	}
	vec, ok := vectorValue(p.Vector)
	if !ok {
		return rec, errors.New("point has no usable vector")
	}
	if err := s.opts.checkDimensions(vec); err != nil {
		return rec, err
	}
	rec.Vector = vec
	return rec, nil
}

func (s *QdrantStore) do(ctx context.Context, method string, path string, req any, rsp any) error {
	u := s.location + path
	var buf io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")

	if len(s.apiKey) > 0 {
		request.Header.Set("api-key", s.apiKey)
		request.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode >= 400 {
		return &qdrantHTTPError{Status: response.StatusCode, Body: string(payload)}
	}

	if rsp != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, rsp); err != nil {
			return err
		}
	}

	return nil
}
