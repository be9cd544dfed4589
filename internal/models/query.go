package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidQuery is returned for empty query text or out-of-range parameters.
var ErrInvalidQuery = errors.New("invalid query")

// Query is a validated single-query retrieval request.
type Query struct {
	Text      string  `json:"query"`
	Limit     int     `json:"limit"`
	Threshold float64 `json:"threshold"`
}

// Validate ensures the query text is non-empty and limit/threshold are in range.
func (q *Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidQuery, q.Limit)
	}
	if math.IsNaN(q.Threshold) || q.Threshold < -1 || q.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [-1, 1], got %v", ErrInvalidQuery, q.Threshold)
	}
	return nil
}

// SearchRequest is the wire form of a search command. Limit and Threshold are optional.
// ScoreThreshold is accepted as an alias of Threshold.
type SearchRequest struct {
	Query          string   `json:"query"`
	Limit          *int     `json:"limit,omitempty"`
	Threshold      *float64 `json:"threshold,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
}

// ToQuery fills absent fields with defaults and caps the limit at maxLimit (when > 0).
func (r *SearchRequest) ToQuery(defaultLimit int, defaultThreshold float64, maxLimit int) Query {
	q := Query{Text: r.Query, Limit: defaultLimit, Threshold: defaultThreshold}
	if r.Limit != nil {
		q.Limit = *r.Limit
	}
	switch {
	case r.Threshold != nil:
		q.Threshold = *r.Threshold
	case r.ScoreThreshold != nil:
		q.Threshold = *r.ScoreThreshold
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return q
}
