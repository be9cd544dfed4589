// Package ranking scores candidate records against a query vector and keeps the best ones.
package ranking

import (
	"sort"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/vector"
)

// Collector ranks records one at a time, so a full store scan never holds more than
// limit hits. Records scoring below threshold are dropped; ties keep the order in
// which records were added.
type Collector struct {
	query     []float32
	limit     int
	threshold float64
	hits      []models.ScoredHit
	seen      int
}

// NewCollector returns a collector for the given query vector.
func NewCollector(query []float32, limit int, threshold float64) *Collector {
	capacity := limit
	if capacity < 0 {
		capacity = 0
	}
	if capacity > 64 {
		capacity = 64
	}
	return &Collector{
		query:     query,
		limit:     limit,
		threshold: threshold,
		hits:      make([]models.ScoredHit, 0, capacity),
	}
}

// Add scores r and keeps it if it passes the threshold and ranks within the limit.
func (c *Collector) Add(r models.Record) {
	c.seen++
	if c.limit <= 0 {
		return
	}
	score := vector.CosineSimilarity(c.query, r.Vector)
	if !(score >= c.threshold) {
		return
	}
	// first position with a strictly lower score, so equal scores stay in scan order
	at := sort.Search(len(c.hits), func(i int) bool { return c.hits[i].Score < score })
	if at >= c.limit {
		return
	}
	hit := models.ScoredHit{ID: r.ID, Text: r.Text, Date: r.Date, Score: score}
	if len(c.hits) < c.limit {
		c.hits = append(c.hits, models.ScoredHit{})
	}
	copy(c.hits[at+1:], c.hits[at:len(c.hits)-1])
	c.hits[at] = hit
}

// Hits returns the kept hits, best first.
func (c *Collector) Hits() []models.ScoredHit {
	out := make([]models.ScoredHit, len(c.hits))
	copy(out, c.hits)
	return out
}

// Seen returns how many records were offered to the collector.
func (c *Collector) Seen() int {
	return c.seen
}

// Rank scores every candidate by cosine similarity, keeps those with score >= threshold,
// and returns at most limit of them in descending score order. Ties keep candidate order.
func Rank(query []float32, candidates []models.Record, limit int, threshold float64) []models.ScoredHit {
	c := NewCollector(query, limit, threshold)
	for _, r := range candidates {
		c.Add(r)
	}
	return c.Hits()
}
