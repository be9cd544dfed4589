// Package aggregate runs a batch of assessment questions through retrieval and
// merges the hits into one chronological evidence bundle.
package aggregate

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/diaryrag/internal/config"
	"github.com/hyperjump/diaryrag/internal/models"
)

// ErrNoQuestions is returned when a batch contains no questions.
var ErrNoQuestions = errors.New("no questions provided")

// Searcher runs one query. search.Service implements it.
type Searcher interface {
	Search(ctx context.Context, q models.Query) (*models.SearchResponse, error)
}

// Aggregator runs every question with the same top-K and threshold.
type Aggregator struct {
	searcher    Searcher
	topK        int
	threshold   float64
	parallelism int
	logger      *zap.Logger
}

// New creates an aggregator from cfg. logger may be nil.
func New(searcher Searcher, cfg config.AggregateConfig, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = config.DefaultAggregateTopK
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Aggregator{
		searcher:    searcher,
		topK:        topK,
		threshold:   cfg.Threshold,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Aggregate searches every question, then de-duplicates and orders the hits.
// A failing question contributes an empty hit list and its error message;
// the rest of the batch still runs.
func (a *Aggregator) Aggregate(ctx context.Context, questions []string) (*models.AggregateResult, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	start := time.Now()

	results := make([]models.QuestionResult, len(questions))
	var g errgroup.Group
	g.SetLimit(a.parallelism)
	for i, question := range questions {
		g.Go(func() error {
			results[i] = a.ask(ctx, question)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundle := BuildBundle(results)
	summary := Summarize(results, bundle)
	a.logger.Info("aggregation finished",
		zap.Int("questions", summary.TotalQuestions),
		zap.Int("with_content", summary.QuestionsWithRelatedContent),
		zap.Int("unique_diaries", summary.UniqueDiaries),
		zap.Duration("elapsed", time.Since(start)))

	return &models.AggregateResult{Results: results, Bundle: bundle, Summary: summary}, nil
}

func (a *Aggregator) ask(ctx context.Context, question string) models.QuestionResult {
	res := models.QuestionResult{Question: question, Hits: []models.ScoredHit{}}
	resp, err := a.searcher.Search(ctx, models.Query{Text: question, Limit: a.topK, Threshold: a.threshold})
	if err != nil {
		a.logger.Warn("question search failed", zap.String("question", question), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	res.Hits = resp.Results
	return res
}

// BuildBundle merges hits by diary id, keeping the highest score, and orders
// the entries by date. Entries without a parseable date come first; equal
// dates keep first-seen order.
func BuildBundle(results []models.QuestionResult) models.EvidenceBundle {
	var (
		entries []models.EvidenceEntry
		pos     = make(map[int64]int)
		tops    = make([]float64, len(results))
	)
	for qi, r := range results {
		tops[qi] = r.TopScore()
		for _, h := range r.Hits {
			if i, ok := pos[h.ID]; ok {
				if h.Score > entries[i].Score {
					entries[i] = toEntry(h)
				}
				continue
			}
			pos[h.ID] = len(entries)
			entries = append(entries, toEntry(h))
		}
	}

	keys := make([]time.Time, len(entries))
	for i, e := range entries {
		keys[i] = parseDate(e.Date)
	}
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]].Before(keys[idx[b]]) })

	sorted := make([]models.EvidenceEntry, len(entries))
	for i, j := range idx {
		sorted[i] = entries[j]
	}
	return models.EvidenceBundle{
		Entries:          sorted,
		TotalRecords:     len(sorted),
		PerQueryTopScore: tops,
	}
}

// Summarize computes batch statistics. A question without hits contributes 0
// to the average top similarity.
func Summarize(results []models.QuestionResult, bundle models.EvidenceBundle) models.Summary {
	s := models.Summary{
		TotalQuestions: len(results),
		UniqueDiaries:  bundle.TotalRecords,
	}
	var sumTop float64
	for _, r := range results {
		s.TotalHits += len(r.Hits)
		if len(r.Hits) > 0 {
			s.QuestionsWithRelatedContent++
		}
		sumTop += r.TopScore()
	}
	if len(results) > 0 {
		s.AverageTopSimilarity = sumTop / float64(len(results))
	}
	return s
}

func toEntry(h models.ScoredHit) models.EvidenceEntry {
	return models.EvidenceEntry{ID: h.ID, Date: h.Date, Text: h.Text, Score: h.Score}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006.01.02",
	"2006/01/02",
}

// parseDate returns the zero time for missing or unrecognised dates, which
// sorts before every real date.
func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
