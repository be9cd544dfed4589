// Package cli writes command results for the diaryrag binary.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/pkg/utils"
)

// OutputFormat is the format for result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const separator = "─────────────────────────────────────────────────────────"

// WriteJSON writes v as a single line of JSON. Non-ASCII text is kept as is,
// so callers on the other end of a pipe get readable Korean text.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d diaries for %q in %dms\n\n", response.TotalFound, response.Query, response.QueryTime)
	for i, hit := range response.Results {
		writeHit(w, i+1, hit)
	}
	return nil
}

func writeHit(w io.Writer, rank int, hit models.ScoredHit) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | ID: %d", rank, hit.Score, hit.ID)
	if hit.Date != "" {
		fmt.Fprintf(w, " | Date: %s", hit.Date)
	}
	fmt.Fprintf(w, "\n\n%s\n\n", utils.Truncate(hit.Text, 200))
}

// WriteAggregate writes a batch aggregation to w in the given format.
func WriteAggregate(w io.Writer, result *models.AggregateResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, result)
	}
	for i, q := range result.Results {
		fmt.Fprintf(w, "\n[%d] %s\n", i+1, q.Question)
		switch {
		case q.Error != "":
			fmt.Fprintf(w, "  error: %s\n", q.Error)
		case len(q.Hits) == 0:
			fmt.Fprintln(w, "  no related diaries")
		}
		for _, h := range q.Hits {
			fmt.Fprintf(w, "  %.4f  #%d %s  %s\n", h.Score, h.ID, h.Date, utils.Truncate(h.Text, 60))
		}
	}
	s := result.Summary
	fmt.Fprintf(w, "\n%d/%d questions with related diaries, %d hits, %d unique diaries, average top similarity %.4f\n",
		s.QuestionsWithRelatedContent, s.TotalQuestions, s.TotalHits, s.UniqueDiaries, s.AverageTopSimilarity)
	return nil
}
