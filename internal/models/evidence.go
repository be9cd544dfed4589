package models

// QuestionResult holds the hits retrieved for one batch question.
// Error is set when that question's search failed; Hits is then empty.
type QuestionResult struct {
	Question string      `json:"question"`
	Hits     []ScoredHit `json:"hits"`
	Error    string      `json:"error,omitempty"`
}

// TopScore returns the best hit score, or 0 when there are no hits.
func (r *QuestionResult) TopScore() float64 {
	if len(r.Hits) == 0 {
		return 0
	}
	top := r.Hits[0].Score
	for _, h := range r.Hits[1:] {
		if h.Score > top {
			top = h.Score
		}
	}
	return top
}

// EvidenceEntry is one de-duplicated diary in an evidence bundle.
type EvidenceEntry struct {
	ID    int64   `json:"diary_id"`
	Date  string  `json:"date"`
	Text  string  `json:"text"`
	Score float64 `json:"similarity"`
}

// EvidenceBundle is the chronologically ordered, de-duplicated evidence across a batch.
type EvidenceBundle struct {
	Entries          []EvidenceEntry `json:"entries"`
	TotalRecords     int             `json:"total_records"`
	PerQueryTopScore []float64       `json:"per_query_top_score"`
}

// Summary holds batch statistics. TotalHits counts hits before de-duplication.
type Summary struct {
	TotalQuestions              int     `json:"total_questions"`
	QuestionsWithRelatedContent int     `json:"questions_with_related_content"`
	TotalHits                   int     `json:"total_hits"`
	UniqueDiaries               int     `json:"unique_diaries"`
	AverageTopSimilarity        float64 `json:"average_top_similarity"`
}

// AggregateResult is the full output of a batch aggregation.
type AggregateResult struct {
	Results []QuestionResult `json:"results"`
	Bundle  EvidenceBundle   `json:"bundle"`
	Summary Summary          `json:"summary"`
}
