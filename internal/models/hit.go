package models

// ScoredHit is a record that passed the similarity threshold, with its score.
type ScoredHit struct {
	ID    int64   `json:"id"`
	Text  string  `json:"text"`
	Date  string  `json:"date"`
	Score float64 `json:"score"`
}

// SearchResponse is the result of a single query. Query echoes the request text.
type SearchResponse struct {
	Query      string      `json:"query"`
	Results    []ScoredHit `json:"results"`
	TotalFound int         `json:"total_found"`
	QueryTime  int64       `json:"query_time_ms"`
}

// UpsertResult reports what was stored for a diary.
type UpsertResult struct {
	DiaryID      int64  `json:"diary_id"`
	TextLength   int    `json:"text_length"`
	EmbeddingDim int    `json:"embedding_dim"`
	Text         string `json:"-"`
}
