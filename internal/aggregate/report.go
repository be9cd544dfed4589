package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/pkg/utils"
)

const (
	reportDateLayout  = "2006-01-02 15:04:05"
	resultsFileLayout = "20060102_150405"
	contentPreview    = 100
	noMatchMessage    = "관련 일기를 찾을 수 없습니다."
)

// Report is the per-question view handed to report writers.
type Report struct {
	Analysis       []ReportItem `json:"kdst_analysis"`
	TotalQuestions int          `json:"total_questions"`
	AnalysisDate   string       `json:"analysis_date"`
}

// ReportItem is one question and the diaries retrieved for it.
type ReportItem struct {
	Question          string        `json:"question"`
	RelatedDiaries    []ReportDiary `json:"related_diaries"`
	TopSimilarity     float64       `json:"top_similarity"`
	HasRelatedContent bool          `json:"has_related_content"`
}

// ReportDiary is a retrieved diary as shown in a report.
type ReportDiary struct {
	Date       string  `json:"date"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	DiaryID    int64   `json:"diary_id"`
}

// FormatReport builds the report view of an aggregation, stamped with now.
func FormatReport(result *models.AggregateResult, now time.Time) Report {
	r := Report{
		Analysis:       make([]ReportItem, 0, len(result.Results)),
		TotalQuestions: len(result.Results),
		AnalysisDate:   now.Format(reportDateLayout),
	}
	for _, q := range result.Results {
		item := ReportItem{
			Question:          q.Question,
			RelatedDiaries:    make([]ReportDiary, 0, len(q.Hits)),
			TopSimilarity:     q.TopScore(),
			HasRelatedContent: len(q.Hits) > 0,
		}
		for _, h := range q.Hits {
			item.RelatedDiaries = append(item.RelatedDiaries, ReportDiary{
				Date:       h.Date,
				Content:    h.Text,
				Similarity: h.Score,
				DiaryID:    h.ID,
			})
		}
		r.Analysis = append(r.Analysis, item)
	}
	return r
}

type savedFile struct {
	Metadata  savedMetadata   `json:"metadata"`
	Questions []savedQuestion `json:"questions"`
	Summary   savedSummary    `json:"summary"`
}

type savedMetadata struct {
	RunID          string `json:"run_id"`
	Timestamp      string `json:"timestamp"`
	TotalQuestions int    `json:"total_questions"`
	SearchSuccess  bool   `json:"search_success"`
	Message        string `json:"message"`
}

type savedQuestion struct {
	QuestionID          int          `json:"question_id"`
	QuestionText        string       `json:"question_text"`
	RelatedDiariesCount int          `json:"related_diaries_count"`
	RelatedDiaries      []savedDiary `json:"related_diaries"`
	TopSimilarity       float64      `json:"top_similarity"`
	Message             string       `json:"message,omitempty"`
	Error               string       `json:"error,omitempty"`
}

type savedDiary struct {
	Rank                 int     `json:"rank"`
	DiaryID              int64   `json:"diary_id"`
	Date                 string  `json:"date"`
	SimilarityScore      float64 `json:"similarity_score"`
	SimilarityPercentage float64 `json:"similarity_percentage"`
	Content              string  `json:"content"`
	ContentPreview       string  `json:"content_preview"`
}

type savedSummary struct {
	QuestionsWithResults int     `json:"questions_with_results"`
	TotalDiaryMatches    int     `json:"total_diary_matches"`
	AverageTopSimilarity float64 `json:"average_top_similarity"`
}

// SaveResults writes the aggregation to a timestamped JSON file in dir and
// returns its path. Non-ASCII text is written as is. The file appears only
// once fully written, and an earlier file from the same second is kept.
func SaveResults(dir string, result *models.AggregateResult, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results dir: %w", err)
	}

	out := savedFile{
		Metadata: savedMetadata{
			RunID:          uuid.NewString(),
			Timestamp:      now.Format(time.RFC3339),
			TotalQuestions: len(result.Results),
			SearchSuccess:  true,
			Message:        "aggregation completed",
		},
		Questions: make([]savedQuestion, 0, len(result.Results)),
		Summary: savedSummary{
			QuestionsWithResults: result.Summary.QuestionsWithRelatedContent,
			TotalDiaryMatches:    result.Summary.TotalHits,
			AverageTopSimilarity: round(result.Summary.AverageTopSimilarity, 4),
		},
	}
	for i, q := range result.Results {
		sq := savedQuestion{
			QuestionID:          i + 1,
			QuestionText:        q.Question,
			RelatedDiariesCount: len(q.Hits),
			RelatedDiaries:      make([]savedDiary, 0, len(q.Hits)),
			TopSimilarity:       q.TopScore(),
			Error:               q.Error,
		}
		if len(q.Hits) == 0 {
			sq.Message = noMatchMessage
		}
		for rank, h := range q.Hits {
			sq.RelatedDiaries = append(sq.RelatedDiaries, savedDiary{
				Rank:                 rank + 1,
				DiaryID:              h.ID,
				Date:                 h.Date,
				SimilarityScore:      h.Score,
				SimilarityPercentage: round(h.Score*100, 2),
				Content:              h.Text,
				ContentPreview:       utils.Truncate(h.Text, contentPreview),
			})
		}
		out.Questions = append(out.Questions, sq)
	}

	tmp, err := os.CreateTemp(dir, ".kdst_rag_results-*")
	if err != nil {
		return "", fmt.Errorf("failed to create results file: %w", err)
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write results: %w", err)
	}

	path := resultsPath(dir, now, out.Metadata.RunID)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write results: %w", err)
	}
	return path, nil
}

// resultsPath returns the timestamped file name, suffixed with the start of
// runID when a file from the same second already exists.
func resultsPath(dir string, now time.Time, runID string) string {
	base := "kdst_rag_results_" + now.Format(resultsFileLayout)
	path := filepath.Join(dir, base+".json")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	return filepath.Join(dir, base+"_"+strings.ReplaceAll(runID, "-", "")[:8]+".json")
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
