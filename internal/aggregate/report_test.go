package aggregate

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/diaryrag/internal/models"
)

func sampleResult() *models.AggregateResult {
	results := []models.QuestionResult{
		{Question: "걸을 수 있나요?", Hits: []models.ScoredHit{
			{ID: 22, Text: "아이가 처음으로 걸었다", Date: "2025-08-16", Score: 0.83456},
			{ID: 20, Text: "잡고 서기 시작했다", Date: "2025-08-14", Score: 0.61},
		}},
		{Question: "말을 하나요?", Hits: []models.ScoredHit{}},
	}
	bundle := BuildBundle(results)
	return &models.AggregateResult{Results: results, Bundle: bundle, Summary: Summarize(results, bundle)}
}

func TestFlatten(t *testing.T) {
	res := sampleResult()
	flat := Flatten(res.Bundle)

	want := "2025-08-14, 잡고 서기 시작했다\n2025-08-16, 아이가 처음으로 걸었다"
	if flat.DiaryString != want {
		t.Errorf("DiaryString = %q, want %q", flat.DiaryString, want)
	}
	if flat.TotalDiaries != 2 {
		t.Errorf("TotalDiaries = %d", flat.TotalDiaries)
	}
	if flat.StringLength != len([]rune(want)) {
		t.Errorf("StringLength = %d, want %d", flat.StringLength, len([]rune(want)))
	}
	if flat.Preview != want {
		t.Errorf("short preview should be the whole string, got %q", flat.Preview)
	}
}

func TestFlatten_LongPreview(t *testing.T) {
	long := strings.Repeat("가", 250)
	flat := Flatten(models.EvidenceBundle{Entries: []models.EvidenceEntry{{ID: 1, Date: "2025-08-01", Text: long}}})
	if got := len([]rune(flat.Preview)); got != 203 {
		t.Errorf("preview runes = %d, want 203", got)
	}
	if !strings.HasSuffix(flat.Preview, "...") {
		t.Errorf("preview should end with ellipsis")
	}
}

func TestFlatten_Empty(t *testing.T) {
	flat := Flatten(models.EvidenceBundle{})
	if flat.DiaryString != "" || flat.TotalDiaries != 0 || flat.StringLength != 0 {
		t.Errorf("got %+v", flat)
	}
}

func TestFormatReport(t *testing.T) {
	now := time.Date(2025, 8, 23, 14, 5, 9, 0, time.UTC)
	r := FormatReport(sampleResult(), now)

	if r.AnalysisDate != "2025-08-23 14:05:09" || r.TotalQuestions != 2 {
		t.Errorf("report header = %+v", r)
	}
	first := r.Analysis[0]
	if !first.HasRelatedContent || first.TopSimilarity != 0.83456 || len(first.RelatedDiaries) != 2 {
		t.Errorf("first item = %+v", first)
	}
	if first.RelatedDiaries[0].DiaryID != 22 || first.RelatedDiaries[0].Content != "아이가 처음으로 걸었다" {
		t.Errorf("hit order not kept: %+v", first.RelatedDiaries)
	}
	second := r.Analysis[1]
	if second.HasRelatedContent || second.TopSimilarity != 0 || second.RelatedDiaries == nil {
		t.Errorf("second item = %+v", second)
	}
}

func TestSaveResults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	now := time.Date(2025, 8, 23, 14, 5, 9, 0, time.UTC)

	path, err := SaveResults(dir, sampleResult(), now)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "kdst_rag_results_20250823_140509.json" {
		t.Errorf("file name = %s", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "아이가 처음으로 걸었다") {
		t.Error("non-ASCII text should be written unescaped")
	}

	var saved struct {
		Metadata struct {
			RunID          string `json:"run_id"`
			TotalQuestions int    `json:"total_questions"`
		} `json:"metadata"`
		Questions []struct {
			QuestionID     int    `json:"question_id"`
			Message        string `json:"message"`
			RelatedDiaries []struct {
				Rank                 int     `json:"rank"`
				SimilarityPercentage float64 `json:"similarity_percentage"`
			} `json:"related_diaries"`
		} `json:"questions"`
		Summary struct {
			QuestionsWithResults int     `json:"questions_with_results"`
			TotalDiaryMatches    int     `json:"total_diary_matches"`
			AverageTopSimilarity float64 `json:"average_top_similarity"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Metadata.RunID == "" || saved.Metadata.TotalQuestions != 2 {
		t.Errorf("metadata = %+v", saved.Metadata)
	}
	q := saved.Questions[0]
	if q.QuestionID != 1 || q.RelatedDiaries[0].Rank != 1 || q.RelatedDiaries[0].SimilarityPercentage != 83.46 {
		t.Errorf("first question = %+v", q)
	}
	if saved.Questions[1].Message == "" {
		t.Error("question without hits should carry a message")
	}
	if saved.Summary.QuestionsWithResults != 1 || saved.Summary.TotalDiaryMatches != 2 || saved.Summary.AverageTopSimilarity != 0.4173 {
		t.Errorf("summary = %+v", saved.Summary)
	}
}

func TestSaveResults_SameSecondKeepsEarlierFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 8, 23, 14, 5, 9, 0, time.UTC)

	first, err := SaveResults(dir, sampleResult(), now)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(first)
	second, err := SaveResults(dir, sampleResult(), now)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("second save overwrote %s", first)
	}
	if !strings.HasPrefix(filepath.Base(second), "kdst_rag_results_20250823_140509_") {
		t.Errorf("second file name = %s", filepath.Base(second))
	}
	after, _ := os.ReadFile(first)
	if string(before) != string(after) {
		t.Error("first file changed after the second save")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("dir has %d entries, want 2", len(entries))
	}
}

func TestSaveResults_EncodeFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	res := sampleResult()
	res.Results[0].Hits[0].Score = math.NaN()

	if _, err := SaveResults(dir, res, time.Now()); err == nil {
		t.Fatal("expected an encode error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("dir should be empty, found %v", entries)
	}
}
