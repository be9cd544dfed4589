package aggregate

import (
	"strings"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/pkg/utils"
)

const previewRunes = 200

// Flattened is an evidence bundle rendered as one newline-separated string,
// one "date, text" line per diary.
type Flattened struct {
	DiaryString  string `json:"diary_string"`
	TotalDiaries int    `json:"total_diaries"`
	StringLength int    `json:"string_length"`
	Preview      string `json:"preview"`
}

// Flatten renders the bundle in its existing chronological order.
// StringLength counts characters, not bytes.
func Flatten(bundle models.EvidenceBundle) Flattened {
	lines := make([]string, len(bundle.Entries))
	for i, e := range bundle.Entries {
		lines[i] = e.Date + ", " + e.Text
	}
	s := strings.Join(lines, "\n")
	return Flattened{
		DiaryString:  s,
		TotalDiaries: len(bundle.Entries),
		StringLength: utils.RuneLen(s),
		Preview:      utils.Truncate(s, previewRunes),
	}
}
