// Package models defines core data structures for diary records, queries, and retrieval results.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Record is one stored diary entry. Vector is always the embedding of exactly Text.
type Record struct {
	ID     int64     `json:"id"`
	Text   string    `json:"text"`
	Date   string    `json:"date"`
	Vector []float32 `json:"-"`
}

var (
	// ErrInvalidDiary is returned for diary input without a usable id.
	ErrInvalidDiary = errors.New("invalid diary")
	// ErrEmptyText is returned when a diary input composes to empty text.
	ErrEmptyText = errors.New("diary text is empty")
)

// DiaryInput is the input for creating or replacing a diary record.
// Either Text is given directly, or it is composed from Date/Title/Content and Captions.
type DiaryInput struct {
	ID       *int64   `json:"id"`
	Text     string   `json:"text,omitempty"`
	Title    string   `json:"title,omitempty"`
	Content  string   `json:"content,omitempty"`
	Date     string   `json:"date,omitempty"`
	Captions Captions `json:"captions,omitempty"`
}

// Captions accepts a JSON list of strings or a single string.
type Captions []string

func (c *Captions) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*c = Captions{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("captions must be a string or a list of strings: %w", err)
	}
	*c = many
	return nil
}

// Validate checks that the input carries an id and composes to non-empty text.
func (in *DiaryInput) Validate() error {
	if in.ID == nil {
		return fmt.Errorf("%w: id is required", ErrInvalidDiary)
	}
	if *in.ID < 0 {
		return fmt.Errorf("%w: id must not be negative", ErrInvalidDiary)
	}
	if in.ComposeText() == "" {
		return ErrEmptyText
	}
	return nil
}

// ComposeText builds the canonical text that gets embedded for a diary.
// With a date the base is "{date} : {content}", otherwise "{title} {content}".
// Non-blank captions are appended separated by single spaces.
func (in *DiaryInput) ComposeText() string {
	var base string
	switch {
	case strings.TrimSpace(in.Text) != "":
		base = strings.TrimSpace(in.Text)
	case in.Date != "":
		base = strings.TrimSpace(in.Date + " : " + in.Content)
	default:
		base = strings.TrimSpace(in.Title + " " + in.Content)
	}

	captions := make([]string, 0, len(in.Captions))
	for _, c := range in.Captions {
		if c = strings.TrimSpace(c); c != "" {
			captions = append(captions, c)
		}
	}
	if len(captions) == 0 {
		return base
	}
	return strings.TrimSpace(base + " " + strings.Join(captions, " "))
}
