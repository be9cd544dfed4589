package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hyperjump/diaryrag/internal/models"
)

// ErrDecode marks a stored blob whose shape could not be recognised.
var ErrDecode = errors.New("undecodable record")

// DecodeError reports which blob failed and why.
type DecodeError struct {
	Key    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Key, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// textFields lists payload keys that may carry the diary text, in priority order.
var textFields = []string{"content", "combined_text", "text", "content_preview"}

type field struct {
	key   string
	value json.RawMessage
}

// TryDecode recognises a point blob of unknown shape. It tries, in order:
//
//   - an object with "vector" and "payload" fields
//   - a bare array of numbers
//   - an object whose first array-valued field is the vector
//
// The record id comes from an "id" field when present, otherwise from key.
func TryDecode(key string, data []byte) (models.Record, error) {
	fail := func(reason string) (models.Record, error) {
		return models.Record{}, &DecodeError{Key: key, Reason: reason}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fail("empty blob")
	}

	if trimmed[0] == '[' {
		vec, ok := numbers(trimmed)
		if !ok {
			return fail("array is not a vector")
		}
		id, err := parseID(key)
		if err != nil {
			return fail(err.Error())
		}
		return models.Record{ID: id, Vector: vec}, nil
	}

	fields, err := objectFields(trimmed)
	if err != nil {
		return fail(err.Error())
	}
	byKey := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if _, dup := byKey[f.key]; !dup {
			byKey[f.key] = f.value
		}
	}

	rec := models.Record{}
	if raw, ok := byKey["id"]; ok {
		rec.ID, err = rawID(raw)
	} else {
		rec.ID, err = parseID(key)
	}
	if err != nil {
		return fail(err.Error())
	}

	rawVec, hasVec := byKey["vector"]
	rawPayload, hasPayload := byKey["payload"]
	if hasVec && hasPayload {
		vec, ok := vectorValue(rawVec)
		if !ok {
			return fail("vector field is not a vector")
		}
		rec.Vector = vec
		if payload, err := objectFields(rawPayload); err == nil {
			rec.Text, rec.Date = textAndDate(payload)
		}
		return rec, nil
	}

	for _, f := range fields {
		v := bytes.TrimSpace(f.value)
		if len(v) == 0 || v[0] != '[' {
			continue
		}
		vec, ok := numbers(v)
		if !ok {
			return fail(fmt.Sprintf("first array field %q is not a vector", f.key))
		}
		rec.Vector = vec
		rec.Text, rec.Date = textAndDate(fields)
		if rec.Text == "" && hasPayload {
			if payload, err := objectFields(rawPayload); err == nil {
				rec.Text, rec.Date = textAndDate(payload)
			}
		}
		return rec, nil
	}
	return fail("no vector found")
}

// objectFields decodes a JSON object keeping field order.
func objectFields(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("not a JSON object")
	}
	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("malformed object key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		fields = append(fields, field{key: key, value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

// numbers decodes a non-empty array of finite numbers.
func numbers(data []byte) ([]float32, bool) {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) == 0 {
		return nil, false
	}
	out := make([]float32, len(raw))
	for i, f := range raw {
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
			return nil, false
		}
		out[i] = float32(f)
	}
	return out, true
}

// vectorValue accepts a plain vector or a named-vector object, taking its first vector.
func vectorValue(data []byte) ([]float32, bool) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return numbers(data)
	}
	fields, err := objectFields(data)
	if err != nil {
		return nil, false
	}
	for _, f := range fields {
		if vec, ok := numbers(f.value); ok {
			return vec, true
		}
	}
	return nil, false
}

func textAndDate(fields []field) (text, date string) {
	strs := make(map[string]string, len(fields))
	for _, f := range fields {
		var s string
		if err := json.Unmarshal(f.value, &s); err == nil {
			if _, dup := strs[f.key]; !dup {
				strs[f.key] = s
			}
		}
	}
	for _, k := range textFields {
		if s := strings.TrimSpace(strs[k]); s != "" {
			text = strs[k]
			break
		}
	}
	return text, strs["date"]
}

func rawID(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return parseID(n.String())
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseID(s)
	}
	return 0, fmt.Errorf("unsupported id %s", raw)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("id %q is not a non-negative integer", s)
	}
	return id, nil
}
