package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/diaryrag/internal/aggregate"
	"github.com/hyperjump/diaryrag/internal/command"
	"github.com/hyperjump/diaryrag/internal/config"
	"github.com/hyperjump/diaryrag/internal/embedding"
	"github.com/hyperjump/diaryrag/internal/metrics"
	"github.com/hyperjump/diaryrag/internal/search"
	"github.com/hyperjump/diaryrag/internal/storage"
)

func newTestServer(t *testing.T, m *metrics.Metrics) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Store.Path = ""
	cfg.Aggregate.ResultsDir = t.TempDir()

	emb := embedding.NewMockEmbedder(64)
	store := storage.NewChain(storage.NewMemoryStore(), nil, storage.NewFallbackDataset(emb))
	svc := search.NewService(emb, store, nil, m)
	d := command.NewDispatcher(svc, aggregate.New(svc, cfg.Aggregate, nil), cfg, nil)
	return NewServer(d, &cfg.Server, nil, m).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	r := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return w.Code, out
}

func TestHandleSearch(t *testing.T) {
	h := newTestServer(t, nil)
	code, out := do(t, h, http.MethodPost, "/api/v1/search", `{"query": "아이가 걸을 수 있나요?", "limit": 2, "threshold": 0}`)
	if code != http.StatusOK || out["success"] != true {
		t.Fatalf("status %d: %v", code, out)
	}
	if len(out["results"].([]any)) != 2 || out["query"] != "아이가 걸을 수 있나요?" {
		t.Errorf("search response = %v", out)
	}
}

func TestHandleSearch_InvalidQuery(t *testing.T) {
	h := newTestServer(t, nil)
	code, out := do(t, h, http.MethodPost, "/api/v1/search", `{"query": ""}`)
	if code != http.StatusBadRequest || out["success"] != false {
		t.Errorf("status %d: %v", code, out)
	}
	if msg, _ := out["message"].(string); !strings.Contains(msg, "query") {
		t.Errorf("message = %q", msg)
	}
}

func TestHandleDiaries(t *testing.T) {
	h := newTestServer(t, nil)

	code, out := do(t, h, http.MethodPost, "/api/v1/diaries", `{"id": 42, "text": "공원에서 산책했다", "date": "2025-09-01"}`)
	if code != http.StatusCreated || out["diary_id"] != float64(42) {
		t.Fatalf("upsert status %d: %v", code, out)
	}

	code, out = do(t, h, http.MethodDelete, "/api/v1/diaries/42", "")
	if code != http.StatusOK || out["deleted_rows"] != float64(1) {
		t.Errorf("delete status %d: %v", code, out)
	}
	code, out = do(t, h, http.MethodDelete, "/api/v1/diaries/42", "")
	if code != http.StatusOK || out["deleted_rows"] != float64(0) {
		t.Errorf("second delete status %d: %v", code, out)
	}
	code, _ = do(t, h, http.MethodDelete, "/api/v1/diaries/abc", "")
	if code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", code)
	}
}

func TestHandleAggregateRoutes(t *testing.T) {
	h := newTestServer(t, nil)
	body := `{"questions": ["아이가 걸을 수 있나요?", "계단을 오르나요?"]}`

	tests := []struct {
		path string
		key  string
	}{
		{"/api/v1/aggregate", "summary"},
		{"/api/v1/aggregate/string", "diary_string"},
		{"/api/v1/aggregate/report", "kdst_analysis"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, out := do(t, h, http.MethodPost, tt.path, body)
			if code != http.StatusOK || out["success"] != true {
				t.Fatalf("status %d: %v", code, out)
			}
			if _, ok := out[tt.key]; !ok {
				t.Errorf("response has no %q: %v", tt.key, out)
			}
		})
	}

	code, out := do(t, h, http.MethodPost, "/api/v1/aggregate", `{"questions": []}`)
	if code != http.StatusBadRequest || out["success"] != false {
		t.Errorf("empty questions status %d: %v", code, out)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	h := newTestServer(t, nil)
	code, out := do(t, h, http.MethodGet, "/api/v1/status", "")
	if code != http.StatusOK || out["success"] != true {
		t.Fatalf("status %d: %v", code, out)
	}
	store := out["store"].(map[string]any)
	if store["active_link"] != storage.LinkBuiltin || store["records"] != float64(len(storage.BuiltinDiaries())) {
		t.Errorf("store = %v", store)
	}

	code, out = do(t, h, http.MethodGet, "/health", "")
	if code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health status %d: %v", code, out)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := newTestServer(t, metrics.New())
	do(t, h, http.MethodPost, "/api/v1/search", `{"query": "걸음마", "threshold": 0}`)

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	body, _ := io.ReadAll(w.Body)
	if w.Code != http.StatusOK || !strings.Contains(string(body), `diaryrag_searches_total{outcome="ok"} 1`) {
		t.Errorf("metrics status %d:\n%s", w.Code, body)
	}

	// not registered without metrics
	h = newTestServer(t, nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("metrics without registry: status %d", w.Code)
	}
}

func TestRespond_UnencodablePayloadBecomesErrorEnvelope(t *testing.T) {
	s := NewServer(nil, &config.ServerConfig{}, nil, nil)
	w := httptest.NewRecorder()
	s.respond(w, command.Response{Success: true, Payload: map[string]any{"score": math.NaN()}})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("body is not JSON: %v (%q)", err, w.Body.String())
	}
	if out["success"] != false || !strings.Contains(out["message"].(string), "failed to encode response") {
		t.Errorf("body = %v", out)
	}
}
